package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/qlive/internal/config"
)

type testConfig struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Pubsub struct {
			Addrs  []string
			Prefix string
		}
	}

	Game struct {
		FinishGrace time.Duration
	}
}

func TestLoad(t *testing.T) {
	t.Run("file overrides defaults", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(file, []byte(`
http:
  port: 9000
game:
  finishgrace: 90s
`), 0o600))

		var c testConfig
		c.HTTP.Port = 8080
		c.Redis.Pubsub.Prefix = "qlive"

		require.NoError(t, config.Load(file, &c))
		assert.EqualValues(t, 9000, c.HTTP.Port)
		assert.Equal(t, 90*time.Second, c.Game.FinishGrace)
		assert.Equal(t, "qlive", c.Redis.Pubsub.Prefix, "untouched keys keep their defaults")
	})

	t.Run("env beats file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(file, []byte("http:\n  port: 9000\n"), 0o600))

		t.Setenv("HTTP_PORT", "7000")

		var c testConfig
		require.NoError(t, config.Load(file, &c))
		assert.EqualValues(t, 7000, c.HTTP.Port)
	})

	t.Run("no file runs env-only", func(t *testing.T) {
		t.Setenv("REDIS_PUBSUB_PREFIX", "other")

		var c testConfig
		c.HTTP.Port = 8080
		c.Redis.Pubsub.Prefix = "qlive"

		require.NoError(t, config.Load("", &c))
		assert.EqualValues(t, 8080, c.HTTP.Port)
		assert.Equal(t, "other", c.Redis.Pubsub.Prefix)
	})

	t.Run("missing file errors", func(t *testing.T) {
		var c testConfig
		require.Error(t, config.Load("/does/not/exist.yaml", &c))
	})
}
