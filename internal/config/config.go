// Package config loads server configuration from a file plus environment
// overrides. The config struct's current field values act as defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load fills config from the given file and the environment. config must be
// a pointer to the config struct. An empty file path means env-only, which
// is how containerized deployments run.
func Load(file string, config any) error {
	v := viper.New()

	// Seed viper with the struct's current values so every key is known to
	// it; AutomaticEnv only overrides keys viper has seen.
	m := make(map[string]any)
	if err := mapstructure.Decode(config, &m); err != nil {
		return fmt.Errorf("mapstructure: %v", err)
	}
	if err := v.MergeConfigMap(m); err != nil {
		return fmt.Errorf("merge config map: %v", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.MergeInConfig(); err != nil {
			return fmt.Errorf("read config from file %s: %v", file, err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unmarshal config: %v", err)
	}

	return nil
}
