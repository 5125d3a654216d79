// Package registry is the only cross-session shared state: a concurrency-safe
// arena mapping join PINs to live sessions. Nothing outside this package
// holds the map; all access goes through Lookup.
package registry

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/victornm/qlive/internal/domain"
	"github.com/victornm/qlive/internal/errors"
	"github.com/victornm/qlive/internal/event"
	"github.com/victornm/qlive/internal/game"
	"github.com/victornm/qlive/internal/telemetry"
)

const (
	maxPINRetries = 100

	defaultFinishGrace = 60 * time.Second
	defaultIdleTTL     = 30 * time.Minute
	sweepInterval      = time.Minute
)

type Config struct {
	Clock       clockwork.Clock
	Broadcaster game.Broadcaster
	EventBus    *event.Bus

	// FinishGrace keeps a finished session reachable long enough for clients
	// to fetch final state before eviction. Aborted sessions are evicted
	// immediately.
	FinishGrace time.Duration
	// IdleTTL destroys lobby sessions that never saw a connection.
	IdleTTL time.Duration

	// OnDestroyed is called after a session is removed, so the gateway can
	// drop its remaining connections.
	OnDestroyed func(sessionID string)

	// NewPINFunc overrides PIN generation, for tests.
	NewPINFunc func() (string, error)
}

// Registry allocates PINs and owns the lifecycle of every live session.
type Registry struct {
	c Config

	mu    sync.RWMutex
	byPIN map[string]*game.Session
	byID  map[string]*game.Session
	// lastSeen tracks session creation for the idle sweep.
	createdAt map[string]time.Time
}

func New(c Config) *Registry {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.FinishGrace <= 0 {
		c.FinishGrace = defaultFinishGrace
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = defaultIdleTTL
	}
	if c.NewPINFunc == nil {
		c.NewPINFunc = randomPIN
	}

	return &Registry{
		c:         c,
		byPIN:     make(map[string]*game.Session),
		byID:      make(map[string]*game.Session),
		createdAt: make(map[string]time.Time),
	}
}

// CreateResult is the answer to a successful session creation.
type CreateResult struct {
	SessionID string
	PIN       string
	HostKey   string
}

// Create instantiates a live session for the quiz snapshot and allocates a
// collision-free PIN. PIN-space exhaustion after bounded retries is a fatal
// capacity error, not a retryable one.
func (r *Registry) Create(ctx context.Context, quiz domain.QuizSnapshot) (CreateResult, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return CreateResult{}, errors.Internal(fmt.Errorf("generate session ID: %w", err))
	}
	sessionID := id.String()
	hostKey := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()

	pin, err := r.allocatePINLocked()
	if err != nil {
		return CreateResult{}, err
	}

	s, err := game.NewSession(game.Config{
		SessionID:   sessionID,
		PIN:         pin,
		HostKey:     hostKey,
		Quiz:        quiz,
		Clock:       r.c.Clock,
		Broadcaster: r.c.Broadcaster,
		EventBus:    r.c.EventBus,
		OnFinished:  r.onFinished,
	})
	if err != nil {
		return CreateResult{}, err
	}

	r.byPIN[pin] = s
	r.byID[sessionID] = s
	r.createdAt[sessionID] = r.c.Clock.Now()
	telemetry.SessionsActive.Inc()

	slog.InfoContext(ctx, "registry: session created",
		"session", sessionID, "pin", pin, "quiz", quiz.QuizID)

	return CreateResult{SessionID: sessionID, PIN: pin, HostKey: hostKey}, nil
}

func (r *Registry) allocatePINLocked() (string, error) {
	for i := 0; i < maxPINRetries; i++ {
		pin, err := r.c.NewPINFunc()
		if err != nil {
			return "", errors.Internal(fmt.Errorf("generate pin: %w", err))
		}
		if _, taken := r.byPIN[pin]; !taken {
			return pin, nil
		}
	}

	return "", errors.New(errors.CodeResourceExhausted,
		errors.WithMessagef("pin space exhausted after %d attempts", maxPINRetries))
}

// Lookup resolves a join PIN to its one live session.
func (r *Registry) Lookup(pin string) (*game.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byPIN[pin]
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no live session for pin %s", pin))
	}
	return s, nil
}

// Get resolves a session ID.
func (r *Registry) Get(sessionID string) (*game.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byID[sessionID]
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no live session %s", sessionID))
	}
	return s, nil
}

// Destroy removes the PIN mapping and releases the session's resources:
// its timer is cancelled and its run loop stopped.
func (r *Registry) Destroy(sessionID string) {
	r.mu.Lock()
	s, ok := r.byID[sessionID]
	if ok {
		delete(r.byID, sessionID)
		delete(r.byPIN, s.PIN())
		delete(r.createdAt, sessionID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	s.Close()
	telemetry.SessionsActive.Dec()
	if r.c.OnDestroyed != nil {
		r.c.OnDestroyed(sessionID)
	}
	slog.Info("registry: session destroyed", "session", sessionID)
}

// onFinished is the session's callback on reaching finished. Normal finishes
// stay reachable for a grace period so clients can pull final results; an
// aborted game is retired immediately.
func (r *Registry) onFinished(sessionID string, aborted bool) {
	if aborted {
		go r.Destroy(sessionID)
		return
	}

	go func() {
		<-r.c.Clock.After(r.c.FinishGrace)
		r.Destroy(sessionID)
	}()
}

// Run sweeps abandoned lobbies until ctx is done. Registry eviction of
// finished sessions does not depend on this loop.
func (r *Registry) Run(ctx context.Context) error {
	ticker := r.c.Clock.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return ctx.Err()
		case <-ticker.Chan():
			r.sweep(ctx)
		}
	}
}

func (r *Registry) sweep(ctx context.Context) {
	r.mu.RLock()
	stale := make([]*game.Session, 0)
	for id, s := range r.byID {
		if r.c.Clock.Now().Sub(r.createdAt[id]) > r.c.IdleTTL {
			stale = append(stale, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range stale {
		idle, err := s.Idle(ctx)
		if err != nil || !idle {
			continue
		}
		slog.Info("registry: sweeping abandoned lobby", "session", s.ID())
		r.Destroy(s.ID())
	}
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	sessions := make([]*game.Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	r.byID = make(map[string]*game.Session)
	r.byPIN = make(map[string]*game.Session)
	r.createdAt = make(map[string]time.Time)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
		telemetry.SessionsActive.Dec()
		if r.c.OnDestroyed != nil {
			r.c.OnDestroyed(s.ID())
		}
	}
}

// randomPIN draws a uniform 6-digit PIN from crypto/rand.
func randomPIN() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
