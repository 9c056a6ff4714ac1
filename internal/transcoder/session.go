// Package transcoder owns the process-wide engine session: one load, shared by
// every export.
package transcoder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/forPelevin/vibecut/internal/logging"
	"github.com/forPelevin/vibecut/internal/ports"
)

var ErrClosed = errors.New("transcoder session closed")

type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Options struct {
	// LoadTimeout bounds a single shared load. Zero means no bound.
	LoadTimeout time.Duration
	Logger      zerolog.Logger
}

// Manager lazily loads one engine and hands it to every caller. Callers that
// arrive while a load is running wait for that load instead of starting another.
// A failed load is not cached; the next Session call tries again.
type Manager struct {
	loader ports.EngineLoader
	opts   Options
	log    zerolog.Logger

	mu      sync.Mutex
	state   State
	engine  ports.Engine
	pending *loadCall
	lastErr error
	loads   int
	closed  bool
}

type loadCall struct {
	done   chan struct{}
	engine ports.Engine
	err    error
}

func NewManager(loader ports.EngineLoader, opts Options) *Manager {
	return &Manager{
		loader: loader,
		opts:   opts,
		log:    logging.WithComponent(opts.Logger, "transcoder"),
	}
}

// Session returns the ready engine, loading it first if needed. ctx only bounds
// how long this caller waits; the shared load keeps running for other waiters.
func (m *Manager) Session(ctx context.Context) (ports.Engine, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if m.state == StateReady {
		eng := m.engine
		m.mu.Unlock()
		return eng, nil
	}
	call := m.pending
	if call == nil {
		call = &loadCall{done: make(chan struct{})}
		m.pending = call
		m.setState(StateLoading)
		m.loads++
		go m.load(context.WithoutCancel(ctx), call)
	}
	m.mu.Unlock()

	select {
	case <-call.done:
		return call.engine, call.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) load(ctx context.Context, call *loadCall) {
	if m.opts.LoadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.LoadTimeout)
		defer cancel()
	}

	started := time.Now()
	eng, err := m.loader.Load(ctx)
	if err == nil && eng == nil {
		err = errors.New("loader returned no engine")
	}

	m.mu.Lock()
	m.pending = nil
	var orphan ports.Engine
	switch {
	case err != nil:
		m.lastErr = err
		m.setState(StateFailed)
		call.err = err
	case m.closed:
		// Close ran during the load; nobody will release this engine later.
		orphan = eng
		call.err = ErrClosed
	default:
		m.lastErr = nil
		m.engine = eng
		m.setState(StateReady)
		call.engine = eng
	}
	m.mu.Unlock()

	if orphan != nil {
		if cerr := closeEngine(orphan); cerr != nil {
			m.log.Warn().Err(cerr).Msg("release engine loaded after close")
		}
		close(call.done)
		m.log.Info().Msg("engine loaded after close was released")
		return
	}
	close(call.done)
	if err != nil {
		m.log.Error().Err(err).Dur("took", time.Since(started)).Msg("engine load failed")
		return
	}
	m.log.Info().Dur("took", time.Since(started)).Msg("engine ready")
}

// setState must be called with m.mu held.
func (m *Manager) setState(s State) {
	if m.state == s {
		return
	}
	m.log.Debug().Str("from", m.state.String()).Str("to", s.String()).Msg("session state")
	m.state = s
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Loads reports how many loads have been started.
func (m *Manager) Loads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads
}

func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Close releases the engine at process shutdown. Session fails afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	eng := m.engine
	m.closed = true
	m.engine = nil
	m.mu.Unlock()

	return closeEngine(eng)
}

func closeEngine(eng ports.Engine) error {
	if c, ok := eng.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

var _ ports.SessionProvider = (*Manager)(nil)
