// Package connection tracks named active database connections for one
// session: which aliases exist, which is current, and how to recover when
// one goes unhealthy.
package connection

import (
	"context"
	"sync"
	"time"

	"github.com/dbrheo/dbrheo/dbadapter"
	"github.com/dbrheo/dbrheo/errs"
)

// ActiveConnection pairs an alias with the adapter backing it.
type ActiveConnection struct {
	Alias   string
	Config  dbadapter.DatabaseConfig
	Adapter dbadapter.Adapter
}

// Manager owns alias -> ActiveConnection and a current-alias pointer. It is
// safe for concurrent use; open() of the same alias from multiple goroutines
// coalesces onto a single construction.
type Manager struct {
	factory *dbadapter.Factory

	mu       sync.Mutex
	conns    map[string]*ActiveConnection
	current  string
	inFlight map[string]chan struct{}
}

// New returns an empty Manager backed by its own adapter factory.
func New() *Manager {
	return &Manager{
		factory:  dbadapter.NewFactory(),
		conns:    map[string]*ActiveConnection{},
		inFlight: map[string]chan struct{}{},
	}
}

// Open connects alias using cfg, registering it and, unless makeCurrent is
// false, switching the current alias to it. A second concurrent Open of the
// same alias waits for the first instead of opening twice.
func (m *Manager) Open(ctx context.Context, alias string, cfg dbadapter.DatabaseConfig, makeCurrent bool) (*ActiveConnection, error) {
	for {
		m.mu.Lock()
		if existing, ok := m.conns[alias]; ok {
			if makeCurrent {
				m.current = alias
			}
			m.mu.Unlock()
			return existing, nil
		}
		if wait, building := m.inFlight[alias]; building {
			m.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, errs.Wrap(errs.CancelledError, "cancelled waiting for connection to open", ctx.Err())
			}
		}
		done := make(chan struct{})
		m.inFlight[alias] = done
		m.mu.Unlock()

		adapter, err := m.factory.Open(ctx, cfg)

		m.mu.Lock()
		delete(m.inFlight, alias)
		var ac *ActiveConnection
		if err == nil {
			ac = &ActiveConnection{Alias: alias, Config: cfg, Adapter: adapter}
			m.conns[alias] = ac
			if makeCurrent || m.current == "" {
				m.current = alias
			}
		}
		close(done)
		m.mu.Unlock()

		return ac, err
	}
}

// Use switches the current alias. It fails with ConnectError if alias is
// not open.
func (m *Manager) Use(alias string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[alias]; !ok {
		return errs.Newf(errs.ConnectError, "connection %q is not open", alias)
	}
	m.current = alias
	return nil
}

// Get returns the current active connection, performing one health-check
// eviction-and-reopen cycle if it has gone unhealthy. A fresh context,
// independent of ctx, is used for the reopen so a caller's own cancellation
// cannot abort recovery of a connection other callers still depend on.
func (m *Manager) Get(ctx context.Context) (*ActiveConnection, error) {
	m.mu.Lock()
	alias := m.current
	ac, ok := m.conns[alias]
	m.mu.Unlock()
	if !ok {
		return nil, errs.New(errs.ConnectError, "no active connection; open one first")
	}

	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	healthy := ac.Adapter.Healthy(healthCtx)
	cancel()
	if healthy {
		return ac, nil
	}

	m.factory.Evict(ac.Config)
	m.mu.Lock()
	delete(m.conns, alias)
	m.mu.Unlock()

	return m.Open(context.WithoutCancel(ctx), alias, ac.Config, true)
}

// List returns every open alias, current first, the rest in no particular order.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.conns))
	if m.current != "" {
		out = append(out, m.current)
	}
	for alias := range m.conns {
		if alias != m.current {
			out = append(out, alias)
		}
	}
	return out
}

// Close closes and drops alias. If it was current, no alias is current
// afterward until Use or Open picks one.
func (m *Manager) Close(alias string) error {
	m.mu.Lock()
	ac, ok := m.conns[alias]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.conns, alias)
	if m.current == alias {
		m.current = ""
	}
	m.mu.Unlock()

	m.factory.Evict(ac.Config)
	return nil
}

// CloseAll closes every open connection.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	aliases := make([]string, 0, len(m.conns))
	for alias := range m.conns {
		aliases = append(aliases, alias)
	}
	m.mu.Unlock()

	var firstErr error
	for _, alias := range aliases {
		if err := m.Close(alias); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
