// Package txmgr scopes transaction lifetime to a function call: begin on
// entry, commit on normal return, roll back on error, panic, or
// cancellation. It sits directly on top of one dbadapter.Adapter and relies
// on the adapter's own support (or lack of it) for nested savepoints.
package txmgr

import (
	"context"

	"github.com/dbrheo/dbrheo/dbadapter"
)

// Manager attaches to a single adapter and holds no state of its own; the
// adapter owns the transaction frame stack and its depth.
type Manager struct {
	adapter dbadapter.Adapter
}

// New attaches a transaction manager to adapter.
func New(adapter dbadapter.Adapter) *Manager {
	return &Manager{adapter: adapter}
}

// WithTx begins a transaction (or, if one is already open on this adapter,
// a savepoint where supported), runs fn, and commits on fn's success or
// rolls back on its error. A panic inside fn is rolled back and re-panicked.
func (m *Manager) WithTx(ctx context.Context, isolation dbadapter.Isolation, fn func(ctx context.Context, tx dbadapter.TxHandle) error) error {
	tx, err := m.adapter.BeginTx(ctx, isolation)
	if err != nil {
		return err
	}

	done := false
	defer func() {
		if !done {
			m.adapter.Rollback(ctx, tx)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		m.adapter.Rollback(ctx, tx)
		done = true
		return err
	}
	if ctx.Err() != nil {
		m.adapter.Rollback(ctx, tx)
		done = true
		return ctx.Err()
	}

	if err := m.adapter.Commit(ctx, tx); err != nil {
		done = true
		return err
	}
	done = true
	return nil
}
