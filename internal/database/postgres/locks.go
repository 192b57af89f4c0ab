package postgres

import (
	"context"
	"fmt"
	"time"
)

// LockScope takes a session-level advisory lock keyed by the scope name on a dedicated
// connection. The lock is held until the returned func is called.
func (s *Store) LockScope(ctx context.Context, scope string) (func(), error) {
	conn, err := s.pool.pgx.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock(hashtext($1))", scope); err != nil {
		conn.Release()
		return nil, fmt.Errorf("lock scope %s: %w", scope, err)
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock(hashtext($1))", scope); err != nil {
			// Closing the session drops every lock it holds.
			_ = conn.Conn().Close(ctx)
		}
		conn.Release()
	}, nil
}
