package pgorders

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS orders (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL,
  service TEXT NOT NULL,
  link TEXT NOT NULL,
  quantity BIGINT NOT NULL,
  external_reference TEXT NULL,
  status TEXT NOT NULL,
  delivered_count BIGINT NOT NULL DEFAULT 0,
  last_status_check TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status_created_at ON orders(status, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id)`,
		// Single-row lease guarding the reconciliation run against overlapping
		// invocations (the host scheduler is not trusted to guarantee that).
		`
CREATE TABLE IF NOT EXISTS reconcile_lease (
  name TEXT PRIMARY KEY,
  holder TEXT NOT NULL,
  expires_at TIMESTAMPTZ NOT NULL
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
