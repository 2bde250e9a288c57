package pgorders

import (
	"context"
	"time"

	"github.com/PulseVote/OrderWatch/internal/models"
	"github.com/pkg/errors"
)

const orderColumns = `
  id, user_id, service, link, quantity,
  external_reference, status, delivered_count,
  last_status_check, created_at, updated_at
`

func (s *Storage) CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.Order, error) {
	now := time.Now().UTC()

	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO orders (
  user_id, service, link, quantity, status, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$6)
RETURNING id
`, in.UserID, in.Service, in.Link, in.Quantity, models.OrderStatusPending, now).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "insert order")
	}

	return s.GetOrderByID(ctx, id)
}

func (s *Storage) GetOrderByID(ctx context.Context, id uint64) (*models.Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)

	var o models.Order
	var extRef *string
	var lastCheck *time.Time
	if err := row.Scan(
		&o.ID, &o.UserID, &o.Service, &o.Link, &o.Quantity,
		&extRef, &o.Status, &o.DeliveredCount,
		&lastCheck, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, errors.Wrap(err, "scan order")
	}
	o.ExternalReference = extRef
	o.LastStatusCheck = lastCheck
	return &o, nil
}

func (s *Storage) ListOrdersByUser(ctx context.Context, userID uint64, limit, offset int) ([]*models.Order, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT `+orderColumns+`
FROM orders
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`, userID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select orders by user")
	}
	defer rows.Close()

	return scanOrders(rows)
}

// SetExternalReference записывает номер заказа внешней панели после успешного submit.
func (s *Storage) SetExternalReference(ctx context.Context, orderID uint64, externalReference string) error {
	_, err := s.db.Exec(ctx, `
UPDATE orders
SET external_reference = $2, updated_at = now()
WHERE id = $1
`, orderID, externalReference)
	return errors.Wrap(err, "set external reference")
}

// ListReconcileCandidates returns the newest non-terminal orders that have been
// submitted to the external panel. The limit is a deliberate self-throttle:
// rows past it wait for the next run.
func (s *Storage) ListReconcileCandidates(ctx context.Context, limit int) ([]*models.Order, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+orderColumns+`
FROM orders
WHERE external_reference IS NOT NULL
  AND status = ANY($1)
ORDER BY created_at DESC
LIMIT $2
`, models.NonTerminalStatuses(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select reconcile candidates")
	}
	defer rows.Close()

	return scanOrders(rows)
}

type OrderUpdate struct {
	OrderID uint64

	CheckedAt time.Time

	Status         string
	DeliveredCount int64
}

// ApplyStatusUpdate overwrites status and delivered_count with the external
// panel's answer and stamps last_status_check. It never increments counts.
func (s *Storage) ApplyStatusUpdate(ctx context.Context, upd OrderUpdate) error {
	_, err := s.db.Exec(ctx, `
UPDATE orders
SET
  status = $2,
  delivered_count = $3,
  last_status_check = $4,
  updated_at = now()
WHERE id = $1
`, upd.OrderID, upd.Status, upd.DeliveredCount, upd.CheckedAt.UTC())
	return errors.Wrap(err, "apply status update")
}

// AcquireRunLease takes the named single-row lease if it is free or expired.
// Returns false when another holder still owns it.
func (s *Storage) AcquireRunLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	expires := time.Now().UTC().Add(ttl)

	tag, err := s.db.Exec(ctx, `
INSERT INTO reconcile_lease (name, holder, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE
SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
WHERE reconcile_lease.expires_at < now() OR reconcile_lease.holder = EXCLUDED.holder
`, name, holder, expires)
	if err != nil {
		return false, errors.Wrap(err, "acquire lease")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Storage) ReleaseRunLease(ctx context.Context, name, holder string) error {
	_, err := s.db.Exec(ctx, `
DELETE FROM reconcile_lease WHERE name = $1 AND holder = $2
`, name, holder)
	return errors.Wrap(err, "release lease")
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanOrders(rows rowScanner) ([]*models.Order, error) {
	var out []*models.Order
	for rows.Next() {
		var o models.Order
		var extRef *string
		var lastCheck *time.Time
		if err := rows.Scan(
			&o.ID, &o.UserID, &o.Service, &o.Link, &o.Quantity,
			&extRef, &o.Status, &o.DeliveredCount,
			&lastCheck, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		o.ExternalReference = extRef
		o.LastStatusCheck = lastCheck
		out = append(out, &o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
