package messages

import "time"

// OrderUpdated is published after the reconciler (or a single-order check)
// writes a fresh answer from the vote panel into the store.
type OrderUpdated struct {
	OrderID   uint64    `json:"order_id"`
	CheckedAt time.Time `json:"checked_at"`

	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`

	VotesDelivered int64 `json:"votes_delivered"`
}
