package models

import "time"

// Статусы приходят от внешней панели как есть; мы их не придумываем сами.
const (
	OrderStatusPending    = "Pending"
	OrderStatusInProgress = "In progress"
	OrderStatusProcessing = "Processing"
	OrderStatusCompleted  = "Completed"
	OrderStatusPartial    = "Partial"
	OrderStatusCanceled   = "Canceled"
	OrderStatusFailed     = "Failed"
)

// NonTerminalStatuses are the states the reconciler still polls for.
func NonTerminalStatuses() []string {
	return []string{OrderStatusPending, OrderStatusInProgress, OrderStatusProcessing}
}

// IsTerminalStatus reports whether no further status change is expected.
func IsTerminalStatus(status string) bool {
	switch status {
	case OrderStatusCompleted, OrderStatusPartial, OrderStatusCanceled, OrderStatusFailed:
		return true
	}
	return false
}

type Order struct {
	ID                uint64
	UserID            uint64
	Service           string
	Link              string
	Quantity          int64
	ExternalReference *string
	Status            string
	DeliveredCount    int64
	LastStatusCheck   *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type OrderCreateInput struct {
	UserID   uint64
	Service  string
	Link     string
	Quantity int64
}
