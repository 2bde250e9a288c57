package voteapi

import "context"

// StatusResult is the parsed answer of the panel's status endpoint.
// Status is required; VotesDelivered is optional in the wire format and
// nil means the panel did not report a count.
type StatusResult struct {
	Status         string
	VotesDelivered *int64
}

type SubmitResult struct {
	OrderNumber string
}

type Client interface {
	GetOrderStatus(ctx context.Context, orderNumber string) (StatusResult, error)
	SubmitOrder(ctx context.Context, service, link string, quantity int64) (SubmitResult, error)
}
