package fake

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/PulseVote/OrderWatch/internal/integrations/voteapi"
	"github.com/PulseVote/OrderWatch/internal/models"
)

// FakeClient — детерминированная заглушка панели для локального запуска.
// Статус зависит только от номера заказа: часть станет Completed.
type FakeClient struct{}

func New() *FakeClient { return &FakeClient{} }

func (f *FakeClient) GetOrderStatus(ctx context.Context, orderNumber string) (voteapi.StatusResult, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(orderNumber))
	v := h.Sum32()

	// 20% заказов считаем выполненными
	status := models.OrderStatusInProgress
	delivered := int64(v % 100)
	if v%5 == 0 {
		status = models.OrderStatusCompleted
		delivered = 100
	}

	return voteapi.StatusResult{
		Status:         status,
		VotesDelivered: &delivered,
	}, nil
}

func (f *FakeClient) SubmitOrder(ctx context.Context, service, link string, quantity int64) (voteapi.SubmitResult, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(service))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(link))
	return voteapi.SubmitResult{OrderNumber: fmt.Sprintf("FAKE-%d", h.Sum32())}, nil
}
