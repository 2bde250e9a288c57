package orders

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/PulseVote/OrderWatch/internal/broker/messages"
	"github.com/PulseVote/OrderWatch/internal/integrations/voteapi"
	"github.com/PulseVote/OrderWatch/internal/models"
	"github.com/PulseVote/OrderWatch/internal/storage/pgorders"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	orders map[uint64]*models.Order
	nextID uint64

	submitRef string
	applyUpd  *pgorders.OrderUpdate
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{orders: map[uint64]*models.Order{}, nextID: 1}
}

func (f *fakeRepo) CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.Order, error) {
	o := &models.Order{
		ID:       f.nextID,
		UserID:   in.UserID,
		Service:  in.Service,
		Link:     in.Link,
		Quantity: in.Quantity,
		Status:   models.OrderStatusPending,
	}
	f.orders[o.ID] = o
	f.nextID++
	return o, nil
}

func (f *fakeRepo) GetOrderByID(ctx context.Context, id uint64) (*models.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, errors.New("no rows")
	}
	cp := *o
	return &cp, nil
}

func (f *fakeRepo) ListOrdersByUser(ctx context.Context, userID uint64, limit, offset int) ([]*models.Order, error) {
	var out []*models.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeRepo) SetExternalReference(ctx context.Context, orderID uint64, ref string) error {
	f.submitRef = ref
	f.orders[orderID].ExternalReference = &ref
	return nil
}

func (f *fakeRepo) ApplyStatusUpdate(ctx context.Context, upd pgorders.OrderUpdate) error {
	f.applyUpd = &upd
	o := f.orders[upd.OrderID]
	o.Status = upd.Status
	o.DeliveredCount = upd.DeliveredCount
	t := upd.CheckedAt
	o.LastStatusCheck = &t
	return nil
}

type fakePanel struct {
	status    voteapi.StatusResult
	statusErr error
	submit    voteapi.SubmitResult
	submitErr error
	calls     int
}

func (p *fakePanel) GetOrderStatus(ctx context.Context, orderNumber string) (voteapi.StatusResult, error) {
	p.calls++
	return p.status, p.statusErr
}

func (p *fakePanel) SubmitOrder(ctx context.Context, service, link string, quantity int64) (voteapi.SubmitResult, error) {
	return p.submit, p.submitErr
}

type fakeCache struct {
	m map[string][]byte
}

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, ok := c.m[key]
	return b, ok, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.m[key] = value
	return nil
}

func (c *fakeCache) Del(ctx context.Context, key string) error {
	delete(c.m, key)
	return nil
}

type fakeRL struct {
	allowed bool
	count   int64
}

func (r fakeRL) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	return r.allowed, r.count, nil
}

func TestSubmitOrder_Validate(t *testing.T) {
	s := New(newFakeRepo(), &fakePanel{}, nil, nil, 0, 0)

	_, err := s.SubmitOrder(context.Background(), models.OrderCreateInput{Service: "upvotes", Link: "https://x", Quantity: 1})
	require.Error(t, err) // no user

	_, err = s.SubmitOrder(context.Background(), models.OrderCreateInput{UserID: 1, Link: "https://x", Quantity: 1})
	require.Error(t, err) // no service

	_, err = s.SubmitOrder(context.Background(), models.OrderCreateInput{UserID: 1, Service: "upvotes", Link: "ftp://x", Quantity: 1})
	require.Error(t, err) // bad link

	_, err = s.SubmitOrder(context.Background(), models.OrderCreateInput{UserID: 1, Service: "upvotes", Link: "https://x", Quantity: 0})
	require.Error(t, err)

	_, err = s.SubmitOrder(context.Background(), models.OrderCreateInput{UserID: 1, Service: "upvotes", Link: "https://x", Quantity: 200_000})
	require.Error(t, err)
}

func TestSubmitOrder_StoresExternalReference(t *testing.T) {
	repo := newFakeRepo()
	panel := &fakePanel{submit: voteapi.SubmitResult{OrderNumber: "EXT-55"}}
	s := New(repo, panel, nil, nil, 0, 0)

	o, err := s.SubmitOrder(context.Background(), models.OrderCreateInput{UserID: 1, Service: "upvotes", Link: "https://example.com/p/1", Quantity: 10})
	require.NoError(t, err)
	require.NotNil(t, o.ExternalReference)
	require.Equal(t, "EXT-55", *o.ExternalReference)
	require.Equal(t, models.OrderStatusPending, o.Status)
}

func TestSubmitOrder_PanelFailureKeepsRowUnsubmitted(t *testing.T) {
	repo := newFakeRepo()
	panel := &fakePanel{submitErr: errors.New("panel http 500")}
	s := New(repo, panel, nil, nil, 0, 0)

	_, err := s.SubmitOrder(context.Background(), models.OrderCreateInput{UserID: 1, Service: "upvotes", Link: "https://example.com/p/1", Quantity: 10})
	require.Error(t, err)
	require.Len(t, repo.orders, 1)
	require.Nil(t, repo.orders[1].ExternalReference)
}

func TestGetOrder_CacheHit(t *testing.T) {
	repo := newFakeRepo()
	c := &fakeCache{m: map[string][]byte{}}
	s := New(repo, &fakePanel{}, c, nil, 10*time.Minute, 0)

	want := &models.Order{ID: 7, UserID: 2, Status: models.OrderStatusInProgress}
	b, _ := json.Marshal(want)
	c.m["order:7:current"] = b

	got, err := s.GetOrder(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, want.ID, got.ID)
	require.Equal(t, want.Status, got.Status)
}

func TestGetOrder_CacheMissFillsCache(t *testing.T) {
	repo := newFakeRepo()
	o, _ := repo.CreateOrder(context.Background(), models.OrderCreateInput{UserID: 2, Service: "upvotes", Link: "https://x", Quantity: 1})
	c := &fakeCache{m: map[string][]byte{}}
	s := New(repo, &fakePanel{}, c, nil, 10*time.Minute, 0)

	got, err := s.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, o.ID, got.ID)
	require.Contains(t, c.m, "order:1:current")
}

func TestCheckOrder_WritesPanelAnswer(t *testing.T) {
	repo := newFakeRepo()
	o, _ := repo.CreateOrder(context.Background(), models.OrderCreateInput{UserID: 2, Service: "upvotes", Link: "https://x", Quantity: 100})
	require.NoError(t, repo.SetExternalReference(context.Background(), o.ID, "EXT-9"))

	delivered := int64(42)
	panel := &fakePanel{status: voteapi.StatusResult{Status: models.OrderStatusCompleted, VotesDelivered: &delivered}}
	s := New(repo, panel, nil, fakeRL{allowed: true}, 0, 30)

	got, err := s.CheckOrder(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusCompleted, got.Status)
	require.Equal(t, int64(42), got.DeliveredCount)
	require.NotNil(t, got.LastStatusCheck)
}

func TestCheckOrder_UnsubmittedRejected(t *testing.T) {
	repo := newFakeRepo()
	o, _ := repo.CreateOrder(context.Background(), models.OrderCreateInput{UserID: 2, Service: "upvotes", Link: "https://x", Quantity: 1})

	panel := &fakePanel{}
	s := New(repo, panel, nil, nil, 0, 0)

	_, err := s.CheckOrder(context.Background(), o.ID)
	require.Error(t, err)
	require.Zero(t, panel.calls)
}

func TestCheckOrder_TerminalSkipsPanelCall(t *testing.T) {
	repo := newFakeRepo()
	o, _ := repo.CreateOrder(context.Background(), models.OrderCreateInput{UserID: 2, Service: "upvotes", Link: "https://x", Quantity: 1})
	require.NoError(t, repo.SetExternalReference(context.Background(), o.ID, "EXT-9"))
	repo.orders[o.ID].Status = models.OrderStatusCompleted

	panel := &fakePanel{}
	s := New(repo, panel, nil, nil, 0, 0)

	got, err := s.CheckOrder(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusCompleted, got.Status)
	require.Zero(t, panel.calls)
}

func TestCheckOrder_RateLimited(t *testing.T) {
	repo := newFakeRepo()
	o, _ := repo.CreateOrder(context.Background(), models.OrderCreateInput{UserID: 2, Service: "upvotes", Link: "https://x", Quantity: 1})
	require.NoError(t, repo.SetExternalReference(context.Background(), o.ID, "EXT-9"))

	panel := &fakePanel{}
	s := New(repo, panel, nil, fakeRL{allowed: false, count: 31}, 0, 30)

	_, err := s.CheckOrder(context.Background(), o.ID)
	require.Error(t, err)
	require.Zero(t, panel.calls)
}

func TestApplyKafkaUpdate_RefreshesCache(t *testing.T) {
	repo := newFakeRepo()
	o, _ := repo.CreateOrder(context.Background(), models.OrderCreateInput{UserID: 2, Service: "upvotes", Link: "https://x", Quantity: 1})
	repo.orders[o.ID].Status = models.OrderStatusCompleted

	c := &fakeCache{m: map[string][]byte{}}
	s := New(repo, &fakePanel{}, c, nil, 10*time.Minute, 0)

	require.NoError(t, s.ApplyKafkaUpdate(context.Background(), messages.OrderUpdated{OrderID: o.ID, NewStatus: models.OrderStatusCompleted}))

	b, ok := c.m["order:1:current"]
	require.True(t, ok)
	var cached models.Order
	require.NoError(t, json.Unmarshal(b, &cached))
	require.Equal(t, models.OrderStatusCompleted, cached.Status)
}

func TestApplyKafkaUpdate_ReadFailureDropsStaleCache(t *testing.T) {
	repo := newFakeRepo()
	c := &fakeCache{m: map[string][]byte{"order:9:current": []byte(`{"id":9,"status":"Pending"}`)}}
	s := New(repo, &fakePanel{}, c, nil, 10*time.Minute, 0)

	// Заказа 9 в базе нет: кэш не должен продолжать отдавать старое состояние.
	err := s.ApplyKafkaUpdate(context.Background(), messages.OrderUpdated{OrderID: 9})
	require.Error(t, err)
	require.NotContains(t, c.m, "order:9:current")
}

func TestApplyKafkaUpdate_Validate(t *testing.T) {
	s := New(newFakeRepo(), &fakePanel{}, nil, nil, 0, 0)
	require.Error(t, s.ApplyKafkaUpdate(context.Background(), messages.OrderUpdated{}))
}
