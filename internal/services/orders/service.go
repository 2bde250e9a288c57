package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PulseVote/OrderWatch/internal/broker/messages"
	"github.com/PulseVote/OrderWatch/internal/cache"
	"github.com/PulseVote/OrderWatch/internal/integrations/voteapi"
	"github.com/PulseVote/OrderWatch/internal/models"
	"github.com/PulseVote/OrderWatch/internal/storage/pgorders"
	"github.com/pkg/errors"
)

type Repository interface {
	CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.Order, error)
	GetOrderByID(ctx context.Context, id uint64) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID uint64, limit, offset int) ([]*models.Order, error)
	SetExternalReference(ctx context.Context, orderID uint64, externalReference string) error
	ApplyStatusUpdate(ctx context.Context, upd pgorders.OrderUpdate) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Service struct {
	repo  Repository
	panel voteapi.Client
	cache cache.BytesCache
	rl    RateLimiter

	currentTTL       time.Duration
	checkLimitPerMin int64
}

func New(repo Repository, panel voteapi.Client, c cache.BytesCache, rl RateLimiter, currentTTL time.Duration, checkLimitPerMin int64) *Service {
	return &Service{
		repo: repo, panel: panel, cache: c, rl: rl,
		currentTTL:       currentTTL,
		checkLimitPerMin: checkLimitPerMin,
	}
}

// SubmitOrder persists a Pending row, forwards the order to the vote panel and
// stores the panel's order number. A row whose submit failed keeps a null
// external reference and is never polled by the reconciler.
func (s *Service) SubmitOrder(ctx context.Context, in models.OrderCreateInput) (*models.Order, error) {
	if in.UserID == 0 {
		return nil, errors.New("userId is required")
	}
	if in.Service == "" {
		return nil, errors.New("service is required")
	}
	if !strings.HasPrefix(in.Link, "http://") && !strings.HasPrefix(in.Link, "https://") {
		return nil, errors.New("link must be an http(s) URL")
	}
	if in.Quantity <= 0 {
		return nil, errors.New("quantity must be positive")
	}
	if in.Quantity > 100_000 {
		return nil, errors.New("quantity too large (max 100000)")
	}

	o, err := s.repo.CreateOrder(ctx, in)
	if err != nil {
		return nil, err
	}

	res, err := s.panel.SubmitOrder(ctx, in.Service, in.Link, in.Quantity)
	if err != nil {
		return nil, errors.Wrapf(err, "submit order %d to panel", o.ID)
	}

	if err := s.repo.SetExternalReference(ctx, o.ID, res.OrderNumber); err != nil {
		return nil, err
	}

	return s.repo.GetOrderByID(ctx, o.ID)
}

func (s *Service) GetOrder(ctx context.Context, id uint64) (*models.Order, error) {
	if id == 0 {
		return nil, errors.New("orderId is required")
	}

	// Кэш — "лучшее усилие": промах или ошибка просто ведут в БД.
	if s.cache != nil && s.currentTTL > 0 {
		b, ok, err := s.cache.Get(ctx, currentKey(id))
		if err == nil && ok {
			var o models.Order
			if json.Unmarshal(b, &o) == nil {
				return &o, nil
			}
		}
	}

	o, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheOrder(ctx, o)
	return o, nil
}

func (s *Service) ListOrders(ctx context.Context, userID uint64, limit, offset int) ([]*models.Order, error) {
	if userID == 0 {
		return nil, errors.New("userId is required")
	}
	return s.repo.ListOrdersByUser(ctx, userID, limit, offset)
}

// CheckOrder polls the panel for one order right now and writes the answer
// back, bypassing the reconciler's cadence. Rate-limited per user.
func (s *Service) CheckOrder(ctx context.Context, id uint64) (*models.Order, error) {
	o, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.ExternalReference == nil {
		return nil, errors.New("order is not submitted to the panel yet")
	}
	if models.IsTerminalStatus(o.Status) {
		// Терминальный статус уже не меняется; внешний вызов не нужен.
		return o, nil
	}

	if s.rl != nil && s.checkLimitPerMin > 0 {
		minuteKey := fmt.Sprintf("rl:check:%d:%s", o.UserID, time.Now().UTC().Format("200601021504"))
		allowed, n, err := s.rl.Allow(ctx, minuteKey, s.checkLimitPerMin, 70*time.Second)
		if err != nil {
			return nil, err
		}
		if !allowed {
			slog.Warn("check rate limit exceeded", "user_id", o.UserID, "count", n)
			return nil, errors.New("too many status checks, try again in a minute")
		}
	}

	res, err := s.panel.GetOrderStatus(ctx, *o.ExternalReference)
	if err != nil {
		return nil, errors.Wrap(err, "panel status")
	}

	delivered := o.DeliveredCount
	if res.VotesDelivered != nil {
		delivered = *res.VotesDelivered
	}
	err = s.repo.ApplyStatusUpdate(ctx, pgorders.OrderUpdate{
		OrderID:        o.ID,
		CheckedAt:      time.Now().UTC(),
		Status:         res.Status,
		DeliveredCount: delivered,
	})
	if err != nil {
		return nil, err
	}

	fresh, err := s.repo.GetOrderByID(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	s.cacheOrder(ctx, fresh)
	return fresh, nil
}

// ApplyKafkaUpdate refreshes the cached current state after the reconciler
// observed a change.
func (s *Service) ApplyKafkaUpdate(ctx context.Context, msg messages.OrderUpdated) error {
	if msg.OrderID == 0 {
		return errors.New("order_id is required")
	}
	if s.cache == nil || s.currentTTL <= 0 {
		return nil
	}

	o, err := s.repo.GetOrderByID(ctx, msg.OrderID)
	if err != nil {
		// Перечитать не вышло — сбрасываем устаревшую запись, чтобы читатели
		// не получали состояние до обновления.
		_ = s.cache.Del(ctx, currentKey(msg.OrderID))
		return err
	}
	s.cacheOrder(ctx, o)
	return nil
}

func (s *Service) cacheOrder(ctx context.Context, o *models.Order) {
	if s.cache == nil || s.currentTTL <= 0 || o == nil {
		return
	}
	b, _ := json.Marshal(o)
	_ = s.cache.Set(ctx, currentKey(o.ID), b, s.currentTTL)
}

func currentKey(id uint64) string {
	return fmt.Sprintf("order:%d:current", id)
}
