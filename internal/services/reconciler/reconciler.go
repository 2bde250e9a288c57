package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PulseVote/OrderWatch/internal/broker/messages"
	"github.com/PulseVote/OrderWatch/internal/integrations/voteapi"
	"github.com/PulseVote/OrderWatch/internal/models"
	"github.com/PulseVote/OrderWatch/internal/storage/pgorders"
	"github.com/pkg/errors"
)

const leaseName = "status-check"

type Repository interface {
	ListReconcileCandidates(ctx context.Context, limit int) ([]*models.Order, error)
	ApplyStatusUpdate(ctx context.Context, upd pgorders.OrderUpdate) error
	AcquireRunLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	ReleaseRunLease(ctx context.Context, name, holder string) error
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Reconciler struct {
	repo     Repository
	panel    voteapi.Client
	producer Publisher

	topic  string
	holder string

	runInterval time.Duration
	pageLimit   int
	batchSize   int
	batchDelay  time.Duration
	cooldown    time.Duration
	leaseTTL    time.Duration
	callTimeout time.Duration

	// Тестовые крючки: в проде это time.Now/time.Sleep.
	now   func() time.Time
	sleep func(d time.Duration)

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastRunUnixNano     atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalRuns           atomic.Int64
	totalChecked        atomic.Int64
	totalUpdated        atomic.Int64
	totalErrors         atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, panel voteapi.Client, producer Publisher, topic, holder string) *Reconciler {
	return &Reconciler{
		repo: repo, panel: panel, producer: producer, topic: topic, holder: holder,
		runInterval:       4 * time.Hour,
		pageLimit:         100,
		batchSize:         5,
		batchDelay:        2 * time.Second,
		cooldown:          2 * time.Hour,
		leaseTTL:          30 * time.Minute,
		callTimeout:       10 * time.Second,
		now:               func() time.Time { return time.Now().UTC() },
		sleep:             time.Sleep,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

type Settings struct {
	RunInterval time.Duration
	PageLimit   int
	BatchSize   int
	BatchDelay  time.Duration
	Cooldown    time.Duration
	LeaseTTL    time.Duration
	CallTimeout time.Duration
}

func (r *Reconciler) WithSettings(s Settings) *Reconciler {
	if s.RunInterval > 0 {
		r.runInterval = s.RunInterval
	}
	if s.PageLimit > 0 {
		r.pageLimit = s.PageLimit
	}
	if s.BatchSize > 0 {
		r.batchSize = s.BatchSize
	}
	if s.BatchDelay > 0 {
		r.batchDelay = s.BatchDelay
	}
	if s.Cooldown > 0 {
		r.cooldown = s.Cooldown
	}
	if s.LeaseTTL > 0 {
		r.leaseTTL = s.LeaseTTL
	}
	if s.CallTimeout > 0 {
		r.callTimeout = s.CallTimeout
	}
	return r
}

// Trigger forces an immediate run (best-effort, non-blocking).
func (r *Reconciler) Trigger() {
	r.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

// Transition is one before/after sample kept in the run summary.
type Transition struct {
	OrderID        uint64 `json:"orderId"`
	OldStatus      string `json:"oldStatus"`
	NewStatus      string `json:"newStatus"`
	VotesDelivered int64  `json:"votesDelivered"`
}

// Summary is the result of one reconciliation pass.
// Results holds at most maxSampledResults transitions.
type Summary struct {
	TotalChecked int          `json:"totalChecked"`
	Updated      int          `json:"updated"`
	Errors       int          `json:"errors"`
	Timestamp    time.Time    `json:"timestamp"`
	Results      []Transition `json:"results"`
}

const maxSampledResults = 10

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastRunAt     *time.Time `json:"lastRunAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	TotalRuns     int64      `json:"totalRuns"`
	TotalChecked  int64      `json:"totalChecked"`
	TotalUpdated  int64      `json:"totalUpdated"`
	TotalErrors   int64      `json:"totalErrors"`
	LastError     string     `json:"lastError,omitempty"`
}

func (r *Reconciler) Stats() Stats {
	st := Stats{
		StartedAt:    time.Unix(0, r.startedAtUnixNano).UTC(),
		TotalRuns:    r.totalRuns.Load(),
		TotalChecked: r.totalChecked.Load(),
		TotalUpdated: r.totalUpdated.Load(),
		TotalErrors:  r.totalErrors.Load(),
	}
	if n := r.lastRunUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastRunAt = &t
	}
	if n := r.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	r.lastErrorMu.Lock()
	st.LastError = r.lastError
	r.lastErrorMu.Unlock()
	return st
}

// Run executes passes on a fixed cadence until ctx is cancelled.
// Manual triggers run in between without resetting the ticker.
func (r *Reconciler) Run(ctx context.Context) error {
	t := time.NewTicker(r.runInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if _, err := r.RunOnce(ctx, ""); err != nil {
				slog.Error("reconciliation run failed", "error", err.Error())
			}
		case <-r.triggerCh:
			if _, err := r.RunOnce(ctx, ""); err != nil {
				slog.Error("reconciliation run failed", "error", err.Error())
			}
		}
	}
}

// RunOnce performs one reconciliation pass: fetch a page of non-terminal
// submitted orders, drop the ones inside the cooldown window, poll the panel
// for the rest in sequential batches with a pause between batches, and write
// back whatever the panel reports. Per-order failures are tallied; only lease,
// query and other infrastructure errors abort the pass.
// nextRun is informational only.
func (r *Reconciler) RunOnce(ctx context.Context, nextRun string) (Summary, error) {
	now := r.now()
	r.lastRunUnixNano.Store(now.UnixNano())
	r.totalRuns.Add(1)

	if nextRun != "" {
		slog.Info("reconciliation run started", "next_run", nextRun)
	} else {
		slog.Info("reconciliation run started")
	}

	ok, err := r.repo.AcquireRunLease(ctx, leaseName, r.holder, r.leaseTTL)
	if err != nil {
		return Summary{}, r.fatal(errors.Wrap(err, "acquire run lease"))
	}
	if !ok {
		return Summary{}, r.fatal(errors.New("another reconciliation run holds the lease"))
	}
	defer func() {
		if err := r.repo.ReleaseRunLease(ctx, leaseName, r.holder); err != nil {
			slog.Error("release run lease", "error", err.Error())
		}
	}()

	candidates, err := r.repo.ListReconcileCandidates(ctx, r.pageLimit)
	if err != nil {
		return Summary{}, r.fatal(errors.Wrap(err, "list reconcile candidates"))
	}

	// Cooldown filter: recently checked orders sit this run out. Orders never
	// checked before always go through.
	eligible := make([]*models.Order, 0, len(candidates))
	for _, o := range candidates {
		if o.LastStatusCheck != nil && now.Sub(*o.LastStatusCheck) < r.cooldown {
			continue
		}
		eligible = append(eligible, o)
	}

	sum := Summary{
		TotalChecked: len(candidates),
		Timestamp:    now,
	}

	for start := 0; start < len(eligible); start += r.batchSize {
		end := start + r.batchSize
		if end > len(eligible) {
			end = len(eligible)
		}

		for _, o := range eligible[start:end] {
			tr, err := r.checkOne(ctx, o)
			if err != nil {
				sum.Errors++
				r.totalErrors.Add(1)
				r.setLastError(err)
				slog.Error("check order", "order_id", o.ID, "error", err.Error())
				continue
			}
			sum.Updated++
			r.totalUpdated.Add(1)
			if len(sum.Results) < maxSampledResults {
				sum.Results = append(sum.Results, tr)
			}
		}

		// Пауза между пачками — вежливость к панели, не корректность.
		if end < len(eligible) {
			r.sleep(r.batchDelay)
		}
	}

	r.totalChecked.Add(int64(sum.TotalChecked))
	slog.Info("reconciliation run finished",
		"total_checked", sum.TotalChecked,
		"updated", sum.Updated,
		"errors", sum.Errors,
	)
	return sum, nil
}

func (r *Reconciler) checkOne(ctx context.Context, o *models.Order) (Transition, error) {
	if o.ExternalReference == nil {
		// Кандидатный запрос это уже исключает; оставлено как инвариант.
		return Transition{}, errors.New("order has no external reference")
	}

	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	res, err := r.panel.GetOrderStatus(callCtx, *o.ExternalReference)
	if err != nil {
		return Transition{}, errors.Wrap(err, "panel status")
	}

	checkedAt := r.now()
	delivered := o.DeliveredCount
	if res.VotesDelivered != nil {
		delivered = *res.VotesDelivered
	}

	err = r.repo.ApplyStatusUpdate(ctx, pgorders.OrderUpdate{
		OrderID:        o.ID,
		CheckedAt:      checkedAt,
		Status:         res.Status,
		DeliveredCount: delivered,
	})
	if err != nil {
		return Transition{}, errors.Wrap(err, "apply status update")
	}

	tr := Transition{
		OrderID:        o.ID,
		OldStatus:      o.Status,
		NewStatus:      res.Status,
		VotesDelivered: delivered,
	}

	// Best-effort notification; a publish failure is not a per-order error.
	if r.producer != nil && (res.Status != o.Status || delivered != o.DeliveredCount) {
		msg := messages.OrderUpdated{
			OrderID:        o.ID,
			CheckedAt:      checkedAt,
			OldStatus:      o.Status,
			NewStatus:      res.Status,
			VotesDelivered: delivered,
		}
		if b, err := json.Marshal(msg); err == nil {
			if err := r.producer.Publish(ctx, r.topic, []byte(fmt.Sprintf("%d", o.ID)), b); err != nil {
				slog.Warn("publish order.updated", "order_id", o.ID, "error", err.Error())
			}
		}
	}

	return tr, nil
}

func (r *Reconciler) fatal(err error) error {
	r.setLastError(err)
	return err
}

func (r *Reconciler) setLastError(err error) {
	r.lastErrorMu.Lock()
	r.lastError = err.Error()
	r.lastErrorMu.Unlock()
}
