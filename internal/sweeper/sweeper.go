// internal/sweeper/sweeper.go
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"inventory-reserve/internal/domain"
	"inventory-reserve/internal/metrics"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Report summarizes one sweep pass.
type Report struct {
	Scanned    int `json:"scanned"`
	Expired    int `json:"expired"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
	LocksSwept int `json:"locks_swept"`
}

// Sweeper periodically finalizes pendingPayment orders whose reservation
// window has closed and drops the expired entries from the lock ledger.
//
// Passes are safe to overlap with each other, with payment events and with
// manual cancellations: finalization is a CAS in the order store, so every
// order is finalized exactly once and the losers skip it.
type Sweeper struct {
	orders      domain.OrderStore
	locks       domain.LockStore
	interval    time.Duration
	concurrency int
	cron        *cron.Cron
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// New creates a sweeper that runs a pass every interval, finalizing at
// most concurrency orders at a time.
func New(orders domain.OrderStore, locks domain.LockStore, interval time.Duration, concurrency int, logger *slog.Logger) *Sweeper {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Sweeper{
		orders:      orders,
		locks:       locks,
		interval:    interval,
		concurrency: concurrency,
		cron:        cron.New(),
		logger:      logger.With("component", "expiry-sweeper"),
		tracer:      otel.Tracer("inventory-reserve-sweeper"),
		now:         time.Now,
	}
}

// Start runs sweep passes on the configured interval until ctx is
// cancelled, then drains the in-flight pass.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron.Schedule(cron.Every(s.interval), cron.FuncJob(func() {
		s.runScheduled(ctx)
	}))

	s.logger.Info("expiry sweeper started",
		"interval", s.interval.String(), "concurrency", s.concurrency)
	s.cron.Start()
	<-ctx.Done()
	s.logger.Info("expiry sweeper stopping...")
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("expiry sweeper stopped")
	return ctx.Err()
}

func (s *Sweeper) runScheduled(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "sweeper.ScheduledPass")
	defer span.End()

	report, err := s.RunOnce(ctx)
	if err != nil {
		span.RecordError(err)
		metrics.SweepPassesTotal.WithLabelValues("failed").Inc()
		s.logger.Error("sweep pass failed", "error", err)
		return
	}

	metrics.SweepPassesTotal.WithLabelValues("success").Inc()
	if report.Expired+report.Skipped+report.Failed+report.LocksSwept > 0 {
		s.logger.Info("sweep pass finished",
			"scanned", report.Scanned, "expired", report.Expired,
			"skipped", report.Skipped, "failed", report.Failed,
			"locks_swept", report.LocksSwept)
	} else {
		s.logger.Debug("sweep pass found nothing to do")
	}
}

// RunOnce executes a single sweep pass. The admin trigger calls it
// directly, concurrently with the schedule if it likes.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	ctx, span := s.tracer.Start(ctx, "sweeper.RunOnce")
	defer span.End()

	var report Report

	swept, err := s.locks.SweepExpired(ctx)
	if err != nil {
		s.logger.Warn("failed to sweep expired locks", "error", err)
	}
	report.LocksSwept = swept

	expired, err := s.orders.ExpiredPending(ctx, s.now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list expired pending orders")
		return report, err
	}
	report.Scanned = len(expired)

	var expiredN, skippedN, failedN atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, order := range expired {
		g.Go(func() error {
			err := s.expireOrder(gctx, order)
			switch {
			case err == nil:
				expiredN.Add(1)
			case errors.Is(err, domain.ErrInvalidTransition):
				// A payment event or cancellation finalized it first.
				skippedN.Add(1)
				s.logger.Debug("order already finalized, skipping", "order_id", order.ID)
			default:
				failedN.Add(1)
				s.logger.Warn("failed to expire order, leaving it for the next pass",
					"order_id", order.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Expired = int(expiredN.Load())
	report.Skipped = int(skippedN.Load())
	report.Failed = int(failedN.Load())

	if live, err := s.locks.LiveCount(ctx); err == nil {
		metrics.LiveLocks.Set(float64(live))
	}

	span.SetAttributes(
		attribute.Int("sweep.scanned", report.Scanned),
		attribute.Int("sweep.expired", report.Expired),
		attribute.Int("sweep.skipped", report.Skipped),
		attribute.Int("sweep.failed", report.Failed),
		attribute.Int("sweep.locks_swept", report.LocksSwept),
	)
	return report, nil
}

// expireOrder finalizes one expired order and frees whatever locks it
// still holds.
func (s *Sweeper) expireOrder(ctx context.Context, order *domain.Order) error {
	if _, err := s.orders.FinalizeFailed(ctx, order.ID); err != nil {
		return err
	}

	released := 0
	for _, item := range order.Items {
		ok, err := s.locks.Release(ctx, item.Key(), order.ID)
		if err != nil {
			s.logger.Warn("failed to release lock of expired order",
				"order_id", order.ID, "key", item.Key().String(), "error", err)
			continue
		}
		if ok {
			released++
		}
	}

	metrics.OrdersExpiredTotal.Inc()
	s.logger.Info("expired pending order", "order_id", order.ID, "released", released)
	return nil
}
