package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/atsguard/internal/ident"
	"github.com/roach88/atsguard/internal/store"
)

// Outbox is the storage surface the dispatcher polls. *store.Store
// implements it.
type Outbox interface {
	PendingNotifications(ctx context.Context, limit, maxAttempts int) ([]store.Notification, error)
	MarkNotificationDelivered(ctx context.Context, id string, at time.Time) error
	MarkNotificationFailed(ctx context.Context, id string) error
}

// Dispatcher defaults.
const (
	DefaultInterval    = time.Second
	DefaultBatchSize   = 100
	DefaultMaxAttempts = 10
)

// Dispatcher moves outbox rows to a Publisher.
type Dispatcher struct {
	outbox      Outbox
	pub         Publisher
	clock       ident.Clock
	logger      *zap.Logger
	interval    time.Duration
	batchSize   int
	maxAttempts int
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) DispatcherOption {
	return func(x *Dispatcher) {
		if d > 0 {
			x.interval = d
		}
	}
}

// WithBatchSize sets how many rows one poll reads.
func WithBatchSize(n int) DispatcherOption {
	return func(x *Dispatcher) {
		if n > 0 {
			x.batchSize = n
		}
	}
}

// WithMaxAttempts sets how many failed publishes a row tolerates before the
// dispatcher stops retrying it.
func WithMaxAttempts(n int) DispatcherOption {
	return func(x *Dispatcher) {
		if n > 0 {
			x.maxAttempts = n
		}
	}
}

// WithDispatcherClock sets the clock used for delivery timestamps.
func WithDispatcherClock(c ident.Clock) DispatcherOption {
	return func(x *Dispatcher) {
		x.clock = c
	}
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(l *zap.Logger) DispatcherOption {
	return func(x *Dispatcher) {
		x.logger = l
	}
}

// NewDispatcher creates a dispatcher from outbox to pub.
func NewDispatcher(outbox Outbox, pub Publisher, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		outbox:      outbox,
		pub:         pub,
		clock:       ident.SystemClock{},
		logger:      zap.NewNop(),
		interval:    DefaultInterval,
		batchSize:   DefaultBatchSize,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Stats counts the outcome of one poll.
type Stats struct {
	Delivered int
	Failed    int

	// Deferred rows were not attempted because an earlier event of the same
	// subject failed in this poll.
	Deferred int
}

// DispatchOnce publishes one batch of pending rows.
//
// Events of one subject are published in sequence order. After a failure,
// later events of that subject wait for the next poll so subscribers never
// observe seq n+1 before seq n.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (Stats, error) {
	var st Stats
	pending, err := d.outbox.PendingNotifications(ctx, d.batchSize, d.maxAttempts)
	if err != nil {
		return st, fmt.Errorf("dispatch: %w", err)
	}

	blocked := make(map[string]bool)
	for _, n := range pending {
		key := n.SubjectType + "/" + n.SubjectID
		if blocked[key] {
			st.Deferred++
			continue
		}

		if err := d.pub.Publish(ctx, EventFrom(n)); err != nil {
			blocked[key] = true
			st.Failed++
			d.logger.Warn("publish failed",
				zap.String("notification_id", n.ID),
				zap.String("tenant_id", n.TenantID),
				zap.Int("attempts", n.Attempts+1),
				zap.Error(err),
			)
			if err := d.outbox.MarkNotificationFailed(ctx, n.ID); err != nil {
				return st, fmt.Errorf("dispatch: %w", err)
			}
			continue
		}

		if err := d.outbox.MarkNotificationDelivered(ctx, n.ID, d.clock.Now()); err != nil {
			return st, fmt.Errorf("dispatch: %w", err)
		}
		st.Delivered++
	}
	return st, nil
}

// Run polls until ctx is cancelled. Poll errors are logged and retried on
// the next tick. It returns nil on cancellation.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("dispatcher started",
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize),
	)
	for {
		st, err := d.DispatchOnce(ctx)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		case err != nil:
			d.logger.Error("dispatch failed", zap.Error(err))
		case st.Delivered+st.Failed > 0:
			d.logger.Debug("dispatched",
				zap.Int("delivered", st.Delivered),
				zap.Int("failed", st.Failed),
				zap.Int("deferred", st.Deferred),
			)
		}

		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}
