// Package pipeline fans a stream of events out through a chain of filtering
// and enrichment stages to any number of in-process consumers.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// DefaultCapacity is the buffer size of a receiver channel.
const DefaultCapacity = 1024

// Delivery is how a stage hands an item to a receiver whose channel is full.
type Delivery int

const (
	// Block waits for the receiver to make room. Every receiver sees every
	// item, and one stalled receiver stalls the stage and everything upstream
	// of it.
	Block Delivery = iota

	// DropOnFull skips the receiver for that item and counts the drop. A slow
	// receiver sees a gap-free prefix up to its capacity, then loses items.
	DropOnFull
)

func (d Delivery) String() string {
	if d == DropOnFull {
		return "drop_on_full"
	}
	return "block"
}

// Transform maps one input item to zero or more output items.
type Transform[In, Out any] func(In) []Out

// Receiver is one consumer's registration with a stage.
type Receiver[T any] struct {
	ID uuid.UUID

	// C delivers the stage's items. It is closed when the stage stops; it is
	// not closed by RemoveReceiver.
	C <-chan T

	ch      chan T
	removed chan struct{}
}

// Stage reads from one input channel, applies its transform, and delivers
// each output to every registered receiver in registration order.
type Stage[In, Out any] struct {
	name      string
	in        <-chan In
	transform Transform[In, Out]
	delivery  Delivery
	capacity  int
	logger    *slog.Logger
	metrics   *Metrics

	dropped atomic.Int64
	dropLog rate.Sometimes

	mu        sync.RWMutex
	receivers []*Receiver[Out]
	stopped   bool
}

type stageConfig struct {
	delivery Delivery
	capacity int
	logger   *slog.Logger
	metrics  *Metrics
}

// StageOption configures a Stage.
type StageOption func(*stageConfig)

// WithDelivery sets the stage's delivery policy. The default is Block.
func WithDelivery(d Delivery) StageOption {
	return func(c *stageConfig) { c.delivery = d }
}

// WithCapacity sets the buffer size of receiver channels.
func WithCapacity(n int) StageOption {
	return func(c *stageConfig) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithLogger sets the stage's logger.
func WithLogger(l *slog.Logger) StageOption {
	return func(c *stageConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records per-stage metrics.
func WithMetrics(m *Metrics) StageOption {
	return func(c *stageConfig) { c.metrics = m }
}

// NewStage creates a stage reading from in. Call Run to start it.
func NewStage[In, Out any](name string, in <-chan In, transform Transform[In, Out], opts ...StageOption) *Stage[In, Out] {
	cfg := stageConfig{
		delivery: Block,
		capacity: DefaultCapacity,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Stage[In, Out]{
		name:      name,
		in:        in,
		transform: transform,
		delivery:  cfg.delivery,
		capacity:  cfg.capacity,
		logger:    cfg.logger.With("stage", name, "delivery", cfg.delivery.String()),
		metrics:   cfg.metrics,
		dropLog:   rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

func (s *Stage[In, Out]) Name() string { return s.name }

func (s *Stage[In, Out]) Delivery() Delivery { return s.delivery }

// AddReceiver registers a new consumer and returns its channel. Items
// processed before registration are not replayed. Registering with a stopped
// stage returns an already-closed channel.
func (s *Stage[In, Out]) AddReceiver() *Receiver[Out] {
	ch := make(chan Out, s.capacity)
	r := &Receiver[Out]{
		ID:      uuid.New(),
		C:       ch,
		ch:      ch,
		removed: make(chan struct{}),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		close(ch)
		return r
	}
	s.receivers = append(s.receivers, r)
	s.metrics.setReceivers(s.name, len(s.receivers))
	s.logger.Debug("receiver added", "receiver", r.ID, "receivers", len(s.receivers))
	return r
}

// RemoveReceiver deregisters id. A delivery blocked on that receiver is
// released. It reports whether id was registered.
func (s *Stage[In, Out]) RemoveReceiver(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.receivers {
		if r.ID != id {
			continue
		}
		// Copy so that a dispatch holding the old slice is unaffected.
		next := make([]*Receiver[Out], 0, len(s.receivers)-1)
		next = append(next, s.receivers[:i]...)
		next = append(next, s.receivers[i+1:]...)
		s.receivers = next

		close(r.removed)
		s.metrics.setReceivers(s.name, len(s.receivers))
		s.logger.Debug("receiver removed", "receiver", id, "receivers", len(s.receivers))
		return true
	}
	return false
}

// Receivers returns the number of registered receivers.
func (s *Stage[In, Out]) Receivers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.receivers)
}

// Dropped returns how many deliveries DropOnFull has skipped.
func (s *Stage[In, Out]) Dropped() int64 {
	return s.dropped.Load()
}

// Run processes items until the input channel closes or ctx is cancelled,
// then closes every receiver channel.
func (s *Stage[In, Out]) Run(ctx context.Context) error {
	defer s.stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-s.in:
			if !ok {
				s.logger.Info("stage input closed")
				return nil
			}
			s.metrics.in(s.name)
			for _, out := range s.transform(item) {
				if err := s.dispatch(ctx, out); err != nil {
					return err
				}
			}
		}
	}
}

func (s *Stage[In, Out]) dispatch(ctx context.Context, item Out) error {
	s.mu.RLock()
	receivers := s.receivers
	s.mu.RUnlock()

	for _, r := range receivers {
		if s.delivery == DropOnFull {
			select {
			case r.ch <- item:
				s.metrics.delivered(s.name)
			case <-r.removed:
			default:
				total := s.dropped.Add(1)
				s.metrics.drop(s.name)
				s.dropLog.Do(func() {
					s.logger.Warn("receiver full, dropping item", "receiver", r.ID, "dropped_total", total)
				})
			}
			continue
		}

		select {
		case r.ch <- item:
			s.metrics.delivered(s.name)
		case <-r.removed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Stage[In, Out]) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for _, r := range s.receivers {
		close(r.ch)
	}
	s.receivers = nil
	s.metrics.setReceivers(s.name, 0)
}
