// Package poll turns a fetch function into a cold, cancellable stream of
// snapshots that keeps going through backend failures.
package poll

import (
	"context"
	"errors"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"github.com/twisp/fleet-go/metrics"
)

// DefaultInterval is the pause between the end of one fetch and the start of
// the next.
const DefaultInterval = 3 * time.Second

var errStopped = errors.New("subscription stopped")

type FetchFunc[T any] func(ctx context.Context, id string) (T, error)

// Source polls entities of one kind. It does no work until Poll is called.
type Source[T any] struct {
	kind     string
	fetch    FetchFunc[T]
	interval time.Duration
}

type Option func(*options)

type options struct {
	interval time.Duration
}

func WithInterval(interval time.Duration) Option {
	return func(o *options) {
		o.interval = interval
	}
}

func NewSource[T any](kind string, fetch FetchFunc[T], opts ...Option) *Source[T] {
	o := options{interval: DefaultInterval}
	for _, opt := range opts {
		opt(&o)
	}
	return &Source[T]{
		kind:     kind,
		fetch:    fetch,
		interval: o.interval,
	}
}

// Subscription is a single running poll loop with exactly one consumer.
type Subscription[T any] struct {
	c      chan T
	done   chan struct{}
	cancel context.CancelCauseFunc
	err    error
}

// C delivers snapshots in fetch order. It is closed once polling ends.
func (s *Subscription[T]) C() <-chan T {
	return s.c
}

func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Stop cancels polling and waits until the loop has exited. No fetch is
// started after Stop returns.
func (s *Subscription[T]) Stop() {
	s.cancel(errStopped)
	<-s.done
}

// Err reports why polling ended: nil when the subscriber called Stop,
// otherwise the cause of the parent context's cancellation. It must only be
// called after Done is closed.
func (s *Subscription[T]) Err() error {
	return s.err
}

// Poll starts an independent loop for id that runs until the subscription
// is stopped or ctx is done.
func (s *Source[T]) Poll(ctx context.Context, id string) *Subscription[T] {
	ctx, cancel := context.WithCancelCause(ctx)
	sub := &Subscription[T]{
		c:      make(chan T),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go s.run(ctx, id, sub)
	return sub
}

func (s *Source[T]) run(ctx context.Context, id string, sub *Subscription[T]) {
	defer close(sub.done)
	defer close(sub.c)

	logger := klog.FromContext(ctx).WithValues("kind", s.kind, "id", id)
	logger.Info("Starting polling")

	wait.UntilWithContext(ctx, func(ctx context.Context) {
		state, err := s.fetch(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.PollFetchTotal.WithLabelValues(s.kind, metrics.ResultFailure).Inc()
			logger.Info("Polling failed, retrying", "err", err, "interval", s.interval)
			return
		}
		metrics.PollFetchTotal.WithLabelValues(s.kind, metrics.ResultSuccess).Inc()

		select {
		case sub.c <- state:
		case <-ctx.Done():
		}
	}, s.interval)

	cause := context.Cause(ctx)
	if errors.Is(cause, errStopped) {
		logger.Info("Ending polling")
		return
	}
	sub.err = cause
	logger.Error(cause, "Polling ended due to an unrecoverable error or scope cancellation")
}
