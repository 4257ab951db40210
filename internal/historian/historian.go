package historian

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"

	slogctx "github.com/veqryn/slog-context"
)

// Event describes a single issued credential.
type Event struct {
	ID      ulid.ULID `json:"id"`
	When    time.Time `json:"timestamp"`
	Subject string    `json:"credential"`
	Origin  string    `json:"ip"`
}

// Sink delivers a batch of events to an external receiver. A batch is either delivered completely or not at all.
type Sink interface {
	Deliver(ctx context.Context, events []Event) error
}

// Historian buffers events and forwards them to a Sink from a single worker goroutine.
// Events are kept until the sink accepts them, so a failed delivery is retried with the same events in the same order.
type Historian struct {
	sink       Sink
	newBackOff func() backoff.BackOff
	now        func() time.Time

	mu      sync.Mutex
	cond    *sync.Cond
	events  []Event
	signal  bool
	enabled bool
	retry   *time.Timer
	cancel  context.CancelFunc
	done    chan struct{}
}

type Option func(*Historian)

// WithBackOff sets the retry policy used after a failed delivery.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(h *Historian) {
		h.newBackOff = f
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Historian) {
		h.now = now
	}
}

func New(sink Sink, opts ...Option) *Historian {
	h := &Historian{
		sink:       sink,
		newBackOff: defaultBackOff,
		now:        time.Now,
	}
	h.cond = sync.NewCond(&h.mu)

	for _, opt := range opts {
		opt(h)
	}

	return h
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 5 * time.Minute
	b.MaxElapsedTime = 0

	return b
}

// Enable starts the delivery worker. It stops when ctx is done or Disable is called.
func (h *Historian) Enable(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.enabled {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	h.enabled = true
	h.cancel = cancel
	h.done = make(chan struct{})
	h.signal = len(h.events) > 0

	done := h.done
	go h.run(ctx, done)
	context.AfterFunc(ctx, func() { h.disable(done) })

	slogctx.Info(ctx, "Event historian enabled")
}

// Disable stops the worker and waits for it to exit. Buffered events that were not delivered are kept.
func (h *Historian) Disable() {
	h.mu.Lock()
	done := h.done
	h.mu.Unlock()

	h.disable(done)
}

func (h *Historian) disable(done chan struct{}) {
	h.mu.Lock()
	if !h.enabled || h.done != done {
		h.mu.Unlock()
		return
	}

	h.enabled = false
	h.cancel()
	if h.retry != nil {
		h.retry.Stop()
		h.retry = nil
	}
	h.cond.Broadcast()
	h.mu.Unlock()

	<-done
}

// Record buffers an event for delivery. Events recorded while the historian is disabled are dropped.
func (h *Historian) Record(e Event) {
	if e.When.IsZero() {
		e.When = h.now()
	}
	if e.ID == (ulid.ULID{}) {
		e.ID = ulid.MustNew(ulid.Timestamp(e.When), ulid.DefaultEntropy())
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.enabled {
		return
	}

	h.events = append(h.events, e)
	h.signal = true
	h.cond.Signal()
}

// Pending returns the number of buffered events.
func (h *Historian) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.events)
}

func (h *Historian) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	b := h.newBackOff()

	h.mu.Lock()
	defer h.mu.Unlock()

	for {
		for h.enabled && !h.signal {
			h.cond.Wait()
		}
		if !h.enabled {
			return
		}
		h.signal = false

		if len(h.events) == 0 {
			continue
		}

		batch := slices.Clone(h.events)

		h.mu.Unlock()
		err := h.sink.Deliver(ctx, batch)
		h.mu.Lock()

		if err != nil {
			if !h.enabled {
				return
			}

			wait := b.NextBackOff()
			if wait == backoff.Stop {
				wait = time.Minute
			}
			slogctx.Warn(ctx, "Failed to deliver events",
				slog.Int("events", len(batch)), slog.Duration("retryIn", wait), slog.String("error", err.Error()))
			h.scheduleRetry(wait)

			continue
		}

		b.Reset()
		h.events = slices.Delete(h.events, 0, len(batch))
		if len(h.events) > 0 {
			h.signal = true
		}
	}
}

func (h *Historian) scheduleRetry(wait time.Duration) {
	if h.retry != nil {
		h.retry.Stop()
	}

	h.retry = time.AfterFunc(wait, func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		h.signal = true
		h.cond.Signal()
	})
}
