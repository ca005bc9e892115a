// Package notify publishes edit events to an external sink without ever
// blocking or failing the editing path.
package notify

import (
	"context"
	"sync"
	"time"

	"collabhub/internal/metrics"
	"collabhub/internal/models"
	"collabhub/internal/utils"
)

// Notifier is fire-and-forget.
type Notifier interface {
	Publish(ctx context.Context, event models.Event)
}

// Sink delivers one event to a transport.
type Sink interface {
	Send(ctx context.Context, event models.Event) error
}

type Nop struct{}

func (Nop) Publish(context.Context, models.Event) {}

// Async queues events for a background worker that forwards them to a Sink.
// A full queue drops the event; sink failures are logged and swallowed.
type Async struct {
	sink    Sink
	log     *utils.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan models.Event
	done   chan struct{}
}

func NewAsync(sink Sink, queueSize int, timeout time.Duration, log *utils.Logger) *Async {
	if queueSize <= 0 {
		queueSize = 1
	}
	if log == nil {
		log = utils.NopLogger()
	}
	a := &Async{
		sink:    sink,
		log:     log,
		timeout: timeout,
		queue:   make(chan models.Event, queueSize),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Publish(_ context.Context, event models.Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- event:
	default:
		metrics.NotificationsDropped.Inc()
		a.log.Warn("notification queue full, dropping event", "doc", event.DocumentID, "type", event.EventType)
	}
}

func (a *Async) run() {
	defer close(a.done)
	for event := range a.queue {
		ctx, cancel := context.Background(), func() {}
		if a.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, a.timeout)
		}
		if err := a.sink.Send(ctx, event); err != nil {
			metrics.NotificationsDropped.Inc()
			a.log.Warn("broker publish error", "doc", event.DocumentID, "type", event.EventType, "error", err.Error())
		}
		cancel()
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
}
