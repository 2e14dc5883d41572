package logbridge

import (
	"sync"
	"time"

	"wgnt"
)

// Subscription is one adapter's registration with the bridge.
type Subscription struct {
	bridge  *Bridge
	adapter string
	handle  Handler
	queue   chan wgnt.LogRecord
	timeout time.Duration

	stopOnce sync.Once
	done     chan struct{}
}

func (b *Bridge) newSubscription(adapter string, h Handler) *Subscription {
	s := &Subscription{
		bridge:  b,
		adapter: adapter,
		handle:  h,
		queue:   make(chan wgnt.LogRecord, b.queueSize),
		timeout: b.sendTimeout,
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Adapter returns the adapter name the subscription is scoped to.
func (s *Subscription) Adapter() string {
	return s.adapter
}

// Close unregisters the subscription and waits until every record it already
// accepted has been handled. After Close returns the handler is never called
// again. Close must not be called from the handler itself.
func (s *Subscription) Close() error {
	s.bridge.remove(s)
	s.stop()
	return nil
}

func (s *Subscription) run() {
	defer close(s.done)
	for rec := range s.queue {
		s.handle(rec)
		s.bridge.metrics.delivered(s.label())
	}
}

// enqueue is called with the bridge's read lock held.
func (s *Subscription) enqueue(rec wgnt.LogRecord) {
	select {
	case s.queue <- rec:
		return
	default:
	}

	if s.timeout > 0 {
		t := time.NewTimer(s.timeout)
		defer t.Stop()
		select {
		case s.queue <- rec:
			return
		case <-t.C:
		}
	}
	s.bridge.metrics.dropped(s.label())
}

// stop closes the queue once the subscription can no longer be reached by
// Deliver, then waits for the consumer to drain it.
func (s *Subscription) stop() {
	s.stopOnce.Do(func() { close(s.queue) })
	<-s.done
}

func (s *Subscription) label() string {
	if s.adapter == "" {
		return unattributed
	}
	return s.adapter
}
