// Package logbridge carries driver log lines from the driver's own threads
// into host logging.
//
// The driver invokes a single process-wide callback from arbitrary native
// threads. The bridge only enqueues on that thread: every adapter gets a
// bounded queue drained by one consumer goroutine, so lines for an adapter
// reach its handler in the order the driver emitted them. Lines that cannot be
// attributed to a subscribed adapter go to a fallback handler.
package logbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"wgnt"
	"wgnt/driver"
)

const (
	defaultQueueSize = 256
	unattributed     = "unattributed"
)

var (
	ErrClosed            = errors.New("log bridge closed")
	ErrAlreadySubscribed = errors.New("adapter already has a log subscription")
)

// Handler consumes log records. It runs on the subscription's consumer
// goroutine, never on a driver thread. A handler must not close its own
// subscription.
type Handler func(wgnt.LogRecord)

// Bridge routes driver log lines to per-adapter subscriptions.
type Bridge struct {
	log         *slog.Logger
	queueSize   int
	sendTimeout time.Duration
	metrics     *Metrics

	mu       sync.RWMutex
	subs     map[string]*Subscription
	fallback *Subscription
	closed   bool

	attachMu sync.Mutex
	attached driver.Table
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger used by the default handlers.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

// WithQueueSize bounds each subscription's queue.
func WithQueueSize(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithSendTimeout lets the driver thread wait up to d for queue space before
// a line is dropped. The default is zero: never wait.
func WithSendTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.sendTimeout = d }
}

// WithMetrics records delivered and dropped lines.
func WithMetrics(m *Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// New creates a Bridge. fallback receives lines that match no subscription;
// nil logs them through the bridge's logger.
func New(fallback Handler, opts ...Option) *Bridge {
	b := &Bridge{
		queueSize: defaultQueueSize,
		subs:      make(map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = slog.With("component", "driver-log")
	}
	if fallback == nil {
		fallback = SlogHandler(b.log)
	}
	b.fallback = b.newSubscription("", fallback)
	return b
}

// Attach installs the bridge as the driver's logger.
func (b *Bridge) Attach(t driver.Table) error {
	b.attachMu.Lock()
	defer b.attachMu.Unlock()

	if err := t.SetLogger(b.Deliver); err != nil {
		return fmt.Errorf("install driver logger: %w", err)
	}
	b.attached = t
	return nil
}

// Detach removes the bridge from the driver it was attached to.
func (b *Bridge) Detach() error {
	b.attachMu.Lock()
	defer b.attachMu.Unlock()

	if b.attached == nil {
		return nil
	}
	err := b.attached.SetLogger(nil)
	b.attached = nil
	if err != nil {
		return fmt.Errorf("remove driver logger: %w", err)
	}
	return nil
}

// Subscribe starts delivering lines prefixed with "<adapter>: " to h. The
// prefix does not name a pool, so there is at most one subscription per
// adapter name.
func (b *Bridge) Subscribe(adapter string, h Handler) (*Subscription, error) {
	if adapter == "" {
		return nil, fmt.Errorf("subscribe: adapter name is required")
	}
	if h == nil {
		h = SlogHandler(b.log)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if _, ok := b.subs[adapter]; ok {
		return nil, fmt.Errorf("subscribe %q: %w", adapter, ErrAlreadySubscribed)
	}
	s := b.newSubscription(adapter, h)
	b.subs[adapter] = s
	return s, nil
}

// Deliver accepts one driver log line. It is the driver.LoggerFunc installed
// by Attach and never blocks longer than the send timeout.
func (b *Bridge) Deliver(level wgnt.LogLevel, timestamp uint64, message string) {
	rec := wgnt.LogRecord{Level: level, Timestamp: timestamp, Message: message}

	b.mu.RLock()
	defer b.mu.RUnlock()

	target := b.fallback
	if name, text, ok := strings.Cut(message, ": "); ok {
		if s, found := b.subs[name]; found {
			target = s
			rec.Adapter = name
			rec.Message = text
		}
	}
	if target == nil {
		b.metrics.dropped(unattributed)
		return
	}
	target.enqueue(rec)
}

// Close stops every subscription and the fallback consumer, draining what
// they already accepted.
func (b *Bridge) Close() error {
	if err := b.Detach(); err != nil {
		b.log.Warn("detach driver logger", "err", err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs)+1)
	for name, s := range b.subs {
		subs = append(subs, s)
		delete(b.subs, name)
	}
	if b.fallback != nil {
		subs = append(subs, b.fallback)
		b.fallback = nil
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	return nil
}

// remove unregisters s. Once it returns no Deliver call can still be
// enqueueing onto s: enqueue runs under the read lock.
func (b *Bridge) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.subs[s.adapter]; ok && cur == s {
		delete(b.subs, s.adapter)
	}
}

// SlogHandler logs records through l at the matching slog level.
func SlogHandler(l *slog.Logger) Handler {
	return func(rec wgnt.LogRecord) {
		level := slog.LevelInfo
		switch rec.Level {
		case wgnt.LogWarn:
			level = slog.LevelWarn
		case wgnt.LogErr:
			level = slog.LevelError
		}
		attrs := []any{"driver_ts", rec.Timestamp}
		if rec.Adapter != "" {
			attrs = append(attrs, "adapter", rec.Adapter)
		}
		l.Log(context.Background(), level, rec.Message, attrs...)
	}
}
