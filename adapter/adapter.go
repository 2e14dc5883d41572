// Package adapter owns the lifecycle of driver-resident WireGuard adapters.
//
// An Adapter wraps one native handle obtained from a driver.Table and is its
// only owner. Every operation checks the lifecycle state first, so a handle
// that was deleted or closed is never passed to the driver again. Adapters do
// no locking of their own: callers serialize mutating calls on one Adapter.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"unicode/utf16"

	"wgnt"
	"wgnt/driver"
	"wgnt/internal/check"
	"wgnt/logbridge"
	"wgnt/wireformat"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "wgnt/adapter"

// Adapter is one driver-resident virtual network adapter.
type Adapter struct {
	table  driver.Table
	handle driver.Handle
	pool   string
	name   string
	state  State
	reboot bool

	bridge     *logbridge.Bridge
	logHandler logbridge.Handler
	sub        *logbridge.Subscription

	router Router
	tracer trace.Tracer
	log    *slog.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogBridge subscribes the adapter's driver log lines on b for the
// adapter's lifetime. h receives them; nil logs through the bridge's logger.
// Lines are attributed by name, so logging has to be OnWithPrefix for them to
// reach h.
//
// The driver's prefix carries the adapter name but not its pool, so a bridge
// holds one subscription per name. Opening a second adapter with the same name
// from another pool on the same bridge fails with
// logbridge.ErrAlreadySubscribed; give it its own bridge or omit this option.
func WithLogBridge(b *logbridge.Bridge, h logbridge.Handler) Option {
	return func(a *Adapter) {
		a.bridge = b
		a.logHandler = h
	}
}

// WithRouter sets the route configurator used by SetDefaultRoute.
func WithRouter(r Router) Option {
	return func(a *Adapter) { a.router = r }
}

// WithTracer records a span for every driver call.
func WithTracer(t trace.Tracer) Option {
	return func(a *Adapter) { a.tracer = t }
}

// WithLogger sets the logger for lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.log = l }
}

func newAdapter(table driver.Table, pool, name string, opts []Option) (*Adapter, error) {
	a := &Adapter{table: table, pool: pool, name: name}
	for _, opt := range opts {
		opt(a)
	}
	if a.tracer == nil {
		a.tracer = otel.Tracer(tracerName)
	}
	if a.log == nil {
		a.log = slog.With("component", "adapter")
	}
	a.log = a.log.With("pool", pool, "adapter", name)

	if err := validateNames(pool, name); err != nil {
		return nil, err
	}
	if a.bridge != nil {
		sub, err := a.bridge.Subscribe(name, a.logHandler)
		if err != nil {
			return nil, fmt.Errorf("subscribe driver log: %w", err)
		}
		a.sub = sub
	}
	return a, nil
}

// Open looks up an existing adapter. A missing adapter is an error matching
// driver.ErrNotFound, so callers can fall back to Create.
func Open(ctx context.Context, table driver.Table, pool, name string, opts ...Option) (*Adapter, error) {
	a, err := newAdapter(table, pool, name, opts)
	if err != nil {
		return nil, &HandleError{Op: "open", Pool: pool, Name: name, Err: err}
	}

	err = a.traced(ctx, "open", func(context.Context) error {
		h, err := table.OpenAdapter(pool, name)
		if err != nil {
			return err
		}
		a.handle = h
		return nil
	})
	if err != nil {
		a.unsubscribe()
		return nil, &HandleError{Op: "open", Pool: pool, Name: name, Err: err}
	}
	check.Nonzero(a.handle, "opened adapter handle")
	a.state = StateOpened
	a.log.Debug("adapter opened")
	return a, nil
}

// Create materializes a new adapter. requested pins its GUID across
// re-creation; nil lets the driver pick one. Failures match
// driver.ErrRejected or driver.ErrExhausted.
func Create(ctx context.Context, table driver.Table, pool, name string, requested *uuid.UUID, opts ...Option) (*Adapter, error) {
	a, err := newAdapter(table, pool, name, opts)
	if err != nil {
		return nil, &HandleError{Op: "create", Pool: pool, Name: name, Err: err}
	}

	err = a.traced(ctx, "create", func(context.Context) error {
		h, reboot, err := table.CreateAdapter(pool, name, requested)
		if err != nil {
			return err
		}
		a.handle, a.reboot = h, reboot
		return nil
	})
	if err != nil {
		a.unsubscribe()
		return nil, &HandleError{Op: "create", Pool: pool, Name: name, Err: err}
	}
	check.Nonzero(a.handle, "created adapter handle")
	a.state = StateCreated
	a.log.Debug("adapter created", "reboot_required", a.reboot)
	return a, nil
}

// OpenOrCreate opens the adapter and creates it when it does not exist.
func OpenOrCreate(ctx context.Context, table driver.Table, pool, name string, requested *uuid.UUID, opts ...Option) (*Adapter, error) {
	a, err := Open(ctx, table, pool, name, opts...)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, driver.ErrNotFound) {
		return nil, err
	}
	return Create(ctx, table, pool, name, requested, opts...)
}

func (a *Adapter) Pool() string { return a.pool }
func (a *Adapter) Name() string { return a.name }
func (a *Adapter) State() State { return a.state }

// RebootRequired reports the driver's hint from Create or Delete.
func (a *Adapter) RebootRequired() bool { return a.reboot }

// LUID returns the adapter's network interface LUID.
func (a *Adapter) LUID() (uint64, error) {
	if err := a.usable("get luid"); err != nil {
		return 0, err
	}
	luid, err := a.table.AdapterLUID(a.handle)
	if err != nil {
		return 0, fmt.Errorf("get luid: %w", err)
	}
	return luid, nil
}

// DriverState asks the driver whether the adapter is up.
func (a *Adapter) DriverState() (wgnt.DriverState, error) {
	if err := a.usable("get driver state"); err != nil {
		return 0, err
	}
	st, err := a.table.AdapterState(a.handle)
	if err != nil {
		return 0, fmt.Errorf("get driver state: %w", err)
	}
	return st, nil
}

// SetLogging turns driver-side log emission for the adapter on or off. The
// driver either accepts the level or not: a refusal is driver.ErrRejected.
func (a *Adapter) SetLogging(ctx context.Context, level wgnt.AdapterLogging) error {
	op := "set logging " + level.String()
	if err := a.usable(op); err != nil {
		return err
	}
	err := a.traced(ctx, "set_logging", func(context.Context) error {
		return a.table.SetAdapterLogging(a.handle, level)
	})
	if err != nil {
		return a.rejected(op, err)
	}
	return nil
}

// SetDefaultRoute assigns prefix's address to the adapter and routes the
// default destination of its family through it. Failures keep the OS code:
// they are *OSError unwrapping to the syscall.Errno the OS returned.
func (a *Adapter) SetDefaultRoute(ctx context.Context, prefix netip.Prefix) error {
	const op = "set default route"
	if err := a.usable(op); err != nil {
		return err
	}
	if a.router == nil {
		return fmt.Errorf("%s: %w", op, ErrNoRouter)
	}
	if !prefix.IsValid() {
		return fmt.Errorf("%s: invalid prefix %s", op, prefix)
	}

	return a.traced(ctx, "set_default_route", func(context.Context) error {
		luid, err := a.table.AdapterLUID(a.handle)
		if err != nil {
			return fmt.Errorf("%s: get luid: %w", op, err)
		}
		if err := a.router.SetDefaultRoute(luid, prefix); err != nil {
			return NewOSError(op, err)
		}
		a.log.Debug("default route set", "prefix", prefix)
		return nil
	})
}

// SetConfig applies iface in one driver call. The driver applies a block
// completely or not at all; a rejected block is a *ConfigError and nothing is
// rolled back.
func (a *Adapter) SetConfig(ctx context.Context, iface wgnt.Interface) error {
	if err := a.usable("set configuration"); err != nil {
		return err
	}
	block, err := wireformat.Encode(iface)
	if err != nil {
		return &ConfigError{Op: "encode", Err: err}
	}

	err = a.traced(ctx, "set_config", func(ctx context.Context) error {
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.Int("wgnt.config.bytes", len(block)),
			attribute.Int("wgnt.config.peers", len(iface.Peers)),
		)
		return a.table.SetConfiguration(a.handle, block)
	})
	if err != nil {
		return &ConfigError{Op: "set", Size: len(block), Err: err}
	}
	a.transition(a.state.afterConfig())
	return nil
}

// Config reads the driver's current configuration. The size is queried with
// an empty buffer first; if the configuration grows before the fetch, the
// query and fetch run once more and a second miss is ErrBufferTooSmall.
func (a *Adapter) Config(ctx context.Context) (wgnt.Interface, error) {
	if err := a.usable("get configuration"); err != nil {
		return wgnt.Interface{}, err
	}

	var iface wgnt.Interface
	err := a.traced(ctx, "get_config", func(ctx context.Context) error {
		span := trace.SpanFromContext(ctx)
		for attempt := 1; attempt <= 2; attempt++ {
			size, err := a.table.GetConfiguration(a.handle, nil)
			if err != nil && !errors.Is(err, driver.ErrMoreData) {
				return &ConfigError{Op: "query", Err: err}
			}
			buf := make([]byte, size)
			n, err := a.table.GetConfiguration(a.handle, buf)
			if errors.Is(err, driver.ErrMoreData) {
				span.AddEvent("configuration resized", trace.WithAttributes(
					attribute.Int("wgnt.config.bytes", size),
					attribute.Int("wgnt.config.needed", n),
					attribute.Int("attempt", attempt),
				))
				continue
			}
			if err != nil {
				return &ConfigError{Op: "fetch", Size: size, Err: err}
			}
			check.Assertf(n <= len(buf), "driver reported %d bytes for a %d byte buffer", n, len(buf))
			iface, err = wireformat.Decode(buf[:n])
			if err != nil {
				return &ConfigError{Op: "decode", Size: n, Err: err}
			}
			span.SetAttributes(attribute.Int("wgnt.config.bytes", n))
			return nil
		}
		return &ConfigError{Op: "fetch", Err: ErrBufferTooSmall}
	})
	if err != nil {
		return wgnt.Interface{}, err
	}
	return iface, nil
}

// Up brings the adapter up. It is valid once configured and a no-op on an
// adapter that is already up.
func (a *Adapter) Up(ctx context.Context) error {
	return a.toggle(ctx, wgnt.DriverStateUp, StateUp)
}

// Down brings the adapter down. It is valid once configured and a no-op on an
// adapter that is already down.
func (a *Adapter) Down(ctx context.Context) error {
	return a.toggle(ctx, wgnt.DriverStateDown, StateDown)
}

func (a *Adapter) toggle(ctx context.Context, want wgnt.DriverState, next State) error {
	op := "set state " + want.String()
	if err := a.usable(op); err != nil {
		return err
	}
	if !a.state.CanToggle() {
		return fmt.Errorf("%s: %w", op, ErrNotConfigured)
	}
	if a.state == next {
		return nil
	}
	err := a.traced(ctx, "set_state", func(ctx context.Context) error {
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("wgnt.driver_state", want.String()))
		return a.table.SetAdapterState(a.handle, want)
	})
	if err != nil {
		return a.rejected(op, err)
	}
	a.transition(next)
	return nil
}

// Delete removes the adapter from the system and releases the handle. The
// log subscription is revoked before the driver call, so no line for this
// adapter reaches host code afterwards. The Adapter is unusable after Delete
// whatever the outcome.
func (a *Adapter) Delete(ctx context.Context) error {
	if err := a.usable("delete"); err != nil {
		return err
	}
	a.unsubscribe()

	err := a.traced(ctx, "delete", func(context.Context) error {
		reboot, err := a.table.DeleteAdapter(a.handle)
		a.reboot = a.reboot || reboot
		return err
	})
	a.table.FreeAdapter(a.handle)
	a.handle = 0
	a.transition(StateDeleted)
	if err != nil {
		return &HandleError{Op: "delete", Pool: a.pool, Name: a.name, Err: err}
	}
	return nil
}

// Close revokes the log subscription and releases the handle, leaving the
// adapter in the driver. Closing a deleted or closed Adapter does nothing.
func (a *Adapter) Close() error {
	if a.state.Terminal() {
		return nil
	}
	a.unsubscribe()
	a.table.FreeAdapter(a.handle)
	a.handle = 0
	a.transition(StateClosed)
	return nil
}

// usable gates every operation on a live handle.
func (a *Adapter) usable(op string) error {
	switch a.state {
	case StateDeleted:
		return fmt.Errorf("%s %s/%s: %w", op, a.pool, a.name, ErrDeleted)
	case StateClosed:
		return fmt.Errorf("%s %s/%s: %w", op, a.pool, a.name, ErrClosed)
	}
	check.Assertf(a.state.Live(), "adapter %s/%s used in state %s", a.pool, a.name, a.state)
	return nil
}

// rejected reports an accept/reject driver call. The driver's code is logged
// but not returned.
func (a *Adapter) rejected(op string, err error) error {
	a.log.Debug("driver rejected call", "op", op, "err", err)
	return fmt.Errorf("%s: %w", op, driver.ErrRejected)
}

func (a *Adapter) transition(next State) {
	if a.state != next {
		a.log.Debug("adapter state changed", "from", a.state, "to", next)
	}
	a.state = next
}

func (a *Adapter) unsubscribe() {
	if a.sub == nil {
		return
	}
	if err := a.sub.Close(); err != nil {
		a.log.Warn("close driver log subscription", "err", err)
	}
	a.sub = nil
}

func (a *Adapter) traced(ctx context.Context, op string, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := a.tracer.Start(ctx, "adapter."+op, trace.WithAttributes(
		attribute.String("wgnt.pool", a.pool),
		attribute.String("wgnt.adapter", a.name),
		attribute.String("wgnt.state", a.state.String()),
	))
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func validateNames(pool, name string) error {
	switch {
	case pool == "" || name == "":
		return fmt.Errorf("%w: pool and name are required", ErrInvalidName)
	case utf16Len(pool) > driver.MaxPoolLength:
		return fmt.Errorf("%w: pool longer than %d characters", ErrInvalidName, driver.MaxPoolLength)
	case utf16Len(name) > driver.MaxNameLength:
		return fmt.Errorf("%w: name longer than %d characters", ErrInvalidName, driver.MaxNameLength)
	}
	return nil
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}
