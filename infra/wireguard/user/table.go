// Package user emulates the WireGuard NT driver in-process on top of
// wireguard-go. Every adapter is a device.Device over an in-memory TUN, so the
// binding, codec and log bridge can be exercised on any OS and without
// privileges. Configuration blocks are decoded and applied through the UAPI,
// which has the same replace/update/remove semantics as the driver. A block
// that fails partway is rolled back, so it applies in full or not at all.
package user

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"wgnt"
	"wgnt/driver"
	"wgnt/wireformat"

	"github.com/google/uuid"
	"golang.zx2c4.com/wireguard/conn"
	"golang.zx2c4.com/wireguard/device"
	"golang.zx2c4.com/wireguard/tun/tuntest"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// Version is what DriverVersion reports: 1.0.
const Version uint32 = 1 << 16

type adapter struct {
	pool    string
	name    string
	guid    uuid.UUID
	luid    uint64
	dev     *device.Device
	state   wgnt.DriverState
	logging atomic.Uint32
	order   peerOrder
	deleted bool
}

// Table is a driver.Table backed by wireguard-go devices.
type Table struct {
	newBind func() conn.Bind

	mu       sync.Mutex
	next     driver.Handle
	luids    uint64
	adapters map[string]*adapter
	handles  map[driver.Handle]*adapter

	logger atomic.Pointer[driver.LoggerFunc]
}

var _ driver.Table = (*Table)(nil)

// Option configures a Table.
type Option func(*Table)

// WithBind sets the factory for each device's UDP bind. Tests pass in-memory
// binds from conn/bindtest.
func WithBind(newBind func() conn.Bind) Option {
	return func(t *Table) { t.newBind = newBind }
}

// New creates a Table with no adapters.
func New(opts ...Option) *Table {
	t := &Table{
		newBind:  conn.NewDefaultBind,
		adapters: make(map[string]*adapter),
		handles:  make(map[driver.Handle]*adapter),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Table) CreateAdapter(pool, name string, requested *uuid.UUID) (driver.Handle, bool, error) {
	const proc = "WireGuardCreateAdapter"
	if pool == "" || name == "" {
		return 0, false, driver.NewCallError(proc, driver.ErrorInvalidParameter)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.adapters[key(pool, name)]; ok {
		return 0, false, driver.NewCallError(proc, driver.ErrorAlreadyExists)
	}

	t.luids++
	a := &adapter{
		pool: pool,
		name: name,
		guid: uuid.New(),
		// NET_LUID: interface type IF_TYPE_PROP_VIRTUAL (53) in the top bits.
		luid: 53<<48 | t.luids<<24,
	}
	if requested != nil {
		a.guid = *requested
	}
	// The reported state is tracked here; the in-memory TUN raises its own
	// up event, so the device itself may already be running.
	a.dev = device.NewDevice(tuntest.NewChannelTUN().TUN(), t.newBind(), t.deviceLogger(a))

	t.adapters[key(pool, name)] = a
	t.emit(a, wgnt.LogInfo, "Created adapter %s", a.guid)
	return t.handleFor(a), false, nil
}

func (t *Table) OpenAdapter(pool, name string) (driver.Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.adapters[key(pool, name)]
	if !ok {
		return 0, driver.NewCallError("WireGuardOpenAdapter", driver.ErrorFileNotFound)
	}
	return t.handleFor(a), nil
}

func (t *Table) DeleteAdapter(h driver.Handle) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, err := t.lookup("WireGuardDeleteAdapter", h)
	if err != nil {
		return false, err
	}
	t.emit(a, wgnt.LogInfo, "Deleting adapter")
	a.dev.Close()
	a.deleted = true
	delete(t.adapters, key(a.pool, a.name))
	return false, nil
}

func (t *Table) FreeAdapter(h driver.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handles, h)
}

func (t *Table) AdapterLUID(h driver.Handle) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, err := t.lookup("WireGuardGetAdapterLUID", h)
	if err != nil {
		return 0, err
	}
	return a.luid, nil
}

func (t *Table) SetAdapterLogging(h driver.Handle, level wgnt.AdapterLogging) error {
	const proc = "WireGuardSetAdapterLogging"
	t.mu.Lock()
	defer t.mu.Unlock()

	a, err := t.lookup(proc, h)
	if err != nil {
		return err
	}
	if !level.Valid() {
		return driver.NewCallError(proc, driver.ErrorInvalidParameter)
	}
	a.logging.Store(uint32(level))
	return nil
}

func (t *Table) SetAdapterState(h driver.Handle, state wgnt.DriverState) error {
	const proc = "WireGuardSetAdapterState"
	t.mu.Lock()
	defer t.mu.Unlock()

	a, err := t.lookup(proc, h)
	if err != nil {
		return err
	}
	switch state {
	case wgnt.DriverStateUp:
		err = a.dev.Up()
	case wgnt.DriverStateDown:
		err = a.dev.Down()
	default:
		return driver.NewCallError(proc, driver.ErrorInvalidParameter)
	}
	if err != nil {
		t.emit(a, wgnt.LogErr, "Failed to set adapter %s: %v", state, err)
		return driver.NewCallError(proc, driver.ErrorInvalidParameter)
	}
	a.state = state
	t.emit(a, wgnt.LogInfo, "Adapter %s", state)
	return nil
}

func (t *Table) AdapterState(h driver.Handle) (wgnt.DriverState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, err := t.lookup("WireGuardGetAdapterState", h)
	if err != nil {
		return 0, err
	}
	return a.state, nil
}

func (t *Table) SetConfiguration(h driver.Handle, block []byte) error {
	const proc = "WireGuardSetConfiguration"
	t.mu.Lock()
	defer t.mu.Unlock()

	a, err := t.lookup(proc, h)
	if err != nil {
		return err
	}
	iface, err := wireformat.DecodeRequest(block)
	if err != nil {
		t.emit(a, wgnt.LogErr, "Invalid configuration: %v", err)
		return driver.NewCallError(proc, driver.ErrorInvalidParameter)
	}
	// IpcSet applies line by line, so a rejected block is rolled back to the
	// snapshot. Restored peers are recreated and lose their session state.
	prev, err := snapshot(a.dev)
	if err != nil {
		t.emit(a, wgnt.LogErr, "Failed to read configuration: %v", err)
		return driver.NewCallError(proc, driver.ErrorInvalidParameter)
	}
	if err := a.dev.IpcSet(buildIPC(iface)); err != nil {
		t.emit(a, wgnt.LogErr, "Failed to apply configuration: %v", err)
		if rerr := a.dev.IpcSet(restoreIPC(prev)); rerr != nil {
			t.emit(a, wgnt.LogErr, "Failed to restore configuration: %v", rerr)
		}
		return driver.NewCallError(proc, driver.ErrorInvalidParameter)
	}
	a.order.apply(iface, func(k wgtypes.Key) bool {
		return a.dev.LookupPeer(device.NoisePublicKey(k)) != nil
	})
	t.emit(a, wgnt.LogInfo, "Configuration applied: %d peers", len(iface.Peers))
	return nil
}

func (t *Table) GetConfiguration(h driver.Handle, buf []byte) (int, error) {
	const proc = "WireGuardGetConfiguration"
	t.mu.Lock()
	defer t.mu.Unlock()

	a, err := t.lookup(proc, h)
	if err != nil {
		return 0, err
	}
	iface, err := snapshot(a.dev)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", proc, err)
	}
	a.order.sort(iface.Peers)
	block, err := wireformat.Encode(iface)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", proc, err)
	}
	if len(buf) < len(block) {
		return len(block), driver.NewCallError(proc, driver.ErrorMoreData)
	}
	return copy(buf, block), nil
}

func (t *Table) DriverVersion() (uint32, error) {
	return Version, nil
}

func (t *Table) SetLogger(fn driver.LoggerFunc) error {
	if fn == nil {
		t.logger.Store(nil)
		return nil
	}
	t.logger.Store(&fn)
	return nil
}

// Close deletes every adapter still present.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, a := range t.adapters {
		a.dev.Close()
		a.deleted = true
		delete(t.adapters, k)
	}
	clear(t.handles)
	return nil
}

// lookup resolves a live handle. Caller holds t.mu.
func (t *Table) lookup(proc string, h driver.Handle) (*adapter, error) {
	a, ok := t.handles[h]
	if !ok || a.deleted {
		return nil, driver.NewCallError(proc, driver.ErrorInvalidParameter)
	}
	return a, nil
}

func (t *Table) handleFor(a *adapter) driver.Handle {
	t.next++
	t.handles[t.next] = a
	return t.next
}

func (t *Table) deviceLogger(a *adapter) *device.Logger {
	return &device.Logger{
		Verbosef: func(format string, args ...any) { t.emit(a, wgnt.LogInfo, format, args...) },
		Errorf:   func(format string, args ...any) { t.emit(a, wgnt.LogErr, format, args...) },
	}
}

// emit forwards a line to the installed logger the way the driver does: only
// when the adapter's logging is on, prefixed with its name in OnWithPrefix.
func (t *Table) emit(a *adapter, level wgnt.LogLevel, format string, args ...any) {
	mode := wgnt.AdapterLogging(a.logging.Load())
	if mode == wgnt.AdapterLogOff {
		return
	}
	fn := t.logger.Load()
	if fn == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if mode == wgnt.AdapterLogOnWithPrefix {
		msg = a.name + ": " + msg
	}
	(*fn)(level, wgnt.TimeToFileTime(time.Now()), msg)
}

func snapshot(dev *device.Device) (wgnt.Interface, error) {
	uapi, err := dev.IpcGet()
	if err != nil {
		return wgnt.Interface{}, fmt.Errorf("get uapi: %w", err)
	}
	return parseIPC(uapi)
}

func key(pool, name string) string {
	return pool + "\x00" + name
}
