// Package drivertest provides an in-memory driver.Table with call recording
// and fault injection for tests.
package drivertest

import (
	"fmt"
	"sync"
	"syscall"

	"wgnt"
	"wgnt/driver"
	"wgnt/wireformat"

	"github.com/google/uuid"
)

// Adapter is the fake driver's view of one adapter.
type Adapter struct {
	Pool    string
	Name    string
	GUID    uuid.UUID
	LUID    uint64
	State   wgnt.DriverState
	Logging wgnt.AdapterLogging
	Config  wgnt.Interface
	Deleted bool
}

// Fake is a driver.Table that keeps adapters in memory.
type Fake struct {
	mu       sync.Mutex
	next     driver.Handle
	adapters map[string]*Adapter
	handles  map[driver.Handle]*Adapter
	freed    map[driver.Handle]bool
	calls    []string
	failures map[string]syscall.Errno
	logger   driver.LoggerFunc
	getCalls int

	// OnGetConfiguration runs before every GetConfiguration with the call's
	// 1-based sequence number. Tests use it to change the configuration
	// between the size query and the fetch.
	OnGetConfiguration func(a *Adapter, call int)
	// Version is returned by DriverVersion.
	Version uint32
}

var _ driver.Table = (*Fake)(nil)

// New creates an empty Fake.
func New() *Fake {
	return &Fake{
		adapters: make(map[string]*Adapter),
		handles:  make(map[driver.Handle]*Adapter),
		freed:    make(map[driver.Handle]bool),
		failures: make(map[string]syscall.Errno),
		Version:  0x0001_0000,
	}
}

// Fail makes every later call to proc fail with code. A zero code clears it.
func (f *Fake) Fail(proc string, code syscall.Errno) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code == 0 {
		delete(f.failures, proc)
		return
	}
	f.failures[proc] = code
}

// Calls returns the procs invoked so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Lookup returns the adapter registered under pool and name.
func (f *Fake) Lookup(pool, name string) (*Adapter, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.adapters[key(pool, name)]
	return a, ok
}

// Freed reports whether h was released with FreeAdapter.
func (f *Fake) Freed(h driver.Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.freed[h]
}

// OpenHandles counts handles that were handed out and not freed.
func (f *Fake) OpenHandles() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

// Log emits a driver log line through the installed logger, if any.
func (f *Fake) Log(level wgnt.LogLevel, timestamp uint64, message string) {
	f.mu.Lock()
	fn := f.logger
	f.mu.Unlock()
	if fn != nil {
		fn(level, timestamp, message)
	}
}

func (f *Fake) CreateAdapter(pool, name string, requested *uuid.UUID) (driver.Handle, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("WireGuardCreateAdapter"); err != nil {
		return 0, false, err
	}
	if _, ok := f.adapters[key(pool, name)]; ok {
		return 0, false, driver.NewCallError("WireGuardCreateAdapter", driver.ErrorAlreadyExists)
	}
	a := &Adapter{Pool: pool, Name: name, GUID: uuid.New(), LUID: uint64(len(f.adapters)+1) << 24}
	if requested != nil {
		a.GUID = *requested
	}
	f.adapters[key(pool, name)] = a
	return f.handleFor(a), false, nil
}

func (f *Fake) OpenAdapter(pool, name string) (driver.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("WireGuardOpenAdapter"); err != nil {
		return 0, err
	}
	a, ok := f.adapters[key(pool, name)]
	if !ok {
		return 0, driver.NewCallError("WireGuardOpenAdapter", driver.ErrorFileNotFound)
	}
	return f.handleFor(a), nil
}

func (f *Fake) DeleteAdapter(h driver.Handle) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, err := f.adapter("WireGuardDeleteAdapter", h)
	if err != nil {
		return false, err
	}
	a.Deleted = true
	delete(f.adapters, key(a.Pool, a.Name))
	return false, nil
}

func (f *Fake) FreeAdapter(h driver.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "WireGuardFreeAdapter")
	if _, ok := f.handles[h]; ok {
		delete(f.handles, h)
		f.freed[h] = true
	}
}

func (f *Fake) AdapterLUID(h driver.Handle) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, err := f.adapter("WireGuardGetAdapterLUID", h)
	if err != nil {
		return 0, err
	}
	return a.LUID, nil
}

func (f *Fake) SetAdapterLogging(h driver.Handle, level wgnt.AdapterLogging) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, err := f.adapter("WireGuardSetAdapterLogging", h)
	if err != nil {
		return err
	}
	if !level.Valid() {
		return driver.NewCallError("WireGuardSetAdapterLogging", driver.ErrorInvalidParameter)
	}
	a.Logging = level
	return nil
}

func (f *Fake) SetAdapterState(h driver.Handle, state wgnt.DriverState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, err := f.adapter("WireGuardSetAdapterState", h)
	if err != nil {
		return err
	}
	a.State = state
	return nil
}

func (f *Fake) AdapterState(h driver.Handle) (wgnt.DriverState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, err := f.adapter("WireGuardGetAdapterState", h)
	if err != nil {
		return 0, err
	}
	return a.State, nil
}

// SetConfiguration replaces the stored configuration wholesale; the fake does
// not model merge semantics.
func (f *Fake) SetConfiguration(h driver.Handle, block []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, err := f.adapter("WireGuardSetConfiguration", h)
	if err != nil {
		return err
	}
	iface, err := wireformat.Decode(block)
	if err != nil {
		return driver.NewCallError("WireGuardSetConfiguration", driver.ErrorInvalidParameter)
	}
	a.Config = iface
	return nil
}

func (f *Fake) GetConfiguration(h driver.Handle, buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, err := f.adapter("WireGuardGetConfiguration", h)
	if err != nil {
		return 0, err
	}
	f.getCalls++
	if f.OnGetConfiguration != nil {
		f.OnGetConfiguration(a, f.getCalls)
	}
	block, err := wireformat.Encode(a.Config)
	if err != nil {
		return 0, fmt.Errorf("drivertest: encode stored configuration: %w", err)
	}
	if len(buf) < len(block) {
		return len(block), driver.NewCallError("WireGuardGetConfiguration", driver.ErrorMoreData)
	}
	return copy(buf, block), nil
}

func (f *Fake) DriverVersion() (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("WireGuardGetRunningDriverVersion"); err != nil {
		return 0, err
	}
	return f.Version, nil
}

func (f *Fake) SetLogger(fn driver.LoggerFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("WireGuardSetLogger"); err != nil {
		return err
	}
	f.logger = fn
	return nil
}

// enter records the call and returns an injected failure. Caller holds f.mu.
func (f *Fake) enter(proc string) error {
	f.calls = append(f.calls, proc)
	if code, ok := f.failures[proc]; ok {
		return driver.NewCallError(proc, code)
	}
	return nil
}

// adapter resolves a live handle. Caller holds f.mu.
func (f *Fake) adapter(proc string, h driver.Handle) (*Adapter, error) {
	if err := f.enter(proc); err != nil {
		return nil, err
	}
	a, ok := f.handles[h]
	if !ok || a.Deleted {
		return nil, driver.NewCallError(proc, driver.ErrorInvalidParameter)
	}
	return a, nil
}

func (f *Fake) handleFor(a *Adapter) driver.Handle {
	f.next++
	f.handles[f.next] = a
	return f.next
}

func key(pool, name string) string {
	return pool + "\x00" + name
}
