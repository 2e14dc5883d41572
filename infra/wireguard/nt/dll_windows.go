//go:build windows && (amd64 || arm64)

package nt

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"

	"wgnt"
	"wgnt/driver"

	"github.com/google/uuid"
	"golang.org/x/sys/windows"
)

// DLL is a loaded wireguard.dll. It must outlive every adapter handle
// obtained from it.
type DLL struct {
	path string
	dll  *windows.DLL

	createAdapter *windows.Proc
	openAdapter   *windows.Proc
	deleteAdapter *windows.Proc
	freeAdapter   *windows.Proc
	getLUID       *windows.Proc
	driverVersion *windows.Proc
	setLogger     *windows.Proc
	setLogging    *windows.Proc
	setState      *windows.Proc
	getState      *windows.Proc
	setConfig     *windows.Proc
	getConfig     *windows.Proc

	closeOnce sync.Once
	closeErr  error
}

var _ driver.Table = (*DLL)(nil)

// Load maps the library at path and resolves every export in driver.Exports.
// A relative path is made absolute first so the loader never searches for it.
func Load(path string) (*DLL, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &driver.LoadError{Path: path, Err: fmt.Errorf("%w: %w", driver.ErrOpenFailed, err)}
	}
	dll, err := windows.LoadDLL(abs)
	if err != nil {
		return nil, &driver.LoadError{Path: abs, Err: fmt.Errorf("%w: %w", driver.ErrOpenFailed, err)}
	}

	d := &DLL{path: abs, dll: dll}
	slots := map[string]**windows.Proc{
		"WireGuardCreateAdapter":           &d.createAdapter,
		"WireGuardOpenAdapter":             &d.openAdapter,
		"WireGuardDeleteAdapter":           &d.deleteAdapter,
		"WireGuardFreeAdapter":             &d.freeAdapter,
		"WireGuardGetAdapterLUID":          &d.getLUID,
		"WireGuardGetRunningDriverVersion": &d.driverVersion,
		"WireGuardSetLogger":               &d.setLogger,
		"WireGuardSetAdapterLogging":       &d.setLogging,
		"WireGuardSetAdapterState":         &d.setState,
		"WireGuardGetAdapterState":         &d.getState,
		"WireGuardSetConfiguration":        &d.setConfig,
		"WireGuardGetConfiguration":        &d.getConfig,
	}
	for _, name := range driver.Exports {
		proc, err := dll.FindProc(name)
		if err != nil {
			_ = dll.Release()
			return nil, &driver.LoadError{Path: abs, Symbol: name, Err: fmt.Errorf("%w: %w", driver.ErrSymbolNotFound, err)}
		}
		*slots[name] = proc
	}
	return d, nil
}

// Path is the absolute path the library was loaded from.
func (d *DLL) Path() string { return d.path }

// Close unloads the library. Every adapter handle must be freed first.
func (d *DLL) Close() error {
	d.closeOnce.Do(func() {
		if dropLogger() {
			_, _, _ = d.setLogger.Call(0)
		}
		d.closeErr = d.dll.Release()
	})
	return d.closeErr
}

func (d *DLL) CreateAdapter(pool, name string, requested *uuid.UUID) (driver.Handle, bool, error) {
	const proc = "WireGuardCreateAdapter"
	pool16, name16, err := identity(proc, pool, name)
	if err != nil {
		return 0, false, err
	}
	var guid *windows.GUID
	if requested != nil {
		d1, d2, d3, d4 := guidFields(*requested)
		guid = &windows.GUID{Data1: d1, Data2: d2, Data3: d3, Data4: d4}
	}
	var reboot int32
	r, _, errno := d.createAdapter.Call(
		uintptr(unsafe.Pointer(pool16)),
		uintptr(unsafe.Pointer(name16)),
		uintptr(unsafe.Pointer(guid)),
		uintptr(unsafe.Pointer(&reboot)),
	)
	if r == 0 {
		return 0, false, callError(proc, errno)
	}
	return driver.Handle(r), reboot != 0, nil
}

func (d *DLL) OpenAdapter(pool, name string) (driver.Handle, error) {
	const proc = "WireGuardOpenAdapter"
	pool16, name16, err := identity(proc, pool, name)
	if err != nil {
		return 0, err
	}
	r, _, errno := d.openAdapter.Call(uintptr(unsafe.Pointer(pool16)), uintptr(unsafe.Pointer(name16)))
	if r == 0 {
		return 0, callError(proc, errno)
	}
	return driver.Handle(r), nil
}

func (d *DLL) DeleteAdapter(h driver.Handle) (bool, error) {
	var reboot int32
	r, _, errno := d.deleteAdapter.Call(uintptr(h), uintptr(unsafe.Pointer(&reboot)))
	if r == 0 {
		return false, callError("WireGuardDeleteAdapter", errno)
	}
	return reboot != 0, nil
}

func (d *DLL) FreeAdapter(h driver.Handle) {
	if h == 0 {
		return
	}
	_, _, _ = d.freeAdapter.Call(uintptr(h))
}

func (d *DLL) AdapterLUID(h driver.Handle) (uint64, error) {
	var luid uint64
	_, _, _ = d.getLUID.Call(uintptr(h), uintptr(unsafe.Pointer(&luid)))
	if luid == 0 {
		return 0, driver.NewCallError("WireGuardGetAdapterLUID", driver.ErrorInvalidParameter)
	}
	return luid, nil
}

func (d *DLL) SetAdapterLogging(h driver.Handle, level wgnt.AdapterLogging) error {
	r, _, errno := d.setLogging.Call(uintptr(h), uintptr(level))
	if r == 0 {
		return callError("WireGuardSetAdapterLogging", errno)
	}
	return nil
}

func (d *DLL) SetAdapterState(h driver.Handle, state wgnt.DriverState) error {
	r, _, errno := d.setState.Call(uintptr(h), uintptr(state))
	if r == 0 {
		return callError("WireGuardSetAdapterState", errno)
	}
	return nil
}

func (d *DLL) AdapterState(h driver.Handle) (wgnt.DriverState, error) {
	var state uint32
	r, _, errno := d.getState.Call(uintptr(h), uintptr(unsafe.Pointer(&state)))
	if r == 0 {
		return 0, callError("WireGuardGetAdapterState", errno)
	}
	return wgnt.DriverState(state), nil
}

func (d *DLL) SetConfiguration(h driver.Handle, block []byte) error {
	const proc = "WireGuardSetConfiguration"
	if len(block) == 0 {
		return driver.NewCallError(proc, driver.ErrorInvalidParameter)
	}
	r, _, errno := d.setConfig.Call(uintptr(h), uintptr(unsafe.Pointer(&block[0])), uintptr(uint32(len(block))))
	if r == 0 {
		return callError(proc, errno)
	}
	return nil
}

func (d *DLL) GetConfiguration(h driver.Handle, buf []byte) (int, error) {
	var ptr unsafe.Pointer
	if len(buf) > 0 {
		ptr = unsafe.Pointer(&buf[0])
	}
	size := uint32(len(buf))
	r, _, errno := d.getConfig.Call(uintptr(h), uintptr(ptr), uintptr(unsafe.Pointer(&size)))
	if r == 0 {
		return int(size), callError("WireGuardGetConfiguration", errno)
	}
	return int(size), nil
}

func (d *DLL) DriverVersion() (uint32, error) {
	r, _, errno := d.driverVersion.Call()
	if r == 0 {
		return 0, callError("WireGuardGetRunningDriverVersion", errno)
	}
	return uint32(r), nil
}

// SetLogger installs fn as the driver's logger. The driver keeps a single
// logger per process, so loggers installed through different DLL values
// replace each other.
func (d *DLL) SetLogger(fn driver.LoggerFunc) error {
	if fn == nil {
		currentLogger.Store(nil)
		_, _, _ = d.setLogger.Call(0)
		return nil
	}
	currentLogger.Store(&fn)
	_, _, _ = d.setLogger.Call(logTrampoline())
	return nil
}

var (
	currentLogger   atomic.Pointer[driver.LoggerFunc]
	trampolineOnce  sync.Once
	trampolineEntry uintptr
)

// dropLogger forgets the installed logger so a later Load starts without one.
// It reports whether a logger was installed.
func dropLogger() bool {
	return currentLogger.Swap(nil) != nil
}

// logTrampoline returns the native entry point handed to the driver. Callback
// slots are never reclaimed by the runtime, so exactly one is created.
func logTrampoline() uintptr {
	trampolineOnce.Do(func() {
		trampolineEntry = windows.NewCallback(func(level uintptr, timestamp uint64, msg *uint16) uintptr {
			if fn := currentLogger.Load(); fn != nil {
				(*fn)(wgnt.LogLevel(level), timestamp, windows.UTF16PtrToString(msg))
			}
			return 0
		})
	})
	return trampolineEntry
}

func identity(proc, pool, name string) (*uint16, *uint16, error) {
	pool16, err := windows.UTF16PtrFromString(pool)
	if err != nil {
		return nil, nil, driver.NewCallError(proc, driver.ErrorInvalidParameter)
	}
	name16, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, nil, driver.NewCallError(proc, driver.ErrorInvalidParameter)
	}
	return pool16, name16, nil
}

// callError turns the last-error value Proc.Call returns into a CallError.
func callError(proc string, err error) error {
	var code syscall.Errno
	if !errors.As(err, &code) {
		return fmt.Errorf("%s: %w", proc, err)
	}
	return driver.NewCallError(proc, code)
}
