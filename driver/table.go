// Package driver describes the function table exported by the WireGuard NT
// driver library. Implementations live under infra/wireguard: nt binds the real
// wireguard.dll, user emulates it in-process on top of wireguard-go.
package driver

import (
	"wgnt"

	"github.com/google/uuid"
)

// Handle is an opaque native adapter handle. The zero Handle is never valid.
type Handle uintptr

// LoggerFunc receives one driver log line. It runs on a thread owned by the
// driver and must not block.
type LoggerFunc func(level wgnt.LogLevel, timestamp uint64, message string)

// Table is the set of entry points resolved from a loaded driver library.
//
// A Table is immutable once loaded and safe for concurrent use. It must
// outlive every Handle obtained from it. Failures carry the driver's error
// code in a *CallError whose kind can be tested with errors.Is against
// ErrNotFound, ErrRejected, ErrExhausted and ErrMoreData.
type Table interface {
	// CreateAdapter materializes a new adapter in pool. requested pins the
	// adapter's GUID; nil lets the driver choose one.
	CreateAdapter(pool, name string, requested *uuid.UUID) (h Handle, rebootRequired bool, err error)
	OpenAdapter(pool, name string) (Handle, error)
	// DeleteAdapter removes the adapter from the system. The handle still has
	// to be released with FreeAdapter.
	DeleteAdapter(h Handle) (rebootRequired bool, err error)
	FreeAdapter(h Handle)

	AdapterLUID(h Handle) (uint64, error)
	SetAdapterLogging(h Handle, level wgnt.AdapterLogging) error
	SetAdapterState(h Handle, state wgnt.DriverState) error
	AdapterState(h Handle) (wgnt.DriverState, error)

	// SetConfiguration applies an encoded configuration block atomically.
	SetConfiguration(h Handle, block []byte) error
	// GetConfiguration copies the current configuration into buf and returns
	// its size. When buf is too small it returns the required size and an
	// error matching ErrMoreData.
	GetConfiguration(h Handle, buf []byte) (int, error)

	// DriverVersion returns the version of the driver currently loaded by the
	// kernel, encoded as major<<16 | minor.
	DriverVersion() (uint32, error)
	// SetLogger installs fn as the process-wide driver logger. nil removes it.
	SetLogger(fn LoggerFunc) error
}

// Exports lists the symbols a driver library has to provide, by exact name.
var Exports = []string{
	"WireGuardCreateAdapter",
	"WireGuardOpenAdapter",
	"WireGuardDeleteAdapter",
	"WireGuardFreeAdapter",
	"WireGuardGetAdapterLUID",
	"WireGuardGetRunningDriverVersion",
	"WireGuardSetLogger",
	"WireGuardSetAdapterLogging",
	"WireGuardSetAdapterState",
	"WireGuardGetAdapterState",
	"WireGuardSetConfiguration",
	"WireGuardGetConfiguration",
}

// Limits on adapter identity strings, in UTF-16 code units excluding the
// terminating NUL.
const (
	MaxPoolLength = 255
	MaxNameLength = 127
)
