//go:build !windows || !(amd64 || arm64)

package nt

import (
	"errors"
	"fmt"

	"wgnt"
	"wgnt/driver"

	"github.com/google/uuid"
)

// DLL stands in for the driver library on platforms that cannot load it.
// Load never returns one.
type DLL struct{}

var _ driver.Table = (*DLL)(nil)

// Load always fails: the driver library only exists on 64-bit Windows.
func Load(path string) (*DLL, error) {
	return nil, &driver.LoadError{Path: path, Err: fmt.Errorf("%w: %w", driver.ErrOpenFailed, errors.ErrUnsupported)}
}

var errUnsupported = driver.NewCallError("wireguard.dll", driver.ErrorNotFound)

func (*DLL) Path() string { return "" }
func (*DLL) Close() error { return nil }

func (*DLL) CreateAdapter(string, string, *uuid.UUID) (driver.Handle, bool, error) {
	return 0, false, errUnsupported
}
func (*DLL) OpenAdapter(string, string) (driver.Handle, error) { return 0, errUnsupported }
func (*DLL) DeleteAdapter(driver.Handle) (bool, error)         { return false, errUnsupported }
func (*DLL) FreeAdapter(driver.Handle)                         {}
func (*DLL) AdapterLUID(driver.Handle) (uint64, error)         { return 0, errUnsupported }
func (*DLL) SetAdapterLogging(driver.Handle, wgnt.AdapterLogging) error {
	return errUnsupported
}
func (*DLL) SetAdapterState(driver.Handle, wgnt.DriverState) error { return errUnsupported }
func (*DLL) AdapterState(driver.Handle) (wgnt.DriverState, error)  { return 0, errUnsupported }
func (*DLL) SetConfiguration(driver.Handle, []byte) error          { return errUnsupported }
func (*DLL) GetConfiguration(driver.Handle, []byte) (int, error)   { return 0, errUnsupported }
func (*DLL) DriverVersion() (uint32, error)                        { return 0, errUnsupported }
func (*DLL) SetLogger(driver.LoggerFunc) error                     { return errUnsupported }
