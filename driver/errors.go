package driver

import (
	"errors"
	"fmt"
	"runtime"
	"syscall"
)

var (
	// ErrOpenFailed means the driver library could not be mapped.
	ErrOpenFailed = errors.New("driver library could not be loaded")
	// ErrSymbolNotFound means the library lacks a required export.
	ErrSymbolNotFound = errors.New("driver export not found")

	ErrNotFound  = errors.New("not found")
	ErrRejected  = errors.New("rejected by driver")
	ErrExhausted = errors.New("driver resources exhausted")
	ErrMoreData  = errors.New("more data available")
)

// Win32 error codes the binding classifies. They are spelled out here so the
// classification is shared by every Table implementation, not only the
// windows one.
const (
	ErrorFileNotFound      syscall.Errno = 2
	ErrorPathNotFound      syscall.Errno = 3
	ErrorAccessDenied      syscall.Errno = 5
	ErrorNotEnoughMemory   syscall.Errno = 8
	ErrorOutOfMemory       syscall.Errno = 14
	ErrorInvalidParameter  syscall.Errno = 87
	ErrorAlreadyExists     syscall.Errno = 183
	ErrorMoreData          syscall.Errno = 234
	ErrorNotFound          syscall.Errno = 1168
	ErrorNoSystemResources syscall.Errno = 1450
)

var codeNames = map[syscall.Errno]string{
	ErrorFileNotFound:      "ERROR_FILE_NOT_FOUND",
	ErrorPathNotFound:      "ERROR_PATH_NOT_FOUND",
	ErrorAccessDenied:      "ERROR_ACCESS_DENIED",
	ErrorNotEnoughMemory:   "ERROR_NOT_ENOUGH_MEMORY",
	ErrorOutOfMemory:       "ERROR_OUTOFMEMORY",
	ErrorInvalidParameter:  "ERROR_INVALID_PARAMETER",
	ErrorAlreadyExists:     "ERROR_ALREADY_EXISTS",
	ErrorMoreData:          "ERROR_MORE_DATA",
	ErrorNotFound:          "ERROR_NOT_FOUND",
	ErrorNoSystemResources: "ERROR_NO_SYSTEM_RESOURCES",
}

// CodeName names a Win32 error code. Codes outside the classified set use
// the system message on windows and a plain number elsewhere, where the host
// errno table does not describe Win32 codes.
func CodeName(code syscall.Errno) string {
	if name, ok := codeNames[code]; ok {
		return name
	}
	if runtime.GOOS == "windows" {
		return code.Error()
	}
	return fmt.Sprintf("win32 error %d", uint32(code))
}

// Kind maps a driver error code onto one of the binding's error kinds.
func Kind(code syscall.Errno) error {
	switch code {
	case ErrorFileNotFound, ErrorPathNotFound, ErrorNotFound:
		return ErrNotFound
	case ErrorNotEnoughMemory, ErrorOutOfMemory, ErrorNoSystemResources:
		return ErrExhausted
	case ErrorMoreData:
		return ErrMoreData
	default:
		return ErrRejected
	}
}

// LoadError reports a failure to load the driver library or resolve one of
// its exports. It is fatal: there is no retry path.
type LoadError struct {
	Path   string
	Symbol string // empty when the library itself failed to load
	Err    error
}

func (e *LoadError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("load driver %s: resolve %s: %v", e.Path, e.Symbol, e.Err)
	}
	return fmt.Sprintf("load driver %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// CallError is a failed driver call together with the code the driver left in
// the thread's last-error slot.
type CallError struct {
	Proc string
	Code syscall.Errno
}

// NewCallError builds a CallError for proc. A zero code is reported as
// ErrorInvalidParameter; the driver failed without saying why.
func NewCallError(proc string, code syscall.Errno) *CallError {
	if code == 0 {
		code = ErrorInvalidParameter
	}
	return &CallError{Proc: proc, Code: code}
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s (code %d)", e.Proc, CodeName(e.Code), uint32(e.Code))
}

// Unwrap exposes both the kind sentinel and the raw code.
func (e *CallError) Unwrap() []error {
	return []error{Kind(e.Code), e.Code}
}
