//go:build debug

// Package check holds assertions that only fire in builds tagged debug. They
// guard invariants of native handles and encoded buffers that a release build
// trusts.
package check

import "fmt"

// Assertf panics with a formatted message if cond is false.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic("assertion failed: " + fmt.Sprintf(format, args...))
	}
}

// Nonzero panics if v is its type's zero value.
func Nonzero[T comparable](v T, what string) {
	var zero T
	if v == zero {
		panic("assertion failed: " + what + " is zero")
	}
}
