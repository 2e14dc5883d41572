//go:build !debug

package check

// Assertf is a no-op in release builds.
func Assertf(_ bool, _ string, _ ...any) {}

// Nonzero is a no-op in release builds.
func Nonzero[T comparable](_ T, _ string) {}
