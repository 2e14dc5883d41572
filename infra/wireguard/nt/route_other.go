//go:build !windows

package nt

import (
	"errors"
	"fmt"
	"net/netip"
)

// Router is unavailable off Windows.
type Router struct {
	Metric uint32
}

func (Router) SetDefaultRoute(_ uint64, prefix netip.Prefix) error {
	return fmt.Errorf("set default route %s: %w", prefix, errors.ErrUnsupported)
}
