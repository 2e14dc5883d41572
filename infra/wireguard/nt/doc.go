// Package nt binds the WireGuard NT driver library, wireguard.dll.
//
// Load maps the library from an explicit path and resolves every export the
// binding uses; the resulting *DLL implements driver.Table. Loading extends
// trust to the file at that path: its signature is not checked. Router
// configures addresses and routes on the adapter's interface through the IP
// helper API. Both are only functional on 64-bit Windows; elsewhere Load fails
// with driver.ErrOpenFailed.
package nt
