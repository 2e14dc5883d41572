// Package demoproto speaks the line protocol of the public WireGuard demo
// server: the client sends its base64 public key and a newline, the server
// answers "OK:<base64 peer key>:<port>:<ipv4 address>" or a failure line.
package demoproto

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

const (
	// DefaultServer is the public demo server.
	DefaultServer = "demo.wireguard.com:42912"

	dialTimeout  = 5 * time.Second
	maxReplySize = 512
)

var ErrMalformedReply = errors.New("malformed demo server reply")

// ServerError is a reply that did not start with OK. Reply is the server's
// line, verbatim apart from surrounding whitespace.
type ServerError struct {
	Reply string
}

func (e *ServerError) Error() string {
	return "demo server refused: " + e.Reply
}

// ServerConfig is what the demo server hands back for one client key.
// PeerKey holds the decoded key bytes as sent; Key checks their length.
type ServerConfig struct {
	PeerKey    []byte
	Port       uint16
	InternalIP netip.Addr
	// ServerIP is the address Exchange reached. ParseReply leaves it unset.
	ServerIP netip.Addr
}

// Endpoint is the server's WireGuard endpoint: the exchanged-with address at
// the port from the reply.
func (c ServerConfig) Endpoint() netip.AddrPort {
	return netip.AddrPortFrom(c.ServerIP, c.Port)
}

// Key returns PeerKey as a WireGuard key.
func (c ServerConfig) Key() (wgtypes.Key, error) {
	return wgtypes.NewKey(c.PeerKey)
}

// Option configures Exchange.
type Option func(*exchanger)

type exchanger struct {
	dial       func(ctx context.Context, network, addr string) (net.Conn, error)
	newBackoff func() backoff.BackOff
	log        *slog.Logger
}

// WithDialer replaces the TCP dialer.
func WithDialer(dial func(ctx context.Context, network, addr string) (net.Conn, error)) Option {
	return func(e *exchanger) { e.dial = dial }
}

// WithBackoff sets the retry policy for failed dials.
func WithBackoff(newBackoff func() backoff.BackOff) Option {
	return func(e *exchanger) { e.newBackoff = newBackoff }
}

// WithLogger sets the logger for retries.
func WithLogger(l *slog.Logger) Option {
	return func(e *exchanger) { e.log = l }
}

// Exchange registers publicKey with the demo server at addr and returns the
// server's side of the tunnel. Dials are retried; a refusal is not.
func Exchange(ctx context.Context, addr string, publicKey wgtypes.Key, opts ...Option) (ServerConfig, error) {
	e := exchanger{
		dial: (&net.Dialer{Timeout: dialTimeout}).DialContext,
		newBackoff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(250*time.Millisecond),
				backoff.WithMaxInterval(2*time.Second),
				backoff.WithMaxElapsedTime(15*time.Second),
			)
		},
		log: slog.With("component", "demoproto"),
	}
	for _, opt := range opts {
		opt(&e)
	}

	conn, err := backoff.RetryWithData(func() (net.Conn, error) {
		conn, err := e.dial(ctx, "tcp", addr)
		if err != nil {
			e.log.Debug("Retrying demo server dial.", "addr", addr, "err", err)
		}
		return conn, err
	}, backoff.WithContext(e.newBackoff(), ctx))
	if err != nil {
		return ServerConfig{}, fmt.Errorf("dial demo server %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	line := base64.StdEncoding.EncodeToString(publicKey[:]) + "\n"
	if _, err := io.WriteString(conn, line); err != nil {
		return ServerConfig{}, fmt.Errorf("send public key: %w", err)
	}

	reply, err := bufio.NewReader(io.LimitReader(conn, maxReplySize)).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && reply != "") {
		return ServerConfig{}, fmt.Errorf("read demo server reply: %w", err)
	}
	cfg, err := ParseReply(reply)
	if err != nil {
		return ServerConfig{}, err
	}
	if remote, err := netip.ParseAddrPort(conn.RemoteAddr().String()); err == nil {
		cfg.ServerIP = remote.Addr().Unmap()
	}
	return cfg, nil
}

// ParseReply parses one server reply line.
func ParseReply(reply string) (ServerConfig, error) {
	reply = strings.TrimSpace(reply)
	if !strings.HasPrefix(reply, "OK") {
		return ServerConfig{}, &ServerError{Reply: reply}
	}

	parts := strings.Split(reply, ":")
	if len(parts) != 4 {
		return ServerConfig{}, fmt.Errorf("%w: %d fields, want 4", ErrMalformedReply, len(parts))
	}

	raw, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return ServerConfig{}, fmt.Errorf("%w: peer key: %w", ErrMalformedReply, err)
	}
	cfg := ServerConfig{PeerKey: raw}

	port, err := strconv.ParseUint(parts[2], 10, 16)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("%w: port: %w", ErrMalformedReply, err)
	}
	cfg.Port = uint16(port)

	cfg.InternalIP, err = netip.ParseAddr(parts[3])
	if err != nil || !cfg.InternalIP.Is4() {
		return ServerConfig{}, fmt.Errorf("%w: internal address %q", ErrMalformedReply, parts[3])
	}
	return cfg, nil
}
