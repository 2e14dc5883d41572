package cmdutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"time"

	"wgnt/adapter"
	"wgnt/config"
	"wgnt/driver"
	"wgnt/infra/wireguard/nt"
	"wgnt/infra/wireguard/user"
	"wgnt/logbridge"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Session is a loaded driver backend with the log bridge attached to it.
type Session struct {
	Config   *config.Config
	Table    driver.Table
	Router   adapter.Router
	Bridge   *logbridge.Bridge
	Registry *prometheus.Registry
	Log      *slog.Logger

	closeTable func() error
}

// Open loads the backend named by cfg and routes its driver log into log.
func Open(cfg *config.Config, log *slog.Logger) (*Session, error) {
	table, router, closeTable, err := openBackend(cfg, log)
	if err != nil {
		return nil, err
	}

	metrics := logbridge.NewMetrics()
	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry); err != nil {
		_ = closeTable()
		return nil, err
	}
	bridge := logbridge.New(logbridge.SlogHandler(log),
		logbridge.WithLogger(log),
		logbridge.WithMetrics(metrics),
	)
	if err := bridge.Attach(table); err != nil {
		_ = bridge.Close()
		_ = closeTable()
		return nil, fmt.Errorf("attach driver logger: %w", err)
	}

	return &Session{
		Config:     cfg,
		Table:      table,
		Router:     router,
		Bridge:     bridge,
		Registry:   registry,
		Log:        log,
		closeTable: closeTable,
	}, nil
}

func openBackend(cfg *config.Config, log *slog.Logger) (driver.Table, adapter.Router, func() error, error) {
	switch cfg.Backend {
	case "nt":
		dll, err := nt.Load(cfg.DriverPath)
		if err != nil {
			return nil, nil, nil, err
		}
		log.Debug("Driver library loaded.", "path", dll.Path())
		return dll, nt.Router{}, dll.Close, nil
	case "user":
		t := user.New()
		router := adapter.RouterFunc(func(luid uint64, prefix netip.Prefix) error {
			log.Info("Userspace backend leaves host routes alone.", "luid", luid, "prefix", prefix)
			return nil
		})
		return t, router, t.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// AdapterOptions wires an adapter to the session's bridge, router and logger.
func (s *Session) AdapterOptions() []adapter.Option {
	return []adapter.Option{
		adapter.WithLogBridge(s.Bridge, logbridge.SlogHandler(s.Log)),
		adapter.WithRouter(s.Router),
		adapter.WithLogger(s.Log),
	}
}

// ServeMetrics exposes the bridge counters on addr until ctx is done.
func (s *Session) ServeMetrics(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Log.Warn("Metrics server stopped.", "err", err)
		}
	}()
	s.Log.Info("Serving metrics.", "addr", ln.Addr().String())
	return nil
}

// Close detaches the log bridge and releases the backend. Adapters opened
// from the session must be closed or deleted first.
func (s *Session) Close() error {
	bridgeErr := s.Bridge.Close()
	s.logTotals()
	return errors.Join(bridgeErr, s.closeTable())
}

func (s *Session) logTotals() {
	families, err := s.Registry.Gather()
	if err != nil {
		s.Log.Debug("gather metrics", "err", err)
		return
	}
	for _, mf := range families {
		var total float64
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		s.Log.Debug("Driver log totals.", "metric", mf.GetName(), "value", total)
	}
}
