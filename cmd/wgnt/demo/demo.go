package democmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wgnt"
	"wgnt/adapter"
	"wgnt/cmd/wgnt/cmdutil"
	"wgnt/cmd/wgnt/ui"
	"wgnt/config"
	"wgnt/infra/sqlite"
	"wgnt/pkg/demoproto"
	"wgnt/pkg/telemetry"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

const keepalive = 21

var plan = telemetry.Plan{Steps: []telemetry.PlannedStep{
	{ID: "keygen", Title: "Generating key pair"},
	{ID: "exchange", Title: "Exchanging keys with the demo server"},
	{ID: "load", Title: "Loading driver"},
	{ID: "adapter", Title: "Opening adapter"},
	{ID: "route", Title: "Setting default route"},
	{ID: "configure", Title: "Configuring adapter"},
	{ID: "up", Title: "Bringing adapter up"},
	{ID: "run", Title: "Running tunnel"},
}}

// Cmd returns the "wgnt demo" command.
func Cmd(flags *cmdutil.Flags) *cobra.Command {
	var (
		server      string
		duration    time.Duration
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Bring up a tunnel to the public WireGuard demo server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.Load()
			if err != nil {
				return err
			}
			if server != "" {
				cfg.Server = server
			}
			if cmd.Flags().Changed("duration") {
				cfg.Duration = duration
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d := &demo{cfg: cfg, metricsAddr: metricsAddr, log: slog.Default()}
			return d.run(ctx)
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "Demo server host:port (default "+demoproto.DefaultServer+")")
	cmd.Flags().DurationVar(&duration, "duration", 0, "How long to keep the tunnel up (0 waits for interrupt)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve driver log metrics on this address")
	return cmd
}

type demo struct {
	cfg         *config.Config
	metricsAddr string
	log         *slog.Logger

	private wgtypes.Key
	remote  demoproto.ServerConfig
	session *cmdutil.Session
	adapter *adapter.Adapter
}

func (d *demo) run(ctx context.Context) (err error) {
	progress := ui.NewProgress(os.Stderr)
	op, err := telemetry.Start(ctx, otel.Tracer("wgnt/demo"), "demo", plan, progress.Observe)
	if err != nil {
		return err
	}
	defer func() { op.End(err) }()
	defer d.teardown(op.Context())

	steps := []struct {
		id string
		fn func(context.Context) error
	}{
		{"keygen", d.keygen},
		{"exchange", d.exchange},
		{"load", d.load},
		{"adapter", d.open},
		{"route", d.route},
		{"configure", d.configure},
		{"up", d.up},
		{"run", d.wait},
	}
	for _, step := range steps {
		if err := op.RunStep(step.id, step.fn); err != nil {
			return err
		}
	}
	return nil
}

func (d *demo) keygen(context.Context) error {
	key, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return fmt.Errorf("generate private key: %w", err)
	}
	d.private = key
	return nil
}

func (d *demo) exchange(ctx context.Context) error {
	cfg, err := demoproto.Exchange(ctx, d.cfg.Server, d.private.PublicKey(), demoproto.WithLogger(d.log))
	if err != nil {
		return err
	}
	if _, err := cfg.Key(); err != nil {
		return fmt.Errorf("demo server peer key: %w", err)
	}
	d.remote = cfg
	return nil
}

func (d *demo) load(ctx context.Context) error {
	s, err := cmdutil.Open(d.cfg, d.log)
	if err != nil {
		return err
	}
	d.session = s
	if d.metricsAddr != "" {
		return s.ServeMetrics(ctx, d.metricsAddr)
	}
	return nil
}

// open reuses the GUID the adapter had on earlier runs so Windows keeps its
// network profile.
func (d *demo) open(ctx context.Context) error {
	cfg := d.cfg
	guid, err := rememberedGUID(ctx, cfg.StatePath, cfg.Pool, cfg.Adapter)
	if err != nil {
		d.log.Warn("Adapter GUID store unavailable, letting the driver pick.", "err", err)
	}

	var requested *uuid.UUID
	if guid != uuid.Nil {
		requested = &guid
	}
	a, err := adapter.OpenOrCreate(ctx, d.session.Table, cfg.Pool, cfg.Adapter, requested, d.session.AdapterOptions()...)
	if err != nil {
		return err
	}
	d.adapter = a
	if a.RebootRequired() {
		fmt.Fprintln(os.Stderr, ui.WarnMsg("The driver asks for a reboot to finish installing."))
	}
	if err := a.SetLogging(ctx, wgnt.AdapterLogOnWithPrefix); err != nil {
		return err
	}
	return nil
}

func rememberedGUID(ctx context.Context, path, pool, name string) (uuid.UUID, error) {
	store, err := sqlite.Open(path)
	if err != nil {
		return uuid.Nil, err
	}
	defer store.Close()
	return store.Ensure(ctx, pool, name)
}

func (d *demo) route(ctx context.Context) error {
	return d.adapter.SetDefaultRoute(ctx, netip.PrefixFrom(d.remote.InternalIP, 24))
}

func (d *demo) configure(ctx context.Context) error {
	peerKey, err := d.remote.Key()
	if err != nil {
		return err
	}
	return d.adapter.SetConfig(ctx, Interface(d.private, peerKey, d.remote.Endpoint()))
}

// Interface is the configuration the demo applies: one peer, the demo
// server, routing all IPv4 traffic.
func Interface(private, peer wgtypes.Key, endpoint netip.AddrPort) wgnt.Interface {
	return wgnt.Interface{
		PrivateKey:   &private,
		ReplacePeers: true,
		Peers: []wgnt.Peer{{
			PublicKey:           peer,
			PersistentKeepalive: wgnt.Ptr[uint16](keepalive),
			Endpoint:            endpoint,
			AllowedIPs:          []netip.Prefix{netip.PrefixFrom(netip.IPv4Unspecified(), 0)},
			ReplaceAllowedIPs:   true,
		}},
	}
}

func (d *demo) up(ctx context.Context) error {
	return d.adapter.Up(ctx)
}

func (d *demo) wait(ctx context.Context) error {
	duration := d.cfg.Duration
	fmt.Fprintln(os.Stderr, ui.InfoMsg("Tunnel %s is up with address %s. Press Ctrl+C to stop.",
		ui.Bold(d.adapter.Name()), d.remote.InternalIP))

	var timeout <-chan time.Time
	if duration > 0 {
		t := time.NewTimer(duration)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return ctx.Err()
	case <-timeout:
		return nil
	}
}

// teardown deletes the adapter and releases the driver on every exit path.
func (d *demo) teardown(ctx context.Context) {
	if d.adapter != nil {
		if err := d.adapter.Delete(context.WithoutCancel(ctx)); err != nil {
			fmt.Fprintln(os.Stderr, ui.ErrorMsg("delete adapter: %v", err))
		} else {
			fmt.Fprintln(os.Stderr, ui.SuccessMsg("Adapter %s deleted", d.adapter.Name()))
		}
	}
	if d.session != nil {
		if err := d.session.Close(); err != nil {
			fmt.Fprintln(os.Stderr, ui.ErrorMsg("release driver: %v", err))
		}
	}
}
