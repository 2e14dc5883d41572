package adaptercmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"wgnt/adapter"
	"wgnt/cmd/wgnt/cmdutil"
	"wgnt/cmd/wgnt/ui"
	"wgnt/infra/sqlite"

	"github.com/spf13/cobra"
)

// ShowCmd returns the "wgnt show" command.
func ShowCmd(flags *cmdutil.Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show an adapter's configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAdapter(cmd.Context(), flags, func(a *adapter.Adapter) error {
				iface, err := a.Config(cmd.Context())
				if err != nil {
					return err
				}
				state, err := a.DriverState()
				if err != nil {
					return err
				}
				luid, err := a.LUID()
				if err != nil {
					return err
				}

				fmt.Print(ui.Interface(a.Name(), iface))
				fmt.Print(ui.KeyValues("  ",
					ui.KV("Pool", a.Pool()),
					ui.KV("State", state.String()),
					ui.KV("LUID", fmt.Sprintf("%#x", luid)),
				))
				return a.Close()
			})
		},
	}
}

// DeleteCmd returns the "wgnt delete" command.
func DeleteCmd(flags *cmdutil.Flags) *cobra.Command {
	var forget bool

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete an adapter from the system",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := withAdapter(cmd.Context(), flags, func(a *adapter.Adapter) error {
				if err := a.Delete(cmd.Context()); err != nil {
					return err
				}
				fmt.Println(ui.SuccessMsg("Deleted adapter %s", ui.Bold(a.Name())))
				if a.RebootRequired() {
					fmt.Println(ui.WarnMsg("The driver asks for a reboot to finish removing it."))
				}
				return nil
			})
			if err != nil || !forget {
				return err
			}

			cfg, err := flags.Load()
			if err != nil {
				return err
			}
			store, err := sqlite.Open(cfg.StatePath)
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Forget(cmd.Context(), cfg.Pool, cfg.Adapter)
		},
	}
	cmd.Flags().BoolVar(&forget, "forget", false, "Also forget the adapter's remembered GUID")
	return cmd
}

// ListCmd returns the "wgnt adapters" command listing remembered adapters.
func ListCmd(flags *cmdutil.Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "adapters",
		Short: "List adapters with a remembered GUID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.Load()
			if err != nil {
				return err
			}
			store, err := sqlite.Open(cfg.StatePath)
			if err != nil {
				return err
			}
			defer store.Close()

			ids, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Println(ui.Muted("No adapters remembered."))
				return nil
			}
			rows := make([][]string, 0, len(ids))
			for _, id := range ids {
				rows = append(rows, []string{
					id.Pool,
					id.Name,
					"{" + id.GUID.String() + "}",
					id.LastUsed.Local().Format(time.DateTime),
				})
			}
			fmt.Println(ui.Table([]string{"POOL", "NAME", "GUID", "LAST USED"}, rows))
			return nil
		},
	}
}

// VersionCmd returns the "wgnt version" command.
func VersionCmd(flags *cmdutil.Flags, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the running driver version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.Load()
			if err != nil {
				return err
			}
			s, err := cmdutil.Open(cfg, slog.Default())
			if err != nil {
				return err
			}
			defer s.Close()

			v, err := s.Table.DriverVersion()
			if err != nil {
				return fmt.Errorf("get driver version: %w", err)
			}
			fmt.Print(ui.KeyValues("",
				ui.KV("wgnt", version),
				ui.KV("Backend", cfg.Backend),
				ui.KV("Driver", fmt.Sprintf("%d.%d", v>>16, v&0xffff)),
			))
			return nil
		},
	}
}

// withAdapter opens the configured adapter and runs fn. fn owns the adapter;
// it is closed afterwards unless fn deleted or closed it.
func withAdapter(ctx context.Context, flags *cmdutil.Flags, fn func(*adapter.Adapter) error) error {
	cfg, err := flags.Load()
	if err != nil {
		return err
	}
	s, err := cmdutil.Open(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer s.Close()

	a, err := adapter.Open(ctx, s.Table, cfg.Pool, cfg.Adapter, s.AdapterOptions()...)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
