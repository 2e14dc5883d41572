package main

import (
	"fmt"
	"os"

	adaptercmd "wgnt/cmd/wgnt/adapter"
	"wgnt/cmd/wgnt/cmdutil"
	democmd "wgnt/cmd/wgnt/demo"
	"wgnt/cmd/wgnt/ui"
	"wgnt/internal/logging"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := logging.Configure(logging.LevelWarn, logging.FormatText); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	var flags cmdutil.Flags
	root := &cobra.Command{
		Use:           "wgnt",
		Short:         "Drive WireGuard NT adapters",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ui.ConfigureInteraction(flags.NoInteraction)
			cfg, err := flags.Load()
			if err != nil {
				return err
			}
			return logging.Configure(cfg.Log.Level, cfg.Log.Format)
		},
	}
	flags.Bind(root)

	root.AddCommand(democmd.Cmd(&flags))
	root.AddCommand(adaptercmd.ShowCmd(&flags))
	root.AddCommand(adaptercmd.DeleteCmd(&flags))
	root.AddCommand(adaptercmd.ListCmd(&flags))
	root.AddCommand(adaptercmd.VersionCmd(&flags, version))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.ErrorMsg("%v", err))
		os.Exit(1)
	}
}
