// Command sipkitctl exposes the endpoint's process-surface operations
// named in §6 but not central to the core engine: dump (print the
// resolved tunables) and log_error (tee a
// structured error record to the configured logger). It also loads and
// validates a tunables file via pkg/config.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sipkit/sipkit/pkg/config"
)

var (
	configPath string
	log        = logrus.New()
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		log.WithError(err).Fatal("sipkitctl failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sipkitctl",
		Short: "Operate a sipkit endpoint from the command line",
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a tunables YAML file (defaults built in if omitted)")
	cmd.AddCommand(newDumpCmd())
	cmd.AddCommand(newLogErrorCmd())
	return cmd
}

func loadTunables() (config.Tunables, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

func newDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print the resolved tunables this process would start with",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := loadTunables()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "max_modules=%d\n", t.MaxModules)
			fmt.Fprintf(cmd.OutOrStdout(), "max_transports=%d\n", t.MaxTransports)
			fmt.Fprintf(cmd.OutOrStdout(), "max_timed_out_per_poll=%d\n", t.MaxTimedOutPerPoll)
			fmt.Fprintf(cmd.OutOrStdout(), "max_net_events=%d\n", t.MaxNetEvents)
			fmt.Fprintf(cmd.OutOrStdout(), "default_sub_expiry=%s\n", t.DefaultSubExpiry)
			fmt.Fprintf(cmd.OutOrStdout(), "min_sub_expiry=%s\n", t.MinSubExpiry)
			fmt.Fprintf(cmd.OutOrStdout(), "max_packet_len=%d\n", t.MaxPacketLen)
			return nil
		},
	}
}

func newLogErrorCmd() *cobra.Command {
	var kind, op, details string
	c := &cobra.Command{
		Use:   "log-error",
		Short: "Emit one structured error record the way the endpoint's log_error facade does",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.WithFields(logrus.Fields{"kind": kind, "op": op}).Error(details)
			return nil
		},
	}
	c.Flags().StringVar(&kind, "kind", "", "error kind, e.g. socket_error")
	c.Flags().StringVar(&op, "op", "", "operation that failed")
	c.Flags().StringVar(&details, "details", "", "human-readable detail")
	return c
}
