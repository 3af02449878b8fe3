package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tokmz/wsecho/pkg/harness"
	"github.com/tokmz/wsecho/pkg/logger"
)

var (
	benchCfg  = harness.DefaultConfig()
	benchJSON bool
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Open parallel client connections against a running server",
	Example: `  wsecho bench --url ws://127.0.0.1:8080/ws -n 100 -m 1 -c 50 --timeout 30s
  wsecho bench -n 1000 -m 10 --message "ping %c/%m" --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := logger.NewDevelopment()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		cfg := benchCfg
		cfg.Logger = log.Named("bench")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		report, err := harness.Run(ctx, cfg)
		if report != nil {
			if benchJSON {
				data, _ := json.MarshalIndent(report, "", "  ")
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), report.String())
			}
		}
		if err != nil {
			return err
		}
		if n := report.TotalErrors(); n > 0 {
			return fmt.Errorf("bench finished with %d errors", n)
		}
		return nil
	},
}

func init() {
	f := benchCmd.Flags()
	f.StringVar(&benchCfg.URL, "url", benchCfg.URL, "Server websocket URL")
	f.IntVarP(&benchCfg.Connections, "connections", "n", benchCfg.Connections, "Number of client connections")
	f.IntVarP(&benchCfg.MessagesPerConnection, "messages", "m", benchCfg.MessagesPerConnection, "Messages sent by each connection")
	f.IntVarP(&benchCfg.Concurrency, "concurrency", "c", benchCfg.Concurrency, "Maximum connections in flight")
	f.DurationVar(&benchCfg.Timeout, "timeout", benchCfg.Timeout, "Overall run timeout")
	f.DurationVar(&benchCfg.HandshakeTimeout, "handshake-timeout", benchCfg.HandshakeTimeout, "Per-connection handshake timeout")
	f.DurationVar(&benchCfg.ResponseTimeout, "response-timeout", benchCfg.ResponseTimeout, "Per-message response timeout")
	f.StringVar(&benchCfg.MessageFormat, "message", benchCfg.MessageFormat, "Message format, %c = client number (from 1), %m = message index")
	f.BoolVar(&benchJSON, "json", false, "Print the report as JSON")
	rootCmd.AddCommand(benchCmd)
}
