package main

import (
	"github.com/spf13/cobra"
	"github.com/tokmz/wsecho"
)

// rootCmd 不带子命令时打印帮助
var rootCmd = &cobra.Command{
	Use:     "wsecho",
	Short:   "wsecho is a concurrent websocket echo service",
	Version: wsecho.Version,
	Long: `wsecho accepts websocket connections, answers every text message with
"Echo: <message>" and records a count query against the backing store.

The bench subcommand opens many parallel client connections against a running
server and reports how many round trips succeeded.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}
