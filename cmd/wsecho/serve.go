package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/tokmz/wsecho"
	"go.uber.org/zap"
)

var (
	serveConfigFile string
	serveAddr       string
	serveWatch      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the websocket echo server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := wsecho.LoadConfig(serveConfigFile)
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}

		engine, err := wsecho.New(cfg)
		if err != nil {
			return err
		}
		log := engine.Logger()

		if serveWatch {
			stop, err := wsecho.WatchLogLevel(serveConfigFile, log)
			if err != nil {
				log.Warn("config watch disabled", zap.Error(err))
			} else {
				defer stop()
			}
		}

		if err := engine.Run(context.Background()); err != nil {
			log.Error("server stopped with error", zap.Error(err))
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigFile, "config", "f", "", "Config file (yaml/json/toml); env WSECHO_* overrides")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address, overrides server.addr")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Reload log level when the config file changes")
	rootCmd.AddCommand(serveCmd)
}
