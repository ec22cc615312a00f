package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/comigor/seijitalk-go/internal/config"
	"github.com/comigor/seijitalk-go/internal/logger"
	"github.com/comigor/seijitalk-go/internal/resolver"
)

var (
	configPath string
	logLevel   string
	version    = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "seijitalk",
	Short: "Chat about current politics and political vocabulary",
	Long: `SeijiTalk answers questions in two modes:

  latest    recent political news, with the articles it drew on
  glossary  explanations of political terms, with related words to explore

Run "seijitalk serve" for the HTTP/WebSocket backend or "seijitalk chat" for
a terminal conversation.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: $CONFIG_PATH or ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd, chatCmd)
}

// setup loads configuration, applies the log level and builds the resolver.
// The returned cleanup releases resolver backends.
func setup(ctx context.Context) (*config.Config, resolver.Resolver, func(), error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load configuration: %w", err)
	}

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	logger.SetLevel(level)

	r, cleanup, err := resolver.FromConfig(ctx, *cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build resolver: %w", err)
	}
	return cfg, r, cleanup, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
