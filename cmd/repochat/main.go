// Package main is the repochat terminal client.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/repochat/internal/client"
	"github.com/capitalize-ai/repochat/internal/config"
	"github.com/capitalize-ai/repochat/pkg/logger"
)

// app carries what every subcommand needs once the root command has run.
type app struct {
	cfg *config.Config
	log *logger.Logger

	configFile string
	apiURL     string
	token      string
	verbose    bool
}

func (a *app) client() *client.Client {
	return client.New(client.Config{
		BaseURL:       a.cfg.APIURL,
		Token:         a.cfg.Token,
		SessionCookie: a.cfg.SessionCookie,
		Timeout:       a.cfg.RequestTimeout,
	}, a.log)
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "repochat",
		Short: "Chat with a processed repository",
		Long: `repochat talks to a repository chat backend.

Answers stream into the terminal as they are generated. Past conversations
can be listed, reopened and continued.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.configFile != "" {
				os.Setenv(config.FileEnv, a.configFile)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if a.apiURL != "" {
				cfg.APIURL = a.apiURL
			}
			if a.token != "" {
				cfg.Token = a.token
			}

			level := "warn"
			if a.verbose {
				level = "debug"
			}
			log, err := logger.New(level)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.cfg, a.log = cfg, log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.configFile, "config", "", "YAML config file (overrides "+config.FileEnv+")")
	root.PersistentFlags().StringVar(&a.apiURL, "api-url", "", "backend base URL")
	root.PersistentFlags().StringVar(&a.token, "token", "", "bearer token for the backend")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newChatCmd(a),
		newHistoryCmd(a),
		newReposCmd(a),
		newTokenCmd(a),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
