// Package cmd is the chatwrap command line: an interactive chat loop plus
// subcommands for managing stored sessions and prompt templates.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"chatwrap/config"
)

var (
	configPath  string
	debug       bool
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "chatwrap",
	Short: "Chat with Claude from the terminal",
	Long: `chatwrap is a terminal chat client for the Claude Model API.

Conversations are kept as sessions of threads and saved automatically.
Plugins can rewrite traffic; two ship built in:
  • prompt-templates   expand "/template <id> key=value" commands
  • auto-translator    translate prompts and replies between languages

Quick Start:
  chatwrap                          # Start chatting in the last session
  chatwrap sessions list            # List stored sessions
  chatwrap sessions export <id>     # Export a session as JSON or YAML
  chatwrap templates list           # Show available prompt templates`,
	SilenceUsage: true,
	RunE:         runChat,
}

// Execute runs the root command and exits non-zero on failure.
func Execute(version string) {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default "+config.GetConfigFilePath()+")")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// loadConfig reads the config named by --config and applies --debug.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// withApp runs fn against a fully wired app, cancelling on SIGINT/SIGTERM.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: shutdown: %v\n", err)
		}
	}()
	return fn(ctx, a)
}
