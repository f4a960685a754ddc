// Package cmd implements the CLI commands for llhls.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/llhls/client/internal/config"
	"github.com/llhls/client/internal/observability"
	"github.com/llhls/client/internal/version"
)

var cfgFile string

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "llhls",
	Short:   "Low-latency HLS client for live channels",
	Version: version.Short(),
	Long: `llhls continuously fetches HLS media segments for a live channel and
streams the raw transport bytes to a player, a file, or a TCP broadcast
socket.

Its differentiating value is low-latency segment acquisition: it uses
Twitch's #EXT-X-TWITCH-PREFETCH extension to pull the newest segment as
soon as it appears in the playlist, while tolerating playlist stalls, ad
insertion, segment gaps, and transient transport failures.`,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./llhls.yaml, $HOME/llhls.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	mustBindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	config.SetDefaults(viper.GetViper())
}

// newLogger builds the process-wide logger from the loaded config and
// installs it as the slog default.
func newLogger(cfg *config.Config) *slog.Logger {
	log := observability.NewLogger(cfg.Logging)
	observability.SetDefault(log)
	return log
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding
// fails, since a bad key/flag pairing here is a programming error caught
// at startup, not a runtime condition to recover from.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
