package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/metalagman/plancheck/internal/config"
	"github.com/metalagman/plancheck/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "dev"

// Execute runs the root command until it finishes or an interrupt arrives.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	var (
		cfgFile   string
		debug     bool
		logFormat string
	)
	rootCmd := &cobra.Command{
		Use:           "plancheck",
		Short:         "plancheck reviews residential plan sets for code compliance",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			format, err := logging.ParseFormat(logFormat)
			if err != nil {
				return err
			}
			logging.Setup(os.Stderr, format, debug)
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				log.Warn().Err(err).Msg("load .env")
			}
			viper.Set("config", cfgFile)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath, "config file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", string(logging.FormatConsole), "log format: console or json")

	rootCmd.AddCommand(
		analyzeCmd(),
		serveCmd(),
		mcpCmd(),
		runsCmd(),
		catalogCmd(),
		initCmd(),
	)
	return rootCmd
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
}
