package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/metalagman/plancheck/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a plancheck working directory",
		Long:  "Initialize a plancheck working directory by creating .plancheck and installing a default config.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := viper.GetString("config")
			if configPath == "" {
				configPath = config.DefaultPath
			}
			dir := filepath.Dir(configPath)
			log.Info().Str("dir", dir).Msg("creating plancheck directory")
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", dir, err)
			}

			_, err := os.Stat(configPath)
			switch {
			case err == nil:
				log.Info().Str("path", configPath).Msg("config already exists, skipping")
			case errors.Is(err, fs.ErrNotExist):
				log.Info().Str("path", configPath).Msg("installing default config")
				if err := config.Write(configPath, config.Default()); err != nil {
					return err
				}
			default:
				return fmt.Errorf("stat config: %w", err)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), "plancheck initialized successfully")
			return err
		},
	}
}
