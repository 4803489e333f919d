package main

import (
	"github.com/metalagman/plancheck/internal/mcptool"
	"github.com/spf13/cobra"
)

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the analyze_plan tool over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			opts := []mcptool.Option{mcptool.WithMaxBytes(cfg.Server.MaxUploadBytes())}
			store, closeFn := openHistoryOrWarn(cfg)
			defer closeFn()
			if store != nil {
				opts = append(opts, mcptool.WithRecorder(store))
			}
			return mcptool.Serve(cmd.Context(), mcptool.NewServer(a.pipeline, version, opts...))
		},
	}
}
