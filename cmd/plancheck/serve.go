package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/metalagman/plancheck/internal/config"
	"github.com/metalagman/plancheck/internal/history"
	"github.com/metalagman/plancheck/internal/web"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			ctx := cmd.Context()

			fxApp := fx.New(
				fx.NopLogger,
				fx.Supply(cfg),
				fx.Provide(
					func(cfg config.Config) (*app, error) { return newApp(ctx, cfg) },
					provideHistory,
					provideWebServer,
				),
				fx.Invoke(registerHTTPServer),
			)
			if err := fxApp.Err(); err != nil {
				return err
			}

			startCtx, cancel := context.WithTimeout(ctx, fxApp.StartTimeout())
			defer cancel()
			if err := fxApp.Start(startCtx); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
			case <-fxApp.Wait():
			}
			stopCtx, cancelStop := context.WithTimeout(context.Background(), fxApp.StopTimeout())
			defer cancelStop()
			return fxApp.Stop(stopCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func provideHistory(lc fx.Lifecycle, cfg config.Config) (*history.Store, error) {
	store, closeFn, err := openHistory(cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		closeFn()
		return nil
	}})
	return store, nil
}

func provideWebServer(a *app, store *history.Store, cfg config.Config) (*web.Server, error) {
	return web.NewServer(a.pipeline,
		web.WithHistory(store),
		web.WithAnnotator(a.annotator),
		web.WithMetrics(a.metrics.Handler()),
		web.WithMaxUploadBytes(cfg.Server.MaxUploadBytes()),
	)
}

func registerHTTPServer(lc fx.Lifecycle, srv *web.Server, cfg config.Config) {
	hs := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", hs.Addr)
			if err != nil {
				return err
			}
			log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
			go func() {
				if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Msg("http server stopped")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("http server shutting down")
			return hs.Shutdown(ctx)
		},
	})
}
