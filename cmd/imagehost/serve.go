package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/imagehost/service/internal/logger"
	"github.com/imagehost/service/internal/proxy"
)

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the upload proxy on 127.0.0.1",
		Long:  "Starts the HTTP upload proxy and runs until interrupted. In-flight uploads finish before exit.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a := newApp(ctx)
			defer a.Close()

			if !cmd.Flags().Changed("port") {
				port = a.cfg.ProxyPort
			}

			srv := proxy.New(a.svc, proxy.Options{
				Port:           port,
				MaxUploadBytes: a.cfg.MaxUploadBytes,
				AllowedOrigins: a.cfg.ProxyAllowedOrigins,
			}, logger.Component(a.log, "proxy"))

			status, err := srv.SetEnabled(true, port)
			if err != nil {
				return fmt.Errorf("proxy did not start: %w", err)
			}
			a.log.Info().Int("port", status.Port).Msgf("swagger UI at %s/swagger/", srv.Addr())

			<-ctx.Done()
			a.log.Info().Msg("shutting down gracefully...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("forced shutdown: %w", err)
			}

			a.log.Info().Msg("proxy stopped")
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", proxy.DefaultPort, "Port to listen on (overrides PROXY_PORT)")
	return cmd
}
