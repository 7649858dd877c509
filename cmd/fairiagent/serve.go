package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/ElderMedic/FAIRiAgent-sub001/server"
	"github.com/spf13/cobra"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the session and memory API plus Prometheus metrics on /metrics.

On SIGINT or SIGTERM, background sessions stop at their next stage boundary
and stay resumable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			srv := server.New(a.controller,
				server.WithLogger(a.logger),
				server.WithGatherer(a.registry),
			)

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Listen(addr)
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(quit)

			select {
			case err := <-errCh:
				return err
			case <-quit:
			}

			if err := srv.Shutdown(a.cfg.Server.ShutdownTimeout); err != nil {
				a.logger.Error().Err(err).Msg("Server forced to shutdown")
				return err
			}
			a.logger.Info().Msg("Server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to server.addr)")
	return cmd
}
