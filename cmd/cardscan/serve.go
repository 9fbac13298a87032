package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/menta2k/cardscan/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the scanning and collection API over HTTP",
	Long: `Serve the scanning and collection API over HTTP, with Prometheus metrics at
/metrics.

Examples:
  cardscan serve --addr :8080
  curl -F image=@card.jpg -F tags=expo localhost:8080/v1/scan`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, app, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer app.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := app.Config.Server
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	srv := server.New(app.Pipeline, app.Cards, server.Config{
		Addr:          cfg.Addr,
		ReadTimeout:   cfg.ReadTimeout,
		MaxUploadSize: cfg.MaxUploadSize,
	}, logger)
	return srv.Run(ctx)
}
