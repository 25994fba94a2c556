package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sealor/storyteller/pkg/studio"
	"github.com/sealor/storyteller/pkg/web"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the story browser",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}

	cat, err := openCatalog(cfg)
	if err != nil {
		return err
	}
	defer cat.Close()

	st := studio.New(cat, dialer(cfg),
		studio.WithLogger(logger.Named("studio")),
		studio.WithSessionConfig(cfg.Session()),
	)
	defer st.Close()

	e := web.New(st, logger.Named("web"))

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := cat.Watch(ctx, cfg.DataDir); err != nil {
			logger.Warn("catalog reload disabled", zap.Error(err))
		}
	}()

	errc := make(chan error, 1)
	go func() {
		logger.Info("story browser started", zap.String("addr", cfg.Addr))
		if err := e.Start(cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down story browser")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	return e.Shutdown(shutdownCtx)
}
