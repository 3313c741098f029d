package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inspo/inspo/app"
	"inspo/inspo/config"
	"inspo/inspo/utils/logging"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if err := logging.InitLogger(cfg.Log.Dir, cfg.Log.Console); err != nil {
		return err
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	a, err := app.New(startCtx, cfg)
	cancel()
	if err != nil {
		logging.ErrorLogger.Error("startup failed", zap.Error(err))
		return err
	}

	// Shutdown does not track hijacked websocket connections; they end with this context.
	sockets, closeSockets := context.WithCancel(context.Background())
	defer closeSockets()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return sockets },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.AppLogger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.ErrorLogger.Error("server shutdown error", zap.Error(err))
		}
		closeSockets()
		if err := a.Close(shutdownCtx); err != nil {
			logging.ErrorLogger.Error("pending replies abandoned", zap.Error(err))
		}
		logging.AppLogger.Info("server shutdown complete")
		return nil
	})
	return g.Wait()
}
