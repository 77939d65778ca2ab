package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "MarketChat/global/config"
	"MarketChat/logger"

	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("c", os.Getenv("CHAT_CONFIG"), "config file (yaml)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Error("[Main] load config", zap.Error(err))
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.ConfigAll(ctx, cfg); err != nil {
		logger.Error("[Main] bootstrap", zap.Error(err))
		os.Exit(1)
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		logger.Error("[Main] build app", zap.Error(err))
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           newRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("[Main] listening", zap.String("addr", srv.Addr), zap.String("node", cfg.NodeID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("[Main] http server", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("[Main] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	a.Close()
}
