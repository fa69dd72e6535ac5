// Command pay runs the payment service, which imports labeled charges and
// erases them on request. Charges arrive over HTTP, and also over gRPC when
// SHADOW_GRPC_ADDR is set.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"shadowrt/internal/bootstrap"
	payapp "shadowrt/internal/pay/app"
	"shadowrt/internal/platform/config"
	"shadowrt/internal/platform/grpcserver"
	"shadowrt/internal/platform/httpserver"
	"shadowrt/internal/platform/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pay:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if os.Getenv("SHADOW_APP_NAME") == "" {
		cfg.App = "Pay"
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	router, err := payapp.Mount(ctx, svc)
	if err != nil {
		return err
	}

	log.InfoContext(ctx, "starting pay", "app", cfg.App, "addr", cfg.Addr, "grpc_addr", cfg.GRPCAddr, "store", cfg.Store.Driver)
	if cfg.GRPCAddr == "" {
		return httpserver.Run(ctx, httpserver.New(cfg.Addr, router), log)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpserver.Run(gctx, httpserver.New(cfg.Addr, router), log) })
	g.Go(func() error { return grpcserver.Run(gctx, cfg.GRPCAddr, payapp.GRPCServer(svc), log) })
	return g.Wait()
}
