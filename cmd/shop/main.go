// Command shop runs the shop service and the deletion cascade that reaches
// the payment service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"shadowrt/internal/bootstrap"
	shopapp "shadowrt/internal/shop/app"
	"shadowrt/internal/platform/config"
	"shadowrt/internal/platform/httpserver"
	"shadowrt/internal/platform/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "shop:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if os.Getenv("SHADOW_APP_NAME") == "" {
		cfg.App = "Shop"
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	router, err := shopapp.Mount(ctx, svc)
	if err != nil {
		return err
	}

	log.InfoContext(ctx, "starting shop", "app", cfg.App, "addr", cfg.Addr, "store", cfg.Store.Driver)
	return httpserver.Run(ctx, httpserver.New(cfg.Addr, router), log)
}
