package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/xhad/inkdrop/internal/app"
	cfgPkg "github.com/xhad/inkdrop/pkg/config"
	"github.com/xhad/inkdrop/server"
)

func main() {
	var configPath, addr string
	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.StringVar(&addr, "addr", "", "Listen address (default :$PORT or :8080)")
	flag.Parse()

	if addr == "" {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		addr = ":" + port
	}

	if err := run(configPath, addr); err != nil {
		log.Fatal(err)
	}
}

func run(configPath, addr string) error {
	cfg, err := cfgPkg.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ws := server.NewWSServer(server.Config{
		Pipeline: a.Pipeline,
		Defaults: a.Options(false, ""),
		Timeout:  cfg.Pipeline.Timeout,
		Logger:   logger,
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           ws.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()

	logger.Info("starting websocket server", slog.String("addr", addr), slog.String("device", cfg.Device.Kind))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
