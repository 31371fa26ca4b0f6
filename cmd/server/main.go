package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/partyplay/room-server/internal/httpapi"
	"github.com/partyplay/room-server/internal/registry"
	"github.com/partyplay/room-server/internal/transport"
	"github.com/partyplay/room-server/internal/transport/lan"
)

type config struct {
	Addr          string        `env:"ADDR" envDefault:":8080"`
	LANAddr       string        `env:"LAN_ADDR" envDefault:":7777"`
	LANEnabled    bool          `env:"LAN_ENABLED" envDefault:"true"`
	RoomTimeout   time.Duration `env:"ROOM_TIMEOUT" envDefault:"30m"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`
	BoardLength   int           `env:"BOARD_LENGTH" envDefault:"40"`
	Dev           bool          `env:"DEV" envDefault:"false"`
}

func main() {
	_ = godotenv.Load()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("parse config: %v", err)
	}

	logger, err := buildLogger(cfg.Dev)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.New(ctx, registry.Config{
		RoomTimeout:   cfg.RoomTimeout,
		SweepInterval: cfg.SweepInterval,
		BoardLength:   cfg.BoardLength,
	}, logger)
	defer reg.Shutdown()

	rt := transport.NewRouter(reg, logger)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.SetupRoutes(reg, rt, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("relay listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.LANEnabled {
		lanSrv := lan.New(cfg.LANAddr, rt, logger)
		g.Go(func() error {
			logger.Info("lan listening", zap.String("addr", cfg.LANAddr))
			return lanSrv.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
