package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Domenick1991/airticket/api"
	"github.com/Domenick1991/airticket/config"
	"github.com/Domenick1991/airticket/internal/auth"
	"github.com/Domenick1991/airticket/internal/bootstrap"
	"github.com/Domenick1991/airticket/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const idempotencyTTL = 24 * time.Hour

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logger.New(cfg.Log)
	if log.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	services, err := bootstrap.NewServices(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("build services")
	}
	defer services.Close()

	routerCfg := api.RouterConfig{
		Bookings:       services.Bookings,
		Webhooks:       services.Reconciler,
		Quoter:         services.Gate,
		Verifier:       auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		IdempotencyTTL: idempotencyTTL,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Log:            log,
	}
	if services.Cache != nil {
		routerCfg.Idempotency = services.Cache
	}

	if err := bootstrap.Run(ctx, cfg, api.NewRouter(routerCfg), log); err != nil {
		log.WithError(err).Fatal("server error")
	}
}
