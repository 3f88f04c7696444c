package api

import (
	"time"

	"github.com/Domenick1991/airticket/internal/auth"
	"github.com/Domenick1991/airticket/internal/service/booking"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type RouterConfig struct {
	Bookings       booking.BookingUseCase
	Webhooks       WebhookProcessor
	Quoter         Quoter
	Verifier       *auth.Verifier
	Idempotency    IdempotencyStore
	IdempotencyTTL time.Duration
	AllowedOrigins []string
	Log            logrus.FieldLogger
}

// NewRouter builds the public /api/v1 surface.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(cfg.Log))

	corsCfg := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", IdempotencyHeader)
	router.Use(cors.New(corsCfg))

	v1 := router.Group("/api/v1")

	var checkoutMiddleware []gin.HandlerFunc
	if cfg.Idempotency != nil {
		checkoutMiddleware = append(checkoutMiddleware, Idempotency(cfg.Idempotency, cfg.IdempotencyTTL, cfg.Log))
	}
	bookings := v1.Group("/bookings", auth.Authenticate(cfg.Verifier, false, cfg.Log), RequestMeta())
	NewBookingHandler(cfg.Bookings).Register(bookings, checkoutMiddleware...)

	if cfg.Quoter != nil {
		NewOfferHandler(cfg.Quoter).Register(v1.Group("/offers"))
	}

	webhooks := v1.Group("/webhooks", RequestMeta())
	NewWebhookHandler(cfg.Webhooks).Register(webhooks)

	admin := v1.Group("/admin",
		auth.Authenticate(cfg.Verifier, true, cfg.Log),
		auth.RequireRole(auth.RoleAdmin),
		RequestMeta(),
	)
	NewAdminHandler(cfg.Bookings).Register(admin)

	return router
}
