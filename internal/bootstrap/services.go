package bootstrap

import (
	"context"
	"fmt"

	"github.com/Domenick1991/airticket/config"
	"github.com/Domenick1991/airticket/internal/audit"
	"github.com/Domenick1991/airticket/internal/cache"
	"github.com/Domenick1991/airticket/internal/kafka"
	"github.com/Domenick1991/airticket/internal/notify"
	"github.com/Domenick1991/airticket/internal/provider"
	"github.com/Domenick1991/airticket/internal/repository"
	"github.com/Domenick1991/airticket/internal/service/booking"
	"github.com/Domenick1991/airticket/internal/service/payment"
	"github.com/Domenick1991/airticket/internal/service/pricing"
	"github.com/Domenick1991/airticket/internal/service/reconcile"
	"github.com/Domenick1991/airticket/internal/service/ticketing"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// Services is the booking pipeline shared by the API and the worker.
type Services struct {
	Bookings   *booking.BookingService
	Reconciler *reconcile.Reconciler
	Gate       *pricing.Gate
	Cache      *cache.RedisCache

	closers []func()
}

func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// NewServices connects the stores selected by cfg and builds the services on
// top of them. Redis and Kafka are optional: without them quotes are not
// cached, webhook deliveries are deduplicated by state alone and events are
// only logged.
func NewServices(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*Services, error) {
	s := &Services{}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	var (
		bookings repository.BookingRepository
		auditor  = audit.NewRecorder(nil, log)
	)
	switch cfg.Storage.Driver {
	case "memory":
		log.Warn("using in-memory storage, bookings are lost on restart")
		bookings = repository.NewMemoryBookingRepository()
	default:
		pool, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		bookings = repository.NewBookingRepository(pool)

		auditDB, err := audit.Connect(cfg.Database.DSN())
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = auditDB.Close() })
		auditor = audit.NewRecorder(audit.NewRepository(auditDB), log)
		// runs before the DB closer so queued entries are flushed first
		s.closers = append(s.closers, auditor.Close)
	}

	var notifier notify.Sink = notify.NewLogSink(log)
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
		s.closers = append(s.closers, func() { _ = producer.Close() })
		notifier = notify.NewKafkaSink(producer, cfg.Kafka.BookingEventsTopic, cfg.Kafka.OperatorAlertTopic, log)
	}

	var (
		gateOpts      []pricing.Option
		reconcileOpts []reconcile.Option
	)
	if cfg.Redis.Addr != "" {
		s.Cache = cache.NewRedisCache(cfg.Redis, cfg.Booking.QuoteCacheTTL())
		s.closers = append(s.closers, func() { _ = s.Cache.Close() })
		if err := s.Cache.Ping(ctx); err != nil {
			log.WithError(err).Warn("redis unreachable at startup")
		}
		gateOpts = append(gateOpts, pricing.WithQuoteCache(s.Cache))
		reconcileOpts = append(reconcileOpts, reconcile.WithEventMarker(s.Cache, cfg.Booking.WebhookMarkerTTL()))
	}

	payments := provider.NewPaymentClient(provider.NewClient("payment", cfg.Payment.BaseURL, cfg.Payment.APIKey, cfg.Payment.Timeout(), log))
	tickets := provider.NewTicketingClient(provider.NewClient("ticketing", cfg.Ticketing.BaseURL, cfg.Ticketing.APIKey, cfg.Ticketing.Timeout(), log))
	search := provider.NewFlightSearchClient(provider.NewClient("flight_search", cfg.FlightSearch.BaseURL, cfg.FlightSearch.APIKey, cfg.FlightSearch.Timeout(), log))
	verifier := provider.NewWebhookVerifier(cfg.Payment.WebhookSecret, cfg.Payment.SignatureWindow())

	s.Gate = pricing.NewGate(search, pricing.Tolerance{
		AbsoluteMinor: cfg.Booking.PriceToleranceMinor,
		Percent:       cfg.Booking.PriceTolerancePercent,
	}, log, gateOpts...)
	links := payment.NewLinkIssuer(payments, bookings, auditor, cfg.Payment.ReturnURL, log)
	issuer := ticketing.NewIssuer(tickets, bookings, notifier, auditor, cfg.Booking.TicketingLease(), log)
	s.Reconciler = reconcile.NewReconciler(bookings, payments, issuer, verifier, notifier, auditor, log, reconcileOpts...)

	serviceOpts := []booking.BookingServiceOption{
		booking.WithReconciler(s.Reconciler),
		booking.WithSweepBatch(cfg.Worker.SweepBatchSize),
	}
	if cfg.Storage.Driver != "memory" {
		serviceOpts = append(serviceOpts, booking.WithAuditReader(auditor))
	}
	s.Bookings = booking.NewBookingService(bookings, s.Gate, links, notifier, auditor, cfg.Booking.PendingTTL(), log, serviceOpts...)

	ok = true
	return s, nil
}
