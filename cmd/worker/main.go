package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Domenick1991/airticket/config"
	"github.com/Domenick1991/airticket/internal/bootstrap"
	"github.com/Domenick1991/airticket/internal/domain"
	"github.com/Domenick1991/airticket/internal/email"
	"github.com/Domenick1991/airticket/internal/kafka"
	"github.com/Domenick1991/airticket/internal/logger"
	"github.com/sirupsen/logrus"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logger.New(cfg.Log).WithField("component", "worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	services, err := bootstrap.NewServices(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("build services")
	}
	defer services.Close()

	if len(cfg.Kafka.Brokers) > 0 {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, []string{cfg.Kafka.BookingEventsTopic}, log)
		defer consumer.Close()

		sender := email.NewSender(log)
		go func() {
			if err := consumer.Consume(ctx, handleEvent(sender, log)); err != nil {
				log.WithError(err).Error("consumer stopped")
			}
		}()
	} else {
		log.Warn("no kafka brokers configured, notifications are not consumed")
	}

	expireTicker := time.NewTicker(time.Duration(cfg.Worker.ExpirationSweepMinutes) * time.Minute)
	defer expireTicker.Stop()
	completeTicker := time.NewTicker(time.Duration(cfg.Worker.CompletionSweepMinutes) * time.Minute)
	defer completeTicker.Stop()

	for {
		select {
		case <-expireTicker.C:
			sweep(log, "expiry", func() ([]domain.Booking, error) {
				return services.Bookings.ExpirePendingBookings(ctx)
			})
		case <-completeTicker.C:
			sweep(log, "completion", func() ([]domain.Booking, error) {
				return services.Bookings.CompleteDepartedBookings(ctx)
			})
		case <-ctx.Done():
			log.Info("shutting down")
			return
		}
	}
}

func sweep(log logrus.FieldLogger, name string, run func() ([]domain.Booking, error)) {
	moved, err := run()
	if err != nil {
		log.WithError(err).WithField("sweep", name).Error("sweep failed")
		return
	}
	if len(moved) > 0 {
		log.WithFields(logrus.Fields{"sweep": name, "bookings": len(moved)}).Info("sweep moved bookings")
	}
}

// handleEvent mails customer events and logs operator alerts. The alert topic
// carries a second copy of every alert for paging and is not consumed here.
func handleEvent(sender *email.Sender, log logrus.FieldLogger) func(context.Context, kafka.BookingEvent) error {
	return func(ctx context.Context, event kafka.BookingEvent) error {
		entry := log.WithFields(logrus.Fields{
			"booking_id": event.BookingID,
			"event":      event.Type,
			"severity":   event.Severity,
		})
		if event.IsOperatorAlert() {
			entry.WithField("message", event.Message).Error("operator alert")
			return nil
		}
		if err := sender.Send(ctx, event); err != nil {
			entry.WithError(err).Warn("customer email not sent")
		}
		return nil
	}
}
