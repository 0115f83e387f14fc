package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/realestate-escrow/backend/internal/config"
	"github.com/realestate-escrow/backend/internal/db"
	"github.com/realestate-escrow/backend/internal/events"
	"github.com/realestate-escrow/backend/internal/services"
	"go.uber.org/zap"
)

// Notify bridge subscribes to listing and property events in Redis and
// forwards each one to WEBHOOK_URL.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	if cfg.WebhookURL == "" {
		log.Fatal("WEBHOOK_URL is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)
	webhook := services.NewWebhookClient(cfg.WebhookURL, cfg.WebhookSecret, cfg.WebhookTimeout, log)

	log.Info("notify-bridge started")

	for _, channel := range []string{events.ChannelListing, events.ChannelProperty} {
		err := subscriber.Subscribe(ctx, channel, func(event events.Event) {
			log.Info("forwarding event", zap.String("channel", channel), zap.String("type", event.Type))
			if err := webhook.Notify(ctx, channel, event); err != nil {
				log.Warn("failed to forward event", zap.String("type", event.Type), zap.Error(err))
			}
		})
		if err != nil {
			log.Fatal("failed to subscribe", zap.String("channel", channel), zap.Error(err))
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down notify-bridge")
	cancel()
}
