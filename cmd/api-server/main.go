package main

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	appkg "github.com/xenking/storefront/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := appkg.LoadConfig()
		if err != nil {
			return errors.Wrap(err, "storefront config")
		}
		lg.Info("Starting storefront",
			zap.Bool("idempotency", cfg.Redis.Addr != ""),
			zap.Bool("order_events", len(cfg.Kafka.Brokers) > 0),
			zap.Bool("shipping_quotes", cfg.Shipping.URL != ""),
		)
		return appkg.Run(ctx, lg, m, cfg)
	})
}
