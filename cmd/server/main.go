// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

// Attriflow server: webhook ingestion, order attribution, historical
// backfill and retention maintenance behind one HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/attriflow/attriflow/internal/api"
	"github.com/attriflow/attriflow/internal/backfill"
	"github.com/attriflow/attriflow/internal/commerce"
	"github.com/attriflow/attriflow/internal/config"
	"github.com/attriflow/attriflow/internal/database"
	"github.com/attriflow/attriflow/internal/ingest"
	"github.com/attriflow/attriflow/internal/logging"
	"github.com/attriflow/attriflow/internal/pipeline"
	"github.com/attriflow/attriflow/internal/retention"
	"github.com/attriflow/attriflow/internal/scheduler"
	"github.com/attriflow/attriflow/internal/settings"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Int("shops", len(cfg.Shops)).Msg("starting attriflow")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := database.Open(ctx, database.Config{
		DSN:            cfg.Database.DSN,
		MaxOpenConns:   cfg.Database.MaxOpenConns,
		ConnectTimeout: cfg.Database.ConnectTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Warn().Err(err).Msg("error closing database")
		}
	}()

	// Register the configured shops so sweeps and the API know them.
	for _, shop := range cfg.Shops {
		if err := db.UpsertShop(ctx, shop.Domain, shop.Timezone); err != nil {
			logging.Fatal().Err(err).Str("shop", shop.Domain).Msg("failed to register shop")
		}
	}

	pipeStore := pipeline.NewStore(db, database.IsSerializationFailure)
	ruleManager := settings.NewManager(db)

	queue, err := ingest.NewQueue(ingest.Config{
		BufferSize:   cfg.Queue.BufferSize,
		CloseTimeout: cfg.Queue.CloseTimeout,
	}, db)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create webhook queue")
	}
	processor := ingest.NewProcessor(db, ruleManager, pipeStore)
	processor.Register(queue)

	resolver := commerceResolver(cfg)
	backfillManager := backfill.NewManager(db, db, processor, resolver, pipeStore, backfill.Config{
		MaxOrders:   cfg.Backfill.MaxOrders,
		MaxDuration: cfg.Backfill.MaxDuration,
	})

	purger := retention.NewPurger(db, pipeStore, retention.Config{
		Months:     cfg.Retention.Months,
		BatchSize:  cfg.Retention.BatchSize,
		BatchDelay: cfg.Retention.BatchDelay,
	})

	sched := scheduler.New(db, db, purger, backfillManager, scheduler.Config{
		Interval:          cfg.Scheduler.Interval,
		InitialDelay:      cfg.Scheduler.InitialDelay,
		BackfillCooldown:  cfg.Backfill.Cooldown,
		BackfillRangeDays: cfg.Backfill.RangeDays,
		RetentionEnabled:  cfg.Retention.SweepEnabled,
		BackfillEnabled:   cfg.Backfill.SweepEnabled,
	})

	server := api.NewServer(api.Config{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		Timeout:           cfg.Server.Timeout,
		WebhookSecret:     cfg.Server.WebhookSecret,
		RateLimit:         cfg.Server.RateLimit,
		BackfillRangeDays: cfg.Backfill.RangeDays,
	}, queue, backfillManager, purger, ruleManager, pipeStore, db, db, knownShops(cfg))

	handler := &sutureslog.Handler{Logger: logging.NewSlogLogger()}
	root := suture.New("attriflow", suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	})
	root.Add(queue)
	root.Add(sched)

	errCh := root.ServeBackground(ctx)

	// The HTTP server starts only after the queue consumer subscribes: the
	// in-memory transport drops messages published without a subscriber.
	select {
	case <-queue.Running():
		root.Add(server)
	case <-ctx.Done():
	}

	if err := <-errCh; err != nil && ctx.Err() == nil {
		logging.Fatal().Err(err).Msg("supervisor exited")
	}
	logging.Info().Msg("attriflow stopped")
}

// commerceResolver maps shop domains to their configured admin API clients.
// Clients are built once at startup; resolution of an unknown shop fails.
func commerceResolver(cfg *config.Config) commerce.Resolver {
	clients := make(map[string]*commerce.Client, len(cfg.Shops))
	for _, shop := range cfg.Shops {
		clients[strings.ToLower(shop.Domain)] = commerce.NewClient(commerce.Config{
			BaseURL:           shop.APIBaseURL,
			AccessToken:       shop.AccessToken,
			PageSize:          cfg.Commerce.PageSize,
			RequestsPerSecond: cfg.Commerce.RequestsPerSecond,
			Timeout:           cfg.Commerce.Timeout,
		})
	}
	return func(_ context.Context, shop string) (commerce.OrderLister, error) {
		client, ok := clients[strings.ToLower(shop)]
		if !ok {
			return nil, fmt.Errorf("no admin API credentials configured for %s", shop)
		}
		return client, nil
	}
}

// knownShops builds the API's shop gate from the static configuration.
func knownShops(cfg *config.Config) api.ShopResolver {
	known := make(map[string]bool, len(cfg.Shops))
	for _, shop := range cfg.Shops {
		known[strings.ToLower(shop.Domain)] = true
	}
	return func(_ context.Context, shop string) bool {
		return known[strings.ToLower(shop)]
	}
}
