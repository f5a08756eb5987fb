// Package cmd implements the CLI commands.
package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/commentflow/internal/ai"
	"github.com/commentflow/internal/api"
	"github.com/commentflow/internal/config"
	"github.com/commentflow/internal/database"
	"github.com/commentflow/internal/instagram"
	"github.com/commentflow/internal/jobqueue"
	"github.com/commentflow/internal/lock"
	"github.com/commentflow/internal/logging"
	"github.com/commentflow/internal/notify"
	"github.com/commentflow/internal/pipeline"
	"github.com/commentflow/internal/store"
)

// app holds everything a command needs after bootstrap.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool
	store  *store.Store
	locks  *lock.Manager
	queue  *jobqueue.Queue
	server *api.Server
}

func (a *app) close() {
	if a.locks != nil {
		a.locks.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// bootstrap loads config, connects infrastructure and wires the full
// dependency graph. Both the worker and the api command share it; the
// api command simply never starts the queue's workers.
func bootstrap(ctx context.Context, c *cli.Context) (*app, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if c.IsSet("port") {
		cfg.API.Port = c.Int("port")
	}

	logger := logging.Setup(cfg.Log.Level)

	pool, err := database.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	locks, err := lock.NewManager(cfg.Redis.URL, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	st := store.New(pool)

	connector, err := ai.NewConnector(ctx, ai.ConnectorOptions{
		Provider:    ai.Provider(cfg.AI.Provider),
		APIKey:      cfg.AI.APIKey,
		BaseURL:     cfg.AI.BaseURL,
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
		MaxTokens:   cfg.AI.MaxTokens,
	})
	if err != nil {
		locks.Close()
		pool.Close()
		return nil, fmt.Errorf("create ai connector: %w", err)
	}

	graph := instagram.New(instagram.Options{
		BaseURL:     cfg.Instagram.BaseURL,
		AccessToken: cfg.Instagram.AccessToken,
		Logger:      logger,
	})

	var notifier notify.Notifier = notify.NewTelegram(notify.TelegramOptions{
		BotToken: cfg.Telegram.BotToken,
		ChatID:   cfg.Telegram.ChatID,
		Logger:   logger,
	})

	queue, _, err := jobqueue.New(jobqueue.Options{
		Pool:               pool,
		Store:              st,
		Notifier:           notifier,
		Logger:             logger,
		AIWorkers:          cfg.Queue.AIWorkers,
		PlatformWorkers:    cfg.Queue.PlatformWorkers,
		MaintenanceWorkers: cfg.Queue.MaintenanceWorkers,
		SweepInterval:      cfg.Queue.SweepInterval,
		SweepBatchLimit:    cfg.Queue.SweepBatchLimit,
	}, pipeline.Deps{
		Store:      st,
		Classifier: ai.NewClassifier(connector, logger),
		Answerer:   ai.NewAnswerer(connector, logger),
		Analyzer:   ai.NewAnalyzer(connector, logger),
		Replier:    graph,
		Locks:      locks,
		Logger:     logger,
	})
	if err != nil {
		locks.Close()
		pool.Close()
		return nil, fmt.Errorf("create job queue: %w", err)
	}

	server := api.NewServer(api.Options{
		Port:        cfg.API.Port,
		Store:       st,
		Queue:       queue,
		Media:       mediaFetcher{client: graph},
		Secret:      cfg.Webhook.Secret,
		VerifyToken: cfg.Webhook.VerifyToken,
		AccountID:   cfg.Instagram.AccountID,
		Logger:      logger,
	})

	return &app{
		cfg:    cfg,
		logger: logger,
		pool:   pool,
		store:  st,
		locks:  locks,
		queue:  queue,
		server: server,
	}, nil
}

// mediaFetcher adapts the Graph API client to the ingestion interface.
type mediaFetcher struct {
	client *instagram.Client
}

func (m mediaFetcher) GetMedia(ctx context.Context, mediaID string) (api.MediaInfo, error) {
	info, err := m.client.GetMedia(ctx, mediaID)
	if err != nil {
		return api.MediaInfo{}, err
	}
	return api.MediaInfo{
		ID:        info.ID,
		MediaType: info.MediaType,
		MediaURL:  info.MediaURL,
		Caption:   info.Caption,
		Permalink: info.Permalink,
		Username:  info.Username,
	}, nil
}
