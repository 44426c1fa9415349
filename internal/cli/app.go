package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/oh-yeah-sea-kit2/slamp/internal/cache"
	"github.com/oh-yeah-sea-kit2/slamp/internal/config"
	"github.com/oh-yeah-sea-kit2/slamp/internal/db"
	"github.com/oh-yeah-sea-kit2/slamp/internal/queue"
	"github.com/oh-yeah-sea-kit2/slamp/internal/slack"
	"github.com/oh-yeah-sea-kit2/slamp/internal/stamp"
	"github.com/oh-yeah-sea-kit2/slamp/internal/utils"
)

// app holds the long-lived collaborators a command needs. Fields a command
// does not ask for stay nil.
type app struct {
	cfg   config.Config
	http  *http.Client
	slack *slack.Client
	cache cache.Store
	store db.Backend
	queue *queue.Client
}

type appOptions struct {
	store bool
	queue bool
}

func newApp(ctx context.Context, cfg config.Config, opts appOptions) (*app, error) {
	httpClient := &http.Client{
		Timeout:   20 * time.Second,
		Transport: loggingRoundTripper{base: http.DefaultTransport},
	}
	a := &app{
		cfg:   cfg,
		http:  httpClient,
		slack: slack.NewClient(httpClient, cfg.SlackToken, cfg.SlackAPIURL),
	}

	store, err := openCache(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.cache = store

	if opts.store {
		backend, err := db.Open(ctx, cfg)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("db error: %w", err)
		}
		a.store = backend
		utils.Info("db connected", "driver", cfg.DBDriver)
	}

	if opts.queue && cfg.RabbitMQURL != "" {
		client, err := queue.New(cfg.RabbitMQURL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("queue error: %w", err)
		}
		a.queue = client
		utils.Info("queue connected", "queue", cfg.RabbitMQQueue)
	}
	return a, nil
}

func openCache(ctx context.Context, cfg config.Config) (cache.Store, error) {
	switch cfg.CacheBackend {
	case config.CacheRedis:
		store, err := cache.NewRedisStore(ctx, cfg.CacheURL)
		if err != nil {
			return nil, fmt.Errorf("cache error (%s): %w", config.RedactURL(cfg.CacheURL), err)
		}
		utils.Info("cache connected", "backend", "redis", "url", config.RedactURL(cfg.CacheURL))
		return store, nil
	case config.CacheNone:
		utils.Warn("cache disabled; every command fetches from slack")
		return cache.NopStore{}, nil
	default:
		return cache.NewMemoryStore(), nil
	}
}

func (a *app) close() {
	if a.queue != nil {
		_ = a.queue.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
}

// usageRecorder prefers the broker so the database stays off the request
// path; without one, usage goes straight to the store.
func (a *app) usageRecorder() stamp.UsageRecorder {
	if a.queue != nil {
		return queue.NewUsagePublisher(a.queue, a.cfg.RabbitMQQueue)
	}
	if a.store != nil {
		return a.store
	}
	return nil
}

func (a *app) identity() (stamp.IdentityResolver, error) {
	switch a.cfg.StampIdentity {
	case config.IdentityDurable:
		if a.store == nil {
			return nil, fmt.Errorf("stamp.identity=durable requires a database")
		}
		return stamp.NewDurableIdentity(a.store, a.cfg.RegisterURL()), nil
	default:
		return stamp.NewCachedIdentity(a.cache, a.slack), nil
	}
}

func (a *app) orchestrator() (*stamp.Orchestrator, error) {
	identity, err := a.identity()
	if err != nil {
		return nil, err
	}
	return stamp.NewOrchestrator(
		stamp.Options{Command: a.cfg.StampCommand, VerificationToken: a.cfg.SlackVerificationToken},
		stamp.NewEmojiResolver(a.cache, a.slack),
		identity,
		a.slack,
		a.usageRecorder(),
	), nil
}
