package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oh-yeah-sea-kit2/slamp/internal/config"
	"github.com/oh-yeah-sea-kit2/slamp/internal/queue"
	"github.com/oh-yeah-sea-kit2/slamp/internal/stamp"
	"github.com/oh-yeah-sea-kit2/slamp/internal/utils"
)

// runEmojiRefresh refetches the catalog and rewrites the shared cache entry.
func runEmojiRefresh(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("Emoji:Refresh", flag.ContinueOnError)
	verbose := fs.Bool("verbose", utils.Verbose, "Verbose logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	utils.ConfigureLogging(*verbose)

	if cfg.CacheBackend != config.CacheRedis {
		utils.Warn("emoji refresh with a process-local cache has no lasting effect", "cache", cfg.CacheBackend)
	}
	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	catalog, err := stamp.NewEmojiResolver(a.cache, a.slack).Refresh(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Cached %d emoji under %s (ttl %s)\n", len(catalog), stamp.EmojiCacheKey, stamp.EmojiCacheTTL)
	return nil
}

func runUsageConsume(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("Usage:Consume", flag.ContinueOnError)
	sleep := fs.Int("sleep", 30, "Sleep time in seconds when the queue is empty")
	once := fs.Bool("once", false, "Exit after draining the queue")
	verbose := fs.Bool("verbose", utils.Verbose, "Verbose logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	utils.ConfigureLogging(*verbose)

	if cfg.RabbitMQURL == "" {
		return errors.New("missing rabbitmq url (set rabbitmq.url or RABBITMQ_URL)")
	}
	a, err := newApp(ctx, cfg, appOptions{store: true, queue: true})
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	stored, err := queue.ConsumeUsage(ctx, a.queue, a.store, queue.ConsumeOptions{
		Queue: cfg.RabbitMQQueue,
		Sleep: time.Duration(*sleep) * time.Second,
		Once:  *once,
	})
	utils.Info("usage consume stopped", "queue", cfg.RabbitMQQueue, "stored", stored)
	return err
}

func runStampTop(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("Stamp:Top", flag.ContinueOnError)
	team := fs.String("team", "", "Workspace (team id) to report on")
	limit := fs.Int("limit", 10, "Number of rows")
	verbose := fs.Bool("verbose", utils.Verbose, "Verbose logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	utils.ConfigureLogging(*verbose)

	if *team == "" {
		return errors.New("--team is required")
	}

	a, err := newApp(ctx, cfg, appOptions{store: true})
	if err != nil {
		return err
	}
	defer a.close()

	rows, err := a.store.TopStamps(ctx, *team, *limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("No stamps recorded yet.")
		return nil
	}
	for i, row := range rows {
		fmt.Printf("%3d. :%s: %d\n", i+1, row.Emoji, row.Count)
	}
	return nil
}
