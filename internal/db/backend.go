package db

import (
	"context"
	"fmt"

	"github.com/oh-yeah-sea-kit2/slamp/internal/config"
	"github.com/oh-yeah-sea-kit2/slamp/internal/stamp"
)

// Backend is what the server and CLI need from either database.
type Backend interface {
	stamp.UserStore
	stamp.UsageRecorder
	UpsertSlackInstallation(ctx context.Context, inst SlackInstallation) error
	TopStamps(ctx context.Context, teamID string, limit int) ([]StampCount, error)
	Close() error
}

var (
	_ Backend = (*Store)(nil)
	_ Backend = (*SQLiteStore)(nil)
)

// Open connects to the database selected by db.driver.
func Open(ctx context.Context, cfg config.Config) (Backend, error) {
	switch cfg.DBDriver {
	case config.DBSQLite:
		return NewSQLiteStore(cfg.DBSQLitePath)
	case config.DBPostgres, "":
		return NewStore(ctx, cfg.DBConnString())
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.DBDriver)
	}
}
