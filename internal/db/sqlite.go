package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/oh-yeah-sea-kit2/slamp/internal/stamp"
	"github.com/oh-yeah-sea-kit2/slamp/internal/utils"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the single-node alternative to Store. Its schema is created
// on open.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := utils.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS slack_users (
		user_id      TEXT PRIMARY KEY,
		team_id      TEXT NOT NULL DEFAULT '',
		name         TEXT NOT NULL DEFAULT '',
		avatar_url   TEXT NOT NULL DEFAULT '',
		access_token TEXT NOT NULL DEFAULT '',
		scope        TEXT NOT NULL DEFAULT '',
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS slack_installations (
		team_id      TEXT PRIMARY KEY,
		team_name    TEXT NOT NULL DEFAULT '',
		bot_user_id  TEXT NOT NULL DEFAULT '',
		bot_token    TEXT NOT NULL DEFAULT '',
		scope        TEXT NOT NULL DEFAULT '',
		installed_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS stamp_usages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		team_id    TEXT NOT NULL DEFAULT '',
		user_id    TEXT NOT NULL,
		channel_id TEXT NOT NULL DEFAULT '',
		emoji      TEXT NOT NULL,
		posted_at  DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_stamp_usages_team ON stamp_usages(team_id, emoji);
	`)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) FindUser(ctx context.Context, userID string) (stamp.UserProfile, bool, error) {
	utils.Debug("sqlite find slack user", "user_id", userID)
	var p stamp.UserProfile
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, team_id, name, avatar_url, access_token, scope
		FROM slack_users
		WHERE user_id = ?
	`, userID).Scan(&p.ID, &p.TeamID, &p.Name, &p.AvatarURL, &p.AccessToken, &p.Scope)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return stamp.UserProfile{}, false, nil
		}
		return stamp.UserProfile{}, false, err
	}
	return p, true, nil
}

func (s *SQLiteStore) UpsertUser(ctx context.Context, p stamp.UserProfile) error {
	if p.ID == "" {
		return errors.New("missing user id")
	}
	utils.Debug("sqlite upsert slack user", "user_id", p.ID, "team_id", p.TeamID)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO slack_users (user_id, team_id, name, avatar_url, access_token, scope)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			team_id = excluded.team_id,
			name = excluded.name,
			avatar_url = excluded.avatar_url,
			access_token = excluded.access_token,
			scope = excluded.scope,
			updated_at = CURRENT_TIMESTAMP
	`, p.ID, p.TeamID, p.Name, p.AvatarURL, p.AccessToken, p.Scope)
	return err
}

func (s *SQLiteStore) UpsertSlackInstallation(ctx context.Context, inst SlackInstallation) error {
	utils.Debug("sqlite upsert slack installation", "team_id", inst.TeamID)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO slack_installations (team_id, team_name, bot_user_id, bot_token, scope)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (team_id) DO UPDATE SET
			team_name = excluded.team_name,
			bot_user_id = excluded.bot_user_id,
			bot_token = excluded.bot_token,
			scope = excluded.scope,
			updated_at = CURRENT_TIMESTAMP
	`, inst.TeamID, inst.TeamName, inst.BotUserID, inst.BotToken, inst.Scope)
	return err
}

func (s *SQLiteStore) RecordUsage(ctx context.Context, e stamp.UsageEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stamp_usages (team_id, user_id, channel_id, emoji, posted_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.TeamID, e.UserID, e.ChannelID, e.Emoji, e.PostedAt.UTC().Format(time.RFC3339))
	return err
}

func (s *SQLiteStore) TopStamps(ctx context.Context, teamID string, limit int) ([]StampCount, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT emoji, COUNT(*)
		FROM stamp_usages
		WHERE team_id = ?
		GROUP BY emoji
		ORDER BY COUNT(*) DESC, emoji
		LIMIT ?
	`, teamID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StampCount
	for rows.Next() {
		var c StampCount
		if err := rows.Scan(&c.Emoji, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
