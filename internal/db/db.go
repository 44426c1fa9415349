package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oh-yeah-sea-kit2/slamp/internal/stamp"
	"github.com/oh-yeah-sea-kit2/slamp/internal/utils"
)

// Store is the Postgres-backed durable store.
type Store struct {
	pool *pgxpool.Pool
}

type SlackInstallation struct {
	TeamID    string
	TeamName  string
	BotUserID string
	BotToken  string
	Scope     string
}

// StampCount is one row of the usage leaderboard.
type StampCount struct {
	Emoji string
	Count int
}

func NewStore(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) FindUser(ctx context.Context, userID string) (stamp.UserProfile, bool, error) {
	utils.Debug("db find slack user", "user_id", userID)
	var p stamp.UserProfile
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, team_id, name, avatar_url, access_token, scope
		FROM slack_users
		WHERE user_id = $1
	`, userID).Scan(&p.ID, &p.TeamID, &p.Name, &p.AvatarURL, &p.AccessToken, &p.Scope)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return stamp.UserProfile{}, false, nil
		}
		return stamp.UserProfile{}, false, err
	}
	return p, true, nil
}

func (s *Store) UpsertUser(ctx context.Context, p stamp.UserProfile) error {
	if p.ID == "" {
		return errors.New("missing user id")
	}
	utils.Debug("db upsert slack user", "user_id", p.ID, "team_id", p.TeamID)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO slack_users (user_id, team_id, name, avatar_url, access_token, scope, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			team_id = EXCLUDED.team_id,
			name = EXCLUDED.name,
			avatar_url = EXCLUDED.avatar_url,
			access_token = EXCLUDED.access_token,
			scope = EXCLUDED.scope,
			updated_at = NOW()
	`, p.ID, p.TeamID, p.Name, p.AvatarURL, p.AccessToken, p.Scope)
	return err
}

func (s *Store) UpsertSlackInstallation(ctx context.Context, inst SlackInstallation) error {
	utils.Debug("db upsert slack installation", "team_id", inst.TeamID)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO slack_installations (team_id, team_name, bot_user_id, bot_token, scope, installed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (team_id) DO UPDATE SET
			team_name = EXCLUDED.team_name,
			bot_user_id = EXCLUDED.bot_user_id,
			bot_token = EXCLUDED.bot_token,
			scope = EXCLUDED.scope,
			updated_at = NOW()
	`, inst.TeamID, inst.TeamName, inst.BotUserID, inst.BotToken, inst.Scope)
	return err
}

func (s *Store) RecordUsage(ctx context.Context, e stamp.UsageEvent) error {
	utils.Debug("db insert stamp usage", "user_id", e.UserID, "emoji", e.Emoji)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stamp_usages (team_id, user_id, channel_id, emoji, posted_at)
		VALUES ($1, $2, $3, $4, $5)
	`, e.TeamID, e.UserID, e.ChannelID, e.Emoji, e.PostedAt)
	return err
}

func (s *Store) TopStamps(ctx context.Context, teamID string, limit int) ([]StampCount, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT emoji, COUNT(*)
		FROM stamp_usages
		WHERE team_id = $1
		GROUP BY emoji
		ORDER BY COUNT(*) DESC, emoji
		LIMIT $2
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
