package stamp

import (
	"context"
	"time"
)

// Command is one inbound slash-command invocation.
type Command struct {
	Token       string
	Command     string
	Text        string
	UserName    string
	UserID      string
	ChannelID   string
	TeamID      string
	ResponseURL string
}

// Catalog maps emoji names to image URLs (or "alias:<name>").
type Catalog map[string]string

// UserProfile is the identity a stamp is posted under.
type UserProfile struct {
	ID          string `json:"id"`
	TeamID      string `json:"team_id,omitempty"`
	Name        string `json:"name"`
	AvatarURL   string `json:"avatar_url"`
	AccessToken string `json:"access_token,omitempty"`
	Scope       string `json:"scope,omitempty"`
}

// OutboundMessage is composed per command and sent once. It is never stored.
type OutboundMessage struct {
	ChannelID string
	ImageURL  string
	Emoji     string
	// Username and IconURL override the bot identity when AsUser is false.
	Username string
	IconURL  string
	// AccessToken posts with the user's own credential when AsUser is true.
	AccessToken string
	AsUser      bool
}

// Reply is the acknowledgement for the original command.
type Reply struct {
	Text    string
	IsError bool
}

// UsageEvent records a successfully posted stamp.
type UsageEvent struct {
	TeamID    string    `json:"team_id"`
	UserID    string    `json:"user_id"`
	ChannelID string    `json:"channel_id"`
	Emoji     string    `json:"emoji"`
	PostedAt  time.Time `json:"posted_at"`
}

// Directory is the read side of the Slack Web API.
type Directory interface {
	ListEmoji(ctx context.Context) (Catalog, error)
	GetUser(ctx context.Context, userID string) (UserProfile, error)
}

// Poster sends the outbound message.
type Poster interface {
	PostStamp(ctx context.Context, msg OutboundMessage) error
}

// UserStore is the durable per-user record written by the OAuth sign-up flow.
type UserStore interface {
	// FindUser returns found=false when no record exists for userID.
	FindUser(ctx context.Context, userID string) (profile UserProfile, found bool, err error)
	UpsertUser(ctx context.Context, profile UserProfile) error
}

// UsageRecorder receives usage events after a successful post.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, event UsageEvent) error
}
