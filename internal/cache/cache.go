// Package cache is the key/value store with expiring entries used to avoid
// repeated Slack Web API calls.
package cache

import (
	"context"
	"time"
)

// Store is a string key/value store. Implementations must be safe for
// concurrent use by many in-flight commands.
type Store interface {
	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)
	// Get returns the value and true, or "" and false when the key is absent.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value without expiry.
	Set(ctx context.Context, key, value string) error
	// SetWithTTL stores value and lets the backend expire it after ttl.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Close() error
}

// NopStore never holds anything. Every read is a miss and writes are dropped.
type NopStore struct{}

func (NopStore) Exists(context.Context, string) (bool, error)      { return false, nil }
func (NopStore) Get(context.Context, string) (string, bool, error) { return "", false, nil }
func (NopStore) Set(context.Context, string, string) error         { return nil }
func (NopStore) SetWithTTL(context.Context, string, string, time.Duration) error {
	return nil
}
func (NopStore) Close() error { return nil }
