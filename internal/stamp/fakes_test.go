package stamp

import (
	"context"
	"errors"
	"sync"
	"time"
)

type fakeDirectory struct {
	mu         sync.Mutex
	catalog    Catalog
	users      map[string]UserProfile
	emojiErr   error
	userErr    error
	emojiCalls int
	userCalls  int
}

func (f *fakeDirectory) ListEmoji(ctx context.Context) (Catalog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emojiCalls++
	if f.emojiErr != nil {
		return nil, f.emojiErr
	}
	out := make(Catalog, len(f.catalog))
	for k, v := range f.catalog {
		out[k] = v
	}
	return out, nil
}

func (f *fakeDirectory) GetUser(ctx context.Context, userID string) (UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userCalls++
	if f.userErr != nil {
		return UserProfile{}, f.userErr
	}
	profile, ok := f.users[userID]
	if !ok {
		return UserProfile{}, errors.New("user_not_found")
	}
	return profile, nil
}

func (f *fakeDirectory) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.emojiCalls, f.userCalls
}

type fakePoster struct {
	mu   sync.Mutex
	sent []OutboundMessage
	err  error
}

func (f *fakePoster) PostStamp(ctx context.Context, msg OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakePoster) messages() []OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]OutboundMessage(nil), f.sent...)
}

type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]UserProfile
	err   error
}

func (f *fakeUserStore) FindUser(ctx context.Context, userID string) (UserProfile, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return UserProfile{}, false, f.err
	}
	profile, ok := f.users[userID]
	return profile, ok, nil
}

func (f *fakeUserStore) UpsertUser(ctx context.Context, profile UserProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.users == nil {
		f.users = map[string]UserProfile{}
	}
	f.users[profile.ID] = profile
	return nil
}

type fakeUsage struct {
	mu     sync.Mutex
	events []UsageEvent
	err    error
}

func (f *fakeUsage) RecordUsage(ctx context.Context, event UsageEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

// brokenCache fails every operation, standing in for an unreachable redis.
type brokenCache struct{}

var errCacheDown = errors.New("dial tcp: connection refused")

func (brokenCache) Exists(context.Context, string) (bool, error)      { return false, errCacheDown }
func (brokenCache) Get(context.Context, string) (string, bool, error) { return "", false, errCacheDown }
func (brokenCache) Set(context.Context, string, string) error         { return errCacheDown }
func (brokenCache) Close() error                                      { return nil }
func (brokenCache) SetWithTTL(context.Context, string, string, time.Duration) error {
	return errCacheDown
}
