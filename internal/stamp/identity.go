package stamp

import (
	"context"
	"encoding/json"

	"github.com/oh-yeah-sea-kit2/slamp/internal/cache"
	"github.com/oh-yeah-sea-kit2/slamp/internal/utils"
)

// IdentityResolver returns the identity a stamp is posted under.
type IdentityResolver interface {
	Resolve(ctx context.Context, userID string) (UserProfile, error)
	// PostsAsUser reports whether the resolved profile carries the user's own
	// credential rather than a name/avatar override.
	PostsAsUser() bool
}

// CachedIdentity looks users up in the cache and falls back to users.info.
// Profiles are cached without expiry.
type CachedIdentity struct {
	Cache     cache.Store
	Directory Directory
}

func NewCachedIdentity(store cache.Store, dir Directory) *CachedIdentity {
	if store == nil {
		store = cache.NopStore{}
	}
	return &CachedIdentity{Cache: store, Directory: dir}
}

func (c *CachedIdentity) PostsAsUser() bool { return false }

func (c *CachedIdentity) Resolve(ctx context.Context, userID string) (UserProfile, error) {
	if profile, ok := c.cached(ctx, userID); ok {
		return profile, nil
	}

	profile, err := c.Directory.GetUser(ctx, userID)
	if err != nil {
		return UserProfile{}, &UpstreamError{Op: "users.info", Err: err}
	}
	raw, err := json.Marshal(profile)
	if err == nil {
		err = c.Cache.Set(ctx, userID, string(raw))
	}
	if err != nil {
		utils.Warn("user cache set failed", "user_id", userID, "err", err)
	}
	return profile, nil
}

func (c *CachedIdentity) cached(ctx context.Context, userID string) (UserProfile, bool) {
	exists, err := c.Cache.Exists(ctx, userID)
	if err != nil {
		utils.Warn("user cache exists failed", "user_id", userID, "err", err)
		return UserProfile{}, false
	}
	if !exists {
		return UserProfile{}, false
	}
	raw, ok, err := c.Cache.Get(ctx, userID)
	if err != nil || !ok {
		if err != nil {
			utils.Warn("user cache get failed", "user_id", userID, "err", err)
		}
		return UserProfile{}, false
	}
	var profile UserProfile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		utils.Warn("user cache decode failed", "user_id", userID, "err", err)
		return UserProfile{}, false
	}
	utils.Debug("user cache hit", "user_id", userID)
	return profile, true
}

// DurableIdentity reads the record written by the OAuth sign-up flow. Users
// without a record are sent to RegisterURL.
type DurableIdentity struct {
	Store       UserStore
	RegisterURL string
}

func NewDurableIdentity(store UserStore, registerURL string) *DurableIdentity {
	return &DurableIdentity{Store: store, RegisterURL: registerURL}
}

func (d *DurableIdentity) PostsAsUser() bool { return true }

func (d *DurableIdentity) Resolve(ctx context.Context, userID string) (UserProfile, error) {
	profile, found, err := d.Store.FindUser(ctx, userID)
	if err != nil {
		return UserProfile{}, &UpstreamError{Op: "user store find", Err: err}
	}
	if !found {
		return UserProfile{}, &UnauthorizedError{UserID: userID, RegisterURL: d.RegisterURL}
	}
	return profile, nil
}
