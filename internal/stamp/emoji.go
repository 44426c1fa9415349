package stamp

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/oh-yeah-sea-kit2/slamp/internal/cache"
	"github.com/oh-yeah-sea-kit2/slamp/internal/utils"
)

const (
	EmojiCacheKey = "slack_emoji"
	EmojiCacheTTL = time.Hour

	aliasPrefix   = "alias:"
	maxAliasDepth = 5
)

// EmojiResolver finds the image URL for a custom emoji. The catalog is cached
// whole; expiry is left to the cache backend.
type EmojiResolver struct {
	Cache     cache.Store
	Directory Directory
}

func NewEmojiResolver(store cache.Store, dir Directory) *EmojiResolver {
	if store == nil {
		store = cache.NopStore{}
	}
	return &EmojiResolver{Cache: store, Directory: dir}
}

// Resolve returns the image URL for name (without colons).
func (r *EmojiResolver) Resolve(ctx context.Context, name string) (string, error) {
	catalog, err := r.catalog(ctx)
	if err != nil {
		return "", err
	}
	imageURL, ok := lookup(catalog, name)
	if !ok {
		return "", &NotFoundError{Emoji: name}
	}
	return imageURL, nil
}

// Refresh fetches the catalog from Slack and overwrites the cached copy.
func (r *EmojiResolver) Refresh(ctx context.Context) (Catalog, error) {
	catalog, err := r.Directory.ListEmoji(ctx)
	if err != nil {
		return nil, &UpstreamError{Op: "emoji.list", Err: err}
	}
	r.store(ctx, catalog)
	return catalog, nil
}

func (r *EmojiResolver) catalog(ctx context.Context) (Catalog, error) {
	if catalog, ok := r.cached(ctx); ok {
		return catalog, nil
	}
	return r.Refresh(ctx)
}

func (r *EmojiResolver) cached(ctx context.Context) (Catalog, bool) {
	exists, err := r.Cache.Exists(ctx, EmojiCacheKey)
	if err != nil {
		utils.Warn("emoji cache exists failed", "key", EmojiCacheKey, "err", err)
		return nil, false
	}
	if !exists {
		utils.Debug("emoji cache miss", "key", EmojiCacheKey)
		return nil, false
	}
	raw, ok, err := r.Cache.Get(ctx, EmojiCacheKey)
	if err != nil {
		utils.Warn("emoji cache get failed", "key", EmojiCacheKey, "err", err)
		return nil, false
	}
	if !ok {
		// Expired between Exists and Get.
		return nil, false
	}
	var catalog Catalog
	if err := json.Unmarshal([]byte(raw), &catalog); err != nil {
		utils.Warn("emoji cache decode failed", "key", EmojiCacheKey, "err", err)
		return nil, false
	}
	utils.Debug("emoji cache hit", "key", EmojiCacheKey, "entries", len(catalog))
	return catalog, true
}

func (r *EmojiResolver) store(ctx context.Context, catalog Catalog) {
	raw, err := json.Marshal(catalog)
	if err != nil {
		utils.Warn("emoji cache encode failed", "err", err)
		return
	}
	if err := r.Cache.SetWithTTL(ctx, EmojiCacheKey, string(raw), EmojiCacheTTL); err != nil {
		utils.Warn("emoji cache set failed", "key", EmojiCacheKey, "err", err)
		return
	}
	utils.Debug("emoji cache stored", "key", EmojiCacheKey, "entries", len(catalog), "ttl", EmojiCacheTTL.String())
}

func lookup(catalog Catalog, name string) (string, bool) {
	for i := 0; i <= maxAliasDepth; i++ {
		value, ok := catalog[name]
		if !ok || value == "" {
			return "", false
		}
		if !strings.HasPrefix(value, aliasPrefix) {
			return value, true
		}
		name = strings.TrimPrefix(value, aliasPrefix)
	}
	return "", false
}
