// Package cache decorates a TokenRegistry with read-aside caching of the
// hot-path lookups.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the keys.
	Del(ctx context.Context, keys ...string) error
}

// CachedRegistry adds read-aside caching to any TokenRegistry. Only the
// per-recipient lookups are cached; registry-wide enumeration always streams
// from the source of truth.
type CachedRegistry struct {
	source push.TokenRegistry
	cache  CacheClient
	ttl    time.Duration
}

func NewCachedRegistry(source push.TokenRegistry, cache CacheClient, ttl time.Duration) *CachedRegistry {
	return &CachedRegistry{
		source: source,
		cache:  cache,
		ttl:    ttl,
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedRegistry) ActiveTokens(ctx context.Context, recipientID string) ([]string, error) {
	return s.cachedLookup(ctx, s.cacheKey(recipientID, ""), func() ([]string, error) {
		return s.source.ActiveTokens(ctx, recipientID)
	})
}

func (s *CachedRegistry) ActiveTokensForPlatform(ctx context.Context, recipientID string, platform push.Platform) ([]string, error) {
	return s.cachedLookup(ctx, s.cacheKey(recipientID, platform), func() ([]string, error) {
		return s.source.ActiveTokensForPlatform(ctx, recipientID, platform)
	})
}

func (s *CachedRegistry) cachedLookup(ctx context.Context, key string, load func() ([]string, error)) ([]string, error) {
	var cached []string
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	fresh, err := load()
	if err != nil {
		return nil, err
	}

	// Caching is an optimization, not a transaction. If Redis is down we
	// just serve from the source store.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)
	return fresh, nil
}

func (s *CachedRegistry) EachActiveToken(ctx context.Context, fn func(token string) error) error {
	return s.source.EachActiveToken(ctx, fn)
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedRegistry) Upsert(ctx context.Context, recipientID, token string, platform push.Platform) (push.DeviceToken, error) {
	rec, err := s.source.Upsert(ctx, recipientID, token, platform)
	if err != nil {
		return push.DeviceToken{}, err
	}
	return rec, s.invalidate(ctx, recipientID)
}

// Deactivate invalidates by the recipient of the affected record. Even when
// the store write succeeds, the cache MUST be cleared so a dead token stops
// receiving sends immediately.
func (s *CachedRegistry) Deactivate(ctx context.Context, token string) (*push.DeviceToken, error) {
	rec, err := s.source.Deactivate(ctx, token)
	if err != nil || rec == nil {
		return rec, err
	}
	return rec, s.invalidate(ctx, rec.RecipientID)
}

func (s *CachedRegistry) Remove(ctx context.Context, recipientID, token string) error {
	if err := s.source.Remove(ctx, recipientID, token); err != nil {
		return err
	}
	return s.invalidate(ctx, recipientID)
}

// --- Helpers ---

// invalidate drops the recipient's base key and every platform variant. The
// next lookup is forced back to the source store.
func (s *CachedRegistry) invalidate(ctx context.Context, recipientID string) error {
	return s.cache.Del(ctx,
		s.cacheKey(recipientID, ""),
		s.cacheKey(recipientID, push.PlatformAndroid),
		s.cacheKey(recipientID, push.PlatformIOS),
		s.cacheKey(recipientID, push.PlatformWeb),
	)
}

func (s *CachedRegistry) cacheKey(recipientID string, platform push.Platform) string {
	if platform == "" {
		return fmt.Sprintf("push:tokens:%s", recipientID)
	}
	return fmt.Sprintf("push:tokens:%s:%s", recipientID, platform)
}
