// Package memory provides an in-process TokenRegistry for tests and local
// development. It holds the full registry in a map guarded by a RWMutex.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

type Registry struct {
	mu sync.RWMutex
	// keyed by token; tokens are globally unique.
	records map[string]push.DeviceToken
}

func NewRegistry() *Registry {
	return &Registry{records: make(map[string]push.DeviceToken)}
}

func (r *Registry) Upsert(_ context.Context, recipientID, token string, platform push.Platform) (push.DeviceToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := push.DeviceToken{
		RecipientID: recipientID,
		Token:       token,
		Platform:    platform,
		Active:      true,
		UpdatedAt:   time.Now().UTC(),
	}
	r.records[token] = rec
	return rec, nil
}

func (r *Registry) Deactivate(_ context.Context, token string) (*push.DeviceToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[token]
	if !ok {
		return nil, nil
	}
	rec.Active = false
	rec.UpdatedAt = time.Now().UTC()
	r.records[token] = rec
	return &rec, nil
}

func (r *Registry) Remove(_ context.Context, recipientID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[token]
	if !ok || rec.RecipientID != recipientID {
		return fmt.Errorf("token for recipient %s: %w", recipientID, push.ErrNotFound)
	}
	delete(r.records, token)
	return nil
}

func (r *Registry) ActiveTokens(ctx context.Context, recipientID string) ([]string, error) {
	return r.activeTokens(ctx, recipientID, "")
}

func (r *Registry) ActiveTokensForPlatform(ctx context.Context, recipientID string, platform push.Platform) ([]string, error) {
	return r.activeTokens(ctx, recipientID, platform)
}

func (r *Registry) activeTokens(_ context.Context, recipientID string, platform push.Platform) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tokens []string
	for _, rec := range r.records {
		if rec.RecipientID != recipientID || !rec.Active {
			continue
		}
		if platform != "" && rec.Platform != platform {
			continue
		}
		tokens = append(tokens, rec.Token)
	}
	// Map iteration order is random; sort for deterministic results.
	sort.Strings(tokens)
	return tokens, nil
}

func (r *Registry) EachActiveToken(ctx context.Context, fn func(token string) error) error {
	// Snapshot under the lock so fn can call back into the registry.
	r.mu.RLock()
	tokens := make([]string, 0, len(r.records))
	for _, rec := range r.records {
		if rec.Active {
			tokens = append(tokens, rec.Token)
		}
	}
	r.mu.RUnlock()
	sort.Strings(tokens)

	for _, tok := range tokens {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(tok); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the stored record for token. Test helper.
func (r *Registry) Get(token string) (push.DeviceToken, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[token]
	return rec, ok
}
