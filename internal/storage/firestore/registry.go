// Package firestore implements the TokenRegistry on Google Cloud Firestore.
//
// Records live in a single top-level device_tokens collection keyed by a
// sha256 hash of the token. Hashing keeps document ids within Firestore's
// limits and avoids hot-spotting on sequential ids.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

const collectionName = "device_tokens"

type tokenRecord struct {
	RecipientID string    `firestore:"recipient_id"`
	Token       string    `firestore:"token"`
	Platform    string    `firestore:"platform"`
	Active      bool      `firestore:"active"`
	UpdatedAt   time.Time `firestore:"updated_at"`
}

func (r tokenRecord) toDomain() push.DeviceToken {
	p, _ := push.ParsePlatform(r.Platform)
	return push.DeviceToken{
		RecipientID: r.RecipientID,
		Token:       r.Token,
		Platform:    p,
		Active:      r.Active,
		UpdatedAt:   r.UpdatedAt,
	}
}

type Registry struct {
	client *firestore.Client
}

func NewRegistry(client *firestore.Client) *Registry {
	return &Registry{client: client}
}

func (s *Registry) Upsert(ctx context.Context, recipientID, token string, platform push.Platform) (push.DeviceToken, error) {
	rec := tokenRecord{
		RecipientID: recipientID,
		Token:       token,
		Platform:    platform.String(),
		Active:      true,
		UpdatedAt:   time.Now().UTC(),
	}

	// Set on the hashed id makes re-registration overwrite in place,
	// including a token moving to a new recipient.
	if _, err := s.docRef(token).Set(ctx, rec); err != nil {
		return push.DeviceToken{}, fmt.Errorf("firestore upsert failed: %w", err)
	}
	return rec.toDomain(), nil
}

func (s *Registry) Deactivate(ctx context.Context, token string) (*push.DeviceToken, error) {
	ref := s.docRef(token)

	snap, err := ref.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("firestore lookup failed: %w", err)
	}

	var rec tokenRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("corrupt device token record: %w", err)
	}

	_, err = ref.Update(ctx, []firestore.Update{
		{Path: "active", Value: false},
		{Path: "updated_at", Value: time.Now().UTC()},
	})
	if err != nil {
		return nil, fmt.Errorf("firestore deactivate failed: %w", err)
	}

	rec.Active = false
	out := rec.toDomain()
	return &out, nil
}

func (s *Registry) Remove(ctx context.Context, recipientID, token string) error {
	ref := s.docRef(token)

	snap, err := ref.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("token for recipient %s: %w", recipientID, push.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("firestore lookup failed: %w", err)
	}

	var rec tokenRecord
	if err := snap.DataTo(&rec); err != nil {
		return fmt.Errorf("corrupt device token record: %w", err)
	}
	if rec.RecipientID != recipientID {
		return fmt.Errorf("token for recipient %s: %w", recipientID, push.ErrNotFound)
	}

	if _, err := ref.Delete(ctx); err != nil {
		return fmt.Errorf("firestore delete failed: %w", err)
	}
	return nil
}

func (s *Registry) ActiveTokens(ctx context.Context, recipientID string) ([]string, error) {
	return s.activeTokens(ctx, recipientID, "")
}

func (s *Registry) ActiveTokensForPlatform(ctx context.Context, recipientID string, platform push.Platform) ([]string, error) {
	return s.activeTokens(ctx, recipientID, platform)
}

func (s *Registry) activeTokens(ctx context.Context, recipientID string, platform push.Platform) ([]string, error) {
	q := s.client.Collection(collectionName).
		Where("recipient_id", "==", recipientID).
		Where("active", "==", true)
	if platform != "" {
		q = q.Where("platform", "==", platform.String())
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var tokens []string
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var rec tokenRecord
		if err := doc.DataTo(&rec); err != nil {
			// Corrupt rows are skipped, not fatal.
			continue
		}
		tokens = append(tokens, rec.Token)
	}
	return tokens, nil
}

func (s *Registry) EachActiveToken(ctx context.Context, fn func(token string) error) error {
	iter := s.client.Collection(collectionName).
		Where("active", "==", true).
		Documents(ctx)
	defer iter.Stop()

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("firestore iteration failed: %w", err)
		}

		var rec tokenRecord
		if err := doc.DataTo(&rec); err != nil {
			continue
		}
		if err := fn(rec.Token); err != nil {
			return err
		}
	}
}

func (s *Registry) docRef(token string) *firestore.DocumentRef {
	return s.client.Collection(collectionName).Doc(hashToken(token))
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
