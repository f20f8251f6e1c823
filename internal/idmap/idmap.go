// Package idmap persists the mapping from SMSC-assigned message ids to
// internal message ids, so delivery receipts arriving hours or days later
// can still be attributed to the message they report on.
package idmap

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "smpp:remote_msg_id:"

// ErrNotFound means no mapping exists for the remote id. Mappings expire,
// so this is an expected condition, not a failure.
var ErrNotFound = errors.New("remote message id not mapped")

// Store is the Redis-backed mapping.
type Store struct {
	client *redis.Client
	expiry time.Duration
}

// NewStore creates a mapping store. Entries live for the given expiry;
// zero or negative means the 7 day default.
func NewStore(client *redis.Client, expiry time.Duration) *Store {
	if expiry <= 0 {
		expiry = 7 * 24 * time.Hour
	}
	return &Store{client: client, expiry: expiry}
}

// Record stores smscID -> messageID, overwriting any previous mapping.
func (s *Store) Record(ctx context.Context, smscID, messageID string) error {
	err := s.client.Set(ctx, keyPrefix+smscID, messageID, s.expiry).Err()
	if err != nil {
		slog.WarnContext(ctx, "Failed to store remote message id mapping",
			slog.String("smsc_msg_id", smscID),
			slog.Any("error", err),
		)
		return err
	}

	slog.DebugContext(ctx, "Remote message id mapping stored", slog.String("smsc_msg_id", smscID))
	return nil
}

// Lookup resolves a remote id back to the internal message id.
func (s *Store) Lookup(ctx context.Context, smscID string) (string, error) {
	messageID, err := s.client.Get(ctx, keyPrefix+smscID).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return messageID, nil
}
