package processor

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const multipartKeyPrefix = "smpp:multipart:"

// PartStore parks multipart segments until the full set has arrived.
type PartStore interface {
	// Add stores one segment under the concatenation key. Once every
	// segment 1..total is present it returns the assembled content and
	// clears the set.
	Add(ctx context.Context, key string, seq, total int, content string) (full string, complete bool, err error)
}

// RedisPartStore keeps partial sets in a redis hash per concatenation key,
// segment index -> content, with a TTL so abandoned sets expire on their
// own.
type RedisPartStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ PartStore = (*RedisPartStore)(nil)

// NewRedisPartStore creates a part store. Zero or negative TTL means 10
// minutes.
func NewRedisPartStore(client *redis.Client, ttl time.Duration) *RedisPartStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisPartStore{client: client, ttl: ttl}
}

// Add implements PartStore.
func (s *RedisPartStore) Add(ctx context.Context, key string, seq, total int, content string) (string, bool, error) {
	k := multipartKeyPrefix + key

	if err := s.client.HSet(ctx, k, strconv.Itoa(seq), content).Err(); err != nil {
		return "", false, err
	}
	if err := s.client.Expire(ctx, k, s.ttl).Err(); err != nil {
		return "", false, err
	}

	parts, err := s.client.HGetAll(ctx, k).Result()
	if err != nil {
		return "", false, err
	}
	if len(parts) < total {
		return "", false, nil
	}

	var b strings.Builder
	for i := 1; i <= total; i++ {
		part, ok := parts[strconv.Itoa(i)]
		if !ok {
			// Duplicate deliveries can inflate the count without
			// completing the set.
			return "", false, nil
		}
		b.WriteString(part)
	}

	s.client.Del(ctx, k)
	return b.String(), true, nil
}
