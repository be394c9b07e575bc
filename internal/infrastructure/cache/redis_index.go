package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/mohammadpnp/roster-import/internal/domain/user"
	"github.com/redis/go-redis/v9"
	"golang.org/x/text/cases"
)

const (
	DefaultIndexPrefix = "roster-import:existing"
	DefaultIndexTTL    = 30 * time.Second
)

// RedisIndex caches positive existence lookups in front of another index.
// Rollback calls Forget for the reverted identifiers; TTL bounds anything
// that was missed.
type RedisIndex struct {
	client redis.UniversalClient
	next   domain.ExistingRecordIndex
	prefix string
	ttl    time.Duration
}

func NewRedisIndex(client redis.UniversalClient, next domain.ExistingRecordIndex, prefix string, ttl time.Duration) *RedisIndex {
	if prefix == "" {
		prefix = DefaultIndexPrefix
	}
	if ttl <= 0 {
		ttl = DefaultIndexTTL
	}
	return &RedisIndex{client: client, next: next, prefix: prefix, ttl: ttl}
}

func (i *RedisIndex) Exists(ctx context.Context, identifier string) (bool, error) {
	key := i.key(identifier)

	err := i.client.Get(ctx, key).Err()
	switch {
	case err == nil:
		return true, nil
	case !errors.Is(err, redis.Nil):
		return false, fmt.Errorf("redis lookup %s: %w", key, err)
	}

	found, err := i.next.Exists(ctx, identifier)
	if err != nil || !found {
		return found, err
	}
	if err := i.client.Set(ctx, key, "1", i.ttl).Err(); err != nil {
		return false, fmt.Errorf("redis store %s: %w", key, err)
	}
	return true, nil
}

// Forget drops cached entries for identifiers. It satisfies
// domain.IdentifierInvalidator.
func (i *RedisIndex) Forget(ctx context.Context, identifiers ...string) error {
	if len(identifiers) == 0 {
		return nil
	}
	keys := make([]string, 0, len(identifiers))
	for _, id := range identifiers {
		keys = append(keys, i.key(id))
	}
	return i.client.Del(ctx, keys...).Err()
}

func (i *RedisIndex) key(identifier string) string {
	return i.prefix + ":" + cases.Fold().String(strings.TrimSpace(identifier))
}
