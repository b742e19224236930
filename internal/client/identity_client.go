package client

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-procurement-requests/internal/repository"
	"github.com/pesio-ai/be-procurement-requests/internal/workflow"
)

// DirectorySource is the authoritative user directory.
type DirectorySource interface {
	ResolveUser(ctx context.Context, userID string) (*repository.DirectoryUser, error)
	UsersWithRole(ctx context.Context, role workflow.Role) ([]*repository.DirectoryUser, error)
}

const directoryKeyPrefix = "procurement:directory:user:"

// CachedDirectory puts a Redis read-through cache in front of a
// DirectorySource. Cache failures degrade to direct reads.
type CachedDirectory struct {
	source DirectorySource
	redis  *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewCachedDirectory wraps source. A nil redis client disables caching.
func NewCachedDirectory(source DirectorySource, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *CachedDirectory {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedDirectory{
		source: source,
		redis:  rdb,
		ttl:    ttl,
		log:    log.With().Str("component", "directory_cache").Logger(),
	}
}

// ResolveUser returns the cached user or loads and caches it.
func (c *CachedDirectory) ResolveUser(ctx context.Context, userID string) (*repository.DirectoryUser, error) {
	if c.redis == nil {
		return c.source.ResolveUser(ctx, userID)
	}

	key := directoryKeyPrefix + userID
	raw, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var u repository.DirectoryUser
		if jerr := json.Unmarshal(raw, &u); jerr == nil {
			return &u, nil
		}
		c.log.Warn().Str("user_id", userID).Msg("Discarding undecodable directory cache entry")
	case errors.Is(err, redis.Nil):
	default:
		c.log.Warn().Err(err).Str("user_id", userID).Msg("Directory cache read failed; falling back to source")
	}

	u, err := c.source.ResolveUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if data, jerr := json.Marshal(u); jerr == nil {
		if serr := c.redis.Set(ctx, key, data, c.ttl).Err(); serr != nil {
			c.log.Warn().Err(serr).Str("user_id", userID).Msg("Directory cache write failed")
		}
	}
	return u, nil
}

// UsersWithRole always reads the source; role listings are not cached.
func (c *CachedDirectory) UsersWithRole(ctx context.Context, role workflow.Role) ([]*repository.DirectoryUser, error) {
	return c.source.UsersWithRole(ctx, role)
}

// Invalidate drops cached entries for the given users.
func (c *CachedDirectory) Invalidate(ctx context.Context, userIDs ...string) error {
	if c.redis == nil || len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = directoryKeyPrefix + id
	}
	return c.redis.Del(ctx, keys...).Err()
}
