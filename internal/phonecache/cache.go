// Package phonecache caches Quo workspace phone-number listings in Redis so
// repeated webhook reconfigurations do not hammer the downstream list
// endpoint. Entries are keyed per integration and expire on a TTL.
package phonecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/callvault/quosync/internal/quo"
	"github.com/callvault/quosync/pkg/logging"
)

const keyPrefix = "quo:phone_numbers:"

// DefaultTTL bounds how stale a cached listing may get.
const DefaultTTL = 15 * time.Minute

// Lister is the slice of the Quo client the cache fetches through on a miss.
type Lister interface {
	ListPhoneNumbers(ctx context.Context, maxResults int) ([]quo.PhoneNumber, error)
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides the entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Cache is a read-through Redis cache over the phone-number listing. Redis
// failures degrade to a direct fetch; only downstream errors propagate.
type Cache struct {
	redis  *redis.Client
	lister Lister
	ttl    time.Duration
	logger *logging.Logger
}

// New builds a Cache. A nil Redis client is allowed and turns the cache into
// a pass-through, so callers can wire it unconditionally.
func New(redisClient *redis.Client, lister Lister, opts ...Option) *Cache {
	if lister == nil {
		panic("phonecache: phone lister required")
	}
	c := &Cache{
		redis:  redisClient,
		lister: lister,
		ttl:    DefaultTTL,
		logger: logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) key(integrationID string) string {
	return keyPrefix + integrationID
}

// List returns the phone listing for an integration, fetching from the
// downstream and caching the result on a miss.
func (c *Cache) List(ctx context.Context, integrationID string) ([]quo.PhoneNumber, error) {
	if integrationID == "" {
		return nil, errors.New("phonecache: integration id required")
	}

	if c.redis != nil {
		data, err := c.redis.Get(ctx, c.key(integrationID)).Bytes()
		switch {
		case err == nil:
			var phones []quo.PhoneNumber
			if unmarshalErr := json.Unmarshal(data, &phones); unmarshalErr == nil {
				return phones, nil
			}
			c.logger.Warn("discarding corrupt phone cache entry", "integration_id", integrationID)
		case err != redis.Nil:
			c.logger.Warn("phone cache read failed", "integration_id", integrationID, "error", err)
		}
	}

	phones, err := c.lister.ListPhoneNumbers(ctx, quo.MaxListPhoneNumbers)
	if err != nil {
		return nil, fmt.Errorf("phonecache: list phone numbers: %w", err)
	}
	c.put(ctx, integrationID, phones)
	return phones, nil
}

// Invalidate drops the cached listing so the next List refetches.
func (c *Cache) Invalidate(ctx context.Context, integrationID string) error {
	if c.redis == nil || integrationID == "" {
		return nil
	}
	if err := c.redis.Del(ctx, c.key(integrationID)).Err(); err != nil {
		return fmt.Errorf("phonecache: invalidate: %w", err)
	}
	return nil
}

func (c *Cache) put(ctx context.Context, integrationID string, phones []quo.PhoneNumber) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(phones)
	if err != nil {
		c.logger.Warn("marshal phone cache entry failed", "integration_id", integrationID, "error", err)
		return
	}
	if err := c.redis.Set(ctx, c.key(integrationID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("phone cache write failed", "integration_id", integrationID, "error", err)
	}
}
