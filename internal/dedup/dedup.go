// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dedup provides a Redis seen-cache in front of the durable
// forward-record table. It answers most skip-forwarded checks without a
// database round trip; the Postgres table stays the source of truth.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds cache growth; a miss falls through to Postgres.
	DefaultTTL = 30 * 24 * time.Hour

	// keyPrefix namespaces cache keys in Redis.
	keyPrefix = "docushuttle:fwd:"
)

// Cache remembers (recipient, tracking key) pairs that were forwarded.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCache creates a seen-cache backed by Redis.
func NewCache(rdb *redis.Client) *Cache {
	return &Cache{
		rdb: rdb,
		ttl: DefaultTTL,
	}
}

func key(recipient, trackingKey string) string {
	return fmt.Sprintf("%s%s:%s", keyPrefix, recipient, trackingKey)
}

// Seen reports whether the pair is in the cache. A false result is not
// authoritative; the caller falls through to the durable store.
func (c *Cache) Seen(ctx context.Context, recipient, trackingKey string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key(recipient, trackingKey)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup EXISTS: %w", err)
	}
	return n > 0, nil
}

// Mark records the pair in the cache.
func (c *Cache) Mark(ctx context.Context, recipient, trackingKey string) error {
	if err := c.rdb.Set(ctx, key(recipient, trackingKey), 1, c.ttl).Err(); err != nil {
		return fmt.Errorf("dedup SET: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (c *Cache) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}
