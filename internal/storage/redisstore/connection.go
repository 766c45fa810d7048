// Package redisstore is the JobStore named in spec §2: a durable record
// of jobs, errors, and terminal results, explicitly "external" to both
// the Coordinator and every SatelliteCrawler process (spec.md line 17)
// since satellites write to it directly as they advance a claimed job
// (spec.md line 169). Grounded on the teacher's BadgerDB/JobStorage
// split (connection lifecycle separate from the record CRUD it backs),
// rebuilt on a real Redis connection so the two binaries this module
// ships actually observe each other's writes.
package redisstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero-crawl/internal/common"
)

// RedisDB manages the Redis client connection shared by JobStorage and
// the broker package.
type RedisDB struct {
	client *redis.Client
	logger arbor.ILogger
}

// NewRedisDB opens (and verifies, via PING) a connection to the Redis
// instance described by cfg. Both cmd/coordinator and cmd/satellite
// construct one of these against the same address, making Redis the
// shared substrate that crosses their process boundary.
func NewRedisDB(logger arbor.ILogger, cfg *common.RedisConfig) (*RedisDB, error) {
	logger.Debug().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connecting to Redis")

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	logger.Debug().Str("addr", cfg.Addr).Msg("Redis connection established")

	return &RedisDB{client: client, logger: logger}, nil
}

// Client returns the underlying redis client, shared with the broker
// package so both wrap the exact same connection pool.
func (d *RedisDB) Client() *redis.Client {
	return d.client
}

// Close closes the Redis connection.
func (d *RedisDB) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}
