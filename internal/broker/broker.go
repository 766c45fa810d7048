// Package broker implements the shared key-value substrate spec'd in §6:
// FIFO lists with destructive pop, timestamp-scored sorted sets, pub/sub
// control channels, and a boolean flag key. It is grounded on the
// teacher's queue.BadgerManager for the operation shapes (FIFO lists,
// sorted sets, flags), but backed by Redis rather than embedded Badger:
// spec.md's "Coordinator and each SatelliteCrawler are independent
// processes" (§2) requires a transport that actually crosses OS-process
// boundaries, which an embedded, single-process-locked Badger file
// cannot provide. Client usage follows
// other_examples/abiolaogu-vendorplatform's internal/worker/service.go
// (cache *redis.Client, LPush/RPop against a named list); the sorted-set,
// flag, and real pub/sub operations are additional go-redis/v9 API calls
// not demonstrated in that file, authored directly from the client's
// documented API (see DESIGN.md).
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"
)

// ErrNoMessage is returned by Pop when a list is empty, mirroring the
// teacher's queue.ErrNoMessage sentinel.
var ErrNoMessage = fmt.Errorf("broker: no messages in list")

// Broker is the interface the Coordinator and SatelliteCrawler code
// against; it intentionally mirrors the primitive operations of §2's
// "key-value store supporting lists, sorted sets, hashes, pub/sub
// channels, and atomic pipelines" rather than exposing storage details.
type Broker interface {
	// Push inserts a JSON payload at the FIFO tail of a list.
	Push(ctx context.Context, list string, payload []byte) error
	// Pop destructively removes and returns the FIFO head of a list.
	// Returns ErrNoMessage if the list is empty.
	Pop(ctx context.Context, list string) ([]byte, error)
	// RemoveMatching removes every occurrence of jobID from a list or
	// sorted set (used by cancel() to purge queue/scheduled-set entries).
	RemoveMatching(ctx context.Context, list string, jobID string) (int, error)

	// ZAdd inserts or updates a sorted-set member with the given score.
	ZAdd(ctx context.Context, set string, member string, score float64, payload []byte) error
	// ZPopLE removes and returns every member with score <= max, ordered by
	// ascending score (earliest first), used by SchedulerPromotionLoop.
	// Members are removed one at a time; a member is returned only by the
	// call whose removal succeeded, so concurrent callers never both
	// receive the same entry.
	ZPopLE(ctx context.Context, set string, max float64) ([]ZEntry, error)
	// ZEntriesGE returns every member with score >= min without removing
	// them, used by SatelliteMonitorLoop to read heartbeats.
	ZEntriesGE(ctx context.Context, set string, min float64) ([]ZEntry, error)
	// ZCard reports sorted-set cardinality, used by health().
	ZCard(ctx context.Context, set string) (int, error)

	// ListLen reports list length, used by health().
	ListLen(ctx context.Context, list string) (int, error)

	// SetFlag sets or clears a boolean string key.
	SetFlag(ctx context.Context, key string, value bool) error
	// GetFlag reads a boolean string key; absent means false.
	GetFlag(ctx context.Context, key string) (bool, error)

	// Publish fans a message out to every current subscriber of channel.
	Publish(ctx context.Context, channel string, message []byte) error
	// Subscribe returns a channel of messages published to `channel`.
	// Cancel ctx to unsubscribe and close the returned channel.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)

	Close() error
}

// ZEntry is one sorted-set member, returned by ZPopLE/ZEntriesGE.
type ZEntry struct {
	Member  string
	Score   float64
	Payload []byte
}

// payloadKey returns the companion hash Redis uses to keep a sorted
// set's per-member JSON payload, since ZSET members only carry a score.
func payloadKey(set string) string {
	return set + ":payload"
}

// RedisBroker is the go-redis-backed Broker implementation. A single
// *redis.Client, shared by pointing the Coordinator and every Satellite
// at the same Redis address, is what makes control commands and queues
// actually cross the two binaries' process boundary.
type RedisBroker struct {
	client *redis.Client
	logger arbor.ILogger
}

// New wraps an already-connected redis.Client as a Broker.
func New(client *redis.Client, logger arbor.ILogger) *RedisBroker {
	return &RedisBroker{client: client, logger: logger}
}

func (b *RedisBroker) Push(ctx context.Context, list string, payload []byte) error {
	if err := b.client.RPush(ctx, list, payload).Err(); err != nil {
		return fmt.Errorf("broker: push to %q: %w", list, err)
	}
	return nil
}

func (b *RedisBroker) Pop(ctx context.Context, list string) ([]byte, error) {
	payload, err := b.client.LPop(ctx, list).Bytes()
	if err == redis.Nil {
		return nil, ErrNoMessage
	}
	if err != nil {
		return nil, fmt.Errorf("broker: pop from %q: %w", list, err)
	}
	return payload, nil
}

// RemoveMatching purges every occurrence of jobID from `list`. Lists
// (crawl_jobs) carry JSON payloads embedding `"job_id"`/`"id"`, so those
// are scanned and removed by value; sorted sets (scheduled_crawl_jobs)
// use jobID as the member itself, so those are removed directly by
// ZREM without a scan.
func (b *RedisBroker) RemoveMatching(ctx context.Context, list string, jobID string) (int, error) {
	keyType, err := b.client.Type(ctx, list).Result()
	if err != nil {
		return 0, fmt.Errorf("broker: type %q: %w", list, err)
	}

	switch keyType {
	case "none":
		return 0, nil
	case "zset":
		removed, err := b.client.ZRem(ctx, list, jobID).Result()
		if err != nil {
			return 0, fmt.Errorf("broker: zrem %q: %w", list, err)
		}
		if removed > 0 {
			b.client.HDel(ctx, payloadKey(list), jobID)
		}
		return int(removed), nil
	default:
		entries, err := b.client.LRange(ctx, list, 0, -1).Result()
		if err != nil {
			return 0, fmt.Errorf("broker: scan %q: %w", list, err)
		}
		removed := 0
		for _, e := range entries {
			var probe struct {
				ID    string `json:"id"`
				JobID string `json:"job_id"`
			}
			if err := json.Unmarshal([]byte(e), &probe); err != nil {
				continue
			}
			if probe.ID == jobID || probe.JobID == jobID {
				if err := b.client.LRem(ctx, list, 1, e).Err(); err != nil {
					continue
				}
				removed++
			}
		}
		return removed, nil
	}
}

func (b *RedisBroker) ListLen(ctx context.Context, list string) (int, error) {
	n, err := b.client.LLen(ctx, list).Result()
	if err != nil {
		return 0, fmt.Errorf("broker: count %q: %w", list, err)
	}
	return int(n), nil
}

func (b *RedisBroker) ZAdd(ctx context.Context, set string, member string, score float64, payload []byte) error {
	if err := b.client.ZAdd(ctx, set, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("broker: zadd %q: %w", set, err)
	}
	if payload != nil {
		if err := b.client.HSet(ctx, payloadKey(set), member, payload).Err(); err != nil {
			return fmt.Errorf("broker: zadd payload %q: %w", set, err)
		}
	}
	return nil
}

func (b *RedisBroker) ZPopLE(ctx context.Context, set string, max float64) ([]ZEntry, error) {
	zs, err := b.client.ZRangeByScoreWithScores(ctx, set, &redis.ZRangeBy{
		Min: "-inf", Max: strconv.FormatFloat(max, 'f', -1, 64),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("broker: zpople %q: %w", set, err)
	}

	out := make([]ZEntry, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		payload, err := b.client.HGet(ctx, payloadKey(set), member).Bytes()
		if err != nil && err != redis.Nil {
			b.logger.Warn().Err(err).Str("set", set).Str("member", member).Msg("broker: failed to read promoted zset payload")
		}
		removed, err := b.client.ZRem(ctx, set, member).Result()
		if err != nil {
			b.logger.Warn().Err(err).Str("set", set).Str("member", member).Msg("broker: failed to remove promoted zset entry")
			continue
		}
		if removed == 0 {
			// Another caller removed this member first; it owns the entry.
			continue
		}
		b.client.HDel(ctx, payloadKey(set), member)
		out = append(out, ZEntry{Member: member, Score: z.Score, Payload: payload})
	}
	return out, nil
}

func (b *RedisBroker) ZEntriesGE(ctx context.Context, set string, min float64) ([]ZEntry, error) {
	zs, err := b.client.ZRangeByScoreWithScores(ctx, set, &redis.ZRangeBy{
		Min: strconv.FormatFloat(min, 'f', -1, 64), Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("broker: zentriesge %q: %w", set, err)
	}

	out := make([]ZEntry, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		payload, err := b.client.HGet(ctx, payloadKey(set), member).Bytes()
		if err != nil && err != redis.Nil {
			payload = nil
		}
		out = append(out, ZEntry{Member: member, Score: z.Score, Payload: payload})
	}
	return out, nil
}

func (b *RedisBroker) ZCard(ctx context.Context, set string) (int, error) {
	n, err := b.client.ZCard(ctx, set).Result()
	if err != nil {
		return 0, fmt.Errorf("broker: zcard %q: %w", set, err)
	}
	return int(n), nil
}

func (b *RedisBroker) SetFlag(ctx context.Context, key string, value bool) error {
	if err := b.client.Set(ctx, key, strconv.FormatBool(value), 0).Err(); err != nil {
		return fmt.Errorf("broker: set flag %q: %w", key, err)
	}
	return nil
}

func (b *RedisBroker) GetFlag(ctx context.Context, key string) (bool, error) {
	v, err := b.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("broker: get flag %q: %w", key, err)
	}
	return v == "true", nil
}

// Publish uses Redis's own pub/sub, so delivery crosses the Coordinator
// and every Satellite process the way spec §4.1/§4.2 requires; a
// subscriber that isn't currently connected simply never receives the
// message, matching spec §4.1's "delivery is best-effort (pub/sub)".
func (b *RedisBroker) Publish(ctx context.Context, channel string, message []byte) error {
	if err := b.client.Publish(ctx, channel, message).Err(); err != nil {
		return fmt.Errorf("broker: publish %q: %w", channel, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := b.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("broker: subscribe %q: %w", channel, err)
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
				}
			}
		}
	}()

	return out, nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
