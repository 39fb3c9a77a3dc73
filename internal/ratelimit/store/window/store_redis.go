package window

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"anyzine/internal/ratelimit/models"
	"anyzine/pkg/platform/sentinel"
)

const (
	windowKeyPrefix = "ratelimit:window:"
	windowIDPrefix  = "ratelimit:window-id:"
	scanBatchSize   = 200
)

// createScript replaces an expired window for the identity or refuses when
// the stored one is still active at the new window's start. The replaced
// window's id index goes with it.
// KEYS[1] window hash, KEYS[2] id index. ARGV[1] new start ms, ARGV[2] expire-at ms,
// ARGV[3] id index prefix, ARGV[4..] field/value pairs.
var createScript = redis.NewScript(`
local existing = redis.call('HMGET', KEYS[1], 'end_ms', 'id')
if existing[1] and tonumber(existing[1]) > tonumber(ARGV[1]) then
	return 0
end
if existing[2] then
	redis.call('DEL', ARGV[3] .. existing[2])
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], unpack(ARGV, 4))
redis.call('PEXPIREAT', KEYS[1], ARGV[2])
redis.call('SET', KEYS[2], KEYS[1])
redis.call('PEXPIREAT', KEYS[2], ARGV[2])
return 1
`)

// incrementScript adds one request while below max.
// Returns the count afterwards, or -1 when the hash holds another window.
var incrementScript = redis.NewScript(`
local id = redis.call('HGET', KEYS[1], 'id')
if id ~= ARGV[1] then
	return -1
end
local count = tonumber(redis.call('HGET', KEYS[1], 'count'))
local max = tonumber(redis.call('HGET', KEYS[1], 'max'))
if count < max then
	count = redis.call('HINCRBY', KEYS[1], 'count', 1)
end
return count
`)

// RedisWindowStore keeps the most recent window of each identity in a hash
// so several application instances share one count.
type RedisWindowStore struct {
	client redis.UniversalClient
}

// NewRedis constructs a Redis-backed window store.
func NewRedis(client redis.UniversalClient) *RedisWindowStore {
	return &RedisWindowStore{client: client}
}

// Health pings Redis.
func (s *RedisWindowStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisWindowStore) FindActive(ctx context.Context, key models.IdentityKey, now time.Time) (*models.ConsumptionWindow, error) {
	w, err := s.load(ctx, windowKey(key))
	if err != nil || w == nil {
		return nil, err
	}
	if w.Key() != key || !w.IsActive(now) {
		return nil, nil
	}
	return w, nil
}

func (s *RedisWindowStore) Create(ctx context.Context, window *models.ConsumptionWindow) error {
	args := []any{window.WindowStart.UnixMilli(), expireAt(window).UnixMilli(), windowIDPrefix}
	args = append(args, windowFields(window)...)

	created, err := createScript.Run(ctx, s.client, []string{windowKey(window.Key()), windowIDKey(window.ID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("create window: %w", err)
	}
	if created == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *RedisWindowStore) Increment(ctx context.Context, window *models.ConsumptionWindow) (*models.ConsumptionWindow, error) {
	key, err := s.client.Get(ctx, windowIDKey(window.ID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve window %s: %w", window.ID, err)
	}

	count, err := incrementScript.Run(ctx, s.client, []string{key}, window.ID).Int()
	if err != nil {
		return nil, fmt.Errorf("increment window: %w", err)
	}
	if count < 0 {
		return nil, sentinel.ErrNotFound
	}
	updated := window.Clone()
	updated.RequestCount = count
	return updated, nil
}

// Save rewrites the window under its (possibly new) identity key. The id index
// and the target hash are watched so a concurrent Create or Save touching
// either aborts the transaction. A different window still parked on the
// target key is replaced along with its id index.
func (s *RedisWindowStore) Save(ctx context.Context, window *models.ConsumptionWindow) error {
	idKey := windowIDKey(window.ID)
	newKey := windowKey(window.Key())

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		oldKey, err := tx.Get(ctx, idKey).Result()
		if errors.Is(err, redis.Nil) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return err
		}
		stored, err := hashIdentity(ctx, tx, oldKey)
		if err != nil {
			return err
		}
		if stored.id != window.ID {
			return sentinel.ErrNotFound
		}

		var displaced string
		if oldKey != newKey {
			target, err := hashIdentity(ctx, tx, newKey)
			if err != nil {
				return err
			}
			if target.id != "" && target.id != window.ID {
				displaced = target.id
			}
		} else if stored.key != window.Key() {
			return sentinel.ErrNotFound
		}

		at := expireAt(window)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if oldKey != newKey {
				pipe.Del(ctx, oldKey)
			}
			if displaced != "" {
				pipe.Del(ctx, windowIDKey(displaced))
			}
			pipe.Del(ctx, newKey)
			pipe.HSet(ctx, newKey, windowFields(window)...)
			pipe.PExpireAt(ctx, newKey, at)
			pipe.Set(ctx, idKey, newKey, 0)
			pipe.PExpireAt(ctx, idKey, at)
			return nil
		})
		return err
	}, idKey, newKey)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return err
	case errors.Is(err, redis.TxFailedErr):
		return sentinel.ErrConflict
	default:
		return fmt.Errorf("save window: %w", err)
	}
}

type hashReader interface {
	HMGet(ctx context.Context, key string, fields ...string) *redis.SliceCmd
}

type storedIdentity struct {
	id  string
	key models.IdentityKey
}

// hashIdentity reads the id and identity fields of a window hash. A missing
// hash yields the zero value.
func hashIdentity(ctx context.Context, c hashReader, key string) (storedIdentity, error) {
	vals, err := c.HMGet(ctx, key, "id", "kind", "value").Result()
	if err != nil {
		return storedIdentity{}, fmt.Errorf("read window %s: %w", key, err)
	}
	str := func(i int) string {
		v, _ := vals[i].(string)
		return v
	}
	return storedIdentity{
		id:  str(0),
		key: models.IdentityKey{Kind: models.IdentityKind(str(1)), Value: str(2)},
	}, nil
}

// DeleteExpired scans every window hash. Redis expires hashes on its own one
// retention period after their end, so this mostly catches keys written
// without an expiry.
func (s *RedisWindowStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	iter := s.client.Scan(ctx, 0, windowKeyPrefix+"*", scanBatchSize).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		endMS, err := s.client.HGet(ctx, key, "end_ms").Int64()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return deleted, fmt.Errorf("read window end %s: %w", key, err)
		}
		if !time.UnixMilli(endMS).Before(cutoff) {
			continue
		}
		stored, err := hashIdentity(ctx, s.client, key)
		if err != nil {
			return deleted, err
		}
		var del *redis.IntCmd
		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			del = pipe.Del(ctx, key)
			if stored.id != "" {
				pipe.Del(ctx, windowIDKey(stored.id))
			}
			return nil
		})
		if err != nil {
			return deleted, fmt.Errorf("delete window %s: %w", key, err)
		}
		deleted += int(del.Val())
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("scan windows: %w", err)
	}
	return deleted, nil
}

func (s *RedisWindowStore) load(ctx context.Context, key string) (*models.ConsumptionWindow, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("load window %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	w, err := parseWindow(fields)
	if err != nil {
		return nil, fmt.Errorf("parse window %s: %w", key, err)
	}
	return w, nil
}

func windowKey(key models.IdentityKey) string {
	return windowKeyPrefix + key.String()
}

func windowIDKey(id string) string {
	return windowIDPrefix + id
}

func expireAt(w *models.ConsumptionWindow) time.Time {
	return w.WindowEnd.Add(models.RetentionAfterExpiry)
}

func windowFields(w *models.ConsumptionWindow) []any {
	fields := []any{
		"id", w.ID,
		"kind", string(w.IdentityKind),
		"value", w.IdentityValue,
		"count", w.RequestCount,
		"start_ms", w.WindowStart.UnixMilli(),
		"end_ms", w.WindowEnd.UnixMilli(),
		"tier", string(w.Tier),
		"max", w.MaxRequests,
		"duration_ms", w.WindowDuration.Milliseconds(),
	}
	if w.MigratedAt != nil {
		fields = append(fields,
			"migrated_to", w.MigratedToIdentityValue,
			"migrated_at_ms", w.MigratedAt.UnixMilli(),
		)
	}
	return fields
}

func parseWindow(fields map[string]string) (*models.ConsumptionWindow, error) {
	ints := make(map[string]int64, 6)
	for _, name := range []string{"count", "start_ms", "end_ms", "max", "duration_ms"} {
		v, err := strconv.ParseInt(fields[name], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		ints[name] = v
	}

	w := &models.ConsumptionWindow{
		ID:             fields["id"],
		IdentityKind:   models.IdentityKind(fields["kind"]),
		IdentityValue:  fields["value"],
		RequestCount:   int(ints["count"]),
		WindowStart:    time.UnixMilli(ints["start_ms"]).UTC(),
		WindowEnd:      time.UnixMilli(ints["end_ms"]).UTC(),
		Tier:           models.Tier(fields["tier"]),
		MaxRequests:    int(ints["max"]),
		WindowDuration: time.Duration(ints["duration_ms"]) * time.Millisecond,
	}
	if raw, ok := fields["migrated_at_ms"]; ok {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("field migrated_at_ms: %w", err)
		}
		at := time.UnixMilli(ms).UTC()
		w.MigratedAt = &at
		w.MigratedToIdentityValue = fields["migrated_to"]
	}
	return w, nil
}
