package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultSnapshotTTL = 30 * time.Minute

// RedisSnapshotCache is a read-through cache in front of another SnapshotStore.
// The backing store stays authoritative; cache failures are logged and ignored.
type RedisSnapshotCache struct {
	client *redis.Client
	next   SnapshotStore
	ttl    time.Duration
	prefix string
}

// NewRedisSnapshotCache wraps next with a Redis cache. A zero ttl uses the default.
func NewRedisSnapshotCache(client *redis.Client, next SnapshotStore, ttl time.Duration) *RedisSnapshotCache {
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &RedisSnapshotCache{
		client: client,
		next:   next,
		ttl:    ttl,
		prefix: "learn:snapshot:",
	}
}

func (c *RedisSnapshotCache) key(enrollmentID string) string {
	return c.prefix + enrollmentID
}

func (c *RedisSnapshotCache) Save(ctx context.Context, snap Snapshot) error {
	if err := c.next.Save(ctx, snap); err != nil {
		return err
	}
	c.put(ctx, snap)
	return nil
}

func (c *RedisSnapshotCache) Load(ctx context.Context, enrollmentID string) (Snapshot, error) {
	data, err := c.client.Get(ctx, c.key(enrollmentID)).Bytes()
	switch {
	case err == nil:
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err == nil {
			return snap, nil
		}
		slog.Warn("discarding corrupt cached snapshot", "enrollment_id", enrollmentID)
	case !errors.Is(err, redis.Nil):
		slog.Warn("snapshot cache read failed", "enrollment_id", enrollmentID, "error", err)
	}

	snap, err := c.next.Load(ctx, enrollmentID)
	if err != nil {
		return Snapshot{}, err
	}
	c.put(ctx, snap)
	return snap, nil
}

func (c *RedisSnapshotCache) Delete(ctx context.Context, enrollmentID string) error {
	if err := c.client.Del(ctx, c.key(enrollmentID)).Err(); err != nil {
		slog.Warn("snapshot cache delete failed", "enrollment_id", enrollmentID, "error", err)
	}
	if err := c.next.Delete(ctx, enrollmentID); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (c *RedisSnapshotCache) put(ctx context.Context, snap Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		slog.Warn("snapshot cache encode failed", "enrollment_id", snap.EnrollmentID, "error", err)
		return
	}
	if err := c.client.Set(ctx, c.key(snap.EnrollmentID), data, c.ttl).Err(); err != nil {
		slog.Warn("snapshot cache write failed", "enrollment_id", snap.EnrollmentID, "error", err)
	}
}
