// Package streambus implements StreamBus: an append-only per-stream log
// backed by Redis Streams, with per-session offsets stored as a Redis
// hash. Grounded on original_source/src/repositories/streams.rs and the
// teacher's internal/streaming/manager.go lifecycle/logging idiom.
package streambus

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/akatsuki/bancho/internal/bancherr"
	"github.com/akatsuki/bancho/internal/cache"
	"github.com/akatsuki/bancho/internal/logger"
	"github.com/akatsuki/bancho/internal/model"
)

const (
	streamsBaseKey = cache.KeyPrefix + "streams"
)

func streamKey(name model.StreamName) string {
	return fmt.Sprintf("%s:%s", streamsBaseKey, name.String())
}

func offsetsKey(sessionID uuid.UUID) string {
	return fmt.Sprintf("%ssessions:%s:stream_offsets", cache.KeyPrefix, sessionID)
}

// fields used in every entry appended to a stream.
const (
	fieldData = "data"
	fieldInfo = "info"
)

// Bus is StreamBus: the fan-out layer every broadcast in this module goes
// through.
type Bus struct {
	redis *cache.Client
	log   *logger.Logger
}

// New constructs a Bus over the shared Redis client.
func New(redis *cache.Client, log *logger.Logger) *Bus {
	return &Bus{redis: redis, log: log.WithComponent("streambus")}
}

// Publish appends an entry and returns its assigned id. Entries in a
// stream are totally ordered by id, Redis Streams' auto-generated
// timestamp-sequence id.
func (b *Bus) Publish(ctx context.Context, stream model.StreamName, payload []byte, envelope model.Envelope) (string, error) {
	info, err := encodeEnvelope(envelope)
	if err != nil {
		return "", bancherr.Wrap(bancherr.InternalServerError, "encoding stream envelope", err)
	}

	id, err := b.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(stream),
		ID:     "*",
		Values: map[string]interface{}{
			fieldData: payload,
			fieldInfo: info,
		},
	}).Result()
	if err != nil {
		return "", bancherr.Wrap(bancherr.InternalServerError, "publishing stream entry", err)
	}
	return id, nil
}

// Subscribe seeds the session's offset for stream to the current tail, so
// prior history is not replayed.
func (b *Bus) Subscribe(ctx context.Context, sessionID uuid.UUID, stream model.StreamName) error {
	latest, err := b.latestMessageID(ctx, stream)
	if err != nil {
		return err
	}
	if err := b.redis.HSet(ctx, offsetsKey(sessionID), streamKey(stream), latest).Err(); err != nil {
		return bancherr.Wrap(bancherr.InternalServerError, "subscribing to stream", err)
	}
	return nil
}

// Unsubscribe removes the session's offset for stream.
func (b *Bus) Unsubscribe(ctx context.Context, sessionID uuid.UUID, stream model.StreamName) error {
	if err := b.redis.HDel(ctx, offsetsKey(sessionID), streamKey(stream)).Err(); err != nil {
		return bancherr.Wrap(bancherr.InternalServerError, "unsubscribing from stream", err)
	}
	return nil
}

// UnsubscribeAll removes every offset the session holds.
func (b *Bus) UnsubscribeAll(ctx context.Context, sessionID uuid.UUID) error {
	if err := b.redis.Del(ctx, offsetsKey(sessionID)).Err(); err != nil {
		return bancherr.Wrap(bancherr.InternalServerError, "clearing stream offsets", err)
	}
	return nil
}

// IsJoined reports whether the session currently holds an offset for stream.
func (b *Bus) IsJoined(ctx context.Context, sessionID uuid.UUID, stream model.StreamName) (bool, error) {
	ok, err := b.redis.HExists(ctx, offsetsKey(sessionID), streamKey(stream)).Result()
	if err != nil {
		return false, bancherr.Wrap(bancherr.InternalServerError, "checking stream membership", err)
	}
	return ok, nil
}

// Clear drops the log; outstanding subscribers observe empty on next drain.
func (b *Bus) Clear(ctx context.Context, stream model.StreamName) error {
	if err := b.redis.Del(ctx, streamKey(stream)).Err(); err != nil {
		return bancherr.Wrap(bancherr.InternalServerError, "clearing stream", err)
	}
	return nil
}

// Trim removes entries with id < minID and returns the removed count.
func (b *Bus) Trim(ctx context.Context, stream model.StreamName, minID string) (int64, error) {
	n, err := b.redis.XTrimMinID(ctx, streamKey(stream), minID).Result()
	if err != nil {
		return 0, bancherr.Wrap(bancherr.InternalServerError, "trimming stream", err)
	}
	return n, nil
}

func (b *Bus) latestMessageID(ctx context.Context, stream model.StreamName) (string, error) {
	entries, err := b.redis.XRevRangeN(ctx, streamKey(stream), "+", "-", 1).Result()
	if err != nil {
		return "", bancherr.Wrap(bancherr.InternalServerError, "reading stream tail", err)
	}
	if len(entries) == 0 {
		return "0-0", nil
	}
	return entries[0].ID, nil
}

// LastActivity returns the timestamp encoded in stream's newest entry id,
// and false if the stream holds no entries at all. Used by SessionReaper to
// decide whether a stream is dead (drop it) or merely aging (trim it).
func (b *Bus) LastActivity(ctx context.Context, stream model.StreamName) (time.Time, bool, error) {
	entries, err := b.redis.XRevRangeN(ctx, streamKey(stream), "+", "-", 1).Result()
	if err != nil {
		return time.Time{}, false, bancherr.Wrap(bancherr.InternalServerError, "reading stream tail", err)
	}
	if len(entries) == 0 {
		return time.Time{}, false, nil
	}
	ts, err := entryTimestamp(entries[0].ID)
	if err != nil {
		return time.Time{}, false, bancherr.Wrap(bancherr.InternalServerError, "parsing stream entry id", err)
	}
	return ts, true, nil
}

// TrimBefore removes every entry older than cutoff and returns the removed
// count, a time-based wrapper around Trim.
func (b *Bus) TrimBefore(ctx context.Context, stream model.StreamName, cutoff time.Time) (int64, error) {
	return b.Trim(ctx, stream, fmt.Sprintf("%d-0", cutoff.UnixMilli()))
}

// entryTimestamp extracts the millisecond timestamp half of a Redis Streams
// entry id ("<ms>-<seq>").
func entryTimestamp(id string) (time.Time, error) {
	ms, _, _ := strings.Cut(id, "-")
	v, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(v), nil
}
