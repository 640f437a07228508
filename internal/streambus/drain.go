package streambus

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/akatsuki/bancho/internal/bancherr"
	"github.com/akatsuki/bancho/internal/model"
)

// wireEnvelope is the JSON shape stored in the "info" field of every
// stream entry, mirroring original_source's MessageInfo.
type wireEnvelope struct {
	ExcludedSessionIDs []uuid.UUID `json:"excluded_session_ids,omitempty"`
	ReadPrivileges      *int32     `json:"read_privileges,omitempty"`
}

func encodeEnvelope(e model.Envelope) ([]byte, error) {
	w := wireEnvelope{ExcludedSessionIDs: e.ExcludedSessionIDs}
	if e.ReadPrivileges != 0 {
		rp := e.ReadPrivileges
		w.ReadPrivileges = &rp
	}
	return json.Marshal(w)
}

func decodeEnvelope(raw []byte) (wireEnvelope, error) {
	var w wireEnvelope
	if len(raw) == 0 {
		return w, nil
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return w, err
	}
	return w, nil
}

// Drain reads, for every stream the session has a recorded offset in,
// entries strictly after that offset, applies the envelope filters, and
// returns the concatenated payload bytes in (stream, id) order. Offsets
// are updated to the greatest id read per stream. XREAD leaves streams
// with no entries after the offset out of its reply, so their offsets,
// including those of cleared or deleted streams, are kept unchanged.
func (b *Bus) Drain(ctx context.Context, sessionID uuid.UUID, privileges int32) ([]byte, error) {
	offsets, err := b.redis.HGetAll(ctx, offsetsKey(sessionID)).Result()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.InternalServerError, "reading stream offsets", err)
	}
	if len(offsets) == 0 {
		return nil, nil
	}

	streams := make([]string, 0, len(offsets))
	for k := range offsets {
		streams = append(streams, k)
	}
	sort.Strings(streams)

	args := make([]string, 0, len(streams)*2)
	args = append(args, streams...)
	for _, s := range streams {
		args = append(args, offsets[s])
	}

	result, err := b.redis.XRead(ctx, &redis.XReadArgs{
		Streams: args,
		Count:   0,
		Block:   -1,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, bancherr.Wrap(bancherr.InternalServerError, "reading stream entries", err)
	}

	var out bytes.Buffer
	newOffsets := make(map[string]string, len(offsets))
	removed := make([]string, 0)

	for _, streamResult := range result {
		if len(streamResult.Messages) == 0 {
			removed = append(removed, streamResult.Stream)
			continue
		}
		for _, msg := range streamResult.Messages {
			data, _ := msg.Values[fieldData].(string)
			infoRaw, _ := msg.Values[fieldInfo].(string)

			info, err := decodeEnvelope([]byte(infoRaw))
			if err != nil {
				continue
			}
			if excludes(info, sessionID) {
				continue
			}
			if !readable(info, privileges) {
				continue
			}
			out.WriteString(data)
		}
		newOffsets[streamResult.Stream] = streamResult.Messages[len(streamResult.Messages)-1].ID
	}

	if len(newOffsets) > 0 {
		fields := make(map[string]interface{}, len(newOffsets))
		for k, v := range newOffsets {
			fields[k] = v
		}
		if err := b.redis.HSet(ctx, offsetsKey(sessionID), fields).Err(); err != nil {
			return nil, bancherr.Wrap(bancherr.InternalServerError, "updating stream offsets", err)
		}
	}
	if len(removed) > 0 {
		if err := b.redis.HDel(ctx, offsetsKey(sessionID), removed...).Err(); err != nil {
			return nil, bancherr.Wrap(bancherr.InternalServerError, "clearing empty stream offsets", err)
		}
	}

	return out.Bytes(), nil
}

func excludes(e wireEnvelope, sessionID uuid.UUID) bool {
	for _, id := range e.ExcludedSessionIDs {
		if id == sessionID {
			return true
		}
	}
	return false
}

func readable(e wireEnvelope, privileges int32) bool {
	if e.ReadPrivileges == nil || *e.ReadPrivileges == 0 {
		return true
	}
	return privileges&*e.ReadPrivileges != 0
}
