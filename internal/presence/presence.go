// Package presence implements PresenceStore: user_id → current
// presence/stats for online users, grounded on
// original_source/src/entities/presences.rs and its repository
// counterpart's hash-keyed storage idiom.
package presence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/akatsuki/bancho/internal/bancherr"
	"github.com/akatsuki/bancho/internal/cache"
	"github.com/akatsuki/bancho/internal/model"
	"github.com/redis/go-redis/v9"
)

const presencesKey = cache.KeyPrefix + "presences"

// Store is PresenceStore.
type Store struct {
	redis *cache.Client
}

// New constructs a Store over the shared Redis client.
func New(redis *cache.Client) *Store {
	return &Store{redis: redis}
}

// Create inserts a presence for userID, created on login.
func (s *Store) Create(ctx context.Context, p model.Presence) error {
	return s.save(ctx, p)
}

func (s *Store) save(ctx context.Context, p model.Presence) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return bancherr.Wrap(bancherr.InternalServerError, "encoding presence", err)
	}
	if err := s.redis.HSet(ctx, presencesKey, fmt.Sprint(p.UserID), raw).Err(); err != nil {
		return bancherr.Wrap(bancherr.InternalServerError, "saving presence", err)
	}
	return nil
}

// Fetch returns the presence for userID, or nil if not online. The bot
// user's presence is synthesised rather than stored.
func (s *Store) Fetch(ctx context.Context, userID int64) (*model.Presence, error) {
	if userID == model.BotUserID {
		p := model.BotPresence()
		return &p, nil
	}
	raw, err := s.redis.HGet(ctx, presencesKey, fmt.Sprint(userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, bancherr.Wrap(bancherr.InternalServerError, "fetching presence", err)
	}
	var p model.Presence
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, bancherr.Wrap(bancherr.InternalServerError, "decoding presence", err)
	}
	return &p, nil
}

// FetchMany returns presences for the given user ids, substituting the
// synthesised bot presence for model.BotUserID and silently omitting users
// who are not online (not an error — callers return UserLogout for those).
func (s *Store) FetchMany(ctx context.Context, userIDs []int64) ([]model.Presence, error) {
	out := make([]model.Presence, 0, len(userIDs))
	var toFetch []int64
	for _, id := range userIDs {
		if id == model.BotUserID {
			out = append(out, model.BotPresence())
			continue
		}
		toFetch = append(toFetch, id)
	}
	if len(toFetch) == 0 {
		return out, nil
	}

	fields := make([]string, len(toFetch))
	for i, id := range toFetch {
		fields[i] = fmt.Sprint(id)
	}
	raws, err := s.redis.HMGet(ctx, presencesKey, fields...).Result()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.InternalServerError, "fetching presences", err)
	}
	for _, raw := range raws {
		if raw == nil {
			continue
		}
		var p model.Presence
		if err := json.Unmarshal([]byte(raw.(string)), &p); err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// FetchAll returns every online presence plus the bot.
func (s *Store) FetchAll(ctx context.Context) ([]model.Presence, error) {
	raws, err := s.redis.HVals(ctx, presencesKey).Result()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.InternalServerError, "listing presences", err)
	}
	out := make([]model.Presence, 0, len(raws)+1)
	for _, raw := range raws {
		var p model.Presence
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue
		}
		out = append(out, p)
	}
	out = append(out, model.BotPresence())
	return out, nil
}

// UpdateAction mutates presence.action and the accompanying info/beatmap/
// mods/mode fields, used by the ChangeAction handler.
func (s *Store) UpdateAction(ctx context.Context, p model.Presence, action model.Action, infoText, beatmapMD5 string, beatmapID int32, mods uint32, mode uint8) (model.Presence, error) {
	p.Action = action
	p.InfoText = infoText
	p.BeatmapMD5 = beatmapMD5
	p.BeatmapID = beatmapID
	p.Mods = mods
	p.Mode = mode
	return p, s.save(ctx, p)
}

// UpdateStats replaces the cached stats snapshot, used by AdminPubSub's
// update_cached_stats handler.
func (s *Store) UpdateStats(ctx context.Context, p model.Presence, stats model.Stats) (model.Presence, error) {
	p.Stats = stats
	return p, s.save(ctx, p)
}

// UpdateLocation replaces the cached geolocation. No caller in this module
// uses it; login sets the location in Create.
func (s *Store) UpdateLocation(ctx context.Context, p model.Presence, loc model.Location) (model.Presence, error) {
	p.Location = loc
	return p, s.save(ctx, p)
}

// SetAwayMessage updates the away message shown to private-chat senders
// while the recipient is marked away, used by the SetAwayMessage handler.
func (s *Store) SetAwayMessage(ctx context.Context, p model.Presence, message string) (model.Presence, error) {
	p.AwayMessage = message
	return p, s.save(ctx, p)
}

// Delete removes the presence for userID; the caller is responsible for
// only calling this when the user has no sessions remaining.
func (s *Store) Delete(ctx context.Context, userID int64) error {
	if userID == model.BotUserID {
		return nil
	}
	if err := s.redis.HDel(ctx, presencesKey, fmt.Sprint(userID)).Err(); err != nil {
		return bancherr.Wrap(bancherr.InternalServerError, "deleting presence", err)
	}
	return nil
}
