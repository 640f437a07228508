// Package session implements SessionRegistry: session records keyed by id,
// with secondary indexes by user id and by case-folded username. Grounded
// on original_source/src/repositories/sessions.rs.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/akatsuki/bancho/internal/bancherr"
	"github.com/akatsuki/bancho/internal/cache"
	"github.com/akatsuki/bancho/internal/model"
)

const sessionsKey = cache.KeyPrefix + "sessions"

func userIDKey(userID int64) string {
	return fmt.Sprintf("%ssessions:user_ids:%d", cache.KeyPrefix, userID)
}

// safeUsername case-folds and collapses whitespace, matching osu!'s
// historical "safe username" normalization used to key the username index.
func safeUsername(username string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(username)), " ", "_")
}

func usernameKey(username string) string {
	return fmt.Sprintf("%ssessions:usernames:%s", cache.KeyPrefix, safeUsername(username))
}

// Registry is SessionRegistry.
type Registry struct {
	redis *cache.Client
}

// New constructs a Registry over the shared Redis client.
func New(redis *cache.Client) *Registry {
	return &Registry{redis: redis}
}

// Create allocates a session_id, inserts into the primary map and both
// secondary indexes, atomically.
func (r *Registry) Create(ctx context.Context, args model.CreateSessionArgs) (model.Session, error) {
	session := model.Session{
		SessionID:       uuid.New(),
		UserID:          args.UserID,
		Username:        args.Username,
		Privileges:      args.Privileges,
		CreateIPAddress: args.IPAddress,
		UTCOffset:       args.UTCOffset,
		PrivateDMs:      args.PrivateDMs,
		SilenceEnd:      args.SilenceEnd,
		Primary:         args.Primary,
		UpdatedAt:       time.Now(),
	}

	raw, err := json.Marshal(session)
	if err != nil {
		return model.Session{}, bancherr.Wrap(bancherr.InternalServerError, "encoding session", err)
	}

	pipe := r.redis.TxPipeline()
	pipe.HSet(ctx, sessionsKey, session.SessionID.String(), raw)
	pipe.SAdd(ctx, userIDKey(session.UserID), session.SessionID.String())
	pipe.SAdd(ctx, usernameKey(session.Username), session.SessionID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return model.Session{}, bancherr.Wrap(bancherr.InternalServerError, "creating session", err)
	}

	return session, nil
}

func decodeSession(raw string) (model.Session, error) {
	var s model.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return model.Session{}, err
	}
	return s, nil
}

// Lookup fetches one session by id.
func (r *Registry) Lookup(ctx context.Context, sessionID uuid.UUID) (*model.Session, error) {
	raw, err := r.redis.HGet(ctx, sessionsKey, sessionID.String()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, bancherr.Wrap(bancherr.InternalServerError, "looking up session", err)
	}
	s, err := decodeSession(raw)
	if err != nil {
		return nil, bancherr.Wrap(bancherr.InternalServerError, "decoding session", err)
	}
	return &s, nil
}

// ByUser fetches every session for userID.
func (r *Registry) ByUser(ctx context.Context, userID int64) ([]model.Session, error) {
	ids, err := r.redis.SMembers(ctx, userIDKey(userID)).Result()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.InternalServerError, "listing user sessions", err)
	}
	return r.fetchMany(ctx, ids)
}

// ByUsername fetches every session for a username.
func (r *Registry) ByUsername(ctx context.Context, username string) ([]model.Session, error) {
	ids, err := r.redis.SMembers(ctx, usernameKey(username)).Result()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.InternalServerError, "listing username sessions", err)
	}
	return r.fetchMany(ctx, ids)
}

func (r *Registry) fetchMany(ctx context.Context, ids []string) ([]model.Session, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raws, err := r.redis.HMGet(ctx, sessionsKey, ids...).Result()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.InternalServerError, "fetching sessions", err)
	}
	sessions := make([]model.Session, 0, len(raws))
	for _, raw := range raws {
		if raw == nil {
			continue
		}
		s, err := decodeSession(raw.(string))
		if err != nil {
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// IsOnline reports whether userID has at least one live session.
func (r *Registry) IsOnline(ctx context.Context, userID int64) (bool, error) {
	n, err := r.redis.Exists(ctx, userIDKey(userID)).Result()
	if err != nil {
		return false, bancherr.Wrap(bancherr.InternalServerError, "checking online status", err)
	}
	return n > 0, nil
}

// Extend touches updated_at.
func (r *Registry) Extend(ctx context.Context, session model.Session) (model.Session, error) {
	session.UpdatedAt = time.Now()
	return r.update(ctx, session)
}

func (r *Registry) update(ctx context.Context, session model.Session) (model.Session, error) {
	raw, err := json.Marshal(session)
	if err != nil {
		return model.Session{}, bancherr.Wrap(bancherr.InternalServerError, "encoding session", err)
	}
	if err := r.redis.HSet(ctx, sessionsKey, session.SessionID.String(), raw).Err(); err != nil {
		return model.Session{}, bancherr.Wrap(bancherr.InternalServerError, "updating session", err)
	}
	return session, nil
}

// SetPrivateDMs persists the private_dms toggle.
func (r *Registry) SetPrivateDMs(ctx context.Context, session model.Session, privateDMs bool) (model.Session, error) {
	session.PrivateDMs = privateDMs
	return r.update(ctx, session)
}

// Silence sets silence_end and persists it.
func (r *Registry) Silence(ctx context.Context, session model.Session, until time.Time) (model.Session, error) {
	session.SilenceEnd = until
	return r.update(ctx, session)
}

// Rename re-keys the username secondary index and persists the new
// username, used by AdminPubSub's change_username channel when the
// renamed account has a live session.
func (r *Registry) Rename(ctx context.Context, session model.Session, newUsername string) (model.Session, error) {
	oldKey := usernameKey(session.Username)
	session.Username = newUsername
	raw, err := json.Marshal(session)
	if err != nil {
		return model.Session{}, bancherr.Wrap(bancherr.InternalServerError, "encoding session", err)
	}
	pipe := r.redis.TxPipeline()
	pipe.HSet(ctx, sessionsKey, session.SessionID.String(), raw)
	pipe.SRem(ctx, oldKey, session.SessionID.String())
	pipe.SAdd(ctx, usernameKey(newUsername), session.SessionID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return model.Session{}, bancherr.Wrap(bancherr.InternalServerError, "renaming session", err)
	}
	return session, nil
}

// PickRandomNonPrimary fetches two random sessions for userID; since at
// most one is primary, this guarantees a non-primary sibling if one
// exists. Returns nil if fewer than two sessions exist for the user.
func (r *Registry) PickRandomNonPrimary(ctx context.Context, userID int64) (*model.Session, error) {
	ids, err := r.redis.SRandMemberN(ctx, userIDKey(userID), 2).Result()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.InternalServerError, "sampling sessions", err)
	}
	if len(ids) != 2 {
		return nil, nil
	}
	sessions, err := r.fetchMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		if !s.Primary {
			return &s, nil
		}
	}
	return nil, nil
}

// Delete removes a session from the primary map and both indexes. If the
// deleted session was primary and a sibling remains, newPrimary (obtained
// by the caller via PickRandomNonPrimary) is promoted atomically with the
// delete.
func (r *Registry) Delete(ctx context.Context, session model.Session, newPrimary *model.Session) error {
	pipe := r.redis.TxPipeline()
	pipe.HDel(ctx, sessionsKey, session.SessionID.String())
	pipe.SRem(ctx, userIDKey(session.UserID), session.SessionID.String())
	pipe.SRem(ctx, usernameKey(session.Username), session.SessionID.String())
	if newPrimary != nil {
		promoted := *newPrimary
		promoted.Primary = true
		raw, err := json.Marshal(promoted)
		if err != nil {
			return bancherr.Wrap(bancherr.InternalServerError, "encoding promoted session", err)
		}
		pipe.HSet(ctx, sessionsKey, promoted.SessionID.String(), raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return bancherr.Wrap(bancherr.InternalServerError, "deleting session", err)
	}
	return nil
}

// AllSessions returns every live session, used by SessionReaper to find
// stale ones without needing a secondary staleness index.
func (r *Registry) AllSessions(ctx context.Context) ([]model.Session, error) {
	raws, err := r.redis.HVals(ctx, sessionsKey).Result()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.InternalServerError, "listing sessions", err)
	}
	sessions := make([]model.Session, 0, len(raws))
	for _, raw := range raws {
		s, err := decodeSession(raw)
		if err != nil {
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// Count returns the total number of live sessions.
func (r *Registry) Count(ctx context.Context) (int64, error) {
	n, err := r.redis.HLen(ctx, sessionsKey).Result()
	if err != nil {
		return 0, bancherr.Wrap(bancherr.InternalServerError, "counting sessions", err)
	}
	return n, nil
}
