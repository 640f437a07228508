// Package spectator implements SpectatorGroup: the host->spectators
// adjacency used by the #spectator channel and the ClientStartSpectating/
// ClientStopSpectating flow. Grounded on
// original_source/src/repositories/spectators.rs (Redis layout) and
// original_source/src/usecases/spectators.rs (join/leave/close sequencing).
package spectator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/akatsuki/bancho/internal/bancherr"
	"github.com/akatsuki/bancho/internal/cache"
)

const spectatingKey = cache.KeyPrefix + "sessions:spectating"

func membersKey(hostSessionID uuid.UUID) string {
	return fmt.Sprintf("%sspectator:%s", cache.KeyPrefix, hostSessionID)
}

// Identity is the minimal session identity recorded per spectator, mirroring
// the Rust SessionIdentity shape stored in the members set.
type Identity struct {
	SessionID uuid.UUID `json:"session_id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
}

// Group is SpectatorGroup.
type Group struct {
	redis *cache.Client
}

// New constructs a Group.
func New(redis *cache.Client) *Group {
	return &Group{redis: redis}
}

// HostOf returns the session currently being spectated by sessionID, if any.
func (g *Group) HostOf(ctx context.Context, sessionID uuid.UUID) (uuid.UUID, bool, error) {
	raw, err := g.redis.HGet(ctx, spectatingKey, sessionID.String()).Result()
	if err != nil {
		if err == cache.Nil {
			return uuid.UUID{}, false, nil
		}
		return uuid.UUID{}, false, bancherr.Wrap(bancherr.InternalServerError, "looking up spectating host", err)
	}
	hostID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, false, bancherr.Wrap(bancherr.InternalServerError, "parsing host session id", err)
	}
	return hostID, true, nil
}

// Members returns every spectator currently watching hostSessionID.
func (g *Group) Members(ctx context.Context, hostSessionID uuid.UUID) ([]Identity, error) {
	raws, err := g.redis.SMembers(ctx, membersKey(hostSessionID)).Result()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.InternalServerError, "listing spectators", err)
	}
	members := make([]Identity, 0, len(raws))
	for _, raw := range raws {
		var id Identity
		if err := json.Unmarshal([]byte(raw), &id); err != nil {
			return nil, bancherr.Wrap(bancherr.InternalServerError, "decoding spectator identity", err)
		}
		members = append(members, id)
	}
	return members, nil
}

// Count returns the number of sessions currently spectating hostSessionID.
func (g *Group) Count(ctx context.Context, hostSessionID uuid.UUID) (int64, error) {
	n, err := g.redis.SCard(ctx, membersKey(hostSessionID)).Result()
	if err != nil {
		return 0, bancherr.Wrap(bancherr.InternalServerError, "counting spectators", err)
	}
	return n, nil
}

// JoinResult tells the caller which notifications to send: WasFirst is true
// when the spectator becomes the only one, meaning the host itself must be
// subscribed to its own #spectator channel/stream for the first time.
type JoinResult struct {
	WasFirst bool
}

// Join records spectator as watching host, mirroring usecases::spectators::join.
func (g *Group) Join(ctx context.Context, host, spectator Identity) (JoinResult, error) {
	countBefore, err := g.Count(ctx, host.SessionID)
	if err != nil {
		return JoinResult{}, err
	}

	raw, err := json.Marshal(spectator)
	if err != nil {
		return JoinResult{}, bancherr.Wrap(bancherr.InternalServerError, "encoding spectator identity", err)
	}

	pipe := g.redis.TxPipeline()
	pipe.HSet(ctx, spectatingKey, spectator.SessionID.String(), host.SessionID.String())
	pipe.SAdd(ctx, membersKey(host.SessionID), string(raw))
	if _, err := pipe.Exec(ctx); err != nil {
		return JoinResult{}, bancherr.Wrap(bancherr.InternalServerError, "joining spectator group", err)
	}

	return JoinResult{WasFirst: countBefore == 0}, nil
}

// LeaveResult tells the caller whether the group is now empty, meaning the
// host must be kicked from #spectator and its spectator stream cleared.
type LeaveResult struct {
	WasLast bool
}

// Leave removes spectator from host's group, mirroring
// usecases::spectators::leave.
func (g *Group) Leave(ctx context.Context, host, spectator Identity) (LeaveResult, error) {
	members, err := g.Members(ctx, host.SessionID)
	if err != nil {
		return LeaveResult{}, err
	}
	var raw []byte
	for _, m := range members {
		if m.SessionID == spectator.SessionID {
			raw, err = json.Marshal(m)
			if err != nil {
				return LeaveResult{}, bancherr.Wrap(bancherr.InternalServerError, "encoding spectator identity", err)
			}
			break
		}
	}
	if raw == nil {
		return LeaveResult{}, bancherr.New(bancherr.InteractionBlocked, "not spectating this host")
	}

	pipe := g.redis.TxPipeline()
	pipe.HDel(ctx, spectatingKey, spectator.SessionID.String())
	pipe.SRem(ctx, membersKey(host.SessionID), string(raw))
	if _, err := pipe.Exec(ctx); err != nil {
		return LeaveResult{}, bancherr.Wrap(bancherr.InternalServerError, "leaving spectator group", err)
	}

	remaining, err := g.Count(ctx, host.SessionID)
	if err != nil {
		return LeaveResult{}, err
	}
	return LeaveResult{WasLast: remaining == 0}, nil
}

// Close tears down a host's spectator group entirely, used when the host
// session itself disconnects, mirroring usecases::spectators::stop.
func (g *Group) Close(ctx context.Context, hostSessionID uuid.UUID) ([]Identity, error) {
	members, err := g.Members(ctx, hostSessionID)
	if err != nil {
		return nil, err
	}

	pipe := g.redis.TxPipeline()
	for _, m := range members {
		pipe.HDel(ctx, spectatingKey, m.SessionID.String())
	}
	pipe.Del(ctx, membersKey(hostSessionID))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, bancherr.Wrap(bancherr.InternalServerError, "closing spectator group", err)
	}

	return members, nil
}
