// Package channel implements ChannelManager: chat channel metadata and
// membership sets, privilege gates. Grounded on
// original_source/src/repositories/channels.rs.
package channel

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/akatsuki/bancho/internal/bancherr"
	"github.com/akatsuki/bancho/internal/cache"
	"github.com/akatsuki/bancho/internal/model"
	"github.com/akatsuki/bancho/internal/protocol"
	"github.com/akatsuki/bancho/internal/spectator"
	"github.com/akatsuki/bancho/internal/store/pg"
	"github.com/akatsuki/bancho/internal/streambus"
)

func membersKey(channelName string) string {
	return fmt.Sprintf("%schannels:%s:members", cache.KeyPrefix, channelName)
}

func sessionChannelsKey(sessionID uuid.UUID) string {
	return fmt.Sprintf("%ssession:%s:channels", cache.KeyPrefix, sessionID)
}

// MatchLookup is the slice of MatchManager behavior ChannelManager needs to
// resolve "#multiplayer" without importing the match package outright
// (match imports channel for its own #mp_<id> join), avoiding a cycle.
type MatchLookup interface {
	SessionMatchID(ctx context.Context, sessionID uuid.UUID) (int64, bool, error)
}

// Manager is ChannelManager.
type Manager struct {
	redis      *cache.Client
	store      *pg.ChannelStore
	streams    *streambus.Bus
	spectators *spectator.Group
	matches    MatchLookup
}

// New constructs a Manager. matches may be nil until MatchManager is
// wired in by cmd/server/main.go (channel.New happens before match.New).
func New(redis *cache.Client, store *pg.ChannelStore, streams *streambus.Bus, spectators *spectator.Group) *Manager {
	return &Manager{redis: redis, store: store, streams: streams, spectators: spectators}
}

// SetMatchLookup wires the match package in after construction, breaking
// the channel<->match initialization cycle.
func (m *Manager) SetMatchLookup(matches MatchLookup) {
	m.matches = matches
}

// Resolve translates "#spectator" to "#spec_<hostSid>" and "#multiplayer"
// to "#mp_<mid>" using the session's current subject.
func (m *Manager) Resolve(ctx context.Context, s model.Session, requested string) (string, error) {
	switch requested {
	case model.SpecialChannelSpectator:
		hostSID, ok, err := m.spectators.HostOf(ctx, s.SessionID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", bancherr.New(bancherr.ChannelsUnauthorized, "not spectating anyone")
		}
		return fmt.Sprintf("#spec_%s", hostSID), nil
	case model.SpecialChannelMultiplayer:
		if m.matches == nil {
			return "", bancherr.New(bancherr.ChannelsUnauthorized, "not in a match")
		}
		matchID, ok, err := m.matches.SessionMatchID(ctx, s.SessionID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", bancherr.New(bancherr.ChannelsUnauthorized, "not in a match")
		}
		return fmt.Sprintf("#mp_%d", matchID), nil
	default:
		return requested, nil
	}
}

// updateStream mirrors ChannelName::get_update_stream: role channels fan
// out their membership-count update onto the role's own stream, everything
// else onto main.
func updateStream(channelName string) model.StreamName {
	switch channelName {
	case "#plus", "#supporter", "#premium":
		return model.StreamDonator()
	case "#staff":
		return model.StreamStaff()
	case "#devlog":
		return model.StreamDev()
	default:
		return model.StreamMain()
	}
}

// Join checks the privilege gate, records membership, subscribes the
// session to the channel's message stream, and broadcasts the updated
// member count.
func (m *Manager) Join(ctx context.Context, s model.Session, channelName string) error {
	if channelName == model.SpecialChannelHighlight || channelName == model.SpecialChannelUserlog {
		return nil
	}

	ch, err := m.store.FetchChannel(ctx, channelName)
	if err != nil {
		return err
	}
	if s.Privileges&ch.ReadPrivileges == 0 {
		return bancherr.New(bancherr.ChannelsUnauthorized, "insufficient privileges for "+channelName)
	}

	pipe := m.redis.TxPipeline()
	pipe.SAdd(ctx, sessionChannelsKey(s.SessionID), channelName)
	pipe.SAdd(ctx, membersKey(channelName), s.SessionID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return bancherr.Wrap(bancherr.InternalServerError, "joining channel", err)
	}

	if err := m.streams.Subscribe(ctx, s.SessionID, model.StreamChannel(channelName)); err != nil {
		return err
	}

	count, err := m.MemberCount(ctx, channelName)
	if err != nil {
		return err
	}
	enc := protocol.NewEncoder()
	enc.WriteChannelInfo(ch.Name, ch.Description, int16(count))
	_, err = m.streams.Publish(ctx, updateStream(channelName), enc.Bytes(), model.Envelope{})
	return err
}

// Leave removes membership and the stream subscription.
func (m *Manager) Leave(ctx context.Context, s model.Session, channelName string) error {
	pipe := m.redis.TxPipeline()
	pipe.SRem(ctx, sessionChannelsKey(s.SessionID), channelName)
	pipe.SRem(ctx, membersKey(channelName), s.SessionID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return bancherr.Wrap(bancherr.InternalServerError, "leaving channel", err)
	}
	return m.streams.Unsubscribe(ctx, s.SessionID, model.StreamChannel(channelName))
}

// LeaveAll removes every channel membership the session holds, called on
// session teardown.
func (m *Manager) LeaveAll(ctx context.Context, s model.Session) error {
	names, err := m.redis.SMembers(ctx, sessionChannelsKey(s.SessionID)).Result()
	if err != nil {
		return bancherr.Wrap(bancherr.InternalServerError, "listing session channels", err)
	}
	for _, name := range names {
		if err := m.Leave(ctx, s, name); err != nil {
			return err
		}
	}
	return nil
}

// MemberCount returns the number of sessions currently joined to channelName.
func (m *Manager) MemberCount(ctx context.Context, channelName string) (int64, error) {
	n, err := m.redis.SCard(ctx, membersKey(channelName)).Result()
	if err != nil {
		return 0, bancherr.Wrap(bancherr.InternalServerError, "counting channel members", err)
	}
	return n, nil
}
