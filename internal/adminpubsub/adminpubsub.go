// Package adminpubsub implements AdminPubSub: the NATS listener that lets
// the external admin panel push moderation actions into this process's live
// session/presence/stream state without a direct RPC surface, grounded on
// original_source/src/adapters/nats.rs's subscribe-per-channel pattern and
// src/events/admin/*.rs's per-channel handlers. Every subject lives under
// "bancho.admin.<channel>", realized with github.com/nats-io/nats.go instead
// of the original's raw NATS client.
package adminpubsub

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/akatsuki/bancho/internal/channel"
	"github.com/akatsuki/bancho/internal/leaderboard"
	"github.com/akatsuki/bancho/internal/logger"
	"github.com/akatsuki/bancho/internal/match"
	"github.com/akatsuki/bancho/internal/model"
	"github.com/akatsuki/bancho/internal/panel"
	"github.com/akatsuki/bancho/internal/presence"
	"github.com/akatsuki/bancho/internal/protocol"
	"github.com/akatsuki/bancho/internal/session"
	"github.com/akatsuki/bancho/internal/spectator"
	"github.com/akatsuki/bancho/internal/store/pg"
	"github.com/akatsuki/bancho/internal/streambus"
)

const subjectPrefix = "bancho.admin."

// channels is the closed set of admin subjects this module handles, per
// spec.md §4.8.
var channels = []string{
	"ban", "unban", "silence", "disconnect",
	"notification", "change_username", "update_cached_stats", "wipe",
}

// Listener is AdminPubSub.
type Listener struct {
	nc *nats.Conn

	sessions   *session.Registry
	presences  *presence.Store
	channelMgr *channel.Manager
	spectators *spectator.Group
	matches    *match.Manager
	streams    *streambus.Bus
	stats      *pg.StatsStore
	board      *leaderboard.Board
	log        *logger.Logger

	subs []*nats.Subscription
}

// New constructs a Listener over an already-connected NATS connection; it
// dials nothing itself. cmd/server/main.go only builds one when NATS_URL is
// set.
func New(
	nc *nats.Conn,
	sessions *session.Registry,
	presences *presence.Store,
	channelMgr *channel.Manager,
	spectators *spectator.Group,
	matches *match.Manager,
	streams *streambus.Bus,
	stats *pg.StatsStore,
	board *leaderboard.Board,
	log *logger.Logger,
) *Listener {
	return &Listener{
		nc: nc, sessions: sessions, presences: presences, channelMgr: channelMgr,
		spectators: spectators, matches: matches, streams: streams,
		stats: stats, board: board, log: log.WithComponent("adminpubsub"),
	}
}

// Start subscribes to every admin subject. Each received message is handled
// on its own goroutine, so a background context is used for the derived
// operations rather than threading one in from Start's caller.
func (l *Listener) Start() error {
	for _, name := range channels {
		name := name
		sub, err := l.nc.Subscribe(subjectPrefix+name, func(msg *nats.Msg) {
			go func() {
				ctx := context.Background()
				if err := l.dispatch(ctx, name, msg.Data); err != nil {
					l.log.LogError(ctx, err, "admin channel handler failed", "channel", name)
				}
			}()
		})
		if err != nil {
			return err
		}
		l.subs = append(l.subs, sub)
	}
	l.log.Info("adminpubsub subscribed", "channels", channels)
	return nil
}

// Close unsubscribes every handler; it does not close the shared NATS
// connection, which outlives this listener.
func (l *Listener) Close() error {
	for _, sub := range l.subs {
		if err := sub.Unsubscribe(); err != nil {
			return err
		}
	}
	return nil
}

func (l *Listener) dispatch(ctx context.Context, name string, data []byte) error {
	switch name {
	case "ban", "wipe":
		return l.handleDisconnect(ctx, data)
	case "unban":
		return nil // the account row is already updated by the admin panel
	case "silence":
		return l.handleSilence(ctx, data)
	case "disconnect":
		return l.handleDisconnect(ctx, data)
	case "notification":
		return l.handleNotification(ctx, data)
	case "change_username":
		return l.handleChangeUsername(ctx, data)
	case "update_cached_stats":
		return l.handleUpdateCachedStats(ctx, data)
	}
	return nil
}

// userIDPayload covers every channel whose only required field is the
// target user id; parsePayload also accepts a bare decimal body for this
// shape, matching how a minimal admin panel might publish it.
type userIDPayload struct {
	UserID int64 `json:"user_id"`
}

type silencePayload struct {
	UserID  int64  `json:"user_id"`
	Seconds int64  `json:"seconds"`
	Reason  string `json:"reason"`
}

type notificationPayload struct {
	UserID  int64  `json:"user_id"`
	Message string `json:"message"`
}

type renamePayload struct {
	UserID      int64  `json:"user_id"`
	NewUsername string `json:"new_username"`
}

func parseUserID(data []byte) (int64, error) {
	var p userIDPayload
	if err := json.Unmarshal(data, &p); err == nil && p.UserID != 0 {
		return p.UserID, nil
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

// silenceUntil turns a relative second count into an absolute deadline; a
// non-positive value is treated as "silence lifted".
func silenceUntil(seconds int64) time.Time {
	if seconds <= 0 {
		return time.Now()
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}

// handleDisconnect tears every live session for a user down exactly like
// EventDispatcher's logout handler would, used by ban/wipe/disconnect —
// this module never touches the durable ban/restrict state itself, it
// only reacts to the admin panel having already written it.
func (l *Listener) handleDisconnect(ctx context.Context, data []byte) error {
	userID, err := parseUserID(data)
	if err != nil {
		return err
	}
	sessions, err := l.sessions.ByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if err := l.teardownSession(ctx, sess); err != nil {
			return err
		}
	}
	if len(sessions) > 0 {
		if err := l.presences.Delete(ctx, userID); err != nil {
			return err
		}
		enc := protocol.NewEncoder()
		enc.WriteUserLogout(int32(userID))
		if _, err := l.streams.Publish(ctx, model.StreamMain(), enc.Bytes(), model.Envelope{}); err != nil {
			return err
		}
	}
	return nil
}

func (l *Listener) teardownSession(ctx context.Context, sess model.Session) error {
	if err := l.channelMgr.LeaveAll(ctx, sess); err != nil {
		return err
	}
	if hostID, ok, err := l.spectators.HostOf(ctx, sess.SessionID); err != nil {
		return err
	} else if ok {
		if _, err := l.spectators.Leave(ctx, spectator.Identity{SessionID: hostID}, spectator.Identity{SessionID: sess.SessionID, UserID: sess.UserID, Username: sess.Username}); err != nil {
			return err
		}
	}
	if _, err := l.spectators.Close(ctx, sess.SessionID); err != nil {
		return err
	}
	if matchID, ok, err := l.matches.SessionMatchID(ctx, sess.SessionID); err != nil {
		return err
	} else if ok {
		if _, err := l.matches.Leave(ctx, sess, matchID); err != nil {
			return err
		}
	}
	if err := l.streams.UnsubscribeAll(ctx, sess.SessionID); err != nil {
		return err
	}
	return l.sessions.Delete(ctx, sess, nil)
}

// handleSilence applies a silence to every live session for a user, per
// spec.md §4.8 — unlike the chat auto-silence path this does not redact
// any messages, it only extends SilenceEnd.
func (l *Listener) handleSilence(ctx context.Context, data []byte) error {
	var p silencePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	sessions, err := l.sessions.ByUser(ctx, p.UserID)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		return nil
	}
	until := silenceUntil(p.Seconds)
	for _, sess := range sessions {
		if _, err := l.sessions.Silence(ctx, sess, until); err != nil {
			return err
		}
	}
	enc := protocol.NewEncoder()
	enc.WriteUserSilenced(int32(p.UserID))
	_, err = l.streams.Publish(ctx, model.StreamMain(), enc.Bytes(), model.Envelope{})
	return err
}

// handleNotification pushes an Alert either to one user's stream (when
// user_id is set) or to everyone via main, per spec.md §4.8.
func (l *Listener) handleNotification(ctx context.Context, data []byte) error {
	var p notificationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	enc := protocol.NewEncoder()
	enc.WriteAlert(p.Message)

	if p.UserID == 0 {
		_, err := l.streams.Publish(ctx, model.StreamMain(), enc.Bytes(), model.Envelope{})
		return err
	}
	sessions, err := l.sessions.ByUser(ctx, p.UserID)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if _, err := l.streams.Publish(ctx, model.StreamUser(sess.SessionID), enc.Bytes(), model.Envelope{}); err != nil {
			return err
		}
	}
	return nil
}

// handleChangeUsername re-keys every live session's username index; the
// users table row is renamed by the admin panel itself before publishing.
func (l *Listener) handleChangeUsername(ctx context.Context, data []byte) error {
	var p renamePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	sessions, err := l.sessions.ByUser(ctx, p.UserID)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if _, err := l.sessions.Rename(ctx, sess, p.NewUsername); err != nil {
			return err
		}
	}
	return nil
}

// handleUpdateCachedStats recomputes one user's global rank and refreshes
// their cached presence stats, then rebroadcasts their panel so everyone's
// scoreboard reflects the change without the user needing to log back in.
func (l *Listener) handleUpdateCachedStats(ctx context.Context, data []byte) error {
	userID, err := parseUserID(data)
	if err != nil {
		return err
	}
	pres, err := l.presences.Fetch(ctx, userID)
	if err != nil {
		return err
	}
	if pres == nil {
		return nil // not online, nothing cached to refresh
	}

	row, err := l.stats.FetchOne(ctx, userID, int16(pres.Mode))
	if err != nil {
		return err
	}
	rank, err := l.board.GlobalRank(ctx, userID, pres.Mode)
	if err != nil {
		return err
	}

	updated, err := l.presences.UpdateStats(ctx, *pres, model.Stats{
		RankedScore: uint64(row.RankedScore),
		TotalScore:  uint64(row.TotalScore),
		Accuracy:    float64(row.Accuracy),
		Playcount:   uint32(row.Playcount),
		Performance: uint32(row.Performance),
		GlobalRank:  uint32(rank),
	})
	if err != nil {
		return err
	}

	sessions, err := l.sessions.ByUser(ctx, userID)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		return nil
	}

	enc := protocol.NewEncoder()
	enc.WriteUserStats(panel.Stats(userID, updated))
	_, err = l.streams.Publish(ctx, model.StreamMain(), enc.Bytes(), model.Envelope{})
	return err
}
