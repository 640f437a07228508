// Package reaper implements SessionReaper: a cron-scheduled sweep that tears
// down sessions nobody explicitly logged out of, and trims the Redis Streams
// backing StreamBus so dead or idle streams don't grow without bound.
// Grounded on original_source/src/usecases/housekeeping.rs's reap loop, and
// on EventDispatcher's handleLogout teardown sequence in
// internal/dispatch/dispatch.go, which this module mirrors exactly.
package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/akatsuki/bancho/internal/channel"
	"github.com/akatsuki/bancho/internal/logger"
	"github.com/akatsuki/bancho/internal/match"
	"github.com/akatsuki/bancho/internal/model"
	"github.com/akatsuki/bancho/internal/presence"
	"github.com/akatsuki/bancho/internal/protocol"
	"github.com/akatsuki/bancho/internal/session"
	"github.com/akatsuki/bancho/internal/spectator"
	"github.com/akatsuki/bancho/internal/store/pg"
	"github.com/akatsuki/bancho/internal/streambus"
)

// streamDeadAfter/streamTrimAfter match spec.md §4.9's housekeeping window:
// a stream untouched for 10 minutes is considered abandoned and dropped
// outright; anything still active gets its entries older than 5 minutes
// trimmed so a long-lived channel's history doesn't grow forever.
const (
	streamDeadAfter = 10 * time.Minute
	streamTrimAfter = 5 * time.Minute
)

// Reaper is SessionReaper.
type Reaper struct {
	sessions   *session.Registry
	presences  *presence.Store
	channelMgr *channel.Manager
	channelDB  *pg.ChannelStore
	spectators *spectator.Group
	matches    *match.Manager
	streams    *streambus.Bus
	log        *logger.Logger

	staleAfter time.Duration
	cron       *cron.Cron
}

// New constructs a Reaper. staleAfter is how long a session may go without
// being touched (config.SessionStaleAfter) before it is considered
// abandoned and torn down.
func New(
	sessions *session.Registry,
	presences *presence.Store,
	channelMgr *channel.Manager,
	channelDB *pg.ChannelStore,
	spectators *spectator.Group,
	matches *match.Manager,
	streams *streambus.Bus,
	staleAfter time.Duration,
	log *logger.Logger,
) *Reaper {
	return &Reaper{
		sessions: sessions, presences: presences, channelMgr: channelMgr,
		channelDB: channelDB, spectators: spectators, matches: matches,
		streams: streams, staleAfter: staleAfter, log: log.WithComponent("reaper"),
	}
}

// Start schedules Sweep to run every interval (config.ReaperInterval) on its
// own goroutine until Stop is called.
func (r *Reaper) Start(interval time.Duration) error {
	r.cron = cron.New()
	_, err := r.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		ctx := context.Background()
		if err := r.Sweep(ctx); err != nil {
			r.log.LogError(ctx, err, "reaper sweep failed")
		}
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop cancels the schedule and waits for any in-flight sweep to finish.
func (r *Reaper) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}

// Sweep runs one full pass: reap stale sessions, then trim stream backlogs.
func (r *Reaper) Sweep(ctx context.Context) error {
	if err := r.reapStaleSessions(ctx); err != nil {
		return err
	}
	return r.trimStreams(ctx)
}

func (r *Reaper) reapStaleSessions(ctx context.Context) error {
	sessions, err := r.sessions.AllSessions(ctx)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if !sess.IsStale(r.staleAfter) {
			continue
		}
		if err := r.teardownSession(ctx, sess); err != nil {
			r.log.LogError(ctx, err, "reaping stale session",
				"session_id", sess.SessionID, "user_id", sess.UserID)
			continue
		}
		r.log.Info("reaped stale session", "session_id", sess.SessionID, "user_id", sess.UserID)
	}
	return nil
}

// teardownSession runs the same sequence as EventDispatcher's handleLogout:
// leave every channel, close any spectator relationship, leave any match,
// drop every stream subscription, delete the session row (promoting a
// sibling session if one exists), and — only once the user has no sessions
// left — drop the cached presence and broadcast UserLogout.
func (r *Reaper) teardownSession(ctx context.Context, sess model.Session) error {
	if err := r.channelMgr.LeaveAll(ctx, sess); err != nil {
		return err
	}

	if hostID, ok, err := r.spectators.HostOf(ctx, sess.SessionID); err != nil {
		return err
	} else if ok {
		if _, err := r.spectators.Leave(ctx, spectator.Identity{SessionID: hostID}, spectator.Identity{SessionID: sess.SessionID, UserID: sess.UserID, Username: sess.Username}); err != nil {
			return err
		}
	}
	if _, err := r.spectators.Close(ctx, sess.SessionID); err != nil {
		return err
	}

	if matchID, ok, err := r.matches.SessionMatchID(ctx, sess.SessionID); err != nil {
		return err
	} else if ok {
		if _, err := r.matches.Leave(ctx, sess, matchID); err != nil {
			return err
		}
	}

	if err := r.streams.UnsubscribeAll(ctx, sess.SessionID); err != nil {
		return err
	}

	newPrimary, err := r.sessions.PickRandomNonPrimary(ctx, sess.UserID)
	if err != nil {
		return err
	}
	if err := r.sessions.Delete(ctx, sess, newPrimary); err != nil {
		return err
	}

	online, err := r.sessions.IsOnline(ctx, sess.UserID)
	if err != nil {
		return err
	}
	if online {
		return nil
	}
	if err := r.presences.Delete(ctx, sess.UserID); err != nil {
		return err
	}
	enc := protocol.NewEncoder()
	enc.WriteUserLogout(int32(sess.UserID))
	_, err = r.streams.Publish(ctx, model.StreamMain(), enc.Bytes(), model.Envelope{})
	return err
}

// trimStreams sweeps every well-known stream plus every durable chat
// channel's stream: a stream with no activity in streamDeadAfter is dropped
// outright, otherwise entries older than streamTrimAfter are trimmed.
func (r *Reaper) trimStreams(ctx context.Context) error {
	streams := []model.StreamName{
		model.StreamMain(),
		model.StreamLobby(),
		model.StreamDonator(),
		model.StreamStaff(),
		model.StreamDev(),
	}

	channels, err := r.channelDB.FetchAll(ctx)
	if err != nil {
		return err
	}
	for _, c := range channels {
		streams = append(streams, model.StreamChannel(c.Name))
	}

	for _, stream := range streams {
		if err := r.sweepStream(ctx, stream); err != nil {
			r.log.LogError(ctx, err, "sweeping stream", "stream", stream.String())
		}
	}
	return nil
}

func (r *Reaper) sweepStream(ctx context.Context, stream model.StreamName) error {
	lastActivity, ok, err := r.streams.LastActivity(ctx, stream)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if time.Since(lastActivity) > streamDeadAfter {
		return r.streams.Clear(ctx, stream)
	}
	_, err = r.streams.TrimBefore(ctx, stream, time.Now().Add(-streamTrimAfter))
	return err
}
