// Package dispatch implements EventDispatcher: the fixed routing table that
// turns one HTTP request body's decoded client frames into handler calls,
// then drains the session's pending stream output once per batch. Grounded
// on original_source/src/events/mod.rs's dispatch table and the handler
// functions under src/events/*.rs.
package dispatch

import (
	"context"

	"github.com/google/uuid"

	"github.com/akatsuki/bancho/internal/bancherr"
	"github.com/akatsuki/bancho/internal/channel"
	"github.com/akatsuki/bancho/internal/leaderboard"
	"github.com/akatsuki/bancho/internal/logger"
	"github.com/akatsuki/bancho/internal/match"
	"github.com/akatsuki/bancho/internal/model"
	"github.com/akatsuki/bancho/internal/panel"
	"github.com/akatsuki/bancho/internal/presence"
	"github.com/akatsuki/bancho/internal/privileges"
	"github.com/akatsuki/bancho/internal/protocol"
	"github.com/akatsuki/bancho/internal/session"
	"github.com/akatsuki/bancho/internal/spectator"
	"github.com/akatsuki/bancho/internal/store/pg"
	"github.com/akatsuki/bancho/internal/streambus"
)

// Dispatcher is EventDispatcher: it holds every manager a handler might
// touch and the fixed type->handler table built in New.
type Dispatcher struct {
	sessions   *session.Registry
	presences  *presence.Store
	streams    *streambus.Bus
	channels   *channel.Manager
	spectators *spectator.Group
	matches    *match.Manager
	channelDB  *pg.ChannelStore
	messages   *pg.MessageStore
	friends    *pg.RelationshipStore
	users      *pg.UserStore
	board      *leaderboard.Board
	log        *logger.Logger
	hook       CommandHook

	handlers map[uint16]handlerFunc
}

// handlerFunc is the per-event-type handler shape: decode args out of r,
// act, and optionally return bytes to append to this batch's response.
// Returning a *bancherr.Error surfaces as an Alert frame without aborting
// the rest of the batch.
type handlerFunc func(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error)

// New constructs a Dispatcher and its fixed routing table. hook may be nil,
// in which case NopCommands is used.
func New(
	sessions *session.Registry,
	presences *presence.Store,
	streams *streambus.Bus,
	channels *channel.Manager,
	spectators *spectator.Group,
	matches *match.Manager,
	channelDB *pg.ChannelStore,
	messages *pg.MessageStore,
	friends *pg.RelationshipStore,
	users *pg.UserStore,
	board *leaderboard.Board,
	log *logger.Logger,
	hook CommandHook,
) *Dispatcher {
	if hook == nil {
		hook = NopCommands{}
	}
	d := &Dispatcher{
		sessions: sessions, presences: presences, streams: streams,
		channels: channels, spectators: spectators, matches: matches,
		channelDB: channelDB, messages: messages, friends: friends, users: users,
		board: board, log: log.WithComponent("dispatch"), hook: hook,
	}
	d.handlers = map[uint16]handlerFunc{
		protocol.ClientPing:                  handlePing,
		protocol.ClientLogout:                handleLogout,
		protocol.ClientChangeAction:          handleChangeAction,
		protocol.ClientRequestStatusUpdate:   handleRequestStatusUpdate,
		protocol.ClientJoinChannel:           handleJoinChannel,
		protocol.ClientLeaveChannel:          handleLeaveChannel,
		protocol.ClientChatMessage:           handleChatMessage,
		protocol.ClientChatMessagePrivate:    handleChatMessagePrivate,
		protocol.ClientUserStatsRequest:      handleUserStatsRequest,
		protocol.ClientRequestPresences:      handleRequestPresences,
		protocol.ClientStartSpectating:       handleStartSpectating,
		protocol.ClientStopSpectating:        handleStopSpectating,
		protocol.ClientSpectateFrames:        handleSpectateFrames,
		protocol.ClientCantSpectate:          handleCantSpectate,
		protocol.ClientAddFriend:             handleAddFriend,
		protocol.ClientRemoveFriend:          handleRemoveFriend,
		protocol.ClientToggleBlockNonFriendDMs: handleToggleBlockNonFriendDMs,
		protocol.ClientSetAwayMessage:        handleSetAwayMessage,
		protocol.ClientReceiveUpdates:        handleReceiveUpdates,
		protocol.ClientCreateMatch:           handleCreateMatch,
		protocol.ClientJoinMatch:             handleJoinMatch,
		protocol.ClientLeaveMatch:            handleLeaveMatch,
		protocol.ClientMatchChangeSlot:       handleMatchChangeSlot,
		protocol.ClientMatchChangeTeam:       handleMatchChangeTeam,
		protocol.ClientMatchChangeMods:       handleMatchChangeMods,
		protocol.ClientMatchLockSlot:         handleMatchLockSlot,
		protocol.ClientMatchReady:            handleMatchReady,
		protocol.ClientMatchNotReady:         handleMatchNotReady,
		protocol.ClientMatchStart:            handleMatchStart,
		protocol.ClientMatchLoaded:           handleMatchLoaded,
		protocol.ClientMatchSkipRequest:      handleMatchSkipRequest,
		protocol.ClientMatchFailed:           handleMatchFailed,
		protocol.ClientMatchTransferHost:     handleMatchTransferHost,
		protocol.ClientMatchChangeHost:       handleMatchTransferHost,
		protocol.ClientUpdateMatchScore:      handleUpdateMatchScore,
		protocol.ClientMatchInvite:           handleMatchInvite,
	}
	return d
}

// Handle decodes body into frames and runs each one through the routing
// table in order, accumulating Alert frames for any bancherr.Error a
// handler returns and logging+skipping unknown event types. After the
// whole batch is processed, StreamBus.Drain is called once and its bytes
// appended — unless the batch contained a Logout, which short-circuits
// further draining per spec.md §4.6.
func (d *Dispatcher) Handle(ctx context.Context, sess model.Session, requestIP string, body []byte) ([]byte, error) {
	frames, err := protocol.DecodeFrames(body)
	if err != nil {
		return nil, bancherr.New(bancherr.DecodingFailed, "malformed event batch")
	}

	if requestIP != "" && sess.CreateIPAddress != "" && requestIP != sess.CreateIPAddress {
		d.log.Warn("request ip differs from session create ip",
			"session_id", sess.SessionID, "create_ip", sess.CreateIPAddress, "request_ip", requestIP)
	}

	enc := protocol.NewEncoder()
	loggedOut := false

	for _, f := range frames {
		handler, ok := d.handlers[f.Type]
		if !ok {
			d.log.Warn("unknown event type, skipping", "type", f.Type)
			continue
		}

		reply, err := handler(ctx, d, &sess, protocol.NewReader(f.Payload))
		if err != nil {
			be, ok := bancherr.As(err)
			if !ok {
				d.log.LogError(ctx, err, "unexpected dispatch error", "type", f.Type)
				be = bancherr.Wrap(bancherr.Unexpected, "an unexpected error occurred", err)
			}
			enc.WriteAlert(be.Message)
			continue
		}
		if reply != nil {
			enc.WriteRaw(reply)
		}

		if f.Type == protocol.ClientLogout {
			loggedOut = true
			break
		}
	}

	if !loggedOut {
		drained, err := d.streams.Drain(ctx, sess.SessionID, sess.Privileges)
		if err != nil {
			return nil, err
		}
		enc.WriteRaw(drained)
	}

	return enc.Bytes(), nil
}

// broadcastPanel re-publishes a user's UserPresence+UserStats onto main,
// excluding the user's own session, used after any presence-affecting
// change. Non-publicly-visible users broadcast nothing (spec.md §4.6).
func broadcastPanel(ctx context.Context, d *Dispatcher, sess *model.Session, pres model.Presence) error {
	privs := privileges.Privileges(sess.Privileges)
	if !privs.IsPubliclyVisible() {
		return nil
	}
	enc := protocol.NewEncoder()
	enc.WriteUserPresence(panel.Presence(sess.UserID, sess.Username, sess.UTCOffset, pres.Location.CountryCode, privs.WireView(), pres.Mode, pres.Location, int32(pres.Stats.GlobalRank)))
	enc.WriteUserStats(panel.Stats(sess.UserID, pres))
	_, err := d.streams.Publish(ctx, model.StreamMain(), enc.Bytes(), model.Envelope{ExcludedSessionIDs: []uuid.UUID{sess.SessionID}})
	return err
}

func handlePing(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	return nil, nil
}

func handleRequestStatusUpdate(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	pres, err := d.presences.Fetch(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if pres == nil {
		return nil, nil
	}
	privs := privileges.Privileges(sess.Privileges)
	enc := protocol.NewEncoder()
	enc.WriteUserPresence(panel.Presence(sess.UserID, sess.Username, sess.UTCOffset, pres.Location.CountryCode, privs.WireView(), pres.Mode, pres.Location, int32(pres.Stats.GlobalRank)))
	enc.WriteUserStats(panel.Stats(sess.UserID, *pres))
	return enc.Bytes(), nil
}

func handleChangeAction(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	action, err := r.U8()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "change_action", err)
	}
	infoText, err := r.Str()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "change_action", err)
	}
	beatmapMD5, err := r.Str()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "change_action", err)
	}
	mods, err := r.U32()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "change_action", err)
	}
	mode, err := r.U8()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "change_action", err)
	}
	beatmapID, err := r.I32()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "change_action", err)
	}

	pres, err := d.presences.Fetch(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if pres == nil {
		return nil, nil
	}

	updated, err := d.presences.UpdateAction(ctx, *pres, model.Action(action), infoText, beatmapMD5, beatmapID, mods, mode)
	if err != nil {
		return nil, err
	}
	return nil, broadcastPanel(ctx, d, sess, updated)
}

func handleJoinChannel(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	name, err := r.Str()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "join_channel", err)
	}
	resolved, err := d.channels.Resolve(ctx, *sess, name)
	if err != nil {
		return nil, err
	}
	return nil, d.channels.Join(ctx, *sess, resolved)
}

func handleLeaveChannel(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	name, err := r.Str()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "leave_channel", err)
	}
	resolved, err := d.channels.Resolve(ctx, *sess, name)
	if err != nil {
		return nil, err
	}
	return nil, d.channels.Leave(ctx, *sess, resolved)
}

// handleUserStatsRequest, handleRequestPresences: for each requested user,
// emit their presence+stats if they are publicly visible, else
// UserLogout(user_id) in place, per spec.md §4.6.
func handleUserStatsRequest(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	return requestPanels(ctx, d, r)
}

func handleRequestPresences(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	return requestPanels(ctx, d, r)
}

func requestPanels(ctx context.Context, d *Dispatcher, r *protocol.Reader) ([]byte, error) {
	ids, err := r.I32List()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "user list", err)
	}
	userIDs := make([]int64, len(ids))
	for i, id := range ids {
		userIDs[i] = int64(id)
	}

	presentByID := make(map[int64]model.Presence, len(userIDs))
	found, err := d.presences.FetchMany(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	for _, p := range found {
		presentByID[p.UserID] = p
	}

	enc := protocol.NewEncoder()
	for _, id := range userIDs {
		pres, ok := presentByID[id]
		if !ok {
			enc.WriteUserLogout(int32(id))
			continue
		}
		user, err := d.users.FetchByID(ctx, id)
		if err != nil {
			enc.WriteUserLogout(int32(id))
			continue
		}
		privs := privileges.Privileges(user.Privileges)
		if id != model.BotUserID && !privs.IsPubliclyVisible() {
			enc.WriteUserLogout(int32(id))
			continue
		}
		enc.WriteUserPresence(panel.Presence(id, user.Username, 0, user.Country, privs.WireView(), pres.Mode, pres.Location, int32(pres.Stats.GlobalRank)))
		enc.WriteUserStats(panel.Stats(id, pres))
	}
	return enc.Bytes(), nil
}

func handleAddFriend(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	targetID, err := r.I32()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "add_friend", err)
	}
	return nil, d.friends.AddFriend(ctx, sess.UserID, int64(targetID))
}

func handleRemoveFriend(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	targetID, err := r.I32()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "remove_friend", err)
	}
	return nil, d.friends.RemoveFriend(ctx, sess.UserID, int64(targetID))
}

func handleToggleBlockNonFriendDMs(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	blocked, err := r.Boolean()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "toggle_block_non_friend_dms", err)
	}
	updated, err := d.sessions.SetPrivateDMs(ctx, *sess, blocked)
	if err != nil {
		return nil, err
	}
	*sess = updated
	return nil, nil
}

func handleSetAwayMessage(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	message, err := r.Str()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "set_away_message", err)
	}
	pres, err := d.presences.Fetch(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if pres == nil {
		return nil, nil
	}
	_, err = d.presences.SetAwayMessage(ctx, *pres, message)
	return nil, err
}

func handleReceiveUpdates(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	r.Rest()
	return nil, nil
}

// handleLogout runs the full session teardown: every channel left, any
// spectator relationship torn down, any match left, every stream
// unsubscribed, the session row removed (promoting a sibling session if
// one exists), and — only once the user has no sessions left — the
// presence deleted and UserLogout broadcast on main.
func handleLogout(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	if err := d.channels.LeaveAll(ctx, *sess); err != nil {
		return nil, err
	}

	if hostID, ok, err := d.spectators.HostOf(ctx, sess.SessionID); err != nil {
		return nil, err
	} else if ok {
		if _, err := d.spectators.Leave(ctx, spectator.Identity{SessionID: hostID}, spectator.Identity{SessionID: sess.SessionID, UserID: sess.UserID, Username: sess.Username}); err != nil {
			return nil, err
		}
	}
	if _, err := d.spectators.Close(ctx, sess.SessionID); err != nil {
		return nil, err
	}

	if matchID, ok, err := d.matches.SessionMatchID(ctx, sess.SessionID); err != nil {
		return nil, err
	} else if ok {
		if _, err := d.matches.Leave(ctx, *sess, matchID); err != nil {
			return nil, err
		}
	}

	if err := d.streams.UnsubscribeAll(ctx, sess.SessionID); err != nil {
		return nil, err
	}

	newPrimary, err := d.sessions.PickRandomNonPrimary(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if err := d.sessions.Delete(ctx, *sess, newPrimary); err != nil {
		return nil, err
	}

	online, err := d.sessions.IsOnline(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if !online {
		if err := d.presences.Delete(ctx, sess.UserID); err != nil {
			return nil, err
		}
		enc := protocol.NewEncoder()
		enc.WriteUserLogout(int32(sess.UserID))
		if _, err := d.streams.Publish(ctx, model.StreamMain(), enc.Bytes(), model.Envelope{}); err != nil {
			return nil, err
		}
	}

	d.log.Info("user logged out", "user_id", sess.UserID, "username", sess.Username)
	return nil, nil
}
