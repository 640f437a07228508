package dispatch

import (
	"context"
	"fmt"

	"github.com/akatsuki/bancho/internal/bancherr"
	"github.com/akatsuki/bancho/internal/model"
	"github.com/akatsuki/bancho/internal/protocol"
	"github.com/akatsuki/bancho/internal/spectator"
)

func hostSessionFor(ctx context.Context, d *Dispatcher, userID int64) (*model.Session, error) {
	sessions, err := d.sessions.ByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if sessions[i].Primary {
			return &sessions[i], nil
		}
	}
	if len(sessions) > 0 {
		return &sessions[0], nil
	}
	return nil, nil
}

func handleStartSpectating(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	targetUserID, err := r.I32()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "start_spectating", err)
	}

	host, err := hostSessionFor(ctx, d, int64(targetUserID))
	if err != nil {
		return nil, err
	}
	if host == nil {
		return nil, bancherr.New(bancherr.UsersNotFound, "that user is not online")
	}

	hostIdentity := spectator.Identity{SessionID: host.SessionID, UserID: host.UserID, Username: host.Username}
	selfIdentity := spectator.Identity{SessionID: sess.SessionID, UserID: sess.UserID, Username: sess.Username}

	result, err := d.spectators.Join(ctx, hostIdentity, selfIdentity)
	if err != nil {
		return nil, err
	}

	specChannel := fmt.Sprintf("#spec_%s", host.SessionID)
	if result.WasFirst {
		if err := d.channels.Join(ctx, *host, specChannel); err != nil {
			return nil, err
		}
	}
	if err := d.channels.Join(ctx, *sess, specChannel); err != nil {
		return nil, err
	}

	joinedEnc := protocol.NewEncoder()
	joinedEnc.WriteFellowSpectatorJoined(int32(sess.UserID))
	if _, err := d.streams.Publish(ctx, model.StreamSpectator(host.SessionID), joinedEnc.Bytes(), model.Envelope{ExcludedSessionIDs: nil}); err != nil {
		return nil, err
	}

	hostEnc := protocol.NewEncoder()
	hostEnc.WriteSpectatorJoined(int32(sess.UserID))
	if _, err := d.streams.Publish(ctx, model.StreamUser(host.SessionID), hostEnc.Bytes(), model.Envelope{}); err != nil {
		return nil, err
	}

	return nil, nil
}

func handleStopSpectating(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	hostSessionID, ok, err := d.spectators.HostOf(ctx, sess.SessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	host, err := d.sessions.Lookup(ctx, hostSessionID)
	if err != nil {
		return nil, err
	}

	result, err := d.spectators.Leave(ctx, spectator.Identity{SessionID: hostSessionID}, spectator.Identity{SessionID: sess.SessionID, UserID: sess.UserID, Username: sess.Username})
	if err != nil {
		return nil, err
	}

	specChannel := fmt.Sprintf("#spec_%s", hostSessionID)
	if err := d.channels.Leave(ctx, *sess, specChannel); err != nil {
		return nil, err
	}

	leftEnc := protocol.NewEncoder()
	leftEnc.WriteFellowSpectatorLeft(int32(sess.UserID))
	if _, err := d.streams.Publish(ctx, model.StreamSpectator(hostSessionID), leftEnc.Bytes(), model.Envelope{}); err != nil {
		return nil, err
	}

	if host != nil {
		hostEnc := protocol.NewEncoder()
		hostEnc.WriteSpectatorLeft(int32(sess.UserID))
		if _, err := d.streams.Publish(ctx, model.StreamUser(hostSessionID), hostEnc.Bytes(), model.Envelope{}); err != nil {
			return nil, err
		}
	}

	if result.WasLast && host != nil {
		if err := d.channels.Leave(ctx, *host, specChannel); err != nil {
			return nil, err
		}
		if err := d.streams.Clear(ctx, model.StreamSpectator(hostSessionID)); err != nil {
			return nil, err
		}
		kickEnc := protocol.NewEncoder()
		kickEnc.WriteChannelKick("#spectator")
		if _, err := d.streams.Publish(ctx, model.StreamUser(hostSessionID), kickEnc.Bytes(), model.Envelope{}); err != nil {
			return nil, err
		}
	}

	return nil, nil
}

// handleSpectateFrames forwards the opaque replay-frame bundle to every
// fellow spectator and the host, unmodified.
func handleSpectateFrames(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	raw := r.Rest()

	hostSessionID, ok, err := d.spectators.HostOf(ctx, sess.SessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// the host itself is forwarding frames to its spectators
		hostSessionID = sess.SessionID
	}

	enc := protocol.NewEncoder()
	enc.WriteSpectateFrames(raw)
	_, err = d.streams.Publish(ctx, model.StreamSpectator(hostSessionID), enc.Bytes(), model.Envelope{ExcludedSessionIDs: nil})
	return nil, err
}

func handleCantSpectate(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	hostSessionID, ok, err := d.spectators.HostOf(ctx, sess.SessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	enc := protocol.NewEncoder()
	enc.WriteCantSpectate(int32(sess.UserID))
	_, err = d.streams.Publish(ctx, model.StreamSpectator(hostSessionID), enc.Bytes(), model.Envelope{})
	return nil, err
}
