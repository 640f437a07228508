package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/akatsuki/bancho/internal/bancherr"
	"github.com/akatsuki/bancho/internal/model"
	"github.com/akatsuki/bancho/internal/protocol"
)

const (
	maxMessageBytes      = 500
	antiSpamWindow       = 10 * time.Second
	antiSpamLimit        = 10
	autoSilenceDuration  = 5 * time.Minute
)

// checkSpam counts the sender's messages in the trailing antiSpamWindow before
// this one is persisted: exactly antiSpamLimit are allowed, the next one
// (the 11th) triggers a retroactive auto-silence that also redacts the
// burst, per spec.md §8.
func checkSpam(ctx context.Context, d *Dispatcher, sess *model.Session) (bool, error) {
	count, err := d.messages.CountRecentBySender(ctx, sess.UserID, antiSpamWindow)
	if err != nil {
		return false, err
	}
	if count < antiSpamLimit {
		return false, nil
	}

	if err := d.messages.MarkRecentDeleted(ctx, sess.UserID, antiSpamWindow); err != nil {
		return false, err
	}
	updated, err := d.sessions.Silence(ctx, *sess, time.Now().Add(autoSilenceDuration))
	if err != nil {
		return false, err
	}
	*sess = updated

	enc := protocol.NewEncoder()
	enc.WriteUserSilenced(int32(sess.UserID))
	if _, err := d.streams.Publish(ctx, model.StreamMain(), enc.Bytes(), model.Envelope{}); err != nil {
		return false, err
	}
	return true, nil
}

func handleChatMessage(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	text, err := r.Str()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "chat_message", err)
	}
	target, err := r.Str()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "chat_message", err)
	}

	if sess.IsSilenced() {
		return nil, bancherr.New(bancherr.Unauthorized, "you are silenced")
	}
	if len(text) > maxMessageBytes {
		return nil, bancherr.New(bancherr.MessagesTooLong, "message exceeds the length limit")
	}

	if d.hook.IsCommandMessage(text) {
		reply, suppress := d.hook.Handle(ctx, sess, target, text)
		if suppress {
			if reply == "" {
				return nil, nil
			}
			enc := protocol.NewEncoder()
			enc.WriteChatMessage("Aika", reply, target, int32(model.BotUserID))
			return enc.Bytes(), nil
		}
	}

	silenced, err := checkSpam(ctx, d, sess)
	if err != nil {
		return nil, err
	}
	if silenced {
		return nil, bancherr.New(bancherr.MessagesUserAutoSilenced, "too many messages, you have been silenced")
	}

	if err := d.messages.Insert(ctx, sess.UserID, target, text, nil, false); err != nil {
		return nil, err
	}

	enc := protocol.NewEncoder()
	enc.WriteChatMessage(sess.Username, text, target, int32(sess.UserID))
	stream, err := d.channels.Resolve(ctx, *sess, target)
	if err != nil {
		return nil, err
	}
	_, err = d.streams.Publish(ctx, model.StreamChannel(stream), enc.Bytes(), model.Envelope{ExcludedSessionIDs: []uuid.UUID{sess.SessionID}})
	return nil, err
}

func handleChatMessagePrivate(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	text, err := r.Str()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "chat_message_private", err)
	}
	targetUsername, err := r.Str()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "chat_message_private", err)
	}

	if sess.IsSilenced() {
		return nil, bancherr.New(bancherr.Unauthorized, "you are silenced")
	}
	if len(text) > maxMessageBytes {
		return nil, bancherr.New(bancherr.MessagesTooLong, "message exceeds the length limit")
	}

	if d.hook.IsCommandMessage(text) {
		reply, suppress := d.hook.Handle(ctx, sess, targetUsername, text)
		if suppress {
			if reply == "" {
				return nil, nil
			}
			enc := protocol.NewEncoder()
			enc.WriteChatMessage("Aika", reply, sess.Username, int32(model.BotUserID))
			return enc.Bytes(), nil
		}
	}

	recipient, err := d.users.FetchByUsername(ctx, targetUsername)
	if err != nil {
		return nil, err
	}

	recipientSessions, err := d.sessions.ByUser(ctx, recipient.ID)
	if err != nil {
		return nil, err
	}
	var recipientSession *model.Session
	for i := range recipientSessions {
		if recipientSessions[i].Primary {
			recipientSession = &recipientSessions[i]
			break
		}
	}
	if recipientSession == nil && len(recipientSessions) > 0 {
		recipientSession = &recipientSessions[0]
	}

	if recipientSession != nil && recipientSession.PrivateDMs {
		isFriend, err := d.friends.IsFriend(ctx, recipient.ID, sess.UserID)
		if err != nil {
			return nil, err
		}
		if !isFriend {
			return nil, bancherr.New(bancherr.InteractionBlocked, targetUsername+" is not accepting messages from non-friends")
		}
	}

	silenced, err := checkSpam(ctx, d, sess)
	if err != nil {
		return nil, err
	}
	if silenced {
		return nil, bancherr.New(bancherr.MessagesUserAutoSilenced, "too many messages, you have been silenced")
	}

	unread := recipientSession == nil
	if err := d.messages.Insert(ctx, sess.UserID, targetUsername, text, &recipient.ID, unread); err != nil {
		return nil, err
	}

	if recipientSession == nil {
		return nil, nil
	}

	enc := protocol.NewEncoder()
	enc.WriteChatMessage(sess.Username, text, targetUsername, int32(sess.UserID))
	if _, err := d.streams.Publish(ctx, model.StreamUser(recipientSession.SessionID), enc.Bytes(), model.Envelope{}); err != nil {
		return nil, err
	}

	recipientPres, err := d.presences.Fetch(ctx, recipient.ID)
	if err != nil {
		return nil, err
	}
	if recipientPres != nil && recipientPres.AwayMessage != "" {
		awayEnc := protocol.NewEncoder()
		awayEnc.WriteChatMessage(recipient.Username, recipientPres.AwayMessage, sess.Username, int32(recipient.ID))
		return awayEnc.Bytes(), nil
	}
	return nil, nil
}
