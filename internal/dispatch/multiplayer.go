package dispatch

import (
	"context"

	"github.com/akatsuki/bancho/internal/bancherr"
	matchpkg "github.com/akatsuki/bancho/internal/match"
	"github.com/akatsuki/bancho/internal/model"
	"github.com/akatsuki/bancho/internal/protocol"
)

func buildMatchInfo(match model.Match, slots [model.MaxSlots]model.MatchSlot) protocol.MatchInfo {
	info := protocol.MatchInfo{
		MatchID:        match.WireID(),
		InProgress:     match.InProgress,
		Mods:           match.Mods,
		Name:           match.Name,
		Password:       match.Password,
		BeatmapName:    match.Beatmap.Name,
		BeatmapMD5:     match.Beatmap.MD5,
		BeatmapID:      match.Beatmap.ID,
		HostUserID:     int32(match.HostUserID),
		Mode:           match.Mode,
		WinCondition:   match.WinCondition,
		TeamType:       match.TeamType,
		FreemodEnabled: match.FreemodEnabled,
		RandomSeed:     match.RandomSeed,
	}
	for i, s := range slots {
		info.SlotStatus[i] = uint8(s.Status)
		info.SlotTeam[i] = s.Team
		info.SlotMods[i] = s.Mods
		if s.UserID != nil {
			info.SlotUserID[i] = int32(*s.UserID)
		}
	}
	return info
}

// broadcastMatch re-fetches matchID's current state and publishes a
// MatchUpdate to the match's own stream, and — when toLobby is set —
// to the lobby stream too, per spec.md §4.5's "any change ... updates the
// lobby stream" rule for mod changes (and, here, any structural change the
// lobby listing cares about).
func broadcastMatch(ctx context.Context, d *Dispatcher, matchID int64, toLobby bool) error {
	match, err := d.matches.Fetch(ctx, matchID)
	if err != nil {
		return err
	}
	slots, err := d.matches.FetchSlots(ctx, matchID)
	if err != nil {
		return err
	}
	info := buildMatchInfo(match, slots)

	enc := protocol.NewEncoder()
	enc.WriteMatchUpdate(info)
	if _, err := d.streams.Publish(ctx, model.StreamMultiplayer(matchID), enc.Bytes(), model.Envelope{}); err != nil {
		return err
	}
	if toLobby {
		lobbyEnc := protocol.NewEncoder()
		lobbyEnc.WriteMatchUpdate(info)
		if _, err := d.streams.Publish(ctx, model.StreamLobby(), lobbyEnc.Bytes(), model.Envelope{}); err != nil {
			return err
		}
	}
	return nil
}

func currentMatchID(ctx context.Context, d *Dispatcher, sess *model.Session) (int64, error) {
	matchID, ok, err := d.matches.SessionMatchID(ctx, sess.SessionID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, bancherr.New(bancherr.MultiplayerUserNotInMatch, "not in a match")
	}
	return matchID, nil
}

func handleCreateMatch(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	name, err := r.Str()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "create_match", err)
	}
	password, err := r.Str()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "create_match", err)
	}
	beatmapName, err := r.Str()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "create_match", err)
	}
	beatmapMD5, err := r.Str()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "create_match", err)
	}
	beatmapID, err := r.I32()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "create_match", err)
	}
	mode, err := r.U8()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "create_match", err)
	}
	maxPlayerCount, err := r.U8()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "create_match", err)
	}

	match, slots, err := d.matches.Create(ctx, matchpkg.CreateArgs{
		HostSessionID:  sess.SessionID,
		HostUserID:     sess.UserID,
		Name:           name,
		Password:       password,
		Beatmap:        model.Beatmap{Name: beatmapName, MD5: beatmapMD5, ID: beatmapID},
		Mode:           mode,
		MaxPlayerCount: int(maxPlayerCount),
	})
	if err != nil {
		return nil, err
	}

	info := buildMatchInfo(match, slots)
	lobbyEnc := protocol.NewEncoder()
	lobbyEnc.WriteMatchUpdate(info)
	if _, err := d.streams.Publish(ctx, model.StreamLobby(), lobbyEnc.Bytes(), model.Envelope{}); err != nil {
		return nil, err
	}

	enc := protocol.NewEncoder()
	enc.WriteMatchJoinSuccess(info)
	return enc.Bytes(), nil
}

func handleJoinMatch(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	wireID, err := r.U16()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "join_match", err)
	}
	password, err := r.Str()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "join_match", err)
	}

	matchID, ok, err := d.matches.ResolveWireID(ctx, wireID)
	if err != nil {
		return nil, err
	}
	if !ok {
		enc := protocol.NewEncoder()
		enc.WriteMatchJoinFail()
		return enc.Bytes(), nil
	}

	match, slots, err := d.matches.Join(ctx, *sess, matchID, password)
	if err != nil {
		if be, ok := bancherr.As(err); ok && (be.Kind == bancherr.MultiplayerNotFound || be.Kind == bancherr.MultiplayerSlotNotFound) {
			enc := protocol.NewEncoder()
			enc.WriteMatchJoinFail()
			return enc.Bytes(), nil
		}
		return nil, err
	}

	info := buildMatchInfo(match, slots)
	if err := broadcastMatch(ctx, d, matchID, true); err != nil {
		return nil, err
	}
	enc := protocol.NewEncoder()
	enc.WriteMatchJoinSuccess(info)
	return enc.Bytes(), nil
}

func handleLeaveMatch(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	matchID, err := currentMatchID(ctx, d, sess)
	if err != nil {
		return nil, err
	}
	result, err := d.matches.Leave(ctx, *sess, matchID)
	if err != nil {
		return nil, err
	}
	if result.Disposed {
		return nil, nil
	}
	if result.HostTransferred {
		hostEnc := protocol.NewEncoder()
		hostEnc.WriteMatchTransferHost()
		if _, err := d.streams.Publish(ctx, model.StreamMultiplayer(matchID), hostEnc.Bytes(), model.Envelope{}); err != nil {
			return nil, err
		}
	}
	return nil, broadcastMatch(ctx, d, matchID, true)
}

func handleMatchChangeSlot(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	slotID, err := r.U8()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "match_change_slot", err)
	}
	matchID, err := currentMatchID(ctx, d, sess)
	if err != nil {
		return nil, err
	}
	if err := d.matches.ChangeSlot(ctx, sess.UserID, matchID, int(slotID)); err != nil {
		return nil, err
	}
	return nil, broadcastMatch(ctx, d, matchID, false)
}

func handleMatchChangeTeam(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	team, err := r.U8()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "match_change_team", err)
	}
	matchID, err := currentMatchID(ctx, d, sess)
	if err != nil {
		return nil, err
	}
	if err := d.matches.ChangeTeam(ctx, sess.UserID, matchID, team); err != nil {
		return nil, err
	}
	return nil, broadcastMatch(ctx, d, matchID, false)
}

func handleMatchChangeMods(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	mods, err := r.U32()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "match_change_mods", err)
	}
	hasPerSlot, err := r.Boolean()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "match_change_mods", err)
	}
	var perSlotMods *uint32
	if hasPerSlot {
		v, err := r.U32()
		if err != nil {
			return nil, bancherr.Wrap(bancherr.DecodingFailed, "match_change_mods", err)
		}
		perSlotMods = &v
	}

	matchID, err := currentMatchID(ctx, d, sess)
	if err != nil {
		return nil, err
	}
	if err := d.matches.ChangeMods(ctx, sess.UserID, matchID, mods, perSlotMods); err != nil {
		return nil, err
	}
	// any mods change rebroadcasts the snapshot and updates the lobby stream.
	return nil, broadcastMatch(ctx, d, matchID, true)
}

func handleMatchLockSlot(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	slotID, err := r.U8()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "match_lock_slot", err)
	}
	matchID, err := currentMatchID(ctx, d, sess)
	if err != nil {
		return nil, err
	}
	if err := d.matches.LockSlot(ctx, sess.UserID, matchID, int(slotID)); err != nil {
		return nil, err
	}
	return nil, broadcastMatch(ctx, d, matchID, false)
}

func handleMatchReady(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	matchID, err := currentMatchID(ctx, d, sess)
	if err != nil {
		return nil, err
	}
	if err := d.matches.SetReady(ctx, sess.UserID, matchID, true); err != nil {
		return nil, err
	}
	return nil, broadcastMatch(ctx, d, matchID, false)
}

func handleMatchNotReady(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	matchID, err := currentMatchID(ctx, d, sess)
	if err != nil {
		return nil, err
	}
	if err := d.matches.SetReady(ctx, sess.UserID, matchID, false); err != nil {
		return nil, err
	}
	return nil, broadcastMatch(ctx, d, matchID, false)
}

func handleMatchStart(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	matchID, err := currentMatchID(ctx, d, sess)
	if err != nil {
		return nil, err
	}
	result, err := d.matches.Start(ctx, sess.UserID, matchID)
	if err != nil {
		return nil, err
	}
	info := buildMatchInfo(result.Match, result.Slots)
	enc := protocol.NewEncoder()
	enc.WriteMatchStart(info)
	_, err = d.streams.Publish(ctx, model.StreamMultiplaying(matchID), enc.Bytes(), model.Envelope{})
	return nil, err
}

func handleMatchLoaded(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	matchID, err := currentMatchID(ctx, d, sess)
	if err != nil {
		return nil, err
	}
	if _, err := d.matches.MarkLoaded(ctx, sess.UserID, matchID); err != nil {
		return nil, err
	}
	allLoaded, err := d.matches.AllPlayersLoaded(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !allLoaded {
		return nil, nil
	}
	enc := protocol.NewEncoder()
	enc.WriteMatchAllPlayersLoaded()
	_, err = d.streams.Publish(ctx, model.StreamMultiplaying(matchID), enc.Bytes(), model.Envelope{})
	return nil, err
}

func handleMatchSkipRequest(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	matchID, err := currentMatchID(ctx, d, sess)
	if err != nil {
		return nil, err
	}
	slotID, err := d.matches.MarkSkipped(ctx, sess.UserID, matchID)
	if err != nil {
		return nil, err
	}
	enc := protocol.NewEncoder()
	enc.WriteMatchPlayerSkipped(int8(slotID))
	_, err = d.streams.Publish(ctx, model.StreamMultiplaying(matchID), enc.Bytes(), model.Envelope{})
	return nil, err
}

func handleMatchFailed(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	matchID, err := currentMatchID(ctx, d, sess)
	if err != nil {
		return nil, err
	}
	slotID, err := d.matches.MarkFailed(ctx, sess.UserID, matchID)
	if err != nil {
		return nil, err
	}
	enc := protocol.NewEncoder()
	enc.WriteMatchPlayerFailed(int8(slotID))
	if _, err := d.streams.Publish(ctx, model.StreamMultiplaying(matchID), enc.Bytes(), model.Envelope{}); err != nil {
		return nil, err
	}

	finished, _, err := d.matches.TryFinish(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if finished {
		completeEnc := protocol.NewEncoder()
		completeEnc.WriteMatchComplete()
		if _, err := d.streams.Publish(ctx, model.StreamMultiplaying(matchID), completeEnc.Bytes(), model.Envelope{}); err != nil {
			return nil, err
		}
		return nil, broadcastMatch(ctx, d, matchID, false)
	}
	return nil, nil
}

func handleMatchTransferHost(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	targetUserID, err := r.I32()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "match_transfer_host", err)
	}
	matchID, err := currentMatchID(ctx, d, sess)
	if err != nil {
		return nil, err
	}
	if err := d.matches.TransferHost(ctx, sess.UserID, matchID, int64(targetUserID)); err != nil {
		return nil, err
	}
	hostEnc := protocol.NewEncoder()
	hostEnc.WriteMatchTransferHost()
	if _, err := d.streams.Publish(ctx, model.StreamMultiplayer(matchID), hostEnc.Bytes(), model.Envelope{}); err != nil {
		return nil, err
	}
	return nil, broadcastMatch(ctx, d, matchID, false)
}

func handleUpdateMatchScore(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	raw := r.Rest()
	matchID, err := currentMatchID(ctx, d, sess)
	if err != nil {
		return nil, err
	}
	slotID, ok, err := d.matches.RecordScoreUpdate(ctx, sess.UserID, matchID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	enc := protocol.NewEncoder()
	enc.WriteMatchScoreUpdate(protocol.ScoreFrameInfo{SlotID: int8(slotID), Raw: raw})
	_, err = d.streams.Publish(ctx, model.StreamMultiplaying(matchID), enc.Bytes(), model.Envelope{})
	return nil, err
}

func handleMatchInvite(ctx context.Context, d *Dispatcher, sess *model.Session, r *protocol.Reader) ([]byte, error) {
	targetUserID, err := r.I32()
	if err != nil {
		return nil, bancherr.Wrap(bancherr.DecodingFailed, "match_invite", err)
	}
	target, err := d.users.FetchByID(ctx, int64(targetUserID))
	if err != nil {
		return nil, err
	}
	targetSession, err := hostSessionFor(ctx, d, target.ID)
	if err != nil {
		return nil, err
	}
	if targetSession == nil {
		return nil, bancherr.New(bancherr.UsersNotFound, "that user is not online")
	}

	matchID, err := currentMatchID(ctx, d, sess)
	if err != nil {
		return nil, err
	}
	match, err := d.matches.Fetch(ctx, matchID)
	if err != nil {
		return nil, err
	}

	enc := protocol.NewEncoder()
	enc.WriteMatchInvite(sess.Username, "Come join my multiplayer match!", target.Username, int32(sess.UserID))
	_, err = d.streams.Publish(ctx, model.StreamUser(targetSession.SessionID), enc.Bytes(), model.Envelope{})
	_ = match
	return nil, err
}
