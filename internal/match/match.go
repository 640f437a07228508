// Package match implements MatchManager: the 16-slot multiplayer room
// state machine, grounded on original_source/src/repositories/multiplayer.rs
// (Redis layout) and src/events/match_*.rs (per-operation semantics).
package match

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/akatsuki/bancho/internal/bancherr"
	"github.com/akatsuki/bancho/internal/cache"
	"github.com/akatsuki/bancho/internal/channel"
	"github.com/akatsuki/bancho/internal/model"
	"github.com/akatsuki/bancho/internal/store/pg"
	"github.com/akatsuki/bancho/internal/streambus"
)

const (
	matchesKey         = cache.KeyPrefix + "multiplayer"
	sessionsMatchesKey = cache.KeyPrefix + "sessions:multiplayer"
	wireIDsKey         = cache.KeyPrefix + "multiplayer:wire_ids"
	wireIndexKey       = cache.KeyPrefix + "multiplayer:wire_index"
)

func slotsKey(matchID int64) string {
	return fmt.Sprintf("%smultiplayer:%d", cache.KeyPrefix, matchID)
}

// slotIDs is the fixed HMGET field ordering that guarantees slots come
// back index-ordered, mirroring multiplayer.rs's SLOT_IDS constant.
var slotIDs = func() []string {
	ids := make([]string, model.MaxSlots)
	for i := range ids {
		ids[i] = fmt.Sprint(i)
	}
	return ids
}()

// CreateArgs is the input to Manager.Create.
type CreateArgs struct {
	HostSessionID  uuid.UUID
	HostUserID     int64
	Name           string
	Password       string
	Beatmap        model.Beatmap
	Mode           uint8
	MaxPlayerCount int
}

// Manager is MatchManager.
type Manager struct {
	redis    *cache.Client
	db       *pg.DB
	streams  *streambus.Bus
	channels *channel.Manager
}

// New constructs a Manager.
func New(redis *cache.Client, db *pg.DB, streams *streambus.Bus, channels *channel.Manager) *Manager {
	return &Manager{redis: redis, db: db, streams: streams, channels: channels}
}

func (m *Manager) marshal(match model.Match) (string, error) {
	raw, err := json.Marshal(match)
	if err != nil {
		return "", bancherr.Wrap(bancherr.InternalServerError, "encoding match", err)
	}
	return string(raw), nil
}

func (m *Manager) marshalSlot(slot model.MatchSlot) (string, error) {
	raw, err := json.Marshal(slot)
	if err != nil {
		return "", bancherr.Wrap(bancherr.InternalServerError, "encoding slot", err)
	}
	return string(raw), nil
}

// Create allocates a match row, seeds its 16 slots (host in slot 0, slots
// beyond maxPlayerCount locked), and binds the host's session to it.
// Retries on 16-bit wire id collisions per spec.md §4.5.
func (m *Manager) Create(ctx context.Context, args CreateArgs) (model.Match, [model.MaxSlots]model.MatchSlot, error) {
	isPrivate := args.Password != ""

	for attempt := 0; attempt < 8; attempt++ {
		var matchID int64
		err := m.db.QueryRowContext(ctx,
			"INSERT INTO matches (name, private) VALUES ($1, $2) RETURNING id", args.Name, isPrivate).
			Scan(&matchID)
		if err != nil {
			return model.Match{}, [model.MaxSlots]model.MatchSlot{}, bancherr.Wrap(bancherr.InternalServerError, "creating match row", err)
		}

		match := model.Match{
			MatchID:    matchID,
			Name:       args.Name,
			Password:   args.Password,
			Beatmap:    args.Beatmap,
			HostUserID: args.HostUserID,
			Mode:       args.Mode,
		}

		added, err := m.redis.SAdd(ctx, wireIDsKey, match.WireID()).Result()
		if err != nil {
			return model.Match{}, [model.MaxSlots]model.MatchSlot{}, bancherr.Wrap(bancherr.InternalServerError, "reserving wire id", err)
		}
		if added == 0 {
			// wire id already taken by another live match; discard this
			// row and retry with a fresh auto-increment id.
			_, _ = m.db.ExecContext(ctx, "DELETE FROM matches WHERE id = $1", matchID)
			continue
		}

		var slots [model.MaxSlots]model.MatchSlot
		for i := range slots {
			switch {
			case i == 0:
				hostID := args.HostUserID
				slots[i] = model.MatchSlot{Status: model.SlotNotReady, UserID: &hostID}
			case i >= args.MaxPlayerCount:
				slots[i] = model.MatchSlot{Status: model.SlotLocked}
			default:
				slots[i] = model.MatchSlot{Status: model.SlotEmpty}
			}
		}

		pipe := m.redis.TxPipeline()
		pipe.HSet(ctx, sessionsMatchesKey, args.HostSessionID.String(), matchID)
		pipe.HSet(ctx, wireIndexKey, fmt.Sprint(match.WireID()), matchID)
		for i, slot := range slots {
			raw, err := m.marshalSlot(slot)
			if err != nil {
				return model.Match{}, [model.MaxSlots]model.MatchSlot{}, err
			}
			pipe.HSet(ctx, slotsKey(matchID), i, raw)
		}
		matchRaw, err := m.marshal(match)
		if err != nil {
			return model.Match{}, [model.MaxSlots]model.MatchSlot{}, err
		}
		pipe.HSet(ctx, matchesKey, matchID, matchRaw)
		if _, err := pipe.Exec(ctx); err != nil {
			return model.Match{}, [model.MaxSlots]model.MatchSlot{}, bancherr.Wrap(bancherr.InternalServerError, "storing new match", err)
		}

		if err := m.channels.Join(ctx, model.Session{SessionID: args.HostSessionID, UserID: args.HostUserID}, fmt.Sprintf("#mp_%d", matchID)); err != nil {
			return model.Match{}, [model.MaxSlots]model.MatchSlot{}, err
		}
		if err := m.streams.Subscribe(ctx, args.HostSessionID, model.StreamMultiplayer(matchID)); err != nil {
			return model.Match{}, [model.MaxSlots]model.MatchSlot{}, err
		}

		return match, slots, nil
	}

	return model.Match{}, [model.MaxSlots]model.MatchSlot{}, bancherr.New(bancherr.InternalServerError, "could not allocate a unique wire match id")
}

// Fetch returns the match by id.
func (m *Manager) Fetch(ctx context.Context, matchID int64) (model.Match, error) {
	raw, err := m.redis.HGet(ctx, matchesKey, fmt.Sprint(matchID)).Result()
	if err == cache.Nil {
		return model.Match{}, bancherr.New(bancherr.MultiplayerNotFound, "match not found")
	}
	if err != nil {
		return model.Match{}, bancherr.Wrap(bancherr.InternalServerError, "fetching match", err)
	}
	var match model.Match
	if err := json.Unmarshal([]byte(raw), &match); err != nil {
		return model.Match{}, bancherr.Wrap(bancherr.InternalServerError, "decoding match", err)
	}
	return match, nil
}

// FetchSlots returns the 16 slots for matchID, index-ordered.
func (m *Manager) FetchSlots(ctx context.Context, matchID int64) ([model.MaxSlots]model.MatchSlot, error) {
	var slots [model.MaxSlots]model.MatchSlot
	raws, err := m.redis.HMGet(ctx, slotsKey(matchID), slotIDs...).Result()
	if err != nil {
		return slots, bancherr.Wrap(bancherr.InternalServerError, "fetching slots", err)
	}
	for i, raw := range raws {
		if raw == nil {
			continue
		}
		if err := json.Unmarshal([]byte(raw.(string)), &slots[i]); err != nil {
			return slots, bancherr.Wrap(bancherr.InternalServerError, "decoding slot", err)
		}
	}
	return slots, nil
}

func (m *Manager) saveSlot(ctx context.Context, matchID int64, slotID int, slot model.MatchSlot) error {
	raw, err := m.marshalSlot(slot)
	if err != nil {
		return err
	}
	if err := m.redis.HSet(ctx, slotsKey(matchID), slotID, raw).Err(); err != nil {
		return bancherr.Wrap(bancherr.InternalServerError, "saving slot", err)
	}
	return nil
}

func (m *Manager) save(ctx context.Context, match model.Match) error {
	raw, err := m.marshal(match)
	if err != nil {
		return err
	}
	if err := m.redis.HSet(ctx, matchesKey, match.MatchID, raw).Err(); err != nil {
		return bancherr.Wrap(bancherr.InternalServerError, "saving match", err)
	}
	return nil
}

// SessionMatchID implements channel.MatchLookup.
func (m *Manager) SessionMatchID(ctx context.Context, sessionID uuid.UUID) (int64, bool, error) {
	raw, err := m.redis.HGet(ctx, sessionsMatchesKey, sessionID.String()).Result()
	if err == cache.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, bancherr.Wrap(bancherr.InternalServerError, "looking up session match", err)
	}
	var matchID int64
	if _, err := fmt.Sscanf(raw, "%d", &matchID); err != nil {
		return 0, false, bancherr.Wrap(bancherr.InternalServerError, "parsing session match id", err)
	}
	return matchID, true, nil
}

// ResolveWireID translates the 16-bit id the client sent (ClientJoinMatch's
// argument) back to the internal match id, since the wire never sees the
// full int64.
func (m *Manager) ResolveWireID(ctx context.Context, wireID uint16) (int64, bool, error) {
	raw, err := m.redis.HGet(ctx, wireIndexKey, fmt.Sprint(wireID)).Result()
	if err == cache.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, bancherr.Wrap(bancherr.InternalServerError, "resolving wire match id", err)
	}
	var matchID int64
	if _, err := fmt.Sscanf(raw, "%d", &matchID); err != nil {
		return 0, false, bancherr.Wrap(bancherr.InternalServerError, "parsing wire match id", err)
	}
	return matchID, true, nil
}

// Join places a session into the lowest empty slot, subject to a matching
// password. Fails if no empty slot exists.
func (m *Manager) Join(ctx context.Context, s model.Session, matchID int64, password string) (model.Match, [model.MaxSlots]model.MatchSlot, error) {
	match, err := m.Fetch(ctx, matchID)
	if err != nil {
		return model.Match{}, [model.MaxSlots]model.MatchSlot{}, err
	}
	if !match.IsPublic() && match.Password != password {
		return model.Match{}, [model.MaxSlots]model.MatchSlot{}, bancherr.New(bancherr.MultiplayerNotFound, "wrong password")
	}

	slots, err := m.FetchSlots(ctx, matchID)
	if err != nil {
		return model.Match{}, [model.MaxSlots]model.MatchSlot{}, err
	}
	slotID := model.FirstEmptySlot(slots)
	if slotID < 0 {
		return model.Match{}, [model.MaxSlots]model.MatchSlot{}, bancherr.New(bancherr.MultiplayerSlotNotFound, "match is full")
	}

	userID := s.UserID
	slots[slotID] = model.MatchSlot{Status: model.SlotNotReady, UserID: &userID}

	pipe := m.redis.TxPipeline()
	pipe.HSet(ctx, sessionsMatchesKey, s.SessionID.String(), matchID)
	raw, err := m.marshalSlot(slots[slotID])
	if err != nil {
		return model.Match{}, [model.MaxSlots]model.MatchSlot{}, err
	}
	pipe.HSet(ctx, slotsKey(matchID), slotID, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return model.Match{}, [model.MaxSlots]model.MatchSlot{}, bancherr.Wrap(bancherr.InternalServerError, "joining match", err)
	}

	if err := m.channels.Join(ctx, s, fmt.Sprintf("#mp_%d", matchID)); err != nil {
		return model.Match{}, [model.MaxSlots]model.MatchSlot{}, err
	}
	if err := m.streams.Subscribe(ctx, s.SessionID, model.StreamMultiplayer(matchID)); err != nil {
		return model.Match{}, [model.MaxSlots]model.MatchSlot{}, err
	}

	return match, slots, nil
}

// LeaveResult tells the caller what follow-up broadcasts are needed.
type LeaveResult struct {
	Disposed       bool
	NewHostUserID  int64
	HostTransferred bool
}

// Leave removes a user from their slot. If occupancy drops to zero the
// match is disposed entirely; if the leaver was host, the lowest-indexed
// remaining occupant becomes host.
func (m *Manager) Leave(ctx context.Context, s model.Session, matchID int64) (LeaveResult, error) {
	match, err := m.Fetch(ctx, matchID)
	if err != nil {
		return LeaveResult{}, err
	}
	slots, err := m.FetchSlots(ctx, matchID)
	if err != nil {
		return LeaveResult{}, err
	}

	slotID := model.FindSlotByUser(slots, s.UserID)
	if slotID < 0 {
		return LeaveResult{}, bancherr.New(bancherr.MultiplayerUserNotInMatch, "not in this match")
	}
	slots[slotID] = model.MatchSlot{Status: model.SlotEmpty}

	occupied := model.OccupiedSlotCount(slots)

	if occupied == 0 {
		pipe := m.redis.TxPipeline()
		pipe.HDel(ctx, sessionsMatchesKey, s.SessionID.String())
		pipe.HDel(ctx, matchesKey, matchID)
		pipe.Del(ctx, slotsKey(matchID))
		pipe.SRem(ctx, wireIDsKey, match.WireID())
		pipe.HDel(ctx, wireIndexKey, fmt.Sprint(match.WireID()))
		if _, err := pipe.Exec(ctx); err != nil {
			return LeaveResult{}, bancherr.Wrap(bancherr.InternalServerError, "disposing match", err)
		}
		_, _ = m.db.ExecContext(ctx, "UPDATE matches SET ended_at = now() WHERE id = $1", matchID)
		return LeaveResult{Disposed: true}, nil
	}

	result := LeaveResult{}
	if match.HostUserID == s.UserID {
		newHostSlot := model.LowestOccupiedSlot(slots)
		match.HostUserID = *slots[newHostSlot].UserID
		result.HostTransferred = true
		result.NewHostUserID = match.HostUserID
		if err := m.save(ctx, match); err != nil {
			return LeaveResult{}, err
		}
	}

	pipe := m.redis.TxPipeline()
	pipe.HDel(ctx, sessionsMatchesKey, s.SessionID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return LeaveResult{}, bancherr.Wrap(bancherr.InternalServerError, "leaving match", err)
	}
	if err := m.saveSlot(ctx, matchID, slotID, slots[slotID]); err != nil {
		return result, err
	}
	if err := m.streams.Unsubscribe(ctx, s.SessionID, model.StreamMultiplayer(matchID)); err != nil {
		return result, err
	}
	return result, nil
}

// ChangeSlot moves the requesting user's occupant from their current slot
// into newSlotID, provided it is empty.
func (m *Manager) ChangeSlot(ctx context.Context, userID int64, matchID int64, newSlotID int) error {
	slots, err := m.FetchSlots(ctx, matchID)
	if err != nil {
		return err
	}
	currentSlot := model.FindSlotByUser(slots, userID)
	if currentSlot < 0 {
		return bancherr.New(bancherr.MultiplayerUserNotInMatch, "not in this match")
	}
	if newSlotID < 0 || newSlotID >= model.MaxSlots {
		return bancherr.New(bancherr.MultiplayerInvalidSlotID, "slot out of range")
	}
	if slots[newSlotID].Status != model.SlotEmpty {
		return bancherr.New(bancherr.MultiplayerInvalidSlotID, "target slot is not empty")
	}

	moved := slots[currentSlot]
	slots[currentSlot] = model.MatchSlot{Status: model.SlotEmpty}
	moved.Status = model.SlotNotReady
	slots[newSlotID] = moved

	if err := m.saveSlot(ctx, matchID, currentSlot, slots[currentSlot]); err != nil {
		return err
	}
	return m.saveSlot(ctx, matchID, newSlotID, slots[newSlotID])
}

// ChangeTeam flips the requesting user's slot team, used under TeamVs/
// TagTeamVs win conditions.
func (m *Manager) ChangeTeam(ctx context.Context, userID int64, matchID int64, team uint8) error {
	slots, err := m.FetchSlots(ctx, matchID)
	if err != nil {
		return err
	}
	slotID := model.FindSlotByUser(slots, userID)
	if slotID < 0 {
		return bancherr.New(bancherr.MultiplayerUserNotInMatch, "not in this match")
	}
	slots[slotID].Team = team
	return m.saveSlot(ctx, matchID, slotID, slots[slotID])
}

// LockSlot toggles a slot between Empty and Locked. Host/referee only.
func (m *Manager) LockSlot(ctx context.Context, requesterID int64, matchID int64, slotID int) error {
	match, err := m.Fetch(ctx, matchID)
	if err != nil {
		return err
	}
	if !match.IsReferee(requesterID) {
		return bancherr.New(bancherr.CommandsUnauthorized, "host or referee only")
	}
	slots, err := m.FetchSlots(ctx, matchID)
	if err != nil {
		return err
	}
	if slotID < 0 || slotID >= model.MaxSlots {
		return bancherr.New(bancherr.MultiplayerInvalidSlotID, "slot out of range")
	}
	switch slots[slotID].Status {
	case model.SlotEmpty:
		slots[slotID].Status = model.SlotLocked
	case model.SlotLocked:
		slots[slotID].Status = model.SlotEmpty
	default:
		return bancherr.New(bancherr.MultiplayerInvalidSlotID, "slot is occupied")
	}
	return m.saveSlot(ctx, matchID, slotID, slots[slotID])
}

// SetReady transitions the requesting user's slot between NotReady and
// Ready; SetNoMap marks a slot NoMap.
func (m *Manager) SetReady(ctx context.Context, userID int64, matchID int64, ready bool) error {
	slots, err := m.FetchSlots(ctx, matchID)
	if err != nil {
		return err
	}
	slotID := model.FindSlotByUser(slots, userID)
	if slotID < 0 {
		return bancherr.New(bancherr.MultiplayerUserNotInMatch, "not in this match")
	}
	if ready {
		slots[slotID].Status = model.SlotReady
	} else {
		slots[slotID].Status = model.SlotNotReady
	}
	return m.saveSlot(ctx, matchID, slotID, slots[slotID])
}

// SetNoMap marks the requesting user's slot as missing the current beatmap.
func (m *Manager) SetNoMap(ctx context.Context, userID int64, matchID int64) error {
	slots, err := m.FetchSlots(ctx, matchID)
	if err != nil {
		return err
	}
	slotID := model.FindSlotByUser(slots, userID)
	if slotID < 0 {
		return bancherr.New(bancherr.MultiplayerUserNotInMatch, "not in this match")
	}
	slots[slotID].Status = model.SlotNoMap
	return m.saveSlot(ctx, matchID, slotID, slots[slotID])
}

// ChangeMods applies new_mods either as uniform match mods, or as the
// rate/difficulty-affecting subset when freemod is enabled, per spec.md
// §4.5's freemod rule.
func (m *Manager) ChangeMods(ctx context.Context, requesterID int64, matchID int64, newMods uint32, perSlotMods *uint32) error {
	match, err := m.Fetch(ctx, matchID)
	if err != nil {
		return err
	}
	const rateAffectingMods = 1<<6 | 1<<9 | 1<<8 | // DT, NC, HT (approximate bit positions, internal-only numbering)
		1<<1 | 1<<4 | 1<<5 | 1<<10 // EZ, HR, SO, FL

	if match.FreemodEnabled {
		match.Mods = newMods & rateAffectingMods
		if perSlotMods != nil {
			slots, err := m.FetchSlots(ctx, matchID)
			if err != nil {
				return err
			}
			slotID := model.FindSlotByUser(slots, requesterID)
			if slotID >= 0 {
				slots[slotID].Mods = *perSlotMods &^ rateAffectingMods
				if err := m.saveSlot(ctx, matchID, slotID, slots[slotID]); err != nil {
					return err
				}
			}
		}
	} else {
		match.Mods = newMods
	}
	return m.save(ctx, match)
}

// SetFreemod toggles freemod_enabled. Host/referee only.
func (m *Manager) SetFreemod(ctx context.Context, requesterID int64, matchID int64, enabled bool) error {
	match, err := m.Fetch(ctx, matchID)
	if err != nil {
		return err
	}
	if !match.IsReferee(requesterID) {
		return bancherr.New(bancherr.CommandsUnauthorized, "host or referee only")
	}
	match.FreemodEnabled = enabled
	return m.save(ctx, match)
}

// StartResult is the outcome of Manager.Start.
type StartResult struct {
	Match model.Match
	Slots [model.MaxSlots]model.MatchSlot
}

// Start begins a game: host/referee only, requires at least one Ready
// slot, allocates a match_games row, flips every NotReady or Ready slot
// to Playing; NoMap slots keep their status.
func (m *Manager) Start(ctx context.Context, requesterID int64, matchID int64) (StartResult, error) {
	match, err := m.Fetch(ctx, matchID)
	if err != nil {
		return StartResult{}, err
	}
	if !match.IsReferee(requesterID) {
		return StartResult{}, bancherr.New(bancherr.CommandsUnauthorized, "host or referee only")
	}

	slots, err := m.FetchSlots(ctx, matchID)
	if err != nil {
		return StartResult{}, err
	}

	anyReady := false
	for _, s := range slots {
		if s.Status == model.SlotReady {
			anyReady = true
			break
		}
	}
	if !anyReady {
		return StartResult{}, bancherr.New(bancherr.CommandsInvalidSyntax, "no players are ready")
	}

	var gameID int64
	err = m.db.QueryRowContext(ctx,
		"INSERT INTO match_games (match_id, beatmap_md5, mode, mods, win_condition) VALUES ($1, $2, $3, $4, $5) RETURNING id",
		matchID, match.Beatmap.MD5, match.Mode, match.Mods, match.WinCondition).Scan(&gameID)
	if err != nil {
		return StartResult{}, bancherr.Wrap(bancherr.InternalServerError, "creating match game row", err)
	}

	match.InProgress = true
	match.LastGameID = gameID
	if err := m.save(ctx, match); err != nil {
		return StartResult{}, err
	}

	for i, s := range slots {
		if s.Status == model.SlotNotReady || s.Status == model.SlotReady {
			slots[i].Status = model.SlotPlaying
			if err := m.saveSlot(ctx, matchID, i, slots[i]); err != nil {
				return StartResult{}, err
			}
		}
	}

	return StartResult{Match: match, Slots: slots}, nil
}

// markPlayerState sets a per-slot flag (loaded/skipped/failed/completed)
// for the requesting user's slot.
func (m *Manager) markPlayerState(ctx context.Context, userID int64, matchID int64, mark func(*model.MatchSlot)) (int, error) {
	slots, err := m.FetchSlots(ctx, matchID)
	if err != nil {
		return 0, err
	}
	slotID := model.FindSlotByUser(slots, userID)
	if slotID < 0 {
		return 0, bancherr.New(bancherr.MultiplayerUserNotInMatch, "not in this match")
	}
	mark(&slots[slotID])
	return slotID, m.saveSlot(ctx, matchID, slotID, slots[slotID])
}

// MarkLoaded records that the requesting user's client finished loading.
func (m *Manager) MarkLoaded(ctx context.Context, userID int64, matchID int64) (int, error) {
	return m.markPlayerState(ctx, userID, matchID, func(s *model.MatchSlot) { s.Loaded = true })
}

// MarkSkipped records a skip request from the requesting user.
func (m *Manager) MarkSkipped(ctx context.Context, userID int64, matchID int64) (int, error) {
	return m.markPlayerState(ctx, userID, matchID, func(s *model.MatchSlot) { s.Skipped = true })
}

// MarkFailed records that the requesting user's play failed.
func (m *Manager) MarkFailed(ctx context.Context, userID int64, matchID int64) (int, error) {
	return m.markPlayerState(ctx, userID, matchID, func(s *model.MatchSlot) { s.Failed = true })
}

// MarkCompleted records that the requesting user finished their play.
func (m *Manager) MarkCompleted(ctx context.Context, userID int64, matchID int64) (int, error) {
	return m.markPlayerState(ctx, userID, matchID, func(s *model.MatchSlot) { s.Completed = true })
}

// AllPlayersLoaded reports whether every Playing slot has loaded.
func (m *Manager) AllPlayersLoaded(ctx context.Context, matchID int64) (bool, error) {
	slots, err := m.FetchSlots(ctx, matchID)
	if err != nil {
		return false, err
	}
	for _, s := range slots {
		if s.Status == model.SlotPlaying && !s.Loaded {
			return false, nil
		}
	}
	return true, nil
}

// TryFinish checks whether every Playing slot is completed or failed, and
// if so resets in_progress, per-slot flags, writes the match_games end
// time, and reverts Playing slots to NotReady.
func (m *Manager) TryFinish(ctx context.Context, matchID int64) (bool, [model.MaxSlots]model.MatchSlot, error) {
	slots, err := m.FetchSlots(ctx, matchID)
	if err != nil {
		return false, slots, err
	}

	done := true
	anyPlaying := false
	for _, s := range slots {
		if s.Status == model.SlotPlaying {
			anyPlaying = true
			if !s.Completed && !s.Failed {
				done = false
				break
			}
		}
	}
	if !anyPlaying || !done {
		return false, slots, nil
	}

	match, err := m.Fetch(ctx, matchID)
	if err != nil {
		return false, slots, err
	}
	match.InProgress = false
	if err := m.save(ctx, match); err != nil {
		return false, slots, err
	}

	for i, s := range slots {
		if s.Status == model.SlotPlaying {
			slots[i] = model.MatchSlot{Status: model.SlotNotReady, UserID: s.UserID, Team: s.Team, Mods: s.Mods}
			if err := m.saveSlot(ctx, matchID, i, slots[i]); err != nil {
				return false, slots, err
			}
		}
	}

	if match.LastGameID != 0 {
		if _, err := m.db.ExecContext(ctx, "UPDATE match_games SET completed_at = now() WHERE id = $1", match.LastGameID); err != nil && err != sql.ErrNoRows {
			return true, slots, bancherr.Wrap(bancherr.InternalServerError, "closing match game row", err)
		}
	}

	return true, slots, nil
}

// TransferHost makes newHostUserID the host. Host/referee only.
func (m *Manager) TransferHost(ctx context.Context, requesterID int64, matchID int64, newHostUserID int64) error {
	match, err := m.Fetch(ctx, matchID)
	if err != nil {
		return err
	}
	if !match.IsReferee(requesterID) {
		return bancherr.New(bancherr.CommandsUnauthorized, "host or referee only")
	}
	slots, err := m.FetchSlots(ctx, matchID)
	if err != nil {
		return err
	}
	if model.FindSlotByUser(slots, newHostUserID) < 0 {
		return bancherr.New(bancherr.MultiplayerUserNotInMatch, "target is not in this match")
	}
	match.HostUserID = newHostUserID
	return m.save(ctx, match)
}

// RecordScoreUpdate validates the sender's slot is Playing and returns its
// slot id so the caller can rewrite the score frame before forwarding it;
// score updates from non-Playing slots are dropped.
func (m *Manager) RecordScoreUpdate(ctx context.Context, userID int64, matchID int64) (int, bool, error) {
	slots, err := m.FetchSlots(ctx, matchID)
	if err != nil {
		return 0, false, err
	}
	slotID := model.FindSlotByUser(slots, userID)
	if slotID < 0 || slots[slotID].Status != model.SlotPlaying {
		return 0, false, nil
	}
	return slotID, true, nil
}
