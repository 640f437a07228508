package protocol

import "bytes"

// Encoder buffers a concatenation of server messages, one Write<Name>
// method call per message, matching spec.md §4.7/§4.8's welcome-packet and
// broadcast construction order.
type Encoder struct {
	buf bytes.Buffer
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder { return &Encoder{} }

// Bytes returns the concatenated frame bytes written so far.
func (e *Encoder) Bytes() []byte { return e.buf.Bytes() }

// WriteRaw appends an already-framed byte sequence, used to splice a
// StreamBus.Drain result or another Encoder's output onto this one.
func (e *Encoder) WriteRaw(framed []byte) *Encoder {
	e.buf.Write(framed)
	return e
}

func (e *Encoder) frame(msgType uint16, payload *payloadWriter) {
	e.u16(msgType)
	e.u8(0) // padding byte
	e.u32(uint32(payload.buf.Len()))
	e.buf.Write(payload.buf.Bytes())
}

func (e *Encoder) u16(v uint16) {
	w := &payloadWriter{}
	w.u16(v)
	e.buf.Write(w.buf.Bytes())
}
func (e *Encoder) u8(v uint8) { e.buf.WriteByte(v) }
func (e *Encoder) u32(v uint32) {
	w := &payloadWriter{}
	w.u32(v)
	e.buf.Write(w.buf.Bytes())
}

// UserPresenceInfo is the bundle UserPresence/UserStats encoding needs.
type UserPresenceInfo struct {
	UserID      int32
	Username    string
	UTCOffset   int8
	CountryCode uint8
	Privileges  uint8
	Mode        uint8
	Latitude    float32
	Longitude   float32
	GlobalRank  int32
}

type UserStatsInfo struct {
	UserID      int32
	Action      uint8
	InfoText    string
	BeatmapMD5  string
	Mods        uint32
	Mode        uint8
	BeatmapID   int32
	RankedScore uint64
	Accuracy    float32
	Playcount   int32
	TotalScore  uint64
	GlobalRank  int32
	Performance int16
}

func (e *Encoder) WriteLoginResult(code int32) *Encoder {
	w := &payloadWriter{}
	w.i32(code)
	e.frame(ServerLoginResult, w)
	return e
}

func (e *Encoder) WriteProtocolVersion(version int32) *Encoder {
	w := &payloadWriter{}
	w.i32(version)
	e.frame(ServerProtocolVersion, w)
	return e
}

func (e *Encoder) WriteUserPrivileges(privileges int32) *Encoder {
	w := &payloadWriter{}
	w.i32(privileges)
	e.frame(ServerUserPrivileges, w)
	return e
}

func (e *Encoder) WriteChannelInfoEnd() *Encoder {
	e.frame(ServerChannelInfoEnd, &payloadWriter{})
	return e
}

func (e *Encoder) WriteAlert(message string) *Encoder {
	w := &payloadWriter{}
	w.str(message)
	e.frame(ServerAlert, w)
	return e
}

func (e *Encoder) WriteFriendsList(userIDs []int32) *Encoder {
	w := &payloadWriter{}
	w.i32list(userIDs)
	e.frame(ServerFriendsList, w)
	return e
}

func (e *Encoder) WriteUserPresence(p UserPresenceInfo) *Encoder {
	w := &payloadWriter{}
	w.i32(p.UserID)
	w.str(p.Username)
	w.i8(p.UTCOffset)
	w.u8(p.CountryCode)
	w.u8(p.Privileges)
	w.u8(p.Mode)
	w.f32(p.Latitude)
	w.f32(p.Longitude)
	w.i32(p.GlobalRank)
	e.frame(ServerUserPresence, w)
	return e
}

func (e *Encoder) WriteUserStats(s UserStatsInfo) *Encoder {
	w := &payloadWriter{}
	w.i32(s.UserID)
	w.u8(s.Action)
	w.str(s.InfoText)
	w.str(s.BeatmapMD5)
	w.u32(s.Mods)
	w.u8(s.Mode)
	w.i32(s.BeatmapID)
	w.u64(s.RankedScore)
	w.f32(s.Accuracy)
	w.i32(s.Playcount)
	w.u64(s.TotalScore)
	w.i32(s.GlobalRank)
	w.i16(s.Performance)
	e.frame(ServerUserStats, w)
	return e
}

func (e *Encoder) WriteUserPresenceBundle(userIDs []int32) *Encoder {
	w := &payloadWriter{}
	w.i32list(userIDs)
	e.frame(ServerUserPresenceBundle, w)
	return e
}

func (e *Encoder) WriteUserLogout(userID int32) *Encoder {
	w := &payloadWriter{}
	w.i32(userID)
	w.u8(0)
	e.frame(ServerUserLogout, w)
	return e
}

func (e *Encoder) WriteChannelInfo(name, description string, memberCount int16) *Encoder {
	w := &payloadWriter{}
	w.str(name)
	w.str(description)
	w.i16(memberCount)
	e.frame(ServerChannelInfo, w)
	return e
}

func (e *Encoder) WriteChannelKick(name string) *Encoder {
	w := &payloadWriter{}
	w.str(name)
	e.frame(ServerChannelKick, w)
	return e
}

func (e *Encoder) WriteChatMessage(sender, text, target string, senderID int32) *Encoder {
	w := &payloadWriter{}
	w.str(sender)
	w.str(text)
	w.str(target)
	w.i32(senderID)
	e.frame(ServerChatMessage, w)
	return e
}

func (e *Encoder) WriteSilenceEnd(secondsLeft int32) *Encoder {
	w := &payloadWriter{}
	w.i32(secondsLeft)
	e.frame(ServerSilenceEnd, w)
	return e
}

func (e *Encoder) WriteUserSilenced(userID int32) *Encoder {
	w := &payloadWriter{}
	w.i32(userID)
	e.frame(ServerUserSilenced, w)
	return e
}

func (e *Encoder) WriteSpectatorJoined(userID int32) *Encoder {
	w := &payloadWriter{}
	w.i32(userID)
	e.frame(ServerSpectatorJoined, w)
	return e
}

func (e *Encoder) WriteFellowSpectatorJoined(userID int32) *Encoder {
	w := &payloadWriter{}
	w.i32(userID)
	e.frame(ServerFellowSpectatorJoined, w)
	return e
}

func (e *Encoder) WriteSpectatorLeft(userID int32) *Encoder {
	w := &payloadWriter{}
	w.i32(userID)
	e.frame(ServerSpectatorLeft, w)
	return e
}

func (e *Encoder) WriteFellowSpectatorLeft(userID int32) *Encoder {
	w := &payloadWriter{}
	w.i32(userID)
	e.frame(ServerFellowSpectatorLeft, w)
	return e
}

func (e *Encoder) WriteCantSpectate(userID int32) *Encoder {
	w := &payloadWriter{}
	w.i32(userID)
	e.frame(ServerCantSpectate, w)
	return e
}

// MatchInfo is the snapshot broadcast by MatchJoinSuccess/MatchUpdate.
type MatchInfo struct {
	MatchID        uint16
	InProgress     bool
	Mods           uint32
	Name           string
	Password       string
	BeatmapName    string
	BeatmapMD5     string
	BeatmapID      int32
	SlotStatus     [16]uint8
	SlotTeam       [16]uint8
	SlotUserID     [16]int32
	HostUserID     int32
	Mode           uint8
	WinCondition   uint8
	TeamType       uint8
	FreemodEnabled bool
	SlotMods       [16]uint32
	RandomSeed     int32
}

func (e *Encoder) writeMatch(w *payloadWriter, m MatchInfo) {
	w.u16(m.MatchID)
	w.boolean(m.InProgress)
	w.u8(0)
	w.u32(m.Mods)
	w.str(m.Name)
	w.str(m.Password)
	w.str(m.BeatmapName)
	w.str(m.BeatmapMD5)
	w.i32(m.BeatmapID)
	for _, s := range m.SlotStatus {
		w.u8(s)
	}
	for _, t := range m.SlotTeam {
		w.u8(t)
	}
	for _, u := range m.SlotUserID {
		w.i32(u)
	}
	w.i32(m.HostUserID)
	w.u8(m.Mode)
	w.u8(m.WinCondition)
	w.u8(m.TeamType)
	w.boolean(m.FreemodEnabled)
	if m.FreemodEnabled {
		for _, sm := range m.SlotMods {
			w.u32(sm)
		}
	}
	w.i32(m.RandomSeed)
}

func (e *Encoder) WriteMatchJoinSuccess(m MatchInfo) *Encoder {
	w := &payloadWriter{}
	e.writeMatch(w, m)
	e.frame(ServerMatchJoinSuccess, w)
	return e
}

func (e *Encoder) WriteMatchJoinFail() *Encoder {
	e.frame(ServerMatchJoinFail, &payloadWriter{})
	return e
}

func (e *Encoder) WriteMatchUpdate(m MatchInfo) *Encoder {
	w := &payloadWriter{}
	e.writeMatch(w, m)
	e.frame(ServerMatchUpdate, w)
	return e
}

func (e *Encoder) WriteMatchStart(m MatchInfo) *Encoder {
	w := &payloadWriter{}
	e.writeMatch(w, m)
	e.frame(ServerMatchStart, w)
	return e
}

// ScoreFrameInfo is the per-tick score update forwarded unmodified except
// for slot_id, per spec.md §4.5.
type ScoreFrameInfo struct {
	SlotID int8
	Raw    []byte
}

func (e *Encoder) WriteMatchScoreUpdate(s ScoreFrameInfo) *Encoder {
	w := &payloadWriter{}
	w.i8(s.SlotID)
	w.bytes(s.Raw)
	e.frame(ServerMatchScoreUpdate, w)
	return e
}

func (e *Encoder) WriteMatchTransferHost() *Encoder {
	e.frame(ServerMatchTransferHost, &payloadWriter{})
	return e
}

func (e *Encoder) WriteMatchComplete() *Encoder {
	e.frame(ServerMatchComplete, &payloadWriter{})
	return e
}

func (e *Encoder) WriteMatchSkip(slotID int8) *Encoder {
	w := &payloadWriter{}
	w.i8(slotID)
	e.frame(ServerMatchSkip, w)
	return e
}

func (e *Encoder) WriteMatchPlayerFailed(slotID int8) *Encoder {
	w := &payloadWriter{}
	w.i8(slotID)
	e.frame(ServerMatchPlayerFailed, w)
	return e
}

func (e *Encoder) WriteMatchAllPlayersLoaded() *Encoder {
	e.frame(ServerMatchAllPlayersLoaded, &payloadWriter{})
	return e
}

func (e *Encoder) WriteMatchPlayerSkipped(slotID int8) *Encoder {
	w := &payloadWriter{}
	w.i8(slotID)
	e.frame(ServerMatchPlayerSkipped, w)
	return e
}

func (e *Encoder) WriteMatchInvite(sender, text, target string, senderID int32) *Encoder {
	return e.WriteChatMessage(sender, text, target, senderID)
}

// WriteSpectateFrames splices an opaque replay-frame bundle from a
// spectated player into its own frame, unmodified.
func (e *Encoder) WriteSpectateFrames(raw []byte) *Encoder {
	w := &payloadWriter{}
	w.bytes(raw)
	e.frame(ServerSpectateFrames, w)
	return e
}
