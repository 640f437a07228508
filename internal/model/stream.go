package model

import (
	"fmt"

	"github.com/google/uuid"
)

// StreamName is drawn from the closed set of fan-out targets. Display
// mirrors original_source/src/repositories/streams.rs exactly, including
// the "multiplaying" stream rendering as "multiplayer:<id>:playing" rather
// than "multiplaying:<id>" — that is the real wire/key format, not the
// looser prose name.
type StreamName struct {
	kind         streamKind
	sessionID    uuid.UUID
	channelName  string
	matchID      int64
}

type streamKind uint8

const (
	streamUser streamKind = iota
	streamMain
	streamLobby
	streamDonator
	streamStaff
	streamDev
	streamChannel
	streamSpectator
	streamMultiplayer
	streamMultiplaying
)

func StreamUser(sessionID uuid.UUID) StreamName    { return StreamName{kind: streamUser, sessionID: sessionID} }
func StreamMain() StreamName                       { return StreamName{kind: streamMain} }
func StreamLobby() StreamName                      { return StreamName{kind: streamLobby} }
func StreamDonator() StreamName                    { return StreamName{kind: streamDonator} }
func StreamStaff() StreamName                      { return StreamName{kind: streamStaff} }
func StreamDev() StreamName                        { return StreamName{kind: streamDev} }
func StreamChannel(name string) StreamName         { return StreamName{kind: streamChannel, channelName: name} }
func StreamSpectator(hostSessionID uuid.UUID) StreamName {
	return StreamName{kind: streamSpectator, sessionID: hostSessionID}
}
func StreamMultiplayer(matchID int64) StreamName   { return StreamName{kind: streamMultiplayer, matchID: matchID} }
func StreamMultiplaying(matchID int64) StreamName  { return StreamName{kind: streamMultiplaying, matchID: matchID} }

// String renders the canonical stream key segment (without the
// "akatsuki:bancho:streams:" prefix, which internal/streambus owns).
func (s StreamName) String() string {
	switch s.kind {
	case streamUser:
		return fmt.Sprintf("user:%s", s.sessionID)
	case streamMain:
		return "main"
	case streamLobby:
		return "lobby"
	case streamDonator:
		return "donator"
	case streamStaff:
		return "staff"
	case streamDev:
		return "dev"
	case streamChannel:
		return fmt.Sprintf("channel:%s", s.channelName)
	case streamSpectator:
		return fmt.Sprintf("spectator:%s", s.sessionID)
	case streamMultiplayer:
		return fmt.Sprintf("multiplayer:%d", s.matchID)
	case streamMultiplaying:
		return fmt.Sprintf("multiplayer:%d:playing", s.matchID)
	default:
		return "unknown"
	}
}

// Envelope carries the exclusion and privilege filters a StreamBus.Publish
// call attaches to an entry; StreamBus.Drain evaluates these per subscriber.
type Envelope struct {
	ExcludedSessionIDs []uuid.UUID
	ReadPrivileges     int32
}

// Excludes reports whether sessionID is in the envelope's exclusion set.
func (e Envelope) Excludes(sessionID uuid.UUID) bool {
	for _, id := range e.ExcludedSessionIDs {
		if id == sessionID {
			return true
		}
	}
	return false
}

// Readable reports whether a session holding the given privilege bitset may
// read an entry carrying this envelope.
func (e Envelope) Readable(privileges int32) bool {
	if e.ReadPrivileges == 0 {
		return true
	}
	return privileges&e.ReadPrivileges != 0
}
