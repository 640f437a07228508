// Package model holds the data types shared across the cache-backed managers:
// sessions, presence, channels, spectator groups, and multiplayer matches.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Session is a logged-in connection identified by an opaque token.
type Session struct {
	SessionID       uuid.UUID `json:"session_id"`
	UserID          int64     `json:"user_id"`
	Username        string    `json:"username"`
	Privileges      int32     `json:"privileges"`
	CreateIPAddress string    `json:"create_ip_address"`
	UTCOffset       int8      `json:"utc_offset"`
	PrivateDMs      bool      `json:"private_dms"`
	SilenceEnd      time.Time `json:"silence_end"`
	Primary         bool      `json:"primary"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// IsSilenced reports whether the session is currently muted.
func (s Session) IsSilenced() bool {
	return s.SilenceEnd.After(time.Now())
}

// SilenceSecondsLeft returns the remaining silence duration, floored at zero.
func (s Session) SilenceSecondsLeft() int64 {
	remaining := int64(time.Until(s.SilenceEnd).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsStale reports whether the session has not been touched within staleAfter.
func (s Session) IsStale(staleAfter time.Duration) bool {
	return time.Since(s.UpdatedAt) > staleAfter
}

// CreateSessionArgs is the input to SessionRegistry.Create.
type CreateSessionArgs struct {
	UserID     int64
	Username   string
	IPAddress  string
	UTCOffset  int8
	Privileges int32
	SilenceEnd time.Time
	PrivateDMs bool
	Primary    bool
}
