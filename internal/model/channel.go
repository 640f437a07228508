package model

// Channel is chat channel metadata plus the privilege gates membership is
// checked against. Membership sets themselves live in the cache, owned by
// ChannelManager, not on this struct.
type Channel struct {
	Name            string
	Description     string
	ReadPrivileges  int32
	WritePrivileges int32
	Status          bool
}

// The SpecialChannel* constants identify a request for a per-subject virtual
// channel that ChannelManager must resolve before it can be joined.
const (
	SpecialChannelSpectator  = "#spectator"
	SpecialChannelMultiplayer = "#multiplayer"
	SpecialChannelHighlight  = "#highlight"
	SpecialChannelUserlog    = "#userlog"
)
