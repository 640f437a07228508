package model

// Action mirrors the client's current activity, one of the closed set the
// protocol carries in UserPresence/ChangeAction frames.
type Action uint8

const (
	ActionIdle Action = iota
	ActionAfk
	ActionPlaying
	ActionEditing
	ActionModding
	ActionMultiplayer
	ActionWatching
	ActionUnknown
	ActionTesting
	ActionSubmitting
	ActionPaused
	ActionLobby
	ActionMultiplaying
	ActionOsuDirect
)

// Location is the geolocation portion of a Presence, obtained from the geo
// adapter and optionally displaced for privacy.
type Location struct {
	CountryCode string
	Latitude    float32
	Longitude   float32
	UTCOffset   int8
}

// Stats is the cached, publicly broadcast performance summary for a user's
// current game mode.
type Stats struct {
	RankedScore uint64
	TotalScore  uint64
	Accuracy    float64
	Playcount   uint32
	Performance uint32
	GlobalRank  uint32
}

// Presence is the broadcast-visible state of an online user: current
// action, stats, and location. Keyed by user id.
type Presence struct {
	UserID      int64
	Action      Action
	InfoText    string
	BeatmapMD5  string
	BeatmapID   int32
	Mods        uint32
	Mode        uint8
	Stats       Stats
	Location    Location
	AwayMessage string
}

// BotUserID is the reserved system user id ("Aika"). Its presence is
// synthesised and immutable; no session exists for it.
const BotUserID int64 = 999

// BotPresence returns the constant presence injected into any multi-fetch.
func BotPresence() Presence {
	return Presence{
		UserID:   BotUserID,
		Action:   ActionIdle,
		InfoText: "",
		Location: Location{CountryCode: "XX"},
	}
}
