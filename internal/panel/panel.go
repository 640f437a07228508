// Package panel builds the UserPresence/UserStats wire structures shared by
// the welcome packet (internal/login) and in-session broadcasts
// (internal/dispatch), so both construct a user's "panel" the same way.
package panel

import (
	"github.com/akatsuki/bancho/internal/model"
	"github.com/akatsuki/bancho/internal/privileges"
	"github.com/akatsuki/bancho/internal/protocol"
)

// CountryCode derives a numeric stand-in for a two-letter ISO country code.
// The real osu! client expects a specific ISO-3166-numeric table; that
// table is part of the out-of-scope protocol codec spec.md §6 declines to
// re-specify, so this module only needs internal self-consistency between
// what it writes and what it would read back, not compatibility with any
// external numbering.
func CountryCode(iso string) uint8 {
	if len(iso) != 2 {
		return 0
	}
	a, b := iso[0], iso[1]
	if a < 'A' || a > 'Z' || b < 'A' || b > 'Z' {
		return 0
	}
	return uint8((int(a-'A')*26 + int(b-'A')) % 256)
}

// Presence builds the UserPresence payload for one online user.
func Presence(userID int64, username string, utcOffset int8, countryISO string, wirePriv privileges.WirePrivileges, mode uint8, loc model.Location, globalRank int32) protocol.UserPresenceInfo {
	return protocol.UserPresenceInfo{
		UserID:      int32(userID),
		Username:    username,
		UTCOffset:   utcOffset,
		CountryCode: CountryCode(countryISO),
		Privileges:  uint8(wirePriv),
		Mode:        mode,
		Latitude:    loc.Latitude,
		Longitude:   loc.Longitude,
		GlobalRank:  globalRank,
	}
}

// Stats builds the UserStats payload from a cached presence.
func Stats(userID int64, p model.Presence) protocol.UserStatsInfo {
	return protocol.UserStatsInfo{
		UserID:      int32(userID),
		Action:      uint8(p.Action),
		InfoText:    p.InfoText,
		BeatmapMD5:  p.BeatmapMD5,
		Mods:        p.Mods,
		Mode:        p.Mode,
		BeatmapID:   p.BeatmapID,
		RankedScore: p.Stats.RankedScore,
		Accuracy:    float32(p.Stats.Accuracy),
		Playcount:   int32(p.Stats.Playcount),
		TotalScore:  p.Stats.TotalScore,
		GlobalRank:  int32(p.Stats.GlobalRank),
		Performance: int16(p.Stats.Performance),
	}
}

// BotPresence builds the bot account's fixed UserPresence payload.
func BotPresence() protocol.UserPresenceInfo {
	return Presence(model.BotUserID, "Aika", 0, "XX", 0, 0, model.Location{}, 0)
}

// BotStats builds the bot account's fixed UserStats payload.
func BotStats() protocol.UserStatsInfo {
	return Stats(model.BotUserID, model.BotPresence())
}
