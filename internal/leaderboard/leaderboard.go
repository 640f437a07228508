// Package leaderboard answers global-rank lookups against the sorted sets
// the scoring service maintains in Redis, grounded on
// original_source/src/repositories/stats.rs's fetch_global_rank /
// add_to_leaderboard / remove_from_leaderboard. Bancho never writes these
// sets (the scoring pipeline owns that); it only reads ranks for presence
// broadcasts.
package leaderboard

import (
	"context"
	"fmt"
	"strings"

	"github.com/akatsuki/bancho/internal/cache"
)

var modeNames = [4]string{"std", "taiko", "ctb", "mania"}

func key(mode uint8) string {
	name := "std"
	if int(mode) < len(modeNames) {
		name = modeNames[mode]
	}
	return fmt.Sprintf("ripple:leaderboard:%s", name)
}

func countryKey(mode uint8, countryCode string) string {
	return fmt.Sprintf("%s:%s", key(mode), strings.ToLower(countryCode))
}

// Board reads global and country rank sorted sets.
type Board struct {
	redis *cache.Client
}

// New constructs a Board.
func New(redis *cache.Client) *Board {
	return &Board{redis: redis}
}

// GlobalRank returns the user's 1-indexed global rank for mode, or 0 if
// they have no score on the board yet.
func (b *Board) GlobalRank(ctx context.Context, userID int64, mode uint8) (int32, error) {
	rank, err := b.redis.ZRevRank(ctx, key(mode), fmt.Sprint(userID)).Result()
	if err != nil {
		if err == cache.Nil {
			return 0, nil
		}
		return 0, err
	}
	return int32(rank) + 1, nil
}

// CountryRank returns the user's 1-indexed rank among players sharing
// countryCode for mode, or 0 if unranked.
func (b *Board) CountryRank(ctx context.Context, userID int64, mode uint8, countryCode string) (int32, error) {
	rank, err := b.redis.ZRevRank(ctx, countryKey(mode, countryCode), fmt.Sprint(userID)).Result()
	if err != nil {
		if err == cache.Nil {
			return 0, nil
		}
		return 0, err
	}
	return int32(rank) + 1, nil
}
