package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/akatsuki/bancho/internal/bancherr"
)

// Stats is one mode's row in user_stats, grounded on
// original_source/src/repositories/stats.rs.
type Stats struct {
	UserID      int64
	Mode        int16
	RankedScore int64
	TotalScore  int64
	Performance int32
	Playcount   int32
	Accuracy    float32
}

const statsReadFields = "id, mode, ranked_score, total_score, pp, playcount, accuracy"

// StatsStore reads user_stats.
type StatsStore struct {
	db *DB
}

// NewStatsStore constructs a StatsStore.
func NewStatsStore(db *DB) *StatsStore {
	return &StatsStore{db: db}
}

// FetchOne returns a user's stats row for mode, or a zeroed row if the user
// has never recorded a score in that mode.
func (s *StatsStore) FetchOne(ctx context.Context, userID int64, mode int16) (Stats, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+statsReadFields+" FROM user_stats WHERE id = $1 AND mode = $2", userID, mode)
	var st Stats
	err := row.Scan(&st.UserID, &st.Mode, &st.RankedScore, &st.TotalScore, &st.Performance, &st.Playcount, &st.Accuracy)
	if errors.Is(err, sql.ErrNoRows) {
		return Stats{UserID: userID, Mode: mode}, nil
	}
	if err != nil {
		return Stats{}, bancherr.Wrap(bancherr.InternalServerError, "fetching stats", err)
	}
	return st, nil
}
