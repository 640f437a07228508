package pg

import (
	"context"

	"github.com/akatsuki/bancho/internal/bancherr"
)

// These hashes are the md5 digests of well-known placeholder hardware
// values osu! reports when the client genuinely has no real adapter MAC
// or is being run under Wine, preserved verbatim from
// original_source/src/repositories/hardware_logs.rs so the multi-account
// heuristics below stay byte-for-byte compatible with their matching rules.
const (
	noRealMacUniqueIDMD5 = "06a9e146cb8cc0853ded03bb15f2260e" // md5(md5("00000000-0000-0000-0000-000000000000"))
	noRealMacDiskIDMD5   = "dcfcd07e645d245babe887e5e2daa016" // md5(md5("0"))
	runningUnderWineMD5  = "b4ec3c4334a0249dae95c284ec5983df" // md5("runningunderwine")
)

// HardwareMatch is a foreign hardware_log row sharing hashes with the
// logging-in user, joined against its owner's username/privileges.
type HardwareMatch struct {
	UserID      int64
	Username    string
	Privileges  int32
	Occurencies int64
	Activated   bool
}

// HardwareStore records hw_user rows and detects multi-accounts, grounded
// on original_source/src/repositories/hardware_logs.rs.
type HardwareStore struct {
	db *DB
}

// NewHardwareStore constructs a HardwareStore.
func NewHardwareStore(db *DB) *HardwareStore {
	return &HardwareStore{db: db}
}

// Create inserts a new hw_user row for this login attempt.
func (s *HardwareStore) Create(ctx context.Context, userID int64, activated bool, mac, uniqueID, diskID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO hw_user (userid, mac, unique_id, disk_id, activated) VALUES ($1, $2, $3, $4, $5)",
		userID, mac, uniqueID, diskID, activated)
	if err != nil {
		return bancherr.Wrap(bancherr.InternalServerError, "recording hardware log", err)
	}
	return nil
}

// FetchForeignMatching finds hardware_log rows belonging to OTHER users
// sharing this login's hashes, with the same three-tier matching rule the
// original implements: a fingerprint carrying either no-real-MAC placeholder
// matches only on all three of mac, unique_id and disk_id, a Wine fingerprint only matches on unique_id, and a
// real fingerprint matches on (mac OR unique_id) AND disk_id.
func (s *HardwareStore) FetchForeignMatching(ctx context.Context, userID int64, mac, uniqueID, diskID string) ([]HardwareMatch, error) {
	var (
		query string
		args  []any
	)
	switch {
	case uniqueID == noRealMacUniqueIDMD5 || diskID == noRealMacDiskIDMD5:
		query = `SELECT hw.userid, u.username, u.privileges, SUM(hw.occurencies), bool_or(hw.activated)
			FROM hw_user hw JOIN users u ON hw.userid = u.id
			WHERE hw.userid != $1 AND hw.mac = $2 AND hw.unique_id = $3 AND hw.disk_id = $4
			GROUP BY hw.userid, u.username, u.privileges ORDER BY hw.userid`
		args = []any{userID, mac, uniqueID, diskID}
	case mac == runningUnderWineMD5:
		query = `SELECT hw.userid, u.username, u.privileges, SUM(hw.occurencies), bool_or(hw.activated)
			FROM hw_user hw JOIN users u ON hw.userid = u.id
			WHERE hw.userid != $1 AND hw.unique_id = $2
			GROUP BY hw.userid, u.username, u.privileges ORDER BY hw.userid`
		args = []any{userID, uniqueID}
	default:
		query = `SELECT hw.userid, u.username, u.privileges, SUM(hw.occurencies), bool_or(hw.activated)
			FROM hw_user hw JOIN users u ON hw.userid = u.id
			WHERE hw.userid != $1 AND (hw.mac = $2 OR hw.unique_id = $3) AND hw.disk_id = $4
			GROUP BY hw.userid, u.username, u.privileges ORDER BY hw.userid`
		args = []any{userID, mac, uniqueID, diskID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, bancherr.Wrap(bancherr.InternalServerError, "matching hardware logs", err)
	}
	defer rows.Close()

	var matches []HardwareMatch
	for rows.Next() {
		var m HardwareMatch
		if err := rows.Scan(&m.UserID, &m.Username, &m.Privileges, &m.Occurencies, &m.Activated); err != nil {
			return nil, bancherr.Wrap(bancherr.InternalServerError, "scanning hardware match", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// IsSharedDevice checks the shared_devices allowlist, such as internet
// cafes or school computers, exempted from multi-account flags.
func (s *HardwareStore) IsSharedDevice(ctx context.Context, mac, uniqueID, diskID string) (bool, error) {
	var shared bool
	row := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM shared_devices WHERE mac = $1 AND unique_id = $2 AND disk_id = $3)",
		mac, uniqueID, diskID)
	if err := row.Scan(&shared); err != nil {
		return false, bancherr.Wrap(bancherr.InternalServerError, "checking shared device", err)
	}
	return shared, nil
}
