package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/akatsuki/bancho/internal/bancherr"
)

// User is the durable row backing a login attempt, grounded on
// original_source/src/repositories/users.rs's fetch_one/fetch_one_by_username.
type User struct {
	ID             int64
	Username       string
	UsernameSafe   string
	PasswordMD5    string
	Email          string
	Country        string
	Privileges     int32
	SilenceEnd     int64
	SilenceReason  string
	Frozen         bool
	DonorExpire    int64
	RegisterTime   int64
	LatestActivity int64
}

const userReadFields = `id, username, username_safe, password_md5, email, country,
	privileges, silence_end, silence_reason, frozen, donor_expire, register_datetime, latest_activity`

// UserStore reads and updates the users table.
type UserStore struct {
	db *DB
}

// NewUserStore constructs a UserStore.
func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(row *sql.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.UsernameSafe, &u.PasswordMD5, &u.Email, &u.Country,
		&u.Privileges, &u.SilenceEnd, &u.SilenceReason, &u.Frozen, &u.DonorExpire,
		&u.RegisterTime, &u.LatestActivity)
	return u, err
}

// FetchByUsername looks a user up by their safe (lowercased, underscored)
// username, the form the login pipeline receives from the client.
func (s *UserStore) FetchByUsername(ctx context.Context, usernameSafe string) (User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userReadFields+" FROM users WHERE username_safe = $1", usernameSafe)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, bancherr.New(bancherr.SessionInvalidCredentials, "unknown username")
	}
	if err != nil {
		return User{}, bancherr.Wrap(bancherr.InternalServerError, "fetching user", err)
	}
	return u, nil
}

// FetchByID looks a user up by their numeric id.
func (s *UserStore) FetchByID(ctx context.Context, userID int64) (User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userReadFields+" FROM users WHERE id = $1", userID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, bancherr.New(bancherr.UsersNotFound, "unknown user")
	}
	if err != nil {
		return User{}, bancherr.Wrap(bancherr.InternalServerError, "fetching user", err)
	}
	return u, nil
}

// RemovePendingVerification clears the PendingVerification bit once a
// first-time client's hardware fingerprint clears the multi-account check.
func (s *UserStore) RemovePendingVerification(ctx context.Context, userID int64, clearedPrivileges int32) error {
	_, err := s.db.ExecContext(ctx, "UPDATE users SET privileges = $1 WHERE id = $2", clearedPrivileges, userID)
	if err != nil {
		return bancherr.Wrap(bancherr.InternalServerError, "clearing pending verification", err)
	}
	return nil
}

// Silence sets silence_end/silence_reason, mirroring
// original_source/src/repositories/users.rs's silence_user.
func (s *UserStore) Silence(ctx context.Context, userID int64, reason string, silenceEnd int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET silence_reason = $1, silence_end = $2 WHERE id = $3", reason, silenceEnd, userID)
	if err != nil {
		return bancherr.Wrap(bancherr.InternalServerError, "silencing user", err)
	}
	return nil
}
