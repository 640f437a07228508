package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/akatsuki/bancho/internal/bancherr"
)

// RelationshipStore reads/writes users_relationships, grounded on
// original_source/src/repositories/relationships.rs.
type RelationshipStore struct {
	db *DB
}

// NewRelationshipStore constructs a RelationshipStore.
func NewRelationshipStore(db *DB) *RelationshipStore {
	return &RelationshipStore{db: db}
}

// FetchFriends returns every user id userID follows, mirroring
// relationships.rs::fetch_friends.
func (s *RelationshipStore) FetchFriends(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT user2 FROM users_relationships WHERE user1 = $1", userID)
	if err != nil {
		return nil, bancherr.Wrap(bancherr.InternalServerError, "fetching friends", err)
	}
	defer rows.Close()

	var friends []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, bancherr.Wrap(bancherr.InternalServerError, "scanning friend row", err)
		}
		friends = append(friends, id)
	}
	return friends, rows.Err()
}

// IsFriend reports whether userID already follows otherID, mirroring
// relationships.rs::fetch_one.
func (s *RelationshipStore) IsFriend(ctx context.Context, userID, otherID int64) (bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM users_relationships WHERE user1 = $1 AND user2 = $2", userID, otherID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, bancherr.Wrap(bancherr.InternalServerError, "checking friendship", err)
	}
	return true, nil
}

// AddFriend records a one-directional follow, mirroring
// relationships.rs::add_friend. A repeat add is a no-op, not an error.
func (s *RelationshipStore) AddFriend(ctx context.Context, userID, toAdd int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users_relationships (user1, user2) VALUES ($1, $2) ON CONFLICT DO NOTHING", userID, toAdd)
	if err != nil {
		return bancherr.Wrap(bancherr.InternalServerError, "adding friend", err)
	}
	return nil
}

// RemoveFriend deletes a one-directional follow, mirroring
// relationships.rs::remove_friend.
func (s *RelationshipStore) RemoveFriend(ctx context.Context, userID, toRemove int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM users_relationships WHERE user1 = $1 AND user2 = $2", userID, toRemove)
	if err != nil {
		return bancherr.Wrap(bancherr.InternalServerError, "removing friend", err)
	}
	return nil
}
