package pg

import (
	"context"

	"github.com/akatsuki/bancho/internal/bancherr"
	"github.com/akatsuki/bancho/internal/model"
)

// ChannelStore reads bancho_channels, grounded on
// original_source/src/repositories/channels.rs's fetch_one/fetch_all.
type ChannelStore struct {
	db *DB
}

// NewChannelStore constructs a ChannelStore.
func NewChannelStore(db *DB) *ChannelStore {
	return &ChannelStore{db: db}
}

const channelReadFields = "name, description, read_privileges, write_privileges, status"

func scanChannel(row interface {
	Scan(dest ...any) error
}) (model.Channel, error) {
	var ch model.Channel
	if err := row.Scan(&ch.Name, &ch.Description, &ch.ReadPrivileges, &ch.WritePrivileges, &ch.Status); err != nil {
		return model.Channel{}, err
	}
	return ch, nil
}

// FetchChannel reads one channel by name.
func (s *ChannelStore) FetchChannel(ctx context.Context, name string) (model.Channel, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+channelReadFields+" FROM bancho_channels WHERE name = $1 AND status = true", name)
	ch, err := scanChannel(row)
	if err != nil {
		return model.Channel{}, bancherr.Wrap(bancherr.ChannelsNotFound, "channel not found: "+name, err)
	}
	return ch, nil
}

// FetchAll returns every active channel, used to populate the welcome
// packet's channel listing.
func (s *ChannelStore) FetchAll(ctx context.Context) ([]model.Channel, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+channelReadFields+" FROM bancho_channels WHERE status = true")
	if err != nil {
		return nil, bancherr.Wrap(bancherr.InternalServerError, "listing channels", err)
	}
	defer rows.Close()

	var channels []model.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, bancherr.Wrap(bancherr.InternalServerError, "scanning channel row", err)
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}
