package streambus

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akatsuki/bancho/internal/model"
)

func TestEncodeDecodeEnvelopeRoundTrip(t *testing.T) {
	excluded := uuid.New()
	env := model.Envelope{
		ExcludedSessionIDs: []uuid.UUID{excluded},
		ReadPrivileges:     1 << 3,
	}

	raw, err := encodeEnvelope(env)
	require.NoError(t, err)

	decoded, err := decodeEnvelope(raw)
	require.NoError(t, err)

	assert.True(t, excludes(decoded, excluded))
	assert.False(t, excludes(decoded, uuid.New()))
	assert.True(t, readable(decoded, 1<<3))
	assert.False(t, readable(decoded, 1<<4))
}

func TestReadableNoPrivilegeFilterAllowsAnyone(t *testing.T) {
	env := model.Envelope{}
	raw, err := encodeEnvelope(env)
	require.NoError(t, err)

	decoded, err := decodeEnvelope(raw)
	require.NoError(t, err)

	assert.True(t, readable(decoded, 0))
	assert.True(t, readable(decoded, 1<<10))
}

func TestDecodeEmptyEnvelope(t *testing.T) {
	decoded, err := decodeEnvelope(nil)
	require.NoError(t, err)
	assert.Empty(t, decoded.ExcludedSessionIDs)
	assert.Nil(t, decoded.ReadPrivileges)
}
