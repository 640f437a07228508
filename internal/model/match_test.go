package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func userSlot(userID int64) MatchSlot {
	id := userID
	return MatchSlot{Status: SlotNotReady, UserID: &id}
}

func TestOccupiedSlotCount(t *testing.T) {
	var slots [MaxSlots]MatchSlot
	assert.Equal(t, 0, OccupiedSlotCount(slots))

	slots[0] = userSlot(1)
	slots[5] = userSlot(2)
	assert.Equal(t, 2, OccupiedSlotCount(slots))
}

func TestFindSlotByUser(t *testing.T) {
	var slots [MaxSlots]MatchSlot
	slots[3] = userSlot(42)
	assert.Equal(t, 3, FindSlotByUser(slots, 42))
	assert.Equal(t, -1, FindSlotByUser(slots, 99))
}

func TestFirstEmptySlot(t *testing.T) {
	var slots [MaxSlots]MatchSlot
	for i := range slots {
		slots[i] = MatchSlot{Status: SlotLocked}
	}
	assert.Equal(t, -1, FirstEmptySlot(slots))

	slots[7].Status = SlotEmpty
	assert.Equal(t, 7, FirstEmptySlot(slots))
}

func TestLowestOccupiedSlot(t *testing.T) {
	var slots [MaxSlots]MatchSlot
	assert.Equal(t, -1, LowestOccupiedSlot(slots))

	slots[9] = userSlot(1)
	slots[2] = userSlot(2)
	assert.Equal(t, 2, LowestOccupiedSlot(slots))
}

func TestMatchWireID(t *testing.T) {
	m := Match{MatchID: 0x1FFFF}
	assert.Equal(t, uint16(0xFFFF), m.WireID())
}

func TestMatchIsPublic(t *testing.T) {
	assert.True(t, Match{}.IsPublic())
	assert.False(t, Match{Password: "secret"}.IsPublic())
}

func TestMatchIsReferee(t *testing.T) {
	m := Match{HostUserID: 1, RefereeUserIDs: []int64{5}}
	assert.True(t, m.IsReferee(1))
	assert.True(t, m.IsReferee(5))
	assert.False(t, m.IsReferee(9))
}
