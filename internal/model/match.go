package model

// SlotStatus is the state of one multiplayer match slot.
type SlotStatus uint8

const (
	SlotEmpty SlotStatus = iota
	SlotLocked
	SlotNotReady
	SlotReady
	SlotNoMap
	SlotPlaying
)

// MaxSlots is the fixed number of slots in every multiplayer match.
const MaxSlots = 16

// MatchSlot is one of the sixteen positions in a multiplayer match.
type MatchSlot struct {
	Status    SlotStatus
	Team      uint8
	Mods      uint32
	UserID    *int64
	Loaded    bool
	Skipped   bool
	Failed    bool
	Completed bool
}

// Occupied reports whether a user currently holds this slot.
func (s MatchSlot) Occupied() bool {
	return s.UserID != nil
}

// Beatmap identifies the map a match is currently set to.
type Beatmap struct {
	Name string
	MD5  string
	ID   int32
}

// Match is a multiplayer room: 16-slot state machine, host transfer, mods,
// start/load/play/finish.
type Match struct {
	MatchID         int64
	Name            string
	Password        string
	InProgress      bool
	Mods            uint32
	Beatmap         Beatmap
	HostUserID      int64
	Mode            uint8
	WinCondition    uint8
	TeamType        uint8
	FreemodEnabled  bool
	RandomSeed      int32
	LastGameID      int64
	RefereeUserIDs  []int64
}

// WireID returns the truncated 16-bit identifier exposed on the wire.
func (m Match) WireID() uint16 {
	return uint16(m.MatchID & 0xFFFF)
}

// IsPublic reports whether the match requires no password to join.
func (m Match) IsPublic() bool {
	return m.Password == ""
}

// IsReferee reports whether userID may administer this match, per the
// host-or-referee gate spec.md §4.5 requires for Start/Lock/TransferHost.
func (m Match) IsReferee(userID int64) bool {
	if userID == m.HostUserID {
		return true
	}
	for _, id := range m.RefereeUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// OccupiedSlotCount returns the number of slots currently holding a user.
func OccupiedSlotCount(slots [MaxSlots]MatchSlot) int {
	n := 0
	for _, s := range slots {
		if s.Occupied() {
			n++
		}
	}
	return n
}

// FindSlotByUser returns the index of the slot held by userID, or -1.
func FindSlotByUser(slots [MaxSlots]MatchSlot, userID int64) int {
	for i, s := range slots {
		if s.Occupied() && *s.UserID == userID {
			return i
		}
	}
	return -1
}

// FirstEmptySlot returns the lowest-indexed Empty slot, or -1 if none.
func FirstEmptySlot(slots [MaxSlots]MatchSlot) int {
	for i, s := range slots {
		if s.Status == SlotEmpty {
			return i
		}
	}
	return -1
}

// LowestOccupiedSlot returns the lowest-indexed occupied slot, or -1.
func LowestOccupiedSlot(slots [MaxSlots]MatchSlot) int {
	for i, s := range slots {
		if s.Occupied() {
			return i
		}
	}
	return -1
}
