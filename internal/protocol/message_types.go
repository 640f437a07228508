package protocol

// Client event types — the left-hand side of EventDispatcher's routing
// table (spec.md §4.6). Numbering is internal to this module; the wire
// only needs internal self-consistency, not compatibility with any other
// process, per spec.md §6 ("detailed encodings ... not re-specified here").
const (
	ClientChangeAction uint16 = iota + 1
	ClientLogout
	ClientRequestStatusUpdate
	ClientPing
	ClientJoinChannel
	ClientLeaveChannel
	ClientChatMessage
	ClientChatMessagePrivate
	ClientUserStatsRequest
	ClientRequestPresences
	ClientStartSpectating
	ClientStopSpectating
	ClientSpectateFrames
	ClientCantSpectate
	ClientAddFriend
	ClientRemoveFriend
	ClientToggleBlockNonFriendDMs
	ClientSetAwayMessage
	ClientReceiveUpdates
	ClientCreateMatch
	ClientJoinMatch
	ClientLeaveMatch
	ClientMatchChangeSlot
	ClientMatchChangeTeam
	ClientMatchChangeMods
	ClientMatchLockSlot
	ClientMatchReady
	ClientMatchNotReady
	ClientMatchStart
	ClientMatchLoaded
	ClientMatchSkipRequest
	ClientMatchFailed
	ClientMatchTransferHost
	ClientMatchChangeHost
	ClientUpdateMatchScore
	ClientMatchInvite
)

// Server message types — one per Encoder.Write<Name> method, except that
// WriteMatchInvite emits a ServerChatMessage frame, so ServerMatchInvite is
// never written.
const (
	ServerLoginResult uint16 = iota + 1
	ServerProtocolVersion
	ServerUserPrivileges
	ServerChannelInfoEnd
	ServerAlert
	ServerFriendsList
	ServerUserPresence
	ServerUserStats
	ServerUserPresenceBundle
	ServerUserLogout
	ServerChannelInfo
	ServerChannelKick
	ServerChatMessage
	ServerSilenceEnd
	ServerUserSilenced
	ServerSpectatorJoined
	ServerFellowSpectatorJoined
	ServerSpectatorLeft
	ServerFellowSpectatorLeft
	ServerCantSpectate
	ServerMatchJoinSuccess
	ServerMatchJoinFail
	ServerMatchUpdate
	ServerMatchStart
	ServerMatchScoreUpdate
	ServerMatchTransferHost
	ServerMatchComplete
	ServerMatchSkip
	ServerMatchPlayerFailed
	ServerMatchAllPlayersLoaded
	ServerMatchPlayerSkipped
	ServerMatchInvite
	ServerSpectateFrames
)
