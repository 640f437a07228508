// Package privileges implements the 32-bit privilege bitset and the
// derived "wire privileges" view sent to the client, grounded on
// original_source/src/models/privileges.rs.
package privileges

// Privileges is the server-side permission bitset.
type Privileges int32

const (
	None                   Privileges = 0
	PubliclyVisible        Privileges = 1 << 0
	CanLogin               Privileges = 1 << 1
	Donator                Privileges = 1 << 2
	AdminAccessPanel       Privileges = 1 << 3
	AdminManageUsers       Privileges = 1 << 4
	AdminManageBans        Privileges = 1 << 5
	AdminSilenceUsers      Privileges = 1 << 6
	AdminWipeUsers         Privileges = 1 << 7
	AdminManageBeatmaps    Privileges = 1 << 8
	AdminManageServers     Privileges = 1 << 9
	AdminManageSettings    Privileges = 1 << 10
	AdminManageBetakeys    Privileges = 1 << 11
	AdminManageReports     Privileges = 1 << 12
	AdminManageDocs        Privileges = 1 << 13
	AdminManageBadges      Privileges = 1 << 14
	AdminViewAuditLogs     Privileges = 1 << 15
	AdminManagePrivileges  Privileges = 1 << 16
	AdminSendAlerts        Privileges = 1 << 17
	AdminChatMod           Privileges = 1 << 18
	AdminKickUsers         Privileges = 1 << 19
	PendingVerification    Privileges = 1 << 20
	AdminTournamentStaff   Privileges = 1 << 21
	AdminCaker             Privileges = 1 << 22
	AkatsukiPlus           Privileges = 1 << 23
	AdminFreezeUsers       Privileges = 1 << 24
	AdminManageNominators  Privileges = 1 << 25
)

func (p Privileges) Has(bit Privileges) bool { return p&bit == bit }

func (p Privileges) IsPubliclyVisible() bool { return p.Has(PubliclyVisible) }

func (p Privileges) IsDonor() bool { return p&(Donator|AkatsukiPlus) != 0 }

func (p Privileges) IsStaff() bool { return p.Has(AdminChatMod) }

func (p Privileges) IsAdmin() bool { return p.Has(AdminCaker) }

func (p Privileges) IsDeveloper() bool { return p.Has(AdminManagePrivileges) }

func (p Privileges) IsTournamentStaff() bool { return p.Has(AdminTournamentStaff) }

func (p Privileges) CanLogin() bool { return p.Has(CanLogin) }

// WirePrivileges is the client-facing permission bitset sent in
// UserPrivileges/UserPresence frames.
type WirePrivileges int32

const (
	WireNone           WirePrivileges = 0
	WirePlayer         WirePrivileges = 1 << 0
	WireSupporter      WirePrivileges = 1 << 2
	WireModerator      WirePrivileges = 1 << 3
	WireDeveloper      WirePrivileges = 1 << 5
	WireTournamentStaff WirePrivileges = 1 << 6
	WireLeader         WirePrivileges = 1 << 4
)

// WireView derives the client-facing privilege bitset, mirroring
// Privileges::to_bancho verbatim: Player if publicly visible, Supporter if
// donor, Moderator if staff, Leader if admin else Developer if developer,
// TournamentStaff if tournament staff.
func (p Privileges) WireView() WirePrivileges {
	var w WirePrivileges
	if p.IsPubliclyVisible() {
		w |= WirePlayer
	}
	if p.IsDonor() {
		w |= WireSupporter
	}
	if p.IsStaff() {
		w |= WireModerator
	}
	if p.IsAdmin() {
		w |= WireLeader
	} else if p.IsDeveloper() {
		w |= WireDeveloper
	}
	if p.IsTournamentStaff() {
		w |= WireTournamentStaff
	}
	return w
}
