// Package login implements the multi-step login pipeline BanchoHandler
// runs before a session exists: credential verification, hardware
// fingerprint logging, multi-account detection, session + presence
// creation, and the full welcome packet. Grounded on
// original_source/src/usecases/sessions.rs::create,
// src/usecases/multiaccounts.rs::perform_checks, and the login scenario
// spec.md §8 walks end-to-end.
package login

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/akatsuki/bancho/internal/bancherr"
	"github.com/akatsuki/bancho/internal/channel"
	"github.com/akatsuki/bancho/internal/geo"
	"github.com/akatsuki/bancho/internal/leaderboard"
	"github.com/akatsuki/bancho/internal/logger"
	"github.com/akatsuki/bancho/internal/model"
	"github.com/akatsuki/bancho/internal/panel"
	"github.com/akatsuki/bancho/internal/presence"
	"github.com/akatsuki/bancho/internal/privileges"
	"github.com/akatsuki/bancho/internal/protocol"
	"github.com/akatsuki/bancho/internal/session"
	"github.com/akatsuki/bancho/internal/store/pg"
	"github.com/akatsuki/bancho/internal/streambus"
	"github.com/akatsuki/bancho/internal/webhook"
)

// ClientHashes is the client's reported hardware fingerprint, parsed from
// the login request body's pipe-delimited hash block.
type ClientHashes struct {
	OsuPathMD5       string
	AdaptersMD5      string
	UninstallMD5     string
	DiskSignatureMD5 string
}

// Args is everything the osu! client sends with a login attempt.
type Args struct {
	Username    string
	Password    string
	OsuVersion  string
	UTCOffset   int8
	DisplayCity bool
	Hashes      ClientHashes
	PrivateDMs  bool
	IPAddress   string
}

// Result bundles the freshly created session, its initial presence, and
// the fully assembled welcome packet bytes the HTTP handler writes back
// with the cho-token header.
type Result struct {
	Session  model.Session
	Presence model.Presence
	Welcome  []byte
}

// safeUsername lowercases and underscores a username the same way session
// registry keys do, since usernames are looked up by their safe form.
func safeUsername(username string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(username)), " ", "_")
}

// defaultChannels is step 11's unconditional join set; role channels are
// appended based on the logging-in user's privileges.
var defaultChannels = []string{"#osu", "#announce"}

// Pipeline is LoginPipeline.
type Pipeline struct {
	users     *pg.UserStore
	stats     *pg.StatsStore
	hardware  *pg.HardwareStore
	channelDB *pg.ChannelStore
	messages  *pg.MessageStore
	friends   *pg.RelationshipStore
	sessions  *session.Registry
	presences *presence.Store
	channels  *channel.Manager
	streams   *streambus.Bus
	board     *leaderboard.Board
	geo       *geo.Client
	discord   *webhook.Notifier
	log       *logger.Logger

	versionFloor    string
	botUserID       int64
	protocolVersion int32
	welcomeMessage  string
	maintenanceMode bool
}

// SetMaintenanceMode toggles step 4's maintenance gate. Exposed as a
// setter rather than baked into New so a future admin channel could flip
// it without reconstructing the pipeline; today it is only ever set once,
// from config.Config.MaintenanceMode, at startup.
func (p *Pipeline) SetMaintenanceMode(enabled bool) {
	p.maintenanceMode = enabled
}

// New constructs a Pipeline.
func New(
	users *pg.UserStore,
	stats *pg.StatsStore,
	hardware *pg.HardwareStore,
	channelDB *pg.ChannelStore,
	messages *pg.MessageStore,
	friends *pg.RelationshipStore,
	sessions *session.Registry,
	presences *presence.Store,
	channels *channel.Manager,
	streams *streambus.Bus,
	board *leaderboard.Board,
	geoClient *geo.Client,
	discord *webhook.Notifier,
	log *logger.Logger,
	versionFloor string,
	botUserID int64,
) *Pipeline {
	return &Pipeline{
		users: users, stats: stats, hardware: hardware, channelDB: channelDB,
		messages: messages, friends: friends, sessions: sessions,
		presences: presences, channels: channels, streams: streams, board: board,
		geo: geoClient, discord: discord, log: log,
		versionFloor: versionFloor, botUserID: botUserID,
		protocolVersion: 19,
		welcomeMessage:  "Welcome to Akatsuki!",
	}
}

// isOutdated rejects client versions older than the configured floor by a
// lexical compare, matching the "bYYYYMMDD" version strings osu! sends.
func (p *Pipeline) isOutdated(osuVersion string) bool {
	if p.versionFloor == "" {
		return false
	}
	return osuVersion < p.versionFloor
}

// Login runs the full create() flow: validates the client version,
// verifies credentials, gates on CanLogin, records the hardware
// fingerprint, runs multi-account detection, creates the session and its
// initial presence, joins the subscriptions and channels a logged-in
// session always holds, and assembles the welcome packet.
func (p *Pipeline) Login(ctx context.Context, args Args) (Result, error) {
	if p.isOutdated(args.OsuVersion) {
		return Result{}, bancherr.New(bancherr.ClientTooOld, "client version below floor")
	}

	user, err := p.users.FetchByUsername(ctx, safeUsername(args.Username))
	if err != nil {
		return Result{}, err
	}
	if user.ID == p.botUserID {
		return Result{}, bancherr.New(bancherr.SessionInvalidCredentials, "cannot log in as the bot account")
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordMD5), []byte(args.Password)) != nil {
		return Result{}, bancherr.New(bancherr.SessionInvalidCredentials, "password mismatch")
	}

	privs := privileges.Privileges(user.Privileges)
	if p.maintenanceMode && !privs.IsAdmin() {
		return Result{}, bancherr.New(bancherr.MaintenanceMode, "server is in maintenance mode")
	}
	if !privs.CanLogin() {
		return Result{}, bancherr.New(bancherr.SessionLoginForbidden, "account cannot log in")
	}

	pendingVerification := privs.Has(privileges.PendingVerification)

	if err := p.hardware.Create(ctx, user.ID, pendingVerification,
		args.Hashes.AdaptersMD5, args.Hashes.UninstallMD5, args.Hashes.DiskSignatureMD5); err != nil {
		return Result{}, err
	}

	if err := p.checkMultiaccounts(ctx, user, pendingVerification, args.Hashes); err != nil {
		return Result{}, err
	}

	if pendingVerification {
		cleared := int32(privs &^ privileges.Privileges(privileges.PendingVerification))
		if err := p.users.RemovePendingVerification(ctx, user.ID, cleared); err != nil {
			return Result{}, err
		}
		privs = privileges.Privileges(cleared)
	}

	stdStats, err := p.stats.FetchOne(ctx, user.ID, 0)
	if err != nil {
		return Result{}, err
	}
	rank, err := p.board.GlobalRank(ctx, user.ID, 0)
	if err != nil {
		return Result{}, err
	}

	loc := p.geo.Lookup(ctx, args.IPAddress, user.Country, args.DisplayCity)

	alreadyOnline, err := p.sessions.IsOnline(ctx, user.ID)
	if err != nil {
		return Result{}, err
	}

	sess, err := p.sessions.Create(ctx, model.CreateSessionArgs{
		UserID:     user.ID,
		Username:   user.Username,
		Privileges: int32(privs),
		IPAddress:  args.IPAddress,
		UTCOffset:  args.UTCOffset,
		PrivateDMs: args.PrivateDMs,
		SilenceEnd: time.Unix(user.SilenceEnd, 0),
		Primary:    !alreadyOnline,
	})
	if err != nil {
		return Result{}, err
	}

	pres := model.Presence{
		UserID:     user.ID,
		Action:     model.ActionIdle,
		BeatmapMD5: "",
		Mode:       0,
		Stats: model.Stats{
			RankedScore: uint64(stdStats.RankedScore),
			TotalScore:  uint64(stdStats.TotalScore),
			Accuracy:    float64(stdStats.Accuracy),
			Playcount:   uint32(stdStats.Playcount),
			Performance: uint32(stdStats.Performance),
			GlobalRank:  uint32(rank),
		},
		Location: loc,
	}
	if err := p.presences.Create(ctx, pres); err != nil {
		return Result{}, err
	}

	if err := p.joinStreamsAndChannels(ctx, sess, privs, pres); err != nil {
		return Result{}, err
	}

	welcome, err := p.buildWelcomePacket(ctx, user, sess, pres, privs)
	if err != nil {
		return Result{}, err
	}

	p.log.Info("user logged in", "user_id", user.ID, "username", user.Username, "primary", sess.Primary)
	return Result{Session: sess, Presence: pres, Welcome: welcome}, nil
}

// joinStreamsAndChannels runs steps 10-11: subscribe the session to its own
// stream and "main", broadcast the new user's panel on main if they are
// publicly visible, then join #osu/#announce plus whichever role channels
// the user's privileges unlock.
func (p *Pipeline) joinStreamsAndChannels(ctx context.Context, sess model.Session, privs privileges.Privileges, pres model.Presence) error {
	if err := p.streams.Subscribe(ctx, sess.SessionID, model.StreamUser(sess.SessionID)); err != nil {
		return err
	}
	if err := p.streams.Subscribe(ctx, sess.SessionID, model.StreamMain()); err != nil {
		return err
	}

	if privs.IsPubliclyVisible() {
		enc := protocol.NewEncoder()
		enc.WriteUserPresence(panel.Presence(sess.UserID, sess.Username, sess.UTCOffset, pres.Location.CountryCode, privs.WireView(), pres.Mode, pres.Location, int32(pres.Stats.GlobalRank)))
		if _, err := p.streams.Publish(ctx, model.StreamMain(), enc.Bytes(), model.Envelope{ExcludedSessionIDs: []uuid.UUID{sess.SessionID}}); err != nil {
			return err
		}
	}

	names := append([]string{}, defaultChannels...)
	if privs.IsDonor() {
		names = append(names, "#plus")
	}
	if privs.IsStaff() {
		names = append(names, "#staff")
	}
	if privs.IsDeveloper() {
		names = append(names, "#devlog")
	}

	for _, name := range names {
		if err := p.channels.Join(ctx, sess, name); err != nil {
			if be, ok := bancherr.As(err); ok && be.Kind == bancherr.ChannelsUnauthorized {
				continue
			}
			return err
		}
	}
	return nil
}

// buildWelcomePacket runs step 12, assembling every frame spec.md §8
// scenario 1 expects, in the exact order original_source/src/events/login.rs
// concatenates them: login result, protocol version, own privileges, the
// channel-info-end marker (sent ahead of the per-channel listing, a quirk
// the original preserves and so do we), the welcome alert, friends list, own
// and the bot's panel, an optional silence notice, every catalog channel's
// info the session may read, the presence bundle of every other online
// user, and any queued unread private messages (marked read once embedded).
func (p *Pipeline) buildWelcomePacket(ctx context.Context, user pg.User, sess model.Session, pres model.Presence, privs privileges.Privileges) ([]byte, error) {
	enc := protocol.NewEncoder()
	enc.WriteLoginResult(int32(user.ID))
	enc.WriteProtocolVersion(p.protocolVersion)
	enc.WriteUserPrivileges(int32(privs.WireView()))
	enc.WriteChannelInfoEnd()
	enc.WriteAlert(p.welcomeMessage)

	friendIDs, err := p.friends.FetchFriends(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	wireFriends := make([]int32, len(friendIDs))
	for i, id := range friendIDs {
		wireFriends[i] = int32(id)
	}
	enc.WriteFriendsList(wireFriends)

	enc.WriteUserPresence(panel.Presence(user.ID, user.Username, sess.UTCOffset, user.Country, privs.WireView(), pres.Mode, pres.Location, int32(pres.Stats.GlobalRank)))
	enc.WriteUserStats(panel.Stats(user.ID, pres))
	enc.WriteUserPresence(panel.BotPresence())
	enc.WriteUserStats(panel.BotStats())

	if sess.IsSilenced() {
		enc.WriteSilenceEnd(int32(sess.SilenceSecondsLeft()))
	}

	catalog, err := p.channelDB.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, ch := range catalog {
		if int32(privs)&ch.ReadPrivileges == 0 {
			continue
		}
		count, err := p.channels.MemberCount(ctx, ch.Name)
		if err != nil {
			return nil, err
		}
		enc.WriteChannelInfo(ch.Name, ch.Description, int16(count))
	}

	everyone, err := p.presences.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	userIDs := make([]int32, 0, len(everyone))
	for _, other := range everyone {
		userIDs = append(userIDs, int32(other.UserID))
	}
	enc.WriteUserPresenceBundle(userIDs)

	unread, err := p.messages.FetchUnread(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	for _, m := range unread {
		sender, err := p.users.FetchByID(ctx, m.FromID)
		if err != nil {
			continue
		}
		enc.WriteChatMessage(sender.Username, m.Text, m.Target, int32(m.FromID))
	}
	if len(unread) > 0 {
		if err := p.messages.MarkAllRead(ctx, user.ID); err != nil {
			return nil, err
		}
	}

	return enc.Bytes(), nil
}

// checkMultiaccounts mirrors usecases::multiaccounts::perform_checks: a
// pending-verification account sharing hardware with anyone else is
// outright rejected (and banned in spirit — ban/restrict wiring lives in
// the admin moderation surface AdminPubSub's "ban" channel reaches, so this
// records the webhook alert it would trigger); an already-verified account
// sharing hardware only generates a notification.
func (p *Pipeline) checkMultiaccounts(ctx context.Context, user pg.User, pendingVerification bool, hashes ClientHashes) error {
	matches, err := p.hardware.FetchForeignMatching(ctx, user.ID,
		hashes.AdaptersMD5, hashes.UninstallMD5, hashes.DiskSignatureMD5)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return nil
	}

	shared, err := p.hardware.IsSharedDevice(ctx, hashes.AdaptersMD5, hashes.UninstallMD5, hashes.DiskSignatureMD5)
	if err != nil {
		return err
	}
	if shared {
		return nil
	}

	if pendingVerification {
		_ = p.discord.WarnRed(ctx, "multi-account on unverified login",
			fmt.Sprintf("user %d shares hardware with %d other account(s)", user.ID, len(matches)))
		return bancherr.New(bancherr.SessionLoginForbidden, "hardware matches an existing account")
	}

	for _, m := range matches {
		if m.Activated {
			_ = p.discord.WarnPurple(ctx, "hardware match",
				fmt.Sprintf("%d logged in from %d's hardware (%s)", user.ID, m.UserID, m.Username))
		} else {
			_ = p.discord.WarnBlue(ctx, "possible multi-account",
				fmt.Sprintf("%d logged in with %d's hardware %s times", user.ID, m.UserID, strconv.FormatInt(m.Occurencies, 10)))
		}
	}
	return nil
}
