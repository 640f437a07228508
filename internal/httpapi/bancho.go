package httpapi

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/akatsuki/bancho/internal/bancherr"
	"github.com/akatsuki/bancho/internal/login"
	"github.com/akatsuki/bancho/internal/protocol"
	"github.com/akatsuki/bancho/internal/reqctx"
)

const choTokenHeader = "cho-token"
const osuTokenHeader = "osu-token"

// handleBanchoRequest is POST /, spec.md §6: a request with no osu-token
// header is a login blob, routed through LoginPipeline; any other request
// is a framed event batch for an existing session, routed through
// EventDispatcher.
func (s *Server) handleBanchoRequest(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	if len(body) > maxBodyBytes {
		c.Status(http.StatusRequestEntityTooLarge)
		return
	}

	if c.GetHeader(osuTokenHeader) == "" {
		s.handleLogin(c, body)
		return
	}
	s.handleEventBatch(c, body)
}

func (s *Server) handleEventBatch(c *gin.Context, body []byte) {
	ctx := c.Request.Context()

	sessionID, err := uuid.Parse(c.GetHeader(osuTokenHeader))
	if err != nil {
		c.Header(choTokenHeader, "no")
		c.Status(http.StatusOK)
		return
	}

	sess, err := s.sessions.Lookup(ctx, sessionID)
	if err != nil {
		s.log.LogError(ctx, err, "session lookup failed")
		c.Status(http.StatusInternalServerError)
		return
	}
	if sess == nil {
		c.Header(choTokenHeader, "no")
		c.Status(http.StatusOK)
		return
	}

	extended, err := s.sessions.Extend(ctx, *sess)
	if err != nil {
		s.log.LogError(ctx, err, "session extend failed")
		c.Status(http.StatusInternalServerError)
		return
	}

	reply, err := s.dispatcher.Handle(ctx, extended, reqctx.ResolveIP(c.Request), body)
	if err != nil {
		s.log.LogError(ctx, err, "dispatch failed", "session_id", extended.SessionID)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header(choTokenHeader, extended.SessionID.String())
	c.Data(http.StatusOK, "application/octet-stream", reply)
}

func (s *Server) handleLogin(c *gin.Context, body []byte) {
	ctx := c.Request.Context()

	args, err := parseLoginBody(body, reqctx.ResolveIP(c.Request))
	if err != nil {
		c.Header(choTokenHeader, "no")
		enc := protocol.NewEncoder()
		enc.WriteLoginResult(loginErrorCode(bancherr.DecodingFailed))
		enc.WriteAlert("malformed login request")
		c.Data(http.StatusOK, "application/octet-stream", enc.Bytes())
		return
	}

	result, err := s.pipeline.Login(ctx, args)
	if err != nil {
		be, ok := bancherr.As(err)
		if !ok {
			s.log.LogError(ctx, err, "unexpected login error")
			be = bancherr.Wrap(bancherr.Unexpected, "an unexpected error occurred", err)
		}
		enc := protocol.NewEncoder()
		enc.WriteLoginResult(loginErrorCode(be.Kind))
		enc.WriteAlert(be.Message)
		c.Header(choTokenHeader, "no")
		c.Data(http.StatusOK, "application/octet-stream", enc.Bytes())
		return
	}

	c.Header(choTokenHeader, result.Session.SessionID.String())
	c.Data(http.StatusOK, "application/octet-stream", result.Welcome)
}

// loginErrorCode maps a bancherr.Kind to the legacy negative LoginResult
// codes the osu! client expects, grounded on
// original_source/src/events/login.rs's login_error function.
// SessionLimitReached shares OldVersion's code there too — a placeholder
// the original leaves unresolved, carried over unchanged (SPEC_FULL.md §9).
func loginErrorCode(kind bancherr.Kind) int32 {
	switch kind {
	case bancherr.ClientTooOld, bancherr.SessionLimitReached:
		return -1
	case bancherr.SessionInvalidCredentials, bancherr.DecodingFailed:
		return -2
	case bancherr.SessionLoginForbidden, bancherr.MaintenanceMode:
		return -3
	default:
		return -5
	}
}

// parseLoginBody splits the three-line login blob spec.md §6 defines:
// identifier, secret, and a pipe-delimited info line whose fourth field is
// itself five colon-separated hash fields.
func parseLoginBody(body []byte, ip string) (login.Args, error) {
	lines := strings.SplitN(string(body), "\n", 3)
	if len(lines) < 3 {
		return login.Args{}, bancherr.New(bancherr.DecodingFailed, "malformed login request")
	}

	username := lines[0]
	password := lines[1]
	infoLine := strings.TrimRight(lines[2], "\r\n")

	fields := strings.Split(infoLine, "|")
	if len(fields) < 5 {
		return login.Args{}, bancherr.New(bancherr.DecodingFailed, "malformed login request")
	}

	utcOffset, err := strconv.Atoi(fields[1])
	if err != nil {
		return login.Args{}, bancherr.New(bancherr.DecodingFailed, "malformed utc offset")
	}

	hashes := strings.Split(fields[3], ":")
	if len(hashes) < 5 {
		return login.Args{}, bancherr.New(bancherr.DecodingFailed, "malformed client hashes")
	}

	return login.Args{
		Username:    username,
		Password:    password,
		OsuVersion:  fields[0],
		UTCOffset:   int8(utcOffset),
		DisplayCity: fields[2] == "1",
		Hashes: login.ClientHashes{
			OsuPathMD5:       hashes[0],
			AdaptersMD5:      hashes[2],
			UninstallMD5:     hashes[3],
			DiskSignatureMD5: hashes[4],
		},
		PrivateDMs: fields[4] == "1",
		IPAddress:  ip,
	}, nil
}
