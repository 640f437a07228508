package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/akatsuki/bancho/internal/model"
	"github.com/akatsuki/bancho/internal/privileges"
)

// response is the Ripple-compatible JSON v1 envelope, grounded on
// original_source/src/api/v1/ripple.rs's ResponseBase.
type response struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Result  interface{} `json:"result,omitempty"`
}

func ok(result interface{}) response {
	return response{Status: http.StatusOK, Message: "ok", Result: result}
}

func (s *Server) handleIsOnline(c *gin.Context) {
	userID, err := parseUserID(c, "id")
	if err != nil {
		c.JSON(http.StatusOK, response{Status: http.StatusOK, Message: "must provide id", Result: false})
		return
	}

	online, err := s.sessions.IsOnline(c.Request.Context(), userID)
	if err != nil {
		s.log.LogError(c.Request.Context(), err, "is_online lookup failed", "user_id", userID)
		c.JSON(http.StatusInternalServerError, response{Status: http.StatusInternalServerError, Message: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, ok(online))
}

func (s *Server) handleOnlineUsers(c *gin.Context) {
	count, err := s.sessions.Count(c.Request.Context())
	if err != nil {
		s.log.LogError(c.Request.Context(), err, "online_users count failed")
		c.JSON(http.StatusInternalServerError, response{Status: http.StatusInternalServerError, Message: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, ok(count))
}

func (s *Server) handleServerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, ok(1))
}

func (s *Server) handleVerifiedStatus(c *gin.Context) {
	userID, err := parseUserID(c, "user_id")
	if err != nil {
		c.JSON(http.StatusOK, response{Status: http.StatusOK, Message: "must provide user_id", Result: false})
		return
	}

	user, err := s.users.FetchByID(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusOK, response{Status: http.StatusOK, Message: "user not found", Result: false})
		return
	}

	verified := !privileges.Privileges(user.Privileges).Has(privileges.PendingVerification)
	c.JSON(http.StatusOK, ok(verified))
}

type matchDetailsResult struct {
	MatchID   int64  `json:"match_id"`
	MatchName string `json:"match_name"`
	GameID    int64  `json:"game_id"`
	SlotID    int    `json:"slot_id"`
	Team      uint8  `json:"team"`
}

// handlePlayerMatchDetails always answers HTTP 200 no matter the outcome —
// score-service only ever reads the message field to tell success from
// failure, per original_source/src/api/v1/ripple.rs's comment on this route.
func (s *Server) handlePlayerMatchDetails(c *gin.Context) {
	ctx := c.Request.Context()

	userID, err := parseUserID(c, "user_id")
	if err != nil {
		c.JSON(http.StatusOK, response{Status: http.StatusOK, Message: "must provide user_id"})
		return
	}

	sessions, err := s.sessions.ByUser(ctx, userID)
	if err != nil {
		s.log.LogError(ctx, err, "player_match_details session lookup failed", "user_id", userID)
		c.JSON(http.StatusOK, response{Status: http.StatusOK, Message: "online user (token) not found"})
		return
	}
	var primary *model.Session
	for i := range sessions {
		if sessions[i].Primary {
			primary = &sessions[i]
			break
		}
	}
	if primary == nil {
		c.JSON(http.StatusOK, response{Status: http.StatusOK, Message: "online user (token) not found"})
		return
	}

	matchID, inMatch, err := s.matches.SessionMatchID(ctx, primary.SessionID)
	if err != nil {
		s.log.LogError(ctx, err, "player_match_details match lookup failed", "user_id", userID)
		c.JSON(http.StatusOK, response{Status: http.StatusOK, Message: "match not found"})
		return
	}
	if !inMatch {
		c.JSON(http.StatusOK, response{Status: http.StatusOK, Message: "match not found"})
		return
	}

	match, err := s.matches.Fetch(ctx, matchID)
	if err != nil {
		c.JSON(http.StatusOK, response{Status: http.StatusOK, Message: "match not found"})
		return
	}
	slots, err := s.matches.FetchSlots(ctx, matchID)
	if err != nil {
		c.JSON(http.StatusOK, response{Status: http.StatusOK, Message: "match not found"})
		return
	}

	for slotID, slot := range slots {
		if slot.Occupied() && *slot.UserID == userID {
			c.JSON(http.StatusOK, ok(matchDetailsResult{
				MatchID:   match.MatchID,
				MatchName: match.Name,
				GameID:    match.LastGameID,
				SlotID:    slotID,
				Team:      slot.Team,
			}))
			return
		}
	}
	c.JSON(http.StatusOK, response{Status: http.StatusOK, Message: "match not found"})
}
