package httpapi

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/akatsuki/bancho/internal/bancherr"
)

// parseUserID reads a required integer query parameter, the same
// convention every /api/v1 route in original_source/src/api/v1/ripple.rs
// uses for user_id/id.
func parseUserID(c *gin.Context, param string) (int64, error) {
	raw := c.Query(param)
	if raw == "" {
		return 0, bancherr.New(bancherr.DecodingFailed, "missing "+param)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, bancherr.New(bancherr.DecodingFailed, "invalid "+param)
	}
	return id, nil
}
