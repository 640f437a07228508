// Package beatmaps is a thin adapter over an external beatmap metadata
// service, grounded on internal/geo's HTTP-client-stub shape and
// SPEC_FULL.md §4.11. An empty base URL disables lookups outright, the
// same convention internal/webhook uses for a disabled Discord notifier.
package beatmaps

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/akatsuki/bancho/internal/bancherr"
	"github.com/akatsuki/bancho/internal/logger"
)

// Info is the subset of beatmap metadata this server ever surfaces
// (match/lobby listings and the JSON v1 API), not a full beatmap record.
type Info struct {
	BeatmapID int32  `json:"beatmap_id"`
	SetID     int32  `json:"beatmapset_id"`
	MD5       string `json:"md5"`
	Artist    string `json:"artist"`
	Title     string `json:"title"`
	Version   string `json:"version"`
}

// Client resolves beatmap md5s against BEATMAPS_SERVICE_BASE_URL.
type Client struct {
	httpClient *http.Client
	baseURL    string
	log        *logger.Logger
}

// New constructs a Client. A blank baseURL makes every Lookup fail with
// beatmaps-not-found rather than dialing anything.
func New(baseURL string, log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 3 * time.Second},
		baseURL:    baseURL,
		log:        log,
	}
}

// Lookup fetches metadata for one beatmap by its file md5. Per spec.md §5,
// a disabled client, a timeout, or a non-200 response all surface as the
// same beatmaps-not-found kind rather than a raw transport error.
func (c *Client) Lookup(ctx context.Context, md5 string) (Info, error) {
	if c.baseURL == "" {
		return Info{}, bancherr.New(bancherr.BeatmapsNotFound, "beatmap service not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/v2/beatmaps/%s", c.baseURL, md5), nil)
	if err != nil {
		return Info{}, bancherr.New(bancherr.BeatmapsNotFound, "beatmap lookup failed")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("beatmap lookup failed", "md5", md5, "error", err)
		return Info{}, bancherr.New(bancherr.BeatmapsNotFound, "beatmap lookup failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Info{}, bancherr.New(bancherr.BeatmapsNotFound, "beatmap not found")
	}

	var info Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		c.log.Warn("beatmap lookup decode failed", "md5", md5, "error", err)
		return Info{}, bancherr.New(bancherr.BeatmapsNotFound, "beatmap lookup failed")
	}
	return info, nil
}
