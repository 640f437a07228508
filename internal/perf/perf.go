// Package perf is a thin adapter over an external performance-points
// computation service, grounded on internal/geo's HTTP-client-stub shape
// and SPEC_FULL.md §4.11. Unlike beatmaps.Lookup, Estimate never returns an
// error: per spec.md §5, a disabled client or a failed/timed-out request
// yields a textual placeholder embedded exactly where a real pp value
// would have gone, rather than aborting whatever displayed it.
package perf

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/akatsuki/bancho/internal/logger"
)

// Client estimates performance points against PERFORMANCE_SERVICE_BASE_URL.
type Client struct {
	httpClient *http.Client
	baseURL    string
	log        *logger.Logger
}

// New constructs a Client. A blank baseURL makes every Estimate return its
// textual placeholder without dialing anything.
func New(baseURL string, log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 3 * time.Second},
		baseURL:    baseURL,
		log:        log,
	}
}

type estimateResponse struct {
	PP float64 `json:"pp"`
}

// Estimate computes a pp value for one beatmap/mods/accuracy combination,
// formatted to two decimal places. On any failure it returns a short
// human-readable string instead of an error.
func (c *Client) Estimate(ctx context.Context, beatmapMD5 string, mods uint32, accuracy float64) string {
	if c.baseURL == "" {
		return "performance service not configured"
	}

	q := url.Values{}
	q.Set("md5", beatmapMD5)
	q.Set("mods", fmt.Sprintf("%d", mods))
	q.Set("accuracy", fmt.Sprintf("%.4f", accuracy))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/v1/pp?%s", c.baseURL, q.Encode()), nil)
	if err != nil {
		return "performance service unavailable"
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("performance estimate failed", "md5", beatmapMD5, "error", err)
		return "performance service unavailable"
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "performance service unavailable"
	}

	var parsed estimateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		c.log.Warn("performance estimate decode failed", "md5", beatmapMD5, "error", err)
		return "performance service unavailable"
	}
	return fmt.Sprintf("%.2fpp", parsed.PP)
}
