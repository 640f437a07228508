// Package geo resolves a login IP address to an approximate location,
// grounded on original_source/src/adapters/ip_api.rs (the ip-api.com JSON
// endpoint) and src/models/location.rs's privacy displacement. A loopback
// address is looked up with an empty IP, i.e. as the server's own public
// address. Any request failure falls back to the user's stored country
// with a zeroed, un-displaced position.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/akatsuki/bancho/internal/logger"
	"github.com/akatsuki/bancho/internal/model"
)

// Client resolves IP addresses against an ip-api.com-compatible endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	log        *logger.Logger
}

// New constructs a Client. baseURL defaults to the public ip-api.com
// endpoint when empty.
func New(baseURL string, log *logger.Logger) *Client {
	if baseURL == "" {
		baseURL = "http://ip-api.com"
	}
	return &Client{
		httpClient: &http.Client{Timeout: 3 * time.Second},
		baseURL:    baseURL,
		log:        log,
	}
}

type ipLocation struct {
	CountryCode string  `json:"countryCode"`
	Latitude    float32 `json:"lat"`
	Longitude   float32 `json:"lon"`
}

// Lookup resolves ipAddress to a Location, falling back to fallbackCountry
// with a zero position on any failure, and displacing the coordinates
// randomly for privacy unless showExact is set.
func (c *Client) Lookup(ctx context.Context, ipAddress, fallbackCountry string, showExact bool) model.Location {
	loc := model.Location{CountryCode: fallbackCountry}

	ip := net.ParseIP(ipAddress)
	target := ipAddress
	if ip != nil && ip.IsLoopback() {
		target = ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/json/%s?fields=countryCode,lat,lon", c.baseURL, target), nil)
	if err != nil {
		return c.displace(loc, showExact)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("geo lookup failed", "ip", ipAddress, "error", err)
		return c.displace(loc, showExact)
	}
	defer resp.Body.Close()

	var result ipLocation
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.log.Warn("geo lookup decode failed", "ip", ipAddress, "error", err)
		return c.displace(loc, showExact)
	}

	if result.CountryCode != "" {
		loc.CountryCode = result.CountryCode
	}
	loc.Latitude = result.Latitude
	loc.Longitude = result.Longitude
	return c.displace(loc, showExact)
}

// displace jitters a position by up to maxOffsetKM kilometers, 1km when
// the client opted into showing its exact location, 20km otherwise.
func (c *Client) displace(loc model.Location, showExact bool) model.Location {
	maxOffsetKM := 20.0
	if showExact {
		maxOffsetKM = 1.0
	}
	if loc.Latitude == 0 && loc.Longitude == 0 {
		return loc
	}

	offsetKM := rand.Float64() * maxOffsetKM
	bearing := rand.Float64() * 2 * math.Pi

	const earthRadiusKM = 6371.0
	latRad := float64(loc.Latitude) * math.Pi / 180
	lonRad := float64(loc.Longitude) * math.Pi / 180
	angularDist := offsetKM / earthRadiusKM

	newLat := math.Asin(math.Sin(latRad)*math.Cos(angularDist) +
		math.Cos(latRad)*math.Sin(angularDist)*math.Cos(bearing))
	newLon := lonRad + math.Atan2(
		math.Sin(bearing)*math.Sin(angularDist)*math.Cos(latRad),
		math.Cos(angularDist)-math.Sin(latRad)*math.Sin(newLat))

	loc.Latitude, loc.Longitude = clampLatLon(newLat*180/math.Pi, newLon*180/math.Pi)
	return loc
}

// clampLatLon wraps a displaced position back into valid range rather than
// saturating at the poles/antimeridian, per spec.md §9: a bearing that
// pushes latitude past 90 reflects back down over the pole (and rotates
// longitude by half a turn to land on the far side), while longitude wraps
// modulo 360 into (-180, 180].
func clampLatLon(lat, lon float64) (float32, float32) {
	lat = math.Mod(lat+90, 360)
	if lat < 0 {
		lat += 360
	}
	lat -= 90
	if lat > 90 {
		lat = 180 - lat
		lon += 180
	} else if lat < -90 {
		lat = -180 - lat
		lon += 180
	}

	lon = math.Mod(lon+180, 360)
	if lon <= 0 {
		lon += 360
	}
	lon -= 180

	return float32(lat), float32(lon)
}
