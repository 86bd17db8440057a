// Package geo resolves coordinates to street addresses. Lookups are
// best-effort: any failure degrades to the raw coordinates so the
// reservation flow never depends on the geocoder being up.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// geocode:{lat}:{lng} -> address
	keyGeocode = "geocode:%.5f:%.5f"
	cacheTTL   = 7 * 24 * time.Hour
)

type Geocoder struct {
	baseURL string
	http    *http.Client
	cache   *redis.Client // optional
}

func NewGeocoder(baseURL string, cache *redis.Client) *Geocoder {
	return &Geocoder{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
		cache:   cache,
	}
}

// Lookup returns a display address for the coordinates, falling back
// to "lat, lng" formatting when the geocoder is unconfigured, down, or
// returns nothing useful.
func (g *Geocoder) Lookup(ctx context.Context, lat, lng float64) string {
	fallback := fmt.Sprintf("%.5f, %.5f", lat, lng)
	if g == nil || g.baseURL == "" {
		return fallback
	}

	key := fmt.Sprintf(keyGeocode, lat, lng)
	if g.cache != nil {
		if addr, err := g.cache.Get(ctx, key).Result(); err == nil && addr != "" {
			return addr
		}
	}

	addr, err := g.fetch(ctx, lat, lng)
	if err != nil || addr == "" {
		return fallback
	}

	if g.cache != nil {
		_ = g.cache.Set(ctx, key, addr, cacheTTL).Err()
	}
	return addr
}

func (g *Geocoder) fetch(ctx context.Context, lat, lng float64) (string, error) {
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%f", lat))
	q.Set("lon", fmt.Sprintf("%f", lng))
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geocoder status %d", resp.StatusCode)
	}

	var body struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.DisplayName, nil
}
