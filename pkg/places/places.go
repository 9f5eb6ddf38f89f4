// Package places wraps the external points-of-interest service. The
// gateway fetches nearby places for a coordinate pair and enforces one
// local policy: a result collection larger than the requested bound is
// truncated to its first entries and re-serialized; smaller documents
// pass through byte for byte.
package places

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"herdtrack/internal/telemetry"
	"herdtrack/pkg/wire"
)

// ErrLookup marks a recoverable collaborator failure (network or parse);
// the session treats it as no data for that one query.
var ErrLookup = errors.New("places: lookup failed")

const DefaultBaseURL = "https://maps.googleapis.com/maps/api/place/nearbysearch/json"

// Gateway is a call-through to the HTTP places API.
type Gateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewGateway(baseURL, apiKey string) *Gateway {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Gateway{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Nearby fetches places around the fused coordinate token, radius in
// km, returning at most bound results as a JSON document.
func (g *Gateway) Nearby(coordinates string, radiusKM, bound int) (string, error) {
	lat, lon, err := wire.SplitCoordinates(coordinates)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLookup, err)
	}

	q := url.Values{}
	q.Set("location", lat+","+lon)
	q.Set("radius", fmt.Sprintf("%d", radiusKM))
	q.Set("key", g.apiKey)

	resp, err := g.client.Get(g.baseURL + "?" + q.Encode())
	if err != nil {
		telemetry.PlacesLookupsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: %v", ErrLookup, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		telemetry.PlacesLookupsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: %v", ErrLookup, err)
	}
	if resp.StatusCode != http.StatusOK {
		telemetry.PlacesLookupsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: status %s", ErrLookup, resp.Status)
	}

	doc, err := Truncate(string(body), bound)
	if err != nil {
		telemetry.PlacesLookupsTotal.WithLabelValues("error").Inc()
		return "", err
	}
	telemetry.PlacesLookupsTotal.WithLabelValues("ok").Inc()
	return doc, nil
}

// Truncate caps the "results" array of a places document at bound
// entries. Documents already within the bound are returned unchanged;
// truncated ones are re-serialized indented with sorted keys.
func Truncate(doc string, bound int) (string, error) {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrLookup, err)
	}
	results, ok := parsed["results"].([]any)
	if !ok || len(results) <= bound {
		return doc, nil
	}
	parsed["results"] = results[:bound]
	out, err := json.MarshalIndent(parsed, "", "    ")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLookup, err)
	}
	return string(out), nil
}
