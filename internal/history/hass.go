package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rangecompare/internal/series"
)

// HassClient fetches entity history from the Home Assistant REST API
type HassClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHassClient creates a new Home Assistant REST client.
// baseURL is the instance root, e.g. http://homeassistant.local:8123
func NewHassClient(baseURL, token string, timeout time.Duration) *HassClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HassClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *HassClient) Name() string { return "homeassistant" }

// hassState is one state change; with minimal_response only the first entry
// carries entity_id and attributes
type hassState struct {
	EntityID    string `json:"entity_id,omitempty"`
	State       string `json:"state"`
	LastChanged string `json:"last_changed"`
	LastUpdated string `json:"last_updated,omitempty"`
}

// Fetch returns the state history of entityID between from and to
func (c *HassClient) Fetch(ctx context.Context, entityID string, from, to time.Time) ([]series.RawSample, error) {
	q := url.Values{}
	q.Set("filter_entity_id", entityID)
	q.Set("end_time", to.UTC().Format(time.RFC3339))
	q.Set("minimal_response", "")
	q.Set("no_attributes", "")

	// GET /api/history/period/{start}
	endpoint := fmt.Sprintf("%s/api/history/period/%s?%s",
		c.baseURL, url.PathEscape(from.UTC().Format(time.RFC3339)), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("homeassistant request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("homeassistant returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var groups [][]hassState
	if err := json.NewDecoder(resp.Body).Decode(&groups); err != nil {
		return nil, fmt.Errorf("failed to decode homeassistant response: %w", err)
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, entityID)
	}

	states := groups[0]
	samples := make([]series.RawSample, 0, len(states))
	for _, st := range states {
		stamp := st.LastChanged
		if stamp == "" {
			stamp = st.LastUpdated
		}
		ts, err := time.Parse(time.RFC3339Nano, stamp)
		if err != nil {
			// a row without a usable timestamp cannot be placed on the axis
			continue
		}
		samples = append(samples, series.RawSample{
			Timestamp: ts,
			Value:     series.ParseValue(st.State),
		})
	}

	sortSamples(samples)
	return samples, nil
}
