package history

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"rangecompare/internal/series"
)

// HassSocket fetches entity history over the Home Assistant websocket API
// using the history/history_during_period command. Each fetch uses its own
// connection so concurrent fetches never share a message stream.
type HassSocket struct {
	wsURL  string
	token  string
	dialer *websocket.Dialer
}

// NewHassSocket creates a websocket history source for the instance at baseURL
func NewHassSocket(baseURL, token string, timeout time.Duration) (*HassSocket, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse homeassistant url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported homeassistant url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/websocket"

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HassSocket{
		wsURL: u.String(),
		token: token,
		dialer: &websocket.Dialer{
			HandshakeTimeout: timeout,
		},
	}, nil
}

func (s *HassSocket) Name() string { return "homeassistant_ws" }

type wsMessage struct {
	ID      int                          `json:"id,omitempty"`
	Type    string                       `json:"type"`
	Message string                       `json:"message,omitempty"`
	Success bool                         `json:"success,omitempty"`
	Result  map[string][]compressedState `json:"result,omitempty"`
	Error   *wsError                     `json:"error,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// compressedState is the minimal_response row shape: s = state, lu = last updated (unix seconds)
type compressedState struct {
	State       string  `json:"s"`
	LastUpdated float64 `json:"lu"`
}

type historyCommand struct {
	ID              int      `json:"id"`
	Type            string   `json:"type"`
	StartTime       string   `json:"start_time"`
	EndTime         string   `json:"end_time"`
	EntityIDs       []string `json:"entity_ids"`
	MinimalResponse bool     `json:"minimal_response"`
	NoAttributes    bool     `json:"no_attributes"`
}

// Fetch authenticates, issues one history command and decodes its result
func (s *HassSocket) Fetch(ctx context.Context, entityID string, from, to time.Time) ([]series.RawSample, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("homeassistant websocket dial: %w", err)
	}
	defer conn.Close()

	// unblock reads when the caller gives up
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}

	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return nil, s.wrap(ctx, "read auth_required", err)
	}
	if msg.Type != "auth_required" {
		return nil, fmt.Errorf("homeassistant websocket: unexpected greeting %q", msg.Type)
	}

	if err := conn.WriteJSON(map[string]string{"type": "auth", "access_token": s.token}); err != nil {
		return nil, s.wrap(ctx, "send auth", err)
	}
	msg = wsMessage{}
	if err := conn.ReadJSON(&msg); err != nil {
		return nil, s.wrap(ctx, "read auth result", err)
	}
	if msg.Type != "auth_ok" {
		return nil, fmt.Errorf("homeassistant websocket auth failed: %s %s", msg.Type, msg.Message)
	}

	cmd := historyCommand{
		ID:              1,
		Type:            "history/history_during_period",
		StartTime:       from.UTC().Format(time.RFC3339),
		EndTime:         to.UTC().Format(time.RFC3339),
		EntityIDs:       []string{entityID},
		MinimalResponse: true,
		NoAttributes:    true,
	}
	if err := conn.WriteJSON(cmd); err != nil {
		return nil, s.wrap(ctx, "send history command", err)
	}

	for {
		msg = wsMessage{}
		if err := conn.ReadJSON(&msg); err != nil {
			return nil, s.wrap(ctx, "read history result", err)
		}
		if msg.Type != "result" || msg.ID != cmd.ID {
			continue
		}
		if !msg.Success {
			if msg.Error != nil {
				return nil, fmt.Errorf("homeassistant history error %s: %s", msg.Error.Code, msg.Error.Message)
			}
			return nil, fmt.Errorf("homeassistant history command failed")
		}
		rows, ok := msg.Result[entityID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, entityID)
		}
		return decodeCompressed(rows), nil
	}
}

func (s *HassSocket) wrap(ctx context.Context, step string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("homeassistant websocket %s: %w", step, ctx.Err())
	}
	return fmt.Errorf("homeassistant websocket %s: %w", step, err)
}

func decodeCompressed(rows []compressedState) []series.RawSample {
	samples := make([]series.RawSample, 0, len(rows))
	for _, r := range rows {
		sec, frac := math.Modf(r.LastUpdated)
		samples = append(samples, series.RawSample{
			Timestamp: time.Unix(int64(sec), int64(frac*1e9)),
			Value:     series.ParseValue(r.State),
		})
	}
	sortSamples(samples)
	return samples
}
