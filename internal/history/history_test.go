package history

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"rangecompare/internal/series"
)

var (
	day     = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	nextDay = day.Add(24 * time.Hour)
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	cache, err := NewCache(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestHassClientFetch(t *testing.T) {
	var gotPath, gotAuth, gotEntity, gotEnd string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotEntity = r.URL.Query().Get("filter_entity_id")
		gotEnd = r.URL.Query().Get("end_time")
		w.Write([]byte(`[[
			{"entity_id": "sensor.energy", "state": "10", "last_changed": "2024-01-15T00:02:00+00:00"},
			{"state": "unavailable", "last_changed": "2024-01-15T00:01:00+00:00"},
			{"state": "12.5", "last_changed": "2024-01-15T00:00:00.500+00:00"}
		]]`))
	}))
	defer srv.Close()

	client := NewHassClient(srv.URL+"/", "secret", time.Second)
	samples, err := client.Fetch(context.Background(), "sensor.energy", day, nextDay)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	if gotPath != "/api/history/period/2024-01-15T00:00:00Z" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("unexpected auth header %q", gotAuth)
	}
	if gotEntity != "sensor.energy" {
		t.Errorf("unexpected entity filter %q", gotEntity)
	}
	if gotEnd != "2024-01-16T00:00:00Z" {
		t.Errorf("unexpected end_time %q", gotEnd)
	}

	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}
	// sorted chronologically
	if samples[0].Value != 12.5 {
		t.Errorf("expected first value 12.5, got %f", samples[0].Value)
	}
	if !math.IsNaN(samples[1].Value) {
		t.Errorf("expected unavailable state to parse as NaN, got %f", samples[1].Value)
	}
	if samples[2].Value != 10 {
		t.Errorf("expected last value 10, got %f", samples[2].Value)
	}
}

func TestHassClientErrors(t *testing.T) {
	status := http.StatusUnauthorized
	body := `{"message": "unauthorized"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	client := NewHassClient(srv.URL, "bad", time.Second)
	if _, err := client.Fetch(context.Background(), "sensor.energy", day, nextDay); err == nil {
		t.Fatal("expected error for 401")
	}

	status, body = http.StatusOK, `[]`
	_, err := client.Fetch(context.Background(), "sensor.missing", day, nextDay)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// fakeHass speaks just enough of the Home Assistant websocket protocol
func fakeHass(t *testing.T, token string, result map[string]interface{}) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/websocket" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteJSON(map[string]string{"type": "auth_required", "ha_version": "2024.1.0"})

		var auth map[string]string
		if err := conn.ReadJSON(&auth); err != nil {
			return
		}
		if auth["access_token"] != token {
			conn.WriteJSON(map[string]string{"type": "auth_invalid", "message": "Invalid access token"})
			return
		}
		conn.WriteJSON(map[string]string{"type": "auth_ok"})

		var cmd historyCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		if cmd.Type != "history/history_during_period" || !cmd.MinimalResponse {
			conn.WriteJSON(map[string]interface{}{"id": cmd.ID, "type": "result", "success": false,
				"error": map[string]string{"code": "unknown_command", "message": "unexpected"}})
			return
		}
		// an unrelated event first
		conn.WriteJSON(map[string]interface{}{"id": 99, "type": "event"})
		conn.WriteJSON(map[string]interface{}{"id": cmd.ID, "type": "result", "success": true, "result": result})
	}))
}

func TestHassSocketFetch(t *testing.T) {
	srv := fakeHass(t, "secret", map[string]interface{}{
		"sensor.energy": []map[string]interface{}{
			{"s": "3.5", "lu": 1705276800.0},
			{"s": "4.0", "lu": 1705276860.25},
			{"s": "unknown", "lu": 1705276920.0},
		},
	})
	defer srv.Close()

	src, err := NewHassSocket(srv.URL, "secret", time.Second)
	if err != nil {
		t.Fatalf("new socket source: %v", err)
	}
	if !strings.HasPrefix(src.wsURL, "ws://") || !strings.HasSuffix(src.wsURL, "/api/websocket") {
		t.Errorf("unexpected websocket url %q", src.wsURL)
	}

	samples, err := src.Fetch(context.Background(), "sensor.energy", day, nextDay)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}
	if !samples[0].Timestamp.Equal(day) {
		t.Errorf("expected first timestamp %v, got %v", day, samples[0].Timestamp)
	}
	if got := samples[1].Timestamp.Sub(day); got != time.Minute+250*time.Millisecond {
		t.Errorf("expected fractional seconds preserved, got offset %v", got)
	}
	if !math.IsNaN(samples[2].Value) {
		t.Errorf("expected NaN for unknown state, got %f", samples[2].Value)
	}
}

func TestHassSocketAuthAndMissingEntity(t *testing.T) {
	srv := fakeHass(t, "secret", map[string]interface{}{})
	defer srv.Close()

	bad, _ := NewHassSocket(srv.URL, "wrong", time.Second)
	if _, err := bad.Fetch(context.Background(), "sensor.energy", day, nextDay); err == nil {
		t.Error("expected auth failure")
	}

	good, _ := NewHassSocket(srv.URL, "secret", time.Second)
	_, err := good.Fetch(context.Background(), "sensor.energy", day, nextDay)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if _, err := NewHassSocket("ftp://example", "x", 0); err == nil {
		t.Error("expected unsupported scheme error")
	}
}

func TestInfluxQuery(t *testing.T) {
	src := NewInfluxSource(InfluxConfig{URL: "http://localhost:8086", Bucket: "home_assistant", Measurement: "kWh"})
	defer src.Close()

	q := src.buildQuery("sensor.kitchen_energy", day, nextDay)
	for _, want := range []string{
		`from(bucket: "home_assistant")`,
		`range(start: 2024-01-15T00:00:00Z, stop: 2024-01-16T00:00:00Z)`,
		`r._measurement == "kWh"`,
		`r.entity_id == "kitchen_energy" and r._field == "value"`,
		`sort(columns: ["_time"])`,
	} {
		if !strings.Contains(q, want) {
			t.Errorf("query missing %q:\n%s", want, q)
		}
	}

	if toFloat(int64(3)) != 3 || toFloat("2.5") != 2.5 || !math.IsNaN(toFloat(true)) {
		t.Error("unexpected toFloat conversions")
	}
}

func TestCache(t *testing.T) {
	cache := newTestCache(t)

	samples := []series.RawSample{
		{Timestamp: day, Value: 1},
		{Timestamp: day.Add(time.Minute), Value: math.NaN()},
		{Timestamp: day.Add(2 * time.Minute), Value: 3},
	}

	if err := cache.Put("sensor.energy", day, nextDay, samples); err != nil {
		t.Fatalf("failed to put range: %v", err)
	}

	got, err := cache.Get("sensor.energy", day, nextDay)
	if err != nil {
		t.Fatalf("failed to get range: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 finite samples cached, got %d", len(got))
	}
	if !got[1].Timestamp.Equal(day.Add(2*time.Minute)) || got[1].Value != 3 {
		t.Errorf("unexpected cached sample %+v", got[1])
	}

	count, err := cache.CachedRangeCount("sensor.energy")
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected count=1, got %d", count)
	}

	miss, err := cache.Get("sensor.energy", day, day.Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if miss != nil {
		t.Error("expected nil for uncached range")
	}

	removed, err := cache.Prune(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 pruned range, got %d", removed)
	}
}

func TestCachedSource(t *testing.T) {
	cache := newTestCache(t)
	mock := &MockSource{Samples: []series.RawSample{{Timestamp: day, Value: 5}}}

	cs := NewCachedSource(mock, cache, 10*time.Minute)
	cs.now = func() time.Time { return nextDay.Add(time.Hour) }

	for i := 0; i < 2; i++ {
		got, err := cs.Fetch(context.Background(), "sensor.energy", day, nextDay)
		if err != nil {
			t.Fatalf("fetch %d failed: %v", i, err)
		}
		if len(got) != 1 || got[0].Value != 5 {
			t.Fatalf("fetch %d: unexpected samples %+v", i, got)
		}
	}
	if n := len(mock.Calls()); n != 1 {
		t.Errorf("expected closed range to be fetched once, got %d calls", n)
	}

	// a range ending in the future is never cached
	live := nextDay.Add(2 * time.Hour)
	for i := 0; i < 2; i++ {
		if _, err := cs.Fetch(context.Background(), "sensor.energy", nextDay, live); err != nil {
			t.Fatalf("live fetch failed: %v", err)
		}
	}
	if n := len(mock.Calls()); n != 3 {
		t.Errorf("expected live range to hit the source each time, got %d calls", n)
	}

	mock.Err = errors.New("boom")
	if _, err := cs.Fetch(context.Background(), "sensor.energy", nextDay, live); err == nil {
		t.Error("expected source error to propagate")
	}
}

func TestMockSourceHook(t *testing.T) {
	mock := &MockSource{Hook: func(ctx context.Context, call Call) ([]series.RawSample, error) {
		return []series.RawSample{{Timestamp: call.From, Value: 1}}, nil
	}}
	got, err := mock.Fetch(context.Background(), "sensor.x", day, nextDay)
	if err != nil || len(got) != 1 || !got[0].Timestamp.Equal(day) {
		t.Fatalf("unexpected hook result %+v, %v", got, err)
	}
	b, _ := json.Marshal(mock.Calls())
	if !strings.Contains(string(b), "sensor.x") {
		t.Errorf("expected call to be recorded, got %s", b)
	}
}

func TestSyntheticSource(t *testing.T) {
	src := NewSyntheticSource()
	from := day.Add(2 * time.Minute)
	to := day.Add(time.Hour)

	samples, err := src.Fetch(context.Background(), "sensor.any", from, to)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	// aligned to the 5 minute grid, first sample at 00:05, last at 00:55
	if len(samples) != 11 {
		t.Fatalf("expected 11 samples, got %d", len(samples))
	}
	if !samples[0].Timestamp.Equal(day.Add(5 * time.Minute)) {
		t.Errorf("first sample at %v", samples[0].Timestamp)
	}
	for i := 1; i < len(samples); i++ {
		if samples[i].Value <= samples[i-1].Value {
			t.Errorf("energy must increase, sample %d: %v <= %v", i, samples[i].Value, samples[i-1].Value)
		}
	}

	again, _ := src.Fetch(context.Background(), "sensor.any", from, to)
	if again[3] != samples[3] {
		t.Errorf("expected deterministic output, got %v and %v", again[3], samples[3])
	}

	empty, err := src.Fetch(context.Background(), "sensor.any", to, from)
	if err != nil || len(empty) != 0 {
		t.Errorf("expected empty result for inverted range, got %d, %v", len(empty), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Fetch(ctx, "sensor.any", from, to); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
