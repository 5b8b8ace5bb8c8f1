package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rewired-gh/polyterminal/internal/models"
	"github.com/rewired-gh/polyterminal/internal/storage"
)

type fakeTrigger struct {
	scanning atomic.Bool
	cycles   atomic.Int32
}

func (f *fakeTrigger) RunCycle(ctx context.Context) error {
	f.cycles.Add(1)
	return nil
}

func (f *fakeTrigger) Scanning() bool {
	return f.scanning.Load()
}

func newTestServer(t *testing.T, trigger CycleTrigger) (*Server, *storage.Storage) {
	t.Helper()
	store, err := storage.New(":memory:", 5*time.Minute, 500)
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	srv := New(store, trigger, Config{
		Addr:            ":0",
		HistoryWindow:   5 * time.Minute,
		RefreshInterval: 5 * time.Second,
	})
	return srv, store
}

func doRequest(srv *Server, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func seedCycle(t *testing.T, store *storage.Storage, at time.Time, moves []models.Move) {
	t.Helper()
	snap := models.NewSnapshot(at)
	snap.Markets["m1"] = models.Market{
		ID: "m1", Question: "Will A?", EventID: "ev1", EventTitle: "Event One",
		EventURL: "https://polymarket.com/event/event-one?tid=ev1",
		Yes:      52.5, No: 47.5, Volume: 100, EventVolume: 800,
	}
	snap.Markets["m2"] = models.Market{
		ID: "m2", Question: "Will B?", EventID: "ev1", EventTitle: "Event One",
		EventURL: "https://polymarket.com/event/event-one?tid=ev1",
		Yes:      10, No: 90, Volume: 700, EventVolume: 800,
	}
	snap.Markets["m3"] = models.Market{
		ID: "m3", Question: "Will C?", EventID: "ev2", EventTitle: "Event Two",
		EventURL: "https://polymarket.com/event/event-two?tid=ev2",
		Yes:      60, No: 40, Volume: 5000, EventVolume: 5000,
	}
	status := models.Status{
		State:        "updated 3 markets",
		LastScan:     at,
		SoundTrigger: models.SoundTriggerFor(12.5),
	}
	if err := store.SaveCycle(snap, moves, status); err != nil {
		t.Fatalf("SaveCycle: %v", err)
	}
}

func TestStatus_WaitingForData(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doRequest(srv, http.MethodGet, "/data/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "waiting for data" {
		t.Errorf("status = %q, want waiting for data", resp.Status)
	}
	if resp.LastUpdate != nil || resp.AgeSeconds != nil {
		t.Errorf("empty store reported timestamps: %+v", resp)
	}
}

func TestStatus_AfterCycle(t *testing.T) {
	srv, store := newTestServer(t, nil)
	at := time.Now().Add(-3 * time.Second)
	seedCycle(t, store, at, nil)

	rec := doRequest(srv, http.MethodGet, "/data/status")
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "updated 3 markets" {
		t.Errorf("status = %q", resp.Status)
	}
	if resp.LastUpdate == nil || resp.AgeSeconds == nil {
		t.Fatal("missing last_update/age_seconds after a cycle")
	}
	if *resp.AgeSeconds < 2.5 {
		t.Errorf("age_seconds = %v, want at least ~3", *resp.AgeSeconds)
	}
	if resp.SoundTrigger == nil || resp.SoundTrigger.Level != models.SoundHigh {
		t.Errorf("sound trigger = %+v, want high", resp.SoundTrigger)
	}
}

func TestMoves_EmptyIsJSONArray(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doRequest(srv, http.MethodGet, "/data/moves")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var moves []models.Move
	if err := json.Unmarshal(rec.Body.Bytes(), &moves); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if moves == nil || len(moves) != 0 {
		t.Errorf("empty history should serialize as [], got %s", rec.Body.String())
	}
}

func TestMoves_SortedAndWindowed(t *testing.T) {
	srv, store := newTestServer(t, nil)
	now := time.Now()
	old := now.Add(-2 * time.Minute)

	mv := func(id string, at time.Time, maxMove, volume float64) models.Move {
		return models.Move{
			ID: id, MarketID: "mk-" + id, Time: at,
			Yes: 50, No: 50, YesDelta: maxMove, NoDelta: -maxMove,
			YesDir: models.DirectionUp, NoDir: models.DirectionDown,
			MaxMove: maxMove, Volume: volume,
		}
	}
	seedCycle(t, store, now, []models.Move{
		mv("a", now, 3.0, 100),
		mv("b", now, 3.0, 500),
		mv("c", now, 1.5, 900),
		mv("d", old, 9.0, 50),
	})

	rec := doRequest(srv, http.MethodGet, "/data/moves")
	var moves []models.Move
	if err := json.Unmarshal(rec.Body.Bytes(), &moves); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(moves) != 4 {
		t.Fatalf("got %d moves, want 4", len(moves))
	}
	// Newest batch first; within the batch, magnitude then volume.
	gotOrder := []string{moves[0].ID, moves[1].ID, moves[2].ID, moves[3].ID}
	wantOrder := []string{"b", "a", "c", "d"}
	for i := range wantOrder {
		if gotOrder[i] != wantOrder[i] {
			t.Fatalf("order = %v, want %v", gotOrder, wantOrder)
		}
	}

	// A narrower window drops the old batch.
	rec = doRequest(srv, http.MethodGet, "/data/moves?window_seconds=60")
	moves = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &moves); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(moves) != 3 {
		t.Errorf("windowed query returned %d moves, want 3", len(moves))
	}

	// window_seconds cannot widen past the configured retention: the result
	// set is the same as the unclamped query.
	rec = doRequest(srv, http.MethodGet, "/data/moves?window_seconds=999999")
	moves = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &moves); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(moves) != 4 {
		t.Errorf("oversized window returned %d moves, want 4", len(moves))
	}
}

func TestMoves_RejectsBadWindow(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	for _, q := range []string{"window_seconds=abc", "window_seconds=-5", "window_seconds=0"} {
		rec := doRequest(srv, http.MethodGet, "/data/moves?"+q)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status code = %d, want 400", q, rec.Code)
		}
	}
}

func TestEvents_GroupsAndSorts(t *testing.T) {
	srv, store := newTestServer(t, nil)
	seedCycle(t, store, time.Now(), nil)

	rec := doRequest(srv, http.MethodGet, "/data/events")
	var resp eventsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.TakenAt == nil {
		t.Error("taken_at missing")
	}
	if len(resp.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(resp.Events))
	}
	// Largest event volume first.
	if resp.Events[0].ID != "ev2" || resp.Events[1].ID != "ev1" {
		t.Errorf("event order = [%s %s], want [ev2 ev1]", resp.Events[0].ID, resp.Events[1].ID)
	}
	ev1 := resp.Events[1]
	if len(ev1.Markets) != 2 {
		t.Fatalf("ev1 has %d markets, want 2", len(ev1.Markets))
	}
	// Markets within an event sorted by volume desc.
	if ev1.Markets[0].ID != "m2" || ev1.Markets[1].ID != "m1" {
		t.Errorf("ev1 market order = [%s %s], want [m2 m1]", ev1.Markets[0].ID, ev1.Markets[1].ID)
	}
	if ev1.Link == "" || ev1.Title != "Event One" {
		t.Errorf("ev1 metadata = %+v", ev1)
	}
}

func TestEvents_EmptySnapshot(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doRequest(srv, http.MethodGet, "/data/events")
	var resp eventsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.TakenAt != nil {
		t.Error("empty store reported a snapshot timestamp")
	}
	if resp.Events == nil || len(resp.Events) != 0 {
		t.Errorf("empty snapshot should serialize as [], got %s", rec.Body.String())
	}
}

func TestFetch(t *testing.T) {
	trigger := &fakeTrigger{}
	srv, _ := newTestServer(t, trigger)

	rec := doRequest(srv, http.MethodPost, "/fetch")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status code = %d, want 202", rec.Code)
	}

	// The cycle runs asynchronously.
	deadline := time.Now().Add(time.Second)
	for trigger.cycles.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if trigger.cycles.Load() != 1 {
		t.Errorf("cycles = %d, want 1", trigger.cycles.Load())
	}
}

func TestFetch_ConflictWhileScanning(t *testing.T) {
	trigger := &fakeTrigger{}
	trigger.scanning.Store(true)
	srv, _ := newTestServer(t, trigger)

	rec := doRequest(srv, http.MethodPost, "/fetch")
	if rec.Code != http.StatusConflict {
		t.Errorf("status code = %d, want 409", rec.Code)
	}
	if trigger.cycles.Load() != 0 {
		t.Errorf("cycle triggered despite conflict")
	}
}

func TestFetch_NoScanner(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doRequest(srv, http.MethodPost, "/fetch")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want 503", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	trigger := &fakeTrigger{}
	srv, _ := newTestServer(t, trigger)

	rec := doRequest(srv, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %v", resp["status"])
	}
	if scanning, ok := resp["scanning"].(bool); !ok || scanning {
		t.Errorf("scanning = %v, want false", resp["scanning"])
	}
}
