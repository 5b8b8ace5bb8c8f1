// Package server exposes the move feed, snapshot, and scanner status to the
// polling dashboard. It only ever reads the store; the scanner is the sole
// writer.
package server

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rewired-gh/polyterminal/internal/logger"
	"github.com/rewired-gh/polyterminal/internal/models"
	"github.com/rewired-gh/polyterminal/internal/storage"
)

// CycleTrigger lets the dashboard request an out-of-band scan cycle.
type CycleTrigger interface {
	RunCycle(ctx context.Context) error
	Scanning() bool
}

// Config tunes the HTTP server.
type Config struct {
	Addr            string
	HistoryWindow   time.Duration
	RefreshInterval time.Duration
}

// Server is the dashboard HTTP server.
type Server struct {
	echo    *echo.Echo
	store   *storage.Storage
	trigger CycleTrigger
	addr    string
	window  time.Duration
	refresh time.Duration
}

// New creates the server and registers all routes. trigger may be nil.
func New(store *storage.Storage, trigger CycleTrigger, cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		store:   store,
		trigger: trigger,
		addr:    cfg.Addr,
		window:  cfg.HistoryWindow,
		refresh: cfg.RefreshInterval,
	}

	e.GET("/", s.index)
	e.GET("/healthz", s.healthz)
	e.GET("/data/status", s.status)
	e.GET("/data/moves", s.moves)
	e.GET("/data/events", s.events)
	e.POST("/fetch", s.fetch)

	return s
}

// Start runs the server until Shutdown is called.
func (s *Server) Start() error {
	logger.Info("Dashboard listening on %s", s.addr)
	return s.echo.Start(s.addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type statusResponse struct {
	Status       string               `json:"status"`
	LastUpdate   *time.Time           `json:"last_update,omitempty"`
	AgeSeconds   *float64             `json:"age_seconds,omitempty"`
	Error        string               `json:"error,omitempty"`
	SoundTrigger *models.SoundTrigger `json:"sound_trigger,omitempty"`
}

// status reports the scanner state. Three cases are distinguishable for
// the dashboard: no data yet, stale data with an upstream error reason,
// and fresh data.
func (s *Server) status(c echo.Context) error {
	st, err := s.store.GetStatus()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if st == nil {
		return c.JSON(http.StatusOK, statusResponse{Status: "waiting for data"})
	}

	resp := statusResponse{
		Status:       st.State,
		Error:        st.Err,
		SoundTrigger: st.SoundTrigger,
	}
	if !st.LastScan.IsZero() {
		last := st.LastScan
		age := time.Since(last).Seconds()
		resp.LastUpdate = &last
		resp.AgeSeconds = &age
	}
	return c.JSON(http.StatusOK, resp)
}

// moves returns the retained move history, newest batch first and ranked
// within each batch by max move then volume. window_seconds narrows the
// window; it can never widen it past the configured retention.
func (s *Server) moves(c echo.Context) error {
	window := s.window
	if p := c.QueryParam("window_seconds"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "window_seconds must be a positive integer")
		}
		if d := time.Duration(n) * time.Second; d < window {
			window = d
		}
	}

	moves, err := s.store.RecentMoves(window)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	models.SortMoves(moves)
	return c.JSON(http.StatusOK, moves)
}

type eventView struct {
	ID      string          `json:"id"`
	Title   string          `json:"title"`
	Link    string          `json:"link"`
	Volume  float64         `json:"volume"`
	Markets []models.Market `json:"markets"`
}

type eventsResponse struct {
	TakenAt *time.Time  `json:"taken_at,omitempty"`
	Events  []eventView `json:"events"`
}

// events returns the live snapshot grouped by parent event, largest events
// first.
func (s *Server) events(c echo.Context) error {
	snap, err := s.store.LoadSnapshot()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if snap == nil {
		return c.JSON(http.StatusOK, eventsResponse{Events: []eventView{}})
	}

	byEvent := make(map[string]*eventView)
	for _, m := range snap.Markets {
		ev, ok := byEvent[m.EventID]
		if !ok {
			ev = &eventView{
				ID:     m.EventID,
				Title:  m.EventTitle,
				Link:   m.EventURL,
				Volume: m.EventVolume,
			}
			byEvent[m.EventID] = ev
		}
		ev.Markets = append(ev.Markets, m)
	}

	events := make([]eventView, 0, len(byEvent))
	for _, ev := range byEvent {
		sort.Slice(ev.Markets, func(i, j int) bool {
			return ev.Markets[i].Volume > ev.Markets[j].Volume
		})
		events = append(events, *ev)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].Volume > events[j].Volume
	})

	takenAt := snap.TakenAt
	return c.JSON(http.StatusOK, eventsResponse{TakenAt: &takenAt, Events: events})
}

// fetch kicks off a scan cycle outside the regular schedule.
func (s *Server) fetch(c echo.Context) error {
	if s.trigger == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "scanner not running")
	}
	if s.trigger.Scanning() {
		return c.JSON(http.StatusConflict, map[string]string{"status": "scan already in progress"})
	}
	go func() {
		if err := s.trigger.RunCycle(context.Background()); err != nil {
			logger.Warn("Manual scan cycle failed: %v", err)
		}
	}()
	return c.JSON(http.StatusAccepted, map[string]string{"status": "fetch initiated"})
}

func (s *Server) healthz(c echo.Context) error {
	resp := map[string]any{"status": "ok"}
	if s.trigger != nil {
		resp["scanning"] = s.trigger.Scanning()
	}
	return c.JSON(http.StatusOK, resp)
}

// index serves a minimal terminal page that polls the data endpoints.
func (s *Server) index(c echo.Context) error {
	page := `<!DOCTYPE html>
<html>
<head>
<title>Polymarket Terminal</title>
<meta http-equiv="refresh" content="` + strconv.Itoa(int(s.refresh.Seconds())) + `">
<style>body{background:#000;color:#0f0;font-family:monospace;padding:20px}</style>
</head>
<body>
<h1>Polymarket Terminal</h1>
<p>Data endpoints: <a href="/data/status">status</a> · <a href="/data/moves">moves</a> · <a href="/data/events">events</a></p>
</body>
</html>`
	return c.HTML(http.StatusOK, page)
}
