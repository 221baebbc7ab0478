package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"rangecompare/internal/chart"
	"rangecompare/internal/compare"
	"rangecompare/internal/metrics"
)

// Options configures a Server
type Options struct {
	Title       string
	UnitLabel   string
	Theme       chart.Theme
	CORSOrigins []string // empty allows all
	TokenHash   string   // bcrypt hash; empty leaves mutating routes open
	RateLimit   int      // mutating requests per minute per client; zero disables
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer // served on /metrics when set
}

type Server struct {
	coord       *compare.Coordinator
	hub         *Hub
	rateLimiter *RateLimiter
	upgrader    websocket.Upgrader
	opts        Options
	tokenHash   []byte
	unsubscribe func()
}

func NewServer(coord *compare.Coordinator, opts Options) *Server {
	s := &Server{
		coord:       coord,
		hub:         NewHub(),
		rateLimiter: NewRateLimiter(opts.RateLimit, time.Minute),
		opts:        opts,
	}
	if opts.TokenHash != "" {
		s.tokenHash = []byte(opts.TokenHash)
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return s.checkCORSOrigin(r.Header.Get("Origin"))
		},
	}
	s.unsubscribe = coord.Subscribe(s.broadcastState)
	return s
}

// checkCORSOrigin checks if an origin is allowed
func (s *Server) checkCORSOrigin(origin string) bool {
	if len(s.opts.CORSOrigins) == 0 || origin == "" {
		return true
	}
	for _, allowed := range s.opts.CORSOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if s.opts.Metrics != nil {
		r.Use(s.countRequests)
	}
	allowedOrigins := s.opts.CORSOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.getState)
		r.Get("/slots", s.getSlots)
		r.Get("/chart", s.getChart)
		r.Get("/tooltip", s.getTooltip)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimiter.Middleware)
			r.Use(s.requireToken)
			r.Put("/ranges/{slot}", s.putRange)
			r.Post("/ranges/{slot}/refresh", s.refreshRange)
		})
	})

	r.Get("/ws", s.handleWebSocket)

	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.opts.Metrics.HTTPRequests.WithLabelValues(strconv.Itoa(status), r.Method).Inc()
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("write response")
	}
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.State())
}

type SlotsResponse struct {
	Entity string             `json:"entity"`
	Slots  []compare.SlotView `json:"slots"`
}

func (s *Server) getSlots(w http.ResponseWriter, r *http.Request) {
	views := s.coord.Slots()
	writeJSON(w, http.StatusOK, SlotsResponse{Entity: s.coord.EntityID(), Slots: views[:]})
}

// theme resolves the ?theme= query parameter, defaulting to the configured theme
func (s *Server) theme(r *http.Request) (chart.Theme, error) {
	v := r.URL.Query().Get("theme")
	if v == "" {
		if s.opts.Theme == "" {
			return chart.Dark, nil
		}
		return s.opts.Theme, nil
	}
	return chart.ParseTheme(v)
}

func (s *Server) getChart(w http.ResponseWriter, r *http.Request) {
	theme, err := s.theme(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, chart.Build(s.coord.State(), theme, s.opts.Title, s.opts.UnitLabel))
}

func (s *Server) getTooltip(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.URL.Query().Get("index"))
	if err != nil {
		http.Error(w, "index must be an integer", http.StatusBadRequest)
		return
	}
	theme, err := s.theme(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	tip := chart.TooltipAt(s.coord.State(), index, s.opts.UnitLabel, chart.PaletteFor(theme))
	writeJSON(w, http.StatusOK, tip)
}

// RangeRequest carries a selection; either bound may be omitted
type RangeRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type RangeResponse struct {
	Slot   string `json:"slot"`
	Issued bool   `json:"issued"`
}

func parseBound(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

func (s *Server) putRange(w http.ResponseWriter, r *http.Request) {
	slot, err := compare.ParseSlot(chi.URLParam(r, "slot"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	var req RangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	start, err := parseBound(req.Start)
	if err != nil {
		http.Error(w, "start must be RFC3339", http.StatusBadRequest)
		return
	}
	end, err := parseBound(req.End)
	if err != nil {
		http.Error(w, "end must be RFC3339", http.StatusBadRequest)
		return
	}

	issued := s.coord.Select(slot, compare.Selection{Start: start, End: end})
	writeJSON(w, http.StatusAccepted, RangeResponse{Slot: slot.String(), Issued: issued})
}

func (s *Server) refreshRange(w http.ResponseWriter, r *http.Request) {
	slot, err := compare.ParseSlot(chi.URLParam(r, "slot"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	issued := s.coord.Refresh(slot)
	writeJSON(w, http.StatusAccepted, RangeResponse{Slot: slot.String(), Issued: issued})
}

// StateMessage is pushed to WebSocket clients
type StateMessage struct {
	Type  string        `json:"type"`
	State compare.State `json:"state"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := newClient(s.hub, conn)
	// queue the current state before registering so it is always first
	data, _ := json.Marshal(StateMessage{Type: "state", State: s.coord.State()})
	client.send <- data
	if !s.hub.Register(client) {
		conn.Close()
		return
	}
	log.WithField("client", client.ID).Debug("websocket client connected")

	go client.WritePump()
	go client.ReadPump()
}

func (s *Server) broadcastState(state compare.State) {
	s.hub.Broadcast(StateMessage{Type: "state", State: state})
}

// Shutdown stops internal goroutines and disconnects clients
func (s *Server) Shutdown() {
	s.unsubscribe()
	s.rateLimiter.Stop()
	s.hub.Stop()
}
