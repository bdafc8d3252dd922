// Package api exposes the local control surface of the softphone: the
// HTTP endpoints the CRM desktop client calls for click-to-call, call
// control and status, plus the Prometheus metrics handler.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crmdesk/softphone/internal/calllog"
	"github.com/crmdesk/softphone/internal/session"
)

// CallController is the session surface the API drives. Implemented by
// session.Manager.
type CallController interface {
	PlaceCall(ctx context.Context, number string) (*session.Call, error)
	Answer(ctx context.Context) error
	Hangup(ctx context.Context)
	Status() session.Status
	Registered() bool
	IsInCall() bool
}

// HistoryProvider serves recent journal entries.
// Implemented by calllog.History.
type HistoryProvider interface {
	Recent(limit int) []calllog.Entry
}

// Journal receives dial attempts initiated through the API.
// Implemented by calllog.Recorder; optional.
type Journal interface {
	CallPlaced(number string)
}

// Server is the local HTTP control API.
type Server struct {
	addr       string
	httpServer *http.Server
	controller CallController
	history    HistoryProvider
	journal    Journal
	startTime  time.Time
}

// NewServer creates the control API bound to addr.
func NewServer(addr string, controller CallController, history HistoryProvider, journal Journal) *Server {
	s := &Server{
		addr:       addr,
		controller: controller,
		history:    history,
		journal:    journal,
		startTime:  time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/calls", s.handleCalls)
	mux.HandleFunc("/api/v1/calls/current/answer", s.handleAnswer)
	mux.HandleFunc("/api/v1/calls/current/hangup", s.handleHangup)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	slog.Info("[API] Starting HTTP API server", "addr", s.addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("[API] Server error", "error", err)
		}
	}()
	return nil
}

// Stop shuts down the server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":     "ok",
		"uptime":     int64(time.Since(s.startTime).Seconds()),
		"registered": s.controller.Registered(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.controller.Status())
}

// handleCalls serves the call collection: GET lists recent history,
// POST is the click-to-call trigger.
func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleHistory(w, r)
	case http.MethodPost:
		s.handlePlaceCall(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeJSON(w, []calllog.Entry{})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	s.writeJSON(w, s.history.Recent(limit))
}

// handlePlaceCall validates the dial preconditions and starts the call
// in the background: the INVITE exchange can ring for a minute, far too
// long to hold the HTTP request open.
func (s *Server) handlePlaceCall(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Number string `json:"number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Number == "" {
		http.Error(w, "Body must be {\"number\": \"...\"}", http.StatusBadRequest)
		return
	}

	if !s.controller.Registered() {
		http.Error(w, "Not registered", http.StatusPreconditionFailed)
		return
	}
	if s.controller.IsInCall() {
		http.Error(w, "Already in a call", http.StatusConflict)
		return
	}

	if s.journal != nil {
		s.journal.CallPlaced(body.Number)
	}

	go func(number string) {
		if _, err := s.controller.PlaceCall(context.Background(), number); err != nil {
			slog.Warn("[API] Click-to-call failed", "number", number, "error", err)
		}
	}(body.Number)

	slog.Info("[API] Click-to-call", "number", body.Number)
	w.WriteHeader(http.StatusAccepted)
	s.writeJSON(w, map[string]interface{}{
		"message": "Dialing",
		"number":  body.Number,
	})
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.controller.Answer(r.Context()); err != nil {
		if errors.Is(err, session.ErrNoIncomingCall) {
			http.Error(w, "No incoming call", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, map[string]interface{}{"message": "Answered"})
}

func (s *Server) handleHangup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.controller.Hangup(r.Context())
	s.writeJSON(w, map[string]interface{}{"message": "Hung up"})
}

// --- Helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("[API] Failed to encode JSON", "error", err)
	}
}
