// Package server exposes a read-only HTTP inspection API over a running town
// and a websocket feed of simulation events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hupe1980/agenttown/conversation"
	"github.com/hupe1980/agenttown/core"
	"github.com/hupe1980/agenttown/inference"
	"github.com/hupe1980/agenttown/logging"
)

// Conversations is the read side of the conversation manager.
type Conversations interface {
	Active() []conversation.Snapshot
	Recent() []conversation.Snapshot
	Session(id string) (conversation.Snapshot, bool)
}

// StatsSource reports per-provider inference statistics.
type StatsSource interface {
	Stats() map[string]inference.ProviderStats
}

// Locator reports where an agent is.
type Locator interface {
	Position(agentID string) (string, bool)
}

// Deps are the components the API reads from. Nil optional members disable
// the matching routes' data.
type Deps struct {
	Directory     core.Directory
	Memory        core.MemoryStore
	Conversations Conversations
	Stats         StatsSource
	Locator       Locator
	Hub           *Hub
}

// Options configures a Server.
type Options struct {
	// DefaultMemories and MaxMemories bound the ?limit of the memories route.
	DefaultMemories int
	MaxMemories     int
	ShutdownTimeout time.Duration
	Logger          logging.Logger
}

// Server is the inspection API.
type Server struct {
	deps   Deps
	opts   Options
	router chi.Router
}

// New builds the router.
func New(deps Deps, optFns ...func(o *Options)) *Server {
	opts := Options{
		DefaultMemories: 20,
		MaxMemories:     200,
		ShutdownTimeout: 5 * time.Second,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{deps: deps, opts: opts}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Route("/agents", func(r chi.Router) {
		r.Get("/", s.listAgents)
		r.Get("/{id}", s.getAgent)
		r.Get("/{id}/memories", s.getMemories)
	})
	r.Route("/conversations", func(r chi.Router) {
		r.Get("/", s.listConversations)
		r.Get("/{id}", s.getConversation)
	})
	r.Get("/providers/stats", s.providerStats)
	if deps.Hub != nil {
		r.Get("/events", deps.Hub.ServeHTTP)
	}
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.Info("inspection api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.opts.Logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// AgentSummary is one row of the agent list.
type AgentSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Personality string `json:"personality,omitempty"`
	State       string `json:"state"`
	Location    string `json:"location,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Pending     int    `json:"pending_tasks"`
}

// AgentDetail is the full view of one agent.
type AgentDetail struct {
	AgentSummary
	Description string                   `json:"description,omitempty"`
	Traits      []string                 `json:"traits,omitempty"`
	Status      map[string]float64       `json:"status,omitempty"`
	Relations   map[string]core.Relation `json:"relations"`
	Tasks       []core.Task              `json:"tasks"`
	Done        []core.Task              `json:"done"`
	Memories    int                      `json:"memories"`
}

func (s *Server) summary(a *core.Agent) AgentSummary {
	sum := AgentSummary{
		ID:          a.ID,
		Name:        a.Name,
		Personality: a.Personality.Name,
		State:       a.State().String(),
		Pending:     a.Tasks.Len(),
	}
	if sid, ok := a.Engagement(); ok {
		sum.SessionID = sid
	}
	if s.deps.Locator != nil {
		sum.Location, _ = s.deps.Locator.Position(a.ID)
	}
	return sum
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	agents := 0
	if s.deps.Directory != nil {
		agents = len(s.deps.Directory.Agents())
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "agents": agents})
}

func (s *Server) listAgents(w http.ResponseWriter, _ *http.Request) {
	out := []AgentSummary{}
	if s.deps.Directory != nil {
		for _, a := range s.deps.Directory.Agents() {
			out = append(out, s.summary(a))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) agent(w http.ResponseWriter, r *http.Request) (*core.Agent, bool) {
	id := chi.URLParam(r, "id")
	if s.deps.Directory != nil {
		if a, ok := s.deps.Directory.Agent(id); ok {
			return a, true
		}
	}
	writeError(w, http.StatusNotFound, "unknown agent "+strconv.Quote(id))
	return nil, false
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	a, ok := s.agent(w, r)
	if !ok {
		return
	}
	d := AgentDetail{
		AgentSummary: s.summary(a),
		Description:  a.Personality.Description,
		Traits:       a.Personality.Traits,
		Status:       a.Status(),
		Relations:    a.Relations(),
		Tasks:        nonNil(a.Tasks.Pending()),
		Done:         nonNil(a.Tasks.Done()),
	}
	if s.deps.Memory != nil {
		d.Memories = len(s.deps.Memory.All(a.ID))
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) getMemories(w http.ResponseWriter, r *http.Request) {
	a, ok := s.agent(w, r)
	if !ok {
		return
	}
	limit := s.opts.DefaultMemories
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > s.opts.MaxMemories {
		limit = s.opts.MaxMemories
	}
	out := []core.MemoryEntry{}
	if s.deps.Memory != nil {
		out = nonNil(s.deps.Memory.RankedRetrieve(a.ID, limit))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listConversations(w http.ResponseWriter, _ *http.Request) {
	resp := struct {
		Active []conversation.Snapshot `json:"active"`
		Recent []conversation.Snapshot `json:"recent"`
	}{Active: []conversation.Snapshot{}, Recent: []conversation.Snapshot{}}
	if s.deps.Conversations != nil {
		resp.Active = nonNil(s.deps.Conversations.Active())
		resp.Recent = nonNil(s.deps.Conversations.Recent())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.deps.Conversations != nil {
		if snap, ok := s.deps.Conversations.Session(id); ok {
			writeJSON(w, http.StatusOK, snap)
			return
		}
	}
	writeError(w, http.StatusNotFound, "unknown conversation "+strconv.Quote(id))
}

// ProviderStatsView adds the derived average latency to the raw counters.
type ProviderStatsView struct {
	inference.ProviderStats
	AverageLatencyMS float64 `json:"average_latency_ms"`
}

func (s *Server) providerStats(w http.ResponseWriter, _ *http.Request) {
	out := map[string]ProviderStatsView{}
	if s.deps.Stats != nil {
		for id, st := range s.deps.Stats.Stats() {
			out[id] = ProviderStatsView{
				ProviderStats:    st,
				AverageLatencyMS: float64(st.AverageLatency()) / float64(time.Millisecond),
			}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
