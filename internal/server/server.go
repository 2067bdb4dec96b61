// Package server exposes flow status, questionnaires and run control over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/collection-cli/internal/model"
	"github.com/sells-group/collection-cli/internal/pipeline"
	"github.com/sells-group/collection-cli/internal/store"
)

// Launcher starts and cancels background runs.
type Launcher interface {
	Start(flowID string) error
	Cancel(flowID string) bool
	Running(flowID string) bool
}

// Server is the flow status HTTP surface.
type Server struct {
	router  chi.Router
	flows   store.FlowStore
	sink    store.QuestionnaireSink
	runs    Launcher
	origins []string
}

// Option configures a Server.
type Option func(*Server)

// WithAllowedOrigins sets the CORS allow-list. Default: any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

// New builds the router.
func New(flows store.FlowStore, sink store.QuestionnaireSink, runs Launcher, opts ...Option) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		flows:   flows,
		sink:    sink,
		runs:    runs,
		origins: []string{"*"},
	}
	for _, o := range opts {
		o(s)
	}
	s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))
	s.router.Use(requestLogger)

	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.router.Route("/flows", func(r chi.Router) {
		r.Get("/", s.handleListFlows)
		r.Get("/{id}", s.handleGetFlow)
		r.Get("/{id}/questionnaire", s.handleGetQuestionnaire)
		r.Post("/{id}/generate", s.handleGenerate)
		r.Post("/{id}/cancel", s.handleCancel)
	})
}

type flowView struct {
	*model.Flow
	Running bool `json:"running"`
}

func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	filter := store.FlowFilter{Status: model.FlowStatus(r.URL.Query().Get("status"))}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, errors.New("unknown status "+string(filter.Status)))
		return
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		filter.Limit = n
	}

	flows, err := s.flows.ListFlows(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]flowView, 0, len(flows))
	for i := range flows {
		views = append(views, flowView{Flow: &flows[i], Running: s.runs.Running(flows[i].ID)})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	flow, err := s.flows.GetFlow(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flowView{Flow: flow, Running: s.runs.Running(id)})
}

// handleGetQuestionnaire serves the latest questionnaire only while the flow
// is ready; a rerun in progress or a failed rerun hides the previous one.
func (s *Server) handleGetQuestionnaire(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	flow, err := s.flows.GetFlow(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if flow.Status != model.FlowStatusReady {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "questionnaire not ready",
			"status": string(flow.Status),
		})
		return
	}
	q, err := s.sink.GetQuestionnaire(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.flows.GetFlow(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.runs.Start(id); err != nil {
		if errors.Is(err, pipeline.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"flow_id": id, "status": "accepted"})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.runs.Cancel(id) {
		writeError(w, http.StatusNotFound, errors.New("no running generation for flow "+id))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"flow_id": id, "status": "cancelling"})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError logs err and writes it to the client. Server-side failures get
// a generic message; store and engine errors stay in the log.
func writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		zap.L().Error("request failed", zap.Int("status", status), zap.Error(err))
		writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
		return
	}
	zap.L().Debug("request rejected", zap.Int("status", status), zap.Error(err))
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if store.IsNotFound(err) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}
