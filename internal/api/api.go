package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/joescharf/bullseye/internal/engine"
	"github.com/joescharf/bullseye/internal/models"
	"github.com/joescharf/bullseye/internal/scoring"
	"github.com/joescharf/bullseye/internal/sessions"
	"github.com/joescharf/bullseye/internal/stats"
	"github.com/joescharf/bullseye/internal/store"
)

// Coach produces a written summary of a session.
type Coach interface {
	CoachSession(ctx context.Context, s *models.Session, history []*models.Session) (string, error)
}

// Server provides the REST API handlers.
type Server struct {
	sessions *sessions.Manager
	coach    Coach
	log      zerolog.Logger
	now      func() time.Time
}

// NewServer creates a new API server.
// The coach may be nil if no API key is configured.
func NewServer(m *sessions.Manager, coach Coach, log zerolog.Logger) *Server {
	return &Server{
		sessions: m,
		coach:    coach,
		log:      log.With().Str("component", "api").Logger(),
		now:      time.Now,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/sessions", s.listSessions)
	mux.HandleFunc("POST /api/v1/sessions", s.createSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.getSession)
	mux.HandleFunc("PUT /api/v1/sessions/{id}", s.updateSession)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.deleteSession)

	mux.HandleFunc("POST /api/v1/sessions/{id}/shots", s.recordShot)
	mux.HandleFunc("POST /api/v1/sessions/{id}/undo", s.undo)
	mux.HandleFunc("POST /api/v1/sessions/{id}/edit", s.openEdit)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}/edit", s.cancelEdit)
	mux.HandleFunc("POST /api/v1/sessions/{id}/flush", s.flush)
	mux.HandleFunc("POST /api/v1/sessions/{id}/coach", s.coachSession)

	mux.HandleFunc("GET /api/v1/stats", s.dashboard)
	mux.HandleFunc("GET /api/v1/face", s.face)
	mux.HandleFunc("POST /api/v1/score", s.scorePoint)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.logRequests(mux))
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().Str("method", r.Method).Str("path", r.URL.Path).
			Dur("took", time.Since(start)).Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps store errors to status codes.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// --- Sessions ---

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.SessionListFilter{IncompleteOnly: q.Get("incomplete") == "true"}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	rng, err := stats.ParseRange(q.Get("range"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := s.sessions.List(r.Context(), filter)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats.Filter(list, rng, s.now()))
}

type createSessionRequest struct {
	Name         string            `json:"name"`
	TotalEnds    int               `json:"totalEnds"`
	ArrowsPerEnd int               `json:"arrowsPerEnd"`
	Distance     int               `json:"distance"`
	TargetType   models.TargetFace `json:"targetType"`
	Notes        string            `json:"notes"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	sess, err := s.sessions.Create(r.Context(), sessions.NewSession{
		Name:         req.Name,
		TotalEnds:    req.TotalEnds,
		ArrowsPerEnd: req.ArrowsPerEnd,
		Distance:     req.Distance,
		TargetType:   req.TargetType,
		Notes:        req.Notes,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	v, err := s.sessions.View(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type updateSessionRequest struct {
	Name     *string `json:"name"`
	Notes    *string `json:"notes"`
	Distance *int    `json:"distance"`
}

func (s *Server) updateSession(w http.ResponseWriter, r *http.Request) {
	var req updateSessionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Distance != nil && *req.Distance <= 0 {
		writeError(w, http.StatusBadRequest, "distance must be positive")
		return
	}
	sess, err := s.sessions.UpdateDetails(r.Context(), r.PathValue("id"), store.SessionUpdate{
		Name:     req.Name,
		Notes:    req.Notes,
		Distance: req.Distance,
	})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Scoring ---

type shotRequest struct {
	Label string   `json:"label"`
	X     *float64 `json:"x"`
	Y     *float64 `json:"y"`
}

func (req shotRequest) input() (sessions.Input, bool) {
	if req.X != nil && req.Y != nil {
		return sessions.Input{Point: &models.Point{X: *req.X, Y: *req.Y}}, true
	}
	if req.Label != "" {
		return sessions.Input{Label: req.Label}, true
	}
	return sessions.Input{}, false
}

func (s *Server) recordShot(w http.ResponseWriter, r *http.Request) {
	var req shotRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	in, ok := req.input()
	if !ok {
		writeError(w, http.StatusBadRequest, "label or x and y are required")
		return
	}
	id := r.PathValue("id")
	if _, err := s.sessions.Engine(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	v, err := s.sessions.Record(r.Context(), id, in)
	if err != nil {
		if v.Session == nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) undo(w http.ResponseWriter, r *http.Request) {
	v, err := s.sessions.Undo(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) openEdit(w http.ResponseWriter, r *http.Request) {
	var ref engine.EditRef
	if err := decode(r, &ref); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	v, err := s.sessions.OpenEdit(r.Context(), r.PathValue("id"), ref)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) cancelEdit(w http.ResponseWriter, r *http.Request) {
	v, err := s.sessions.CancelEdit(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) flush(w http.ResponseWriter, r *http.Request) {
	v, err := s.sessions.Flush(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type coachResponse struct {
	Summary string `json:"summary"`
	Saved   bool   `json:"saved"`
}

func (s *Server) coachSession(w http.ResponseWriter, r *http.Request) {
	if s.coach == nil {
		writeError(w, http.StatusServiceUnavailable, "coaching requires anthropic.api_key")
		return
	}
	ctx := r.Context()
	id := r.PathValue("id")
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	history, err := s.sessions.List(ctx, store.SessionListFilter{Limit: 10})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	summary, err := s.coach.CoachSession(ctx, sess, history)
	if err != nil {
		s.log.Error().Err(err).Str("session", id).Msg("coaching failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	resp := coachResponse{Summary: summary}
	if r.URL.Query().Get("save") == "true" {
		if _, err := s.sessions.UpdateDetails(ctx, id, store.SessionUpdate{Notes: &summary}); err != nil {
			s.writeStoreError(w, err)
			return
		}
		resp.Saved = true
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Stats & geometry ---

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	rng, err := stats.ParseRange(r.URL.Query().Get("range"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := s.sessions.List(r.Context(), store.SessionListFilter{})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats.Build(list, rng, s.now()))
}

type faceResponse struct {
	scoring.Face
	Size   float64                `json:"size"`
	Rings  []scoring.RingGeometry `json:"rings"`
	Keypad [][]string             `json:"keypad"`
}

func (s *Server) face(w http.ResponseWriter, r *http.Request) {
	t := models.TargetFace(r.URL.Query().Get("type"))
	if t != "" && !t.Valid() {
		writeError(w, http.StatusBadRequest, "unknown target face")
		return
	}
	f := scoring.FaceFor(t)
	writeJSON(w, http.StatusOK, faceResponse{
		Face:   f,
		Size:   scoring.FaceSize,
		Rings:  f.Rings(),
		Keypad: scoring.Keypad(),
	})
}

type scoreRequest struct {
	X          float64           `json:"x"`
	Y          float64           `json:"y"`
	TargetType models.TargetFace `json:"targetType"`
}

type scoreResponse struct {
	scoring.Score
	Band scoring.Band `json:"band"`
}

func (s *Server) scorePoint(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	sc := scoring.FaceFor(req.TargetType).Score(models.Point{X: req.X, Y: req.Y})
	writeJSON(w, http.StatusOK, scoreResponse{Score: sc, Band: scoring.BandFor(sc.Value)})
}
