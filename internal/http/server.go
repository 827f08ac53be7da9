package http

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"psychometric/sessions/internal/auth"
	"psychometric/sessions/internal/config"
	"psychometric/sessions/internal/jobs"
	"psychometric/sessions/internal/reconcile"
	"psychometric/sessions/internal/reports"
	"psychometric/sessions/internal/resolver"
	"psychometric/sessions/internal/session"
)

type Resolver interface {
	EvaluateAccess(ctx context.Context, sessionID string, now time.Time) (session.AccessResult, error)
	ResolveByCode(ctx context.Context, code string, now time.Time) (resolver.Resolution, error)
}

type Reconciler interface {
	Trigger(ctx context.Context) (reconcile.Report, error)
}

type ReportReader interface {
	LastReport(ctx context.Context) (reconcile.Report, error)
}

type Server struct {
	cfg          config.Config
	resolver     Resolver
	reconciler   Reconciler
	reports      ReportReader
	jwtPublicKey *rsa.PublicKey
	now          func() time.Time
}

// NewServer builds the HTTP surface. reports may be nil when no report store is configured.
func NewServer(cfg config.Config, sessions Resolver, reconciler Reconciler, lastReports ReportReader) (*Server, error) {
	publicKey, err := auth.ParseRSAPublicKey(cfg.JWTPublicKey)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:          cfg,
		resolver:     sessions,
		reconciler:   reconciler,
		reports:      lastReports,
		jwtPublicKey: publicKey,
		now:          time.Now,
	}, nil
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.With(s.authMiddleware).Get("/sessions/{sessionId}/access", s.handleGetAccess)
	r.With(s.authMiddleware).Get("/join/{code}", s.handleJoin)
	r.With(s.authMiddleware, operatorOnly).Post("/reconcile", s.handleReconcile)
	r.With(s.authMiddleware, operatorOnly).Get("/reconcile/last", s.handleLastReport)

	return r
}

// Auth

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.jwtPublicKey, s.cfg.JWTIssuer, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func operatorOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFromContext(r.Context())
		if claims == nil {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		if !claims.Operator() {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

// Sessions

func (s *Server) handleGetAccess(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if _, err := uuid.Parse(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_id")
		return
	}
	result, err := s.resolver.EvaluateAccess(r.Context(), sessionID, s.now().UTC())
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, result.ResponseCode, result)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing_code")
		return
	}
	res, err := s.resolver.ResolveByCode(r.Context(), code, s.now().UTC())
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, res.Access.ResponseCode, mapResolution(res))
}

// Reconciliation

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := s.reconciler.Trigger(r.Context())
	switch {
	case errors.Is(err, jobs.ErrRunInProgress):
		writeError(w, http.StatusConflict, "reconcile_in_progress")
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, "reconcile_failed")
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

func (s *Server) handleLastReport(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		writeError(w, http.StatusNotFound, "report_not_found")
		return
	}
	report, err := s.reports.LastReport(r.Context())
	if errors.Is(err, reports.ErrNotFound) {
		writeError(w, http.StatusNotFound, "report_not_found")
		return
	}
	if err != nil {
		log.Printf("load reconcile report: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type sessionResponse struct {
	ID                  string         `json:"id"`
	Code                string         `json:"code"`
	StartTime           time.Time      `json:"start_time"`
	EndTime             time.Time      `json:"end_time"`
	TargetPosition      string         `json:"target_position,omitempty"`
	Description         string         `json:"description,omitempty"`
	Location            string         `json:"location,omitempty"`
	MaxParticipants     *int           `json:"max_participants,omitempty"`
	CurrentParticipants int            `json:"current_participants"`
	Status              session.Status `json:"status"`
	AllowLateEntry      bool           `json:"allow_late_entry"`
	AutoExpire          bool           `json:"auto_expire"`
	ProctorID           string         `json:"proctor_id,omitempty"`
}

type moduleResponse struct {
	TestID           string  `json:"test_id"`
	Sequence         int     `json:"sequence"`
	IsRequired       bool    `json:"is_required"`
	Weight           float64 `json:"weight"`
	Name             string  `json:"name"`
	Category         string  `json:"category,omitempty"`
	ModuleType       string  `json:"module_type,omitempty"`
	TimeLimitMinutes int     `json:"time_limit_minutes"`
	Icon             string  `json:"icon,omitempty"`
	Color            string  `json:"color,omitempty"`
}

type joinResponse struct {
	Session sessionResponse      `json:"session"`
	Modules []moduleResponse     `json:"modules"`
	Access  session.AccessResult `json:"access"`
}

func mapResolution(res resolver.Resolution) joinResponse {
	modules := make([]moduleResponse, 0, len(res.Modules))
	for _, m := range res.Modules {
		modules = append(modules, moduleResponse{
			TestID:           m.TestID,
			Sequence:         m.Sequence,
			IsRequired:       m.IsRequired,
			Weight:           m.Weight,
			Name:             m.Name,
			Category:         m.Category,
			ModuleType:       m.ModuleType,
			TimeLimitMinutes: m.TimeLimitMinutes,
			Icon:             m.Icon,
			Color:            m.Color,
		})
	}
	return joinResponse{
		Session: mapSession(res.Session),
		Modules: modules,
		Access:  res.Access,
	}
}

func mapSession(s session.Session) sessionResponse {
	return sessionResponse{
		ID:                  s.ID,
		Code:                s.Code,
		StartTime:           s.StartTime,
		EndTime:             s.EndTime,
		TargetPosition:      s.TargetPosition,
		Description:         s.Description,
		Location:            s.Location,
		MaxParticipants:     s.MaxParticipants,
		CurrentParticipants: s.CurrentParticipants,
		Status:              s.Status,
		AllowLateEntry:      s.AllowLateEntry,
		AutoExpire:          s.AutoExpire,
		ProctorID:           s.ProctorID,
	}
}

func writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session_not_found")
	case errors.Is(err, session.ErrTransientStore):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable")
	default:
		log.Printf("session lookup: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
	}
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
