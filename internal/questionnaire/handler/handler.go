// Package handler exposes the questionnaire engine over HTTP: the public
// answer/session endpoints and the operator endpoints under /admin.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"signals/internal/questionnaire/flows"
	"signals/internal/questionnaire/graph"
	"signals/internal/questionnaire/models"
	dErrors "signals/pkg/domain-errors"
	"signals/pkg/platform/audit"
	"signals/pkg/platform/httputil"
	"signals/pkg/platform/middleware/admin"
	"signals/pkg/requestcontext"
)

// Service is the session engine.
type Service interface {
	Answer(ctx context.Context, req models.AnswerRequest) (*models.AnswerResult, error)
	GetSession(ctx context.Context, id models.SessionID) (*models.SessionView, error)
	Submit(ctx context.Context, id models.SessionID) (*models.SubmitResult, error)
	StartSession(ctx context.Context, req models.StartSessionRequest) (*models.Session, error)
	CreateQuestionnaire(ctx context.Context, flow models.Flow, def flows.Definition) (*models.Questionnaire, error)
	InvalidateExpired(ctx context.Context, flow models.Flow) (*models.CleanupResult, error)
}

// Graphs is the administrative graph surface.
type Graphs interface {
	Reachability(ctx context.Context, id models.GraphID) (*graph.Report, error)
	Lint(ctx context.Context, id models.GraphID) ([]graph.Issue, error)
	ReorderEdges(ctx context.Context, id models.GraphID, orders []graph.EdgeOrder) error
}

// AuditReader lists recorded audit events.
type AuditReader interface {
	ListBySubject(ctx context.Context, subject string) ([]audit.Event, error)
	ListRecent(ctx context.Context, limit int) ([]audit.Event, error)
}

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

type Handler struct {
	service    Service
	graphs     Graphs
	audit      AuditReader
	adminToken string
	logger     *slog.Logger
}

func New(service Service, graphs Graphs, audit AuditReader, adminToken string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		service:    service,
		graphs:     graphs,
		audit:      audit,
		adminToken: adminToken,
		logger:     logger,
	}
}

// Register mounts the routes on r. Request id, clock and logging middleware
// are installed by the caller.
func (h *Handler) Register(r chi.Router) {
	r.Post("/answers", h.handleAnswer)
	r.Post("/sessions", h.handleStartSession)
	r.Get("/sessions/{id}", h.handleGetSession)
	r.Post("/sessions/{id}/submit", h.handleSubmit)

	r.Route("/admin", func(ar chi.Router) {
		ar.Use(admin.RequireAdminToken(h.adminToken, h.logger))
		ar.Get("/graphs/{id}/reachable", h.handleReachability)
		ar.Get("/graphs/{id}/lint", h.handleLint)
		ar.Put("/graphs/{id}/edges/order", h.handleReorderEdges)
		ar.Post("/flows/{flow}/cleanup", h.handleCleanup)
		ar.Post("/questionnaires", h.handleCreateQuestionnaire)
		ar.Get("/audit", h.handleListAudit)
	})
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeJSON[models.AnswerRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	res, err := h.service.Answer(ctx, *req)
	if err != nil {
		h.fail(ctx, w, err, "answer rejected")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeJSON[models.StartSessionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	sess, err := h.service.StartSession(ctx, *req)
	if err != nil {
		h.fail(ctx, w, err, "start session failed")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, sess)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := sessionParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	view, err := h.service.GetSession(ctx, id)
	if err != nil {
		h.fail(ctx, w, err, "get session failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := sessionParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.service.Submit(ctx, id)
	if err != nil {
		h.fail(ctx, w, err, "submit rejected")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleReachability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := graphParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	report, err := h.graphs.Reachability(ctx, id)
	if err != nil {
		h.fail(ctx, w, err, "reachability failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

type lintResponse struct {
	Graph  models.GraphID `json:"graph_id"`
	Issues []graph.Issue  `json:"issues"`
}

func (h *Handler) handleLint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := graphParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	issues, err := h.graphs.Lint(ctx, id)
	if err != nil {
		h.fail(ctx, w, err, "lint failed")
		return
	}
	if issues == nil {
		issues = []graph.Issue{}
	}
	httputil.WriteJSON(w, http.StatusOK, lintResponse{Graph: id, Issues: issues})
}

type reorderRequest struct {
	Orders []graph.EdgeOrder `json:"orders"`
}

func (h *Handler) handleReorderEdges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	id, err := graphParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeJSON[reorderRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if err := h.graphs.ReorderEdges(ctx, id, req.Orders); err != nil {
		h.fail(ctx, w, err, "reorder edges failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	flow := models.Flow(chi.URLParam(r, "flow"))
	if !flow.IsValid() {
		httputil.WriteError(w, dErrors.NewField(dErrors.CodeValidation, "flow", "unknown flow"))
		return
	}
	res, err := h.service.InvalidateExpired(ctx, flow)
	if err != nil {
		h.fail(ctx, w, err, "cleanup failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

type createQuestionnaireRequest struct {
	Flow       models.Flow      `json:"flow"`
	Definition flows.Definition `json:"definition"`
}

func (h *Handler) handleCreateQuestionnaire(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeJSON[createQuestionnaireRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	qn, err := h.service.CreateQuestionnaire(ctx, req.Flow, req.Definition)
	if err != nil {
		h.fail(ctx, w, err, "create questionnaire failed")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, qn)
}

type auditEvent struct {
	ID        string `json:"id"`
	Category  string `json:"category"`
	Timestamp string `json:"timestamp"`
	Subject   string `json:"subject"`
	Action    string `json:"action"`
	Flow      string `json:"flow,omitempty"`
	Decision  string `json:"decision,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// handleListAudit lists events for ?subject=, or the most recent ?limit=
// events when no subject is given.
func (h *Handler) handleListAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var (
		events []audit.Event
		err    error
	)
	if subject := r.URL.Query().Get("subject"); subject != "" {
		events, err = h.audit.ListBySubject(ctx, subject)
	} else {
		limit := defaultAuditLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil || limit <= 0 || limit > maxAuditLimit {
				httputil.WriteError(w, dErrors.NewField(dErrors.CodeValidation, "limit",
					"limit must be between 1 and "+strconv.Itoa(maxAuditLimit)))
				return
			}
		}
		events, err = h.audit.ListRecent(ctx, limit)
	}
	if err != nil {
		h.fail(ctx, w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit events"), "list audit failed")
		return
	}

	out := make([]auditEvent, 0, len(events))
	for _, e := range events {
		out = append(out, auditEvent{
			ID:        e.ID.String(),
			Category:  string(e.Category),
			Timestamp: e.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			Subject:   e.Subject,
			Action:    e.Action,
			Flow:      e.Flow,
			Decision:  e.Decision,
			Reason:    e.Reason,
			RequestID: e.RequestID,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func sessionParam(r *http.Request) (models.SessionID, error) {
	id, err := models.ParseSessionID(chi.URLParam(r, "id"))
	if err != nil {
		return models.SessionID{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid session id")
	}
	return id, nil
}

func graphParam(r *http.Request) (models.GraphID, error) {
	id, err := models.ParseGraphID(chi.URLParam(r, "id"))
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid graph id")
	}
	return id, nil
}

// fail logs at warn for client and lifecycle errors and at error for the
// rest, then writes the mapped response.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	status := httputil.StatusFor(dErrors.CodeOf(err))
	args := []any{
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
		"status", status,
	}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, args...)
	} else {
		h.logger.WarnContext(ctx, msg, args...)
	}
	httputil.WriteError(w, err)
}
