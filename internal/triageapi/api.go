// Package triageapi exposes the triage service, action executor, knowledge
// base, and evals over HTTP.
package triageapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/marlinbank/sift/internal/actions"
	"github.com/marlinbank/sift/internal/authmw"
	"github.com/marlinbank/sift/internal/evals"
	"github.com/marlinbank/sift/internal/fraud"
	"github.com/marlinbank/sift/internal/kb"
	"github.com/marlinbank/sift/internal/triage"
)

const defaultAlertLimit = 50

// API holds dependencies for HTTP handlers.
type API struct {
	logger    log.Logger
	svc       *triage.Service
	exec      *actions.Executor
	retriever *kb.Retriever
	evals     *evals.Runner
}

// New creates a new API handler.
func New(logger log.Logger, svc *triage.Service, exec *actions.Executor, retriever *kb.Retriever, runner *evals.Runner) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	return &API{
		logger:    logger,
		svc:       svc,
		exec:      exec,
		retriever: retriever,
		evals:     runner,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/triage", a.handleStartTriage)
		r.Get("/triage/{runId}", a.handleTriageStatus)
		r.Get("/triage/{runId}/events", a.handleTriageEvents)
		r.Get("/alerts", a.handleListAlerts)
		r.Post("/actions/freeze_card", a.handleFreezeCard)
		r.Post("/actions/open_dispute", a.handleOpenDispute)
		r.Post("/actions/contact_customer", a.handleContactCustomer)
		r.Post("/actions/mark_false_positive", a.handleMarkFalsePositive)
		r.Get("/kb/search", a.handleKbSearch)
		r.Get("/evals", a.handleEvals)
	})
}

// principal resolves the authenticated caller, defaulting to an anonymous
// agent when the auth middleware is not installed (dev mode).
func principal(r *http.Request) authmw.Principal {
	if p, ok := authmw.FromContext(r.Context()); ok {
		return p
	}
	return authmw.Principal{Name: "anonymous", Role: fraud.RoleAgent}
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the domain error taxonomy onto HTTP statuses. Unclassified
// errors are logged and surface as a generic 500.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		vErr  *fraud.ValidationError
		cErr  *fraud.ConflictError
		rlErr *fraud.RateLimitedError
		pbErr *fraud.PolicyBlockedError
	)
	switch {
	case errors.As(err, &vErr):
		a.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "invalid request",
			"fields": vErr.Fields,
		})
	case errors.Is(err, fraud.ErrNotFound):
		a.writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
	case errors.As(err, &cErr):
		a.writeJSON(w, http.StatusConflict, map[string]any{
			"error":         "conflict",
			"existingRunId": cErr.ExistingID,
		})
	case errors.As(err, &rlErr):
		w.Header().Set("Retry-After", retryAfterSeconds(rlErr.RetryAfter))
		a.writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "rate limited"})
	case errors.Is(err, actions.ErrOTPInvalid):
		a.writeJSON(w, http.StatusForbidden, map[string]any{"error": "invalid or expired otp"})
	case errors.As(err, &pbErr):
		a.writeJSON(w, http.StatusForbidden, map[string]any{
			"error":     "policy blocked",
			"action":    pbErr.Action,
			"blockedBy": pbErr.BlockedBy,
		})
	default:
		a.logger.Error(r.Context(), err, "request failed", "path", r.URL.Path)
		a.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	listings, err := a.svc.ListAlerts(r.Context(), defaultAlertLimit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if listings == nil {
		listings = []fraud.AlertListing{}
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"alerts": listings})
}

func (a *API) handleEvals(w http.ResponseWriter, r *http.Request) {
	reports, err := a.evals.RunAll(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"evaluations": reports})
}
