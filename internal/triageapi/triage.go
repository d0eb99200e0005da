package triageapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/marlinbank/sift/internal/triage"
)

// decodeBody parses a JSON request body, writing a 400 on failure.
func (a *API) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed json body"})
		return false
	}
	return true
}

func (a *API) handleStartTriage(w http.ResponseWriter, r *http.Request) {
	var req triage.Request
	if !a.decodeBody(w, r, &req) {
		return
	}

	// The caller never chooses its own role or client identity.
	p := principal(r)
	req.Role = p.Role
	req.ClientID = p.Name

	res, err := a.svc.Start(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("triage.run_id", res.RunID))

	a.writeJSON(w, http.StatusOK, map[string]any{
		"runId":     res.RunID,
		"status":    res.Status,
		"streamUrl": "/api/v1/triage/" + res.RunID + "/events",
	})
}

func (a *API) handleTriageStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")

	res, err := a.svc.Status(r.Context(), runID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, res)
}

// handleTriageEvents streams a run's progress as server-sent events. The
// stream ends when the run completes or the client disconnects; there is no
// replay of events emitted before the subscription.
func (a *API) handleTriageEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")

	flusher, ok := w.(http.Flusher)
	if !ok {
		a.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "streaming unsupported"})
		return
	}

	ch, cancel, ok := a.svc.Subscribe(runID)
	if !ok {
		a.writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				a.logger.Error(r.Context(), err, "marshal stream event", "run_id", runID, "type", ev.Type)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
			flusher.Flush()
		}
	}
}
