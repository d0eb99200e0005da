package triageapi

import (
	"context"
	"net/http"

	"github.com/marlinbank/sift/internal/actions"
)

const idempotencyHeader = "Idempotency-Key"

func (a *API) handleFreezeCard(w http.ResponseWriter, r *http.Request) {
	var req actions.FreezeCardRequest
	if !a.decodeBody(w, r, &req) {
		return
	}
	p := principal(r)
	req.Actor = p.Name
	req.IdempotencyKey = r.Header.Get(idempotencyHeader)

	res, err := a.exec.FreezeCard(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, res)
}

func (a *API) handleOpenDispute(w http.ResponseWriter, r *http.Request) {
	var req actions.OpenDisputeRequest
	if !a.decodeBody(w, r, &req) {
		return
	}
	p := principal(r)
	req.Actor = p.Name
	req.IdempotencyKey = r.Header.Get(idempotencyHeader)

	res, err := a.exec.OpenDispute(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, res)
}

func (a *API) handleContactCustomer(w http.ResponseWriter, r *http.Request) {
	a.handleCloseout(w, r, a.exec.ContactCustomer)
}

func (a *API) handleMarkFalsePositive(w http.ResponseWriter, r *http.Request) {
	a.handleCloseout(w, r, a.exec.MarkFalsePositive)
}

func (a *API) handleCloseout(w http.ResponseWriter, r *http.Request,
	run func(ctx context.Context, req actions.CloseoutRequest) (*actions.CloseoutResult, error),
) {
	var req actions.CloseoutRequest
	if !a.decodeBody(w, r, &req) {
		return
	}
	p := principal(r)
	req.Actor = p.Name
	req.IdempotencyKey = r.Header.Get(idempotencyHeader)

	res, err := run(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, res)
}
