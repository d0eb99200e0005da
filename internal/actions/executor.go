// Package actions executes the remediations a triage decision proposes:
// card freezes behind an OTP challenge, disputes, customer contact, and
// false-positive closure. Every operation is idempotent via a client-chosen
// Idempotency-Key and performs its writes in a single store transaction.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/marlinbank/sift/internal/fraud"
	"github.com/marlinbank/sift/internal/kvcache"
)

// Operation names, used as idempotency namespaces and metric labels.
const (
	OpFreezeCard        = "freeze_card"
	OpOpenDispute       = "open_dispute"
	OpContactCustomer   = "contact_customer"
	OpMarkFalsePositive = "mark_false_positive"
)

// Case event actions.
const (
	eventCardFrozen        = "CARD_FROZEN"
	eventDisputeOpened     = "DISPUTE_OPENED"
	eventCustomerContacted = "CUSTOMER_CONTACTED"
	eventFalsePositive     = "MARKED_FALSE_POSITIVE"
)

// ErrOTPInvalid reports a wrong or expired one-time password. Not a system
// failure; the caller may request a fresh code.
var ErrOTPInvalid = errors.New("otp invalid or expired")

// Hooks are optional instrumentation callbacks.
type Hooks struct {
	OnAction func(op, result string)
}

// Executor runs remediation actions against the store.
type Executor struct {
	store  fraud.Store
	otp    *kvcache.OTPStore
	idem   *kvcache.IdempotencyCache
	logger log.Logger
	hooks  Hooks
}

// NewExecutor builds an action executor.
func NewExecutor(store fraud.Store, otp *kvcache.OTPStore, idem *kvcache.IdempotencyCache, logger log.Logger, hooks Hooks) *Executor {
	if logger == nil {
		logger = log.Nop()
	}
	return &Executor{store: store, otp: otp, idem: idem, logger: logger, hooks: hooks}
}

// FreezeCardRequest asks to freeze a card. OTP empty means "challenge me":
// a code is issued and the call returns PENDING_OTP without touching state.
type FreezeCardRequest struct {
	CardID         string `json:"card_id"`
	AlertID        string `json:"alert_id,omitempty"`
	OTP            string `json:"otp,omitempty"`
	Actor          string `json:"-"`
	IdempotencyKey string `json:"-"`
}

// FreezeCardResult is the outcome of a freeze attempt.
type FreezeCardResult struct {
	Status  string `json:"status"` // FROZEN | PENDING_OTP
	CardID  string `json:"card_id"`
	CaseID  string `json:"case_id,omitempty"`
	AlertID string `json:"alert_id,omitempty"`
}

// FreezeCard freezes a card after OTP verification. An already-frozen card
// returns idempotent success. The freeze, its case and the alert resolution
// are all-or-nothing.
func (e *Executor) FreezeCard(ctx context.Context, req FreezeCardRequest) (*FreezeCardResult, error) {
	var cached FreezeCardResult
	if hit, err := e.replay(ctx, OpFreezeCard, req.IdempotencyKey, &cached); err != nil {
		return nil, err
	} else if hit {
		e.action(OpFreezeCard, "replayed")
		return &cached, nil
	}

	card, ok, err := e.store.GetCard(ctx, req.CardID)
	if err != nil {
		return nil, fmt.Errorf("get card: %w", err)
	}
	if !ok {
		return nil, fraud.NotFoundf("card", req.CardID)
	}

	if card.Status == fraud.CardFrozen {
		res := &FreezeCardResult{Status: string(fraud.CardFrozen), CardID: card.ID, AlertID: req.AlertID}
		if err := e.record(ctx, OpFreezeCard, req.IdempotencyKey, res); err != nil {
			return nil, err
		}
		e.action(OpFreezeCard, "already_frozen")
		return res, nil
	}

	if req.OTP == "" {
		// Issue a challenge; delivery happens out of band. No state change,
		// so the pending response is deliberately not recorded for replay.
		if _, err := e.otp.Issue(ctx, card.ID); err != nil {
			return nil, fmt.Errorf("issue otp: %w", err)
		}
		e.action(OpFreezeCard, "pending_otp")
		return &FreezeCardResult{Status: "PENDING_OTP", CardID: card.ID, AlertID: req.AlertID}, nil
	}

	valid, err := e.otp.Verify(ctx, card.ID, req.OTP)
	if err != nil {
		return nil, fmt.Errorf("verify otp: %w", err)
	}
	if !valid {
		e.action(OpFreezeCard, "otp_invalid")
		return nil, ErrOTPInvalid
	}

	c := &fraud.Case{
		ID:         ulid.Make().String(),
		CustomerID: card.CustomerID,
		Type:       fraud.CaseCardFreeze,
		Status:     fraud.CaseOpen,
		ReasonCode: "FRAUD_SUSPECTED",
		Events: []fraud.CaseEvent{{
			Actor:  req.Actor,
			Action: eventCardFrozen,
			TS:     time.Now(),
			Payload: map[string]any{
				"card_id":  card.ID,
				"alert_id": req.AlertID,
			},
		}},
		CreatedAt: time.Now(),
	}
	if err := e.store.FreezeCardWithCase(ctx, card.ID, c, req.AlertID, fraud.AlertResolved); err != nil {
		return nil, fmt.Errorf("freeze card: %w", err)
	}

	res := &FreezeCardResult{
		Status:  string(fraud.CardFrozen),
		CardID:  card.ID,
		CaseID:  c.ID,
		AlertID: req.AlertID,
	}
	if err := e.record(ctx, OpFreezeCard, req.IdempotencyKey, res); err != nil {
		return nil, err
	}
	e.action(OpFreezeCard, "frozen")
	return res, nil
}

// OpenDisputeRequest opens a dispute for a transaction.
type OpenDisputeRequest struct {
	TxnID          string `json:"txn_id"`
	ReasonCode     string `json:"reason_code"`
	Actor          string `json:"-"`
	IdempotencyKey string `json:"-"`
}

// OpenDisputeResult is the outcome of a dispute request.
type OpenDisputeResult struct {
	CaseID   string `json:"case_id"`
	Status   string `json:"status"`
	TxnID    string `json:"txn_id"`
	Existing bool   `json:"existing"`
}

// OpenDispute opens a DISPUTE case for the transaction, or returns the
// existing non-terminal one.
func (e *Executor) OpenDispute(ctx context.Context, req OpenDisputeRequest) (*OpenDisputeResult, error) {
	var cached OpenDisputeResult
	if hit, err := e.replay(ctx, OpOpenDispute, req.IdempotencyKey, &cached); err != nil {
		return nil, err
	} else if hit {
		e.action(OpOpenDispute, "replayed")
		return &cached, nil
	}

	txn, ok, err := e.store.GetTransaction(ctx, req.TxnID)
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	if !ok {
		return nil, fraud.NotFoundf("transaction", req.TxnID)
	}

	if existing, ok, err := e.store.OpenDisputeCaseForTxn(ctx, req.TxnID); err != nil {
		return nil, fmt.Errorf("find dispute: %w", err)
	} else if ok {
		res := &OpenDisputeResult{CaseID: existing.ID, Status: string(existing.Status), TxnID: req.TxnID, Existing: true}
		if err := e.record(ctx, OpOpenDispute, req.IdempotencyKey, res); err != nil {
			return nil, err
		}
		e.action(OpOpenDispute, "existing")
		return res, nil
	}

	alertID := ""
	alertStatus := fraud.AlertStatus("")
	if alert, ok, err := e.store.GetAlertBySuspectTxn(ctx, req.TxnID); err != nil {
		return nil, fmt.Errorf("find alert: %w", err)
	} else if ok {
		alertID = alert.ID
		alertStatus = fraud.AlertDisputeOpened
	}

	c := &fraud.Case{
		ID:         ulid.Make().String(),
		CustomerID: txn.CustomerID,
		TxnID:      txn.ID,
		Type:       fraud.CaseDispute,
		Status:     fraud.CaseOpen,
		ReasonCode: req.ReasonCode,
		Events: []fraud.CaseEvent{{
			Actor:  req.Actor,
			Action: eventDisputeOpened,
			TS:     time.Now(),
			Payload: map[string]any{
				"txn_id":      txn.ID,
				"reason_code": req.ReasonCode,
			},
		}},
		CreatedAt: time.Now(),
	}
	if err := e.store.CreateCaseWithAlert(ctx, c, alertID, alertStatus); err != nil {
		return nil, fmt.Errorf("open dispute: %w", err)
	}

	res := &OpenDisputeResult{CaseID: c.ID, Status: string(c.Status), TxnID: txn.ID}
	if err := e.record(ctx, OpOpenDispute, req.IdempotencyKey, res); err != nil {
		return nil, err
	}
	e.action(OpOpenDispute, "opened")
	return res, nil
}

// CloseoutRequest covers contact_customer and mark_false_positive, which
// share a shape: close the alert with a terminal case.
type CloseoutRequest struct {
	AlertID        string `json:"alert_id"`
	CustomerID     string `json:"customer_id"`
	SuspectTxnID   string `json:"suspect_txn_id,omitempty"`
	Actor          string `json:"-"`
	IdempotencyKey string `json:"-"`
}

// CloseoutResult is the outcome of a closeout action.
type CloseoutResult struct {
	CaseID      string `json:"case_id"`
	AlertID     string `json:"alert_id"`
	AlertStatus string `json:"alert_status"`
}

// ContactCustomer records that the customer was reached and closes out the
// alert as CONTACTED.
func (e *Executor) ContactCustomer(ctx context.Context, req CloseoutRequest) (*CloseoutResult, error) {
	return e.closeout(ctx, OpContactCustomer, req, fraud.CaseContactCustomer,
		fraud.CaseClosed, "CUSTOMER_CONTACTED", eventCustomerContacted, fraud.AlertContacted)
}

// MarkFalsePositive closes the alert as a false positive.
func (e *Executor) MarkFalsePositive(ctx context.Context, req CloseoutRequest) (*CloseoutResult, error) {
	return e.closeout(ctx, OpMarkFalsePositive, req, fraud.CaseFalsePositive,
		fraud.CaseClosedFalsePositive, "FALSE_POSITIVE", eventFalsePositive, fraud.AlertClosedFalsePositive)
}

func (e *Executor) closeout(ctx context.Context, op string, req CloseoutRequest,
	caseType fraud.CaseType, caseStatus fraud.CaseStatus, reasonCode, eventAction string,
	alertStatus fraud.AlertStatus) (*CloseoutResult, error) {

	var cached CloseoutResult
	if hit, err := e.replay(ctx, op, req.IdempotencyKey, &cached); err != nil {
		return nil, err
	} else if hit {
		e.action(op, "replayed")
		return &cached, nil
	}

	if _, ok, err := e.store.GetAlert(ctx, req.AlertID); err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	} else if !ok {
		return nil, fraud.NotFoundf("alert", req.AlertID)
	}

	c := &fraud.Case{
		ID:         ulid.Make().String(),
		CustomerID: req.CustomerID,
		TxnID:      req.SuspectTxnID,
		Type:       caseType,
		Status:     caseStatus,
		ReasonCode: reasonCode,
		Events: []fraud.CaseEvent{{
			Actor:  req.Actor,
			Action: eventAction,
			TS:     time.Now(),
			Payload: map[string]any{
				"alert_id": req.AlertID,
			},
		}},
		CreatedAt: time.Now(),
	}
	if err := e.store.CreateCaseWithAlert(ctx, c, req.AlertID, alertStatus); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	res := &CloseoutResult{CaseID: c.ID, AlertID: req.AlertID, AlertStatus: string(alertStatus)}
	if err := e.record(ctx, op, req.IdempotencyKey, res); err != nil {
		return nil, err
	}
	e.action(op, "closed")
	return res, nil
}

// replay loads a cached result for the key into out. A miss or an empty key
// returns false.
func (e *Executor) replay(ctx context.Context, op, key string, out any) (bool, error) {
	if key == "" || e.idem == nil {
		return false, nil
	}
	payload, ok, err := e.idem.Get(ctx, op, key)
	if err != nil {
		return false, fmt.Errorf("idempotency lookup: %w", err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return false, fmt.Errorf("idempotency payload: %w", err)
	}
	return true, nil
}

// record caches a completed result under the key. Cache failures are logged,
// not surfaced: the action itself succeeded.
func (e *Executor) record(ctx context.Context, op, key string, res any) error {
	if key == "" || e.idem == nil {
		return nil
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := e.idem.Put(ctx, op, key, payload); err != nil {
		e.logger.Warn(ctx, "idempotency record failed", "op", op, "error", err.Error())
	}
	return nil
}

func (e *Executor) action(op, result string) {
	if e.hooks.OnAction != nil {
		e.hooks.OnAction(op, result)
	}
}
