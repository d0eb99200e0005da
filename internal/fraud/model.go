// Package fraud defines the domain model and persistence boundary for Sift's
// card-fraud investigation system: customers, cards, transactions, alerts,
// cases, and the Store interface the engine and action executor read and
// write through.
package fraud

import "time"

// KYCLevel is the identity-verification level assigned to a customer.
type KYCLevel string

const (
	KYCPending    KYCLevel = "pending"
	KYCVerified   KYCLevel = "verified"
	KYCRestricted KYCLevel = "restricted"
)

// Customer is a cardholder under investigation.
type Customer struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	EmailMasked string    `json:"email_masked"`
	KYCLevel    KYCLevel  `json:"kyc_level"`
	CreatedAt   time.Time `json:"created_at"`
}

// CardStatus tracks a card's lifecycle. Transitions are monotonic except
// ACTIVE<->FROZEN, which a lead can reverse.
type CardStatus string

const (
	CardActive  CardStatus = "ACTIVE"
	CardFrozen  CardStatus = "FROZEN"
	CardExpired CardStatus = "EXPIRED"
)

// Card is a payment card owned by a customer.
type Card struct {
	ID         string     `json:"id"`
	CustomerID string     `json:"customer_id"`
	Last4      string     `json:"last4"`
	Network    string     `json:"network"`
	Status     CardStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Account holds a customer's balance in minor units (cents).
type Account struct {
	ID                string `json:"id"`
	CustomerID        string `json:"customer_id"`
	BalanceMinorUnits int64  `json:"balance_minor_units"`
	Currency          string `json:"currency"`
}

// Transaction is an immutable card transaction. Dedup key is
// (customer, merchant, amount, ts).
type Transaction struct {
	ID               string    `json:"id"`
	CustomerID       string    `json:"customer_id"`
	CardID           string    `json:"card_id"`
	MCC              string    `json:"mcc"`
	Merchant         string    `json:"merchant"`
	AmountMinorUnits int64     `json:"amount_minor_units"`
	Currency         string    `json:"currency"`
	TS               time.Time `json:"ts"`
	DeviceID         string    `json:"device_id,omitempty"`
	Country          string    `json:"country,omitempty"`
	City             string    `json:"city,omitempty"`
}

// RiskLabel is the severity attached to an alert at ingestion time.
type RiskLabel string

const (
	RiskLow    RiskLabel = "low"
	RiskMedium RiskLabel = "medium"
	RiskHigh   RiskLabel = "high"
)

// AlertStatus tracks an alert through investigation.
type AlertStatus string

const (
	AlertOpen                AlertStatus = "OPEN"
	AlertInvestigating       AlertStatus = "INVESTIGATING"
	AlertResolved            AlertStatus = "RESOLVED"
	AlertClosedFalsePositive AlertStatus = "CLOSED_FALSE_POSITIVE"
	AlertContacted           AlertStatus = "CONTACTED"
	AlertDisputeOpened       AlertStatus = "INVESTIGATING_DISPUTE_OPENED"
)

// Alert flags a suspect transaction for triage. At most one triage run per
// alert may be in flight at a time.
type Alert struct {
	ID           string      `json:"id"`
	CustomerID   string      `json:"customer_id"`
	SuspectTxnID string      `json:"suspect_txn_id"`
	Risk         RiskLabel   `json:"risk"`
	Status       AlertStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
}

// CaseType classifies the remediation a case tracks.
type CaseType string

const (
	CaseCardFreeze      CaseType = "CARD_FREEZE"
	CaseDispute         CaseType = "DISPUTE"
	CaseContactCustomer CaseType = "CONTACT_CUSTOMER"
	CaseFalsePositive   CaseType = "FALSE_POSITIVE"
)

// CaseStatus tracks a case's lifecycle.
type CaseStatus string

const (
	CaseOpen                CaseStatus = "OPEN"
	CaseClosed              CaseStatus = "CLOSED"
	CaseClosedFalsePositive CaseStatus = "CLOSED_FALSE_POSITIVE"
)

// CaseEvent is an append-only audit record on a case.
type CaseEvent struct {
	Actor   string         `json:"actor"`
	Action  string         `json:"action"`
	TS      time.Time      `json:"ts"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Case is a remediation record created by the action executor.
type Case struct {
	ID         string      `json:"id"`
	CustomerID string      `json:"customer_id"`
	TxnID      string      `json:"txn_id,omitempty"`
	Type       CaseType    `json:"type"`
	Status     CaseStatus  `json:"status"`
	ReasonCode string      `json:"reason_code"`
	Events     []CaseEvent `json:"events"`
	CreatedAt  time.Time   `json:"created_at"`
}

// KbDoc is a knowledge-base document. Read-only to the engine.
type KbDoc struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Anchor      string `json:"anchor"`
	ContentText string `json:"content_text"`
}

// Policy is a compliance rule consulted when proposing actions.
type Policy struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Title       string `json:"title"`
	ContentText string `json:"content_text"`
	Priority    int    `json:"priority"`
}

// Role is the caller's authorization level, taken from the auth token.
type Role string

const (
	RoleAgent Role = "agent"
	RoleLead  Role = "lead"
)
