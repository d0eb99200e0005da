package fraud

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AlertListing is an alert with the customer and suspect-transaction
// summaries the analyst dashboard needs.
type AlertListing struct {
	Alert    Alert        `json:"alert"`
	Customer Customer     `json:"customer"`
	Suspect  *Transaction `json:"suspect_txn,omitempty"`
}

// TxnPage is one keyset-paginated page of transactions, newest first.
// NextCursor is empty on the last page.
type TxnPage struct {
	Transactions []Transaction `json:"transactions"`
	NextCursor   string        `json:"next_cursor,omitempty"`
}

// Store is the persistence boundary. Implementations are pgstore (durable)
// and memstore (dev/testing). Every method that performs more than one
// write does so in a single transaction.
type Store interface {
	// Entity reads.
	GetCustomer(ctx context.Context, id string) (*Customer, bool, error)
	GetCard(ctx context.Context, id string) (*Card, bool, error)
	GetTransaction(ctx context.Context, id string) (*Transaction, bool, error)
	GetAlert(ctx context.Context, id string) (*Alert, bool, error)
	GetAlertBySuspectTxn(ctx context.Context, txnID string) (*Alert, bool, error)
	ListCards(ctx context.Context, customerID string) ([]Card, error)
	ListAccounts(ctx context.Context, customerID string) ([]Account, error)
	ListAlerts(ctx context.Context, limit int) ([]AlertListing, error)
	ListKbDocs(ctx context.Context) ([]KbDoc, error)
	ListPolicies(ctx context.Context) ([]Policy, error)

	// Transactions for a customer, ts descending.
	ListTransactionsSince(ctx context.Context, customerID string, since time.Time, limit int) ([]Transaction, error)
	ListTransactionsPage(ctx context.Context, customerID, cursor string, limit int) (*TxnPage, error)

	// Triage runs and traces.
	CreateRun(ctx context.Context, run *TriageRun) error
	FinishRun(ctx context.Context, run *TriageRun) error
	GetRun(ctx context.Context, id string) (*TriageRun, bool, error)
	ActiveRunForAlert(ctx context.Context, alertID string) (string, bool, error)
	AppendTrace(ctx context.Context, trace *AgentTrace) error
	ListTraces(ctx context.Context, runID string) ([]AgentTrace, error)
	ListRuns(ctx context.Context, limit int) ([]TriageRun, error)

	// Alert lifecycle.
	SetAlertStatus(ctx context.Context, alertID string, status AlertStatus) error

	// Case units of work. Each call is all-or-nothing.
	FreezeCardWithCase(ctx context.Context, cardID string, c *Case, alertID string, alertStatus AlertStatus) error
	CreateCaseWithAlert(ctx context.Context, c *Case, alertID string, alertStatus AlertStatus) error
	OpenDisputeCaseForTxn(ctx context.Context, txnID string) (*Case, bool, error)
	ListCases(ctx context.Context, limit int) ([]Case, error)

	// Seeding / ingestion writes.
	PutCustomer(ctx context.Context, c *Customer) error
	PutCard(ctx context.Context, c *Card) error
	PutAccount(ctx context.Context, a *Account) error
	PutTransaction(ctx context.Context, t *Transaction) error
	PutAlert(ctx context.Context, a *Alert) error
	PutKbDoc(ctx context.Context, d *KbDoc) error
	PutPolicy(ctx context.Context, p *Policy) error
}

// EncodeTxnCursor builds the keyset cursor "{lastId}|{lastTsISO}" from the
// last transaction of a page.
func EncodeTxnCursor(t *Transaction) string {
	return t.ID + "|" + t.TS.UTC().Format(time.RFC3339Nano)
}

// DecodeTxnCursor splits a keyset cursor back into its id and timestamp.
func DecodeTxnCursor(cursor string) (id string, ts time.Time, err error) {
	i := strings.IndexByte(cursor, '|')
	if i <= 0 || i == len(cursor)-1 {
		return "", time.Time{}, &ValidationError{Fields: []string{"cursor"}}
	}
	ts, err = time.Parse(time.RFC3339Nano, cursor[i+1:])
	if err != nil {
		return "", time.Time{}, fmt.Errorf("cursor timestamp: %w", &ValidationError{Fields: []string{"cursor"}})
	}
	return cursor[:i], ts, nil
}
