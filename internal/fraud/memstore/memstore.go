// Package memstore provides an in-memory implementation of fraud.Store.
// Suitable for dev and testing; all mutating units of work hold one lock so
// they are atomic the same way the pg implementation's transactions are.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/marlinbank/sift/internal/fraud"
)

// Store holds the whole data model in memory.
type Store struct {
	mu        sync.RWMutex
	customers map[string]*fraud.Customer
	cards     map[string]*fraud.Card
	accounts  map[string]*fraud.Account
	txns      map[string]*fraud.Transaction
	alerts    map[string]*fraud.Alert
	runs      map[string]*fraud.TriageRun
	traces    map[string][]fraud.AgentTrace // run ID -> ordered traces
	cases     map[string]*fraud.Case
	kbDocs    []fraud.KbDoc
	policies  []fraud.Policy
}

// New initializes an empty in-memory Store.
func New() *Store {
	return &Store{
		customers: make(map[string]*fraud.Customer),
		cards:     make(map[string]*fraud.Card),
		accounts:  make(map[string]*fraud.Account),
		txns:      make(map[string]*fraud.Transaction),
		alerts:    make(map[string]*fraud.Alert),
		runs:      make(map[string]*fraud.TriageRun),
		traces:    make(map[string][]fraud.AgentTrace),
		cases:     make(map[string]*fraud.Case),
	}
}

// GetCustomer retrieves a customer by ID. Returns a copy.
func (s *Store) GetCustomer(_ context.Context, id string) (*fraud.Customer, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[id]
	if !ok {
		return nil, false, nil
	}
	cp := *c
	return &cp, true, nil
}

// GetCard retrieves a card by ID. Returns a copy.
func (s *Store) GetCard(_ context.Context, id string) (*fraud.Card, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cards[id]
	if !ok {
		return nil, false, nil
	}
	cp := *c
	return &cp, true, nil
}

// GetTransaction retrieves a transaction by ID. Returns a copy.
func (s *Store) GetTransaction(_ context.Context, id string) (*fraud.Transaction, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.txns[id]
	if !ok {
		return nil, false, nil
	}
	cp := *t
	return &cp, true, nil
}

// GetAlert retrieves an alert by ID. Returns a copy.
func (s *Store) GetAlert(_ context.Context, id string) (*fraud.Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, false, nil
	}
	cp := *a
	return &cp, true, nil
}

// GetAlertBySuspectTxn retrieves the alert flagging the given transaction.
func (s *Store) GetAlertBySuspectTxn(_ context.Context, txnID string) (*fraud.Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.alerts {
		if a.SuspectTxnID == txnID {
			cp := *a
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

// ListCards returns all cards owned by a customer.
func (s *Store) ListCards(_ context.Context, customerID string) ([]fraud.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []fraud.Card
	for _, c := range s.cards {
		if c.CustomerID == customerID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListAccounts returns all accounts owned by a customer.
func (s *Store) ListAccounts(_ context.Context, customerID string) ([]fraud.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []fraud.Account
	for _, a := range s.accounts {
		if a.CustomerID == customerID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListAlerts returns alerts newest first with customer and suspect summaries.
func (s *Store) ListAlerts(_ context.Context, limit int) ([]fraud.AlertListing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alerts := make([]*fraud.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		alerts = append(alerts, a)
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].CreatedAt.After(alerts[j].CreatedAt) })
	if limit > 0 && len(alerts) > limit {
		alerts = alerts[:limit]
	}

	out := make([]fraud.AlertListing, 0, len(alerts))
	for _, a := range alerts {
		listing := fraud.AlertListing{Alert: *a}
		if c, ok := s.customers[a.CustomerID]; ok {
			listing.Customer = *c
		}
		if t, ok := s.txns[a.SuspectTxnID]; ok {
			cp := *t
			listing.Suspect = &cp
		}
		out = append(out, listing)
	}
	return out, nil
}

// ListKbDocs returns every knowledge-base document.
func (s *Store) ListKbDocs(_ context.Context) ([]fraud.KbDoc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]fraud.KbDoc, len(s.kbDocs))
	copy(out, s.kbDocs)
	return out, nil
}

// ListPolicies returns every compliance policy, highest priority first.
func (s *Store) ListPolicies(_ context.Context) ([]fraud.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]fraud.Policy, len(s.policies))
	copy(out, s.policies)
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

// ListTransactionsSince returns a customer's transactions with ts >= since,
// newest first, capped at limit.
func (s *Store) ListTransactionsSince(_ context.Context, customerID string, since time.Time, limit int) ([]fraud.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []fraud.Transaction
	for _, t := range s.txns {
		if t.CustomerID == customerID && !t.TS.Before(since) {
			out = append(out, *t)
		}
	}
	sortTxnsDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListTransactionsPage returns one keyset page ordered by (ts desc, id desc).
func (s *Store) ListTransactionsPage(_ context.Context, customerID, cursor string, limit int) (*fraud.TxnPage, error) {
	if limit <= 0 {
		limit = 50
	}

	var afterID string
	var afterTS time.Time
	if cursor != "" {
		id, ts, err := fraud.DecodeTxnCursor(cursor)
		if err != nil {
			return nil, err
		}
		afterID, afterTS = id, ts
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []fraud.Transaction
	for _, t := range s.txns {
		if t.CustomerID == customerID {
			all = append(all, *t)
		}
	}
	sortTxnsDesc(all)

	var filtered []fraud.Transaction
	for _, t := range all {
		if cursor != "" && !beforeCursor(&t, afterTS, afterID) {
			continue
		}
		filtered = append(filtered, t)
	}

	page := filtered
	if len(page) > limit {
		page = page[:limit]
	}

	out := &fraud.TxnPage{Transactions: page}
	if len(filtered) > limit {
		out.NextCursor = fraud.EncodeTxnCursor(&page[len(page)-1])
	}
	return out, nil
}

// beforeCursor reports whether t sorts strictly after the cursor position in
// (ts desc, id desc) order.
func beforeCursor(t *fraud.Transaction, afterTS time.Time, afterID string) bool {
	if t.TS.Before(afterTS) {
		return true
	}
	return t.TS.Equal(afterTS) && t.ID < afterID
}

func sortTxnsDesc(txns []fraud.Transaction) {
	sort.Slice(txns, func(i, j int) bool {
		if !txns[i].TS.Equal(txns[j].TS) {
			return txns[i].TS.After(txns[j].TS)
		}
		return txns[i].ID > txns[j].ID
	})
}

// CreateRun inserts a new triage run. It fails with a ConflictError when the
// alert already has a run in flight.
func (s *Store) CreateRun(_ context.Context, run *fraud.TriageRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.runs {
		if r.AlertID == run.AlertID && !r.Terminal() {
			return &fraud.ConflictError{
				Msg:        "alert already has an active triage run",
				ExistingID: r.ID,
			}
		}
	}

	cp := copyRun(run)
	s.runs[run.ID] = cp
	return nil
}

// FinishRun sets the terminal fields of a run exactly once.
func (s *Store) FinishRun(_ context.Context, run *fraud.TriageRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.runs[run.ID]
	if !ok {
		return fraud.NotFoundf("triage run", run.ID)
	}
	if existing.Terminal() {
		return &fraud.ConflictError{Msg: "triage run already terminal", ExistingID: run.ID}
	}

	s.runs[run.ID] = copyRun(run)
	return nil
}

// GetRun retrieves a triage run by ID. Returns a copy.
func (s *Store) GetRun(_ context.Context, id string) (*fraud.TriageRun, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, false, nil
	}
	return copyRun(r), true, nil
}

// ActiveRunForAlert returns the in-flight run ID for an alert, if any.
func (s *Store) ActiveRunForAlert(_ context.Context, alertID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.runs {
		if r.AlertID == alertID && !r.Terminal() {
			return r.ID, true, nil
		}
	}
	return "", false, nil
}

// AppendTrace appends one step trace to a run.
func (s *Store) AppendTrace(_ context.Context, trace *fraud.AgentTrace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces[trace.RunID] = append(s.traces[trace.RunID], *trace)
	return nil
}

// ListTraces returns a run's traces in seq order.
func (s *Store) ListTraces(_ context.Context, runID string) ([]fraud.AgentTrace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.traces[runID]
	out := make([]fraud.AgentTrace, len(src))
	copy(out, src)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// ListRuns returns runs newest first, capped at limit.
func (s *Store) ListRuns(_ context.Context, limit int) ([]fraud.TriageRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]fraud.TriageRun, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, *copyRun(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetAlertStatus updates an alert's status.
func (s *Store) SetAlertStatus(_ context.Context, alertID string, status fraud.AlertStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return fraud.NotFoundf("alert", alertID)
	}
	a.Status = status
	return nil
}

// FreezeCardWithCase atomically freezes the card, records the case, and
// moves the alert. All-or-nothing under the store lock.
func (s *Store) FreezeCardWithCase(_ context.Context, cardID string, c *fraud.Case, alertID string, alertStatus fraud.AlertStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	card, ok := s.cards[cardID]
	if !ok {
		return fraud.NotFoundf("card", cardID)
	}
	if alertID != "" {
		if _, ok := s.alerts[alertID]; !ok {
			return fraud.NotFoundf("alert", alertID)
		}
	}

	card.Status = fraud.CardFrozen
	s.cases[c.ID] = copyCase(c)
	if alertID != "" {
		s.alerts[alertID].Status = alertStatus
	}
	return nil
}

// CreateCaseWithAlert atomically records the case and moves the alert.
func (s *Store) CreateCaseWithAlert(_ context.Context, c *fraud.Case, alertID string, alertStatus fraud.AlertStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if alertID != "" {
		if _, ok := s.alerts[alertID]; !ok {
			return fraud.NotFoundf("alert", alertID)
		}
	}

	s.cases[c.ID] = copyCase(c)
	if alertID != "" {
		s.alerts[alertID].Status = alertStatus
	}
	return nil
}

// OpenDisputeCaseForTxn finds a non-terminal dispute case on a transaction.
func (s *Store) OpenDisputeCaseForTxn(_ context.Context, txnID string) (*fraud.Case, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.cases {
		if c.Type == fraud.CaseDispute && c.TxnID == txnID && c.Status == fraud.CaseOpen {
			return copyCase(c), true, nil
		}
	}
	return nil, false, nil
}

// ListCases returns cases newest first, capped at limit.
func (s *Store) ListCases(_ context.Context, limit int) ([]fraud.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]fraud.Case, 0, len(s.cases))
	for _, c := range s.cases {
		out = append(out, *copyCase(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PutCustomer stores a copy of the customer.
func (s *Store) PutCustomer(_ context.Context, c *fraud.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.customers[c.ID] = &cp
	return nil
}

// PutCard stores a copy of the card.
func (s *Store) PutCard(_ context.Context, c *fraud.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.cards[c.ID] = &cp
	return nil
}

// PutAccount stores a copy of the account.
func (s *Store) PutAccount(_ context.Context, a *fraud.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

// PutTransaction stores a copy of the transaction.
func (s *Store) PutTransaction(_ context.Context, t *fraud.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.txns[t.ID] = &cp
	return nil
}

// PutAlert stores a copy of the alert.
func (s *Store) PutAlert(_ context.Context, a *fraud.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

// PutKbDoc appends a knowledge-base document.
func (s *Store) PutKbDoc(_ context.Context, d *fraud.KbDoc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kbDocs = append(s.kbDocs, *d)
	return nil
}

// PutPolicy appends a compliance policy.
func (s *Store) PutPolicy(_ context.Context, p *fraud.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies = append(s.policies, *p)
	return nil
}

func copyRun(r *fraud.TriageRun) *fraud.TriageRun {
	cp := *r
	if r.EndedAt != nil {
		t := *r.EndedAt
		cp.EndedAt = &t
	}
	cp.Reasons = append([]string(nil), r.Reasons...)
	return &cp
}

func copyCase(c *fraud.Case) *fraud.Case {
	cp := *c
	cp.Events = append([]fraud.CaseEvent(nil), c.Events...)
	return &cp
}
