// Package pgstore provides a PostgreSQL implementation of fraud.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marlinbank/sift/internal/fraud"
)

var tracer = otel.Tracer("github.com/marlinbank/sift/internal/fraud/pgstore")

//go:embed schema.sql
var schema string

const pgUniqueViolation = "23505"

// Store persists the fraud domain in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL, applies the schema, and returns a ready Store.
// Queries are traced via otelpgx alongside the per-method store spans.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func spanErr(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

const customerColumns = `id, name, email_masked, kyc_level, created_at`

// GetCustomer retrieves a customer by ID.
func (s *Store) GetCustomer(ctx context.Context, id string) (*fraud.Customer, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetCustomer", "SELECT")
	defer span.End()

	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`
	var c fraud.Customer
	err := s.pool.QueryRow(ctx, query, id).Scan(&c.ID, &c.Name, &c.EmailMasked, &c.KYCLevel, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		spanErr(span, err)
		return nil, false, fmt.Errorf("get customer: %w", err)
	}
	return &c, true, nil
}

const cardColumns = `id, customer_id, last4, network, status, created_at`

// GetCard retrieves a card by ID.
func (s *Store) GetCard(ctx context.Context, id string) (*fraud.Card, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetCard", "SELECT")
	defer span.End()

	query := `SELECT ` + cardColumns + ` FROM cards WHERE id = $1`
	var c fraud.Card
	err := s.pool.QueryRow(ctx, query, id).Scan(&c.ID, &c.CustomerID, &c.Last4, &c.Network, &c.Status, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		spanErr(span, err)
		return nil, false, fmt.Errorf("get card: %w", err)
	}
	return &c, true, nil
}

const txnColumns = `id, customer_id, card_id, mcc, merchant, amount_minor_units, currency, ts, device_id, country, city`

func scanTxn(row pgx.Row) (*fraud.Transaction, error) {
	var t fraud.Transaction
	err := row.Scan(&t.ID, &t.CustomerID, &t.CardID, &t.MCC, &t.Merchant,
		&t.AmountMinorUnits, &t.Currency, &t.TS, &t.DeviceID, &t.Country, &t.City)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTransaction retrieves a transaction by ID.
func (s *Store) GetTransaction(ctx context.Context, id string) (*fraud.Transaction, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetTransaction", "SELECT")
	defer span.End()

	query := `SELECT ` + txnColumns + ` FROM transactions WHERE id = $1`
	t, err := scanTxn(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		spanErr(span, err)
		return nil, false, fmt.Errorf("get transaction: %w", err)
	}
	return t, true, nil
}

const alertColumns = `id, customer_id, suspect_txn_id, risk, status, created_at`

func scanAlert(row pgx.Row) (*fraud.Alert, error) {
	var a fraud.Alert
	err := row.Scan(&a.ID, &a.CustomerID, &a.SuspectTxnID, &a.Risk, &a.Status, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAlert retrieves an alert by ID.
func (s *Store) GetAlert(ctx context.Context, id string) (*fraud.Alert, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetAlert", "SELECT")
	defer span.End()

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`
	a, err := scanAlert(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		spanErr(span, err)
		return nil, false, fmt.Errorf("get alert: %w", err)
	}
	return a, true, nil
}

// GetAlertBySuspectTxn retrieves the newest alert flagging the transaction.
func (s *Store) GetAlertBySuspectTxn(ctx context.Context, txnID string) (*fraud.Alert, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetAlertBySuspectTxn", "SELECT")
	defer span.End()

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE suspect_txn_id = $1 ORDER BY created_at DESC LIMIT 1`
	a, err := scanAlert(s.pool.QueryRow(ctx, query, txnID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		spanErr(span, err)
		return nil, false, fmt.Errorf("get alert by suspect txn: %w", err)
	}
	return a, true, nil
}

// ListCards returns all cards owned by a customer.
func (s *Store) ListCards(ctx context.Context, customerID string) ([]fraud.Card, error) {
	ctx, span := startSpan(ctx, "pgstore.ListCards", "SELECT")
	defer span.End()

	query := `SELECT ` + cardColumns + ` FROM cards WHERE customer_id = $1 ORDER BY created_at, id`
	rows, err := s.pool.Query(ctx, query, customerID)
	if err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	var cards []fraud.Card
	for rows.Next() {
		var c fraud.Card
		if err := rows.Scan(&c.ID, &c.CustomerID, &c.Last4, &c.Network, &c.Status, &c.CreatedAt); err != nil {
			spanErr(span, err)
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("list cards: %w", err)
	}
	return cards, nil
}

// ListAccounts returns all accounts owned by a customer.
func (s *Store) ListAccounts(ctx context.Context, customerID string) ([]fraud.Account, error) {
	ctx, span := startSpan(ctx, "pgstore.ListAccounts", "SELECT")
	defer span.End()

	query := `SELECT id, customer_id, balance_minor_units, currency FROM accounts WHERE customer_id = $1 ORDER BY id`
	rows, err := s.pool.Query(ctx, query, customerID)
	if err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []fraud.Account
	for rows.Next() {
		var a fraud.Account
		if err := rows.Scan(&a.ID, &a.CustomerID, &a.BalanceMinorUnits, &a.Currency); err != nil {
			spanErr(span, err)
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// ListAlerts returns the newest alerts joined with their customer and
// suspect-transaction summaries.
func (s *Store) ListAlerts(ctx context.Context, limit int) ([]fraud.AlertListing, error) {
	ctx, span := startSpan(ctx, "pgstore.ListAlerts", "SELECT")
	defer span.End()

	query := `SELECT
		a.id, a.customer_id, a.suspect_txn_id, a.risk, a.status, a.created_at,
		c.id, c.name, c.email_masked, c.kyc_level, c.created_at,
		t.id, t.customer_id, t.card_id, t.mcc, t.merchant, t.amount_minor_units,
		t.currency, t.ts, t.device_id, t.country, t.city
	FROM alerts a
	JOIN customers c ON c.id = a.customer_id
	LEFT JOIN transactions t ON t.id = a.suspect_txn_id
	ORDER BY a.created_at DESC, a.id DESC
	LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var listings []fraud.AlertListing
	for rows.Next() {
		var l fraud.AlertListing
		var txnID *string
		var txn fraud.Transaction
		var txnCustomer, txnCard, txnMCC, txnMerchant, txnCurrency, txnDevice, txnCountry, txnCity *string
		var txnAmount *int64
		var txnTS *time.Time
		err := rows.Scan(
			&l.Alert.ID, &l.Alert.CustomerID, &l.Alert.SuspectTxnID, &l.Alert.Risk, &l.Alert.Status, &l.Alert.CreatedAt,
			&l.Customer.ID, &l.Customer.Name, &l.Customer.EmailMasked, &l.Customer.KYCLevel, &l.Customer.CreatedAt,
			&txnID, &txnCustomer, &txnCard, &txnMCC, &txnMerchant, &txnAmount,
			&txnCurrency, &txnTS, &txnDevice, &txnCountry, &txnCity,
		)
		if err != nil {
			spanErr(span, err)
			return nil, fmt.Errorf("scan alert listing: %w", err)
		}
		if txnID != nil {
			txn = fraud.Transaction{
				ID: *txnID, CustomerID: *txnCustomer, CardID: *txnCard,
				MCC: *txnMCC, Merchant: *txnMerchant, AmountMinorUnits: *txnAmount,
				Currency: *txnCurrency, TS: *txnTS, DeviceID: *txnDevice,
				Country: *txnCountry, City: *txnCity,
			}
			l.Suspect = &txn
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return listings, nil
}

// ListKbDocs returns every knowledge-base document.
func (s *Store) ListKbDocs(ctx context.Context) ([]fraud.KbDoc, error) {
	ctx, span := startSpan(ctx, "pgstore.ListKbDocs", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT id, title, anchor, content_text FROM kb_docs ORDER BY id`)
	if err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("list kb docs: %w", err)
	}
	defer rows.Close()

	var docs []fraud.KbDoc
	for rows.Next() {
		var d fraud.KbDoc
		if err := rows.Scan(&d.ID, &d.Title, &d.Anchor, &d.ContentText); err != nil {
			spanErr(span, err)
			return nil, fmt.Errorf("scan kb doc: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("list kb docs: %w", err)
	}
	return docs, nil
}

// ListPolicies returns every compliance policy ordered by priority.
func (s *Store) ListPolicies(ctx context.Context) ([]fraud.Policy, error) {
	ctx, span := startSpan(ctx, "pgstore.ListPolicies", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT id, code, title, content_text, priority FROM policies ORDER BY priority, id`)
	if err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	var policies []fraud.Policy
	for rows.Next() {
		var p fraud.Policy
		if err := rows.Scan(&p.ID, &p.Code, &p.Title, &p.ContentText, &p.Priority); err != nil {
			spanErr(span, err)
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("list policies: %w", err)
	}
	return policies, nil
}

func (s *Store) queryTxns(ctx context.Context, span trace.Span, query string, args ...any) ([]fraud.Transaction, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []fraud.Transaction
	for rows.Next() {
		var t fraud.Transaction
		err := rows.Scan(&t.ID, &t.CustomerID, &t.CardID, &t.MCC, &t.Merchant,
			&t.AmountMinorUnits, &t.Currency, &t.TS, &t.DeviceID, &t.Country, &t.City)
		if err != nil {
			spanErr(span, err)
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txns, nil
}

// ListTransactionsSince returns a customer's transactions at or after the
// given instant, newest first.
func (s *Store) ListTransactionsSince(ctx context.Context, customerID string, since time.Time, limit int) ([]fraud.Transaction, error) {
	ctx, span := startSpan(ctx, "pgstore.ListTransactionsSince", "SELECT")
	defer span.End()

	query := `SELECT ` + txnColumns + ` FROM transactions
	WHERE customer_id = $1 AND ts >= $2
	ORDER BY ts DESC, id DESC
	LIMIT $3`
	return s.queryTxns(ctx, span, query, customerID, since, limit)
}

// ListTransactionsPage returns one keyset page of a customer's transactions,
// newest first. An empty cursor starts from the newest transaction.
func (s *Store) ListTransactionsPage(ctx context.Context, customerID, cursor string, limit int) (*fraud.TxnPage, error) {
	ctx, span := startSpan(ctx, "pgstore.ListTransactionsPage", "SELECT")
	defer span.End()

	var (
		txns []fraud.Transaction
		err  error
	)
	if cursor == "" {
		query := `SELECT ` + txnColumns + ` FROM transactions
		WHERE customer_id = $1
		ORDER BY ts DESC, id DESC
		LIMIT $2`
		txns, err = s.queryTxns(ctx, span, query, customerID, limit+1)
	} else {
		lastID, lastTS, derr := fraud.DecodeTxnCursor(cursor)
		if derr != nil {
			return nil, derr
		}
		query := `SELECT ` + txnColumns + ` FROM transactions
		WHERE customer_id = $1 AND (ts, id) < ($2, $3)
		ORDER BY ts DESC, id DESC
		LIMIT $4`
		txns, err = s.queryTxns(ctx, span, query, customerID, lastTS, lastID, limit+1)
	}
	if err != nil {
		return nil, err
	}

	page := &fraud.TxnPage{Transactions: txns}
	if len(txns) > limit {
		page.Transactions = txns[:limit]
		page.NextCursor = fraud.EncodeTxnCursor(&txns[limit-1])
	}
	return page, nil
}

const runColumns = `id, alert_id, started_at, ended_at, risk, reasons, proposed_action, confidence, fallback_used, latency_ms`

func scanRun(row pgx.Row) (*fraud.TriageRun, error) {
	var r fraud.TriageRun
	err := row.Scan(&r.ID, &r.AlertID, &r.StartedAt, &r.EndedAt, &r.Risk,
		&r.Reasons, &r.ProposedAction, &r.Confidence, &r.FallbackUsed, &r.LatencyMs)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRun inserts a new in-flight run. It returns a ConflictError naming
// the existing run when the alert already has one in flight.
func (s *Store) CreateRun(ctx context.Context, run *fraud.TriageRun) error {
	ctx, span := startSpan(ctx, "pgstore.CreateRun", "INSERT")
	defer span.End()

	query := `INSERT INTO triage_runs (id, alert_id, started_at, reasons) VALUES ($1, $2, $3, '{}')`
	_, err := s.pool.Exec(ctx, query, run.ID, run.AlertID, run.StartedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		existing, _, lookupErr := s.ActiveRunForAlert(ctx, run.AlertID)
		if lookupErr != nil {
			spanErr(span, lookupErr)
			return lookupErr
		}
		return &fraud.ConflictError{Msg: "triage already running for alert " + run.AlertID, ExistingID: existing}
	}
	if err != nil {
		spanErr(span, err)
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// FinishRun writes the terminal fields of a run. The update lands only if
// the run is still in flight; a second terminal write is rejected.
func (s *Store) FinishRun(ctx context.Context, run *fraud.TriageRun) error {
	ctx, span := startSpan(ctx, "pgstore.FinishRun", "UPDATE")
	defer span.End()

	query := `UPDATE triage_runs SET
		ended_at = $2, risk = $3, reasons = $4, proposed_action = $5,
		confidence = $6, fallback_used = $7, latency_ms = $8
	WHERE id = $1 AND ended_at IS NULL`
	reasons := run.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	tag, err := s.pool.Exec(ctx, query, run.ID, run.EndedAt, run.Risk, reasons,
		run.ProposedAction, run.Confidence, run.FallbackUsed, run.LatencyMs)
	if err != nil {
		spanErr(span, err)
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		err := fmt.Errorf("run %q missing or already terminal", run.ID)
		spanErr(span, err)
		return err
	}
	return nil
}

// GetRun retrieves a triage run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*fraud.TriageRun, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetRun", "SELECT")
	defer span.End()

	query := `SELECT ` + runColumns + ` FROM triage_runs WHERE id = $1`
	r, err := scanRun(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		spanErr(span, err)
		return nil, false, fmt.Errorf("get run: %w", err)
	}
	return r, true, nil
}

// ActiveRunForAlert returns the ID of the alert's in-flight run, if any.
func (s *Store) ActiveRunForAlert(ctx context.Context, alertID string) (string, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.ActiveRunForAlert", "SELECT")
	defer span.End()

	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM triage_runs WHERE alert_id = $1 AND ended_at IS NULL`, alertID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		spanErr(span, err)
		return "", false, fmt.Errorf("active run for alert: %w", err)
	}
	return id, true, nil
}

// AppendTrace inserts one pipeline-step record for a run.
func (s *Store) AppendTrace(ctx context.Context, tr *fraud.AgentTrace) error {
	ctx, span := startSpan(ctx, "pgstore.AppendTrace", "INSERT")
	defer span.End()

	var detail []byte
	if tr.Detail != nil {
		var err error
		detail, err = json.Marshal(tr.Detail)
		if err != nil {
			spanErr(span, err)
			return fmt.Errorf("marshal trace detail: %w", err)
		}
	}
	query := `INSERT INTO agent_traces (run_id, seq, step, ok, duration_ms, detail) VALUES ($1,$2,$3,$4,$5,$6)`
	if _, err := s.pool.Exec(ctx, query, tr.RunID, tr.Seq, tr.Step, tr.OK, tr.DurationMs, detail); err != nil {
		spanErr(span, err)
		return fmt.Errorf("append trace: %w", err)
	}
	return nil
}

// ListTraces returns a run's step records in seq order.
func (s *Store) ListTraces(ctx context.Context, runID string) ([]fraud.AgentTrace, error) {
	ctx, span := startSpan(ctx, "pgstore.ListTraces", "SELECT")
	defer span.End()

	query := `SELECT run_id, seq, step, ok, duration_ms, detail FROM agent_traces WHERE run_id = $1 ORDER BY seq`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	var traces []fraud.AgentTrace
	for rows.Next() {
		var tr fraud.AgentTrace
		var detail []byte
		if err := rows.Scan(&tr.RunID, &tr.Seq, &tr.Step, &tr.OK, &tr.DurationMs, &detail); err != nil {
			spanErr(span, err)
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &tr.Detail); err != nil {
				spanErr(span, err)
				return nil, fmt.Errorf("unmarshal trace detail: %w", err)
			}
		}
		traces = append(traces, tr)
	}
	if err := rows.Err(); err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("list traces: %w", err)
	}
	return traces, nil
}

// ListRuns returns the newest triage runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]fraud.TriageRun, error) {
	ctx, span := startSpan(ctx, "pgstore.ListRuns", "SELECT")
	defer span.End()

	query := `SELECT ` + runColumns + ` FROM triage_runs ORDER BY started_at DESC, id DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []fraud.TriageRun
	for rows.Next() {
		var r fraud.TriageRun
		err := rows.Scan(&r.ID, &r.AlertID, &r.StartedAt, &r.EndedAt, &r.Risk,
			&r.Reasons, &r.ProposedAction, &r.Confidence, &r.FallbackUsed, &r.LatencyMs)
		if err != nil {
			spanErr(span, err)
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// SetAlertStatus moves an alert to a new lifecycle status.
func (s *Store) SetAlertStatus(ctx context.Context, alertID string, status fraud.AlertStatus) error {
	ctx, span := startSpan(ctx, "pgstore.SetAlertStatus", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `UPDATE alerts SET status = $2 WHERE id = $1`, alertID, status)
	if err != nil {
		spanErr(span, err)
		return fmt.Errorf("set alert status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fraud.NotFoundf("alert", alertID)
	}
	return nil
}

func insertCase(ctx context.Context, tx pgx.Tx, c *fraud.Case) error {
	events := c.Events
	if events == nil {
		events = []fraud.CaseEvent{}
	}
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshal case events: %w", err)
	}
	query := `INSERT INTO cases (id, customer_id, txn_id, type, status, reason_code, events, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err = tx.Exec(ctx, query, c.ID, c.CustomerID, c.TxnID, c.Type, c.Status, c.ReasonCode, eventsJSON, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

func updateAlertStatusTx(ctx context.Context, tx pgx.Tx, alertID string, status fraud.AlertStatus) error {
	tag, err := tx.Exec(ctx, `UPDATE alerts SET status = $2 WHERE id = $1`, alertID, status)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fraud.NotFoundf("alert", alertID)
	}
	return nil
}

// FreezeCardWithCase freezes a card, records the case, and resolves the
// alert in one transaction.
func (s *Store) FreezeCardWithCase(ctx context.Context, cardID string, c *fraud.Case, alertID string, alertStatus fraud.AlertStatus) error {
	ctx, span := startSpan(ctx, "pgstore.FreezeCardWithCase", "UPDATE")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		spanErr(span, err)
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	tag, err := tx.Exec(ctx, `UPDATE cards SET status = $2 WHERE id = $1`, cardID, fraud.CardFrozen)
	if err != nil {
		spanErr(span, err)
		return fmt.Errorf("freeze card: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fraud.NotFoundf("card", cardID)
	}

	// alertID is optional: a freeze may happen without an originating alert.
	if alertID != "" {
		if err := updateAlertStatusTx(ctx, tx, alertID, alertStatus); err != nil {
			spanErr(span, err)
			return err
		}
	}

	if err := insertCase(ctx, tx, c); err != nil {
		spanErr(span, err)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		spanErr(span, err)
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// CreateCaseWithAlert records a case and moves its alert in one transaction.
func (s *Store) CreateCaseWithAlert(ctx context.Context, c *fraud.Case, alertID string, alertStatus fraud.AlertStatus) error {
	ctx, span := startSpan(ctx, "pgstore.CreateCaseWithAlert", "INSERT")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		spanErr(span, err)
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	// Disputes for transactions with no originating alert pass an empty ID.
	if alertID != "" {
		if err := updateAlertStatusTx(ctx, tx, alertID, alertStatus); err != nil {
			spanErr(span, err)
			return err
		}
	}

	if err := insertCase(ctx, tx, c); err != nil {
		spanErr(span, err)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		spanErr(span, err)
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const caseColumns = `id, customer_id, txn_id, type, status, reason_code, events, created_at`

func scanCase(row pgx.Row) (*fraud.Case, error) {
	var c fraud.Case
	var events []byte
	err := row.Scan(&c.ID, &c.CustomerID, &c.TxnID, &c.Type, &c.Status, &c.ReasonCode, &events, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(events) > 0 {
		if err := json.Unmarshal(events, &c.Events); err != nil {
			return nil, fmt.Errorf("unmarshal case events: %w", err)
		}
	}
	return &c, nil
}

// OpenDisputeCaseForTxn returns the existing dispute case for a transaction,
// if one was already opened.
func (s *Store) OpenDisputeCaseForTxn(ctx context.Context, txnID string) (*fraud.Case, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.OpenDisputeCaseForTxn", "SELECT")
	defer span.End()

	query := `SELECT ` + caseColumns + ` FROM cases WHERE txn_id = $1 AND type = $2 ORDER BY created_at LIMIT 1`
	c, err := scanCase(s.pool.QueryRow(ctx, query, txnID, fraud.CaseDispute))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		spanErr(span, err)
		return nil, false, fmt.Errorf("dispute case for txn: %w", err)
	}
	return c, true, nil
}

// ListCases returns the newest cases.
func (s *Store) ListCases(ctx context.Context, limit int) ([]fraud.Case, error) {
	ctx, span := startSpan(ctx, "pgstore.ListCases", "SELECT")
	defer span.End()

	query := `SELECT ` + caseColumns + ` FROM cases ORDER BY created_at DESC, id DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	var cases []fraud.Case
	for rows.Next() {
		var c fraud.Case
		var events []byte
		if err := rows.Scan(&c.ID, &c.CustomerID, &c.TxnID, &c.Type, &c.Status, &c.ReasonCode, &events, &c.CreatedAt); err != nil {
			spanErr(span, err)
			return nil, fmt.Errorf("scan case: %w", err)
		}
		if len(events) > 0 {
			if err := json.Unmarshal(events, &c.Events); err != nil {
				spanErr(span, err)
				return nil, fmt.Errorf("unmarshal case events: %w", err)
			}
		}
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("list cases: %w", err)
	}
	return cases, nil
}

// PutCustomer inserts or updates a customer.
func (s *Store) PutCustomer(ctx context.Context, c *fraud.Customer) error {
	ctx, span := startSpan(ctx, "pgstore.PutCustomer", "UPSERT")
	defer span.End()

	query := `INSERT INTO customers (id, name, email_masked, kyc_level, created_at)
	VALUES ($1,$2,$3,$4,$5)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name, email_masked = EXCLUDED.email_masked, kyc_level = EXCLUDED.kyc_level`
	if _, err := s.pool.Exec(ctx, query, c.ID, c.Name, c.EmailMasked, c.KYCLevel, c.CreatedAt); err != nil {
		spanErr(span, err)
		return fmt.Errorf("put customer: %w", err)
	}
	return nil
}

// PutCard inserts or updates a card.
func (s *Store) PutCard(ctx context.Context, c *fraud.Card) error {
	ctx, span := startSpan(ctx, "pgstore.PutCard", "UPSERT")
	defer span.End()

	query := `INSERT INTO cards (id, customer_id, last4, network, status, created_at)
	VALUES ($1,$2,$3,$4,$5,$6)
	ON CONFLICT (id) DO UPDATE SET
		last4 = EXCLUDED.last4, network = EXCLUDED.network, status = EXCLUDED.status`
	if _, err := s.pool.Exec(ctx, query, c.ID, c.CustomerID, c.Last4, c.Network, c.Status, c.CreatedAt); err != nil {
		spanErr(span, err)
		return fmt.Errorf("put card: %w", err)
	}
	return nil
}

// PutAccount inserts or updates an account.
func (s *Store) PutAccount(ctx context.Context, a *fraud.Account) error {
	ctx, span := startSpan(ctx, "pgstore.PutAccount", "UPSERT")
	defer span.End()

	query := `INSERT INTO accounts (id, customer_id, balance_minor_units, currency)
	VALUES ($1,$2,$3,$4)
	ON CONFLICT (id) DO UPDATE SET
		balance_minor_units = EXCLUDED.balance_minor_units, currency = EXCLUDED.currency`
	if _, err := s.pool.Exec(ctx, query, a.ID, a.CustomerID, a.BalanceMinorUnits, a.Currency); err != nil {
		spanErr(span, err)
		return fmt.Errorf("put account: %w", err)
	}
	return nil
}

// PutTransaction inserts or updates a transaction.
func (s *Store) PutTransaction(ctx context.Context, t *fraud.Transaction) error {
	ctx, span := startSpan(ctx, "pgstore.PutTransaction", "UPSERT")
	defer span.End()

	query := `INSERT INTO transactions (` + txnColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	ON CONFLICT (id) DO NOTHING`
	_, err := s.pool.Exec(ctx, query, t.ID, t.CustomerID, t.CardID, t.MCC, t.Merchant,
		t.AmountMinorUnits, t.Currency, t.TS, t.DeviceID, t.Country, t.City)
	if err != nil {
		spanErr(span, err)
		return fmt.Errorf("put transaction: %w", err)
	}
	return nil
}

// PutAlert inserts or updates an alert.
func (s *Store) PutAlert(ctx context.Context, a *fraud.Alert) error {
	ctx, span := startSpan(ctx, "pgstore.PutAlert", "UPSERT")
	defer span.End()

	query := `INSERT INTO alerts (id, customer_id, suspect_txn_id, risk, status, created_at)
	VALUES ($1,$2,$3,$4,$5,$6)
	ON CONFLICT (id) DO UPDATE SET
		risk = EXCLUDED.risk, status = EXCLUDED.status`
	if _, err := s.pool.Exec(ctx, query, a.ID, a.CustomerID, a.SuspectTxnID, a.Risk, a.Status, a.CreatedAt); err != nil {
		spanErr(span, err)
		return fmt.Errorf("put alert: %w", err)
	}
	return nil
}

// PutKbDoc inserts or updates a knowledge-base document.
func (s *Store) PutKbDoc(ctx context.Context, d *fraud.KbDoc) error {
	ctx, span := startSpan(ctx, "pgstore.PutKbDoc", "UPSERT")
	defer span.End()

	query := `INSERT INTO kb_docs (id, title, anchor, content_text)
	VALUES ($1,$2,$3,$4)
	ON CONFLICT (id) DO UPDATE SET
		title = EXCLUDED.title, anchor = EXCLUDED.anchor, content_text = EXCLUDED.content_text`
	if _, err := s.pool.Exec(ctx, query, d.ID, d.Title, d.Anchor, d.ContentText); err != nil {
		spanErr(span, err)
		return fmt.Errorf("put kb doc: %w", err)
	}
	return nil
}

// PutPolicy inserts or updates a compliance policy.
func (s *Store) PutPolicy(ctx context.Context, p *fraud.Policy) error {
	ctx, span := startSpan(ctx, "pgstore.PutPolicy", "UPSERT")
	defer span.End()

	query := `INSERT INTO policies (id, code, title, content_text, priority)
	VALUES ($1,$2,$3,$4,$5)
	ON CONFLICT (id) DO UPDATE SET
		code = EXCLUDED.code, title = EXCLUDED.title,
		content_text = EXCLUDED.content_text, priority = EXCLUDED.priority`
	if _, err := s.pool.Exec(ctx, query, p.ID, p.Code, p.Title, p.ContentText, p.Priority); err != nil {
		spanErr(span, err)
		return fmt.Errorf("put policy: %w", err)
	}
	return nil
}
