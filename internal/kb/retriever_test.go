package kb

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/linnemanlabs/go-core/log"

	"github.com/marlinbank/sift/internal/fraud"
	"github.com/marlinbank/sift/internal/fraud/memstore"
)

func seedDocs(t *testing.T, store *memstore.Store, docs []fraud.KbDoc) {
	t.Helper()
	for i := range docs {
		if err := store.PutKbDoc(context.Background(), &docs[i]); err != nil {
			t.Fatalf("PutKbDoc: %v", err)
		}
	}
}

func TestLookup_ScoresTitleOverBody(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	seedDocs(t, store, []fraud.KbDoc{
		{ID: "d1", Title: "Velocity Checks", ContentText: "General guidance."},
		{ID: "d2", Title: "Refund Handling", ContentText: "Mentions velocity once."},
		{ID: "d3", Title: "Travel Notices", ContentText: "Nothing relevant."},
	})
	r := NewRetriever(store, log.Nop())

	got := r.Lookup(context.Background(), []string{"velocity: 20 transactions in 24h"})
	if len(got.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(got.Results))
	}
	// Title matches weigh 3x body matches.
	if got.Results[0].DocID != "d1" {
		t.Errorf("top result = %s, want d1 (title match)", got.Results[0].DocID)
	}
	if got.Results[0].Score <= got.Results[1].Score {
		t.Errorf("scores not descending: %v, %v", got.Results[0].Score, got.Results[1].Score)
	}
}

func TestLookup_CitationsFromReasonKeywords(t *testing.T) {
	t.Parallel()

	r := NewRetriever(memstore.New(), log.Nop())
	got := r.Lookup(context.Background(), []string{
		"new device for customer",
		"unusual location: SE-Stockholm not seen in history",
		"velocity spike: amount over 3x recent mean",
	})

	// "amount over 3x" also trips the amount keyword; output is sorted and
	// deduped.
	want := []string{
		"Reference: Amount Threshold Procedures",
		"Reference: Device Fingerprinting Policy",
		"Reference: Geographic Anomaly Handbook",
		"Reference: Transaction Velocity Guidelines",
	}
	if len(got.Citations) != len(want) {
		t.Fatalf("citations = %v, want %v", got.Citations, want)
	}
	for i := range want {
		if got.Citations[i] != want[i] {
			t.Errorf("citation %d = %q, want %q (sorted, deduped)", i, got.Citations[i], want[i])
		}
	}
}

func TestLookup_CapsAtMaxResults(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	var docs []fraud.KbDoc
	for i := 0; i < 8; i++ {
		docs = append(docs, fraud.KbDoc{
			ID:          "d" + string(rune('0'+i)),
			Title:       "Device Policy",
			ContentText: "device guidance",
		})
	}
	seedDocs(t, store, docs)
	r := NewRetriever(store, log.Nop())

	got := r.Lookup(context.Background(), []string{"new device"})
	if len(got.Results) != MaxResults {
		t.Errorf("results = %d, want %d", len(got.Results), MaxResults)
	}
}

func TestSnippet_WindowedWithEllipses(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	long := strings.Repeat("padding ", 50) + "velocity threshold guidance lives here" + strings.Repeat(" trailer", 50)
	seedDocs(t, store, []fraud.KbDoc{{ID: "d1", Title: "Thresholds", ContentText: long}})
	r := NewRetriever(store, log.Nop())

	got := r.Lookup(context.Background(), []string{"velocity threshold"})
	if len(got.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(got.Results))
	}
	snip := got.Results[0].Snippet
	if len(snip) > SnippetLen {
		t.Errorf("snippet length = %d, want <= %d", len(snip), SnippetLen)
	}
	if !strings.Contains(snip, "velocity") {
		t.Errorf("snippet %q does not window the match", snip)
	}
	if !strings.HasPrefix(snip, "...") || !strings.HasSuffix(snip, "...") {
		t.Errorf("snippet %q missing ellipses on clipped edges", snip)
	}
}

type failingStore struct {
	*memstore.Store
}

func (f *failingStore) ListKbDocs(context.Context) ([]fraud.KbDoc, error) {
	return nil, errors.New("kb backend down")
}

func TestLookup_EmptyOnStoreError(t *testing.T) {
	t.Parallel()

	r := NewRetriever(&failingStore{memstore.New()}, log.Nop())
	got := r.Lookup(context.Background(), []string{"velocity"})
	if len(got.Results) != 0 {
		t.Errorf("results = %d, want 0 on store error", len(got.Results))
	}
	// Citations still derive from the reasons alone.
	if len(got.Citations) == 0 {
		t.Error("citations empty, want keyword citations")
	}
}

func TestSearch_Validation(t *testing.T) {
	t.Parallel()

	r := NewRetriever(memstore.New(), log.Nop())
	ctx := context.Background()

	var vErr *fraud.ValidationError
	if _, err := r.Search(ctx, "", 10); !errors.As(err, &vErr) {
		t.Errorf("empty query: err = %v, want ValidationError", err)
	}
	if _, err := r.Search(ctx, strings.Repeat("x", 501), 10); !errors.As(err, &vErr) {
		t.Errorf("oversized query: err = %v, want ValidationError", err)
	}
}

func TestSearch_FindsDocs(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	seedDocs(t, store, []fraud.KbDoc{
		{ID: "d1", Title: "Chargeback Procedures", Anchor: "chargebacks", ContentText: "How to file a chargeback."},
		{ID: "d2", Title: "Card Networks", ContentText: "Network overview."},
	})
	r := NewRetriever(store, log.Nop())

	results, err := r.Search(context.Background(), "chargeback filing", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 || results[0].DocID != "d1" {
		t.Fatalf("results = %+v, want d1 first", results)
	}
	if results[0].Anchor != "chargebacks" {
		t.Errorf("anchor = %q, want chargebacks", results[0].Anchor)
	}
}
