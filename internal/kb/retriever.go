// Package kb retrieves knowledge-base documents that support a triage
// decision. Matching is plain case-insensitive substring scoring over doc
// titles and bodies; there is no index, the KB is small and read-only.
package kb

import (
	"context"
	"sort"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/marlinbank/sift/internal/fraud"
)

const (
	// MaxResults caps how many docs a lookup returns.
	MaxResults = 5

	// SnippetLen caps snippet length including ellipses.
	SnippetLen = 150

	titleWeight  = 3
	minTokenLen  = 4
	maxQueryLen  = 500
	maxSearchCap = 50
)

// fraudTerms are always matched in addition to tokens extracted from the
// risk reasons.
var fraudTerms = []string{
	"velocity", "device", "location", "merchant", "dispute",
	"freeze", "chargeback", "velocity spike", "unusual",
}

// citationsByKeyword maps reason keywords to contextual citations.
var citationsByKeyword = map[string]string{
	"velocity": "Reference: Transaction Velocity Guidelines",
	"device":   "Reference: Device Fingerprinting Policy",
	"location": "Reference: Geographic Anomaly Handbook",
	"merchant": "Reference: High-Risk Merchant Categories",
	"amount":   "Reference: Amount Threshold Procedures",
	"time":     "Reference: Off-Hours Activity Guidelines",
}

// Result is one scored document hit.
type Result struct {
	DocID   string  `json:"doc_id"`
	Title   string  `json:"title"`
	Anchor  string  `json:"anchor"`
	Snippet string  `json:"extract"`
	Score   float64 `json:"relevance_score"`
}

// Retrieval is the outcome of a reason-driven lookup.
type Retrieval struct {
	Results   []Result `json:"results"`
	Citations []string `json:"citations"`
}

// Retriever searches stored KB docs.
type Retriever struct {
	store  fraud.Store
	logger log.Logger
}

// NewRetriever builds a retriever over the given store.
func NewRetriever(store fraud.Store, logger log.Logger) *Retriever {
	if logger == nil {
		logger = log.Nop()
	}
	return &Retriever{store: store, logger: logger}
}

// Lookup retrieves up to MaxResults docs relevant to the given risk reasons,
// plus contextual citations keyed by reason keywords. It never fails: on
// store errors the retrieval is empty and the error is logged.
func (r *Retriever) Lookup(ctx context.Context, reasons []string) *Retrieval {
	terms := extractTerms(reasons)

	docs, err := r.store.ListKbDocs(ctx)
	if err != nil {
		r.logger.Error(ctx, err, "kb lookup failed, returning empty retrieval")
		return &Retrieval{Citations: citations(reasons)}
	}

	results := scoreDocs(docs, terms, MaxResults)
	return &Retrieval{Results: results, Citations: citations(reasons)}
}

// Search runs a free-text query for the KB search operation. The query must
// be 1-500 characters; limit is clamped to 50.
func (r *Retriever) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" || len(query) > maxQueryLen {
		return nil, &fraud.ValidationError{Fields: []string{"q"}}
	}
	if limit <= 0 || limit > maxSearchCap {
		limit = maxSearchCap
	}

	docs, err := r.store.ListKbDocs(ctx)
	if err != nil {
		return nil, err
	}

	terms := extractTerms([]string{query})
	return scoreDocs(docs, terms, limit), nil
}

// extractTerms pulls lowercase tokens of at least four characters from the
// inputs and appends the fixed fraud vocabulary.
func extractTerms(inputs []string) []string {
	seen := make(map[string]bool)
	var terms []string

	add := func(t string) {
		if t == "" || seen[t] {
			return
		}
		seen[t] = true
		terms = append(terms, t)
	}

	for _, in := range inputs {
		for _, tok := range strings.FieldsFunc(strings.ToLower(in), func(r rune) bool {
			return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
		}) {
			if len(tok) >= minTokenLen {
				add(tok)
			}
		}
	}
	for _, t := range fraudTerms {
		add(t)
	}
	return terms
}

func scoreDocs(docs []fraud.KbDoc, terms []string, limit int) []Result {
	type hit struct {
		doc   fraud.KbDoc
		score int
		first int // offset of first matched term in the body, -1 if title-only
	}

	var hits []hit
	for _, d := range docs {
		title := strings.ToLower(d.Title)
		body := strings.ToLower(d.ContentText)

		score := 0
		first := -1
		for _, t := range terms {
			score += titleWeight * strings.Count(title, t)
			score += strings.Count(body, t)
			if i := strings.Index(body, t); i >= 0 && (first == -1 || i < first) {
				first = i
			}
		}
		if score > 0 {
			hits = append(hits, hit{doc: d, score: score, first: first})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > limit {
		hits = hits[:limit]
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{
			DocID:   h.doc.ID,
			Title:   h.doc.Title,
			Anchor:  h.doc.Anchor,
			Snippet: snippet(h.doc.ContentText, h.first),
			Score:   float64(h.score),
		})
	}
	return results
}

// snippet windows up to SnippetLen characters around the first match,
// adding ellipses on clipped edges. The total stays within SnippetLen.
func snippet(body string, first int) string {
	if len(body) <= SnippetLen {
		return body
	}
	if first < 0 {
		first = 0
	}

	window := SnippetLen - 6 // room for leading and trailing "..."
	start := first - window/2
	if start < 0 {
		start = 0
	}
	end := start + window
	if end > len(body) {
		end = len(body)
		start = end - window
	}

	out := body[start:end]
	if start > 0 {
		out = "..." + out
	}
	if end < len(body) {
		out += "..."
	}
	return out
}

func citations(reasons []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, reason := range reasons {
		lower := strings.ToLower(reason)
		for kw, cite := range citationsByKeyword {
			if strings.Contains(lower, kw) && !seen[cite] {
				seen[cite] = true
				out = append(out, cite)
			}
		}
	}
	sort.Strings(out)
	return out
}
