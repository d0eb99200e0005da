package triageapi

import (
	"net/http"
	"strconv"

	"github.com/marlinbank/sift/internal/fraud"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

// searchResult is the wire shape for one knowledge-base hit.
type searchResult struct {
	DocID          string  `json:"docId"`
	Title          string  `json:"title"`
	Anchor         string  `json:"anchor"`
	Extract        string  `json:"extract"`
	RelevanceScore float64 `json:"relevanceScore"`
}

func (a *API) handleKbSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			a.writeError(w, r, &fraud.ValidationError{Fields: []string{"limit"}})
			return
		}
		limit = n
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	results, err := a.retriever.Search(r.Context(), query, limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	out := make([]searchResult, 0, len(results))
	for _, res := range results {
		out = append(out, searchResult{
			DocID:          res.DocID,
			Title:          res.Title,
			Anchor:         res.Anchor,
			Extract:        res.Snippet,
			RelevanceScore: res.Score,
		})
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"results":      out,
		"totalResults": len(out),
		"query":        query,
	})
}
