package domain

import (
	"encoding/json"
	"time"
)

// Hit is one normalized search hit. It serializes flat: the engine id and
// score next to the projected source fields.
type Hit struct {
	ID     string
	Score  float64
	Source map[string]interface{}
}

// MarshalJSON flattens the source fields into the hit object.
func (h Hit) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(h.Source)+2)
	for k, v := range h.Source {
		out[k] = v
	}
	out["_id"] = h.ID
	out["_score"] = h.Score
	return json.Marshal(out)
}

// SearchResult is the envelope returned to callers.
type SearchResult struct {
	Hits       []Hit `json:"hits"`
	Total      int   `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"totalPages"`
}

// TotalPages returns ceil(total/limit), or 0 for a non-positive limit.
func TotalPages(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// IDs returns the hit ids in result order. The slice is never nil.
func (r *SearchResult) IDs() []string {
	ids := make([]string, 0, len(r.Hits))
	for _, h := range r.Hits {
		ids = append(ids, h.ID)
	}
	return ids
}

// HistoryEntry is one logged search. Entries are never mutated.
type HistoryEntry struct {
	ID         string            `json:"id"`
	User       string            `json:"user"`
	Query      string            `json:"query"`
	Filters    map[string]string `json:"filters,omitempty"`
	ResultType ResultType        `json:"resultType"`
	ResultIDs  []string          `json:"resultIds"`
	Timestamp  time.Time         `json:"timestamp"`
}

// ResultRef is a history result id with its lazily resolved fields.
// Title is empty when the referenced record no longer exists.
type ResultRef struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}
