// Package query holds the engine query AST and the builder that turns a
// SearchRequest into one. Nothing in this package performs I/O.
package query

import (
	"encoding/json"
	"fmt"
	"time"
)

// Node is a query AST node. Source renders the node in the engine's JSON
// query DSL (bool/must/filter, multi_match, term, range).
type Node interface {
	Source() map[string]interface{}
	isNode()
}

// MatchAll matches every document.
type MatchAll struct{}

// FieldBoost is a searchable field with its relevance weight.
type FieldBoost struct {
	Field string
	Boost float64
}

func (f FieldBoost) String() string {
	if f.Boost == 0 || f.Boost == 1 {
		return f.Field
	}
	return fmt.Sprintf("%s^%g", f.Field, f.Boost)
}

// FuzzinessAuto tunes the edit distance by term length.
const FuzzinessAuto = "AUTO"

// MultiMatch is a relevance match of free text across weighted fields.
type MultiMatch struct {
	Query     string
	Fields    []FieldBoost
	Fuzziness string
}

// Term is an exact match of a keyword field.
type Term struct {
	Field string
	Value string
}

// Range bounds a date field. Both bounds are inclusive and nil means unbounded.
type Range struct {
	Field string
	Gte   *time.Time
	Lte   *time.Time
}

// Bool combines clauses. Must and Filter clauses must all match; when Should
// is set, at least MinimumShouldMatch of them must match.
type Bool struct {
	Must               []Node
	Filter             []Node
	Should             []Node
	MinimumShouldMatch int
}

func (MatchAll) isNode()   {}
func (MultiMatch) isNode() {}
func (Term) isNode()       {}
func (Range) isNode()      {}
func (Bool) isNode()       {}

func (MatchAll) Source() map[string]interface{} {
	return map[string]interface{}{"match_all": map[string]interface{}{}}
}

func (m MultiMatch) Source() map[string]interface{} {
	fields := make([]string, 0, len(m.Fields))
	for _, f := range m.Fields {
		fields = append(fields, f.String())
	}
	body := map[string]interface{}{
		"query":  m.Query,
		"fields": fields,
	}
	if m.Fuzziness != "" {
		body["fuzziness"] = m.Fuzziness
	}
	return map[string]interface{}{"multi_match": body}
}

func (t Term) Source() map[string]interface{} {
	return map[string]interface{}{"term": map[string]interface{}{t.Field: t.Value}}
}

func (r Range) Source() map[string]interface{} {
	bounds := map[string]interface{}{}
	if r.Gte != nil {
		bounds["gte"] = r.Gte.UTC().Format(time.RFC3339)
	}
	if r.Lte != nil {
		bounds["lte"] = r.Lte.UTC().Format(time.RFC3339)
	}
	return map[string]interface{}{"range": map[string]interface{}{r.Field: bounds}}
}

func (b Bool) Source() map[string]interface{} {
	body := map[string]interface{}{}
	if len(b.Must) > 0 {
		body["must"] = sources(b.Must)
	}
	if len(b.Filter) > 0 {
		body["filter"] = sources(b.Filter)
	}
	if len(b.Should) > 0 {
		body["should"] = sources(b.Should)
		if b.MinimumShouldMatch > 0 {
			body["minimum_should_match"] = b.MinimumShouldMatch
		}
	}
	return map[string]interface{}{"bool": body}
}

func sources(nodes []Node) []interface{} {
	out := make([]interface{}, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Source())
	}
	return out
}

// SortField is one sort key. Field is an index field name or "_score"/"_id".
type SortField struct {
	Field string
	Desc  bool
}

// EngineQuery is a complete request body: query, sort and pagination.
type EngineQuery struct {
	Query Node
	From  int
	Size  int
	Sort  []SortField
}

// Source renders the full request body.
func (q *EngineQuery) Source() map[string]interface{} {
	sort := make([]interface{}, 0, len(q.Sort))
	for _, s := range q.Sort {
		order := "asc"
		if s.Desc {
			order = "desc"
		}
		sort = append(sort, map[string]interface{}{s.Field: map[string]interface{}{"order": order}})
	}
	body := map[string]interface{}{
		"from": q.From,
		"size": q.Size,
		"sort": sort,
	}
	if q.Query != nil {
		body["query"] = q.Query.Source()
	}
	return body
}

// MarshalJSON encodes the request body.
func (q *EngineQuery) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.Source())
}
