package search

import (
	"fmt"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/davidschrooten/docvault-search/internal/query"
)

// convertQuery converts an engine query AST into a Bleve query
func convertQuery(node query.Node) (blevequery.Query, error) {
	switch q := node.(type) {
	case nil, query.MatchAll:
		return bleve.NewMatchAllQuery(), nil
	case query.MultiMatch:
		return convertMultiMatch(q), nil
	case query.Term:
		return convertTerm(q), nil
	case query.Range:
		return convertRange(q), nil
	case query.Bool:
		return convertBool(q)
	default:
		return nil, fmt.Errorf("unsupported query node %T", node)
	}
}

// convertMultiMatch expands the text into one match per field and term so
// fuzziness can follow each term's length.
func convertMultiMatch(q query.MultiMatch) blevequery.Query {
	terms := strings.Fields(q.Query)
	if len(terms) == 0 {
		return bleve.NewMatchAllQuery()
	}

	disjuncts := make([]blevequery.Query, 0, len(terms)*len(q.Fields))
	for _, field := range q.Fields {
		for _, term := range terms {
			match := bleve.NewMatchQuery(term)
			match.SetField(field.Field)
			if q.Fuzziness == query.FuzzinessAuto {
				match.SetFuzziness(query.AutoFuzziness(term))
			}
			if field.Boost > 0 {
				match.SetBoost(field.Boost)
			}
			disjuncts = append(disjuncts, match)
		}
	}
	return bleve.NewDisjunctionQuery(disjuncts...)
}

func convertTerm(q query.Term) blevequery.Query {
	term := bleve.NewTermQuery(q.Value)
	term.SetField(q.Field)
	return term
}

func convertRange(q query.Range) blevequery.Query {
	if q.Gte == nil && q.Lte == nil {
		return bleve.NewMatchAllQuery()
	}

	var start, end time.Time
	if q.Gte != nil {
		start = *q.Gte
	}
	if q.Lte != nil {
		end = *q.Lte
	}
	inclusive := true
	rng := bleve.NewDateRangeInclusiveQuery(start, end, &inclusive, &inclusive)
	rng.SetField(q.Field)
	return rng
}

// convertBool joins Must and Filter clauses in one conjunction. Filter
// clauses match without scoring whenever a Must clause carries the score.
func convertBool(q query.Bool) (blevequery.Query, error) {
	conjuncts := make([]blevequery.Query, 0, len(q.Must)+len(q.Filter)+1)
	for _, node := range q.Must {
		sub, err := convertQuery(node)
		if err != nil {
			return nil, err
		}
		conjuncts = append(conjuncts, sub)
	}
	for _, node := range q.Filter {
		sub, err := convertQuery(node)
		if err != nil {
			return nil, err
		}
		if len(q.Must) > 0 {
			withoutScore(sub)
		}
		conjuncts = append(conjuncts, sub)
	}

	if len(q.Should) > 0 {
		should := make([]blevequery.Query, 0, len(q.Should))
		for _, node := range q.Should {
			sub, err := convertQuery(node)
			if err != nil {
				return nil, err
			}
			should = append(should, sub)
		}

		switch {
		case q.MinimumShouldMatch > 0:
			disjunction := bleve.NewDisjunctionQuery(should...)
			disjunction.SetMin(float64(q.MinimumShouldMatch))
			conjuncts = append(conjuncts, disjunction)
		case len(conjuncts) == 0:
			conjuncts = append(conjuncts, bleve.NewDisjunctionQuery(should...))
		default:
			// Optional clauses only contribute to the score.
			boolQuery := bleve.NewBooleanQuery()
			boolQuery.AddMust(conjuncts...)
			boolQuery.AddShould(should...)
			return boolQuery, nil
		}
	}

	switch len(conjuncts) {
	case 0:
		return bleve.NewMatchAllQuery(), nil
	case 1:
		return conjuncts[0], nil
	default:
		return bleve.NewConjunctionQuery(conjuncts...), nil
	}
}

// withoutScore zeroes the boost of every leaf under q. Compound queries
// do not apply their own boost, so the leaves carry it.
func withoutScore(q blevequery.Query) {
	switch q := q.(type) {
	case *blevequery.ConjunctionQuery:
		for _, c := range q.Conjuncts {
			withoutScore(c)
		}
	case *blevequery.DisjunctionQuery:
		for _, d := range q.Disjuncts {
			withoutScore(d)
		}
	case *blevequery.BooleanQuery:
		for _, c := range []blevequery.Query{q.Must, q.Should, q.MustNot} {
			if c != nil {
				withoutScore(c)
			}
		}
	case blevequery.BoostableQuery:
		q.SetBoost(0)
	}
}
