package query

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/davidschrooten/docvault-search/internal/domain"
)

// Builder translates search requests for one target into engine queries.
type Builder struct {
	textFields   []FieldBoost
	filterFields map[string]string
	dateField    string
	sortFields   map[string]string
}

// NewBuilder returns the builder for a target. Titles weigh twice as much as
// body text on both targets.
func NewBuilder(target domain.Target) *Builder {
	b := &Builder{
		filterFields: map[string]string{
			domain.FilterCategory:   FieldCategory,
			domain.FilterAuthor:     FieldAuthor,
			domain.FilterDocumentID: FieldDocumentID,
			domain.FilterLevel:      FieldLevel,
		},
		dateField: FieldCreatedDate,
		sortFields: map[string]string{
			"createdDate": FieldCreatedDate,
			"pageNumber":  FieldPageNumber,
			"relevance":   FieldScore,
			"_score":      FieldScore,
			"_id":         FieldID,
		},
	}

	switch target {
	case domain.TargetSections:
		b.textFields = []FieldBoost{
			{Field: FieldTitle, Boost: 2},
			{Field: FieldContent, Boost: 1},
			{Field: FieldSummary, Boost: 1},
			{Field: FieldTags, Boost: 1},
		}
	default:
		b.textFields = []FieldBoost{
			{Field: FieldTitle, Boost: 2},
			{Field: FieldContent, Boost: 1},
			{Field: FieldKeywords, Boost: 1},
		}
	}
	return b
}

// Build validates req and produces the engine query. The permission clause
// is appended after every caller filter and is not derived from req.Filters.
func (b *Builder) Build(req domain.SearchRequest) (*EngineQuery, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var relevance Node = MatchAll{}
	if text := strings.TrimSpace(req.QueryText); text != "" {
		relevance = MultiMatch{
			Query:     text,
			Fields:    b.textFields,
			Fuzziness: FuzzinessAuto,
		}
	}

	filters := make([]Node, 0, len(domain.FilterKeys)+2)
	for _, key := range domain.FilterKeys {
		value := strings.TrimSpace(req.Filters[key])
		if value == "" {
			continue
		}
		filters = append(filters, Term{Field: b.filterFields[key], Value: value})
	}

	if dr := req.DateRange; dr != nil && (dr.Start != nil || dr.End != nil) {
		filters = append(filters, Range{Field: b.dateField, Gte: dr.Start, Lte: dr.End})
	}

	filters = append(filters, PermissionFilter(req.RequesterID))

	sort, err := b.sort(req.Sort)
	if err != nil {
		return nil, err
	}

	return &EngineQuery{
		Query: Bool{
			Must:   []Node{relevance},
			Filter: filters,
		},
		From: req.Offset(),
		Size: req.Limit,
		Sort: sort,
	}, nil
}

// PermissionFilter restricts hits to records owned by or shared with requester.
func PermissionFilter(requester string) Node {
	return Bool{
		Should: []Node{
			Term{Field: FieldOwnerID, Value: requester},
			Term{Field: FieldReadAccess, Value: requester},
		},
		MinimumShouldMatch: 1,
	}
}

// sort resolves the explicit sort and always appends _id ascending so that
// ties break the same way on every page.
func (b *Builder) sort(s *domain.Sort) ([]SortField, error) {
	if s == nil {
		return []SortField{
			{Field: FieldScore, Desc: true},
			{Field: FieldID},
		}, nil
	}

	field, ok := b.sortFields[s.Field]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported sort field %q", domain.ErrInvalidRequest, s.Field)
	}

	sort := []SortField{{Field: field, Desc: s.Order != domain.SortAsc}}
	if field != FieldID {
		sort = append(sort, SortField{Field: FieldID})
	}
	return sort, nil
}

// AutoFuzziness returns the edit distance allowed for a term: exact for one
// or two characters, one edit up to five, two beyond.
func AutoFuzziness(term string) int {
	switch n := utf8.RuneCountInString(term); {
	case n <= 2:
		return 0
	case n <= 5:
		return 1
	default:
		return 2
	}
}
