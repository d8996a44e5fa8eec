package query

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidschrooten/docvault-search/internal/domain"
)

func baseRequest() domain.SearchRequest {
	return domain.SearchRequest{Page: 1, Limit: 10, RequesterID: "user-a"}
}

func boolOf(t *testing.T, q *EngineQuery) Bool {
	t.Helper()
	b, ok := q.Query.(Bool)
	require.True(t, ok, "expected Bool root, got %T", q.Query)
	return b
}

func TestBuild_EmptyQueryIsMatchAll(t *testing.T) {
	q, err := NewBuilder(domain.TargetDocuments).Build(baseRequest())
	require.NoError(t, err)

	root := boolOf(t, q)
	require.Len(t, root.Must, 1)
	assert.Equal(t, MatchAll{}, root.Must[0])
}

func TestBuild_TextQueryIsWeightedFuzzyMultiMatch(t *testing.T) {
	req := baseRequest()
	req.QueryText = "  compliance  "

	q, err := NewBuilder(domain.TargetDocuments).Build(req)
	require.NoError(t, err)

	mm, ok := boolOf(t, q).Must[0].(MultiMatch)
	require.True(t, ok)
	assert.Equal(t, "compliance", mm.Query)
	assert.Equal(t, FuzzinessAuto, mm.Fuzziness)
	require.NotEmpty(t, mm.Fields)
	assert.Equal(t, FieldBoost{Field: FieldTitle, Boost: 2}, mm.Fields[0])
	for _, f := range mm.Fields[1:] {
		assert.Less(t, f.Boost, mm.Fields[0].Boost, "title must outweigh %s", f.Field)
	}
}

func TestBuild_SectionsSearchSummary(t *testing.T) {
	req := baseRequest()
	req.QueryText = "scope"

	q, err := NewBuilder(domain.TargetSections).Build(req)
	require.NoError(t, err)

	mm := boolOf(t, q).Must[0].(MultiMatch)
	var fields []string
	for _, f := range mm.Fields {
		fields = append(fields, f.Field)
	}
	assert.Contains(t, fields, FieldSummary)
}

func TestBuild_Pagination(t *testing.T) {
	cases := []struct{ page, limit, from int }{
		{1, 10, 0},
		{2, 10, 10},
		{3, 7, 14},
		{10, 1, 9},
	}
	for _, tc := range cases {
		req := baseRequest()
		req.Page, req.Limit = tc.page, tc.limit

		q, err := NewBuilder(domain.TargetDocuments).Build(req)
		require.NoError(t, err)
		assert.Equal(t, tc.from, q.From, "page=%d limit=%d", tc.page, tc.limit)
		assert.Equal(t, tc.limit, q.Size)
	}
}

func TestBuild_InvalidPagination(t *testing.T) {
	for _, tc := range []struct{ page, limit int }{{0, 10}, {1, 0}, {-1, 5}, {2, -3}} {
		req := baseRequest()
		req.Page, req.Limit = tc.page, tc.limit

		_, err := NewBuilder(domain.TargetDocuments).Build(req)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest, "page=%d limit=%d", tc.page, tc.limit)
	}
}

func TestBuild_PageBeyondResultWindow(t *testing.T) {
	for _, tc := range []struct{ page, limit int }{
		{4611686018427387905, 2},
		{1001, 10},
		{2, domain.MaxResultWindow},
		{1, domain.MaxResultWindow + 1},
	} {
		req := baseRequest()
		req.Page, req.Limit = tc.page, tc.limit

		_, err := NewBuilder(domain.TargetDocuments).Build(req)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest, "page=%d limit=%d", tc.page, tc.limit)
	}

	req := baseRequest()
	req.Page, req.Limit = 1000, 10
	q, err := NewBuilder(domain.TargetDocuments).Build(req)
	require.NoError(t, err)
	assert.Equal(t, 9990, q.From)
}

func TestBuild_MissingRequester(t *testing.T) {
	req := baseRequest()
	req.RequesterID = ""

	_, err := NewBuilder(domain.TargetDocuments).Build(req)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestBuild_PermissionFilterCannotBeOverridden(t *testing.T) {
	keys := []string{
		domain.FilterCategory, domain.FilterAuthor, domain.FilterDocumentID, domain.FilterLevel,
		"ownerId", "readAccess", "permissions", "requesterId", "user",
	}

	// Every subset of the keys, with values that try to impersonate user-b.
	for mask := 0; mask < 1<<len(keys); mask++ {
		req := baseRequest()
		req.Filters = map[string]string{}
		for i, k := range keys {
			if mask&(1<<i) != 0 {
				req.Filters[k] = "user-b"
			}
		}

		q, err := NewBuilder(domain.TargetDocuments).Build(req)
		require.NoError(t, err)

		filters := boolOf(t, q).Filter
		require.NotEmpty(t, filters)
		assert.Equal(t, PermissionFilter("user-a"), filters[len(filters)-1])

		for _, f := range filters[:len(filters)-1] {
			term, ok := f.(Term)
			if !ok {
				continue
			}
			assert.NotEqual(t, FieldOwnerID, term.Field)
			assert.NotEqual(t, FieldReadAccess, term.Field)
		}
	}
}

func TestBuild_FiltersMapToTerms(t *testing.T) {
	req := baseRequest()
	req.Filters = map[string]string{
		domain.FilterCategory:   "policy",
		domain.FilterAuthor:     "jdoe",
		domain.FilterDocumentID: "doc-1",
		domain.FilterLevel:      "2",
		"colour":                "blue",
		"empty":                 "",
	}

	q, err := NewBuilder(domain.TargetSections).Build(req)
	require.NoError(t, err)

	filters := boolOf(t, q).Filter
	require.Len(t, filters, 5)
	assert.Equal(t, Term{Field: FieldCategory, Value: "policy"}, filters[0])
	assert.Equal(t, Term{Field: FieldAuthor, Value: "jdoe"}, filters[1])
	assert.Equal(t, Term{Field: FieldDocumentID, Value: "doc-1"}, filters[2])
	assert.Equal(t, Term{Field: FieldLevel, Value: "2"}, filters[3])
}

func TestBuild_OpenEndedDateRange(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	req := baseRequest()
	req.DateRange = &domain.DateRange{Start: &start}

	q, err := NewBuilder(domain.TargetDocuments).Build(req)
	require.NoError(t, err)

	rng, ok := boolOf(t, q).Filter[0].(Range)
	require.True(t, ok)
	assert.Equal(t, FieldCreatedDate, rng.Field)
	assert.Equal(t, &start, rng.Gte)
	assert.Nil(t, rng.Lte)
}

func TestBuild_EmptyDateRangeIsIgnored(t *testing.T) {
	req := baseRequest()
	req.DateRange = &domain.DateRange{}

	q, err := NewBuilder(domain.TargetDocuments).Build(req)
	require.NoError(t, err)
	assert.Len(t, boolOf(t, q).Filter, 1)
}

func TestBuild_ReversedDateRange(t *testing.T) {
	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, -1, 0)
	req := baseRequest()
	req.DateRange = &domain.DateRange{Start: &start, End: &end}

	_, err := NewBuilder(domain.TargetDocuments).Build(req)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestBuild_Sort(t *testing.T) {
	b := NewBuilder(domain.TargetDocuments)

	q, err := b.Build(baseRequest())
	require.NoError(t, err)
	assert.Equal(t, []SortField{{Field: FieldScore, Desc: true}, {Field: FieldID}}, q.Sort)

	req := baseRequest()
	req.Sort = &domain.Sort{Field: "createdDate", Order: domain.SortAsc}
	q, err = b.Build(req)
	require.NoError(t, err)
	assert.Equal(t, []SortField{{Field: FieldCreatedDate}, {Field: FieldID}}, q.Sort)

	req.Sort = &domain.Sort{Field: "_id", Order: domain.SortDesc}
	q, err = b.Build(req)
	require.NoError(t, err)
	assert.Equal(t, []SortField{{Field: FieldID, Desc: true}}, q.Sort)

	req.Sort = &domain.Sort{Field: "fileSize", Order: domain.SortAsc}
	_, err = b.Build(req)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	req.Sort = &domain.Sort{Field: "createdDate", Order: "sideways"}
	_, err = b.Build(req)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestEngineQuery_Source(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	req := baseRequest()
	req.QueryText = "compliance"
	req.Page = 2
	req.Filters = map[string]string{domain.FilterCategory: "policy"}
	req.DateRange = &domain.DateRange{Start: &start}

	q, err := NewBuilder(domain.TargetDocuments).Build(req)
	require.NoError(t, err)

	raw, err := json.Marshal(q)
	require.NoError(t, err)

	expected := `{
		"from": 10,
		"size": 10,
		"sort": [{"_score": {"order": "desc"}}, {"_id": {"order": "asc"}}],
		"query": {"bool": {
			"must": [{"multi_match": {
				"query": "compliance",
				"fields": ["title^2", "content", "metadata.keywords"],
				"fuzziness": "AUTO"
			}}],
			"filter": [
				{"term": {"metadata.category": "policy"}},
				{"range": {"createdDate": {"gte": "2024-01-01T00:00:00Z"}}},
				{"bool": {
					"should": [{"term": {"ownerId": "user-a"}}, {"term": {"readAccess": "user-a"}}],
					"minimum_should_match": 1
				}}
			]
		}}
	}`
	assert.JSONEq(t, expected, string(raw))
}

func TestAutoFuzziness(t *testing.T) {
	assert.Equal(t, 0, AutoFuzziness("a"))
	assert.Equal(t, 0, AutoFuzziness("ab"))
	assert.Equal(t, 1, AutoFuzziness("abc"))
	assert.Equal(t, 1, AutoFuzziness("abcde"))
	assert.Equal(t, 2, AutoFuzziness("abcdef"))
	assert.Equal(t, 1, AutoFuzziness("ñañ"))
}
