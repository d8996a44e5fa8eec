package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/davidschrooten/docvault-search/internal/domain"
)

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// parseSearchRequest reads q, the filter keys, dateRange, sortBy, page and
// limit. The requester always comes from the authenticated identity.
func (s *Server) parseSearchRequest(r *http.Request) (domain.SearchRequest, error) {
	values := r.URL.Query()

	req := domain.SearchRequest{
		QueryText:   values.Get("q"),
		RequesterID: userFrom(r.Context()),
	}

	for _, key := range domain.FilterKeys {
		if v := strings.TrimSpace(values.Get(key)); v != "" {
			if req.Filters == nil {
				req.Filters = make(map[string]string)
			}
			req.Filters[key] = v
		}
	}

	var err error
	if req.DateRange, err = parseDateRange(values.Get("dateRange")); err != nil {
		return req, err
	}
	if req.Sort, err = parseSort(values.Get("sortBy")); err != nil {
		return req, err
	}
	if req.Page, req.Limit, err = s.parsePaging(r); err != nil {
		return req, err
	}
	if !domain.WithinWindow(req.Page, req.Limit, domain.MaxResultWindow) {
		return req, invalidf("page %d with limit %d is beyond the first %d results", req.Page, req.Limit, domain.MaxResultWindow)
	}
	return req, nil
}

func (s *Server) parsePaging(r *http.Request) (page, limit int, err error) {
	if page, err = intParam(r, "page", 1); err != nil {
		return 0, 0, err
	}
	if limit, err = intParam(r, "limit", s.config.Search.DefaultLimit); err != nil {
		return 0, 0, err
	}
	if page < 1 || limit < 1 {
		return 0, 0, invalidf("page and limit must be positive")
	}
	if limit > s.config.Search.MaxLimit {
		return 0, 0, invalidf("limit must not exceed %d", s.config.Search.MaxLimit)
	}
	return page, limit, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalidf("%s must be an integer", name)
	}
	return n, nil
}

// parseDateRange accepts {"start": ..., "end": ...}; either bound may be
// omitted. Bounds are RFC 3339 timestamps or plain dates; a plain end date
// includes that whole day.
func parseDateRange(raw string) (*domain.DateRange, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var body struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return nil, invalidf("dateRange must be a JSON object with start and end")
	}

	rng := &domain.DateRange{}
	var err error
	if rng.Start, err = optionalTime(body.Start, domain.ParseTime); err != nil {
		return nil, err
	}
	if rng.End, err = optionalTime(body.End, domain.ParseEndTime); err != nil {
		return nil, err
	}
	return rng, nil
}

func optionalTime(raw string, parse func(string) (time.Time, error)) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	t, err := parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseSort accepts {"field": ..., "order": ...}, "field:order" or a bare
// field. The order defaults to desc.
func parseSort(raw string) (*domain.Sort, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	sort := &domain.Sort{Order: domain.SortDesc}
	if strings.HasPrefix(raw, "{") {
		var body struct {
			Field string `json:"field"`
			Order string `json:"order"`
		}
		if err := json.Unmarshal([]byte(raw), &body); err != nil {
			return nil, invalidf("sortBy must be a JSON object with field and order")
		}
		sort.Field = body.Field
		if body.Order != "" {
			sort.Order = domain.SortOrder(strings.ToLower(body.Order))
		}
		return sort, nil
	}

	field, order, found := strings.Cut(raw, ":")
	sort.Field = strings.TrimSpace(field)
	if found && strings.TrimSpace(order) != "" {
		sort.Order = domain.SortOrder(strings.ToLower(strings.TrimSpace(order)))
	}
	return sort, nil
}
