package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Recognized filter keys. Any other key is ignored by the query builder.
const (
	FilterCategory   = "category"
	FilterAuthor     = "author"
	FilterDocumentID = "documentId"
	FilterLevel      = "level"
)

// FilterKeys lists the recognized filter keys in a stable order.
var FilterKeys = []string{FilterCategory, FilterAuthor, FilterDocumentID, FilterLevel}

// SortOrder is the direction of an explicit sort.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// SearchRequest is constructed per call from caller parameters plus the
// authenticated identity. RequesterID never comes from client filters.
type SearchRequest struct {
	QueryText   string            `json:"q"`
	Filters     map[string]string `json:"filters,omitempty"`
	DateRange   *DateRange        `json:"dateRange,omitempty"`
	Sort        *Sort             `json:"sortBy,omitempty"`
	Page        int               `json:"page" validate:"gte=1"`
	Limit       int               `json:"limit" validate:"gte=1"`
	RequesterID string            `json:"-" validate:"required"`
}

// DateRange bounds the canonical date field. Both bounds are inclusive and a
// nil bound is unbounded on that side.
type DateRange struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// Sort is a single-field sort.
type Sort struct {
	Field string    `json:"field" validate:"required"`
	Order SortOrder `json:"order" validate:"oneof=asc desc"`
}

// MaxResultWindow bounds offset plus limit of a search, like the default
// result window of Elasticsearch.
const MaxResultWindow = 10000

var validate = validator.New()

// Validate checks pagination, identity and the optional sort and date range.
// All failures wrap ErrInvalidRequest.
func (r SearchRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !WithinWindow(r.Page, r.Limit, MaxResultWindow) {
		return fmt.Errorf("%w: page %d with limit %d is beyond the result window of %d",
			ErrInvalidRequest, r.Page, r.Limit, MaxResultWindow)
	}
	if r.DateRange != nil && r.DateRange.Start != nil && r.DateRange.End != nil &&
		r.DateRange.End.Before(*r.DateRange.Start) {
		return fmt.Errorf("%w: dateRange end is before start", ErrInvalidRequest)
	}
	return nil
}

// Offset returns the zero-based index of the first hit of the page.
func (r SearchRequest) Offset() int {
	return (r.Page - 1) * r.Limit
}

// WithinWindow reports whether page (1-based) of the given limit ends at or
// before window without overflowing. Page and limit must be positive.
func WithinWindow(page, limit, window int) bool {
	if page < 1 || limit < 1 || limit > window {
		return false
	}
	return page-1 <= (window-limit)/limit
}
