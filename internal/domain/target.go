package domain

import "fmt"

// Target selects the index namespace a search runs against.
type Target string

const (
	TargetDocuments Target = "documents"
	TargetSections  Target = "sections"
)

// ResultType is the history label of a target.
type ResultType string

const (
	ResultTypeDocument ResultType = "Document"
	ResultTypeSection  ResultType = "Section"
)

// Index returns the index namespace name.
func (t Target) Index() string { return string(t) }

// ResultType maps the target to its history result type.
func (t Target) ResultType() ResultType {
	if t == TargetSections {
		return ResultTypeSection
	}
	return ResultTypeDocument
}

// ParseTarget accepts "documents" or "sections".
func ParseTarget(s string) (Target, error) {
	switch Target(s) {
	case TargetDocuments, TargetSections:
		return Target(s), nil
	}
	return "", fmt.Errorf("%w: unknown search target %q", ErrInvalidRequest, s)
}
