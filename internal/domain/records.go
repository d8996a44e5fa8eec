package domain

import "time"

// Document is the primary-store view of an uploaded document, limited to the
// fields the search layer projects.
type Document struct {
	ID         string
	Title      string
	Content    string
	OwnerID    string
	ReadAccess []string
	Metadata   DocumentMetadata
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DocumentMetadata holds descriptive document fields.
type DocumentMetadata struct {
	Author       string
	Category     string
	Keywords     []string
	CreatedDate  time.Time
	LastModified time.Time
}

// CanonicalDate returns the date used for range filters: the declared
// creation date when present, otherwise the record creation time.
func (d Document) CanonicalDate() time.Time {
	if !d.Metadata.CreatedDate.IsZero() {
		return d.Metadata.CreatedDate
	}
	return d.CreatedAt
}

// Section is the primary-store view of a document section.
type Section struct {
	ID         string
	DocumentID string
	Title      string
	Content    string
	Summary    string
	PageNumber int
	Level      *int
	Tags       []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
