package search

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/davidschrooten/docvault-search/internal/domain"
)

// Indexable is a projection that can be written to an index.
type Indexable interface {
	IndexID() string
	Fields() (map[string]interface{}, error)
}

// IndexedMetadata is the metadata block shared by both projections.
type IndexedMetadata struct {
	Category string   `json:"category,omitempty"`
	Author   string   `json:"author,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Level    string   `json:"level,omitempty"`
}

// IndexedDocument is the searchable projection of a document.
type IndexedDocument struct {
	ID          string          `json:"-"`
	Title       string          `json:"title"`
	Content     string          `json:"content"`
	DocumentID  string          `json:"documentId"`
	Metadata    IndexedMetadata `json:"metadata"`
	OwnerID     string          `json:"ownerId"`
	ReadAccess  []string        `json:"readAccess"`
	CreatedDate *time.Time      `json:"createdDate,omitempty"`
}

// IndexedSection is the searchable projection of a section. Owner and read
// access are copied from the parent document.
type IndexedSection struct {
	ID          string          `json:"-"`
	DocumentID  string          `json:"documentId"`
	Title       string          `json:"title"`
	Content     string          `json:"content"`
	Summary     string          `json:"summary,omitempty"`
	PageNumber  int             `json:"pageNumber"`
	Metadata    IndexedMetadata `json:"metadata"`
	OwnerID     string          `json:"ownerId"`
	ReadAccess  []string        `json:"readAccess"`
	CreatedDate *time.Time      `json:"createdDate,omitempty"`
}

// ProjectDocument builds the index projection of a primary-store document.
func ProjectDocument(d domain.Document) IndexedDocument {
	return IndexedDocument{
		ID:         d.ID,
		Title:      d.Title,
		Content:    d.Content,
		DocumentID: d.ID,
		Metadata: IndexedMetadata{
			Category: d.Metadata.Category,
			Author:   d.Metadata.Author,
			Keywords: d.Metadata.Keywords,
		},
		OwnerID:     d.OwnerID,
		ReadAccess:  nonNil(d.ReadAccess),
		CreatedDate: timePtr(d.CanonicalDate()),
	}
}

// ProjectSection builds the index projection of a section. The section is
// dated by its parent so date filters behave the same on both targets.
func ProjectSection(s domain.Section, parent domain.Document) IndexedSection {
	meta := IndexedMetadata{Tags: s.Tags}
	if s.Level != nil {
		meta.Level = strconv.Itoa(*s.Level)
	}
	created := parent.CanonicalDate()
	if created.IsZero() {
		created = s.CreatedAt
	}
	return IndexedSection{
		ID:          s.ID,
		DocumentID:  s.DocumentID,
		Title:       s.Title,
		Content:     s.Content,
		Summary:     s.Summary,
		PageNumber:  s.PageNumber,
		Metadata:    meta,
		OwnerID:     parent.OwnerID,
		ReadAccess:  nonNil(parent.ReadAccess),
		CreatedDate: timePtr(created),
	}
}

func (d IndexedDocument) IndexID() string { return d.ID }

func (d IndexedDocument) Fields() (map[string]interface{}, error) {
	return fieldsOf(d, d.Metadata, d.CreatedDate, map[string]interface{}{
		"title":      d.Title,
		"content":    d.Content,
		"documentId": d.DocumentID,
		"ownerId":    d.OwnerID,
		"readAccess": d.ReadAccess,
	})
}

func (s IndexedSection) IndexID() string { return s.ID }

func (s IndexedSection) Fields() (map[string]interface{}, error) {
	return fieldsOf(s, s.Metadata, s.CreatedDate, map[string]interface{}{
		"title":      s.Title,
		"content":    s.Content,
		"summary":    s.Summary,
		"documentId": s.DocumentID,
		"pageNumber": s.PageNumber,
		"ownerId":    s.OwnerID,
		"readAccess": s.ReadAccess,
	})
}

// fieldsOf completes the engine field map with the nested metadata, the
// date and the stored JSON source.
func fieldsOf(projection interface{}, meta IndexedMetadata, created *time.Time, fields map[string]interface{}) (map[string]interface{}, error) {
	metadata := map[string]interface{}{}
	if meta.Category != "" {
		metadata["category"] = meta.Category
	}
	if meta.Author != "" {
		metadata["author"] = meta.Author
	}
	if len(meta.Keywords) > 0 {
		metadata["keywords"] = meta.Keywords
	}
	if len(meta.Tags) > 0 {
		metadata["tags"] = meta.Tags
	}
	if meta.Level != "" {
		metadata["level"] = meta.Level
	}
	fields["metadata"] = metadata

	if created != nil {
		fields["createdDate"] = *created
	}

	source, err := json.Marshal(projection)
	if err != nil {
		return nil, fmt.Errorf("failed to encode source: %w", err)
	}
	fields[FieldSource] = string(source)
	return fields, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
