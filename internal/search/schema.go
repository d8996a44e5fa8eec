package search

import (
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/davidschrooten/docvault-search/internal/query"
)

// Index namespaces.
const (
	DocumentsIndex = "documents"
	SectionsIndex  = "sections"
)

// FieldSource holds the JSON projection so hits can return exact source
// fields. It is stored, never indexed.
const FieldSource = "sourceDoc"

// FieldType selects how a field is analyzed.
type FieldType string

const (
	FieldText    FieldType = "text"
	FieldKeyword FieldType = "keyword"
	FieldNumeric FieldType = "numeric"
	FieldDate    FieldType = "date"
	FieldStored  FieldType = "stored"
)

// FieldSpec declares one mapped field. Dotted paths nest under sub-documents.
type FieldSpec struct {
	Path     string
	Type     FieldType
	Analyzer string
}

// Schema is the field layout of one index namespace.
type Schema struct {
	Name   string
	Fields []FieldSpec
}

// DocumentsSchema is the layout of the documents index.
func DocumentsSchema() Schema {
	return Schema{
		Name: DocumentsIndex,
		Fields: []FieldSpec{
			{Path: query.FieldTitle, Type: FieldText},
			{Path: query.FieldContent, Type: FieldText},
			{Path: query.FieldDocumentID, Type: FieldKeyword},
			{Path: query.FieldOwnerID, Type: FieldKeyword},
			{Path: query.FieldReadAccess, Type: FieldKeyword},
			{Path: query.FieldCreatedDate, Type: FieldDate},
			{Path: query.FieldCategory, Type: FieldKeyword},
			{Path: query.FieldAuthor, Type: FieldKeyword},
			{Path: query.FieldKeywords, Type: FieldKeyword},
			{Path: FieldSource, Type: FieldStored},
		},
	}
}

// SectionsSchema is the layout of the sections index. Sections carry their
// parent document's owner and read access for query-time filtering.
func SectionsSchema() Schema {
	return Schema{
		Name: SectionsIndex,
		Fields: []FieldSpec{
			{Path: query.FieldTitle, Type: FieldText},
			{Path: query.FieldContent, Type: FieldText},
			{Path: query.FieldSummary, Type: FieldText},
			{Path: query.FieldDocumentID, Type: FieldKeyword},
			{Path: query.FieldPageNumber, Type: FieldNumeric},
			{Path: query.FieldOwnerID, Type: FieldKeyword},
			{Path: query.FieldReadAccess, Type: FieldKeyword},
			{Path: query.FieldCreatedDate, Type: FieldDate},
			{Path: query.FieldTags, Type: FieldKeyword},
			{Path: query.FieldLevel, Type: FieldKeyword},
			{Path: FieldSource, Type: FieldStored},
		},
	}
}

// Schemas returns every namespace the service maintains.
func Schemas() []Schema {
	return []Schema{DocumentsSchema(), SectionsSchema()}
}

// createMapping compiles a schema into a non-dynamic Bleve mapping.
func createMapping(schema Schema, defaultAnalyzer string) mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	if defaultAnalyzer != "" {
		indexMapping.DefaultAnalyzer = defaultAnalyzer
	}

	root := bleve.NewDocumentMapping()
	root.Dynamic = false

	for _, spec := range schema.Fields {
		parent := root
		parts := strings.Split(spec.Path, ".")
		for _, part := range parts[:len(parts)-1] {
			sub, ok := parent.Properties[part]
			if !ok {
				sub = bleve.NewDocumentMapping()
				sub.Dynamic = false
				parent.AddSubDocumentMapping(part, sub)
			}
			parent = sub
		}
		parent.AddFieldMappingsAt(parts[len(parts)-1], createFieldMapping(spec))
	}

	indexMapping.DefaultMapping = root
	return indexMapping
}

// createFieldMapping creates a field mapping from a field spec
func createFieldMapping(spec FieldSpec) *mapping.FieldMapping {
	var fieldMapping *mapping.FieldMapping

	switch spec.Type {
	case FieldKeyword:
		fieldMapping = bleve.NewKeywordFieldMapping()
	case FieldNumeric:
		fieldMapping = bleve.NewNumericFieldMapping()
	case FieldDate:
		fieldMapping = bleve.NewDateTimeFieldMapping()
	case FieldStored:
		fieldMapping = bleve.NewTextFieldMapping()
		fieldMapping.Index = false
		fieldMapping.Store = true
		fieldMapping.IncludeInAll = false
		fieldMapping.IncludeTermVectors = false
		fieldMapping.DocValues = false
		return fieldMapping
	default:
		fieldMapping = bleve.NewTextFieldMapping()
	}

	if spec.Analyzer != "" {
		fieldMapping.Analyzer = spec.Analyzer
	}
	fieldMapping.Store = false

	return fieldMapping
}
