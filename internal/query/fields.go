package query

// Index field names shared by the builder and the index schema.
const (
	FieldID          = "_id"
	FieldScore       = "_score"
	FieldTitle       = "title"
	FieldContent     = "content"
	FieldSummary     = "summary"
	FieldDocumentID  = "documentId"
	FieldPageNumber  = "pageNumber"
	FieldOwnerID     = "ownerId"
	FieldReadAccess  = "readAccess"
	FieldCreatedDate = "createdDate"
	FieldCategory    = "metadata.category"
	FieldAuthor      = "metadata.author"
	FieldKeywords    = "metadata.keywords"
	FieldTags        = "metadata.tags"
	FieldLevel       = "metadata.level"
)
