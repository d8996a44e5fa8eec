package mongodb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestIDString(t *testing.T) {
	oid := primitive.NewObjectID()

	assert.Equal(t, "", idString(nil))
	assert.Equal(t, oid.Hex(), idString(oid))
	assert.Equal(t, "doc-1", idString("doc-1"))
	assert.Equal(t, "42", idString(int32(42)))
}

func TestIDCandidates(t *testing.T) {
	assert.Equal(t, bson.A{"doc-1"}, idCandidates("doc-1"))

	oid := primitive.NewObjectID()
	assert.Equal(t, bson.A{oid.Hex(), oid}, idCandidates(oid.Hex()))
}

func TestIDsFilter(t *testing.T) {
	oid := primitive.NewObjectID()
	filter := idsFilter("_id", []string{"a", oid.Hex()})

	in := filter["_id"].(bson.M)["$in"].(bson.A)
	assert.Equal(t, bson.A{"a", oid.Hex(), oid}, in)
}

func TestSinceFilter(t *testing.T) {
	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, bson.M{"updatedAt": bson.M{"$gt": since}}, sinceFilter(since, ""))

	filter := sinceFilter(since, "tie-2")
	or := filter["$or"].(bson.A)
	require.Len(t, or, 2)
	assert.Equal(t, bson.M{"updatedAt": bson.M{"$gt": since}}, or[0])
	tie := or[1].(bson.M)["$and"].(bson.A)
	assert.Equal(t, bson.M{"updatedAt": since}, tie[0])
	assert.Equal(t, bson.M{"$or": bson.A{
		bson.M{"_id": bson.M{"$gt": "tie-2"}},
		bson.M{"_id": bson.M{"$type": "objectId"}},
	}}, tie[1])

	oid := primitive.NewObjectID()
	assert.Equal(t, bson.M{"_id": bson.M{"$gt": oid}}, idAfter(oid.Hex()))
}

func TestDocumentRecordToDomain(t *testing.T) {
	owner := primitive.NewObjectID()
	reader := primitive.NewObjectID()
	created := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	rec := documentRecord{
		ID:         "doc-1",
		Title:      "Retention policy",
		UploadedBy: owner,
		Metadata: documentMetadata{
			Author:      "jdoe",
			Category:    "policy",
			Keywords:    []string{"retention"},
			CreatedDate: created,
		},
		Permissions: documentPermissions{
			ReadAccess: []interface{}{reader, "bob"},
			Admin:      []interface{}{reader, "carol", nil},
		},
	}

	doc := rec.toDomain()
	assert.Equal(t, "doc-1", doc.ID)
	assert.Equal(t, owner.Hex(), doc.OwnerID)
	assert.Equal(t, []string{reader.Hex(), "bob", "carol"}, doc.ReadAccess)
	assert.Equal(t, "policy", doc.Metadata.Category)
	assert.Equal(t, created, doc.CanonicalDate())
}

func TestSectionRecordDecode(t *testing.T) {
	docID := primitive.NewObjectID()
	level := 2
	raw, err := bson.Marshal(bson.M{
		"_id":        "sec-1",
		"document":   docID,
		"title":      "Scope",
		"content":    "Applies to all records.",
		"pageNumber": 3,
		"metadata":   bson.M{"level": level, "tags": bson.A{"intro"}},
	})
	require.NoError(t, err)

	var rec sectionRecord
	require.NoError(t, bson.Unmarshal(raw, &rec))

	sec := rec.toDomain()
	assert.Equal(t, "sec-1", sec.ID)
	assert.Equal(t, docID.Hex(), sec.DocumentID)
	assert.Equal(t, 3, sec.PageNumber)
	require.NotNil(t, sec.Level)
	assert.Equal(t, 2, *sec.Level)
	assert.Equal(t, []string{"intro"}, sec.Tags)
}
