package mongodb

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/davidschrooten/docvault-search/internal/domain"
)

// documentRecord is the stored shape of an uploaded document.
type documentRecord struct {
	ID          interface{}         `bson:"_id"`
	Title       string              `bson:"title"`
	Content     string              `bson:"content,omitempty"`
	UploadedBy  interface{}         `bson:"uploadedBy"`
	Metadata    documentMetadata    `bson:"metadata"`
	Permissions documentPermissions `bson:"permissions"`
	CreatedAt   time.Time           `bson:"createdAt"`
	UpdatedAt   time.Time           `bson:"updatedAt"`
}

type documentMetadata struct {
	Author       string    `bson:"author,omitempty"`
	CreatedDate  time.Time `bson:"createdDate,omitempty"`
	LastModified time.Time `bson:"lastModified,omitempty"`
	Keywords     []string  `bson:"keywords,omitempty"`
	Category     string    `bson:"category,omitempty"`
}

type documentPermissions struct {
	ReadAccess []interface{} `bson:"readAccess"`
	Admin      []interface{} `bson:"admin"`
}

// sectionRecord is the stored shape of a document section.
type sectionRecord struct {
	ID         interface{}     `bson:"_id"`
	Document   interface{}     `bson:"document"`
	Title      string          `bson:"title"`
	Content    string          `bson:"content"`
	Summary    string          `bson:"summary,omitempty"`
	PageNumber int             `bson:"pageNumber"`
	Metadata   sectionMetadata `bson:"metadata"`
	CreatedAt  time.Time       `bson:"createdAt"`
	UpdatedAt  time.Time       `bson:"updatedAt"`
}

type sectionMetadata struct {
	Level *int     `bson:"level,omitempty"`
	Tags  []string `bson:"tags,omitempty"`
}

// toDomain flattens the record. Admins can read, so they join readAccess.
func (r documentRecord) toDomain() domain.Document {
	readers := make([]string, 0, len(r.Permissions.ReadAccess)+len(r.Permissions.Admin))
	seen := make(map[string]bool)
	for _, id := range append(append([]interface{}{}, r.Permissions.ReadAccess...), r.Permissions.Admin...) {
		s := idString(id)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		readers = append(readers, s)
	}

	return domain.Document{
		ID:         idString(r.ID),
		Title:      r.Title,
		Content:    r.Content,
		OwnerID:    idString(r.UploadedBy),
		ReadAccess: readers,
		Metadata: domain.DocumentMetadata{
			Author:       r.Metadata.Author,
			Category:     r.Metadata.Category,
			Keywords:     r.Metadata.Keywords,
			CreatedDate:  r.Metadata.CreatedDate,
			LastModified: r.Metadata.LastModified,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (r sectionRecord) toDomain() domain.Section {
	return domain.Section{
		ID:         idString(r.ID),
		DocumentID: idString(r.Document),
		Title:      r.Title,
		Content:    r.Content,
		Summary:    r.Summary,
		PageNumber: r.PageNumber,
		Level:      r.Metadata.Level,
		Tags:       r.Metadata.Tags,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

// idString converts ObjectIDs to hex, supporting other id types
func idString(id interface{}) string {
	switch v := id.(type) {
	case nil:
		return ""
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

// idCandidates returns every stored form an external id may take.
func idCandidates(id string) bson.A {
	candidates := bson.A{id}
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		candidates = append(candidates, oid)
	}
	return candidates
}

func idFilter(field, id string) bson.M {
	return bson.M{field: bson.M{"$in": idCandidates(id)}}
}

func idsFilter(field string, ids []string) bson.M {
	all := bson.A{}
	for _, id := range ids {
		all = append(all, idCandidates(id)...)
	}
	return bson.M{field: bson.M{"$in": all}}
}

// sinceFilter matches records after the (since, afterID) position in
// updatedAt then _id order. An empty afterID skips everything at since.
func sinceFilter(since time.Time, afterID string) bson.M {
	later := bson.M{"updatedAt": bson.M{"$gt": since}}
	if afterID == "" {
		return later
	}
	return bson.M{"$or": bson.A{
		later,
		bson.M{"$and": bson.A{bson.M{"updatedAt": since}, idAfter(afterID)}},
	}}
}

// idAfter matches ids that sort after id. Strings sort before ObjectIds, so
// every ObjectId is after a string id; $gt alone only compares within a type.
func idAfter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": bson.M{"$gt": oid}}
	}
	return bson.M{"$or": bson.A{
		bson.M{"_id": bson.M{"$gt": id}},
		bson.M{"_id": bson.M{"$type": "objectId"}},
	}}
}
