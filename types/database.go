package types

import (
	"context"
)

const (
	FieldInternalID = "internal_id"
	FieldCreatedAt  = "cr_time"
	FieldChangedAt  = "ch_time"
)

type DocumentStore interface {
	LifecycleManager
	CreateDocuments(ctx context.Context, request CreateDocumentsRequest) ([]string, error)
	ReadDocuments(ctx context.Context, request ReadDocumentsRequest) ([]map[string]interface{}, int64, error)
	UpdateDocuments(ctx context.Context, request UpdateDocumentsRequest) (int64, error)
	DeleteDocuments(ctx context.Context, request DeleteDocumentsRequest) (int64, error)
	CountDocuments(ctx context.Context, request CountDocumentsRequest) (int64, error)
	Distinct(ctx context.Context, request DistinctRequest) ([]interface{}, error)
	Aggregate(ctx context.Context, request AggregateRequest) ([]map[string]interface{}, error)
	DropCollection(database, collection string) error
}

type DocumentStoreCreator func(config *DatabaseConfig) (DocumentStore, error)

type CreateDocumentsRequest struct {
	Database   string
	Collection string
	Data       []map[string]interface{}
}

type ReadDocumentsRequest struct {
	Database   string
	Collection string
	Query      *QuerySpec
}

// UpdateDocumentsRequest applies Set/Unset/Inc to every document matching
// Filter. Replace swaps the whole document body for Set, preserving only
// identity and creation stamp.
type UpdateDocumentsRequest struct {
	Database   string
	Collection string
	Filter     map[string]Predicate
	Set        map[string]interface{}
	Unset      []string
	Inc        map[string]float64
	Replace    bool
}

type DeleteDocumentsRequest struct {
	Database   string
	Collection string
	Filter     map[string]Predicate
}

type CountDocumentsRequest struct {
	Database   string
	Collection string
	Filter     map[string]Predicate
}

type DistinctRequest struct {
	Database   string
	Collection string
	Field      string
	Filter     map[string]Predicate
}

// AggregateRequest carries a caller-supplied stage pipeline executed as
// given. No structural validation happens beyond each stage being an object.
type AggregateRequest struct {
	Database   string
	Collection string
	Pipeline   []interface{}
}
