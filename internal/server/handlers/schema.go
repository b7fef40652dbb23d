package handlers

import (
	"context"
	"reflect"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/maruel/gitwiki/internal/models"
	"github.com/maruel/gitwiki/internal/storage/docstore"
	"github.com/maruel/gitwiki/internal/storage/index"
)

// SchemaRequest is empty.
type SchemaRequest struct{}

// SchemaResponse maps API type names to their JSON Schema.
type SchemaResponse struct {
	Schemas map[string]*jsonschema.Schema `json:"schemas"`
}

// apiTypes are the request and response bodies described by Schema.
var apiTypes = []any{
	CreateDocumentRequest{},
	UpdateDocumentRequest{},
	UpdateMetadataRequest{},
	SetTagsRequest{},
	LoginRequest{},
	RegisterRequest{},
	LoginResponse{},
	ListDocumentsResponse{},
	GetHistoryResponse{},
	ListTagsResponse{},
	ListByTagResponse{},
	SearchResponse{},
	docstore.Document{},
	docstore.Version{},
	docstore.WriteResult{},
	docstore.ReconcileReport{},
	index.DocumentMeta{},
	models.User{},
}

var schemas = sync.OnceValue(func() map[string]*jsonschema.Schema {
	r := jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	out := make(map[string]*jsonschema.Schema, len(apiTypes))
	for _, v := range apiTypes {
		t := reflect.TypeOf(v)
		out[t.Name()] = r.Reflect(v)
	}
	return out
})

// Schema returns the JSON Schema of the API types.
func Schema(ctx context.Context, req SchemaRequest) (*SchemaResponse, error) {
	return &SchemaResponse{Schemas: schemas()}, nil
}
