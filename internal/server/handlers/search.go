package handlers

import (
	"context"

	"github.com/maruel/gitwiki/internal/errors"
	"github.com/maruel/gitwiki/internal/storage/docstore"
)

// SearchRequest is a request to search document content.
type SearchRequest struct {
	Query string `json:"-" query:"q"`
}

// SearchResponse is the response to a search request.
type SearchResponse struct {
	Query   string                  `json:"query"`
	Results []docstore.SearchResult `json:"results" jsonschema:"description=Sorted by match count then filename"`
}

// Search performs a case-insensitive substring search.
func (h *DocumentHandler) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if req.Query == "" {
		return nil, errors.MissingField("q")
	}
	results, err := h.store.Search(ctx, req.Query)
	if err != nil {
		return nil, errors.FromStore(err)
	}
	return &SearchResponse{Query: req.Query, Results: nonNil(results)}, nil
}

// ReconcileRequest is empty.
type ReconcileRequest struct{}

// Reconcile repairs history and metadata from the content directory.
func (h *DocumentHandler) Reconcile(ctx context.Context, req ReconcileRequest) (*docstore.ReconcileReport, error) {
	rep, err := h.store.Reconcile(ctx)
	if err != nil {
		return nil, errors.FromStore(err)
	}
	return rep, nil
}
