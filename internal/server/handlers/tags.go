package handlers

import (
	"context"

	"github.com/maruel/gitwiki/internal/errors"
	"github.com/maruel/gitwiki/internal/storage/docstore"
	"github.com/maruel/gitwiki/internal/storage/index"
)

// GetMetadataRequest names a document.
type GetMetadataRequest struct {
	Name string `json:"-" path:"name"`
}

// GetMetadata returns the indexed metadata of a document.
func (h *DocumentHandler) GetMetadata(ctx context.Context, req GetMetadataRequest) (*index.DocumentMeta, error) {
	m, err := h.store.GetMetadata(ctx, req.Name)
	if err != nil {
		return nil, errors.FromStore(err)
	}
	return m, nil
}

// UpdateMetadataRequest changes title and tags without a commit.
type UpdateMetadataRequest struct {
	Name  string    `json:"-" path:"name"`
	Title *string   `json:"title,omitempty" jsonschema:"description=Left unchanged when omitted"`
	Tags  *[]string `json:"tags,omitempty" jsonschema:"description=Left unchanged when omitted"`
}

// UpdateMetadata updates the title and tags of a document.
func (h *DocumentHandler) UpdateMetadata(ctx context.Context, req UpdateMetadataRequest) (*index.DocumentMeta, error) {
	m, err := h.store.UpdateMetadata(ctx, req.Name, docstore.MetadataUpdate{Title: req.Title, Tags: req.Tags})
	if err != nil {
		return nil, errors.FromStore(err)
	}
	return m, nil
}

// SetTagsRequest replaces the tags of a document.
type SetTagsRequest struct {
	Name string   `json:"-" path:"name"`
	Tags []string `json:"tags" jsonschema:"description=Complete tag set; empty clears it"`
}

// SetTags replaces the tag set of a document.
func (h *DocumentHandler) SetTags(ctx context.Context, req SetTagsRequest) (*index.DocumentMeta, error) {
	if req.Tags == nil {
		return nil, errors.MissingField("tags")
	}
	m, err := h.store.SetTags(ctx, req.Name, req.Tags)
	if err != nil {
		return nil, errors.FromStore(err)
	}
	return m, nil
}

// ListTagsRequest is empty.
type ListTagsRequest struct{}

// ListTagsResponse holds every tag with its document count.
type ListTagsResponse struct {
	Tags []index.TagCount `json:"tags"`
}

// ListTags returns every tag.
func (h *DocumentHandler) ListTags(ctx context.Context, req ListTagsRequest) (*ListTagsResponse, error) {
	tags, err := h.store.ListTags(ctx)
	if err != nil {
		return nil, errors.FromStore(err)
	}
	return &ListTagsResponse{Tags: nonNil(tags)}, nil
}

// ListByTagRequest names a tag.
type ListByTagRequest struct {
	Tag string `json:"-" path:"tag"`
}

// ListByTagResponse lists the documents carrying a tag.
type ListByTagResponse struct {
	Tag       string   `json:"tag"`
	Documents []string `json:"documents" jsonschema:"description=Filenames sorted ascending"`
}

// ListByTag returns the filenames carrying a tag.
func (h *DocumentHandler) ListByTag(ctx context.Context, req ListByTagRequest) (*ListByTagResponse, error) {
	names, err := h.store.ListByTag(ctx, req.Tag)
	if err != nil {
		return nil, errors.FromStore(err)
	}
	return &ListByTagResponse{Tag: req.Tag, Documents: nonNil(names)}, nil
}
