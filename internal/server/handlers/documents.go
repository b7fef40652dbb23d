// Package handlers implements the JSON API endpoints.
package handlers

import (
	"context"

	"github.com/maruel/gitwiki/internal/errors"
	"github.com/maruel/gitwiki/internal/models"
	"github.com/maruel/gitwiki/internal/storage/docstore"
	"github.com/maruel/gitwiki/internal/storage/git"
	"github.com/maruel/gitwiki/internal/storage/index"
)

// defaultRecentLimit is used when the recent endpoint gets no limit.
const defaultRecentLimit = 10

// DocumentHandler handles document HTTP requests.
type DocumentHandler struct {
	store     *docstore.Store
	recentMax int
}

// NewDocumentHandler creates a new document handler. recentMax caps the
// limit of the recent documents endpoint.
func NewDocumentHandler(store *docstore.Store, recentMax int) *DocumentHandler {
	return &DocumentHandler{store: store, recentMax: recentMax}
}

// GitAuthor returns the commit identity of the authenticated user.
func GitAuthor(ctx context.Context) (git.Author, error) {
	u := models.UserFromContext(ctx)
	if u == nil {
		return git.Author{}, errors.Unauthorized("Unauthorized")
	}
	return git.Author{Name: u.Name, Email: u.Email}, nil
}

// ListDocumentsRequest lists documents, optionally filtered by a glob.
type ListDocumentsRequest struct {
	Pattern string `json:"-" query:"pattern"`
}

// ListDocumentsResponse holds document metadata.
type ListDocumentsResponse struct {
	Documents []*index.DocumentMeta `json:"documents" jsonschema:"description=Document metadata sorted by filename"`
}

// ListDocuments returns the documents matching the pattern.
func (h *DocumentHandler) ListDocuments(ctx context.Context, req ListDocumentsRequest) (*ListDocumentsResponse, error) {
	docs, err := h.store.ListDocuments(ctx, req.Pattern)
	if err != nil {
		return nil, errors.FromStore(err)
	}
	return &ListDocumentsResponse{Documents: nonNil(docs)}, nil
}

// CreateDocumentRequest creates a document.
type CreateDocumentRequest struct {
	Filename string   `json:"filename" jsonschema:"description=Document name without the .md extension"`
	Content  string   `json:"content" jsonschema:"description=Markdown body stored verbatim"`
	Title    *string  `json:"title,omitempty" jsonschema:"description=Defaults to the front matter title"`
	Tags     []string `json:"tags,omitempty" jsonschema:"description=Defaults to the front matter tags"`
}

// CreateDocument creates a new document and commits it.
func (h *DocumentHandler) CreateDocument(ctx context.Context, req CreateDocumentRequest) (*docstore.WriteResult, error) {
	if req.Filename == "" {
		return nil, errors.MissingField("filename")
	}
	author, err := GitAuthor(ctx)
	if err != nil {
		return nil, err
	}
	res, err := h.store.CreateDocument(ctx, author, docstore.CreateRequest{
		Filename: req.Filename,
		Content:  req.Content,
		Title:    req.Title,
		Tags:     req.Tags,
	})
	if err != nil {
		return nil, errors.FromStore(err)
	}
	return res, nil
}

// GetDocumentRequest names a document.
type GetDocumentRequest struct {
	Name string `json:"-" path:"name"`
}

// GetDocument returns the current content of a document.
func (h *DocumentHandler) GetDocument(ctx context.Context, req GetDocumentRequest) (*docstore.Document, error) {
	doc, err := h.store.GetDocument(ctx, req.Name)
	if err != nil {
		return nil, errors.FromStore(err)
	}
	return doc, nil
}

// UpdateDocumentRequest replaces the content of a document.
type UpdateDocumentRequest struct {
	Name    string    `json:"-" path:"name"`
	Content string    `json:"content" jsonschema:"description=New markdown body"`
	Title   *string   `json:"title,omitempty" jsonschema:"description=Left unchanged when omitted"`
	Tags    *[]string `json:"tags,omitempty" jsonschema:"description=Left unchanged when omitted"`
}

// UpdateDocument replaces the content of a document and commits it.
func (h *DocumentHandler) UpdateDocument(ctx context.Context, req UpdateDocumentRequest) (*docstore.WriteResult, error) {
	author, err := GitAuthor(ctx)
	if err != nil {
		return nil, err
	}
	res, err := h.store.UpdateDocument(ctx, author, req.Name, docstore.UpdateRequest{
		Content: req.Content,
		Title:   req.Title,
		Tags:    req.Tags,
	})
	if err != nil {
		return nil, errors.FromStore(err)
	}
	return res, nil
}

// DeleteDocumentRequest names the document to delete.
type DeleteDocumentRequest struct {
	Name string `json:"-" path:"name"`
}

// DeleteDocument removes a document and commits the removal.
func (h *DocumentHandler) DeleteDocument(ctx context.Context, req DeleteDocumentRequest) (*docstore.WriteResult, error) {
	author, err := GitAuthor(ctx)
	if err != nil {
		return nil, err
	}
	res, err := h.store.DeleteDocument(ctx, author, req.Name)
	if err != nil {
		return nil, errors.FromStore(err)
	}
	return res, nil
}

// GetHistoryRequest names a document.
type GetHistoryRequest struct {
	Name string `json:"-" path:"name"`
}

// GetHistoryResponse lists the commits of a document.
type GetHistoryResponse struct {
	Filename string        `json:"filename"`
	Commits  []*git.Commit `json:"commits" jsonschema:"description=Commits newest first"`
}

// GetHistory returns the commits that touched a document.
func (h *DocumentHandler) GetHistory(ctx context.Context, req GetHistoryRequest) (*GetHistoryResponse, error) {
	commits, err := h.store.GetHistory(ctx, req.Name)
	if err != nil {
		return nil, errors.FromStore(err)
	}
	return &GetHistoryResponse{Filename: req.Name, Commits: commits}, nil
}

// GetVersionRequest names a document and a commit id prefix.
type GetVersionRequest struct {
	Name   string `json:"-" path:"name"`
	Commit string `json:"-" path:"commit"`
}

// GetVersion returns the content of a document as of a commit.
func (h *DocumentHandler) GetVersion(ctx context.Context, req GetVersionRequest) (*docstore.Version, error) {
	v, err := h.store.GetVersionAtCommit(ctx, req.Name, req.Commit)
	if err != nil {
		return nil, errors.FromStore(err)
	}
	return v, nil
}

// ListRecentRequest bounds the recent documents list.
type ListRecentRequest struct {
	Limit int `json:"-" query:"limit"`
}

// ListRecent returns the most recently updated documents.
func (h *DocumentHandler) ListRecent(ctx context.Context, req ListRecentRequest) (*ListDocumentsResponse, error) {
	limit := req.Limit
	if limit == 0 {
		limit = min(defaultRecentLimit, h.recentMax)
	}
	if limit > h.recentMax {
		return nil, errors.BadRequest("limit is too large").WithDetail("max", h.recentMax)
	}
	docs, err := h.store.ListRecent(ctx, limit)
	if err != nil {
		return nil, errors.FromStore(err)
	}
	return &ListDocumentsResponse{Documents: nonNil(docs)}, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
