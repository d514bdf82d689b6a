// Package api exposes the document and query operations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pitchlab/knowd/internal/document"
	"github.com/pitchlab/knowd/internal/ingest"
	"github.com/pitchlab/knowd/internal/query"
	"github.com/pitchlab/knowd/internal/storage"
)

const maxUploadBodySize = 32 << 20 // 32MB
const maxRequestBodySize = 1 << 20 // 1MB

// DocumentManager abstracts the document lifecycle for the HTTP layer.
type DocumentManager interface {
	Upload(params document.UploadParams) (storage.Document, error)
	Get(documentID string) (storage.Document, error)
	List(limit, offset int) ([]storage.Document, error)
	Stats(ctx context.Context) (document.Stats, error)
	Reprocess(documentID string, chunkSize, chunkOverlap int) (storage.Document, error)
	Delete(ctx context.Context, documentID string) error
}

// QueryRunner abstracts retrieval for the HTTP layer.
type QueryRunner interface {
	Query(ctx context.Context, text string, topK int) ([]query.Match, error)
}

type AppDeps struct {
	Documents DocumentManager
	Query     QueryRunner
	Token     string
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/documents", handleUpload(deps))
		r.Get("/documents", handleListDocuments(deps))
		r.Get("/documents/stats", handleStats(deps))
		r.Get("/documents/{id}", handleGetDocument(deps))
		r.Post("/documents/{id}/reprocess", handleReprocess(deps))
		r.Delete("/documents/{id}", handleDeleteDocument(deps))
		r.Post("/query", handleQuery(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// documentResponse is the wire shape of a document. Field names are
// snake_case to match the query and stats responses.
type documentResponse struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	FileName     string     `json:"file_name"`
	FileType     string     `json:"file_type"`
	SizeBytes    int64      `json:"size_bytes"`
	ChunkSize    int        `json:"chunk_size"`
	ChunkOverlap int        `json:"chunk_overlap"`
	Status       string     `json:"status"`
	ChunkCount   int        `json:"chunk_count"`
	VectorCount  int        `json:"vector_count"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func toDocumentResponse(d storage.Document) documentResponse {
	return documentResponse{
		ID:           d.ID,
		Name:         d.Name,
		FileName:     d.FileName,
		FileType:     d.FileType,
		SizeBytes:    d.SizeBytes,
		ChunkSize:    d.ChunkSize,
		ChunkOverlap: d.ChunkOverlap,
		Status:       d.Status,
		ChunkCount:   d.ChunkCount,
		VectorCount:  d.VectorCount,
		ErrorMessage: d.ErrorMessage,
		ProcessedAt:  d.ProcessedAt,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func handleUpload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		defer r.Body.Close()

		if err := r.ParseMultipartForm(maxUploadBodySize); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart form: %v", err)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file field is required")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading file: %v", err)
			return
		}

		autoProcess := true
		if v := r.FormValue("auto_process"); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				autoProcess = b
			}
		}

		doc, err := deps.Documents.Upload(document.UploadParams{
			Name:         r.FormValue("name"),
			FileName:     header.Filename,
			Data:         data,
			ChunkSize:    parseFormInt(r, "chunk_size"),
			ChunkOverlap: parseFormInt(r, "chunk_overlap"),
			AutoProcess:  autoProcess,
		})
		if errors.Is(err, document.ErrInvalidUpload) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save document: %v", err)
			return
		}

		writeJSON(w, http.StatusCreated, toDocumentResponse(doc))
	}
}

func handleListDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		docs, err := deps.Documents.List(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}

		out := make([]documentResponse, len(docs))
		for i, d := range docs {
			out[i] = toDocumentResponse(d)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		doc, err := deps.Documents.Get(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get document: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, toDocumentResponse(doc))
	}
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Documents.Stats(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to compute stats: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

type reprocessRequest struct {
	ChunkSize    int `json:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`
}

func handleReprocess(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req reprocessRequest
		if r.ContentLength > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
				return
			}
		}

		doc, err := deps.Documents.Reprocess(id, req.ChunkSize, req.ChunkOverlap)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if errors.Is(err, ingest.ErrAlreadyProcessing) {
			httpError(w, http.StatusConflict, "conflict", "document is already processing")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to reprocess document: %v", err)
			return
		}

		writeJSON(w, http.StatusAccepted, toDocumentResponse(doc))
	}
}

func handleDeleteDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Documents.Delete(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete document: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func parseFormInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.FormValue(key))
	if err != nil {
		return 0
	}
	return v
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
