package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pitchlab/knowd/internal/embedding"
)

// Compile-time check that Remote implements VectorStore.
var _ VectorStore = (*Remote)(nil)

// Remote forwards vector operations to an external ANN search service over
// REST. The service owns indexing and ranking; this client only moves points
// in and out. It never retries — per-chunk retry policy belongs to the
// ingestion pipeline.
type Remote struct {
	baseURL    string
	apiKey     string
	namespace  string
	httpClient *http.Client
}

// defaultRemoteTimeout bounds one call to the ANN service.
const defaultRemoteTimeout = 15 * time.Second

// NewRemote creates a Remote client from the resolved config.
func NewRemote(cfg Config) *Remote {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "documents"
	}
	return &Remote{
		baseURL:    strings.TrimRight(cfg.RemoteURL, "/"),
		apiKey:     cfg.RemoteAPIKey,
		namespace:  namespace,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// point is the wire form of one stored vector.
type point struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata"`
}

func recordToPoint(r Record) point {
	return point{
		ID:     r.ID,
		Values: r.Embedding,
		Metadata: map[string]any{
			"documentId":   r.DocumentID,
			"chunkIndex":   r.ChunkIndex,
			"totalChunks":  r.TotalChunks,
			"text":         r.Text,
			"documentName": r.DocumentName,
			"fileType":     r.FileType,
			"startOffset":  r.StartOffset,
			"endOffset":    r.EndOffset,
		},
	}
}

// Upsert pushes the records to the service.
func (r *Remote) Upsert(ctx context.Context, records []Record) error {
	points := make([]point, len(records))
	for i, rec := range records {
		points[i] = recordToPoint(rec)
	}
	body := map[string]any{
		"namespace": r.namespace,
		"vectors":   points,
	}
	return r.postJSON(ctx, "/vectors/upsert", body, nil)
}

// DeleteByDocument removes the document's vectors using a metadata filter
// expression, the service's document-scoped delete.
func (r *Remote) DeleteByDocument(ctx context.Context, documentID string) error {
	body := map[string]any{
		"namespace": r.namespace,
		"filter":    fmt.Sprintf("documentId = '%s'", documentID),
	}
	return r.postJSON(ctx, "/vectors/delete", body, nil)
}

// queryResponse is the JSON returned by POST /vectors/query.
type queryResponse struct {
	Matches []struct {
		ID       string         `json:"id"`
		Score    float32        `json:"score"`
		Metadata map[string]any `json:"metadata"`
	} `json:"matches"`
}

// Query asks the service for the topK nearest vectors.
func (r *Remote) Query(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, error) {
	if topK <= 0 {
		return nil, nil
	}
	body := map[string]any{
		"namespace":       r.namespace,
		"vector":          vector,
		"topK":            topK,
		"includeMetadata": true,
	}
	var resp queryResponse
	if err := r.postJSON(ctx, "/vectors/query", body, &resp); err != nil {
		return nil, err
	}

	results := make([]ScoredRecord, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		rec := Record{ID: m.ID}
		if v, ok := m.Metadata["documentId"].(string); ok {
			rec.DocumentID = v
		}
		if v, ok := m.Metadata["chunkIndex"].(float64); ok {
			rec.ChunkIndex = int(v)
		}
		if v, ok := m.Metadata["totalChunks"].(float64); ok {
			rec.TotalChunks = int(v)
		}
		if v, ok := m.Metadata["text"].(string); ok {
			rec.Text = v
		}
		if v, ok := m.Metadata["documentName"].(string); ok {
			rec.DocumentName = v
		}
		if v, ok := m.Metadata["fileType"].(string); ok {
			rec.FileType = v
		}
		if v, ok := m.Metadata["startOffset"].(float64); ok {
			rec.StartOffset = int(v)
		}
		if v, ok := m.Metadata["endOffset"].(float64); ok {
			rec.EndOffset = int(v)
		}
		results = append(results, ScoredRecord{Record: rec, Score: m.Score})
	}
	return results, nil
}

// statsResponse is the JSON returned by GET /vectors/stats.
type statsResponse struct {
	VectorCount int `json:"vectorCount"`
}

// Count returns the service's vector count for the namespace.
func (r *Remote) Count(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/vectors/stats?namespace="+r.namespace, nil)
	if err != nil {
		return 0, fmt.Errorf("creating stats request: %w", err)
	}
	r.setHeaders(req)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return 0, &embedding.RemoteServiceError{Service: "vector-store", Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, remoteError(resp)
	}

	var stats statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return 0, &embedding.RemoteServiceError{Service: "vector-store", Status: resp.StatusCode, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	return stats.VectorCount, nil
}

func (r *Remote) postJSON(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	r.setHeaders(req)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return &embedding.RemoteServiceError{Service: "vector-store", Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return remoteError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &embedding.RemoteServiceError{Service: "vector-store", Status: resp.StatusCode, Message: fmt.Sprintf("malformed response: %v", err)}
		}
	}
	return nil
}

func (r *Remote) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", r.apiKey)
}

func remoteError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &embedding.RemoteServiceError{
		Service: "vector-store",
		Status:  resp.StatusCode,
		Message: strings.TrimSpace(string(msg)),
	}
}
