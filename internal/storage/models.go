package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document ingestion statuses.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Document is the metadata record for one uploaded document.
type Document struct {
	ID           string
	Name         string
	FileName     string
	FileType     string
	SizeBytes    int64
	ChunkSize    int
	ChunkOverlap int
	Status       string // PENDING, PROCESSING, COMPLETED, FAILED
	ChunkCount   int
	VectorCount  int
	ErrorMessage string
	ProcessedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Chunk is one persisted slice of a document's extracted text.
// The embedding column is nil until a vector has been stored for the chunk;
// with the local vector backend the embedding lives in this row, with the
// remote backend it stays nil and the vector lives in the remote service.
type Chunk struct {
	DocumentID  string
	ChunkIndex  int
	Text        string
	Embedding   []float32
	StartOffset int
	EndOffset   int
	TotalChunks int
	Metadata    string // JSON object stored as text
	CreatedAt   time.Time
}

// Job is one entry in the ingestion work queue.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
