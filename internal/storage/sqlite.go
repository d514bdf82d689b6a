package storage

import (
	"database/sql"
	"embed"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for documents, chunks, and the
// ingestion job queue.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "knowd.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	// Chunks cascade with their document.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for components that share the
// relational store, such as the local vector backend.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Documents ---

func (s *Store) CreateDocument(d Document) error {
	now := time.Now().UTC().Format(time.RFC3339)
	status := d.Status
	if status == "" {
		status = StatusPending
	}
	_, err := s.db.Exec(`
		INSERT INTO documents (id, name, file_name, file_type, size_bytes, chunk_size, chunk_overlap, status, chunk_count, vector_count, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, NULL, ?, ?)`,
		d.ID, d.Name, d.FileName, d.FileType, d.SizeBytes, d.ChunkSize, d.ChunkOverlap, status, now, now,
	)
	return err
}

const documentColumns = `id, name, file_name, file_type, size_bytes, chunk_size, chunk_overlap, status, chunk_count, vector_count, error_message, processed_at, created_at, updated_at`

func (s *Store) GetDocument(id string) (Document, error) {
	row := s.db.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	return d, err
}

func (s *Store) ListDocuments(limit, offset int) ([]Document, error) {
	rows, err := s.db.Query(`SELECT `+documentColumns+` FROM documents ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var d Document
	var errMsg, processedAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&d.ID, &d.Name, &d.FileName, &d.FileType, &d.SizeBytes, &d.ChunkSize, &d.ChunkOverlap,
		&d.Status, &d.ChunkCount, &d.VectorCount, &errMsg, &processedAt, &createdAt, &updatedAt)
	if err != nil {
		return Document{}, err
	}
	d.ErrorMessage = errMsg.String
	if processedAt.Valid {
		t, err := time.Parse(time.RFC3339, processedAt.String)
		if err != nil {
			return Document{}, fmt.Errorf("parsing processed_at for document %s: %w", d.ID, err)
		}
		d.ProcessedAt = &t
	}
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Document{}, fmt.Errorf("parsing created_at for document %s: %w", d.ID, err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Document{}, fmt.Errorf("parsing updated_at for document %s: %w", d.ID, err)
	}
	return d, nil
}

// MarkDocumentProcessing transitions a document to PROCESSING.
func (s *Store) MarkDocumentProcessing(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	return s.updateChecked(`UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`,
		StatusProcessing, now, id)
}

// CompleteDocument records the outcome of a finished ingestion run. Counts are
// rewritten, never incremented. errMsg may be empty (full success) or carry
// the per-chunk error summary of a partial run.
func (s *Store) CompleteDocument(id string, chunkCount, vectorCount int, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	var msg any
	if errMsg != "" {
		msg = errMsg
	}
	return s.updateChecked(`UPDATE documents SET status = ?, chunk_count = ?, vector_count = ?, error_message = ?, processed_at = ?, updated_at = ? WHERE id = ?`,
		StatusCompleted, chunkCount, vectorCount, msg, now, now, id)
}

// FailDocument records a run that failed outright. Counts are reset.
func (s *Store) FailDocument(id string, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	return s.updateChecked(`UPDATE documents SET status = ?, chunk_count = 0, vector_count = 0, error_message = ?, processed_at = ?, updated_at = ? WHERE id = ?`,
		StatusFailed, errMsg, now, now, id)
}

// ResetDocumentForReprocess moves a document back to PENDING with fresh chunk
// options and a cleared error message.
func (s *Store) ResetDocumentForReprocess(id string, chunkSize, chunkOverlap int) error {
	now := time.Now().UTC().Format(time.RFC3339)
	return s.updateChecked(`UPDATE documents SET status = ?, chunk_size = ?, chunk_overlap = ?, error_message = NULL, updated_at = ? WHERE id = ?`,
		StatusPending, chunkSize, chunkOverlap, now, id)
}

func (s *Store) DeleteDocument(id string) error {
	res, err := s.db.Exec(`DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountDocumentsByStatus returns the number of documents in each status.
func (s *Store) CountDocumentsByStatus() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *Store) updateChecked(query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Chunks ---

// ReplaceChunks atomically replaces all chunk rows of a document with the
// given set. A reprocess run replaces, it never merges.
func (s *Store) ReplaceChunks(documentID string, chunks []Chunk) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning replace transaction: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		tx.Rollback()
		return fmt.Errorf("deleting prior chunks for %s: %w", documentID, err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO chunks (document_id, chunk_index, text, embedding, start_offset, end_offset, total_chunks, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, c := range chunks {
		var blob []byte
		if c.Embedding != nil {
			blob = EncodeVector(c.Embedding)
		}
		metadata := c.Metadata
		if metadata == "" {
			metadata = "{}"
		}
		if _, err := stmt.Exec(documentID, c.ChunkIndex, c.Text, blob, c.StartOffset, c.EndOffset, c.TotalChunks, metadata, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting chunk %d for %s: %w", c.ChunkIndex, documentID, err)
		}
	}

	return tx.Commit()
}

// ListChunks returns all chunk rows of a document ordered by index.
func (s *Store) ListChunks(documentID string) ([]Chunk, error) {
	rows, err := s.db.Query(`
		SELECT document_id, chunk_index, text, embedding, start_offset, end_offset, total_chunks, metadata, created_at
		FROM chunks WHERE document_id = ? ORDER BY chunk_index ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var blob []byte
		var createdAt string
		if err := rows.Scan(&c.DocumentID, &c.ChunkIndex, &c.Text, &blob, &c.StartOffset, &c.EndOffset, &c.TotalChunks, &c.Metadata, &createdAt); err != nil {
			return nil, err
		}
		if blob != nil {
			vec, err := DecodeVector(blob)
			if err != nil {
				return nil, fmt.Errorf("decoding embedding for %s/%d: %w", c.DocumentID, c.ChunkIndex, err)
			}
			c.Embedding = vec
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for chunk %s/%d: %w", c.DocumentID, c.ChunkIndex, err)
		}
		c.CreatedAt = t
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ChunkStats returns the total number of chunk rows and how many of them
// carry an embedding.
func (s *Store) ChunkStats() (total int, embedded int, err error) {
	err = s.db.QueryRow(`SELECT COUNT(*), COUNT(embedding) FROM chunks`).Scan(&total, &embedded)
	return total, embedded, err
}

// --- Jobs ---

func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

// ClaimNextJob atomically claims the oldest runnable pending job of one of the
// given types, or returns nil when none is due.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt string
	var lastError sql.NullString
	var updatedAt string
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	return s.updateChecked(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
}

// FailJob increments the attempt counter and either requeues the job with
// exponential backoff or marks it failed once max attempts is reached.
func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}

	if err != nil {
		return err
	}

	return tx.Commit()
}

// --- Vector blob codec ---

// EncodeVector serializes a float32 slice to little-endian bytes.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4 (indicates data corruption).
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
