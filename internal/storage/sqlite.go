package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/intellilearn/internal/models"
)

// createdLayout sorts lexically in creation order.
const createdLayout = "2006-01-02T15:04:05.000000Z"

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist. Foreign keys are enforced on every
// pooled connection so deletes cascade from topics to documents to chunks.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db, now: time.Now}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS topics (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_topics_user ON topics(user_id, created_at);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		topic_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		file_name TEXT NOT NULL,
		file_path TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		processing_stage TEXT NOT NULL DEFAULT '',
		progress_percent INTEGER NOT NULL DEFAULT 0,
		stage_details TEXT NOT NULL DEFAULT '',
		chunk_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		FOREIGN KEY (topic_id) REFERENCES topics(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_documents_topic ON documents(topic_id, created_at);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		topic_id TEXT NOT NULL,
		file_name TEXT NOT NULL,
		content TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_document_chunk ON document_chunks(document_id, chunk_index);
	CREATE INDEX IF NOT EXISTS idx_chunks_topic ON document_chunks(topic_id);
	`
	_, err := db.Exec(schema)
	return err
}

func (s *SQLiteStorage) timestamp() string {
	return s.now().UTC().Format(createdLayout)
}

// CreateTopic inserts a topic and stamps its creation time.
func (s *SQLiteStorage) CreateTopic(ctx context.Context, topic *models.Topic) error {
	topic.CreatedAt = s.timestamp()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO topics (id, user_id, name, description, created_at) VALUES (?, ?, ?, ?, ?)`,
		topic.ID, topic.UserID, topic.Name, topic.Description, topic.CreatedAt,
	)
	return err
}

// GetTopic returns a topic by ID.
func (s *SQLiteStorage) GetTopic(ctx context.Context, id string) (*models.Topic, error) {
	var t models.Topic
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, description, created_at FROM topics WHERE id = ?`, id,
	).Scan(&t.ID, &t.UserID, &t.Name, &t.Description, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("topic %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTopics returns a user's topics, newest first.
func (s *SQLiteStorage) ListTopics(ctx context.Context, userID string) ([]*models.Topic, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, description, created_at
		 FROM topics WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	topics := make([]*models.Topic, 0)
	for rows.Next() {
		var t models.Topic
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		topics = append(topics, &t)
	}
	return topics, rows.Err()
}

// DeleteTopic removes a topic; its documents and chunks are removed by cascade.
func (s *SQLiteStorage) DeleteTopic(ctx context.Context, id string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var docs int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE topic_id = ?`, id).Scan(&docs); err != nil {
		return 0, err
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM topics WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("topic %s: %w", id, ErrNotFound)
	}
	return docs, tx.Commit()
}

const documentColumns = `id, topic_id, user_id, file_name, file_path, status, processing_stage,
	progress_percent, stage_details, chunk_count, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*models.Document, error) {
	var doc models.Document
	var status string
	err := row.Scan(&doc.ID, &doc.TopicID, &doc.UserID, &doc.FileName, &doc.FilePath, &status,
		&doc.ProcessingStage, &doc.ProgressPercent, &doc.StageDetails, &doc.ChunkCount, &doc.CreatedAt)
	if err != nil {
		return nil, err
	}
	doc.Status = models.DocumentStatus(status)
	return &doc, nil
}

// CreateDocument inserts a document. The topic must exist.
func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	doc.CreatedAt = s.timestamp()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.TopicID, doc.UserID, doc.FileName, doc.FilePath, string(doc.Status),
		doc.ProcessingStage, doc.ProgressPercent, doc.StageDetails, doc.ChunkCount, doc.CreatedAt,
	)
	return err
}

// GetDocument returns a document by ID.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return doc, err
}

// ListDocuments returns the documents of a topic, newest first.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, topicID string) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE topic_id = ? ORDER BY created_at DESC, rowid DESC`,
		topicID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]*models.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// UpdateProgress records a processing update for a document.
func (s *SQLiteStorage) UpdateProgress(ctx context.Context, id string, p Progress) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, processing_stage = ?, progress_percent = ?,
		 stage_details = ?, chunk_count = ? WHERE id = ?`,
		string(p.Status), p.Stage, models.ClampPercent(p.Percent), p.Details, p.ChunkCount, id,
	)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteDocument removes a document and, by cascade, its chunks.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

// BatchCreateChunks inserts multiple chunks in a transaction.
func (s *SQLiteStorage) BatchCreateChunks(ctx context.Context, chunks []*models.DocumentChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO document_chunks (id, document_id, topic_id, file_name, content, chunk_index)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.TopicID, c.FileName, c.Content, c.ChunkIndex); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetChunksByDocumentID returns all chunks for a document ordered by chunk_index.
func (s *SQLiteStorage) GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.DocumentChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, topic_id, file_name, content, chunk_index
		 FROM document_chunks WHERE document_id = ? ORDER BY chunk_index`,
		docID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.DocumentChunk
	for rows.Next() {
		var c models.DocumentChunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.TopicID, &c.FileName, &c.Content, &c.ChunkIndex); err != nil {
			return nil, err
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// ChunkIDsByTopic returns the ids of every chunk stored under a topic.
func (s *SQLiteStorage) ChunkIDsByTopic(ctx context.Context, topicID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM document_chunks WHERE topic_id = ?`, topicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteChunksByDocumentID removes all chunks for a document.
func (s *SQLiteStorage) DeleteChunksByDocumentID(ctx context.Context, docID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, docID)
	return err
}

// CountDocuments returns the total number of documents.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_chunks`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
