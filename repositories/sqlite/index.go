package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/upb/medbot/models"
	"github.com/upb/medbot/repositories"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver
)

const backendName = "sqlite"

const schema = `
	CREATE TABLE IF NOT EXISTS documents (
		id        TEXT PRIMARY KEY,
		content   TEXT NOT NULL,
		metadata  TEXT NOT NULL DEFAULT '{}',
		dim       INTEGER NOT NULL,
		embedding TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_dim ON documents(dim);
`

// Options configures the SQLite index
type Options struct {
	// Path to the index file
	Path string

	// ReadOnly opens an existing file without write access. The serving path
	// always opens read-only; writers are only used to seed an index.
	ReadOnly bool
}

// Index is a flat-scan vector index persisted in a single SQLite file.
// Embeddings are stored as JSON arrays and scored with cosine similarity.
type Index struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

var _ repositories.VectorIndex = (*Index)(nil)

// Open opens the index at opts.Path
func Open(ctx context.Context, opts Options, logger *zap.Logger) (*Index, error) {
	if opts.Path == "" {
		return nil, errors.New("sqlite index path is required")
	}

	dsn := opts.Path
	if opts.ReadOnly {
		if _, err := os.Stat(opts.Path); err != nil {
			return nil, fmt.Errorf("index not found at %s: %w", opts.Path, err)
		}
		dsn = fmt.Sprintf("file:%s?mode=ro", opts.Path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping index: %w", err)
	}

	idx := &Index{db: db, path: opts.Path, logger: logger}
	if !opts.ReadOnly {
		if err := idx.ensureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	logger.Info("sqlite index opened",
		zap.String("path", opts.Path),
		zap.Bool("read_only", opts.ReadOnly))

	return idx, nil
}

func (i *Index) ensureSchema(ctx context.Context) error {
	if _, err := i.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Backend returns the storage backend name
func (i *Index) Backend() string {
	return backendName
}

// Upsert stores documents with their embeddings, replacing existing ids
func (i *Index) Upsert(ctx context.Context, docs []repositories.IndexedDocument) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO documents(id, content, metadata, dim, embedding) VALUES(?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range docs {
		meta := d.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for %s: %w", d.ID, err)
		}
		vecJSON, err := json.Marshal(d.Embedding)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding for %s: %w", d.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, d.ID, d.Content, string(metaJSON), len(d.Embedding), string(vecJSON)); err != nil {
			return fmt.Errorf("failed to insert %s: %w", d.ID, err)
		}
	}

	return tx.Commit()
}

// Search scans every stored vector of matching dimension and returns the top k above threshold
func (i *Index) Search(ctx context.Context, vector []float32, k int, threshold float64) ([]models.ScoredDocument, error) {
	if len(vector) == 0 || k <= 0 {
		return nil, nil
	}

	rows, err := i.db.QueryContext(ctx,
		`SELECT id, content, metadata, embedding FROM documents WHERE dim = ?`, len(vector))
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var candidates []models.ScoredDocument
	skipped := 0
	for rows.Next() {
		var id, content, metaStr, vecStr string
		if err := rows.Scan(&id, &content, &metaStr, &vecStr); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}

		var vec []float32
		if err := json.Unmarshal([]byte(vecStr), &vec); err != nil || len(vec) != len(vector) {
			skipped++
			continue
		}

		score := repositories.RelevanceFromCosine(repositories.CosineSimilarity(vector, vec))
		if score < threshold {
			continue
		}

		meta, _ := repositories.DecodeMetadata([]byte(metaStr))

		candidates = append(candidates, models.ScoredDocument{
			Document: models.Document{ID: id, Content: content, Metadata: meta},
			Score:    score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}

	if skipped > 0 {
		i.logger.Warn("skipped malformed embeddings", zap.Int("count", skipped))
	}

	return models.FilterByScore(candidates, threshold, k), nil
}

// Count returns the number of stored documents
func (i *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := i.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// Health checks that the documents table is readable
func (i *Index) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if _, err := i.Count(ctx); err != nil {
		return fmt.Errorf("index health check failed: %w", err)
	}
	return nil
}

// Close closes the database handle
func (i *Index) Close() error {
	i.logger.Info("closing sqlite index", zap.String("path", i.path))
	return i.db.Close()
}
