package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/medbot/models"
	"github.com/upb/medbot/repositories"
	"go.uber.org/zap"
)

const backendName = "postgres"

// DefaultTable holds chunks with a pgvector "embedding" column
const DefaultTable = "documents"

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Options configures the connection pool
type Options struct {
	DSN             string
	Table           string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Index is a VectorIndex served by PostgreSQL with the pgvector extension.
// Expected table shape: id text, content text, metadata jsonb, embedding vector(n).
type Index struct {
	db     *sql.DB
	table  string
	logger *zap.Logger
}

var _ repositories.VectorIndex = (*Index)(nil)

// Open creates a connection pool and verifies it
func Open(ctx context.Context, opts Options, logger *zap.Logger) (*Index, error) {
	db, err := sql.Open("postgres", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	idx, err := New(db, opts.Table, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("postgres index connected", zap.String("table", idx.table))
	return idx, nil
}

// New wraps an existing pool. An empty table selects DefaultTable.
func New(db *sql.DB, table string, logger *zap.Logger) (*Index, error) {
	if table == "" {
		table = DefaultTable
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Index{db: db, table: table, logger: logger}, nil
}

// Backend returns the storage backend name
func (i *Index) Backend() string {
	return backendName
}

// Search orders rows by cosine distance and keeps those whose relevance reaches threshold
func (i *Index) Search(ctx context.Context, vector []float32, k int, threshold float64) ([]models.ScoredDocument, error) {
	if len(vector) == 0 || k <= 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT id, content, metadata, 1 - (embedding <=> $1::vector) AS similarity
		FROM %s
		WHERE 1 - (embedding <=> $1::vector) >= $2
		ORDER BY embedding <=> $1::vector
		LIMIT $3`, i.table)

	minCosine := repositories.CosineFromRelevance(threshold)
	rows, err := i.db.QueryContext(ctx, query, vectorLiteral(vector), minCosine, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", i.table, err)
	}
	defer rows.Close()

	var docs []models.ScoredDocument
	for rows.Next() {
		var (
			id, content string
			metaRaw     []byte
			similarity  float64
		)
		if err := rows.Scan(&id, &content, &metaRaw, &similarity); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		meta, err := repositories.DecodeMetadata(metaRaw)
		if err != nil {
			i.logger.Warn("ignoring malformed metadata", zap.String("id", id), zap.Error(err))
		}
		doc := models.Document{ID: id, Content: content, Metadata: meta}

		docs = append(docs, models.ScoredDocument{
			Document: doc,
			Score:    repositories.RelevanceFromCosine(similarity),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return models.FilterByScore(docs, threshold, k), nil
}

// Health performs a ping and a trivial query
func (i *Index) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := i.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := i.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Close closes the connection pool
func (i *Index) Close() error {
	i.logger.Info("closing postgres index")
	return i.db.Close()
}

// vectorLiteral formats v in pgvector text form, e.g. [0.1,0.2]
func vectorLiteral(v []float32) string {
	var sb strings.Builder
	sb.Grow(len(v) * 10)
	sb.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}
