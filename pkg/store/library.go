package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/inkdrop/internal/models"
	"github.com/xhad/inkdrop/internal/types"
	"github.com/xhad/inkdrop/pkg/llm"
)

type LibraryConfig struct {
	ConnString  string
	TableName   string
	VectorDim   int
	SearchLimit int
	Chunker     llm.ChunkerConfig
}

// Library is a searchable archive of delivered documents in Postgres. Each
// document is stored with one embedding averaged over its text chunks.
type Library struct {
	config   LibraryConfig
	pool     *pgxpool.Pool
	embedder types.Embedder
	chunker  *llm.Chunker
}

// LibraryEntry is a search hit.
type LibraryEntry struct {
	ID          string
	Title       string
	Format      string
	Summary     string
	Entities    []string
	Metadata    map[string]string
	DeliveredAt time.Time
	Distance    float64
}

func NewLibrary(ctx context.Context, config LibraryConfig, embedder types.Embedder) (*Library, error) {
	if config.TableName == "" {
		config.TableName = "library"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768 // nomic-embed-text
	}
	if config.SearchLimit == 0 {
		config.SearchLimit = 5
	}
	if config.Chunker.ChunkSize == 0 {
		config.Chunker.ChunkSize = 1000
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	lib := &Library{
		config:   config,
		pool:     pool,
		embedder: embedder,
		chunker:  llm.NewChunker(config.Chunker),
	}
	if err := lib.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return lib, nil
}

func (l *Library) initialize(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			target TEXT NOT NULL,
			title TEXT NOT NULL,
			format TEXT NOT NULL,
			media_type TEXT NOT NULL,
			data BYTEA NOT NULL,
			summary TEXT,
			entities JSONB,
			metadata JSONB,
			embedding vector(%d),
			delivered_at TIMESTAMPTZ NOT NULL
		)`, l.config.TableName, l.config.VectorDim)
	if _, err := l.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING hnsw (embedding vector_cosine_ops)`,
		l.config.TableName, l.config.TableName)
	if _, err := l.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

func (l *Library) Deliver(ctx context.Context, doc *models.RenderedDocument, dest models.Destination) (*models.DeliveryReceipt, error) {
	title := sanitizeUTF8(doc.Title)
	if dest.Title != "" {
		title = sanitizeUTF8(dest.Title)
	}

	vec, err := l.embed(ctx, searchText(title, dest))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrDeviceUnavailable, err)
	}

	entities, _ := json.Marshal(dest.Entities)
	metadata, _ := json.Marshal(dest.Metadata)
	id := uuid.NewString()
	now := time.Now().UTC()

	insert := fmt.Sprintf(`
		INSERT INTO %s (id, target, title, format, media_type, data, summary, entities, metadata, embedding, delivered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		l.config.TableName)
	_, err = l.pool.Exec(ctx, insert,
		id, dest.Target, title, doc.Format, doc.MediaType, doc.Data,
		sanitizeUTF8(dest.Summary), entities, metadata, pgvector.NewVector(vec), now)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to insert document: %v", types.ErrDeviceUnavailable, err)
	}

	return &models.DeliveryReceipt{
		ID:          id,
		Target:      "library:" + l.config.TableName,
		Location:    id,
		DeliveredAt: now,
	}, nil
}

// Search returns the documents closest to query by cosine distance.
func (l *Library) Search(ctx context.Context, query string, limit int) ([]LibraryEntry, error) {
	if limit <= 0 {
		limit = l.config.SearchLimit
	}
	vec, err := l.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`
		SELECT id, title, format, COALESCE(summary, ''), entities, metadata, delivered_at, embedding <=> $1
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`,
		l.config.TableName)
	rows, err := l.pool.Query(ctx, q, pgvector.NewVector(vec), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var entries []LibraryEntry
	for rows.Next() {
		var (
			e                  LibraryEntry
			entities, metadata []byte
		)
		if err := rows.Scan(&e.ID, &e.Title, &e.Format, &e.Summary, &entities, &metadata, &e.DeliveredAt, &e.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		_ = json.Unmarshal(entities, &e.Entities)
		_ = json.Unmarshal(metadata, &e.Metadata)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (l *Library) Close() {
	if l.pool != nil {
		l.pool.Close()
	}
}

func (l *Library) embed(ctx context.Context, text string) ([]float32, error) {
	chunks := l.chunker.Split(text)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("nothing to embed")
	}
	vecs, err := l.embedder.Embed(ctx, chunks)
	if err != nil {
		return nil, err
	}
	vec := llm.Mean(vecs)
	if len(vec) != l.config.VectorDim {
		return nil, fmt.Errorf("embedding has %d dimensions, table expects %d", len(vec), l.config.VectorDim)
	}
	return vec, nil
}

// searchText is what a document is indexed by: title, summary, entities and
// the excerpt the upload stage attaches.
func searchText(title string, dest models.Destination) string {
	parts := []string{title, dest.Summary, strings.Join(dest.Entities, ", "), dest.Metadata["excerpt"]}
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(sanitizeUTF8(p)); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ". ")
}

func sanitizeUTF8(s string) string {
	return strings.ToValidUTF8(s, "")
}
