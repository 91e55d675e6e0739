package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/biolink/semindex/internal/log"
)

// DB is the subset of pgxpool.Pool the Postgres store uses.
// Interfaces are defined by the consumer, not the provider.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Postgres stores embedding documents in PostgreSQL with pgvector.
// Safe for concurrent use; version guards are enforced in SQL, so concurrent
// writers for the same id converge on the highest version.
type Postgres struct {
	db     DB
	logger log.Logger
}

// NewPostgres creates a Postgres store.
func NewPostgres(db DB, logger log.Logger) *Postgres {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Postgres{db: db, logger: logger}
}

func (p *Postgres) Upsert(ctx context.Context, doc Document) (bool, error) {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshaling metadata for %q: %w", doc.ID, err)
	}

	embedding := pgvector.NewVector(doc.Vector)

	// The WHERE clause on the conflict update is the version guard: a stale
	// or re-delivered event matches zero rows and the write is a no-op.
	tag, err := p.db.Exec(ctx, `
		INSERT INTO embedding_documents
			(id, source_table, source_key, content, content_hash, metadata, embedding, source_version, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NULL)
		ON CONFLICT (id) DO UPDATE SET
			content        = EXCLUDED.content,
			content_hash   = EXCLUDED.content_hash,
			metadata       = EXCLUDED.metadata,
			embedding      = EXCLUDED.embedding,
			source_version = EXCLUDED.source_version,
			updated_at     = NOW(),
			deleted_at     = NULL
		WHERE embedding_documents.source_version < EXCLUDED.source_version`,
		doc.ID, doc.Table, doc.Key, doc.Content, doc.ContentHash, metadataJSON, &embedding, doc.SourceVersion)
	if err != nil {
		return false, fmt.Errorf("upserting document %q: %w", doc.ID, err)
	}

	applied := tag.RowsAffected() > 0
	if !applied {
		p.logger.Debug("stale upsert dropped", "id", doc.ID, "version", doc.SourceVersion)
	}
	return applied, nil
}

func (p *Postgres) Delete(ctx context.Context, id string, version int64) (bool, error) {
	table, key, err := SplitID(id)
	if err != nil {
		return false, err
	}

	// A delete for an id we have never seen still writes a tombstone, so a
	// stale upsert arriving afterwards cannot resurrect the document.
	tag, err := p.db.Exec(ctx, `
		INSERT INTO embedding_documents
			(id, source_table, source_key, source_version, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			content        = '',
			content_hash   = '',
			embedding      = NULL,
			source_version = EXCLUDED.source_version,
			updated_at     = NOW(),
			deleted_at     = NOW()
		WHERE embedding_documents.source_version < EXCLUDED.source_version`,
		id, table, key, version)
	if err != nil {
		return false, fmt.Errorf("deleting document %q: %w", id, err)
	}

	applied := tag.RowsAffected() > 0
	if !applied {
		p.logger.Debug("stale delete dropped", "id", id, "version", version)
	}
	return applied, nil
}

func (p *Postgres) Search(ctx context.Context, vector []float32, k int, filters map[string]string) ([]Result, error) {
	queryVec := pgvector.NewVector(vector)

	// filters is marshaled with json.Marshal and compared with the JSONB @>
	// operator through a bind parameter; never interpolate filter values.
	query := `
		SELECT id, content, metadata, source_version, 1 - (embedding <=> $1) AS similarity
		FROM embedding_documents
		WHERE deleted_at IS NULL AND embedding IS NOT NULL`
	args := []any{&queryVec}

	if len(filters) > 0 {
		filterJSON, err := json.Marshal(filters)
		if err != nil {
			return nil, fmt.Errorf("marshaling search filter: %w", err)
		}
		args = append(args, filterJSON)
		query += fmt.Sprintf(" AND metadata @> $%d", len(args))
	}

	args = append(args, k)
	query += fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT $%d", len(args))

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var metadataJSON []byte
		if err := rows.Scan(&r.ID, &r.Content, &metadataJSON, &r.SourceVersion, &r.Score); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &r.Metadata); err != nil {
			p.logger.Warn("failed to parse metadata", "document_id", r.ID, "error", err)
			r.Metadata = make(map[string]string)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search results: %w", err)
	}
	return results, nil
}
