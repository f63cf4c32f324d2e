// Package knowledge reads coaching reference passages from PostgreSQL.
//
// The store owns the two read shapes the retrieval engine needs: most-recent
// chunks overlapping a persona's knowledge tags, and most-recent chunks for a
// tradition excluding already-fetched ids. Embeddings are parsed defensively
// because older ingestion runs stored them as JSON-encoded strings rather
// than native vectors.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"
)

// Querier is the subset of pgxpool.Pool the store depends on. Defined here,
// by the consumer, so tests and transactions can substitute implementations.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store provides read access to knowledge chunks.
// Safe for concurrent use.
type Store struct {
	db     Querier
	logger *slog.Logger
}

// New creates a Store. A nil logger uses slog.Default().
func New(db Querier, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

const chunkColumns = `id, work, author, tradition, section, virtue, persona_tags,
	content, citation, embedding::text, metadata, created_at`

// RecentByTags returns up to limit most-recent chunks whose persona tags
// overlap tags. With no tags, the filter is dropped and the newest chunks
// across all personas are returned.
func (s *Store) RecentByTags(ctx context.Context, tags []string, limit int32) ([]Chunk, error) {
	if limit <= 0 {
		return nil, nil
	}

	var (
		rows pgx.Rows
		err  error
	)
	if len(tags) > 0 {
		rows, err = s.db.Query(ctx, fmt.Sprintf(
			`SELECT %s FROM knowledge_chunks
			 WHERE persona_tags && $1
			 ORDER BY created_at DESC
			 LIMIT $2`, chunkColumns), tags, limit)
	} else {
		rows, err = s.db.Query(ctx, fmt.Sprintf(
			`SELECT %s FROM knowledge_chunks
			 ORDER BY created_at DESC
			 LIMIT $1`, chunkColumns), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("querying chunks by tags: %w", err)
	}
	defer rows.Close()

	return s.scanChunks(rows)
}

// RecentByTradition returns up to limit most-recent chunks for a tradition,
// excluding the given ids. An empty tradition drops that filter; the id
// exclusion always applies.
func (s *Store) RecentByTradition(ctx context.Context, tradition string, excludeIDs []string, limit int32) ([]Chunk, error) {
	if limit <= 0 {
		return nil, nil
	}
	if excludeIDs == nil {
		excludeIDs = []string{}
	}

	var (
		rows pgx.Rows
		err  error
	)
	if tradition != "" {
		rows, err = s.db.Query(ctx, fmt.Sprintf(
			`SELECT %s FROM knowledge_chunks
			 WHERE tradition = $1 AND NOT (id = ANY($2))
			 ORDER BY created_at DESC
			 LIMIT $3`, chunkColumns), tradition, excludeIDs, limit)
	} else {
		rows, err = s.db.Query(ctx, fmt.Sprintf(
			`SELECT %s FROM knowledge_chunks
			 WHERE NOT (id = ANY($1))
			 ORDER BY created_at DESC
			 LIMIT $2`, chunkColumns), excludeIDs, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("querying chunks by tradition: %w", err)
	}
	defer rows.Close()

	return s.scanChunks(rows)
}

// Add inserts or replaces a chunk. The ingestion pipeline owns production
// writes; this exists for fixtures and operational backfills.
func (s *Store) Add(ctx context.Context, chunk Chunk) error {
	if chunk.ID == "" {
		return fmt.Errorf("chunk id must not be empty")
	}

	metadataJSON, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling chunk metadata: %w", err)
	}

	var embedding *pgvector.Vector
	if len(chunk.Embedding) > 0 {
		v := pgvector.NewVector(chunk.Embedding)
		embedding = &v
	}

	createdAt := pgtype.Timestamptz{Time: chunk.CreatedAt, Valid: !chunk.CreatedAt.IsZero()}
	tags := chunk.PersonaTags
	if tags == nil {
		tags = []string{}
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO knowledge_chunks
		   (id, work, author, tradition, section, virtue, persona_tags,
		    content, citation, embedding, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, COALESCE($12, now()))
		 ON CONFLICT (id) DO UPDATE SET
		   work = EXCLUDED.work,
		   author = EXCLUDED.author,
		   tradition = EXCLUDED.tradition,
		   section = EXCLUDED.section,
		   virtue = EXCLUDED.virtue,
		   persona_tags = EXCLUDED.persona_tags,
		   content = EXCLUDED.content,
		   citation = EXCLUDED.citation,
		   embedding = EXCLUDED.embedding,
		   metadata = EXCLUDED.metadata`,
		chunk.ID, chunk.Work, chunk.Author, chunk.Tradition, chunk.Section,
		chunk.Virtue, tags, chunk.Content, nullableText(chunk.Citation),
		embedding, metadataJSON, createdAt)
	if err != nil {
		return fmt.Errorf("upserting chunk %q: %w", chunk.ID, err)
	}

	s.logger.Debug("added chunk", "id", chunk.ID, "content_length", len(chunk.Content))
	return nil
}

// Count returns the total number of stored chunks.
func (s *Store) Count(ctx context.Context) (int64, error) {
	rows, err := s.db.Query(ctx, `SELECT count(*) FROM knowledge_chunks`)
	if err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	defer rows.Close()

	var count int64
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, fmt.Errorf("scanning chunk count: %w", err)
		}
	}
	return count, rows.Err()
}

func (s *Store) scanChunks(rows pgx.Rows) ([]Chunk, error) {
	var chunks []Chunk

	for rows.Next() {
		var (
			chunk        Chunk
			citation     pgtype.Text
			embeddingRaw pgtype.Text
			metadataRaw  []byte
			createdAt    pgtype.Timestamptz
		)
		if err := rows.Scan(
			&chunk.ID, &chunk.Work, &chunk.Author, &chunk.Tradition,
			&chunk.Section, &chunk.Virtue, &chunk.PersonaTags,
			&chunk.Content, &citation, &embeddingRaw, &metadataRaw, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}

		if citation.Valid {
			chunk.Citation = citation.String
		}
		if createdAt.Valid {
			chunk.CreatedAt = createdAt.Time
		}
		if embeddingRaw.Valid {
			chunk.Embedding = ParseEmbedding(embeddingRaw.String)
			if chunk.Embedding == nil && embeddingRaw.String != "" {
				s.logger.Warn("unparseable chunk embedding", "chunk_id", chunk.ID)
			}
		}
		if len(metadataRaw) > 0 {
			if err := json.Unmarshal(metadataRaw, &chunk.Metadata); err != nil {
				s.logger.Warn("unparseable chunk metadata", "chunk_id", chunk.ID, "error", err)
				chunk.Metadata = nil
			}
		}

		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading chunk rows: %w", err)
	}
	return chunks, nil
}

func nullableText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
