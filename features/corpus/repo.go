package corpus

import (
	"context"
	"database/sql"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Upsert(ctx context.Context, doc *Document) error {
	query := `INSERT INTO documents (id, title, body, source_tag, url)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title, body = EXCLUDED.body,
		    source_tag = EXCLUDED.source_tag, url = EXCLUDED.url,
		    updated_at = NOW()
		RETURNING ingested_at`
	return r.db.QueryRowContext(ctx, query, doc.ID, doc.Title, doc.Body, doc.SourceTag, doc.URL).Scan(&doc.IngestedAt)
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Document, error) {
	doc := &Document{}
	query := `SELECT id, title, body, source_tag, url, ingested_at FROM documents WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&doc.ID, &doc.Title, &doc.Body, &doc.SourceTag, &doc.URL, &doc.IngestedAt)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *PostgresRepo) ListBySourceTag(ctx context.Context, sourceTag string) ([]Document, error) {
	query := `SELECT id, title, body, source_tag, url, ingested_at FROM documents WHERE source_tag = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, sourceTag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Body, &doc.SourceTag, &doc.URL, &doc.IngestedAt); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (r *PostgresRepo) ListSourceTags(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT source_tag FROM documents ORDER BY source_tag`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}
