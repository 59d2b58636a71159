package corpus_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vulnscope/features/corpus"
)

func newMockRepo(t *testing.T) (*corpus.PostgresRepo, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return corpus.NewPostgresRepo(db), mock
}

func TestPostgresRepo_Upsert(t *testing.T) {
	repo, mock := newMockRepo(t)
	ingested := time.Now()

	mock.ExpectQuery(`INSERT INTO documents`).
		WithArgs("doc-1", "Title", "Body", "mitre_attack", "https://attack.mitre.org/doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"ingested_at"}).AddRow(ingested))

	doc := &corpus.Document{ID: "doc-1", Title: "Title", Body: "Body", SourceTag: "mitre_attack", URL: "https://attack.mitre.org/doc-1"}
	require.NoError(t, repo.Upsert(context.Background(), doc))
	assert.Equal(t, ingested, doc.IngestedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Get(t *testing.T) {
	repo, mock := newMockRepo(t)

	t.Run("Found", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "title", "body", "source_tag", "url", "ingested_at"}).
			AddRow("doc-1", "Title", "Body", "owasp", "https://owasp.org/doc-1", time.Now())
		mock.ExpectQuery(`SELECT id, title, body, source_tag, url, ingested_at FROM documents WHERE id`).
			WithArgs("doc-1").
			WillReturnRows(rows)

		doc, err := repo.Get(context.Background(), "doc-1")
		require.NoError(t, err)
		assert.Equal(t, "owasp", doc.SourceTag)
	})

	t.Run("Missing", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id, title, body, source_tag, url, ingested_at FROM documents WHERE id`).
			WithArgs("nope").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.Get(context.Background(), "nope")
		assert.ErrorIs(t, err, sql.ErrNoRows)
	})
}

func TestPostgresRepo_ListBySourceTag(t *testing.T) {
	repo, mock := newMockRepo(t)

	rows := sqlmock.NewRows([]string{"id", "title", "body", "source_tag", "url", "ingested_at"}).
		AddRow("doc-1", "A", "body a", "cve", "", time.Now()).
		AddRow("doc-2", "B", "body b", "cve", "https://nvd.nist.gov/doc-2", time.Now())
	mock.ExpectQuery(`SELECT id, title, body, source_tag, url, ingested_at FROM documents WHERE source_tag`).
		WithArgs("cve").
		WillReturnRows(rows)

	docs, err := repo.ListBySourceTag(context.Background(), "cve")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "doc-1", docs[0].ID)
	assert.Equal(t, "doc-2", docs[1].ID)
}

func TestPostgresRepo_ListSourceTags(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT DISTINCT source_tag FROM documents`).
		WillReturnRows(sqlmock.NewRows([]string{"source_tag"}).AddRow("cve").AddRow("mitre_attack"))

	tags, err := repo.ListSourceTags(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"cve", "mitre_attack"}, tags)
}

func TestPostgresRepo_Count(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM documents`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	count, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, count)
}
