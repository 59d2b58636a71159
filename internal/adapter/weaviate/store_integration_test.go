package weaviate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vulnscope/internal/adapter/weaviate"
	"vulnscope/internal/index"
	"vulnscope/internal/testutils"
)

func TestStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	store := weaviate.NewStore(s.Weaviate)
	ctx := context.Background()

	require.NoError(t, store.EnsureSchema(ctx))

	rows := []index.Row{
		{
			Content:     "Adversaries may abuse command interpreters",
			ParentID:    "attack-T1059",
			SourceTag:   "mitre_attack",
			Title:       "Command and Scripting Interpreter",
			URL:         "https://attack.mitre.org/techniques/T1059/",
			OrderIndex:  0,
			TokenCount:  7,
			ContentHash: "hash-t1059-0",
			Vector:      []float32{0.9, 0.1, 0.0},
		},
		{
			Content:     "Broken access control allows unauthorized actions",
			ParentID:    "owasp-A01",
			SourceTag:   "owasp_top10",
			Title:       "Broken Access Control",
			URL:         "https://owasp.org/Top10/A01_2021/",
			OrderIndex:  0,
			TokenCount:  6,
			ContentHash: "hash-a01-0",
			Vector:      []float32{0.1, 0.9, 0.0},
		},
	}
	require.NoError(t, store.InsertBatch(ctx, rows))

	// Hash lookup sees both, and only what was asked for
	existing, err := store.ExistingHashes(ctx, []string{"hash-t1059-0", "hash-a01-0", "hash-unknown"})
	require.NoError(t, err)
	assert.Contains(t, existing, "hash-t1059-0")
	assert.Contains(t, existing, "hash-a01-0")
	assert.NotContains(t, existing, "hash-unknown")

	// Nearest neighbor favors the closer vector
	hits, err := store.Nearest(ctx, []float32{0.9, 0.1, 0.0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "attack-T1059", hits[0].ParentID)
	assert.Equal(t, "https://attack.mitre.org/techniques/T1059/", hits[0].URL)
	assert.Less(t, hits[0].Distance, hits[1].Distance)

	// Re-inserting the same hashes overwrites rather than duplicating
	require.NoError(t, store.InsertBatch(ctx, rows))
	count, err := store.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Truncate removes only the named source tag
	require.NoError(t, store.Truncate(ctx, "mitre_attack"))
	count, err = store.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	existing, err = store.ExistingHashes(ctx, []string{"hash-t1059-0", "hash-a01-0"})
	require.NoError(t, err)
	assert.NotContains(t, existing, "hash-t1059-0")
	assert.Contains(t, existing, "hash-a01-0")
}
