package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/medbot/models"
	"github.com/upb/medbot/repositories"
	"go.uber.org/zap"
)

func seedIndex(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db.sqlite")

	idx, err := Open(context.Background(), Options{Path: path}, zap.NewNop())
	require.NoError(t, err)

	docs := []repositories.IndexedDocument{
		{
			Document:  models.Document{ID: "ibuprofen", Content: "Ibuprofen adult dose is 200-400 mg.", Metadata: map[string]string{"source": "drugs.pdf", "page": "4"}},
			Embedding: []float32{1, 0, 0},
		},
		{
			Document:  models.Document{ID: "paracetamol", Content: "Paracetamol adult dose is 500-1000 mg.", Metadata: map[string]string{"source": "drugs.pdf", "page": "7"}},
			Embedding: []float32{0.8, 0.6, 0},
		},
		{
			Document:  models.Document{ID: "unrelated", Content: "Hospital parking opens at 6am."},
			Embedding: []float32{0, 0, 1},
		},
		{
			Document:  models.Document{ID: "other-dim", Content: "Different model."},
			Embedding: []float32{1, 0},
		},
	}
	require.NoError(t, idx.Upsert(context.Background(), docs))
	require.NoError(t, idx.Close())
	return path
}

func TestOpen(t *testing.T) {
	t.Run("missing path", func(t *testing.T) {
		_, err := Open(context.Background(), Options{}, zap.NewNop())
		require.Error(t, err)
	})

	t.Run("read only requires existing file", func(t *testing.T) {
		_, err := Open(context.Background(), Options{Path: filepath.Join(t.TempDir(), "missing.sqlite"), ReadOnly: true}, zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "index not found")
	})

	t.Run("read only opens seeded file", func(t *testing.T) {
		path := seedIndex(t)
		idx, err := Open(context.Background(), Options{Path: path, ReadOnly: true}, zap.NewNop())
		require.NoError(t, err)
		defer idx.Close()

		n, err := idx.Count(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 4, n)
		assert.NoError(t, idx.Health(context.Background()))
		assert.Equal(t, "sqlite", idx.Backend())
	})
}

func TestSearch(t *testing.T) {
	path := seedIndex(t)
	idx, err := Open(context.Background(), Options{Path: path, ReadOnly: true}, zap.NewNop())
	require.NoError(t, err)
	defer idx.Close()

	ctx := context.Background()

	t.Run("orders by score and applies threshold", func(t *testing.T) {
		docs, err := idx.Search(ctx, []float32{1, 0, 0}, 4, 0.3)
		require.NoError(t, err)
		require.Len(t, docs, 2)

		assert.Equal(t, "ibuprofen", docs[0].ID)
		assert.InDelta(t, 1.0, docs[0].Score, 1e-6)
		assert.Equal(t, "drugs.pdf", docs[0].Source())
		assert.Equal(t, "4", docs[0].Page())

		assert.Equal(t, "paracetamol", docs[1].ID)
		assert.Greater(t, docs[0].Score, docs[1].Score)
		for _, d := range docs {
			assert.GreaterOrEqual(t, d.Score, 0.3)
		}
	})

	t.Run("bounded by k", func(t *testing.T) {
		docs, err := idx.Search(ctx, []float32{1, 0, 0}, 1, 0)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "ibuprofen", docs[0].ID)
	})

	t.Run("nothing above threshold", func(t *testing.T) {
		docs, err := idx.Search(ctx, []float32{0, -1, 0}, 4, 0.3)
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("ignores other dimensions", func(t *testing.T) {
		docs, err := idx.Search(ctx, []float32{1, 0}, 4, 0)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "other-dim", docs[0].ID)
	})

	t.Run("empty vector", func(t *testing.T) {
		docs, err := idx.Search(ctx, nil, 4, 0)
		require.NoError(t, err)
		assert.Empty(t, docs)
	})
}

func TestSearchAfterClose(t *testing.T) {
	path := seedIndex(t)
	idx, err := Open(context.Background(), Options{Path: path, ReadOnly: true}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	_, err = idx.Search(context.Background(), []float32{1, 0, 0}, 4, 0.3)
	assert.Error(t, err)
	assert.Error(t, idx.Health(context.Background()))
}
