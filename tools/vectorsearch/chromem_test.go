package vectorsearch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndexSearchRanksLexicalOverlapHigher(t *testing.T) {
	idx, err := Open("")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, idx.AddDocument(ctx, "doc1", "the quick brown fox jumps over the lazy dog", nil))
	require.NoError(t, idx.AddDocument(ctx, "doc2", "completely unrelated content about spacecraft propulsion", nil))

	result, err := idx.Search(ctx, "quick brown fox", 2)
	require.NoError(t, err)
	m := result.(map[string]any)
	matches := m["matches"].([]Result)
	require.Len(t, matches, 2)
	require.Equal(t, "doc1", matches[0].ID)
}

func TestIndexSearchCapsTopKToCollectionSize(t *testing.T) {
	idx, err := Open("")
	require.NoError(t, err)

	require.NoError(t, idx.AddDocument(context.Background(), "only", "a single document", nil))
	result, err := idx.Search(context.Background(), "document", 50)
	require.NoError(t, err)
	m := result.(map[string]any)
	matches := m["matches"].([]Result)
	require.Len(t, matches, 1)
}

func TestIndexSearchEmptyCollection(t *testing.T) {
	idx, err := Open("")
	require.NoError(t, err)
	result, err := idx.Search(context.Background(), "anything", 5)
	require.NoError(t, err)
	m := result.(map[string]any)
	require.Empty(t, m["matches"])
}
