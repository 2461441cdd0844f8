// Package vectorsearch implements tools.VectorIndex over an embedded
// chromem-go collection, the default vector_search backend for
// single-process deployments that don't need an external vector database.
package vectorsearch

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"

	"github.com/philippgille/chromem-go"
)

const collectionName = "planforge_documents"

// Index is a vector_search reference implementation backed by an in-process
// chromem-go collection. It satisfies tools.VectorIndex.
type Index struct {
	collection *chromem.Collection
}

// Open creates (or reopens, if persistPath is non-empty and already
// populated) a chromem-go database and its single document collection,
// using a deterministic local embedding function so the reference
// implementation runs fully offline.
func Open(persistPath string) (*Index, error) {
	var db *chromem.DB
	var err error
	if persistPath != "" {
		db, err = chromem.NewPersistentDB(persistPath, false)
	} else {
		db = chromem.NewDB()
	}
	if err != nil {
		return nil, fmt.Errorf("vectorsearch: open db: %w", err)
	}

	collection, err := db.GetOrCreateCollection(collectionName, nil, hashingEmbeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("vectorsearch: create collection: %w", err)
	}
	return &Index{collection: collection}, nil
}

// AddDocument embeds and stores one document under id, for seeding the
// index.
func (idx *Index) AddDocument(ctx context.Context, id, content string, metadata map[string]string) error {
	doc, err := chromem.NewDocument(ctx, id, metadata, nil, content, hashingEmbeddingFunc)
	if err != nil {
		return fmt.Errorf("vectorsearch: build document: %w", err)
	}
	return idx.collection.AddDocument(ctx, doc)
}

// Result is one ranked match returned by Search.
type Result struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Similarity float32           `json:"similarity"`
}

// Search implements tools.VectorIndex. It caps topK at the collection size
// since chromem-go's Query rejects nResults greater than the document
// count.
func (idx *Index) Search(ctx context.Context, query string, topK int) (any, error) {
	if topK <= 0 {
		topK = 10
	}
	if count := idx.collection.Count(); topK > count {
		topK = count
	}
	if topK == 0 {
		return map[string]any{"query": query, "matches": []Result{}}, nil
	}

	results, err := idx.collection.Query(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vectorsearch: query: %w", err)
	}

	matches := make([]Result, 0, len(results))
	for _, r := range results {
		matches = append(matches, Result{
			ID:         r.ID,
			Content:    r.Content,
			Metadata:   r.Metadata,
			Similarity: r.Similarity,
		})
	}
	return map[string]any{"query": query, "matches": matches}, nil
}

// hashingEmbeddingFunc is a deterministic, dependency-free stand-in for a
// real embedding model: it hashes overlapping trigrams of the input into a
// fixed-width vector and L2-normalizes the result. It captures enough
// lexical overlap for the reference tool to rank documents sharing
// substrings above unrelated ones, without requiring network access or API
// keys during development and tests.
func hashingEmbeddingFunc(ctx context.Context, text string) ([]float32, error) {
	const dims = 256
	vec := make([]float32, dims)
	runes := []rune(text)
	if len(runes) < 3 {
		runes = append(runes, make([]rune, 3-len(runes))...)
	}
	for i := 0; i+3 <= len(runes); i++ {
		trigram := string(runes[i : i+3])
		sum := sha256.Sum256([]byte(trigram))
		bucket := int(sum[0])<<8 | int(sum[1])
		vec[bucket%dims]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec, nil
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}
