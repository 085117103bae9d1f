package rag

import (
	"context"
	"sort"
	"testing"

	sqvect "github.com/liliang-cn/sqvect/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is a minimal in-memory sqvect.Store for testing RAG without a
// real SQLite-backed vector index.
type fakeStore struct {
	embeddings map[string]*sqvect.Embedding
}

func newFakeStore() *fakeStore {
	return &fakeStore{embeddings: map[string]*sqvect.Embedding{}}
}

func (f *fakeStore) Init(ctx context.Context) error { return nil }

func (f *fakeStore) Upsert(ctx context.Context, emb *sqvect.Embedding) error {
	f.embeddings[emb.ID] = emb
	return nil
}

func (f *fakeStore) UpsertBatch(ctx context.Context, embs []*sqvect.Embedding) error {
	for _, e := range embs {
		f.embeddings[e.ID] = e
	}
	return nil
}

func (f *fakeStore) Search(ctx context.Context, query []float32, opts sqvect.SearchOptions) ([]sqvect.ScoredEmbedding, error) {
	var scored []sqvect.ScoredEmbedding
	for _, e := range f.embeddings {
		if opts.Filter != nil {
			match := true
			for k, v := range opts.Filter {
				if e.Metadata[k] != v {
					match = false
					break
				}
			}
			if !match {
				continue
			}
		}
		scored = append(scored, sqvect.ScoredEmbedding{Embedding: *e, Score: sqvect.CosineSimilarity(query, e.Vector)})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if opts.TopK > 0 && len(scored) > opts.TopK {
		scored = scored[:opts.TopK]
	}
	return scored, nil
}

func (f *fakeStore) Delete(ctx context.Context, id string) error {
	delete(f.embeddings, id)
	return nil
}

func (f *fakeStore) DeleteByDocID(ctx context.Context, docID string) error {
	for id, e := range f.embeddings {
		if e.DocID == docID {
			delete(f.embeddings, id)
		}
	}
	return nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) Stats(ctx context.Context) (sqvect.StoreStats, error) {
	return sqvect.StoreStats{Count: int64(len(f.embeddings))}, nil
}

// hashEmbedder derives a deterministic low-dimension vector from text so
// near-identical chunks score highly similar without a real model.
type hashEmbedder struct{}

func (hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, 8)
	for i, r := range text {
		vec[i%8] += float32(r)
	}
	return vec, nil
}

func TestIngestChunksByHeadingAndWindow(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, hashEmbedder{})
	svc.chunkTokens = 10
	svc.overlapTokens = 2

	text := "MEDICAL COVERAGE\n" + repeatWords("medical benefit text", 30) +
		"\nBAGGAGE COVERAGE\n" + repeatWords("baggage benefit text", 10)

	err := svc.Ingest(context.Background(), DocumentMeta{DocID: "doc-1", ProductCode: "TRV-ELITE", Heading: "Policy Wording"}, text)
	require.NoError(t, err)
	assert.Greater(t, len(store.embeddings), 1)

	for _, e := range store.embeddings {
		assert.Equal(t, "TRV-ELITE", e.Metadata["product_code"])
		assert.NotEmpty(t, e.Metadata["citation_locator"])
	}
}

func TestSearchFiltersByProductCode(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, hashEmbedder{})

	require.NoError(t, svc.Ingest(context.Background(), DocumentMeta{DocID: "doc-1", ProductCode: "TRV-ELITE", Heading: "Elite Wording"}, "elite medical coverage up to 150000"))
	require.NoError(t, svc.Ingest(context.Background(), DocumentMeta{DocID: "doc-2", ProductCode: "TRV-STANDARD", Heading: "Standard Wording"}, "standard medical coverage up to 50000"))

	results, err := svc.Search(context.Background(), "medical coverage", "TRV-ELITE", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Elite Wording", results[0].Heading)
}

func TestSearchReturnsCitationLocators(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, hashEmbedder{})

	require.NoError(t, svc.Ingest(context.Background(), DocumentMeta{DocID: "doc-1", ProductCode: "TRV-ELITE", Heading: "Cancellation"}, "trip cancellation covers up to 5000"))

	results, err := svc.Search(context.Background(), "trip cancellation", "", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NotEmpty(t, results[0].CitationLocator)
}

func repeatWords(phrase string, times int) string {
	out := ""
	for i := 0; i < times; i++ {
		out += phrase + " "
	}
	return out
}
