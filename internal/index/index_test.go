package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"quikbot/internal/models"
)

// memStore is a brute-force Store over dot products.
type memStore struct {
	docs   []models.ChunkEmbedding
	resets int
}

func (s *memStore) Count(context.Context) (int, error) { return len(s.docs), nil }

func (s *memStore) Reset(context.Context) error {
	s.resets++
	s.docs = nil
	return nil
}

func (s *memStore) Add(_ context.Context, docs []models.ChunkEmbedding) error {
	s.docs = append(s.docs, docs...)
	return nil
}

func (s *memStore) Search(_ context.Context, vec []float32, k int) ([]models.SearchResult, error) {
	out := make([]models.SearchResult, 0, len(s.docs))
	for _, d := range s.docs {
		var dot float32
		for i := range vec {
			dot += vec[i] * d.Embedding[i]
		}
		out = append(out, models.SearchResult{Content: d.Content, SourceFilename: d.SourceFilename, ChunkID: d.ChunkID, Score: dot})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// keywordEmbedder maps known words onto fixed axes.
type keywordEmbedder struct{}

var axes = map[string][]float32{
	"cats":   {1, 0, 0},
	"dogs":   {0.7, 0.7, 0},
	"stocks": {0, 0, 1},
	"pets?":  {0.9, 0.2, 0},
}

func (keywordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if v, ok := axes[text]; ok {
		return v, nil
	}
	return []float32{0, 1, 0}, nil
}

func (e keywordEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.EmbedQuery(ctx, t)
	}
	return out, nil
}

func fixtureChunks() []models.Chunk {
	return []models.Chunk{
		{Content: "cats", SourceFilename: "data/pets.pdf", ChunkID: 1},
		{Content: "dogs", SourceFilename: "data/pets.pdf", ChunkID: 2},
		{Content: "stocks", SourceFilename: "data/news/market.pdf", ChunkID: 1},
	}
}

func newIndex(t *testing.T, dir string, store Store) *Index {
	t.Helper()
	return New(store, keywordEmbedder{}, Options{
		Dir:            dir,
		Backend:        "mem",
		Collection:     "pdf_collection",
		EmbeddingModel: "keyword",
		BatchSize:      2,
	})
}

type countingSource struct {
	calls  int
	chunks []models.Chunk
	err    error
}

func (c *countingSource) fn(context.Context) ([]models.Chunk, error) {
	c.calls++
	return c.chunks, c.err
}

func TestEnsure_EmptyDirBuilds(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := &memStore{}
	src := &countingSource{chunks: fixtureChunks()}

	state, m, err := Ensure(ctx, newIndex(t, dir, store), src.fn, false)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if state != StateBuilt || src.calls != 1 {
		t.Fatalf("state=%v calls=%d, want built/1", state, src.calls)
	}
	if n, _ := store.Count(ctx); n != 3 {
		t.Fatalf("stored %d chunks, want 3", n)
	}
	if m.Chunks != 3 || m.Dimensions != 3 || len(m.Documents) != 2 {
		t.Errorf("unexpected manifest %+v", m)
	}
	onDisk, err := ReadManifest(dir)
	if err != nil || onDisk == nil || onDisk.Chunks != 3 {
		t.Fatalf("manifest on disk: %+v %v", onDisk, err)
	}
}

func TestEnsure_ExistingIndexSkipsIngestion(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := &memStore{}
	if _, _, err := Ensure(ctx, newIndex(t, dir, store), (&countingSource{chunks: fixtureChunks()}).fn, false); err != nil {
		t.Fatal(err)
	}

	src := &countingSource{chunks: fixtureChunks()}
	state, m, err := Ensure(ctx, newIndex(t, dir, store), src.fn, false)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if state != StateLoaded || src.calls != 0 {
		t.Fatalf("state=%v calls=%d, want loaded/0", state, src.calls)
	}
	if store.resets != 1 {
		t.Errorf("store reset %d times, want 1", store.resets)
	}
	if m == nil || m.Chunks != 3 {
		t.Errorf("unexpected manifest %+v", m)
	}
}

func TestEnsure_ForceRebuilds(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := &memStore{}
	ix := newIndex(t, dir, store)
	if _, _, err := Ensure(ctx, ix, (&countingSource{chunks: fixtureChunks()}).fn, false); err != nil {
		t.Fatal(err)
	}

	src := &countingSource{chunks: fixtureChunks()[:1]}
	state, _, err := Ensure(ctx, ix, src.fn, true)
	if err != nil || state != StateBuilt || src.calls != 1 {
		t.Fatalf("state=%v calls=%d err=%v", state, src.calls, err)
	}
	if n, _ := store.Count(ctx); n != 1 {
		t.Fatalf("stored %d chunks after rebuild, want 1", n)
	}
}

func TestEnsure_PartialDirRebuilds(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	// leftovers of an interrupted build: data but no manifest
	if err := os.MkdirAll(filepath.Join(dir, "some-collection"), 0o755); err != nil {
		t.Fatal(err)
	}
	store := &memStore{docs: []models.ChunkEmbedding{{Content: "stale", Embedding: []float32{1, 0, 0}}}}

	src := &countingSource{chunks: fixtureChunks()}
	state, _, err := Ensure(ctx, newIndex(t, dir, store), src.fn, false)
	if err != nil || state != StateBuilt || src.calls != 1 {
		t.Fatalf("state=%v calls=%d err=%v", state, src.calls, err)
	}
	for _, d := range store.docs {
		if d.Content == "stale" {
			t.Fatal("stale chunk survived the rebuild")
		}
	}
}

func TestEnsure_CountMismatchRebuilds(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := &memStore{}
	ix := newIndex(t, dir, store)
	if _, _, err := Ensure(ctx, ix, (&countingSource{chunks: fixtureChunks()}).fn, false); err != nil {
		t.Fatal(err)
	}
	store.docs = store.docs[:1]

	src := &countingSource{chunks: fixtureChunks()}
	state, _, err := Ensure(ctx, ix, src.fn, false)
	if err != nil || state != StateBuilt || src.calls != 1 {
		t.Fatalf("state=%v calls=%d err=%v", state, src.calls, err)
	}
}

func TestEnsure_FailuresLeaveNoManifest(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("corrupt pdf")

	dir := t.TempDir()
	if _, _, err := Ensure(ctx, newIndex(t, dir, &memStore{}), (&countingSource{err: boom}).fn, false); !errors.Is(err, boom) {
		t.Fatalf("expected ingestion error, got %v", err)
	}
	if m, _ := ReadManifest(dir); m != nil {
		t.Fatal("manifest written after failed ingestion")
	}

	if _, _, err := Ensure(ctx, newIndex(t, dir, &memStore{}), (&countingSource{}).fn, false); !errors.Is(err, ErrNoChunks) {
		t.Fatalf("expected ErrNoChunks, got %v", err)
	}
	if m, _ := ReadManifest(dir); m != nil {
		t.Fatal("manifest written for an empty index")
	}
}

func TestEnsure_ManifestForOtherModelRebuilds(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := &memStore{}
	if _, _, err := Ensure(ctx, newIndex(t, dir, store), (&countingSource{chunks: fixtureChunks()}).fn, false); err != nil {
		t.Fatal(err)
	}

	other := New(store, keywordEmbedder{}, Options{Dir: dir, Backend: "mem", Collection: "pdf_collection", EmbeddingModel: "other"})
	src := &countingSource{chunks: fixtureChunks()}
	state, _, err := Ensure(ctx, other, src.fn, false)
	if err != nil || state != StateBuilt {
		t.Fatalf("state=%v err=%v", state, err)
	}
}

func TestSearch_TopTwoBySimilarity(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	ix := newIndex(t, t.TempDir(), store)
	if _, err := ix.Build(ctx, fixtureChunks()); err != nil {
		t.Fatal(err)
	}

	results, err := ix.Search(ctx, "pets?", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Content != "cats" || results[1].Content != "dogs" {
		t.Errorf("unexpected order: %+v", results)
	}

	if _, err := ix.Search(ctx, "cats", 0); err == nil {
		t.Error("expected error for k=0")
	}
}

func TestRetriever(t *testing.T) {
	ctx := context.Background()
	ix := newIndex(t, t.TempDir(), &memStore{})
	if _, err := ix.Build(ctx, fixtureChunks()); err != nil {
		t.Fatal(err)
	}

	docs, err := ix.Retriever(2).GetRelevantDocuments(ctx, "stocks")
	if err != nil {
		t.Fatalf("GetRelevantDocuments: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[0].PageContent != "stocks" || docs[0].Metadata[models.MetaSource] != "data/news/market.pdf" {
		t.Errorf("unexpected top document %+v", docs[0])
	}
}

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if m, err := ReadManifest(dir); m != nil || err != nil {
		t.Fatalf("missing manifest: %v %v", m, err)
	}
	if err := WriteManifest(dir, &Manifest{Backend: "chromem", Chunks: 7}); err != nil {
		t.Fatal(err)
	}
	m, err := ReadManifest(dir)
	if err != nil || m.Backend != "chromem" || m.Chunks != 7 {
		t.Fatalf("read back %+v %v", m, err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}

	if err := os.WriteFile(filepath.Join(dir, models.ManifestFile), []byte("chunks: [oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadManifest(dir); err == nil {
		t.Error("expected parse error")
	}
}

// widerEmbedder produces vectors one dimension larger than keywordEmbedder
type widerEmbedder struct{ keywordEmbedder }

func (e widerEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, _ := e.keywordEmbedder.EmbedQuery(ctx, text)
	return append(v, 0), nil
}

func (e widerEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.EmbedQuery(ctx, t)
	}
	return out, nil
}

func TestEnsure_DimensionChangeRebuilds(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := &memStore{}
	if _, _, err := Ensure(ctx, newIndex(t, dir, store), (&countingSource{chunks: fixtureChunks()}).fn, false); err != nil {
		t.Fatal(err)
	}

	wider := New(store, widerEmbedder{}, Options{Dir: dir, Backend: "mem", Collection: "pdf_collection", EmbeddingModel: "keyword"})
	src := &countingSource{chunks: fixtureChunks()}
	state, m, err := Ensure(ctx, wider, src.fn, false)
	if err != nil || state != StateBuilt || src.calls != 1 {
		t.Fatalf("state=%v calls=%d err=%v", state, src.calls, err)
	}
	if m.Dimensions != 4 {
		t.Errorf("manifest dimensions = %d, want 4", m.Dimensions)
	}
}

func TestAdopt_WritesManifestForRestoredStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := &memStore{}
	ix := newIndex(t, dir, store)

	if _, err := Adopt(ctx, ix); !errors.Is(err, ErrNoChunks) {
		t.Fatalf("expected ErrNoChunks for an empty store, got %v", err)
	}

	// restored data arrives without a manifest
	store.docs = []models.ChunkEmbedding{
		{Content: "cats", Embedding: []float32{1, 0, 0}},
		{Content: "dogs", Embedding: []float32{0.7, 0.7, 0}},
	}
	m, err := Adopt(ctx, ix)
	if err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	if m.Chunks != 2 || m.Dimensions != 3 {
		t.Errorf("unexpected manifest %+v", m)
	}

	src := &countingSource{chunks: fixtureChunks()}
	state, _, err := Ensure(ctx, ix, src.fn, false)
	if err != nil || state != StateLoaded || src.calls != 0 {
		t.Fatalf("restored index not loaded: state=%v calls=%d err=%v", state, src.calls, err)
	}
}
