package pipeline

import "context"

// CollectionName tags every index entry so multiple spaces can coexist in one
// underlying store. Ingesting a second space appends to the same collection.
const CollectionName = "confluence_docs"

// DefaultTopK is the number of nearest entries retrieved per question.
const DefaultTopK = 4

// Config is the per-session configuration. It is built once from environment
// defaults plus user input and never mutated after the pipeline starts.
type Config struct {
	ConfluenceURL string
	Username      string
	APIKey        string
	SpaceKey      string
	// PersistDir is accepted for compatibility; the index backends manage
	// their own storage and ignore it.
	PersistDir string
}

// Document is a unit fetched from the content source. Metadata carries at
// least "source" (page URL) and "title".
type Document struct {
	PageContent string
	Metadata    map[string]string
}

// Chunk is a bounded fragment of a Document. Metadata is inherited from the
// parent so answers can cite their origin.
type Chunk struct {
	Text     string
	Metadata map[string]string
}

// Entry is the persisted triple inside the vector index.
type Entry struct {
	Vector   []float32
	Text     string
	Metadata map[string]string
}

// SearchResult is one nearest-neighbor hit, ordered by descending similarity.
type SearchResult struct {
	Text     string
	Metadata map[string]string
	Score    float32
}

// Source identifies a cited page.
type Source struct {
	Source string `json:"source"`
	Title  string `json:"title"`
}

type ContentSource interface {
	Load(ctx context.Context) ([]Document, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// TokenStream is a lazy, finite, non-restartable sequence of text increments.
// Recv returns io.EOF after the last increment.
type TokenStream interface {
	Recv() (string, error)
}

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateStream(ctx context.Context, prompt string) (TokenStream, error)
}

type VectorIndex interface {
	Upsert(ctx context.Context, entries []Entry) error
	SimilaritySearch(ctx context.Context, vector []float32, k int) ([]SearchResult, error)
}

// Splitter produces the bounded text segments stored in the index.
type Splitter interface {
	Split(text string) ([]string, error)
}
