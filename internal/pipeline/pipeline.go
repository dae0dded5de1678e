package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Deps carries the pipeline's collaborators. The vector index connection is
// process-wide and shared across sessions; embedder and generator handles are
// (re)built per Initialize so a new configuration never reuses stale clients.
type Deps struct {
	Index        VectorIndex
	NewEmbedder  func(ctx context.Context) (Embedder, error)
	NewGenerator func(ctx context.Context) (Generator, error)
	NewSource    func(cfg Config) ContentSource
	Splitter     Splitter
	QueryLog     *QueryLogger
	TopK         int
}

// Pipeline sequences ingestion (source -> splitter -> embedder -> index) and
// query-time retrieval-then-generation. One instance serves one session;
// calls are expected to be sequential within that session.
type Pipeline struct {
	deps Deps

	cfg        Config
	configured bool

	embedder  Embedder
	generator Generator
	ready     bool
}

func New(deps Deps) *Pipeline {
	if deps.TopK <= 0 {
		deps.TopK = DefaultTopK
	}
	return &Pipeline{deps: deps}
}

// Configure stores cfg and resets all derived state to uninitialized. Each
// call fully supersedes the previous configuration.
func (p *Pipeline) Configure(cfg Config) {
	p.cfg = cfg
	p.configured = true
	p.releaseHandles()
	p.ready = false
}

// releaseHandles closes and drops the provider handles. The gemini clients
// hold live connections, and reconfiguring is a normal retry path, so a
// superseded handle must not linger.
func (p *Pipeline) releaseHandles() {
	closeHandle(p.embedder)
	closeHandle(p.generator)
	p.embedder = nil
	p.generator = nil
}

func closeHandle(h any) {
	if c, ok := h.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close provider handle", "error", err)
		}
	}
}

// Initialize builds the provider handles, ingests the configured space and
// binds the QA chain, in that order. It is re-entrant: a second call rebuilds
// the handles rather than duplicating them, though re-ingestion appends
// duplicate index entries (documented limitation, see DESIGN.md).
func (p *Pipeline) Initialize(ctx context.Context) error {
	if err := p.validate(); err != nil {
		return err
	}

	embedder, err := p.deps.NewEmbedder(ctx)
	if err != nil {
		return fmt.Errorf("%w: embedding provider: %w", ErrProvider, err)
	}
	generator, err := p.deps.NewGenerator(ctx)
	if err != nil {
		closeHandle(embedder)
		return fmt.Errorf("%w: language model: %w", ErrProvider, err)
	}
	p.releaseHandles()
	p.embedder = embedder
	p.generator = generator
	p.ready = false

	if err := p.ingest(ctx); err != nil {
		return err
	}

	p.ready = true
	return nil
}

func (p *Pipeline) validate() error {
	if !p.configured || p.cfg.ConfluenceURL == "" {
		return fmt.Errorf("%w: confluence_url", ErrMissingConfig)
	}
	if p.cfg.SpaceKey == "" {
		return fmt.Errorf("%w: space_key", ErrMissingConfig)
	}
	return nil
}

// Ready reports whether Initialize has completed for the current config.
func (p *Pipeline) Ready() bool {
	return p.ready
}

// ingest runs the fixed-order ingestion sequence. A failure aborts the
// remaining steps for the current document; entries already committed for
// prior documents stay in the index (partial ingestion is acceptable).
func (p *Pipeline) ingest(ctx context.Context) error {
	source := p.deps.NewSource(p.cfg)
	docs, err := source.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSource, err)
	}
	slog.InfoContext(ctx, "space fetched", "space_key", p.cfg.SpaceKey, "documents", len(docs))

	for _, doc := range docs {
		chunks, err := p.split(doc)
		if err != nil {
			return err
		}
		if len(chunks) == 0 {
			continue
		}

		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("%w: embedding provider: %w", ErrProvider, err)
		}
		if len(vectors) != len(chunks) {
			return fmt.Errorf("%w: embedding provider returned %d vectors for %d chunks", ErrProvider, len(vectors), len(chunks))
		}

		entries := make([]Entry, len(chunks))
		for i, c := range chunks {
			entries[i] = Entry{Vector: vectors[i], Text: c.Text, Metadata: c.Metadata}
		}
		if err := p.deps.Index.Upsert(ctx, entries); err != nil {
			return err
		}
		slog.InfoContext(ctx, "document indexed", "source", doc.Metadata["source"], "chunks", len(chunks))
	}
	return nil
}

// split turns one document into ordered chunks, inheriting source and title
// metadata onto each.
func (p *Pipeline) split(doc Document) ([]Chunk, error) {
	pieces, err := p.deps.Splitter.Split(doc.PageContent)
	if err != nil {
		return nil, err
	}
	chunks := make([]Chunk, 0, len(pieces))
	for _, piece := range pieces {
		meta := make(map[string]string, len(doc.Metadata))
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		chunks = append(chunks, Chunk{Text: piece, Metadata: meta})
	}
	return chunks, nil
}

// retrieve embeds the question and fetches the top-K nearest entries. The
// index's similarity ranking is taken as-is, no re-ranking.
func (p *Pipeline) retrieve(ctx context.Context, question string) ([]SearchResult, error) {
	vector, err := p.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding provider: %w", ErrProvider, err)
	}
	return p.deps.Index.SimilaritySearch(ctx, vector, p.deps.TopK)
}

// Answer runs retrieval-then-generation synchronously.
func (p *Pipeline) Answer(ctx context.Context, question string) (string, error) {
	if !p.ready {
		return "", ErrNotReady
	}
	start := time.Now()

	results, err := p.retrieve(ctx, question)
	if err != nil {
		return "", err
	}
	prompt := renderPrompt(formatContext(results), question)
	answer, err := p.generator.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: language model: %w", ErrProvider, err)
	}

	if p.deps.QueryLog != nil {
		p.deps.QueryLog.Log(QueryLogEntry{
			Question:   question,
			NumResults: len(results),
			Duration:   time.Since(start),
		})
	}
	return answer, nil
}

// AnswerStream runs the same chain in incremental mode. Citation metadata is
// captured once from the live retrieval and exposed via Stream.Sources after
// the last increment, never interleaved with tokens.
func (p *Pipeline) AnswerStream(ctx context.Context, question string) (*Stream, error) {
	if !p.ready {
		return nil, ErrNotReady
	}

	results, err := p.retrieve(ctx, question)
	if err != nil {
		return nil, err
	}
	prompt := renderPrompt(formatContext(results), question)
	tokens, err := p.generator.GenerateStream(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: language model: %w", ErrProvider, err)
	}

	if p.deps.QueryLog != nil {
		p.deps.QueryLog.Log(QueryLogEntry{Question: question, NumResults: len(results)})
	}
	return &Stream{tokens: tokens, sources: dedupeSources(results)}, nil
}

// dedupeSources collapses retrieval hits into distinct (source, title) pairs,
// keeping first-seen order for deterministic citation display.
func dedupeSources(results []SearchResult) []Source {
	seen := make(map[Source]bool, len(results))
	var sources []Source
	for _, res := range results {
		s := Source{Source: res.Metadata["source"], Title: res.Metadata["title"]}
		if s.Source == "" && s.Title == "" {
			continue
		}
		if !seen[s] {
			seen[s] = true
			sources = append(sources, s)
		}
	}
	return sources
}

// Stream is the lazy answer sequence of a streaming query. It is finite,
// non-restartable and abandonable; tokens already emitted are not retracted.
type Stream struct {
	tokens  TokenStream
	sources []Source
	done    bool
}

// Recv returns the next text increment, or io.EOF after the last one.
func (s *Stream) Recv() (string, error) {
	token, err := s.tokens.Recv()
	if err == io.EOF {
		s.done = true
	}
	return token, err
}

// Sources returns the deduplicated citation set for this query. It is only
// valid once Recv has returned io.EOF.
func (s *Stream) Sources() []Source {
	if !s.done {
		return nil
	}
	return s.sources
}
