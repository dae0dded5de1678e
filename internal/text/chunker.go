package text

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// DefaultEncoding is the fixed tokenization scheme. Chunk boundaries
	// depend on it: switching encodings is a breaking change to any index
	// built with the old one.
	DefaultEncoding = "cl100k_base"

	DefaultCharSize     = 100
	DefaultTokenSize    = 1000
	DefaultTokenOverlap = 10
)

// Tokenizer is the minimal encode/decode surface the token splitter needs.
// Production code uses tiktoken; tests inject deterministic fakes.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

func (t *tiktokenTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *tiktokenTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

// NewTokenizer loads the named tiktoken encoding.
func NewTokenizer(encoding string) (Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", encoding, err)
	}
	return &tiktokenTokenizer{enc: enc}, nil
}

// SplitByCharacter breaks text into segments of at most size characters with
// zero overlap. The boundary is hard and may fall mid-sentence; the token
// pass re-normalizes afterwards. Splits happen on rune boundaries so no
// multi-byte character is ever cut in half.
func SplitByCharacter(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}

	runes := []rune(text)
	segments := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		segments = append(segments, string(runes[start:end]))
	}
	return segments
}

// TokenSplitter re-splits text into windows of at most ChunkSize tokens.
// Adjacent windows from the same input share exactly Overlap tokens so
// context is not lost at boundaries.
type TokenSplitter struct {
	tokenizer Tokenizer
	ChunkSize int
	Overlap   int
}

func NewTokenSplitter(tokenizer Tokenizer, chunkSize, overlap int) *TokenSplitter {
	if chunkSize <= 0 {
		chunkSize = DefaultTokenSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = DefaultTokenOverlap
	}
	return &TokenSplitter{tokenizer: tokenizer, ChunkSize: chunkSize, Overlap: overlap}
}

func (s *TokenSplitter) Split(text string) []string {
	if text == "" {
		return nil
	}

	tokens := s.tokenizer.Encode(text)
	if len(tokens) <= s.ChunkSize {
		return []string{text}
	}

	stride := s.ChunkSize - s.Overlap
	var pieces []string
	for start := 0; start < len(tokens); start += stride {
		end := start + s.ChunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		pieces = append(pieces, s.tokenizer.Decode(tokens[start:end]))
		if end == len(tokens) {
			break
		}
	}
	return pieces
}

// TwoPassChunker is the document splitter: an outer character-bounded split,
// then a token-bounded re-split of each resulting segment. A single document
// can therefore yield more chunks than either pass alone would produce.
type TwoPassChunker struct {
	charSize int
	tokens   *TokenSplitter
}

func NewTwoPassChunker(tokenizer Tokenizer, charSize, tokenSize, tokenOverlap int) *TwoPassChunker {
	if charSize <= 0 {
		charSize = DefaultCharSize
	}
	return &TwoPassChunker{
		charSize: charSize,
		tokens:   NewTokenSplitter(tokenizer, tokenSize, tokenOverlap),
	}
}

// NewDefaultChunker builds the production chunker with the fixed cl100k_base
// encoding and the default budgets (100 chars, 1000 tokens, 10 overlap).
func NewDefaultChunker() (*TwoPassChunker, error) {
	tokenizer, err := NewTokenizer(DefaultEncoding)
	if err != nil {
		return nil, err
	}
	return NewTwoPassChunker(tokenizer, DefaultCharSize, DefaultTokenSize, DefaultTokenOverlap), nil
}

// Split returns the ordered chunk texts for one document body.
func (c *TwoPassChunker) Split(text string) ([]string, error) {
	var out []string
	for _, segment := range SplitByCharacter(text, c.charSize) {
		out = append(out, c.tokens.Split(segment)...)
	}
	return out, nil
}
