package gemini

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"confluenceqa/internal/pipeline"
)

// GenerationModel matches the original deployment's chat model.
const GenerationModel = "gemini-1.5-flash"

// Generator answers prompts with Gemini at temperature 0, synchronously or
// as a token stream.
type Generator struct {
	client *genai.Client
	model  string
}

func NewGenerator(ctx context.Context, apiKey string, opts ...option.ClientOption) (*Generator, error) {
	opts = append(opts, option.WithAPIKey(apiKey))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Generator{client: client, model: GenerationModel}, nil
}

func (g *Generator) generativeModel() *genai.GenerativeModel {
	m := g.client.GenerativeModel(g.model)
	m.SetTemperature(0)
	return m
}

func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.generativeModel().GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}
	return responseText(resp)
}

func (g *Generator) GenerateStream(ctx context.Context, prompt string) (pipeline.TokenStream, error) {
	iter := g.generativeModel().GenerateContentStream(ctx, genai.Text(prompt))
	return &tokenStream{iter: iter}, nil
}

type tokenStream struct {
	iter *genai.GenerateContentResponseIterator
}

// Recv returns the next text increment, translating the iterator's end
// marker into io.EOF.
func (s *tokenStream) Recv() (string, error) {
	resp, err := s.iter.Next()
	if err == iterator.Done {
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	return responseText(resp)
}

// responseText flattens the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no candidates in response")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String(), nil
}

func (g *Generator) Close() error {
	return g.client.Close()
}
