// Package weaviate is the alternate vector index backend, selected with
// VECTOR_BACKEND=weaviate.
package weaviate

import (
	"context"
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"confluenceqa/internal/pipeline"
)

// ClassName is the Weaviate class holding index entries. The collection
// property carries pipeline.CollectionName so the class could host several
// collections.
const ClassName = "ConfluenceChunk"

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Upsert(ctx context.Context, entries []pipeline.Entry) error {
	batcher := s.client.Batch().ObjectsBatcher()
	for _, entry := range entries {
		batcher = batcher.WithObjects(&models.Object{
			Class: ClassName,
			Properties: map[string]interface{}{
				"content":    entry.Text,
				"source":     entry.Metadata["source"],
				"title":      entry.Metadata["title"],
				"collection": pipeline.CollectionName,
			},
			Vector: entry.Vector,
		})
	}

	resp, err := batcher.Do(ctx)
	if err != nil {
		return err
	}
	for _, obj := range resp {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			return fmt.Errorf("batch insert: %s", obj.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

func (s *Store) SimilaritySearch(ctx context.Context, vector []float32, k int) ([]pipeline.SearchResult, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	where := filters.Where().
		WithPath([]string{"collection"}).
		WithOperator(filters.Equal).
		WithValueString(pipeline.CollectionName)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "title"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(ClassName).
		WithNearVector(nearVector).
		WithWhere(where).
		WithLimit(k).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors)
	}

	var results []pipeline.SearchResult
	data, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return results, nil
	}
	hits, ok := data[ClassName].([]interface{})
	if !ok {
		return results, nil
	}

	for _, hit := range hits {
		props, ok := hit.(map[string]interface{})
		if !ok {
			continue
		}
		result := pipeline.SearchResult{Metadata: map[string]string{}}
		if content, ok := props["content"].(string); ok {
			result.Text = content
		}
		if source, ok := props["source"].(string); ok {
			result.Metadata["source"] = source
		}
		if title, ok := props["title"].(string); ok {
			result.Metadata["title"] = title
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if certainty, ok := additional["certainty"].(float64); ok {
				result.Score = float32(certainty)
			}
		}
		results = append(results, result)
	}
	return results, nil
}
