package weaviate

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"vulnscope/internal/index"
	"vulnscope/internal/retrieval"
	"vulnscope/internal/vector"
)

// chunkNamespace seeds the deterministic object id for a chunk. Deriving
// the id from the content hash makes a concurrent duplicate insert an
// overwrite of the same object instead of a second copy.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("vulnscope/knowledge-chunk"))

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

// EnsureSchema creates or extends the chunk class.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, vector.NewWeaviateClientAdapter(s.client))
}

func objectID(contentHash string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(chunkNamespace, []byte(contentHash)).String())
}

// ExistingHashes returns which of the given content hashes are already
// stored.
func (s *Store) ExistingHashes(ctx context.Context, hashes []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{}, len(hashes))
	if len(hashes) == 0 {
		return existing, nil
	}

	where := filters.Where().
		WithPath([]string{"contentHash"}).
		WithOperator(filters.ContainsAny).
		WithValueText(hashes...)

	res, err := s.client.GraphQL().Get().
		WithClassName(vector.ClassName).
		WithWhere(where).
		WithLimit(len(hashes)).
		WithFields(graphql.Field{Name: "contentHash"}).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors)
	}

	for _, props := range classObjects(res.Data) {
		if hash, ok := props["contentHash"].(string); ok {
			existing[hash] = struct{}{}
		}
	}
	return existing, nil
}

// InsertBatch writes rows in one batch call. Object ids derive from the
// content hash, so retrying a partially applied batch is safe.
func (s *Store) InsertBatch(ctx context.Context, rows []index.Row) error {
	if len(rows) == 0 {
		return nil
	}

	objects := make([]*models.Object, len(rows))
	for i, row := range rows {
		objects[i] = &models.Object{
			Class: vector.ClassName,
			ID:    objectID(row.ContentHash),
			Properties: map[string]interface{}{
				"content":     row.Content,
				"parentId":    row.ParentID,
				"sourceTag":   row.SourceTag,
				"title":       row.Title,
				"url":         row.URL,
				"orderIndex":  row.OrderIndex,
				"tokenCount":  row.TokenCount,
				"contentHash": row.ContentHash,
			},
			Vector: models.C11yVector(row.Vector),
		}
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return err
	}
	for _, obj := range resp {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			return fmt.Errorf("batch object %s: %s", obj.ID, obj.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

// Nearest runs a kNN search over stored chunk vectors.
func (s *Store) Nearest(ctx context.Context, queryVector []float32, limit int) ([]retrieval.StoredChunk, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(queryVector)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "parentId"},
		{Name: "title"},
		{Name: "url"},
		{Name: "orderIndex"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(vector.ClassName).
		WithNearVector(nearVector).
		WithLimit(limit).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors)
	}

	var hits []retrieval.StoredChunk
	for _, props := range classObjects(res.Data) {
		hit := retrieval.StoredChunk{}
		if content, ok := props["content"].(string); ok {
			hit.Content = content
		}
		if parentID, ok := props["parentId"].(string); ok {
			hit.ParentID = parentID
		}
		if title, ok := props["title"].(string); ok {
			hit.Title = title
		}
		if url, ok := props["url"].(string); ok {
			hit.URL = url
		}
		if orderIndex, ok := props["orderIndex"].(float64); ok {
			hit.OrderIndex = int(orderIndex)
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			switch dist := additional["distance"].(type) {
			case float64:
				hit.Distance = float32(dist)
			case string:
				if f, err := strconv.ParseFloat(dist, 32); err == nil {
					hit.Distance = float32(f)
				}
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Truncate deletes everything stored under a sourceTag.
func (s *Store) Truncate(ctx context.Context, sourceTag string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(vector.ClassName).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithPath([]string{"sourceTag"}).
			WithOperator(filters.Equal).
			WithValueString(sourceTag)).
		Do(ctx)
	return err
}

// CountChunks reports the total number of stored chunks.
func (s *Store) CountChunks(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(vector.ClassName).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors)
	}

	if agg, ok := res.Data["Aggregate"].(map[string]interface{}); ok {
		if classes, ok := agg[vector.ClassName].([]interface{}); ok && len(classes) > 0 {
			if entry, ok := classes[0].(map[string]interface{}); ok {
				if meta, ok := entry["meta"].(map[string]interface{}); ok {
					if count, ok := meta["count"].(float64); ok {
						return int(count), nil
					}
				}
			}
		}
	}
	return 0, nil
}

// classObjects unwraps the Get payload for the chunk class.
func classObjects(data map[string]models.JSONObject) []map[string]interface{} {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := get[vector.ClassName].([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(raw))
	for _, entry := range raw {
		if props, ok := entry.(map[string]interface{}); ok {
			out = append(out, props)
		}
	}
	return out
}
