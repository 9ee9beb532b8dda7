// Package weaviate implements the keyword and vector index services on a
// Weaviate class. Vectors are supplied by the caller (vectorizer "none");
// keyword scores come from Weaviate's BM25 ranking.
package weaviate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/Yinkun-Cheng/RAG/pkg/index"
)

// DefaultClassName is the Weaviate class holding artifacts.
const DefaultClassName = "Artifact"

// Config configures the Weaviate connection.
type Config struct {
	URL       string
	APIKey    string
	ClassName string
}

// Index implements index.KeywordIndexService and index.VectorIndexService.
type Index struct {
	client *weaviate.Client
	class  string
	logger *slog.Logger
}

// New connects to Weaviate. It does not contact the server.
func New(cfg Config, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URL == "" {
		return nil, errors.New("weaviate URL is required")
	}
	wc := weaviate.Config{Host: cfg.URL, Scheme: "http"}
	switch {
	case strings.HasPrefix(cfg.URL, "https://"):
		wc.Scheme, wc.Host = "https", strings.TrimPrefix(cfg.URL, "https://")
	case strings.HasPrefix(cfg.URL, "http://"):
		wc.Host = strings.TrimPrefix(cfg.URL, "http://")
	}
	if cfg.APIKey != "" {
		wc.Headers = map[string]string{"Authorization": "Bearer " + cfg.APIKey}
	}
	client, err := weaviate.NewClient(wc)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	class := cfg.ClassName
	if class == "" {
		class = DefaultClassName
	}
	return &Index{client: client, class: class, logger: logger}, nil
}

// Name implements index.Backend.
func (*Index) Name() string { return "weaviate" }

// Schema returns the class definition.
func (x *Index) Schema() *models.Class {
	filterable := true
	field := func(name, desc string) *models.Property {
		return &models.Property{
			Name:            name,
			DataType:        []string{"text"},
			Description:     desc,
			IndexFilterable: &filterable,
			Tokenization:    "field",
		}
	}
	return &models.Class{
		Class:       x.class,
		Description: "A published PRD or test case.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			field("artifactId", "Artifact id."),
			field("projectId", "Owning project."),
			field("kind", "prd or testcase."),
			field("moduleId", "Module reference."),
			field("appVersionId", "App version reference."),
			field("status", "Lifecycle status."),
			{Name: "title", DataType: []string{"text"}, Description: "Title.", Tokenization: "word"},
			{Name: "text", DataType: []string{"text"}, Description: "Searchable text.", Tokenization: "word"},
			{Name: "tags", DataType: []string{"text[]"}, Description: "Tag names.", IndexFilterable: &filterable, Tokenization: "field"},
		},
	}
}

// EnsureSchema creates the class if it does not exist.
func (x *Index) EnsureSchema(ctx context.Context) error {
	if _, err := x.client.Schema().ClassGetter().WithClassName(x.class).Do(ctx); err == nil {
		return nil
	}
	x.logger.Info("creating weaviate class", "class", x.class)
	if err := x.client.Schema().ClassCreator().WithClass(x.Schema()).Do(ctx); err != nil {
		return fmt.Errorf("create weaviate class %s: %w", x.class, err)
	}
	return nil
}

// Upsert implements index.KeywordIndexService. Weaviate keeps text and
// vector on one object, so the keyword upsert writes the properties and
// keeps whatever vector the object already has.
func (x *Index) Upsert(ctx context.Context, id, text string, meta index.Metadata) error {
	return x.put(ctx, id, text, nil, meta)
}

// upsertVector writes both the properties and the vector.
func (x *Index) upsertVector(ctx context.Context, id string, vector []float32, meta index.Metadata) error {
	return x.put(ctx, id, "", vector, meta)
}

func (x *Index) put(ctx context.Context, id, text string, vector []float32, meta index.Metadata) error {
	props := map[string]any{
		"artifactId":   id,
		"projectId":    meta.ProjectID,
		"kind":         string(meta.Kind),
		"moduleId":     meta.ModuleID,
		"appVersionId": meta.AppVersionID,
		"status":       string(meta.Status),
		"title":        meta.Title,
		"tags":         meta.Tags,
	}
	if text != "" {
		props["text"] = text
	}

	if vector == nil || text == "" {
		// Partial write: merge into the existing object, creating it when
		// missing.
		updater := x.client.Data().Updater().WithClassName(x.class).WithID(id).WithProperties(props).WithMerge()
		if vector != nil {
			updater = updater.WithVector(vector)
		}
		if err := updater.Do(ctx); err == nil {
			return nil
		}
	}

	obj := &models.Object{
		Class:      x.class,
		ID:         strfmt.UUID(id),
		Properties: props,
	}
	if vector != nil {
		obj.Vector = models.C11yVector(vector)
	}
	resp, err := x.client.Batch().ObjectsBatcher().WithObjects(obj).Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate batch upsert: %w", err)
	}
	for _, r := range resp {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return fmt.Errorf("weaviate rejected object %s: %s", id, r.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

// Remove implements both services. Deleting by property filter makes a
// missing object a no-op.
func (x *Index) Remove(ctx context.Context, id string) error {
	where := filters.Where().
		WithPath([]string{"artifactId"}).
		WithOperator(filters.Equal).
		WithValueText(id)
	_, err := x.client.Batch().ObjectsBatchDeleter().
		WithClassName(x.class).
		WithOutput("minimal").
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate delete %s: %w", id, err)
	}
	return nil
}

// Score implements index.KeywordIndexService using BM25.
func (x *Index) Score(ctx context.Context, query string, candidateIDs []string) (map[string]float64, error) {
	out := make(map[string]float64)
	if strings.TrimSpace(query) == "" || len(candidateIDs) == 0 {
		return out, nil
	}
	bm25 := x.client.GraphQL().Bm25ArgBuilder().
		WithQuery(query).
		WithProperties("title^2", "text")
	where := filters.Where().
		WithPath([]string{"artifactId"}).
		WithOperator(filters.ContainsAny).
		WithValueText(candidateIDs...)

	result, err := x.client.GraphQL().Get().
		WithClassName(x.class).
		WithFields(
			graphql.Field{Name: "artifactId"},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "score"}}},
		).
		WithBM25(bm25).
		WithWhere(where).
		WithLimit(len(candidateIDs)).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate bm25: %w", err)
	}
	hits, err := parseHits(result, x.class, "score")
	if err != nil {
		return nil, err
	}
	for _, h := range hits {
		out[h.ID] = h.Score
	}
	return out, nil
}

// Vectors returns a view of x that implements index.VectorIndexService.
func (x *Index) Vectors() *VectorIndex { return &VectorIndex{x: x} }

// VectorIndex is the vector side of an Index. It shares objects with the
// keyword side.
type VectorIndex struct {
	x *Index
}

// Name implements index.Backend.
func (*VectorIndex) Name() string { return "weaviate" }

// Upsert implements index.VectorIndexService.
func (v *VectorIndex) Upsert(ctx context.Context, id string, vector []float32, meta index.Metadata) error {
	return v.x.upsertVector(ctx, id, vector, meta)
}

// Remove implements index.VectorIndexService.
func (v *VectorIndex) Remove(ctx context.Context, id string) error {
	return v.x.Remove(ctx, id)
}

// Search implements index.VectorIndexService.
func (v *VectorIndex) Search(ctx context.Context, vector []float32, f index.Filter, limit int) ([]index.ScoredID, error) {
	x := v.x
	get := x.client.GraphQL().Get().
		WithClassName(x.class).
		WithFields(
			graphql.Field{Name: "artifactId"},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
		).
		WithNearVector(x.client.GraphQL().NearVectorArgBuilder().WithVector(vector)).
		WithLimit(limit)
	if where := BuildWhere(f); where != nil {
		get = get.WithWhere(where)
	}
	result, err := get.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate near vector: %w", err)
	}
	return parseHits(result, x.class, "certainty")
}

// BuildWhere translates a filter into a Weaviate where clause, or nil when
// the filter is empty.
func BuildWhere(f index.Filter) *filters.WhereBuilder {
	var ops []*filters.WhereBuilder
	eq := func(path, value string) {
		if value == "" {
			return
		}
		ops = append(ops, filters.Where().
			WithPath([]string{path}).
			WithOperator(filters.Equal).
			WithValueText(value))
	}
	eq("projectId", f.ProjectID)
	eq("moduleId", f.ModuleID)
	eq("appVersionId", f.AppVersionID)
	eq("status", string(f.Status))
	if len(f.Kinds) > 0 {
		kinds := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			kinds[i] = string(k)
		}
		ops = append(ops, filters.Where().
			WithPath([]string{"kind"}).
			WithOperator(filters.ContainsAny).
			WithValueText(kinds...))
	}

	switch len(ops) {
	case 0:
		return nil
	case 1:
		return ops[0]
	}
	return filters.Where().WithOperator(filters.And).WithOperands(ops)
}

// parseHits reads artifactId and the named _additional score from a
// GraphQL Get response.
func parseHits(result *models.GraphQLResponse, class, scoreField string) ([]index.ScoredID, error) {
	if result == nil {
		return nil, nil
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate query error: %s", result.Errors[0].Message)
	}
	data, ok := result.Data["Get"].(map[string]any)
	if !ok {
		return nil, nil
	}
	objects, ok := data[class].([]any)
	if !ok {
		return nil, nil
	}
	hits := make([]index.ScoredID, 0, len(objects))
	for _, o := range objects {
		m, ok := o.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["artifactId"].(string)
		if id == "" {
			continue
		}
		var score float64
		if add, ok := m["_additional"].(map[string]any); ok {
			switch v := add[scoreField].(type) {
			case float64:
				score = v
			case string:
				score, _ = strconv.ParseFloat(v, 64)
			}
		}
		hits = append(hits, index.ScoredID{ID: id, Score: score})
	}
	return hits, nil
}
