// Package pgvector stores embeddings in PostgreSQL using the pgvector
// extension and implements index.VectorIndexService.
package pgvector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/Yinkun-Cheng/RAG/pkg/index"
)

// DefaultTable is the table holding artifact vectors.
const DefaultTable = "artifact_vectors"

// Index is a pgvector-backed vector index.
type Index struct {
	db        *gorm.DB
	table     string
	dimension int
}

// New creates an Index on db. dimension must match the embedding model.
func New(db *gorm.DB, dimension int) (*Index, error) {
	if db == nil {
		return nil, errors.New("pgvector requires a database")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid vector dimension %d", dimension)
	}
	return &Index{db: db, table: DefaultTable, dimension: dimension}, nil
}

// Name implements index.Backend.
func (*Index) Name() string { return "pgvector" }

// EnsureSchema creates the extension, the table and its ANN index.
func (x *Index) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	module_id TEXT NOT NULL DEFAULT '',
	app_version_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT '',
	embedding vector(%d) NOT NULL
)`, x.table, x.dimension),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_project ON %s (project_id)", x.table, x.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s USING hnsw (embedding vector_cosine_ops)", x.table, x.table),
	}
	for _, stmt := range stmts {
		if err := x.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("ensure pgvector schema: %w", err)
		}
	}
	return nil
}

// Upsert implements index.VectorIndexService.
func (x *Index) Upsert(ctx context.Context, id string, vector []float32, meta index.Metadata) error {
	if len(vector) != x.dimension {
		return fmt.Errorf("vector has dimension %d, want %d", len(vector), x.dimension)
	}
	q := fmt.Sprintf(`INSERT INTO %s (id, project_id, kind, module_id, app_version_id, status, embedding)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	project_id = EXCLUDED.project_id,
	kind = EXCLUDED.kind,
	module_id = EXCLUDED.module_id,
	app_version_id = EXCLUDED.app_version_id,
	status = EXCLUDED.status,
	embedding = EXCLUDED.embedding`, x.table)
	err := x.db.WithContext(ctx).Exec(q,
		id, meta.ProjectID, string(meta.Kind), meta.ModuleID, meta.AppVersionID, string(meta.Status),
		pgvector.NewVector(vector),
	).Error
	if err != nil {
		return fmt.Errorf("upsert vector %s: %w", id, err)
	}
	return nil
}

// Remove implements index.VectorIndexService. Removing a missing id is not
// an error.
func (x *Index) Remove(ctx context.Context, id string) error {
	if err := x.db.WithContext(ctx).Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", x.table), id).Error; err != nil {
		return fmt.Errorf("remove vector %s: %w", id, err)
	}
	return nil
}

// Search implements index.VectorIndexService. Scores are cosine
// similarity mapped to [0,1].
func (x *Index) Search(ctx context.Context, vector []float32, f index.Filter, limit int) ([]index.ScoredID, error) {
	if limit <= 0 {
		return nil, nil
	}
	where, args := buildWhere(f)
	vec := pgvector.NewVector(vector)

	q := fmt.Sprintf("SELECT id, embedding <=> ? AS distance FROM %s", x.table)
	all := []any{vec}
	if where != "" {
		q += " WHERE " + where
		all = append(all, args...)
	}
	q += " ORDER BY distance LIMIT ?"
	all = append(all, limit)

	rows, err := x.db.WithContext(ctx).Raw(q, all...).Rows()
	if err != nil {
		return nil, fmt.Errorf("search vectors: %w", err)
	}
	defer rows.Close()

	var out []index.ScoredID
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, fmt.Errorf("scan vector hit: %w", err)
		}
		out = append(out, index.ScoredID{ID: id, Score: index.Certainty(1 - distance)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vector hits: %w", err)
	}
	return out, nil
}

func buildWhere(f index.Filter) (string, []any) {
	var clauses []string
	var args []any
	eq := func(col, v string) {
		if v != "" {
			clauses = append(clauses, col+" = ?")
			args = append(args, v)
		}
	}
	eq("project_id", f.ProjectID)
	eq("module_id", f.ModuleID)
	eq("app_version_id", f.AppVersionID)
	eq("status", string(f.Status))
	if len(f.Kinds) > 0 {
		kinds := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			kinds[i] = string(k)
		}
		clauses = append(clauses, "kind IN ?")
		args = append(args, kinds)
	}
	return strings.Join(clauses, " AND "), args
}
