// Package dbkeyword is a keyword index kept in the artifact database. It
// prefilters with LIKE and scores by query term overlap, weighting title
// matches above body matches.
package dbkeyword

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Yinkun-Cheng/RAG/pkg/db"
	"github.com/Yinkun-Cheng/RAG/pkg/index"
)

const (
	titleWeight = 0.3
	bodyWeight  = 0.7
	chunkSize   = 500
)

// Document is one keyword-searchable row.
type Document struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	ProjectID string    `gorm:"column:project_id;type:varchar(36);index;not null"`
	Title     string    `gorm:"column:title"`
	Text      string    `gorm:"column:text;type:text"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName returns the GORM table name.
func (Document) TableName() string { return "keyword_documents" }

// Index implements index.KeywordIndexService.
type Index struct {
	db *gorm.DB
}

// New creates an Index.
func New(db *gorm.DB) *Index {
	return &Index{db: db}
}

// AutoMigrate creates or updates the keyword_documents table.
func (x *Index) AutoMigrate() error {
	if err := x.db.AutoMigrate(&Document{}); err != nil {
		return fmt.Errorf("auto-migrate keyword_documents: %w", err)
	}
	return nil
}

// Name implements index.Backend.
func (*Index) Name() string { return "db" }

// Upsert implements index.KeywordIndexService.
func (x *Index) Upsert(ctx context.Context, id, text string, meta index.Metadata) error {
	doc := Document{ID: id, ProjectID: meta.ProjectID, Title: meta.Title, Text: text, UpdatedAt: time.Now()}
	if err := x.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&doc).Error; err != nil {
		return fmt.Errorf("upsert keyword document: %w", err)
	}
	return nil
}

// Remove implements index.KeywordIndexService. Removing a missing document
// succeeds.
func (x *Index) Remove(ctx context.Context, id string) error {
	if err := x.db.WithContext(ctx).Where("id = ?", id).Delete(&Document{}).Error; err != nil {
		return fmt.Errorf("remove keyword document: %w", err)
	}
	return nil
}

// Score implements index.KeywordIndexService.
func (x *Index) Score(ctx context.Context, query string, candidateIDs []string) (map[string]float64, error) {
	terms := index.Terms(query)
	out := make(map[string]float64)
	if len(terms) == 0 || len(candidateIDs) == 0 {
		return out, nil
	}

	for start := 0; start < len(candidateIDs); start += chunkSize {
		end := min(start+chunkSize, len(candidateIDs))
		q := x.db.WithContext(ctx).Model(&Document{}).Where("id IN ?", candidateIDs[start:end])

		// Any term in title or body.
		anyTerm := x.db.Where("1 = 0")
		for _, t := range terms {
			p := db.LikePattern(t)
			anyTerm = anyTerm.Or("LOWER(text) LIKE ?", p).Or("LOWER(title) LIKE ?", p)
		}
		q = q.Where(anyTerm)

		var docs []Document
		if err := q.Find(&docs).Error; err != nil {
			return nil, fmt.Errorf("score keyword documents: %w", err)
		}
		for _, d := range docs {
			s := bodyWeight*index.TermOverlap(query, d.Text) + titleWeight*index.TermOverlap(query, d.Title)
			if s > 0 {
				out[d.ID] = s
			}
		}
	}
	return out, nil
}
