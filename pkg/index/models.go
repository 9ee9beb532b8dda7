// Package index keeps the search index in step with the artifact lifecycle.
// An Entry row exists exactly while its artifact is published; the external
// keyword and vector services mirror those rows.
package index

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
	"unicode/utf8"

	"github.com/Yinkun-Cheng/RAG/pkg/artifact"
	"github.com/Yinkun-Cheng/RAG/pkg/db"
	"github.com/Yinkun-Cheng/RAG/pkg/lifecycle"
)

// SnippetLength is the maximum number of runes kept as a result snippet.
const SnippetLength = 300

// Entry is the index-side representation of a published artifact.
type Entry struct {
	ArtifactKind artifact.Kind      `gorm:"primaryKey;column:artifact_kind;type:varchar(16)" json:"type"`
	ArtifactID   string             `gorm:"primaryKey;column:artifact_id;type:varchar(36)" json:"id"`
	ProjectID    string             `gorm:"column:project_id;type:varchar(36);index:idx_entry_scope,priority:1;not null" json:"project_id"`
	Code         string             `gorm:"column:code" json:"code"`
	Title        string             `gorm:"column:title;not null" json:"title"`
	Snippet      string             `gorm:"column:snippet;type:text" json:"snippet"`
	Text         string             `gorm:"column:text;type:text" json:"-"`
	TextHash     string             `gorm:"column:text_hash;type:varchar(64)" json:"-"`
	ModuleID     *string            `gorm:"column:module_id;type:varchar(36);index:idx_entry_scope,priority:2" json:"module_id"`
	AppVersionID *string            `gorm:"column:app_version_id;type:varchar(36);index:idx_entry_scope,priority:3" json:"app_version_id"`
	Status       lifecycle.Status   `gorm:"column:status;type:varchar(16);not null" json:"status"`
	Tags         db.JSONStringSlice `gorm:"column:tags;type:text" json:"tags"`
	Embedding    db.JSONVector      `gorm:"column:embedding;type:text" json:"-"`
	CreatedAt    time.Time          `gorm:"column:artifact_created_at" json:"created_at"`
	UpdatedAt    time.Time          `gorm:"column:artifact_updated_at" json:"updated_at"`
	IndexedAt    time.Time          `gorm:"column:indexed_at" json:"indexed_at"`
}

// TableName returns the GORM table name.
func (Entry) TableName() string { return "index_entries" }

// Ref returns the artifact reference of the entry.
func (e *Entry) Ref() artifact.Ref {
	return artifact.Ref{Kind: e.ArtifactKind, ProjectID: e.ProjectID, ID: e.ArtifactID}
}

// Metadata is what the external services store next to a document so
// they can filter without consulting the database.
func (e *Entry) Metadata() Metadata {
	m := Metadata{
		ProjectID: e.ProjectID,
		Kind:      e.ArtifactKind,
		Title:     e.Title,
		Status:    e.Status,
		Tags:      []string(e.Tags),
	}
	if e.ModuleID != nil {
		m.ModuleID = *e.ModuleID
	}
	if e.AppVersionID != nil {
		m.AppVersionID = *e.AppVersionID
	}
	return m
}

// Document is the indexable view of an artifact.
type Document struct {
	Ref          artifact.Ref
	Code         string
	Title        string
	Content      string
	Text         string
	ModuleID     *string
	AppVersionID *string
	Tags         []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DocumentFromPRD builds the document of a PRD.
func DocumentFromPRD(p *artifact.PRD) Document {
	return Document{
		Ref:          artifact.Ref{Kind: artifact.KindPRD, ProjectID: p.ProjectID, ID: p.ID},
		Code:         p.Code,
		Title:        p.Title,
		Content:      p.Content,
		Text:         p.IndexText(),
		ModuleID:     p.ModuleID,
		AppVersionID: p.AppVersionID,
		Tags:         artifact.TagNames(p.Tags),
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

// DocumentFromTestCase builds the document of a test case.
func DocumentFromTestCase(tc *artifact.TestCase) Document {
	content := tc.Precondition
	if tc.ExpectedResult != "" {
		if content != "" {
			content += "\n"
		}
		content += tc.ExpectedResult
	}
	return Document{
		Ref:          artifact.Ref{Kind: artifact.KindTestCase, ProjectID: tc.ProjectID, ID: tc.ID},
		Code:         tc.Code,
		Title:        tc.Title,
		Content:      content,
		Text:         tc.IndexText(),
		ModuleID:     tc.ModuleID,
		AppVersionID: tc.AppVersionID,
		Tags:         artifact.TagNames(tc.Tags),
		CreatedAt:    tc.CreatedAt,
		UpdatedAt:    tc.UpdatedAt,
	}
}

// entry builds the row for d without an embedding.
func (d Document) entry(now time.Time) *Entry {
	return &Entry{
		ArtifactKind: d.Ref.Kind,
		ArtifactID:   d.Ref.ID,
		ProjectID:    d.Ref.ProjectID,
		Code:         d.Code,
		Title:        d.Title,
		Snippet:      Snippet(d.Content, SnippetLength),
		Text:         d.Text,
		TextHash:     hashText(d.Text),
		ModuleID:     d.ModuleID,
		AppVersionID: d.AppVersionID,
		Status:       lifecycle.StatusPublished,
		Tags:         db.JSONStringSlice(d.Tags),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		IndexedAt:    now,
	}
}

func hashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Snippet truncates s to at most n runes, appending an ellipsis when cut.
func Snippet(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
