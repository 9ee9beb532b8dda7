package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/Yinkun-Cheng/RAG/pkg/db"
	"github.com/Yinkun-Cheng/RAG/pkg/errs"
	"github.com/Yinkun-Cheng/RAG/pkg/filterquery"
	"github.com/Yinkun-Cheng/RAG/pkg/lifecycle"
	"github.com/Yinkun-Cheng/RAG/pkg/moduletree"
	"github.com/Yinkun-Cheng/RAG/pkg/project"
)

const (
	// DefaultPageSize is used when page_size is not specified.
	DefaultPageSize = 20
	// MaxPageSize is the upper bound for page_size.
	MaxPageSize = 100
)

// Store provides persistence for PRDs, test cases, tags and version
// snapshots.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx returns a Store bound to an open transaction.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx}
}

// DB returns the underlying handle.
func (s *Store) DB() *gorm.DB { return s.db }

// AutoMigrate creates or updates the artifact tables.
func (s *Store) AutoMigrate() error {
	for _, m := range []any{&PRD{}, &TestCase{}, &TestStep{}, &PRDVersion{}, &TestCaseVersion{}, &Tag{}, &ArtifactTag{}} {
		if err := s.db.AutoMigrate(m); err != nil {
			return fmt.Errorf("auto-migrate %T: %w", m, err)
		}
	}
	return nil
}

// Page is one page of a filtered list.
type Page[T any] struct {
	Items    []T   `json:"items"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
}

// ListFilter narrows a PRD or test case list. All set fields combine with
// logical AND.
type ListFilter struct {
	ProjectID    string
	ModuleID     string
	AppVersionID string
	Status       lifecycle.Status
	TagID        string
	Keyword      string

	// Test case only.
	PRDID    string
	Priority string
	Type     string

	FilterQuery string
	Page        int
	PageSize    int
}

func (f *ListFilter) normalize(kind Kind) error {
	if f.Page == 0 {
		f.Page = 1
	}
	if f.PageSize == 0 {
		f.PageSize = DefaultPageSize
	}
	if f.Page < 1 || f.PageSize < 1 {
		return errs.InvalidArgument("page and page_size must be >= 1")
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	if f.Status != "" && !f.Status.Valid() {
		return errs.InvalidArgument("unknown status %q", f.Status)
	}
	if kind == KindPRD && (f.Priority != "" || f.Type != "" || f.PRDID != "") {
		return errs.InvalidArgument("priority, type and prd_id filters apply to test cases only")
	}
	if f.Priority != "" && !ValidPriority(f.Priority) {
		return errs.InvalidArgument("unknown priority %q", f.Priority)
	}
	if f.Type != "" && !ValidType(f.Type) {
		return errs.InvalidArgument("unknown test case type %q", f.Type)
	}
	return nil
}

var prdColumns = map[string]string{
	"code":           "code",
	"title":          "title",
	"content":        "content",
	"author":         "author",
	"status":         "status",
	"version":        "version",
	"module_id":      "module_id",
	"app_version_id": "app_version_id",
}

var testCaseColumns = map[string]string{
	"code":           "code",
	"title":          "title",
	"author":         "author",
	"status":         "status",
	"version":        "version",
	"priority":       "priority",
	"type":           "type",
	"prd_id":         "prd_id",
	"module_id":      "module_id",
	"app_version_id": "app_version_id",
}

func (s *Store) filtered(ctx context.Context, kind Kind, f ListFilter) (*gorm.DB, error) {
	q := s.db.WithContext(ctx).Where("project_id = ?", f.ProjectID)
	if f.ModuleID != "" {
		q = q.Where("module_id = ?", f.ModuleID)
	}
	if f.AppVersionID != "" {
		q = q.Where("app_version_id = ?", f.AppVersionID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		q = q.Where("LOWER(title) LIKE ?", db.LikePattern(kw))
	}
	if f.TagID != "" {
		q = q.Where("id IN (?)", s.db.Model(&ArtifactTag{}).Select("artifact_id").
			Where("artifact_kind = ? AND tag_id = ?", kind, f.TagID))
	}
	columns := prdColumns
	if kind == KindTestCase {
		columns = testCaseColumns
		if f.PRDID != "" {
			q = q.Where("prd_id = ?", f.PRDID)
		}
		if f.Priority != "" {
			q = q.Where("priority = ?", f.Priority)
		}
		if f.Type != "" {
			q = q.Where("type = ?", f.Type)
		}
	}
	return filterquery.Apply(q, f.FilterQuery, columns)
}

func list[T any](ctx context.Context, s *Store, kind Kind, f ListFilter) (*Page[T], error) {
	if err := f.normalize(kind); err != nil {
		return nil, err
	}

	var model T
	countQ, err := s.filtered(ctx, kind, f)
	if err != nil {
		return nil, err
	}
	var total int64
	if err := countQ.Model(&model).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count %ss: %w", kind, err)
	}

	q, err := s.filtered(ctx, kind, f)
	if err != nil {
		return nil, err
	}
	items := []T{}
	if err := q.Order("updated_at DESC").Order("id ASC").
		Offset((f.Page - 1) * f.PageSize).Limit(f.PageSize).
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list %ss: %w", kind, err)
	}
	return &Page[T]{Items: items, Total: total, Page: f.Page, PageSize: f.PageSize}, nil
}

// checkRefs verifies that the module, app version and PRD references of an
// artifact exist inside its project.
func checkRefs(tx *gorm.DB, projectID string, moduleID, appVersionID, prdID *string) error {
	check := func(model any, entity string, id *string) error {
		if id == nil {
			return nil
		}
		var n int64
		if err := tx.Model(model).Where("project_id = ? AND id = ?", projectID, *id).Count(&n).Error; err != nil {
			return fmt.Errorf("check %s: %w", entity, err)
		}
		if n == 0 {
			return errs.NotFound(entity, *id)
		}
		return nil
	}
	if err := check(&moduletree.Module{}, "module", moduleID); err != nil {
		return err
	}
	if err := check(&project.AppVersion{}, "app_version", appVersionID); err != nil {
		return err
	}
	return check(&PRD{}, "prd", prdID)
}

func codeTaken(tx *gorm.DB, model any, projectID, code, exceptID string) (bool, error) {
	q := tx.Model(model).Where("project_id = ? AND code = ?", projectID, code)
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, fmt.Errorf("check code: %w", err)
	}
	return n > 0, nil
}

func normalizeRef(id *string) *string {
	if id == nil {
		return nil
	}
	v := strings.TrimSpace(*id)
	if v == "" {
		return nil
	}
	return &v
}

func first[T any](q *gorm.DB) (*T, error) {
	var v T
	if err := q.First(&v).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

// Exists reports whether the referenced artifact exists.
func (s *Store) Exists(ctx context.Context, ref Ref) (bool, error) {
	var n int64
	var model any = &PRD{}
	if ref.Kind == KindTestCase {
		model = &TestCase{}
	}
	if err := s.db.WithContext(ctx).Model(model).
		Where("project_id = ? AND id = ?", ref.ProjectID, ref.ID).Count(&n).Error; err != nil {
		return false, fmt.Errorf("check %s: %w", ref.Kind, err)
	}
	return n > 0, nil
}

// SetStatus writes a lifecycle status and the pending-deindex flag.
func (s *Store) SetStatus(ctx context.Context, ref Ref, status lifecycle.Status, pendingDeindex bool) error {
	var model any = &PRD{}
	if ref.Kind == KindTestCase {
		model = &TestCase{}
	}
	result := s.db.WithContext(ctx).Model(model).
		Where("project_id = ? AND id = ?", ref.ProjectID, ref.ID).
		Updates(map[string]any{"status": status, "pending_deindex": pendingDeindex})
	if result.Error != nil {
		return fmt.Errorf("set %s status: %w", ref.Kind, result.Error)
	}
	if result.RowsAffected == 0 {
		return errs.NotFound(string(ref.Kind), ref.ID)
	}
	return nil
}

// SetPendingDeindex updates only the pending-deindex flag. Missing rows are
// ignored since the artifact may have been deleted since the job was queued.
func (s *Store) SetPendingDeindex(ctx context.Context, ref Ref, pending bool) error {
	var model any = &PRD{}
	if ref.Kind == KindTestCase {
		model = &TestCase{}
	}
	if err := s.db.WithContext(ctx).Model(model).
		Where("project_id = ? AND id = ?", ref.ProjectID, ref.ID).
		UpdateColumn("pending_deindex", pending).Error; err != nil {
		return fmt.Errorf("set %s pending_deindex: %w", ref.Kind, err)
	}
	return nil
}

// ListRefsByStatus returns the refs of every artifact of a project in the
// given status, PRDs first.
func (s *Store) ListRefsByStatus(ctx context.Context, projectID string, status lifecycle.Status) ([]Ref, error) {
	var refs []Ref
	for _, k := range []struct {
		kind  Kind
		model any
	}{{KindPRD, &PRD{}}, {KindTestCase, &TestCase{}}} {
		var ids []string
		if err := s.db.WithContext(ctx).Model(k.model).
			Where("project_id = ? AND status = ?", projectID, status).
			Order("id").Pluck("id", &ids).Error; err != nil {
			return nil, fmt.Errorf("list %s ids: %w", k.kind, err)
		}
		for _, id := range ids {
			refs = append(refs, Ref{Kind: k.kind, ProjectID: projectID, ID: id})
		}
	}
	return refs, nil
}

// CountModuleReferences implements moduletree.ReferenceCounter.
func (s *Store) CountModuleReferences(ctx context.Context, tx *gorm.DB, projectID, moduleID string) (int64, error) {
	if tx != nil {
		s = s.WithTx(tx)
	}
	return s.countRefs(ctx, "module_id", projectID, moduleID)
}

// CountAppVersionReferences implements project.ReferenceCounter.
func (s *Store) CountAppVersionReferences(ctx context.Context, projectID, appVersionID string) (int64, error) {
	return s.countRefs(ctx, "app_version_id", projectID, appVersionID)
}

func (s *Store) countRefs(ctx context.Context, column, projectID, id string) (int64, error) {
	var total int64
	for _, model := range []any{&PRD{}, &TestCase{}} {
		var n int64
		if err := s.db.WithContext(ctx).Model(model).
			Where("project_id = ? AND "+column+" = ?", projectID, id).Count(&n).Error; err != nil {
			return 0, fmt.Errorf("count %s references: %w", column, err)
		}
		total += n
	}
	return total, nil
}

// DeleteProjectData implements project.CascadeDeleter.
func (s *Store) DeleteProjectData(_ context.Context, tx *gorm.DB, projectID string) error {
	prdIDs := tx.Model(&PRD{}).Select("id").Where("project_id = ?", projectID)
	tcIDs := tx.Model(&TestCase{}).Select("id").Where("project_id = ?", projectID)
	tagIDs := tx.Model(&Tag{}).Select("id").Where("project_id = ?", projectID)

	steps := []struct {
		name string
		run  func() error
	}{
		{"artifact tags", func() error { return tx.Where("tag_id IN (?)", tagIDs).Delete(&ArtifactTag{}).Error }},
		{"prd versions", func() error { return tx.Where("prd_id IN (?)", prdIDs).Delete(&PRDVersion{}).Error }},
		{"test case versions", func() error { return tx.Where("test_case_id IN (?)", tcIDs).Delete(&TestCaseVersion{}).Error }},
		{"test steps", func() error { return tx.Where("test_case_id IN (?)", tcIDs).Delete(&TestStep{}).Error }},
		{"test cases", func() error { return tx.Where("project_id = ?", projectID).Delete(&TestCase{}).Error }},
		{"prds", func() error { return tx.Where("project_id = ?", projectID).Delete(&PRD{}).Error }},
		{"tags", func() error { return tx.Where("project_id = ?", projectID).Delete(&Tag{}).Error }},
	}
	for _, st := range steps {
		if err := st.run(); err != nil {
			return fmt.Errorf("delete %s: %w", st.name, err)
		}
	}
	return nil
}

// StatusCounts holds artifact counts per lifecycle status.
type StatusCounts struct {
	Total          int64 `json:"total"`
	Draft          int64 `json:"draft"`
	Published      int64 `json:"published"`
	Archived       int64 `json:"archived"`
	PendingDeindex int64 `json:"pending_deindex"`
}

// Statistics summarizes the artifacts of a project.
type Statistics struct {
	PRDs      StatusCounts `json:"prds"`
	TestCases StatusCounts `json:"testcases"`
	Tags      int64        `json:"tags"`
}

// Statistics counts a project's artifacts by status.
func (s *Store) Statistics(ctx context.Context, projectID string) (*Statistics, error) {
	stats := &Statistics{}
	for _, k := range []struct {
		model  any
		counts *StatusCounts
	}{{&PRD{}, &stats.PRDs}, {&TestCase{}, &stats.TestCases}} {
		var rows []struct {
			Status lifecycle.Status
			N      int64
		}
		if err := s.db.WithContext(ctx).Model(k.model).Select("status, COUNT(*) AS n").
			Where("project_id = ?", projectID).Group("status").Scan(&rows).Error; err != nil {
			return nil, fmt.Errorf("count by status: %w", err)
		}
		for _, r := range rows {
			k.counts.Total += r.N
			switch r.Status {
			case lifecycle.StatusDraft:
				k.counts.Draft = r.N
			case lifecycle.StatusPublished:
				k.counts.Published = r.N
			case lifecycle.StatusArchived:
				k.counts.Archived = r.N
			}
		}
		if err := s.db.WithContext(ctx).Model(k.model).
			Where("project_id = ? AND pending_deindex = ?", projectID, true).
			Count(&k.counts.PendingDeindex).Error; err != nil {
			return nil, fmt.Errorf("count pending deindex: %w", err)
		}
	}
	if err := s.db.WithContext(ctx).Model(&Tag{}).Where("project_id = ?", projectID).Count(&stats.Tags).Error; err != nil {
		return nil, fmt.Errorf("count tags: %w", err)
	}
	return stats, nil
}
