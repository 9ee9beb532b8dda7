package artifact

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"
	"gorm.io/gorm"

	"github.com/Yinkun-Cheng/RAG/pkg/errs"
	"github.com/Yinkun-Cheng/RAG/pkg/lifecycle"
)

// PRDUpdate holds the mutable fields of a PRD. Nil fields are left
// unchanged; an empty ModuleID or AppVersionID clears the reference.
type PRDUpdate struct {
	Title        *string
	Content      *string
	ModuleID     *string
	AppVersionID *string
	Author       *string

	// CreateVersion snapshots the prior content and increments Version when
	// the title or content changes.
	CreateVersion bool
	ChangeLog     string
	UpdatedBy     string
}

// Preview returns p as it reads once u is applied. References are not
// checked.
func (u PRDUpdate) Preview(p PRD) PRD {
	if u.Title != nil {
		p.Title = strings.TrimSpace(*u.Title)
	}
	if u.Content != nil {
		p.Content = *u.Content
	}
	if u.ModuleID != nil {
		p.ModuleID = normalizeRef(u.ModuleID)
	}
	if u.AppVersionID != nil {
		p.AppVersionID = normalizeRef(u.AppVersionID)
	}
	if u.Author != nil {
		p.Author = *u.Author
	}
	return p
}

// CreatePRD inserts a draft PRD at version 1.
func (s *Store) CreatePRD(ctx context.Context, p *PRD) error {
	p.Code = strings.TrimSpace(p.Code)
	p.Title = strings.TrimSpace(p.Title)
	if p.Code == "" || p.Title == "" {
		return errs.InvalidArgument("prd code and title are required")
	}
	p.ModuleID = normalizeRef(p.ModuleID)
	p.AppVersionID = normalizeRef(p.AppVersionID)
	p.Status = lifecycle.StatusDraft
	p.Version = 1
	p.PendingDeindex = false

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkRefs(tx, p.ProjectID, p.ModuleID, p.AppVersionID, nil); err != nil {
			return err
		}
		taken, err := codeTaken(tx, &PRD{}, p.ProjectID, p.Code, "")
		if err != nil {
			return err
		}
		if taken {
			return errs.Conflict("prd", p.Code, "prd code %q already exists in project", p.Code)
		}
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		if err := tx.Create(p).Error; err != nil {
			return fmt.Errorf("create prd: %w", err)
		}
		return nil
	})
}

// GetPRD retrieves a PRD with its tags. Returns nil, nil if none exists.
func (s *Store) GetPRD(ctx context.Context, projectID, id string) (*PRD, error) {
	p, err := first[PRD](s.db.WithContext(ctx).Where("project_id = ? AND id = ?", projectID, id))
	if err != nil {
		return nil, fmt.Errorf("get prd: %w", err)
	}
	if p == nil {
		return nil, nil
	}
	tags, err := s.tagsFor(ctx, KindPRD, []string{p.ID})
	if err != nil {
		return nil, err
	}
	p.Tags = tags[p.ID]
	return p, nil
}

// UpdatePRD applies u and returns the updated PRD.
func (s *Store) UpdatePRD(ctx context.Context, projectID, id string, u PRDUpdate) (*PRD, error) {
	var out *PRD
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := first[PRD](tx.Where("project_id = ? AND id = ?", projectID, id))
		if err != nil {
			return fmt.Errorf("load prd: %w", err)
		}
		if p == nil {
			return errs.NotFound("prd", id)
		}
		prior := *p

		if u.Title != nil {
			t := strings.TrimSpace(*u.Title)
			if t == "" {
				return errs.InvalidArgument("prd title cannot be empty")
			}
			p.Title = t
		}
		if u.Content != nil {
			p.Content = *u.Content
		}
		if u.Author != nil {
			p.Author = *u.Author
		}
		if u.ModuleID != nil {
			p.ModuleID = normalizeRef(u.ModuleID)
		}
		if u.AppVersionID != nil {
			p.AppVersionID = normalizeRef(u.AppVersionID)
		}
		if err := checkRefs(tx, projectID, p.ModuleID, p.AppVersionID, nil); err != nil {
			return err
		}

		changed := p.Title != prior.Title || p.Content != prior.Content
		if u.CreateVersion && changed {
			snap := &PRDVersion{
				ID:        uuid.New().String(),
				PRDID:     prior.ID,
				Version:   prior.Version,
				Title:     prior.Title,
				Content:   prior.Content,
				ChangeLog: u.ChangeLog,
				CreatedBy: u.UpdatedBy,
			}
			if err := tx.Create(snap).Error; err != nil {
				return fmt.Errorf("snapshot prd version: %w", err)
			}
			p.Version = prior.Version + 1
		}

		if err := tx.Save(p).Error; err != nil {
			return fmt.Errorf("update prd: %w", err)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	tags, err := s.tagsFor(ctx, KindPRD, []string{out.ID})
	if err != nil {
		return nil, err
	}
	out.Tags = tags[out.ID]
	return out, nil
}

// DeletePRD removes a PRD with its tag links and version history. Test
// cases linked to it become unlinked.
func (s *Store) DeletePRD(ctx context.Context, projectID, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("project_id = ? AND id = ?", projectID, id).Delete(&PRD{})
		if result.Error != nil {
			return fmt.Errorf("delete prd: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return errs.NotFound("prd", id)
		}
		if err := tx.Where("artifact_kind = ? AND artifact_id = ?", KindPRD, id).Delete(&ArtifactTag{}).Error; err != nil {
			return fmt.Errorf("delete prd tags: %w", err)
		}
		if err := tx.Where("prd_id = ?", id).Delete(&PRDVersion{}).Error; err != nil {
			return fmt.Errorf("delete prd versions: %w", err)
		}
		if err := tx.Model(&TestCase{}).Where("project_id = ? AND prd_id = ?", projectID, id).
			UpdateColumn("prd_id", nil).Error; err != nil {
			return fmt.Errorf("unlink test cases: %w", err)
		}
		return nil
	})
}

// ListPRDs returns one page of PRDs matching f, most recently updated first.
func (s *Store) ListPRDs(ctx context.Context, f ListFilter) (*Page[PRD], error) {
	page, err := list[PRD](ctx, s, KindPRD, f)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(page.Items))
	for i := range page.Items {
		ids[i] = page.Items[i].ID
	}
	tags, err := s.tagsFor(ctx, KindPRD, ids)
	if err != nil {
		return nil, err
	}
	for i := range page.Items {
		page.Items[i].Tags = tags[page.Items[i].ID]
	}
	return page, nil
}

// ListPRDsForVersion returns the non-archived PRDs of an app version,
// optionally limited to one module, ordered by code.
func (s *Store) ListPRDsForVersion(ctx context.Context, projectID, appVersionID, moduleID string) ([]PRD, error) {
	q := s.db.WithContext(ctx).
		Where("project_id = ? AND app_version_id = ? AND status <> ?", projectID, appVersionID, lifecycle.StatusArchived)
	if moduleID != "" {
		q = q.Where("module_id = ?", moduleID)
	}
	var prds []PRD
	if err := q.Order("code ASC").Order("id ASC").Find(&prds).Error; err != nil {
		return nil, fmt.Errorf("list prds for version: %w", err)
	}
	return prds, nil
}

// ListPRDVersions returns the stored snapshots in ascending version order
// followed by the live row.
func (s *Store) ListPRDVersions(ctx context.Context, projectID, id string) ([]PRDVersion, error) {
	p, err := s.GetPRD(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errs.NotFound("prd", id)
	}
	var versions []PRDVersion
	if err := s.db.WithContext(ctx).Where("prd_id = ?", id).Order("version ASC").Find(&versions).Error; err != nil {
		return nil, fmt.Errorf("list prd versions: %w", err)
	}
	return append(versions, currentPRDVersion(p)), nil
}

// GetPRDVersion returns the content of a PRD at version n.
func (s *Store) GetPRDVersion(ctx context.Context, projectID, id string, n int) (*PRDVersion, error) {
	p, err := s.GetPRD(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errs.NotFound("prd", id)
	}
	if n == p.Version {
		v := currentPRDVersion(p)
		return &v, nil
	}
	v, err := first[PRDVersion](s.db.WithContext(ctx).Where("prd_id = ? AND version = ?", id, n))
	if err != nil {
		return nil, fmt.Errorf("get prd version: %w", err)
	}
	if v == nil {
		return nil, errs.NotFound("prd_version", fmt.Sprintf("%s@%d", id, n))
	}
	return v, nil
}

// VersionDiff is a unified diff between two versions of an artifact.
type VersionDiff struct {
	ID           string `json:"id"`
	FromVersion  int    `json:"from_version"`
	ToVersion    int    `json:"to_version"`
	TitleChanged bool   `json:"title_changed"`
	Diff         string `json:"diff"`
}

// ComparePRDVersions diffs the content of two versions of a PRD.
func (s *Store) ComparePRDVersions(ctx context.Context, projectID, id string, from, to int) (*VersionDiff, error) {
	if from == to {
		return nil, errs.InvalidArgument("from and to versions must differ")
	}
	a, err := s.GetPRDVersion(ctx, projectID, id, from)
	if err != nil {
		return nil, err
	}
	b, err := s.GetPRDVersion(ctx, projectID, id, to)
	if err != nil {
		return nil, err
	}
	diff, err := UnifiedDiff(a.Content, b.Content, fmt.Sprintf("v%d", from), fmt.Sprintf("v%d", to))
	if err != nil {
		return nil, err
	}
	return &VersionDiff{
		ID:           id,
		FromVersion:  from,
		ToVersion:    to,
		TitleChanged: a.Title != b.Title,
		Diff:         diff,
	}, nil
}

// UnifiedDiff renders a line diff of two texts.
func UnifiedDiff(a, b, fromName, toName string) (string, error) {
	out, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: fromName,
		ToFile:   toName,
		Context:  3,
	})
	if err != nil {
		return "", fmt.Errorf("diff: %w", err)
	}
	return out, nil
}

func currentPRDVersion(p *PRD) PRDVersion {
	return PRDVersion{
		PRDID:     p.ID,
		Version:   p.Version,
		Title:     p.Title,
		Content:   p.Content,
		CreatedBy: p.Author,
		CreatedAt: p.UpdatedAt,
		Current:   true,
	}
}

// IndexText is the searchable text of a PRD.
func (p *PRD) IndexText() string {
	return strings.TrimSpace(p.Title + "\n\n" + p.Content)
}
