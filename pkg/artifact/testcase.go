package artifact

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Yinkun-Cheng/RAG/pkg/db"
	"github.com/Yinkun-Cheng/RAG/pkg/errs"
	"github.com/Yinkun-Cheng/RAG/pkg/lifecycle"
)

// TestCaseUpdate holds the mutable fields of a test case. Nil fields are
// left unchanged. A non-nil Steps replaces the whole step list.
type TestCaseUpdate struct {
	Title          *string
	PRDID          *string
	ModuleID       *string
	AppVersionID   *string
	Precondition   *string
	ExpectedResult *string
	Priority       *string
	Type           *string
	Author         *string
	Steps          *[]TestStep

	CreateVersion bool
	ChangeLog     string
	UpdatedBy     string
}

// Preview returns tc as it reads once u is applied. References are not
// checked.
func (u TestCaseUpdate) Preview(tc TestCase) TestCase {
	if u.Title != nil {
		tc.Title = strings.TrimSpace(*u.Title)
	}
	if u.PRDID != nil {
		tc.PRDID = normalizeRef(u.PRDID)
	}
	if u.ModuleID != nil {
		tc.ModuleID = normalizeRef(u.ModuleID)
	}
	if u.AppVersionID != nil {
		tc.AppVersionID = normalizeRef(u.AppVersionID)
	}
	if u.Precondition != nil {
		tc.Precondition = *u.Precondition
	}
	if u.ExpectedResult != nil {
		tc.ExpectedResult = *u.ExpectedResult
	}
	if u.Priority != nil {
		tc.Priority = *u.Priority
	}
	if u.Type != nil {
		tc.Type = *u.Type
	}
	if u.Steps != nil {
		tc.Steps = renumber(tc.ID, *u.Steps)
	}
	return tc
}

// WithoutStep returns the steps of tc with the step at order removed and
// the rest renumbered.
func WithoutStep(tc TestCase, order int) []TestStep {
	steps := make([]TestStep, 0, len(tc.Steps))
	for _, st := range tc.Steps {
		if st.StepOrder != order {
			steps = append(steps, st)
		}
	}
	return renumber(tc.ID, steps)
}

func validateTestCase(tc *TestCase) error {
	if tc.Priority == "" {
		tc.Priority = PriorityMedium
	}
	if tc.Type == "" {
		tc.Type = TypeFunctional
	}
	if !ValidPriority(tc.Priority) {
		return errs.InvalidArgument("unknown priority %q", tc.Priority)
	}
	if !ValidType(tc.Type) {
		return errs.InvalidArgument("unknown test case type %q", tc.Type)
	}
	return nil
}

// renumber orders steps by their requested order, keeping input order for
// ties, and rewrites StepOrder to 1..n.
func renumber(testCaseID string, steps []TestStep) []TestStep {
	out := make([]TestStep, len(steps))
	copy(out, steps)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StepOrder < out[j].StepOrder })
	for i := range out {
		out[i].ID = uuid.New().String()
		out[i].TestCaseID = testCaseID
		out[i].StepOrder = i + 1
	}
	return out
}

func replaceSteps(tx *gorm.DB, testCaseID string, steps []TestStep) ([]TestStep, error) {
	if err := tx.Where("test_case_id = ?", testCaseID).Delete(&TestStep{}).Error; err != nil {
		return nil, fmt.Errorf("delete steps: %w", err)
	}
	steps = renumber(testCaseID, steps)
	if len(steps) > 0 {
		if err := tx.Create(&steps).Error; err != nil {
			return nil, fmt.Errorf("create steps: %w", err)
		}
	}
	return steps, nil
}

// CreateTestCase inserts a draft test case with its steps at version 1.
func (s *Store) CreateTestCase(ctx context.Context, tc *TestCase) error {
	tc.Code = strings.TrimSpace(tc.Code)
	tc.Title = strings.TrimSpace(tc.Title)
	if tc.Code == "" || tc.Title == "" {
		return errs.InvalidArgument("test case code and title are required")
	}
	if err := validateTestCase(tc); err != nil {
		return err
	}
	tc.PRDID = normalizeRef(tc.PRDID)
	tc.ModuleID = normalizeRef(tc.ModuleID)
	tc.AppVersionID = normalizeRef(tc.AppVersionID)
	tc.Status = lifecycle.StatusDraft
	tc.Version = 1
	tc.PendingDeindex = false

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkRefs(tx, tc.ProjectID, tc.ModuleID, tc.AppVersionID, tc.PRDID); err != nil {
			return err
		}
		taken, err := codeTaken(tx, &TestCase{}, tc.ProjectID, tc.Code, "")
		if err != nil {
			return err
		}
		if taken {
			return errs.Conflict("testcase", tc.Code, "test case code %q already exists in project", tc.Code)
		}
		if tc.ID == "" {
			tc.ID = uuid.New().String()
		}
		if err := tx.Create(tc).Error; err != nil {
			return fmt.Errorf("create test case: %w", err)
		}
		steps, err := replaceSteps(tx, tc.ID, tc.Steps)
		if err != nil {
			return err
		}
		tc.Steps = steps
		return nil
	})
}

// GetTestCase retrieves a test case with steps and tags. Returns nil, nil if
// none exists.
func (s *Store) GetTestCase(ctx context.Context, projectID, id string) (*TestCase, error) {
	tc, err := first[TestCase](s.db.WithContext(ctx).Where("project_id = ? AND id = ?", projectID, id))
	if err != nil {
		return nil, fmt.Errorf("get test case: %w", err)
	}
	if tc == nil {
		return nil, nil
	}
	items := []TestCase{*tc}
	if err := s.hydrateTestCases(ctx, items); err != nil {
		return nil, err
	}
	return &items[0], nil
}

// GetTestCases loads the given test cases of a project with their steps,
// skipping unknown ids. The result follows the order of ids.
func (s *Store) GetTestCases(ctx context.Context, projectID string, ids []string) ([]TestCase, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var found []TestCase
	if err := s.db.WithContext(ctx).Where("project_id = ? AND id IN ?", projectID, ids).Find(&found).Error; err != nil {
		return nil, fmt.Errorf("get test cases: %w", err)
	}
	if err := s.hydrateTestCases(ctx, found); err != nil {
		return nil, err
	}
	byID := make(map[string]TestCase, len(found))
	for _, tc := range found {
		byID[tc.ID] = tc
	}
	out := make([]TestCase, 0, len(found))
	for _, id := range ids {
		if tc, ok := byID[id]; ok {
			out = append(out, tc)
			delete(byID, id)
		}
	}
	return out, nil
}

// ListTestCasesByPRD returns the non-archived test cases directly linked to
// any of the given PRDs.
func (s *Store) ListTestCasesByPRD(ctx context.Context, projectID string, prdIDs []string) ([]TestCase, error) {
	if len(prdIDs) == 0 {
		return nil, nil
	}
	var tcs []TestCase
	if err := s.db.WithContext(ctx).
		Where("project_id = ? AND prd_id IN ? AND status <> ?", projectID, prdIDs, lifecycle.StatusArchived).
		Order("code ASC").Find(&tcs).Error; err != nil {
		return nil, fmt.Errorf("list test cases by prd: %w", err)
	}
	if err := s.hydrateTestCases(ctx, tcs); err != nil {
		return nil, err
	}
	return tcs, nil
}

func (s *Store) hydrateTestCases(ctx context.Context, tcs []TestCase) error {
	if len(tcs) == 0 {
		return nil
	}
	ids := make([]string, len(tcs))
	for i := range tcs {
		ids[i] = tcs[i].ID
	}
	var steps []TestStep
	if err := s.db.WithContext(ctx).Where("test_case_id IN ?", ids).
		Order("step_order ASC").Find(&steps).Error; err != nil {
		return fmt.Errorf("load steps: %w", err)
	}
	byCase := make(map[string][]TestStep, len(tcs))
	for _, st := range steps {
		byCase[st.TestCaseID] = append(byCase[st.TestCaseID], st)
	}
	tags, err := s.tagsFor(ctx, KindTestCase, ids)
	if err != nil {
		return err
	}
	for i := range tcs {
		tcs[i].Steps = byCase[tcs[i].ID]
		if tcs[i].Steps == nil {
			tcs[i].Steps = []TestStep{}
		}
		tcs[i].Tags = tags[tcs[i].ID]
	}
	return nil
}

// UpdateTestCase applies u and returns the updated test case.
func (s *Store) UpdateTestCase(ctx context.Context, projectID, id string, u TestCaseUpdate) (*TestCase, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tc, err := first[TestCase](tx.Where("project_id = ? AND id = ?", projectID, id))
		if err != nil {
			return fmt.Errorf("load test case: %w", err)
		}
		if tc == nil {
			return errs.NotFound("testcase", id)
		}
		prior := *tc
		var priorSteps []TestStep
		if err := tx.Where("test_case_id = ?", id).Order("step_order ASC").Find(&priorSteps).Error; err != nil {
			return fmt.Errorf("load steps: %w", err)
		}

		if u.Title != nil {
			t := strings.TrimSpace(*u.Title)
			if t == "" {
				return errs.InvalidArgument("test case title cannot be empty")
			}
			tc.Title = t
		}
		if u.PRDID != nil {
			tc.PRDID = normalizeRef(u.PRDID)
		}
		if u.ModuleID != nil {
			tc.ModuleID = normalizeRef(u.ModuleID)
		}
		if u.AppVersionID != nil {
			tc.AppVersionID = normalizeRef(u.AppVersionID)
		}
		if u.Precondition != nil {
			tc.Precondition = *u.Precondition
		}
		if u.ExpectedResult != nil {
			tc.ExpectedResult = *u.ExpectedResult
		}
		if u.Priority != nil {
			tc.Priority = *u.Priority
		}
		if u.Type != nil {
			tc.Type = *u.Type
		}
		if u.Author != nil {
			tc.Author = *u.Author
		}
		if err := validateTestCase(tc); err != nil {
			return err
		}
		if err := checkRefs(tx, projectID, tc.ModuleID, tc.AppVersionID, tc.PRDID); err != nil {
			return err
		}

		changed := tc.Title != prior.Title || tc.Precondition != prior.Precondition ||
			tc.ExpectedResult != prior.ExpectedResult || tc.Priority != prior.Priority ||
			tc.Type != prior.Type || u.Steps != nil
		if u.CreateVersion && changed {
			snap := &TestCaseVersion{
				ID:             uuid.New().String(),
				TestCaseID:     prior.ID,
				Version:        prior.Version,
				Title:          prior.Title,
				Precondition:   prior.Precondition,
				ExpectedResult: prior.ExpectedResult,
				Priority:       prior.Priority,
				Type:           prior.Type,
				Steps:          stepsJSON(priorSteps),
				ChangeLog:      u.ChangeLog,
				CreatedBy:      u.UpdatedBy,
			}
			if err := tx.Create(snap).Error; err != nil {
				return fmt.Errorf("snapshot test case version: %w", err)
			}
			tc.Version = prior.Version + 1
		}

		if err := tx.Save(tc).Error; err != nil {
			return fmt.Errorf("update test case: %w", err)
		}
		if u.Steps != nil {
			if _, err := replaceSteps(tx, tc.ID, *u.Steps); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetTestCase(ctx, projectID, id)
}

// RemoveStep deletes the step at order and renumbers the following steps so
// the sequence stays contiguous.
func (s *Store) RemoveStep(ctx context.Context, projectID, id string, order int) (*TestCase, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&TestCase{}).Where("project_id = ? AND id = ?", projectID, id).Count(&n).Error; err != nil {
			return fmt.Errorf("check test case: %w", err)
		}
		if n == 0 {
			return errs.NotFound("testcase", id)
		}
		result := tx.Where("test_case_id = ? AND step_order = ?", id, order).Delete(&TestStep{})
		if result.Error != nil {
			return fmt.Errorf("delete step: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return errs.NotFound("test_step", fmt.Sprintf("%s#%d", id, order))
		}
		if err := tx.Model(&TestStep{}).Where("test_case_id = ? AND step_order > ?", id, order).
			UpdateColumn("step_order", gorm.Expr("step_order - 1")).Error; err != nil {
			return fmt.Errorf("renumber steps: %w", err)
		}
		return tx.Model(&TestCase{}).Where("id = ?", id).UpdateColumn("updated_at", gorm.Expr("CURRENT_TIMESTAMP")).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetTestCase(ctx, projectID, id)
}

// DeleteTestCase removes a test case with its steps, tag links and version
// history.
func (s *Store) DeleteTestCase(ctx context.Context, projectID, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("project_id = ? AND id = ?", projectID, id).Delete(&TestCase{})
		if result.Error != nil {
			return fmt.Errorf("delete test case: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return errs.NotFound("testcase", id)
		}
		if err := tx.Where("test_case_id = ?", id).Delete(&TestStep{}).Error; err != nil {
			return fmt.Errorf("delete steps: %w", err)
		}
		if err := tx.Where("artifact_kind = ? AND artifact_id = ?", KindTestCase, id).Delete(&ArtifactTag{}).Error; err != nil {
			return fmt.Errorf("delete test case tags: %w", err)
		}
		if err := tx.Where("test_case_id = ?", id).Delete(&TestCaseVersion{}).Error; err != nil {
			return fmt.Errorf("delete test case versions: %w", err)
		}
		return nil
	})
}

// ListTestCases returns one page of test cases matching f. Steps are not
// loaded.
func (s *Store) ListTestCases(ctx context.Context, f ListFilter) (*Page[TestCase], error) {
	page, err := list[TestCase](ctx, s, KindTestCase, f)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(page.Items))
	for i := range page.Items {
		ids[i] = page.Items[i].ID
	}
	tags, err := s.tagsFor(ctx, KindTestCase, ids)
	if err != nil {
		return nil, err
	}
	for i := range page.Items {
		page.Items[i].Tags = tags[page.Items[i].ID]
	}
	return page, nil
}

// ListTestCaseVersions returns the stored snapshots followed by the live row.
func (s *Store) ListTestCaseVersions(ctx context.Context, projectID, id string) ([]TestCaseVersion, error) {
	tc, err := s.GetTestCase(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	if tc == nil {
		return nil, errs.NotFound("testcase", id)
	}
	var versions []TestCaseVersion
	if err := s.db.WithContext(ctx).Where("test_case_id = ?", id).Order("version ASC").Find(&versions).Error; err != nil {
		return nil, fmt.Errorf("list test case versions: %w", err)
	}
	return append(versions, currentTestCaseVersion(tc)), nil
}

// GetTestCaseVersion returns a test case at version n.
func (s *Store) GetTestCaseVersion(ctx context.Context, projectID, id string, n int) (*TestCaseVersion, error) {
	tc, err := s.GetTestCase(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	if tc == nil {
		return nil, errs.NotFound("testcase", id)
	}
	if n == tc.Version {
		v := currentTestCaseVersion(tc)
		return &v, nil
	}
	v, err := first[TestCaseVersion](s.db.WithContext(ctx).Where("test_case_id = ? AND version = ?", id, n))
	if err != nil {
		return nil, fmt.Errorf("get test case version: %w", err)
	}
	if v == nil {
		return nil, errs.NotFound("testcase_version", fmt.Sprintf("%s@%d", id, n))
	}
	return v, nil
}

// CompareTestCaseVersions diffs two versions of a test case, steps
// included.
func (s *Store) CompareTestCaseVersions(ctx context.Context, projectID, id string, from, to int) (*VersionDiff, error) {
	if from == to {
		return nil, errs.InvalidArgument("from and to versions must differ")
	}
	a, err := s.GetTestCaseVersion(ctx, projectID, id, from)
	if err != nil {
		return nil, err
	}
	b, err := s.GetTestCaseVersion(ctx, projectID, id, to)
	if err != nil {
		return nil, err
	}
	diff, err := UnifiedDiff(a.text(), b.text(), fmt.Sprintf("v%d", from), fmt.Sprintf("v%d", to))
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

func (v *TestCaseVersion) text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Priority: %s\nType: %s\nPrecondition: %s\n", v.Priority, v.Type, v.Precondition)
	for _, st := range v.Steps {
		fmt.Fprintf(&b, "%v. %v", st["order"], st["description"])
		if exp, _ := st["expected"].(string); exp != "" {
			b.WriteString(" => " + exp)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Expected: %s\n", v.ExpectedResult)
	return b.String()
}

func currentTestCaseVersion(tc *TestCase) TestCaseVersion {
	return TestCaseVersion{
		TestCaseID:     tc.ID,
		Version:        tc.Version,
		Title:          tc.Title,
		Precondition:   tc.Precondition,
		ExpectedResult: tc.ExpectedResult,
		Priority:       tc.Priority,
		Type:           tc.Type,
		Steps:          stepsJSON(tc.Steps),
		CreatedBy:      tc.Author,
		CreatedAt:      tc.UpdatedAt,
		Current:        true,
	}
}

func stepsJSON(steps []TestStep) db.JSONSteps {
	out := make(db.JSONSteps, len(steps))
	for i, st := range steps {
		out[i] = map[string]any{
			"order":       st.StepOrder,
			"description": st.Description,
			"test_data":   st.TestData,
			"expected":    st.Expected,
			"screenshots": []string(st.Screenshots),
		}
	}
	return out
}

// IndexText is the searchable text of a test case.
func (tc *TestCase) IndexText() string {
	var b strings.Builder
	b.WriteString(tc.Title)
	if tc.Precondition != "" {
		b.WriteString("\n\nPrecondition: " + tc.Precondition)
	}
	for _, st := range tc.Steps {
		fmt.Fprintf(&b, "\n%d. %s", st.StepOrder, st.Description)
		if st.Expected != "" {
			b.WriteString(" => " + st.Expected)
		}
	}
	if tc.ExpectedResult != "" {
		b.WriteString("\n\nExpected: " + tc.ExpectedResult)
	}
	return b.String()
}
