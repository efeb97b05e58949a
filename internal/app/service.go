package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"bagofwords/api/internal/cache"
	"bagofwords/api/internal/config"
	"bagofwords/api/internal/diff"
	"bagofwords/api/internal/evalrun"
	"bagofwords/api/internal/export"
	"bagofwords/api/internal/gitexport"
	"bagofwords/api/internal/search"
	"bagofwords/api/internal/store"
)

// Pagination bounds for list endpoints. Pages are 1-based.
const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type UpsertInstructionInput struct {
	Text       string `json:"text"`
	Title      string `json:"title"`
	Category   string `json:"category"`
	Status     string `json:"status"`
	LoadMode   string `json:"loadMode"`
	SourceType string `json:"sourceType"`
}

type PushInput struct {
	Force bool `json:"force"`
}

type TriggerEvalInput struct {
	SuiteID string `json:"suiteId"`
}

var allowedStatuses = map[string]struct{}{
	store.StatusDraft:     {},
	store.StatusPublished: {},
	store.StatusArchived:  {},
}

var allowedLoadModes = map[string]struct{}{
	store.LoadAlways:      {},
	store.LoadIntelligent: {},
	store.LoadDisabled:    {},
}

var allowedSourceTypes = map[string]struct{}{
	store.SourceUser: {},
	store.SourceAI:   {},
	store.SourceGit:  {},
}

type dataStore interface {
	Ping(context.Context) error
	GetInstruction(context.Context, string) (store.Instruction, error)
	ListInstructions(context.Context, string) ([]store.Instruction, error)
	CreateInstruction(context.Context, string, store.UpsertFields) (store.Instruction, error)
	AppendVersion(context.Context, string, store.UpsertFields) (store.Instruction, error)
	SoftDeleteInstruction(context.Context, string) (bool, error)
	ListVersions(context.Context, string) ([]store.InstructionVersion, error)
	CreateBuild(context.Context, string) (store.Build, error)
	Rollback(context.Context, string) (store.Build, error)
	GetBuild(context.Context, string) (store.Build, error)
	GetBuildByNumber(context.Context, string, int) (store.Build, error)
	GetMainBuild(context.Context, string) (store.Build, error)
	GetBuildByEvalRun(context.Context, string) (store.Build, error)
	ListBuilds(context.Context, string, int, int) ([]store.Build, int, error)
	ListBuildContents(context.Context, string, int, int) ([]store.BuildContent, int, error)
	AllBuildContents(context.Context, string) ([]store.BuildContent, error)
	ApproveBuild(context.Context, string) (bool, error)
	SetBuildGitInfo(context.Context, string, string, string, time.Time) error
	SetBuildEval(context.Context, string, string, string, int, int) error
}

type gitExporter interface {
	ExportBuild(organizationID string, build store.Build, contents []store.BuildContent) (gitexport.ExportResult, error)
}

type evalRunner interface {
	Trigger(ctx context.Context, buildID, suiteID string) (string, error)
	Poll(ctx context.Context, runID string) (evalrun.RunStatus, error)
}

type buildArchiver interface {
	UploadBuildArchive(ctx context.Context, build store.Build, contents []store.BuildContent) (string, error)
}

// Service implements the engine's operations on top of the store and the
// external collaborators. Collaborator fields may be nil when the matching
// backend is not configured; the operations that need them fail cleanly.
type Service struct {
	cfg      config.Config
	store    dataStore
	git      gitExporter
	eval     evalRunner
	search   *search.Service
	cache    *cache.DiffCache
	archiver buildArchiver
	reports  *export.Service
}

func NewService(cfg config.Config, dataStore dataStore) *Service {
	return &Service{
		cfg:     cfg,
		store:   dataStore,
		reports: export.NewService(),
	}
}

func (s *Service) WithGit(git gitExporter) *Service {
	s.git = git
	return s
}

func (s *Service) WithEvalRunner(eval evalRunner) *Service {
	s.eval = eval
	return s
}

func (s *Service) WithSearch(svc *search.Service) *Service {
	s.search = svc
	return s
}

func (s *Service) WithDiffCache(c *cache.DiffCache) *Service {
	s.cache = c
	return s
}

func (s *Service) WithArchiver(a buildArchiver) *Service {
	s.archiver = a
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SyncToken() string {
	return s.cfg.SyncToken
}

// --- Instructions ---

func (s *Service) GetInstruction(ctx context.Context, instructionID string) (store.Instruction, error) {
	item, err := s.store.GetInstruction(ctx, instructionID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Instruction{}, notFoundError("instruction not found")
	}
	if err != nil {
		return store.Instruction{}, fmt.Errorf("get instruction: %w", err)
	}
	return item, nil
}

func (s *Service) ListInstructions(ctx context.Context, organizationID string) ([]store.Instruction, error) {
	if organizationID == "" {
		return nil, validationError("organizationId is required")
	}
	return s.store.ListInstructions(ctx, organizationID)
}

// CreateInstruction records a new instruction with version 1.
func (s *Service) CreateInstruction(ctx context.Context, organizationID string, input UpsertInstructionInput) (store.Instruction, error) {
	if organizationID == "" {
		return store.Instruction{}, validationError("organizationId is required")
	}
	fields, err := normalizeFields(input)
	if err != nil {
		return store.Instruction{}, err
	}
	item, err := s.store.CreateInstruction(ctx, organizationID, fields)
	if err != nil {
		return store.Instruction{}, fmt.Errorf("create instruction: %w", err)
	}
	s.indexInstruction(item)
	return item, nil
}

// UpdateInstruction appends a new version when the content actually changed.
// Submitting identical content is a no-op that returns the current state.
func (s *Service) UpdateInstruction(ctx context.Context, instructionID string, input UpsertInstructionInput) (store.Instruction, error) {
	existing, err := s.GetInstruction(ctx, instructionID)
	if err != nil {
		return store.Instruction{}, err
	}
	if existing.DeletedAt != nil {
		return store.Instruction{}, invalidStateError("instruction is deleted")
	}

	fields, err := normalizeFields(input)
	if err != nil {
		return store.Instruction{}, err
	}
	if store.ContentHash(fields) == existing.ContentHash {
		return existing, nil
	}

	item, err := s.store.AppendVersion(ctx, instructionID, fields)
	if err != nil {
		return store.Instruction{}, fmt.Errorf("update instruction: %w", err)
	}
	s.indexInstruction(item)
	return item, nil
}

func (s *Service) DeleteInstruction(ctx context.Context, instructionID string) error {
	deleted, err := s.store.SoftDeleteInstruction(ctx, instructionID)
	if err != nil {
		return fmt.Errorf("delete instruction: %w", err)
	}
	if !deleted {
		return notFoundError("instruction not found")
	}
	if s.search != nil {
		s.search.DeleteInstruction(instructionID)
	}
	return nil
}

func (s *Service) ListVersions(ctx context.Context, instructionID string) ([]store.InstructionVersion, error) {
	if _, err := s.GetInstruction(ctx, instructionID); err != nil {
		return nil, err
	}
	return s.store.ListVersions(ctx, instructionID)
}

func normalizeFields(input UpsertInstructionInput) (store.UpsertFields, error) {
	fields := store.UpsertFields{
		Text:       input.Text,
		Title:      strings.TrimSpace(input.Title),
		Category:   strings.TrimSpace(input.Category),
		Status:     strings.ToLower(strings.TrimSpace(input.Status)),
		LoadMode:   strings.ToLower(strings.TrimSpace(input.LoadMode)),
		SourceType: strings.ToLower(strings.TrimSpace(input.SourceType)),
	}
	if strings.TrimSpace(fields.Text) == "" {
		return store.UpsertFields{}, validationError("text is required")
	}
	if fields.Status == "" {
		fields.Status = store.StatusDraft
	}
	if _, ok := allowedStatuses[fields.Status]; !ok {
		return store.UpsertFields{}, validationError("invalid status: " + fields.Status)
	}
	if fields.LoadMode == "" {
		fields.LoadMode = store.LoadAlways
	}
	if _, ok := allowedLoadModes[fields.LoadMode]; !ok {
		return store.UpsertFields{}, validationError("invalid loadMode: " + fields.LoadMode)
	}
	if fields.SourceType == "" {
		fields.SourceType = store.SourceUser
	}
	if _, ok := allowedSourceTypes[fields.SourceType]; !ok {
		return store.UpsertFields{}, validationError("invalid sourceType: " + fields.SourceType)
	}
	return fields, nil
}

func (s *Service) indexInstruction(item store.Instruction) {
	if s.search == nil {
		return
	}
	s.search.IndexInstruction(search.InstructionRecord{
		ID:             item.ID,
		OrganizationID: item.OrganizationID,
		Title:          item.Title,
		Text:           item.Text,
		Category:       item.Category,
		Status:         item.Status,
	})
}

// --- Builds ---

// CreateBuild snapshots the organization's live instructions into a new
// numbered build. Contention on the per-organization lock surfaces as a
// retryable conflict; the caller can simply re-submit.
func (s *Service) CreateBuild(ctx context.Context, organizationID string) (store.Build, error) {
	if organizationID == "" {
		return store.Build{}, validationError("organizationId is required")
	}
	item, err := s.store.CreateBuild(ctx, organizationID)
	if errors.Is(err, store.ErrSerialization) {
		return store.Build{}, conflictError("concurrent build creation, retry")
	}
	if err != nil {
		return store.Build{}, fmt.Errorf("create build: %w", err)
	}
	return item, nil
}

func (s *Service) GetBuild(ctx context.Context, buildID string) (store.Build, error) {
	item, err := s.store.GetBuild(ctx, buildID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Build{}, notFoundError("build not found")
	}
	if err != nil {
		return store.Build{}, fmt.Errorf("get build: %w", err)
	}
	return item, nil
}

func (s *Service) GetMainBuild(ctx context.Context, organizationID string) (store.Build, error) {
	item, err := s.store.GetMainBuild(ctx, organizationID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Build{}, notFoundError("no main build for organization")
	}
	if err != nil {
		return store.Build{}, fmt.Errorf("get main build: %w", err)
	}
	return item, nil
}

func (s *Service) ListBuilds(ctx context.Context, organizationID string, page, pageSize int) ([]store.Build, int, int, int, error) {
	if organizationID == "" {
		return nil, 0, 0, 0, validationError("organizationId is required")
	}
	page, pageSize = clampPage(page, pageSize)
	items, total, err := s.store.ListBuilds(ctx, organizationID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, 0, 0, fmt.Errorf("list builds: %w", err)
	}
	return items, total, page, pageSize, nil
}

func (s *Service) GetBuildContents(ctx context.Context, buildID string, page, pageSize int) ([]store.BuildContent, int, int, int, error) {
	if _, err := s.GetBuild(ctx, buildID); err != nil {
		return nil, 0, 0, 0, err
	}
	page, pageSize = clampPage(page, pageSize)
	items, total, err := s.store.ListBuildContents(ctx, buildID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, 0, 0, fmt.Errorf("list build contents: %w", err)
	}
	return items, total, page, pageSize, nil
}

func (s *Service) ApproveBuild(ctx context.Context, buildID string) (store.Build, error) {
	if _, err := s.GetBuild(ctx, buildID); err != nil {
		return store.Build{}, err
	}
	approved, err := s.store.ApproveBuild(ctx, buildID)
	if err != nil {
		return store.Build{}, fmt.Errorf("approve build: %w", err)
	}
	if !approved {
		return store.Build{}, invalidStateError("build is not in draft status")
	}
	return s.GetBuild(ctx, buildID)
}

// RollbackBuild restores a previous approved build by creating a new
// forward build with the target's exact contents.
func (s *Service) RollbackBuild(ctx context.Context, targetBuildID string) (store.Build, error) {
	item, err := s.store.Rollback(ctx, targetBuildID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return store.Build{}, notFoundError("build not found")
	case errors.Is(err, store.ErrBuildAlreadyMain):
		return store.Build{}, invalidStateError("build is already the main build")
	case errors.Is(err, store.ErrBuildNotApproved):
		return store.Build{}, invalidStateError("rollback target must be approved")
	case errors.Is(err, store.ErrSerialization):
		return store.Build{}, conflictError("concurrent build creation, retry")
	case err != nil:
		return store.Build{}, fmt.Errorf("rollback build: %w", err)
	}
	return item, nil
}

// --- Diff ---

// DiffBuilds computes the structural diff between two builds of the same
// organization. Results are memoized because builds are immutable.
func (s *Service) DiffBuilds(ctx context.Context, fromBuildID, toBuildID string) (diff.Result, error) {
	from, err := s.GetBuild(ctx, fromBuildID)
	if err != nil {
		return diff.Result{}, err
	}
	to, err := s.GetBuild(ctx, toBuildID)
	if err != nil {
		return diff.Result{}, err
	}
	if from.OrganizationID != to.OrganizationID {
		return diff.Result{}, invalidStateError("builds belong to different organizations")
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, fromBuildID, toBuildID)
		if err != nil {
			log.Printf("diff cache read failed: %v", err)
		} else if cached != nil {
			return *cached, nil
		}
	}

	older, err := s.store.AllBuildContents(ctx, fromBuildID)
	if err != nil {
		return diff.Result{}, fmt.Errorf("load from-build contents: %w", err)
	}
	newer, err := s.store.AllBuildContents(ctx, toBuildID)
	if err != nil {
		return diff.Result{}, fmt.Errorf("load to-build contents: %w", err)
	}

	result := diff.Compute(older, newer)
	if s.cache != nil {
		if err := s.cache.Set(ctx, fromBuildID, toBuildID, result); err != nil {
			log.Printf("diff cache write failed: %v", err)
		}
	}
	return result, nil
}

// --- Git export ---

// PushBuildToGit exports the build snapshot onto its build-N branch. A
// build that has already been pushed is not re-exported unless forced.
func (s *Service) PushBuildToGit(ctx context.Context, buildID string, force bool) (store.Build, error) {
	build, err := s.GetBuild(ctx, buildID)
	if err != nil {
		return store.Build{}, err
	}
	if build.Status != store.BuildApproved {
		return store.Build{}, invalidStateError("only approved builds can be pushed")
	}
	if build.GitPushedAt != nil && !force {
		return build, nil
	}
	if s.git == nil {
		return store.Build{}, dependencyError("git export not configured", nil)
	}

	contents, err := s.store.AllBuildContents(ctx, buildID)
	if err != nil {
		return store.Build{}, fmt.Errorf("load build contents: %w", err)
	}

	result, err := s.git.ExportBuild(build.OrganizationID, build, contents)
	if err != nil {
		return store.Build{}, dependencyError("git export failed", err.Error())
	}

	prURL := ""
	if s.cfg.GitWebBase != "" {
		prURL = fmt.Sprintf("%s/%s/compare/main...%s",
			strings.TrimRight(s.cfg.GitWebBase, "/"), build.OrganizationID, result.Branch)
	}
	if err := s.store.SetBuildGitInfo(ctx, buildID, result.Branch, prURL, time.Now()); err != nil {
		return store.Build{}, fmt.Errorf("record git push: %w", err)
	}
	return s.GetBuild(ctx, buildID)
}

// --- Eval runner ---

// TriggerEval starts an evaluation run for a build. The run executes in
// the external runner; a failed trigger never changes build state.
func (s *Service) TriggerEval(ctx context.Context, buildID, suiteID string) (store.Build, error) {
	if s.eval == nil {
		return store.Build{}, dependencyError("eval runner not configured", nil)
	}
	build, err := s.GetBuild(ctx, buildID)
	if err != nil {
		return store.Build{}, err
	}

	runID, err := s.eval.Trigger(ctx, buildID, suiteID)
	if err != nil {
		return store.Build{}, dependencyError("eval trigger failed", err.Error())
	}
	if err := s.store.SetBuildEval(ctx, build.ID, runID, "running", 0, 0); err != nil {
		return store.Build{}, fmt.Errorf("record eval run: %w", err)
	}
	return s.GetBuild(ctx, buildID)
}

// PollEval fetches run status from the runner and opportunistically
// persists it on the linked build. Persistence failure does not fail the
// poll; the next poll will try again.
func (s *Service) PollEval(ctx context.Context, runID string) (evalrun.RunStatus, error) {
	if s.eval == nil {
		return evalrun.RunStatus{}, dependencyError("eval runner not configured", nil)
	}
	status, err := s.eval.Poll(ctx, runID)
	if err != nil {
		return evalrun.RunStatus{}, dependencyError("eval poll failed", err.Error())
	}

	build, err := s.store.GetBuildByEvalRun(ctx, runID)
	if err == nil {
		if err := s.store.SetBuildEval(ctx, build.ID, runID, status.Status, status.Passed, status.Failed); err != nil {
			log.Printf("persist eval status for build %s: %v", build.ID, err)
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		log.Printf("find build for eval run %s: %v", runID, err)
	}
	return status, nil
}

// --- Archive ---

// ArchiveBuild uploads the build snapshot to object storage and returns
// the object key.
func (s *Service) ArchiveBuild(ctx context.Context, buildID string) (string, error) {
	if s.archiver == nil {
		return "", dependencyError("archive storage not configured", nil)
	}
	build, err := s.GetBuild(ctx, buildID)
	if err != nil {
		return "", err
	}
	contents, err := s.store.AllBuildContents(ctx, buildID)
	if err != nil {
		return "", fmt.Errorf("load build contents: %w", err)
	}
	key, err := s.archiver.UploadBuildArchive(ctx, build, contents)
	if err != nil {
		return "", dependencyError("archive upload failed", err.Error())
	}
	return key, nil
}

// --- Reports ---

// BuildReport renders the build's change report against its predecessor.
func (s *Service) BuildReport(ctx context.Context, buildID string, format export.Format) (*export.Result, error) {
	build, err := s.GetBuild(ctx, buildID)
	if err != nil {
		return nil, err
	}
	contents, err := s.store.AllBuildContents(ctx, buildID)
	if err != nil {
		return nil, fmt.Errorf("load build contents: %w", err)
	}

	var older []store.BuildContent
	fromNumber := 0
	if build.BuildNumber > 1 {
		prev, err := s.store.GetBuildByNumber(ctx, build.OrganizationID, build.BuildNumber-1)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("load previous build: %w", err)
		}
		if err == nil {
			fromNumber = prev.BuildNumber
			older, err = s.store.AllBuildContents(ctx, prev.ID)
			if err != nil {
				return nil, fmt.Errorf("load previous build contents: %w", err)
			}
		}
	}

	result, err := s.reports.Report(export.Request{
		Build:      build,
		FromNumber: fromNumber,
		Diff:       diff.Compute(older, contents),
		Contents:   contents,
		Format:     format,
	})
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return nil, dependencyError("pdf rendering unavailable", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("render build report: %w", err)
	}
	return result, nil
}

// --- Search ---

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

func clampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}
