package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"bagofwords/api/internal/util"
)

// newTestDB opens the integration database and applies migrations.
// Tests skip when BOW_TEST_DATABASE_URL is not set or in short mode.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("BOW_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("BOW_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	migrationsDir := filepath.Join("..", "..", "db", "migrations")
	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return db
}

func testFields(text string) UpsertFields {
	return UpsertFields{
		Text:       text,
		Title:      "Revenue definition",
		Category:   "metrics",
		Status:     StatusPublished,
		LoadMode:   LoadAlways,
		SourceType: SourceUser,
	}
}

// approvedBuild snapshots the organization and immediately approves the
// new build.
func approvedBuild(t *testing.T, ctx context.Context, s *PostgresStore, organizationID string) Build {
	t.Helper()
	build, err := s.CreateBuild(ctx, organizationID)
	if err != nil {
		t.Fatalf("create build: %v", err)
	}
	if _, err := s.ApproveBuild(ctx, build.ID); err != nil {
		t.Fatalf("approve build: %v", err)
	}
	return build
}

func TestAppendVersionAfterRollbackAllocatesFreshNumber(t *testing.T) {
	db := newTestDB(t)
	s := NewPostgresStore(db)
	ctx := context.Background()
	organizationID := util.NewID("org")

	created, err := s.CreateInstruction(ctx, organizationID, testFields("net revenue, original"))
	if err != nil {
		t.Fatalf("create instruction: %v", err)
	}
	firstBuild := approvedBuild(t, ctx, s, organizationID)

	if _, err := s.AppendVersion(ctx, created.ID, testFields("net revenue, revised")); err != nil {
		t.Fatalf("append version 2: %v", err)
	}
	approvedBuild(t, ctx, s, organizationID)

	// Restore the first snapshot: current_version moves back to 1.
	if _, err := s.Rollback(ctx, firstBuild.ID); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	restored, err := s.GetInstruction(ctx, created.ID)
	if err != nil {
		t.Fatalf("get restored instruction: %v", err)
	}
	if restored.CurrentVersion != 1 {
		t.Fatalf("expected restored current_version 1, got %d", restored.CurrentVersion)
	}

	// The next edit must not collide with the surviving version 2 row.
	edited, err := s.AppendVersion(ctx, created.ID, testFields("net revenue, post-rollback"))
	if err != nil {
		t.Fatalf("append version after rollback: %v", err)
	}
	if edited.CurrentVersion != 3 {
		t.Fatalf("expected version 3 after rollback edit, got %d", edited.CurrentVersion)
	}

	versions, err := s.ListVersions(ctx, created.ID)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(versions))
	}
}

func TestAppendVersionIdenticalContentIsNoOp(t *testing.T) {
	db := newTestDB(t)
	s := NewPostgresStore(db)
	ctx := context.Background()
	organizationID := util.NewID("org")

	created, err := s.CreateInstruction(ctx, organizationID, testFields("exclude test accounts"))
	if err != nil {
		t.Fatalf("create instruction: %v", err)
	}

	again, err := s.AppendVersion(ctx, created.ID, testFields("exclude test accounts"))
	if err != nil {
		t.Fatalf("append identical: %v", err)
	}
	if again.CurrentVersion != 1 {
		t.Fatalf("identical edit must not grow history, got version %d", again.CurrentVersion)
	}
	versions, err := s.ListVersions(ctx, created.ID)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 1 {
		t.Fatalf("expected 1 version, got %d", len(versions))
	}
}

func TestCreateBuildNumbersAreConsecutiveWithOneMain(t *testing.T) {
	db := newTestDB(t)
	s := NewPostgresStore(db)
	ctx := context.Background()
	organizationID := util.NewID("org")

	if _, err := s.CreateInstruction(ctx, organizationID, testFields("always check currency")); err != nil {
		t.Fatalf("create instruction: %v", err)
	}

	const workers = 4
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, errs[slot] = s.CreateBuild(ctx, organizationID)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("concurrent create build %d: %v", i, err)
		}
	}

	builds, total, err := s.ListBuilds(ctx, organizationID, 50, 0)
	if err != nil {
		t.Fatalf("list builds: %v", err)
	}
	if total != workers {
		t.Fatalf("expected %d builds, got %d", workers, total)
	}
	mains := 0
	for i, build := range builds {
		// Newest first, so numbers descend without gaps.
		if want := workers - i; build.BuildNumber != want {
			t.Fatalf("expected build number %d at position %d, got %d", want, i, build.BuildNumber)
		}
		if build.IsMain {
			mains++
		}
	}
	if mains != 1 {
		t.Fatalf("expected exactly one main build, got %d", mains)
	}
}

func TestRollbackRoundTripMatchesTarget(t *testing.T) {
	db := newTestDB(t)
	s := NewPostgresStore(db)
	ctx := context.Background()
	organizationID := util.NewID("org")

	first, err := s.CreateInstruction(ctx, organizationID, testFields("rule one"))
	if err != nil {
		t.Fatalf("create instruction: %v", err)
	}
	target := approvedBuild(t, ctx, s, organizationID)

	if _, err := s.AppendVersion(ctx, first.ID, testFields("rule one, edited")); err != nil {
		t.Fatalf("append version: %v", err)
	}
	if _, err := s.CreateInstruction(ctx, organizationID, testFields("rule two")); err != nil {
		t.Fatalf("create second instruction: %v", err)
	}
	approvedBuild(t, ctx, s, organizationID)

	restoredBuild, err := s.Rollback(ctx, target.ID)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if !restoredBuild.IsMain || restoredBuild.Status != BuildApproved {
		t.Fatalf("rollback build must be approved main: %+v", restoredBuild)
	}

	targetContents, err := s.AllBuildContents(ctx, target.ID)
	if err != nil {
		t.Fatalf("target contents: %v", err)
	}
	restoredContents, err := s.AllBuildContents(ctx, restoredBuild.ID)
	if err != nil {
		t.Fatalf("restored contents: %v", err)
	}
	if len(restoredContents) != len(targetContents) {
		t.Fatalf("membership size differs: %d vs %d", len(restoredContents), len(targetContents))
	}
	for i := range targetContents {
		if restoredContents[i].VersionID != targetContents[i].VersionID {
			t.Fatalf("instruction %s pins %s, want %s",
				restoredContents[i].InstructionID, restoredContents[i].VersionID, targetContents[i].VersionID)
		}
	}

	// The instruction dropped by the rollback is soft-deleted again.
	live, err := s.ListInstructions(ctx, organizationID)
	if err != nil {
		t.Fatalf("list instructions: %v", err)
	}
	if len(live) != 1 || live[0].ID != first.ID {
		t.Fatalf("expected only the restored instruction live, got %d", len(live))
	}
}

func TestRollbackStateMachine(t *testing.T) {
	db := newTestDB(t)
	s := NewPostgresStore(db)
	ctx := context.Background()
	organizationID := util.NewID("org")

	if _, err := s.CreateInstruction(ctx, organizationID, testFields("rule")); err != nil {
		t.Fatalf("create instruction: %v", err)
	}
	draft, err := s.CreateBuild(ctx, organizationID)
	if err != nil {
		t.Fatalf("create build: %v", err)
	}

	// Draft and main at once: main wins the rejection order in Rollback.
	if _, err := s.Rollback(ctx, draft.ID); err != ErrBuildAlreadyMain {
		t.Fatalf("expected ErrBuildAlreadyMain, got %v", err)
	}

	if _, err := s.ApproveBuild(ctx, draft.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	second, err := s.CreateBuild(ctx, organizationID)
	if err != nil {
		t.Fatalf("create second build: %v", err)
	}
	// The second build is now main but still draft.
	if _, err := s.Rollback(ctx, second.ID); err != ErrBuildAlreadyMain {
		t.Fatalf("expected ErrBuildAlreadyMain for main target, got %v", err)
	}

	third, err := s.CreateBuild(ctx, organizationID)
	if err != nil {
		t.Fatalf("create third build: %v", err)
	}
	_ = third
	// The second build is no longer main but was never approved.
	if _, err := s.Rollback(ctx, second.ID); err != ErrBuildNotApproved {
		t.Fatalf("expected ErrBuildNotApproved, got %v", err)
	}
}

func TestBuildContentsAreImmuneToLaterEdits(t *testing.T) {
	db := newTestDB(t)
	s := NewPostgresStore(db)
	ctx := context.Background()
	organizationID := util.NewID("org")

	created, err := s.CreateInstruction(ctx, organizationID, testFields("original text"))
	if err != nil {
		t.Fatalf("create instruction: %v", err)
	}
	build := approvedBuild(t, ctx, s, organizationID)

	if _, err := s.AppendVersion(ctx, created.ID, testFields("mutated text")); err != nil {
		t.Fatalf("append version: %v", err)
	}

	contents, err := s.AllBuildContents(ctx, build.ID)
	if err != nil {
		t.Fatalf("load contents: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content row, got %d", len(contents))
	}
	if contents[0].Text != "original text" || contents[0].VersionNumber != 1 {
		t.Fatalf("snapshot mutated by live edit: %+v", contents[0])
	}
}

func TestBuildCountersMatchDiff(t *testing.T) {
	db := newTestDB(t)
	s := NewPostgresStore(db)
	ctx := context.Background()
	organizationID := util.NewID("org")

	kept, err := s.CreateInstruction(ctx, organizationID, testFields("kept"))
	if err != nil {
		t.Fatalf("create kept: %v", err)
	}
	dropped, err := s.CreateInstruction(ctx, organizationID, testFields("dropped"))
	if err != nil {
		t.Fatalf("create dropped: %v", err)
	}
	approvedBuild(t, ctx, s, organizationID)

	// One modified, one removed, one added.
	if _, err := s.AppendVersion(ctx, kept.ID, testFields("kept, edited")); err != nil {
		t.Fatalf("edit kept: %v", err)
	}
	if ok, err := s.SoftDeleteInstruction(ctx, dropped.ID); err != nil || !ok {
		t.Fatalf("soft delete: ok=%v err=%v", ok, err)
	}
	if _, err := s.CreateInstruction(ctx, organizationID, testFields("brand new")); err != nil {
		t.Fatalf("create new: %v", err)
	}

	second, err := s.CreateBuild(ctx, organizationID)
	if err != nil {
		t.Fatalf("create second build: %v", err)
	}
	if second.AddedCount != 1 || second.ModifiedCount != 1 || second.RemovedCount != 1 {
		t.Fatalf("expected counters 1/1/1, got %d/%d/%d",
			second.AddedCount, second.ModifiedCount, second.RemovedCount)
	}
}
