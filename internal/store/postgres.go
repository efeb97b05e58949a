package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"bagofwords/api/internal/util"
)

// Sentinel errors surfaced to the service layer for state-machine and
// contention failures.
var (
	ErrBuildAlreadyMain = errors.New("build is already main")
	ErrBuildNotApproved = errors.New("build is not approved")
	ErrSerialization    = errors.New("concurrent build creation, retry")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const instructionColumns = `id, organization_id, text, title, category, status, load_mode, source_type, current_version, content_hash, deleted_at, created_at, updated_at`

func scanInstruction(row interface{ Scan(...any) error }) (Instruction, error) {
	var item Instruction
	err := row.Scan(
		&item.ID,
		&item.OrganizationID,
		&item.Text,
		&item.Title,
		&item.Category,
		&item.Status,
		&item.LoadMode,
		&item.SourceType,
		&item.CurrentVersion,
		&item.ContentHash,
		&item.DeletedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) GetInstruction(ctx context.Context, instructionID string) (Instruction, error) {
	item, err := scanInstruction(s.db.QueryRowContext(ctx, `
		SELECT `+instructionColumns+`
		FROM instructions
		WHERE id=$1
	`, instructionID))
	if err != nil {
		return Instruction{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListInstructions(ctx context.Context, organizationID string) ([]Instruction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+instructionColumns+`
		FROM instructions
		WHERE organization_id=$1 AND deleted_at IS NULL
		ORDER BY updated_at DESC
	`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list instructions: %w", err)
	}
	defer rows.Close()

	items := make([]Instruction, 0)
	for rows.Next() {
		item, err := scanInstruction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instruction: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instructions: %w", err)
	}
	return items, nil
}

// CreateInstruction inserts a new instruction together with its first
// version in one transaction.
func (s *PostgresStore) CreateInstruction(ctx context.Context, organizationID string, fields UpsertFields) (Instruction, error) {
	hash := ContentHash(fields)
	instructionID := util.NewID("ins")
	versionID := util.NewID("ver")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Instruction{}, fmt.Errorf("begin create instruction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO instructions (id, organization_id, text, title, category, status, load_mode, source_type, current_version, content_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9)
	`, instructionID, organizationID, fields.Text, fields.Title, fields.Category, fields.Status, fields.LoadMode, fields.SourceType, hash); err != nil {
		return Instruction{}, fmt.Errorf("insert instruction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO instruction_versions (id, instruction_id, version_number, text, title, category, status, load_mode, content_hash)
		VALUES ($1, $2, 1, $3, $4, $5, $6, $7, $8)
	`, versionID, instructionID, fields.Text, fields.Title, fields.Category, fields.Status, fields.LoadMode, hash); err != nil {
		return Instruction{}, fmt.Errorf("insert first version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Instruction{}, fmt.Errorf("commit create instruction: %w", err)
	}
	return s.GetInstruction(ctx, instructionID)
}

// AppendVersion adds a new version for an existing instruction and updates
// the instruction's denormalized current fields. The instruction row is
// locked so concurrent edits cannot allocate the same version number.
// Callers are expected to have checked the content hash first; the check
// is repeated under the lock so a lost race still stays a no-op.
func (s *PostgresStore) AppendVersion(ctx context.Context, instructionID string, fields UpsertFields) (Instruction, error) {
	hash := ContentHash(fields)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Instruction{}, fmt.Errorf("begin append version: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanInstruction(tx.QueryRowContext(ctx, `
		SELECT `+instructionColumns+`
		FROM instructions
		WHERE id=$1
		FOR UPDATE
	`, instructionID))
	if err != nil {
		return Instruction{}, err
	}

	if current.ContentHash == hash {
		return current, tx.Commit()
	}

	// Rollback can move current_version backwards onto an old version, so
	// the next number comes from the version history itself, never from
	// the restored pointer. The row lock above serializes allocation.
	var nextVersion int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version_number), 0) + 1
		FROM instruction_versions
		WHERE instruction_id=$1
	`, instructionID).Scan(&nextVersion); err != nil {
		return Instruction{}, fmt.Errorf("allocate version number: %w", err)
	}

	versionID := util.NewID("ver")
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO instruction_versions (id, instruction_id, version_number, text, title, category, status, load_mode, content_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, versionID, instructionID, nextVersion, fields.Text, fields.Title, fields.Category, fields.Status, fields.LoadMode, hash); err != nil {
		return Instruction{}, fmt.Errorf("insert version: %w", err)
	}

	sourceType := fields.SourceType
	if sourceType == "" {
		sourceType = current.SourceType
	}
	item, err := scanInstruction(tx.QueryRowContext(ctx, `
		UPDATE instructions
		SET text=$2, title=$3, category=$4, status=$5, load_mode=$6, source_type=$7, current_version=$8, content_hash=$9, updated_at=NOW()
		WHERE id=$1
		RETURNING `+instructionColumns+`
	`, instructionID, fields.Text, fields.Title, fields.Category, fields.Status, fields.LoadMode, sourceType, nextVersion, hash))
	if err != nil {
		return Instruction{}, fmt.Errorf("update instruction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Instruction{}, fmt.Errorf("commit append version: %w", err)
	}
	return item, nil
}

// SoftDeleteInstruction removes an instruction from future snapshots. Its
// versions stay addressable from historical builds.
func (s *PostgresStore) SoftDeleteInstruction(ctx context.Context, instructionID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE instructions
		SET deleted_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND deleted_at IS NULL
	`, instructionID)
	if err != nil {
		return false, fmt.Errorf("soft delete instruction: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("soft delete instruction rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, instructionID string) ([]InstructionVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, instruction_id, version_number, text, title, category, status, load_mode, content_hash, created_at
		FROM instruction_versions
		WHERE instruction_id=$1
		ORDER BY version_number DESC
	`, instructionID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]InstructionVersion, 0)
	for rows.Next() {
		var item InstructionVersion
		if err := rows.Scan(
			&item.ID,
			&item.InstructionID,
			&item.VersionNumber,
			&item.Text,
			&item.Title,
			&item.Category,
			&item.Status,
			&item.LoadMode,
			&item.ContentHash,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

const buildColumns = `id, organization_id, build_number, is_main, status, added_count, modified_count, removed_count, git_branch, git_pr_url, git_pushed_at, eval_run_id, eval_status, eval_passed, eval_failed, created_at`

func scanBuild(row interface{ Scan(...any) error }) (Build, error) {
	var item Build
	err := row.Scan(
		&item.ID,
		&item.OrganizationID,
		&item.BuildNumber,
		&item.IsMain,
		&item.Status,
		&item.AddedCount,
		&item.ModifiedCount,
		&item.RemovedCount,
		&item.GitBranch,
		&item.GitPRURL,
		&item.GitPushedAt,
		&item.EvalRunID,
		&item.EvalStatus,
		&item.EvalPassed,
		&item.EvalFailed,
		&item.CreatedAt,
	)
	return item, err
}

// CreateBuild snapshots the live instruction set into a new numbered build.
// The whole operation runs in one transaction serialized per organization
// by an advisory lock: number allocation, membership insertion, counter
// computation against the predecessor, and the main-flag handover all
// commit or fail together.
func (s *PostgresStore) CreateBuild(ctx context.Context, organizationID string) (Build, error) {
	buildID := util.NewID("bld")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Build{}, fmt.Errorf("begin create build: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockOrganization(ctx, tx, organizationID); err != nil {
		return Build{}, err
	}

	var buildNumber int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(build_number), 0) + 1 FROM builds WHERE organization_id=$1
	`, organizationID).Scan(&buildNumber); err != nil {
		return Build{}, fmt.Errorf("allocate build number: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO builds (id, organization_id, build_number, is_main, status)
		VALUES ($1, $2, $3, FALSE, 'draft')
	`, buildID, organizationID, buildNumber); err != nil {
		return Build{}, wrapSerialization("insert build", err)
	}

	// Membership rows copy their fields from the referenced version row,
	// never from the mutable instruction, so denormalized copies cannot
	// drift from what the version actually says.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO build_contents (build_id, instruction_id, version_id, version_number, text, title, category, status, load_mode, content_hash)
		SELECT $1, i.id, v.id, v.version_number, v.text, v.title, v.category, v.status, v.load_mode, v.content_hash
		FROM instructions i
		JOIN instruction_versions v ON v.instruction_id = i.id AND v.version_number = i.current_version
		WHERE i.organization_id=$2 AND i.deleted_at IS NULL
	`, buildID, organizationID); err != nil {
		return Build{}, fmt.Errorf("insert build contents: %w", err)
	}

	if err := storeCounters(ctx, tx, organizationID, buildID, buildNumber-1); err != nil {
		return Build{}, err
	}

	if err := makeMain(ctx, tx, organizationID, buildID); err != nil {
		return Build{}, err
	}

	item, err := scanBuild(tx.QueryRowContext(ctx, `
		SELECT `+buildColumns+` FROM builds WHERE id=$1
	`, buildID))
	if err != nil {
		return Build{}, fmt.Errorf("read new build: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Build{}, wrapSerialization("commit create build", err)
	}
	return item, nil
}

// Rollback materializes a new forward-dated build whose membership is
// copied verbatim from the target, then resynchronizes live instructions
// to the restored versions so current state and the main build agree.
func (s *PostgresStore) Rollback(ctx context.Context, targetBuildID string) (Build, error) {
	buildID := util.NewID("bld")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Build{}, fmt.Errorf("begin rollback: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	target, err := scanBuild(tx.QueryRowContext(ctx, `
		SELECT `+buildColumns+` FROM builds WHERE id=$1
	`, targetBuildID))
	if err != nil {
		return Build{}, err
	}
	if target.IsMain {
		return Build{}, ErrBuildAlreadyMain
	}
	if target.Status != BuildApproved {
		return Build{}, ErrBuildNotApproved
	}

	if err := lockOrganization(ctx, tx, target.OrganizationID); err != nil {
		return Build{}, err
	}

	var buildNumber int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(build_number), 0) + 1 FROM builds WHERE organization_id=$1
	`, target.OrganizationID).Scan(&buildNumber); err != nil {
		return Build{}, fmt.Errorf("allocate build number: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO builds (id, organization_id, build_number, is_main, status)
		VALUES ($1, $2, $3, FALSE, 'approved')
	`, buildID, target.OrganizationID, buildNumber); err != nil {
		return Build{}, wrapSerialization("insert rollback build", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO build_contents (build_id, instruction_id, version_id, version_number, text, title, category, status, load_mode, content_hash)
		SELECT $1, instruction_id, version_id, version_number, text, title, category, status, load_mode, content_hash
		FROM build_contents
		WHERE build_id=$2
	`, buildID, targetBuildID); err != nil {
		return Build{}, fmt.Errorf("copy build contents: %w", err)
	}

	// Resync live instructions to the restored versions and soft-delete
	// the ones that are not members of the target snapshot.
	if _, err := tx.ExecContext(ctx, `
		UPDATE instructions i
		SET text=c.text, title=c.title, category=c.category, status=c.status,
		    load_mode=c.load_mode, current_version=c.version_number,
		    content_hash=c.content_hash, deleted_at=NULL, updated_at=NOW()
		FROM build_contents c
		WHERE c.build_id=$1 AND c.instruction_id=i.id
	`, targetBuildID); err != nil {
		return Build{}, fmt.Errorf("resync instructions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE instructions
		SET deleted_at=NOW(), updated_at=NOW()
		WHERE organization_id=$1 AND deleted_at IS NULL
		  AND id NOT IN (SELECT instruction_id FROM build_contents WHERE build_id=$2)
	`, target.OrganizationID, targetBuildID); err != nil {
		return Build{}, fmt.Errorf("retire instructions: %w", err)
	}

	if err := storeCounters(ctx, tx, target.OrganizationID, buildID, buildNumber-1); err != nil {
		return Build{}, err
	}

	if err := makeMain(ctx, tx, target.OrganizationID, buildID); err != nil {
		return Build{}, err
	}

	item, err := scanBuild(tx.QueryRowContext(ctx, `
		SELECT `+buildColumns+` FROM builds WHERE id=$1
	`, buildID))
	if err != nil {
		return Build{}, fmt.Errorf("read rollback build: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Build{}, wrapSerialization("commit rollback", err)
	}
	return item, nil
}

// lockOrganization serializes build creation per organization. Lost lock
// waits surface as ErrSerialization so callers can retry.
func lockOrganization(ctx context.Context, tx *sql.Tx, organizationID string) error {
	if _, err := tx.ExecContext(ctx, `SET LOCAL lock_timeout = '5s'`); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, organizationID); err != nil {
		return wrapSerialization("acquire org lock", err)
	}
	return nil
}

// storeCounters computes added/modified/removed relative to the build
// numbered prevNumber (0 means no predecessor) and persists them on the
// new build row, all inside the enclosing transaction.
func storeCounters(ctx context.Context, tx *sql.Tx, organizationID, buildID string, prevNumber int) error {
	var prevBuildID string
	if prevNumber > 0 {
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM builds WHERE organization_id=$1 AND build_number=$2
		`, organizationID, prevNumber).Scan(&prevBuildID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("find previous build: %w", err)
		}
	}

	if prevBuildID == "" {
		_, err := tx.ExecContext(ctx, `
			UPDATE builds
			SET added_count=(SELECT COUNT(*) FROM build_contents WHERE build_id=$1)
			WHERE id=$1
		`, buildID)
		if err != nil {
			return fmt.Errorf("store first-build counters: %w", err)
		}
		return nil
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE builds SET
			added_count = (
				SELECT COUNT(*) FROM build_contents n
				WHERE n.build_id=$1
				  AND NOT EXISTS (SELECT 1 FROM build_contents p WHERE p.build_id=$2 AND p.instruction_id=n.instruction_id)
			),
			removed_count = (
				SELECT COUNT(*) FROM build_contents p
				WHERE p.build_id=$2
				  AND NOT EXISTS (SELECT 1 FROM build_contents n WHERE n.build_id=$1 AND n.instruction_id=p.instruction_id)
			),
			modified_count = (
				SELECT COUNT(*) FROM build_contents n
				JOIN build_contents p ON p.build_id=$2 AND p.instruction_id=n.instruction_id
				WHERE n.build_id=$1 AND n.version_id <> p.version_id
			)
		WHERE id=$1
	`, buildID, prevBuildID)
	if err != nil {
		return fmt.Errorf("store counters: %w", err)
	}
	return nil
}

// makeMain hands the main flag over to buildID. Clear-then-set inside the
// transaction keeps the partial unique index satisfied at commit; there is
// no externally visible window with zero or two main builds.
func makeMain(ctx context.Context, tx *sql.Tx, organizationID, buildID string) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE builds SET is_main=FALSE WHERE organization_id=$1 AND is_main
	`, organizationID); err != nil {
		return fmt.Errorf("clear main build: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE builds SET is_main=TRUE WHERE id=$1
	`, buildID); err != nil {
		return fmt.Errorf("set main build: %w", err)
	}
	return nil
}

func wrapSerialization(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// lock_not_available, serialization_failure, unique_violation on
		// the (org, build_number) key: all mean "lost the race, retry".
		switch pgErr.Code {
		case "55P03", "40001", "23505":
			return fmt.Errorf("%s: %w", op, ErrSerialization)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *PostgresStore) GetBuild(ctx context.Context, buildID string) (Build, error) {
	item, err := scanBuild(s.db.QueryRowContext(ctx, `
		SELECT `+buildColumns+` FROM builds WHERE id=$1
	`, buildID))
	if err != nil {
		return Build{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetBuildByNumber(ctx context.Context, organizationID string, buildNumber int) (Build, error) {
	item, err := scanBuild(s.db.QueryRowContext(ctx, `
		SELECT `+buildColumns+` FROM builds WHERE organization_id=$1 AND build_number=$2
	`, organizationID, buildNumber))
	if err != nil {
		return Build{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetMainBuild(ctx context.Context, organizationID string) (Build, error) {
	item, err := scanBuild(s.db.QueryRowContext(ctx, `
		SELECT `+buildColumns+` FROM builds WHERE organization_id=$1 AND is_main
	`, organizationID))
	if err != nil {
		return Build{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetBuildByEvalRun(ctx context.Context, runID string) (Build, error) {
	item, err := scanBuild(s.db.QueryRowContext(ctx, `
		SELECT `+buildColumns+` FROM builds WHERE eval_run_id=$1
	`, runID))
	if err != nil {
		return Build{}, err
	}
	return item, nil
}

// ListBuilds returns one page of an organization's builds, newest first,
// plus the total count.
func (s *PostgresStore) ListBuilds(ctx context.Context, organizationID string, limit, offset int) ([]Build, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM builds WHERE organization_id=$1
	`, organizationID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count builds: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+buildColumns+`
		FROM builds
		WHERE organization_id=$1
		ORDER BY build_number DESC
		LIMIT $2 OFFSET $3
	`, organizationID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list builds: %w", err)
	}
	defer rows.Close()

	items := make([]Build, 0)
	for rows.Next() {
		item, err := scanBuild(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan build: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate builds: %w", err)
	}
	return items, total, nil
}

const buildContentColumns = `build_id, instruction_id, version_id, version_number, text, title, category, status, load_mode, content_hash`

func scanBuildContent(row interface{ Scan(...any) error }) (BuildContent, error) {
	var item BuildContent
	err := row.Scan(
		&item.BuildID,
		&item.InstructionID,
		&item.VersionID,
		&item.VersionNumber,
		&item.Text,
		&item.Title,
		&item.Category,
		&item.Status,
		&item.LoadMode,
		&item.ContentHash,
	)
	return item, err
}

func (s *PostgresStore) ListBuildContents(ctx context.Context, buildID string, limit, offset int) ([]BuildContent, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM build_contents WHERE build_id=$1
	`, buildID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count build contents: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+buildContentColumns+`
		FROM build_contents
		WHERE build_id=$1
		ORDER BY instruction_id ASC
		LIMIT $2 OFFSET $3
	`, buildID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list build contents: %w", err)
	}
	defer rows.Close()

	items := make([]BuildContent, 0)
	for rows.Next() {
		item, err := scanBuildContent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan build content: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate build contents: %w", err)
	}
	return items, total, nil
}

// AllBuildContents loads a build's full membership, for diffing and export.
func (s *PostgresStore) AllBuildContents(ctx context.Context, buildID string) ([]BuildContent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+buildContentColumns+`
		FROM build_contents
		WHERE build_id=$1
		ORDER BY instruction_id ASC
	`, buildID)
	if err != nil {
		return nil, fmt.Errorf("load build contents: %w", err)
	}
	defer rows.Close()

	items := make([]BuildContent, 0)
	for rows.Next() {
		item, err := scanBuildContent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan build content: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate build contents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ApproveBuild(ctx context.Context, buildID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE builds SET status='approved' WHERE id=$1 AND status='draft'
	`, buildID)
	if err != nil {
		return false, fmt.Errorf("approve build: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("approve build rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) SetBuildGitInfo(ctx context.Context, buildID, branch, prURL string, pushedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE builds SET git_branch=$2, git_pr_url=$3, git_pushed_at=$4 WHERE id=$1
	`, buildID, branch, prURL, pushedAt)
	if err != nil {
		return fmt.Errorf("set build git info: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetBuildEval(ctx context.Context, buildID, runID, status string, passed, failed int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE builds SET eval_run_id=$2, eval_status=$3, eval_passed=$4, eval_failed=$5 WHERE id=$1
	`, buildID, runID, status, passed, failed)
	if err != nil {
		return fmt.Errorf("set build eval: %w", err)
	}
	return nil
}
