package store

import "time"

// Instruction statuses.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

// Instruction load modes.
const (
	LoadAlways      = "always"
	LoadIntelligent = "intelligent"
	LoadDisabled    = "disabled"
)

// Instruction source types.
const (
	SourceUser = "user"
	SourceAI   = "ai"
	SourceGit  = "git"
)

// Build statuses.
const (
	BuildDraft    = "draft"
	BuildApproved = "approved"
)

// Instruction is the mutable record users and agents edit. Its current
// field values always equal those of its latest version.
type Instruction struct {
	ID             string
	OrganizationID string
	Text           string
	Title          string
	Category       string
	Status         string
	LoadMode       string
	SourceType     string
	CurrentVersion int
	ContentHash    string
	DeletedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// InstructionVersion is immutable point-in-time content for one instruction.
// Versions referenced by any build are never mutated or deleted.
type InstructionVersion struct {
	ID            string
	InstructionID string
	VersionNumber int
	Text          string
	Title         string
	Category      string
	Status        string
	LoadMode      string
	ContentHash   string
	CreatedAt     time.Time
}

// Build is an immutable, organization-scoped snapshot of the live
// instruction set. Only is_main, counters, and the git/eval linkage
// fields are ever updated in place.
type Build struct {
	ID             string
	OrganizationID string
	BuildNumber    int
	IsMain         bool
	Status         string
	AddedCount     int
	ModifiedCount  int
	RemovedCount   int
	GitBranch      string
	GitPRURL       string
	GitPushedAt    *time.Time
	EvalRunID      string
	EvalStatus     string
	EvalPassed     int
	EvalFailed     int
	CreatedAt      time.Time
}

// BuildContent pins one instruction inside one build to the exact version
// that was live at snapshot time. The version fields are denormalized so
// diffing and listing never consult live instruction state.
type BuildContent struct {
	BuildID       string
	InstructionID string
	VersionID     string
	VersionNumber int
	Text          string
	Title         string
	Category      string
	Status        string
	LoadMode      string
	ContentHash   string
}

// UpsertFields carries the editable fields of an instruction.
type UpsertFields struct {
	Text       string
	Title      string
	Category   string
	Status     string
	LoadMode   string
	SourceType string
}
