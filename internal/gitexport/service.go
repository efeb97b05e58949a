// Package gitexport mirrors builds into per-organization git repositories.
// Each exported build becomes a branch carrying one file per instruction
// plus a manifest, which is the contract the git-hosting collaborator
// turns into a pull request.
package gitexport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"bagofwords/api/internal/store"
	"bagofwords/api/internal/util"
)

const instructionsDir = "instructions"

// Manifest is the machine-readable index committed with every export.
type Manifest struct {
	BuildID        string          `json:"buildId"`
	OrganizationID string          `json:"organizationId"`
	BuildNumber    int             `json:"buildNumber"`
	ExportedAt     time.Time       `json:"exportedAt"`
	Instructions   []ManifestEntry `json:"instructions"`
}

type ManifestEntry struct {
	InstructionID string `json:"instructionId"`
	VersionID     string `json:"versionId"`
	VersionNumber int    `json:"versionNumber"`
	ContentHash   string `json:"contentHash"`
}

// ExportResult identifies what a push produced.
type ExportResult struct {
	Branch     string
	CommitHash string
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// ExportBuild writes the build's snapshot onto branch build-N of the
// organization's repo and commits it. Re-exporting the same build rewrites
// the branch tree; identical content commits an empty change rather than
// failing, so a forced re-push always succeeds.
func (s *Service) ExportBuild(organizationID string, build store.Build, contents []store.BuildContent) (ExportResult, error) {
	lock := s.orgLock(organizationID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(organizationID)
	if err != nil {
		return ExportResult{}, err
	}

	branch := util.BuildBranch(build.BuildNumber)
	if err := checkoutBranch(repo, branch); err != nil {
		return ExportResult{}, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return ExportResult{}, fmt.Errorf("open worktree: %w", err)
	}
	root := worktree.Filesystem.Root()

	if err := os.RemoveAll(filepath.Join(root, instructionsDir)); err != nil {
		return ExportResult{}, fmt.Errorf("clear instructions dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, instructionsDir), 0o755); err != nil {
		return ExportResult{}, fmt.Errorf("create instructions dir: %w", err)
	}

	manifest := Manifest{
		BuildID:        build.ID,
		OrganizationID: organizationID,
		BuildNumber:    build.BuildNumber,
		ExportedAt:     time.Now(),
		Instructions:   make([]ManifestEntry, 0, len(contents)),
	}
	for _, content := range contents {
		path := filepath.Join(root, instructionsDir, content.InstructionID+".md")
		if err := os.WriteFile(path, renderInstruction(content), 0o644); err != nil {
			return ExportResult{}, fmt.Errorf("write instruction %s: %w", content.InstructionID, err)
		}
		manifest.Instructions = append(manifest.Instructions, ManifestEntry{
			InstructionID: content.InstructionID,
			VersionID:     content.VersionID,
			VersionNumber: content.VersionNumber,
			ContentHash:   content.ContentHash,
		})
	}

	payload, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return ExportResult{}, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, "manifest.json"), append(payload, '\n'), 0o644); err != nil {
		return ExportResult{}, fmt.Errorf("write manifest: %w", err)
	}

	if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return ExportResult{}, fmt.Errorf("git add snapshot: %w", err)
	}

	hash, err := worktree.Commit(fmt.Sprintf("Export build %d", build.BuildNumber), &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            signature(),
	})
	if err != nil {
		return ExportResult{}, fmt.Errorf("commit snapshot: %w", err)
	}

	return ExportResult{Branch: branch, CommitHash: hash.String()}, nil
}

// History lists commits on a build branch, newest first.
func (s *Service) History(organizationID, branch string, limit int) ([]string, error) {
	lock := s.orgLock(organizationID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(organizationID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", branch, err)
	}
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	messages := make([]string, 0, limit)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		messages = append(messages, commitObj.Message)
		if limit > 0 && len(messages) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return messages, nil
}

func (s *Service) ensureRepo(organizationID string) (*git.Repository, error) {
	path := s.repoPath(organizationID)
	if _, err := os.Stat(path); err == nil {
		repo, err := git.PlainOpen(path)
		if err != nil {
			return nil, fmt.Errorf("open repo: %w", err)
		}
		return repo, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	readme := fmt.Sprintf("# Instruction snapshots for %s\n\nEach build-N branch holds one exported build.\n", organizationID)
	if err := os.WriteFile(filepath.Join(path, "README.md"), []byte(readme), 0o644); err != nil {
		return nil, fmt.Errorf("write baseline readme: %w", err)
	}
	if _, err := worktree.Add("README.md"); err != nil {
		return nil, fmt.Errorf("git add baseline: %w", err)
	}
	hash, err := worktree.Commit("Initialize snapshot repo", &git.CommitOptions{Author: signature()})
	if err != nil {
		return nil, fmt.Errorf("commit baseline: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return nil, fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(organizationID string) string {
	return filepath.Join(s.baseDir, organizationID)
}

func (s *Service) orgLock(organizationID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[organizationID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[organizationID] = lock
	return lock
}

func checkoutBranch(repo *git.Repository, branchName string) error {
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	branchRef := plumbing.NewBranchReferenceName(branchName)
	if _, err := repo.Reference(branchRef, true); err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Create: true}); err != nil {
				return fmt.Errorf("create branch checkout %s: %w", branchName, err)
			}
			return nil
		}
		return fmt.Errorf("resolve branch %s: %w", branchName, err)
	}

	if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: true}); err != nil {
		return fmt.Errorf("checkout branch %s: %w", branchName, err)
	}
	return nil
}

func renderInstruction(content store.BuildContent) []byte {
	header := fmt.Sprintf("# %s\n\ncategory: %s\nstatus: %s\nload_mode: %s\nversion: %d\n\n",
		content.Title, content.Category, content.Status, content.LoadMode, content.VersionNumber)
	return []byte(header + content.Text + "\n")
}

func signature() *object.Signature {
	return &object.Signature{
		Name:  "bagofwords",
		Email: "builds@bagofwords.dev",
		When:  time.Now(),
	}
}
