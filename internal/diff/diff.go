// Package diff computes structural differences between two builds.
// Builds are immutable, so a diff for a given pair never changes.
package diff

import (
	"sort"
	"strings"

	"bagofwords/api/internal/store"
)

// Field names reported in ChangedFields. The set is fixed: adding a
// comparable field means adding it here and to fieldPairs.
const (
	FieldText     = "text"
	FieldTitle    = "title"
	FieldCategory = "category"
	FieldStatus   = "status"
	FieldLoadMode = "load_mode"
)

// Change describes one instruction's difference between two builds. For
// added items From is nil; for removed items To is nil. Both sides carry
// full denormalized values so a before/after view needs no further reads.
type Change struct {
	InstructionID string   `json:"instructionId"`
	From          *Side    `json:"from,omitempty"`
	To            *Side    `json:"to,omitempty"`
	ChangedFields []string `json:"changedFields,omitempty"`
}

// Side is one endpoint of a change.
type Side struct {
	VersionID     string `json:"versionId"`
	VersionNumber int    `json:"versionNumber"`
	Text          string `json:"text"`
	Title         string `json:"title"`
	Category      string `json:"category"`
	Status        string `json:"status"`
	LoadMode      string `json:"loadMode"`
	ContentHash   string `json:"contentHash"`
}

// Result is the full structural diff between an older and a newer build.
type Result struct {
	Added    []Change `json:"added"`
	Modified []Change `json:"modified"`
	Removed  []Change `json:"removed"`
}

// Counts returns the three list sizes, the values the snapshot builder
// persists on the build row.
func (r Result) Counts() (added, modified, removed int) {
	return len(r.Added), len(r.Modified), len(r.Removed)
}

func side(c store.BuildContent) *Side {
	return &Side{
		VersionID:     c.VersionID,
		VersionNumber: c.VersionNumber,
		Text:          c.Text,
		Title:         c.Title,
		Category:      c.Category,
		Status:        c.Status,
		LoadMode:      c.LoadMode,
		ContentHash:   c.ContentHash,
	}
}

// Compute diffs the membership of an older build against a newer one.
// An empty older slice treats everything in newer as added, which is how
// the very first build of an organization is summarized.
func Compute(older, newer []store.BuildContent) Result {
	oldByID := make(map[string]store.BuildContent, len(older))
	for _, c := range older {
		oldByID[c.InstructionID] = c
	}
	newByID := make(map[string]store.BuildContent, len(newer))
	for _, c := range newer {
		newByID[c.InstructionID] = c
	}

	result := Result{
		Added:    make([]Change, 0),
		Modified: make([]Change, 0),
		Removed:  make([]Change, 0),
	}

	for _, c := range newer {
		prev, ok := oldByID[c.InstructionID]
		if !ok {
			result.Added = append(result.Added, Change{InstructionID: c.InstructionID, To: side(c)})
			continue
		}
		if prev.VersionID == c.VersionID {
			continue
		}
		result.Modified = append(result.Modified, Change{
			InstructionID: c.InstructionID,
			From:          side(prev),
			To:            side(c),
			ChangedFields: changedFields(prev, c),
		})
	}

	for _, c := range older {
		if _, ok := newByID[c.InstructionID]; !ok {
			result.Removed = append(result.Removed, Change{InstructionID: c.InstructionID, From: side(c)})
		}
	}

	sortChanges(result.Added)
	sortChanges(result.Modified)
	sortChanges(result.Removed)
	return result
}

// changedFields compares the denormalized field pairs. The content hash,
// not byte equality of text, decides the text field: whitespace-only
// edits that hash identically never report a text change.
func changedFields(from, to store.BuildContent) []string {
	type pair struct {
		field   string
		changed bool
	}
	pairs := []pair{
		{FieldText, from.ContentHash != to.ContentHash && strings.TrimSpace(from.Text) != strings.TrimSpace(to.Text)},
		{FieldTitle, from.Title != to.Title},
		{FieldCategory, from.Category != to.Category},
		{FieldStatus, from.Status != to.Status},
		{FieldLoadMode, from.LoadMode != to.LoadMode},
	}
	fields := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p.changed {
			fields = append(fields, p.field)
		}
	}
	return fields
}

func sortChanges(changes []Change) {
	sort.SliceStable(changes, func(i, j int) bool {
		return changes[i].InstructionID < changes[j].InstructionID
	})
}
