package diff

import (
	"reflect"
	"testing"

	"bagofwords/api/internal/store"
)

func content(buildID, instructionID, versionID string, versionNumber int, fields store.UpsertFields) store.BuildContent {
	return store.BuildContent{
		BuildID:       buildID,
		InstructionID: instructionID,
		VersionID:     versionID,
		VersionNumber: versionNumber,
		Text:          fields.Text,
		Title:         fields.Title,
		Category:      fields.Category,
		Status:        fields.Status,
		LoadMode:      fields.LoadMode,
		ContentHash:   store.ContentHash(fields),
	}
}

func TestComputeAddedModifiedRemoved(t *testing.T) {
	older := []store.BuildContent{
		content("b1", "ins_a", "ver_a1", 1, store.UpsertFields{Text: "x", Title: "A", Status: "published", LoadMode: "always"}),
		content("b1", "ins_b", "ver_b1", 1, store.UpsertFields{Text: "y", Title: "B", Status: "published", LoadMode: "always"}),
		content("b1", "ins_c", "ver_c1", 1, store.UpsertFields{Text: "z", Title: "C", Status: "published", LoadMode: "always"}),
	}
	newer := []store.BuildContent{
		content("b2", "ins_a", "ver_a2", 2, store.UpsertFields{Text: "x2", Title: "A", Status: "published", LoadMode: "always"}),
		content("b2", "ins_b", "ver_b1", 1, store.UpsertFields{Text: "y", Title: "B", Status: "published", LoadMode: "always"}),
		content("b2", "ins_d", "ver_d1", 1, store.UpsertFields{Text: "w", Title: "D", Status: "draft", LoadMode: "intelligent"}),
	}

	result := Compute(older, newer)

	if len(result.Added) != 1 || result.Added[0].InstructionID != "ins_d" {
		t.Fatalf("Added = %+v, want exactly ins_d", result.Added)
	}
	if result.Added[0].From != nil || result.Added[0].To == nil {
		t.Fatalf("added change must carry only a to side: %+v", result.Added[0])
	}
	if len(result.Removed) != 1 || result.Removed[0].InstructionID != "ins_c" {
		t.Fatalf("Removed = %+v, want exactly ins_c", result.Removed)
	}
	if len(result.Modified) != 1 || result.Modified[0].InstructionID != "ins_a" {
		t.Fatalf("Modified = %+v, want exactly ins_a", result.Modified)
	}

	modified := result.Modified[0]
	if modified.From.VersionNumber != 1 || modified.To.VersionNumber != 2 {
		t.Fatalf("modified versions = %d -> %d, want 1 -> 2", modified.From.VersionNumber, modified.To.VersionNumber)
	}
	if !reflect.DeepEqual(modified.ChangedFields, []string{FieldText}) {
		t.Fatalf("ChangedFields = %v, want [text]", modified.ChangedFields)
	}

	added, modifiedCount, removed := result.Counts()
	if added != 1 || modifiedCount != 1 || removed != 1 {
		t.Fatalf("Counts() = %d/%d/%d, want 1/1/1", added, modifiedCount, removed)
	}
}

func TestComputeSameVersionIsUnchanged(t *testing.T) {
	shared := content("b1", "ins_a", "ver_a1", 1, store.UpsertFields{Text: "x", Title: "A"})
	other := shared
	other.BuildID = "b2"

	result := Compute([]store.BuildContent{shared}, []store.BuildContent{other})
	if len(result.Added)+len(result.Modified)+len(result.Removed) != 0 {
		t.Fatalf("diff of identical memberships must be empty, got %+v", result)
	}
}

func TestComputeSelfDiffIsEmpty(t *testing.T) {
	contents := []store.BuildContent{
		content("b1", "ins_a", "ver_a1", 1, store.UpsertFields{Text: "x"}),
		content("b1", "ins_b", "ver_b1", 1, store.UpsertFields{Text: "y"}),
	}
	result := Compute(contents, contents)
	if len(result.Added)+len(result.Modified)+len(result.Removed) != 0 {
		t.Fatalf("self diff must be empty, got %+v", result)
	}
}

func TestComputeFirstBuildIsAllAdded(t *testing.T) {
	newer := []store.BuildContent{
		content("b1", "ins_a", "ver_a1", 1, store.UpsertFields{Text: "x"}),
		content("b1", "ins_b", "ver_b1", 1, store.UpsertFields{Text: "y"}),
	}
	result := Compute(nil, newer)
	if len(result.Added) != 2 || len(result.Modified) != 0 || len(result.Removed) != 0 {
		t.Fatalf("first build diff = %+v, want two added", result)
	}
}

func TestComputeSymmetry(t *testing.T) {
	older := []store.BuildContent{
		content("b1", "ins_a", "ver_a1", 1, store.UpsertFields{Text: "x"}),
		content("b1", "ins_b", "ver_b1", 1, store.UpsertFields{Text: "y"}),
	}
	newer := []store.BuildContent{
		content("b2", "ins_b", "ver_b2", 2, store.UpsertFields{Text: "y2"}),
		content("b2", "ins_c", "ver_c1", 1, store.UpsertFields{Text: "z"}),
	}

	forward := Compute(older, newer)
	backward := Compute(newer, older)

	if len(forward.Added) != len(backward.Removed) || forward.Added[0].InstructionID != backward.Removed[0].InstructionID {
		t.Fatalf("forward.Added %+v must mirror backward.Removed %+v", forward.Added, backward.Removed)
	}
	if len(forward.Removed) != len(backward.Added) || forward.Removed[0].InstructionID != backward.Added[0].InstructionID {
		t.Fatalf("forward.Removed %+v must mirror backward.Added %+v", forward.Removed, backward.Added)
	}
	if len(forward.Modified) != len(backward.Modified) {
		t.Fatalf("modified sets must match in size: %d vs %d", len(forward.Modified), len(backward.Modified))
	}
}

func TestChangedFieldsEnumeratesEveryDifference(t *testing.T) {
	from := content("b1", "ins_a", "ver_a1", 1, store.UpsertFields{
		Text: "x", Title: "Old", Category: "sales", Status: "draft", LoadMode: "intelligent",
	})
	to := content("b2", "ins_a", "ver_a2", 2, store.UpsertFields{
		Text: "x2", Title: "New", Category: "finance", Status: "published", LoadMode: "always",
	})

	result := Compute([]store.BuildContent{from}, []store.BuildContent{to})
	if len(result.Modified) != 1 {
		t.Fatalf("expected one modified item, got %+v", result)
	}
	want := []string{FieldText, FieldTitle, FieldCategory, FieldStatus, FieldLoadMode}
	if !reflect.DeepEqual(result.Modified[0].ChangedFields, want) {
		t.Fatalf("ChangedFields = %v, want %v", result.Modified[0].ChangedFields, want)
	}
}

func TestWhitespaceOnlyTextIsNotReported(t *testing.T) {
	from := content("b1", "ins_a", "ver_a1", 1, store.UpsertFields{Text: "x", Title: "Old"})
	// Different version row, but content hash agrees because trailing
	// whitespace is normalized away; only the title really changed.
	to := content("b2", "ins_a", "ver_a2", 2, store.UpsertFields{Text: "x \n", Title: "New"})

	result := Compute([]store.BuildContent{from}, []store.BuildContent{to})
	if len(result.Modified) != 1 {
		t.Fatalf("expected one modified item, got %+v", result)
	}
	if !reflect.DeepEqual(result.Modified[0].ChangedFields, []string{FieldTitle}) {
		t.Fatalf("ChangedFields = %v, want [title]", result.Modified[0].ChangedFields)
	}
}
