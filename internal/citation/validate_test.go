package citation

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"bookchat-ai/internal/retrieval"
	"bookchat-ai/internal/storage"
)

func evidenceFrom(contents ...string) *retrieval.EvidenceList {
	var items []retrieval.SearchResult
	for i, content := range contents {
		id := string(rune('a' + i))
		items = append(items, retrieval.SearchResult{
			Chunk: &storage.Chunk{
				ID:         id,
				DocumentID: "doc-1",
				ChunkIndex: i,
				Page:       i + 1,
				Content:    content,
			},
			Document:   retrieval.DocumentSummary{ID: "doc-1", Title: "Eye Disorders"},
			Similarity: 0.9,
			ChunkIDs:   []string{id},
		})
	}
	return retrieval.NewEvidenceList(items)
}

// assertBijection checks the single invariant the validator exists to
// guarantee: distinct marker integers in the text are exactly {1..M}.
func assertBijection(t *testing.T, result Result) {
	t.Helper()

	used := make(map[int]bool)
	for _, g := range parseMarkers(result.Text) {
		for _, n := range g.indices {
			used[n] = true
		}
	}

	if len(used) != len(result.Citations) {
		t.Fatalf("bijection broken: %d distinct markers, %d citations\ntext: %s", len(used), len(result.Citations), result.Text)
	}
	for i, c := range result.Citations {
		if c.SourceIndex != i+1 {
			t.Errorf("citation %d has SourceIndex %d, want %d", i, c.SourceIndex, i+1)
		}
		if !used[i+1] {
			t.Errorf("citation index %d does not appear in text", i+1)
		}
	}
}

func TestValidator_Validate_AcceptsGroundedCitation(t *testing.T) {
	v := NewValidator(DefaultConfig())
	evidence := evidenceFrom("X is caused by Y according to the study findings.")

	result := v.Validate(context.Background(), "X is caused by Y [1].", evidence, StrictnessNormal)

	if len(result.Citations) != 1 {
		t.Fatalf("got %d citations, want 1: warnings %v", len(result.Citations), result.Warnings)
	}
	if !strings.Contains(result.Text, "[1]") {
		t.Errorf("text %q should keep marker [1]", result.Text)
	}
	if result.Citations[0].DocumentTitle != "Eye Disorders" {
		t.Errorf("citation title = %q", result.Citations[0].DocumentTitle)
	}
	assertBijection(t, result)
}

// Scenario: a cited claim followed by an uncited unrelated sentence. The
// citation survives and the unsupported sentence is stripped.
func TestValidator_Validate_StripsUncitedTrailingClaim(t *testing.T) {
	v := NewValidator(DefaultConfig())
	evidence := evidenceFrom("X is caused by Y according to the study findings.")

	draft := "X is caused by Y [1]. Z is unrelated information with no support."
	result := v.Validate(context.Background(), draft, evidence, StrictnessNormal)

	if len(result.Citations) != 1 {
		t.Fatalf("got %d citations, want 1", len(result.Citations))
	}
	if strings.Contains(result.Text, "unrelated information") {
		t.Errorf("uncited claim survived: %q", result.Text)
	}
	if !strings.Contains(result.Text, "[1]") {
		t.Errorf("cited claim lost: %q", result.Text)
	}
	assertBijection(t, result)
}

// Scenario: a single out-of-range marker falls through to fail-closed.
func TestValidator_Validate_OutOfRangeFailsClosed(t *testing.T) {
	v := NewValidator(DefaultConfig())
	evidence := evidenceFrom("first", "second", "third")

	result := v.Validate(context.Background(), "[7] describes X", evidence, StrictnessNormal)

	if result.Text != GroundingFailureMessage {
		t.Errorf("text = %q, want the fixed grounding failure message", result.Text)
	}
	if len(result.Citations) != 0 {
		t.Errorf("got %d citations, want 0", len(result.Citations))
	}
}

func TestValidator_Validate_FailClosedOnNoMarkers(t *testing.T) {
	v := NewValidator(DefaultConfig())
	evidence := evidenceFrom("Photosynthesis converts sunlight into chemical energy.")

	result := v.Validate(context.Background(), "Plants are green and grow in soil everywhere.", evidence, StrictnessNormal)

	if result.Text != GroundingFailureMessage {
		t.Errorf("text = %q, want the fixed grounding failure message", result.Text)
	}
	if len(result.Citations) != 0 {
		t.Errorf("got %d citations, want 0", len(result.Citations))
	}
}

func TestValidator_Validate_AbstentionPassesThrough(t *testing.T) {
	v := NewValidator(DefaultConfig())
	evidence := evidenceFrom("Some content.")

	draft := "The provided documents do not contain information about this topic."
	result := v.Validate(context.Background(), draft, evidence, StrictnessNormal)

	if result.Text != draft {
		t.Errorf("text = %q, want the abstention draft unchanged", result.Text)
	}
	if len(result.Citations) != 0 {
		t.Errorf("got %d citations, want 0", len(result.Citations))
	}
}

func TestValidator_Validate_RenumbersDensely(t *testing.T) {
	v := NewValidator(DefaultConfig())
	evidence := evidenceFrom(
		"Another fact about migration patterns of birds.",
		"Completely unrelated weather data tables.",
		"A fact regarding ocean currents and their temperature.",
	)

	draft := "Ocean currents shift with temperature [3]. Birds follow migration patterns seasonally [1]."
	result := v.Validate(context.Background(), draft, evidence, StrictnessNormal)

	if len(result.Citations) != 2 {
		t.Fatalf("got %d citations, want 2: warnings %v", len(result.Citations), result.Warnings)
	}
	// First appearance wins: [3] becomes [1], [1] becomes [2].
	if !strings.Contains(result.Text, "temperature [1]") {
		t.Errorf("first marker not renumbered to [1]: %q", result.Text)
	}
	if !strings.Contains(result.Text, "seasonally [2]") {
		t.Errorf("second marker not renumbered to [2]: %q", result.Text)
	}
	if !strings.Contains(result.Citations[0].Excerpt, "ocean currents") {
		t.Errorf("citation 1 excerpt = %q, want the ocean currents source", result.Citations[0].Excerpt)
	}
	assertBijection(t, result)
}

func TestValidator_Validate_DropsInvalidIndexFromGroup(t *testing.T) {
	v := NewValidator(DefaultConfig())
	evidence := evidenceFrom("The lens focuses light onto the retina, where the image forms.")

	draft := "The lens focuses light onto the retina [1, 7]."
	result := v.Validate(context.Background(), draft, evidence, StrictnessNormal)

	if len(result.Citations) != 1 {
		t.Fatalf("got %d citations, want 1", len(result.Citations))
	}
	if strings.Contains(result.Text, "7") {
		t.Errorf("out-of-range index survived: %q", result.Text)
	}
	assertBijection(t, result)
}

func TestValidator_Validate_RemapsMiscitation(t *testing.T) {
	v := NewValidator(DefaultConfig())
	evidence := evidenceFrom(
		"The lens focuses light onto the retina, where the image forms.",
		"Quarterly rainfall statistics were compiled by region.",
	)

	// The model cited [2] but the context clearly matches item 1.
	draft := "The lens focuses light onto the retina [2]."
	result := v.Validate(context.Background(), draft, evidence, StrictnessNormal)

	if len(result.Citations) != 1 {
		t.Fatalf("got %d citations, want 1: warnings %v", len(result.Citations), result.Warnings)
	}
	if !strings.Contains(result.Citations[0].Excerpt, "lens focuses") {
		t.Errorf("citation not remapped to the matching source: %q", result.Citations[0].Excerpt)
	}
	if !strings.Contains(result.Text, "[1]") {
		t.Errorf("remapped marker not renumbered: %q", result.Text)
	}
	assertBijection(t, result)
}

func TestValidator_Validate_StrictModeRejectsWeakMatch(t *testing.T) {
	evidence := evidenceFrom("The macula provides central vision and fine detail perception.")
	draft := "Peripheral vision comes from the macula [1]."

	normal := NewValidator(DefaultConfig()).Validate(context.Background(), draft, evidence, StrictnessNormal)
	strict := NewValidator(DefaultConfig()).Validate(context.Background(), draft, evidence, StrictnessStrict)

	if len(strict.Citations) > len(normal.Citations) {
		t.Errorf("strict mode accepted more citations (%d) than normal (%d)", len(strict.Citations), len(normal.Citations))
	}
}

func TestValidator_Validate_GateRemovesDistantUncitedBlock(t *testing.T) {
	v := NewValidator(DefaultConfig())
	evidence := evidenceFrom("Cataract surgery replaces the clouded lens with an artificial intraocular lens implant.")

	uncited := "Beyond all of this there are many other considerations that patients frequently want to discuss with their care team, ranging from insurance coverage questions to scheduling concerns and travel arrangements for the recovery period afterwards."
	draft := "Cataract surgery replaces the clouded lens with an artificial intraocular lens [1].\n\nRecovery typically goes well.\n\n" + uncited
	result := v.Validate(context.Background(), draft, evidence, StrictnessNormal)

	if len(result.Citations) != 1 {
		t.Fatalf("got %d citations, want 1: warnings %v", len(result.Citations), result.Warnings)
	}
	if strings.Contains(result.Text, "insurance coverage") {
		t.Errorf("distant uncited block survived the gate: %q", result.Text)
	}
	// Short middle paragraph is below the gate thresholds and stays.
	if !strings.Contains(result.Text, "Recovery typically goes well.") {
		t.Errorf("short uncited block should survive: %q", result.Text)
	}
	assertBijection(t, result)
}

func TestValidator_Validate_GateKeepsAdjacentUncitedBlock(t *testing.T) {
	v := NewValidator(DefaultConfig())
	evidence := evidenceFrom("Cataract surgery replaces the clouded lens with an artificial intraocular lens implant.")

	intro := "There are several important considerations to understand about how modern cataract procedures work before looking at the details of the operation itself and what the surgeon actually does during it."
	draft := intro + "\n\nCataract surgery replaces the clouded lens with an artificial intraocular lens [1]."
	result := v.Validate(context.Background(), draft, evidence, StrictnessNormal)

	if !strings.Contains(result.Text, "several important considerations") {
		t.Errorf("uncited block adjacent to a cited one should survive: %q", result.Text)
	}
	assertBijection(t, result)
}

func TestValidator_Validate_Idempotent(t *testing.T) {
	v := NewValidator(DefaultConfig())
	evidence := evidenceFrom(
		"The lens focuses light onto the retina, where the image forms.",
		"Glaucoma damages the optic nerve gradually over many years.",
	)

	draft := "The lens focuses light onto the retina [1]. Glaucoma damages the optic nerve over time [2]."
	first := v.Validate(context.Background(), draft, evidence, StrictnessNormal)
	second := v.Validate(context.Background(), first.Text, first.Evidence, StrictnessNormal)

	if second.Text != first.Text {
		t.Errorf("second pass changed text:\nfirst:  %q\nsecond: %q", first.Text, second.Text)
	}
	if len(second.Citations) != len(first.Citations) {
		t.Errorf("second pass changed citation count: %d -> %d", len(first.Citations), len(second.Citations))
	}
	for i := range first.Citations {
		if second.Citations[i].SourceIndex != first.Citations[i].SourceIndex ||
			second.Citations[i].DocumentID != first.Citations[i].DocumentID {
			t.Errorf("citation %d changed across passes", i)
		}
	}
}

// Renumbering maps [2] to [1]; re-validating the output must keep pointing
// at the same chunk, which is what the result's Evidence list is for.
func TestValidator_Validate_IdempotentAfterRenumbering(t *testing.T) {
	v := NewValidator(DefaultConfig())
	evidence := evidenceFrom(
		"The lens focuses light onto the retina, where the image forms.",
		"The lens focuses light onto the retina, as the imaging chapter describes.",
	)

	draft := "The lens focuses light onto the retina [2]."
	first := v.Validate(context.Background(), draft, evidence, StrictnessNormal)
	if len(first.Citations) != 1 || len(first.Citations[0].ChunkIDs) != 1 {
		t.Fatalf("first pass citations = %+v, warnings %v", first.Citations, first.Warnings)
	}
	if first.Citations[0].ChunkIDs[0] != "b" {
		t.Fatalf("first pass cited chunk %q, want b", first.Citations[0].ChunkIDs[0])
	}

	second := v.Validate(context.Background(), first.Text, first.Evidence, StrictnessNormal)
	if second.Text != first.Text {
		t.Errorf("second pass changed text:\nfirst:  %q\nsecond: %q", first.Text, second.Text)
	}
	if len(second.Citations) != 1 || second.Citations[0].ChunkIDs[0] != first.Citations[0].ChunkIDs[0] {
		t.Errorf("re-validation moved the citation: first %+v, second %+v", first.Citations, second.Citations)
	}
}

// Drafts routinely carry headings, emphasis, and bullet lists; the gate has
// to walk their inline nodes without tripping over them.
func TestValidator_Validate_HandlesInlineMarkdown(t *testing.T) {
	v := NewValidator(DefaultConfig())
	evidence := evidenceFrom("Cataract surgery replaces the clouded lens with an artificial intraocular lens implant.")

	draft := "## Overview\n\n**Cataract surgery** replaces the *clouded lens* with an artificial intraocular lens [1].\n\n- Ask about recovery time.\n- Plan a follow-up visit."
	result := v.Validate(context.Background(), draft, evidence, StrictnessNormal)

	if len(result.Citations) != 1 {
		t.Fatalf("got %d citations, want 1: warnings %v", len(result.Citations), result.Warnings)
	}
	if !strings.Contains(result.Text, "[1]") {
		t.Errorf("cited claim lost: %q", result.Text)
	}
	if !strings.Contains(result.Text, "Ask about recovery time.") {
		t.Errorf("short list item should survive: %q", result.Text)
	}
	assertBijection(t, result)
}

func TestValidator_Validate_ExcerptEndsOnRuneBoundary(t *testing.T) {
	v := NewValidator(DefaultConfig())
	evidence := evidenceFrom("X is caused by Y according to the study findings." + strings.Repeat("é", 150))

	result := v.Validate(context.Background(), "X is caused by Y [1].", evidence, StrictnessNormal)

	if len(result.Citations) != 1 {
		t.Fatalf("got %d citations, want 1: warnings %v", len(result.Citations), result.Warnings)
	}
	excerpt := result.Citations[0].Excerpt
	if len(excerpt) > DefaultConfig().ExcerptLength {
		t.Errorf("excerpt is %d bytes, want at most %d", len(excerpt), DefaultConfig().ExcerptLength)
	}
	if !utf8.ValidString(excerpt) {
		t.Errorf("excerpt is not valid UTF-8: %q", excerpt)
	}
}

func TestValidator_Validate_ShortContextMergesIntoPrior(t *testing.T) {
	v := NewValidator(DefaultConfig())
	evidence := evidenceFrom(
		"The retina converts light into neural signals for the brain.",
		"The retina converts light into neural signals for the brain, continued.",
	)

	// The second group's own span is just punctuation; it must borrow the
	// prior context rather than score against nothing.
	draft := "The retina converts light into neural signals [1], [2]."
	result := v.Validate(context.Background(), draft, evidence, StrictnessNormal)

	if len(result.Citations) != 2 {
		t.Fatalf("got %d citations, want 2: warnings %v", len(result.Citations), result.Warnings)
	}
	assertBijection(t, result)
}

func TestValidator_Validate_PagesOnCitation(t *testing.T) {
	v := NewValidator(DefaultConfig())
	evidence := evidenceFrom("X is caused by Y according to the study findings.")

	result := v.Validate(context.Background(), "X is caused by Y [1].", evidence, StrictnessNormal)

	if len(result.Citations) != 1 {
		t.Fatalf("got %d citations, want 1", len(result.Citations))
	}
	if len(result.Citations[0].Pages) != 1 || result.Citations[0].Pages[0] != 1 {
		t.Errorf("citation pages = %v, want [1]", result.Citations[0].Pages)
	}
}
