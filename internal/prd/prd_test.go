package prd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lodestar-dev/lodestar/internal/types"
)

const doc = `# Title

Intro text.

## Background

Some background.

## Requirements

Req body line 1.
Req body line 2.

## Appendix

Appendix text.
`

func TestExtractSectionsByAnchor(t *testing.T) {
	refs := []types.PRDRef{{Anchor: "#requirements"}, {Anchor: "#missing"}}
	secs := ExtractSections([]byte(doc), refs)
	if len(secs) != 2 {
		t.Fatalf("got %d sections, want 2", len(secs))
	}
	if secs[0].Warning != "" {
		t.Errorf("unexpected warning: %s", secs[0].Warning)
	}
	if secs[0].Text == "" {
		t.Error("expected non-empty text for requirements section")
	}
	if secs[1].Warning == "" {
		t.Error("expected warning for missing anchor")
	}
}

func TestDriftDetectsChange(t *testing.T) {
	h := Hash([]byte(doc))
	binding := types.PRDBinding{Hash: h, Refs: []types.PRDRef{{Anchor: "#requirements"}}}

	same := Drift([]byte(doc), binding)
	if same.Changed {
		t.Error("expected no drift for identical content")
	}

	edited := doc + "\n## New Section\nmore text\n"
	changed := Drift([]byte(edited), binding)
	if !changed.Changed {
		t.Error("expected drift after edit")
	}
}

func TestDriftFlagsDisappearedAnchor(t *testing.T) {
	binding := types.PRDBinding{Hash: "stale", Refs: []types.PRDRef{{Anchor: "#requirements"}}}
	edited := `# Title

## Background only
`
	result := Drift([]byte(edited), binding)
	if !result.Changed {
		t.Fatal("expected drift")
	}
	if len(result.AffectedRefs) != 1 || result.AffectedRefs[0] != "requirements" {
		t.Errorf("AffectedRefs = %v, want [requirements]", result.AffectedRefs)
	}
}

func TestDeliverTruncatesToBudget(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prd.md")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	binding := types.PRDBinding{Refs: []types.PRDRef{{Anchor: "#requirements"}}, Excerpt: "frozen text"}

	delivery, err := Deliver(path, binding, 10)
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if !delivery.Truncated {
		t.Error("expected truncation at small budget")
	}
	if len(delivery.Body) != 10 {
		t.Errorf("Body length = %d, want 10", len(delivery.Body))
	}
	if delivery.FrozenExcerpt != "frozen text" {
		t.Errorf("FrozenExcerpt = %q", delivery.FrozenExcerpt)
	}
}
