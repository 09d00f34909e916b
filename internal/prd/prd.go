// Package prd resolves a task's PRD binding against an external
// product-requirements document: extracting referenced sections,
// hashing the source, and detecting drift against a frozen excerpt.
package prd

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/lodestar-dev/lodestar/internal/types"
)

// Section is one resolved reference: the ref it came from and the text
// it extracted, or a warning if the anchor could not be found.
type Section struct {
	Ref     types.PRDRef
	Text    string
	Warning string
}

// Hash returns the deterministic content digest used as Task.PRD.Hash.
func Hash(source []byte) string {
	sum := sha256.Sum256(source)
	return hex.EncodeToString(sum[:])
}

// heading is one ATX Markdown heading found while scanning a document.
type heading struct {
	level int    // number of leading '#'
	id    string // slug: lowercased, spaces to hyphens
	line  int    // 0-indexed line number of the heading itself
}

func slugify(title string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			prevDash = false
		case r == ' ' || r == '-' || r == '_':
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func scanHeadings(lines []string) []heading {
	var out []heading
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		level := 0
		for level < len(trimmed) && trimmed[level] == '#' {
			level++
		}
		if level == 0 || level > 6 {
			continue
		}
		if level < len(trimmed) && trimmed[level] != ' ' {
			continue // "#tag" is not a heading
		}
		title := strings.TrimSpace(trimmed[level:])
		out = append(out, heading{level: level, id: slugify(title), line: i})
	}
	return out
}

func splitLines(src []byte) []string {
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(string(src)))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

// extractByAnchor returns the text from the heading matching anchor
// through (but not including) the next heading of the same or
// shallower level. ok is false if no heading matches.
func extractByAnchor(lines []string, headings []heading, anchor string) (string, bool) {
	anchor = strings.TrimPrefix(anchor, "#")
	anchor = slugify(anchor)
	for i, h := range headings {
		if h.id != anchor {
			continue
		}
		end := len(lines)
		for j := i + 1; j < len(headings); j++ {
			if headings[j].level <= h.level {
				end = headings[j].line
				break
			}
		}
		return strings.Join(lines[h.line:end], "\n"), true
	}
	return "", false
}

func extractByLines(lines []string, rng []int) (string, bool) {
	if len(rng) != 2 {
		return "", false
	}
	start, end := rng[0], rng[1]
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > len(lines) || start > end {
		return "", false
	}
	return strings.Join(lines[start-1:end], "\n"), true
}

// ExtractSections resolves every ref against source, preferring an
// explicit line range over the anchor when both are present. A ref that
// cannot be resolved yields a warning, never an error.
func ExtractSections(source []byte, refs []types.PRDRef) []Section {
	lines := splitLines(source)
	headings := scanHeadings(lines)

	out := make([]Section, 0, len(refs))
	for _, ref := range refs {
		sec := Section{Ref: ref}
		if len(ref.Lines) == 2 {
			if text, ok := extractByLines(lines, ref.Lines); ok {
				sec.Text = text
			} else {
				sec.Warning = fmt.Sprintf("line range %v is out of bounds (document has %d lines)", ref.Lines, len(lines))
			}
		} else if ref.Anchor != "" {
			if text, ok := extractByAnchor(lines, headings, ref.Anchor); ok {
				sec.Text = text
			} else {
				sec.Warning = fmt.Sprintf("anchor %q not found", ref.Anchor)
			}
		} else {
			sec.Warning = "ref has neither an anchor nor a line range"
		}
		out = append(out, sec)
	}
	return out
}

// DriftResult reports whether the live source has changed since the
// frozen hash was recorded, and which refs are now affected.
type DriftResult struct {
	Changed       bool
	CurrentHash   string
	AffectedRefs  []string
}

// Drift compares the current hash of source against binding.Hash and
// names refs whose anchors have disappeared or whose line ranges now
// extend past EOF.
func Drift(source []byte, binding types.PRDBinding) DriftResult {
	current := Hash(source)
	result := DriftResult{CurrentHash: current, Changed: current != binding.Hash}
	if !result.Changed {
		return result
	}

	lines := splitLines(source)
	headings := scanHeadings(lines)
	for _, ref := range binding.Refs {
		name := strings.TrimPrefix(ref.Anchor, "#")
		if len(ref.Lines) == 2 {
			if _, ok := extractByLines(lines, ref.Lines); !ok {
				result.AffectedRefs = append(result.AffectedRefs, name)
			}
			continue
		}
		if ref.Anchor != "" {
			if _, ok := extractByAnchor(lines, headings, ref.Anchor); !ok {
				result.AffectedRefs = append(result.AffectedRefs, name)
			}
		}
	}
	return result
}

// Delivery is the bundled result of Deliver: the frozen excerpt as it
// was recorded on the task, the freshly extracted live sections, and a
// concatenation of the live text trimmed to a character budget.
type Delivery struct {
	FrozenExcerpt string
	LiveSections  []Section
	Body          string
	Truncated     bool
}

// Deliver reads sourcePath, extracts binding.Refs, and concatenates the
// live section text up to budget characters (0 means unbounded).
func Deliver(sourcePath string, binding types.PRDBinding, budget int) (Delivery, error) {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return Delivery{}, fmt.Errorf("reading PRD source %s: %w", sourcePath, err)
	}

	sections := ExtractSections(data, binding.Refs)
	var b strings.Builder
	for i, sec := range sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if sec.Text != "" {
			b.WriteString(sec.Text)
		}
	}

	body := b.String()
	truncated := false
	if budget > 0 && len(body) > budget {
		body = body[:budget]
		truncated = true
	}

	return Delivery{
		FrozenExcerpt: binding.Excerpt,
		LiveSections:  sections,
		Body:          body,
		Truncated:     truncated,
	}, nil
}
