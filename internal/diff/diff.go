package diff

import (
	"errors"
	"fmt"
	"strings"
)

// NoChangesMarker is the sentinel text of a patch built from identical inputs.
// It is never a valid unified diff, so callers can distinguish "no changes"
// from "no diff computed".
const NoChangesMarker = "(no changes)"

var (
	// ErrTooLarge is returned when an input exceeds Limits.MaxInputLines.
	ErrTooLarge = errors.New("diff: input exceeds maximum line count")

	// ErrTruncated is returned by Apply when the patch was truncated and can
	// no longer reproduce the updated content.
	ErrTruncated = errors.New("diff: patch is truncated")
)

// Limits bounds the size of inputs and rendered output.
type Limits struct {
	// MaxHunks caps the number of hunks kept in the rendered diff.
	MaxHunks int

	// MaxBytes caps the rendered diff size. At least one hunk is always kept.
	MaxBytes int

	// MaxInputLines caps the line count of either input. The LCS table is
	// quadratic in this number.
	MaxInputLines int
}

// DefaultLimits returns the limits used by Build.
func DefaultLimits() Limits {
	return Limits{
		MaxHunks:      100,
		MaxBytes:      256 * 1024,
		MaxInputLines: 10000,
	}
}

// Stats summarizes a rendered patch.
type Stats struct {
	Hunks     int  `json:"hunks"`
	Bytes     int  `json:"bytes"`
	Truncated bool `json:"truncated"`
}

// Hunk is a contiguous block of context/added/removed lines. Header fields are
// 1-based per the unified diff format.
type Hunk struct {
	OrigStart int      `json:"orig_start"`
	OrigLines int      `json:"orig_lines"`
	NewStart  int      `json:"new_start"`
	NewLines  int      `json:"new_lines"`
	Lines     []string `json:"lines"` // each prefixed with ' ', '+' or '-'

	// origIdx is the 0-based offset into the original line sequence where
	// this hunk applies. Apply uses it instead of re-deriving positions from
	// the 1-based header.
	origIdx int
}

// Patch is the result of diffing one file.
type Patch struct {
	Path  string `json:"path"`
	Text  string `json:"text"`
	Hunks []Hunk `json:"hunks,omitempty"`
	Stats Stats  `json:"stats"`

	noop          bool
	updatedEndsNL bool
}

// IsNoOp reports whether the patch was built from identical inputs.
func (p *Patch) IsNoOp() bool { return p.noop }

// Build computes a unified diff with DefaultLimits.
func Build(path, original, updated string, contextLines int) (*Patch, error) {
	return BuildWithLimits(path, original, updated, contextLines, DefaultLimits())
}

// BuildWithLimits computes a unified diff between original and updated.
func BuildWithLimits(path, original, updated string, contextLines int, lim Limits) (*Patch, error) {
	if contextLines < 0 {
		contextLines = 0
	}

	a, _ := splitLines(original)
	b, bNL := splitLines(updated)

	if lim.MaxInputLines > 0 && (len(a) > lim.MaxInputLines || len(b) > lim.MaxInputLines) {
		return nil, fmt.Errorf("%w: %d x %d lines (limit %d)", ErrTooLarge, len(a), len(b), lim.MaxInputLines)
	}

	// Trailing-newline-only differences are normalized away by splitLines;
	// Apply restores the updated side's trailing newline from the flag.
	if equalLines(a, b) {
		return &Patch{
			Path:          path,
			Text:          NoChangesMarker,
			Stats:         Stats{Bytes: len(NoChangesMarker)},
			noop:          true,
			updatedEndsNL: bNL,
		}, nil
	}

	ops := editScript(a, b)
	hunks := groupHunks(ops, contextLines)

	p := &Patch{Path: path, updatedEndsNL: bNL}
	p.render(hunks, lim)
	return p, nil
}

// Apply replays the patch hunks against original and returns the updated
// content. It fails on truncated patches and on context mismatches.
func (p *Patch) Apply(original string) (string, error) {
	if p.Stats.Truncated {
		return "", ErrTruncated
	}
	if p.noop {
		return original, nil
	}

	a, _ := splitLines(original)
	out := make([]string, 0, len(a))
	pos := 0

	for i, h := range p.Hunks {
		if h.origIdx < pos || h.origIdx > len(a) {
			return "", fmt.Errorf("diff: hunk %d out of order", i+1)
		}
		out = append(out, a[pos:h.origIdx]...)
		pos = h.origIdx

		for _, ln := range h.Lines {
			if ln == "" {
				return "", fmt.Errorf("diff: hunk %d has malformed line", i+1)
			}
			body := ln[1:]
			switch ln[0] {
			case ' ':
				if pos >= len(a) || a[pos] != body {
					return "", fmt.Errorf("diff: context mismatch at original line %d", pos+1)
				}
				out = append(out, body)
				pos++
			case '-':
				if pos >= len(a) || a[pos] != body {
					return "", fmt.Errorf("diff: removal mismatch at original line %d", pos+1)
				}
				pos++
			case '+':
				out = append(out, body)
			default:
				return "", fmt.Errorf("diff: hunk %d has unknown prefix %q", i+1, ln[0])
			}
		}
	}
	out = append(out, a[pos:]...)

	s := strings.Join(out, "\n")
	if p.updatedEndsNL && s != "" {
		s += "\n"
	}
	return s, nil
}

// splitLines splits text into lines without terminators. The second return
// reports whether the input ended with a newline.
func splitLines(s string) ([]string, bool) {
	if s == "" {
		return nil, false
	}
	endsNL := strings.HasSuffix(s, "\n")
	if endsNL {
		s = s[:len(s)-1]
	}
	return strings.Split(s, "\n"), endsNL
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type opKind int8

const (
	opEqual opKind = iota
	opAdd
	opDel
)

type edit struct {
	kind opKind
	text string
}

// editScript produces the minimal equal/add/del sequence transforming a into
// b, derived from a suffix LCS table.
func editScript(a, b []string) []edit {
	n, m := len(a), len(b)
	w := m + 1
	table := make([]int32, (n+1)*(m+1))

	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			switch {
			case a[i] == b[j]:
				table[i*w+j] = table[(i+1)*w+j+1] + 1
			case table[(i+1)*w+j] >= table[i*w+j+1]:
				table[i*w+j] = table[(i+1)*w+j]
			default:
				table[i*w+j] = table[i*w+j+1]
			}
		}
	}

	ops := make([]edit, 0, n+m)
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			ops = append(ops, edit{opEqual, a[i]})
			i++
			j++
		case table[(i+1)*w+j] >= table[i*w+j+1]:
			ops = append(ops, edit{opDel, a[i]})
			i++
		default:
			ops = append(ops, edit{opAdd, b[j]})
			j++
		}
	}
	for ; i < n; i++ {
		ops = append(ops, edit{opDel, a[i]})
	}
	for ; j < m; j++ {
		ops = append(ops, edit{opAdd, b[j]})
	}
	return ops
}

// groupHunks groups the edit script into hunks carrying up to ctx context
// lines on each side. Changes separated by more than 2*ctx equal lines land
// in separate hunks.
func groupHunks(ops []edit, ctx int) []Hunk {
	// Prefix positions: origAt[k] / newAt[k] are the 0-based original and
	// updated line positions before ops[k].
	origAt := make([]int, len(ops)+1)
	newAt := make([]int, len(ops)+1)
	for k, op := range ops {
		origAt[k+1] = origAt[k]
		newAt[k+1] = newAt[k]
		if op.kind != opAdd {
			origAt[k+1]++
		}
		if op.kind != opDel {
			newAt[k+1]++
		}
	}

	var hunks []Hunk
	i := 0
	for i < len(ops) {
		if ops[i].kind == opEqual {
			i++
			continue
		}

		// Extend through subsequent changes within the lookahead window.
		lo, hi := i, i
		gap := 0
		for j := i + 1; j < len(ops); j++ {
			if ops[j].kind == opEqual {
				gap++
				if gap > 2*ctx {
					break
				}
				continue
			}
			hi = j
			gap = 0
		}

		// Leading and trailing context.
		s := lo
		for s > 0 && lo-s < ctx && ops[s-1].kind == opEqual {
			s--
		}
		e := hi
		for e+1 < len(ops) && e-hi < ctx && ops[e+1].kind == opEqual {
			e++
		}

		h := Hunk{
			OrigLines: origAt[e+1] - origAt[s],
			NewLines:  newAt[e+1] - newAt[s],
			origIdx:   origAt[s],
		}
		// 1-based header starts; clamped so empty ranges at file start never
		// render a zero line number.
		h.OrigStart = max(origAt[s]+1, 1)
		if h.OrigLines == 0 {
			h.OrigStart = max(origAt[s], 1)
		}
		h.NewStart = max(newAt[s]+1, 1)
		if h.NewLines == 0 {
			h.NewStart = max(newAt[s], 1)
		}

		h.Lines = make([]string, 0, e-s+1)
		for k := s; k <= e; k++ {
			var prefix byte
			switch ops[k].kind {
			case opEqual:
				prefix = ' '
			case opAdd:
				prefix = '+'
			case opDel:
				prefix = '-'
			}
			h.Lines = append(h.Lines, string(prefix)+ops[k].text)
		}

		hunks = append(hunks, h)
		i = hi + 1
	}
	return hunks
}

// render fills Text, Hunks and Stats, applying truncation limits. Truncation
// keeps the first hunks in original order and is deterministic for identical
// input and limits.
func (p *Patch) render(hunks []Hunk, lim Limits) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "--- a/%s\n+++ b/%s\n", p.Path, p.Path)

	kept := 0
	truncated := false
	for _, h := range hunks {
		if lim.MaxHunks > 0 && kept >= lim.MaxHunks {
			truncated = true
			break
		}
		rendered := renderHunk(h)
		if lim.MaxBytes > 0 && kept > 0 && sb.Len()+len(rendered) > lim.MaxBytes {
			truncated = true
			break
		}
		sb.WriteString(rendered)
		kept++
	}

	if truncated {
		fmt.Fprintf(&sb, "[Diff truncated: showing %d of %d hunks]\n", kept, len(hunks))
	}

	p.Hunks = hunks[:kept]
	p.Text = sb.String()
	p.Stats = Stats{
		Hunks:     kept,
		Bytes:     len(p.Text),
		Truncated: truncated,
	}
}

func renderHunk(h Hunk) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n", h.OrigStart, h.OrigLines, h.NewStart, h.NewLines)
	for _, ln := range h.Lines {
		sb.WriteString(ln)
		sb.WriteByte('\n')
	}
	return sb.String()
}
