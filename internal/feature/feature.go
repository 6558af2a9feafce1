// Package feature implements the Code Feature Model: a reference to a
// contiguous slice of a source file (whole file, outline, or line interval)
// with deterministic token-count and rendering.
package feature

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Level is the verbosity tier of a feature, ordered ascending by verbosity:
// FILE_NAME < CMAP < CMAP_FULL < INTERVAL < CODE.
type Level int

const (
	LevelFileName Level = iota
	LevelCMAP
	LevelCMAPFull
	LevelInterval
	LevelCode
)

func (l Level) String() string {
	switch l {
	case LevelFileName:
		return "FILE_NAME"
	case LevelCMAP:
		return "CMAP"
	case LevelCMAPFull:
		return "CMAP_FULL"
	case LevelInterval:
		return "INTERVAL"
	case LevelCode:
		return "CODE"
	default:
		return "UNKNOWN"
	}
}

// Interval is a 1-indexed, half-open-on-end line range: [Start, End).
type Interval struct {
	Start int
	End   int
}

// CodeFeature is a reference to (path, interval, level, diff_target?,
// user_included); it carries no content of its own, so two features with
// identical fields are observationally equal regardless of construction
// order.
type CodeFeature struct {
	Path         string
	Intervals    []Interval
	Level        Level
	DiffTarget   string
	UserIncluded bool
}

// Key returns a stable identity string for equality/dedup/cache purposes.
func (f CodeFeature) Key() string {
	var b strings.Builder
	b.WriteString(f.Path)
	b.WriteByte('|')
	b.WriteString(f.Level.String())
	b.WriteByte('|')
	b.WriteString(f.DiffTarget)
	for _, iv := range f.Intervals {
		fmt.Fprintf(&b, "|%d-%d", iv.Start, iv.End)
	}
	return b.String()
}

// Symbol is one outline record produced by an Outliner.
type Symbol struct {
	Kind      string
	Name      string
	Line      int
	Scope     string
	Signature string
}

// Outliner produces a language-agnostic symbol outline for a file. When
// Available() is false, CMAP/CMAP_FULL degrade to FILE_NAME.
type Outliner interface {
	Available() bool
	Outline(path, content string) ([]Symbol, error)
}

// ContentSource loads the current text of a file.
type ContentSource func(path string) (string, error)

// Renderer turns CodeFeatures into prompt text and memoizes token counts.
type Renderer struct {
	ReadFile ContentSource
	Outline  Outliner

	mu         sync.Mutex
	tokenCache map[string]int
}

func NewRenderer(read ContentSource, outline Outliner) *Renderer {
	return &Renderer{ReadFile: read, Outline: outline, tokenCache: map[string]int{}}
}

// Render produces the textual block for f: a header `path[:ranges][ (diff vs
// NAME)]` followed by content at the requested level.
func (r *Renderer) Render(f CodeFeature) (string, error) {
	if (f.Level == LevelCMAP || f.Level == LevelCMAPFull) && (r.Outline == nil || !r.Outline.Available()) {
		f.Level = LevelFileName
	}
	header := f.Path
	if len(f.Intervals) > 0 && f.Level != LevelFileName {
		parts := make([]string, len(f.Intervals))
		for i, iv := range f.Intervals {
			parts[i] = fmt.Sprintf("%d-%d", iv.Start, iv.End-1)
		}
		header += ":" + strings.Join(parts, ",")
	}
	if f.DiffTarget != "" {
		header += fmt.Sprintf(" (diff vs %s)", f.DiffTarget)
	}

	if f.Level == LevelFileName {
		return header, nil
	}

	content, err := r.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", f.Path, err)
	}

	body, err := r.renderBody(f, content)
	if err != nil {
		return "", err
	}
	return header + "\n" + body, nil
}

func (r *Renderer) renderBody(f CodeFeature, content string) (string, error) {
	switch f.Level {
	case LevelCode:
		return content, nil
	case LevelInterval:
		return renderIntervals(content, f.Intervals), nil
	case LevelCMAP, LevelCMAPFull:
		if r.Outline == nil || !r.Outline.Available() {
			return "", nil
		}
		syms, err := r.Outline.Outline(f.Path, content)
		if err != nil {
			return "", err
		}
		return renderSymbols(syms, f.Level == LevelCMAPFull), nil
	default:
		return "", nil
	}
}

func renderIntervals(content string, intervals []Interval) string {
	lines := strings.Split(content, "\n")
	var out []string
	for i, iv := range intervals {
		if i > 0 {
			out = append(out, "...")
		}
		start := iv.Start - 1
		end := iv.End - 1
		if start < 0 {
			start = 0
		}
		if end > len(lines) {
			end = len(lines)
		}
		if start < end {
			out = append(out, lines[start:end]...)
		}
	}
	return strings.Join(out, "\n")
}

func renderSymbols(syms []Symbol, full bool) string {
	var b strings.Builder
	for _, s := range syms {
		if s.Scope != "" {
			fmt.Fprintf(&b, "%s %s.%s", s.Kind, s.Scope, s.Name)
		} else {
			fmt.Fprintf(&b, "%s %s", s.Kind, s.Name)
		}
		if full && s.Signature != "" {
			fmt.Fprintf(&b, "%s", s.Signature)
		}
		b.WriteByte('\n')
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// CountTokens is tokenize(render(f)).length, memoized per
// (content-hash, model, level).
func (r *Renderer) CountTokens(f CodeFeature, model string) (int, error) {
	rendered, err := r.Render(f)
	if err != nil {
		return 0, err
	}
	key := cacheKey(rendered, model, f.Level)

	r.mu.Lock()
	if n, ok := r.tokenCache[key]; ok {
		r.mu.Unlock()
		return n, nil
	}
	r.mu.Unlock()

	n := EstimateTokens(rendered)

	r.mu.Lock()
	r.tokenCache[key] = n
	r.mu.Unlock()
	return n, nil
}

func cacheKey(rendered, model string, level Level) string {
	h := sha256.Sum256([]byte(rendered))
	return hex.EncodeToString(h[:]) + "|" + model + "|" + level.String()
}

// EstimateTokens is the heuristic tokenizer: roughly one token per two
// bytes.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	const bytesPerToken = 2
	return (len(text) + bytesPerToken - 1) / bytesPerToken
}

// SplitFileIntoIntervals partitions a file into contiguous intervals aligned
// to top-level symbol boundaries, preserving any interval the user pinned
// exactly. When no outline is available, the whole file is a single
// interval.
func SplitFileIntoIntervals(path, content string, outliner Outliner, userIntervals []Interval) []Interval {
	lines := strings.Split(content, "\n")
	total := len(lines) + 1

	if outliner == nil || !outliner.Available() {
		return mergeUser([]Interval{{Start: 1, End: total}}, userIntervals)
	}

	syms, err := outliner.Outline(path, content)
	if err != nil || len(syms) == 0 {
		return mergeUser([]Interval{{Start: 1, End: total}}, userIntervals)
	}

	bounds := map[int]bool{1: true, total: true}
	for _, s := range syms {
		if s.Line >= 1 && s.Line <= total {
			bounds[s.Line] = true
		}
	}
	var sorted []int
	for b := range bounds {
		sorted = append(sorted, b)
	}
	sort.Ints(sorted)

	var intervals []Interval
	for i := 0; i+1 < len(sorted); i++ {
		if sorted[i] != sorted[i+1] {
			intervals = append(intervals, Interval{Start: sorted[i], End: sorted[i+1]})
		}
	}
	if len(intervals) == 0 {
		intervals = []Interval{{Start: 1, End: total}}
	}
	return mergeUser(intervals, userIntervals)
}

// mergeUser keeps user-pinned intervals exactly as given, dropping any
// auto-derived interval that overlaps one.
func mergeUser(auto, user []Interval) []Interval {
	if len(user) == 0 {
		return auto
	}
	overlaps := func(a, b Interval) bool { return a.Start < b.End && b.Start < a.End }
	var out []Interval
	out = append(out, user...)
	for _, a := range auto {
		clash := false
		for _, u := range user {
			if overlaps(a, u) {
				clash = true
				break
			}
		}
		if !clash {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}
