// Package ctxengine implements the Context Engine: it assembles the bounded
// token "Code Files:" section of a prompt from user-included files, a diff
// target, and an auto-context budget, caching the most recent result.
package ctxengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/arrowgrove/codeloom/internal/errs"
	"github.com/arrowgrove/codeloom/internal/feature"
	"github.com/arrowgrove/codeloom/internal/filters"
	"github.com/arrowgrove/codeloom/internal/gitprobe"
)

// DiffContext is the (target, name, files) set the parser and engine both
// consult when a diff target is active; per-line annotations are not carried.
type DiffContext struct {
	Target string
	Name   string
	Files  map[string]bool
}

// IncludeSet maps a repo-relative path to the user-pinned slices of it.
type IncludeSet map[string][]feature.CodeFeature

// Result is the packed prompt section plus the feature set that produced it,
// so callers (the parser, /context) can report what's active.
type Result struct {
	Text     string
	Features []feature.CodeFeature
}

// FilterPipeline is the capability the engine calls in auto mode; callers
// supply one built from internal/filters (DefaultFilter.Apply) so the engine
// itself stays filter-implementation-agnostic.
type FilterPipeline func(ctx context.Context, in []feature.CodeFeature) ([]feature.CodeFeature, error)

// Engine assembles the code section of a prompt under a token budget.
type Engine struct {
	Root       string
	Renderer   *feature.Renderer
	Ignore     *IgnoreMatcher
	MaxChars   int
	AutoTokens int
	Filter     FilterPipeline

	// ManualEmbedding, when set, ranks manual-mode overflow by similarity to
	// the prompt before truncating (spec step 3).
	ManualEmbedding *filters.EmbeddingSimilarityFilter

	cacheKey    string
	cacheResult *Result
}

func NewEngine(root string, renderer *feature.Renderer, ignore *IgnoreMatcher, autoTokens, maxChars int, filter FilterPipeline) *Engine {
	if maxChars <= 0 {
		maxChars = 1_000_000
	}
	return &Engine{Root: root, Renderer: renderer, Ignore: ignore, MaxChars: maxChars, AutoTokens: autoTokens, Filter: filter}
}

// ResetCache drops the single cached result, forcing the next
// GetCodeMessage call to recompute regardless of key equality. Used by the
// /clear command, which wipes auto-context alongside the conversation.
func (e *Engine) ResetCache() {
	e.cacheKey = ""
	e.cacheResult = nil
}

// ComputeChecksums hashes the current content of each candidate path, for
// use as the cache-invalidation key's file-checksum component.
func ComputeChecksums(root string, paths []string) map[string]string {
	sums := make(map[string]string, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(filepath.Join(root, p))
		if err != nil {
			sums[p] = ""
			continue
		}
		h := sha256.Sum256(data)
		sums[p] = hex.EncodeToString(h[:])
	}
	return sums
}

func buildCacheKey(prompt string, maxTokens int, include IncludeSet, diff *DiffContext, checksums map[string]string, auto bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "prompt=%x|max=%d|auto=%v", sha256.Sum256([]byte(prompt)), maxTokens, auto)

	var incPaths []string
	for p := range include {
		incPaths = append(incPaths, p)
	}
	sort.Strings(incPaths)
	for _, p := range incPaths {
		b.WriteString("|inc:" + p)
		for _, f := range include[p] {
			b.WriteString(":" + f.Key())
		}
	}

	if diff != nil {
		b.WriteString("|diff:" + diff.Target)
	}

	var sumPaths []string
	for p := range checksums {
		sumPaths = append(sumPaths, p)
	}
	sort.Strings(sumPaths)
	for _, p := range sumPaths {
		b.WriteString("|sum:" + p + "=" + checksums[p])
	}
	return b.String()
}

// metadataHeader produces the static header line, plus a diff legend when a
// diff target is set.
func metadataHeader(diff *DiffContext) string {
	if diff == nil || diff.Target == "" {
		return "Code Files:"
	}
	return fmt.Sprintf("Code Files: (+ = added, - = removed, vs %s)", diff.Name)
}

// GetCodeMessage assembles the code section of a prompt. autoContext selects
// manual vs auto mode; checksums must cover every path that could be
// auto-enumerated, for correct cache invalidation.
func (e *Engine) GetCodeMessage(ctx context.Context, prompt string, maxTokens int, include IncludeSet, diff *DiffContext, checksums map[string]string, autoContext bool) (*Result, error) {
	key := buildCacheKey(prompt, maxTokens, include, diff, checksums, autoContext)
	if e.cacheKey == key && e.cacheResult != nil {
		return e.cacheResult, nil
	}

	header := metadataHeader(diff)
	remaining := maxTokens - feature.EstimateTokens(header)
	if remaining < 0 {
		result := &Result{Text: ""}
		e.cacheKey, e.cacheResult = key, result
		return result, nil
	}

	var active []feature.CodeFeature
	var err error
	if autoContext {
		active, err = e.autoMode(ctx, prompt, include, diff, remaining)
	} else {
		active, err = e.manualMode(ctx, prompt, include, remaining)
	}
	if err != nil {
		return nil, err
	}

	text, err := e.renderGrouped(header, active)
	if err != nil {
		return nil, err
	}

	result := &Result{Text: text, Features: active}
	e.cacheKey, e.cacheResult = key, result
	return result, nil
}

func flattenIncludes(include IncludeSet) []feature.CodeFeature {
	var all []feature.CodeFeature
	var paths []string
	for p := range include {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		all = append(all, include[p]...)
	}
	return all
}

func (e *Engine) manualMode(ctx context.Context, prompt string, include IncludeSet, remaining int) ([]feature.CodeFeature, error) {
	active := flattenIncludes(include)
	if len(active) == 0 {
		return active, nil
	}

	total := 0
	for _, f := range active {
		n, err := e.Renderer.CountTokens(f, "")
		if err != nil {
			return nil, err
		}
		total += n
	}
	if total <= remaining {
		return active, nil
	}

	ranked := active
	if e.ManualEmbedding != nil && prompt != "" {
		scored, err := e.ManualEmbedding.Apply(ctx, active)
		if err != nil {
			return nil, err
		}
		ranked = scored
	}

	trunc := &filters.TruncateFilter{MaxTokens: remaining, Renderer: e.Renderer, RespectUserInclude: false}
	return trunc.Apply(ctx, ranked)
}

func (e *Engine) autoMode(ctx context.Context, prompt string, include IncludeSet, diff *DiffContext, remaining int) ([]feature.CodeFeature, error) {
	candidates, err := e.enumerateCandidates(include, diff)
	if err != nil {
		return nil, err
	}

	budget := remaining
	if e.AutoTokens > 0 && e.AutoTokens < budget {
		budget = e.AutoTokens
	}

	if e.Filter == nil {
		trunc := &filters.TruncateFilter{MaxTokens: budget, Renderer: e.Renderer, RespectUserInclude: true}
		return trunc.Apply(ctx, candidates)
	}
	return e.Filter(ctx, candidates)
}

// enumerateCandidates walks the tree (or, if include is empty and a diff
// target is set, falls back to the diff's file list), building one
// INTERVAL-level feature per file, marking user-included and diff-tagged
// features.
func (e *Engine) enumerateCandidates(include IncludeSet, diff *DiffContext) ([]feature.CodeFeature, error) {
	var paths []string
	if len(include) == 0 && diff != nil && len(diff.Files) > 0 {
		for p := range diff.Files {
			paths = append(paths, p)
		}
	} else {
		var err error
		paths, err = e.walkTree()
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(paths)

	var out []feature.CodeFeature
	for _, p := range paths {
		if userFeats, ok := include[p]; ok {
			out = append(out, userFeats...)
			continue
		}
		content, err := os.ReadFile(filepath.Join(e.Root, p))
		if err != nil {
			continue
		}
		intervals := []feature.Interval{{Start: 1, End: strings.Count(string(content), "\n") + 2}}
		diffTarget := ""
		if diff != nil && diff.Files[p] {
			diffTarget = diff.Name
		}
		out = append(out, feature.CodeFeature{Path: p, Intervals: intervals, Level: feature.LevelInterval, DiffTarget: diffTarget})
	}
	return out, nil
}

func (e *Engine) walkTree() ([]string, error) {
	var paths []string
	err := filepath.Walk(e.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(e.Root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if info.IsDir() {
			if e.Ignore != nil && e.Ignore.Ignored(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if e.Ignore != nil && e.Ignore.Ignored(rel) {
			return nil
		}
		if info.Size() > int64(e.MaxChars) {
			return nil
		}
		if isBinary(path) {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, errs.NewInternalError("walk tree", err)
	}
	return paths, nil
}

// isBinary sniffs the first 8KB for a NUL byte.
func isBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer f.Close()
	buf := make([]byte, 8192)
	n, _ := f.Read(buf)
	for _, b := range buf[:n] {
		if b == 0 {
			return true
		}
	}
	return false
}

// renderGrouped sorts features by path (stable) and concatenates each
// rendered feature, with its own header, under header. Features of the same
// file are not merged into one block, and no ellipsis is added between
// features; the only "..." separators are those Renderer.Render places
// between the intervals of a single feature, whether adjacent or not.
func (e *Engine) renderGrouped(header string, active []feature.CodeFeature) (string, error) {
	sorted := make([]feature.CodeFeature, len(active))
	copy(sorted, active)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var b strings.Builder
	b.WriteString(header)
	for _, f := range sorted {
		rendered, err := e.Renderer.Render(f)
		if err != nil {
			return "", err
		}
		b.WriteString("\n\n")
		b.WriteString(rendered)
	}
	return b.String(), nil
}
