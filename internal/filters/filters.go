// Package filters implements composable passes over feature lists:
// embedding-similarity ranking, truncation to a token budget, an
// LLM-backed selector, and the default auto-context pipeline.
//
// A filter is total, deterministic given its parameters, and never
// fabricates a feature not present in its input: every filter's output is
// a subset of its input.
package filters

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/arrowgrove/codeloom/internal/feature"
	"github.com/arrowgrove/codeloom/internal/llmclient"
)

// ErrSelectorParse is returned when the selector model's response could not
// be parsed into path/range references; the pipeline falls back to
// DefaultFilter without the LLM step when it sees this error.
var ErrSelectorParse = errors.New("could not parse feature selector response")

// Filter is a total, deterministic pass over a feature list.
type Filter func(ctx context.Context, in []feature.CodeFeature) ([]feature.CodeFeature, error)

// EmbeddingSimilarityFilter scores each feature by cosine similarity between
// embed(prompt) and embed(render(feature)), returning features sorted
// descending by score. Embeddings are cached by content hash.
type EmbeddingSimilarityFilter struct {
	Client   llmclient.Client
	Renderer *feature.Renderer
	Model    string
	Prompt   string

	mu    sync.Mutex
	cache map[string][]float64
}

func NewEmbeddingSimilarityFilter(client llmclient.Client, renderer *feature.Renderer, model, prompt string) *EmbeddingSimilarityFilter {
	return &EmbeddingSimilarityFilter{Client: client, Renderer: renderer, Model: model, Prompt: prompt, cache: map[string][]float64{}}
}

func (f *EmbeddingSimilarityFilter) embed(ctx context.Context, text string) ([]float64, error) {
	h := sha256.Sum256([]byte(text))
	key := hex.EncodeToString(h[:])

	f.mu.Lock()
	if v, ok := f.cache[key]; ok {
		f.mu.Unlock()
		return v, nil
	}
	f.mu.Unlock()

	vecs, err := f.Client.Embed(ctx, f.Model, []string{text})
	if err != nil || len(vecs) == 0 {
		return nil, err
	}

	f.mu.Lock()
	f.cache[key] = vecs[0]
	f.mu.Unlock()
	return vecs[0], nil
}

func (f *EmbeddingSimilarityFilter) Apply(ctx context.Context, in []feature.CodeFeature) ([]feature.CodeFeature, error) {
	if f.Prompt == "" || len(in) == 0 {
		out := make([]feature.CodeFeature, len(in))
		copy(out, in)
		return out, nil
	}

	promptVec, err := f.embed(ctx, f.Prompt)
	if err != nil {
		return nil, err
	}

	type scored struct {
		f     feature.CodeFeature
		score float64
	}
	scoredFeatures := make([]scored, 0, len(in))
	for _, feat := range in {
		rendered, err := f.Renderer.Render(feat)
		if err != nil {
			return nil, err
		}
		vec, err := f.embed(ctx, rendered)
		if err != nil {
			return nil, err
		}
		score, err := llmclient.CosineSimilarity(promptVec, vec)
		if err != nil {
			score = 0
		}
		scoredFeatures = append(scoredFeatures, scored{feat, score})
	}

	sort.SliceStable(scoredFeatures, func(i, j int) bool { return scoredFeatures[i].score > scoredFeatures[j].score })

	out := make([]feature.CodeFeature, len(scoredFeatures))
	for i, s := range scoredFeatures {
		out[i] = s.f
	}
	return out, nil
}

// TruncateFilter greedily keeps features in input order, dropping any whose
// addition would exceed MaxTokens. When RespectUserInclude is true,
// user-included features are kept even if they push over budget, but other
// features are then dropped until the budget holds again.
type TruncateFilter struct {
	MaxTokens          int
	Model              string
	RespectUserInclude bool
	Renderer           *feature.Renderer
}

func (f *TruncateFilter) Apply(ctx context.Context, in []feature.CodeFeature) ([]feature.CodeFeature, error) {
	var kept []feature.CodeFeature
	total := 0

	for _, feat := range in {
		n, err := f.Renderer.CountTokens(feat, f.Model)
		if err != nil {
			return nil, err
		}
		if total+n <= f.MaxTokens {
			kept = append(kept, feat)
			total += n
			continue
		}
		if f.RespectUserInclude && feat.UserIncluded {
			kept = append(kept, feat)
			total += n
			continue
		}
	}

	if !f.RespectUserInclude || total <= f.MaxTokens {
		return kept, nil
	}

	// Over budget even after always-keeping user includes: drop
	// non-user-included features (last added first) until it fits.
	for i := len(kept) - 1; i >= 0 && total > f.MaxTokens; i-- {
		if kept[i].UserIncluded {
			continue
		}
		n, err := f.Renderer.CountTokens(kept[i], f.Model)
		if err != nil {
			return nil, err
		}
		total -= n
		kept = append(kept[:i], kept[i+1:]...)
	}
	return kept, nil
}

// LLMFeatureSelector greedily pre-selects to fit the selector model's
// context, sends a classification prompt, and parses a list of path/range
// references from the response, matching them back to input features.
type LLMFeatureSelector struct {
	Client        llmclient.Client
	Renderer      *feature.Renderer
	SelectorModel string
	SelectorBudget int
	Prompt        string
}

var selectorLineRe = regexp.MustCompile(`^([^:\s]+)(?::(\d+)-(\d+))?$`)

func (s *LLMFeatureSelector) Apply(ctx context.Context, in []feature.CodeFeature) ([]feature.CodeFeature, error) {
	pre := &TruncateFilter{MaxTokens: s.SelectorBudget, Model: s.SelectorModel, Renderer: s.Renderer}
	candidates, err := pre.Apply(ctx, in)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("Select the files and line ranges relevant to the request below.\n")
	b.WriteString("Request: " + s.Prompt + "\n\nCandidates:\n")
	for _, feat := range candidates {
		rendered, err := s.Renderer.Render(feat)
		if err != nil {
			return nil, err
		}
		b.WriteString(rendered)
		b.WriteString("\n---\n")
	}
	b.WriteString("\nRespond with one path[:start-end] reference per line.")

	resp, _, err := s.Client.Complete(ctx, s.SelectorModel, []llmclient.Message{{Role: "user", Content: b.String()}})
	if err != nil {
		return nil, err
	}

	refs, err := parseSelectorResponse(resp)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, ErrSelectorParse
	}

	byPath := map[string][]feature.CodeFeature{}
	for _, feat := range candidates {
		byPath[feat.Path] = append(byPath[feat.Path], feat)
	}

	var out []feature.CodeFeature
	for _, ref := range refs {
		matches, ok := byPath[ref.path]
		if !ok {
			continue
		}
		for _, m := range matches {
			if ref.hasRange {
				// Preserve original metadata but only if the ref overlaps it.
				for _, iv := range m.Intervals {
					if ref.start < iv.End && iv.Start < ref.end {
						out = append(out, m)
						break
					}
				}
			} else {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

type selectorRef struct {
	path             string
	start, end       int
	hasRange         bool
}

func parseSelectorResponse(resp string) ([]selectorRef, error) {
	var refs []selectorRef
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := selectorLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		ref := selectorRef{path: m[1]}
		if m[2] != "" && m[3] != "" {
			start, errStart := strconv.Atoi(m[2])
			end, errEnd := strconv.Atoi(m[3])
			if errStart == nil && errEnd == nil {
				ref.start, ref.end, ref.hasRange = start, end+1, true
			}
		}
		refs = append(refs, ref)
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: no parseable references in %q", ErrSelectorParse, resp)
	}
	return refs, nil
}

// DefaultFilter is the composition used in auto mode: (1) keep
// user-included always; (2) if UseLLM, run the selector on the remainder;
// (3) else if embeddings enabled and prompt non-empty, run the embedding
// filter; (4) run truncation.
type DefaultFilter struct {
	MaxTokens        int
	Model            string
	UseLLM           bool
	UseEmbeddings    bool
	Prompt           string
	Renderer         *feature.Renderer
	Selector         *LLMFeatureSelector
	EmbeddingFilter  *EmbeddingSimilarityFilter
}

func (d *DefaultFilter) Apply(ctx context.Context, in []feature.CodeFeature) ([]feature.CodeFeature, error) {
	var userIncluded, rest []feature.CodeFeature
	for _, f := range in {
		if f.UserIncluded {
			userIncluded = append(userIncluded, f)
		} else {
			rest = append(rest, f)
		}
	}

	ranked := rest
	if d.UseLLM && d.Selector != nil {
		selected, err := d.Selector.Apply(ctx, rest)
		if errors.Is(err, ErrSelectorParse) {
			ranked = rest // fall back to DefaultFilter without the LLM step
		} else if err != nil {
			return nil, err
		} else {
			ranked = selected
		}
	} else if d.UseEmbeddings && d.Prompt != "" && d.EmbeddingFilter != nil {
		scored, err := d.EmbeddingFilter.Apply(ctx, rest)
		if err != nil {
			return nil, err
		}
		ranked = scored
	}

	combined := append(append([]feature.CodeFeature{}, userIncluded...), ranked...)
	trunc := &TruncateFilter{MaxTokens: d.MaxTokens, Model: d.Model, RespectUserInclude: true, Renderer: d.Renderer}
	return trunc.Apply(ctx, combined)
}
