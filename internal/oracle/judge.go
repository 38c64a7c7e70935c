package oracle

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/minsignal/condense/external"
)

// =============================================================================
// EMBEDDING JUDGE
// =============================================================================

// EmbeddingConfig configures the similarity oracle.
type EmbeddingConfig struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// EmbeddingJudge scores similarity as the cosine of the two texts'
// embedding vectors, clipped to [0,1]. Both texts go in one request so a
// partial failure cannot produce a half-scored pair.
type EmbeddingJudge struct {
	cfg EmbeddingConfig
}

// NewEmbeddingJudge builds a judge.
func NewEmbeddingJudge(cfg EmbeddingConfig) *EmbeddingJudge {
	return &EmbeddingJudge{cfg: cfg}
}

// Similarity implements Judge.
func (j *EmbeddingJudge) Similarity(ctx context.Context, original, rendered string) (float64, error) {
	vecs, err := external.EmbedTexts(ctx, external.EmbedParams{
		Endpoint: j.cfg.Endpoint,
		APIKey:   j.cfg.APIKey,
		Model:    j.cfg.Model,
		Inputs:   []string{original, rendered},
		Timeout:  j.cfg.Timeout,
	})
	if err != nil {
		return 0, fmt.Errorf("similarity oracle failed: %w", err)
	}
	if len(vecs) != 2 {
		return 0, fmt.Errorf("similarity oracle returned %d vectors, want 2", len(vecs))
	}
	return clipUnit(cosine(vecs[0], vecs[1])), nil
}

// cosine returns the cosine similarity of two vectors, 0 for degenerate
// input.
func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func clipUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// =============================================================================
// LEXICAL JUDGE
// =============================================================================

// LexicalJudge is the offline fallback: word-set overlap (Jaccard) between
// the two texts. Far cruder than embeddings but monotone enough to drive
// the refinement loop in tests and offline mode.
type LexicalJudge struct{}

// Similarity implements Judge.
func (LexicalJudge) Similarity(_ context.Context, original, rendered string) (float64, error) {
	a := wordSet(original)
	b := wordSet(rendered)
	if len(a) == 0 && len(b) == 0 {
		return 1, nil
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0, nil
	}
	return float64(inter) / float64(union), nil
}

func wordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,:;!?()\"'")
		if len(w) > 2 {
			set[w] = true
		}
	}
	return set
}

// =============================================================================
// LLM ANALYZER
// =============================================================================

const analyzeSystemPrompt = `You compare an original message with its compressed rendition.

Return ONLY a JSON object:
{
  "missing": ["<each important fact present in the original but absent or distorted in the rendition>"],
  "verdict": "<one sentence overall assessment>"
}

List facts as short phrases quoting the original's wording. An empty
"missing" array means nothing important was lost.`

// LLMAnalyzer asks a chat model what the rendition lost. Its report feeds
// per-fragment priority adjustment in the refinement loop.
type LLMAnalyzer struct {
	cfg ClientConfig
}

// NewLLMAnalyzer builds an analyzer.
func NewLLMAnalyzer(cfg ClientConfig) *LLMAnalyzer {
	return &LLMAnalyzer{cfg: cfg}
}

// Analyze implements Analyzer.
func (a *LLMAnalyzer) Analyze(ctx context.Context, original, rendered string) (string, error) {
	prompt := fmt.Sprintf("ORIGINAL:\n%s\n\nRENDITION:\n%s", original, rendered)
	result, err := a.cfg.call(ctx, analyzeSystemPrompt, prompt, true)
	if err != nil {
		return "", fmt.Errorf("analysis oracle failed: %w", err)
	}
	return stripCodeFences(result.Content), nil
}
