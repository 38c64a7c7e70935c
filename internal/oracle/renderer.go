package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/minsignal/condense/internal/signal"
)

// =============================================================================
// LLM RENDERER
// =============================================================================

const renderSystemPrompt = `You rewrite a semantic outline into one compressed message.

You receive the surviving fragments of a decomposed message, grouped by
semantic rank with per-rank retention depth. Produce a single fluent
message that:
- states the INTENT first and keeps it fully
- mentions ranks with depth 1.0 verbatim, paraphrases lower depths
- preserves every figure, identifier, and date exactly as written
- adds NOTHING that is not in the outline

Return only the rewritten message, no preamble and no commentary.`

const expandSystemPrompt = `You expand a compressed status message back into a full professional message.

Reconstruct the natural phrasing a colleague would have written: greeting
omitted, complete sentences, logical ordering. Keep every fact, figure,
and identifier from the input exactly; invent nothing new. Return only
the expanded message.`

// LLMRenderer rewrites selected subtrees via a chat model.
type LLMRenderer struct {
	cfg ClientConfig
}

// NewLLMRenderer builds a renderer.
func NewLLMRenderer(cfg ClientConfig) *LLMRenderer {
	return &LLMRenderer{cfg: cfg}
}

// Render implements Renderer.
func (r *LLMRenderer) Render(ctx context.Context, subtree *signal.Tree, hint RenderHint) (string, error) {
	if subtree == nil || subtree.Root == nil {
		return "", fmt.Errorf("nothing to render: empty subtree")
	}

	prompt := formatOutline(subtree, hint)
	result, err := r.cfg.call(ctx, renderSystemPrompt, prompt, false)
	if err != nil {
		return "", fmt.Errorf("rewrite oracle failed: %w", err)
	}
	rendered := strings.TrimSpace(result.Content)
	if rendered == "" {
		return "", fmt.Errorf("rewrite oracle returned empty text")
	}
	log.Debug().
		Int("fragments", subtree.NodeCount()).
		Int("rendered_chars", len(rendered)).
		Msg("subtree rendered")
	return rendered, nil
}

// Expand implements Renderer.
func (r *LLMRenderer) Expand(ctx context.Context, rendered string) (string, error) {
	if strings.TrimSpace(rendered) == "" {
		return "", fmt.Errorf("nothing to expand: empty text")
	}
	result, err := r.cfg.call(ctx, expandSystemPrompt, rendered, false)
	if err != nil {
		return "", fmt.Errorf("expand oracle failed: %w", err)
	}
	expanded := strings.TrimSpace(result.Content)
	if expanded == "" {
		return "", fmt.Errorf("expand oracle returned empty text")
	}
	return expanded, nil
}

// formatOutline renders the subtree as a rank-grouped outline. Grouping by
// rank instead of tree order keeps the prompt stable across selector
// tie-break changes, which keeps the oracle cache warm.
func formatOutline(subtree *signal.Tree, hint RenderHint) string {
	byLevel := map[signal.Level][]*signal.Fragment{}
	subtree.Root.Walk(func(f *signal.Fragment) {
		byLevel[f.Level] = append(byLevel[f.Level], f)
	})

	var b strings.Builder
	if hint.Style != "" {
		fmt.Fprintf(&b, "Style: %s\n\n", hint.Style)
	}
	for _, lvl := range []signal.Level{
		signal.LevelIntent, signal.LevelEntity, signal.LevelAttribute, signal.LevelDetail,
	} {
		frags := byLevel[lvl]
		if len(frags) == 0 {
			continue
		}
		depth, ok := hint.TierDepth[lvl]
		if !ok {
			depth = 1.0
		}
		fmt.Fprintf(&b, "## %s (retention depth %.1f)\n", lvl, depth)
		for _, f := range frags {
			if f.Kind != "" {
				fmt.Fprintf(&b, "- [%s] %s\n", f.Kind, f.Content)
			} else {
				fmt.Fprintf(&b, "- %s\n", f.Content)
			}
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// =============================================================================
// TEMPLATE RENDERER
// =============================================================================

// TemplateRenderer joins fragments mechanically without any oracle. Used
// offline; the output is telegraphic but deterministic.
type TemplateRenderer struct{}

// Render implements Renderer.
func (TemplateRenderer) Render(_ context.Context, subtree *signal.Tree, _ RenderHint) (string, error) {
	if subtree == nil || subtree.Root == nil {
		return "", fmt.Errorf("nothing to render: empty subtree")
	}
	var parts []string
	subtree.Root.Walk(func(f *signal.Fragment) {
		if c := strings.TrimSpace(f.Content); c != "" {
			parts = append(parts, c)
		}
	})
	return strings.Join(parts, ". "), nil
}

// Expand implements Renderer. Offline expansion is the identity.
func (TemplateRenderer) Expand(_ context.Context, rendered string) (string, error) {
	return rendered, nil
}
