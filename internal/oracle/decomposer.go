package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/minsignal/condense/internal/signal"
)

// =============================================================================
// LLM DECOMPOSER
// =============================================================================

const decomposeSystemPrompt = `You decompose messages into a semantic hierarchy for lossy compression.

Analyze the user's message and return ONLY a JSON object, no markdown fences.

For short task-shaped messages, use this shape:
{
  "intent": "<one short imperative phrase: what the message wants done>",
  "entities": {
    "actors": ["<people or teams involved>"],
    "objects": ["<systems, tickets, artifacts>"],
    "actions": ["<verbs applied to the objects>"]
  },
  "attributes": {
    "urgency": "<urgency phrase or empty string>",
    "quantities": ["<amounts, counts, percentages>"],
    "timeframes": ["<deadlines, durations>"]
  },
  "details": {
    "causes": ["<why this happened>"],
    "effects": ["<what it impacts>"],
    "conditions": ["<constraints or prerequisites>"]
  }
}

For long report-shaped messages, use this shape instead:
{
  "intent": "<one phrase naming the report's purpose>",
  "sections": [
    {
      "title": "<section heading>",
      "importance": "critical|high|medium|low",
      "key_concepts": ["<short noun phrases>"],
      "summary": "<two or three sentences>"
    }
  ]
}

Preserve exact figures, identifiers, and dates verbatim. Omit fields you
cannot fill rather than inventing content.`

// LLMDecomposer extracts a fragment tree from text via a chat model.
type LLMDecomposer struct {
	cfg     ClientConfig
	counter TokenCounter
}

// NewLLMDecomposer builds a decomposer. counter may be nil; token counts
// then stay zero on produced trees.
func NewLLMDecomposer(cfg ClientConfig, counter TokenCounter) *LLMDecomposer {
	return &LLMDecomposer{cfg: cfg, counter: counter}
}

// Decompose implements Decomposer. Malformed oracle output is retried up
// to cfg.Retries times; each attempt gets the parse failure appended to
// the prompt so the model can self-correct. A run cannot proceed without
// a tree, so exhaustion returns a DecompositionError.
func (d *LLMDecomposer) Decompose(ctx context.Context, text string) (*signal.Tree, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &DecompositionError{Cause: fmt.Errorf("input text is empty")}
	}

	prompt := text
	var lastErr error
	var lastRaw string
	for attempt := 0; attempt <= d.cfg.Retries; attempt++ {
		result, err := d.cfg.call(ctx, decomposeSystemPrompt, prompt, true)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			log.Warn().
				Err(err).
				Int("attempt", attempt).
				Msg("structure oracle call failed")
			continue
		}

		raw := stripCodeFences(result.Content)
		tree, err := signal.ParseExtraction([]byte(raw), text)
		if err == nil {
			if d.counter != nil {
				tree.OriginalTokens = d.counter.Count(text)
			}
			log.Debug().
				Int("fragments", tree.NodeCount()).
				Int("input_tokens", result.InputTokens).
				Int("output_tokens", result.OutputTokens).
				Msg("message decomposed")
			return tree, nil
		}

		lastErr = err
		lastRaw = raw
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Msg("structure output unparseable, retrying")
		prompt = text + "\n\nYour previous output was rejected: " + err.Error() +
			"\nReturn only the JSON object."
	}

	return nil, &DecompositionError{Cause: lastErr, Raw: truncate(lastRaw, 500)}
}

// stripCodeFences removes a leading/trailing markdown fence if the model
// wrapped its JSON despite instructions.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// =============================================================================
// SENTENCE DECOMPOSER
// =============================================================================

// SentenceDecomposer builds a flat tree without any oracle: the first
// sentence becomes the intent, the rest become detail fragments. It backs
// offline tests and the --offline CLI flag; compression quality is poor
// but every downstream stage still works.
type SentenceDecomposer struct {
	counter TokenCounter
}

// NewSentenceDecomposer builds the offline decomposer. counter may be nil.
func NewSentenceDecomposer(counter TokenCounter) *SentenceDecomposer {
	return &SentenceDecomposer{counter: counter}
}

// Decompose implements Decomposer.
func (d *SentenceDecomposer) Decompose(_ context.Context, text string) (*signal.Tree, error) {
	sentences := signal.SplitSentences(text)
	if len(sentences) == 0 {
		return nil, &DecompositionError{Cause: fmt.Errorf("input text has no sentences")}
	}

	root := &signal.Fragment{Content: sentences[0], Level: signal.LevelIntent, Kind: "intent"}
	for _, s := range sentences[1:] {
		root.Children = append(root.Children, &signal.Fragment{
			Content: s,
			Level:   signal.LevelDetail,
			Kind:    "sentence",
		})
	}

	tree := &signal.Tree{Root: root, OriginalText: text}
	signal.AssignIDs(tree.Root)
	if d.counter != nil {
		tree.OriginalTokens = d.counter.Count(text)
	}
	if err := tree.Validate(); err != nil {
		return nil, &DecompositionError{Cause: err}
	}
	return tree, nil
}
