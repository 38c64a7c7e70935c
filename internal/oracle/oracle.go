// Package oracle defines the narrow contracts the condensing core
// consumes from its external collaborators (structure extraction,
// rewriting, similarity judging, and token counting) plus the
// LLM-backed implementations.
//
// DESIGN: The core depends only on these interfaces. Production wiring
// injects the LLM/embedding implementations below; tests inject stubs,
// which makes the refinement loop deterministic and oracle-free.
package oracle

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/minsignal/condense/external"
	"github.com/minsignal/condense/internal/signal"
)

// Decomposer turns raw text into a fragment tree (structure oracle).
type Decomposer interface {
	Decompose(ctx context.Context, text string) (*signal.Tree, error)
}

// RenderHint tells the rewrite oracle how much detail to keep per tier.
// Depth values are in [0,1]: 1 preserves everything, 0.3 summarizes.
type RenderHint struct {
	Style     string
	TierDepth map[signal.Level]float64
}

// DefaultRenderHint mirrors the retention depths the system was tuned
// with: intent rank is always preserved verbatim, detail rank is
// summarized.
func DefaultRenderHint() RenderHint {
	return RenderHint{
		Style: "professional",
		TierDepth: map[signal.Level]float64{
			signal.LevelIntent:    1.0,
			signal.LevelEntity:    0.8,
			signal.LevelAttribute: 0.5,
			signal.LevelDetail:    0.3,
		},
	}
}

// Renderer turns a selected subtree into natural language and back
// (rewrite oracle).
type Renderer interface {
	// Render produces compressed natural-language text for the subtree.
	Render(ctx context.Context, subtree *signal.Tree, hint RenderHint) (string, error)
	// Expand reconstructs a verbose message from a rendered signal.
	Expand(ctx context.Context, rendered string) (string, error)
}

// Judge scores semantic fidelity between two texts (similarity oracle).
type Judge interface {
	// Similarity returns a score in [0,1].
	Similarity(ctx context.Context, original, rendered string) (float64, error)
}

// Analyzer reports what a rendered text lost relative to the original.
// The refinement controller maps its output to budget adjustments; it
// is optional and failures degrade to a plain global budget step.
type Analyzer interface {
	Analyze(ctx context.Context, original, rendered string) (string, error)
}

// TokenCounter counts subword tokens; used only for cost accounting.
type TokenCounter interface {
	Count(text string) int
}

// DecompositionError means the structure oracle failed or returned an
// unusable tree. It aborts the whole run; no refinement is attempted
// without a tree.
type DecompositionError struct {
	Cause error
	Raw   string // oracle output that failed to parse, truncated
}

func (e *DecompositionError) Error() string {
	return fmt.Sprintf("decomposition failed: %v", e.Cause)
}

func (e *DecompositionError) Unwrap() error { return e.Cause }

// ClientConfig is the shared configuration for LLM-backed oracles.
type ClientConfig struct {
	Provider  string
	Endpoint  string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration

	// Retries bounds automatic retries for malformed output or transient
	// failure. Kept small: a failed round is cheaper than a stuck one.
	Retries int

	httpClient *http.Client
}

// WithHTTPClient returns a copy using the given client; tests point the
// oracle at an httptest server, Bedrock wiring installs the SigV4 client.
func (c ClientConfig) WithHTTPClient(client *http.Client) ClientConfig {
	c.httpClient = client
	return c
}

// call issues one chat completion with this config.
func (c ClientConfig) call(ctx context.Context, system, user string, jsonMode bool) (*external.CallLLMResult, error) {
	return external.CallLLM(ctx, external.CallLLMParams{
		Provider:     c.Provider,
		Endpoint:     c.Endpoint,
		APIKey:       c.APIKey,
		Model:        c.Model,
		SystemPrompt: system,
		UserPrompt:   user,
		MaxTokens:    c.MaxTokens,
		Timeout:      c.Timeout,
		JSONMode:     jsonMode,
		HTTPClient:   c.httpClient,
	})
}
