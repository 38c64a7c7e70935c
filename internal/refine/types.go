// Package refine runs the closed-loop compression cycle: select a
// fragment subset, render it, judge fidelity, adjust, repeat until the
// similarity target is met or the round budget runs out.
package refine

import (
	"time"

	"github.com/google/uuid"

	"github.com/minsignal/condense/internal/selection"
	"github.com/minsignal/condense/internal/signal"
)

// State is the controller's phase within a round.
type State string

const (
	StateSelecting State = "SELECTING"
	StateRendering State = "RENDERING"
	StateJudging   State = "JUDGING"
	StateAdjusting State = "ADJUSTING"
	StateDone      State = "DONE"
)

// IterationRecord captures one full round for the report.
type IterationRecord struct {
	Round         int      `json:"round"`
	BudgetUsed    float64  `json:"budget_used"`
	FragmentCount int      `json:"fragment_count"`
	SelectedCost  float64  `json:"selected_cost"`
	Rendered      string   `json:"rendered"`
	RenderedCost  float64  `json:"rendered_cost"`
	Similarity    float64  `json:"similarity"`
	Feedback      string   `json:"feedback,omitempty"`
	Boosted       []string `json:"boosted,omitempty"` // fragment ids given a priority boost
	Err           string   `json:"error,omitempty"`
}

// Report is the complete outcome of a refinement run.
type Report struct {
	RunID        uuid.UUID         `json:"run_id"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	OriginalText string            `json:"original_text"`
	Tree         *signal.Tree      `json:"tree"`
	Records      []IterationRecord `json:"records"`

	// Best round seen so far, not necessarily the last: a later round can
	// regress when the rewrite oracle has a bad day.
	BestRound       int               `json:"best_round"`
	FinalRendered   string            `json:"final_rendered"`
	FinalSimilarity float64           `json:"final_similarity"`
	FinalSubset     *selection.Subset `json:"-"`
	FinalIDs        []string          `json:"final_ids"`

	// Converged is true when the similarity target was reached, false when
	// the loop stopped on round exhaustion or cancellation.
	Converged bool `json:"converged"`

	CompressionRatio float64 `json:"compression_ratio"`
}

// Rounds returns how many rounds actually ran.
func (r *Report) Rounds() int { return len(r.Records) }
