package refine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/minsignal/condense/internal/oracle"
	"github.com/minsignal/condense/internal/scoring"
	"github.com/minsignal/condense/internal/selection"
	"github.com/minsignal/condense/internal/signal"
)

// Config tunes the refinement loop.
type Config struct {
	// TargetSimilarity is the fidelity threshold that ends the loop.
	TargetSimilarity float64 `yaml:"target_similarity"`
	// MaxRounds bounds the loop regardless of progress.
	MaxRounds int `yaml:"max_rounds"`
	// InitialBudgetRatio is round one's cost budget as a fraction of the
	// tree's total cost.
	InitialBudgetRatio float64 `yaml:"initial_budget_ratio"`
	// BudgetStepRatio is added to the budget fraction after each
	// unsatisfying round. The budget never shrinks.
	BudgetStepRatio float64 `yaml:"budget_step_ratio"`
	// PriorityBoost multiplies the importance of fragments the analyzer
	// flagged as missing.
	PriorityBoost float64 `yaml:"priority_boost"`
}

// DefaultConfig returns the tuning the loop ships with.
func DefaultConfig() Config {
	return Config{
		TargetSimilarity:   0.85,
		MaxRounds:          5,
		InitialBudgetRatio: 0.5,
		BudgetStepRatio:    0.15,
		PriorityBoost:      1.5,
	}
}

// Validate rejects configs that cannot terminate or cannot progress.
func (c Config) Validate() error {
	if c.TargetSimilarity <= 0 || c.TargetSimilarity > 1 {
		return fmt.Errorf("target_similarity must be in (0,1], got %v", c.TargetSimilarity)
	}
	if c.MaxRounds < 1 {
		return fmt.Errorf("max_rounds must be at least 1, got %d", c.MaxRounds)
	}
	if c.InitialBudgetRatio <= 0 || c.InitialBudgetRatio > 1 {
		return fmt.Errorf("initial_budget_ratio must be in (0,1], got %v", c.InitialBudgetRatio)
	}
	if c.BudgetStepRatio <= 0 {
		return fmt.Errorf("budget_step_ratio must be positive, got %v", c.BudgetStepRatio)
	}
	if c.PriorityBoost < 1 {
		return fmt.Errorf("priority_boost must be at least 1, got %v", c.PriorityBoost)
	}
	return nil
}

// Observer is notified as the controller changes state. round is
// 1-based. Used to stream progress; may be nil.
type Observer func(state State, round int)

// Controller runs the compression loop against injected oracles.
type Controller struct {
	cfg      Config
	renderer oracle.Renderer
	judge    oracle.Judge
	analyzer oracle.Analyzer // optional
	counter  oracle.TokenCounter
	hint     oracle.RenderHint
	observe  Observer
	runID    uuid.UUID
}

// NewController wires a controller. analyzer and counter may be nil;
// without an analyzer, adjustment is budget-only.
func NewController(cfg Config, renderer oracle.Renderer, judge oracle.Judge, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid refine config: %w", err)
	}
	if renderer == nil || judge == nil {
		return nil, fmt.Errorf("renderer and judge are required")
	}
	c := &Controller{
		cfg:      cfg,
		renderer: renderer,
		judge:    judge,
		hint:     oracle.DefaultRenderHint(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Option configures optional controller collaborators.
type Option func(*Controller)

// WithAnalyzer enables per-fragment priority boosts from loss analysis.
func WithAnalyzer(a oracle.Analyzer) Option { return func(c *Controller) { c.analyzer = a } }

// WithTokenCounter enables token-based compression ratios in the report.
func WithTokenCounter(tc oracle.TokenCounter) Option { return func(c *Controller) { c.counter = tc } }

// WithRenderHint overrides the default per-tier retention depths.
func WithRenderHint(h oracle.RenderHint) Option { return func(c *Controller) { c.hint = h } }

// WithObserver registers a state-change callback.
func WithObserver(o Observer) Option { return func(c *Controller) { c.observe = o } }

// WithRunID fixes the report's run id instead of generating one. Callers
// that announce the run before starting it need the id up front.
func WithRunID(id uuid.UUID) Option { return func(c *Controller) { c.runID = id } }

// Run executes the loop on a scored tree and always returns a report,
// even alongside an error: a cancelled or exhausted run still carries its
// best round. The tree is not mutated; priority boosts apply to a working
// clone.
func (c *Controller) Run(ctx context.Context, tree *signal.Tree) (*Report, error) {
	runID := c.runID
	if runID == uuid.Nil {
		runID = uuid.New()
	}
	report := &Report{
		RunID:        runID,
		StartedAt:    time.Now().UTC(),
		OriginalText: tree.OriginalText,
		Tree:         tree,
		BestRound:    -1,
	}
	defer func() { report.FinishedAt = time.Now().UTC() }()

	totalCost := tree.TotalCost()
	if totalCost <= 0 {
		return report, fmt.Errorf("tree has no scorable content")
	}

	budgetFraction := c.cfg.InitialBudgetRatio
	boosts := make(map[string]float64)
	bestSimilarity := math.Inf(-1)

	for round := 1; round <= c.cfg.MaxRounds; round++ {
		// Cancellation is honored between rounds only; a round in flight is
		// allowed to finish so its result is never wasted.
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("refinement cancelled after %d rounds: %w", round-1, err)
		}

		rec := IterationRecord{Round: round, BudgetUsed: budgetFraction * totalCost}

		c.notify(StateSelecting, round)
		working := boostedTree(tree, boosts, c.cfg.PriorityBoost)
		subset := selection.Select(working, selection.CostBudget(rec.BudgetUsed))
		rec.FragmentCount = subset.Size()
		rec.SelectedCost = subset.SelectedCost
		rendering := subset.Tree()

		c.notify(StateRendering, round)
		rendered, err := c.renderer.Render(ctx, rendering, c.hint)
		if err != nil {
			// A failed render scores zero and the loop moves on with a
			// bigger budget. Only cancellation stops the run.
			rec.Err = err.Error()
			report.Records = append(report.Records, rec)
			if ctx.Err() != nil {
				return report, fmt.Errorf("refinement cancelled mid-round %d: %w", round, ctx.Err())
			}
			log.Warn().Err(err).Int("round", round).Msg("render failed, widening budget")
			budgetFraction = math.Min(1.0, budgetFraction+c.cfg.BudgetStepRatio)
			continue
		}
		rec.Rendered = rendered
		rec.RenderedCost = scoring.ContentCost(rendered)

		c.notify(StateJudging, round)
		similarity, err := c.judge.Similarity(ctx, tree.OriginalText, rendered)
		if err != nil {
			rec.Err = err.Error()
			similarity = 0
			if ctx.Err() != nil {
				report.Records = append(report.Records, rec)
				return report, fmt.Errorf("refinement cancelled mid-round %d: %w", round, ctx.Err())
			}
			log.Warn().Err(err).Int("round", round).Msg("judge failed, scoring round as zero")
		}
		rec.Similarity = similarity

		if similarity > bestSimilarity {
			bestSimilarity = similarity
			report.BestRound = round
			report.FinalRendered = rendered
			report.FinalSimilarity = similarity
			report.FinalSubset = subset
			report.FinalIDs = subset.IDs()
		}

		log.Debug().
			Int("round", round).
			Float64("budget", rec.BudgetUsed).
			Int("fragments", rec.FragmentCount).
			Float64("similarity", similarity).
			Msg("refinement round complete")

		if similarity >= c.cfg.TargetSimilarity {
			report.Records = append(report.Records, rec)
			report.Converged = true
			break
		}

		if round < c.cfg.MaxRounds {
			c.notify(StateAdjusting, round)
			rec.Boosted = c.adjust(ctx, tree, subset, rendered, &rec, boosts)
			budgetFraction = math.Min(1.0, budgetFraction+c.cfg.BudgetStepRatio)
		}
		report.Records = append(report.Records, rec)
	}

	c.notify(StateDone, report.Rounds())
	c.finalize(report)
	return report, nil
}

// adjust asks the analyzer what was lost and boosts the matching
// fragments. Analyzer failure is logged and ignored; the budget step
// alone still makes progress.
func (c *Controller) adjust(ctx context.Context, tree *signal.Tree, subset *selection.Subset, rendered string, rec *IterationRecord, boosts map[string]float64) []string {
	if c.analyzer == nil {
		return nil
	}
	feedback, err := c.analyzer.Analyze(ctx, tree.OriginalText, rendered)
	if err != nil {
		log.Warn().Err(err).Int("round", rec.Round).Msg("loss analysis failed, budget-only adjustment")
		return nil
	}
	rec.Feedback = feedback

	included := make(map[string]bool)
	for _, id := range subset.IDs() {
		included[id] = true
	}
	ids := matchFragments(tree, included, missingFacts(feedback))
	for _, id := range ids {
		boosts[id] = c.cfg.PriorityBoost
	}
	return ids
}

// finalize computes the report's compression ratio from the best round.
func (c *Controller) finalize(report *Report) {
	if report.FinalRendered == "" || report.OriginalText == "" {
		return
	}
	if c.counter != nil {
		orig := c.counter.Count(report.OriginalText)
		rend := c.counter.Count(report.FinalRendered)
		if orig > 0 {
			report.CompressionRatio = float64(rend) / float64(orig)
			return
		}
	}
	report.CompressionRatio = float64(len(report.FinalRendered)) / float64(len(report.OriginalText))
}

func (c *Controller) notify(state State, round int) {
	if c.observe != nil {
		c.observe(state, round)
	}
}

// boostedTree clones the tree and multiplies the importance of boosted
// fragments. Boost factors do not compound across rounds; a fragment is
// boosted once no matter how often the analyzer names it.
func boostedTree(tree *signal.Tree, boosts map[string]float64, factor float64) *signal.Tree {
	if len(boosts) == 0 {
		return tree
	}
	cp := tree.Clone()
	cp.Root.Walk(func(f *signal.Fragment) {
		if _, ok := boosts[f.ID]; ok {
			f.Importance *= factor
		}
	})
	return cp
}
