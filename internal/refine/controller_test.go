package refine

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minsignal/condense/internal/oracle"
	"github.com/minsignal/condense/internal/signal"
)

// stubRenderer joins selected content; optionally fails on scripted rounds.
type stubRenderer struct {
	calls   int
	failOn  map[int]bool
	lastIDs []string
}

func (r *stubRenderer) Render(_ context.Context, subtree *signal.Tree, _ oracle.RenderHint) (string, error) {
	r.calls++
	if r.failOn[r.calls] {
		return "", fmt.Errorf("render blew up")
	}
	var parts []string
	r.lastIDs = nil
	subtree.Root.Walk(func(f *signal.Fragment) {
		parts = append(parts, f.Content)
		r.lastIDs = append(r.lastIDs, f.ID)
	})
	return strings.Join(parts, ". "), nil
}

func (r *stubRenderer) Expand(_ context.Context, rendered string) (string, error) {
	return rendered, nil
}

// scriptJudge replays a fixed similarity sequence; an entry < 0 is an error.
type scriptJudge struct {
	scores []float64
	calls  int
}

func (j *scriptJudge) Similarity(context.Context, string, string) (float64, error) {
	score := j.scores[j.calls%len(j.scores)]
	j.calls++
	if score < 0 {
		return 0, fmt.Errorf("judge unavailable")
	}
	return score, nil
}

type stubAnalyzer struct {
	feedback string
	calls    int
}

func (a *stubAnalyzer) Analyze(context.Context, string, string) (string, error) {
	a.calls++
	return a.feedback, nil
}

// refineTree: total cost 10 so the default half budget covers only one
// child on round one and admits the rest as it widens.
func refineTree() *signal.Tree {
	return &signal.Tree{
		Root: &signal.Fragment{
			ID: "f0", Content: "restart payment service", Level: signal.LevelIntent,
			Importance: 1.0, Cost: 2,
			Children: []*signal.Fragment{
				{ID: "f1", Content: "error rate forty percent", Level: signal.LevelEntity,
					Importance: 0.9, Cost: 4},
				{ID: "f2", Content: "valuable child detail", Level: signal.LevelDetail,
					Importance: 0.3, Cost: 4},
			},
		},
		OriginalText: "Restart the payment service. Error rate is at forty percent. There is a valuable child detail.",
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxRounds = 5
	return cfg
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cases := map[string]func(*Config){
		"zero target":     func(c *Config) { c.TargetSimilarity = 0 },
		"target above 1":  func(c *Config) { c.TargetSimilarity = 1.5 },
		"zero rounds":     func(c *Config) { c.MaxRounds = 0 },
		"zero budget":     func(c *Config) { c.InitialBudgetRatio = 0 },
		"zero step":       func(c *Config) { c.BudgetStepRatio = 0 },
		"shrinking boost": func(c *Config) { c.PriorityBoost = 0.5 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRunConvergesImmediately(t *testing.T) {
	ctrl, err := NewController(testConfig(), &stubRenderer{}, &scriptJudge{scores: []float64{0.95}})
	require.NoError(t, err)

	report, err := ctrl.Run(context.Background(), refineTree())
	require.NoError(t, err)

	assert.True(t, report.Converged)
	assert.Equal(t, 1, report.Rounds())
	assert.Equal(t, 1, report.BestRound)
	assert.InDelta(t, 0.95, report.FinalSimilarity, 1e-9)
	assert.NotEmpty(t, report.FinalRendered)
	assert.NotEqual(t, uuid.Nil, report.RunID)
}

func TestRunStopsAtMaxRounds(t *testing.T) {
	judge := &scriptJudge{scores: []float64{0.1}}
	ctrl, err := NewController(testConfig(), &stubRenderer{}, judge)
	require.NoError(t, err)

	report, err := ctrl.Run(context.Background(), refineTree())
	require.NoError(t, err)

	assert.False(t, report.Converged)
	assert.Equal(t, 5, report.Rounds())
	assert.Equal(t, 5, judge.calls)
}

func TestRunTracksBestRoundNotLast(t *testing.T) {
	// Round two is the peak; the loop must report it, not round five.
	judge := &scriptJudge{scores: []float64{0.5, 0.7, 0.4, 0.3, 0.2}}
	ctrl, err := NewController(testConfig(), &stubRenderer{}, judge)
	require.NoError(t, err)

	report, err := ctrl.Run(context.Background(), refineTree())
	require.NoError(t, err)

	assert.Equal(t, 2, report.BestRound)
	assert.InDelta(t, 0.7, report.FinalSimilarity, 1e-9)
	assert.Equal(t, report.Records[1].Rendered, report.FinalRendered)
}

func TestRunBudgetIsMonotone(t *testing.T) {
	ctrl, err := NewController(testConfig(), &stubRenderer{}, &scriptJudge{scores: []float64{0.1}})
	require.NoError(t, err)

	report, err := ctrl.Run(context.Background(), refineTree())
	require.NoError(t, err)

	prev := 0.0
	for _, rec := range report.Records {
		assert.GreaterOrEqual(t, rec.BudgetUsed, prev, "round %d shrank the budget", rec.Round)
		prev = rec.BudgetUsed
	}
	// Budget widening admits more fragments over the run.
	first := report.Records[0].FragmentCount
	last := report.Records[len(report.Records)-1].FragmentCount
	assert.Greater(t, last, first)
}

func TestRunJudgeFailureScoresZero(t *testing.T) {
	judge := &scriptJudge{scores: []float64{-1, 0.9}}
	ctrl, err := NewController(testConfig(), &stubRenderer{}, judge)
	require.NoError(t, err)

	report, err := ctrl.Run(context.Background(), refineTree())
	require.NoError(t, err)

	require.GreaterOrEqual(t, report.Rounds(), 2)
	assert.Zero(t, report.Records[0].Similarity)
	assert.NotEmpty(t, report.Records[0].Err)
	assert.True(t, report.Converged, "round two recovers")
}

func TestRunRenderFailureContinues(t *testing.T) {
	renderer := &stubRenderer{failOn: map[int]bool{1: true}}
	ctrl, err := NewController(testConfig(), renderer, &scriptJudge{scores: []float64{0.9}})
	require.NoError(t, err)

	report, err := ctrl.Run(context.Background(), refineTree())
	require.NoError(t, err)

	assert.NotEmpty(t, report.Records[0].Err)
	assert.Empty(t, report.Records[0].Rendered)
	assert.True(t, report.Converged)
	assert.Equal(t, 2, report.BestRound)
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ctrl, err := NewController(testConfig(), &stubRenderer{}, &scriptJudge{scores: []float64{0.1}})
	require.NoError(t, err)

	report, err := ctrl.Run(ctx, refineTree())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report, "a cancelled run still returns its report")
	assert.Zero(t, report.Rounds())
}

func TestRunAnalyzerBoostsMissingFragments(t *testing.T) {
	analyzer := &stubAnalyzer{feedback: `{"missing": ["the valuable child detail was dropped"]}`}
	judge := &scriptJudge{scores: []float64{0.1}}
	ctrl, err := NewController(testConfig(), &stubRenderer{}, judge, WithAnalyzer(analyzer))
	require.NoError(t, err)

	report, err := ctrl.Run(context.Background(), refineTree())
	require.NoError(t, err)

	assert.Positive(t, analyzer.calls)
	// Round one's budget leaves f2 out, so it matches the missing fact.
	assert.Contains(t, report.Records[0].Boosted, "f2")
	assert.Equal(t, analyzer.feedback, report.Records[0].Feedback)
}

func TestRunFixedRunID(t *testing.T) {
	id := uuid.New()
	ctrl, err := NewController(testConfig(), &stubRenderer{}, &scriptJudge{scores: []float64{0.9}},
		WithRunID(id))
	require.NoError(t, err)

	report, err := ctrl.Run(context.Background(), refineTree())
	require.NoError(t, err)
	assert.Equal(t, id, report.RunID)
}

func TestRunObserverSeesStates(t *testing.T) {
	var states []State
	ctrl, err := NewController(testConfig(), &stubRenderer{}, &scriptJudge{scores: []float64{0.9}},
		WithObserver(func(s State, _ int) { states = append(states, s) }))
	require.NoError(t, err)

	_, err = ctrl.Run(context.Background(), refineTree())
	require.NoError(t, err)

	assert.Equal(t, []State{StateSelecting, StateRendering, StateJudging, StateDone}, states)
}

func TestRunEmptyTree(t *testing.T) {
	ctrl, err := NewController(testConfig(), &stubRenderer{}, &scriptJudge{scores: []float64{0.9}})
	require.NoError(t, err)

	tree := &signal.Tree{Root: &signal.Fragment{ID: "f0", Content: "x"}}
	_, err = ctrl.Run(context.Background(), tree)
	assert.Error(t, err, "an unscored tree has no cost to budget")
}
