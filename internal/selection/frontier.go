// Frontier construction: minimum cost to preserve a given share of the
// tree's importance.
//
// True semantic similarity can only be measured by the judge oracle on
// rendered text, so the frontier sweeps budgets and uses the importance
// ratio as a monotone proxy. Points are reported as structural estimates
// (OracleMeasured=false) until a caller renders and judges one.
package selection

import (
	"math"
	"sort"

	"github.com/minsignal/condense/internal/signal"
)

// FrontierPoint is one entry on the cost/fidelity tradeoff curve.
type FrontierPoint struct {
	// Target is the importance-ratio level this point answers for.
	Target float64 `json:"target"`
	// MinimumCost is the smallest swept budget whose selection reached
	// the target ratio.
	MinimumCost float64 `json:"minimum_cost"`
	// ImportanceRatio achieved at MinimumCost (>= Target unless the
	// target is unreachable, in which case it is the full-tree ratio).
	ImportanceRatio float64 `json:"importance_ratio"`

	// OracleMeasured is true only after MeasuredSimilarity was obtained
	// from a real render+judge round; the frontier is otherwise a
	// structural estimate, not a validated similarity curve.
	OracleMeasured     bool    `json:"oracle_measured"`
	MeasuredSimilarity float64 `json:"measured_similarity,omitempty"`
}

// DefaultFrontierTargets mirror the similarity levels the dashboard plots.
var DefaultFrontierTargets = []float64{0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 0.99}

// BuildFrontier sweeps geometrically spaced budgets from zero to the
// tree's total cost and reports, per target, the cheapest budget whose
// selection preserves that share of total importance.
//
// Targets are processed in ascending order; by construction the returned
// MinimumCost values are non-decreasing in the target.
func BuildFrontier(tree *signal.Tree, targets []float64, steps int) []FrontierPoint {
	if len(targets) == 0 {
		targets = DefaultFrontierTargets
	}
	if steps < 2 {
		steps = 16
	}
	sorted := append([]float64(nil), targets...)
	sort.Float64s(sorted)

	total := tree.TotalCost()
	type sweepPoint struct {
		cost  float64
		ratio float64
	}
	var sweep []sweepPoint

	// Geometric spacing concentrates samples where the curve bends, near
	// small budgets. Always include 0 and the full budget.
	budgets := []float64{0}
	if total > 0 {
		lo := total / math.Pow(2, float64(steps-1))
		for b := lo; b < total; b *= 2 {
			budgets = append(budgets, b)
		}
	}
	budgets = append(budgets, total)

	// Selected importance is non-decreasing in the budget, so the swept
	// ratios are already monotone.
	fullRatio := 0.0
	for _, b := range budgets {
		sub := Select(tree, CostBudget(b))
		fullRatio = sub.ImportanceRatio()
		sweep = append(sweep, sweepPoint{cost: sub.SelectedCost, ratio: fullRatio})
	}

	points := make([]FrontierPoint, 0, len(sorted))
	lastCost := 0.0
	for _, target := range sorted {
		point := FrontierPoint{Target: target, MinimumCost: total, ImportanceRatio: fullRatio}
		for _, sp := range sweep {
			if sp.ratio >= target {
				point.MinimumCost = sp.cost
				point.ImportanceRatio = sp.ratio
				break
			}
		}
		if point.MinimumCost < lastCost {
			point.MinimumCost = lastCost
		}
		lastCost = point.MinimumCost
		points = append(points, point)
	}
	return points
}

// SelectAtRatio returns the cheapest swept selection whose importance
// ratio reaches target; used to materialize a frontier point for oracle
// measurement.
func SelectAtRatio(tree *signal.Tree, target float64, steps int) *Subset {
	points := BuildFrontier(tree, []float64{target}, steps)
	return Select(tree, CostBudget(points[0].MinimumCost))
}
