package refine

import (
	"context"
	"fmt"

	"github.com/minsignal/condense/internal/oracle"
	"github.com/minsignal/condense/internal/selection"
	"github.com/minsignal/condense/internal/signal"
)

// MeasureFrontierPoint validates one structural frontier point with a
// real render+judge round. The returned copy carries the measured
// similarity and is flagged OracleMeasured; the input point is not
// modified. This is the expensive counterpart to the proxy sweep and is
// meant for spot checks, not whole curves.
func MeasureFrontierPoint(ctx context.Context, renderer oracle.Renderer, judge oracle.Judge, tree *signal.Tree, point selection.FrontierPoint) (selection.FrontierPoint, error) {
	subset := selection.Select(tree, selection.CostBudget(point.MinimumCost))
	rendered, err := renderer.Render(ctx, subset.Tree(), oracle.DefaultRenderHint())
	if err != nil {
		return point, fmt.Errorf("measure frontier point: %w", err)
	}
	similarity, err := judge.Similarity(ctx, tree.OriginalText, rendered)
	if err != nil {
		return point, fmt.Errorf("measure frontier point: %w", err)
	}
	point.MeasuredSimilarity = similarity
	point.OracleMeasured = true
	return point, nil
}
