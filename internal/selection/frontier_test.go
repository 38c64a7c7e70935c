package selection

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minsignal/condense/internal/signal"
)

func frontierTree() *signal.Tree {
	return &signal.Tree{
		Root: &signal.Fragment{
			ID: "f0", Importance: 2.0, Cost: 2, Content: "root",
			Children: []*signal.Fragment{
				{ID: "f1", Importance: 1.5, Cost: 4, Content: "a"},
				{ID: "f2", Importance: 1.0, Cost: 3, Content: "b"},
				{ID: "f3", Importance: 0.5, Cost: 6, Content: "c"},
				{ID: "f4", Importance: 0.2, Cost: 5, Content: "d"},
			},
		},
	}
}

func TestBuildFrontierShape(t *testing.T) {
	tree := frontierTree()
	points := BuildFrontier(tree, nil, 12)
	require.Len(t, points, len(DefaultFrontierTargets))

	// Targets come back in ascending order.
	assert.True(t, sort.SliceIsSorted(points, func(i, j int) bool {
		return points[i].Target < points[j].Target
	}))

	for i, p := range points {
		assert.GreaterOrEqual(t, p.ImportanceRatio, 0.0)
		assert.LessOrEqual(t, p.ImportanceRatio, 1.0+1e-9)
		assert.False(t, p.OracleMeasured, "structural points must not claim oracle backing")
		if i > 0 {
			assert.GreaterOrEqual(t, p.MinimumCost, points[i-1].MinimumCost,
				"higher fidelity can never be cheaper")
		}
	}
}

func TestBuildFrontierReachesFullRatio(t *testing.T) {
	tree := frontierTree()
	points := BuildFrontier(tree, []float64{1.0}, 12)
	require.Len(t, points, 1)
	assert.InDelta(t, 1.0, points[0].ImportanceRatio, 1e-9)
	assert.InDelta(t, tree.TotalCost(), points[0].MinimumCost, 1e-9)
}

func TestBuildFrontierUnsortedTargets(t *testing.T) {
	points := BuildFrontier(frontierTree(), []float64{0.9, 0.5, 0.7}, 12)
	require.Len(t, points, 3)
	assert.Equal(t, 0.5, points[0].Target)
	assert.Equal(t, 0.7, points[1].Target)
	assert.Equal(t, 0.9, points[2].Target)
}

func TestBuildFrontierRootOnlyTree(t *testing.T) {
	tree := &signal.Tree{Root: &signal.Fragment{ID: "f0", Importance: 1, Cost: 2, Content: "r"}}
	points := BuildFrontier(tree, []float64{0.5, 0.99}, 8)
	for _, p := range points {
		// The root alone carries all importance.
		assert.InDelta(t, 1.0, p.ImportanceRatio, 1e-9)
	}
}

func TestSelectAtRatio(t *testing.T) {
	tree := frontierTree()
	sub := SelectAtRatio(tree, 0.6, 12)
	assert.GreaterOrEqual(t, sub.ImportanceRatio(), 0.6)
	assert.True(t, sub.Contains("f0"))
}
