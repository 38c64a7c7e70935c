// Package selection picks the maximal-importance subset of a scored
// fragment tree under a budget.
//
// DESIGN: This is a tree-constrained knapsack. Select solves it exactly
// with a bottom-up dynamic program over Pareto-optimal (weight,
// importance) alternatives per subtree. Exactness buys two properties a
// skip-and-continue greedy cannot give: selected importance never
// decreases as the budget grows, and a budget covering the whole tree
// returns the whole tree. Decomposed messages yield small trees, and
// dominance pruning keeps the alternative lists short, so the exact
// solve stays cheap. Ties are broken by a fixed fragment priority order
// (importance desc, shallower depth first, then preorder position) so
// repeated calls return the same subtree.
package selection

import (
	"math"
	"sort"

	"github.com/minsignal/condense/internal/signal"
)

// budgetEps tolerates float accumulation noise at the budget boundary so
// that a budget equal to a subtree's exact cost still admits it.
const budgetEps = 1e-9

// Budget caps a selection either by total cost or by fragment count.
// Exactly one of the two should be set; CostBudget and CountBudget are
// the intended constructors.
type Budget struct {
	MaxCost      float64
	MaxFragments int
	byCount      bool
}

// CostBudget caps the summed cost of the fragments below the root; the
// mandatory root's own cost is never charged.
func CostBudget(maxCost float64) Budget { return Budget{MaxCost: maxCost} }

// CountBudget caps the number of fragments, root included.
func CountBudget(maxFragments int) Budget {
	return Budget{MaxFragments: maxFragments, byCount: true}
}

// Subset is the result of one selection over a scored tree.
type Subset struct {
	Source   *signal.Tree
	Budget   Budget
	included map[string]bool

	SelectedCost       float64
	SelectedImportance float64
	TotalCost          float64
	TotalImportance    float64
}

// Contains reports whether the fragment with the given id was selected.
func (s *Subset) Contains(id string) bool { return s.included[id] }

// Size returns the number of selected fragments.
func (s *Subset) Size() int { return len(s.included) }

// ImportanceRatio is selected importance over total importance, the
// structural proxy for expected fidelity. 1.0 for an unscored tree.
func (s *Subset) ImportanceRatio() float64 {
	if s.TotalImportance <= 0 {
		return 1.0
	}
	return s.SelectedImportance / s.TotalImportance
}

// IDs returns the selected fragment ids in preorder.
func (s *Subset) IDs() []string {
	var ids []string
	s.Source.Root.Walk(func(f *signal.Fragment) {
		if s.included[f.ID] {
			ids = append(ids, f.ID)
		}
	})
	return ids
}

// Tree rebuilds the pruned tree containing only selected fragments,
// preserving child order. The ancestor invariant guarantees the result
// is itself a well-formed tree.
func (s *Subset) Tree() *signal.Tree {
	return &signal.Tree{
		Root:           s.pruneFrom(s.Source.Root),
		OriginalText:   s.Source.OriginalText,
		OriginalTokens: s.Source.OriginalTokens,
	}
}

func (s *Subset) pruneFrom(f *signal.Fragment) *signal.Fragment {
	cp := *f
	cp.Children = nil
	for _, c := range f.Children {
		if s.included[c.ID] {
			cp.Children = append(cp.Children, s.pruneFrom(c))
		}
	}
	return &cp
}

// candidate carries the priority-sort keys: depth and preorder index
// make the tie-break stable and the whole selection reproducible.
type candidate struct {
	frag   *signal.Fragment
	parent *signal.Fragment
	depth  int
	order  int
}

// option is one feasible way to fill a subtree: its chargeable weight,
// the importance it buys, and its members as sorted priority ranks.
type option struct {
	weight     float64
	importance float64
	members    []int
}

// Select picks the maximal-importance valid subtree within budget.
//
// Guarantees: the root is always included and its own cost is exempt
// from the budget (a zero or infeasible budget yields the root-only
// subset rather than an error); a budget at or above the tree's total
// cost returns the full tree; selected importance never decreases as
// the budget grows; identical inputs return identical subtrees.
func Select(tree *signal.Tree, budget Budget) *Subset {
	sub := &Subset{
		Source:   tree,
		Budget:   budget,
		included: make(map[string]bool),
	}
	if tree == nil || tree.Root == nil {
		return sub
	}
	sub.TotalCost = tree.TotalCost()
	sub.TotalImportance = tree.TotalImportance()

	// Root is mandatory: without it no child is renderable.
	root := tree.Root
	sub.included[root.ID] = true
	sub.SelectedCost = root.Cost
	sub.SelectedImportance = root.Importance

	limit := budget.MaxCost
	weigh := func(f *signal.Fragment) float64 { return f.Cost }
	if budget.byCount {
		limit = float64(budget.MaxFragments - 1)
		weigh = func(*signal.Fragment) float64 { return 1 }
	}
	if limit <= 0 {
		return sub
	}

	candidates := collect(root)
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.frag.Importance != b.frag.Importance {
			return a.frag.Importance > b.frag.Importance
		}
		if a.depth != b.depth {
			return a.depth < b.depth
		}
		return a.order < b.order
	})
	rank := make(map[string]int, len(candidates))
	for i, c := range candidates {
		rank[c.frag.ID] = i
	}

	opts := solve(root, 0, limit, weigh, rank)
	best := opts[len(opts)-1]
	used := best.weight
	for _, r := range best.members {
		f := candidates[r].frag
		sub.included[f.ID] = true
		sub.SelectedCost += f.Cost
		sub.SelectedImportance += f.Importance
	}

	// Spend leftover budget on fragments the optimum left out, in
	// priority order. Optimality means anything that still fits carries
	// zero importance; the pass exists so a budget covering the whole
	// tree really returns the whole tree even with unscored fragments.
	for again := true; again; {
		again = false
		for _, c := range candidates {
			if sub.included[c.frag.ID] || !sub.included[c.parent.ID] {
				continue
			}
			w := weigh(c.frag)
			if used+w > limit+budgetEps {
				continue
			}
			sub.included[c.frag.ID] = true
			sub.SelectedCost += c.frag.Cost
			sub.SelectedImportance += c.frag.Importance
			used += w
			again = true
		}
	}
	return sub
}

// solve returns the Pareto-optimal options for the subtree rooted at f,
// every one of them including f itself. own is f's chargeable weight,
// zero for the mandatory root. A nil result means f alone exceeds the
// limit, which rules out its whole subtree too.
func solve(f *signal.Fragment, own, limit float64, weigh func(*signal.Fragment) float64, rank map[string]int) []option {
	if own > limit+budgetEps {
		return nil
	}
	base := option{weight: own}
	if r, ok := rank[f.ID]; ok {
		base.importance = f.Importance
		base.members = []int{r}
	}
	opts := []option{base}
	for _, child := range f.Children {
		childOpts := solve(child, weigh(child), limit, weigh, rank)
		if len(childOpts) == 0 {
			continue
		}
		// Leaving the child's subtree out entirely stays legal.
		merged := append([]option(nil), opts...)
		for _, o := range opts {
			for _, co := range childOpts {
				w := o.weight + co.weight
				if w > limit+budgetEps {
					continue
				}
				merged = append(merged, option{
					weight:     w,
					importance: o.importance + co.importance,
					members:    mergeRanks(o.members, co.members),
				})
			}
		}
		opts = prune(merged)
	}
	return opts
}

// prune drops dominated options: what survives is sorted by weight with
// strictly increasing importance, so the last entry is the optimum and
// every importance level is held at its cheapest weight. Exact ties go
// to the option whose members rank higher in the priority order.
func prune(opts []option) []option {
	sort.Slice(opts, func(i, j int) bool {
		a, b := opts[i], opts[j]
		if a.weight != b.weight {
			return a.weight < b.weight
		}
		if a.importance != b.importance {
			return a.importance > b.importance
		}
		return lessRanks(a.members, b.members)
	})
	kept := opts[:0]
	bestImportance := math.Inf(-1)
	for _, o := range opts {
		if o.importance > bestImportance {
			kept = append(kept, o)
			bestImportance = o.importance
		}
	}
	return kept
}

// mergeRanks merges two ascending rank slices into a fresh slice.
func mergeRanks(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] < b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

// lessRanks orders rank sets lexicographically.
func lessRanks(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// collect lists every non-root fragment with its depth and preorder
// position.
func collect(root *signal.Fragment) []candidate {
	var out []candidate
	order := 0
	var walk func(f *signal.Fragment, depth int)
	walk = func(f *signal.Fragment, depth int) {
		for _, c := range f.Children {
			order++
			out = append(out, candidate{frag: c, parent: f, depth: depth + 1, order: order})
			walk(c, depth+1)
		}
	}
	walk(root, 0)
	return out
}
