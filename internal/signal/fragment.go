// Package signal defines the hierarchical fragment tree that the
// condensing pipeline operates on.
//
// DESIGN: A tree is built once per input message by the structure oracle
// and is immutable afterwards. Scoring never mutates a tree in place; it
// annotates a deep copy. Fragments are exclusively owned by their parent,
// so the tree is acyclic by construction.
package signal

import (
	"fmt"
	"math"
)

// Level is the semantic priority of a fragment. Lower values rank higher.
type Level int

const (
	LevelIntent    Level = iota // what the message wants done
	LevelEntity                 // who/what is involved
	LevelAttribute              // quantities, deadlines, urgency
	LevelDetail                 // context, causes, conditions
)

// Tier aliases for the section-oriented variant. A CRITICAL section ranks
// with intent, a LOW section ranks with free-floating detail.
const (
	TierCritical = LevelIntent
	TierHigh     = LevelEntity
	TierMedium   = LevelAttribute
	TierLow      = LevelDetail
)

// String returns the canonical level name.
func (l Level) String() string {
	switch l {
	case LevelIntent:
		return "INTENT"
	case LevelEntity:
		return "ENTITY"
	case LevelAttribute:
		return "ATTRIBUTE"
	case LevelDetail:
		return "DETAIL"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// ParseLevel maps a level or tier name to a Level. Unknown names map to
// LevelDetail so a sloppy oracle never produces an invalid tree.
func ParseLevel(name string) Level {
	switch name {
	case "INTENT", "intent", "CRITICAL", "critical":
		return LevelIntent
	case "ENTITY", "entity", "HIGH", "high":
		return LevelEntity
	case "ATTRIBUTE", "attribute", "MEDIUM", "medium":
		return LevelAttribute
	case "DETAIL", "detail", "LOW", "low":
		return LevelDetail
	default:
		return LevelDetail
	}
}

// Fragment is one node of decomposed message content.
type Fragment struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Level   Level  `json:"level"`
	Kind    string `json:"kind,omitempty"` // e.g. "actor", "quantity", "section"

	// Importance and Cost are attached by the scorer. Cost models the
	// fragment's own content, not a rollup of its children.
	Importance float64 `json:"importance"`
	Cost       float64 `json:"cost"`

	Children []*Fragment `json:"children,omitempty"`
}

// Walk visits the fragment and its descendants in preorder.
func (f *Fragment) Walk(fn func(*Fragment)) {
	if f == nil {
		return
	}
	fn(f)
	for _, c := range f.Children {
		c.Walk(fn)
	}
}

// Flatten returns the fragment and all descendants in preorder.
func (f *Fragment) Flatten() []*Fragment {
	var out []*Fragment
	f.Walk(func(n *Fragment) { out = append(out, n) })
	return out
}

// Clone deep-copies the fragment and its subtree.
func (f *Fragment) Clone() *Fragment {
	if f == nil {
		return nil
	}
	cp := *f
	cp.Children = make([]*Fragment, len(f.Children))
	for i, c := range f.Children {
		cp.Children[i] = c.Clone()
	}
	return &cp
}

// Tree is a complete decomposed message.
type Tree struct {
	Root           *Fragment `json:"root"`
	OriginalText   string    `json:"original_text"`
	OriginalTokens int       `json:"original_tokens"`
}

// Flatten returns all fragments in preorder.
func (t *Tree) Flatten() []*Fragment {
	if t == nil || t.Root == nil {
		return nil
	}
	return t.Root.Flatten()
}

// NodeCount returns the number of fragments in the tree.
func (t *Tree) NodeCount() int { return len(t.Flatten()) }

// TotalCost sums the cost of every fragment.
func (t *Tree) TotalCost() float64 {
	var total float64
	for _, f := range t.Flatten() {
		total += f.Cost
	}
	return total
}

// TotalImportance sums the importance of every fragment.
func (t *Tree) TotalImportance() float64 {
	var total float64
	for _, f := range t.Flatten() {
		total += f.Importance
	}
	return total
}

// FindByID returns the fragment with the given ID, or nil.
func (t *Tree) FindByID(id string) *Fragment {
	var found *Fragment
	t.Root.Walk(func(f *Fragment) {
		if found == nil && f.ID == id {
			found = f
		}
	})
	return found
}

// Clone deep-copies the tree. Scoring operates on clones so that the
// decomposed tree stays pristine across re-scoring.
func (t *Tree) Clone() *Tree {
	if t == nil {
		return nil
	}
	return &Tree{
		Root:           t.Root.Clone(),
		OriginalText:   t.OriginalText,
		OriginalTokens: t.OriginalTokens,
	}
}

// Validate checks the structural invariants: a single root, unique IDs,
// and finite non-negative scores where present.
func (t *Tree) Validate() error {
	if t == nil || t.Root == nil {
		return fmt.Errorf("tree has no root")
	}
	seen := make(map[string]bool)
	for _, f := range t.Flatten() {
		if f.ID == "" {
			return fmt.Errorf("fragment with empty id (content %q)", truncate(f.Content, 40))
		}
		if seen[f.ID] {
			return fmt.Errorf("duplicate fragment id %q", f.ID)
		}
		seen[f.ID] = true
		if f.Cost < 0 || math.IsNaN(f.Cost) || math.IsInf(f.Cost, 0) {
			return fmt.Errorf("fragment %q has invalid cost %v", f.ID, f.Cost)
		}
		if f.Importance < 0 || math.IsNaN(f.Importance) || math.IsInf(f.Importance, 0) {
			return fmt.Errorf("fragment %q has invalid importance %v", f.ID, f.Importance)
		}
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
