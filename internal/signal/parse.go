// Fragment tree construction from structure-oracle output.
//
// The oracle returns one of two JSON shapes:
//
//   - hierarchy: {"intent": ..., "entities": {...}, "attributes": {...},
//     "details": {...}} for short, task-shaped messages
//   - sections: {"sections": [{"title", "importance", "key_concepts",
//     "summary"}]} for long, report-shaped messages
//
// Parsing is tolerant: a missing or oddly-typed field yields fewer
// fragments, never an error. Only a payload that produces no usable root
// is rejected.
package signal

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ParseExtraction builds a Tree from raw structure-oracle JSON.
// originalText is retained on the tree for scoring and judging.
func ParseExtraction(raw []byte, originalText string) (*Tree, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("structure output is not valid JSON")
	}
	doc := gjson.ParseBytes(raw)

	var root *Fragment
	switch {
	case doc.Get("sections").IsArray():
		root = buildSectionTree(doc)
	case doc.Get("intent").Exists():
		root = buildHierarchyTree(doc)
	default:
		return nil, fmt.Errorf("structure output has neither intent nor sections")
	}
	if root == nil {
		return nil, fmt.Errorf("structure output produced no usable root")
	}

	AssignIDs(root)
	tree := &Tree{Root: root, OriginalText: originalText}
	if err := tree.Validate(); err != nil {
		return nil, fmt.Errorf("decomposed tree invalid: %w", err)
	}
	return tree, nil
}

// AssignIDs gives every fragment a stable preorder id: f0, f1, ...
func AssignIDs(root *Fragment) {
	i := 0
	root.Walk(func(f *Fragment) {
		f.ID = fmt.Sprintf("f%d", i)
		i++
	})
}

func buildHierarchyTree(doc gjson.Result) *Fragment {
	intent := strings.TrimSpace(doc.Get("intent").String())
	if intent == "" {
		intent = "REPORT"
	}
	root := &Fragment{Content: intent, Level: LevelIntent, Kind: "intent"}

	var entities []*Fragment
	collect := func(path, kind string, render func(gjson.Result) string) {
		doc.Get(path).ForEach(func(_, item gjson.Result) bool {
			content := strings.TrimSpace(render(item))
			if content != "" {
				entities = append(entities, &Fragment{Content: content, Level: LevelEntity, Kind: kind})
			}
			return true
		})
	}

	collect("entities.actors", "actor", func(v gjson.Result) string {
		if v.IsObject() {
			return joinFields(v, "name", "role")
		}
		return v.String()
	})
	collect("entities.objects", "object", func(v gjson.Result) string {
		if v.IsObject() {
			return joinFields(v, "type", "id", "description")
		}
		return v.String()
	})
	collect("entities.actions", "action", func(v gjson.Result) string {
		if v.IsObject() {
			return joinFields(v, "verb", "target")
		}
		return v.String()
	})
	root.Children = entities

	// Attributes and details attach to the entity they overlap most with,
	// so that pruning an entity also drops its qualifiers. No overlap
	// means the fragment hangs off the root directly.
	attach := func(frag *Fragment) {
		parent := bestOverlap(entities, frag.Content)
		if parent == nil {
			root.Children = append(root.Children, frag)
			return
		}
		parent.Children = append(parent.Children, frag)
	}

	if urgency := strings.TrimSpace(doc.Get("attributes.urgency").String()); urgency != "" {
		attach(&Fragment{Content: "urgency: " + urgency, Level: LevelAttribute, Kind: "urgency"})
	}
	doc.Get("attributes.quantities").ForEach(func(_, v gjson.Result) bool {
		content := v.String()
		if v.IsObject() {
			content = joinFields(v, "value", "unit", "context")
		}
		if content = strings.TrimSpace(content); content != "" {
			attach(&Fragment{Content: content, Level: LevelAttribute, Kind: "quantity"})
		}
		return true
	})
	doc.Get("attributes.timeframes").ForEach(func(_, v gjson.Result) bool {
		content := v.String()
		if v.IsObject() {
			content = joinFields(v, "duration", "deadline")
		}
		if content = strings.TrimSpace(content); content != "" {
			attach(&Fragment{Content: content, Level: LevelAttribute, Kind: "timeframe"})
		}
		return true
	})

	for _, d := range []struct{ path, kind string }{
		{"details.causes", "cause"},
		{"details.effects", "effect"},
		{"details.conditions", "condition"},
	} {
		doc.Get(d.path).ForEach(func(_, v gjson.Result) bool {
			if content := strings.TrimSpace(v.String()); content != "" {
				attach(&Fragment{Content: d.kind + ": " + content, Level: LevelDetail, Kind: d.kind})
			}
			return true
		})
	}

	return root
}

func buildSectionTree(doc gjson.Result) *Fragment {
	intent := strings.TrimSpace(doc.Get("intent").String())
	if intent == "" {
		intent = "REPORT"
	}
	root := &Fragment{Content: intent, Level: LevelIntent, Kind: "intent"}

	doc.Get("sections").ForEach(func(_, sec gjson.Result) bool {
		title := strings.TrimSpace(sec.Get("title").String())
		if title == "" {
			return true
		}
		level := ParseLevel(sec.Get("importance").String())
		if level == LevelIntent {
			// Only the root sits at intent rank; a critical section ranks
			// just below it.
			level = LevelEntity
		}
		node := &Fragment{Content: title, Level: level, Kind: "section"}

		sec.Get("key_concepts").ForEach(func(_, kc gjson.Result) bool {
			if concept := strings.TrimSpace(kc.String()); concept != "" {
				node.Children = append(node.Children, &Fragment{Content: concept, Level: LevelAttribute, Kind: "concept"})
			}
			return true
		})
		body := sec.Get("summary").String()
		if body == "" {
			body = sec.Get("content").String()
		}
		for _, sentence := range SplitSentences(body) {
			node.Children = append(node.Children, &Fragment{Content: sentence, Level: LevelDetail, Kind: "sentence"})
		}

		root.Children = append(root.Children, node)
		return true
	})

	if len(root.Children) == 0 {
		return nil
	}
	return root
}

// joinFields concatenates the named string fields of an object, skipping
// empties, e.g. {"name":"Ana","role":"SRE"} -> "Ana (SRE)" style is not
// attempted; plain space joining keeps the render prompt in charge of
// phrasing.
func joinFields(v gjson.Result, fields ...string) string {
	var parts []string
	for _, f := range fields {
		if s := strings.TrimSpace(v.Get(f).String()); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// bestOverlap returns the candidate whose content shares the most words
// with text, or nil when nothing overlaps.
func bestOverlap(candidates []*Fragment, text string) *Fragment {
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		words[strings.Trim(w, ".,:;()")] = true
	}
	var best *Fragment
	bestScore := 0
	for _, c := range candidates {
		score := 0
		for _, w := range strings.Fields(strings.ToLower(c.Content)) {
			if words[strings.Trim(w, ".,:;()")] {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return best
}

// SplitSentences splits text on sentence terminators. It is deliberately
// crude; the structure oracle owns real segmentation and this only backs
// section bodies and the offline decomposer.
func SplitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(cur.String()); len(s) > 1 {
				out = append(out, s)
			}
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}
