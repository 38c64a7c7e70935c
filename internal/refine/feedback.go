package refine

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/minsignal/condense/internal/signal"
)

// missingFacts extracts the list of lost facts from analyzer output.
// Structured output is {"missing": [...]}; anything else falls back to
// line splitting so a chatty analyzer still contributes something.
func missingFacts(feedback string) []string {
	if feedback == "" {
		return nil
	}
	if gjson.Valid(feedback) {
		doc := gjson.Parse(feedback)
		if arr := doc.Get("missing"); arr.IsArray() {
			var out []string
			arr.ForEach(func(_, v gjson.Result) bool {
				if s := strings.TrimSpace(v.String()); s != "" {
					out = append(out, s)
				}
				return true
			})
			return out
		}
	}
	var out []string
	for _, line := range strings.Split(feedback, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*• \t"))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// matchFragments maps each missing fact to the excluded fragment that
// best covers it by word overlap. The returned ids are the fragments
// whose importance should be boosted next round.
func matchFragments(tree *signal.Tree, included map[string]bool, facts []string) []string {
	if len(facts) == 0 {
		return nil
	}

	var excluded []*signal.Fragment
	tree.Root.Walk(func(f *signal.Fragment) {
		if !included[f.ID] {
			excluded = append(excluded, f)
		}
	})
	if len(excluded) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var ids []string
	for _, fact := range facts {
		factWords := overlapWords(fact)
		var best *signal.Fragment
		bestScore := 0
		for _, f := range excluded {
			score := 0
			for _, w := range overlapWordSlice(f.Content) {
				if factWords[w] {
					score++
				}
			}
			if score > bestScore {
				best, bestScore = f, score
			}
		}
		if best != nil && !seen[best.ID] {
			seen[best.ID] = true
			ids = append(ids, best.ID)
		}
	}
	return ids
}

func overlapWords(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range overlapWordSlice(text) {
		set[w] = true
	}
	return set
}

func overlapWordSlice(text string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,:;!?()\"'")
		if len(w) > 2 {
			out = append(out, w)
		}
	}
	return out
}
