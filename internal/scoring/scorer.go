// Package scoring computes importance and cost for every fragment of a
// decomposed message.
//
// DESIGN: Scoring is a pure function of the tree plus the original text.
// Each fragment is scored independently of its siblings, so the work is
// trivially parallel, but a tree is small enough that a single pass wins.
// A malformed fragment scores zero/zero instead of failing: one bad
// decomposition node must never abort the run.
package scoring

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/minsignal/condense/internal/signal"
)

// Config holds the tunable scoring coefficients. The exact values are
// policy, but LevelWeights must be non-increasing: a higher-priority
// level never scores below a lower-priority one at equal content.
type Config struct {
	LevelWeights [4]float64 `yaml:"level_weights"`
	NumericBonus float64    `yaml:"numeric_bonus"`
	VocabSize    int        `yaml:"vocab_size"` // Laplace smoothing denominator
}

// DefaultConfig mirrors the weights the system was tuned with.
func DefaultConfig() Config {
	return Config{
		LevelWeights: [4]float64{1.0, 0.8, 0.6, 0.4},
		NumericBonus: 2.0,
		VocabSize:    50000,
	}
}

// Validate rejects weight vectors that break the level-ordering property.
func (c Config) Validate() error {
	for i := 1; i < len(c.LevelWeights); i++ {
		if c.LevelWeights[i] > c.LevelWeights[i-1] {
			return fmt.Errorf("level_weights must be non-increasing, got %v", c.LevelWeights)
		}
	}
	if c.LevelWeights[0] <= 0 {
		return fmt.Errorf("level_weights[0] must be positive")
	}
	if c.NumericBonus < 0 {
		return fmt.Errorf("numeric_bonus must be non-negative")
	}
	if c.VocabSize <= 0 {
		return fmt.Errorf("vocab_size must be positive")
	}
	return nil
}

// numericPattern matches the content classes that are not recoverable if
// dropped: quantities, money, percentages, dates, and identifier-shaped
// tokens like INC-2041 or a1b2c3.
var numericPattern = regexp.MustCompile(
	`(?i)(\$[\d,.]+|\d+(\.\d+)?%|\d{4}-\d{2}-\d{2}|\b[A-Z]{2,}-\d+\b|\b\d[\d,.:]*\b)`)

// Scorer scores fragment trees against the vocabulary of one message.
type Scorer struct {
	cfg        Config
	wordFreq   map[string]int
	totalWords int
}

// New builds a scorer whose specificity statistics come from the full
// original message, so word probabilities are relative to the document.
func New(cfg Config, originalText string) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scoring config: %w", err)
	}
	s := &Scorer{cfg: cfg, wordFreq: make(map[string]int)}
	for _, w := range tokenize(originalText) {
		s.wordFreq[w]++
		s.totalWords++
	}
	return s, nil
}

// Score returns an annotated deep copy of the tree; the input tree is
// never mutated. The second return value counts fragments that were
// scored as degraded (empty or unusable content).
func (s *Scorer) Score(tree *signal.Tree) (*signal.Tree, int) {
	scored := tree.Clone()
	degraded := 0
	for _, f := range scored.Flatten() {
		if strings.TrimSpace(f.Content) == "" {
			f.Importance = 0
			f.Cost = 0
			degraded++
			continue
		}
		f.Cost = ContentCost(f.Content)
		f.Importance = s.importance(f)
	}
	if degraded > 0 {
		log.Warn().Int("degraded", degraded).Int("fragments", scored.NodeCount()).
			Msg("some fragments scored as degraded")
	}
	return scored, degraded
}

// importance = level_weight * (specificity + numeric_bonus), clipped at
// zero. Weights are keyed by level so the ordering property holds by
// construction of Config.Validate.
func (s *Scorer) importance(f *signal.Fragment) float64 {
	weight := s.levelWeight(f.Level)
	imp := weight * (s.Specificity(f.Content) + s.numericBonus(f.Content))
	if imp < 0 || math.IsNaN(imp) {
		return 0
	}
	return imp
}

func (s *Scorer) levelWeight(l signal.Level) float64 {
	if l < 0 || int(l) >= len(s.cfg.LevelWeights) {
		return s.cfg.LevelWeights[len(s.cfg.LevelWeights)-1]
	}
	return s.cfg.LevelWeights[l]
}

// Specificity is the mean surprisal, in bits, of the fragment's words
// under the document's word distribution (Laplace smoothed). Rare,
// concrete vocabulary scores high; connective filler scores low.
func (s *Scorer) Specificity(content string) float64 {
	words := tokenize(content)
	if len(words) == 0 {
		return 0
	}
	var bits float64
	for _, w := range words {
		count := s.wordFreq[w]
		p := float64(count+1) / float64(s.totalWords+s.cfg.VocabSize)
		bits += -math.Log2(p)
	}
	return bits / float64(len(words))
}

// numericBonus grants a flat boost per distinct numeric-class match,
// capped at three so one table-heavy fragment cannot dominate a tier.
func (s *Scorer) numericBonus(content string) float64 {
	n := len(numericPattern.FindAllString(content, 4))
	if n > 3 {
		n = 3
	}
	return s.cfg.NumericBonus * float64(n)
}

// ContentCost estimates the bits needed to reproduce the content
// losslessly: character-distribution Shannon entropy scaled by length,
// with a one-bit-per-byte floor so degenerate but non-empty content
// still costs something. Zero only for empty content.
func ContentCost(content string) float64 {
	if content == "" {
		return 0
	}
	counts := make(map[rune]int)
	total := 0
	for _, r := range strings.ToLower(content) {
		counts[r]++
		total++
	}
	var entropy float64
	for _, c := range counts {
		p := float64(c) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return (entropy + 1.0) * float64(total) / 8.0
}

// tokenize lowercases and strips punctuation so frequency counts line up
// between fragment content and the original message.
func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := fields[:0]
	for _, f := range fields {
		if w := strings.Trim(f, ".,:;!?()[]{}\"'"); w != "" {
			out = append(out, w)
		}
	}
	return out
}
