package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/minsignal/condense/internal/signal"
)

// CachingDecomposer memoizes decompositions by content hash. Refinement
// re-enters the pipeline with the same original text on every round, so
// the structure oracle would otherwise be paid once per round.
//
// The cache is advisory only: entries are deep-copied out, so callers can
// annotate the returned tree without poisoning later hits.
type CachingDecomposer struct {
	inner Decomposer

	mu      sync.Mutex
	entries map[string]*signal.Tree
	max     int
}

// NewCachingDecomposer wraps inner with an in-memory cache of at most max
// trees (0 means 128).
func NewCachingDecomposer(inner Decomposer, max int) *CachingDecomposer {
	if max <= 0 {
		max = 128
	}
	return &CachingDecomposer{
		inner:   inner,
		entries: make(map[string]*signal.Tree),
		max:     max,
	}
}

// Decompose implements Decomposer.
func (c *CachingDecomposer) Decompose(ctx context.Context, text string) (*signal.Tree, error) {
	key := contentKey(text)

	c.mu.Lock()
	if tree, ok := c.entries[key]; ok {
		c.mu.Unlock()
		log.Debug().Str("key", key[:12]).Msg("decomposition cache hit")
		return tree.Clone(), nil
	}
	c.mu.Unlock()

	tree, err := c.inner.Decompose(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if len(c.entries) >= c.max {
		// Evict an arbitrary entry. The cache exists for within-run reuse;
		// cross-run hit rates do not justify LRU bookkeeping.
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
	c.entries[key] = tree.Clone()
	c.mu.Unlock()

	return tree, nil
}

func contentKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
