package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minsignal/condense/internal/signal"
)

// chatServer returns an OpenAI-shaped chat completion per scripted reply.
func chatServer(t *testing.T, replies []string) (*httptest.Server, *int) {
	t.Helper()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reply := replies[calls%len(replies)]
		calls++
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": reply}},
			},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testClientConfig(endpoint string) ClientConfig {
	return ClientConfig{
		Provider: "openai",
		Endpoint: endpoint,
		APIKey:   "test-key",
		Model:    "test-model",
		Timeout:  5 * time.Second,
	}
}

const extractionReply = `{
	"intent": "restart service",
	"entities": {"objects": ["payment service"], "actions": ["restart"]},
	"attributes": {"quantities": ["40%"]},
	"details": {"causes": ["certificate expired"]}
}`

func TestLLMDecomposer(t *testing.T) {
	srv, calls := chatServer(t, []string{extractionReply})
	d := NewLLMDecomposer(testClientConfig(srv.URL), NewTiktokenCounter(""))

	tree, err := d.Decompose(context.Background(), "Restart the payment service, 40% errors, cert expired.")
	require.NoError(t, err)

	assert.Equal(t, 1, *calls)
	assert.Equal(t, "restart service", tree.Root.Content)
	assert.Equal(t, signal.LevelIntent, tree.Root.Level)
	assert.Positive(t, tree.OriginalTokens)
	assert.NoError(t, tree.Validate())
}

func TestLLMDecomposerStripsFences(t *testing.T) {
	srv, _ := chatServer(t, []string{"```json\n" + extractionReply + "\n```"})
	d := NewLLMDecomposer(testClientConfig(srv.URL), nil)

	tree, err := d.Decompose(context.Background(), "some message")
	require.NoError(t, err)
	assert.Equal(t, "restart service", tree.Root.Content)
}

func TestLLMDecomposerRetriesMalformedOutput(t *testing.T) {
	srv, calls := chatServer(t, []string{"not json at all", extractionReply})
	cfg := testClientConfig(srv.URL)
	cfg.Retries = 1
	d := NewLLMDecomposer(cfg, nil)

	tree, err := d.Decompose(context.Background(), "some message")
	require.NoError(t, err)
	assert.Equal(t, 2, *calls)
	assert.Equal(t, "restart service", tree.Root.Content)
}

func TestLLMDecomposerExhaustsRetries(t *testing.T) {
	srv, calls := chatServer(t, []string{"still not json"})
	cfg := testClientConfig(srv.URL)
	cfg.Retries = 2
	d := NewLLMDecomposer(cfg, nil)

	_, err := d.Decompose(context.Background(), "some message")
	require.Error(t, err)

	var derr *DecompositionError
	require.ErrorAs(t, err, &derr)
	assert.Contains(t, derr.Raw, "still not json")
	assert.Equal(t, 3, *calls, "initial attempt plus two retries")
}

func TestLLMDecomposerEmptyInput(t *testing.T) {
	d := NewLLMDecomposer(testClientConfig("http://unused.invalid"), nil)
	_, err := d.Decompose(context.Background(), "  ")
	assert.Error(t, err)
}

func TestLLMRenderer(t *testing.T) {
	srv, _ := chatServer(t, []string{"Restart payment service; cert expired, 40% errors."})
	r := NewLLMRenderer(testClientConfig(srv.URL))

	subtree := &signal.Tree{
		Root: &signal.Fragment{
			ID: "f0", Content: "restart service", Level: signal.LevelIntent, Kind: "intent",
			Children: []*signal.Fragment{
				{ID: "f1", Content: "payment service", Level: signal.LevelEntity, Kind: "object"},
			},
		},
	}
	out, err := r.Render(context.Background(), subtree, DefaultRenderHint())
	require.NoError(t, err)
	assert.Contains(t, out, "Restart payment service")
}

func TestLLMRendererExpand(t *testing.T) {
	srv, _ := chatServer(t, []string{"The payment service needs a restart because the certificate expired."})
	r := NewLLMRenderer(testClientConfig(srv.URL))

	out, err := r.Expand(context.Background(), "restart payment svc, cert expired")
	require.NoError(t, err)
	assert.Contains(t, out, "certificate expired")

	_, err = r.Expand(context.Background(), "  ")
	assert.Error(t, err)
}

func TestFormatOutlineGroupsByLevel(t *testing.T) {
	subtree := &signal.Tree{
		Root: &signal.Fragment{
			ID: "f0", Content: "the intent", Level: signal.LevelIntent,
			Children: []*signal.Fragment{
				{ID: "f1", Content: "a detail", Level: signal.LevelDetail, Kind: "cause"},
				{ID: "f2", Content: "an entity", Level: signal.LevelEntity},
			},
		},
	}
	out := formatOutline(subtree, DefaultRenderHint())

	// Sections appear in rank order regardless of tree order.
	intentIdx := strings.Index(out, "INTENT")
	entityIdx := strings.Index(out, "ENTITY")
	detailIdx := strings.Index(out, "DETAIL")
	assert.True(t, intentIdx < entityIdx && entityIdx < detailIdx, "outline: %s", out)
	assert.Contains(t, out, "[cause] a detail")
}

func TestAnalyzerRoundTrip(t *testing.T) {
	srv, _ := chatServer(t, []string{`{"missing": ["the deadline"], "verdict": "lossy"}`})
	a := NewLLMAnalyzer(testClientConfig(srv.URL))

	out, err := a.Analyze(context.Background(), "original with deadline", "rendition without")
	require.NoError(t, err)
	assert.Contains(t, out, "the deadline")
}
