package external

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallLLMOpenAI(t *testing.T) {
	var gotAuth string
	var gotBody OpenAIChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotBody))

		resp := OpenAIChatResponse{
			Choices: []OpenAIChoice{{Message: OpenAIMessage{Role: "assistant", Content: "compressed"}}},
			Usage:   OpenAIUsage{PromptTokens: 12, CompletionTokens: 3},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	result, err := CallLLM(context.Background(), CallLLMParams{
		Endpoint:     srv.URL,
		APIKey:       "sk-test",
		Model:        "gpt-4o-mini",
		SystemPrompt: "system",
		UserPrompt:   "user",
		MaxTokens:    100,
		Timeout:      5 * time.Second,
		JSONMode:     true,
	})
	require.NoError(t, err)

	assert.Equal(t, "compressed", result.Content)
	assert.Equal(t, 12, result.InputTokens)
	assert.Equal(t, 3, result.OutputTokens)
	assert.Equal(t, "openai", result.Provider)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	require.Len(t, gotBody.Messages, 2)
	assert.Equal(t, "system", gotBody.Messages[0].Content)
	require.NotNil(t, gotBody.ResponseFormat)
	assert.Equal(t, "json_object", gotBody.ResponseFormat.Type)
}

func TestCallLLMAnthropic(t *testing.T) {
	var gotKey, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		resp := AnthropicResponse{
			Content: []AnthropicContentBlock{{Type: "text", Text: "hello"}},
			Usage:   AnthropicUsage{InputTokens: 8, OutputTokens: 2},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	result, err := CallLLM(context.Background(), CallLLMParams{
		Provider:     "anthropic",
		Endpoint:     srv.URL,
		APIKey:       "ak-test",
		Model:        "claude-sonnet",
		SystemPrompt: "system",
		UserPrompt:   "user",
		MaxTokens:    100,
		Timeout:      5 * time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, "hello", result.Content)
	assert.Equal(t, "ak-test", gotKey)
	assert.NotEmpty(t, gotVersion)
}

func TestCallLLMHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := CallLLM(context.Background(), CallLLMParams{
		Endpoint:   srv.URL,
		APIKey:     "k",
		Model:      "m",
		UserPrompt: "p",
		Timeout:    5 * time.Second,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestCallLLMValidation(t *testing.T) {
	_, err := CallLLM(context.Background(), CallLLMParams{})
	assert.Error(t, err)
}

func TestCallLLMContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server's background read can observe the
		// client disconnect and cancel r.Context(); otherwise srv.Close hangs.
		_, _ = io.ReadAll(r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	_, err := CallLLM(context.Background(), CallLLMParams{
		Endpoint:   srv.URL,
		APIKey:     "k",
		Model:      "m",
		UserPrompt: "p",
		Timeout:    50 * time.Millisecond,
	})
	assert.Error(t, err)
}
