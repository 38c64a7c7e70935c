package external

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractAnthropicResponse(t *testing.T) {
	t.Run("joins text blocks", func(t *testing.T) {
		resp := &AnthropicResponse{Content: []AnthropicContentBlock{
			{Type: "text", Text: "hello "},
			{Type: "tool_use"},
			{Type: "text", Text: "world"},
		}}
		out, err := ExtractAnthropicResponse(resp)
		require.NoError(t, err)
		assert.Equal(t, "hello world", out)
	})

	t.Run("surfaces API error", func(t *testing.T) {
		resp := &AnthropicResponse{Error: &AnthropicError{Type: "overloaded_error", Message: "busy"}}
		_, err := ExtractAnthropicResponse(resp)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "overloaded_error")
	})

	t.Run("rejects empty content", func(t *testing.T) {
		_, err := ExtractAnthropicResponse(&AnthropicResponse{})
		assert.Error(t, err)
	})
}

func TestExtractOpenAIResponse(t *testing.T) {
	t.Run("returns first choice", func(t *testing.T) {
		resp := &OpenAIChatResponse{Choices: []OpenAIChoice{
			{Message: OpenAIMessage{Role: "assistant", Content: "answer"}},
		}}
		out, err := ExtractOpenAIResponse(resp)
		require.NoError(t, err)
		assert.Equal(t, "answer", out)
	})

	t.Run("rejects no choices", func(t *testing.T) {
		_, err := ExtractOpenAIResponse(&OpenAIChatResponse{})
		assert.Error(t, err)
	})

	t.Run("rejects empty content", func(t *testing.T) {
		resp := &OpenAIChatResponse{Choices: []OpenAIChoice{{}}}
		_, err := ExtractOpenAIResponse(resp)
		assert.Error(t, err)
	})

	t.Run("surfaces API error", func(t *testing.T) {
		resp := &OpenAIChatResponse{Error: &OpenAIError{Type: "rate_limit", Message: "slow down"}}
		_, err := ExtractOpenAIResponse(resp)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rate_limit")
	})
}

func TestExtractGeminiResponse(t *testing.T) {
	t.Run("joins parts", func(t *testing.T) {
		resp := &GeminiResponse{Candidates: []GeminiCandidate{
			{Content: GeminiContent{Parts: []GeminiPart{{Text: "a"}, {Text: "b"}}}},
		}}
		out, err := ExtractGeminiResponse(resp)
		require.NoError(t, err)
		assert.Equal(t, "ab", out)
	})

	t.Run("rejects no candidates", func(t *testing.T) {
		_, err := ExtractGeminiResponse(&GeminiResponse{})
		assert.Error(t, err)
	})

	t.Run("surfaces API error", func(t *testing.T) {
		resp := &GeminiResponse{Error: &GeminiError{Code: 429, Message: "quota"}}
		_, err := ExtractGeminiResponse(resp)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "429")
	})
}

func TestDetectProvider(t *testing.T) {
	cases := map[string]string{
		"https://api.anthropic.com/v1/messages":                        "anthropic",
		"https://bedrock-runtime.us-east-1.amazonaws.com/model/x":      "bedrock",
		"https://generativelanguage.googleapis.com/v1beta/models/g":    "gemini",
		"https://api.openai.com/v1/chat/completions":                   "openai",
		"https://my-proxy.internal/v1/chat/completions":                "openai",
		"https://generativelanguage.googleapis.com/v1/models/g:stream": "gemini",
	}
	for endpoint, want := range cases {
		assert.Equal(t, want, DetectProvider(endpoint), "endpoint %s", endpoint)
	}
}
