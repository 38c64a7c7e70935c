// Provider wire types and response extraction for CallLLM.
package external

import "fmt"

// =============================================================================
// ANTHROPIC
// =============================================================================

// AnthropicRequest is the Anthropic Messages API request body. Bedrock
// with Anthropic models uses the same shape plus AnthropicVersion.
type AnthropicRequest struct {
	Model            string             `json:"model,omitempty"`
	MaxTokens        int                `json:"max_tokens"`
	System           string             `json:"system,omitempty"`
	Messages         []AnthropicMessage `json:"messages"`
	Temperature      float64            `json:"temperature"`
	AnthropicVersion string             `json:"anthropic_version,omitempty"`
}

// AnthropicMessage is one turn in a Messages API conversation.
type AnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AnthropicContentBlock is one block of an Anthropic response.
type AnthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// AnthropicUsage carries token accounting.
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AnthropicError is the Messages API error payload.
type AnthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AnthropicResponse is the Messages API response body.
type AnthropicResponse struct {
	Content    []AnthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      AnthropicUsage          `json:"usage"`
	Error      *AnthropicError         `json:"error,omitempty"`
}

// ExtractAnthropicResponse pulls the concatenated text blocks out of an
// Anthropic response.
func ExtractAnthropicResponse(resp *AnthropicResponse) (string, error) {
	if resp.Error != nil {
		return "", fmt.Errorf("anthropic API error (%s): %s", resp.Error.Type, resp.Error.Message)
	}
	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("anthropic response contained no text content")
	}
	return text, nil
}

// =============================================================================
// OPENAI
// =============================================================================

// OpenAIChatRequest is the Chat Completions request body.
type OpenAIChatRequest struct {
	Model               string                `json:"model"`
	Messages            []OpenAIMessage       `json:"messages"`
	MaxCompletionTokens int                   `json:"max_completion_tokens,omitempty"`
	ResponseFormat      *OpenAIResponseFormat `json:"response_format,omitempty"`
}

// OpenAIMessage is one chat turn.
type OpenAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAIResponseFormat selects structured output ("json_object").
type OpenAIResponseFormat struct {
	Type string `json:"type"`
}

// OpenAIChoice is one completion choice.
type OpenAIChoice struct {
	Message      OpenAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

// OpenAIUsage carries token accounting.
type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// OpenAIError is the Chat Completions error payload.
type OpenAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// OpenAIChatResponse is the Chat Completions response body.
type OpenAIChatResponse struct {
	Choices []OpenAIChoice `json:"choices"`
	Usage   OpenAIUsage    `json:"usage"`
	Error   *OpenAIError   `json:"error,omitempty"`
}

// ExtractOpenAIResponse pulls the first choice's content out of an
// OpenAI response.
func ExtractOpenAIResponse(resp *OpenAIChatResponse) (string, error) {
	if resp.Error != nil {
		return "", fmt.Errorf("openai API error (%s): %s", resp.Error.Type, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai response contained no choices")
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("openai response contained empty content")
	}
	return content, nil
}

// =============================================================================
// GEMINI
// =============================================================================

// GeminiRequest is the generateContent request body.
type GeminiRequest struct {
	SystemInstruction *GeminiContent          `json:"system_instruction,omitempty"`
	Contents          []GeminiContent         `json:"contents"`
	GenerationConfig  *GeminiGenerationConfig `json:"generationConfig,omitempty"`
}

// GeminiContent is a role plus parts.
type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

// GeminiPart is one text part.
type GeminiPart struct {
	Text string `json:"text"`
}

// GeminiGenerationConfig carries sampling settings.
type GeminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature"`
}

// GeminiCandidate is one generateContent candidate.
type GeminiCandidate struct {
	Content      GeminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

// GeminiUsageMetadata carries token accounting.
type GeminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

// GeminiError is the generateContent error payload.
type GeminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GeminiResponse is the generateContent response body.
type GeminiResponse struct {
	Candidates    []GeminiCandidate   `json:"candidates"`
	UsageMetadata GeminiUsageMetadata `json:"usageMetadata"`
	Error         *GeminiError        `json:"error,omitempty"`
}

// ExtractGeminiResponse pulls the first candidate's text out of a
// Gemini response.
func ExtractGeminiResponse(resp *GeminiResponse) (string, error) {
	if resp.Error != nil {
		return "", fmt.Errorf("gemini API error (code %d): %s", resp.Error.Code, resp.Error.Message)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini response contained no candidates")
	}
	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		text += part.Text
	}
	if text == "" {
		return "", fmt.Errorf("gemini response contained no text parts")
	}
	return text, nil
}
