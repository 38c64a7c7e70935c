// Embedding API client backing the similarity oracle.
//
// Talks the OpenAI-compatible /v1/embeddings shape, which most hosted
// embedding services accept. The judge in internal/oracle turns a pair
// of embeddings into a cosine similarity in [0,1].
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// EmbedParams contains parameters for one embeddings call.
type EmbedParams struct {
	Endpoint string
	APIKey   string
	Model    string
	Inputs   []string
	Timeout  time.Duration

	// HTTPClient overrides the default client (testing, pooling).
	HTTPClient *http.Client
}

func (p *EmbedParams) validate() error {
	if p.Endpoint == "" {
		return fmt.Errorf("endpoint required")
	}
	if p.APIKey == "" {
		return fmt.Errorf("api key required")
	}
	if p.Model == "" {
		return fmt.Errorf("model required")
	}
	if len(p.Inputs) == 0 {
		return fmt.Errorf("at least one input required")
	}
	if p.Timeout == 0 {
		p.Timeout = DefaultTimeout
	}
	return nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// EmbedTexts returns one embedding vector per input, in input order.
func EmbedTexts(ctx context.Context, params EmbedParams) ([][]float64, error) {
	if err := params.validate(); err != nil {
		return nil, fmt.Errorf("invalid EmbedTexts params: %w", err)
	}

	body, err := json.Marshal(&embedRequest{Model: params.Model, Input: params.Inputs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embeddings request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, params.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, params.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", params.APIKey))

	client := params.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read embeddings response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		errBody := string(respBody)
		if len(errBody) > maxErrorBodyLen {
			errBody = errBody[:maxErrorBodyLen] + "... (truncated)"
		}
		return nil, fmt.Errorf("embeddings API returned status %d: %s", resp.StatusCode, errBody)
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse embeddings response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("embeddings API error (%s): %s", parsed.Error.Type, parsed.Error.Message)
	}
	if len(parsed.Data) != len(params.Inputs) {
		return nil, fmt.Errorf("embeddings response has %d vectors for %d inputs", len(parsed.Data), len(params.Inputs))
	}

	out := make([][]float64, len(params.Inputs))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embeddings response index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
