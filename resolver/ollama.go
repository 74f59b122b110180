package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaURL = "http://127.0.0.1:11434"

// OllamaEmbedder calls an Ollama server's /api/embed endpoint.
type OllamaEmbedder struct {
	client   *http.Client
	model    string
	endpoint string
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaEmbedder builds an embedder for model served at baseURL.
func NewOllamaEmbedder(model, baseURL string, timeout time.Duration) *OllamaEmbedder {
	url := strings.TrimSpace(baseURL)
	if url == "" {
		url = defaultOllamaURL
	}
	url = strings.TrimRight(url, "/")
	if !strings.HasSuffix(url, "/api/embed") {
		url += "/api/embed"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OllamaEmbedder{
		client:   &http.Client{Timeout: timeout},
		model:    model,
		endpoint: url,
	}
}

// ModelID returns the Ollama model name.
func (o *OllamaEmbedder) ModelID() string {
	return o.model
}

// Close is a no-op.
func (o *OllamaEmbedder) Close() error {
	return nil
}

// EmbedText requests one embedding.
func (o *OllamaEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(o.model) == "" {
		return nil, fmt.Errorf("ollama embedding model is required")
	}
	body, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Input: []string{text}})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ollama embed request failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var parsed ollamaEmbedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Embeddings) != 1 {
		return nil, fmt.Errorf("ollama embedding count mismatch: got %d, expected 1", len(parsed.Embeddings))
	}
	return parsed.Embeddings[0], nil
}
