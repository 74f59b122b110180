package resolver

import (
	"context"
	"errors"
	"path/filepath"
	"sync"

	"yashubustudio/termmap/emb"
)

// Embedder is the opaque embedding capability: text in, fixed-length vector out.
// Implementations must be deterministic for identical input within a process.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	ModelID() string
	Close() error
}

// OrtEmbedder runs a local ONNX sentence-embedding model through emb.Encoder.
type OrtEmbedder struct {
	mu      sync.Mutex
	enc     *emb.Encoder
	modelID string
}

// NewOrtEmbedder initializes the encoder. An empty modelID falls back to the model file name.
func NewOrtEmbedder(cfg emb.Config, modelID string) (*OrtEmbedder, error) {
	if modelID == "" && cfg.ModelPath != "" {
		modelID = filepath.Base(cfg.ModelPath)
	}
	encoder := &emb.Encoder{}
	if err := encoder.Init(cfg); err != nil {
		return nil, err
	}
	return &OrtEmbedder{enc: encoder, modelID: modelID}, nil
}

// EmbedText normalizes and encodes a single string.
func (o *OrtEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.mu.Lock()
	enc := o.enc
	o.mu.Unlock()
	if enc == nil {
		return nil, errors.New("embedder is not initialized")
	}
	return enc.Encode(NormalizeText(text))
}

// ModelID returns the identifier used to scope persisted vectors.
func (o *OrtEmbedder) ModelID() string {
	return o.modelID
}

// Close releases ORT resources.
func (o *OrtEmbedder) Close() error {
	if o == nil {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.enc == nil {
		return nil
	}
	err := o.enc.Close()
	o.enc = nil
	return err
}
