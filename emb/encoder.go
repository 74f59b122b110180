// Package emb runs a transformer sentence-embedding model exported to ONNX.
// Token embeddings from the model's hidden-state output are mean pooled over
// the attention mask and L2 normalized.
package emb

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
)

// Config describes the model files and tensor layout.
type Config struct {
	OrtDLL        string
	ModelPath     string
	TokenizerPath string
	MaxSeqLen     int
	// Dimension is the hidden size of the output tensor, e.g. 384 or 1024.
	Dimension int
	// OutputName is the hidden-state output, "last_hidden_state" when empty.
	OutputName string
	// TokenTypeIDs feeds a token_type_ids input for BERT-style models.
	TokenTypeIDs bool
}

func (c *Config) applyDefaults() {
	if c.MaxSeqLen <= 0 {
		c.MaxSeqLen = 512
	}
	if c.OutputName == "" {
		c.OutputName = "last_hidden_state"
	}
}

var (
	envMu   sync.Mutex
	envRefs int
)

func acquireEnvironment(dll string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		if dll != "" {
			ort.SetSharedLibraryPath(dll)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}
	envRefs++
	return nil
}

func releaseEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		return nil
	}
	envRefs--
	if envRefs == 0 {
		return ort.DestroyEnvironment()
	}
	return nil
}

// Encoder owns a tokenizer and an ONNX session. Encode calls are serialized.
type Encoder struct {
	mu      sync.Mutex
	cfg     Config
	tk      *tokenizer.Tokenizer
	session *ort.DynamicAdvancedSession
}

// Init loads the tokenizer and model.
func (e *Encoder) Init(cfg Config) error {
	cfg.applyDefaults()
	if cfg.ModelPath == "" || cfg.TokenizerPath == "" {
		return errors.New("model and tokenizer paths are required")
	}
	if cfg.Dimension <= 0 {
		return errors.New("embedding dimension must be positive")
	}
	tk, err := pretrained.FromFile(cfg.TokenizerPath)
	if err != nil {
		return fmt.Errorf("load tokenizer: %w", err)
	}
	if err := acquireEnvironment(cfg.OrtDLL); err != nil {
		return err
	}
	inputs := []string{"input_ids", "attention_mask"}
	if cfg.TokenTypeIDs {
		inputs = append(inputs, "token_type_ids")
	}
	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, inputs, []string{cfg.OutputName}, nil)
	if err != nil {
		_ = releaseEnvironment()
		return fmt.Errorf("create onnx session: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	e.tk = tk
	e.session = session
	return nil
}

// Close destroys the session and releases the shared runtime environment.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	e.tk = nil
	if envErr := releaseEnvironment(); err == nil {
		err = envErr
	}
	return err
}

// Encode embeds text into a unit-length vector of cfg.Dimension floats.
func (e *Encoder) Encode(text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, errors.New("encoder is not initialized")
	}
	enc, err := e.tk.EncodeSingle(text, true)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	ids := enc.Ids
	mask := enc.AttentionMask
	if len(mask) != len(ids) {
		mask = make([]int, len(ids))
		for i := range mask {
			mask[i] = 1
		}
	}
	n := len(ids)
	if n > e.cfg.MaxSeqLen {
		n = e.cfg.MaxSeqLen
	}
	if n == 0 {
		return nil, errors.New("empty token sequence")
	}
	shape := ort.NewShape(1, int64(n))

	idsTensor, err := ort.NewTensor(shape, toInt64(ids[:n]))
	if err != nil {
		return nil, err
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor(shape, toInt64(mask[:n]))
	if err != nil {
		return nil, err
	}
	defer maskTensor.Destroy()
	inputs := []ort.Value{idsTensor, maskTensor}
	if e.cfg.TokenTypeIDs {
		typeIDs := make([]int64, n)
		if len(enc.TypeIds) >= n {
			typeIDs = toInt64(enc.TypeIds[:n])
		}
		typeTensor, err := ort.NewTensor(shape, typeIDs)
		if err != nil {
			return nil, err
		}
		defer typeTensor.Destroy()
		inputs = append(inputs, typeTensor)
	}

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(n), int64(e.cfg.Dimension)))
	if err != nil {
		return nil, err
	}
	defer output.Destroy()
	if err := e.session.Run(inputs, []ort.Value{output}); err != nil {
		return nil, fmt.Errorf("run onnx session: %w", err)
	}
	return MeanPool(output.GetData(), mask[:n], e.cfg.Dimension), nil
}

// MeanPool averages the rows of hidden (len(mask) x dim, row-major) whose mask
// value is non-zero and returns the L2-normalized result.
func MeanPool(hidden []float32, mask []int, dim int) []float32 {
	out := make([]float32, dim)
	if dim <= 0 {
		return out
	}
	var count float32
	for t, m := range mask {
		if m == 0 {
			continue
		}
		row := hidden[t*dim : (t+1)*dim]
		for i, v := range row {
			out[i] += v
		}
		count++
	}
	if count == 0 {
		return out
	}
	var norm float64
	for i := range out {
		out[i] /= count
		norm += float64(out[i]) * float64(out[i])
	}
	if norm == 0 {
		return out
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range out {
		out[i] *= scale
	}
	return out
}

func toInt64(values []int) []int64 {
	out := make([]int64, len(values))
	for i, v := range values {
		out[i] = int64(v)
	}
	return out
}
