// Package model loads causal-LM weights from a model directory and exposes
// the state-dict surface the evaluation driver needs. The forward pass of a
// full transformer lives in a rollout backend; the module here provides the
// weight bookkeeping plus a last-token greedy reference decode.
package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/23skdu/longbow-verdict/internal/logger"
	"github.com/23skdu/longbow-verdict/internal/statefile"
	"github.com/23skdu/longbow-verdict/internal/tensor"
)

const (
	WeightsFile   = "model.pt"
	ConfigFile    = "config.json"
	TokenizerFile = "tokenizer.json"
)

const (
	embedKey  = "model.embed_tokens.weight"
	lmHeadKey = "lm_head.weight"
)

// Config mirrors the config.json sidecar in a model directory.
type Config struct {
	Architecture          string `json:"architecture"`
	HiddenSize            int    `json:"hidden_size"`
	VocabSize             int    `json:"vocab_size"`
	NumLayers             int    `json:"num_hidden_layers"`
	MaxPositionEmbeddings int    `json:"max_position_embeddings"`
	EOSTokenID            int32  `json:"eos_token_id"`
	PadTokenID            int32  `json:"pad_token_id"`
	BOSTokenID            int32  `json:"bos_token_id"`
	TieWordEmbeddings     bool   `json:"tie_word_embeddings"`
}

func (c *Config) Validate() error {
	if c.HiddenSize <= 0 {
		return fmt.Errorf("invalid hidden_size: %d (must be positive)", c.HiddenSize)
	}
	if c.VocabSize <= 0 {
		return fmt.Errorf("invalid vocab_size: %d (must be positive)", c.VocabSize)
	}
	if c.NumLayers < 0 {
		return fmt.Errorf("invalid num_hidden_layers: %d", c.NumLayers)
	}
	if c.EOSTokenID < 0 || c.EOSTokenID >= int32(c.VocabSize) {
		return fmt.Errorf("eos_token_id %d out of vocab range", c.EOSTokenID)
	}
	return nil
}

// Options control how the module is materialized.
type Options struct {
	Dtype    string
	AttnImpl string
}

// Module holds a loaded parameter set.
type Module struct {
	cfg      Config
	params   map[string]*tensor.Tensor
	dtype    string
	attnImpl string
}

// LoadPretrained reads config.json and model.pt from a resolved model
// directory.
func LoadPretrained(dir string, opts Options) (*Module, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("read model config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse model config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("model config: %w", err)
	}

	entries, err := statefile.Read(filepath.Join(dir, WeightsFile))
	if err != nil {
		return nil, fmt.Errorf("read model weights: %w", err)
	}
	params := make(map[string]*tensor.Tensor, len(entries))
	for _, e := range entries {
		if _, dup := params[e.Name]; dup {
			return nil, fmt.Errorf("duplicate parameter %s in %s", e.Name, WeightsFile)
		}
		params[e.Name] = e.Tensor
	}

	emb, ok := params[embedKey]
	if !ok {
		return nil, fmt.Errorf("model weights missing %s", embedKey)
	}
	if len(emb.Shape) != 2 || emb.Shape[0] != cfg.VocabSize || emb.Shape[1] != cfg.HiddenSize {
		return nil, fmt.Errorf("embedding shape %v does not match config [%d %d]",
			emb.Shape, cfg.VocabSize, cfg.HiddenSize)
	}
	if !cfg.TieWordEmbeddings {
		if _, ok := params[lmHeadKey]; !ok {
			return nil, fmt.Errorf("model weights missing %s (untied)", lmHeadKey)
		}
	}

	m := &Module{
		cfg:      cfg,
		params:   params,
		dtype:    opts.Dtype,
		attnImpl: opts.AttnImpl,
	}
	logger.Log.Info("loaded pretrained model",
		"dir", dir,
		"arch", cfg.Architecture,
		"params", len(params),
		"dtype", m.dtype,
		"attn_impl", m.attnImpl)
	return m, nil
}

func (m *Module) Config() Config { return m.cfg }
func (m *Module) Dtype() string  { return m.dtype }

func (m *Module) Param(name string) (*tensor.Tensor, bool) {
	t, ok := m.params[name]
	return t, ok
}

func (m *Module) ParamNames() []string {
	names := make([]string, 0, len(m.params))
	for name := range m.params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadStateDict overlays a consolidated checkpoint state onto the module.
// The key sets must match exactly and shapes must agree.
func (m *Module) LoadStateDict(sd map[string]*tensor.Tensor) error {
	var missing []string
	for name := range m.params {
		if _, ok := sd[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("state dict missing %d parameters (first: %s)", len(missing), missing[0])
	}

	for name, val := range sd {
		cur, ok := m.params[name]
		if !ok {
			return fmt.Errorf("unexpected parameter in state dict: %s", name)
		}
		if !shapeEqual(cur.Shape, val.Shape) {
			return fmt.Errorf("parameter %s shape mismatch: model %v, state dict %v",
				name, cur.Shape, val.Shape)
		}
	}
	for name, val := range sd {
		m.params[name] = val
	}
	logger.Log.Info("overlaid checkpoint state dict", "params", len(sd))
	return nil
}

// To moves the module to a compute precision. Narrow dtypes round every
// float parameter through the target representation so later math sees what
// the accelerator would.
func (m *Module) To(dtype string) error {
	switch dtype {
	case "float32":
	case "float16":
		for _, p := range m.params {
			for i, v := range p.F {
				p.F[i] = statefile.HalfToFloat(statefile.FloatToHalf(v))
			}
		}
	case "bfloat16":
		for _, p := range m.params {
			for i, v := range p.F {
				p.F[i] = math.Float32frombits(math.Float32bits(v) &^ 0xffff)
			}
		}
	default:
		return fmt.Errorf("unknown dtype %q", dtype)
	}
	m.dtype = dtype
	return nil
}

// Greedy decodes one response per prompt with last-token greedy sampling.
// Decoding stops after the eos token or maxNewTokens, whichever first; the
// eos token is part of the response.
func (m *Module) Greedy(ctx context.Context, prompts [][]int32, maxNewTokens int, eosID, padID int32) ([][]int32, error) {
	emb := m.params[embedKey]
	head := emb
	if !m.cfg.TieWordEmbeddings {
		head = m.params[lmHeadKey]
	}

	out := make([][]int32, len(prompts))
	for i, prompt := range prompts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		last := lastRealToken(prompt, padID)
		if last < 0 {
			out[i] = nil
			continue
		}

		cur := prompt[last]
		var resp []int32
		for len(resp) < maxNewTokens {
			next := m.nextToken(cur, emb, head)
			resp = append(resp, next)
			if next == eosID {
				break
			}
			cur = next
		}
		out[i] = resp
	}
	return out, nil
}

// nextToken scores every vocab entry against the hidden state of the last
// token and takes the argmax.
func (m *Module) nextToken(tok int32, emb, head *tensor.Tensor) int32 {
	h := emb.F[int(tok)*m.cfg.HiddenSize : (int(tok)+1)*m.cfg.HiddenSize]

	best := int32(0)
	bestScore := float32(math.Inf(-1))
	for v := 0; v < m.cfg.VocabSize; v++ {
		row := head.F[v*m.cfg.HiddenSize : (v+1)*m.cfg.HiddenSize]
		var score float32
		for j, x := range h {
			score += x * row[j]
		}
		if score > bestScore {
			bestScore = score
			best = int32(v)
		}
	}
	return best
}

func lastRealToken(row []int32, padID int32) int {
	for i := len(row) - 1; i >= 0; i-- {
		if row[i] != padID {
			return i
		}
	}
	return -1
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
