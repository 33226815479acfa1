// Package rollout turns prompt batches into completed sequences through a
// pluggable generation backend.
package rollout

import (
	"context"
	"fmt"

	"github.com/23skdu/longbow-verdict/internal/batch"
	"github.com/23skdu/longbow-verdict/internal/config"
	"github.com/23skdu/longbow-verdict/internal/logger"
	"github.com/23skdu/longbow-verdict/internal/metrics"
	"github.com/23skdu/longbow-verdict/internal/tensor"
)

// Meta info keys the driver sets on a generation batch.
const (
	MetaEOSTokenID      = "eos_token_id"
	MetaPadTokenID      = "pad_token_id"
	MetaDoSample        = "do_sample"
	MetaValidate        = "validate"
	MetaRecomputeLogPct = "recompute_log_prob"
)

// Options are passed through to the generation backend.
type Options struct {
	EOSTokenID   int32
	PadTokenID   int32
	MaxNewTokens int
	DoSample     bool
	Temperature  float64
}

// Generator produces one token response per prompt row. Prompt rows may be
// left-padded with the pad token.
type Generator interface {
	GenerateTokens(ctx context.Context, prompts [][]int32, opts Options) ([][]int32, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompts [][]int32, opts Options) ([][]int32, error)

func (f GeneratorFunc) GenerateTokens(ctx context.Context, prompts [][]int32, opts Options) ([][]int32, error) {
	return f(ctx, prompts, opts)
}

type Rollout struct {
	gen Generator
	cfg config.RolloutConfig
}

func New(gen Generator, cfg config.RolloutConfig) *Rollout {
	return &Rollout{gen: gen, cfg: cfg}
}

// GenerateSequences runs the backend over the generation batch in
// micro-batches and merges responses back into full sequences. The returned
// batch holds responses, prompt+response input ids, and extended attention
// mask and position ids.
func (r *Rollout) GenerateSequences(ctx context.Context, gb *batch.Batch) (*batch.Batch, error) {
	ids, ok := gb.Tensors["input_ids"]
	if !ok {
		return nil, fmt.Errorf("generation batch missing input_ids")
	}
	mask, ok := gb.Tensors["attention_mask"]
	if !ok {
		return nil, fmt.Errorf("generation batch missing attention_mask")
	}

	opts, err := r.options(gb)
	if err != nil {
		return nil, err
	}

	n := ids.Rows()
	promptLen := ids.RowSize()
	prompts := make([][]int32, n)
	for i := 0; i < n; i++ {
		prompts[i] = ids.I[i*promptLen : (i+1)*promptLen]
	}

	responses := make([][]int32, 0, n)
	for start := 0; start < n; start += r.cfg.MicroBatchSize {
		end := start + r.cfg.MicroBatchSize
		if end > n {
			end = n
		}
		chunk, err := r.gen.GenerateTokens(ctx, prompts[start:end], opts)
		if err != nil {
			return nil, fmt.Errorf("generate micro-batch [%d:%d): %w", start, end, err)
		}
		if len(chunk) != end-start {
			return nil, fmt.Errorf("backend returned %d responses for %d prompts", len(chunk), end-start)
		}
		responses = append(responses, chunk...)
	}
	logger.Log.Debug("generated sequences", "examples", n, "micro_batch", r.cfg.MicroBatchSize)

	return r.assemble(gb, ids, mask, responses, opts)
}

func (r *Rollout) options(gb *batch.Batch) (Options, error) {
	eos, ok := gb.MetaInfo[MetaEOSTokenID].(int32)
	if !ok {
		return Options{}, fmt.Errorf("generation batch missing %s meta info", MetaEOSTokenID)
	}
	pad, ok := gb.MetaInfo[MetaPadTokenID].(int32)
	if !ok {
		return Options{}, fmt.Errorf("generation batch missing %s meta info", MetaPadTokenID)
	}
	doSample, _ := gb.MetaInfo[MetaDoSample].(bool)
	return Options{
		EOSTokenID:   eos,
		PadTokenID:   pad,
		MaxNewTokens: r.cfg.MaxResponseLength,
		DoSample:     doSample,
		Temperature:  r.cfg.Temperature,
	}, nil
}

// assemble right-pads responses to the configured length and rebuilds the
// full-sequence tensors.
func (r *Rollout) assemble(gb *batch.Batch, ids, mask *tensor.Tensor, responses [][]int32, opts Options) (*batch.Batch, error) {
	n := ids.Rows()
	promptLen := ids.RowSize()
	respLen := r.cfg.MaxResponseLength
	fullLen := promptLen + respLen

	respData := make([]int32, n*respLen)
	fullIDs := make([]int32, n*fullLen)
	fullMask := make([]int32, n*fullLen)
	fullPos := make([]int32, n*fullLen)

	for i, resp := range responses {
		if len(resp) > respLen {
			resp = resp[:respLen]
		}
		metrics.RecordResponseLength(len(resp))

		row := respData[i*respLen : (i+1)*respLen]
		copy(row, resp)
		for j := len(resp); j < respLen; j++ {
			row[j] = opts.PadTokenID
		}

		copy(fullIDs[i*fullLen:], ids.I[i*promptLen:(i+1)*promptLen])
		copy(fullIDs[i*fullLen+promptLen:], row)

		copy(fullMask[i*fullLen:], mask.I[i*promptLen:(i+1)*promptLen])
		for j := 0; j < len(resp); j++ {
			fullMask[i*fullLen+promptLen+j] = 1
		}

		// position ids: clip(cumsum(mask) - 1, min 0), same as collation
		cum := int32(0)
		for j := 0; j < fullLen; j++ {
			cum += fullMask[i*fullLen+j]
			p := cum - 1
			if p < 0 {
				p = 0
			}
			fullPos[i*fullLen+j] = p
		}
	}

	out := batch.New()
	out.Tensors["responses"] = tensor.NewI32([]int{n, respLen}, respData)
	out.Tensors["input_ids"] = tensor.NewI32([]int{n, fullLen}, fullIDs)
	out.Tensors["attention_mask"] = tensor.NewI32([]int{n, fullLen}, fullMask)
	out.Tensors["position_ids"] = tensor.NewI32([]int{n, fullLen}, fullPos)
	for k, v := range gb.MetaInfo {
		out.MetaInfo[k] = v
	}
	return out, nil
}
