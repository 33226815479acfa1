// Package eval drives validation: generate a completion for every prompt,
// score it, and aggregate mean scores per data source.
package eval

import (
	"context"
	"fmt"
	"time"

	"github.com/23skdu/longbow-verdict/internal/batch"
	"github.com/23skdu/longbow-verdict/internal/config"
	"github.com/23skdu/longbow-verdict/internal/dataset"
	"github.com/23skdu/longbow-verdict/internal/logger"
	"github.com/23skdu/longbow-verdict/internal/metrics"
	"github.com/23skdu/longbow-verdict/internal/reward"
	"github.com/23skdu/longbow-verdict/internal/rollout"
	"github.com/23skdu/longbow-verdict/internal/tokenizer"
)

// ScorePrefix namespaces the aggregated metric keys.
const ScorePrefix = "val/test_score/"

// Sequencer completes a generation batch. Satisfied by *rollout.Rollout.
type Sequencer interface {
	GenerateSequences(ctx context.Context, gb *batch.Batch) (*batch.Batch, error)
}

type Runner struct {
	tok     *tokenizer.Tokenizer
	loader  *dataset.Loader
	seq     Sequencer
	rewards reward.Fn
	cfg     config.RolloutConfig
}

func New(tok *tokenizer.Tokenizer, loader *dataset.Loader, seq Sequencer, rewards reward.Fn, cfg config.RolloutConfig) *Runner {
	return &Runner{tok: tok, loader: loader, seq: seq, rewards: rewards, cfg: cfg}
}

// Run evaluates every batch the loader yields and returns the mean score per
// data source, keyed as val/test_score/<source>.
func (r *Runner) Run(ctx context.Context) (map[string]float64, error) {
	if r.loader.NumBatches() == 0 {
		return nil, fmt.Errorf("validation loader yields no batches")
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)

	r.loader.Reset()
	for batchNum := 0; ; batchNum++ {
		b, ok := r.loader.Next()
		if !ok {
			break
		}
		scores, sources, genDur, err := r.evalBatch(ctx, b)
		if err != nil {
			return nil, fmt.Errorf("eval batch %d: %w", batchNum, err)
		}

		metrics.RecordEvalBatch(len(scores), genDur)
		for i, score := range scores {
			sums[sources[i]] += score
			counts[sources[i]]++
			metrics.RecordRewardScore(sources[i], score)
		}
		logger.Log.Info("evaluated batch",
			"batch", batchNum,
			"examples", len(scores),
			"gen_duration", genDur)
	}

	out := make(map[string]float64, len(sums))
	for src, sum := range sums {
		out[ScorePrefix+src] = sum / float64(counts[src])
	}
	return out, nil
}

func (r *Runner) evalBatch(ctx context.Context, b *batch.Batch) ([]float64, []string, time.Duration, error) {
	if ids, ok := b.Tensors["input_ids"]; ok && ids.Rows() > 0 {
		logger.Log.Debug("sample input",
			"text", r.tok.Decode(ids.I[:ids.RowSize()], true))
	}

	gb, err := b.Pop("input_ids", "attention_mask", "position_ids")
	if err != nil {
		return nil, nil, 0, err
	}
	gb.MetaInfo[rollout.MetaEOSTokenID] = r.tok.EOSID
	gb.MetaInfo[rollout.MetaPadTokenID] = r.tok.PadID
	gb.MetaInfo[rollout.MetaDoSample] = r.cfg.DoSample
	gb.MetaInfo[rollout.MetaValidate] = true
	gb.MetaInfo[rollout.MetaRecomputeLogPct] = false

	padded, padSize, err := gb.PadToDivisor(r.cfg.Divisor)
	if err != nil {
		return nil, nil, 0, err
	}
	metrics.RecordGenerationPad(padSize)

	start := time.Now()
	completed, err := r.seq.GenerateSequences(ctx, padded)
	genDur := time.Since(start)
	if err != nil {
		return nil, nil, genDur, err
	}
	completed = completed.Unpad(padSize)

	if resp, ok := completed.Tensors["responses"]; ok && resp.Rows() > 0 {
		logger.Log.Debug("sample output",
			"text", r.tok.Decode(resp.I[:resp.RowSize()], true))
	}

	if err := b.Union(completed); err != nil {
		return nil, nil, genDur, err
	}

	rewards, err := r.rewards.Compute(b)
	if err != nil {
		return nil, nil, genDur, err
	}
	scores := rewards.RowSums()

	sources := make([]string, len(scores))
	col := b.NonTensor[dataset.ColDataSource]
	for i := range sources {
		sources[i] = dataset.UnknownSource
		if i < len(col) && col[i] != "" {
			sources[i] = col[i]
		}
	}
	return scores, sources, genDur, nil
}
