// Package reward scores completed batches. The naive manager mirrors what
// an RLHF trainer uses during validation: one scalar per example placed at
// the final response token.
package reward

import (
	"fmt"
	"strings"

	"github.com/23skdu/longbow-verdict/internal/batch"
	"github.com/23skdu/longbow-verdict/internal/dataset"
	"github.com/23skdu/longbow-verdict/internal/logger"
	"github.com/23skdu/longbow-verdict/internal/tensor"
	"github.com/23skdu/longbow-verdict/internal/tokenizer"
)

// Fn maps a completed batch to a [n, response_len] reward tensor.
type Fn interface {
	Compute(b *batch.Batch) (*tensor.Tensor, error)
}

// Scorer grades a single decoded solution against its ground truth.
type Scorer func(dataSource, solution, groundTruth string) float64

// ExactMatch scores 1 for a trimmed exact match, 0 otherwise.
func ExactMatch(dataSource, solution, groundTruth string) float64 {
	if strings.TrimSpace(solution) == strings.TrimSpace(groundTruth) {
		return 1
	}
	return 0
}

// NaiveManager decodes each example and places the scorer's value at the
// last valid response position.
type NaiveManager struct {
	tok        *tokenizer.Tokenizer
	numExamine int
	score      Scorer
	examined   map[string]int
}

func NewNaive(tok *tokenizer.Tokenizer, numExamine int, score Scorer) *NaiveManager {
	if score == nil {
		score = ExactMatch
	}
	return &NaiveManager{
		tok:        tok,
		numExamine: numExamine,
		score:      score,
		examined:   make(map[string]int),
	}
}

func (m *NaiveManager) Compute(b *batch.Batch) (*tensor.Tensor, error) {
	responses, ok := b.Tensors["responses"]
	if !ok {
		return nil, fmt.Errorf("reward batch missing responses")
	}
	ids, ok := b.Tensors["input_ids"]
	if !ok {
		return nil, fmt.Errorf("reward batch missing input_ids")
	}
	mask, ok := b.Tensors["attention_mask"]
	if !ok {
		return nil, fmt.Errorf("reward batch missing attention_mask")
	}

	n := responses.Rows()
	respLen := responses.RowSize()
	fullLen := ids.RowSize()
	promptLen := fullLen - respLen
	if promptLen < 0 {
		return nil, fmt.Errorf("responses (%d) longer than full sequence (%d)", respLen, fullLen)
	}

	sources := b.NonTensor[dataset.ColDataSource]
	truths := b.NonTensor[dataset.ColGroundTruth]

	out := tensor.ZerosF32([]int{n, respLen})
	for i := 0; i < n; i++ {
		validLen := 0
		for j := 0; j < respLen; j++ {
			validLen += int(mask.I[i*fullLen+promptLen+j])
		}
		if validLen == 0 {
			continue
		}

		src := dataset.UnknownSource
		if i < len(sources) {
			src = sources[i]
		}
		truth := ""
		if i < len(truths) {
			truth = truths[i]
		}

		respText := m.tok.Decode(responses.I[i*respLen:i*respLen+validLen], true)
		score := m.score(src, respText, truth)
		out.F[i*respLen+validLen-1] = float32(score)

		if m.examined[src] < m.numExamine {
			m.examined[src]++
			promptText := m.tok.Decode(ids.I[i*fullLen:i*fullLen+promptLen], true)
			logger.Log.Info("examined sample",
				"data_source", src,
				"prompt", promptText,
				"response", respText,
				"score", score)
		}
	}
	return out, nil
}
