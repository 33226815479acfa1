// Package dataset loads RLHF validation prompts from parquet files or an
// Arrow Flight endpoint and batches them for generation.
package dataset

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/23skdu/longbow-verdict/internal/batch"
	"github.com/23skdu/longbow-verdict/internal/config"
	"github.com/23skdu/longbow-verdict/internal/logger"
	"github.com/23skdu/longbow-verdict/internal/metrics"
	"github.com/23skdu/longbow-verdict/internal/tensor"
	"github.com/23skdu/longbow-verdict/internal/tokenizer"
)

const (
	ColDataSource  = "data_source"
	ColGroundTruth = "ground_truth"

	UnknownSource = "unknown"
)

type Example struct {
	InputIDs    []int32
	DataSource  string
	GroundTruth string
}

type Dataset struct {
	examples []Example
	padID    int32
}

type row struct {
	prompt      string
	dataSource  string
	groundTruth string
}

// FromParquet reads every configured parquet file, tokenizes prompts, and
// applies the prompt-length policy: overlong prompts are filtered out when
// filtering is on, otherwise they fail the load.
func FromParquet(ctx context.Context, files []string, tok *tokenizer.Tokenizer, cfg config.DataConfig) (*Dataset, error) {
	var rows []row
	for _, path := range files {
		fileRows, err := readParquet(ctx, path, cfg.PromptKey)
		if err != nil {
			return nil, err
		}
		rows = append(rows, fileRows...)
	}
	return build(rows, tok, cfg)
}

func readParquet(ctx context.Context, path, promptKey string) ([]row, error) {
	rdr, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("open parquet %s: %w", path, err)
	}
	defer rdr.Close()

	fr, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("parquet reader %s: %w", path, err)
	}
	tbl, err := fr.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	defer tbl.Release()

	prompts, ok := tableStrings(tbl, promptKey)
	if !ok {
		return nil, fmt.Errorf("parquet %s has no string column %q", path, promptKey)
	}
	sources, _ := tableStrings(tbl, ColDataSource)
	truths, _ := tableStrings(tbl, ColGroundTruth)

	rows := make([]row, len(prompts))
	for i, p := range prompts {
		rows[i] = row{prompt: p, dataSource: UnknownSource}
		if sources != nil {
			rows[i].dataSource = sources[i]
		}
		if truths != nil {
			rows[i].groundTruth = truths[i]
		}
	}
	logger.Log.Info("read validation file", "path", path, "rows", len(rows))
	return rows, nil
}

func tableStrings(tbl arrow.Table, name string) ([]string, bool) {
	indices := tbl.Schema().FieldIndices(name)
	if len(indices) == 0 {
		return nil, false
	}
	col := tbl.Column(indices[0])
	out := make([]string, 0, tbl.NumRows())
	for _, chunk := range col.Data().Chunks() {
		sa, ok := chunk.(*array.String)
		if !ok {
			return nil, false
		}
		for i := 0; i < sa.Len(); i++ {
			out = append(out, sa.Value(i))
		}
	}
	return out, true
}

func build(rows []row, tok *tokenizer.Tokenizer, cfg config.DataConfig) (*Dataset, error) {
	ds := &Dataset{padID: tok.PadID}
	for _, r := range rows {
		ids := tok.Encode(r.prompt)
		if len(ids) > cfg.MaxPromptLength {
			if cfg.FilterPrompts {
				metrics.RecordDatasetRow("filtered")
				continue
			}
			return nil, fmt.Errorf("prompt of %d tokens exceeds max_prompt_length %d",
				len(ids), cfg.MaxPromptLength)
		}
		if len(ids) == 0 {
			metrics.RecordDatasetRow("empty")
			continue
		}
		metrics.RecordDatasetRow("kept")
		ds.examples = append(ds.examples, Example{
			InputIDs:    ids,
			DataSource:  r.dataSource,
			GroundTruth: r.groundTruth,
		})
	}
	logger.Log.Info("built validation dataset", "examples", len(ds.examples))
	return ds, nil
}

// FromExamples wraps already-tokenized examples. Used by embedding callers
// that source prompts outside parquet or flight.
func FromExamples(examples []Example, padID int32) *Dataset {
	return &Dataset{examples: examples, padID: padID}
}

func (d *Dataset) Len() int {
	return len(d.examples)
}

// Loader yields collated batches in a fixed order decided at construction.
type Loader struct {
	ds        *Dataset
	order     []int
	batchSize int
	dropLast  bool
	next      int
}

func NewLoader(ds *Dataset, cfg config.DataConfig) *Loader {
	order := make([]int, ds.Len())
	for i := range order {
		order[i] = i
	}
	if cfg.Shuffle {
		rng := rand.New(rand.NewSource(cfg.ShuffleSeed))
		rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	return &Loader{
		ds:        ds,
		order:     order,
		batchSize: cfg.BatchSize,
		dropLast:  cfg.DropLast,
	}
}

// NumBatches is the number of batches Next will yield.
func (l *Loader) NumBatches() int {
	if l.dropLast {
		return len(l.order) / l.batchSize
	}
	return (len(l.order) + l.batchSize - 1) / l.batchSize
}

// Next returns the next collated batch, or false when exhausted.
func (l *Loader) Next() (*batch.Batch, bool) {
	start := l.next * l.batchSize
	end := start + l.batchSize
	if end > len(l.order) {
		if l.dropLast || start >= len(l.order) {
			return nil, false
		}
		end = len(l.order)
	}
	l.next++

	examples := make([]Example, 0, end-start)
	for _, idx := range l.order[start:end] {
		examples = append(examples, l.ds.examples[idx])
	}
	return collate(examples, l.ds.padID), true
}

func (l *Loader) Reset() {
	l.next = 0
}

// collate left-pads input ids to the batch max length and derives the
// attention mask and position ids.
func collate(examples []Example, padID int32) *batch.Batch {
	n := len(examples)
	maxLen := 0
	for _, ex := range examples {
		if len(ex.InputIDs) > maxLen {
			maxLen = len(ex.InputIDs)
		}
	}

	ids := make([]int32, n*maxLen)
	mask := make([]int32, n*maxLen)
	pos := make([]int32, n*maxLen)
	sources := make([]string, n)
	truths := make([]string, n)

	for i, ex := range examples {
		padLen := maxLen - len(ex.InputIDs)
		offset := i*maxLen + padLen
		for j := 0; j < padLen; j++ {
			ids[i*maxLen+j] = padID
		}
		copy(ids[offset:], ex.InputIDs)
		for j := offset; j < (i+1)*maxLen; j++ {
			mask[j] = 1
		}
		// position ids: clip(cumsum(mask) - 1, min 0)
		cum := int32(0)
		for j := i * maxLen; j < (i+1)*maxLen; j++ {
			cum += mask[j]
			p := cum - 1
			if p < 0 {
				p = 0
			}
			pos[j] = p
		}
		sources[i] = ex.DataSource
		truths[i] = ex.GroundTruth
	}

	b := batch.New()
	b.Tensors["input_ids"] = tensor.NewI32([]int{n, maxLen}, ids)
	b.Tensors["attention_mask"] = tensor.NewI32([]int{n, maxLen}, mask)
	b.Tensors["position_ids"] = tensor.NewI32([]int{n, maxLen}, pos)
	b.NonTensor[ColDataSource] = sources
	b.NonTensor[ColGroundTruth] = truths
	return b
}
