package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ShardsLoadedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkpoint_shards_loaded_total",
		Help: "The total number of checkpoint shard files loaded",
	})

	ShardLoadDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "checkpoint_shard_load_duration_seconds",
		Help: "Duration of individual shard file loads",
	})

	ConcatFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkpoint_concat_fallbacks_total",
		Help: "Parameters kept from the first shard because concatenation did not apply",
	})

	ConsolidatedParams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkpoint_consolidated_params",
		Help: "Number of parameters in the consolidated state dict",
	})

	DatasetRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dataset_rows_total",
		Help: "Rows read from validation files, by disposition",
	}, []string{"disposition"})

	EvalBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eval_batches_total",
		Help: "The total number of validation batches evaluated",
	})

	EvalExamplesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eval_examples_total",
		Help: "The total number of validation examples scored",
	})

	GenerationDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "generation_duration_seconds",
		Help: "Duration of rollout generation per batch",
	})

	GenerationPadExamples = promauto.NewCounter(prometheus.CounterOpts{
		Name: "generation_pad_examples_total",
		Help: "Padding examples added to satisfy the generation divisor",
	})

	ResponseLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "response_length_tokens",
		Help:    "Distribution of generated response lengths",
		Buckets: []float64{8, 16, 32, 64, 128, 256, 512, 1024},
	})

	RewardScore = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reward_score",
		Help:    "Distribution of per-example reward sums",
		Buckets: []float64{-1, -0.5, 0, 0.1, 0.25, 0.5, 0.75, 0.9, 1},
	}, []string{"data_source"})
)

func RecordShardLoad(duration time.Duration) {
	ShardsLoadedTotal.Inc()
	ShardLoadDuration.Observe(duration.Seconds())
}

func RecordConcatFallback() {
	ConcatFallbacks.Inc()
}

func RecordConsolidatedParams(n int) {
	ConsolidatedParams.Set(float64(n))
}

func RecordDatasetRow(disposition string) {
	DatasetRowsTotal.WithLabelValues(disposition).Inc()
}

func RecordEvalBatch(examples int, genDuration time.Duration) {
	EvalBatchesTotal.Inc()
	EvalExamplesTotal.Add(float64(examples))
	GenerationDuration.Observe(genDuration.Seconds())
}

func RecordGenerationPad(padSize int) {
	if padSize > 0 {
		GenerationPadExamples.Add(float64(padSize))
	}
}

func RecordResponseLength(tokens int) {
	ResponseLength.Observe(float64(tokens))
}

func RecordRewardScore(dataSource string, score float64) {
	RewardScore.WithLabelValues(dataSource).Observe(score)
}
