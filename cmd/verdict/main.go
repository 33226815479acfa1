package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-verdict/internal/checkpoint"
	"github.com/23skdu/longbow-verdict/internal/config"
	"github.com/23skdu/longbow-verdict/internal/dataset"
	"github.com/23skdu/longbow-verdict/internal/eval"
	"github.com/23skdu/longbow-verdict/internal/logger"
	"github.com/23skdu/longbow-verdict/internal/model"
	"github.com/23skdu/longbow-verdict/internal/modelpath"
	"github.com/23skdu/longbow-verdict/internal/reward"
	"github.com/23skdu/longbow-verdict/internal/rollout"
	"github.com/23skdu/longbow-verdict/internal/tokenizer"
)

var (
	configPath     = flag.String("config", "", "Path to YAML run configuration")
	modelOverride  = flag.String("model", "", "Override model.path from the config")
	ckptOverride   = flag.String("checkpoint", "", "Override model.checkpoint_path from the config")
	metricsAddr    = flag.String("metrics", "", "Override metrics listen address")
	cacheDirectory = flag.String("cache-dir", "", "Cache directory for remote model downloads")
)

func main() {
	flag.Parse()

	if *configPath == "" {
		fmt.Println("Error: --config flag is required")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *modelOverride != "" {
		cfg.Model.Path = *modelOverride
	}
	if *ckptOverride != "" {
		cfg.Model.CheckpointPath = *ckptOverride
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Log.Level, cfg.Log.Format)

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		logger.Log.Info("metrics serving", "addr", cfg.Metrics.Addr)
		if err := http.ListenAndServe(cfg.Metrics.Addr, nil); err != nil {
			logger.Log.Error("metrics server", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scores, err := run(ctx, cfg)
	if err != nil {
		logger.Log.Error("evaluation failed", "error", err)
		os.Exit(1)
	}

	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s: %.6f\n", k, scores[k])
	}
}

func run(ctx context.Context, cfg config.Config) (map[string]float64, error) {
	localModel, err := modelpath.Resolve(ctx, cfg.Model.Path, *cacheDirectory)
	if err != nil {
		return nil, fmt.Errorf("resolve model path: %w", err)
	}

	logger.Log.Info("loading tokenizer", "dir", localModel)
	tok, err := tokenizer.New(filepath.Join(localModel, model.TokenizerFile))
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	logger.Log.Info("loading model", "dir", localModel, "dtype", cfg.Model.Dtype)
	mod, err := model.LoadPretrained(localModel, model.Options{
		Dtype:    cfg.Model.Dtype,
		AttnImpl: cfg.Model.AttnImpl,
	})
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}

	if cfg.Model.CheckpointPath != "" {
		logger.Log.Info("overlaying trainer checkpoint", "dir", cfg.Model.CheckpointPath)
		sd, err := checkpoint.LoadSharded(cfg.Model.CheckpointPath)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint: %w", err)
		}
		if err := mod.LoadStateDict(sd); err != nil {
			return nil, fmt.Errorf("apply checkpoint: %w", err)
		}
	}
	if err := mod.To(cfg.Model.Dtype); err != nil {
		return nil, fmt.Errorf("cast model: %w", err)
	}

	var ds *dataset.Dataset
	if cfg.Data.FlightAddr != "" {
		ds, err = dataset.FromFlight(ctx, cfg.Data.FlightAddr, tok, cfg.Data)
	} else {
		ds, err = dataset.FromParquet(ctx, cfg.Data.ValFiles, tok, cfg.Data)
	}
	if err != nil {
		return nil, fmt.Errorf("load validation set: %w", err)
	}
	loader := dataset.NewLoader(ds, cfg.Data)

	gen := rollout.GeneratorFunc(func(ctx context.Context, prompts [][]int32, opts rollout.Options) ([][]int32, error) {
		return mod.Greedy(ctx, prompts, opts.MaxNewTokens, opts.EOSTokenID, opts.PadTokenID)
	})
	runner := eval.New(tok, loader,
		rollout.New(gen, cfg.Rollout),
		reward.NewNaive(tok, cfg.Reward.NumExamine, nil),
		cfg.Rollout)

	return runner.Run(ctx)
}
