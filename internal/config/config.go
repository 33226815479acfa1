package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v2"
)

// Config is the full evaluation run configuration, loaded from YAML.
type Config struct {
	Model   ModelConfig   `yaml:"model"`
	Data    DataConfig    `yaml:"data"`
	Rollout RolloutConfig `yaml:"rollout"`
	Reward  RewardConfig  `yaml:"reward"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type ModelConfig struct {
	// Path is a local model directory or a remote identifier (hdfs://...).
	Path string `yaml:"path"`
	// CheckpointPath optionally points at a directory of rank-sharded
	// trainer checkpoint files to overlay on the pretrained weights.
	CheckpointPath string `yaml:"checkpoint_path"`
	Dtype          string `yaml:"dtype"`
	AttnImpl       string `yaml:"attn_impl"`
}

type DataConfig struct {
	ValFiles        []string `yaml:"val_files"`
	FlightAddr      string   `yaml:"flight_addr"`
	PromptKey       string   `yaml:"prompt_key"`
	BatchSize       int      `yaml:"batch_size"`
	MaxPromptLength int      `yaml:"max_prompt_length"`
	Shuffle         bool     `yaml:"shuffle"`
	ShuffleSeed     int64    `yaml:"shuffle_seed"`
	DropLast        bool     `yaml:"drop_last"`
	FilterPrompts   bool     `yaml:"filter_prompts"`
}

type RolloutConfig struct {
	MicroBatchSize    int     `yaml:"micro_batch_size"`
	MaxResponseLength int     `yaml:"max_response_length"`
	// Divisor is the distributed generation constraint: batches are padded
	// so their example count divides evenly before the generate call.
	Divisor     int     `yaml:"divisor"`
	DoSample    bool    `yaml:"do_sample"`
	Temperature float64 `yaml:"temperature"`
}

type RewardConfig struct {
	NumExamine int `yaml:"num_examine"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

func Default() Config {
	return Config{
		Model: ModelConfig{
			Dtype:    "bfloat16",
			AttnImpl: "flash_attention_2",
		},
		Data: DataConfig{
			PromptKey:       "prompt",
			BatchSize:       32,
			MaxPromptLength: 1024,
			FilterPrompts:   true,
		},
		Rollout: RolloutConfig{
			MicroBatchSize:    8,
			MaxResponseLength: 256,
			Divisor:           1,
		},
		Reward: RewardConfig{
			NumExamine: 1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Model.Path == "" {
		return fmt.Errorf("model.path is required")
	}
	switch c.Model.Dtype {
	case "float32", "float16", "bfloat16":
	default:
		return fmt.Errorf("invalid model.dtype: %q", c.Model.Dtype)
	}
	if len(c.Data.ValFiles) == 0 && c.Data.FlightAddr == "" {
		return fmt.Errorf("data.val_files or data.flight_addr is required")
	}
	if c.Data.BatchSize <= 0 {
		return fmt.Errorf("invalid data.batch_size: %d (must be positive)", c.Data.BatchSize)
	}
	if c.Data.MaxPromptLength <= 0 {
		return fmt.Errorf("invalid data.max_prompt_length: %d (must be positive)", c.Data.MaxPromptLength)
	}
	if c.Data.PromptKey == "" {
		return fmt.Errorf("data.prompt_key is required")
	}
	if c.Rollout.MicroBatchSize <= 0 {
		return fmt.Errorf("invalid rollout.micro_batch_size: %d (must be positive)", c.Rollout.MicroBatchSize)
	}
	if c.Rollout.MaxResponseLength <= 0 {
		return fmt.Errorf("invalid rollout.max_response_length: %d (must be positive)", c.Rollout.MaxResponseLength)
	}
	if c.Rollout.Divisor <= 0 {
		return fmt.Errorf("invalid rollout.divisor: %d (must be positive)", c.Rollout.Divisor)
	}
	if c.Reward.NumExamine < 0 {
		return fmt.Errorf("invalid reward.num_examine: %d (must be non-negative)", c.Reward.NumExamine)
	}
	return nil
}
