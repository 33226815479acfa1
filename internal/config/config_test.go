package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Model.Dtype != "bfloat16" {
		t.Errorf("expected dtype bfloat16, got %s", cfg.Model.Dtype)
	}
	if cfg.Data.BatchSize != 32 {
		t.Errorf("expected batch_size 32, got %d", cfg.Data.BatchSize)
	}
	if cfg.Data.PromptKey != "prompt" {
		t.Errorf("expected prompt_key prompt, got %s", cfg.Data.PromptKey)
	}
	if !cfg.Data.FilterPrompts {
		t.Error("expected filter_prompts to default to true")
	}
	if cfg.Rollout.Divisor != 1 {
		t.Errorf("expected divisor 1, got %d", cfg.Rollout.Divisor)
	}
	if cfg.Reward.NumExamine != 1 {
		t.Errorf("expected num_examine 1, got %d", cfg.Reward.NumExamine)
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Model.Path = "/models/test"
	valid.Data.ValFiles = []string{"val.parquet"}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"missing model path", func(c *Config) { c.Model.Path = "" }, true},
		{"bad dtype", func(c *Config) { c.Model.Dtype = "int8" }, true},
		{"no dataset source", func(c *Config) { c.Data.ValFiles = nil }, true},
		{"flight addr without files", func(c *Config) {
			c.Data.ValFiles = nil
			c.Data.FlightAddr = "localhost:3000"
		}, false},
		{"zero batch size", func(c *Config) { c.Data.BatchSize = 0 }, true},
		{"negative prompt length", func(c *Config) { c.Data.MaxPromptLength = -1 }, true},
		{"zero micro batch", func(c *Config) { c.Rollout.MicroBatchSize = 0 }, true},
		{"zero divisor", func(c *Config) { c.Rollout.Divisor = 0 }, true},
		{"negative num examine", func(c *Config) { c.Reward.NumExamine = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eval.yaml")
	raw := `model:
  path: /models/qwen
  checkpoint_path: /ckpt/global_step_100/actor
data:
  val_files:
    - /data/gsm8k_val.parquet
  batch_size: 16
rollout:
  divisor: 4
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Model.Path != "/models/qwen" {
		t.Errorf("model path = %q", cfg.Model.Path)
	}
	if cfg.Model.CheckpointPath != "/ckpt/global_step_100/actor" {
		t.Errorf("checkpoint path = %q", cfg.Model.CheckpointPath)
	}
	if cfg.Data.BatchSize != 16 {
		t.Errorf("batch_size = %d, want 16", cfg.Data.BatchSize)
	}
	if cfg.Rollout.Divisor != 4 {
		t.Errorf("divisor = %d, want 4", cfg.Rollout.Divisor)
	}
	// Unset keys keep defaults
	if cfg.Data.MaxPromptLength != 1024 {
		t.Errorf("max_prompt_length = %d, want default 1024", cfg.Data.MaxPromptLength)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}
