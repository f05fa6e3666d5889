package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var runTime = time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "adadelta", cfg.Optimizer)
	assert.Equal(t, 0.5, cfg.LearningRate)
	assert.Equal(t, 100, cfg.CharChannelSize)
	assert.Equal(t, 5, cfg.CharChannelWidth)
}

func TestParseConfigFlags(t *testing.T) {
	cfg, err := ParseConfig("train", []string{
		"-hidden-size", "50",
		"-optimizer", "adam",
		"-learning-rate", "0.001",
		"-epoch", "3",
		"-constrained-span",
		"-question", "Who won?", "-context", "Denver won.",
		"-question", "Who lost?", "-context", "Carolina lost.",
	}, runTime)
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.HiddenSize)
	assert.Equal(t, "adam", cfg.Optimizer)
	assert.Equal(t, 0.001, cfg.LearningRate)
	assert.Equal(t, 3, cfg.Epoch)
	assert.True(t, cfg.ConstrainedSpan)
	assert.Equal(t, []string{"Who won?", "Who lost?"}, cfg.Questions)
	assert.Equal(t, []string{"Denver won.", "Carolina lost."}, cfg.Contexts)
	assert.Equal(t, DefaultConfig().TrainFile, cfg.TrainFile)
}

func TestParseConfigFileThenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
train_file: data/train.json
hidden_size: 64
dropout_rate: 0.1
optimizer: sgd
save_dir: runs/models
`), 0644))

	cfg, err := ParseConfig("train", []string{"-config", path, "-optimizer", "adam"}, runTime)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.ConfigFile)
	assert.Equal(t, "data/train.json", cfg.TrainFile)
	assert.Equal(t, 64, cfg.HiddenSize)
	assert.Equal(t, 0.1, cfg.DropoutRate)
	assert.Equal(t, "adam", cfg.Optimizer, "flags override the file")
	assert.Equal(t, DefaultConfig().DevFile, cfg.DevFile, "missing keys keep defaults")
	assert.Equal(t, filepath.Join("runs/models", "BiDAF_03_09_14_05_07.bin"), cfg.SnapshotFile)
}

func TestParseConfigQuestionFlagsReplaceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
questions: ["Q1?"]
contexts: ["C1."]
`), 0644))

	cfg, err := ParseConfig("predict", []string{"-config", path}, runTime)
	require.NoError(t, err)
	assert.Equal(t, []string{"Q1?"}, cfg.Questions)
	assert.Equal(t, []string{"C1."}, cfg.Contexts)

	cfg, err = ParseConfig("predict", []string{"-config", path,
		"-question", "Q2?", "-context", "C2.",
		"-question", "Q3?", "-context", "C3.",
	}, runTime)
	require.NoError(t, err)
	assert.Equal(t, []string{"Q2?", "Q3?"}, cfg.Questions)
	assert.Equal(t, []string{"C2.", "C3."}, cfg.Contexts)
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"-nope"}},
		{"positional argument", []string{"extra"}},
		{"missing config file", []string{"-config", filepath.Join(t.TempDir(), "none.yaml")}},
		{"invalid value", []string{"-hidden-size", "0"}},
		{"unpaired question", []string{"-question", "Who won?"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig("evaluate", tt.args, runTime)
			assert.Error(t, err)
		})
	}
}

func TestConfigFinalize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Finalize(time.Date(2024, 3, 9, 15, 5, 7, 0, time.FixedZone("CET", 3600)))

	assert.Equal(t, "03_09_14_05_07", cfg.ModelTime)
	assert.Equal(t, filepath.Join("saved_models", "BiDAF_03_09_14_05_07.bin"), cfg.SnapshotFile)
	assert.Equal(t, filepath.Join("outputs", "predictions_03_09_14_05_07.json"), cfg.PredictionFile)
	assert.Equal(t, filepath.Join("logs", "03_09_14_05_07"), cfg.LogDir)
	assert.Equal(t, filepath.Join("logs", "03_09_14_05_07", "metrics.db"), cfg.MetricsFile)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero word dim", func(c *Config) { c.WordDim = 0 }},
		{"negative batch size", func(c *Config) { c.DevBatchSize = -1 }},
		{"dropout of one", func(c *Config) { c.DropoutRate = 1 }},
		{"negative dropout", func(c *Config) { c.DropoutRate = -0.1 }},
		{"zero learning rate", func(c *Config) { c.LearningRate = 0 }},
		{"negative epoch", func(c *Config) { c.Epoch = -1 }},
		{"negative context len", func(c *Config) { c.ContextLen = -5 }},
		{"zero min freq", func(c *Config) { c.MinFreq = 0 }},
		{"unpaired contexts", func(c *Config) { c.Contexts = []string{"x"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestConfigModelConfig(t *testing.T) {
	v := testVocabs(t, 6)
	cfg := DefaultConfig()
	mc := cfg.ModelConfig(v)

	assert.Equal(t, 6, mc.WordDim, "word dim follows the stored vectors")
	assert.Equal(t, v.Word.Size(), mc.WordVocabSize)
	assert.Equal(t, v.Char.Size(), mc.CharVocabSize)
	assert.Equal(t, cfg.HiddenSize, mc.HiddenSize)
	assert.NoError(t, mc.Validate())

	files := cfg.VocabFiles()
	assert.Equal(t, filepath.Join("vocabs", "word_vocab.txt"), files.Word)
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := LoadConfig("config.example.yaml")
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}
