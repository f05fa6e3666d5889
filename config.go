package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("config: invalid value")

// Config is every setting a command reads. Precedence, lowest first:
// DefaultConfig, the YAML file named by -config, command-line flags.
type Config struct {
	ConfigFile string `yaml:"-"`

	// Data
	TrainFile  string `yaml:"train_file"`
	DevFile    string `yaml:"dev_file"`
	VocabDir   string `yaml:"vocab_dir"`
	GloVeFile  string `yaml:"glove_file"`
	MinFreq    int    `yaml:"min_freq"`
	ContextLen int    `yaml:"context_len"` // drop training contexts longer than this; 0 keeps all

	// Model
	WordDim          int     `yaml:"word_dim"`
	CharDim          int     `yaml:"char_dim"`
	CharChannelSize  int     `yaml:"char_channel_size"`
	CharChannelWidth int     `yaml:"char_channel_width"`
	HiddenSize       int     `yaml:"hidden_size"`
	HighwayLayers    int     `yaml:"highway_layers"`
	DropoutRate      float64 `yaml:"dropout_rate"`

	// Training
	TrainBatchSize int     `yaml:"train_batch_size"`
	DevBatchSize   int     `yaml:"dev_batch_size"`
	LearningRate   float64 `yaml:"learning_rate"`
	Optimizer      string  `yaml:"optimizer"`
	WeightDecay    float64 `yaml:"weight_decay"`
	Epoch          int     `yaml:"epoch"`
	PrintFreq      int     `yaml:"print_freq"`
	SaveEvery      int     `yaml:"save_every"`
	Seed           int64   `yaml:"seed"`
	GPU            int     `yaml:"gpu"`

	// Evaluation and inference
	ModelFile       string   `yaml:"model"` // snapshot to load; resumes training when set for train
	ConstrainedSpan bool     `yaml:"constrained_span"`
	Questions       []string `yaml:"questions"`
	Contexts        []string `yaml:"contexts"`

	// Output roots
	SaveDir   string `yaml:"save_dir"`
	OutputDir string `yaml:"output_dir"`
	LogRoot   string `yaml:"log_root"`

	// Derived in Finalize
	ModelTime      string `yaml:"-"`
	SnapshotFile   string `yaml:"-"`
	PredictionFile string `yaml:"-"`
	LogDir         string `yaml:"-"`
	MetricsFile    string `yaml:"-"`
}

// DefaultConfig returns the defaults of the reference training run.
func DefaultConfig() Config {
	return Config{
		TrainFile:  "inputs/train-v1.1.json",
		DevFile:    "inputs/dev-v1.1.json",
		VocabDir:   "vocabs",
		MinFreq:    1,
		ContextLen: 400,

		WordDim:          100,
		CharDim:          8,
		CharChannelSize:  100,
		CharChannelWidth: 5,
		HiddenSize:       100,
		HighwayLayers:    2,
		DropoutRate:      0.2,

		TrainBatchSize: 50,
		DevBatchSize:   100,
		LearningRate:   0.5,
		Optimizer:      "adadelta",
		Epoch:          1,
		PrintFreq:      50,
		Seed:           1,
		GPU:            0,

		SaveDir:   "saved_models",
		OutputDir: "outputs",
		LogRoot:   "logs",
	}
}

// LoadConfig reads a YAML file over the defaults. Keys missing from the
// file keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	cfg.ConfigFile = path
	return cfg, nil
}

// stringList is a repeatable flag. The first occurrence replaces whatever
// the list held before parsing, so flags override the YAML file.
type stringList struct {
	values *[]string
	set    bool
}

func (s *stringList) String() string {
	if s.values == nil {
		return ""
	}
	return strings.Join(*s.values, " | ")
}

func (s *stringList) Set(v string) error {
	if !s.set {
		*s.values = nil
		s.set = true
	}
	*s.values = append(*s.values, v)
	return nil
}

// RegisterFlags binds every field to fs with the current values as defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "YAML config file (flags override it)")

	fs.StringVar(&c.TrainFile, "train-file", c.TrainFile, "SQuAD v1.1 training file")
	fs.StringVar(&c.DevFile, "dev-file", c.DevFile, "SQuAD v1.1 dev file")
	fs.StringVar(&c.VocabDir, "vocab-dir", c.VocabDir, "Directory holding the vocabulary files")
	fs.StringVar(&c.GloVeFile, "glove", c.GloVeFile, "GloVe text file for preprocess (random vectors when empty)")
	fs.IntVar(&c.MinFreq, "min-freq", c.MinFreq, "Minimum token count to enter a vocabulary")
	fs.IntVar(&c.ContextLen, "context-len", c.ContextLen, "Drop training contexts longer than this many tokens (0 keeps all)")

	fs.IntVar(&c.WordDim, "word-dim", c.WordDim, "Word embedding dimension")
	fs.IntVar(&c.CharDim, "char-dim", c.CharDim, "Character embedding dimension")
	fs.IntVar(&c.CharChannelSize, "char-channel-size", c.CharChannelSize, "Character CNN output channels")
	fs.IntVar(&c.CharChannelWidth, "char-channel-width", c.CharChannelWidth, "Character CNN window width")
	fs.IntVar(&c.HiddenSize, "hidden-size", c.HiddenSize, "Hidden size")
	fs.IntVar(&c.HighwayLayers, "highway-layers", c.HighwayLayers, "Number of highway layers")
	fs.Float64Var(&c.DropoutRate, "dropout-rate", c.DropoutRate, "Dropout rate")

	fs.IntVar(&c.TrainBatchSize, "train-batch-size", c.TrainBatchSize, "Training batch size")
	fs.IntVar(&c.DevBatchSize, "dev-batch-size", c.DevBatchSize, "Dev batch size")
	fs.Float64Var(&c.LearningRate, "learning-rate", c.LearningRate, "Learning rate")
	fs.StringVar(&c.Optimizer, "optimizer", c.Optimizer, "Optimizer: adadelta, adam or sgd")
	fs.Float64Var(&c.WeightDecay, "weight-decay", c.WeightDecay, "L2 weight decay")
	fs.IntVar(&c.Epoch, "epoch", c.Epoch, "Number of full passes over the training set")
	fs.IntVar(&c.PrintFreq, "print-freq", c.PrintFreq, "Evaluate on dev every N batches")
	fs.IntVar(&c.SaveEvery, "save-every", c.SaveEvery, "Checkpoint every N batches (0 disables)")
	fs.Int64Var(&c.Seed, "seed", c.Seed, "Random seed")
	fs.IntVar(&c.GPU, "gpu", c.GPU, "Preferred GPU index (-1 forces CPU)")

	fs.StringVar(&c.ModelFile, "model", c.ModelFile, "Model snapshot to load")
	fs.BoolVar(&c.ConstrainedSpan, "constrained-span", c.ConstrainedSpan, "Decode the best span with start <= end")
	fs.Var(&stringList{values: &c.Questions}, "question", "Question to answer (repeatable, paired with -context)")
	fs.Var(&stringList{values: &c.Contexts}, "context", "Context paragraph (repeatable, paired with -question)")

	fs.StringVar(&c.SaveDir, "save-dir", c.SaveDir, "Directory for model snapshots")
	fs.StringVar(&c.OutputDir, "output-dir", c.OutputDir, "Directory for prediction files")
	fs.StringVar(&c.LogRoot, "log-root", c.LogRoot, "Directory for per-run logs and metrics")
}

// ParseConfig builds the config for one command from its arguments.
// Flags are parsed twice when -config is given: once to find the file and
// once more over the file's values so that flags win.
func ParseConfig(command string, args []string, now time.Time) (Config, error) {
	cfg := DefaultConfig()
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if cfg.ConfigFile != "" {
		loaded, err := LoadConfig(cfg.ConfigFile)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
		fs = flag.NewFlagSet(command, flag.ContinueOnError)
		cfg.RegisterFlags(fs)
		if err := fs.Parse(args); err != nil {
			return cfg, err
		}
	}
	if fs.NArg() > 0 {
		return cfg, fmt.Errorf("config: unexpected arguments: %v", fs.Args())
	}

	cfg.Finalize(now)
	return cfg, cfg.Validate()
}

// Finalize computes the per-run paths from the run timestamp.
func (c *Config) Finalize(now time.Time) {
	c.ModelTime = now.UTC().Format("01_02_15_04_05")
	c.SnapshotFile = filepath.Join(c.SaveDir, fmt.Sprintf("BiDAF_%s.bin", c.ModelTime))
	c.PredictionFile = filepath.Join(c.OutputDir, fmt.Sprintf("predictions_%s.json", c.ModelTime))
	c.LogDir = filepath.Join(c.LogRoot, c.ModelTime)
	c.MetricsFile = filepath.Join(c.LogDir, "metrics.db")
}

// Validate rejects sizes and rates the model cannot be built with.
func (c Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"word-dim", c.WordDim},
		{"char-dim", c.CharDim},
		{"char-channel-size", c.CharChannelSize},
		{"char-channel-width", c.CharChannelWidth},
		{"hidden-size", c.HiddenSize},
		{"train-batch-size", c.TrainBatchSize},
		{"dev-batch-size", c.DevBatchSize},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, p.name, p.value)
		}
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return fmt.Errorf("%w: dropout-rate must be in [0, 1), got %g", ErrInvalidConfig, c.DropoutRate)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("%w: learning-rate must be positive, got %g", ErrInvalidConfig, c.LearningRate)
	}
	if c.Epoch < 0 || c.PrintFreq < 0 || c.SaveEvery < 0 || c.ContextLen < 0 || c.HighwayLayers < 0 {
		return fmt.Errorf("%w: epoch, print-freq, save-every, context-len and highway-layers must not be negative", ErrInvalidConfig)
	}
	if c.MinFreq < 1 {
		return fmt.Errorf("%w: min-freq must be at least 1, got %d", ErrInvalidConfig, c.MinFreq)
	}
	if len(c.Questions) != len(c.Contexts) {
		return fmt.Errorf("%w: %d questions for %d contexts", ErrInvalidConfig, len(c.Questions), len(c.Contexts))
	}
	return nil
}

// VocabFiles returns the vocabulary artifact paths under VocabDir.
func (c Config) VocabFiles() VocabFiles {
	return VocabFiles{
		Char:    filepath.Join(c.VocabDir, "char_vocab.txt"),
		Word:    filepath.Join(c.VocabDir, "word_vocab.txt"),
		Vectors: filepath.Join(c.VocabDir, "pretrained_vectors.bin"),
	}
}

// ModelConfig returns the architecture for the loaded vocabularies.
func (c Config) ModelConfig(vocabs *Vocabs) ModelConfig {
	return ModelConfig{
		WordVocabSize:    vocabs.Word.Size(),
		WordDim:          vocabs.Vectors.Cols(),
		CharVocabSize:    vocabs.Char.Size(),
		CharDim:          c.CharDim,
		CharChannelSize:  c.CharChannelSize,
		CharChannelWidth: c.CharChannelWidth,
		HiddenSize:       c.HiddenSize,
		HighwayLayers:    c.HighwayLayers,
		DropoutRate:      c.DropoutRate,
	}
}
