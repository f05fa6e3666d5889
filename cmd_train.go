package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fatih/color"
)

// ===========================================================================
// TRAINING CLI
// ===========================================================================
//
// preprocessed vocabs → SQuAD examples → BiDAF → Trainer.Run → snapshot
//
// Every run gets a timestamp (ModelTime) that names its snapshot, its
// predictions file and its log directory, so repeated runs never collide.
//
// ===========================================================================

// RunTrainCommand trains a model and saves it to
// <save-dir>/BiDAF_<model_time>.bin. With -model it resumes from a snapshot.
func RunTrainCommand(args []string) error {
	cfg, err := ParseConfig("train", args, time.Now())
	if err != nil {
		return err
	}
	closeLog, err := SetupLogging("train", cfg.LogDir)
	if err != nil {
		return err
	}
	defer closeLog()

	device := SelectDevice(cfg.GPU)
	UseDevice(device)

	fmt.Println("===========================================================================")
	fmt.Println("TRAINING BIDAF ON SQUAD")
	fmt.Println("===========================================================================")
	fmt.Printf("Run: %s on %s\n", cfg.ModelTime, device)
	fmt.Printf("Training: %d epochs, batch size %d, %s lr %.3f\n",
		cfg.Epoch, cfg.TrainBatchSize, cfg.Optimizer, cfg.LearningRate)
	fmt.Println()

	fmt.Println("Step 1: Loading vocabularies from", cfg.VocabDir)
	vocabs, err := LoadVocabs(cfg.VocabFiles())
	if err != nil {
		return err
	}
	fmt.Printf("  %d words, %d chars, %d-d vectors\n", vocabs.Word.Size(), vocabs.Char.Size(), vocabs.Vectors.Cols())
	if vocabs.Vectors.Cols() != cfg.WordDim {
		log.Printf("train: pretrained vectors are %d-d, overriding -word-dim %d", vocabs.Vectors.Cols(), cfg.WordDim)
	}

	fmt.Println("Step 2: Loading SQuAD")
	trainSet, err := LoadSQuAD(cfg.TrainFile)
	if err != nil {
		return err
	}
	devSet, err := LoadSQuAD(cfg.DevFile)
	if err != nil {
		return err
	}
	trainExamples, stats := trainSet.ToExamples(vocabs, cfg.ContextLen)
	fmt.Printf("  train: %d examples (%d over %d tokens, %d without a span)\n",
		stats.Kept, stats.TooLong, cfg.ContextLen, stats.Unanswered)
	devExamples, stats := devSet.ToExamples(vocabs, 0)
	fmt.Printf("  dev: %d examples (%d without a span)\n", stats.Kept, stats.Unanswered)

	train, err := NewIterator(trainExamples, IteratorOptions{
		BatchSize: cfg.TrainBatchSize,
		Shuffle:   true,
		Repeat:    true,
		Seed:      cfg.Seed,
	})
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}
	dev, err := NewIterator(devExamples, IteratorOptions{BatchSize: cfg.DevBatchSize})
	if err != nil {
		return fmt.Errorf("dev: %w", err)
	}

	fmt.Println("Step 3: Building model")
	model, err := buildModel(cfg, vocabs)
	if err != nil {
		return err
	}
	params := model.Parameters()
	total := 0
	for _, p := range params {
		total += p.Size()
	}
	fmt.Printf("  %d trainable parameters in %d tensors\n", total, len(params))

	optimizer, err := NewOptimizer(cfg.Optimizer, params, cfg.WeightDecay)
	if err != nil {
		return err
	}
	metrics, err := OpenMetrics(cfg.MetricsFile)
	if err != nil {
		return err
	}
	defer metrics.Close()

	progress := DefaultProgressEnabled()
	trainer := &Trainer{
		Model:     model,
		Optimizer: optimizer,
		Evaluator: &Evaluator{
			References:     devSet.References(),
			PredictionFile: cfg.PredictionFile,
			Constrained:    cfg.ConstrainedSpan,
			Progress:       NewBarProgress(progress, "evaluating"),
		},
		Metrics:  metrics,
		Progress: NewBarProgress(progress, "training"),
		Out:      os.Stdout,
		Config: TrainingConfig{
			Epochs:       cfg.Epoch,
			PrintFreq:    cfg.PrintFreq,
			LearningRate: cfg.LearningRate,
			SaveEvery:    cfg.SaveEvery,
			SnapshotFile: cfg.SnapshotFile,
		},
	}

	fmt.Println("Step 4: Training")
	start := time.Now()
	result, err := trainer.Run(train, dev)
	if err != nil {
		return err
	}
	fmt.Printf("  %d batches over %d epochs, %d evaluations in %s\n",
		result.Batches, result.Epochs, result.Evaluations, time.Since(start).Round(time.Second))

	fmt.Println("Step 5: Saving model")
	if err := model.Save(cfg.SnapshotFile); err != nil {
		return err
	}
	color.Green("  Saved %s", cfg.SnapshotFile)
	log.Printf("train: metrics in %s", metrics.Path())
	return nil
}

// buildModel resumes from -model when given, otherwise initializes a new
// model around the pretrained vectors.
func buildModel(cfg Config, vocabs *Vocabs) (*BiDAF, error) {
	if cfg.ModelFile != "" {
		model, err := LoadBiDAF(cfg.ModelFile, cfg.Seed)
		if err != nil {
			return nil, err
		}
		if got := model.Config().WordVocabSize; got != vocabs.Word.Size() {
			return nil, fmt.Errorf("%w: snapshot has %d words, vocabulary has %d",
				ErrSnapshotMismatch, got, vocabs.Word.Size())
		}
		log.Printf("train: resuming from %s", cfg.ModelFile)
		return model, nil
	}
	return NewBiDAF(cfg.ModelConfig(vocabs), vocabs.Vectors, cfg.Seed)
}
