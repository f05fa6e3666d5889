package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
)

// ErrNoModel is returned by commands that need a snapshot and got none.
var ErrNoModel = errors.New("a model snapshot is required (-model)")

// RunEvaluateCommand scores a saved model on the dev file and writes its
// predictions to <output-dir>/predictions_<model_time>.json.
func RunEvaluateCommand(args []string) error {
	cfg, err := ParseConfig("evaluate", args, time.Now())
	if err != nil {
		return err
	}
	if cfg.ModelFile == "" {
		return ErrNoModel
	}
	closeLog, err := SetupLogging("evaluate", cfg.LogDir)
	if err != nil {
		return err
	}
	defer closeLog()
	UseDevice(SelectDevice(cfg.GPU))

	model, vocabs, err := loadModelAndVocabs(cfg)
	if err != nil {
		return err
	}

	devSet, err := LoadSQuAD(cfg.DevFile)
	if err != nil {
		return err
	}
	examples, stats := devSet.ToExamples(vocabs, 0)
	fmt.Printf("Evaluating %s on %d dev examples (%d without a span)\n", cfg.ModelFile, stats.Kept, stats.Unanswered)

	dev, err := NewIterator(examples, IteratorOptions{BatchSize: cfg.DevBatchSize})
	if err != nil {
		return fmt.Errorf("dev: %w", err)
	}
	evaluator := &Evaluator{
		References:     devSet.References(),
		PredictionFile: cfg.PredictionFile,
		Constrained:    cfg.ConstrainedSpan,
		Progress:       NewBarProgress(DefaultProgressEnabled(), "evaluating"),
	}
	result, err := evaluator.Evaluate(model, dev)
	if err != nil {
		return err
	}

	color.Cyan("dev loss: %.3f / dev EM: %.3f / dev F1: %.3f", result.Loss, result.ExactMatch, result.F1)
	fmt.Println("Predictions written to", cfg.PredictionFile)
	return nil
}

// loadModelAndVocabs loads the snapshot named by -model and the vocabularies
// it was trained with.
func loadModelAndVocabs(cfg Config) (*BiDAF, *Vocabs, error) {
	vocabs, err := LoadVocabs(cfg.VocabFiles())
	if err != nil {
		return nil, nil, err
	}
	model, err := LoadBiDAF(cfg.ModelFile, cfg.Seed)
	if err != nil {
		return nil, nil, err
	}
	mc := model.Config()
	if mc.WordVocabSize != vocabs.Word.Size() || mc.CharVocabSize != vocabs.Char.Size() {
		return nil, nil, fmt.Errorf("%w: snapshot vocab sizes %d/%d, loaded %d/%d", ErrSnapshotMismatch,
			mc.WordVocabSize, mc.CharVocabSize, vocabs.Word.Size(), vocabs.Char.Size())
	}
	return model, vocabs, nil
}
