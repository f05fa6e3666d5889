package main

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOptimizer(t *testing.T) {
	params := []*Tensor{NewTensor(1, 2)}
	for _, name := range []string{"adadelta", "adam", "sgd"} {
		opt, err := NewOptimizer(name, params, 0)
		require.NoError(t, err, name)
		assert.NotNil(t, opt)
	}
	_, err := NewOptimizer("rmsprop", params, 0)
	assert.Error(t, err)
}

func TestOptimizersDescend(t *testing.T) {
	cases := []struct {
		name string
		lr   float64
	}{
		{"sgd", 0.1},
		{"adam", 0.1},
		{"adadelta", 0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// Minimize (p - 3)² from p = 0.
			p := NewTensor(1, 1)
			params := []*Tensor{p}
			opt, err := NewOptimizer(tc.name, params, 0)
			require.NoError(t, err)

			before := math.Pow(p.data[0]-3, 2)
			for step := 0; step < 20; step++ {
				opt.ZeroGrad(params)
				p.grad[0] = 2 * (p.data[0] - 3)
				opt.Step(params, tc.lr)
			}
			assert.Less(t, math.Pow(p.data[0]-3, 2), before)
			assert.Greater(t, p.data[0], 0.0)
		})
	}
}

func TestSGDStep(t *testing.T) {
	p := NewTensorFrom([]float64{1, 2}, 1, 2)
	p.grad = []float64{0.5, -1}
	NewSGDOptimizer(0).Step([]*Tensor{p}, 0.1)
	assert.InDeltaSlice(t, []float64{0.95, 2.1}, p.data, 1e-12)
}

func TestAdamUpdatesEveryElement(t *testing.T) {
	p := NewTensorFrom([]float64{1, 1, 1}, 1, 3)
	p.grad = []float64{1, -1, 2}
	NewAdamOptimizer([]*Tensor{p}, 0.9, 0.999, 1e-8, 0).Step([]*Tensor{p}, 0.01)

	// The first bias-corrected Adam step has magnitude lr for every element.
	assert.InDeltaSlice(t, []float64{0.99, 1.01, 0.99}, p.data, 1e-6)
}

func TestTrainStepReducesLoss(t *testing.T) {
	v := testVocabs(t, 4)
	model := newTinyModel(t, v, 1)
	b := labeledBatch(t, v)
	opt, err := NewOptimizer("adam", model.Parameters(), 0)
	require.NoError(t, err)

	first, err := TrainStep(model, b, opt, 0.05)
	require.NoError(t, err)
	last := first
	for step := 0; step < 30; step++ {
		last, err = TrainStep(model, b, opt, 0.05)
		require.NoError(t, err)
	}
	assert.Less(t, last, first)
}

func TestTrainStepNeedsLabels(t *testing.T) {
	v := testVocabs(t, 4)
	model := newTinyModel(t, v, 1)
	examples, err := BuildExamples([]string{"Who won?"}, []string{"Denver won."}, v)
	require.NoError(t, err)
	b, err := NewBatch(examples)
	require.NoError(t, err)

	opt := NewSGDOptimizer(0)
	_, err = TrainStep(model, b, opt, 0.1)
	assert.ErrorIs(t, err, ErrMissingLabels)

	b.StartIdx[0], b.EndIdx[0] = 0, 5
	_, err = TrainStep(model, b, opt, 0.1)
	assert.ErrorIs(t, err, ErrInvalidShape)
}

// fakeEvaluator counts calls and switches the model to eval mode the way
// the real evaluator does.
type fakeEvaluator struct {
	calls int
	err   error
}

func (f *fakeEvaluator) Evaluate(model *BiDAF, dev *Iterator) (EvalResult, error) {
	f.calls++
	model.Eval()
	return EvalResult{Loss: 1, ExactMatch: 50, F1: 60}, f.err
}

type scalar struct {
	tag   string
	value float64
	step  int
}

type memoryScalars struct {
	points []scalar
}

func (m *memoryScalars) AddScalar(tag string, value float64, step int) error {
	m.points = append(m.points, scalar{tag, value, step})
	return nil
}

type countingProgress struct {
	total, count int
	finished     bool
}

func (p *countingProgress) Start(total int) { p.total = total }
func (p *countingProgress) Increment()      { p.count++ }
func (p *countingProgress) Finish()         { p.finished = true }

func newTestTrainer(t *testing.T, epochs, printFreq int) (*Trainer, *Iterator, *Iterator, *fakeEvaluator, *memoryScalars) {
	t.Helper()
	v := testVocabs(t, 4)
	model := newTinyModel(t, v, 1)
	examples := labeledExamples(t, v)

	train, err := NewIterator(examples, IteratorOptions{BatchSize: 3, Shuffle: true, Repeat: true, Seed: 1})
	require.NoError(t, err)
	dev, err := NewIterator(examples, IteratorOptions{BatchSize: 4})
	require.NoError(t, err)

	eval := &fakeEvaluator{}
	metrics := &memoryScalars{}
	tr := &Trainer{
		Model:     model,
		Optimizer: NewSGDOptimizer(0),
		Evaluator: eval,
		Metrics:   metrics,
		Config: TrainingConfig{
			Epochs:       epochs,
			PrintFreq:    printFreq,
			LearningRate: 0.01,
		},
	}
	return tr, train, dev, eval, metrics
}

func TestTrainerRunsExactlyNEpochs(t *testing.T) {
	tr, train, dev, eval, metrics := newTestTrainer(t, 3, 2)
	progress := &countingProgress{}
	tr.Progress = progress
	var out bytes.Buffer
	tr.Out = &out

	result, err := tr.Run(train, dev)
	require.NoError(t, err)

	// 4 examples in batches of 3: two batches per pass, none from pass 3.
	assert.Equal(t, 6, result.Batches)
	assert.Equal(t, 3, result.Epochs)
	assert.Equal(t, 3, result.Evaluations)
	assert.Equal(t, 3, eval.calls)
	assert.Equal(t, 3, train.Epoch(), "stopped on the first batch of the terminal epoch")
	assert.Equal(t, 7, train.Iterations())

	assert.Equal(t, 6, progress.total)
	assert.Equal(t, 6, progress.count)
	assert.True(t, progress.finished)

	require.Len(t, metrics.points, 12)
	assert.Equal(t, scalar{TagDevF1, 60, 2}, metrics.points[3])
	assert.Equal(t, TagTrainLoss, metrics.points[8].tag)
	assert.Equal(t, 6, metrics.points[8].step)

	assert.True(t, tr.Model.Training(), "training mode is restored after evaluation")
	assert.Contains(t, out.String(), "dev EM: 50.000 / dev F1: 60.000")
}

func TestTrainerZeroEpochs(t *testing.T) {
	tr, train, dev, eval, _ := newTestTrainer(t, 0, 1)
	result, err := tr.Run(train, dev)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Batches)
	assert.Equal(t, 0, eval.calls)
}

func TestTrainerAbortsOnEvaluationError(t *testing.T) {
	tr, train, dev, eval, _ := newTestTrainer(t, 2, 1)
	eval.err = errors.New("metric script failed")

	result, err := tr.Run(train, dev)
	assert.ErrorContains(t, err, "metric script failed")
	assert.Equal(t, 1, result.Batches)
}

func TestTrainerCheckpoints(t *testing.T) {
	tr, train, dev, _, _ := newTestTrainer(t, 1, 0)
	tr.Config.SaveEvery = 1
	tr.Config.SnapshotFile = filepath.Join(t.TempDir(), "saved_models", "BiDAF_ckpt.bin")

	_, err := tr.Run(train, dev)
	require.NoError(t, err)

	_, err = os.Stat(tr.Config.SnapshotFile)
	require.NoError(t, err)
	_, err = LoadBiDAF(tr.Config.SnapshotFile, 1)
	assert.NoError(t, err)
}
