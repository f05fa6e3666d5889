package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// This file implements the training loop for the reader: optimizers, the
// dual cross-entropy loss, a single training step, and the epoch-driven
// loop that periodically evaluates on the dev set.
//
// THE TRAINING PROCESS:
//
// 1. Forward pass: batch → BiDAF → start scores, end scores (per example)
// 2. Loss: CE(start, gold start) + CE(end, gold end), averaged over batch
// 3. Backward pass: ∂loss/∂scores → every trainable parameter
// 4. Optimization: one optimizer step (Adadelta by default)
//
// EPOCH BOUNDARY:
//
// The train iterator repeats forever and reports which pass each batch
// belongs to. The loop stops at the first batch whose epoch equals the
// configured epoch count, before stepping on it. With Epochs = N the model
// sees exactly N full passes and zero batches of pass N.
//
// PERIODIC EVALUATION:
//
// Every PrintFreq batches the dev set is evaluated, four scalars are
// written to the metrics sink keyed by the global batch counter, a summary
// line is printed, the accumulated train loss is reset, and the model is
// put back in training mode (evaluation switched it to eval mode).
//
// ===========================================================================

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math"

	"github.com/fatih/color"
)

// ErrMissingLabels is returned when a training batch has no gold spans.
var ErrMissingLabels = errors.New("train: batch has no gold answer spans")

// Optimizer updates parameters from their gradients.
type Optimizer interface {
	// Step performs a single optimization step.
	Step(params []*Tensor, lr float64)

	// ZeroGrad clears all gradients.
	ZeroGrad(params []*Tensor)
}

// NewOptimizer creates an optimizer by name: "adadelta", "adam" or "sgd".
func NewOptimizer(name string, params []*Tensor, weightDecay float64) (Optimizer, error) {
	switch name {
	case "adadelta":
		return NewAdadeltaOptimizer(params, 0.9, 1e-6, weightDecay), nil
	case "adam":
		return NewAdamOptimizer(params, 0.9, 0.999, 1e-8, weightDecay), nil
	case "sgd":
		return NewSGDOptimizer(weightDecay), nil
	default:
		return nil, fmt.Errorf("train: unknown optimizer %q", name)
	}
}

func zeroGrads(params []*Tensor) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// SGDOptimizer implements Stochastic Gradient Descent.
type SGDOptimizer struct {
	weightDecay float64
}

// NewSGDOptimizer creates an SGD optimizer.
func NewSGDOptimizer(weightDecay float64) *SGDOptimizer {
	return &SGDOptimizer{weightDecay: weightDecay}
}

// Step updates parameters: param -= lr * (grad + weightDecay * param).
func (opt *SGDOptimizer) Step(params []*Tensor, lr float64) {
	for _, p := range params {
		for i := range p.data {
			p.data[i] -= lr * (p.grad[i] + opt.weightDecay*p.data[i])
		}
	}
}

// ZeroGrad clears gradients.
func (opt *SGDOptimizer) ZeroGrad(params []*Tensor) { zeroGrads(params) }

// AdamOptimizer implements Adam.
//
//	m_t = beta1 * m_{t-1} + (1 - beta1) * grad
//	v_t = beta2 * v_{t-1} + (1 - beta2) * grad²
//	param -= lr * m_hat / (sqrt(v_hat) + epsilon)
type AdamOptimizer struct {
	beta1       float64
	beta2       float64
	epsilon     float64
	weightDecay float64

	m []*Tensor
	v []*Tensor
	t int
}

// NewAdamOptimizer creates an Adam optimizer.
func NewAdamOptimizer(params []*Tensor, beta1, beta2, epsilon, weightDecay float64) *AdamOptimizer {
	m := make([]*Tensor, len(params))
	v := make([]*Tensor, len(params))
	for i, p := range params {
		m[i] = NewTensor(p.shape...)
		v[i] = NewTensor(p.shape...)
	}
	return &AdamOptimizer{
		beta1:       beta1,
		beta2:       beta2,
		epsilon:     epsilon,
		weightDecay: weightDecay,
		m:           m,
		v:           v,
	}
}

// Step performs an Adam update.
func (opt *AdamOptimizer) Step(params []*Tensor, lr float64) {
	opt.t++
	bias1 := 1.0 - math.Pow(opt.beta1, float64(opt.t))
	bias2 := 1.0 - math.Pow(opt.beta2, float64(opt.t))

	for i, p := range params {
		m, v := opt.m[i].data, opt.v[i].data
		for j := range p.data {
			grad := p.grad[j] + opt.weightDecay*p.data[j]
			m[j] = opt.beta1*m[j] + (1.0-opt.beta1)*grad
			v[j] = opt.beta2*v[j] + (1.0-opt.beta2)*grad*grad
			p.data[j] -= lr * (m[j] / bias1) / (math.Sqrt(v[j]/bias2) + opt.epsilon)
		}
	}
}

// ZeroGrad clears gradients.
func (opt *AdamOptimizer) ZeroGrad(params []*Tensor) { zeroGrads(params) }

// AdadeltaOptimizer implements Adadelta, an adaptive learning rate method.
// lr scales the computed update; 1.0 is the textbook algorithm.
//
//	v = rho * v + (1 - rho) * grad²
//	delta = sqrt(u + eps) / sqrt(v + eps) * grad
//	u = rho * u + (1 - rho) * delta²
//	param -= lr * delta
type AdadeltaOptimizer struct {
	rho         float64
	epsilon     float64
	weightDecay float64

	sqAvg    []*Tensor
	deltaAvg []*Tensor
}

// NewAdadeltaOptimizer creates an Adadelta optimizer.
func NewAdadeltaOptimizer(params []*Tensor, rho, epsilon, weightDecay float64) *AdadeltaOptimizer {
	sq := make([]*Tensor, len(params))
	delta := make([]*Tensor, len(params))
	for i, p := range params {
		sq[i] = NewTensor(p.shape...)
		delta[i] = NewTensor(p.shape...)
	}
	return &AdadeltaOptimizer{
		rho:         rho,
		epsilon:     epsilon,
		weightDecay: weightDecay,
		sqAvg:       sq,
		deltaAvg:    delta,
	}
}

// Step performs an Adadelta update.
func (opt *AdadeltaOptimizer) Step(params []*Tensor, lr float64) {
	for i, p := range params {
		sq, acc := opt.sqAvg[i].data, opt.deltaAvg[i].data
		for j := range p.data {
			grad := p.grad[j] + opt.weightDecay*p.data[j]
			sq[j] = opt.rho*sq[j] + (1-opt.rho)*grad*grad
			delta := math.Sqrt(acc[j]+opt.epsilon) / math.Sqrt(sq[j]+opt.epsilon) * grad
			acc[j] = opt.rho*acc[j] + (1-opt.rho)*delta*delta
			p.data[j] -= lr * delta
		}
	}
}

// ZeroGrad clears gradients.
func (opt *AdadeltaOptimizer) ZeroGrad(params []*Tensor) { zeroGrads(params) }

// CrossEntropyLoss computes mean cross-entropy over a batch of logits.
//
// Given logits (batch, classes) and target indices:
//
//	loss = mean_b( logsumexp(logits[b]) - logits[b, target[b]] )
//
// Masked positions (maskedScore) contribute exp(-huge) = 0 to the sum.
func CrossEntropyLoss(logits *Tensor, targets []int) float64 {
	if len(logits.shape) != 2 {
		panic("CrossEntropyLoss expects 2D logits")
	}

	batchSize := logits.shape[0]
	if len(targets) != batchSize {
		panic(fmt.Sprintf("target length %d != batch size %d", len(targets), batchSize))
	}

	totalLoss := 0.0
	for b := 0; b < batchSize; b++ {
		row := logits.Row(b)
		maxLogit := row[argmax(row)]
		sumExp := 0.0
		for _, v := range row {
			sumExp += math.Exp(v - maxLogit)
		}
		totalLoss += maxLogit + math.Log(sumExp) - row[targets[b]]
	}

	return totalLoss / float64(batchSize)
}

// SpanLoss is the dual loss CE(start) + CE(end) for batch-shaped scores.
func SpanLoss(start, end *Tensor, b *Batch) float64 {
	return CrossEntropyLoss(start, b.StartIdx) + CrossEntropyLoss(end, b.EndIdx)
}

// checkLabels verifies every gold span lies inside its context.
func checkLabels(b *Batch) error {
	for i := range b.IDs {
		s, e := b.StartIdx[i], b.EndIdx[i]
		if s < 0 || e < 0 {
			return fmt.Errorf("%w: example %s", ErrMissingLabels, b.IDs[i])
		}
		if s >= b.CLens[i] || e >= b.CLens[i] {
			return fmt.Errorf("%w: span [%d, %d] outside context of %d tokens (example %s)",
				ErrInvalidShape, s, e, b.CLens[i], b.IDs[i])
		}
	}
	return nil
}

// TrainStep performs one optimization step on a labeled batch and returns
// the batch loss.
func TrainStep(model *BiDAF, b *Batch, optimizer Optimizer, lr float64) (float64, error) {
	if err := checkLabels(b); err != nil {
		return 0, err
	}

	params := model.Parameters()
	optimizer.ZeroGrad(params)

	batchSize := float64(b.Size())
	totalLoss := 0.0

	for i := 0; i < b.Size(); i++ {
		cache := model.ForwardWithCache(b, i)
		p1, p2 := cache.Scores()

		start := NewTensorFrom(p1, 1, len(p1))
		end := NewTensorFrom(p2, 1, len(p2))
		totalLoss += CrossEntropyLoss(start, []int{b.StartIdx[i]}) + CrossEntropyLoss(end, []int{b.EndIdx[i]})

		// Each example's gradient carries 1/batch so the step matches the batch-mean loss.
		gradStart := Scale(CrossEntropyBackward(start, []int{b.StartIdx[i]}), 1/batchSize)
		gradEnd := Scale(CrossEntropyBackward(end, []int{b.EndIdx[i]}), 1/batchSize)
		model.BackwardWithCache(cache, gradStart.data, gradEnd.data)
	}

	loss := totalLoss / batchSize
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return loss, fmt.Errorf("train: loss diverged (%v)", loss)
	}

	optimizer.Step(params, lr)
	return loss, nil
}

// ===========================================================================
// TRAINER
// ===========================================================================

// DevEvaluator scores the model on the dev set.
type DevEvaluator interface {
	Evaluate(model *BiDAF, dev *Iterator) (EvalResult, error)
}

// ScalarWriter records named time series keyed by a step counter.
type ScalarWriter interface {
	AddScalar(tag string, value float64, step int) error
}

// Metric series written at every evaluation.
const (
	TagTrainLoss = "loss/train"
	TagDevLoss   = "loss/dev"
	TagDevExact  = "exact_match/dev"
	TagDevF1     = "f1/dev"
)

// TrainingConfig holds the loop settings.
type TrainingConfig struct {
	Epochs       int
	PrintFreq    int
	LearningRate float64

	// SaveEvery checkpoints the model every N batches when > 0.
	SaveEvery    int
	SnapshotFile string
}

// TrainResult summarizes a finished run.
type TrainResult struct {
	Batches     int
	Epochs      int
	Evaluations int
	Last        EvalResult
}

// Trainer drives the training loop.
type Trainer struct {
	Model     *BiDAF
	Optimizer Optimizer
	Evaluator DevEvaluator
	Metrics   ScalarWriter
	Progress  ProgressReporter
	Out       io.Writer
	Config    TrainingConfig
}

// Run trains until the iterator reaches the configured epoch. Any error
// aborts the run.
func (tr *Trainer) Run(train, dev *Iterator) (TrainResult, error) {
	var result TrainResult
	if tr.Config.Epochs <= 0 {
		return result, nil
	}

	if tr.Progress != nil {
		tr.Progress.Start(tr.Config.Epochs * train.BatchesPerEpoch())
		defer tr.Progress.Finish()
	}

	tr.Model.Train()
	loss, lastEpoch := 0.0, -1

	for {
		batch, ok, err := train.Next()
		if err != nil {
			return result, fmt.Errorf("train: failed to build batch: %w", err)
		}
		if !ok {
			break
		}

		epoch := train.Epoch()
		if epoch >= tr.Config.Epochs {
			break
		}
		if epoch > lastEpoch {
			log.Printf("epoch %d/%d", epoch+1, tr.Config.Epochs)
			result.Epochs = epoch + 1
		}
		lastEpoch = epoch

		batchLoss, err := TrainStep(tr.Model, batch, tr.Optimizer, tr.Config.LearningRate)
		if err != nil {
			return result, fmt.Errorf("train: batch %d: %w", result.Batches, err)
		}
		loss += batchLoss
		result.Batches++
		if tr.Progress != nil {
			tr.Progress.Increment()
		}

		if tr.Config.PrintFreq > 0 && result.Batches%tr.Config.PrintFreq == 0 && tr.Evaluator != nil {
			eval, err := tr.Evaluator.Evaluate(tr.Model, dev)
			if err != nil {
				return result, fmt.Errorf("train: evaluation at batch %d: %w", result.Batches, err)
			}
			if err := tr.record(result.Batches, loss, eval); err != nil {
				return result, err
			}
			result.Evaluations++
			result.Last = eval
			loss = 0
			tr.Model.Train()
		}

		if tr.Config.SaveEvery > 0 && result.Batches%tr.Config.SaveEvery == 0 && tr.Config.SnapshotFile != "" {
			if err := tr.Model.Save(tr.Config.SnapshotFile); err != nil {
				return result, fmt.Errorf("train: checkpoint at batch %d: %w", result.Batches, err)
			}
			log.Printf("checkpoint saved to %s", tr.Config.SnapshotFile)
		}
	}

	return result, nil
}

func (tr *Trainer) record(step int, trainLoss float64, eval EvalResult) error {
	if tr.Metrics != nil {
		for _, s := range []struct {
			tag   string
			value float64
		}{
			{TagTrainLoss, trainLoss},
			{TagDevLoss, eval.Loss},
			{TagDevExact, eval.ExactMatch},
			{TagDevF1, eval.F1},
		} {
			if err := tr.Metrics.AddScalar(s.tag, s.value, step); err != nil {
				return fmt.Errorf("train: failed to record %s: %w", s.tag, err)
			}
		}
	}

	if tr.Out != nil {
		line := fmt.Sprintf("train loss: %.3f / dev loss: %.3f / dev EM: %.3f / dev F1: %.3f",
			trainLoss, eval.Loss, eval.ExactMatch, eval.F1)
		color.New(color.FgCyan).Fprintln(tr.Out, line)
	}
	return nil
}
