package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Backward operations for the tensor ops the BiDAF layers are built from.
//
// Each layer in bidaf.go keeps whatever it needs from the forward pass in a
// cache struct; bidaf_backward.go walks the layers in reverse and calls the
// helpers below to turn ∂L/∂output into ∂L/∂input and parameter gradients.
//
// THE CHAIN RULE:
//
// Given: y = f(x) and z = g(y)
// Backward: given ∂L/∂z, compute ∂L/∂x = ∂L/∂z · ∂z/∂y · ∂y/∂x
//
// Parameter gradients are accumulated into Tensor.grad with AccumulateGrad,
// so a parameter used several times in one forward pass (the shared
// highway and contextual layers see both context and question) sums its
// contributions.
//
// ===========================================================================

import (
	"fmt"
)

// MatMulBackward computes gradients for matrix multiplication.
//
// Given C = A @ B and gradC = ∂L/∂C:
//   - gradA = gradC @ B^T
//   - gradB = A^T @ gradC
func MatMulBackward(a, b, gradC *Tensor) (gradA, gradB *Tensor) {
	gradA = MatMul(gradC, Transpose(b))
	gradB = MatMul(Transpose(a), gradC)
	return gradA, gradB
}

// LinearBackward is MatMulBackward for y = x @ w + bias where w and bias are
// parameters: it accumulates into w.grad and bias.grad and returns gradX.
func LinearBackward(x, w, bias, gradY *Tensor) *Tensor {
	gradX, gradW := MatMulBackward(x, w, gradY)
	w.AccumulateGrad(gradW)
	if bias != nil {
		cols := gradY.Cols()
		for i := 0; i < gradY.Rows(); i++ {
			row := gradY.data[i*cols : (i+1)*cols]
			for j, g := range row {
				bias.grad[j] += g
			}
		}
	}
	return gradX
}

// ReLUBackward computes gradient for ReLU: gradX = gradY * (X > 0).
func ReLUBackward(x, gradY *Tensor) *Tensor {
	gradX := NewTensor(x.shape...)
	for i := range x.data {
		if x.data[i] > 0 {
			gradX.data[i] = gradY.data[i]
		}
	}
	return gradX
}

// TanhBackward computes gradient for tanh given its output y:
// gradX = gradY * (1 - y²).
func TanhBackward(y, gradY *Tensor) *Tensor {
	gradX := NewTensor(y.shape...)
	for i, v := range y.data {
		gradX.data[i] = gradY.data[i] * (1 - v*v)
	}
	return gradX
}

// SigmoidBackward computes gradient for the logistic function given its
// output y: gradX = gradY * y * (1 - y).
func SigmoidBackward(y, gradY *Tensor) *Tensor {
	gradX := NewTensor(y.shape...)
	for i, v := range y.data {
		gradX.data[i] = gradY.data[i] * v * (1 - v)
	}
	return gradX
}

// SoftmaxBackward computes gradient for row-wise softmax.
//
//	gradX[i] = Y[i] * (gradY[i] - Σ_j gradY[j] * Y[j])
func SoftmaxBackward(y, gradY *Tensor) *Tensor {
	if len(y.shape) != 2 {
		panic("SoftmaxBackward: requires 2D tensor")
	}

	gradX := NewTensor(y.shape...)
	for b := 0; b < y.shape[0]; b++ {
		softmaxBackwardInto(gradX.Row(b), y.Row(b), gradY.Row(b))
	}
	return gradX
}

func softmaxBackwardInto(dst, y, gradY []float64) {
	dot := 0.0
	for f := range y {
		dot += gradY[f] * y[f]
	}
	for f := range y {
		dst[f] = y[f] * (gradY[f] - dot)
	}
}

// CrossEntropyBackward computes gradient for mean cross-entropy loss.
//
// Given logits (batch, classes) and target indices:
//
//	gradLogits = (softmax(logits) - one_hot(targets)) / batch
func CrossEntropyBackward(logits *Tensor, targets []int) *Tensor {
	if len(logits.shape) != 2 {
		panic("CrossEntropyBackward: requires 2D logits")
	}

	batchSize := logits.shape[0]
	probs := Softmax(logits)
	gradLogits := NewTensor(logits.shape...)

	for b := 0; b < batchSize; b++ {
		row := gradLogits.Row(b)
		for v, p := range probs.Row(b) {
			row[v] = p / float64(batchSize)
		}
		row[targets[b]] -= 1.0 / float64(batchSize)
	}

	return gradLogits
}

// AccumulateGrad adds grad to the tensor's gradient buffer.
// Used when a tensor is used multiple times in the forward pass.
func (t *Tensor) AccumulateGrad(grad *Tensor) {
	if len(t.grad) != len(grad.data) {
		panic(fmt.Sprintf("AccumulateGrad: shape mismatch %v vs %v", t.shape, grad.shape))
	}
	for i := range t.grad {
		t.grad[i] += grad.data[i]
	}
}
