package main

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// RECOMMENDED READING:
//
// - "Deep Learning" by Goodfellow, Bengio, Courville (2016)
//   Chapter 6: Deep Feedforward Networks - backpropagation
//
// - "Bidirectional Attention Flow for Machine Comprehension"
//   Seo, Kembhavi, Farhadi, Hajishirzi (2017)
//   https://arxiv.org/abs/1611.01603

var (
	// ErrShapeMismatch indicates incompatible tensor shapes for an operation.
	ErrShapeMismatch = errors.New("tensor: shape mismatch")

	// ErrInvalidShape indicates an invalid tensor shape.
	ErrInvalidShape = errors.New("tensor: invalid shape")
)

// Tensor represents a multi-dimensional array of float64 values.
// It stores data in row-major (C-contiguous) order.
//
// Tensor is not safe for concurrent use. Synchronization must be
// handled by the caller if needed.
type Tensor struct {
	data  []float64 // Flat array storing all elements
	shape []int     // Dimensions [rows, cols] for everything the model uses
	grad  []float64 // Gradient for backpropagation
}

// NewTensor creates a tensor with the given shape, initialized to zero.
// Panics if shape is invalid (empty or contains non-positive dimensions).
//
// Shape errors are programmer bugs, not runtime conditions that should be
// handled gracefully.
func NewTensor(shape ...int) *Tensor {
	if len(shape) == 0 {
		panic("tensor: shape cannot be empty")
	}

	size := 1
	for i, dim := range shape {
		if dim <= 0 {
			panic(fmt.Sprintf("tensor: shape[%d] must be positive, got %d", i, dim))
		}
		size *= dim
	}

	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)

	return &Tensor{
		data:  make([]float64, size),
		shape: shapeCopy,
		grad:  make([]float64, size),
	}
}

// NewTensorFrom creates a tensor that copies values. len(values) must equal
// the product of shape.
func NewTensorFrom(values []float64, shape ...int) *Tensor {
	t := NewTensor(shape...)
	if len(values) != len(t.data) {
		panic(fmt.Sprintf("tensor: %d values for shape %v", len(values), shape))
	}
	copy(t.data, values)
	return t
}

// NewTensorRand creates a tensor with values drawn from N(0, scale²) using
// the Box-Muller transform. The caller owns rng so that initialization is
// reproducible under a fixed seed.
func NewTensorRand(rng *rand.Rand, scale float64, shape ...int) *Tensor {
	t := NewTensor(shape...)

	for i := 0; i < len(t.data); i += 2 {
		u1, u2 := rng.Float64(), rng.Float64()
		if u1 < 1e-300 {
			u1 = 1e-300
		}
		mag := scale * math.Sqrt(-2*math.Log(u1))
		t.data[i] = mag * math.Cos(2*math.Pi*u2)
		if i+1 < len(t.data) {
			t.data[i+1] = mag * math.Sin(2*math.Pi*u2)
		}
	}

	return t
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() []int {
	shape := make([]int, len(t.shape))
	copy(shape, t.shape)
	return shape
}

// Size returns the total number of elements in the tensor.
func (t *Tensor) Size() int {
	return len(t.data)
}

// Rows and Cols describe 2D tensors.
func (t *Tensor) Rows() int { return t.shape[0] }
func (t *Tensor) Cols() int { return t.shape[len(t.shape)-1] }

// Row returns a view of row i of a 2D tensor. Writes go through to the tensor.
func (t *Tensor) Row(i int) []float64 {
	cols := t.Cols()
	return t.data[i*cols : (i+1)*cols]
}

// GradRow is Row for the gradient buffer.
func (t *Tensor) GradRow(i int) []float64 {
	cols := t.Cols()
	return t.grad[i*cols : (i+1)*cols]
}

// At returns the element at the given indices.
// Panics if indices are invalid - this is a programmer error.
func (t *Tensor) At(indices ...int) float64 {
	return t.data[t.flatIndex(indices)]
}

// Set sets the element at the given indices.
func (t *Tensor) Set(value float64, indices ...int) {
	t.data[t.flatIndex(indices)] = value
}

// flatIndex converts multi-dimensional indices to a flat index.
func (t *Tensor) flatIndex(indices []int) int {
	if len(indices) != len(t.shape) {
		panic(fmt.Sprintf("tensor: expected %d indices, got %d", len(t.shape), len(indices)))
	}

	idx := 0
	stride := 1
	for i := len(indices) - 1; i >= 0; i-- {
		if indices[i] < 0 || indices[i] >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index[%d]=%d out of bounds [0,%d)", i, indices[i], t.shape[i]))
		}
		idx += indices[i] * stride
		stride *= t.shape[i]
	}

	return idx
}

// ZeroGrad clears the gradient buffer. Call before the backward pass.
func (t *Tensor) ZeroGrad() {
	for i := range t.grad {
		t.grad[i] = 0
	}
}

// Clone creates a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	clone := NewTensor(t.shape...)
	copy(clone.data, t.data)
	copy(clone.grad, t.grad)
	return clone
}

// String returns a string representation of the tensor for debugging.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, size=%d)", t.shape, len(t.data))
}

// ===========================================================================
// OPERATIONS
// ===========================================================================

// Add performs element-wise addition: out = a + b.
func Add(a, b *Tensor) *Tensor {
	if !shapeEqual(a.shape, b.shape) {
		panic(fmt.Sprintf("tensor: cannot add shapes %v and %v", a.shape, b.shape))
	}

	out := NewTensor(a.shape...)
	for i := range out.data {
		out.data[i] = a.data[i] + b.data[i]
	}
	return out
}

// Mul performs element-wise multiplication (Hadamard product).
func Mul(a, b *Tensor) *Tensor {
	if !shapeEqual(a.shape, b.shape) {
		panic(fmt.Sprintf("tensor: cannot multiply shapes %v and %v", a.shape, b.shape))
	}

	out := NewTensor(a.shape...)
	for i := range out.data {
		out.data[i] = a.data[i] * b.data[i]
	}
	return out
}

// Scale multiplies all elements by a scalar: out = a * scalar.
func Scale(a *Tensor, scalar float64) *Tensor {
	out := NewTensor(a.shape...)
	for i := range out.data {
		out.data[i] = a.data[i] * scalar
	}
	return out
}

// AddBias adds a bias row to every row of a 2D tensor.
// x: (rows, features), bias: (1, features).
func AddBias(x, bias *Tensor) *Tensor {
	if len(x.shape) != 2 || bias.Size() != x.shape[1] {
		panic(fmt.Sprintf("tensor: cannot add bias %v to %v", bias.shape, x.shape))
	}

	out := x.Clone()
	cols := x.shape[1]
	for i := 0; i < x.shape[0]; i++ {
		row := out.data[i*cols : (i+1)*cols]
		for j := range row {
			row[j] += bias.data[j]
		}
	}
	return out
}

// MatMul performs matrix multiplication: C = A @ B.
// A must be (M, K), B must be (K, N), result is (M, N).
//
// Uses the global compute configuration chosen by device selection.
func MatMul(a, b *Tensor) *Tensor {
	return MatMulWithConfig(a, b, globalComputeConfig)
}

// Transpose returns the transpose of a 2D matrix.
func Transpose(a *Tensor) *Tensor {
	if len(a.shape) != 2 {
		panic("tensor: Transpose requires 2D tensor")
	}

	m, n := a.shape[0], a.shape[1]
	out := NewTensor(n, m)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			out.data[j*m+i] = a.data[i*n+j]
		}
	}
	return out
}

// ConcatCols joins 2D tensors with the same row count side by side.
func ConcatCols(parts ...*Tensor) *Tensor {
	rows := parts[0].shape[0]
	cols := 0
	for _, p := range parts {
		if len(p.shape) != 2 || p.shape[0] != rows {
			panic(fmt.Sprintf("tensor: cannot concat %v with %d rows", p.shape, rows))
		}
		cols += p.shape[1]
	}

	out := NewTensor(rows, cols)
	for i := 0; i < rows; i++ {
		offset := 0
		for _, p := range parts {
			copy(out.data[i*cols+offset:], p.Row(i))
			offset += p.shape[1]
		}
	}
	return out
}

// SplitCols is the inverse of ConcatCols for a gradient tensor.
func SplitCols(x *Tensor, widths ...int) []*Tensor {
	rows, cols := x.shape[0], x.shape[1]
	out := make([]*Tensor, len(widths))
	offset := 0
	for k, w := range widths {
		out[k] = NewTensor(rows, w)
		for i := 0; i < rows; i++ {
			copy(out[k].Row(i), x.data[i*cols+offset:i*cols+offset+w])
		}
		offset += w
	}
	if offset != cols {
		panic(fmt.Sprintf("tensor: split widths %v do not cover %d columns", widths, cols))
	}
	return out
}

// ===========================================================================
// ACTIVATION FUNCTIONS
// ===========================================================================

// ReLU applies Rectified Linear Unit: f(x) = max(0, x).
func ReLU(x *Tensor) *Tensor {
	out := NewTensor(x.shape...)
	for i := range x.data {
		out.data[i] = math.Max(0, x.data[i])
	}
	return out
}

// Tanh applies the hyperbolic tangent element-wise.
func Tanh(x *Tensor) *Tensor {
	out := NewTensor(x.shape...)
	for i := range x.data {
		out.data[i] = math.Tanh(x.data[i])
	}
	return out
}

// Sigmoid applies the logistic function element-wise. Highway gates use it.
func Sigmoid(x *Tensor) *Tensor {
	out := NewTensor(x.shape...)
	for i := range x.data {
		out.data[i] = sigmoid(x.data[i])
	}
	return out
}

func sigmoid(v float64) float64 {
	if v >= 0 {
		return 1 / (1 + math.Exp(-v))
	}
	e := math.Exp(v)
	return e / (1 + e)
}

// Softmax applies softmax row-wise: p_i = exp(x_i) / Σ exp(x_j).
//
// Numerically stable version: subtract max before exp to prevent overflow.
// Only supports 2D tensors (batch, features).
func Softmax(x *Tensor) *Tensor {
	if len(x.shape) != 2 {
		panic("tensor: Softmax requires 2D tensor")
	}

	out := NewTensor(x.shape...)
	for b := 0; b < x.shape[0]; b++ {
		softmaxInto(out.Row(b), x.Row(b))
	}
	return out
}

// softmaxInto writes softmax(src) into dst.
func softmaxInto(dst, src []float64) {
	maxVal := src[0]
	for _, v := range src[1:] {
		if v > maxVal {
			maxVal = v
		}
	}

	sum := 0.0
	for i, v := range src {
		dst[i] = math.Exp(v - maxVal)
		sum += dst[i]
	}
	for i := range dst {
		dst[i] /= sum
	}
}

// ===========================================================================
// HELPERS
// ===========================================================================

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// argmax returns the index of the maximum value, the first one on ties.
func argmax(data []float64) int {
	if len(data) == 0 {
		return -1
	}
	best := 0
	for i, v := range data {
		if v > data[best] {
			best = i
		}
	}
	return best
}
