package tensor

import (
	"fmt"
)

// reduceGradientToShape reduces a gradient tensor to match the target shape.
// This is needed when broadcasting occurred during the forward pass. The
// reduction is built from autograd ops so the result stays differentiable.
func reduceGradientToShape(grad *Tensor, targetShape []int) *Tensor {
	if shapesEqual(grad.Shape, targetShape) {
		return grad
	}

	if len(targetShape) == 1 && targetShape[0] == 1 {
		return SumAutograd(grad)
	}

	result := grad

	// Sum away leading dimensions the target does not have.
	dimsToSum := len(result.Shape) - len(targetShape)
	for i := 0; i < dimsToSum; i++ {
		result = SumDimAutograd(result, 0)
	}

	// Sum dimensions that were broadcast up from size 1.
	for i := 0; i < len(targetShape); i++ {
		if i < len(result.Shape) && result.Shape[i] != targetShape[i] && targetShape[i] == 1 {
			summed := SumDimAutograd(result, i)
			keep := append([]int(nil), result.Shape...)
			keep[i] = 1
			result = ReshapeAutograd(summed, keep)
		}
	}

	if !shapesEqual(result.Shape, targetShape) {
		result = ReshapeAutograd(result, targetShape)
	}

	return result
}

// AddOp implements the Operation interface for tensor addition
type AddOp struct {
	inputs []*Tensor
}

func (op *AddOp) Inputs() []*Tensor { return op.inputs }

func (op *AddOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("AddOp requires exactly 2 inputs")
	}

	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := Add(a, b)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad || b.requiresGrad

	return result
}

func (op *AddOp) Backward(gradOut *Tensor) []*Tensor {
	// Gradient flows unchanged to both inputs, reduced over any
	// broadcast dimensions.
	gradA := reduceGradientToShape(gradOut, op.inputs[0].Shape)
	gradB := reduceGradientToShape(gradOut, op.inputs[1].Shape)
	return []*Tensor{gradA, gradB}
}

// SubOp implements the Operation interface for tensor subtraction
type SubOp struct {
	inputs []*Tensor
}

func (op *SubOp) Inputs() []*Tensor { return op.inputs }

func (op *SubOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("SubOp requires exactly 2 inputs")
	}

	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := Sub(a, b)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad || b.requiresGrad

	return result
}

func (op *SubOp) Backward(gradOut *Tensor) []*Tensor {
	gradA := reduceGradientToShape(gradOut, op.inputs[0].Shape)
	gradB := reduceGradientToShape(ScaleAutograd(gradOut, -1), op.inputs[1].Shape)
	return []*Tensor{gradA, gradB}
}

// MulOp implements the Operation interface for elementwise multiplication
type MulOp struct {
	inputs []*Tensor
}

func (op *MulOp) Inputs() []*Tensor { return op.inputs }

func (op *MulOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("MulOp requires exactly 2 inputs")
	}

	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := Mul(a, b)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad || b.requiresGrad

	return result
}

func (op *MulOp) Backward(gradOut *Tensor) []*Tensor {
	a, b := op.inputs[0], op.inputs[1]

	gradA := reduceGradientToShape(MulAutograd(gradOut, b), a.Shape)
	gradB := reduceGradientToShape(MulAutograd(gradOut, a), b.Shape)

	return []*Tensor{gradA, gradB}
}

// MatMulOp implements the Operation interface for matrix multiplication
type MatMulOp struct {
	inputs []*Tensor
}

func (op *MatMulOp) Inputs() []*Tensor { return op.inputs }

func (op *MatMulOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("MatMulOp requires exactly 2 inputs")
	}

	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := MatMul(a, b)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad || b.requiresGrad

	return result
}

func (op *MatMulOp) Backward(gradOut *Tensor) []*Tensor {
	a, b := op.inputs[0], op.inputs[1]

	// ∂(A @ B)/∂A = gradOut @ B^T, ∂(A @ B)/∂B = A^T @ gradOut
	gradA := MatMulAutograd(gradOut, TransposeAutograd(b))
	gradB := MatMulAutograd(TransposeAutograd(a), gradOut)

	return []*Tensor{gradA, gradB}
}

// TransposeOp implements the Operation interface for 2D transposition
type TransposeOp struct {
	inputs []*Tensor
}

func (op *TransposeOp) Inputs() []*Tensor { return op.inputs }

func (op *TransposeOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("TransposeOp requires exactly 1 input")
	}

	op.inputs = inputs
	result, err := Transpose(inputs[0])
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad

	return result
}

func (op *TransposeOp) Backward(gradOut *Tensor) []*Tensor {
	return []*Tensor{TransposeAutograd(gradOut)}
}

// ReshapeOp implements the Operation interface for reshaping
type ReshapeOp struct {
	inputs   []*Tensor
	newShape []int
}

func (op *ReshapeOp) Inputs() []*Tensor { return op.inputs }

func (op *ReshapeOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ReshapeOp requires exactly 1 input")
	}

	op.inputs = inputs
	result, err := Reshape(inputs[0], op.newShape)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad

	return result
}

func (op *ReshapeOp) Backward(gradOut *Tensor) []*Tensor {
	return []*Tensor{ReshapeAutograd(gradOut, op.inputs[0].Shape)}
}

// ScaleOp implements the Operation interface for scalar multiplication
type ScaleOp struct {
	inputs []*Tensor
	alpha  float64
}

func (op *ScaleOp) Inputs() []*Tensor { return op.inputs }

func (op *ScaleOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ScaleOp requires exactly 1 input")
	}

	op.inputs = inputs
	result, err := Scale(inputs[0], op.alpha)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad

	return result
}

func (op *ScaleOp) Backward(gradOut *Tensor) []*Tensor {
	return []*Tensor{ScaleAutograd(gradOut, op.alpha)}
}

// ConcatOp implements the Operation interface for concatenation along dim 0
type ConcatOp struct {
	inputs []*Tensor
}

func (op *ConcatOp) Inputs() []*Tensor { return op.inputs }

func (op *ConcatOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) == 0 {
		panic("ConcatOp requires at least 1 input")
	}

	op.inputs = inputs
	result, err := Concat(inputs...)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	for _, in := range inputs {
		if in.requiresGrad {
			result.requiresGrad = true
		}
	}

	return result
}

func (op *ConcatOp) Backward(gradOut *Tensor) []*Tensor {
	grads := make([]*Tensor, len(op.inputs))
	offset := 0
	for i, in := range op.inputs {
		grads[i] = NarrowAutograd(gradOut, offset, in.Shape[0])
		offset += in.Shape[0]
	}
	return grads
}

// NarrowOp implements the Operation interface for row slicing along dim 0
type NarrowOp struct {
	inputs        []*Tensor
	start, length int
}

func (op *NarrowOp) Inputs() []*Tensor { return op.inputs }

func (op *NarrowOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("NarrowOp requires exactly 1 input")
	}

	op.inputs = inputs
	result, err := Narrow(inputs[0], op.start, op.length)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad

	return result
}

func (op *NarrowOp) Backward(gradOut *Tensor) []*Tensor {
	return []*Tensor{padRowsAutograd(gradOut, op.start, op.inputs[0].Shape[0])}
}

// padRowsOp embeds a tensor into a larger zero tensor along dim 0. It is the
// adjoint of NarrowOp and only ever appears inside backward graphs.
type padRowsOp struct {
	inputs    []*Tensor
	start     int
	totalRows int
}

func (op *padRowsOp) Inputs() []*Tensor { return op.inputs }

func (op *padRowsOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("padRowsOp requires exactly 1 input")
	}

	t := inputs[0]
	op.inputs = inputs

	outShape := append([]int{op.totalRows}, t.Shape[1:]...)
	result, err := Zeros(outShape, t.DType, t.Device)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	rowSize := t.NumElems / t.Shape[0]
	copy(result.Data.([]float32)[op.start*rowSize:], t.Data.([]float32))

	result.creator = op
	result.requiresGrad = t.requiresGrad

	return result
}

func (op *padRowsOp) Backward(gradOut *Tensor) []*Tensor {
	return []*Tensor{NarrowAutograd(gradOut, op.start, op.inputs[0].Shape[0])}
}

// SumOp reduces all elements to a single scalar
type SumOp struct {
	inputs []*Tensor
}

func (op *SumOp) Inputs() []*Tensor { return op.inputs }

func (op *SumOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("SumOp requires exactly 1 input")
	}

	op.inputs = inputs
	result, err := Sum(inputs[0])
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad

	return result
}

func (op *SumOp) Backward(gradOut *Tensor) []*Tensor {
	return []*Tensor{BroadcastToAutograd(gradOut, op.inputs[0].Shape)}
}

// SumDimOp sums over one dimension, dropping it
type SumDimOp struct {
	inputs []*Tensor
	dim    int
}

func (op *SumDimOp) Inputs() []*Tensor { return op.inputs }

func (op *SumDimOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("SumDimOp requires exactly 1 input")
	}

	op.inputs = inputs
	result, err := SumDim(inputs[0], op.dim)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad

	return result
}

func (op *SumDimOp) Backward(gradOut *Tensor) []*Tensor {
	in := op.inputs[0]

	// Re-insert the summed dimension as size 1, then expand.
	keep := make([]int, 0, len(in.Shape))
	for i, size := range in.Shape {
		if i == op.dim {
			keep = append(keep, 1)
		} else {
			keep = append(keep, size)
		}
	}

	grad := ReshapeAutograd(gradOut, keep)
	return []*Tensor{BroadcastToAutograd(grad, in.Shape)}
}

// MeanOp reduces all elements to their average
type MeanOp struct {
	inputs []*Tensor
}

func (op *MeanOp) Inputs() []*Tensor { return op.inputs }

func (op *MeanOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("MeanOp requires exactly 1 input")
	}

	op.inputs = inputs
	result, err := Mean(inputs[0])
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad

	return result
}

func (op *MeanOp) Backward(gradOut *Tensor) []*Tensor {
	in := op.inputs[0]
	grad := BroadcastToAutograd(gradOut, in.Shape)
	return []*Tensor{ScaleAutograd(grad, 1.0/float64(in.NumElems))}
}

// BroadcastToOp materializes a tensor expanded to a target shape
type BroadcastToOp struct {
	inputs []*Tensor
	shape  []int
}

func (op *BroadcastToOp) Inputs() []*Tensor { return op.inputs }

func (op *BroadcastToOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("BroadcastToOp requires exactly 1 input")
	}

	op.inputs = inputs
	result, err := BroadcastTensor(inputs[0], op.shape)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}
	if result == inputs[0] {
		// Already the right shape; still record the op so the graph
		// stays well formed.
		result, err = inputs[0].Clone()
		if err != nil {
			panic(fmt.Sprintf("Forward pass failed: %v", err))
		}
	}

	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad

	return result
}

func (op *BroadcastToOp) Backward(gradOut *Tensor) []*Tensor {
	return []*Tensor{reduceGradientToShape(gradOut, op.inputs[0].Shape)}
}

// SoftplusOp implements log(1 + exp(x))
type SoftplusOp struct {
	inputs []*Tensor
}

func (op *SoftplusOp) Inputs() []*Tensor { return op.inputs }

func (op *SoftplusOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("SoftplusOp requires exactly 1 input")
	}

	op.inputs = inputs
	result, err := Softplus(inputs[0])
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad

	return result
}

func (op *SoftplusOp) Backward(gradOut *Tensor) []*Tensor {
	// ∂softplus(x)/∂x = σ(x)
	return []*Tensor{MulAutograd(gradOut, SigmoidAutograd(op.inputs[0]))}
}

// SigmoidOp implements the logistic function
type SigmoidOp struct {
	inputs []*Tensor
	output *Tensor
}

func (op *SigmoidOp) Inputs() []*Tensor { return op.inputs }

func (op *SigmoidOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("SigmoidOp requires exactly 1 input")
	}

	op.inputs = inputs
	result, err := Sigmoid(inputs[0])
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	op.output = result
	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad

	return result
}

func (op *SigmoidOp) Backward(gradOut *Tensor) []*Tensor {
	// ∂σ(x)/∂x = σ(x)(1 - σ(x))
	out := op.output
	one := FromScalar(1.0, Float32, out.Device)
	grad := MulAutograd(gradOut, MulAutograd(out, SubAutograd(one, out)))
	return []*Tensor{grad}
}

// TanhOp implements the hyperbolic tangent
type TanhOp struct {
	inputs []*Tensor
	output *Tensor
}

func (op *TanhOp) Inputs() []*Tensor { return op.inputs }

func (op *TanhOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("TanhOp requires exactly 1 input")
	}

	op.inputs = inputs
	result, err := Tanh(inputs[0])
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	op.output = result
	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad

	return result
}

func (op *TanhOp) Backward(gradOut *Tensor) []*Tensor {
	// ∂tanh(x)/∂x = 1 - tanh(x)^2
	out := op.output
	one := FromScalar(1.0, Float32, out.Device)
	grad := MulAutograd(gradOut, SubAutograd(one, MulAutograd(out, out)))
	return []*Tensor{grad}
}

// LeakyReLUOp implements the leaky rectifier
type LeakyReLUOp struct {
	inputs   []*Tensor
	negSlope float64
}

func (op *LeakyReLUOp) Inputs() []*Tensor { return op.inputs }

func (op *LeakyReLUOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("LeakyReLUOp requires exactly 1 input")
	}

	op.inputs = inputs
	result, err := LeakyReLU(inputs[0], op.negSlope)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad

	return result
}

func (op *LeakyReLUOp) Backward(gradOut *Tensor) []*Tensor {
	in := op.inputs[0]

	// Piecewise-constant slope mask; no gradient flows through it.
	mask, err := Zeros(in.Shape, Float32, in.Device)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}
	src := in.Data.([]float32)
	dst := mask.Data.([]float32)
	slope := float32(op.negSlope)
	for i := range dst {
		if src[i] < 0 {
			dst[i] = slope
		} else {
			dst[i] = 1
		}
	}

	return []*Tensor{MulAutograd(gradOut, mask)}
}

// AbsOp implements the elementwise absolute value
type AbsOp struct {
	inputs []*Tensor
}

func (op *AbsOp) Inputs() []*Tensor { return op.inputs }

func (op *AbsOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("AbsOp requires exactly 1 input")
	}

	op.inputs = inputs
	result, err := Abs(inputs[0])
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad

	return result
}

func (op *AbsOp) Backward(gradOut *Tensor) []*Tensor {
	in := op.inputs[0]

	sign, err := Zeros(in.Shape, Float32, in.Device)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}
	src := in.Data.([]float32)
	dst := sign.Data.([]float32)
	for i := range dst {
		switch {
		case src[i] > 0:
			dst[i] = 1
		case src[i] < 0:
			dst[i] = -1
		}
	}

	return []*Tensor{MulAutograd(gradOut, sign)}
}

// GatherClassOp selects one logit per row by class index
type GatherClassOp struct {
	inputs []*Tensor // [logits, classes]
}

func (op *GatherClassOp) Inputs() []*Tensor { return op.inputs }

func (op *GatherClassOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("GatherClassOp requires exactly 2 inputs")
	}

	op.inputs = inputs
	result, err := GatherClass(inputs[0], inputs[1])
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad

	return result
}

func (op *GatherClassOp) Backward(gradOut *Tensor) []*Tensor {
	numClasses := op.inputs[0].Shape[1]
	grad := ScatterClassAutograd(gradOut, op.inputs[1], numClasses)
	return []*Tensor{grad, nil}
}

// ScatterClassOp places per-row values at their class columns
type ScatterClassOp struct {
	inputs     []*Tensor // [values, classes]
	numClasses int
}

func (op *ScatterClassOp) Inputs() []*Tensor { return op.inputs }

func (op *ScatterClassOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("ScatterClassOp requires exactly 2 inputs")
	}

	op.inputs = inputs
	result, err := ScatterClass(inputs[0], inputs[1], op.numClasses)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad

	return result
}

func (op *ScatterClassOp) Backward(gradOut *Tensor) []*Tensor {
	return []*Tensor{GatherClassAutograd(gradOut, op.inputs[1]), nil}
}

// High-level autograd functions that create and execute operations

func AddAutograd(a, b *Tensor) *Tensor {
	op := &AddOp{}
	return op.Forward(a, b)
}

func SubAutograd(a, b *Tensor) *Tensor {
	op := &SubOp{}
	return op.Forward(a, b)
}

func MulAutograd(a, b *Tensor) *Tensor {
	op := &MulOp{}
	return op.Forward(a, b)
}

func MatMulAutograd(a, b *Tensor) *Tensor {
	op := &MatMulOp{}
	return op.Forward(a, b)
}

func TransposeAutograd(a *Tensor) *Tensor {
	op := &TransposeOp{}
	return op.Forward(a)
}

func ReshapeAutograd(a *Tensor, shape []int) *Tensor {
	op := &ReshapeOp{newShape: append([]int(nil), shape...)}
	return op.Forward(a)
}

func ScaleAutograd(a *Tensor, alpha float64) *Tensor {
	op := &ScaleOp{alpha: alpha}
	return op.Forward(a)
}

func ConcatAutograd(ts ...*Tensor) *Tensor {
	op := &ConcatOp{}
	return op.Forward(ts...)
}

func NarrowAutograd(a *Tensor, start, length int) *Tensor {
	op := &NarrowOp{start: start, length: length}
	return op.Forward(a)
}

func padRowsAutograd(a *Tensor, start, totalRows int) *Tensor {
	op := &padRowsOp{start: start, totalRows: totalRows}
	return op.Forward(a)
}

func SumAutograd(a *Tensor) *Tensor {
	op := &SumOp{}
	return op.Forward(a)
}

func SumDimAutograd(a *Tensor, dim int) *Tensor {
	op := &SumDimOp{dim: dim}
	return op.Forward(a)
}

func MeanAutograd(a *Tensor) *Tensor {
	op := &MeanOp{}
	return op.Forward(a)
}

func BroadcastToAutograd(a *Tensor, shape []int) *Tensor {
	op := &BroadcastToOp{shape: append([]int(nil), shape...)}
	return op.Forward(a)
}

func SoftplusAutograd(a *Tensor) *Tensor {
	op := &SoftplusOp{}
	return op.Forward(a)
}

func SigmoidAutograd(a *Tensor) *Tensor {
	op := &SigmoidOp{}
	return op.Forward(a)
}

func TanhAutograd(a *Tensor) *Tensor {
	op := &TanhOp{}
	return op.Forward(a)
}

func LeakyReLUAutograd(a *Tensor, negSlope float64) *Tensor {
	op := &LeakyReLUOp{negSlope: negSlope}
	return op.Forward(a)
}

func AbsAutograd(a *Tensor) *Tensor {
	op := &AbsOp{}
	return op.Forward(a)
}

func GatherClassAutograd(logits, classes *Tensor) *Tensor {
	op := &GatherClassOp{}
	return op.Forward(logits, classes)
}

func ScatterClassAutograd(values, classes *Tensor, numClasses int) *Tensor {
	op := &ScatterClassOp{numClasses: numClasses}
	return op.Forward(values, classes)
}
