package tensor

import (
	"fmt"
	"math"
)

func checkCompatibility(t1, t2 *Tensor) error {
	if t1.DType != t2.DType {
		return fmt.Errorf("dtype mismatch: %s vs %s", t1.DType, t2.DType)
	}
	if t1.Device != t2.Device {
		return fmt.Errorf("device mismatch: %s vs %s", t1.Device, t2.Device)
	}
	return nil
}

// binaryOp applies f elementwise after broadcasting both operands to a
// common shape. Float32 only; integer tensors carry labels, not activations.
func binaryOp(t1, t2 *Tensor, f func(a, b float32) float32, name string) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, fmt.Errorf("%s: %v", name, err)
	}
	if t1.DType != Float32 {
		return nil, fmt.Errorf("%s: unsupported dtype %s", name, t1.DType)
	}

	outShape, err := BroadcastShapes(t1.Shape, t2.Shape)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", name, err)
	}

	a, err := BroadcastTensor(t1, outShape)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", name, err)
	}
	b, err := BroadcastTensor(t2, outShape)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", name, err)
	}

	result, err := Zeros(outShape, Float32, t1.Device)
	if err != nil {
		return nil, err
	}

	aData := a.Data.([]float32)
	bData := b.Data.([]float32)
	rData := result.Data.([]float32)
	for i := range rData {
		rData[i] = f(aData[i], bData[i])
	}

	return result, nil
}

func unaryOp(t *Tensor, f func(v float32) float32, name string) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("%s: unsupported dtype %s", name, t.DType)
	}

	result, err := Zeros(t.Shape, Float32, t.Device)
	if err != nil {
		return nil, err
	}

	src := t.Data.([]float32)
	dst := result.Data.([]float32)
	for i := range dst {
		dst[i] = f(src[i])
	}

	return result, nil
}

func Add(t1, t2 *Tensor) (*Tensor, error) {
	return binaryOp(t1, t2, func(a, b float32) float32 { return a + b }, "Add")
}

func Sub(t1, t2 *Tensor) (*Tensor, error) {
	return binaryOp(t1, t2, func(a, b float32) float32 { return a - b }, "Sub")
}

func Mul(t1, t2 *Tensor) (*Tensor, error) {
	return binaryOp(t1, t2, func(a, b float32) float32 { return a * b }, "Mul")
}

func Div(t1, t2 *Tensor) (*Tensor, error) {
	return binaryOp(t1, t2, func(a, b float32) float32 { return a / b }, "Div")
}

// Scale multiplies every element by alpha.
func Scale(t *Tensor, alpha float64) (*Tensor, error) {
	a := float32(alpha)
	return unaryOp(t, func(v float32) float32 { return v * a }, "Scale")
}

func Sqrt(t *Tensor) (*Tensor, error) {
	return unaryOp(t, func(v float32) float32 { return float32(math.Sqrt(float64(v))) }, "Sqrt")
}

func Exp(t *Tensor) (*Tensor, error) {
	return unaryOp(t, func(v float32) float32 { return float32(math.Exp(float64(v))) }, "Exp")
}

func Log(t *Tensor) (*Tensor, error) {
	return unaryOp(t, func(v float32) float32 { return float32(math.Log(float64(v))) }, "Log")
}

func Abs(t *Tensor) (*Tensor, error) {
	return unaryOp(t, func(v float32) float32 {
		if v < 0 {
			return -v
		}
		return v
	}, "Abs")
}

func Sigmoid(t *Tensor) (*Tensor, error) {
	return unaryOp(t, func(v float32) float32 {
		return float32(1.0 / (1.0 + math.Exp(-float64(v))))
	}, "Sigmoid")
}

func Tanh(t *Tensor) (*Tensor, error) {
	return unaryOp(t, func(v float32) float32 {
		return float32(math.Tanh(float64(v)))
	}, "Tanh")
}

// Softplus computes log(1 + exp(x)) with the usual overflow guard.
func Softplus(t *Tensor) (*Tensor, error) {
	return unaryOp(t, func(v float32) float32 {
		x := float64(v)
		if x > 30 {
			return v
		}
		return float32(math.Log1p(math.Exp(x)))
	}, "Softplus")
}

func LeakyReLU(t *Tensor, negSlope float64) (*Tensor, error) {
	slope := float32(negSlope)
	return unaryOp(t, func(v float32) float32 {
		if v < 0 {
			return v * slope
		}
		return v
	}, "LeakyReLU")
}
