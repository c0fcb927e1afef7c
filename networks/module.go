package networks

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/tensor"
)

// Global random source for deterministic initialization
var globalRng *rand.Rand = rand.New(rand.NewSource(1))

// SetRandomSeed sets the global random seed for deterministic weight initialization
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// NamedParam couples a parameter tensor with its stable, ordered name.
// Networks expose their parameters through ordered registries of these so
// that moving-average accumulation and checkpointing can walk two models
// positionally instead of guessing at string keys.
type NamedParam struct {
	Name  string
	Value *tensor.Tensor
}

// Network is the minimal surface shared by generators and discriminators.
type Network interface {
	NamedParameters() []NamedParam
	Parameters() []*tensor.Tensor
}

// RequiresGrad freezes or unfreezes every parameter of a network.
func RequiresGrad(n Network, flag bool) {
	for _, p := range n.Parameters() {
		p.SetRequiresGrad(flag)
	}
}

// Linear implements a fully connected layer: y = xW + b
type Linear struct {
	name   string
	weight *tensor.Tensor
	bias   *tensor.Tensor
}

// NewLinear creates a Linear layer with Xavier/Glorot uniform initialization.
func NewLinear(name string, inputSize, outputSize int, device tensor.DeviceType) (*Linear, error) {
	bound := math.Sqrt(6.0 / float64(inputSize+outputSize))

	weightData := make([]float32, inputSize*outputSize)
	for i := range weightData {
		weightData[i] = float32((globalRng.Float64()*2.0 - 1.0) * bound)
	}

	weight, err := tensor.NewTensor([]int{inputSize, outputSize}, tensor.Float32, device, weightData)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %v", err)
	}
	weight.SetRequiresGrad(true)

	bias, err := tensor.Zeros([]int{outputSize}, tensor.Float32, device)
	if err != nil {
		return nil, fmt.Errorf("failed to create bias tensor: %v", err)
	}
	bias.SetRequiresGrad(true)

	return &Linear{name: name, weight: weight, bias: bias}, nil
}

// Forward computes xW + b for a 2D input [batch, inputSize].
func (l *Linear) Forward(input *tensor.Tensor) *tensor.Tensor {
	out := tensor.MatMulAutograd(input, l.weight)
	return tensor.AddAutograd(out, l.bias)
}

func (l *Linear) Name() string {
	return l.name
}

// NamedParameters returns the layer parameters in declaration order.
func (l *Linear) NamedParameters() []NamedParam {
	return []NamedParam{
		{Name: l.name + ".weight", Value: l.weight},
		{Name: l.name + ".bias", Value: l.bias},
	}
}

func (l *Linear) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{l.weight, l.bias}
}
