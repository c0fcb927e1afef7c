package networks

import (
	"fmt"

	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/tensor"
)

// Discriminator scores an image batch with one real/fake logit per age class.
type Discriminator interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	NamedParameters() []NamedParam
	Parameters() []*tensor.Tensor
}

// ClasswiseDiscriminator is the compact reference discriminator: a single
// hidden layer over flattened images with one output logit per class.
type ClasswiseDiscriminator struct {
	imgDim     int
	numClasses int

	fc1 *Linear
	fc2 *Linear
}

// ClasswiseDiscriminatorConfig sizes a ClasswiseDiscriminator.
type ClasswiseDiscriminatorConfig struct {
	Channels   int
	Height     int
	Width      int
	HiddenDim  int
	NumClasses int
	Device     tensor.DeviceType
}

func NewClasswiseDiscriminator(cfg ClasswiseDiscriminatorConfig) (*ClasswiseDiscriminator, error) {
	imgDim := cfg.Channels * cfg.Height * cfg.Width
	if imgDim <= 0 || cfg.HiddenDim <= 0 || cfg.NumClasses <= 0 {
		return nil, fmt.Errorf("invalid discriminator dimensions: img=%d hidden=%d classes=%d", imgDim, cfg.HiddenDim, cfg.NumClasses)
	}

	fc1, err := NewLinear("disc.fc1", imgDim, cfg.HiddenDim, cfg.Device)
	if err != nil {
		return nil, err
	}
	fc2, err := NewLinear("disc.fc2", cfg.HiddenDim, cfg.NumClasses, cfg.Device)
	if err != nil {
		return nil, err
	}

	return &ClasswiseDiscriminator{
		imgDim:     imgDim,
		numClasses: cfg.NumClasses,
		fc1:        fc1,
		fc2:        fc2,
	}, nil
}

// Forward returns class-wise logits of shape [batch, numClasses].
func (d *ClasswiseDiscriminator) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if input.NumElems%d.imgDim != 0 {
		return nil, fmt.Errorf("input with %d elements is not divisible into %d-element images", input.NumElems, d.imgDim)
	}
	n := input.NumElems / d.imgDim

	flat := tensor.ReshapeAutograd(input, []int{n, d.imgDim})
	hidden := tensor.LeakyReLUAutograd(d.fc1.Forward(flat), 0.2)
	return d.fc2.Forward(hidden), nil
}

func (d *ClasswiseDiscriminator) NumClasses() int {
	return d.numClasses
}

func (d *ClasswiseDiscriminator) NamedParameters() []NamedParam {
	var params []NamedParam
	params = append(params, d.fc1.NamedParameters()...)
	params = append(params, d.fc2.NamedParameters()...)
	return params
}

func (d *ClasswiseDiscriminator) Parameters() []*tensor.Tensor {
	named := d.NamedParameters()
	params := make([]*tensor.Tensor, len(named))
	for i, p := range named {
		params[i] = p.Value
	}
	return params
}
