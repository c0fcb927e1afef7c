package networks

import (
	"fmt"
	"math"

	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/tensor"
)

// InferOptions selects between the discrete and interpolating inference
// entry points of a generator.
type InferOptions struct {
	Traverse   bool
	Deploy     bool
	InterpStep float64
}

// GeneratorOutputs carries the seven tensors produced by a full generator
// forward pass. A discriminator pass fills only Generated.
type GeneratorOutputs struct {
	Reconst   *tensor.Tensor
	Generated *tensor.Tensor
	Cycled    *tensor.Tensor
	OrigID    *tensor.Tensor
	OrigAge   *tensor.Tensor
	FakeID    *tensor.Tensor
	FakeAge   *tensor.Tensor
}

// Generator is the conditional image-to-image network collaborator. The
// orchestration core treats implementations as opaque: it only relies on this
// surface and on the ordered parameter registry.
type Generator interface {
	// Forward runs the training-time pass. recCond and origCond may be nil
	// when discPass is true; a discriminator pass computes only the
	// cross-domain generated images.
	Forward(input, recCond, genCond, origCond *tensor.Tensor, discPass bool) (*GeneratorOutputs, error)

	// Encode produces identity and age feature embeddings.
	Encode(input *tensor.Tensor) (idFeat, ageFeat *tensor.Tensor, err error)

	// Decode produces an image from identity features and a style source.
	// When ageFeat is non-nil it overrides cond as the style source.
	Decode(idFeat, ageFeat, cond *tensor.Tensor) (*tensor.Tensor, error)

	// Infer is the gradient-free generation entry point. withinDomainIdx >= 0
	// requests decoding from the input's own age features; opts selects the
	// traversal/deploy interpolation path.
	Infer(input, cond *tensor.Tensor, withinDomainIdx int, opts InferOptions) (*tensor.Tensor, error)

	NamedParameters() []NamedParam
	Parameters() []*tensor.Tensor
}

// StyleGenerator is a compact reference generator: an identity encoder, an
// age encoder whose embedding lives in condition-vector space, and a decoder
// whose style MLP maps the condition into the identity feature space. It
// works on flattened images and exists to exercise the orchestration engine
// and its tests; a production topology plugs in behind the same interface.
type StyleGenerator struct {
	channels int
	height   int
	width    int
	imgDim   int
	featDim  int
	condLen  int

	idEnc      *Linear
	ageEnc     *Linear
	decoderMLP *Linear
	decoderOut *Linear
}

// StyleGeneratorConfig sizes a StyleGenerator.
type StyleGeneratorConfig struct {
	Channels    int
	Height      int
	Width       int
	FeatDim     int
	NumClasses  int
	DimPerStyle int
	Device      tensor.DeviceType
}

func NewStyleGenerator(cfg StyleGeneratorConfig) (*StyleGenerator, error) {
	imgDim := cfg.Channels * cfg.Height * cfg.Width
	condLen := cfg.NumClasses * cfg.DimPerStyle
	if imgDim <= 0 || condLen <= 0 || cfg.FeatDim <= 0 {
		return nil, fmt.Errorf("invalid generator dimensions: img=%d cond=%d feat=%d", imgDim, condLen, cfg.FeatDim)
	}

	idEnc, err := NewLinear("id_enc.fc", imgDim, cfg.FeatDim, cfg.Device)
	if err != nil {
		return nil, err
	}
	ageEnc, err := NewLinear("age_enc.fc", imgDim, condLen, cfg.Device)
	if err != nil {
		return nil, err
	}
	// The style MLP learns two orders of magnitude slower than the rest of
	// the generator; the optimizer keys the reduced rate off this name.
	decoderMLP, err := NewLinear("decoder.mlp.fc", condLen, cfg.FeatDim, cfg.Device)
	if err != nil {
		return nil, err
	}
	decoderOut, err := NewLinear("decoder.out.fc", cfg.FeatDim, imgDim, cfg.Device)
	if err != nil {
		return nil, err
	}

	return &StyleGenerator{
		channels:   cfg.Channels,
		height:     cfg.Height,
		width:      cfg.Width,
		imgDim:     imgDim,
		featDim:    cfg.FeatDim,
		condLen:    condLen,
		idEnc:      idEnc,
		ageEnc:     ageEnc,
		decoderMLP: decoderMLP,
		decoderOut: decoderOut,
	}, nil
}

func (g *StyleGenerator) flatten(input *tensor.Tensor) (*tensor.Tensor, int, error) {
	if input.NumElems%g.imgDim != 0 {
		return nil, 0, fmt.Errorf("input with %d elements is not divisible into %d-element images", input.NumElems, g.imgDim)
	}
	n := input.NumElems / g.imgDim
	return tensor.ReshapeAutograd(input, []int{n, g.imgDim}), n, nil
}

func (g *StyleGenerator) Encode(input *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	flat, _, err := g.flatten(input)
	if err != nil {
		return nil, nil, err
	}

	idFeat := tensor.LeakyReLUAutograd(g.idEnc.Forward(flat), 0.2)
	ageFeat := g.ageEnc.Forward(flat)
	return idFeat, ageFeat, nil
}

func (g *StyleGenerator) Decode(idFeat, ageFeat, cond *tensor.Tensor) (*tensor.Tensor, error) {
	style := cond
	if ageFeat != nil {
		style = ageFeat
	}
	if style == nil {
		return nil, fmt.Errorf("decode requires a condition vector or age features")
	}
	if len(style.Shape) != 2 || style.Shape[1] != g.condLen {
		return nil, fmt.Errorf("style shape %v does not match condition length %d", style.Shape, g.condLen)
	}

	styleFeat := g.decoderMLP.Forward(style)
	fused := tensor.AddAutograd(idFeat, styleFeat)
	flat := tensor.TanhAutograd(g.decoderOut.Forward(fused))

	n := flat.Shape[0]
	return tensor.ReshapeAutograd(flat, []int{n, g.channels, g.height, g.width}), nil
}

func (g *StyleGenerator) Forward(input, recCond, genCond, origCond *tensor.Tensor, discPass bool) (*GeneratorOutputs, error) {
	idFeat, ageFeat, err := g.Encode(input)
	if err != nil {
		return nil, err
	}

	generated, err := g.Decode(idFeat, nil, genCond)
	if err != nil {
		return nil, err
	}

	if discPass {
		return &GeneratorOutputs{Generated: generated}, nil
	}

	if recCond == nil || origCond == nil {
		return nil, fmt.Errorf("full forward pass requires reconstruction and original conditions")
	}

	reconst, err := g.Decode(idFeat, nil, recCond)
	if err != nil {
		return nil, err
	}

	fakeID, fakeAge, err := g.Encode(generated)
	if err != nil {
		return nil, err
	}

	cycled, err := g.Decode(fakeID, nil, recCond)
	if err != nil {
		return nil, err
	}

	return &GeneratorOutputs{
		Reconst:   reconst,
		Generated: generated,
		Cycled:    cycled,
		OrigID:    idFeat,
		OrigAge:   ageFeat,
		FakeID:    fakeID,
		FakeAge:   fakeAge,
	}, nil
}

func (g *StyleGenerator) Infer(input, cond *tensor.Tensor, withinDomainIdx int, opts InferOptions) (*tensor.Tensor, error) {
	idFeat, ageFeat, err := g.Encode(input)
	if err != nil {
		return nil, err
	}

	if opts.Traverse || opts.Deploy {
		return g.interpolate(idFeat, ageFeat, cond, opts)
	}

	var ownAge *tensor.Tensor
	if withinDomainIdx >= 0 {
		ownAge = ageFeat
	}
	out, err := g.Decode(idFeat, ownAge, cond)
	if err != nil {
		return nil, err
	}
	return out.Detach(), nil
}

// interpolate walks from the input's own age embedding toward each target
// condition row. Traverse emits every fractional step; deploy emits only the
// endpoint per target.
func (g *StyleGenerator) interpolate(idFeat, ageFeat, cond *tensor.Tensor, opts InferOptions) (*tensor.Tensor, error) {
	if cond == nil || len(cond.Shape) != 2 {
		return nil, fmt.Errorf("interpolating inference requires a 2D condition matrix")
	}

	step := opts.InterpStep
	if !opts.Traverse || step <= 0 || step > 1 {
		step = 1
	}
	stepsPerTarget := int(math.Ceil(1/step - 1e-9))

	// Anchor at the first sample's own age embedding.
	own := tensor.NarrowAutograd(ageFeat, 0, 1)
	id := tensor.NarrowAutograd(idFeat, 0, 1)

	var frames []*tensor.Tensor
	for k := 0; k < cond.Shape[0]; k++ {
		target := tensor.NarrowAutograd(cond, k, 1)
		for s := 1; s <= stepsPerTarget; s++ {
			t := float64(s) * step
			if t > 1 || s == stepsPerTarget {
				t = 1
			}
			style := tensor.AddAutograd(
				tensor.ScaleAutograd(own, 1-t),
				tensor.ScaleAutograd(target, t),
			)
			frame, err := g.Decode(id, nil, style)
			if err != nil {
				return nil, err
			}
			frames = append(frames, frame)
		}
	}

	out, err := tensor.Concat(framesDetached(frames)...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func framesDetached(frames []*tensor.Tensor) []*tensor.Tensor {
	out := make([]*tensor.Tensor, len(frames))
	for i, f := range frames {
		out[i] = f.Detach()
	}
	return out
}

// NamedParameters returns all parameters in a stable order.
func (g *StyleGenerator) NamedParameters() []NamedParam {
	var params []NamedParam
	params = append(params, g.idEnc.NamedParameters()...)
	params = append(params, g.ageEnc.NamedParameters()...)
	params = append(params, g.decoderMLP.NamedParameters()...)
	params = append(params, g.decoderOut.NamedParameters()...)
	return params
}

func (g *StyleGenerator) Parameters() []*tensor.Tensor {
	named := g.NamedParameters()
	params := make([]*tensor.Tensor, len(named))
	for i, p := range named {
		params[i] = p.Value
	}
	return params
}
