package lats

import (
	"fmt"

	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/networks"
	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/optimizer"
	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/tensor"
)

// LossWeights holds the configuration scalars multiplying each generator
// loss term. A weight ≤ 0 disables its term entirely: the term contributes
// an exact zero and never enters the backward graph.
type LossWeights struct {
	Rec float64
	Cyc float64
	ID  float64
	Age float64
}

// GenVisuals carries display images produced by the shadow model's
// gradient-free pass after a generator step.
type GenVisuals struct {
	Reals     *tensor.Tensor
	Reconst   *tensor.Tensor
	Generated *tensor.Tensor
	Cycled    *tensor.Tensor
}

// GeneratorStep runs one optimization iteration for the generator.
type GeneratorStep struct {
	gen    networks.Generator
	shadow networks.Generator
	disc   networks.Discriminator
	opt    optimizer.Optimizer

	adv networks.NonSatGANLoss
	l1  networks.FeatureConsistency

	weights  LossWeights
	emaDecay float64
	useEMA   bool
	device   tensor.DeviceType
}

// NewGeneratorStep wires a generator step. shadow may be nil when the moving
// average is disabled.
func NewGeneratorStep(gen, shadow networks.Generator, disc networks.Discriminator, opt optimizer.Optimizer, weights LossWeights, emaDecay float64, device tensor.DeviceType) *GeneratorStep {
	return &GeneratorStep{
		gen:      gen,
		shadow:   shadow,
		disc:     disc,
		opt:      opt,
		weights:  weights,
		emaDecay: emaDecay,
		useEMA:   shadow != nil,
		device:   device,
	}
}

// Update performs forward, loss composition, backward, optimizer step and
// shadow accumulation for one batch. When withVisuals is set it additionally
// runs the shadow model once with no gradient tracking and returns its
// display images; that branch never touches training state.
func (s *GeneratorStep) Update(ctx *StepContext, withVisuals bool) (map[string]float64, *GenVisuals, error) {
	outs, err := s.gen.Forward(ctx.Reals, ctx.RecConds, ctx.GenConds, ctx.OrigConds, false)
	if err != nil {
		return nil, nil, fmt.Errorf("generator forward failed: %v", err)
	}

	logits, err := s.disc.Forward(outs.Generated)
	if err != nil {
		return nil, nil, fmt.Errorf("discriminator forward failed: %v", err)
	}

	// The generator wants its cross-domain fakes judged real at the
	// swapped target classes.
	advLoss, err := s.adv.Real(logits, ctx.SwappedClasses)
	if err != nil {
		return nil, nil, err
	}

	recLoss, err := s.weightedL1(outs.Reconst, ctx.Reals, s.weights.Rec)
	if err != nil {
		return nil, nil, err
	}
	cycLoss, err := s.weightedL1(outs.Cycled, ctx.Reals, s.weights.Cyc)
	if err != nil {
		return nil, nil, err
	}
	idLoss, err := s.weightedL1(outs.FakeID, outs.OrigID, s.weights.ID)
	if err != nil {
		return nil, nil, err
	}

	// Age consistency has two legs: generated features against the target
	// condition, original features against the own-class condition.
	ageLoss := s.zero()
	if s.weights.Age > 0 {
		fakeLeg, err := s.l1.Loss(outs.FakeAge, ctx.GenConds)
		if err != nil {
			return nil, nil, err
		}
		origLeg, err := s.l1.Loss(outs.OrigAge, ctx.OrigConds)
		if err != nil {
			return nil, nil, err
		}
		ageLoss = tensor.ScaleAutograd(tensor.AddAutograd(fakeLeg, origLeg), s.weights.Age)
	}

	total := advLoss
	for _, term := range []*tensor.Tensor{recLoss, cycLoss, idLoss, ageLoss} {
		if term.RequiresGrad() {
			total = tensor.AddAutograd(total, term)
		}
	}

	s.opt.ZeroGrad()
	if err := total.Backward(); err != nil {
		return nil, nil, fmt.Errorf("generator backward failed: %v", err)
	}
	if err := s.opt.Step(); err != nil {
		return nil, nil, fmt.Errorf("generator optimizer step failed: %v", err)
	}

	if s.useEMA {
		if err := Accumulate(s.shadow.NamedParameters(), s.gen.NamedParameters(), s.emaDecay); err != nil {
			return nil, nil, fmt.Errorf("shadow accumulation failed: %v", err)
		}
	}

	losses, err := lossReport(map[string]*tensor.Tensor{
		"G_Adv":            advLoss,
		"G_Rec":            recLoss,
		"G_Cycle":          cycLoss,
		"Identity_reconst": idLoss,
		"Age_reconst":      ageLoss,
	})
	if err != nil {
		return nil, nil, err
	}

	var visuals *GenVisuals
	if withVisuals {
		visuals, err = s.shadowVisuals(ctx)
		if err != nil {
			return nil, nil, err
		}
	}
	return losses, visuals, nil
}

// weightedL1 returns weight·mean|a−b|, or a detached zero scalar when the
// weight disables the term.
func (s *GeneratorStep) weightedL1(a, b *tensor.Tensor, weight float64) (*tensor.Tensor, error) {
	if weight <= 0 {
		return s.zero(), nil
	}
	loss, err := s.l1.Loss(a, b)
	if err != nil {
		return nil, err
	}
	return tensor.ScaleAutograd(loss, weight), nil
}

func (s *GeneratorStep) zero() *tensor.Tensor {
	return tensor.FromScalar(0, tensor.Float32, s.device)
}

// shadowVisuals replays the step's inputs through the shadow model (the
// live model when the moving average is disabled) with gradients off.
func (s *GeneratorStep) shadowVisuals(ctx *StepContext) (*GenVisuals, error) {
	source := s.shadow
	if source == nil {
		source = s.gen
	}

	reals := ctx.Reals.Detach()
	outs, err := source.Forward(reals, ctx.RecConds, ctx.GenConds, ctx.OrigConds, false)
	if err != nil {
		return nil, fmt.Errorf("visualization forward failed: %v", err)
	}
	return &GenVisuals{
		Reals:     reals,
		Reconst:   outs.Reconst.Detach(),
		Generated: outs.Generated.Detach(),
		Cycled:    outs.Cycled.Detach(),
	}, nil
}

func lossReport(terms map[string]*tensor.Tensor) (map[string]float64, error) {
	report := make(map[string]float64, len(terms))
	for name, t := range terms {
		v, err := t.Item()
		if err != nil {
			return nil, fmt.Errorf("loss %s is not scalar: %v", name, err)
		}
		report[name] = v
	}
	return report, nil
}
