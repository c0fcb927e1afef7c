package lats

import (
	"fmt"

	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/networks"
	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/optimizer"
	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/tensor"
)

// DiscriminatorStep runs one optimization iteration for the discriminator.
type DiscriminatorStep struct {
	gen  networks.Generator
	disc networks.Discriminator
	opt  optimizer.Optimizer

	adv networks.NonSatGANLoss
	r1  networks.R1Reg
}

func NewDiscriminatorStep(gen networks.Generator, disc networks.Discriminator, opt optimizer.Optimizer, r1Gamma float64) *DiscriminatorStep {
	return &DiscriminatorStep{
		gen:  gen,
		disc: disc,
		opt:  opt,
		r1:   networks.R1Reg{Gamma: r1Gamma},
	}
}

// Update generates fakes in a discriminator pass, scores fakes and reals,
// adds the gradient penalty on reals, and steps the discriminator optimizer.
// Fakes are detached so the step never reaches generator parameters.
func (s *DiscriminatorStep) Update(ctx *StepContext) (map[string]float64, error) {
	outs, err := s.gen.Forward(ctx.Reals, nil, ctx.GenConds, nil, true)
	if err != nil {
		return nil, fmt.Errorf("generator pass failed: %v", err)
	}
	fakes := outs.Generated.Detach()

	fakeLogits, err := s.disc.Forward(fakes)
	if err != nil {
		return nil, fmt.Errorf("discriminator forward on fakes failed: %v", err)
	}
	// Fakes carry the swapped target labels they were generated toward.
	fakeLoss, err := s.adv.Fake(fakeLogits, ctx.SwappedClasses)
	if err != nil {
		return nil, err
	}

	// The penalty term differentiates the real logits with respect to the
	// real input, so the reals enter as a gradient-tracked leaf.
	reals := ctx.Reals.Detach()
	reals.SetRequiresGrad(true)

	realLogits, err := s.disc.Forward(reals)
	if err != nil {
		return nil, fmt.Errorf("discriminator forward on reals failed: %v", err)
	}
	realLoss, err := s.adv.Real(realLogits, ctx.TrueClasses)
	if err != nil {
		return nil, err
	}
	penalty, err := s.r1.Penalty(realLogits, reals)
	if err != nil {
		return nil, err
	}

	total := tensor.AddAutograd(tensor.AddAutograd(fakeLoss, realLoss), penalty)

	s.opt.ZeroGrad()
	if err := total.Backward(); err != nil {
		return nil, fmt.Errorf("discriminator backward failed: %v", err)
	}
	if err := s.opt.Step(); err != nil {
		return nil, fmt.Errorf("discriminator optimizer step failed: %v", err)
	}

	return lossReport(map[string]*tensor.Tensor{
		"D_real":       realLoss,
		"D_fake":       fakeLoss,
		"Grad_penalty": penalty,
	})
}
