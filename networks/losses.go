package networks

import (
	"fmt"

	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/tensor"
)

// NonSatGANLoss is the non-saturating adversarial criterion. Only the logit
// at each sample's target class participates; the other class outputs carry
// no gradient for that sample.
type NonSatGANLoss struct{}

// Real penalizes low scores on images that should be judged real:
// mean(softplus(-logit[class])).
func (NonSatGANLoss) Real(logits, classes *tensor.Tensor) (*tensor.Tensor, error) {
	sel, err := selectClassLogits(logits, classes)
	if err != nil {
		return nil, err
	}
	return tensor.MeanAutograd(tensor.SoftplusAutograd(tensor.ScaleAutograd(sel, -1))), nil
}

// Fake penalizes high scores on images that should be judged fake:
// mean(softplus(logit[class])).
func (NonSatGANLoss) Fake(logits, classes *tensor.Tensor) (*tensor.Tensor, error) {
	sel, err := selectClassLogits(logits, classes)
	if err != nil {
		return nil, err
	}
	return tensor.MeanAutograd(tensor.SoftplusAutograd(sel)), nil
}

func selectClassLogits(logits, classes *tensor.Tensor) (*tensor.Tensor, error) {
	if len(logits.Shape) != 2 {
		return nil, fmt.Errorf("expected 2D logits, got shape %v", logits.Shape)
	}
	if classes.DType != tensor.Int32 {
		return nil, fmt.Errorf("class labels must be Int32, got %v", classes.DType)
	}
	if classes.NumElems != logits.Shape[0] {
		return nil, fmt.Errorf("batch mismatch: %d logits rows vs %d labels", logits.Shape[0], classes.NumElems)
	}
	return tensor.GatherClassAutograd(logits, classes), nil
}

// R1Reg is the zero-centered gradient penalty on real samples. It
// differentiates the summed real logits with respect to the real input and
// penalizes the squared gradient norm, so the discriminator graph must
// support a second backward pass.
type R1Reg struct {
	Gamma float64
}

// Penalty computes gamma/2 * mean_over_batch(||d sum(logits) / d input||^2).
// realInput must require gradients and be part of the logits graph.
func (r R1Reg) Penalty(logits, realInput *tensor.Tensor) (*tensor.Tensor, error) {
	if !realInput.RequiresGrad() {
		return nil, fmt.Errorf("R1 penalty requires gradients enabled on the real input")
	}
	n := realInput.Shape[0]
	if n <= 0 {
		return nil, fmt.Errorf("empty real batch")
	}

	total := tensor.SumAutograd(logits)
	grads, err := tensor.Grad(total, []*tensor.Tensor{realInput})
	if err != nil {
		return nil, fmt.Errorf("R1 input gradient: %v", err)
	}
	g := grads[0]
	if g == nil {
		return nil, fmt.Errorf("real input is not reachable from the discriminator output")
	}

	perElem := realInput.NumElems / n
	sq := tensor.MulAutograd(g, g)
	flat := tensor.ReshapeAutograd(sq, []int{n, perElem})
	perSample := tensor.SumDimAutograd(flat, 1)
	return tensor.ScaleAutograd(tensor.MeanAutograd(perSample), r.Gamma/2), nil
}

// FeatureConsistency is the L1 criterion shared by the cycle,
// self-reconstruction, identity and age consistency terms.
type FeatureConsistency struct{}

func (FeatureConsistency) Loss(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	if !shapesMatch(a.Shape, b.Shape) {
		return nil, fmt.Errorf("shape mismatch: %v vs %v", a.Shape, b.Shape)
	}
	return tensor.MeanAutograd(tensor.AbsAutograd(tensor.SubAutograd(a, b))), nil
}

func shapesMatch(a, b []int) bool {
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
