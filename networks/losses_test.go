package networks

import (
	"math"
	"testing"

	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/tensor"
)

const tolerance = 1e-5

func closeEnough(a, b float64) bool {
	return math.Abs(a-b) < tolerance
}

func mustF32(t *testing.T, shape []int, data []float32) *tensor.Tensor {
	t.Helper()
	out, err := tensor.NewTensor(shape, tensor.Float32, tensor.CPU, data)
	if err != nil {
		t.Fatalf("failed to create tensor: %v", err)
	}
	return out
}

func mustI32(t *testing.T, data []int32) *tensor.Tensor {
	t.Helper()
	out, err := tensor.NewTensor([]int{len(data)}, tensor.Int32, tensor.CPU, data)
	if err != nil {
		t.Fatalf("failed to create class tensor: %v", err)
	}
	return out
}

func softplus(x float64) float64 {
	return math.Log(1 + math.Exp(x))
}

func TestNonSatGANLoss(t *testing.T) {
	logits := mustF32(t, []int{2, 3}, []float32{2, -1, 0.5, -0.5, 1, 3})
	classes := mustI32(t, []int32{0, 2})
	var crit NonSatGANLoss

	t.Run("Real", func(t *testing.T) {
		loss, err := crit.Real(logits, classes)
		if err != nil {
			t.Fatalf("Real failed: %v", err)
		}
		got, _ := loss.Item()
		want := (softplus(-2) + softplus(-3)) / 2
		if !closeEnough(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("Fake", func(t *testing.T) {
		loss, err := crit.Fake(logits, classes)
		if err != nil {
			t.Fatalf("Fake failed: %v", err)
		}
		got, _ := loss.Item()
		want := (softplus(2) + softplus(3)) / 2
		if !closeEnough(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("OnlyTargetLogitCarriesGradient", func(t *testing.T) {
		tracked := mustF32(t, []int{1, 3}, []float32{1, 2, 3})
		tracked.SetRequiresGrad(true)
		loss, err := crit.Fake(tracked, mustI32(t, []int32{1}))
		if err != nil {
			t.Fatalf("Fake failed: %v", err)
		}
		if err := loss.Backward(); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}
		grad, err := tracked.Grad().GetFloat32Data()
		if err != nil {
			t.Fatalf("gradient read failed: %v", err)
		}
		if grad[0] != 0 || grad[2] != 0 {
			t.Errorf("off-target logits must have zero gradient, got %v", grad)
		}
		if grad[1] == 0 {
			t.Error("target logit must receive gradient")
		}
	})

	t.Run("BatchMismatch", func(t *testing.T) {
		if _, err := crit.Real(logits, mustI32(t, []int32{0})); err == nil {
			t.Error("expected error for mismatched batch sizes")
		}
	})
}

func TestR1Penalty(t *testing.T) {
	t.Run("ExactValue", func(t *testing.T) {
		// logits = x·w with w known; d sum(logits)/dx = w per row, so the
		// penalty is gamma/2 · sum(w²) for a single-sample batch.
		x := mustF32(t, []int{1, 3}, []float32{0.5, -1, 2})
		x.SetRequiresGrad(true)
		w := mustF32(t, []int{3, 1}, []float32{1, 2, 3})

		logits := tensor.MatMulAutograd(x, w)
		penalty, err := R1Reg{Gamma: 10}.Penalty(logits, x)
		if err != nil {
			t.Fatalf("Penalty failed: %v", err)
		}
		got, _ := penalty.Item()
		want := 10.0 / 2 * (1 + 4 + 9)
		if !closeEnough(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("NonNegative", func(t *testing.T) {
		disc, err := NewClasswiseDiscriminator(ClasswiseDiscriminatorConfig{
			Channels: 1, Height: 4, Width: 4, HiddenDim: 8, NumClasses: 3, Device: tensor.CPU,
		})
		if err != nil {
			t.Fatalf("discriminator construction failed: %v", err)
		}

		data := make([]float32, 2*16)
		for i := range data {
			data[i] = float32(i%7)/3.5 - 1
		}
		reals := mustF32(t, []int{2, 1, 4, 4}, data)
		reals.SetRequiresGrad(true)

		logits, err := disc.Forward(reals)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		penalty, err := R1Reg{Gamma: 10}.Penalty(logits, reals)
		if err != nil {
			t.Fatalf("Penalty failed: %v", err)
		}
		got, _ := penalty.Item()
		if got < 0 {
			t.Errorf("penalty must be non-negative, got %v", got)
		}
	})

	t.Run("UntrackedInputRejected", func(t *testing.T) {
		x := mustF32(t, []int{1, 2}, []float32{1, 2})
		logits := tensor.ScaleAutograd(x, 2)
		if _, err := (R1Reg{Gamma: 10}).Penalty(logits, x); err == nil {
			t.Error("expected error for input without gradient tracking")
		}
	})
}

func TestFeatureConsistency(t *testing.T) {
	a := mustF32(t, []int{2, 2}, []float32{1, 2, 3, 4})
	b := mustF32(t, []int{2, 2}, []float32{2, 2, 1, 8})

	loss, err := FeatureConsistency{}.Loss(a, b)
	if err != nil {
		t.Fatalf("Loss failed: %v", err)
	}
	got, _ := loss.Item()
	if !closeEnough(got, (1+0+2+4)/4.0) {
		t.Errorf("expected 1.75, got %v", got)
	}

	if _, err := (FeatureConsistency{}).Loss(a, mustF32(t, []int{2}, []float32{1, 2})); err == nil {
		t.Error("expected error for shape mismatch")
	}
}
