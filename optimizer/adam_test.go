package optimizer

import (
	"math"
	"testing"

	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/tensor"
)

func paramWithGrad(t *testing.T, value, grad float32) *tensor.Tensor {
	t.Helper()
	p, err := tensor.NewTensor([]int{1}, tensor.Float32, tensor.CPU, []float32{value})
	if err != nil {
		t.Fatalf("failed to create parameter: %v", err)
	}
	p.SetRequiresGrad(true)

	loss := tensor.MeanAutograd(tensor.ScaleAutograd(p, float64(grad)))
	if err := loss.Backward(); err != nil {
		t.Fatalf("failed to seed gradient: %v", err)
	}
	return p
}

func TestAdamStep(t *testing.T) {
	t.Run("FirstStepMovesByLR", func(t *testing.T) {
		// With bias correction, the first Adam step moves by ~lr against
		// the gradient sign regardless of gradient magnitude.
		p := paramWithGrad(t, 1.0, 4.0)
		adam, err := NewAdam([]ParamGroup{{Params: []*tensor.Tensor{p}, LRMult: 1.0}}, 0.1, 0.9, 0.999, 1e-8)
		if err != nil {
			t.Fatalf("NewAdam failed: %v", err)
		}

		if err := adam.Step(); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
		data, _ := p.GetFloat32Data()
		if math.Abs(float64(data[0])-0.9) > 1e-4 {
			t.Errorf("expected ~0.9 after first step, got %v", data[0])
		}
	})

	t.Run("GroupMultiplierScalesStep", func(t *testing.T) {
		fast := paramWithGrad(t, 1.0, 2.0)
		slow := paramWithGrad(t, 1.0, 2.0)
		adam, err := NewAdam([]ParamGroup{
			{Params: []*tensor.Tensor{fast}, LRMult: 1.0},
			{Params: []*tensor.Tensor{slow}, LRMult: 0.01},
		}, 0.1, 0.9, 0.999, 1e-8)
		if err != nil {
			t.Fatalf("NewAdam failed: %v", err)
		}

		if err := adam.Step(); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
		fastData, _ := fast.GetFloat32Data()
		slowData, _ := slow.GetFloat32Data()

		fastDelta := 1.0 - float64(fastData[0])
		slowDelta := 1.0 - float64(slowData[0])
		if math.Abs(slowDelta/fastDelta-0.01) > 1e-3 {
			t.Errorf("slow group should move at 1%% of the base rate, moved %.2f%%", slowDelta/fastDelta*100)
		}
	})

	t.Run("NonFiniteGradientAborts", func(t *testing.T) {
		p := paramWithGrad(t, 1.0, 1.0)
		gradData, _ := p.Grad().GetFloat32Data()
		gradData[0] = float32(math.NaN())

		adam, err := NewAdam([]ParamGroup{{Params: []*tensor.Tensor{p}, LRMult: 1.0}}, 0.1, 0.9, 0.999, 1e-8)
		if err != nil {
			t.Fatalf("NewAdam failed: %v", err)
		}
		if err := adam.Step(); err == nil {
			t.Fatal("expected error for NaN gradient")
		}
		data, _ := p.GetFloat32Data()
		if data[0] != 1.0 {
			t.Errorf("failed step must leave parameters untouched, got %v", data[0])
		}
	})

	t.Run("SkipsFrozenAndGradless", func(t *testing.T) {
		frozen, err := tensor.NewTensor([]int{1}, tensor.Float32, tensor.CPU, []float32{3})
		if err != nil {
			t.Fatalf("failed to create parameter: %v", err)
		}
		adam, err := NewAdam([]ParamGroup{{Params: []*tensor.Tensor{frozen}, LRMult: 1.0}}, 0.1, 0.9, 0.999, 1e-8)
		if err != nil {
			t.Fatalf("NewAdam failed: %v", err)
		}
		if err := adam.Step(); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
		data, _ := frozen.GetFloat32Data()
		if data[0] != 3 {
			t.Errorf("parameter without gradient must not move, got %v", data[0])
		}
	})

	t.Run("InvalidMultiplierRejected", func(t *testing.T) {
		p := paramWithGrad(t, 1, 1)
		if _, err := NewAdam([]ParamGroup{{Params: []*tensor.Tensor{p}, LRMult: 0}}, 0.1, 0.9, 0.999, 1e-8); err == nil {
			t.Error("expected error for zero lr multiplier")
		}
	})
}

func TestAdamLRAccessors(t *testing.T) {
	p := paramWithGrad(t, 1, 1)
	adam, err := NewAdam([]ParamGroup{{Params: []*tensor.Tensor{p}, LRMult: 1.0}}, 0.2, 0.9, 0.999, 1e-8)
	if err != nil {
		t.Fatalf("NewAdam failed: %v", err)
	}
	if adam.GetLR() != 0.2 {
		t.Errorf("expected 0.2, got %v", adam.GetLR())
	}
	adam.SetLR(0.1)
	if adam.GetLR() != 0.1 {
		t.Errorf("expected 0.1 after SetLR, got %v", adam.GetLR())
	}
}

func TestZeroGrad(t *testing.T) {
	p := paramWithGrad(t, 1, 1)
	if p.Grad() == nil {
		t.Fatal("expected a gradient before reset")
	}
	adam, err := NewAdam([]ParamGroup{{Params: []*tensor.Tensor{p}, LRMult: 1.0}}, 0.1, 0.9, 0.999, 1e-8)
	if err != nil {
		t.Fatalf("NewAdam failed: %v", err)
	}
	adam.ZeroGrad()
	if p.Grad() != nil {
		t.Error("expected gradient cleared after ZeroGrad")
	}
}
