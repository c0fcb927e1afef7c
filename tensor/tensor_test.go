package tensor

import (
	"math"
	"testing"
)

const tolerance = 1e-5

func closeEnough(a, b float64) bool {
	return math.Abs(a-b) < tolerance
}

func mustTensor(t *testing.T, shape []int, data []float32) *Tensor {
	t.Helper()
	tensor, err := NewTensor(shape, Float32, CPU, data)
	if err != nil {
		t.Fatalf("failed to create tensor: %v", err)
	}
	return tensor
}

func checkData(t *testing.T, got *Tensor, want []float32) {
	t.Helper()
	data, err := got.GetFloat32Data()
	if err != nil {
		t.Fatalf("failed to read data: %v", err)
	}
	if len(data) != len(want) {
		t.Fatalf("expected %d values, got %d", len(want), len(data))
	}
	for i := range want {
		if !closeEnough(float64(data[i]), float64(want[i])) {
			t.Errorf("value %d: expected %v, got %v", i, want[i], data[i])
		}
	}
}

func TestElementwiseOps(t *testing.T) {
	a := mustTensor(t, []int{2, 2}, []float32{1, 2, 3, 4})
	b := mustTensor(t, []int{2, 2}, []float32{5, 6, 7, 8})

	t.Run("Add", func(t *testing.T) {
		out, err := Add(a, b)
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		checkData(t, out, []float32{6, 8, 10, 12})
	})

	t.Run("Sub", func(t *testing.T) {
		out, err := Sub(b, a)
		if err != nil {
			t.Fatalf("Sub failed: %v", err)
		}
		checkData(t, out, []float32{4, 4, 4, 4})
	})

	t.Run("Mul", func(t *testing.T) {
		out, err := Mul(a, b)
		if err != nil {
			t.Fatalf("Mul failed: %v", err)
		}
		checkData(t, out, []float32{5, 12, 21, 32})
	})

	t.Run("Scale", func(t *testing.T) {
		out, err := Scale(a, 0.5)
		if err != nil {
			t.Fatalf("Scale failed: %v", err)
		}
		checkData(t, out, []float32{0.5, 1, 1.5, 2})
	})

	t.Run("BroadcastAdd", func(t *testing.T) {
		bias := mustTensor(t, []int{2}, []float32{10, 20})
		out, err := Add(a, bias)
		if err != nil {
			t.Fatalf("broadcast Add failed: %v", err)
		}
		checkData(t, out, []float32{11, 22, 13, 24})
	})
}

func TestActivations(t *testing.T) {
	t.Run("Softplus", func(t *testing.T) {
		x := mustTensor(t, []int{3}, []float32{0, 1, -1})
		out, err := Softplus(x)
		if err != nil {
			t.Fatalf("Softplus failed: %v", err)
		}
		ln2 := float32(math.Log(2))
		checkData(t, out, []float32{ln2, float32(math.Log(1 + math.E)), float32(math.Log(1 + 1/math.E))})
	})

	t.Run("SoftplusLargeInput", func(t *testing.T) {
		x := mustTensor(t, []int{1}, []float32{100})
		out, err := Softplus(x)
		if err != nil {
			t.Fatalf("Softplus failed: %v", err)
		}
		checkData(t, out, []float32{100})
	})

	t.Run("LeakyReLU", func(t *testing.T) {
		x := mustTensor(t, []int{4}, []float32{-2, -0.5, 0, 3})
		out, err := LeakyReLU(x, 0.2)
		if err != nil {
			t.Fatalf("LeakyReLU failed: %v", err)
		}
		checkData(t, out, []float32{-0.4, -0.1, 0, 3})
	})

	t.Run("Tanh", func(t *testing.T) {
		x := mustTensor(t, []int{2}, []float32{0, 1})
		out, err := Tanh(x)
		if err != nil {
			t.Fatalf("Tanh failed: %v", err)
		}
		checkData(t, out, []float32{0, float32(math.Tanh(1))})
	})
}

func TestMatMul(t *testing.T) {
	a := mustTensor(t, []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	b := mustTensor(t, []int{3, 2}, []float32{7, 8, 9, 10, 11, 12})

	out, err := MatMul(a, b)
	if err != nil {
		t.Fatalf("MatMul failed: %v", err)
	}
	if out.Shape[0] != 2 || out.Shape[1] != 2 {
		t.Fatalf("expected shape [2 2], got %v", out.Shape)
	}
	checkData(t, out, []float32{58, 64, 139, 154})
}

func TestConcatNarrow(t *testing.T) {
	a := mustTensor(t, []int{2, 2}, []float32{1, 2, 3, 4})
	b := mustTensor(t, []int{1, 2}, []float32{5, 6})

	cat, err := Concat(a, b)
	if err != nil {
		t.Fatalf("Concat failed: %v", err)
	}
	if cat.Shape[0] != 3 {
		t.Fatalf("expected 3 rows, got %v", cat.Shape)
	}
	checkData(t, cat, []float32{1, 2, 3, 4, 5, 6})

	mid, err := Narrow(cat, 1, 2)
	if err != nil {
		t.Fatalf("Narrow failed: %v", err)
	}
	checkData(t, mid, []float32{3, 4, 5, 6})
}

func TestGatherScatterClass(t *testing.T) {
	logits := mustTensor(t, []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	classes, err := NewTensor([]int{2}, Int32, CPU, []int32{2, 0})
	if err != nil {
		t.Fatalf("failed to create class tensor: %v", err)
	}

	sel, err := GatherClass(logits, classes)
	if err != nil {
		t.Fatalf("GatherClass failed: %v", err)
	}
	checkData(t, sel, []float32{3, 4})

	spread, err := ScatterClass(sel, classes, 3)
	if err != nil {
		t.Fatalf("ScatterClass failed: %v", err)
	}
	checkData(t, spread, []float32{0, 0, 3, 4, 0, 0})
}

func TestReductions(t *testing.T) {
	x := mustTensor(t, []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})

	t.Run("Sum", func(t *testing.T) {
		out, err := Sum(x)
		if err != nil {
			t.Fatalf("Sum failed: %v", err)
		}
		v, _ := out.Item()
		if !closeEnough(v, 21) {
			t.Errorf("expected 21, got %v", v)
		}
	})

	t.Run("SumDim", func(t *testing.T) {
		out, err := SumDim(x, 1)
		if err != nil {
			t.Fatalf("SumDim failed: %v", err)
		}
		checkData(t, out, []float32{6, 15})
	})

	t.Run("Mean", func(t *testing.T) {
		out, err := Mean(x)
		if err != nil {
			t.Fatalf("Mean failed: %v", err)
		}
		v, _ := out.Item()
		if !closeEnough(v, 3.5) {
			t.Errorf("expected 3.5, got %v", v)
		}
	})
}

func TestBackward(t *testing.T) {
	t.Run("LinearChain", func(t *testing.T) {
		// loss = mean(3x + 2) over 4 elements; dloss/dx = 3/4 each.
		x := mustTensor(t, []int{4}, []float32{1, 2, 3, 4})
		x.SetRequiresGrad(true)
		two := mustTensor(t, []int{4}, []float32{2, 2, 2, 2})

		loss := MeanAutograd(AddAutograd(ScaleAutograd(x, 3), two))
		if err := loss.Backward(); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}
		if x.Grad() == nil {
			t.Fatal("expected gradient on x")
		}
		checkData(t, x.Grad(), []float32{0.75, 0.75, 0.75, 0.75})
	})

	t.Run("MatMulGrad", func(t *testing.T) {
		// loss = sum(x · w); dloss/dw[i][j] = sum over batch of x[:,i].
		x := mustTensor(t, []int{2, 2}, []float32{1, 2, 3, 4})
		w := mustTensor(t, []int{2, 1}, []float32{1, 1})
		w.SetRequiresGrad(true)

		loss := SumAutograd(MatMulAutograd(x, w))
		if err := loss.Backward(); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}
		checkData(t, w.Grad(), []float32{4, 6})
	})

	t.Run("GradAccumulatesAcrossBranches", func(t *testing.T) {
		// loss = sum(x) + sum(2x); dloss/dx = 3.
		x := mustTensor(t, []int{2}, []float32{1, 2})
		x.SetRequiresGrad(true)

		loss := AddAutograd(SumAutograd(x), SumAutograd(ScaleAutograd(x, 2)))
		if err := loss.Backward(); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}
		checkData(t, x.Grad(), []float32{3, 3})
	})

	t.Run("NonScalarRejected", func(t *testing.T) {
		x := mustTensor(t, []int{2}, []float32{1, 2})
		x.SetRequiresGrad(true)
		y := ScaleAutograd(x, 2)
		if err := y.Backward(); err == nil {
			t.Error("expected error for non-scalar Backward")
		}
	})
}

func TestGradSecondOrder(t *testing.T) {
	// y = sum(x*x). Grad returns dy/dx = 2x as a graph tensor, so
	// differentiating sum(dy/dx) again must reach x with value 2.
	x := mustTensor(t, []int{3}, []float32{1, 2, 3})
	x.SetRequiresGrad(true)

	y := SumAutograd(MulAutograd(x, x))
	grads, err := Grad(y, []*Tensor{x})
	if err != nil {
		t.Fatalf("Grad failed: %v", err)
	}
	if grads[0] == nil {
		t.Fatal("expected a gradient for x")
	}
	checkData(t, grads[0], []float32{2, 4, 6})

	if x.Grad() != nil {
		t.Error("Grad must not touch leaf .grad fields")
	}

	second := SumAutograd(grads[0])
	if err := second.Backward(); err != nil {
		t.Fatalf("second backward failed: %v", err)
	}
	checkData(t, x.Grad(), []float32{2, 2, 2})
}

func TestDetach(t *testing.T) {
	x := mustTensor(t, []int{2}, []float32{1, 2})
	x.SetRequiresGrad(true)
	y := ScaleAutograd(x, 2)

	d := y.Detach()
	if d.RequiresGrad() {
		t.Error("detached tensor must not require grad")
	}
	if !d.IsLeaf() {
		t.Error("detached tensor must be a leaf")
	}
	checkData(t, d, []float32{2, 4})
}
