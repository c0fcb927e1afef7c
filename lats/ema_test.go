package lats

import (
	"testing"

	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/networks"
	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/tensor"
)

func namedParam(t *testing.T, name string, data []float32) networks.NamedParam {
	t.Helper()
	v, err := tensor.NewTensor([]int{len(data)}, tensor.Float32, tensor.CPU, data)
	if err != nil {
		t.Fatalf("failed to create parameter: %v", err)
	}
	return networks.NamedParam{Name: name, Value: v}
}

func TestAccumulate(t *testing.T) {
	t.Run("DecayZeroCopiesLive", func(t *testing.T) {
		shadow := []networks.NamedParam{namedParam(t, "fc.weight", []float32{9, 9, 9})}
		live := []networks.NamedParam{namedParam(t, "fc.weight", []float32{1, 2, 3})}

		if err := Accumulate(shadow, live, 0); err != nil {
			t.Fatalf("Accumulate failed: %v", err)
		}
		equal, err := shadow[0].Value.Equal(live[0].Value)
		if err != nil {
			t.Fatalf("comparison failed: %v", err)
		}
		if !equal {
			t.Error("decay=0 must force shadow == live exactly")
		}
	})

	t.Run("DecayOneKeepsShadow", func(t *testing.T) {
		shadow := []networks.NamedParam{namedParam(t, "fc.weight", []float32{9, 8, 7})}
		live := []networks.NamedParam{namedParam(t, "fc.weight", []float32{1, 2, 3})}

		if err := Accumulate(shadow, live, 1); err != nil {
			t.Fatalf("Accumulate failed: %v", err)
		}
		data, _ := shadow[0].Value.GetFloat32Data()
		if data[0] != 9 || data[1] != 8 || data[2] != 7 {
			t.Errorf("decay=1 must leave shadow untouched, got %v", data)
		}
	})

	t.Run("BlendsElementwise", func(t *testing.T) {
		shadow := []networks.NamedParam{namedParam(t, "fc.weight", []float32{10})}
		live := []networks.NamedParam{namedParam(t, "fc.weight", []float32{20})}

		if err := Accumulate(shadow, live, 0.9); err != nil {
			t.Fatalf("Accumulate failed: %v", err)
		}
		data, _ := shadow[0].Value.GetFloat32Data()
		if data[0] < 10.99 || data[0] > 11.01 {
			t.Errorf("expected 11, got %v", data[0])
		}
	})

	t.Run("ReplicaPrefixMatches", func(t *testing.T) {
		shadow := []networks.NamedParam{namedParam(t, "fc.weight", []float32{0})}
		live := []networks.NamedParam{namedParam(t, "module.fc.weight", []float32{5})}

		if err := Accumulate(shadow, live, 0); err != nil {
			t.Fatalf("wrapped live model must still match: %v", err)
		}
		data, _ := shadow[0].Value.GetFloat32Data()
		if data[0] != 5 {
			t.Errorf("expected 5, got %v", data[0])
		}
	})

	t.Run("NameMismatchIsFatal", func(t *testing.T) {
		shadow := []networks.NamedParam{
			namedParam(t, "fc.weight", []float32{1}),
			namedParam(t, "fc.bias", []float32{2}),
		}
		live := []networks.NamedParam{
			namedParam(t, "fc.weight", []float32{3}),
			namedParam(t, "other.bias", []float32{4}),
		}

		err := Accumulate(shadow, live, 0)
		if err == nil {
			t.Fatal("expected error for mismatched parameter names")
		}
		// Nothing may have been written before the mismatch surfaced.
		data, _ := shadow[0].Value.GetFloat32Data()
		if data[0] != 1 {
			t.Errorf("failed accumulation must not partially write, got %v", data[0])
		}
	})

	t.Run("SizeMismatch", func(t *testing.T) {
		shadow := []networks.NamedParam{namedParam(t, "fc.weight", []float32{1})}
		if err := Accumulate(shadow, nil, 0); err == nil {
			t.Error("expected error for registry size mismatch")
		}
	})

	t.Run("InvalidDecay", func(t *testing.T) {
		shadow := []networks.NamedParam{namedParam(t, "fc.weight", []float32{1})}
		live := []networks.NamedParam{namedParam(t, "fc.weight", []float32{2})}
		if err := Accumulate(shadow, live, 1.5); err == nil {
			t.Error("expected error for decay outside [0,1]")
		}
	})
}

func TestInitShadow(t *testing.T) {
	networks.SetRandomSeed(11)
	cfg := networks.StyleGeneratorConfig{
		Channels: 1, Height: 4, Width: 4, FeatDim: 8, NumClasses: 3, DimPerStyle: 2, Device: tensor.CPU,
	}
	live, err := networks.NewStyleGenerator(cfg)
	if err != nil {
		t.Fatalf("generator construction failed: %v", err)
	}
	shadow, err := networks.NewStyleGenerator(cfg)
	if err != nil {
		t.Fatalf("shadow construction failed: %v", err)
	}

	if err := InitShadow(shadow, live); err != nil {
		t.Fatalf("InitShadow failed: %v", err)
	}

	liveParams := live.NamedParameters()
	for i, p := range shadow.NamedParameters() {
		equal, err := p.Value.Equal(liveParams[i].Value)
		if err != nil {
			t.Fatalf("comparison failed: %v", err)
		}
		if !equal {
			t.Errorf("parameter %q differs after init", p.Name)
		}
		if p.Value.RequiresGrad() {
			t.Errorf("shadow parameter %q must be frozen", p.Name)
		}
	}
}
