package lats

import (
	"math"
	"testing"

	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/config"
	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/networks"
	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/tensor"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Mode = "train"
	cfg.BatchSize = 2
	cfg.ImageSize = 4
	cfg.Channels = 1
	cfg.FeatDim = 8
	cfg.DiscHidden = 8
	cfg.NumClasses = 3
	cfg.DimPerStyle = 2
	cfg.Seed = 5
	return cfg
}

func testModel(t *testing.T, cfg *config.Config) *AgingModel {
	t.Helper()
	cfg.CheckpointDir = t.TempDir()
	model, err := NewAgingModel(cfg)
	if err != nil {
		t.Fatalf("model construction failed: %v", err)
	}
	return model
}

func snapshot(n networks.Network) [][]float32 {
	params := n.Parameters()
	out := make([][]float32, len(params))
	for i, p := range params {
		data, _ := p.GetFloat32Data()
		out[i] = append([]float32{}, data...)
	}
	return out
}

func changed(before [][]float32, n networks.Network) bool {
	for i, p := range n.Parameters() {
		data, _ := p.GetFloat32Data()
		for j := range data {
			if data[j] != before[i][j] {
				return true
			}
		}
	}
	return false
}

func testContext(t *testing.T, m *AgingModel) *StepContext {
	t.Helper()
	ctx, err := m.Encoder.NewStepContext(
		mustImageBatch(t, 2), mustImageBatch(t, 2),
		[]int32{0, 1}, []int32{2, 2})
	if err != nil {
		t.Fatalf("context construction failed: %v", err)
	}
	return ctx
}

func assertFinite(t *testing.T, losses map[string]float64) {
	t.Helper()
	for name, v := range losses {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("loss %s is not finite: %v", name, v)
		}
	}
}

func TestDiscriminatorStepUpdatesOnlyDiscriminator(t *testing.T) {
	m := testModel(t, testConfig())
	ctx := testContext(t, m)

	genBefore := snapshot(m.Gen)
	discBefore := snapshot(m.Disc)

	losses, err := m.DStep.Update(ctx)
	if err != nil {
		t.Fatalf("discriminator step failed: %v", err)
	}
	assertFinite(t, losses)

	for _, name := range []string{"D_real", "D_fake", "Grad_penalty"} {
		if _, ok := losses[name]; !ok {
			t.Errorf("missing loss %s in report", name)
		}
	}
	if losses["Grad_penalty"] < 0 {
		t.Errorf("gradient penalty must be non-negative, got %v", losses["Grad_penalty"])
	}

	if changed(genBefore, m.Gen) {
		t.Error("discriminator step must not update generator parameters")
	}
	if !changed(discBefore, m.Disc) {
		t.Error("discriminator step must update discriminator parameters")
	}
}

func TestGeneratorStepUpdatesOnlyGenerator(t *testing.T) {
	m := testModel(t, testConfig())
	ctx := testContext(t, m)

	genBefore := snapshot(m.Gen)
	discBefore := snapshot(m.Disc)
	shadowBefore := snapshot(m.Shadow)

	losses, visuals, err := m.GStep.Update(ctx, false)
	if err != nil {
		t.Fatalf("generator step failed: %v", err)
	}
	assertFinite(t, losses)
	if visuals != nil {
		t.Error("no visuals requested")
	}

	for _, name := range []string{"G_Adv", "G_Rec", "G_Cycle", "Identity_reconst", "Age_reconst"} {
		if _, ok := losses[name]; !ok {
			t.Errorf("missing loss %s in report", name)
		}
	}

	if changed(discBefore, m.Disc) {
		t.Error("generator step must not update discriminator parameters")
	}
	if !changed(genBefore, m.Gen) {
		t.Error("generator step must update generator parameters")
	}
	if !changed(shadowBefore, m.Shadow) {
		t.Error("generator step must fold the update into the shadow model")
	}
}

func TestShadowTracksLiveExactlyAtDecayZero(t *testing.T) {
	cfg := testConfig()
	cfg.EMADecay = 0
	m := testModel(t, cfg)
	ctx := testContext(t, m)

	if _, _, err := m.GStep.Update(ctx, false); err != nil {
		t.Fatalf("generator step failed: %v", err)
	}

	liveParams := m.Gen.NamedParameters()
	for i, p := range m.Shadow.NamedParameters() {
		equal, err := p.Value.Equal(liveParams[i].Value)
		if err != nil {
			t.Fatalf("comparison failed: %v", err)
		}
		if !equal {
			t.Errorf("decay=0 shadow must equal live after step, parameter %q differs", p.Name)
		}
	}
}

func TestDisabledLossTermsReportZero(t *testing.T) {
	cfg := testConfig()
	cfg.LambdaRec = 0
	cfg.LambdaID = -1
	m := testModel(t, cfg)
	ctx := testContext(t, m)

	losses, _, err := m.GStep.Update(ctx, false)
	if err != nil {
		t.Fatalf("generator step failed: %v", err)
	}
	assertFinite(t, losses)

	if losses["G_Rec"] != 0 {
		t.Errorf("disabled reconstruction term must be exactly zero, got %v", losses["G_Rec"])
	}
	if losses["Identity_reconst"] != 0 {
		t.Errorf("disabled identity term must be exactly zero, got %v", losses["Identity_reconst"])
	}
	if losses["G_Cycle"] == 0 {
		t.Error("enabled cycle term should be non-zero on random networks")
	}
}

func TestVisualizationBranchLeavesStateUntouched(t *testing.T) {
	m := testModel(t, testConfig())
	ctx := testContext(t, m)

	// First step establishes post-step state with visuals requested.
	_, visuals, err := m.GStep.Update(ctx, true)
	if err != nil {
		t.Fatalf("generator step failed: %v", err)
	}
	if visuals == nil {
		t.Fatal("expected visuals")
	}
	for name, img := range map[string]interface{ RequiresGrad() bool }{
		"reals":     visuals.Reals,
		"reconst":   visuals.Reconst,
		"generated": visuals.Generated,
		"cycled":    visuals.Cycled,
	} {
		if img.RequiresGrad() {
			t.Errorf("visual %s must be detached from the graph", name)
		}
	}

	// The shadow pass must not leave gradients on shadow parameters.
	for _, p := range m.Shadow.Parameters() {
		if p.Grad() != nil {
			t.Error("visualization pass must not accumulate shadow gradients")
			break
		}
	}
}

func encoderGrad(t *testing.T, gen networks.Generator) *tensor.Tensor {
	t.Helper()
	for _, p := range gen.NamedParameters() {
		if p.Name == "id_enc.fc.weight" {
			if p.Value.Grad() == nil {
				t.Fatal("identity encoder carries no gradient")
			}
			return p.Value.Grad()
		}
	}
	t.Fatal("identity encoder weight not found in registry")
	return nil
}

func TestIdentityTermPullsOriginalFeaturePath(t *testing.T) {
	cfg := testConfig()
	cfg.CondNoise = false
	cfg.LambdaRec = 0
	cfg.LambdaCyc = 0
	cfg.LambdaAge = 0

	live := testModel(t, cfg)
	mirror := testModel(t, cfg)
	ctx := testContext(t, live)

	if _, _, err := live.GStep.Update(ctx, false); err != nil {
		t.Fatalf("generator step failed: %v", err)
	}

	// Recompute the same loss with the original identity features cut out
	// of the graph. The identity term is symmetric, so the encoder gradient
	// of the real step must differ from this one-sided variant.
	outs, err := mirror.Gen.Forward(ctx.Reals, ctx.RecConds, ctx.GenConds, ctx.OrigConds, false)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	logits, err := mirror.Disc.Forward(outs.Generated)
	if err != nil {
		t.Fatalf("discriminator forward failed: %v", err)
	}
	adv, err := (networks.NonSatGANLoss{}).Real(logits, ctx.SwappedClasses)
	if err != nil {
		t.Fatalf("adversarial loss failed: %v", err)
	}
	id, err := (networks.FeatureConsistency{}).Loss(outs.FakeID, outs.OrigID.Detach())
	if err != nil {
		t.Fatalf("identity loss failed: %v", err)
	}
	total := tensor.AddAutograd(adv, tensor.ScaleAutograd(id, cfg.LambdaID))
	if err := total.Backward(); err != nil {
		t.Fatalf("backward failed: %v", err)
	}

	equal, err := encoderGrad(t, live.Gen).Equal(encoderGrad(t, mirror.Gen))
	if err != nil {
		t.Fatalf("gradient comparison failed: %v", err)
	}
	if equal {
		t.Error("identity term must carry gradient through the original features as well")
	}
}

func TestConditionNoiseFollowsConfigInAllModes(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "test"
	m := testModel(t, cfg)

	cond, err := m.Encoder.Encode([]int32{0})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	data, _ := cond.GetFloat32Data()
	noisy := false
	for _, v := range data[2:] {
		if v != 0 {
			noisy = true
			break
		}
	}
	if !noisy {
		t.Error("enabled conditioning noise must apply outside training mode too")
	}

	quiet := testConfig()
	quiet.Mode = "test"
	quiet.CondNoise = false
	m2 := testModel(t, quiet)

	cond2, err := m2.Encoder.Encode([]int32{1})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	data2, _ := cond2.GetFloat32Data()
	want := []float32{0, 0, 1, 1, 0, 0}
	for i := range want {
		if data2[i] != want[i] {
			t.Fatalf("disabled noise must yield the exact block indicator, got %v", data2)
		}
	}
}

func TestTrainStepRunsBothUpdates(t *testing.T) {
	m := testModel(t, testConfig())

	losses, _, err := m.TrainStep(mustImageBatch(t, 2), mustImageBatch(t, 2), []int32{0, 1}, []int32{2, 2}, false)
	if err != nil {
		t.Fatalf("TrainStep failed: %v", err)
	}
	assertFinite(t, losses)

	if len(losses) != 8 {
		t.Errorf("expected 8 reported losses, got %d: %v", len(losses), losses)
	}
}

func TestLearningRateDecay(t *testing.T) {
	m := testModel(t, testConfig())

	before := m.OptG.GetLR()
	lr := m.UpdateLearningRate()
	if !closeEnoughF(lr, before*0.5) {
		t.Errorf("expected lr %v, got %v", before*0.5, lr)
	}
	if !closeEnoughF(m.OptD.GetLR(), lr) {
		t.Error("discriminator optimizer must decay in lockstep")
	}
}

func closeEnoughF(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
