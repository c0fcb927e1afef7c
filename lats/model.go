package lats

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/checkpoints"
	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/config"
	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/networks"
	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/optimizer"
	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/tensor"
)

// Checkpoint tags. The shadow generator persists under its own tag so runs
// can resume the moving average exactly.
const (
	TagGenerator     = "G"
	TagDiscriminator = "D"
	TagShadow        = "g_running"
)

// slowLRPrefix marks generator parameters that train at a hundredth of the
// base rate.
const slowLRPrefix = "decoder.mlp"

const slowLRMult = 0.01

// AgingModel owns the networks, their optimizers and the mode-dependent
// step/sweep machinery for one run.
type AgingModel struct {
	Mode    Mode
	Gen     networks.Generator
	Shadow  networks.Generator
	Disc    networks.Discriminator
	Encoder *ConditionEncoder

	OptG *optimizer.Adam
	OptD *optimizer.Adam

	GStep *GeneratorStep
	DStep *DiscriminatorStep

	store      *checkpoints.Store
	useEMA     bool
	decayGamma float64
}

// NewAgingModel wires the reference networks, optimizers and steps from the
// run configuration. The compute target is resolved here once and injected
// into everything downstream.
func NewAgingModel(cfg *config.Config) (*AgingModel, error) {
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}

	device := tensor.CPU

	seed := cfg.Seed
	if seed < 0 {
		seed = time.Now().UnixNano()
	}
	networks.SetRandomSeed(seed)
	rng := rand.New(rand.NewSource(seed))

	genCfg := networks.StyleGeneratorConfig{
		Channels:    cfg.Channels,
		Height:      cfg.ImageSize,
		Width:       cfg.ImageSize,
		FeatDim:     cfg.FeatDim,
		NumClasses:  cfg.NumClasses,
		DimPerStyle: cfg.DimPerStyle,
		Device:      device,
	}
	gen, err := networks.NewStyleGenerator(genCfg)
	if err != nil {
		return nil, fmt.Errorf("generator construction failed: %v", err)
	}

	var shadow networks.Generator
	if cfg.UseEMA {
		sh, err := networks.NewStyleGenerator(genCfg)
		if err != nil {
			return nil, fmt.Errorf("shadow generator construction failed: %v", err)
		}
		if err := InitShadow(sh, gen); err != nil {
			return nil, err
		}
		shadow = sh
	}

	disc, err := networks.NewClasswiseDiscriminator(networks.ClasswiseDiscriminatorConfig{
		Channels:   cfg.Channels,
		Height:     cfg.ImageSize,
		Width:      cfg.ImageSize,
		HiddenDim:  cfg.DiscHidden,
		NumClasses: cfg.NumClasses,
		Device:     device,
	})
	if err != nil {
		return nil, fmt.Errorf("discriminator construction failed: %v", err)
	}

	encoder, err := NewConditionEncoder(cfg.NumClasses, cfg.DimPerStyle, cfg.CondNoise, rng, device)
	if err != nil {
		return nil, err
	}

	optG, err := optimizer.NewAdam(genParamGroups(gen), cfg.LR, cfg.Beta1, cfg.Beta2, 1e-8)
	if err != nil {
		return nil, err
	}
	optD, err := optimizer.NewAdam([]optimizer.ParamGroup{{Params: disc.Parameters(), LRMult: 1.0}}, cfg.LR, cfg.Beta1, cfg.Beta2, 1e-8)
	if err != nil {
		return nil, err
	}

	weights := LossWeights{
		Rec: cfg.LambdaRec,
		Cyc: cfg.LambdaCyc,
		ID:  cfg.LambdaID,
		Age: cfg.LambdaAge,
	}

	m := &AgingModel{
		Mode:       mode,
		Gen:        gen,
		Shadow:     shadow,
		Disc:       disc,
		Encoder:    encoder,
		OptG:       optG,
		OptD:       optD,
		store:      checkpoints.NewStore(cfg.CheckpointDir),
		useEMA:     cfg.UseEMA,
		decayGamma: cfg.DecayGamma,
	}
	m.GStep = NewGeneratorStep(gen, shadow, disc, optG, weights, cfg.EMADecay, device)
	m.DStep = NewDiscriminatorStep(gen, disc, optD, cfg.R1Gamma)
	return m, nil
}

// genParamGroups splits the generator registry into the base-rate group and
// the reduced-rate style MLP group.
func genParamGroups(gen networks.Generator) []optimizer.ParamGroup {
	var base, slow []*tensor.Tensor
	for _, p := range gen.NamedParameters() {
		if strings.HasPrefix(p.Name, slowLRPrefix) {
			slow = append(slow, p.Value)
		} else {
			base = append(base, p.Value)
		}
	}
	groups := []optimizer.ParamGroup{{Params: base, LRMult: 1.0}}
	if len(slow) > 0 {
		groups = append(groups, optimizer.ParamGroup{Params: slow, LRMult: slowLRMult})
	}
	return groups
}

// InferenceGenerator returns the generator the sweep should use: the shadow
// copy when the moving average is maintained, otherwise the live model.
func (m *AgingModel) InferenceGenerator() networks.Generator {
	if m.Shadow != nil {
		return m.Shadow
	}
	return m.Gen
}

// NewSweep builds the inference sweep for the configured mode.
func (m *AgingModel) NewSweep(cfg *config.Config) *InferenceSweep {
	return NewInferenceSweep(m.Encoder, m.InferenceGenerator(), SweepConfig{
		Mode:               m.Mode,
		CompareClass:       cfg.CompareClass,
		CompareJump:        cfg.CompareJump,
		InterpStep:         cfg.InterpStep,
		Debug:              cfg.Debug,
		OwnAgeWithinDomain: cfg.OwnAgeWithinDomain,
	})
}

// TrainStep runs one full iteration: discriminator update then generator
// update on a fresh immutable context.
func (m *AgingModel) TrainStep(realA, realB *tensor.Tensor, classA, classB []int32, withVisuals bool) (map[string]float64, *GenVisuals, error) {
	ctx, err := m.Encoder.NewStepContext(realA, realB, classA, classB)
	if err != nil {
		return nil, nil, err
	}

	dLosses, err := m.DStep.Update(ctx)
	if err != nil {
		return nil, nil, err
	}
	gLosses, visuals, err := m.GStep.Update(ctx, withVisuals)
	if err != nil {
		return nil, nil, err
	}

	losses := make(map[string]float64, len(dLosses)+len(gLosses))
	for k, v := range dLosses {
		losses[k] = v
	}
	for k, v := range gLosses {
		losses[k] = v
	}
	return losses, visuals, nil
}

// UpdateLearningRate decays the base rate of both optimizers by the
// configured gamma. Group multipliers scale with the base rate, so the
// style MLP keeps its relative pace. Returns the new base rate.
func (m *AgingModel) UpdateLearningRate() float64 {
	lr := m.OptG.GetLR() * m.decayGamma
	m.OptG.SetLR(lr)
	m.OptD.SetLR(lr)
	return lr
}

// Save persists the live models, and the shadow when maintained. A failed
// save leaves in-memory state intact; callers report and continue.
func (m *AgingModel) Save(epoch int) error {
	lr := m.OptG.GetLR()
	if err := m.store.Save(m.Gen, TagGenerator, epoch, lr); err != nil {
		return err
	}
	if err := m.store.Save(m.Disc, TagDiscriminator, epoch, lr); err != nil {
		return err
	}
	if m.Shadow != nil {
		if err := m.store.Save(m.Shadow, TagShadow, epoch, lr); err != nil {
			return err
		}
	}
	return nil
}

// LoadForResume restores a training run from a saved epoch.
func (m *AgingModel) LoadForResume(epoch int) error {
	ck, err := m.store.Load(m.Gen, TagGenerator, epoch)
	if err != nil {
		return err
	}
	if _, err := m.store.Load(m.Disc, TagDiscriminator, epoch); err != nil {
		return err
	}
	if m.Shadow != nil {
		if _, err := m.store.Load(m.Shadow, TagShadow, epoch); err != nil {
			return err
		}
	}
	if ck.State.LearningRate > 0 {
		m.OptG.SetLR(ck.State.LearningRate)
		m.OptD.SetLR(ck.State.LearningRate)
	}
	return nil
}

// LoadForInference restores the generator used by the sweep: the shadow tag
// when the run trained with the moving average, otherwise the live tag.
func (m *AgingModel) LoadForInference(epoch int) error {
	tag := TagGenerator
	if m.useEMA {
		tag = TagShadow
	}
	if _, err := m.store.Load(m.InferenceGenerator(), tag, epoch); err != nil {
		return err
	}
	return nil
}

// RunID identifies this run in checkpoint metadata.
func (m *AgingModel) RunID() string {
	return m.store.RunID()
}
