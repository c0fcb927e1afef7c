package lats

import (
	"fmt"

	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/networks"
	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/tensor"
)

// InferenceBatch is the input supplied by the data collaborator at
// inference time. Valid flags samples that should participate; invalid
// samples are dropped before conditioning and excluded from the output.
type InferenceBatch struct {
	Images  *tensor.Tensor
	Classes []int32
	Valid   []bool
	Paths   []string
}

// InferenceSweep produces per-target-class renderings of each valid input
// sample. Its behavior is a function of the operating mode fixed at
// construction.
type InferenceSweep struct {
	enc *ConditionEncoder
	gen networks.Generator

	mode          Mode
	compareClass  int
	compareJump   int
	interpStep    float64
	debug         bool
	ownAgeInClass bool
}

// SweepConfig fixes the mode-dependent sweep parameters. OwnAgeWithinDomain
// makes the per-class sweep decode a sample from its own age features when
// the target class is the sample's own class, instead of the condition
// vector.
type SweepConfig struct {
	Mode               Mode
	CompareClass       int
	CompareJump        int
	InterpStep         float64
	Debug              bool
	OwnAgeWithinDomain bool
}

func NewInferenceSweep(enc *ConditionEncoder, gen networks.Generator, cfg SweepConfig) *InferenceSweep {
	return &InferenceSweep{
		enc:           enc,
		gen:           gen,
		mode:          cfg.Mode,
		compareClass:  cfg.CompareClass,
		compareJump:   cfg.CompareJump,
		interpStep:    cfg.InterpStep,
		debug:         cfg.Debug,
		ownAgeInClass: cfg.OwnAgeWithinDomain,
	}
}

// Run executes one sweep over the batch. An all-invalid batch is not an
// error: it returns an empty collection.
func (s *InferenceSweep) Run(batch *InferenceBatch) ([]SampleVisuals, error) {
	images, classes, paths, err := s.filterValid(batch)
	if err != nil {
		return nil, err
	}
	if images == nil {
		return []SampleVisuals{}, nil
	}

	switch s.mode {
	case ModeTraverse, ModeDeploy:
		return s.runTraversal(images, classes, paths)
	case ModeCompare:
		return s.runCompare(images, classes, paths)
	default:
		return s.runPerClass(images, classes, paths, SweepClasses(ModeTest, s.enc.NumClasses(), 0, 0))
	}
}

// filterValid drops invalid samples. A nil image tensor in the return means
// nothing survived.
func (s *InferenceSweep) filterValid(batch *InferenceBatch) (*tensor.Tensor, []int32, []string, error) {
	images := batch.Images
	// A leading singleton batch-of-batches axis is tolerated.
	if len(images.Shape) == 5 && images.Shape[0] == 1 {
		var err error
		images, err = tensor.Reshape(images, images.Shape[1:])
		if err != nil {
			return nil, nil, nil, err
		}
	}

	n := images.Shape[0]
	if len(batch.Classes) != n {
		return nil, nil, nil, fmt.Errorf("image count %d does not match label count %d", n, len(batch.Classes))
	}

	var keep []int
	var classes []int32
	var paths []string
	for i := 0; i < n; i++ {
		if i < len(batch.Valid) && !batch.Valid[i] {
			continue
		}
		keep = append(keep, i)
		classes = append(classes, batch.Classes[i])
		if i < len(batch.Paths) {
			paths = append(paths, batch.Paths[i])
		} else {
			paths = append(paths, "")
		}
	}
	if len(keep) == 0 {
		return nil, nil, nil, nil
	}
	if len(keep) == n {
		return images, classes, paths, nil
	}

	kept, err := tensor.IndexSelect(images, keep)
	if err != nil {
		return nil, nil, nil, err
	}
	return kept, classes, paths, nil
}

// runPerClass is the default sweep: each target class is broadcast to the
// whole batch, generated, and in debug mode regenerated back toward every
// sample's own class.
func (s *InferenceSweep) runPerClass(images *tensor.Tensor, classes []int32, paths []string, targets []int32) ([]SampleVisuals, error) {
	n := images.Shape[0]

	results := make([]SampleVisuals, n)
	for i := 0; i < n; i++ {
		orig, err := sliceSample(images, i)
		if err != nil {
			return nil, err
		}
		results[i] = SampleVisuals{
			Path:    paths[i],
			Entries: []LabeledImage{{Label: origLabel(classes[i]), Image: orig}},
		}
	}

	var recs [][]LabeledImage
	if s.debug {
		recs = make([][]LabeledImage, n)
	}

	for _, target := range targets {
		cond, err := s.enc.EncodeUniform(target, n)
		if err != nil {
			return nil, err
		}
		generated, err := s.gen.Infer(images, cond, -1, networks.InferOptions{})
		if err != nil {
			return nil, fmt.Errorf("generation toward class %d failed: %v", target, err)
		}
		generated = generated.Detach()

		// Samples already in the target class can decode from their own age
		// features instead of the condition vector.
		withinDomain := map[int]*tensor.Tensor{}
		if s.ownAgeInClass {
			withinDomain, err = s.ownAgeOutputs(images, classes, target)
			if err != nil {
				return nil, err
			}
		}

		var reconstructed *tensor.Tensor
		if s.debug {
			recCond, err := s.enc.Encode(classes)
			if err != nil {
				return nil, err
			}
			reconstructed, err = s.gen.Infer(generated, recCond, -1, networks.InferOptions{})
			if err != nil {
				return nil, fmt.Errorf("reconstruction from class %d failed: %v", target, err)
			}
			reconstructed = reconstructed.Detach()
		}

		for i := 0; i < n; i++ {
			img, err := sliceSample(generated, i)
			if err != nil {
				return nil, err
			}
			if own, ok := withinDomain[i]; ok {
				img = own
			}
			results[i].Entries = append(results[i].Entries, LabeledImage{Label: transLabel(target), Image: img})

			if s.debug {
				rec, err := sliceSample(reconstructed, i)
				if err != nil {
					return nil, err
				}
				recs[i] = append(recs[i], LabeledImage{Label: recLabel(target), Image: rec})
			}
		}
	}

	if s.debug {
		for i := 0; i < n; i++ {
			orig, err := sliceSample(images, i)
			if err != nil {
				return nil, err
			}
			results[i].Entries = append(results[i].Entries, LabeledImage{Label: "orig_img2", Image: orig})
			results[i].Entries = append(results[i].Entries, recs[i]...)
		}
	}
	return results, nil
}

// ownAgeOutputs regenerates the samples whose class equals the target from
// their own age features, keyed by their position in the filtered batch.
func (s *InferenceSweep) ownAgeOutputs(images *tensor.Tensor, classes []int32, target int32) (map[int]*tensor.Tensor, error) {
	var idxs []int
	for i, c := range classes {
		if c == target {
			idxs = append(idxs, i)
		}
	}
	out := make(map[int]*tensor.Tensor, len(idxs))
	if len(idxs) == 0 {
		return out, nil
	}

	sub, err := tensor.IndexSelect(images, idxs)
	if err != nil {
		return nil, err
	}
	cond, err := s.enc.EncodeUniform(target, len(idxs))
	if err != nil {
		return nil, err
	}
	generated, err := s.gen.Infer(sub, cond, 0, networks.InferOptions{})
	if err != nil {
		return nil, fmt.Errorf("within-domain generation for class %d failed: %v", target, err)
	}
	generated = generated.Detach()

	for k, i := range idxs {
		img, err := sliceSample(generated, k)
		if err != nil {
			return nil, err
		}
		out[i] = img
	}
	return out, nil
}

// runCompare restricts generation to the fixed window around the reference
// class. Conditioning rows follow the window targets, not the data batch,
// so each sample yields exactly the window's output count.
func (s *InferenceSweep) runCompare(images *tensor.Tensor, classes []int32, paths []string) ([]SampleVisuals, error) {
	targets := SweepClasses(ModeCompare, s.enc.NumClasses(), s.compareClass, s.compareJump)
	cond, err := s.enc.Encode(targets)
	if err != nil {
		return nil, err
	}

	n := images.Shape[0]
	results := make([]SampleVisuals, 0, n)
	for i := 0; i < n; i++ {
		row, err := tensor.Narrow(images, i, 1)
		if err != nil {
			return nil, err
		}
		outputs, err := s.gen.Infer(row, cond, 0, networks.InferOptions{Deploy: true})
		if err != nil {
			return nil, fmt.Errorf("comparison generation for sample %d failed: %v", i, err)
		}

		orig, err := sliceSample(images, i)
		if err != nil {
			return nil, err
		}
		sample := SampleVisuals{
			Path:    paths[i],
			Entries: []LabeledImage{{Label: origLabel(classes[i]), Image: orig}},
		}
		for k, target := range targets {
			img, err := sliceSample(outputs, k)
			if err != nil {
				return nil, err
			}
			sample.Entries = append(sample.Entries, LabeledImage{Label: transLabel(target), Image: img})
		}
		results = append(results, sample)
	}
	return results, nil
}

// runTraversal makes a single batched call into the generator's
// interpolating entry point: one condition row per class, frames walked
// from the first sample's own age toward each target.
func (s *InferenceSweep) runTraversal(images *tensor.Tensor, classes []int32, paths []string) ([]SampleVisuals, error) {
	cond, err := s.enc.Encode(SweepClasses(s.mode, s.enc.NumClasses(), 0, 0))
	if err != nil {
		return nil, err
	}

	opts := networks.InferOptions{
		Traverse:   s.mode == ModeTraverse,
		Deploy:     s.mode == ModeDeploy,
		InterpStep: s.interpStep,
	}
	frames, err := s.gen.Infer(images, cond, 0, opts)
	if err != nil {
		return nil, fmt.Errorf("traversal generation failed: %v", err)
	}

	orig, err := sliceSample(images, 0)
	if err != nil {
		return nil, err
	}
	result := SampleVisuals{
		Path:    paths[0],
		Entries: []LabeledImage{{Label: origLabel(classes[0]), Image: orig}},
	}

	numFrames := frames.Shape[0]
	for k := 0; k < numFrames; k++ {
		img, err := sliceSample(frames, k)
		if err != nil {
			return nil, err
		}
		label := fmt.Sprintf("traverse_frame_%d", k)
		if s.mode == ModeDeploy {
			label = transLabel(int32(k))
		}
		result.Entries = append(result.Entries, LabeledImage{Label: label, Image: img})
	}
	return []SampleVisuals{result}, nil
}
