package lats

import (
	"fmt"
	"math/rand"

	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/tensor"
)

// conditionNoiseSigma scales the Gaussian perturbation added to condition
// vectors when noise is enabled.
const conditionNoiseSigma = 0.2

// ConditionEncoder builds per-sample conditioning (style) vectors from
// integer class labels. Each vector has length numClasses × dimPerStyle:
// optional Gaussian noise over the whole vector, plus 1.0 on the block
// belonging to the target class.
type ConditionEncoder struct {
	numClasses  int
	dimPerStyle int
	sigma       float64
	rng         *rand.Rand
	device      tensor.DeviceType
}

// NewConditionEncoder constructs an encoder. withNoise selects sigma 0.2;
// otherwise condition vectors are exact one-hot block indicators.
func NewConditionEncoder(numClasses, dimPerStyle int, withNoise bool, rng *rand.Rand, device tensor.DeviceType) (*ConditionEncoder, error) {
	if numClasses <= 0 || dimPerStyle <= 0 {
		return nil, fmt.Errorf("invalid condition dimensions: classes=%d dimPerStyle=%d", numClasses, dimPerStyle)
	}
	sigma := 0.0
	if withNoise {
		sigma = conditionNoiseSigma
	}
	return &ConditionEncoder{
		numClasses:  numClasses,
		dimPerStyle: dimPerStyle,
		sigma:       sigma,
		rng:         rng,
		device:      device,
	}, nil
}

// NumClasses returns the class count the encoder was built for.
func (e *ConditionEncoder) NumClasses() int {
	return e.numClasses
}

// VectorLen returns the length of one condition vector.
func (e *ConditionEncoder) VectorLen() int {
	return e.numClasses * e.dimPerStyle
}

// Encode produces one condition row per class label. The row count follows
// the label slice, not any data batch, so sweep and traversal callers can
// condition for a different batch size than their input images.
func (e *ConditionEncoder) Encode(classes []int32) (*tensor.Tensor, error) {
	n := len(classes)
	if n == 0 {
		return nil, fmt.Errorf("cannot encode an empty class list")
	}

	cond, err := tensor.RandN([]int{n, e.VectorLen()}, e.sigma, e.rng, e.device)
	if err != nil {
		return nil, err
	}

	data := cond.Data.([]float32)
	for i, c := range classes {
		if c < 0 || int(c) >= e.numClasses {
			return nil, fmt.Errorf("class %d out of range [0,%d)", c, e.numClasses)
		}
		base := i*e.VectorLen() + int(c)*e.dimPerStyle
		for j := 0; j < e.dimPerStyle; j++ {
			data[base+j] += 1.0
		}
	}
	return cond, nil
}

// EncodeUniform produces n identical-class condition rows.
func (e *ConditionEncoder) EncodeUniform(class int32, n int) (*tensor.Tensor, error) {
	classes := make([]int32, n)
	for i := range classes {
		classes[i] = class
	}
	return e.Encode(classes)
}

// SweepClasses returns the target class list for the configured inference
// mode. Traversal and deploy condition one row per class regardless of the
// data batch; compare mode walks a window of width 2·jump around the
// reference class at stride 2·jump, which yields exactly two targets.
func SweepClasses(mode Mode, numClasses, compareClass, compareJump int) []int32 {
	switch mode {
	case ModeCompare:
		var classes []int32
		for c := compareClass - compareJump; c < compareClass+compareJump+1; c += 2 * compareJump {
			classes = append(classes, int32(c))
		}
		return classes
	default:
		classes := make([]int32, numClasses)
		for c := range classes {
			classes[c] = int32(c)
		}
		return classes
	}
}
