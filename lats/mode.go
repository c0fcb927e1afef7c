// Package lats implements the training and inference orchestration for the
// conditional age-transformation model: condition-vector construction, the
// generator and discriminator optimization steps, the moving-average shadow
// generator, and the multi-class inference sweep.
package lats

import "fmt"

// Mode is the operating mode, selected once at initialization. Every
// mode-dependent behavior in the engine switches on this tag.
type Mode int

const (
	// ModeTrain runs the adversarial optimization loop.
	ModeTrain Mode = iota
	// ModeTest runs the default per-class inference sweep.
	ModeTest
	// ModeTraverse produces a stepped interpolation across target classes.
	ModeTraverse
	// ModeDeploy produces one endpoint image per target class in a single
	// batched traversal call.
	ModeDeploy
	// ModeCompare restricts the sweep to a fixed window around a reference
	// class for comparison against precomputed outputs.
	ModeCompare
)

func (m Mode) String() string {
	switch m {
	case ModeTrain:
		return "train"
	case ModeTest:
		return "test"
	case ModeTraverse:
		return "traverse"
	case ModeDeploy:
		return "deploy"
	case ModeCompare:
		return "compare"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode maps a mode name to its tag.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "train":
		return ModeTrain, nil
	case "test":
		return ModeTest, nil
	case "traverse":
		return ModeTraverse, nil
	case "deploy":
		return ModeDeploy, nil
	case "compare":
		return ModeCompare, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

// IsInference reports whether the mode runs the sweep instead of training.
func (m Mode) IsInference() bool {
	return m != ModeTrain
}
