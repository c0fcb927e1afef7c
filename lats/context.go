package lats

import (
	"fmt"

	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/tensor"
)

// StepContext carries everything one optimization step consumes: the
// concatenated real batch, the class labels in both orderings, and the
// condition matrices for every role. It is produced once per iteration by
// the encoding stage and treated as read-only by the step functions.
type StepContext struct {
	// Reals is the source and target domain images concatenated along the
	// batch axis: rows [0,n) are domain A, rows [n,2n) are domain B.
	Reals *tensor.Tensor

	// TrueClasses holds concat(classA, classB); SwappedClasses holds
	// concat(classB, classA), matching the target classes of the
	// cross-domain generated images.
	TrueClasses    *tensor.Tensor
	SwappedClasses *tensor.Tensor

	// GenConds conditions each sample toward the opposite domain's class.
	// RecConds conditions each sample toward its own class for the
	// reconstruction and cycle decodes; each half reuses the noise
	// realization of the opposite half's gen condition. OrigConds is an
	// independent own-class realization for the age-consistency target.
	GenConds  *tensor.Tensor
	RecConds  *tensor.Tensor
	OrigConds *tensor.Tensor
}

// NewStepContext encodes the four conditioning roles for one paired batch
// and freezes them together with the concatenated reals.
func (e *ConditionEncoder) NewStepContext(realA, realB *tensor.Tensor, classA, classB []int32) (*StepContext, error) {
	n := len(classA)
	if n == 0 || len(classB) != n {
		return nil, fmt.Errorf("mismatched class label counts: %d vs %d", len(classA), len(classB))
	}
	if realA.Shape[0] != n || realB.Shape[0] != n {
		return nil, fmt.Errorf("image count does not match label count: %d/%d images for %d labels", realA.Shape[0], realB.Shape[0], n)
	}

	reals, err := tensor.Concat(realA, realB)
	if err != nil {
		return nil, err
	}

	// Target-for-A-from-B, target-for-B-from-A, self-A, self-B.
	condAGen, err := e.Encode(classB)
	if err != nil {
		return nil, err
	}
	condBGen, err := e.Encode(classA)
	if err != nil {
		return nil, err
	}
	condAOrig, err := e.Encode(classA)
	if err != nil {
		return nil, err
	}
	condBOrig, err := e.Encode(classB)
	if err != nil {
		return nil, err
	}

	genConds, err := tensor.Concat(condAGen, condBGen)
	if err != nil {
		return nil, err
	}
	// condBGen encodes classA and condAGen encodes classB, so this ordering
	// conditions every sample back toward its own class.
	recConds, err := tensor.Concat(condBGen, condAGen)
	if err != nil {
		return nil, err
	}
	origConds, err := tensor.Concat(condAOrig, condBOrig)
	if err != nil {
		return nil, err
	}

	trueClasses, err := classTensor(append(append([]int32{}, classA...), classB...), e.device)
	if err != nil {
		return nil, err
	}
	swapped, err := classTensor(append(append([]int32{}, classB...), classA...), e.device)
	if err != nil {
		return nil, err
	}

	return &StepContext{
		Reals:          reals,
		TrueClasses:    trueClasses,
		SwappedClasses: swapped,
		GenConds:       genConds,
		RecConds:       recConds,
		OrigConds:      origConds,
	}, nil
}

func classTensor(classes []int32, device tensor.DeviceType) (*tensor.Tensor, error) {
	return tensor.NewTensor([]int{len(classes)}, tensor.Int32, device, classes)
}
