package tensor

import (
	"fmt"
)

// BroadcastShapes computes the result shape of broadcasting shape1 and shape2
// using the standard trailing-dimension rules.
func BroadcastShapes(shape1, shape2 []int) ([]int, error) {
	maxDims := len(shape1)
	if len(shape2) > maxDims {
		maxDims = len(shape2)
	}

	result := make([]int, maxDims)
	for i := 0; i < maxDims; i++ {
		dim1 := 1
		dim2 := 1
		if i < len(shape1) {
			dim1 = shape1[len(shape1)-1-i]
		}
		if i < len(shape2) {
			dim2 = shape2[len(shape2)-1-i]
		}

		switch {
		case dim1 == dim2:
			result[maxDims-1-i] = dim1
		case dim1 == 1:
			result[maxDims-1-i] = dim2
		case dim2 == 1:
			result[maxDims-1-i] = dim1
		default:
			return nil, fmt.Errorf("shapes %v and %v are not broadcastable", shape1, shape2)
		}
	}

	return result, nil
}

// BroadcastTensor materializes t expanded to targetShape.
func BroadcastTensor(t *Tensor, targetShape []int) (*Tensor, error) {
	if shapesEqual(t.Shape, targetShape) {
		return t, nil
	}

	// Verify the expansion is legal before copying anything.
	if _, err := BroadcastShapes(t.Shape, targetShape); err != nil {
		return nil, err
	}

	result, err := Zeros(targetShape, t.DType, t.Device)
	if err != nil {
		return nil, err
	}

	// Pad the source shape with leading ones so both shapes align.
	padded := make([]int, len(targetShape))
	offset := len(targetShape) - len(t.Shape)
	for i := range padded {
		if i < offset {
			padded[i] = 1
		} else {
			padded[i] = t.Shape[i-offset]
		}
	}
	srcStrides := calculateStrides(padded)

	switch t.DType {
	case Float32:
		src := t.Data.([]float32)
		dst := result.Data.([]float32)
		for i := 0; i < result.NumElems; i++ {
			coords := indexToCoords(i, targetShape)
			srcIdx := 0
			for d, c := range coords {
				if padded[d] != 1 {
					srcIdx += c * srcStrides[d]
				}
			}
			dst[i] = src[srcIdx]
		}
	case Int32:
		src := t.Data.([]int32)
		dst := result.Data.([]int32)
		for i := 0; i < result.NumElems; i++ {
			coords := indexToCoords(i, targetShape)
			srcIdx := 0
			for d, c := range coords {
				if padded[d] != 1 {
					srcIdx += c * srcStrides[d]
				}
			}
			dst[i] = src[srcIdx]
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for broadcast: %s", t.DType)
	}

	return result, nil
}

func shapesEqual(shape1, shape2 []int) bool {
	if len(shape1) != len(shape2) {
		return false
	}
	for i := range shape1 {
		if shape1[i] != shape2[i] {
			return false
		}
	}
	return true
}
