package tensor

import (
	"fmt"
)

func indexToCoords(index int, shape []int) []int {
	coords := make([]int, len(shape))
	remaining := index
	for i := len(shape) - 1; i >= 0; i-- {
		coords[i] = remaining % shape[i]
		remaining /= shape[i]
	}
	return coords
}

func coordsToIndex(coords []int, strides []int) int {
	index := 0
	for i, coord := range coords {
		index += coord * strides[i]
	}
	return index
}

// MatMul computes the 2D matrix product of t1 [m, k] and t2 [k, n].
func MatMul(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, fmt.Errorf("MatMul: %v", err)
	}
	if t1.DType != Float32 {
		return nil, fmt.Errorf("MatMul: unsupported dtype %s", t1.DType)
	}
	if len(t1.Shape) != 2 || len(t2.Shape) != 2 {
		return nil, fmt.Errorf("MatMul requires 2D tensors, got %v and %v", t1.Shape, t2.Shape)
	}
	if t1.Shape[1] != t2.Shape[0] {
		return nil, fmt.Errorf("MatMul dimension mismatch: %v x %v", t1.Shape, t2.Shape)
	}

	m, k, n := t1.Shape[0], t1.Shape[1], t2.Shape[1]
	result, err := Zeros([]int{m, n}, Float32, t1.Device)
	if err != nil {
		return nil, err
	}

	a := t1.Data.([]float32)
	b := t2.Data.([]float32)
	c := result.Data.([]float32)

	for i := 0; i < m; i++ {
		for l := 0; l < k; l++ {
			av := a[i*k+l]
			if av == 0 {
				continue
			}
			for j := 0; j < n; j++ {
				c[i*n+j] += av * b[l*n+j]
			}
		}
	}

	return result, nil
}

// Transpose swaps the two dimensions of a 2D tensor.
func Transpose(t *Tensor) (*Tensor, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("Transpose requires a 2D tensor, got shape %v", t.Shape)
	}
	if t.DType != Float32 {
		return nil, fmt.Errorf("Transpose: unsupported dtype %s", t.DType)
	}

	rows, cols := t.Shape[0], t.Shape[1]
	result, err := Zeros([]int{cols, rows}, Float32, t.Device)
	if err != nil {
		return nil, err
	}

	src := t.Data.([]float32)
	dst := result.Data.([]float32)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst[j*rows+i] = src[i*cols+j]
		}
	}

	return result, nil
}

// Reshape returns a copy of t with a new shape holding the same elements.
func Reshape(t *Tensor, newShape []int) (*Tensor, error) {
	if err := validateShape(newShape); err != nil {
		return nil, err
	}
	if calculateNumElements(newShape) != t.NumElems {
		return nil, fmt.Errorf("cannot reshape %v (%d elements) to %v", t.Shape, t.NumElems, newShape)
	}

	clone, err := t.Clone()
	if err != nil {
		return nil, err
	}
	clone.Shape = append([]int(nil), newShape...)
	clone.Strides = calculateStrides(newShape)
	return clone, nil
}

// Concat joins tensors along dimension 0. All inputs must agree on the
// remaining dimensions and dtype.
func Concat(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("Concat requires at least one tensor")
	}

	first := ts[0]
	rows := 0
	for _, t := range ts {
		if t.DType != first.DType {
			return nil, fmt.Errorf("Concat dtype mismatch: %s vs %s", first.DType, t.DType)
		}
		if len(t.Shape) != len(first.Shape) {
			return nil, fmt.Errorf("Concat rank mismatch: %v vs %v", first.Shape, t.Shape)
		}
		for d := 1; d < len(first.Shape); d++ {
			if t.Shape[d] != first.Shape[d] {
				return nil, fmt.Errorf("Concat shape mismatch on dim %d: %v vs %v", d, first.Shape, t.Shape)
			}
		}
		rows += t.Shape[0]
	}

	outShape := append([]int{rows}, first.Shape[1:]...)
	result, err := Zeros(outShape, first.DType, first.Device)
	if err != nil {
		return nil, err
	}

	switch first.DType {
	case Float32:
		dst := result.Data.([]float32)
		offset := 0
		for _, t := range ts {
			src := t.Data.([]float32)
			copy(dst[offset:offset+len(src)], src)
			offset += len(src)
		}
	case Int32:
		dst := result.Data.([]int32)
		offset := 0
		for _, t := range ts {
			src := t.Data.([]int32)
			copy(dst[offset:offset+len(src)], src)
			offset += len(src)
		}
	default:
		return nil, fmt.Errorf("Concat: unsupported dtype %s", first.DType)
	}

	return result, nil
}

// Narrow returns rows [start, start+length) along dimension 0.
func Narrow(t *Tensor, start, length int) (*Tensor, error) {
	if len(t.Shape) == 0 {
		return nil, fmt.Errorf("Narrow requires a non-scalar tensor")
	}
	if start < 0 || length <= 0 || start+length > t.Shape[0] {
		return nil, fmt.Errorf("Narrow range [%d, %d) out of bounds for dim size %d", start, start+length, t.Shape[0])
	}

	rowSize := t.NumElems / t.Shape[0]
	outShape := append([]int{length}, t.Shape[1:]...)
	result, err := Zeros(outShape, t.DType, t.Device)
	if err != nil {
		return nil, err
	}

	switch t.DType {
	case Float32:
		copy(result.Data.([]float32), t.Data.([]float32)[start*rowSize:(start+length)*rowSize])
	case Int32:
		copy(result.Data.([]int32), t.Data.([]int32)[start*rowSize:(start+length)*rowSize])
	default:
		return nil, fmt.Errorf("Narrow: unsupported dtype %s", t.DType)
	}

	return result, nil
}

// IndexSelect gathers the given rows along dimension 0.
func IndexSelect(t *Tensor, indices []int) (*Tensor, error) {
	if len(t.Shape) == 0 {
		return nil, fmt.Errorf("IndexSelect requires a non-scalar tensor")
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("IndexSelect requires at least one index")
	}

	rowSize := t.NumElems / t.Shape[0]
	outShape := append([]int{len(indices)}, t.Shape[1:]...)
	result, err := Zeros(outShape, t.DType, t.Device)
	if err != nil {
		return nil, err
	}

	for i, idx := range indices {
		if idx < 0 || idx >= t.Shape[0] {
			return nil, fmt.Errorf("IndexSelect index %d out of range [0, %d)", idx, t.Shape[0])
		}
		switch t.DType {
		case Float32:
			copy(result.Data.([]float32)[i*rowSize:(i+1)*rowSize], t.Data.([]float32)[idx*rowSize:(idx+1)*rowSize])
		case Int32:
			copy(result.Data.([]int32)[i*rowSize:(i+1)*rowSize], t.Data.([]int32)[idx*rowSize:(idx+1)*rowSize])
		default:
			return nil, fmt.Errorf("IndexSelect: unsupported dtype %s", t.DType)
		}
	}

	return result, nil
}

// GatherClass picks logits[i, classes[i]] for each row, yielding shape [n].
func GatherClass(logits *Tensor, classes *Tensor) (*Tensor, error) {
	if len(logits.Shape) != 2 {
		return nil, fmt.Errorf("GatherClass requires 2D logits, got %v", logits.Shape)
	}
	if classes.DType != Int32 || len(classes.Shape) != 1 {
		return nil, fmt.Errorf("GatherClass requires 1D Int32 classes")
	}
	n, c := logits.Shape[0], logits.Shape[1]
	if classes.Shape[0] != n {
		return nil, fmt.Errorf("GatherClass batch mismatch: %d logit rows, %d classes", n, classes.Shape[0])
	}

	result, err := Zeros([]int{n}, Float32, logits.Device)
	if err != nil {
		return nil, err
	}

	src := logits.Data.([]float32)
	cls := classes.Data.([]int32)
	dst := result.Data.([]float32)
	for i := 0; i < n; i++ {
		if cls[i] < 0 || int(cls[i]) >= c {
			return nil, fmt.Errorf("GatherClass class %d out of range [0, %d)", cls[i], c)
		}
		dst[i] = src[i*c+int(cls[i])]
	}

	return result, nil
}

// ScatterClass places values[i] at [i, classes[i]] in an [n, numClasses]
// zero tensor. It is the adjoint of GatherClass.
func ScatterClass(values *Tensor, classes *Tensor, numClasses int) (*Tensor, error) {
	if len(values.Shape) != 1 {
		return nil, fmt.Errorf("ScatterClass requires 1D values, got %v", values.Shape)
	}
	if classes.DType != Int32 || classes.Shape[0] != values.Shape[0] {
		return nil, fmt.Errorf("ScatterClass classes must be 1D Int32 matching values")
	}

	n := values.Shape[0]
	result, err := Zeros([]int{n, numClasses}, Float32, values.Device)
	if err != nil {
		return nil, err
	}

	src := values.Data.([]float32)
	cls := classes.Data.([]int32)
	dst := result.Data.([]float32)
	for i := 0; i < n; i++ {
		if cls[i] < 0 || int(cls[i]) >= numClasses {
			return nil, fmt.Errorf("ScatterClass class %d out of range [0, %d)", cls[i], numClasses)
		}
		dst[i*numClasses+int(cls[i])] = src[i]
	}

	return result, nil
}

// Sum reduces all elements to a single-element tensor.
func Sum(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("Sum: unsupported dtype %s", t.DType)
	}

	data := t.Data.([]float32)
	var total float32
	for _, v := range data {
		total += v
	}
	return NewTensor([]int{1}, Float32, t.Device, []float32{total})
}

// SumDim sums over a single dimension, dropping it from the shape.
func SumDim(t *Tensor, dim int) (*Tensor, error) {
	if dim < 0 || dim >= len(t.Shape) {
		return nil, fmt.Errorf("SumDim dimension %d out of bounds for %d dims", dim, len(t.Shape))
	}
	if t.DType != Float32 {
		return nil, fmt.Errorf("SumDim: unsupported dtype %s", t.DType)
	}

	outShape := make([]int, 0, len(t.Shape)-1)
	for i, size := range t.Shape {
		if i != dim {
			outShape = append(outShape, size)
		}
	}
	if len(outShape) == 0 {
		return Sum(t)
	}

	result, err := Zeros(outShape, Float32, t.Device)
	if err != nil {
		return nil, err
	}

	src := t.Data.([]float32)
	dst := result.Data.([]float32)
	strides := calculateStrides(t.Shape)

	for outIdx := 0; outIdx < result.NumElems; outIdx++ {
		outCoords := indexToCoords(outIdx, outShape)
		inCoords := make([]int, len(t.Shape))
		oc := 0
		for d := 0; d < len(t.Shape); d++ {
			if d == dim {
				continue
			}
			inCoords[d] = outCoords[oc]
			oc++
		}
		var sum float32
		for k := 0; k < t.Shape[dim]; k++ {
			inCoords[dim] = k
			sum += src[coordsToIndex(inCoords, strides)]
		}
		dst[outIdx] = sum
	}

	return result, nil
}

// Mean reduces all elements to their average.
func Mean(t *Tensor) (*Tensor, error) {
	s, err := Sum(t)
	if err != nil {
		return nil, err
	}
	return Scale(s, 1.0/float64(t.NumElems))
}
