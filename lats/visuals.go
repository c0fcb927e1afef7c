package lats

import (
	"fmt"

	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/tensor"
)

// LabeledImage pairs a display label with a [C,H,W] image tensor.
type LabeledImage struct {
	Label string
	Image *tensor.Tensor
}

// SampleVisuals is the ordered result collection for one input sample:
// the original image first, then one entry per target class, then the
// reconstruction entries when debug output is enabled.
type SampleVisuals struct {
	Path    string
	Entries []LabeledImage
}

// sliceSample extracts sample i from a batched [N,...] tensor as [...].
func sliceSample(t *tensor.Tensor, i int) (*tensor.Tensor, error) {
	row, err := tensor.Narrow(t, i, 1)
	if err != nil {
		return nil, err
	}
	if len(row.Shape) < 2 {
		return row, nil
	}
	return tensor.Reshape(row, row.Shape[1:])
}

func origLabel(class int32) string {
	return fmt.Sprintf("orig_img_cls_%d", class)
}

func transLabel(class int32) string {
	return fmt.Sprintf("tex_trans_to_class_%d", class)
}

func recLabel(class int32) string {
	return fmt.Sprintf("tex_rec_from_class_%d", class)
}
