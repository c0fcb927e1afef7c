// Package visuals renders sweep results and training snapshots into PNG
// grid reports.
package visuals

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/fogleman/gg"
	"golang.org/x/image/draw"

	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/lats"
	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/tensor"
)

// Renderer writes image grids under a results directory.
type Renderer struct {
	dir      string
	cellSize int
	labelPad int
}

func NewRenderer(dir string, cellSize int) *Renderer {
	if cellSize <= 0 {
		cellSize = 128
	}
	return &Renderer{dir: dir, cellSize: cellSize, labelPad: 16}
}

// ToImage converts a [C,H,W] tensor with values in [-1,1] into an RGBA
// image. Single-channel tensors render as grayscale.
func ToImage(t *tensor.Tensor) (image.Image, error) {
	if len(t.Shape) != 3 {
		return nil, fmt.Errorf("expected [C,H,W] tensor, got shape %v", t.Shape)
	}
	c, h, w := t.Shape[0], t.Shape[1], t.Shape[2]
	if c != 1 && c != 3 {
		return nil, fmt.Errorf("expected 1 or 3 channels, got %d", c)
	}
	data, err := t.GetFloat32Data()
	if err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			r := toByte(data[i])
			g, b := r, r
			if c == 3 {
				g = toByte(data[plane+i])
				b = toByte(data[2*plane+i])
			}
			o := img.PixOffset(x, y)
			img.Pix[o+0] = r
			img.Pix[o+1] = g
			img.Pix[o+2] = b
			img.Pix[o+3] = 255
		}
	}
	return img, nil
}

// toByte maps [-1,1] to [0,255], clamping out-of-range values.
func toByte(v float32) uint8 {
	scaled := (float64(v) + 1) / 2 * 255
	if scaled < 0 {
		scaled = 0
	}
	if scaled > 255 {
		scaled = 255
	}
	return uint8(scaled)
}

// RenderSweep lays out one row per sample, one labeled cell per entry, and
// writes the grid to name.png under the results directory.
func (r *Renderer) RenderSweep(results []lats.SampleVisuals, name string) (string, error) {
	if len(results) == 0 {
		return "", fmt.Errorf("nothing to render")
	}

	cols := 0
	for _, sample := range results {
		if len(sample.Entries) > cols {
			cols = len(sample.Entries)
		}
	}
	if cols == 0 {
		return "", fmt.Errorf("result collection has no entries")
	}

	cellH := r.cellSize + r.labelPad
	dc := gg.NewContext(cols*r.cellSize, len(results)*cellH)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	for row, sample := range results {
		for col, entry := range sample.Entries {
			img, err := ToImage(entry.Image)
			if err != nil {
				return "", fmt.Errorf("sample %d entry %q: %v", row, entry.Label, err)
			}
			dc.DrawImage(r.thumbnail(img), col*r.cellSize, row*cellH)

			dc.SetRGB(0, 0, 0)
			dc.DrawStringAnchored(entry.Label,
				float64(col*r.cellSize)+float64(r.cellSize)/2,
				float64(row*cellH+r.cellSize)+float64(r.labelPad)/2,
				0.5, 0.5)
		}
	}

	return r.save(dc, name)
}

// RenderTrainSnapshot writes the four shadow-model images of one step as a
// 4-row grid: reals, reconstructions, cross-domain fakes, cycle returns.
func (r *Renderer) RenderTrainSnapshot(v *lats.GenVisuals, name string) (string, error) {
	rows := []struct {
		label string
		batch *tensor.Tensor
	}{
		{"real", v.Reals},
		{"reconst", v.Reconst},
		{"generated", v.Generated},
		{"cycled", v.Cycled},
	}

	n := v.Reals.Shape[0]
	cellH := r.cellSize + r.labelPad
	dc := gg.NewContext(n*r.cellSize, len(rows)*cellH)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	for row, src := range rows {
		for i := 0; i < n; i++ {
			cell, err := sampleImage(src.batch, i)
			if err != nil {
				return "", fmt.Errorf("%s sample %d: %v", src.label, i, err)
			}
			dc.DrawImage(r.thumbnail(cell), i*r.cellSize, row*cellH)
		}
		dc.SetRGB(0, 0, 0)
		dc.DrawStringAnchored(src.label,
			float64(n*r.cellSize)/2,
			float64(row*cellH+r.cellSize)+float64(r.labelPad)/2,
			0.5, 0.5)
	}

	return r.save(dc, name)
}

func (r *Renderer) thumbnail(img image.Image) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, r.cellSize, r.cellSize))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

func (r *Renderer) save(dc *gg.Context, name string) (string, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create results directory: %v", err)
	}
	path := filepath.Join(r.dir, name+".png")
	if err := dc.SavePNG(path); err != nil {
		return "", fmt.Errorf("failed to write %s: %v", path, err)
	}
	return path, nil
}

func sampleImage(batch *tensor.Tensor, i int) (image.Image, error) {
	row, err := tensor.Narrow(batch, i, 1)
	if err != nil {
		return nil, err
	}
	sample, err := tensor.Reshape(row, row.Shape[1:])
	if err != nil {
		return nil, err
	}
	return ToImage(sample)
}
