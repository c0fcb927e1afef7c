package training

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"golang.org/x/image/draw"

	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/tensor"
)

// ImageFolderDataset loads samples from a directory structure where each
// subdirectory names an age class by index ("0", "1", ...). Images decode
// lazily in Get, resized to targetSize and normalized to [-1,1].
type ImageFolderDataset struct {
	imagePaths []string
	classes    []int32
	targetSize int
	device     tensor.DeviceType
}

// NewImageFolderDataset creates a dataset from a directory structure.
func NewImageFolderDataset(root string, targetSize int, device tensor.DeviceType) (*ImageFolderDataset, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to list classes: %w", err)
	}

	dataset := &ImageFolderDataset{targetSize: targetSize, device: device}
	extensions := map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		class, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue // non-class directory
		}

		classDir := filepath.Join(root, entry.Name())
		files, err := os.ReadDir(classDir)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", classDir, err)
		}
		var names []string
		for _, f := range files {
			if !f.IsDir() && extensions[filepath.Ext(f.Name())] {
				names = append(names, f.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			dataset.imagePaths = append(dataset.imagePaths, filepath.Join(classDir, name))
			dataset.classes = append(dataset.classes, int32(class))
		}
	}

	if len(dataset.imagePaths) == 0 {
		return nil, fmt.Errorf("no images found in %s", root)
	}
	return dataset, nil
}

// Len returns the number of items in the dataset
func (d *ImageFolderDataset) Len() int {
	return len(d.imagePaths)
}

// Path returns the source file for a sample.
func (d *ImageFolderDataset) Path(idx int) string {
	return d.imagePaths[idx]
}

// Get decodes one sample into a [3,H,W] tensor with values in [-1,1].
func (d *ImageFolderDataset) Get(idx int) (*tensor.Tensor, int32, error) {
	if idx < 0 || idx >= len(d.imagePaths) {
		return nil, 0, fmt.Errorf("index %d out of range [0, %d)", idx, len(d.imagePaths))
	}

	f, err := os.Open(d.imagePaths[idx])
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open %s: %w", d.imagePaths[idx], err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode %s: %w", d.imagePaths[idx], err)
	}

	t, err := imageToTensor(img, d.targetSize, d.device)
	if err != nil {
		return nil, 0, err
	}
	return t, d.classes[idx], nil
}

// imageToTensor resizes an image to size×size and packs it channels-first,
// mapping [0,255] to [-1,1].
func imageToTensor(img image.Image, size int, device tensor.DeviceType) (*tensor.Tensor, error) {
	resized := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Over, nil)

	data := make([]float32, 3*size*size)
	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			o := resized.PixOffset(x, y)
			i := y*size + x
			data[i] = float32(resized.Pix[o])/127.5 - 1
			data[plane+i] = float32(resized.Pix[o+1])/127.5 - 1
			data[2*plane+i] = float32(resized.Pix[o+2])/127.5 - 1
		}
	}
	return tensor.NewTensor([]int{3, size, size}, tensor.Float32, device, data)
}

// LoadInferenceBatch assembles every sample of a dataset into one inference
// batch. Samples whose class falls outside [0,numClasses) are flagged
// invalid rather than dropped, so the sweep applies its own filtering.
func LoadInferenceBatch(ds *ImageFolderDataset, numClasses int) (*tensor.Tensor, []int32, []bool, []string, error) {
	n := ds.Len()
	images := make([]*tensor.Tensor, 0, n)
	classes := make([]int32, 0, n)
	valid := make([]bool, 0, n)
	paths := make([]string, 0, n)

	for i := 0; i < n; i++ {
		img, class, err := ds.Get(i)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		img, err = tensor.Reshape(img, append([]int{1}, img.Shape...))
		if err != nil {
			return nil, nil, nil, nil, err
		}
		images = append(images, img)
		classes = append(classes, class)
		valid = append(valid, class >= 0 && int(class) < numClasses)
		paths = append(paths, ds.Path(i))
	}

	batch, err := tensor.Concat(images...)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return batch, classes, valid, paths, nil
}
