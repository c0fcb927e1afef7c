package training

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/tensor"
)

// Dataset interface defines methods that all datasets must implement
type Dataset interface {
	Len() int                                                 // Total number of samples
	Get(idx int) (img *tensor.Tensor, class int32, err error) // Returns a single sample
}

// TrainBatch pairs one sample batch per domain.
type TrainBatch struct {
	RealA  *tensor.Tensor
	RealB  *tensor.Tensor
	ClassA []int32
	ClassB []int32
}

// PairedLoader draws shuffled fixed-size batches from two domain datasets.
// An epoch ends when the shorter domain is exhausted.
type PairedLoader struct {
	domainA   Dataset
	domainB   Dataset
	batchSize int
	rng       *rand.Rand

	indicesA []int
	indicesB []int
	position int
	mutex    sync.Mutex
}

// NewPairedLoader creates a loader over two domain datasets.
func NewPairedLoader(domainA, domainB Dataset, batchSize int, seed int64) (*PairedLoader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0, got %d", batchSize)
	}
	if domainA.Len() == 0 || domainB.Len() == 0 {
		return nil, fmt.Errorf("both domains need samples: A has %d, B has %d", domainA.Len(), domainB.Len())
	}

	pl := &PairedLoader{
		domainA:   domainA,
		domainB:   domainB,
		batchSize: batchSize,
		rng:       rand.New(rand.NewSource(seed)),
		indicesA:  sequence(domainA.Len()),
		indicesB:  sequence(domainB.Len()),
	}
	pl.shuffle()
	return pl, nil
}

func sequence(n int) []int {
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	return indices
}

// Len returns the number of full batches in an epoch.
func (pl *PairedLoader) Len() int {
	n := pl.domainA.Len()
	if pl.domainB.Len() < n {
		n = pl.domainB.Len()
	}
	return n / pl.batchSize
}

// Reset starts a new epoch with a fresh shuffle.
func (pl *PairedLoader) Reset() {
	pl.mutex.Lock()
	defer pl.mutex.Unlock()
	pl.position = 0
	pl.shuffle()
}

func (pl *PairedLoader) shuffle() {
	pl.rng.Shuffle(len(pl.indicesA), func(i, j int) {
		pl.indicesA[i], pl.indicesA[j] = pl.indicesA[j], pl.indicesA[i]
	})
	pl.rng.Shuffle(len(pl.indicesB), func(i, j int) {
		pl.indicesB[i], pl.indicesB[j] = pl.indicesB[j], pl.indicesB[i]
	})
}

// Next returns the next batch or nil when the epoch is complete. Trailing
// samples that do not fill a batch are dropped; the steps require equal
// counts in both domains.
func (pl *PairedLoader) Next() (*TrainBatch, error) {
	pl.mutex.Lock()
	defer pl.mutex.Unlock()

	end := pl.position + pl.batchSize
	if end > len(pl.indicesA) || end > len(pl.indicesB) {
		return nil, nil // End of epoch
	}

	idxA := pl.indicesA[pl.position:end]
	idxB := pl.indicesB[pl.position:end]
	pl.position = end

	realA, classA, err := pl.loadSide(pl.domainA, idxA)
	if err != nil {
		return nil, err
	}
	realB, classB, err := pl.loadSide(pl.domainB, idxB)
	if err != nil {
		return nil, err
	}
	return &TrainBatch{RealA: realA, RealB: realB, ClassA: classA, ClassB: classB}, nil
}

func (pl *PairedLoader) loadSide(ds Dataset, indices []int) (*tensor.Tensor, []int32, error) {
	images := make([]*tensor.Tensor, 0, len(indices))
	classes := make([]int32, 0, len(indices))
	for _, idx := range indices {
		img, class, err := ds.Get(idx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load sample %d: %v", idx, err)
		}
		if len(img.Shape) == 3 {
			var rErr error
			img, rErr = tensor.Reshape(img, append([]int{1}, img.Shape...))
			if rErr != nil {
				return nil, nil, rErr
			}
		}
		images = append(images, img)
		classes = append(classes, class)
	}

	batch, err := tensor.Concat(images...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to assemble batch: %v", err)
	}
	return batch, classes, nil
}

// TensorDataset is an in-memory dataset over pre-built sample tensors.
type TensorDataset struct {
	images  []*tensor.Tensor
	classes []int32
}

func NewTensorDataset(images []*tensor.Tensor, classes []int32) (*TensorDataset, error) {
	if len(images) != len(classes) {
		return nil, fmt.Errorf("image count %d does not match label count %d", len(images), len(classes))
	}
	return &TensorDataset{images: images, classes: classes}, nil
}

func (d *TensorDataset) Len() int {
	return len(d.images)
}

func (d *TensorDataset) Get(idx int) (*tensor.Tensor, int32, error) {
	if idx < 0 || idx >= len(d.images) {
		return nil, 0, fmt.Errorf("index %d out of range [0,%d)", idx, len(d.images))
	}
	return d.images[idx], d.classes[idx], nil
}
