package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/networks"
)

// Checkpoint represents one persisted model state. Models are keyed by tag
// ("G", "D", "g_running") and epoch; a tag/epoch pair maps to one file.
type Checkpoint struct {
	Weights  []WeightTensor     `json:"weights"`
	State    TrainingState      `json:"training_state"`
	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// TrainingState captures the training progress at save time
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	LearningRate float64 `json:"learning_rate"`
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version   string    `json:"version"`
	RunID     string    `json:"run_id"`
	Tag       string    `json:"tag"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists tagged model states under a single directory. One Store
// instance corresponds to one run; its run id is stamped into every file
// it writes.
type Store struct {
	dir   string
	runID string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir, runID: uuid.New().String()}
}

// RunID returns the identifier stamped into checkpoints written by this store.
func (s *Store) RunID() string {
	return s.runID
}

// FilePath returns the checkpoint file location for a tag/epoch pair.
func (s *Store) FilePath(tag string, epoch int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d_net_%s.json", epoch, tag))
}

// Save writes a model's parameter registry to disk. The write goes through
// a temporary file and rename so a failed save never leaves a truncated
// checkpoint, and in-memory state is untouched either way.
func (s *Store) Save(model networks.Network, tag string, epoch int, lr float64) error {
	named := model.NamedParameters()
	weights := make([]WeightTensor, 0, len(named))
	for _, p := range named {
		data, err := p.Value.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("parameter %q: %v", p.Name, err)
		}
		weights = append(weights, WeightTensor{
			Name:  p.Name,
			Shape: append([]int{}, p.Value.Shape...),
			Data:  append([]float32{}, data...),
		})
	}

	checkpoint := &Checkpoint{
		Weights: weights,
		State:   TrainingState{Epoch: epoch, LearningRate: lr},
		Metadata: CheckpointMetadata{
			Version:   "1.0",
			RunID:     s.runID,
			Tag:       tag,
			CreatedAt: time.Now(),
		},
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %v", err)
	}

	encoded, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %v", err)
	}

	path := s.FilePath(tag, epoch)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize checkpoint file: %v", err)
	}
	return nil
}

// Load reads a tagged checkpoint and copies its weights into the model's
// parameter registry, matching strictly by name and shape.
func (s *Store) Load(model networks.Network, tag string, epoch int) (*Checkpoint, error) {
	path := s.FilePath(tag, epoch)
	encoded, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file %s: %v", path, err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(encoded, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint %s: %v", path, err)
	}

	byName := make(map[string]WeightTensor, len(checkpoint.Weights))
	for _, w := range checkpoint.Weights {
		byName[w.Name] = w
	}

	for _, p := range model.NamedParameters() {
		w, ok := byName[p.Name]
		if !ok {
			return nil, fmt.Errorf("checkpoint %s is missing parameter %q", path, p.Name)
		}
		if !shapeMatches(w.Shape, p.Value.Shape) {
			return nil, fmt.Errorf("parameter %q shape mismatch: checkpoint has %v, model expects %v", p.Name, w.Shape, p.Value.Shape)
		}
		if len(w.Data) != p.Value.NumElems {
			return nil, fmt.Errorf("parameter %q size mismatch: checkpoint has %d values, model expects %d", p.Name, len(w.Data), p.Value.NumElems)
		}
		if err := p.Value.SetData(append([]float32{}, w.Data...)); err != nil {
			return nil, fmt.Errorf("parameter %q: %v", p.Name, err)
		}
	}
	return &checkpoint, nil
}

func shapeMatches(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
