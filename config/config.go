// Package config loads the run configuration from YAML with CLI overrides.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime knobs for a training or inference run.
type Config struct {
	Mode string `yaml:"mode"`

	// Data and output locations.
	DataRootA     string `yaml:"data_root_a"`
	DataRootB     string `yaml:"data_root_b"`
	CheckpointDir string `yaml:"checkpoint_dir"`
	ResultsDir    string `yaml:"results_dir"`

	// Model geometry.
	BatchSize   int `yaml:"batch_size"`
	ImageSize   int `yaml:"image_size"`
	Channels    int `yaml:"channels"`
	FeatDim     int `yaml:"feat_dim"`
	DiscHidden  int `yaml:"disc_hidden"`
	NumClasses  int `yaml:"num_classes"`
	DimPerStyle int `yaml:"dim_per_style"`

	// Loss weights.
	LambdaRec float64 `yaml:"lambda_rec"`
	LambdaCyc float64 `yaml:"lambda_cyc"`
	LambdaID  float64 `yaml:"lambda_id"`
	LambdaAge float64 `yaml:"lambda_age"`
	R1Gamma   float64 `yaml:"r1_gamma"`

	// Optimization schedule.
	LR              float64 `yaml:"lr"`
	Beta1           float64 `yaml:"beta1"`
	Beta2           float64 `yaml:"beta2"`
	Epochs          int     `yaml:"epochs"`
	StableEpochs    int     `yaml:"stable_epochs"`
	DecayGamma      float64 `yaml:"decay_gamma"`
	DecayEvery      int     `yaml:"decay_every"`
	SaveEveryEpochs int     `yaml:"save_every_epochs"`
	DisplayEvery    int     `yaml:"display_every"`
	LogEvery        int     `yaml:"log_every"`

	// Shadow model and conditioning.
	UseEMA    bool    `yaml:"use_ema"`
	EMADecay  float64 `yaml:"ema_decay"`
	CondNoise bool    `yaml:"cond_noise"`

	// Inference-mode extras.
	InterpStep         float64 `yaml:"interp_step"`
	CompareClass       int     `yaml:"compare_class"`
	CompareJump        int     `yaml:"compare_jump"`
	Debug              bool    `yaml:"debug"`
	OwnAgeWithinDomain bool    `yaml:"own_age_within_domain"`
	LoadEpoch          int     `yaml:"load_epoch"`

	Seed int64 `yaml:"seed"`
}

// Overrides captures CLI supplied values. Zero values leave the file
// settings untouched.
type Overrides struct {
	Mode          string
	CheckpointDir string
	ResultsDir    string
	BatchSize     int
	Epochs        int
	LoadEpoch     int
	Seed          int64
	Debug         bool
}

// Default returns the configuration used when a field is absent from the
// YAML file.
func Default() *Config {
	return &Config{
		Mode:            "train",
		CheckpointDir:   "checkpoints",
		ResultsDir:      "results",
		BatchSize:       4,
		ImageSize:       64,
		Channels:        3,
		FeatDim:         256,
		DiscHidden:      256,
		NumClasses:      6,
		DimPerStyle:     50,
		LambdaRec:       10,
		LambdaCyc:       10,
		LambdaID:        1,
		LambdaAge:       1,
		R1Gamma:         10,
		LR:              2e-4,
		Beta1:           0.5,
		Beta2:           0.999,
		Epochs:          100,
		StableEpochs:    50,
		DecayGamma:      0.5,
		DecayEvery:      10,
		SaveEveryEpochs: 10,
		DisplayEvery:    100,
		LogEvery:        50,
		UseEMA:          true,
		EMADecay:        0.999,
		CondNoise:       true,
		InterpStep:      0.5,
		CompareJump:     1,
		Seed:            -1,
	}
}

// Load reads and validates a Config from YAML. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Mode != "" {
		c.Mode = o.Mode
	}
	if o.CheckpointDir != "" {
		c.CheckpointDir = o.CheckpointDir
	}
	if o.ResultsDir != "" {
		c.ResultsDir = o.ResultsDir
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.LoadEpoch > 0 {
		c.LoadEpoch = o.LoadEpoch
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.Debug {
		c.Debug = true
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.NumClasses <= 0 || c.DimPerStyle <= 0 {
		return fmt.Errorf("num_classes and dim_per_style must be > 0 (got %d, %d)", c.NumClasses, c.DimPerStyle)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.ImageSize <= 0 || c.Channels <= 0 {
		return fmt.Errorf("image_size and channels must be > 0 (got %d, %d)", c.ImageSize, c.Channels)
	}
	if c.LR <= 0 {
		return fmt.Errorf("lr must be > 0 (got %v)", c.LR)
	}
	if c.UseEMA && (c.EMADecay < 0 || c.EMADecay > 1) {
		return fmt.Errorf("ema_decay must be in [0,1] (got %v)", c.EMADecay)
	}
	if c.Mode == "compare" {
		if c.CompareJump <= 0 {
			return fmt.Errorf("compare_jump must be > 0 (got %d)", c.CompareJump)
		}
		if c.CompareClass-c.CompareJump < 0 || c.CompareClass+c.CompareJump >= c.NumClasses {
			return fmt.Errorf("compare window [%d,%d] falls outside the %d classes", c.CompareClass-c.CompareJump, c.CompareClass+c.CompareJump, c.NumClasses)
		}
	}
	if c.Mode == "traverse" && (c.InterpStep <= 0 || c.InterpStep > 1) {
		return fmt.Errorf("interp_step must be in (0,1] (got %v)", c.InterpStep)
	}
	return nil
}
