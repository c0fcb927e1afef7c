package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/config"
	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/lats"
	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/tensor"
	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/training"
	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/visuals"
)

func main() {
	var (
		configPath    = flag.String("config", "", "path to YAML config (defaults used when empty)")
		mode          = flag.String("mode", "", "train | test | traverse | deploy | compare")
		checkpointDir = flag.String("checkpoint-dir", "", "checkpoint directory")
		resultsDir    = flag.String("results-dir", "", "results directory")
		batchSize     = flag.Int("batch-size", 0, "training batch size")
		epochs        = flag.Int("epochs", 0, "number of training epochs")
		loadEpoch     = flag.Int("load-epoch", 0, "epoch to load for resume or inference")
		seed          = flag.Int64("seed", 0, "random seed (negative for time-based)")
		debug         = flag.Bool("debug", false, "emit reconstruction entries in sweep output")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger, *configPath, config.Overrides{
		Mode:          *mode,
		CheckpointDir: *checkpointDir,
		ResultsDir:    *resultsDir,
		BatchSize:     *batchSize,
		Epochs:        *epochs,
		LoadEpoch:     *loadEpoch,
		Seed:          *seed,
		Debug:         *debug,
	}); err != nil {
		logger.Fatal("run failed", zap.Error(err))
	}
}

func run(logger *zap.Logger, configPath string, overrides config.Overrides) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.ApplyOverrides(overrides)
	if err := cfg.Validate(); err != nil {
		return err
	}

	model, err := lats.NewAgingModel(cfg)
	if err != nil {
		return err
	}
	logger.Info("model ready",
		zap.String("mode", model.Mode.String()),
		zap.String("run_id", model.RunID()),
		zap.Int("num_classes", cfg.NumClasses))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if model.Mode == lats.ModeTrain {
		return runTraining(ctx, logger, cfg, model)
	}
	return runInference(logger, cfg, model)
}

func runTraining(ctx context.Context, logger *zap.Logger, cfg *config.Config, model *lats.AgingModel) error {
	domainA, err := training.NewImageFolderDataset(cfg.DataRootA, cfg.ImageSize, tensor.CPU)
	if err != nil {
		return fmt.Errorf("domain A data: %w", err)
	}
	domainB, err := training.NewImageFolderDataset(cfg.DataRootB, cfg.ImageSize, tensor.CPU)
	if err != nil {
		return fmt.Errorf("domain B data: %w", err)
	}

	loader, err := training.NewPairedLoader(domainA, domainB, cfg.BatchSize, cfg.Seed)
	if err != nil {
		return err
	}

	renderer := visuals.NewRenderer(cfg.ResultsDir, cfg.ImageSize)
	sink := func(epoch, iter int, v *lats.GenVisuals) error {
		path, err := renderer.RenderTrainSnapshot(v, fmt.Sprintf("train_e%03d_i%06d", epoch, iter))
		if err != nil {
			return err
		}
		logger.Info("snapshot written", zap.String("path", path))
		return nil
	}

	driver := training.NewDriver(model, loader, logger, sink)
	return driver.Run(ctx, training.RunConfig{
		Epochs:          cfg.Epochs,
		StableEpochs:    cfg.StableEpochs,
		DecayEvery:      cfg.DecayEvery,
		SaveEveryEpochs: cfg.SaveEveryEpochs,
		DisplayEvery:    cfg.DisplayEvery,
		LogEvery:        cfg.LogEvery,
		ResumeEpoch:     cfg.LoadEpoch,
	})
}

func runInference(logger *zap.Logger, cfg *config.Config, model *lats.AgingModel) error {
	if err := model.LoadForInference(cfg.LoadEpoch); err != nil {
		return fmt.Errorf("checkpoint load: %w", err)
	}

	dataset, err := training.NewImageFolderDataset(cfg.DataRootA, cfg.ImageSize, tensor.CPU)
	if err != nil {
		return fmt.Errorf("inference data: %w", err)
	}
	images, classes, valid, paths, err := training.LoadInferenceBatch(dataset, cfg.NumClasses)
	if err != nil {
		return err
	}

	sweep := model.NewSweep(cfg)
	results, err := sweep.Run(&lats.InferenceBatch{
		Images:  images,
		Classes: classes,
		Valid:   valid,
		Paths:   paths,
	})
	if err != nil {
		return err
	}
	if len(results) == 0 {
		logger.Warn("no valid samples in the inference batch")
		return nil
	}

	renderer := visuals.NewRenderer(cfg.ResultsDir, cfg.ImageSize)
	path, err := renderer.RenderSweep(results, model.Mode.String())
	if err != nil {
		return err
	}
	logger.Info("sweep complete",
		zap.Int("samples", len(results)),
		zap.String("report", path))
	return nil
}
