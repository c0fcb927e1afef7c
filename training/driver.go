package training

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/lats"
)

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	Epochs          int
	StableEpochs    int
	DecayEvery      int
	SaveEveryEpochs int
	DisplayEvery    int
	LogEvery        int
	ResumeEpoch     int
}

// VisualSink consumes the display images produced by the periodic
// shadow-model pass.
type VisualSink func(epoch, iter int, visuals *lats.GenVisuals) error

// Driver orchestrates epochs over the paired loader: discriminator and
// generator updates, learning-rate decay, checkpoint and visualization
// triggers. Step failures are not retried; they terminate the run.
type Driver struct {
	model  *lats.AgingModel
	loader *PairedLoader
	logger *zap.Logger
	sink   VisualSink
}

func NewDriver(model *lats.AgingModel, loader *PairedLoader, logger *zap.Logger, sink VisualSink) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{model: model, loader: loader, logger: logger, sink: sink}
}

// Run executes the training workload until the configured epoch count or
// context cancellation.
func (d *Driver) Run(ctx context.Context, cfg RunConfig) error {
	if cfg.Epochs <= 0 {
		return fmt.Errorf("trainer: epochs must be > 0")
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 50
	}

	startEpoch := 1
	if cfg.ResumeEpoch > 0 {
		if err := d.model.LoadForResume(cfg.ResumeEpoch); err != nil {
			return fmt.Errorf("trainer: resume from epoch %d: %v", cfg.ResumeEpoch, err)
		}
		startEpoch = cfg.ResumeEpoch + 1
		d.logger.Info("resumed from checkpoint",
			zap.Int("epoch", cfg.ResumeEpoch),
			zap.Float64("lr", d.model.OptG.GetLR()))
	}

	d.logger.Info("training started",
		zap.String("run_id", d.model.RunID()),
		zap.Int("epochs", cfg.Epochs),
		zap.Int("batches_per_epoch", d.loader.Len()))

	iter := 0
	for epoch := startEpoch; epoch <= cfg.Epochs; epoch++ {
		d.loader.Reset()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			batch, err := d.loader.Next()
			if err != nil {
				return fmt.Errorf("trainer: batch load failed: %v", err)
			}
			if batch == nil {
				break // end of epoch
			}
			iter++

			withVisuals := d.sink != nil && cfg.DisplayEvery > 0 && iter%cfg.DisplayEvery == 0
			losses, visuals, err := d.model.TrainStep(batch.RealA, batch.RealB, batch.ClassA, batch.ClassB, withVisuals)
			if err != nil {
				d.logger.Error("training step failed", zap.Int("epoch", epoch), zap.Int("iter", iter), zap.Error(err))
				return err
			}

			if iter%cfg.LogEvery == 0 {
				d.logger.Info("step", append([]zap.Field{
					zap.Int("epoch", epoch),
					zap.Int("iter", iter),
				}, lossFields(losses)...)...)
			}

			if withVisuals && visuals != nil {
				if err := d.sink(epoch, iter, visuals); err != nil {
					// Rendering failures should not kill a training run.
					d.logger.Warn("visualization failed", zap.Int("iter", iter), zap.Error(err))
				}
			}
		}

		if decayDue(epoch, cfg.StableEpochs, cfg.DecayEvery) {
			lr := d.model.UpdateLearningRate()
			d.logger.Info("learning rate decayed", zap.Int("epoch", epoch), zap.Float64("lr", lr))
		}

		if cfg.SaveEveryEpochs > 0 && epoch%cfg.SaveEveryEpochs == 0 {
			if err := d.model.Save(epoch); err != nil {
				d.logger.Error("checkpoint save failed", zap.Int("epoch", epoch), zap.Error(err))
			} else {
				d.logger.Info("checkpoint saved", zap.Int("epoch", epoch))
			}
		}
	}

	if err := d.model.Save(cfg.Epochs); err != nil {
		d.logger.Error("final checkpoint save failed", zap.Error(err))
	}
	d.logger.Info("training finished", zap.Int("iters", iter))
	return nil
}

// decayDue reports whether the learning rate decays at the end of this
// epoch: never during the stable phase, then on every decay interval.
func decayDue(epoch, stableEpochs, decayEvery int) bool {
	if decayEvery <= 0 || epoch <= stableEpochs {
		return false
	}
	return (epoch-stableEpochs)%decayEvery == 0
}

func lossFields(losses map[string]float64) []zap.Field {
	names := make([]string, 0, len(losses))
	for name := range losses {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]zap.Field, 0, len(names))
	for _, name := range names {
		fields = append(fields, zap.Float64(name, losses[name]))
	}
	return fields
}
