package infer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/nninfer/internal/bench"
	"github.com/example/nninfer/internal/bench/stageprof"
	"github.com/example/nninfer/internal/engine"
)

// Progress is advanced once per completed sample.
type Progress interface {
	Add(n int) error
}

// Runner drives Read -> Predict -> Write for each sample, strictly in order.
// The first failure stops the run.
type Runner struct {
	Model    engine.Model
	Writer   ResultWriter
	Progress Progress
	// Stages, when set, collects per-stage wall time under pprof labels.
	Stages *stageprof.Profiler
	// Now defaults to time.Now.
	Now func() time.Time
}

// Result is what a run produced up to the point it stopped. Records only
// cover samples whose results were written.
type Result struct {
	Written []string
	Records []bench.Record
}

func (r *Runner) Run(ctx context.Context, samples []Sample) (Result, error) {
	now := r.Now
	if now == nil {
		now = time.Now
	}

	signature := r.Model.Inputs()

	var res Result
	if err := CheckResultStems(samples); err != nil {
		return res, err
	}

	for _, s := range samples {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if len(s.Inputs) != len(signature) {
			return res, fmt.Errorf("%w: sample %s has %d inputs, model declares %d",
				ErrSlotCountMismatch, s.Name(), len(s.Inputs), len(signature))
		}

		slog.Debug("start predict", "sample", s.Index, "inputs", s.Inputs)

		inputs := make([]engine.Tensor, len(s.Inputs))
		var err error
		r.Stages.Do(ctx, stageprof.StageRead, func(context.Context) {
			for slot, path := range s.Inputs {
				var t engine.Tensor
				if t, err = Materialize(path, signature[slot]); err != nil {
					return
				}
				inputs[slot] = t
			}
		})
		if err != nil {
			return res, err
		}

		var (
			outputs    []engine.Tensor
			start, end time.Time
		)
		r.Stages.Do(ctx, stageprof.StagePredict, func(ctx context.Context) {
			start = now()
			outputs, err = r.Model.Predict(ctx, inputs)
			end = now()
		})
		if err != nil {
			return res, fmt.Errorf("%w: %s: %w", ErrPredictionFailed, s.Inputs[0], err)
		}

		var written []string
		r.Stages.Do(ctx, stageprof.StageWrite, func(context.Context) {
			written, err = r.Writer.Write(s.Inputs[0], outputs)
		})
		res.Written = append(res.Written, written...)
		if err != nil {
			return res, err
		}

		rec := bench.Record{Index: s.Index, Input: s.Inputs[0], Start: start, End: end}
		res.Records = append(res.Records, rec)

		slog.Debug(
			"sample done",
			"sample", s.Index,
			"input", s.Inputs[0],
			"latency_ms", bench.Millis(rec.Duration()),
			"outputs", len(outputs),
		)

		if r.Progress != nil {
			_ = r.Progress.Add(1)
		}
	}

	return res, nil
}
