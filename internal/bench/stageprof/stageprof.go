// Package stageprof attributes wall time and CPU profile samples to the
// read, predict and write stages of an inference run.
package stageprof

import (
	"context"
	"fmt"
	"os"
	"runtime/pprof"
	"sync"
	"time"
)

type Stage string

const (
	StageRead    Stage = "read"
	StagePredict Stage = "predict"
	StageWrite   Stage = "write"
)

// Stages lists the stages in pipeline order.
var Stages = []Stage{StageRead, StagePredict, StageWrite}

// Profiler accumulates per-stage wall time. The zero value is ready to use.
type Profiler struct {
	mu     sync.Mutex
	totals map[Stage]time.Duration
	counts map[Stage]int
}

// Do runs fn under a pprof "stage" label and adds its wall time to stage.
// A nil Profiler still runs fn.
func (p *Profiler) Do(ctx context.Context, stage Stage, fn func(context.Context)) {
	if p == nil {
		fn(ctx)
		return
	}

	pprof.Do(ctx, pprof.Labels("stage", string(stage)), func(ctx context.Context) {
		start := time.Now()
		fn(ctx)
		p.add(stage, time.Since(start))
	})
}

func (p *Profiler) add(stage Stage, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.totals == nil {
		p.totals = make(map[Stage]time.Duration)
		p.counts = make(map[Stage]int)
	}
	p.totals[stage] += d
	p.counts[stage]++
}

// Summary is the accumulated time of one stage.
type Summary struct {
	Stage Stage
	Count int
	Total time.Duration
	// Share is the fraction of the summed time of all stages.
	Share float64
}

// Summaries returns one entry per stage in pipeline order.
func (p *Profiler) Summaries() []Summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	var all time.Duration
	for _, d := range p.totals {
		all += d
	}

	out := make([]Summary, 0, len(Stages))
	for _, st := range Stages {
		s := Summary{Stage: st, Count: p.counts[st], Total: p.totals[st]}
		if all > 0 {
			s.Share = float64(s.Total) / float64(all)
		}
		out = append(out, s)
	}

	return out
}

// StartCPUProfile writes a CPU profile to path until the returned stop
// function is called.
func StartCPUProfile(path string) (func() error, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create cpuprofile: %w", err)
	}

	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("start cpuprofile: %w", err)
	}

	return func() error {
		pprof.StopCPUProfile()
		return f.Close()
	}, nil
}
