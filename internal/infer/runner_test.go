package infer

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/example/nninfer/internal/bench"
	"github.com/example/nninfer/internal/bench/stageprof"
	"github.com/example/nninfer/internal/engine"
	"github.com/example/nninfer/internal/engine/enginetest"
	"github.com/example/nninfer/internal/testutil"
)

type countingProgress struct{ n int }

func (p *countingProgress) Add(n int) error {
	p.n += n
	return nil
}

// fixture writes n samples that fit enginetest.TwoInputs.
func fixture(t *testing.T, n int) (string, string, []Sample) {
	t.Helper()

	root := t.TempDir()
	in0 := map[string][]byte{}
	in1 := map[string][]byte{}
	for i := range n {
		name := "s" + string(rune('a'+i)) + ".bin"
		in0[name] = bytes.Repeat([]byte{byte(i + 1)}, 16)
		in1[name] = bytes.Repeat([]byte{byte(i + 100)}, 16)
	}
	d0 := testutil.WriteInputDir(t, root, "00_data", in0)
	d1 := testutil.WriteInputDir(t, root, "01_data", in1)

	samples, err := Pair([]string{d0, d1}, PairOptions{StrictNames: true})
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}

	return root, filepath.Join(root, "result_Files"), samples
}

// steppingClock advances by step on every call.
func steppingClock(step time.Duration) func() time.Time {
	t := time.Unix(1_700_000_000, 0)
	return func() time.Time {
		now := t
		t = t.Add(step)
		return now
	}
}

func TestRunner_TwoSamples(t *testing.T) {
	_, resultDir, samples := fixture(t, 2)
	model := &enginetest.FakeModel{InputInfos: enginetest.TwoInputs()}
	progress := &countingProgress{}

	r := Runner{Model: model, Writer: ResultWriter{Dir: resultDir}, Progress: progress, Now: steppingClock(5 * time.Millisecond)}
	res, err := r.Run(context.Background(), samples)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := testutil.ListDir(t, resultDir); !slices.Equal(got, []string{"sa.bin", "sb.bin"}) {
		t.Fatalf("result files = %v", got)
	}
	if len(res.Records) != 2 || model.Calls != 2 || progress.n != 2 {
		t.Fatalf("records=%d calls=%d progress=%d; want 2 each", len(res.Records), model.Calls, progress.n)
	}

	mean, err := bench.MeanMillis(res.Records)
	if err != nil {
		t.Fatalf("MeanMillis: %v", err)
	}
	if mean != 5 {
		t.Fatalf("mean = %v; want 5", mean)
	}

	// Echo model: concatenated result is input0 bytes followed by input1 bytes.
	got, err := os.ReadFile(filepath.Join(resultDir, "sa.bin"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := append(bytes.Repeat([]byte{1}, 16), bytes.Repeat([]byte{100}, 16)...)
	if !bytes.Equal(got, want) {
		t.Fatalf("sa.bin = %v; want %v", got, want)
	}
}

func TestRunner_InputsBoundToSignature(t *testing.T) {
	_, resultDir, samples := fixture(t, 1)
	model := &enginetest.FakeModel{InputInfos: enginetest.TwoInputs()}

	r := Runner{Model: model, Writer: ResultWriter{Dir: resultDir}}
	if _, err := r.Run(context.Background(), samples); err != nil {
		t.Fatalf("Run: %v", err)
	}

	seen := model.Seen[0]
	if seen[0].Name != "source" || seen[0].DType != engine.DTypeFloat32 || !slices.Equal(seen[0].Shape, []int64{1, 4}) {
		t.Fatalf("slot 0 = %v", seen[0].TensorInfo)
	}
	if seen[1].Name != "source_mask" || seen[1].DType != engine.DTypeInt64 || !slices.Equal(seen[1].Shape, []int64{1, 2}) {
		t.Fatalf("slot 1 = %v", seen[1].TensorInfo)
	}
}

func TestRunner_PredictFailureStopsRun(t *testing.T) {
	_, resultDir, samples := fixture(t, 3)
	boom := errors.New("device lost")
	model := &enginetest.FakeModel{
		InputInfos: enginetest.TwoInputs(),
		Fn: func(ctx context.Context, call int, inputs []engine.Tensor) ([]engine.Tensor, error) {
			if call == 2 {
				return nil, boom
			}
			return enginetest.Echo(ctx, call, inputs)
		},
	}

	r := Runner{Model: model, Writer: ResultWriter{Dir: resultDir}}
	res, err := r.Run(context.Background(), samples)
	if !errors.Is(err, ErrPredictionFailed) || !errors.Is(err, boom) {
		t.Fatalf("err = %v; want ErrPredictionFailed wrapping cause", err)
	}

	if got := testutil.ListDir(t, resultDir); !slices.Equal(got, []string{"sa.bin"}) {
		t.Fatalf("result files = %v; want only the first sample", got)
	}
	if model.Calls != 2 {
		t.Fatalf("calls = %d; want 2", model.Calls)
	}
	if len(res.Records) != 1 {
		t.Fatalf("records = %d; want 1", len(res.Records))
	}
}

func TestRunner_SlotCountMismatch(t *testing.T) {
	_, resultDir, samples := fixture(t, 2)
	model := &enginetest.FakeModel{InputInfos: enginetest.TwoInputs()[:1]}

	r := Runner{Model: model, Writer: ResultWriter{Dir: resultDir}}
	_, err := r.Run(context.Background(), samples)
	if !errors.Is(err, ErrSlotCountMismatch) {
		t.Fatalf("err = %v; want ErrSlotCountMismatch", err)
	}
	if model.Calls != 0 {
		t.Fatalf("calls = %d; want 0", model.Calls)
	}
	if got := testutil.ListDir(t, resultDir); len(got) != 0 {
		t.Fatalf("result files = %v; want none", got)
	}
}

func TestRunner_PayloadSizeMismatch(t *testing.T) {
	root := t.TempDir()
	d0 := testutil.WriteInputDir(t, root, "00_data", map[string][]byte{"a.bin": make([]byte, 15)})
	d1 := testutil.WriteInputDir(t, root, "01_data", map[string][]byte{"a.bin": make([]byte, 16)})
	samples, err := Pair([]string{d0, d1}, PairOptions{})
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}

	model := &enginetest.FakeModel{InputInfos: enginetest.TwoInputs()}
	r := Runner{Model: model, Writer: ResultWriter{Dir: filepath.Join(root, "out")}}
	if _, err := r.Run(context.Background(), samples); !errors.Is(err, ErrPayloadSizeMismatch) {
		t.Fatalf("err = %v; want ErrPayloadSizeMismatch", err)
	}
	if model.Calls != 0 {
		t.Fatalf("model called with a bad payload")
	}
}

func TestRunner_DeterministicOrder(t *testing.T) {
	_, resultDir, samples := fixture(t, 4)
	model := &enginetest.FakeModel{InputInfos: enginetest.TwoInputs()}

	r := Runner{Model: model, Writer: ResultWriter{Dir: resultDir}}
	res, err := r.Run(context.Background(), samples)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for i, rec := range res.Records {
		if rec.Index != i || rec.Input != samples[i].Inputs[0] {
			t.Fatalf("record %d = %+v; want sample %s", i, rec, samples[i].Inputs[0])
		}
		if model.Seen[i][0].Data[0] != byte(i+1) {
			t.Fatalf("call %d saw sample %d", i, model.Seen[i][0].Data[0])
		}
	}
}

func TestRunner_StageProfile(t *testing.T) {
	_, resultDir, samples := fixture(t, 2)
	model := &enginetest.FakeModel{InputInfos: enginetest.TwoInputs()}
	var prof stageprof.Profiler

	r := Runner{Model: model, Writer: ResultWriter{Dir: resultDir}, Stages: &prof}
	if _, err := r.Run(context.Background(), samples); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, s := range prof.Summaries() {
		if s.Count != 2 {
			t.Fatalf("stage %s ran %d times; want 2", s.Stage, s.Count)
		}
	}
}

func TestRunner_WriteFailureStopsRun(t *testing.T) {
	_, resultDir, samples := fixture(t, 3)
	// A directory squatting on the second result path makes its rename fail.
	if err := os.MkdirAll(filepath.Join(resultDir, "sb.bin"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	model := &enginetest.FakeModel{InputInfos: enginetest.TwoInputs()}

	r := Runner{Model: model, Writer: ResultWriter{Dir: resultDir}}
	res, err := r.Run(context.Background(), samples)
	if !errors.Is(err, ErrResultWriteFailed) {
		t.Fatalf("err = %v; want ErrResultWriteFailed", err)
	}

	if model.Calls != 2 {
		t.Fatalf("calls = %d; want 2", model.Calls)
	}
	if got := testutil.ListDir(t, resultDir); !slices.Equal(got, []string{"sa.bin", "sb.bin"}) {
		t.Fatalf("result dir = %v; want sa.bin plus the blocking directory", got)
	}
	if _, err := os.Stat(filepath.Join(resultDir, "sc.bin")); !os.IsNotExist(err) {
		t.Fatalf("third sample was written: %v", err)
	}
	if len(res.Records) != 1 || !slices.Equal(res.Written, []string{filepath.Join(resultDir, "sa.bin")}) {
		t.Fatalf("records=%d written=%v; want only the first sample", len(res.Records), res.Written)
	}
}

func TestRunner_DottedNamesWriteDistinctResults(t *testing.T) {
	root := t.TempDir()
	files := map[string][]byte{"utt.1.bin": make([]byte, 16), "utt.2.bin": make([]byte, 16)}
	d0 := testutil.WriteInputDir(t, root, "00_data", files)
	d1 := testutil.WriteInputDir(t, root, "01_data", files)
	samples, err := Pair([]string{d0, d1}, PairOptions{StrictNames: true})
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}

	resultDir := filepath.Join(root, "result_Files")
	model := &enginetest.FakeModel{InputInfos: enginetest.TwoInputs()}
	r := Runner{Model: model, Writer: ResultWriter{Dir: resultDir}}
	res, err := r.Run(context.Background(), samples)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := testutil.ListDir(t, resultDir); !slices.Equal(got, []string{"utt.1.bin", "utt.2.bin"}) {
		t.Fatalf("result files = %v", got)
	}
	if len(res.Written) != 2 || res.Written[0] == res.Written[1] {
		t.Fatalf("written = %v; want two distinct paths", res.Written)
	}
}

func TestRunner_ResultNameCollisionFailsBeforePredict(t *testing.T) {
	root := t.TempDir()
	files := map[string][]byte{"a.bin": make([]byte, 16), "a.raw": make([]byte, 16)}
	d0 := testutil.WriteInputDir(t, root, "00_data", files)
	d1 := testutil.WriteInputDir(t, root, "01_data", files)
	samples, err := Pair([]string{d0, d1}, PairOptions{})
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}

	resultDir := filepath.Join(root, "result_Files")
	model := &enginetest.FakeModel{InputInfos: enginetest.TwoInputs()}
	r := Runner{Model: model, Writer: ResultWriter{Dir: resultDir}}
	if _, err := r.Run(context.Background(), samples); !errors.Is(err, ErrResultNameCollision) {
		t.Fatalf("err = %v; want ErrResultNameCollision", err)
	}
	if model.Calls != 0 {
		t.Fatalf("calls = %d; want 0", model.Calls)
	}
	if got := testutil.ListDir(t, resultDir); len(got) != 0 {
		t.Fatalf("result files = %v; want none", got)
	}
}

func TestRunner_CancelledContext(t *testing.T) {
	_, resultDir, samples := fixture(t, 2)
	model := &enginetest.FakeModel{InputInfos: enginetest.TwoInputs()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := Runner{Model: model, Writer: ResultWriter{Dir: resultDir}}
	if _, err := r.Run(ctx, samples); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v; want context.Canceled", err)
	}
	if model.Calls != 0 {
		t.Fatalf("calls = %d; want 0", model.Calls)
	}
}
