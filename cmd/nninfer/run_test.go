package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/example/nninfer/internal/config"
	"github.com/example/nninfer/internal/engine"
	"github.com/example/nninfer/internal/engine/enginetest"
	"github.com/example/nninfer/internal/history"
	"github.com/example/nninfer/internal/infer"
	"github.com/example/nninfer/internal/testutil"
)

// useFakeModel swaps loadModel for the duration of the test.
func useFakeModel(t *testing.T, m *enginetest.FakeModel) *engine.LoadOptions {
	t.Helper()

	var seen engine.LoadOptions
	orig := loadModel
	loadModel = func(opts engine.LoadOptions) (engine.Model, error) {
		seen = opts
		return m, nil
	}
	t.Cleanup(func() { loadModel = orig })

	return &seen
}

// batchDir lays out preprocess_Result/00_data and 01_data with n samples
// sized for enginetest.TwoInputs and returns a config pointing at them.
func batchDir(t *testing.T, n int) config.Config {
	t.Helper()

	root := t.TempDir()
	pre := filepath.Join(root, "preprocess_Result")
	in0 := map[string][]byte{}
	in1 := map[string][]byte{}
	for i := range n {
		name := "speech_" + string(rune('a'+i)) + ".bin"
		in0[name] = bytes.Repeat([]byte{byte(i)}, 16)
		in1[name] = bytes.Repeat([]byte{byte(i)}, 16)
	}
	testutil.WriteInputDir(t, pre, "00_data", in0)
	testutil.WriteInputDir(t, pre, "01_data", in1)

	model := filepath.Join(root, "speech.onnx")
	if err := os.WriteFile(model, []byte("graph"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Model.Path = model
	cfg.Input.Input0Path = filepath.Join(pre, "00_data")
	cfg.Output.ResultDir = filepath.Join(root, "result_Files")
	cfg.Output.ReportPath = filepath.Join(root, "time_Result", "test_perform_static.txt")
	cfg.Output.Format = config.FormatNone

	return cfg
}

func TestRunInference_WritesResultsAndReport(t *testing.T) {
	cfg := batchDir(t, 2)
	model := &enginetest.FakeModel{InputInfos: enginetest.TwoInputs()}
	opts := useFakeModel(t, model)

	var stdout, stderr bytes.Buffer
	if err := runInference(context.Background(), cfg, &stdout, &stderr); err != nil {
		t.Fatalf("runInference: %v", err)
	}

	if got := testutil.ListDir(t, cfg.Output.ResultDir); !slices.Equal(got, []string{"speech_a.bin", "speech_b.bin"}) {
		t.Fatalf("result files = %v", got)
	}

	report, err := os.ReadFile(cfg.Output.ReportPath)
	if err != nil {
		t.Fatalf("ReadFile report: %v", err)
	}
	if !strings.HasPrefix(string(report), "NN inference cost average time: ") ||
		!strings.HasSuffix(string(report), " ms of infer_count 2\n") {
		t.Fatalf("report = %q", report)
	}
	if !strings.Contains(stdout.String(), "infer_count 2") {
		t.Fatalf("stdout = %q", stdout.String())
	}

	if model.Closed != 1 {
		t.Fatalf("model closed %d times; want 1", model.Closed)
	}
	if opts.Path != cfg.Model.Path || opts.Device.PrecisionMode != "allow_fp32_to_fp16" {
		t.Fatalf("load options = %+v", *opts)
	}
}

func TestRunInference_CountMismatchWritesNothing(t *testing.T) {
	cfg := batchDir(t, 2)
	extra := filepath.Join(filepath.Dir(cfg.Input.Input0Path), "01_data", "speech_z.bin")
	if err := os.WriteFile(extra, make([]byte, 16), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	model := &enginetest.FakeModel{InputInfos: enginetest.TwoInputs()}
	useFakeModel(t, model)

	var stdout, stderr bytes.Buffer
	err := runInference(context.Background(), cfg, &stdout, &stderr)
	if !errors.Is(err, infer.ErrInputCountMismatch) {
		t.Fatalf("err = %v; want ErrInputCountMismatch", err)
	}

	if got := testutil.ListDir(t, cfg.Output.ResultDir); len(got) != 0 {
		t.Fatalf("result files = %v; want none", got)
	}
	if _, statErr := os.Stat(cfg.Output.ReportPath); !os.IsNotExist(statErr) {
		t.Fatal("report written for a failed run")
	}
	if model.Closed != 1 {
		t.Fatalf("model closed %d times; want 1", model.Closed)
	}
}

func TestRunInference_PredictFailureRecordedInHistory(t *testing.T) {
	cfg := batchDir(t, 3)
	cfg.History.DBPath = filepath.Join(t.TempDir(), "history.db")
	model := &enginetest.FakeModel{
		InputInfos: enginetest.TwoInputs(),
		Fn: func(ctx context.Context, call int, inputs []engine.Tensor) ([]engine.Tensor, error) {
			if call == 2 {
				return nil, errors.New("device lost")
			}
			return enginetest.Echo(ctx, call, inputs)
		},
	}
	useFakeModel(t, model)

	var stdout, stderr bytes.Buffer
	err := runInference(context.Background(), cfg, &stdout, &stderr)
	if !errors.Is(err, infer.ErrPredictionFailed) {
		t.Fatalf("err = %v; want ErrPredictionFailed", err)
	}
	if !strings.Contains(err.Error(), "speech_b.bin") {
		t.Fatalf("error should name the failing sample: %v", err)
	}

	if got := testutil.ListDir(t, cfg.Output.ResultDir); !slices.Equal(got, []string{"speech_a.bin"}) {
		t.Fatalf("result files = %v", got)
	}
	if _, statErr := os.Stat(cfg.Output.ReportPath); !os.IsNotExist(statErr) {
		t.Fatal("report written for a failed run")
	}

	store, err := history.Open(cfg.History.DBPath)
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	defer store.Close()

	runs, err := store.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != history.RunFailed || runs[0].Samples != 1 {
		t.Fatalf("runs = %+v", runs)
	}
}

func TestRunInference_SplitOutputsAndJSON(t *testing.T) {
	cfg := batchDir(t, 1)
	cfg.Output.SplitOutputs = true
	cfg.Output.Format = config.FormatJSON
	useFakeModel(t, &enginetest.FakeModel{InputInfos: enginetest.TwoInputs()})

	var stdout, stderr bytes.Buffer
	if err := runInference(context.Background(), cfg, &stdout, &stderr); err != nil {
		t.Fatalf("runInference: %v", err)
	}

	if got := testutil.ListDir(t, cfg.Output.ResultDir); !slices.Equal(got, []string{"speech_a_0.bin", "speech_a_1.bin"}) {
		t.Fatalf("result files = %v", got)
	}
	if !strings.HasPrefix(strings.TrimSpace(stdout.String()), "{") {
		t.Fatalf("stdout should be JSON only: %q", stdout.String())
	}
}

func TestRunInference_InvalidFormat(t *testing.T) {
	cfg := batchDir(t, 1)
	cfg.Output.Format = "xml"
	model := &enginetest.FakeModel{InputInfos: enginetest.TwoInputs()}
	useFakeModel(t, model)

	var stdout, stderr bytes.Buffer
	if err := runInference(context.Background(), cfg, &stdout, &stderr); err == nil {
		t.Fatal("expected error for invalid format")
	}
	if model.Calls != 0 {
		t.Fatal("model should not run with an invalid format")
	}
}

func TestRunInference_LoadFailure(t *testing.T) {
	cfg := batchDir(t, 1)
	orig := loadModel
	loadModel = func(engine.LoadOptions) (engine.Model, error) { return nil, engine.ErrInvalidModelPath }
	t.Cleanup(func() { loadModel = orig })

	var stdout, stderr bytes.Buffer
	err := runInference(context.Background(), cfg, &stdout, &stderr)
	if !errors.Is(err, engine.ErrInvalidModelPath) {
		t.Fatalf("err = %v; want ErrInvalidModelPath", err)
	}
}

func TestRootCmd_RunsWithoutSubcommand(t *testing.T) {
	cfg := batchDir(t, 2)
	t.Chdir(t.TempDir())
	useFakeModel(t, &enginetest.FakeModel{InputInfos: enginetest.TwoInputs()})

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{
		"--mindir_path=" + cfg.Model.Path,
		"--input0_path=" + cfg.Input.Input0Path,
		"--result_dir=" + cfg.Output.ResultDir,
		"--report_path=" + cfg.Output.ReportPath,
		"--format=none",
		"--log-level=error",
	})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := testutil.ListDir(t, cfg.Output.ResultDir); len(got) != 2 {
		t.Fatalf("result files = %v", got)
	}
	if !strings.Contains(out.String(), "infer_count 2") {
		t.Fatalf("output = %q", out.String())
	}
}

// ---------------------------------------------------------------------------
// inputDirs
// ---------------------------------------------------------------------------

func TestInputDirs(t *testing.T) {
	in := config.InputConfig{Input0Path: "/p/00_data"}

	got, err := inputDirs(in, 2)
	if err != nil || !slices.Equal(got, []string{"/p/00_data", "/p/01_data"}) {
		t.Fatalf("derived = %v, %v", got, err)
	}

	in.Input1Path = "/elsewhere/mask"
	got, err = inputDirs(in, 2)
	if err != nil || !slices.Equal(got, []string{"/p/00_data", "/elsewhere/mask"}) {
		t.Fatalf("explicit = %v, %v", got, err)
	}

	got, err = inputDirs(config.InputConfig{Input0Path: "/p/00_data"}, 3)
	if err != nil || !slices.Equal(got, []string{"/p/00_data", "/p/01_data", "/p/02_data"}) {
		t.Fatalf("three slots = %v, %v", got, err)
	}

	got, err = inputDirs(config.InputConfig{Input0Path: "/p/source"}, 1)
	if err != nil || !slices.Equal(got, []string{"/p/source"}) {
		t.Fatalf("single slot = %v, %v", got, err)
	}

	if _, err := inputDirs(config.InputConfig{Input0Path: "/p/source"}, 2); !errors.Is(err, infer.ErrDeriveInputDir) {
		t.Fatalf("err = %v; want ErrDeriveInputDir", err)
	}
	if _, err := inputDirs(in, 0); !errors.Is(err, engine.ErrEmptyInputSignature) {
		t.Fatalf("err = %v; want ErrEmptyInputSignature", err)
	}
}
