package engine

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func writeManifest(t *testing.T, dir, body string) string {
	t.Helper()

	path := filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	return path
}

func TestLoadManifestSignatureMatchesByFilename(t *testing.T) {
	tmp := t.TempDir()
	manifest := writeManifest(t, tmp, `{
  "graphs": [
    {
      "name": "encoder",
      "filename": "encoder.onnx",
      "inputs": [{"name":"feats","dtype":"float","shape":[1,"frames",80]}],
      "outputs": [{"name":"enc","dtype":"float","shape":[1,"frames",256]}]
    },
    {
      "name": "speech_transformer",
      "filename": "speech_transformer.onnx",
      "inputs": [
        {"name":"source","dtype":"float","shape":[1,512,320]},
        {"name":"source_mask","dtype":"float","shape":[1,512]}
      ],
      "outputs": [{"name":"predicted","dtype":"int64","shape":[1,100]}]
    }
  ]
}`)

	sig, err := LoadManifestSignature(manifest, filepath.Join(tmp, "speech_transformer.onnx"))
	if err != nil {
		t.Fatalf("LoadManifestSignature: %v", err)
	}

	if len(sig.Inputs) != 2 || sig.Inputs[0].Name != "source" || sig.Inputs[1].Name != "source_mask" {
		t.Fatalf("unexpected inputs: %+v", sig.Inputs)
	}
	if !slices.Equal(sig.Inputs[0].Shape, []int64{1, 512, 320}) {
		t.Fatalf("unexpected shape: %v", sig.Inputs[0].Shape)
	}
	if sig.Outputs[0].DType != DTypeInt64 {
		t.Fatalf("unexpected output dtype: %s", sig.Outputs[0].DType)
	}
}

func TestLoadManifestSignatureSymbolicDims(t *testing.T) {
	tmp := t.TempDir()
	manifest := writeManifest(t, tmp, `{"graphs":[{"name":"g","filename":"g.onnx",
  "inputs":[{"name":"x","dtype":"float","shape":["batch",-1,4]}],"outputs":[]}]}`)

	sig, err := LoadManifestSignature(manifest, "other-name.onnx")
	if err != nil {
		t.Fatalf("single graph manifests should match any model: %v", err)
	}
	if !slices.Equal(sig.Inputs[0].Shape, []int64{-1, -1, 4}) {
		t.Fatalf("shape = %v", sig.Inputs[0].Shape)
	}
}

func TestLoadManifestSignatureErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no graphs", `{"graphs":[]}`},
		{"bad json", `{`},
		{"bad dtype", `{"graphs":[{"name":"g","filename":"g.onnx","inputs":[{"name":"x","dtype":"string","shape":[1]}]}]}`},
		{"fractional dim", `{"graphs":[{"name":"g","filename":"g.onnx","inputs":[{"name":"x","dtype":"float","shape":[1.5]}]}]}`},
		{"ambiguous graph", `{"graphs":[{"name":"a","filename":"a.onnx"},{"name":"b","filename":"b.onnx"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manifest := writeManifest(t, t.TempDir(), tt.body)
			if _, err := LoadManifestSignature(manifest, "c.onnx"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
