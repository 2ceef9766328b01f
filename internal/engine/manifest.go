package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// NodeInfo is a tensor declaration as written in a graph manifest. Shape
// entries are numbers or symbolic names; symbolic and negative dims are dynamic.
type NodeInfo struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
	Shape []any  `json:"shape"`
}

// Signature is the declared input and output list of a graph.
type Signature struct {
	Inputs  []TensorInfo
	Outputs []TensorInfo
}

type graphManifest struct {
	Graphs []manifestGraph `json:"graphs"`
}

type manifestGraph struct {
	Name     string     `json:"name"`
	Filename string     `json:"filename"`
	Inputs   []NodeInfo `json:"inputs"`
	Outputs  []NodeInfo `json:"outputs"`
}

// LoadManifestSignature reads the signature of modelPath from a graph
// manifest. The graph is matched by file name; a manifest holding a single
// graph matches any model.
func LoadManifestSignature(manifestPath, modelPath string) (Signature, error) {
	if manifestPath == "" {
		return Signature{}, errors.New("manifest path is required")
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return Signature{}, fmt.Errorf("read graph manifest: %w", err)
	}

	var manifest graphManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Signature{}, fmt.Errorf("decode graph manifest: %w", err)
	}

	if len(manifest.Graphs) == 0 {
		return Signature{}, errors.New("graph manifest has no graphs")
	}

	graph, err := selectGraph(manifest.Graphs, filepath.Base(modelPath))
	if err != nil {
		return Signature{}, err
	}

	inputs, err := toTensorInfos(graph.Inputs)
	if err != nil {
		return Signature{}, fmt.Errorf("graph %q inputs: %w", graph.Name, err)
	}

	outputs, err := toTensorInfos(graph.Outputs)
	if err != nil {
		return Signature{}, fmt.Errorf("graph %q outputs: %w", graph.Name, err)
	}

	return Signature{Inputs: inputs, Outputs: outputs}, nil
}

func selectGraph(graphs []manifestGraph, modelName string) (manifestGraph, error) {
	for _, g := range graphs {
		if filepath.Base(g.Filename) == modelName {
			return g, nil
		}
	}

	if len(graphs) == 1 {
		return graphs[0], nil
	}

	names := make([]string, 0, len(graphs))
	for _, g := range graphs {
		names = append(names, g.Filename)
	}

	return manifestGraph{}, fmt.Errorf("no manifest graph for %q (have %s)", modelName, strings.Join(names, ", "))
}

func toTensorInfos(nodes []NodeInfo) ([]TensorInfo, error) {
	out := make([]TensorInfo, 0, len(nodes))
	for _, n := range nodes {
		if n.Name == "" {
			return nil, errors.New("tensor with empty name")
		}

		dtype, err := ParseDType(n.DType)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", n.Name, err)
		}

		shape, err := resolveDims(n.Shape)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", n.Name, err)
		}

		out = append(out, TensorInfo{Name: n.Name, DType: dtype, Shape: shape})
	}

	return out, nil
}

func resolveDims(shape []any) ([]int64, error) {
	out := make([]int64, len(shape))
	for i, dim := range shape {
		switch v := dim.(type) {
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("shape[%d]=%v is not an integer", i, v)
			}
			if v < 0 {
				out[i] = -1
				continue
			}
			out[i] = int64(v)
		case int:
			out[i] = max(int64(v), -1)
		case int64:
			out[i] = max(v, -1)
		case string:
			if strings.TrimSpace(v) == "" {
				return nil, fmt.Errorf("shape[%d] has empty symbolic dimension", i)
			}
			out[i] = -1
		default:
			return nil, fmt.Errorf("shape[%d] has unsupported type %T", i, dim)
		}
	}

	return out, nil
}
