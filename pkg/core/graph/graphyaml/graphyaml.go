// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graphyaml reads and writes graph.Model in a YAML text format.
//
// The first graph listed is the main graph, the others are subgraphs and must name a parent graph
// listed before them. Example:
//
//	graphs:
//	  - name: main
//	    inputs:
//	      - {name: x, dtype: Float32, dims: [1, 8, 4, 4]}
//	    outputs:
//	      - {name: y}
//	    initializers:
//	      - {name: scale, dtype: Float32, dims: [4], values: [1, 1, 1, 1]}
//	    nodes:
//	      - name: norm
//	        op_type: InstanceNormalization
//	        inputs: [x, scale, bias]
//	        outputs: [y]
//	        attributes:
//	          - {name: epsilon, type: FLOAT, f: 1e-05}
//
// Tensor values are listed flat, in row-major order, and converted to the tensor dtype.
package graphyaml

import (
	"os"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/graphfusion/pkg/core/graph"
	"github.com/gomlx/graphfusion/pkg/core/shapes"
	"github.com/gomlx/graphfusion/pkg/core/tensors"
	"github.com/gomlx/graphfusion/pkg/support/fsutil"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type modelYAML struct {
	Graphs []graphYAML `yaml:"graphs"`
}

type graphYAML struct {
	Name         string          `yaml:"name"`
	Parent       string          `yaml:"parent,omitempty"`
	Inputs       []valueInfoYAML `yaml:"inputs,omitempty"`
	Outputs      []valueInfoYAML `yaml:"outputs,omitempty"`
	Initializers []tensorYAML    `yaml:"initializers,omitempty"`
	Nodes        []nodeYAML      `yaml:"nodes,omitempty"`
}

type valueInfoYAML struct {
	Name  string `yaml:"name"`
	DType string `yaml:"dtype,omitempty"`
	Dims  []int  `yaml:"dims,omitempty,flow"`
}

type tensorYAML struct {
	Name   string    `yaml:"name,omitempty"`
	DType  string    `yaml:"dtype"`
	Dims   []int     `yaml:"dims,flow"`
	Values []float64 `yaml:"values,flow"`
}

type nodeYAML struct {
	Name       string          `yaml:"name"`
	OpType     string          `yaml:"op_type"`
	Domain     string          `yaml:"domain,omitempty"`
	Inputs     []string        `yaml:"inputs,flow"`
	Outputs    []string        `yaml:"outputs,flow"`
	Attributes []attributeYAML `yaml:"attributes,omitempty"`
}

type attributeYAML struct {
	Name    string      `yaml:"name"`
	Type    string      `yaml:"type"`
	Float   float32     `yaml:"f,omitempty"`
	Int     int64       `yaml:"i,omitempty"`
	Str     string      `yaml:"s,omitempty"`
	Tensor  *tensorYAML `yaml:"t,omitempty"`
	Floats  []float32   `yaml:"floats,omitempty,flow"`
	Ints    []int64     `yaml:"ints,omitempty,flow"`
	Strings []string    `yaml:"strings,omitempty,flow"`
}

// Load reads the model from the YAML file in path. A leading "~" in path is expanded to the home directory.
func Load(path string) (*graph.Model, error) {
	path, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "graphyaml.Load(%q)", path)
	}
	model, err := Parse(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "graphyaml.Load(%q)", path)
	}
	return model, nil
}

// Save writes the model as YAML to the file in path. A leading "~" in path is expanded to the home directory.
func Save(model *graph.Model, path string) error {
	path, err := fsutil.ExpandHome(path)
	if err != nil {
		return err
	}
	data, err := Marshal(model)
	if err != nil {
		return err
	}
	if err = os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "graphyaml.Save(%q)", path)
	}
	return nil
}

// Parse decodes a model from its YAML content.
func Parse(data []byte) (model *graph.Model, err error) {
	var m modelYAML
	if err = yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "graphyaml.Parse")
	}
	if len(m.Graphs) == 0 {
		return nil, errors.New("graphyaml.Parse: no graphs")
	}
	err = exceptions.TryCatch[error](func() {
		model = buildModel(&m)
	})
	if err != nil {
		return nil, errors.WithMessage(err, "graphyaml.Parse")
	}
	return model, nil
}

func buildModel(m *modelYAML) *graph.Model {
	model := graph.NewModel(m.Graphs[0].Name)
	for ii, gy := range m.Graphs {
		var g *graph.Graph
		if ii == 0 {
			if gy.Parent != "" {
				exceptions.Panicf("main graph %q can't have a parent (%q)", gy.Name, gy.Parent)
			}
			g = model.Main()
		} else {
			parent := model.Graph(gy.Parent)
			if parent == nil {
				exceptions.Panicf("graph %q: parent graph %q not defined before it", gy.Name, gy.Parent)
			}
			g = model.AddSubgraph(gy.Name, parent)
		}
		for _, vi := range gy.Inputs {
			g.AddInput(vi.Name, parseShape(vi))
		}
		for _, vi := range gy.Outputs {
			g.AddOutput(vi.Name, parseShape(vi))
		}
		for _, ty := range gy.Initializers {
			if ty.Name == "" {
				exceptions.Panicf("graph %q: initializer without a name", gy.Name)
			}
			g.AddInitializer(ty.Name, parseTensor(&ty))
		}
		for _, ny := range gy.Nodes {
			if ny.OpType == "" {
				exceptions.Panicf("graph %q: node %q without op_type", gy.Name, ny.Name)
			}
			node := graph.NewNode(ny.OpType, ny.Name, ny.Inputs, ny.Outputs)
			node.Domain = ny.Domain
			for _, ay := range ny.Attributes {
				node.AddAttributes(parseAttribute(&ay))
			}
			g.AddNode(node)
		}
	}
	return model
}

func parseDType(name string) dtypes.DType {
	dtype, found := dtypes.MapOfNames[name]
	if !found {
		exceptions.Panicf("unknown dtype %q", name)
	}
	return dtype
}

func parseShape(vi valueInfoYAML) shapes.Shape {
	if vi.DType == "" {
		return shapes.Invalid()
	}
	return shapes.Make(parseDType(vi.DType), vi.Dims...)
}

func parseTensor(ty *tensorYAML) *tensors.Tensor {
	dtype := parseDType(ty.DType)
	tensor, err := tensors.FromFloat64s(dtype, ty.Values, ty.Dims...)
	if err != nil {
		panic(errors.WithMessagef(err, "tensor %q", ty.Name))
	}
	return tensor
}

func parseAttribute(ay *attributeYAML) *graph.Attribute {
	switch graph.AttributeTypeFromString(ay.Type) {
	case graph.AttributeFloat:
		return graph.FloatAttr(ay.Name, ay.Float)
	case graph.AttributeInt:
		return graph.IntAttr(ay.Name, ay.Int)
	case graph.AttributeString:
		return graph.StringAttr(ay.Name, ay.Str)
	case graph.AttributeTensor:
		if ay.Tensor == nil {
			exceptions.Panicf("attribute %q of type TENSOR without a value", ay.Name)
		}
		return graph.TensorAttr(ay.Name, parseTensor(ay.Tensor))
	case graph.AttributeFloats:
		return graph.FloatsAttr(ay.Name, ay.Floats...)
	case graph.AttributeInts:
		return graph.IntsAttr(ay.Name, ay.Ints...)
	case graph.AttributeStrings:
		return graph.StringsAttr(ay.Name, ay.Strings...)
	default:
		exceptions.Panicf("attribute %q has unknown type %q", ay.Name, ay.Type)
	}
	return nil
}

// Marshal encodes the model as YAML.
func Marshal(model *graph.Model) ([]byte, error) {
	var m modelYAML
	for _, g := range model.Graphs() {
		gy := graphYAML{Name: g.Name()}
		if p := g.Parent(); p != nil {
			gy.Parent = p.Name()
		}
		for _, vi := range g.Inputs() {
			gy.Inputs = append(gy.Inputs, valueInfoToYAML(vi))
		}
		for _, vi := range g.Outputs() {
			gy.Outputs = append(gy.Outputs, valueInfoToYAML(vi))
		}
		for _, name := range g.InitializerNames() {
			ty, err := tensorToYAML(name, g.Initializer(name))
			if err != nil {
				return nil, errors.WithMessagef(err, "graphyaml.Marshal: graph %q", g.Name())
			}
			gy.Initializers = append(gy.Initializers, ty)
		}
		for _, node := range g.Nodes() {
			ny := nodeYAML{Name: node.Name, OpType: node.OpType, Domain: node.Domain, Inputs: node.Inputs, Outputs: node.Outputs}
			for _, attr := range node.Attributes {
				ay, err := attributeToYAML(attr)
				if err != nil {
					return nil, errors.WithMessagef(err, "graphyaml.Marshal: node %q", node.Name)
				}
				ny.Attributes = append(ny.Attributes, ay)
			}
			gy.Nodes = append(gy.Nodes, ny)
		}
		m.Graphs = append(m.Graphs, gy)
	}
	data, err := yaml.Marshal(&m)
	if err != nil {
		return nil, errors.Wrap(err, "graphyaml.Marshal")
	}
	return data, nil
}

func valueInfoToYAML(vi graph.ValueInfo) valueInfoYAML {
	viy := valueInfoYAML{Name: vi.Name}
	if vi.Shape.Ok() {
		viy.DType = vi.Shape.DType.String()
		viy.Dims = vi.Shape.Dimensions
	}
	return viy
}

func tensorToYAML(name string, tensor *tensors.Tensor) (tensorYAML, error) {
	values, err := tensor.Float64s()
	if err != nil {
		return tensorYAML{}, errors.WithMessagef(err, "tensor %q", name)
	}
	return tensorYAML{Name: name, DType: tensor.DType().String(), Dims: tensor.Dimensions(), Values: values}, nil
}

func attributeToYAML(attr *graph.Attribute) (attributeYAML, error) {
	ay := attributeYAML{
		Name:    attr.Name,
		Type:    attr.Type.String(),
		Float:   attr.Float,
		Int:     attr.Int,
		Str:     attr.Str,
		Floats:  attr.Floats,
		Ints:    attr.Ints,
		Strings: attr.Strings,
	}
	if attr.Type == graph.AttributeTensor && attr.Tensor != nil {
		ty, err := tensorToYAML("", attr.Tensor)
		if err != nil {
			return ay, err
		}
		ay.Tensor = &ty
	}
	return ay, nil
}
