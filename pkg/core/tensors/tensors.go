// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements a `Tensor`, a local representation of a multi-dimensional array
// bound to a graph edge: an initializer, or the value carried by a Constant node.
//
// Tensors here are always local (stored as a Go flat slice of the underlying dtype), and they are
// treated as immutable once created: the fusion passes read them, and build new tensors when a
// rewritten node needs different constants.
//
// There are various ways to construct a Tensor:
//
//   - FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int): creates a Tensor with the
//     given dimensions, and set the flattened values with the given data. Example:
//
//     t := FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2) // Tensor with [[1,2], [3,4]]
//
//   - FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int): creates a Tensor with the
//     given dimensions, filled with the scalar value given.
//
//   - FromFloat64s(dtype, values, dimensions...): converts float64 values to the requested dtype. Used by
//     the text formats, where values are always parsed as float64.
package tensors

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/graphfusion/pkg/core/shapes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// Tensor is a multidimensional array stored locally as a flat slice.
type Tensor struct {
	shape shapes.Shape

	// flat holds the array with actual data, a slice of the Go type for the dtype of the shape.
	flat any
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, filled with the flattened values given in `data`.
// The data is copied to the Tensor.
// The `DType` is inferred from the `data` type. Go's `int` is stored as Int64.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	if ints, ok := any(data).([]int); ok {
		converted := make([]int64, len(ints))
		for ii, v := range ints {
			converted[ii] = int64(v)
		}
		return FromFlatDataAndDimensions(converted, dimensions...)
	}
	dtype := dtypes.FromGenericsType[T]()
	shape := shapes.Make(dtype, dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatDataAndDimensions(%s): data size is %d, but dimensions size is %d", shape, len(data), shape.Size())
	}
	return &Tensor{shape: shape, flat: slices.Clone(data)}
}

// FromScalarAndDimensions creates a tensor with the given dimensions, filled with the
// given scalar value replicated everywhere.
func FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int) *Tensor {
	size := shapes.Make(dtypes.Int64, dimensions...).Size()
	data := make([]T, size)
	for ii := range data {
		data[ii] = value
	}
	return FromFlatDataAndDimensions(data, dimensions...)
}

// FromFloat64s creates a tensor of the given dtype, converting each of the values.
// It returns an error if the dtype is not a real numeric type, or if the number of values doesn't match.
func FromFloat64s(dtype dtypes.DType, values []float64, dimensions ...int) (*Tensor, error) {
	shape := shapes.Make(dtype, dimensions...)
	if len(values) != shape.Size() {
		return nil, errors.Errorf("tensors.FromFloat64s(%s): got %d values, but shape requires %d", shape, len(values), shape.Size())
	}
	var flat any
	switch dtype {
	case dtypes.Float32:
		flat = convertFromFloat64[float32](values)
	case dtypes.Float64:
		flat = slices.Clone(values)
	case dtypes.Float16:
		data := make([]float16.Float16, len(values))
		for ii, v := range values {
			data[ii] = float16.Fromfloat32(float32(v))
		}
		flat = data
	case dtypes.BFloat16:
		data := make([]bfloat16.BFloat16, len(values))
		for ii, v := range values {
			data[ii] = bfloat16.FromFloat32(float32(v))
		}
		flat = data
	case dtypes.Int8:
		flat = convertFromFloat64[int8](values)
	case dtypes.Int16:
		flat = convertFromFloat64[int16](values)
	case dtypes.Int32:
		flat = convertFromFloat64[int32](values)
	case dtypes.Int64:
		flat = convertFromFloat64[int64](values)
	case dtypes.Uint8:
		flat = convertFromFloat64[uint8](values)
	case dtypes.Uint16:
		flat = convertFromFloat64[uint16](values)
	case dtypes.Uint32:
		flat = convertFromFloat64[uint32](values)
	case dtypes.Uint64:
		flat = convertFromFloat64[uint64](values)
	case dtypes.Bool:
		data := make([]bool, len(values))
		for ii, v := range values {
			data[ii] = v != 0
		}
		flat = data
	default:
		return nil, errors.Errorf("tensors.FromFloat64s: dtype %s not supported", dtype)
	}
	return &Tensor{shape: shape, flat: flat}, nil
}

func convertFromFloat64[T constraints.Integer | constraints.Float](values []float64) []T {
	data := make([]T, len(values))
	for ii, v := range values {
		data[ii] = T(v)
	}
	return data
}

func convertToFloat64[T constraints.Integer | constraints.Float](flat []T) []float64 {
	values := make([]float64, len(flat))
	for ii, v := range flat {
		values[ii] = float64(v)
	}
	return values
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor's shape.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank of the tensor's shape.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size returns the number of elements of the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Dimensions returns a copy of the tensor's dimensions.
func (t *Tensor) Dimensions() []int { return slices.Clone(t.shape.Dimensions) }

// Flat returns the flat slice holding the data. It must be treated as read-only.
func (t *Tensor) Flat() any { return t.flat }

// Float64s returns the values of the tensor converted to float64.
//
// Bool values are converted to 0 or 1. It returns an error for dtypes that can't be represented
// as a real number (complex numbers).
func (t *Tensor) Float64s() ([]float64, error) {
	switch flat := t.flat.(type) {
	case []float32:
		return convertToFloat64(flat), nil
	case []float64:
		return slices.Clone(flat), nil
	case []float16.Float16:
		values := make([]float64, len(flat))
		for ii, v := range flat {
			values[ii] = float64(v.Float32())
		}
		return values, nil
	case []bfloat16.BFloat16:
		values := make([]float64, len(flat))
		for ii, v := range flat {
			values[ii] = float64(v.Float32())
		}
		return values, nil
	case []int8:
		return convertToFloat64(flat), nil
	case []int16:
		return convertToFloat64(flat), nil
	case []int32:
		return convertToFloat64(flat), nil
	case []int64:
		return convertToFloat64(flat), nil
	case []uint8:
		return convertToFloat64(flat), nil
	case []uint16:
		return convertToFloat64(flat), nil
	case []uint32:
		return convertToFloat64(flat), nil
	case []uint64:
		return convertToFloat64(flat), nil
	case []bool:
		values := make([]float64, len(flat))
		for ii, v := range flat {
			if v {
				values[ii] = 1
			}
		}
		return values, nil
	}
	return nil, errors.Errorf("Tensor(%s).Float64s: dtype not convertible to float64", t.shape)
}

// Reshape returns a new tensor with the same dtype and data (copied), and the given dimensions.
// It panics if the number of elements doesn't match.
func (t *Tensor) Reshape(dimensions ...int) *Tensor {
	newShape := shapes.Make(t.shape.DType, dimensions...)
	if newShape.Size() != t.shape.Size() {
		exceptions.Panicf("Tensor(%s).Reshape(%v): size mismatch", t.shape, dimensions)
	}
	return &Tensor{shape: newShape, flat: cloneFlat(t.flat)}
}

// ConvertDType returns a new tensor with the values converted to dtype.
func (t *Tensor) ConvertDType(dtype dtypes.DType) (*Tensor, error) {
	if dtype == t.shape.DType {
		return &Tensor{shape: t.shape.Clone(), flat: cloneFlat(t.flat)}, nil
	}
	values, err := t.Float64s()
	if err != nil {
		return nil, errors.WithMessagef(err, "Tensor.ConvertDType(%s)", dtype)
	}
	return FromFloat64s(dtype, values, t.shape.Dimensions...)
}

func cloneFlat(flat any) any {
	switch f := flat.(type) {
	case []float32:
		return slices.Clone(f)
	case []float64:
		return slices.Clone(f)
	case []float16.Float16:
		return slices.Clone(f)
	case []bfloat16.BFloat16:
		return slices.Clone(f)
	case []int8:
		return slices.Clone(f)
	case []int16:
		return slices.Clone(f)
	case []int32:
		return slices.Clone(f)
	case []int64:
		return slices.Clone(f)
	case []uint8:
		return slices.Clone(f)
	case []uint16:
		return slices.Clone(f)
	case []uint32:
		return slices.Clone(f)
	case []uint64:
		return slices.Clone(f)
	case []bool:
		return slices.Clone(f)
	}
	// Unknown element types are shared; they are never mutated.
	return flat
}

// Equal checks whether t and other have the same shape and bit-exact values (NaN never equals).
func (t *Tensor) Equal(other *Tensor) bool {
	if t == other {
		return true
	}
	if t == nil || other == nil || !t.shape.Equal(other.shape) {
		return false
	}
	values0, err0 := t.Float64s()
	values1, err1 := other.Float64s()
	if err0 != nil || err1 != nil {
		return false
	}
	return slices.Equal(values0, values1)
}

// maxStringValues is the maximum number of values included by String.
const maxStringValues = 8

// String pretty-prints the shape and the first few values.
func (t *Tensor) String() string {
	values, err := t.Float64s()
	if err != nil {
		return fmt.Sprintf("Tensor%s", t.shape)
	}
	parts := make([]string, 0, min(len(values), maxStringValues)+1)
	for ii, v := range values {
		if ii == maxStringValues {
			parts = append(parts, "...")
			break
		}
		if math.Trunc(v) == v && !t.shape.DType.IsFloat() {
			parts = append(parts, fmt.Sprintf("%d", int64(v)))
		} else {
			parts = append(parts, fmt.Sprintf("%.4g", v))
		}
	}
	return fmt.Sprintf("Tensor%s{%s}", t.shape, strings.Join(parts, ", "))
}
