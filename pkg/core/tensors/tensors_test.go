// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromFlatDataAndDimensions(t *testing.T) {
	weight := FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 4, 1, 1)
	assert.Equal(t, dtypes.Float32, weight.DType())
	assert.Equal(t, 3, weight.Rank())
	assert.Equal(t, 4, weight.Size())
	assert.Equal(t, []int{4, 1, 1}, weight.Dimensions())

	values, err := weight.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, values)

	// Int is stored as Int64.
	ints := FromFlatDataAndDimensions([]int{0, 32, -1}, 3)
	assert.Equal(t, dtypes.Int64, ints.DType())
	assert.Equal(t, []int64{0, 32, -1}, ints.Flat())

	assert.Panics(t, func() { FromFlatDataAndDimensions([]float32{1, 2, 3}, 2, 2) })
}

func TestFromScalarAndDimensions(t *testing.T) {
	ones := FromScalarAndDimensions(float32(1), 32)
	assert.Equal(t, 32, ones.Size())
	values, err := ones.Float64s()
	require.NoError(t, err)
	for _, v := range values {
		assert.Equal(t, 1.0, v)
	}
}

func TestFloat64sHalfPrecision(t *testing.T) {
	f16 := FromFlatDataAndDimensions([]float16.Float16{float16.Fromfloat32(1), float16.Fromfloat32(0.5)}, 2)
	values, err := f16.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0.5}, values)

	bf16 := FromFlatDataAndDimensions([]bfloat16.BFloat16{bfloat16.FromFloat32(-2)}, 1)
	values, err = bf16.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{-2}, values)
}

func TestFromFloat64s(t *testing.T) {
	tensor, err := FromFloat64s(dtypes.Float16, []float64{0, 1, 2, 3}, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float16, tensor.DType())
	values, err := tensor.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2, 3}, values)

	_, err = FromFloat64s(dtypes.Float32, []float64{1}, 2)
	require.Error(t, err)
}

func TestReshapeAndConvert(t *testing.T) {
	weight := FromFlatDataAndDimensions([]float64{1, 2, 3}, 3, 1, 1)
	flat := weight.Reshape(3)
	assert.Equal(t, []int{3}, flat.Dimensions())
	assert.Equal(t, []int{3, 1, 1}, weight.Dimensions(), "Reshape must not change the original")
	assert.Panics(t, func() { weight.Reshape(4) })

	asF32, err := flat.ConvertDType(dtypes.Float32)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, asF32.Flat())
	assert.True(t, asF32.Equal(FromFlatDataAndDimensions([]float32{1, 2, 3}, 3)))
	assert.False(t, asF32.Equal(flat), "different dtypes are not equal")
}

func TestString(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]int64{1, 2}, 2)
	assert.Contains(t, tensor.String(), "{1, 2}")
	large := FromScalarAndDimensions(float32(0.5), 20)
	assert.Contains(t, large.String(), "...")
}
