package ndarray_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/gomilk/ndarray"
)

func arange(t *testing.T, shape ...int) ndarray.Array {
	t.Helper()
	n := ndarray.Prod(shape)
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(i)
	}
	a, err := ndarray.FromSlice(data, shape...)
	require.NoError(t, err)
	return a
}

func ExampleArray_Flip() {
	a, _ := ndarray.FromSlice([]int16{1, 2, 3, 4, 5, 6}, 3, 2)
	f, _ := a.Flip(0)
	s, _ := ndarray.ToSlice[int16](f)
	fmt.Println(s)
	// Output: [3 2 1 6 5 4]
}

func ExampleArray_Transpose() {
	a, _ := ndarray.FromSlice([]uint8{1, 2, 3, 4, 5, 6}, 3, 2)
	s, _ := ndarray.ToSlice[uint8](a.Transpose())
	fmt.Println(a.Transpose().Shape(), s)
	// Output: [2 3] [1 4 2 5 3 6]
}

func TestFromSliceShapeMismatch(t *testing.T) {
	_, err := ndarray.FromSlice([]float64{1, 2, 3}, 2, 2)
	assert.ErrorIs(t, err, ndarray.ErrShape)
}

func TestToSliceWrongType(t *testing.T) {
	a := arange(t, 2, 2)
	_, err := ndarray.ToSlice[float64](a)
	assert.ErrorIs(t, err, ndarray.ErrDType)
}

func TestAtSet(t *testing.T) {
	a := arange(t, 4, 3)
	v, err := a.At(1, 2)
	require.NoError(t, err)
	assert.Equal(t, float32(9), v)

	require.NoError(t, a.Set(42, 1, 2))
	f, err := a.Float64At(1, 2)
	require.NoError(t, err)
	assert.Equal(t, 42.0, f)

	_, err = a.At(4, 0)
	assert.ErrorIs(t, err, ndarray.ErrAxis)
	_, err = a.At(0)
	assert.ErrorIs(t, err, ndarray.ErrAxis)
	assert.ErrorIs(t, a.Set("x", 0, 0), ndarray.ErrDType)
}

func TestFlipTwiceIsIdentity(t *testing.T) {
	a := arange(t, 3, 4, 5)
	for ax := 0; ax < 3; ax++ {
		f, err := a.Flip(ax)
		require.NoError(t, err)
		ff, err := f.Flip(ax)
		require.NoError(t, err)
		assert.True(t, ndarray.Equal(a, ff), "axis %d", ax)
		assert.False(t, ndarray.Equal(a, f), "axis %d", ax)
	}
}

func TestMoveAxis(t *testing.T) {
	a := arange(t, 2, 3, 4)
	m, err := a.MoveAxis(2, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 2, 3}, m.Shape())
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 4; k++ {
				want, _ := a.At(i, j, k)
				got, _ := m.At(k, i, j)
				assert.Equal(t, want, got)
			}
		}
	}
	back, err := m.MoveAxis(0, 2)
	require.NoError(t, err)
	assert.True(t, ndarray.Equal(a, back))
}

func TestSwapAxes(t *testing.T) {
	a := arange(t, 2, 3, 4)
	s, err := a.SwapAxes(0, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 3, 2}, s.Shape())
	want, _ := a.At(1, 2, 3)
	got, _ := s.At(3, 2, 1)
	assert.Equal(t, want, got)
	_, err = a.SwapAxes(0, 3)
	assert.ErrorIs(t, err, ndarray.ErrAxis)
}

func TestIndexAndNewAxis(t *testing.T) {
	a := arange(t, 2, 3)
	row, err := a.Index(0, 1)
	require.NoError(t, err)
	s, err := ndarray.ToSlice[float32](row)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 3, 5}, s)

	n, err := row.NewAxis(0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, n.Shape())
	assert.True(t, n.IsContiguous() == row.IsContiguous())
}

func TestContiguousCopyIsDetached(t *testing.T) {
	a := arange(t, 3, 3)
	tr := a.Transpose()
	assert.False(t, tr.IsContiguous())
	c := tr.Contiguous()
	assert.True(t, c.IsContiguous())
	assert.True(t, ndarray.Equal(tr, c))
	require.NoError(t, a.Set(100, 0, 1))
	assert.False(t, ndarray.Equal(tr, c))
}

func TestAstype(t *testing.T) {
	a, err := ndarray.FromSlice([]float64{-1.5, 0, 2.7, 300}, 4)
	require.NoError(t, err)
	b, err := a.Astype(ndarray.Int16)
	require.NoError(t, err)
	s, err := ndarray.ToSlice[int16](b)
	require.NoError(t, err)
	assert.Equal(t, []int16{-1, 0, 2, 300}, s)

	c, err := a.Astype(ndarray.Complex64)
	require.NoError(t, err)
	v, _ := c.At(2)
	require.IsType(t, complex64(0), v)
	assert.InDelta(t, 2.7, real(v.(complex64)), 1e-6)
}

func TestStack(t *testing.T) {
	f1 := arange(t, 2, 2)
	f2 := arange(t, 2, 2)
	require.NoError(t, f2.Set(-1, 0, 0))
	st, err := ndarray.Stack([]ndarray.Array{f1, f2})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 2}, st.Shape())
	v, _ := st.At(1, 0, 0)
	assert.Equal(t, float32(-1), v)
	v, _ = st.At(0, 1, 1)
	assert.Equal(t, float32(3), v)

	_, err = ndarray.Stack([]ndarray.Array{f1, arange(t, 3)})
	assert.ErrorIs(t, err, ndarray.ErrShape)
}

func TestParseDType(t *testing.T) {
	cases := map[string]ndarray.DType{
		"f4":      ndarray.Float32,
		"float64": ndarray.Float64,
		"u2":      ndarray.Uint16,
		"INT8":    ndarray.Int8,
		"c16":     ndarray.Complex128,
	}
	for in, want := range cases {
		got, err := ndarray.ParseDType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ndarray.ParseDType("quaternion")
	assert.Error(t, err)
}

func TestEmptyArray(t *testing.T) {
	a, err := ndarray.Zeros(ndarray.Uint16, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, 0, a.Size())
	assert.Equal(t, []byte{}, a.Bytes())
	assert.Equal(t, 0, a.Clone().Size())
}
