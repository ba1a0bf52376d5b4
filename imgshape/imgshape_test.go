package imgshape_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/gomilk/imgshape"
	"github.com/nasa-jpl/gomilk/ndarray"
)

var (
	shapes2D = [][]int{{1, 1}, {1, 5}, {5, 1}, {3, 4}}
	shapes3D = [][]int{{1, 1, 1}, {1, 3, 4}, {3, 1, 4}, {3, 4, 1}, {2, 3, 4}}
	dtypes   = []ndarray.DType{
		ndarray.Float32, ndarray.Float64,
		ndarray.Int32, ndarray.Uint16,
		ndarray.Complex64, ndarray.Complex128,
	}
	states = []imgshape.Which3DState{
		imgshape.Last2Last, imgshape.Last2Front,
		imgshape.Front2Front, imgshape.Front2Last,
	}
)

// random fills an array with random bytes; comparisons are bitwise so any
// bit pattern is a fine test value
func random(t *testing.T, dt ndarray.DType, shape []int) ndarray.Array {
	t.Helper()
	a, err := ndarray.Zeros(dt, shape...)
	require.NoError(t, err)
	rand.Read(a.Bytes())
	return a
}

func TestImageRoundTrip(t *testing.T) {
	for _, dt := range dtypes {
		for _, sh := range shapes2D {
			x := random(t, dt, sh)
			for s := 0; s < 8; s++ {
				enc, err := imgshape.ImageEncode(x, s)
				require.NoError(t, err)
				dec, err := imgshape.ImageDecode(enc, s)
				require.NoError(t, err)
				assert.True(t, ndarray.Equal(x, dec), "%v %v s=%d", dt, sh, s)
			}
		}
	}
}

func TestFiveAndSixAreInverses(t *testing.T) {
	x := random(t, ndarray.Int32, []int{3, 4})
	a, err := imgshape.ImageEncode(x, 5)
	require.NoError(t, err)
	b, err := imgshape.ImageEncode(a, 6)
	require.NoError(t, err)
	assert.True(t, ndarray.Equal(x, b))
}

func TestInvalidSymcode(t *testing.T) {
	x := random(t, ndarray.Float32, []int{2, 2})
	_, err := imgshape.ImageEncode(x, 8)
	assert.ErrorIs(t, err, imgshape.ErrSymcode)
	_, err = imgshape.ImageDecode(x, -1)
	assert.ErrorIs(t, err, imgshape.ErrSymcode)
	_, err = imgshape.ImageEncode(random(t, ndarray.Float32, []int{2, 2, 2}), 0)
	assert.ErrorIs(t, err, imgshape.ErrNDim)
	_, err = imgshape.FullCubeEncode(random(t, ndarray.Float32, []int{2, 2, 2}), 0, 4)
	assert.ErrorIs(t, err, imgshape.ErrTriDim)
}

func TestCubeRoundTrip(t *testing.T) {
	for _, dt := range dtypes {
		for _, sh := range shapes3D {
			x := random(t, dt, sh)
			for s := 0; s < 8; s++ {
				enc, err := imgshape.CubeFrontEncode(x, s)
				require.NoError(t, err)
				dec, err := imgshape.CubeFrontDecode(enc, s)
				require.NoError(t, err)
				assert.True(t, ndarray.Equal(x, dec), "front %v %v s=%d", dt, sh, s)

				enc, err = imgshape.CubeBackEncode(x, s)
				require.NoError(t, err)
				dec, err = imgshape.CubeBackDecode(enc, s)
				require.NoError(t, err)
				assert.True(t, ndarray.Equal(x, dec), "back %v %v s=%d", dt, sh, s)
			}
		}
	}
}

func TestRoll(t *testing.T) {
	for _, sh := range shapes3D {
		x := random(t, ndarray.Uint16, sh)
		fw, err := imgshape.RollForward(x)
		require.NoError(t, err)
		assert.Equal(t, []int{sh[2], sh[0], sh[1]}, fw.Shape())
		bk, err := imgshape.RollBack(fw)
		require.NoError(t, err)
		assert.True(t, ndarray.Equal(x, bk))
	}
}

func TestFullCubeRoundTrip(t *testing.T) {
	for _, dt := range dtypes {
		for _, sh := range shapes3D {
			x := random(t, dt, sh)
			for s := 0; s < 8; s++ {
				for _, st := range states {
					enc, err := imgshape.FullCubeEncode(x, s, st)
					require.NoError(t, err)
					dec, err := imgshape.FullCubeDecode(enc, s, st)
					require.NoError(t, err)
					assert.True(t, ndarray.Equal(x, dec), "%v %v s=%d %v", dt, sh, s, st)
				}
			}
		}
	}
}

func TestSpecificTransforms(t *testing.T) {
	for _, sh := range shapes2D {
		x := random(t, ndarray.Float64, sh)

		enc, err := imgshape.ImageEncode(x, 1)
		require.NoError(t, err)
		want, _ := x.Flip(0)
		assert.True(t, ndarray.Equal(want, enc))

		enc, err = imgshape.ImageEncode(x, 2)
		require.NoError(t, err)
		want, _ = x.Flip(1)
		assert.True(t, ndarray.Equal(want, enc))

		enc, err = imgshape.ImageEncode(x, 4)
		require.NoError(t, err)
		assert.True(t, ndarray.Equal(x.Transpose(), enc))
	}
}

func TestShapeHelpersMatchTransforms(t *testing.T) {
	for _, sh := range append(append([][]int{{7}}, shapes2D...), shapes3D...) {
		x := random(t, ndarray.Uint8, sh)
		for s := 0; s < 8; s++ {
			for _, st := range states {
				enc, err := imgshape.Encode(x, s, st)
				require.NoError(t, err)
				es, err := imgshape.EncodeShape(sh, s, st)
				require.NoError(t, err)
				assert.Equal(t, enc.Shape(), es, "%v s=%d %v", sh, s, st)

				dec, err := imgshape.Decode(x, s, st)
				require.NoError(t, err)
				ds, err := imgshape.DecodeShape(sh, s, st)
				require.NoError(t, err)
				assert.Equal(t, dec.Shape(), ds, "%v s=%d %v", sh, s, st)
			}
		}
	}
}

func TestSqueezeRoundTrip(t *testing.T) {
	cases := [][]int{{1}, {5}, {1, 1}, {1, 5}, {5, 5}, {1, 1, 1}, {1, 5, 5}, {5, 5, 5}}
	for _, sh := range cases {
		for _, auto := range []bool{true, false} {
			q := imgshape.NewSqueezer(sh, auto)
			x := random(t, ndarray.Float32, sh)
			sq, err := q.Read(x)
			require.NoError(t, err)
			if auto {
				want := []int{}
				for _, n := range sh {
					if n != 1 {
						want = append(want, n)
					}
				}
				assert.Equal(t, want, sq.Shape())
			} else {
				assert.Equal(t, sh, sq.Shape())
			}
			assert.Equal(t, sq.Shape(), q.Shape())

			unsq, err := q.Write(sq.Clone())
			require.NoError(t, err)
			rebuilt, _ := ndarray.Zeros(ndarray.Float32, sh...)
			require.NoError(t, ndarray.Copy(rebuilt, unsq))
			assert.True(t, ndarray.Equal(x, rebuilt), "%v auto=%v", sh, auto)
		}
	}
}

func TestSqueezeRejectsWrongShape(t *testing.T) {
	q := imgshape.NewSqueezer([]int{1, 4}, true)
	_, err := q.Read(random(t, ndarray.Float32, []int{4}))
	assert.ErrorIs(t, err, ndarray.ErrShape)
	_, err = q.Write(random(t, ndarray.Float32, []int{1, 4}))
	assert.ErrorIs(t, err, ndarray.ErrShape)
}
