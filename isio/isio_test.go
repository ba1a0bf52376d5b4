package isio_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/gomilk/isio"
	"github.com/nasa-jpl/gomilk/ndarray"
)

func newStream(t *testing.T, shape []int, dt ndarray.DType) (*isio.Image, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.im.shm")
	img, err := isio.Create(path, "test", shape, dt, isio.CreateOptions{NbKw: 8, Location: -1, Shared: true})
	require.NoError(t, err)
	t.Cleanup(func() { img.Close() })
	return img, path
}

func ramp(t *testing.T, shape ...int) ndarray.Array {
	t.Helper()
	data := make([]float32, ndarray.Prod(shape))
	for i := range data {
		data[i] = float32(i) * 0.5
	}
	a, err := ndarray.FromSlice(data, shape...)
	require.NoError(t, err)
	return a
}

func TestCreateOpenRoundTrip(t *testing.T) {
	w, path := newStream(t, []int{3, 4}, ndarray.Float32)
	frame := ramp(t, 3, 4)
	require.NoError(t, w.Write(frame))

	r, err := isio.Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []int{3, 4}, r.Shape())
	assert.Equal(t, ndarray.Float32, r.DType())
	got, err := r.Copy()
	require.NoError(t, err)
	assert.True(t, ndarray.Equal(frame, got))

	md, err := r.Metadata()
	require.NoError(t, err)
	assert.Equal(t, "test", md.Name)
	assert.Equal(t, uint64(1), md.Cnt0)
	assert.Equal(t, 12, md.NElement)
	assert.Equal(t, 8, md.NbKw)
	assert.Equal(t, -1, md.Location)
	assert.Equal(t, isio.SemCount, md.NbSem)
	assert.False(t, md.WriteTime.IsZero())

	ino, err := isio.PathInode(path)
	require.NoError(t, err)
	assert.Equal(t, ino, md.Inode)
	assert.Equal(t, w.Inode(), r.Inode())
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := isio.Open(filepath.Join(dir, "nope.im.shm"))
	assert.ErrorIs(t, err, isio.ErrNotFound)

	junk := filepath.Join(dir, "junk.im.shm")
	require.NoError(t, os.WriteFile(junk, []byte(strings.Repeat("x", 1024)), 0o644))
	_, err = isio.Open(junk)
	assert.ErrorIs(t, err, isio.ErrBadMagic)

	_, err = isio.PathInode(filepath.Join(dir, "nope.im.shm"))
	assert.ErrorIs(t, err, isio.ErrNotFound)
}

func TestCreateRejectsBadGeometry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.im.shm")
	_, err := isio.Create(path, "bad", []int{0, 4}, ndarray.Float32, isio.CreateOptions{Shared: true})
	assert.ErrorIs(t, err, ndarray.ErrShape)
	_, err = isio.Create(path, "bad", []int{4}, ndarray.Invalid, isio.CreateOptions{Shared: true})
	assert.ErrorIs(t, err, ndarray.ErrDType)
}

func TestWriteChecks(t *testing.T) {
	w, _ := newStream(t, []int{3, 4}, ndarray.Float32)
	assert.ErrorIs(t, w.Write(ramp(t, 4, 3)), isio.ErrWriteShape)
	i16, err := ndarray.Zeros(ndarray.Int16, 3, 4)
	require.NoError(t, err)
	assert.ErrorIs(t, w.Write(i16), isio.ErrWriteType)

	// strided frames are copied element by element
	tr := ramp(t, 4, 3).Transpose()
	require.NoError(t, w.Write(tr))
	got, err := w.Copy()
	require.NoError(t, err)
	assert.True(t, ndarray.Equal(tr, got))
}

func TestSemaphoreClaims(t *testing.T) {
	w, path := newStream(t, []int{2}, ndarray.Uint8)
	r1, err := isio.Open(path)
	require.NoError(t, err)
	defer r1.Close()
	r2, err := isio.Open(path)
	require.NoError(t, err)
	defer r2.Close()

	k1, err := r1.SemWaitIndex(0)
	require.NoError(t, err)
	assert.Equal(t, 0, k1)
	k2, err := r2.SemWaitIndex(0)
	require.NoError(t, err)
	assert.Equal(t, 1, k2)

	again, err := r1.SemWaitIndex(5)
	require.NoError(t, err)
	assert.Equal(t, k1, again)

	r1.SemRelease()
	assert.Equal(t, -1, r1.SemIndex())
	k3, err := w.SemWaitIndex(0)
	require.NoError(t, err)
	assert.Equal(t, 0, k3)
}

func TestSemaphorePostAndWait(t *testing.T) {
	w, path := newStream(t, []int{2}, ndarray.Uint8)
	r, err := isio.Open(path)
	require.NoError(t, err)
	defer r.Close()
	k, err := r.SemWaitIndex(0)
	require.NoError(t, err)

	ok, err := r.SemTryWait(k)
	require.NoError(t, err)
	assert.False(t, ok)

	frame, _ := ndarray.Zeros(ndarray.Uint8, 2)
	require.NoError(t, w.Write(frame))
	v, err := r.SemValue(k)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	ok, err = r.SemTryWait(k)
	require.NoError(t, err)
	assert.True(t, ok)

	err = r.SemTimedWait(k, 20*time.Millisecond)
	assert.ErrorIs(t, err, isio.ErrSemTimeout)

	for n := 0; n < 2*isio.SemMaxVal; n++ {
		require.NoError(t, w.SemPost(k))
	}
	v, _ = r.SemValue(k)
	assert.Equal(t, isio.SemMaxVal, v)
	require.NoError(t, r.SemFlush(k))
	v, _ = r.SemValue(k)
	assert.Equal(t, 0, v)

	done := make(chan error, 1)
	go func() { done <- r.SemTimedWait(k, 5*time.Second) }()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, w.Write(frame))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken by the write")
	}
	c, err := r.Counter()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), c)

	_, err = r.SemTryWait(isio.SemCount)
	assert.ErrorIs(t, err, isio.ErrSemIndex)
}

func TestDestroyWakesWaiters(t *testing.T) {
	w, path := newStream(t, []int{2, 2}, ndarray.Int32)
	r, err := isio.Open(path)
	require.NoError(t, err)
	defer r.Close()
	k, err := r.SemWaitIndex(0)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.SemWait(k) }()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, w.Destroy())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, isio.ErrDestroyed)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken by destroy")
	}
	assert.True(t, r.Destroyed())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = isio.Open(path)
	assert.ErrorIs(t, err, isio.ErrNotFound)
	_, err = w.Copy()
	assert.ErrorIs(t, err, isio.ErrClosed)
}

func TestDestroyLeavesNewerStream(t *testing.T) {
	old, path := newStream(t, []int{2}, ndarray.Uint8)
	fresh, err := isio.Create(path, "test", []int{2}, ndarray.Uint8, isio.CreateOptions{Shared: true})
	require.NoError(t, err)
	defer fresh.Close()
	require.NotEqual(t, old.Inode(), fresh.Inode())

	require.NoError(t, old.Destroy())
	_, err = os.Stat(path)
	assert.NoError(t, err)
	assert.False(t, fresh.Destroyed())
}

func TestKeywords(t *testing.T) {
	w, path := newStream(t, []int{2}, ndarray.Uint8)
	kws := []isio.Keyword{
		{Name: "yo", Value: "lo", Comment: "a comment"},
		{Name: "toto", Value: 17},
		{Name: "arthur", Value: 3.1415},
	}
	require.NoError(t, w.SetKeywords(kws))

	r, err := isio.Open(path)
	require.NoError(t, err)
	defer r.Close()
	got, err := r.Keywords()
	require.NoError(t, err)
	assert.Equal(t, []isio.Keyword{
		{Name: "yo", Value: "lo", Comment: "a comment"},
		{Name: "toto", Value: int64(17)},
		{Name: "arthur", Value: 3.1415},
	}, got)

	require.NoError(t, r.SetKeywords([]isio.Keyword{{Name: "roger", Value: "trois"}}))
	got, err = w.Keywords()
	require.NoError(t, err)
	assert.Equal(t, []isio.Keyword{{Name: "roger", Value: "trois"}}, got)
}

func TestKeywordErrors(t *testing.T) {
	w, _ := newStream(t, []int{2}, ndarray.Uint8)
	many := make([]isio.Keyword, 9)
	for i := range many {
		many[i] = isio.Keyword{Name: "k", Value: i}
	}
	assert.ErrorIs(t, w.SetKeywords(many), isio.ErrKeywordCapacity)
	assert.ErrorIs(t, w.SetKeywords([]isio.Keyword{{Name: "", Value: 1}}), isio.ErrKeywordName)
	assert.ErrorIs(t, w.SetKeywords([]isio.Keyword{{Name: strings.Repeat("n", 17), Value: 1}}), isio.ErrKeywordName)
	assert.ErrorIs(t, w.SetKeywords([]isio.Keyword{{Name: "s", Value: strings.Repeat("v", 17)}}), isio.ErrKeywordValue)
	assert.ErrorIs(t, w.SetKeywords([]isio.Keyword{{Name: "c", Value: []int{1}}}), isio.ErrKeywordValue)

	long := strings.Repeat("c", 100)
	require.NoError(t, w.SetKeywords([]isio.Keyword{{Name: "c", Value: true, Comment: long}}))
	got, err := w.Keywords()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].Value)
	assert.Equal(t, long[:isio.KeywordCommentLen], got[0].Comment)
}

func TestPrivateStream(t *testing.T) {
	path := filepath.Join(t.TempDir(), "priv.im.shm")
	img, err := isio.Create(path, "priv", []int{4, 4}, ndarray.Float64, isio.CreateOptions{NbKw: 2})
	require.NoError(t, err)
	defer img.Close()
	assert.False(t, img.Shared())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	frame, _ := ndarray.Zeros(ndarray.Float64, 4, 4)
	require.NoError(t, frame.Set(2.5, 1, 1))
	require.NoError(t, img.Write(frame))
	got, err := img.Copy()
	require.NoError(t, err)
	assert.True(t, ndarray.Equal(frame, got))
	require.NoError(t, img.SetKeywords([]isio.Keyword{{Name: "a", Value: 1}}))
	kws, err := img.Keywords()
	require.NoError(t, err)
	assert.Len(t, kws, 1)
}
