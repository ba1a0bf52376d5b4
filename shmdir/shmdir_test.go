package shmdir_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/gomilk/shmdir"
)

func ExampleDir_ImagePath() {
	d := shmdir.Dir{Root: "/milk/shm"}
	p, _ := d.ImagePath("dm00disp.im.shm")
	fmt.Println(p)
	// Output: /milk/shm/dm00disp.im.shm
}

func TestCheckName(t *testing.T) {
	d := shmdir.Dir{Root: "/milk/shm"}
	cases := []struct {
		in   string
		want string
		err  error
	}{
		{"cam", "cam", nil},
		{"cam.im.shm", "cam", nil},
		{"/milk/shm/cam.im.shm", "cam", nil},
		{"/milk/shm/cam", "cam", nil},
		{"/tmp/cam.im.shm", "", shmdir.ErrOutsideRoot},
		{"/milk/shmother/cam.im.shm", "", shmdir.ErrOutsideRoot},
		{"/milk/shm/sub/cam.im.shm", "", shmdir.ErrNested},
		{".im.shm", "", shmdir.ErrEmptyName},
	}
	for _, c := range cases {
		got, err := d.CheckName(c.in, shmdir.ImageSuffix)
		if c.err != nil {
			assert.ErrorIs(t, err, c.err, c.in)
			continue
		}
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestGlobAndExists(t *testing.T) {
	d, err := shmdir.New(t.TempDir())
	require.NoError(t, err)
	for _, f := range []string{"b.fps.shm", "a.fps.shm", "c.im.shm", "ab.fps.shm"} {
		require.NoError(t, os.WriteFile(filepath.Join(d.Root, f), nil, 0o644))
	}
	names, err := d.Glob("*", shmdir.FPSSuffix)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "ab", "b"}, names)

	names, err = d.Glob("a*", shmdir.FPSSuffix)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "ab"}, names)

	ok, err := d.Exists("c", shmdir.ImageSuffix)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = d.Exists("c", shmdir.FPSSuffix)
	require.NoError(t, err)
	assert.False(t, ok)
}
