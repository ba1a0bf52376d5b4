package conf_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/gomilk/conf"
	"github.com/nasa-jpl/gomilk/imgshape"
)

func TestMissingFileGivesDefaults(t *testing.T) {
	root := t.TempDir()
	t.Setenv(conf.EnvShmDir, root)
	c, err := conf.Load(filepath.Join(root, "missing.yml"))
	require.NoError(t, err)
	assert.Equal(t, root, c.ShmDir)
	assert.Equal(t, conf.Default().Addr, c.Addr)
	assert.Equal(t, 4, c.Symcode)
	assert.Equal(t, 10*time.Millisecond, c.PollInterval)
	assert.Equal(t, "frame", c.Recorder.Prefix)
}

func TestFileThenEnvironment(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "milk.yml")
	c := conf.Default()
	c.Addr = ":9001"
	c.TriDim = int(imgshape.Front2Last)
	c.PollInterval = 250 * time.Millisecond
	c.Recorder.Root = "/data"
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, conf.Write(f, c))
	require.NoError(t, f.Close())

	t.Setenv(conf.EnvShmDir, root)
	got, err := conf.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9001", got.Addr)
	assert.Equal(t, 250*time.Millisecond, got.PollInterval)
	assert.Equal(t, "/data", got.Recorder.Root)
	assert.Equal(t, root, got.ShmDir)

	d, err := got.Dir()
	require.NoError(t, err)
	assert.Equal(t, root, d.Root)
	tri, err := got.Which3D()
	require.NoError(t, err)
	assert.Equal(t, imgshape.Front2Last, tri)
}

func TestBadTriDim(t *testing.T) {
	c := conf.Default()
	c.TriDim = 9
	_, err := c.Which3D()
	assert.ErrorIs(t, err, imgshape.ErrTriDim)
}
