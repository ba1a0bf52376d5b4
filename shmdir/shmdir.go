/*Package shmdir resolves stream and FPS names to files under one root directory.

A name is either bare ("dm00disp", optionally with its suffix) or a path that
must sit directly within the root.  There is no process-wide root; callers
construct a Dir once, usually from the MILK_SHM_DIR configuration, and pass it
down.
*/
package shmdir

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

const (
	// ImageSuffix is the file suffix of image streams
	ImageSuffix = ".im.shm"

	// FPSSuffix is the file suffix of parameter trees
	FPSSuffix = ".fps.shm"

	// DefaultRoot is used when no root is configured
	DefaultRoot = "/milk/shm"
)

var (
	// ErrOutsideRoot is generated when a path-like name is not inside the root
	ErrOutsideRoot = errors.New("only files in the shm root directory are supported")

	// ErrNested is generated when a path-like name is inside a subdirectory of the root
	ErrNested = errors.New("only files at the top of the shm root directory are supported")

	// ErrEmptyName is generated when a name is empty after cleaning
	ErrEmptyName = errors.New("empty name")
)

// Dir is a root directory holding streams and parameter trees
type Dir struct {
	Root string
}

// New returns a Dir for root, made absolute.  An empty root means DefaultRoot.
func New(root string) (Dir, error) {
	if root == "" {
		root = DefaultRoot
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return Dir{}, errors.Wrapf(err, "resolving shm root %s", root)
	}
	return Dir{Root: abs}, nil
}

// CheckName cleans name into the bare form used to build file paths
func (d Dir) CheckName(name, suffix string) (string, error) {
	if !strings.Contains(name, "/") {
		name = strings.TrimSuffix(name, suffix)
		if name == "" {
			return "", ErrEmptyName
		}
		return name, nil
	}
	pre, end := filepath.Split(name)
	pre = strings.TrimSuffix(pre, "/")
	root := strings.TrimSuffix(d.Root, "/")
	if !strings.HasPrefix(pre, root) || (len(pre) > len(root) && pre[len(root)] != '/') {
		return "", errors.Wrapf(ErrOutsideRoot, "%s is not in %s", name, d.Root)
	}
	if strings.Contains(pre[len(root):], "/") {
		return "", errors.Wrapf(ErrNested, "%s is below %s", name, d.Root)
	}
	end = strings.TrimSuffix(end, suffix)
	if end == "" {
		return "", ErrEmptyName
	}
	return end, nil
}

func (d Dir) path(name, suffix string) (string, error) {
	n, err := d.CheckName(name, suffix)
	if err != nil {
		return "", err
	}
	return filepath.Join(d.Root, n+suffix), nil
}

// ImagePath returns the file backing the image stream called name
func (d Dir) ImagePath(name string) (string, error) {
	return d.path(name, ImageSuffix)
}

// FPSPath returns the file backing the parameter tree called name
func (d Dir) FPSPath(name string) (string, error) {
	return d.path(name, FPSSuffix)
}

// Exists reports if a resource with the name and suffix is present
func (d Dir) Exists(name, suffix string) (bool, error) {
	p, err := d.path(name, suffix)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Glob returns the sorted bare names of the resources whose names match pattern
func (d Dir) Glob(pattern, suffix string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}
	matches, err := filepath.Glob(filepath.Join(d.Root, pattern+suffix))
	if err != nil {
		return nil, errors.Wrapf(err, "glob %s", pattern)
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(filepath.Base(m), suffix))
	}
	sort.Strings(names)
	return names, nil
}

// Ensure creates the root directory if it is missing
func (d Dir) Ensure() error {
	return os.MkdirAll(d.Root, 0o775)
}
