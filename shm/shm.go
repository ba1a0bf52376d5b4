/*Package shm provides SHM, a handle on a named image stream that applies the
symmetry, 3D roll and squeeze transforms of package imgshape at the boundary.

On read the order of operations is squeeze, then 3D roll, then symmetry.  On
write it is symmetry, then 3D roll, then unsqueeze.  Callers only ever see the
user shape; the stored wire shape is available from ShapeC.

Destroying a stream and creating one under the same name is not atomic.
Create sleeps RecreateDelay between the two so that external scanners get a
chance to observe the destruction; this narrows the race, it does not close it.
*/
package shm

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/nasa-jpl/gomilk/imgshape"
	"github.com/nasa-jpl/gomilk/isio"
	"github.com/nasa-jpl/gomilk/ndarray"
	"github.com/nasa-jpl/gomilk/shmdir"
)

var (
	// ErrNotFound is generated when opening a stream that does not exist
	ErrNotFound = isio.ErrNotFound

	// ErrClosed is generated when a closed or destroyed handle is used
	ErrClosed = isio.ErrClosed

	// ErrStale is returned together with the last available data when a wait times out
	ErrStale = errors.New("timed out waiting for a new frame, data is stale")

	// ErrDeviceView is generated when a view is requested on a GPU stream
	ErrDeviceView = errors.New("views are not allowed on GPU streams, copy instead")
)

// RecreateDelay is slept between destroying a stream and creating its replacement
var RecreateDelay = 100 * time.Millisecond

// Keyword is one entry of the keyword annex of a stream
type Keyword = isio.Keyword

// Options configure how a handle maps between wire and user layouts and how
// streams are created
type Options struct {
	// Symcode is the symmetry code, 0-7
	Symcode int

	// TriDim places the stack axis of cubes
	TriDim imgshape.Which3DState

	// AutoSqueeze drops singleton wire axes on read.  It is ignored when creating.
	AutoSqueeze bool

	// NbKw is the keyword capacity of created streams
	NbKw int

	// Location is -1 for CPU or the GPU index of created streams
	Location int

	// Shared makes created streams visible to other processes
	Shared bool

	// AutoRelink reattaches when the stream was recreated by someone else
	AutoRelink bool

	// Logger receives warnings.  log.Default() is used when nil.
	Logger *log.Logger
}

// DefaultOptions returns the options used when none are given
func DefaultOptions() Options {
	return Options{
		Symcode:     4,
		TriDim:      imgshape.Last2Last,
		AutoSqueeze: true,
		Location:    -1,
		Shared:      true,
		AutoRelink:  true,
	}
}

func (o Options) check() error {
	if _, err := imgshape.Inverse(o.Symcode); err != nil {
		return err
	}
	if !o.TriDim.Valid() {
		return errors.Wrapf(imgshape.ErrTriDim, "got %d", int(o.TriDim))
	}
	return nil
}

// SHM is a handle on an image stream.  Its methods may be used from multiple
// goroutines.
type SHM struct {
	name string
	path string
	opts Options
	log  *log.Logger

	mu      sync.Mutex
	img     *isio.Image
	claimed bool
	retired []*isio.Image

	wire    []int
	shape   []int
	dtype   ndarray.DType
	squeeze imgshape.Squeezer
}

func newHandle(dir shmdir.Dir, name string, opts Options) (*SHM, error) {
	if err := opts.check(); err != nil {
		return nil, err
	}
	bare, err := dir.CheckName(name, shmdir.ImageSuffix)
	if err != nil {
		return nil, err
	}
	path, err := dir.ImagePath(bare)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &SHM{name: bare, path: path, opts: opts, log: logger}, nil
}

// Open attaches to an existing stream.  No semaphore is claimed until the
// first wait.
func Open(dir shmdir.Dir, name string, opts Options) (*SHM, error) {
	s, err := newHandle(dir, name, opts)
	if err != nil {
		return nil, err
	}
	img, err := isio.Open(s.path)
	if err != nil {
		if errors.Is(err, isio.ErrNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "requested SHM %s does not exist", s.name)
		}
		return nil, err
	}
	s.img = img
	s.dtype = img.DType()
	s.wire = img.Shape()
	s.squeeze = imgshape.NewSqueezer(s.wire, opts.AutoSqueeze)
	s.shape, err = imgshape.DecodeShape(s.squeeze.Shape(), opts.Symcode, opts.TriDim)
	if err != nil {
		img.Close()
		return nil, err
	}
	return s, nil
}

// Create makes a new stream holding data, given in the user layout.  An
// existing stream of the same name is destroyed first.
func Create(dir shmdir.Dir, name string, data ndarray.Array, opts Options) (*SHM, error) {
	s, err := newHandle(dir, name, opts)
	if err != nil {
		return nil, err
	}
	if data.IsNil() {
		return nil, errors.Wrap(ndarray.ErrDType, "no data to create a stream from")
	}
	s.dtype = data.DType()
	s.shape = data.Shape()
	for _, n := range s.shape {
		if n == 1 {
			s.log.Printf("SHM %s: ignoring autoSqueeze when creating, remove singleton dimensions yourself", s.name)
			break
		}
	}
	wireData, err := imgshape.Encode(data, opts.Symcode, opts.TriDim)
	if err != nil {
		return nil, err
	}
	s.wire = wireData.Shape()
	s.squeeze = imgshape.NewSqueezer(s.wire, false)

	if opts.Shared {
		if old, err := isio.Open(s.path); err == nil {
			s.log.Printf("%s%s will be overwritten", s.name, shmdir.ImageSuffix)
			if err := old.Destroy(); err != nil {
				return nil, errors.Wrapf(err, "destroying previous %s", s.name)
			}
			time.Sleep(RecreateDelay)
		}
	}
	img, err := isio.Create(s.path, s.name, s.wire, s.dtype, isio.CreateOptions{
		NbKw:     opts.NbKw,
		Location: opts.Location,
		Shared:   opts.Shared,
	})
	if err != nil {
		return nil, err
	}
	if err = img.Write(wireData.Contiguous()); err != nil {
		img.Destroy()
		return nil, err
	}
	s.img = img
	return s, nil
}

// CreateEmpty makes a new zero-filled stream of the given user shape
func CreateEmpty(dir shmdir.Dir, name string, dt ndarray.DType, shape []int, opts Options) (*SHM, error) {
	data, err := ndarray.Zeros(dt, shape...)
	if err != nil {
		return nil, err
	}
	return Create(dir, name, data, opts)
}

// Name is the bare stream name
func (s *SHM) Name() string { return s.name }

// Path is the file backing the stream
func (s *SHM) Path() string { return s.path }

// Shape is the user shape
func (s *SHM) Shape() []int { return append([]int{}, s.shape...) }

// ShapeC is the wire shape
func (s *SHM) ShapeC() []int { return append([]int{}, s.wire...) }

// NDim is the number of user axes
func (s *SHM) NDim() int { return len(s.shape) }

// DType is the element type
func (s *SHM) DType() ndarray.DType { return s.dtype }

// Symcode is the symmetry code of this handle
func (s *SHM) Symcode() int { return s.opts.Symcode }

// TriDim is the 3D state of this handle
func (s *SHM) TriDim() imgshape.Which3DState { return s.opts.TriDim }

func (s *SHM) String() string {
	return fmt.Sprintf("SHM(%s, %v, %v)", s.name, s.shape, s.dtype)
}

// image returns the attached stream, relinking first if it was recreated
func (s *SHM) image() (*isio.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.img == nil {
		return nil, errors.Wrapf(ErrClosed, "%s", s.name)
	}
	if s.opts.AutoRelink && s.img.Shared() {
		if err := s.relink(); err != nil {
			return nil, err
		}
	}
	return s.img, nil
}

// semIndex returns the claimed semaphore of img, claiming one if needed
func (s *SHM) semIndex(img *isio.Image) (int, error) {
	k, err := img.SemWaitIndex(0)
	if err != nil {
		return -1, err
	}
	s.mu.Lock()
	s.claimed = true
	s.mu.Unlock()
	return k, nil
}

// SemIndex is the claimed semaphore, or -1
func (s *SHM) SemIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.img == nil {
		return -1
	}
	return s.img.SemIndex()
}

// decode maps wire data to the user layout
func (s *SHM) decode(raw ndarray.Array) (ndarray.Array, error) {
	sq, err := s.squeeze.Read(raw)
	if err != nil {
		return ndarray.Array{}, err
	}
	return imgshape.Decode(sq, s.opts.Symcode, s.opts.TriDim)
}

// ReadOptions control GetData
type ReadOptions struct {
	// Wait blocks for a new frame before reading
	Wait bool

	// Timeout bounds the wait; <= 0 waits forever
	Timeout time.Duration

	// NoCopy returns a view of the shared memory instead of a copy.  It is
	// refused on GPU streams.
	NoCopy bool

	// NoFlush skips discarding pending posts before waiting, for back to
	// back reads of consecutive frames
	NoFlush bool
}

// GetData reads the stream in the user layout.  When a wait times out the
// last data is returned along with ErrStale.
func (s *SHM) GetData(ro ReadOptions) (ndarray.Array, error) {
	img, err := s.image()
	if err != nil {
		return ndarray.Array{}, err
	}
	var stale error
	if ro.Wait {
		k, err := s.semIndex(img)
		if err != nil {
			return ndarray.Array{}, err
		}
		if !ro.NoFlush {
			if err = img.SemFlush(k); err != nil {
				return ndarray.Array{}, err
			}
		}
		if ro.Timeout <= 0 {
			err = img.SemWait(k)
		} else {
			err = img.SemTimedWait(k, ro.Timeout)
		}
		if errors.Is(err, isio.ErrSemTimeout) {
			s.log.Printf("SHM %s: GetData timed out after %v and returned old data", s.name, ro.Timeout)
			stale = errors.Wrapf(ErrStale, "%s", s.name)
		} else if err != nil {
			return ndarray.Array{}, err
		}
	}
	var raw ndarray.Array
	if ro.NoCopy {
		if img.Location() >= 0 {
			return ndarray.Array{}, errors.Wrapf(ErrDeviceView, "%s is on GPU %d", s.name, img.Location())
		}
		raw, err = img.View()
	} else {
		raw, err = img.Copy()
	}
	if err != nil {
		return ndarray.Array{}, err
	}
	out, err := s.decode(raw)
	if err != nil {
		return ndarray.Array{}, err
	}
	return out, stale
}

// SetData writes a frame given in the user layout.  With recast the data is
// first converted to the stream dtype.
func (s *SHM) SetData(data ndarray.Array, recast bool) error {
	img, err := s.image()
	if err != nil {
		return err
	}
	if recast && data.DType() != s.dtype {
		if data, err = data.Astype(s.dtype); err != nil {
			return err
		}
	}
	if !ndarray.SameShape(data.Shape(), s.shape) {
		return errors.Wrapf(isio.ErrWriteShape, "writing %v into %s of shape %v", data.Shape(), s.name, s.shape)
	}
	enc, err := imgshape.Encode(data, s.opts.Symcode, s.opts.TriDim)
	if err != nil {
		return err
	}
	wire, err := s.squeeze.Write(enc)
	if err != nil {
		return err
	}
	return img.Write(wire.Contiguous())
}

// Counter is the number of frames written to the stream (cnt0)
func (s *SHM) Counter() (uint64, error) {
	img, err := s.image()
	if err != nil {
		return 0, err
	}
	return img.Counter()
}

// Metadata returns a snapshot of the stream header
func (s *SHM) Metadata() (isio.Metadata, error) {
	img, err := s.image()
	if err != nil {
		return isio.Metadata{}, err
	}
	return img.Metadata()
}

// PrintMetadata writes a human readable header summary to w
func (s *SHM) PrintMetadata(w io.Writer) error {
	md, err := s.Metadata()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "name:      %s\nshape:     %v (user %v)\ndtype:     %v\ncnt0:      %d\nnbkw:      %d\nlocation:  %d\nshared:    %v\ninode:     %d\ncreated:   %v\nwritten:   %v\n",
		md.Name, md.Shape, s.shape, md.DType, md.Cnt0, md.NbKw, md.Location, md.Shared, md.Inode,
		md.CreationTime.Format(time.RFC3339Nano), md.WriteTime.Format(time.RFC3339Nano))
	return err
}

// Close detaches from the stream
func (s *SHM) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.img == nil {
		return nil
	}
	err := s.img.Close()
	s.img = nil
	s.closeRetired()
	return err
}

// Destroy destroys the stream and its file.  Every handle on it, this one
// included, becomes unusable.
func (s *SHM) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.img == nil {
		return errors.Wrapf(ErrClosed, "%s", s.name)
	}
	err := s.img.Destroy()
	s.img = nil
	s.closeRetired()
	return err
}

// closeRetired unmaps the segments left behind by relinks.  The caller holds
// s.mu.
func (s *SHM) closeRetired() {
	for _, img := range s.retired {
		img.Close()
	}
	s.retired = nil
}
