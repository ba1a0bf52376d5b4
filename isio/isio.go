/*Package isio implements the shared memory image stream primitive.

A stream is a file in the shm root directory, mapped into every process that
opens it.  The file holds a fixed header, an annex of keyword slots and the
pixel data.  A set of counting semaphores in the header wakes readers when a
writer posts a new frame; each handle claims at most one of them.

Streams created with Shared false live in anonymous memory and are only
visible to the creating handle.
*/
package isio

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/nasa-jpl/gomilk/ndarray"
)

var (
	// ErrNotFound is generated when a stream file does not exist
	ErrNotFound = errors.New("stream does not exist")

	// ErrBadMagic is generated when a file is not a stream segment
	ErrBadMagic = errors.New("not a stream segment")

	// ErrClosed is generated when a closed handle is used
	ErrClosed = errors.New("stream handle is closed")

	// ErrWriteShape is generated when written data does not have the stream shape
	ErrWriteShape = errors.New("data shape does not match stream")

	// ErrWriteType is generated when written data does not have the stream dtype
	ErrWriteType = errors.New("data type does not match stream")
)

// CreateOptions adjust how a stream is allocated
type CreateOptions struct {
	// NbKw is the keyword slot capacity
	NbKw int

	// Location is -1 for CPU memory or a GPU index.  It is recorded only;
	// data is always held in host memory.
	Location int

	// Shared makes the stream visible to other processes
	Shared bool
}

// Metadata is a snapshot of a stream header
type Metadata struct {
	Path         string
	Name         string
	Shape        []int
	DType        ndarray.DType
	NElement     int
	NbKw         int
	Location     int
	Shared       bool
	Inode        uint64
	Cnt0         uint64
	Cnt1         uint64
	CreationTime time.Time
	WriteTime    time.Time
	NbSem        int
}

// Image is a handle on an attached stream
type Image struct {
	path   string
	file   *os.File
	mem    region
	data   []byte
	name   string
	shape  []int
	dtype  ndarray.DType
	nbkw   int
	inode  uint64
	shared bool

	// mu guards the mapping lifetime; every access holds it for reading
	mu     sync.RWMutex
	closed bool

	semMu  sync.Mutex
	semIdx int
	token  uint64

	kwMu sync.Mutex
}

var tokenSerial uint32

func newToken() uint64 {
	return uint64(os.Getpid())<<32 | uint64(atomic.AddUint32(&tokenSerial, 1))
}

func checkGeometry(shape []int, dt ndarray.DType, nbkw int) error {
	if len(shape) == 0 || len(shape) > MaxNAxis {
		return errors.Wrapf(ndarray.ErrShape, "streams have 1 to %d axes, got %v", MaxNAxis, shape)
	}
	for _, n := range shape {
		if n <= 0 || n > 1<<31-1 {
			return errors.Wrapf(ndarray.ErrShape, "invalid stream shape %v", shape)
		}
	}
	if !dt.Valid() {
		return errors.Wrapf(ndarray.ErrDType, "unknown dtype %v", dt)
	}
	if nbkw < 0 {
		return errors.Errorf("negative keyword capacity %d", nbkw)
	}
	return nil
}

// Create allocates a new stream at path, replacing any file there.
// The segment is built under a temporary name and renamed into place, so an
// opener never sees a partial header.
func Create(path, name string, shape []int, dt ndarray.DType, opts CreateOptions) (*Image, error) {
	if err := checkGeometry(shape, dt, opts.NbKw); err != nil {
		return nil, err
	}
	nelem := ndarray.Prod(shape)
	total := dataOffset(opts.NbKw) + nelem*dt.Size()

	if !opts.Shared {
		mem, err := unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
		if err != nil {
			return nil, errors.Wrap(err, "allocating private stream")
		}
		r := region(mem)
		initHeader(r, name, shape, dt, opts, 0)
		return attach(path, nil, r)
	}

	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s", path)
	}
	tmp := f.Name()
	cleanup := func(mem []byte) {
		if mem != nil {
			unix.Munmap(mem)
		}
		f.Close()
		os.Remove(tmp)
	}
	if err = f.Chmod(0o666); err != nil {
		cleanup(nil)
		return nil, err
	}
	if err = f.Truncate(int64(total)); err != nil {
		cleanup(nil)
		return nil, errors.Wrapf(err, "sizing %s", path)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		cleanup(nil)
		return nil, errors.Wrapf(err, "mapping %s", path)
	}
	var st unix.Stat_t
	if err = unix.Fstat(int(f.Fd()), &st); err != nil {
		cleanup(mem)
		return nil, err
	}
	r := region(mem)
	initHeader(r, name, shape, dt, opts, uint64(st.Ino))
	if err = os.Rename(tmp, path); err != nil {
		cleanup(mem)
		return nil, errors.Wrapf(err, "publishing %s", path)
	}
	return attach(path, f, r)
}

func initHeader(r region, name string, shape []int, dt ndarray.DType, opts CreateOptions, inode uint64) {
	copy(r[offMagic:], Magic)
	*r.u32(offVersion) = Version
	*r.u32(offNbKw) = uint32(opts.NbKw)
	r.putString(offName, NameLen, name)
	r[offNAxis] = uint8(len(shape))
	r[offDType] = uint8(dt)
	if opts.Shared {
		r[offShared] = 1
	}
	*r.i32(offLocation) = int32(opts.Location)
	for i, n := range shape {
		*r.u32(offSize + 4*i) = uint32(n)
	}
	*r.u64(offNElement) = uint64(ndarray.Prod(shape))
	*r.u64(offInode) = inode
	*r.i64(offCTime) = time.Now().UnixNano()
	*r.u32(offNbSem) = SemCount
	r.store64(offKwCRC, annexCRC(nil, 0))
}

// Open attaches to the stream at path
func Open(path string) (*Image, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "%s", path)
		}
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() < HeaderSize {
		f.Close()
		return nil, errors.Wrapf(ErrBadMagic, "%s is too small", path)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "mapping %s", path)
	}
	img, err := attach(path, f, region(mem))
	if err != nil {
		unix.Munmap(mem)
		f.Close()
		return nil, err
	}
	return img, nil
}

// attach validates a mapped header and wraps it
func attach(path string, f *os.File, r region) (*Image, error) {
	if string(r[offMagic:offMagic+len(Magic)]) != Magic {
		return nil, errors.Wrapf(ErrBadMagic, "%s", path)
	}
	if v := *r.u32(offVersion); v != Version {
		return nil, errors.Wrapf(ErrBadMagic, "%s has layout version %d", path, v)
	}
	naxis := int(r[offNAxis])
	shape := make([]int, naxis)
	for i := range shape {
		shape[i] = int(*r.u32(offSize + 4*i))
	}
	dt := ndarray.DType(r[offDType])
	nbkw := int(*r.u32(offNbKw))
	if err := checkGeometry(shape, dt, nbkw); err != nil {
		return nil, errors.Wrapf(ErrBadMagic, "%s: %v", path, err)
	}
	off := dataOffset(nbkw)
	end := off + ndarray.Prod(shape)*dt.Size()
	if end > len(r) {
		return nil, errors.Wrapf(ErrBadMagic, "%s is truncated", path)
	}
	return &Image{
		path:   path,
		file:   f,
		mem:    r,
		data:   r[off:end],
		name:   r.getString(offName, NameLen),
		shape:  shape,
		dtype:  dt,
		nbkw:   nbkw,
		inode:  *r.u64(offInode),
		shared: r[offShared] != 0,
		semIdx: -1,
	}, nil
}

// PathInode returns the inode of the file at path
func PathInode(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		if err == unix.ENOENT {
			return 0, errors.Wrapf(ErrNotFound, "%s", path)
		}
		return 0, errors.Wrapf(err, "stat %s", path)
	}
	return uint64(st.Ino), nil
}

func (i *Image) acquire() error {
	i.mu.RLock()
	if i.closed {
		i.mu.RUnlock()
		return ErrClosed
	}
	return nil
}

func (i *Image) release() {
	i.mu.RUnlock()
}

// Path is the file backing the stream
func (i *Image) Path() string { return i.path }

// Name is the stream name recorded in the header
func (i *Image) Name() string { return i.name }

// Shape is the wire shape
func (i *Image) Shape() []int { return append([]int{}, i.shape...) }

// DType is the element type
func (i *Image) DType() ndarray.DType { return i.dtype }

// Inode is the creation inode recorded in the header
func (i *Image) Inode() uint64 { return i.inode }

// NbKw is the keyword slot capacity
func (i *Image) NbKw() int { return i.nbkw }

// Shared is false for private streams
func (i *Image) Shared() bool { return i.shared }

// Location is the location recorded at creation
func (i *Image) Location() int {
	return int(*i.mem.i32(offLocation))
}

// Metadata returns a snapshot of the header
func (i *Image) Metadata() (Metadata, error) {
	if err := i.acquire(); err != nil {
		return Metadata{}, err
	}
	defer i.release()
	md := Metadata{
		Path:         i.path,
		Name:         i.name,
		Shape:        i.Shape(),
		DType:        i.dtype,
		NElement:     int(i.mem.load64(offNElement)),
		NbKw:         i.nbkw,
		Location:     int(*i.mem.i32(offLocation)),
		Shared:       i.shared,
		Inode:        i.inode,
		Cnt0:         i.mem.load64(offCnt0),
		Cnt1:         i.mem.load64(offCnt1),
		CreationTime: time.Unix(0, atomic.LoadInt64(i.mem.i64(offCTime))),
		NbSem:        int(i.mem.load32(offNbSem)),
	}
	if wt := atomic.LoadInt64(i.mem.i64(offWTime)); wt != 0 {
		md.WriteTime = time.Unix(0, wt)
	}
	return md, nil
}

// Counter is the number of frames written so far (cnt0)
func (i *Image) Counter() (uint64, error) {
	if err := i.acquire(); err != nil {
		return 0, err
	}
	defer i.release()
	return i.mem.load64(offCnt0), nil
}

// Destroyed is true once any handle destroyed the stream
func (i *Image) Destroyed() bool {
	if err := i.acquire(); err != nil {
		return true
	}
	defer i.release()
	return i.mem.load32(offStatus)&statusDestroyed != 0
}

// View returns an array aliasing the mapped data.  It is valid until Close
// and sees every later write.
func (i *Image) View() (ndarray.Array, error) {
	if err := i.acquire(); err != nil {
		return ndarray.Array{}, err
	}
	defer i.release()
	return ndarray.View(i.dtype, i.shape, i.data)
}

// Copy returns a private copy of the current data
func (i *Image) Copy() (ndarray.Array, error) {
	if err := i.acquire(); err != nil {
		return ndarray.Array{}, err
	}
	defer i.release()
	v, err := ndarray.View(i.dtype, i.shape, i.data)
	if err != nil {
		return ndarray.Array{}, err
	}
	return v.Clone(), nil
}

// Write stores a frame, bumps the counter and posts every semaphore
func (i *Image) Write(a ndarray.Array) error {
	if err := i.acquire(); err != nil {
		return err
	}
	defer i.release()
	if a.DType() != i.dtype {
		return errors.Wrapf(ErrWriteType, "writing %v into %v stream %s", a.DType(), i.dtype, i.name)
	}
	if !ndarray.SameShape(a.Shape(), i.shape) {
		return errors.Wrapf(ErrWriteShape, "writing %v into %v stream %s", a.Shape(), i.shape, i.name)
	}
	i.mem.store32(offWrite, 1)
	if a.IsContiguous() {
		copy(i.data, a.Bytes())
	} else {
		dst, err := ndarray.View(i.dtype, i.shape, i.data)
		if err != nil {
			return err
		}
		if err = ndarray.Copy(dst, a); err != nil {
			return err
		}
	}
	atomic.StoreInt64(i.mem.i64(offWTime), time.Now().UnixNano())
	atomic.AddUint64(i.mem.u64(offCnt0), 1)
	i.mem.store32(offWrite, 0)
	i.postAll(-1)
	return nil
}

// Close releases the claimed semaphore and detaches from the segment
func (i *Image) Close() error {
	i.SemRelease()
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true
	err := unix.Munmap(i.mem)
	if i.file != nil {
		if cerr := i.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Destroy marks the stream destroyed, wakes every waiter, removes the file and
// closes the handle.  Other handles see ErrDestroyed from their waits and must
// reopen.  A file at the same path that belongs to a newer stream is left alone.
func (i *Image) Destroy() error {
	if err := i.acquire(); err != nil {
		return err
	}
	for {
		st := i.mem.load32(offStatus)
		if atomic.CompareAndSwapUint32(i.mem.u32(offStatus), st, st|statusDestroyed) {
			break
		}
	}
	for k := 0; k < SemCount; k++ {
		futexWake(i.mem.u32(offSemVal + 4*k))
	}
	var rmErr error
	if i.shared {
		if ino, err := PathInode(i.path); err == nil && ino == i.inode {
			rmErr = os.Remove(i.path)
		}
	}
	i.release()
	if err := i.Close(); err != nil {
		return err
	}
	return rmErr
}
