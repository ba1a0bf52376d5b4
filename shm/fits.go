package shm

import (
	"io"
	"os"

	"github.com/astrogo/fitsio"
	"github.com/pkg/errors"

	"github.com/nasa-jpl/gomilk/imgshape"
	"github.com/nasa-jpl/gomilk/ndarray"
	"github.com/nasa-jpl/gomilk/shmdir"
)

var (
	// ErrFITSType is generated for dtypes FITS images cannot hold
	ErrFITSType = errors.New("dtype has no FITS representation")

	// ErrMultiHDU is generated when a single array is expected from a multi-HDU file
	ErrMultiHDU = errors.New("file holds more than one HDU")
)

// FITS axes are the array axes: NAXIS1 is axis 0, the fastest varying one.

// MultiWrite writes arrays as a FITS file, one HDU each.  A single array is
// encoded with symcode s and 3D state t first; several are written verbatim.
func MultiWrite(w io.Writer, arrays []ndarray.Array, s int, t imgshape.Which3DState) error {
	if len(arrays) == 0 {
		return errors.New("no arrays to write")
	}
	if len(arrays) == 1 {
		enc, err := imgshape.Encode(arrays[0], s, t)
		if err != nil {
			return err
		}
		arrays = []ndarray.Array{enc}
	}
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	for i, a := range arrays {
		if err := writeHDU(fits, a); err != nil {
			return errors.Wrapf(err, "HDU %d", i)
		}
	}
	return nil
}

func writeHDU(fits *fitsio.File, a ndarray.Array) error {
	var (
		bitpix int
		bzero  interface{}
		pix    interface{}
		err    error
	)
	switch a.DType() {
	case ndarray.Uint8:
		bitpix = 8
		pix, err = ndarray.ToSlice[uint8](a)
	case ndarray.Int8:
		bitpix, bzero = 8, -128
		var v []int8
		if v, err = ndarray.ToSlice[int8](a); err == nil {
			out := make([]uint8, len(v))
			for i := range v {
				out[i] = uint8(v[i]) ^ 0x80
			}
			pix = out
		}
	case ndarray.Uint16:
		bitpix, bzero = 16, 32768
		var v []uint16
		if v, err = ndarray.ToSlice[uint16](a); err == nil {
			out := make([]int16, len(v))
			for i := range v {
				out[i] = int16(v[i] - 32768)
			}
			pix = out
		}
	case ndarray.Int16:
		bitpix = 16
		pix, err = ndarray.ToSlice[int16](a)
	case ndarray.Uint32:
		bitpix, bzero = 32, 2147483648
		var v []uint32
		if v, err = ndarray.ToSlice[uint32](a); err == nil {
			out := make([]int32, len(v))
			for i := range v {
				out[i] = int32(v[i] - 2147483648)
			}
			pix = out
		}
	case ndarray.Int32:
		bitpix = 32
		pix, err = ndarray.ToSlice[int32](a)
	case ndarray.Int64:
		bitpix = 64
		pix, err = ndarray.ToSlice[int64](a)
	case ndarray.Float32:
		bitpix = -32
		pix, err = ndarray.ToSlice[float32](a)
	case ndarray.Float64:
		bitpix = -64
		pix, err = ndarray.ToSlice[float64](a)
	default:
		return errors.Wrapf(ErrFITSType, "%v", a.DType())
	}
	if err != nil {
		return err
	}
	im := fitsio.NewImage(bitpix, a.Shape())
	defer im.Close()
	if bzero != nil {
		err = im.Header().Append(
			fitsio.Card{Name: "BZERO", Value: bzero},
			fitsio.Card{Name: "BSCALE", Value: 1.0})
		if err != nil {
			return err
		}
	}
	if err = im.Write(pix); err != nil {
		return err
	}
	return fits.Write(im)
}

// MultiRead reads every image HDU of a FITS file.  A file with a single HDU
// is decoded with symcode s and 3D state t.
func MultiRead(r io.Reader, s int, t imgshape.Which3DState) ([]ndarray.Array, error) {
	fits, err := fitsio.Open(r)
	if err != nil {
		return nil, err
	}
	defer fits.Close()
	hdus := fits.HDUs()
	out := make([]ndarray.Array, 0, len(hdus))
	for i, hdu := range hdus {
		img, ok := hdu.(fitsio.Image)
		if !ok || len(hdu.Header().Axes()) == 0 {
			continue
		}
		a, err := readHDU(img)
		if err != nil {
			return nil, errors.Wrapf(err, "HDU %d", i)
		}
		out = append(out, a)
	}
	if len(out) == 1 {
		dec, err := imgshape.Decode(out[0], s, t)
		if err != nil {
			return nil, err
		}
		out[0] = dec.Contiguous()
	}
	return out, nil
}

func cardFloat(hdr *fitsio.Header, name string) (float64, bool) {
	c := hdr.Get(name)
	if c == nil {
		return 0, false
	}
	switch v := c.Value.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	}
	return 0, false
}

func readHDU(img fitsio.Image) (ndarray.Array, error) {
	hdr := img.Header()
	axes := hdr.Axes()
	n := ndarray.Prod(axes)
	bzero, _ := cardFloat(hdr, "BZERO")
	switch hdr.Bitpix() {
	case 8:
		v := make([]uint8, n)
		if err := img.Read(&v); err != nil {
			return ndarray.Array{}, err
		}
		if bzero == -128 {
			out := make([]int8, n)
			for i := range v {
				out[i] = int8(v[i] ^ 0x80)
			}
			return ndarray.FromSlice(out, axes...)
		}
		return ndarray.FromSlice(v, axes...)
	case 16:
		v := make([]int16, n)
		if err := img.Read(&v); err != nil {
			return ndarray.Array{}, err
		}
		if bzero == 32768 {
			out := make([]uint16, n)
			for i := range v {
				out[i] = uint16(v[i]) + 32768
			}
			return ndarray.FromSlice(out, axes...)
		}
		return ndarray.FromSlice(v, axes...)
	case 32:
		v := make([]int32, n)
		if err := img.Read(&v); err != nil {
			return ndarray.Array{}, err
		}
		if bzero == 2147483648 {
			out := make([]uint32, n)
			for i := range v {
				out[i] = uint32(v[i]) + 2147483648
			}
			return ndarray.FromSlice(out, axes...)
		}
		return ndarray.FromSlice(v, axes...)
	case 64:
		v := make([]int64, n)
		if err := img.Read(&v); err != nil {
			return ndarray.Array{}, err
		}
		return ndarray.FromSlice(v, axes...)
	case -32:
		v := make([]float32, n)
		if err := img.Read(&v); err != nil {
			return ndarray.Array{}, err
		}
		return ndarray.FromSlice(v, axes...)
	case -64:
		v := make([]float64, n)
		if err := img.Read(&v); err != nil {
			return ndarray.Array{}, err
		}
		return ndarray.FromSlice(v, axes...)
	}
	return ndarray.Array{}, errors.Wrapf(ErrFITSType, "bitpix %d", hdr.Bitpix())
}

// WriteFITSFile writes arrays to a FITS file at path, overwriting it
func WriteFITSFile(path string, arrays []ndarray.Array, s int, t imgshape.Which3DState) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err = MultiWrite(f, arrays, s, t); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadFITSFile reads the image HDUs of the FITS file at path
func ReadFITSFile(path string, s int, t imgshape.Which3DState) ([]ndarray.Array, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return MultiRead(f, s, t)
}

// SaveAsFITS writes the current frame to a FITS file, encoded with the
// handle's symcode and 3D state
func (s *SHM) SaveAsFITS(path string) error {
	data, err := s.GetData(ReadOptions{})
	if err != nil {
		return err
	}
	return WriteFITSFile(path, []ndarray.Array{data}, s.opts.Symcode, s.opts.TriDim)
}

// ReadFITSLoadSHM loads a single-HDU FITS file into a stream.  With create
// the stream is made from the file, otherwise an existing stream of matching
// shape is written.
func ReadFITSLoadSHM(dir shmdir.Dir, path, name string, s int, t imgshape.Which3DState, create bool) (*SHM, error) {
	arrays, err := ReadFITSFile(path, s, t)
	if err != nil {
		return nil, err
	}
	if len(arrays) != 1 {
		return nil, errors.Wrapf(ErrMultiHDU, "%s has %d image HDUs", path, len(arrays))
	}
	opts := DefaultOptions()
	opts.Symcode, opts.TriDim = s, t
	if create {
		return Create(dir, name, arrays[0], opts)
	}
	shm, err := Open(dir, name, opts)
	if err != nil {
		return nil, err
	}
	if err = shm.SetData(arrays[0], false); err != nil {
		shm.Close()
		return nil, err
	}
	return shm, nil
}

// ToFITS opens the stream called name and saves its current frame to path
func ToFITS(dir shmdir.Dir, name, path string) error {
	shm, err := Open(dir, name, DefaultOptions())
	if err != nil {
		return err
	}
	defer shm.Close()
	return shm.SaveAsFITS(path)
}
