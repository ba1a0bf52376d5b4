package fps

import (
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sys/unix"
)

// value is a tagged union; only the field matching the entry type is used
type value struct {
	S string  `msgpack:"s,omitempty"`
	B bool    `msgpack:"b,omitempty"`
	I int64   `msgpack:"i,omitempty"`
	U uint64  `msgpack:"u,omitempty"`
	F float64 `msgpack:"f,omitempty"`
}

func (v value) get(t Type) interface{} {
	switch t {
	case TypeString:
		return v.S
	case TypeBool:
		return v.B
	case TypeInt32:
		return int32(v.I)
	case TypeInt64:
		return v.I
	case TypeUint32:
		return uint32(v.U)
	case TypeUint64:
		return v.U
	case TypeFloat32:
		return float32(v.F)
	case TypeFloat64:
		return v.F
	}
	return nil
}

// set stores x, which coerce has already converted to the Go type of t
func (v *value) set(t Type, x interface{}) {
	*v = value{}
	switch t {
	case TypeString:
		v.S = x.(string)
	case TypeBool:
		v.B = x.(bool)
	case TypeInt32:
		v.I = int64(x.(int32))
	case TypeInt64:
		v.I = x.(int64)
	case TypeUint32:
		v.U = uint64(x.(uint32))
	case TypeUint64:
		v.U = x.(uint64)
	case TypeFloat32:
		v.F = float64(x.(float32))
	case TypeFloat64:
		v.F = x.(float64)
	}
}

type entry struct {
	Key     string `msgpack:"key"`
	Comment string `msgpack:"comment"`
	Type    Type   `msgpack:"type"`
	Flags   Flag   `msgpack:"flags"`
	Value   value  `msgpack:"value"`
}

// procState is one of the two run states
type procState struct {
	// Signal is raised by start and cleared by stop
	Signal bool `msgpack:"signal"`

	// Running is maintained by the controlled process
	Running bool `msgpack:"running"`

	PID int `msgpack:"pid,omitempty"`
}

// record is the content of a .fps.shm file
type record struct {
	Generation string    `msgpack:"gen"`
	Name       string    `msgpack:"name"`
	Tags       []string  `msgpack:"tags"`
	Entries    []entry   `msgpack:"entries"`
	Conf       procState `msgpack:"conf"`
	Run        procState `msgpack:"run"`
}

func (r *record) find(key string) (int, bool) {
	for i := range r.Entries {
		if r.Entries[i].Key == key {
			return i, true
		}
	}
	return -1, false
}

func openLocked(path string, how int) (*os.File, error) {
	flag := os.O_RDONLY
	if how == unix.LOCK_EX {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrDoesNotExist, "%s", filepath.Base(path))
		}
		return nil, err
	}
	if err = unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "flock")
	}
	return f, nil
}

func decode(f *os.File) (record, error) {
	var r record
	b, err := io.ReadAll(f)
	if err != nil {
		return r, err
	}
	if err = msgpack.Unmarshal(b, &r); err != nil {
		return r, errors.Wrapf(err, "decoding %s", f.Name())
	}
	return r, nil
}

// load reads the record at path under a shared lock
func load(path string) (record, error) {
	f, err := openLocked(path, unix.LOCK_SH)
	if err != nil {
		return record{}, err
	}
	defer f.Close()
	return decode(f)
}

// update applies fn to the record at path under an exclusive lock and writes
// the result back unless fn fails
func update(path string, fn func(*record) error) error {
	f, err := openLocked(path, unix.LOCK_EX)
	if err != nil {
		return err
	}
	defer f.Close()
	r, err := decode(f)
	if err != nil {
		return err
	}
	if err = fn(&r); err != nil {
		return err
	}
	b, err := msgpack.Marshal(&r)
	if err != nil {
		return err
	}
	if err = f.Truncate(0); err != nil {
		return err
	}
	_, err = f.WriteAt(b, 0)
	return err
}

// publish writes a fresh record to a temporary file and links it at path.
// Linking fails if path exists, so two creators cannot both succeed.
func publish(path string, r *record) error {
	r.Generation = uuid.NewString()
	b, err := msgpack.Marshal(r)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err = tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Chmod(0o666); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Link(tmp.Name(), path); err != nil {
		if os.IsExist(err) {
			return errors.Wrapf(ErrAlreadyExists, "%s", filepath.Base(path))
		}
		return err
	}
	return nil
}
