package isio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/snksoft/crc"
	"golang.org/x/sys/unix"
)

var (
	// ErrKeywordsChanging is generated when the keyword annex was rewritten during a read
	ErrKeywordsChanging = errors.New("keywords changed while being read")

	// ErrKeywordCapacity is generated when more keywords are written than the stream has slots
	ErrKeywordCapacity = errors.New("too many keywords for stream")

	// ErrKeywordName is generated for empty or overlong keyword names
	ErrKeywordName = errors.New("invalid keyword name")

	// ErrKeywordValue is generated for values that are not integers, floats or short strings
	ErrKeywordValue = errors.New("invalid keyword value")
)

const (
	// KeywordNameLen is the longest keyword name
	KeywordNameLen = kwNameLen

	// KeywordStringLen is the longest string keyword value
	KeywordStringLen = kwStrLen

	// KeywordCommentLen is the longest keyword comment; longer comments are truncated
	KeywordCommentLen = kwCommentLen
)

const (
	kwTypeInt    = 'L'
	kwTypeFloat  = 'D'
	kwTypeString = 'S'
)

// crcTable checksums the keyword annex so lock-free readers can detect torn reads
var crcTable = crc.NewTable(crc.CRC32)

// Keyword is one entry of the keyword annex.  Value is an int64, a float64 or a string.
type Keyword struct {
	Name    string
	Value   interface{}
	Comment string
}

func (k Keyword) String() string {
	if k.Comment == "" {
		return fmt.Sprintf("%s = %v", k.Name, k.Value)
	}
	return fmt.Sprintf("%s = %v / %s", k.Name, k.Value, k.Comment)
}

// NormalizeValue converts v to the int64, float64 or string a keyword holds
func NormalizeValue(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return nil, errors.Wrapf(ErrKeywordValue, "%d overflows int64", x)
		}
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, errors.Wrapf(ErrKeywordValue, "%d overflows int64", x)
		}
		return int64(x), nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case string:
		if len(x) > kwStrLen {
			return nil, errors.Wrapf(ErrKeywordValue, "string %q longer than %d bytes", x, kwStrLen)
		}
		return x, nil
	}
	return nil, errors.Wrapf(ErrKeywordValue, "unsupported type %T", v)
}

func annexCRC(slots []byte, count int) uint64 {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(count))
	c := crcTable.InitCrc()
	c = crcTable.UpdateCrc(c, n[:])
	c = crcTable.UpdateCrc(c, slots)
	return crcTable.CRC(c)
}

func encodeKeyword(slot []byte, k Keyword) error {
	if k.Name == "" || len(k.Name) > kwNameLen {
		return errors.Wrapf(ErrKeywordName, "%q", k.Name)
	}
	v, err := NormalizeValue(k.Value)
	if err != nil {
		return errors.Wrapf(err, "keyword %s", k.Name)
	}
	for i := range slot {
		slot[i] = 0
	}
	copy(slot[kwOffName:kwOffName+kwNameLen], k.Name)
	switch x := v.(type) {
	case int64:
		slot[kwOffType] = kwTypeInt
		*(*int64)(unsafe.Pointer(&slot[kwOffValue])) = x
	case float64:
		slot[kwOffType] = kwTypeFloat
		*(*float64)(unsafe.Pointer(&slot[kwOffValue])) = x
	case string:
		slot[kwOffType] = kwTypeString
		copy(slot[kwOffValue:kwOffValue+kwStrLen], x)
	}
	comment := k.Comment
	if len(comment) > kwCommentLen {
		comment = comment[:kwCommentLen]
	}
	copy(slot[kwOffComment:kwOffComment+kwCommentLen], comment)
	return nil
}

func decodeKeyword(slot []byte) (Keyword, bool) {
	k := Keyword{
		Name:    cString(slot[kwOffName : kwOffName+kwNameLen]),
		Comment: cString(slot[kwOffComment : kwOffComment+kwCommentLen]),
	}
	switch slot[kwOffType] {
	case kwTypeInt:
		k.Value = *(*int64)(unsafe.Pointer(&slot[kwOffValue]))
	case kwTypeFloat:
		k.Value = *(*float64)(unsafe.Pointer(&slot[kwOffValue]))
	case kwTypeString:
		k.Value = cString(slot[kwOffValue : kwOffValue+kwStrLen])
	default:
		return k, false
	}
	return k, k.Name != ""
}

func (i *Image) annex() []byte {
	return i.mem[HeaderSize : HeaderSize+i.nbkw*KeywordSize]
}

// Keywords returns the keyword list in slot order.  It takes no lock; if a
// writer is active the read fails with ErrKeywordsChanging and may be retried.
func (i *Image) Keywords() ([]Keyword, error) {
	if err := i.acquire(); err != nil {
		return nil, err
	}
	defer i.release()
	sum := i.mem.load64(offKwCRC)
	count := int(i.mem.load32(offKwCount))
	if count > i.nbkw {
		return nil, errors.Wrapf(ErrKeywordsChanging, "%s", i.name)
	}
	buf := make([]byte, count*KeywordSize)
	copy(buf, i.annex())
	if annexCRC(buf, count) != sum || i.mem.load64(offKwCRC) != sum {
		return nil, errors.Wrapf(ErrKeywordsChanging, "%s", i.name)
	}
	out := make([]Keyword, 0, count)
	for s := 0; s < count; s++ {
		if k, ok := decodeKeyword(buf[s*KeywordSize : (s+1)*KeywordSize]); ok {
			out = append(out, k)
		}
	}
	return out, nil
}

// SetKeywords replaces the whole keyword annex with kws.  Writers are
// serialized with an advisory lock on the stream file.
func (i *Image) SetKeywords(kws []Keyword) error {
	if len(kws) > i.nbkw {
		return errors.Wrapf(ErrKeywordCapacity, "%d keywords for %d slots in %s", len(kws), i.nbkw, i.name)
	}
	buf := make([]byte, len(kws)*KeywordSize)
	for s, k := range kws {
		if err := encodeKeyword(buf[s*KeywordSize:(s+1)*KeywordSize], k); err != nil {
			return err
		}
	}
	if err := i.acquire(); err != nil {
		return err
	}
	defer i.release()
	i.kwMu.Lock()
	defer i.kwMu.Unlock()
	if i.file != nil {
		fd := int(i.file.Fd())
		if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
			return errors.Wrapf(err, "locking keywords of %s", i.name)
		}
		defer unix.Flock(fd, unix.LOCK_UN)
	}
	annex := i.annex()
	copy(annex, buf)
	for b := len(buf); b < len(annex); b++ {
		annex[b] = 0
	}
	atomic.StoreUint32(i.mem.u32(offKwCount), uint32(len(kws)))
	i.mem.store64(offKwCRC, annexCRC(buf, len(kws)))
	return nil
}
