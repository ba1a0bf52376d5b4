package isio

import (
	"sync/atomic"
	"unsafe"
)

// Segment layout.  All integers are native endian.  Offsets of fields that
// are accessed atomically are aligned to their size.
const (
	// Magic opens every stream segment
	Magic = "MILKGOIM"

	// Version is the layout version written by Create
	Version = 1

	// HeaderSize is the size of the fixed header
	HeaderSize = 512

	// KeywordSize is the size of one keyword slot
	KeywordSize = 128

	// DataAlign is the alignment of the data region
	DataAlign = 64

	// MaxNAxis is the largest number of axes a stream can have
	MaxNAxis = 8

	// NameLen is the capacity of the name field
	NameLen = 80

	// SemCount is the number of semaphores of every stream
	SemCount = 10

	// SemMaxVal is the value semaphore posts saturate at
	SemMaxVal = 10

	offMagic     = 0
	offVersion   = 8
	offNbKw      = 12
	offName      = 16
	offNAxis     = offName + NameLen // 96
	offDType     = 97
	offShared    = 98
	offLocation  = 100
	offSize      = 104
	offNElement  = offSize + 4*MaxNAxis // 136
	offInode     = 144
	offCTime     = 152
	offWTime     = 160
	offCnt0      = 168
	offCnt1      = 176
	offWrite     = 184
	offStatus    = 188
	offKwCRC     = 192
	offKwCount   = 200
	offNbSem     = 204
	offSemVal    = 208
	offSemOwner  = offSemVal + 4*SemCount // 248
	offHeaderEnd = offSemOwner + 8*SemCount
)

// status bits
const (
	statusDestroyed uint32 = 1 << iota
)

// keyword slot layout
const (
	kwOffName    = 0
	kwNameLen    = 16
	kwOffType    = 16
	kwOffValue   = 24
	kwStrLen     = 16
	kwOffComment = 40
	kwCommentLen = 80
)

func init() {
	if offHeaderEnd > HeaderSize {
		panic("isio: header fields overflow the header")
	}
}

// dataOffset is where the data region starts for a given keyword capacity
func dataOffset(nbkw int) int {
	off := HeaderSize + nbkw*KeywordSize
	return (off + DataAlign - 1) / DataAlign * DataAlign
}

// region is a mapped segment
type region []byte

func (r region) u32(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&r[off]))
}

func (r region) u64(off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&r[off]))
}

func (r region) i32(off int) *int32 {
	return (*int32)(unsafe.Pointer(&r[off]))
}

func (r region) i64(off int) *int64 {
	return (*int64)(unsafe.Pointer(&r[off]))
}

func (r region) load32(off int) uint32 {
	return atomic.LoadUint32(r.u32(off))
}

func (r region) store32(off int, v uint32) {
	atomic.StoreUint32(r.u32(off), v)
}

func (r region) load64(off int) uint64 {
	return atomic.LoadUint64(r.u64(off))
}

func (r region) store64(off int, v uint64) {
	atomic.StoreUint64(r.u64(off), v)
}

// putString writes s into a fixed-size, NUL-padded field
func (r region) putString(off, n int, s string) {
	field := r[off : off+n]
	for i := range field {
		field[i] = 0
	}
	copy(field, s)
}

func (r region) getString(off, n int) string {
	return cString(r[off : off+n])
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
