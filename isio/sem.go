package isio

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var (
	// ErrSemTimeout is generated when a timed semaphore wait expires
	ErrSemTimeout = errors.New("semaphore wait timed out")

	// ErrDestroyed is generated when the stream was destroyed while in use
	ErrDestroyed = errors.New("stream was destroyed")

	// ErrNoSemaphore is generated when every semaphore of a stream is claimed
	ErrNoSemaphore = errors.New("no free semaphore")

	// ErrSemIndex is generated for a semaphore index outside [0, SemCount)
	ErrSemIndex = errors.New("semaphore index out of range")
)

// maxFutexSleep bounds one futex wait so waiters notice Close and destruction
// by processes that died before waking them
const maxFutexSleep = 100 * time.Millisecond

func (i *Image) semAddr(k int) *uint32 {
	return i.mem.u32(offSemVal + 4*k)
}

func (i *Image) ownerAddr(k int) *uint64 {
	return i.mem.u64(offSemOwner + 8*k)
}

func checkSemIndex(k int) error {
	if k < 0 || k >= SemCount {
		return errors.Wrapf(ErrSemIndex, "got %d", k)
	}
	return nil
}

func (i *Image) destroyed() bool {
	return i.mem.load32(offStatus)&statusDestroyed != 0
}

// ownerAlive is true if the process that owns a claim token is still running
func ownerAlive(tok uint64) bool {
	pid := int(tok >> 32)
	if pid == os.Getpid() {
		return true
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

// SemWaitIndex claims a semaphore for this handle and returns its index.
// def is tried first when it is a valid index.  Claims left behind by dead
// processes are taken over.  A handle keeps its claim until SemRelease or Close.
func (i *Image) SemWaitIndex(def int) (int, error) {
	i.semMu.Lock()
	defer i.semMu.Unlock()
	if i.semIdx >= 0 {
		return i.semIdx, nil
	}
	if err := i.acquire(); err != nil {
		return -1, err
	}
	defer i.release()
	if i.token == 0 {
		i.token = newToken()
	}
	order := make([]int, 0, SemCount+1)
	if checkSemIndex(def) == nil {
		order = append(order, def)
	}
	for k := 0; k < SemCount; k++ {
		order = append(order, k)
	}
	for _, k := range order {
		addr := i.ownerAddr(k)
		for {
			own := atomic.LoadUint64(addr)
			if own != 0 && ownerAlive(own) {
				break
			}
			if atomic.CompareAndSwapUint64(addr, own, i.token) {
				i.semIdx = k
				return k, nil
			}
		}
	}
	return -1, errors.Wrapf(ErrNoSemaphore, "%s", i.name)
}

// SemIndex is the claimed semaphore, or -1
func (i *Image) SemIndex() int {
	i.semMu.Lock()
	defer i.semMu.Unlock()
	return i.semIdx
}

// SemRelease gives up the claimed semaphore, if any
func (i *Image) SemRelease() {
	i.semMu.Lock()
	defer i.semMu.Unlock()
	if i.semIdx < 0 {
		return
	}
	if err := i.acquire(); err == nil {
		atomic.CompareAndSwapUint64(i.ownerAddr(i.semIdx), i.token, 0)
		i.release()
	}
	i.semIdx = -1
}

// SemValue is the number of pending posts on semaphore k
func (i *Image) SemValue(k int) (int, error) {
	if err := checkSemIndex(k); err != nil {
		return 0, err
	}
	if err := i.acquire(); err != nil {
		return 0, err
	}
	defer i.release()
	return int(atomic.LoadUint32(i.semAddr(k))), nil
}

// SemFlush discards pending posts on semaphore k, or on all of them if k < 0
func (i *Image) SemFlush(k int) error {
	if k >= 0 {
		if err := checkSemIndex(k); err != nil {
			return err
		}
	}
	if err := i.acquire(); err != nil {
		return err
	}
	defer i.release()
	for j := 0; j < SemCount; j++ {
		if k < 0 || j == k {
			atomic.StoreUint32(i.semAddr(j), 0)
		}
	}
	return nil
}

func (i *Image) post(k int) {
	addr := i.semAddr(k)
	for {
		v := atomic.LoadUint32(addr)
		if v >= SemMaxVal {
			break
		}
		if atomic.CompareAndSwapUint32(addr, v, v+1) {
			break
		}
	}
	futexWake(addr)
}

func (i *Image) postAll(except int) {
	for k := 0; k < SemCount; k++ {
		if k != except {
			i.post(k)
		}
	}
}

// SemPost posts semaphore k, or all of them if k < 0
func (i *Image) SemPost(k int) error {
	if k >= 0 {
		if err := checkSemIndex(k); err != nil {
			return err
		}
	}
	if err := i.acquire(); err != nil {
		return err
	}
	defer i.release()
	if k < 0 {
		i.postAll(-1)
	} else {
		i.post(k)
	}
	return nil
}

// SemPostAll posts every semaphore except the one at index except (-1 posts all)
func (i *Image) SemPostAll(except int) error {
	if err := i.acquire(); err != nil {
		return err
	}
	defer i.release()
	i.postAll(except)
	return nil
}

// tryDecrement takes one post from semaphore k.  The caller holds the mapping.
func (i *Image) tryDecrement(k int) (bool, error) {
	if i.destroyed() {
		return false, errors.Wrapf(ErrDestroyed, "%s", i.name)
	}
	addr := i.semAddr(k)
	for {
		v := atomic.LoadUint32(addr)
		if v == 0 {
			return false, nil
		}
		if atomic.CompareAndSwapUint32(addr, v, v-1) {
			return true, nil
		}
	}
}

// SemTryWait takes one post from semaphore k without blocking.
// It reports false if there was none.
func (i *Image) SemTryWait(k int) (bool, error) {
	if err := checkSemIndex(k); err != nil {
		return false, err
	}
	if err := i.acquire(); err != nil {
		return false, err
	}
	defer i.release()
	return i.tryDecrement(k)
}

// SemWait blocks until semaphore k is posted
func (i *Image) SemWait(k int) error {
	return i.SemTimedWait(k, 0)
}

// SemTimedWait blocks until semaphore k is posted or timeout elapses.
// A timeout <= 0 waits forever.
func (i *Image) SemTimedWait(k int, timeout time.Duration) error {
	if err := checkSemIndex(k); err != nil {
		return err
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if err := i.acquire(); err != nil {
			return err
		}
		ok, err := i.tryDecrement(k)
		if err != nil || ok {
			i.release()
			return err
		}
		d := maxFutexSleep
		if timeout > 0 {
			rem := time.Until(deadline)
			if rem <= 0 {
				i.release()
				return errors.Wrapf(ErrSemTimeout, "%s after %v", i.name, timeout)
			}
			if rem < d {
				d = rem
			}
		}
		futexWait(i.semAddr(k), 0, d)
		i.release()
	}
}
