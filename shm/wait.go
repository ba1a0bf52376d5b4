package shm

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/nasa-jpl/gomilk/isio"
)

// NonBlockWaitSemaphore waits for the next frame by polling the semaphore
// every sleep instead of blocking in the kernel.  It reports true if the
// stream was destroyed rather than written.
func (s *SHM) NonBlockWaitSemaphore(ctx context.Context, sleep time.Duration) (bool, error) {
	img, err := s.image()
	if err != nil {
		return false, err
	}
	k, err := s.semIndex(img)
	if err != nil {
		return false, err
	}
	if err = img.SemFlush(k); err != nil {
		return false, err
	}
	ticker := time.NewTicker(sleep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
		ok, err := img.SemTryWait(k)
		if errors.Is(err, isio.ErrDestroyed) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		if ok {
			return false, nil
		}
	}
}
