package queue

import (
	"time"
)

// Batcher accumulates items up to Size, or up to MaxWait after the first
// item of a batch arrived, whichever comes first.
type Batcher[T any] struct {
	Size    int
	MaxWait time.Duration
}

// Collect blocks for the next batch. It returns nil when in closes or done
// fires with nothing buffered; a short batch means MaxWait elapsed.
func (b Batcher[T]) Collect(done <-chan struct{}, in <-chan T) []T {
	var batch []T

	// Wait for the first item; the flush timer starts with it.
	select {
	case <-done:
		return nil
	case item, ok := <-in:
		if !ok {
			return nil
		}
		batch = append(batch, item)
	}
	if len(batch) >= b.Size {
		return batch
	}

	timer := time.NewTimer(b.MaxWait)
	defer timer.Stop()

	for {
		select {
		case <-done:
			return batch
		case <-timer.C:
			return batch
		case item, ok := <-in:
			if !ok {
				return batch
			}
			batch = append(batch, item)
			if len(batch) >= b.Size {
				return batch
			}
		}
	}
}
