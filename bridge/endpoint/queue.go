package endpoint

import (
	"context"
	"sync"
	"time"

	"github.com/ardnew/sdmsc/pkg"
)

// queue is a bounded FIFO of packets shared by the host and device sides
// of an endpoint. Waiters sleep on a broadcast channel that is replaced
// whenever the queue or the abort state changes.
type queue struct {
	mutex   sync.Mutex
	packets [][]byte
	depth   int
	aborted bool
	changed chan struct{}
}

func newQueue(depth int) *queue {
	return &queue{
		depth:   depth,
		changed: make(chan struct{}),
	}
}

// notify wakes every waiter. Caller holds the mutex.
func (q *queue) notify() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// wait blocks until cond reports true, the queue is aborted, ctx is done,
// or timeout elapses. A zero timeout waits indefinitely. cond runs with
// the mutex held.
func (q *queue) wait(ctx context.Context, timeout time.Duration, cond func() bool) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		q.mutex.Lock()
		if q.aborted {
			q.mutex.Unlock()
			return pkg.ErrAborted
		}
		if cond() {
			q.mutex.Unlock()
			return nil
		}
		changed := q.changed
		q.mutex.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		case <-expired:
			return pkg.ErrNotReady
		}
	}
}

// push appends a packet. Caller holds the mutex.
func (q *queue) push(p []byte) {
	q.packets = append(q.packets, p)
	q.notify()
}

// pop removes the oldest packet. Caller holds the mutex.
func (q *queue) pop() []byte {
	p := q.packets[0]
	q.packets[0] = nil
	q.packets = q.packets[1:]
	q.notify()
	return p
}

func (q *queue) full() bool {
	return len(q.packets) >= q.depth
}

func (q *queue) abort() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.aborted = true
	q.notify()
}

func (q *queue) reset() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.aborted = false
	q.packets = nil
	q.notify()
}

func (q *queue) isAborted() bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.aborted
}

func (q *queue) len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.packets)
}
