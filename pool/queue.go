package pool

import (
	"container/list"
	"context"
	"sync"
)

// msgQueue is an unbounded FIFO of parsed pool messages.  The websocket reader
// pushes without ever blocking; the coordinator pops and parks on a single
// wake-up channel while the queue is empty.
type msgQueue struct {
	mtx    sync.Mutex
	items  *list.List
	waiter chan struct{}

	// err is returned by pop once the queue is closed and drained.
	err error
}

func newMsgQueue() *msgQueue {
	return &msgQueue{items: list.New()}
}

// wake fires the pending waiter, if any.
//
// This function MUST be called with the queue lock held.
func (q *msgQueue) wake() {
	if q.waiter != nil {
		close(q.waiter)
		q.waiter = nil
	}
}

// push appends a message.  Messages pushed after close are dropped.
func (q *msgQueue) push(msg interface{}) {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	if q.err != nil {
		return
	}
	q.items.PushBack(msg)
	q.wake()
}

// close makes pop return err once every queued message is consumed.  Only the
// first close has an effect.
func (q *msgQueue) close(err error) {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	if q.err == nil {
		q.err = err
		q.wake()
	}
}

// len returns the number of queued messages.
func (q *msgQueue) len() int {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	return q.items.Len()
}

// pop removes and returns the oldest message, waiting for one to arrive when
// the queue is empty.
func (q *msgQueue) pop(ctx context.Context) (interface{}, error) {
	for {
		q.mtx.Lock()
		if front := q.items.Front(); front != nil {
			q.items.Remove(front)
			q.mtx.Unlock()
			return front.Value, nil
		}
		if q.err != nil {
			err := q.err
			q.mtx.Unlock()
			return nil, err
		}
		if q.waiter == nil {
			q.waiter = make(chan struct{})
		}
		waiter := q.waiter
		q.mtx.Unlock()

		select {
		case <-waiter:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
