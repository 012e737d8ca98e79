package opencl

import (
	"sync"
	"unsafe"
)

// staging keeps the host copies of non-blocking writes alive until the
// driver may no longer read them.  Queues are in order, so a completed
// blocking call on a queue means every earlier write on it has finished.
type staging struct {
	mtx     sync.Mutex
	pending map[CommandQueue][]unsafe.Pointer
	free    func(unsafe.Pointer)
}

func newStaging(free func(unsafe.Pointer)) *staging {
	return &staging{
		pending: make(map[CommandQueue][]unsafe.Pointer),
		free:    free,
	}
}

// hold records p as in use by a write enqueued on queue.
func (s *staging) hold(queue CommandQueue, p unsafe.Pointer) {
	s.mtx.Lock()
	s.pending[queue] = append(s.pending[queue], p)
	s.mtx.Unlock()
}

// settle frees every copy held for queue.  It must only be called once the
// queue has drained the writes that use them.
func (s *staging) settle(queue CommandQueue) {
	s.mtx.Lock()
	held := s.pending[queue]
	delete(s.pending, queue)
	s.mtx.Unlock()

	for _, p := range held {
		s.free(p)
	}
}

// held returns the number of copies kept for queue.
func (s *staging) held(queue CommandQueue) int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return len(s.pending[queue])
}
