package session

import (
	"container/heap"
	"sync"
	"time"
)

// Scheduler runs deadline callbacks keyed by an identifier. Scheduling a key
// that is already pending replaces its deadline. Callbacks run on the
// scheduler's own goroutine one at a time.
type Scheduler struct {
	mu    sync.Mutex
	queue deadlineQueue
	index map[string]*deadline

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

type deadline struct {
	key string
	at  time.Time
	fn  func()
	pos int
}

func NewScheduler() *Scheduler {
	s := &Scheduler{
		index: make(map[string]*deadline),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}

	go s.run()

	return s
}

// Schedule arranges for fn to be called after d, replacing any pending deadline for key.
func (s *Scheduler) Schedule(key string, d time.Duration, fn func()) {
	s.mu.Lock()
	if e, ok := s.index[key]; ok {
		e.at = time.Now().Add(d)
		e.fn = fn
		heap.Fix(&s.queue, e.pos)
	} else {
		e := &deadline{key: key, at: time.Now().Add(d), fn: fn}
		heap.Push(&s.queue, e)
		s.index[key] = e
	}
	s.mu.Unlock()

	s.signal()
}

// Cancel drops the pending deadline for key. It reports whether one existed.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.index[key]
	if !ok {
		return false
	}

	heap.Remove(&s.queue, e.pos)
	delete(s.index, key)

	return true
}

// Pending returns the number of scheduled deadlines.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.queue)
}

// Stop terminates the scheduler goroutine. Pending callbacks are dropped.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	for {
		due, wait := s.popDue(time.Now())
		for _, fn := range due {
			fn()
		}

		if len(due) > 0 {
			continue
		}

		var timer *time.Timer
		var fire <-chan time.Time
		if wait >= 0 {
			timer = time.NewTimer(wait)
			fire = timer.C
		}

		select {
		case <-s.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.wake:
		case <-fire:
		}

		if timer != nil {
			timer.Stop()
		}
	}
}

// popDue removes every deadline at or before now and returns their callbacks
// together with the wait until the next deadline, or -1 if none is left.
func (s *Scheduler) popDue(now time.Time) ([]func(), time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []func()
	for len(s.queue) > 0 && !s.queue[0].at.After(now) {
		e := heap.Pop(&s.queue).(*deadline)
		delete(s.index, e.key)
		due = append(due, e.fn)
	}

	if len(s.queue) == 0 {
		return due, -1
	}

	return due, s.queue[0].at.Sub(now)
}

type deadlineQueue []*deadline

func (q deadlineQueue) Len() int           { return len(q) }
func (q deadlineQueue) Less(i, j int) bool { return q[i].at.Before(q[j].at) }

func (q deadlineQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].pos = i
	q[j].pos = j
}

func (q *deadlineQueue) Push(x any) {
	e := x.(*deadline)
	e.pos = len(*q)
	*q = append(*q, e)
}

func (q *deadlineQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]

	return e
}
