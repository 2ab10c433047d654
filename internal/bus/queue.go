package bus

import (
	"context"
	"sync"
	"time"
)

// Job is one pending publish.
type Job struct {
	Topic    string
	Payload  []byte
	Label    string
	Retained bool
	QueuedAt time.Time
}

// Queue is an unbounded multi-producer FIFO with a single blocking
// consumer. Push never blocks.
type Queue struct {
	mu     sync.Mutex
	items  []Job
	notify chan struct{}
}

func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

func (q *Queue) Push(job Job) {
	q.mu.Lock()
	q.items = append(q.items, job)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes the head job without waiting.
func (q *Queue) Pop() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Job{}, false
	}
	job := q.items[0]
	q.items[0] = Job{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return job, true
}

// Next waits for the head job. ok is false once ctx ends.
func (q *Queue) Next(ctx context.Context) (Job, bool) {
	for {
		if job, ok := q.Pop(); ok {
			return job, true
		}
		select {
		case <-ctx.Done():
			return Job{}, false
		case <-q.notify:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
