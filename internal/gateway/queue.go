package gateway

import (
	"container/heap"
	"time"

	"github.com/sentinel-uhnw/sentinel/pkg/types"
)

// queuedEvent wraps an Event for the priority heap. Per-event priority is
// inverted (10 - event.Priority) so the heap's natural min-first ordering
// pops the highest-priority event first; ties break on submission time.
type queuedEvent struct {
	event       types.Event
	wrapped     int
	submittedAt time.Time
	seq         int64
}

type priorityQueue []*queuedEvent

func (q priorityQueue) Len() int { return len(q) }

func (q priorityQueue) Less(i, j int) bool {
	if q[i].wrapped != q[j].wrapped {
		return q[i].wrapped < q[j].wrapped
	}
	if !q[i].submittedAt.Equal(q[j].submittedAt) {
		return q[i].submittedAt.Before(q[j].submittedAt)
	}
	return q[i].seq < q[j].seq
}

func (q priorityQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *priorityQueue) Push(x any) {
	*q = append(*q, x.(*queuedEvent))
}

func (q *priorityQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// sessionQueue is one session's event queue plus the sequence counter that
// breaks ties among events submitted in the same instant.
type sessionQueue struct {
	heap priorityQueue
	next int64
}

func newSessionQueue() *sessionQueue {
	return &sessionQueue{heap: make(priorityQueue, 0)}
}

func (s *sessionQueue) push(event types.Event) {
	s.next++
	heap.Push(&s.heap, &queuedEvent{
		event:       event,
		wrapped:     10 - event.Priority,
		submittedAt: event.Timestamp,
		seq:         s.next,
	})
}

func (s *sessionQueue) pop() (types.Event, bool) {
	if s.heap.Len() == 0 {
		return types.Event{}, false
	}
	item := heap.Pop(&s.heap).(*queuedEvent)
	return item.event, true
}

func (s *sessionQueue) len() int {
	return s.heap.Len()
}
