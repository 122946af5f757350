package ai

import (
	"github.com/steveyegge/vigil/internal/watcher"
)

// numLevels matches the watcher's priority ranks (low=0 .. critical=3).
const numLevels = 4

type job struct {
	event watcher.ChangeEvent
}

// priorityQueue is a bounded multi-level FIFO. Not safe for concurrent use.
type priorityQueue struct {
	levels   [numLevels][]job
	capacity int
}

func newPriorityQueue(capacity int) *priorityQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &priorityQueue{capacity: capacity}
}

func level(p watcher.Priority) int {
	r := p.Rank()
	if r < 0 {
		return 0
	}
	if r >= numLevels {
		return numLevels - 1
	}
	return r
}

// Len returns the number of queued jobs.
func (q *priorityQueue) Len() int {
	n := 0
	for _, l := range q.levels {
		n += len(l)
	}
	return n
}

// Push enqueues j. A queued job for the same path is replaced, so the newest
// content wins. When the queue is full the newest job of the lowest
// non-empty level is evicted, unless j ranks no higher, in which case j is
// rejected. The evicted or rejected job is returned.
func (q *priorityQueue) Push(j job) (dropped *job) {
	q.remove(j.event.Path)

	lvl := level(j.event.Priority)
	if q.Len() >= q.capacity {
		low := -1
		for i := 0; i < numLevels; i++ {
			if len(q.levels[i]) > 0 {
				low = i
				break
			}
		}
		if low < 0 || low >= lvl {
			return &j
		}
		last := q.levels[low][len(q.levels[low])-1]
		q.levels[low] = q.levels[low][:len(q.levels[low])-1]
		dropped = &last
	}
	q.levels[lvl] = append(q.levels[lvl], j)
	return dropped
}

// Pop returns the oldest job of the highest non-empty level.
func (q *priorityQueue) Pop() (job, bool) {
	for i := numLevels - 1; i >= 0; i-- {
		if len(q.levels[i]) > 0 {
			j := q.levels[i][0]
			q.levels[i] = q.levels[i][1:]
			return j, true
		}
	}
	return job{}, false
}

func (q *priorityQueue) remove(path string) bool {
	for i := range q.levels {
		for k, j := range q.levels[i] {
			if j.event.Path == path {
				q.levels[i] = append(q.levels[i][:k], q.levels[i][k+1:]...)
				return true
			}
		}
	}
	return false
}
