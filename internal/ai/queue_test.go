package ai

import (
	"testing"

	"github.com/steveyegge/vigil/internal/watcher"
)

func ev(path string, p watcher.Priority) job {
	return job{event: watcher.ChangeEvent{Path: path, Priority: p}}
}

func drain(q *priorityQueue) []string {
	var out []string
	for {
		j, ok := q.Pop()
		if !ok {
			return out
		}
		out = append(out, j.event.Path)
	}
}

func equalPaths(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPriorityQueueOrder(t *testing.T) {
	q := newPriorityQueue(10)
	q.Push(ev("low1", watcher.PriorityLow))
	q.Push(ev("med", watcher.PriorityMedium))
	q.Push(ev("crit", watcher.PriorityCritical))
	q.Push(ev("low2", watcher.PriorityLow))
	q.Push(ev("high", watcher.PriorityHigh))

	want := []string{"crit", "high", "med", "low1", "low2"}
	if got := drain(q); !equalPaths(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d after drain", q.Len())
	}
}

func TestPriorityQueueReplacesSamePath(t *testing.T) {
	q := newPriorityQueue(10)
	q.Push(ev("a.js", watcher.PriorityLow))
	q.Push(ev("b.js", watcher.PriorityLow))
	q.Push(ev("a.js", watcher.PriorityHigh))

	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2", q.Len())
	}
	want := []string{"a.js", "b.js"}
	if got := drain(q); !equalPaths(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestPriorityQueueFull(t *testing.T) {
	q := newPriorityQueue(2)
	q.Push(ev("low1", watcher.PriorityLow))
	q.Push(ev("low2", watcher.PriorityLow))

	// equal rank is rejected
	dropped := q.Push(ev("low3", watcher.PriorityLow))
	if dropped == nil || dropped.event.Path != "low3" {
		t.Fatalf("dropped = %+v, want low3", dropped)
	}

	// higher rank evicts the newest lowest-ranked job
	dropped = q.Push(ev("crit", watcher.PriorityCritical))
	if dropped == nil || dropped.event.Path != "low2" {
		t.Fatalf("dropped = %+v, want low2", dropped)
	}

	want := []string{"crit", "low1"}
	if got := drain(q); !equalPaths(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}
