package eventlog

import (
	"fmt"
	"slices"
	"sync"
	"testing"
)

func TestRing_NewestFirst(t *testing.T) {
	t.Parallel()

	r := NewRing[int](3)
	r.Add(1)
	r.Add(2)
	if got := r.Snapshot(); !slices.Equal(got, []int{2, 1}) {
		t.Errorf("Snapshot = %v, want [2 1]", got)
	}
	r.Add(3)
	r.Add(4)
	if got := r.Snapshot(); !slices.Equal(got, []int{4, 3, 2}) {
		t.Errorf("Snapshot = %v, want [4 3 2]", got)
	}
}

func TestRing_CapsUnderSustainedInsertion(t *testing.T) {
	t.Parallel()

	for _, capacity := range []int{DetectionLogSize, MessageLogSize} {
		t.Run(fmt.Sprint(capacity), func(t *testing.T) {
			r := NewRing[Entry](capacity)
			for i := range 1000 {
				r.Add(Entry{Description: fmt.Sprint(i)})
				if r.Len() > capacity {
					t.Fatalf("len %d exceeds cap %d", r.Len(), capacity)
				}
				if got := r.Snapshot()[0].Description; got != fmt.Sprint(i) {
					t.Fatalf("index 0 = %q, want newest %d", got, i)
				}
			}
			snap := r.Snapshot()
			if len(snap) != capacity {
				t.Fatalf("len = %d, want %d", len(snap), capacity)
			}
			if last := snap[capacity-1].Description; last != fmt.Sprint(1000-capacity) {
				t.Errorf("oldest = %q, want %d", last, 1000-capacity)
			}
		})
	}
}

func TestRing_Concurrent(t *testing.T) {
	t.Parallel()

	r := NewRing[int](10)
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				r.Add(g*100 + i)
				_ = r.Snapshot()
			}
		}()
	}
	wg.Wait()
	if r.Len() != 10 {
		t.Errorf("Len = %d, want 10", r.Len())
	}
}

func TestRing_ClearAndMinimumCapacity(t *testing.T) {
	t.Parallel()

	r := NewRing[string](0)
	if r.Cap() != 1 {
		t.Fatalf("Cap = %d, want 1", r.Cap())
	}
	r.Add("a")
	r.Add("b")
	if got := r.Snapshot(); !slices.Equal(got, []string{"b"}) {
		t.Errorf("Snapshot = %v", got)
	}
	r.Clear()
	if r.Len() != 0 || len(r.Snapshot()) != 0 {
		t.Error("Clear left items behind")
	}
}
