package ring

import "testing"

func TestAppendWithinCapacity(t *testing.T) {
	b := New[int](4)
	for i := 1; i <= 3; i++ {
		b.Append(i)
	}
	if got := b.Len(); got != 3 {
		t.Fatalf("Len: got %d, want 3", got)
	}
	snap := b.Snapshot()
	want := []int{1, 2, 3}
	for i, v := range want {
		if snap[i] != v {
			t.Errorf("Snapshot[%d]: got %d, want %d", i, snap[i], v)
		}
	}
}

func TestOverflowEvictsOldest(t *testing.T) {
	const capacity = 5
	const extra = 3
	b := New[int](capacity)
	for i := 1; i <= capacity+extra; i++ {
		b.Append(i)
	}

	if got := b.Len(); got != capacity {
		t.Fatalf("Len after overflow: got %d, want %d", got, capacity)
	}

	// The buffer must hold the most recent `capacity` entries: 4..8.
	snap := b.Snapshot()
	for i := 0; i < capacity; i++ {
		want := extra + i + 1
		if snap[i] != want {
			t.Errorf("Snapshot[%d]: got %d, want %d", i, snap[i], want)
		}
	}
}

func TestFilter(t *testing.T) {
	b := New[int](8)
	for i := 1; i <= 6; i++ {
		b.Append(i)
	}
	even := b.Filter(func(v int) bool { return v%2 == 0 })
	want := []int{2, 4, 6}
	if len(even) != len(want) {
		t.Fatalf("Filter: got %d items, want %d", len(even), len(want))
	}
	for i, v := range want {
		if even[i] != v {
			t.Errorf("Filter[%d]: got %d, want %d", i, even[i], v)
		}
	}
}

func TestClear(t *testing.T) {
	b := New[string](3)
	b.Append("a")
	b.Append("b")
	b.Clear()
	if got := b.Len(); got != 0 {
		t.Fatalf("Len after Clear: got %d, want 0", got)
	}
	if snap := b.Snapshot(); len(snap) != 0 {
		t.Fatalf("Snapshot after Clear: got %d items, want 0", len(snap))
	}
	// Appends after Clear behave as on a fresh buffer.
	b.Append("c")
	if snap := b.Snapshot(); len(snap) != 1 || snap[0] != "c" {
		t.Fatalf("Snapshot after Clear+Append: got %v", snap)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	b := New[int](3)
	b.Append(1)
	snap := b.Snapshot()
	snap[0] = 99
	if got := b.Snapshot()[0]; got != 1 {
		t.Fatalf("buffer mutated through snapshot: got %d, want 1", got)
	}
}

func TestZeroCapacityClamped(t *testing.T) {
	b := New[int](0)
	b.Append(7)
	b.Append(8)
	if got := b.Len(); got != 1 {
		t.Fatalf("Len: got %d, want 1", got)
	}
	if got := b.Snapshot()[0]; got != 8 {
		t.Fatalf("Snapshot[0]: got %d, want 8", got)
	}
}
