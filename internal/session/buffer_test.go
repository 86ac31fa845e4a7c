package session

import "testing"

func TestRingBufferDropsOldestOnOverflow(t *testing.T) {
	b := NewRingBuffer(3)
	b.Append([]int16{1, 2, 3, 4, 5})
	got := b.Samples()
	want := []int16{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestRingBufferResizeDownTrimsToMostRecent(t *testing.T) {
	b := NewRingBuffer(5)
	b.Append([]int16{1, 2, 3, 4, 5})
	b.Resize(2)
	got := b.Samples()
	if len(got) != 2 || got[0] != 4 || got[1] != 5 {
		t.Fatalf("got %v, want [4 5]", got)
	}
}

func TestRingBufferResizeUpKeepsContents(t *testing.T) {
	b := NewRingBuffer(2)
	b.Append([]int16{1, 2})
	b.Resize(10)
	if b.Len() != 2 {
		t.Fatalf("len = %d, want 2", b.Len())
	}
	b.Append([]int16{3, 4, 5})
	if b.Len() != 5 {
		t.Fatalf("len = %d, want 5 after growing capacity", b.Len())
	}
}
