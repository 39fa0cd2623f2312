package ring

import "testing"

func TestBufferRetainsOldestFirst(t *testing.T) {
	b := New[int](3)
	b.Add(1)
	b.Add(2)
	b.Add(3)

	got := b.All()
	want := []int{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("All() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("All() = %v, want %v", got, want)
		}
	}
}

func TestBufferEvictsOldestWhenFull(t *testing.T) {
	b := New[int](2)
	b.Add(1)
	b.Add(2)
	b.Add(3)

	got := b.All()
	want := []int{2, 3}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("All() = %v, want %v", got, want)
	}
	if b.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", b.Len())
	}
}

func TestBufferNonPositiveCapacityTreatedAsOne(t *testing.T) {
	b := New[string](0)
	b.Add("a")
	b.Add("b")

	got := b.All()
	if len(got) != 1 || got[0] != "b" {
		t.Fatalf("All() = %v, want [b]", got)
	}
}
