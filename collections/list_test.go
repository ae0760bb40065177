package collections_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/brunokim/merge-tree/collections"
	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"
)

func values[T any](l *collections.List[T]) []T {
	return slices.Collect(l.All())
}

func TestList_PushUnshift(t *testing.T) {
	l := collections.NewList[int]()
	l.Push(3, 4)
	first, last := l.Unshift(1, 2)
	l.Push(5)

	if diff := cmp.Diff([]int{1, 2, 3, 4, 5}, values(l)); diff != "" {
		t.Errorf("values: (-want, +got)\n%s", diff)
	}
	if first.Data != 1 || last.Data != 2 {
		t.Errorf("Unshift returned (%d, %d), want (1, 2)", first.Data, last.Data)
	}
	if got := slices.Collect(l.Backward()); !slices.Equal(got, []int{5, 4, 3, 2, 1}) {
		t.Errorf("Backward: got %v", got)
	}
	if l.Len() != 5 {
		t.Errorf("Len: got %d, want 5", l.Len())
	}
}

func TestList_PopShift(t *testing.T) {
	l := collections.NewList[string]()
	if l.Pop() != nil || l.Shift() != nil {
		t.Fatalf("empty list returned a node")
	}
	l.Push("a", "b", "c")
	if n := l.Pop(); n.Data != "c" || n.Next() != nil || n.Prev() != nil || n.List() != nil {
		t.Errorf("Pop: got %+v", n)
	}
	if n := l.Shift(); n.Data != "a" {
		t.Errorf("Shift: got %q", n.Data)
	}
	if diff := cmp.Diff([]string{"b"}, values(l)); diff != "" {
		t.Errorf("values: (-want, +got)\n%s", diff)
	}
}

func TestList_RemoveForeign(t *testing.T) {
	l1 := collections.NewList[int]()
	l2 := collections.NewList[int]()
	n1, _ := l1.Push(1)
	l2.Push(2)

	if l2.Has(n1) {
		t.Errorf("l2 has a node of l1")
	}
	if got := l2.Remove(n1); got != nil {
		t.Errorf("Remove of foreign node returned %v", got)
	}
	if !l1.Has(n1) || l1.Len() != 1 || l2.Len() != 1 {
		t.Errorf("foreign remove changed lists")
	}
	if _, _, err := l2.InsertAfter(n1, 3); !errors.Is(err, collections.ErrNotInList) {
		t.Errorf("InsertAfter: got err %v, want %v", err, collections.ErrNotInList)
	}
}

func TestList_InsertAfter(t *testing.T) {
	l := collections.NewList[int]()
	n, _ := l.Push(1)
	l.Push(4)
	first, last, err := l.InsertAfter(n, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	if first.Data != 2 || last.Data != 3 {
		t.Errorf("InsertAfter returned (%d, %d)", first.Data, last.Data)
	}
	if diff := cmp.Diff([]int{1, 2, 3, 4}, values(l)); diff != "" {
		t.Errorf("values: (-want, +got)\n%s", diff)
	}
}

func TestList_Clear(t *testing.T) {
	l := collections.NewList[int]()
	n1, n2 := l.Push(1, 2)
	l.Clear()
	if !l.Empty() || l.Has(n1) || l.Has(n2) || n1.List() != nil {
		t.Errorf("Clear left nodes behind")
	}
}

func TestWalkList(t *testing.T) {
	l := collections.NewList[int]()
	l.Push(1, 2)
	start, _ := l.Push(3)
	l.Push(4, 5)

	tests := []struct {
		desc    string
		start   *collections.ListNode[int]
		forward bool
		stopAt  int
		want    []int
		wantAll bool
	}{
		{"forward from start", nil, true, 0, []int{1, 2, 3, 4, 5}, true},
		{"backward from end", nil, false, 0, []int{5, 4, 3, 2, 1}, true},
		{"forward from middle", start, true, 0, []int{3, 4, 5}, true},
		{"backward from middle", start, false, 0, []int{3, 2, 1}, true},
		{"stop early", nil, true, 2, []int{1, 2}, false},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			var got []int
			all, err := collections.WalkList(l, func(n *collections.ListNode[int]) bool {
				got = append(got, n.Data)
				return n.Data != test.stopAt
			}, test.start, test.forward)
			if err != nil {
				t.Fatal(err)
			}
			if all != test.wantAll {
				t.Errorf("WalkList returned %v, want %v", all, test.wantAll)
			}
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("visited: (-want, +got)\n%s", diff)
			}
		})
	}

	other := collections.NewList[int]()
	foreign, _ := other.Push(9)
	if _, err := collections.WalkList(l, func(*collections.ListNode[int]) bool { return true }, foreign, true); !errors.Is(err, collections.ErrNotInList) {
		t.Errorf("walk from foreign node: got err %v", err)
	}
}

// Models a list as a slice of nodes, checking that membership follows pushes and removals.
type listMachine struct {
	list    *collections.List[int]
	nodes   []*collections.ListNode[int]
	removed []*collections.ListNode[int]
	next    int
}

func (m *listMachine) Push(t *rapid.T) {
	m.next++
	n, _ := m.list.Push(m.next)
	m.nodes = append(m.nodes, n)
}

func (m *listMachine) Unshift(t *rapid.T) {
	m.next++
	n, _ := m.list.Unshift(m.next)
	m.nodes = append([]*collections.ListNode[int]{n}, m.nodes...)
}

func (m *listMachine) Remove(t *rapid.T) {
	if len(m.nodes) == 0 {
		t.Skip("empty list")
	}
	i := rapid.IntRange(0, len(m.nodes)-1).Draw(t, "i")
	n := m.nodes[i]
	if got := m.list.Remove(n); got != n {
		t.Fatalf("Remove returned %v, want %v", got, n)
	}
	m.nodes = slices.Delete(m.nodes, i, i+1)
	m.removed = append(m.removed, n)
}

func (m *listMachine) RemoveTwice(t *rapid.T) {
	if len(m.removed) == 0 {
		t.Skip("nothing removed")
	}
	n := rapid.SampledFrom(m.removed).Draw(t, "n")
	if got := m.list.Remove(n); got != nil {
		t.Fatalf("second Remove returned %v", got)
	}
}

func (m *listMachine) Check(t *rapid.T) {
	if m.list.Len() != len(m.nodes) {
		t.Fatalf("Len: got %d, want %d", m.list.Len(), len(m.nodes))
	}
	for _, n := range m.nodes {
		if !m.list.Has(n) {
			t.Fatalf("node %d not in list", n.Data)
		}
	}
	for _, n := range m.removed {
		if m.list.Has(n) || n.Next() != nil || n.Prev() != nil || n.List() != nil {
			t.Fatalf("removed node %d is still linked", n.Data)
		}
	}
	var want []int
	for _, n := range m.nodes {
		want = append(want, n.Data)
	}
	if got := values(m.list); !slices.Equal(got, want) {
		t.Fatalf("values: got %v, want %v", got, want)
	}
}

func TestList_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := &listMachine{list: collections.NewList[int]()}
		t.Repeat(rapid.StateMachineActions(m))
	})
}
