// Package collections contains generic containers used by the merge tree.
//
// List is a doubly-linked list whose nodes know the list they belong to, so
// membership checks and removals are O(1) given only the node. Local references
// keep a pointer to their node, which lets a reference leave its bucket without
// searching for it.
package collections

import (
	"errors"
	"iter"
)

var (
	// ErrNotInList is returned when a node is used with a list that doesn't own it.
	ErrNotInList = errors.New("node is not in list")
)

// ListNode is an element of a List.
type ListNode[T any] struct {
	// Data is the value stored in this node.
	Data T

	next, prev *ListNode[T]
	head       *ListNode[T] // Sentinel of the owning list, nil when detached.
	list       *List[T]     // Only set on the sentinel.
}

// Next returns the following node, or nil at the end of the list.
func (n *ListNode[T]) Next() *ListNode[T] {
	if n.next == nil || n.next == n.head {
		return nil
	}
	return n.next
}

// Prev returns the preceding node, or nil at the start of the list.
func (n *ListNode[T]) Prev() *ListNode[T] {
	if n.prev == nil || n.prev == n.head {
		return nil
	}
	return n.prev
}

// List returns the list that owns this node, or nil if it was removed.
func (n *ListNode[T]) List() *List[T] {
	if n.head == nil {
		return nil
	}
	return n.head.list
}

// List is a circular doubly-linked list with a sentinel node.
type List[T any] struct {
	root ListNode[T]
	size int
}

// NewList returns an empty list.
func NewList[T any]() *List[T] {
	return new(List[T]).init()
}

func (l *List[T]) init() *List[T] {
	l.root.next = &l.root
	l.root.prev = &l.root
	l.root.head = &l.root
	l.root.list = l
	l.size = 0
	return l
}

func (l *List[T]) lazyInit() {
	if l.root.next == nil {
		l.init()
	}
}

// Len returns the number of nodes in the list.
func (l *List[T]) Len() int { return l.size }

// Empty returns whether the list has no nodes.
func (l *List[T]) Empty() bool { return l.size == 0 }

// First returns the first node, or nil if empty.
func (l *List[T]) First() *ListNode[T] {
	if l.size == 0 {
		return nil
	}
	return l.root.next
}

// Last returns the last node, or nil if empty.
func (l *List[T]) Last() *ListNode[T] {
	if l.size == 0 {
		return nil
	}
	return l.root.prev
}

// Has returns whether node belongs to this list.
func (l *List[T]) Has(node *ListNode[T]) bool {
	return node != nil && node != &l.root && node.head == &l.root
}

// Inserts items after 'at', returning the first and last created nodes.
func (l *List[T]) insertAfter(at *ListNode[T], items []T) (first, last *ListNode[T]) {
	for _, item := range items {
		node := &ListNode[T]{Data: item, head: &l.root}
		node.prev = at
		node.next = at.next
		at.next.prev = node
		at.next = node
		l.size++
		if first == nil {
			first = node
		}
		last = node
		at = node
	}
	return first, last
}

// Push appends items to the end of the list, in order.
func (l *List[T]) Push(items ...T) (first, last *ListNode[T]) {
	l.lazyInit()
	return l.insertAfter(l.root.prev, items)
}

// Unshift prepends items to the start of the list, keeping their relative order.
func (l *List[T]) Unshift(items ...T) (first, last *ListNode[T]) {
	l.lazyInit()
	return l.insertAfter(&l.root, items)
}

// InsertAfter inserts items right after node, which must belong to this list.
func (l *List[T]) InsertAfter(node *ListNode[T], items ...T) (first, last *ListNode[T], err error) {
	if !l.Has(node) {
		return nil, nil, ErrNotInList
	}
	first, last = l.insertAfter(node, items)
	return first, last, nil
}

// Pop removes and returns the last node, or nil if empty.
func (l *List[T]) Pop() *ListNode[T] {
	return l.Remove(l.Last())
}

// Shift removes and returns the first node, or nil if empty.
func (l *List[T]) Shift() *ListNode[T] {
	return l.Remove(l.First())
}

// Remove detaches node from the list. Returns nil if node doesn't belong to it.
func (l *List[T]) Remove(node *ListNode[T]) *ListNode[T] {
	if !l.Has(node) {
		return nil
	}
	node.prev.next = node.next
	node.next.prev = node.prev
	node.next = nil
	node.prev = nil
	node.head = nil
	l.size--
	return node
}

// Clear removes all nodes, detaching each of them.
func (l *List[T]) Clear() {
	for l.size > 0 {
		l.Shift()
	}
}

// All iterates over values from first to last.
//
// Removing the current node during iteration is allowed.
func (l *List[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for n := l.First(); n != nil; {
			next := n.Next()
			if !yield(n.Data) {
				return
			}
			n = next
		}
	}
}

// Backward iterates over values from last to first.
func (l *List[T]) Backward() iter.Seq[T] {
	return func(yield func(T) bool) {
		for n := l.Last(); n != nil; {
			prev := n.Prev()
			if !yield(n.Data) {
				return
			}
			n = prev
		}
	}
}

// Walk visits nodes starting at 'from' in the given direction, until the end of
// its list or until visitor returns false. Returns false if the walk was stopped.
func Walk[T any](from *ListNode[T], forward bool, visitor func(*ListNode[T]) bool) bool {
	for n := from; n != nil; {
		var next *ListNode[T]
		if forward {
			next = n.Next()
		} else {
			next = n.Prev()
		}
		if !visitor(n) {
			return false
		}
		n = next
	}
	return true
}

// WalkList visits the nodes of list in the given direction, starting at 'start'
// or at the list's edge when start is nil.
//
// Returns false if visitor stopped the walk, and ErrNotInList if start is not in list.
func WalkList[T any](list *List[T], visitor func(*ListNode[T]) bool, start *ListNode[T], forward bool) (bool, error) {
	if list == nil || list.Empty() {
		if start != nil {
			return true, ErrNotInList
		}
		return true, nil
	}
	if start == nil {
		if forward {
			start = list.First()
		} else {
			start = list.Last()
		}
	} else if !list.Has(start) {
		return true, ErrNotInList
	}
	return Walk(start, forward, visitor), nil
}
