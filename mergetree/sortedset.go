package mergetree

import (
	"fmt"
	"slices"
)

// Values that wrap a segment, like local references.
type segmentHolder interface {
	Segment() *Segment
}

// Returns the ordinal used to sort an item. Items without a segment sort first.
func ordinalOf(item any) string {
	switch v := item.(type) {
	case *Segment:
		if v == nil {
			return ""
		}
		return v.ordinal
	case segmentHolder:
		if seg := v.Segment(); seg != nil {
			return seg.ordinal
		}
		return ""
	}
	panic(fmt.Sprintf("no ordinal for %T", item))
}

// SortedSegmentSet keeps unique items sorted by the ordinal of their segment.
//
// Items sharing an ordinal, like references on the same segment, are told apart by
// identity. An item's ordinal must not change while it's in the set.
type SortedSegmentSet[T comparable] struct {
	items []T
}

// Size returns the number of items.
func (s *SortedSegmentSet[T]) Size() int { return len(s.items) }

// Items returns the items in ordinal order. The slice must not be modified.
func (s *SortedSegmentSet[T]) Items() []T { return s.items }

// Has returns whether item is in the set.
func (s *SortedSegmentSet[T]) Has(item T) bool {
	found, _ := s.findItemPosition(item)
	return found
}

// AddOrUpdate inserts item in order. If it's already present and update is not nil,
// the stored item is replaced by update(stored, item).
func (s *SortedSegmentSet[T]) AddOrUpdate(item T, update func(existing, item T) T) {
	found, index := s.findItemPosition(item)
	if found {
		if update != nil {
			s.items[index] = update(s.items[index], item)
		}
		return
	}
	s.items = slices.Insert(s.items, index, item)
}

// Remove deletes item from the set, returning whether it was present.
func (s *SortedSegmentSet[T]) Remove(item T) bool {
	found, index := s.findItemPosition(item)
	if !found {
		return false
	}
	s.items = slices.Delete(s.items, index, index+1)
	return true
}

func (s *SortedSegmentSet[T]) findItemPosition(item T) (bool, int) {
	if len(s.items) == 0 {
		return false, 0
	}
	return s.findOrdinalPosition(ordinalOf(item), item, 0, len(s.items)-1)
}

// Binary search over [start, end]. On equal ordinals, searches both halves for the
// identical item, preferring the earlier one.
func (s *SortedSegmentSet[T]) findOrdinalPosition(ordinal string, item T, start, end int) (bool, int) {
	if end < start {
		return false, start
	}
	index := start + (end-start)/2
	stored := ordinalOf(s.items[index])
	switch {
	case stored > ordinal:
		return s.findOrdinalPosition(ordinal, item, start, index-1)
	case stored < ordinal:
		return s.findOrdinalPosition(ordinal, item, index+1, end)
	case s.items[index] == item:
		return true, index
	}
	if found, i := s.findOrdinalPosition(ordinal, item, start, index-1); found {
		return true, i
	}
	return s.findOrdinalPosition(ordinal, item, index+1, end)
}
