package mergetree

import (
	"iter"

	"github.com/brunokim/merge-tree/collections"
)

// SegmentGroup is the set of segments touched by one local operation, kept until the
// operation is acknowledged.
type SegmentGroup struct {
	// Segments affected by the operation, including those split off later.
	Segments []*Segment
	// LocalSeq is the local sequence number of the operation.
	LocalSeq int
	// Op is the kind of operation.
	Op OpType
	// Props are the annotated properties, for annotate operations.
	Props PropertySet
}

// SegmentGroupCollection is the queue of pending groups of a segment, oldest first.
type SegmentGroupCollection struct {
	segment *Segment
	groups  *collections.List[*SegmentGroup]
}

func newSegmentGroupCollection(segment *Segment) *SegmentGroupCollection {
	return &SegmentGroupCollection{
		segment: segment,
		groups:  collections.NewList[*SegmentGroup](),
	}
}

// Empty returns whether the segment has no pending groups.
func (c *SegmentGroupCollection) Empty() bool { return c.groups.Empty() }

// Size returns the number of pending groups.
func (c *SegmentGroupCollection) Size() int { return c.groups.Len() }

// All iterates over pending groups, oldest first.
func (c *SegmentGroupCollection) All() iter.Seq[*SegmentGroup] { return c.groups.All() }

// Enqueue adds g as the newest group of the segment, and the segment to g.
func (c *SegmentGroupCollection) Enqueue(g *SegmentGroup) {
	c.groups.Push(g)
	g.Segments = append(g.Segments, c.segment)
}

// Dequeue removes and returns the oldest group, or nil if empty.
func (c *SegmentGroupCollection) Dequeue() *SegmentGroup {
	n := c.groups.Shift()
	if n == nil {
		return nil
	}
	return n.Data
}

// Pop removes and returns the newest group, or nil if empty.
func (c *SegmentGroupCollection) Pop() *SegmentGroup {
	n := c.groups.Pop()
	if n == nil {
		return nil
	}
	return n.Data
}

// Clear drops all groups.
func (c *SegmentGroupCollection) Clear() { c.groups.Clear() }

// CopyTo enqueues every group of this segment on segment too, in the same order.
func (c *SegmentGroupCollection) CopyTo(segment *Segment) {
	for g := range c.groups.All() {
		segment.segmentGroups.Enqueue(g)
	}
}
