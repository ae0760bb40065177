package mergetree

import (
	"errors"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSegmentGroupCollection(t *testing.T) {
	seg := NewTextSegment("abc", nil)
	g1 := &SegmentGroup{LocalSeq: 1, Op: OpInsert}
	g2 := &SegmentGroup{LocalSeq: 2, Op: OpRemove}
	g3 := &SegmentGroup{LocalSeq: 3, Op: OpAnnotate}
	for _, g := range []*SegmentGroup{g1, g2, g3} {
		seg.segmentGroups.Enqueue(g)
	}
	if size := seg.segmentGroups.Size(); size != 3 {
		t.Fatalf("Size() = %d, want 3", size)
	}
	if !slices.Equal(g2.Segments, []*Segment{seg}) {
		t.Errorf("group segments = %v, want [%v]", g2.Segments, seg)
	}

	other := NewTextSegment("def", nil)
	seg.segmentGroups.CopyTo(other)
	if got := slices.Collect(other.segmentGroups.All()); !slices.Equal(got, []*SegmentGroup{g1, g2, g3}) {
		t.Errorf("copied groups = %v", got)
	}
	if !slices.Equal(g1.Segments, []*Segment{seg, other}) {
		t.Errorf("group segments after copy = %v", g1.Segments)
	}

	if got := seg.segmentGroups.Dequeue(); got != g1 {
		t.Errorf("Dequeue() = %v, want g1", got)
	}
	if got := seg.segmentGroups.Pop(); got != g3 {
		t.Errorf("Pop() = %v, want g3", got)
	}
	seg.segmentGroups.Clear()
	if !seg.segmentGroups.Empty() {
		t.Errorf("not empty after Clear")
	}
	if seg.segmentGroups.Dequeue() != nil || seg.segmentGroups.Pop() != nil {
		t.Errorf("empty collection returned a group")
	}
}

func TestPendingSegmentGroups(t *testing.T) {
	c := NewClientAtInitialState("abcdef", WithLongClientID("A"))
	var ops []*Op
	for _, f := range []func() (*Op, error){
		func() (*Op, error) { return c.InsertTextLocal(1, "xy", nil) },
		func() (*Op, error) { return c.RemoveRangeLocal(2, 5) },
		func() (*Op, error) { return c.AnnotateRangeLocal(0, 4, PropertySet{"bold": true}) },
	} {
		op, err := f()
		if err != nil {
			t.Fatal(err)
		}
		ops = append(ops, op)
	}
	if n := c.PendingSegmentGroups(); n != 3 {
		t.Fatalf("PendingSegmentGroups() = %d, want 3", n)
	}
	var texts []string
	for _, seg := range c.PeekPendingSegmentGroups().Segments {
		texts = append(texts, seg.Text())
	}
	// The inserted segment was split by the removal.
	if diff := cmp.Diff([]string{"x", "y"}, texts); diff != "" {
		t.Errorf("insert group segments (-want, +got):%s", diff)
	}

	for i, op := range ops {
		if err := c.ApplyMsg(c.MakeOpMessage(op, i+1)); err != nil {
			t.Fatalf("ack %d: %v", i+1, err)
		}
	}
	if n := c.PendingSegmentGroups(); n != 0 {
		t.Errorf("PendingSegmentGroups() = %d after acks", n)
	}
	for _, seg := range c.Segments() {
		if !seg.segmentGroups.Empty() {
			t.Errorf("segment %v still has pending groups", seg)
		}
		if seg.Seq() == UnassignedSequenceNumber {
			t.Errorf("segment %v not acked", seg)
		}
		if r, ok := seg.RemovedSeq(); ok && r != 2 {
			t.Errorf("segment %v removed at %d, want 2", seg, r)
		}
		if !seg.propertyManager.empty() {
			t.Errorf("segment %v has pending properties", seg)
		}
	}
	if got := c.GetText(); got != "axdef" {
		t.Errorf("GetText() = %q, want %q", got, "axdef")
	}

	err := c.ApplyMsg(c.MakeOpMessage(ops[0], 4))
	if !errors.Is(err, ErrAckMismatch) {
		t.Errorf("ack without pending ops: got %v, want %v", err, ErrAckMismatch)
	}
}
