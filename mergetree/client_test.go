package mergetree_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/brunokim/merge-tree/mergetree"
)

func TestNewClient_GeneratedID(t *testing.T) {
	teardown := mergetree.MockClientIDs("client-1", "client-2")
	defer teardown()

	c1 := mergetree.NewClient()
	c2 := mergetree.NewClientAtInitialState("abc")
	if c1.LongClientID() != "client-1" || c2.LongClientID() != "client-2" {
		t.Errorf("got ids %q and %q", c1.LongClientID(), c2.LongClientID())
	}
	if got := c2.ShortClientID("client-2"); got != 0 {
		t.Errorf("own short id = %d, want 0", got)
	}
	if got := c2.ShortClientID("other"); got != 1 {
		t.Errorf("new short id = %d, want 1", got)
	}
	if got := c2.LongClientIDOf(1); got != "other" {
		t.Errorf("LongClientIDOf(1) = %q", got)
	}
}

func TestInitialState(t *testing.T) {
	c := mergetree.NewClientAtInitialState("12--3-")
	if got := c.GetText(); got != "123" {
		t.Errorf("GetText() = %q, want %q", got, "123")
	}
	if got := c.GetLength(); got != 3 {
		t.Errorf("GetLength() = %d, want 3", got)
	}
	var texts []string
	for _, seg := range c.Segments() {
		texts = append(texts, seg.Text())
	}
	if diff := cmp.Diff([]string{"12", "--", "3", "-"}, texts); diff != "" {
		t.Errorf("segments (-want, +got):%s", diff)
	}
}

func TestConcurrentOps(t *testing.T) {
	tests := []struct {
		desc  string
		state string
		ops   func(tc *testClients)
		want  string
	}{
		{
			desc:  "inserts at same position",
			state: "xyz",
			ops: func(tc *testClients) {
				tc.submit("A")(tc.get("A").InsertTextLocal(0, "a", nil))
				tc.submit("B")(tc.get("B").InsertTextLocal(0, "b", nil))
			},
			// Later sequenced inserts come first.
			want: "baxyz",
		},
		{
			desc:  "inserts at end",
			state: "xyz",
			ops: func(tc *testClients) {
				tc.submit("A")(tc.get("A").InsertTextLocal(3, "a", nil))
				tc.submit("B")(tc.get("B").InsertTextLocal(3, "b", nil))
				tc.submit("C")(tc.get("C").InsertTextLocal(1, "c", nil))
			},
			want: "xcyzba",
		},
		{
			desc:  "overlapping removes",
			state: "abcd",
			ops: func(tc *testClients) {
				tc.submit("A")(tc.get("A").RemoveRangeLocal(0, 2))
				tc.submit("B")(tc.get("B").RemoveRangeLocal(1, 3))
			},
			want: "d",
		},
		{
			desc:  "insert into removed range",
			state: "abcd",
			ops: func(tc *testClients) {
				tc.submit("A")(tc.get("A").RemoveRangeLocal(1, 3))
				tc.submit("B")(tc.get("B").InsertTextLocal(2, "X", nil))
			},
			want: "aXd",
		},
		{
			desc:  "insert before remove of same segment",
			state: "abcd",
			ops: func(tc *testClients) {
				tc.submit("B")(tc.get("B").InsertTextLocal(2, "X", nil))
				tc.submit("A")(tc.get("A").RemoveRangeLocal(0, 4))
			},
			want: "X",
		},
		{
			desc:  "remove over tombstones",
			state: "ab--cd",
			ops: func(tc *testClients) {
				tc.submit("A")(tc.get("A").RemoveRangeLocal(1, 3))
				tc.submit("C")(tc.get("C").InsertTextLocal(2, "Y", nil))
				tc.submit("B")(tc.get("B").InsertTextLocal(1, "X", nil))
			},
			want: "aXYd",
		},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			tc := newTestClients(t, test.state, "A", "B", "C")
			test.ops(tc)
			tc.flush(-1)
			tc.validate(test.want)
		})
	}
}

func TestConcurrentAnnotate(t *testing.T) {
	tc := newTestClients(t, "abc", "A", "B")
	tc.submit("A")(tc.get("A").AnnotateRangeLocal(0, 3, mergetree.PropertySet{"color": "red"}))
	tc.submit("B")(tc.get("B").AnnotateRangeLocal(1, 2, mergetree.PropertySet{"color": "blue"}))
	tc.flush(-1)

	for _, name := range []string{"A", "B"} {
		var colors []any
		for _, seg := range tc.get(name).Segments() {
			colors = append(colors, seg.Properties()["color"])
		}
		if diff := cmp.Diff([]any{"red", "blue", "red"}, colors); diff != "" {
			t.Errorf("client %s colors (-want, +got):%s", name, diff)
		}
	}
}

func TestMarkers(t *testing.T) {
	tc := newTestClients(t, "ab", "A", "B")
	tc.submit("A")(tc.get("A").InsertMarkerLocal(1, mergetree.PropertySet{"kind": "paragraph"}))
	tc.flush(-1)

	b := tc.get("B")
	if got := b.GetText(); got != "ab" {
		t.Errorf("GetText() = %q", got)
	}
	if got := b.TextWithPlaceholders(); got != "a\uFFFCb" {
		t.Errorf("TextWithPlaceholders() = %q", got)
	}
	seg, offset := b.GetContainingSegment(1)
	if seg.Kind() != mergetree.MarkerSegment || offset != 0 {
		t.Errorf("GetContainingSegment(1) = %v, %d", seg, offset)
	}
	if got := seg.Properties()["kind"]; got != "paragraph" {
		t.Errorf("marker kind = %v", got)
	}
}

func TestLocalReferences(t *testing.T) {
	tc := newTestClients(t, "abcdef", "A", "B")
	a := tc.get("A")
	seg, _ := a.GetContainingSegment(0)

	var slid []*mergetree.LocalReference
	callbacks := &mergetree.SlideCallbacks{
		AfterSlide: func(ref *mergetree.LocalReference) { slid = append(slid, ref) },
	}
	slide, err := a.CreateLocalReferencePosition(seg, 3, mergetree.SlideOnRemove, nil, callbacks)
	if err != nil {
		t.Fatal(err)
	}
	stay, err := a.CreateLocalReferencePosition(seg, 3, mergetree.StayOnRemove, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	tail, err := a.CreateLocalReferencePosition(seg, 5, mergetree.SlideOnRemove, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	tc.submit("A")(a.InsertTextLocal(0, "xy", nil))
	if got := a.LocalReferencePositionToPosition(slide); got != 5 {
		t.Errorf("position after insert = %d, want 5", got)
	}

	tc.submit("B")(tc.get("B").RemoveRangeLocal(2, 5))
	tc.flush(-1)
	tc.validate("xyabf")

	if got := a.LocalReferencePositionToPosition(slide); got != 4 {
		t.Errorf("slid reference position = %d, want 4", got)
	}
	if slide.Segment().Text() != "f" || slide.Offset() != 0 {
		t.Errorf("slid reference on %v@%d", slide.Segment(), slide.Offset())
	}
	if len(slid) != 1 || slid[0] != slide {
		t.Errorf("AfterSlide called with %v", slid)
	}
	if !stay.Segment().IsRemoved() {
		t.Errorf("stay reference moved to %v", stay.Segment())
	}
	if got := a.LocalReferencePositionToPosition(stay); got != 4 {
		t.Errorf("stay reference position = %d, want 4", got)
	}

	// Nothing is left after "f", so its references slide back to the end of "ab".
	tc.submit("B")(tc.get("B").RemoveRangeLocal(4, 5))
	tc.flush(-1)
	tc.validate("xyab")
	if tail.Segment() == nil || !tail.Segment().LocalRefs().IsAfterTombstone(tail) {
		t.Errorf("tail reference should slide after the last segment, got %v", tail)
	}
	if tail.Segment().Text() != "ab" || tail.Offset() != 1 {
		t.Errorf("tail reference on %v@%d", tail.Segment(), tail.Offset())
	}
	if got := a.LocalReferencePositionToPosition(tail); got != 3 {
		t.Errorf("tail position = %d, want 3", got)
	}

	a.UpdateMinSeq(a.CurrentSeq())
	if stay.Segment() != nil {
		t.Errorf("stay reference should be detached when its segment is collected")
	}
	if got := a.LocalReferencePositionToPosition(stay); got != mergetree.DetachedReferencePosition {
		t.Errorf("detached position = %d", got)
	}
	if a.RemoveLocalReferencePosition(stay) != nil {
		t.Errorf("removing a detached reference should return nil")
	}
	if a.RemoveLocalReferencePosition(slide) != slide {
		t.Errorf("removing slide reference failed")
	}
}

func TestZamboni_MergesSegments(t *testing.T) {
	tc := newTestClients(t, "abc", "A", "B")
	tc.submit("A")(tc.get("A").InsertTextLocal(1, "x", nil))
	tc.submit("B")(tc.get("B").InsertTextLocal(3, "y", nil))
	tc.submit("A")(tc.get("A").RemoveRangeLocal(0, 1))
	tc.flush(-1)
	tc.validate("xbcy")

	for _, name := range []string{"A", "B"} {
		c := tc.get(name)
		if n := len(c.Segments()); n < 2 {
			t.Fatalf("client %s has %d segments before zamboni", name, n)
		}
		c.UpdateMinSeq(c.CurrentSeq())
		segs := c.Segments()
		if len(segs) != 1 || segs[0].Text() != "xbcy" {
			t.Errorf("client %s segments after zamboni: %v", name, segs)
		}
		if c.MinSeq() != 3 {
			t.Errorf("client %s MinSeq() = %d, want 3", name, c.MinSeq())
		}
	}
}

func TestZamboni_KeepsPendingSegments(t *testing.T) {
	tc := newTestClients(t, "abc", "A", "B")
	tc.submit("B")(tc.get("B").InsertTextLocal(3, "d", nil))
	tc.flush(-1)
	a := tc.get("A")
	if _, err := a.AnnotateRangeLocal(0, 2, mergetree.PropertySet{"bold": true}); err != nil {
		t.Fatal(err)
	}
	a.UpdateMinSeq(1)
	var texts []string
	for _, seg := range a.Segments() {
		texts = append(texts, seg.Text())
	}
	if diff := cmp.Diff([]string{"ab", "cd"}, texts); diff != "" {
		t.Errorf("segments (-want, +got):%s", diff)
	}
}

func TestClientErrors(t *testing.T) {
	c := mergetree.NewClientAtInitialState("abc")
	tests := []struct {
		desc string
		op   func() (*mergetree.Op, error)
		want error
	}{
		{"insert past end", func() (*mergetree.Op, error) { return c.InsertTextLocal(4, "x", nil) }, mergetree.ErrPositionOutOfRange},
		{"insert negative", func() (*mergetree.Op, error) { return c.InsertTextLocal(-1, "x", nil) }, mergetree.ErrPositionOutOfRange},
		{"insert empty", func() (*mergetree.Op, error) { return c.InsertTextLocal(0, "", nil) }, mergetree.ErrInvalidSegmentSpec},
		{"remove inverted", func() (*mergetree.Op, error) { return c.RemoveRangeLocal(2, 1) }, mergetree.ErrInvalidRange},
		{"remove past end", func() (*mergetree.Op, error) { return c.RemoveRangeLocal(1, 5) }, mergetree.ErrPositionOutOfRange},
		{"annotate past end", func() (*mergetree.Op, error) { return c.AnnotateRangeLocal(3, 4, nil) }, mergetree.ErrPositionOutOfRange},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			_, err := test.op()
			if !errors.Is(err, test.want) {
				t.Errorf("got err %v, want %v", err, test.want)
			}
		})
	}
	if c.PendingSegmentGroups() != 0 {
		t.Errorf("failed ops left %d pending groups", c.PendingSegmentGroups())
	}

	err := c.ApplyMsg(mergetree.SequencedMessage{ClientID: "other", SequenceNumber: 1})
	if !errors.Is(err, mergetree.ErrInvalidOp) {
		t.Errorf("empty message: got %v, want %v", err, mergetree.ErrInvalidOp)
	}
	err = c.ApplyMsg(mergetree.SequencedMessage{ClientID: "other", SequenceNumber: 1, Contents: &mergetree.Op{Type: mergetree.OpGroup}})
	if !errors.Is(err, mergetree.ErrInvalidOp) {
		t.Errorf("group op: got %v, want %v", err, mergetree.ErrInvalidOp)
	}
}
