// Package mergetree implements a collaborative sequence where each client applies
// operations in the order given by a sequencing service.
//
// Each segment carries the sequence numbers of its insertion and removal, so the
// document can be viewed from the perspective of any client at any reference
// sequence number. Local references are anchored to segments and slide when their
// segment is removed. Tracking groups follow segments and references through
// splits and merges, and are the basis of the undo support in revertible.go.
//
// Based on the merge tree of the Fluid Framework (https://fluidframework.com).
package mergetree

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/tidwall/btree"
	"roci.dev/fracdex"

	"github.com/brunokim/merge-tree/collections"
)

// +------------+
// | Operations |
// +------------+

// OpType is the kind of a merge tree operation.
type OpType int

const (
	// OpInsert inserts a segment at a position.
	OpInsert OpType = iota
	// OpRemove removes a range.
	OpRemove
	// OpAnnotate sets properties over a range.
	OpAnnotate
	// OpGroup is a batch of operations. It's not supported by this package.
	OpGroup
)

func (t OpType) String() string {
	switch t {
	case OpInsert:
		return "insert"
	case OpRemove:
		return "remove"
	case OpAnnotate:
		return "annotate"
	case OpGroup:
		return "group"
	}
	return fmt.Sprintf("OpType(%d)", int(t))
}

// Op is an operation as sent to other clients.
type Op struct {
	Type  OpType       `json:"type"`
	Pos1  int          `json:"pos1"`
	Pos2  int          `json:"pos2,omitempty"`
	Seg   *JSONSegment `json:"seg,omitempty"`
	Props PropertySet  `json:"props,omitempty"`
}

func (op *Op) String() string {
	switch op.Type {
	case OpInsert:
		if op.Seg != nil && op.Seg.Marker != nil {
			return fmt.Sprintf("insert marker @%d", op.Pos1)
		}
		return fmt.Sprintf("insert %q @%d", op.Seg.Text, op.Pos1)
	case OpRemove:
		return fmt.Sprintf("remove [%d,%d)", op.Pos1, op.Pos2)
	case OpAnnotate:
		return fmt.Sprintf("annotate [%d,%d) %v", op.Pos1, op.Pos2, op.Props)
	}
	return op.Type.String()
}

// DeltaSegment is a segment affected by an operation.
type DeltaSegment struct {
	Segment *Segment
	// PropertyDeltas holds the previous values of annotated keys.
	PropertyDeltas PropertySet
}

// DeltaArgs describes the effect of an operation on the tree.
type DeltaArgs struct {
	Operation     OpType
	DeltaSegments []DeltaSegment
	// Local is true for operations created by this client.
	Local bool
	// ClientID is the short id of the operation's client.
	ClientID int
}

// +-----------+
// | MergeTree |
// +-----------+

// CollaborationWindow is the sequencing state of a client.
type CollaborationWindow struct {
	ClientID   int
	CurrentSeq int
	MinSeq     int
	LocalSeq   int
}

// MergeTree holds the segments of a document ordered by their ordinals.
type MergeTree struct {
	segments        *btree.BTreeG[*Segment]
	window          CollaborationWindow
	pendingSegments *collections.List[*SegmentGroup]
	onDelta         func(*DeltaArgs)
	logger          *slog.Logger
}

func newMergeTree(logger *slog.Logger) *MergeTree {
	return &MergeTree{
		segments: btree.NewBTreeGOptions(func(a, b *Segment) bool {
			return a.ordinal < b.ordinal
		}, btree.Options{NoLocks: true}),
		pendingSegments: collections.NewList[*SegmentGroup](),
		logger:          logger,
	}
}

// Returns all segments in order. Mutating the tree while scanning is not allowed,
// so callers that mutate iterate over this snapshot.
func (t *MergeTree) segmentList() []*Segment {
	segs := make([]*Segment, 0, t.segments.Len())
	t.segments.Scan(func(s *Segment) bool {
		segs = append(segs, s)
		return true
	})
	return segs
}

func (t *MergeTree) nextSegment(seg *Segment) *Segment {
	var next *Segment
	t.segments.Ascend(seg, func(s *Segment) bool {
		if s == seg {
			return true
		}
		next = s
		return false
	})
	return next
}

func (t *MergeTree) prevSegment(seg *Segment) *Segment {
	var prev *Segment
	t.segments.Descend(seg, func(s *Segment) bool {
		if s == seg {
			return true
		}
		prev = s
		return false
	})
	return prev
}

func keyBetween(a, b string) string {
	key, err := fracdex.KeyBetween(a, b)
	if err != nil {
		panic(fmt.Sprintf("no ordinal between %q and %q: %v", a, b, err))
	}
	return key
}

// Adds seg to the tree between prev and next, any of which may be nil.
func (t *MergeTree) addSegment(seg, prev, next *Segment) {
	var a, b string
	if prev != nil {
		a = prev.ordinal
	}
	if next != nil {
		b = next.ordinal
	}
	seg.ordinal = keyBetween(a, b)
	seg.tree = t
	t.segments.Set(seg)
}

func (t *MergeTree) deleteSegment(seg *Segment) {
	t.segments.Delete(seg)
	seg.tree = nil
}

// Appends segments in order. Used when loading a document.
func (t *MergeTree) appendSegments(segs ...*Segment) {
	for _, seg := range segs {
		prev, _ := t.segments.Max()
		t.addSegment(seg, prev, nil)
	}
}

// +--------------+
// | Perspectives |
// +--------------+

func (t *MergeTree) isLocalPerspective(clientID int) bool {
	return clientID == t.window.ClientID
}

// Length of a segment as seen by this client: everything inserted, minus any removal.
func localNetLength(seg *Segment) int {
	if seg.removal != nil {
		return 0
	}
	return seg.cachedLength
}

// Length of a segment as seen by clientID after applying every operation up to refSeq.
func (t *MergeTree) nodeLength(seg *Segment, refSeq, clientID int) int {
	if t.isLocalPerspective(clientID) {
		return localNetLength(seg)
	}
	if seg.seq == UnassignedSequenceNumber {
		return 0
	}
	if seg.seq > refSeq && seg.clientID != clientID {
		return 0
	}
	if r := seg.removal; r != nil && r.seq != UnassignedSequenceNumber {
		if r.seq <= refSeq || slices.Contains(r.clientIDs, clientID) {
			return 0
		}
	}
	return seg.cachedLength
}

// Length returns the local length of the document.
func (t *MergeTree) Length() int {
	var n int
	t.segments.Scan(func(s *Segment) bool {
		n += localNetLength(s)
		return true
	})
	return n
}

// Returns the position of seg from the given perspective, or -1 if it's not in the tree.
func (t *MergeTree) getPosition(seg *Segment, refSeq, clientID int) int {
	if seg == nil || seg.tree != t {
		return -1
	}
	var pos int
	t.segments.Scan(func(s *Segment) bool {
		if s == seg {
			return false
		}
		pos += t.nodeLength(s, refSeq, clientID)
		return true
	})
	return pos
}

// Returns the segment and offset containing pos from the given perspective.
func (t *MergeTree) getContainingSegment(pos, refSeq, clientID int) (*Segment, int) {
	var found *Segment
	var offset int
	t.segments.Scan(func(s *Segment) bool {
		n := t.nodeLength(s, refSeq, clientID)
		if pos < n {
			found, offset = s, pos
			return false
		}
		pos -= n
		return true
	})
	return found, offset
}

func (t *MergeTree) text(placeholder string) string {
	var b strings.Builder
	t.segments.Scan(func(s *Segment) bool {
		if s.removal != nil {
			return true
		}
		switch s.kind {
		case TextSegment:
			b.WriteString(s.text)
		case MarkerSegment:
			b.WriteString(placeholder)
		}
		return true
	})
	return b.String()
}

// Resolves a reference to a local position.
//
// References on removed segments resolve to the segment start. References on the
// end-of-tree segment resolve to the document length.
func (t *MergeTree) referencePosition(ref *LocalReference) int {
	seg := ref.segment
	if seg == nil {
		return DetachedReferencePosition
	}
	if seg.kind == endOfTreeSegment {
		return t.Length()
	}
	pos := t.getPosition(seg, t.window.CurrentSeq, t.window.ClientID)
	if pos < 0 {
		return DetachedReferencePosition
	}
	if seg.removal != nil {
		return pos
	}
	return pos + ref.offset
}

// +--------+
// | Insert |
// +--------+

// Whether a new segment with seq should be placed before a zero-length segment at the
// insertion point. Local segments sort as newer than any sequenced one.
func breakTie(newSeq int, seg *Segment) bool {
	if newSeq == UnassignedSequenceNumber {
		newSeq = math.MaxInt
	}
	segSeq := seg.seq
	if segSeq == UnassignedSequenceNumber {
		segSeq = math.MaxInt - 1
	}
	return newSeq > segSeq
}

// Splits seg at offset, returning the new right half that was added to the tree.
func (t *MergeTree) splitAt(seg *Segment, offset int) *Segment {
	next := t.nextSegment(seg)
	right := seg.splitContent(offset)
	t.addSegment(right, seg, next)
	seg.segmentGroups.CopyTo(right)
	seg.trackingCollection.CopyTo(right)
	if seg.localRefs != nil {
		seg.localRefs.split(offset, right)
	}
	return right
}

func (t *MergeTree) insertSegment(pos int, seg *Segment, refSeq, clientID, seq, localSeq int) error {
	seg.seq = seq
	seg.clientID = clientID
	seg.localSeq = localSeq

	var before *Segment
	remaining := pos
	for _, s := range t.segmentList() {
		n := t.nodeLength(s, refSeq, clientID)
		if remaining < n {
			if remaining > 0 {
				before = t.splitAt(s, remaining)
			} else {
				before = s
			}
			break
		}
		if remaining == 0 && n == 0 && breakTie(seq, s) {
			before = s
			break
		}
		remaining -= n
	}
	if before == nil {
		if remaining > 0 {
			return fmt.Errorf("%w: insert at %d", ErrPositionOutOfRange, pos)
		}
		prev, _ := t.segments.Max()
		t.addSegment(seg, prev, nil)
	} else {
		t.addSegment(seg, t.prevSegment(before), before)
	}
	return nil
}

// +--------+
// | Ranges |
// +--------+

// Splits segments so that pos falls on a segment boundary from the given perspective.
func (t *MergeTree) ensureBoundary(pos, refSeq, clientID int) {
	seg, offset := t.getContainingSegment(pos, refSeq, clientID)
	if seg != nil && offset > 0 {
		t.splitAt(seg, offset)
	}
}

// Returns the segments visible from the perspective within [start, end), after
// splitting at the range boundaries.
func (t *MergeTree) rangeSegments(start, end, refSeq, clientID int) ([]*Segment, error) {
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: [%d,%d)", ErrInvalidRange, start, end)
	}
	t.ensureBoundary(start, refSeq, clientID)
	t.ensureBoundary(end, refSeq, clientID)
	var segs []*Segment
	var pos int
	t.segments.Scan(func(s *Segment) bool {
		if pos >= end {
			return false
		}
		n := t.nodeLength(s, refSeq, clientID)
		if n > 0 && pos >= start {
			segs = append(segs, s)
		}
		pos += n
		return true
	})
	if pos < end {
		return nil, fmt.Errorf("%w: range [%d,%d) beyond length %d", ErrPositionOutOfRange, start, end, pos)
	}
	return segs, nil
}

// +-------------------+
// | Local and remote  |
// +-------------------+

func (t *MergeTree) notify(delta *DeltaArgs) {
	if t.onDelta != nil {
		t.onDelta(delta)
	}
}

// Creates a segment group for a local operation and queues it for acknowledgement.
func (t *MergeTree) newPendingGroup(op OpType, props PropertySet) *SegmentGroup {
	t.window.LocalSeq++
	g := &SegmentGroup{LocalSeq: t.window.LocalSeq, Op: op, Props: props}
	t.pendingSegments.Push(g)
	return g
}

func (t *MergeTree) insert(pos int, seg *Segment, refSeq, clientID, seq int) error {
	local := seq == UnassignedSequenceNumber
	localSeq := 0
	if local {
		localSeq = t.window.LocalSeq + 1
	}
	if err := t.insertSegment(pos, seg, refSeq, clientID, seq, localSeq); err != nil {
		return err
	}
	if local {
		g := t.newPendingGroup(OpInsert, nil)
		seg.segmentGroups.Enqueue(g)
	}
	t.logger.Debug("insert", "pos", pos, "segment", seg, "local", local)
	t.notify(&DeltaArgs{
		Operation:     OpInsert,
		DeltaSegments: []DeltaSegment{{Segment: seg}},
		Local:         local,
		ClientID:      clientID,
	})
	return nil
}

func (t *MergeTree) markRangeRemoved(start, end, refSeq, clientID, seq int) error {
	segs, err := t.rangeSegments(start, end, refSeq, clientID)
	if err != nil {
		return err
	}
	local := seq == UnassignedSequenceNumber
	var group *SegmentGroup
	if local {
		group = t.newPendingGroup(OpRemove, nil)
	}
	var removed, toSlide []*Segment
	for _, seg := range segs {
		if r := seg.removal; r != nil {
			if r.seq == UnassignedSequenceNumber {
				// Removed locally, but someone else removed it first.
				r.clientIDs = slices.Insert(r.clientIDs, 0, clientID)
				r.seq = seq
				toSlide = append(toSlide, seg)
			} else {
				r.clientIDs = append(r.clientIDs, clientID)
			}
			continue
		}
		seg.removal = &removalInfo{seq: seq, clientIDs: []int{clientID}}
		if local {
			seg.removal.localSeq = group.LocalSeq
			seg.segmentGroups.Enqueue(group)
		}
		removed = append(removed, seg)
		toSlide = append(toSlide, seg)
	}
	t.logger.Debug("remove", "start", start, "end", end, "removed", len(removed), "local", local)
	if !local {
		t.slideAckedRemovedSegmentReferences(toSlide)
	}
	if len(removed) > 0 {
		delta := &DeltaArgs{Operation: OpRemove, Local: local, ClientID: clientID}
		for _, seg := range removed {
			delta.DeltaSegments = append(delta.DeltaSegments, DeltaSegment{Segment: seg})
		}
		t.notify(delta)
	}
	return nil
}

func (t *MergeTree) annotateRange(start, end int, props PropertySet, refSeq, clientID, seq int) error {
	segs, err := t.rangeSegments(start, end, refSeq, clientID)
	if err != nil {
		return err
	}
	local := seq == UnassignedSequenceNumber
	var group *SegmentGroup
	if local {
		group = t.newPendingGroup(OpAnnotate, props)
	}
	delta := &DeltaArgs{Operation: OpAnnotate, Local: local, ClientID: clientID}
	for _, seg := range segs {
		deltas := seg.addProperties(props, local)
		if local {
			seg.segmentGroups.Enqueue(group)
		}
		if len(deltas) > 0 {
			delta.DeltaSegments = append(delta.DeltaSegments, DeltaSegment{Segment: seg, PropertyDeltas: deltas})
		}
	}
	t.logger.Debug("annotate", "start", start, "end", end, "segments", len(segs), "local", local)
	if len(delta.DeltaSegments) > 0 {
		t.notify(delta)
	}
	return nil
}

// Acknowledges the oldest pending local operation with its sequence number.
func (t *MergeTree) ackPendingSegment(seq int) error {
	node := t.pendingSegments.Shift()
	if node == nil {
		return ErrAckMismatch
	}
	group := node.Data
	for _, seg := range group.Segments {
		if got := seg.segmentGroups.Dequeue(); got != group {
			panic(fmt.Sprintf("segment group mismatch on ack of seq %d for %v", seq, seg))
		}
		switch group.Op {
		case OpInsert:
			seg.seq = seq
			seg.localSeq = 0
		case OpRemove:
			if seg.removal.seq == UnassignedSequenceNumber {
				seg.removal.seq = seq
			}
			seg.removal.localSeq = 0
		case OpAnnotate:
			seg.propertyManager.ack(group.Props)
		}
	}
	t.logger.Debug("ack", "seq", seq, "op", group.Op, "segments", len(group.Segments))
	if group.Op == OpRemove {
		t.slideAckedRemovedSegmentReferences(group.Segments)
	}
	return nil
}

// +---------+
// | Sliding |
// +---------+

// Returns where references on a removed and acknowledged segment should slide to:
// the next live sequenced segment, or else the previous one. Returns nil if none exists.
func (t *MergeTree) slideToSegment(seg *Segment) (dest *Segment, forward bool) {
	valid := func(s *Segment) bool {
		if s.seq != UnassignedSequenceNumber && !s.isRemovedAndAcked() {
			dest = s
			return false
		}
		return true
	}
	t.segments.Ascend(seg, func(s *Segment) bool { return s == seg || valid(s) })
	if dest != nil {
		return dest, true
	}
	t.segments.Descend(seg, func(s *Segment) bool { return s == seg || valid(s) })
	return dest, false
}

type slideGroup struct {
	dest    *Segment
	forward bool
	refs    []*LocalReference
}

// Moves sliding references away from segments whose removal was acknowledged.
//
// Consecutive segments sliding to the same destination move as a single group, so
// their references keep their relative order.
func (t *MergeTree) slideAckedRemovedSegmentReferences(segs []*Segment) {
	segs = slices.Clone(segs)
	slices.SortFunc(segs, func(a, b *Segment) int { return strings.Compare(a.ordinal, b.ordinal) })
	var groups []*slideGroup
	for _, seg := range segs {
		if seg.localRefs.Empty() || !seg.isRemovedAndAcked() || seg.tree != t {
			continue
		}
		var refs []*LocalReference
		for ref := range seg.localRefs.All() {
			if ref.refType == SlideOnRemove {
				refs = append(refs, ref)
			}
		}
		if len(refs) == 0 {
			continue
		}
		dest, forward := t.slideToSegment(seg)
		if n := len(groups); n > 0 && groups[n-1].dest == dest && groups[n-1].forward == forward {
			groups[n-1].refs = append(groups[n-1].refs, refs...)
			continue
		}
		groups = append(groups, &slideGroup{dest: dest, forward: forward, refs: refs})
	}
	for _, g := range groups {
		t.slideGroup(g)
	}
}

func (t *MergeTree) slideGroup(g *slideGroup) {
	for _, ref := range g.refs {
		if cb := ref.callbacks; cb != nil && cb.BeforeSlide != nil {
			cb.BeforeSlide(ref)
		}
	}
	switch {
	case g.dest == nil:
		for _, ref := range g.refs {
			ref.segment.localRefs.RemoveLocalRef(ref)
		}
	case g.forward:
		g.dest.localRefsOrInit().AddBeforeTombstones(g.refs...)
	default:
		g.dest.localRefsOrInit().AddAfterTombstones(g.refs...)
	}
	t.logger.Debug("slide", "refs", len(g.refs), "dest", g.dest, "forward", g.forward)
	for _, ref := range g.refs {
		if cb := ref.callbacks; cb != nil && cb.AfterSlide != nil {
			cb.AfterSlide(ref)
		}
	}
}

// +---------+
// | Zamboni |
// +---------+

// Advances the minimum sequence number, collecting removed segments that every client
// has seen and merging adjacent segments that no client can tell apart anymore.
func (t *MergeTree) setMinSeq(minSeq int) {
	if minSeq <= t.window.MinSeq {
		return
	}
	t.window.MinSeq = minSeq
	var prev *Segment
	var dropped, merged int
	for _, seg := range t.segmentList() {
		if seg.isRemovedAndAcked() && seg.removal.seq <= minSeq && seg.trackingCollection.Empty() && seg.segmentGroups.Empty() {
			for ref := range seg.localRefs.All() {
				seg.localRefs.RemoveLocalRef(ref)
			}
			t.deleteSegment(seg)
			dropped++
			continue
		}
		if prev != nil && t.canMerge(prev, seg) {
			prev.appendContent(seg)
			t.deleteSegment(seg)
			merged++
			continue
		}
		prev = seg
	}
	if dropped > 0 || merged > 0 {
		t.logger.Debug("zamboni", "minSeq", minSeq, "dropped", dropped, "merged", merged)
	}
}

func (t *MergeTree) canMerge(a, b *Segment) bool {
	minSeq := t.window.MinSeq
	return a.removal == nil && b.removal == nil &&
		a.isAcked() && b.isAcked() && a.seq <= minSeq && b.seq <= minSeq &&
		a.canAppend(b)
}
