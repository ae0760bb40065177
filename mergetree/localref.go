package mergetree

import (
	"fmt"
	"iter"

	"github.com/brunokim/merge-tree/collections"
)

// RefType determines how a local reference behaves when its segment is removed.
type RefType int

const (
	// Simple references stay on their segment and are dropped when it's collected.
	Simple RefType = iota
	// SlideOnRemove references move to the nearest live segment once a removal is acknowledged.
	SlideOnRemove
	// StayOnRemove references remain on a removed segment until it's collected.
	StayOnRemove
	// Transient references are never stored in a segment's collection.
	Transient
)

// Validate returns an error if t is not a known reference type.
func (t RefType) Validate() error {
	if t < Simple || t > Transient {
		return fmt.Errorf("%w: %d", ErrInvalidRefType, int(t))
	}
	return nil
}

func (t RefType) String() string {
	switch t {
	case Simple:
		return "Simple"
	case SlideOnRemove:
		return "SlideOnRemove"
	case StayOnRemove:
		return "StayOnRemove"
	case Transient:
		return "Transient"
	}
	return fmt.Sprintf("RefType(%d)", int(t))
}

// Property keys that make a reference hierarchical.
const (
	ReferenceTileLabels  = "referenceTileLabels"
	ReferenceRangeLabels = "referenceRangeLabels"
)

// SlideCallbacks are notified around a reference slide.
type SlideCallbacks struct {
	BeforeSlide func(ref *LocalReference)
	AfterSlide  func(ref *LocalReference)
}

// +----------------+
// | LocalReference |
// +----------------+

// LocalReference is a client-local position anchored to a segment and offset.
type LocalReference struct {
	segment   *Segment
	offset    int
	refType   RefType
	props     PropertySet
	callbacks *SlideCallbacks

	node               *collections.ListNode[*LocalReference]
	trackingCollection *TrackingGroupCollection
}

func newLocalReference(refType RefType, props PropertySet, callbacks *SlideCallbacks) *LocalReference {
	ref := &LocalReference{
		refType:   refType,
		props:     props.Clone(),
		callbacks: callbacks,
	}
	ref.trackingCollection = newTrackingGroupCollection(ref)
	return ref
}

// Segment returns the anchor segment, or nil when detached.
func (r *LocalReference) Segment() *Segment { return r.segment }

// Offset returns the offset within the anchor segment.
func (r *LocalReference) Offset() int { return r.offset }

// RefType returns the reference type.
func (r *LocalReference) RefType() RefType { return r.refType }

// Properties returns the reference properties. It must not be modified.
func (r *LocalReference) Properties() PropertySet { return r.props }

// Callbacks returns the slide callbacks, possibly nil.
func (r *LocalReference) Callbacks() *SlideCallbacks { return r.callbacks }

// IsLeaf implements Trackable.
func (r *LocalReference) IsLeaf() bool { return false }

// TrackingCollection implements Trackable.
func (r *LocalReference) TrackingCollection() *TrackingGroupCollection { return r.trackingCollection }

func (r *LocalReference) isHierarchical() bool {
	if r.props == nil {
		return false
	}
	_, tile := r.props[ReferenceTileLabels]
	_, rng := r.props[ReferenceRangeLabels]
	return tile || rng
}

func (r *LocalReference) String() string {
	return fmt.Sprintf("ref(%v@%d, %v)", r.segment, r.offset, r.refType)
}

// Rebinds the reference to a segment, offset and list node.
//
// A changed node means the reference left its previous bucket, which is released.
// A changed segment changes the reference's ordinal, so tracking groups must
// re-sort it.
func (r *LocalReference) link(segment *Segment, offset int, node *collections.ListNode[*LocalReference]) {
	if r.node != nil && r.node != node && r.segment != nil && r.segment.localRefs != nil {
		r.segment.localRefs.releaseNode(r)
	}
	if r.segment != segment {
		groups := r.trackingCollection.TrackingGroups()
		for _, g := range groups {
			g.Unlink(r)
		}
		r.segment = segment
		for _, g := range groups {
			g.Link(r)
		}
	}
	r.offset = offset
	r.node = node
}

// +--------------------------+
// | LocalReferenceCollection |
// +--------------------------+

type refList = collections.List[*LocalReference]

// References at a single offset. Only the first offset uses 'before' and only the last
// one uses 'after', to hold references that slid from removed neighbours.
type refsAtOffset struct {
	before, at, after *refList
}

type bucket int

const (
	beforeBucket bucket = iota
	atBucket
	afterBucket
)

func (b *refsAtOffset) list(k bucket) *refList {
	if b == nil {
		return nil
	}
	switch k {
	case beforeBucket:
		return b.before
	case atBucket:
		return b.at
	}
	return b.after
}

func (b *refsAtOffset) listOrInit(k bucket) *refList {
	p := &b.after
	switch k {
	case beforeBucket:
		p = &b.before
	case atBucket:
		p = &b.at
	}
	if *p == nil {
		*p = collections.NewList[*LocalReference]()
	}
	return *p
}

func (b *refsAtOffset) kindOf(l *refList) (bucket, bool) {
	switch {
	case b == nil || l == nil:
		return 0, false
	case l == b.before:
		return beforeBucket, true
	case l == b.at:
		return atBucket, true
	case l == b.after:
		return afterBucket, true
	}
	return 0, false
}

// LocalReferenceCollection holds the references anchored on a segment, grouped by offset.
//
// The offsets array always has the same length as its segment.
type LocalReferenceCollection struct {
	segment      *Segment
	refsByOffset []*refsAtOffset
	refCount     int
	hierRefCount int
}

func newLocalReferenceCollection(segment *Segment) *LocalReferenceCollection {
	return &LocalReferenceCollection{
		segment:      segment,
		refsByOffset: make([]*refsAtOffset, segment.cachedLength),
	}
}

func (c *LocalReferenceCollection) checkSize() {
	if len(c.refsByOffset) != c.segment.cachedLength {
		panic(fmt.Sprintf("reference offsets (%d) don't match segment length (%d)", len(c.refsByOffset), c.segment.cachedLength))
	}
}

func (c *LocalReferenceCollection) bucketAt(offset int) *refsAtOffset {
	if c.refsByOffset[offset] == nil {
		c.refsByOffset[offset] = &refsAtOffset{}
	}
	return c.refsByOffset[offset]
}

// Empty returns whether the collection holds no references.
func (c *LocalReferenceCollection) Empty() bool { return c == nil || c.refCount == 0 }

// RefCount returns the number of references in the collection.
func (c *LocalReferenceCollection) RefCount() int {
	if c == nil {
		return 0
	}
	return c.refCount
}

// HierRefCount returns the number of hierarchical references in the collection.
func (c *LocalReferenceCollection) HierRefCount() int {
	if c == nil {
		return 0
	}
	return c.hierRefCount
}

// CreateLocalRef creates a reference at offset. Transient references are bound to the
// segment but not stored in the collection.
func (c *LocalReferenceCollection) CreateLocalRef(offset int, refType RefType, props PropertySet, callbacks *SlideCallbacks) (*LocalReference, error) {
	if err := refType.Validate(); err != nil {
		return nil, err
	}
	if offset < 0 || offset >= c.segment.cachedLength {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrOffsetOutOfRange, offset, c.segment.cachedLength)
	}
	ref := newLocalReference(refType, props, callbacks)
	if refType == Transient {
		ref.link(c.segment, offset, nil)
		return ref, nil
	}
	if err := c.AddLocalRef(ref, offset); err != nil {
		return nil, err
	}
	return ref, nil
}

// AddLocalRef stores ref at offset, removing it from any previous collection.
func (c *LocalReferenceCollection) AddLocalRef(ref *LocalReference, offset int) error {
	if err := ref.refType.Validate(); err != nil {
		return err
	}
	if ref.refType == Transient {
		return ErrTransientReference
	}
	if offset < 0 || offset >= len(c.refsByOffset) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrOffsetOutOfRange, offset, len(c.refsByOffset))
	}
	node, _ := c.bucketAt(offset).listOrInit(atBucket).Push(ref)
	ref.link(c.segment, offset, node)
	c.count(ref, 1)
	return nil
}

func (c *LocalReferenceCollection) count(ref *LocalReference, delta int) {
	c.refCount += delta
	if ref.isHierarchical() {
		c.hierRefCount += delta
	}
}

// Has returns whether ref is stored in this collection.
func (c *LocalReferenceCollection) Has(ref *LocalReference) bool {
	if c == nil || ref == nil || ref.node == nil || ref.segment != c.segment {
		return false
	}
	if ref.offset < 0 || ref.offset >= len(c.refsByOffset) {
		return false
	}
	_, ok := c.refsByOffset[ref.offset].kindOf(ref.node.List())
	return ok
}

// Detaches the reference node from its bucket, keeping its segment binding.
func (c *LocalReferenceCollection) releaseNode(ref *LocalReference) {
	if !c.Has(ref) {
		return
	}
	ref.node.List().Remove(ref.node)
	c.count(ref, -1)
}

// RemoveLocalRef removes ref from the collection and detaches it. Returns nil if ref
// didn't belong to the collection.
func (c *LocalReferenceCollection) RemoveLocalRef(ref *LocalReference) *LocalReference {
	if !c.Has(ref) {
		return nil
	}
	c.releaseNode(ref)
	ref.link(nil, 0, nil)
	return ref
}

// IsAfterTombstone returns whether ref slid into this segment from a removed segment before it.
func (c *LocalReferenceCollection) IsAfterTombstone(ref *LocalReference) bool {
	if !c.Has(ref) {
		return false
	}
	k, _ := c.refsByOffset[ref.offset].kindOf(ref.node.List())
	return k == afterBucket
}

// AddBeforeTombstones places sliding references before the first position, keeping the
// given order ahead of the references already there. Other references are dropped.
func (c *LocalReferenceCollection) AddBeforeTombstones(refs ...*LocalReference) {
	c.checkSize()
	for i := len(refs) - 1; i >= 0; i-- {
		ref := refs[i]
		if ref.refType != SlideOnRemove {
			c.drop(ref)
			continue
		}
		node, _ := c.bucketAt(0).listOrInit(beforeBucket).Unshift(ref)
		ref.link(c.segment, 0, node)
		c.count(ref, 1)
	}
}

// AddAfterTombstones places sliding references after the last position, following the
// references already there. Other references are dropped.
func (c *LocalReferenceCollection) AddAfterTombstones(refs ...*LocalReference) {
	c.checkSize()
	last := len(c.refsByOffset) - 1
	for _, ref := range refs {
		if ref.refType != SlideOnRemove {
			c.drop(ref)
			continue
		}
		node, _ := c.bucketAt(last).listOrInit(afterBucket).Push(ref)
		ref.link(c.segment, last, node)
		c.count(ref, 1)
	}
}

func (c *LocalReferenceCollection) drop(ref *LocalReference) {
	if ref.segment != nil && ref.segment.localRefs != nil {
		ref.segment.localRefs.RemoveLocalRef(ref)
		return
	}
	ref.link(nil, 0, nil)
}

// WalkReferences visits references in document order, or reverse if not forward,
// starting at 'start' or at the collection edge when nil.
//
// Returns false if the visitor stopped the walk.
func (c *LocalReferenceCollection) WalkReferences(visitor func(*LocalReference) bool, start *LocalReference, forward bool) (bool, error) {
	if c == nil || len(c.refsByOffset) == 0 {
		if start != nil {
			return true, ErrReferenceNotInCollection
		}
		return true, nil
	}
	offset, k := 0, beforeBucket
	if !forward {
		offset, k = len(c.refsByOffset)-1, afterBucket
	}
	var startNode *collections.ListNode[*LocalReference]
	if start != nil {
		if !c.Has(start) {
			return true, ErrReferenceNotInCollection
		}
		offset = start.offset
		k, _ = c.refsByOffset[offset].kindOf(start.node.List())
		startNode = start.node
	}
	visit := func(n *collections.ListNode[*LocalReference]) bool { return visitor(n.Data) }
	step := 1
	if !forward {
		step = -1
	}
	for ; offset >= 0 && offset < len(c.refsByOffset); offset += step {
		refs := c.refsByOffset[offset]
		for ; k >= beforeBucket && k <= afterBucket; k += bucket(step) {
			l := refs.list(k)
			if l == nil || l.Empty() {
				continue
			}
			ok, err := collections.WalkList(l, visit, startNode, forward)
			if err != nil {
				return true, err
			}
			if !ok {
				return false, nil
			}
			startNode = nil
		}
		if forward {
			k = beforeBucket
		} else {
			k = afterBucket
		}
	}
	return true, nil
}

// All iterates over references in document order.
func (c *LocalReferenceCollection) All() iter.Seq[*LocalReference] {
	return func(yield func(*LocalReference) bool) {
		c.WalkReferences(yield, nil, true)
	}
}

// Moves references at or past offset into the collection of the split-off segment.
// Segment lengths must already reflect the split.
func (c *LocalReferenceCollection) split(offset int, splitSeg *Segment) {
	if c.Empty() {
		c.refsByOffset = c.refsByOffset[:offset]
		return
	}
	moved := c.refsByOffset[offset:]
	c.refsByOffset = c.refsByOffset[:offset:offset]
	other := &LocalReferenceCollection{
		segment:      splitSeg,
		refsByOffset: moved,
	}
	splitSeg.localRefs = other
	for ref := range other.All() {
		ref.link(splitSeg, ref.offset-offset, ref.node)
		c.count(ref, -1)
		other.count(ref, 1)
	}
	c.checkSize()
	other.checkSize()
}

// Moves all references of other to the end of this collection. The owning segment's
// length must not include other's segment yet.
func (c *LocalReferenceCollection) append(other *LocalReferenceCollection) {
	shift := len(c.refsByOffset)
	c.refsByOffset = append(c.refsByOffset, other.refsByOffset...)
	for _, refs := range other.refsByOffset {
		for k := beforeBucket; k <= afterBucket; k++ {
			l := refs.list(k)
			if l == nil {
				continue
			}
			for n := l.First(); n != nil; n = n.Next() {
				ref := n.Data
				ref.link(c.segment, ref.offset+shift, n)
				c.count(ref, 1)
				other.count(ref, -1)
			}
		}
	}
	other.refsByOffset = other.refsByOffset[:0]
}

// AppendLocalReferences moves the references of seg2 to the end of seg1, which are
// being merged. seg1's length must not include seg2 yet.
func AppendLocalReferences(seg1, seg2 *Segment) {
	if !seg2.localRefs.Empty() {
		seg1.localRefsOrInit().append(seg2.localRefs)
		return
	}
	if seg1.localRefs != nil {
		seg1.localRefs.refsByOffset = append(seg1.localRefs.refsByOffset, make([]*refsAtOffset, seg2.cachedLength)...)
	}
}
