package mergetree

import (
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
)

// Properties of the references created to remember removed ranges.
const (
	// SegSpecKey holds the spec of the removed segment.
	SegSpecKey = "segSpec"
	// ReferenceSpaceKey tells which subsystem owns a reference.
	ReferenceSpaceKey = "referenceSpace"
	// RevertibleReferenceSpace is the reference space of revertible references.
	RevertibleReferenceSpace = "revertible"
)

// RevertDriver is the document surface needed to revert operations.
type RevertDriver interface {
	CreateLocalReferencePosition(seg *Segment, offset int, refType RefType, props PropertySet, callbacks *SlideCallbacks) (*LocalReference, error)
	RemoveRange(start, end int) error
	GetPosition(seg *Segment) int
	AnnotateRange(start, end int, props PropertySet) error
	InsertFromSpec(pos int, spec *JSONSegment) (*Segment, error)
	LocalReferencePositionToPosition(ref *LocalReference) int
}

// +-------------+
// | Revertibles |
// +-------------+

// Revertible is an undoable record of a local operation. It is one of *InsertRevertible,
// *RemoveRevertible or *AnnotateRevertible.
type Revertible interface {
	// TrackingGroup returns the group following the affected content.
	TrackingGroup() *TrackingGroup
	isRevertible()
}

// InsertRevertible tracks inserted segments, to be removed on revert.
type InsertRevertible struct {
	Group *TrackingGroup
}

// RemoveRevertible tracks references left where segments were removed, to be
// reinserted on revert.
type RemoveRevertible struct {
	Group *TrackingGroup
}

// AnnotateRevertible tracks annotated segments and their previous property values.
type AnnotateRevertible struct {
	Group          *TrackingGroup
	PropertyDeltas PropertySet
}

func (r *InsertRevertible) TrackingGroup() *TrackingGroup   { return r.Group }
func (r *RemoveRevertible) TrackingGroup() *TrackingGroup   { return r.Group }
func (r *AnnotateRevertible) TrackingGroup() *TrackingGroup { return r.Group }

func (*InsertRevertible) isRevertible()   {}
func (*RemoveRevertible) isRevertible()   {}
func (*AnnotateRevertible) isRevertible() {}

// +---------------+
// | RevertContext |
// +---------------+

// RevertContext records and reverts operations of a single client.
//
// References of removed ranges that slide off the document are kept on a detached
// end-of-tree segment, which resolves to the document length.
type RevertContext struct {
	driver    RevertDriver
	endOfTree *Segment
	callbacks *SlideCallbacks
	logger    *slog.Logger
}

// RevertOption configures a RevertContext.
type RevertOption func(*RevertContext)

// WithRevertLogger sets the logger for revert steps.
func WithRevertLogger(logger *slog.Logger) RevertOption {
	return func(rc *RevertContext) {
		if logger != nil {
			rc.logger = logger
		}
	}
}

// NewRevertContext creates a context operating on driver.
func NewRevertContext(driver RevertDriver, opts ...RevertOption) *RevertContext {
	rc := &RevertContext{
		driver:    driver,
		endOfTree: newEndOfTreeSegment(),
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(rc)
	}
	rc.callbacks = &SlideCallbacks{
		AfterSlide: func(ref *LocalReference) {
			if rc.driver.LocalReferencePositionToPosition(ref) == DetachedReferencePosition {
				rc.endOfTree.localRefsOrInit().AddAfterTombstones(ref)
			}
		},
	}
	return rc
}

// AppendToRevertibles records delta, merging it into the last revertible when both
// are of the same kind.
func (rc *RevertContext) AppendToRevertibles(revertibles []Revertible, delta *DeltaArgs) ([]Revertible, error) {
	if len(delta.DeltaSegments) == 0 {
		return revertibles, nil
	}
	var last Revertible
	if n := len(revertibles); n > 0 {
		last = revertibles[n-1]
	}
	switch delta.Operation {
	case OpInsert:
		r, ok := last.(*InsertRevertible)
		if !ok {
			r = &InsertRevertible{Group: NewTrackingGroup()}
			revertibles = append(revertibles, r)
		}
		for _, ds := range delta.DeltaSegments {
			r.Group.Link(ds.Segment)
		}
	case OpRemove:
		r, ok := last.(*RemoveRevertible)
		if !ok {
			r = &RemoveRevertible{Group: NewTrackingGroup()}
			revertibles = append(revertibles, r)
		}
		for _, ds := range delta.DeltaSegments {
			props := PropertySet{
				SegSpecKey:        ds.Segment.ToJSONObject(),
				ReferenceSpaceKey: RevertibleReferenceSpace,
			}
			ref, err := rc.driver.CreateLocalReferencePosition(ds.Segment, 0, SlideOnRemove, props, rc.callbacks)
			if err != nil {
				return revertibles, fmt.Errorf("recording removal of %v: %w", ds.Segment, err)
			}
			moveTrackingGroups(ds.Segment, ref)
			r.Group.Link(ref)
		}
	case OpAnnotate:
		for _, ds := range delta.DeltaSegments {
			r, ok := last.(*AnnotateRevertible)
			if !ok || !MatchProperties(r.PropertyDeltas, ds.PropertyDeltas) {
				r = &AnnotateRevertible{Group: NewTrackingGroup(), PropertyDeltas: ds.PropertyDeltas}
				revertibles = append(revertibles, r)
				last = r
			}
			r.Group.Link(ds.Segment)
		}
	default:
		return revertibles, fmt.Errorf("%w: %v", ErrUnsupportedDelta, delta.Operation)
	}
	return revertibles, nil
}

// Revert undoes revertibles from last to first.
func (rc *RevertContext) Revert(revertibles []Revertible) error {
	for i := len(revertibles) - 1; i >= 0; i-- {
		var err error
		switch r := revertibles[i].(type) {
		case *InsertRevertible:
			err = rc.revertInsert(r)
		case *RemoveRevertible:
			err = rc.revertRemove(r)
		case *AnnotateRevertible:
			err = rc.revertAnnotate(r)
		default:
			panic(fmt.Sprintf("unknown revertible %T", r))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (rc *RevertContext) revertInsert(r *InsertRevertible) error {
	for r.Group.Size() > 0 {
		tracked := r.Group.First()
		r.Group.Unlink(tracked)
		seg, ok := tracked.(*Segment)
		if !ok || seg.IsRemoved() {
			continue
		}
		pos := rc.driver.GetPosition(seg)
		if pos < 0 {
			continue
		}
		rc.logger.Debug("revert insert", "pos", pos, "length", seg.cachedLength)
		if err := rc.driver.RemoveRange(pos, pos+seg.cachedLength); err != nil {
			return fmt.Errorf("reverting insert at %d: %w", pos, err)
		}
	}
	return nil
}

func (rc *RevertContext) revertAnnotate(r *AnnotateRevertible) error {
	for r.Group.Size() > 0 {
		tracked := r.Group.First()
		r.Group.Unlink(tracked)
		seg, ok := tracked.(*Segment)
		if !ok || seg.IsRemoved() {
			continue
		}
		pos := rc.driver.GetPosition(seg)
		if pos < 0 {
			continue
		}
		rc.logger.Debug("revert annotate", "pos", pos, "length", seg.cachedLength)
		if err := rc.driver.AnnotateRange(pos, pos+seg.cachedLength, r.PropertyDeltas); err != nil {
			return fmt.Errorf("reverting annotate at %d: %w", pos, err)
		}
	}
	return nil
}

func (rc *RevertContext) revertRemove(r *RemoveRevertible) error {
	for r.Group.Size() > 0 {
		tracked := r.Group.First()
		r.Group.Unlink(tracked)
		ref, ok := tracked.(*LocalReference)
		if !ok {
			return fmt.Errorf("%w: got %T", ErrUnexpectedLeaf, tracked)
		}
		pos := rc.driver.LocalReferencePositionToPosition(ref)
		if pos == DetachedReferencePosition {
			return ErrDetachedReference
		}
		refSeg := ref.segment
		if refSeg.kind != endOfTreeSegment && refSeg.removal == nil && refSeg.localRefs.IsAfterTombstone(ref) {
			pos++
		}
		spec, ok := ref.props[SegSpecKey].(*JSONSegment)
		if !ok {
			return fmt.Errorf("%w: reference has no segment spec", ErrInvalidSegmentSpec)
		}
		seg, err := rc.driver.InsertFromSpec(pos, spec)
		if err != nil {
			return fmt.Errorf("reverting remove at %d: %w", pos, err)
		}
		rc.logger.Debug("revert remove", "pos", pos, "segment", seg)
		// The insertion may have split refSeg, so the reference is looked up again.
		rc.adoptRevertibleRefs(seg, ref)
		moveTrackingGroups(ref, seg)
		if ref.segment != nil {
			ref.segment.localRefs.RemoveLocalRef(ref)
		}
	}
	return nil
}

// Moves revertible references found between the reinserted segment and 'tracked' onto
// the new segment, so that later reinsertions land on the correct side of it.
func (rc *RevertContext) adoptRevertibleRefs(seg *Segment, tracked *LocalReference) {
	forward := strings.Compare(seg.ordinal, tracked.segment.ordinal) < 0
	var collected []*LocalReference
	found := false
	visit := func(ref *LocalReference) bool {
		if ref == tracked {
			found = true
			return false
		}
		if ref.props[ReferenceSpaceKey] == RevertibleReferenceSpace {
			collected = append(collected, ref)
		}
		return true
	}
	for s := range rc.siblings(seg, forward) {
		if ok, _ := s.localRefs.WalkReferences(visit, nil, forward); !ok {
			break
		}
	}
	if !found || len(collected) == 0 {
		return
	}
	if forward {
		seg.localRefsOrInit().AddBeforeTombstones(collected...)
		return
	}
	slices.Reverse(collected)
	seg.localRefsOrInit().AddAfterTombstones(collected...)
}

// Iterates over the segments after (or before) seg, ending at the end-of-tree segment
// when going forward.
func (rc *RevertContext) siblings(seg *Segment, forward bool) iter.Seq[*Segment] {
	return func(yield func(*Segment) bool) {
		t := seg.tree
		if t == nil {
			return
		}
		stopped := false
		visit := func(s *Segment) bool {
			if s == seg {
				return true
			}
			if !yield(s) {
				stopped = true
				return false
			}
			return true
		}
		if forward {
			t.segments.Ascend(seg, visit)
			if !stopped {
				yield(rc.endOfTree)
			}
			return
		}
		t.segments.Descend(seg, visit)
	}
}

// DiscardRevertibles drops revertibles without reverting them, releasing the
// references they hold.
func DiscardRevertibles(revertibles ...Revertible) {
	for _, r := range revertibles {
		g := r.TrackingGroup()
		for g.Size() > 0 {
			tracked := g.First()
			g.Unlink(tracked)
			if ref, ok := tracked.(*LocalReference); ok && ref.trackingCollection.Empty() && ref.segment != nil {
				ref.segment.localRefs.RemoveLocalRef(ref)
			}
		}
	}
}

// +--------------+
// | ClientDriver |
// +--------------+

// ClientDriver is a RevertDriver that applies operations on a client as local ops.
type ClientDriver struct {
	client *Client
	onOp   func(*Op)
}

// NewClientDriver returns a driver over client. onOp, if not nil, receives every op
// created, to be sent for sequencing.
func NewClientDriver(client *Client, onOp func(*Op)) *ClientDriver {
	return &ClientDriver{client: client, onOp: onOp}
}

func (d *ClientDriver) submit(op *Op) {
	if d.onOp != nil {
		d.onOp(op)
	}
}

// CreateLocalReferencePosition implements RevertDriver.
func (d *ClientDriver) CreateLocalReferencePosition(seg *Segment, offset int, refType RefType, props PropertySet, callbacks *SlideCallbacks) (*LocalReference, error) {
	return d.client.CreateLocalReferencePosition(seg, offset, refType, props, callbacks)
}

// RemoveRange implements RevertDriver.
func (d *ClientDriver) RemoveRange(start, end int) error {
	op, err := d.client.RemoveRangeLocal(start, end)
	if err != nil {
		return err
	}
	d.submit(op)
	return nil
}

// GetPosition implements RevertDriver.
func (d *ClientDriver) GetPosition(seg *Segment) int {
	return d.client.GetPosition(seg)
}

// AnnotateRange implements RevertDriver.
func (d *ClientDriver) AnnotateRange(start, end int, props PropertySet) error {
	op, err := d.client.AnnotateRangeLocal(start, end, props)
	if err != nil {
		return err
	}
	d.submit(op)
	return nil
}

// InsertFromSpec implements RevertDriver.
func (d *ClientDriver) InsertFromSpec(pos int, spec *JSONSegment) (*Segment, error) {
	seg, err := SpecToSegment(spec)
	if err != nil {
		return nil, err
	}
	op, err := d.client.InsertSegmentLocal(pos, seg)
	if err != nil {
		return nil, err
	}
	d.submit(op)
	return seg, nil
}

// LocalReferencePositionToPosition implements RevertDriver.
func (d *ClientDriver) LocalReferencePositionToPosition(ref *LocalReference) int {
	return d.client.LocalReferencePositionToPosition(ref)
}
