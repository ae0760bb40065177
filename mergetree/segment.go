package mergetree

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

// Sequence numbers and client ids with special meaning.
const (
	// UnassignedSequenceNumber marks local operations that weren't sequenced yet.
	UnassignedSequenceNumber = -1
	// UniversalSequenceNumber marks content that all clients agree on.
	UniversalSequenceNumber = 0
	// NonCollabClient is the client id of content created outside of collaboration.
	NonCollabClient = -2
	// DetachedReferencePosition is the position of a reference that isn't in the tree.
	DetachedReferencePosition = -1
)

// SegmentKind distinguishes the content of a segment.
type SegmentKind int

const (
	// TextSegment holds a run of characters.
	TextSegment SegmentKind = iota
	// MarkerSegment is a single position with properties and no text.
	MarkerSegment
	// Placeholder segment after the last position of the tree. Never part of a tree.
	endOfTreeSegment
)

func (k SegmentKind) String() string {
	switch k {
	case TextSegment:
		return "text"
	case MarkerSegment:
		return "marker"
	case endOfTreeSegment:
		return "end-of-tree"
	}
	return fmt.Sprintf("SegmentKind(%d)", int(k))
}

const endOfTreeOrdinal = "~" // Greater than any fractional index key.

// Removal bookkeeping of a segment.
type removalInfo struct {
	// Sequence number of the first removal, or UnassignedSequenceNumber if only removed locally.
	seq int
	// Clients that removed this segment. The first one won the removal.
	clientIDs []int
	// Local sequence number of a pending local removal.
	localSeq int
}

// +---------+
// | Segment |
// +---------+

// Segment is a leaf of the merge tree: a run of text or a marker, with the
// merge information needed to compute its length from any client's perspective.
type Segment struct {
	kind         SegmentKind
	text         string
	ordinal      string
	cachedLength int

	seq      int
	clientID int
	localSeq int
	removal  *removalInfo

	props           PropertySet
	propertyManager *propertiesManager

	localRefs          *LocalReferenceCollection
	segmentGroups      *SegmentGroupCollection
	trackingCollection *TrackingGroupCollection

	tree *MergeTree // Owning tree, nil when outside of one.
}

func newSegment(kind SegmentKind, text string, props PropertySet) *Segment {
	s := &Segment{
		kind:     kind,
		text:     text,
		seq:      UniversalSequenceNumber,
		clientID: NonCollabClient,
		props:    props.Clone(),
	}
	switch kind {
	case TextSegment:
		s.cachedLength = utf8.RuneCountInString(text)
	default:
		s.cachedLength = 1
	}
	s.segmentGroups = newSegmentGroupCollection(s)
	s.trackingCollection = newTrackingGroupCollection(s)
	return s
}

// NewTextSegment creates a detached text segment.
func NewTextSegment(text string, props PropertySet) *Segment {
	return newSegment(TextSegment, text, props)
}

// NewMarkerSegment creates a detached marker segment.
func NewMarkerSegment(props PropertySet) *Segment {
	return newSegment(MarkerSegment, "", props)
}

// Segment that stands for the position past the end of a tree. It holds references
// that slid off the tree.
func newEndOfTreeSegment() *Segment {
	s := newSegment(endOfTreeSegment, "", nil)
	s.ordinal = endOfTreeOrdinal
	return s
}

// Kind returns whether this is a text or marker segment.
func (s *Segment) Kind() SegmentKind { return s.kind }

// Text returns the segment text, empty for markers.
func (s *Segment) Text() string { return s.text }

// Ordinal returns the sort key of this segment within its tree.
func (s *Segment) Ordinal() string { return s.ordinal }

// Length returns the number of positions spanned by the segment.
func (s *Segment) Length() int { return s.cachedLength }

// Seq returns the sequence number of the insertion.
func (s *Segment) Seq() int { return s.seq }

// ClientID returns the short id of the client that inserted this segment.
func (s *Segment) ClientID() int { return s.clientID }

// Properties returns the segment properties. It must not be modified.
func (s *Segment) Properties() PropertySet { return s.props }

// IsRemoved returns whether the segment was removed, locally or remotely.
func (s *Segment) IsRemoved() bool { return s.removal != nil }

// RemovedSeq returns the sequence number of the removal, and whether the segment is removed.
func (s *Segment) RemovedSeq() (int, bool) {
	if s.removal == nil {
		return 0, false
	}
	return s.removal.seq, true
}

// RemovedClientIDs returns the clients that removed this segment, first winner first.
func (s *Segment) RemovedClientIDs() []int {
	if s.removal == nil {
		return nil
	}
	return slices.Clone(s.removal.clientIDs)
}

// LocalRefs returns the references anchored on this segment, or nil if none was ever added.
func (s *Segment) LocalRefs() *LocalReferenceCollection { return s.localRefs }

// InTree returns whether the segment belongs to a tree.
func (s *Segment) InTree() bool { return s.tree != nil }

// IsLeaf implements Trackable.
func (s *Segment) IsLeaf() bool { return true }

// TrackingCollection implements Trackable.
func (s *Segment) TrackingCollection() *TrackingGroupCollection { return s.trackingCollection }

func (s *Segment) localRefsOrInit() *LocalReferenceCollection {
	if s.localRefs == nil {
		s.localRefs = newLocalReferenceCollection(s)
	}
	return s.localRefs
}

func (s *Segment) isRemovedAndAcked() bool {
	return s.removal != nil && s.removal.seq != UnassignedSequenceNumber
}

func (s *Segment) isAcked() bool {
	return s.seq != UnassignedSequenceNumber
}

func (s *Segment) String() string {
	var b strings.Builder
	switch s.kind {
	case TextSegment:
		fmt.Fprintf(&b, "%q", s.text)
	case MarkerSegment:
		b.WriteString("<marker>")
	default:
		b.WriteString("<end>")
	}
	fmt.Fprintf(&b, " seq=%d client=%d", s.seq, s.clientID)
	if s.removal != nil {
		fmt.Fprintf(&b, " removedSeq=%d removedBy=%v", s.removal.seq, s.removal.clientIDs)
	}
	return b.String()
}

// Splits the segment content at offset, returning the right half with the same
// merge information. The new segment has no ordinal, references or groups yet.
func (s *Segment) splitContent(offset int) *Segment {
	if s.kind != TextSegment || offset <= 0 || offset >= s.cachedLength {
		panic(fmt.Sprintf("invalid split of %v at %d", s, offset))
	}
	runes := []rune(s.text)
	right := newSegment(TextSegment, string(runes[offset:]), s.props)
	right.propertyManager = s.propertyManager.clone()
	right.seq = s.seq
	right.clientID = s.clientID
	right.localSeq = s.localSeq
	if s.removal != nil {
		right.removal = &removalInfo{
			seq:       s.removal.seq,
			clientIDs: slices.Clone(s.removal.clientIDs),
			localSeq:  s.removal.localSeq,
		}
	}
	s.text = string(runes[:offset])
	s.cachedLength = offset
	return right
}

// Whether other can be appended to s in a single segment.
func (s *Segment) canAppend(other *Segment) bool {
	return s.kind == TextSegment && other.kind == TextSegment &&
		MatchProperties(s.props, other.props) &&
		s.propertyManager.empty() && other.propertyManager.empty() &&
		s.segmentGroups.Empty() && other.segmentGroups.Empty() &&
		s.trackingCollection.Matches(other.trackingCollection)
}

// Appends other's content into s. References must be moved before the length changes.
func (s *Segment) appendContent(other *Segment) {
	AppendLocalReferences(s, other)
	s.text += other.text
	s.cachedLength += other.cachedLength
	for _, g := range other.trackingCollection.TrackingGroups() {
		g.Unlink(other)
	}
}

// +-------------+
// | JSONSegment |
// +-------------+

// MarkerSpec describes a marker in a segment spec.
type MarkerSpec struct {
	RefType int `json:"refType"`
}

// JSONSegment is the serialized form of a segment's content.
type JSONSegment struct {
	Text   string      `json:"text,omitempty"`
	Marker *MarkerSpec `json:"marker,omitempty"`
	Props  PropertySet `json:"props,omitempty"`
}

// ToJSONObject returns the spec that recreates this segment's content.
func (s *Segment) ToJSONObject() *JSONSegment {
	spec := &JSONSegment{Props: s.props.Clone()}
	if s.kind == MarkerSegment {
		spec.Marker = &MarkerSpec{}
	} else {
		spec.Text = s.text
	}
	return spec
}

// SpecToSegment creates a detached segment from its spec.
func SpecToSegment(spec *JSONSegment) (*Segment, error) {
	switch {
	case spec == nil:
		return nil, fmt.Errorf("%w: nil spec", ErrInvalidSegmentSpec)
	case spec.Marker != nil:
		return NewMarkerSegment(spec.Props), nil
	case spec.Text != "":
		return NewTextSegment(spec.Text, spec.Props), nil
	}
	return nil, fmt.Errorf("%w: empty text", ErrInvalidSegmentSpec)
}
