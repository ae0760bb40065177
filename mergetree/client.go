package mergetree

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

var (
	newClientID = func() string { return uuid.NewString() } // Stubbed for testing
)

// SequencedMessage is an operation stamped by the sequencing service.
type SequencedMessage struct {
	// ClientID is the long id of the client that sent the operation.
	ClientID string `json:"clientId"`
	// SequenceNumber is the position of the operation in the total order.
	SequenceNumber int `json:"sequenceNumber"`
	// ReferenceSequenceNumber is the last sequence number seen by the sender.
	ReferenceSequenceNumber int `json:"referenceSequenceNumber"`
	// MinimumSequenceNumber is the lowest reference sequence number of any client.
	MinimumSequenceNumber int `json:"minimumSequenceNumber"`
	// Contents is the operation.
	Contents *Op `json:"contents"`
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLongClientID sets the id that identifies the client to others.
func WithLongClientID(id string) ClientOption {
	return func(c *Client) { c.longClientID = id }
}

// WithLogger sets the logger for debug output of tree operations. A nil logger is ignored.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// +--------+
// | Client |
// +--------+

// Client is a replica of a merge tree document.
type Client struct {
	tree         *MergeTree
	longClientID string
	shortIDs     map[string]int
	longIDs      []string
	logger       *slog.Logger
}

// NewClient creates a client with an empty document.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		shortIDs: make(map[string]int),
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.longClientID == "" {
		c.longClientID = newClientID()
	}
	c.logger = c.logger.With("client", c.longClientID)
	c.tree = newMergeTree(c.logger)
	c.tree.window.ClientID = c.getOrAddShortClientID(c.longClientID)
	return c
}

// NewClientAtInitialState creates a client whose document holds state, where each
// '-' stands for a removed character that every client already knows about.
func NewClientAtInitialState(state string, opts ...ClientOption) *Client {
	c := NewClient(opts...)
	var segs []*Segment
	for _, run := range splitRuns(state) {
		seg := NewTextSegment(run, nil)
		if strings.HasPrefix(run, "-") {
			seg.removal = &removalInfo{seq: UniversalSequenceNumber, clientIDs: []int{NonCollabClient}}
		}
		segs = append(segs, seg)
	}
	c.tree.appendSegments(segs...)
	return c
}

// Splits s into alternating runs of '-' and other characters.
func splitRuns(s string) []string {
	var runs []string
	var b strings.Builder
	var removed bool
	for i, ch := range s {
		if i > 0 && (ch == '-') != removed {
			runs = append(runs, b.String())
			b.Reset()
		}
		removed = ch == '-'
		b.WriteRune(ch)
	}
	if b.Len() > 0 {
		runs = append(runs, b.String())
	}
	return runs
}

func (c *Client) getOrAddShortClientID(longID string) int {
	if id, ok := c.shortIDs[longID]; ok {
		return id
	}
	id := len(c.longIDs)
	c.longIDs = append(c.longIDs, longID)
	c.shortIDs[longID] = id
	return id
}

// LongClientID returns the id of this client.
func (c *Client) LongClientID() string { return c.longClientID }

// ShortClientID returns the short id of longID in this client, adding it if unknown.
func (c *Client) ShortClientID(longID string) int { return c.getOrAddShortClientID(longID) }

// LongClientIDOf returns the long id of a short id, or "" if unknown.
func (c *Client) LongClientIDOf(shortID int) string {
	if shortID < 0 || shortID >= len(c.longIDs) {
		return ""
	}
	return c.longIDs[shortID]
}

// OnDelta registers a callback for every change to the document. Pass nil to remove it.
func (c *Client) OnDelta(fn func(*DeltaArgs)) { c.tree.onDelta = fn }

// CurrentSeq returns the last sequence number applied.
func (c *Client) CurrentSeq() int { return c.tree.window.CurrentSeq }

// MinSeq returns the minimum sequence number.
func (c *Client) MinSeq() int { return c.tree.window.MinSeq }

// GetText returns the local text, without markers.
func (c *Client) GetText() string { return c.tree.text("") }

// TextWithPlaceholders returns the local text with markers shown as U+FFFC.
func (c *Client) TextWithPlaceholders() string { return c.tree.text("\uFFFC") }

// GetLength returns the local document length.
func (c *Client) GetLength() int { return c.tree.Length() }

// GetPosition returns the local position of seg, or -1 if it's not in the document.
func (c *Client) GetPosition(seg *Segment) int {
	return c.tree.getPosition(seg, c.tree.window.CurrentSeq, c.tree.window.ClientID)
}

// GetContainingSegment returns the segment and offset at a local position, or nil.
func (c *Client) GetContainingSegment(pos int) (*Segment, int) {
	return c.tree.getContainingSegment(pos, c.tree.window.CurrentSeq, c.tree.window.ClientID)
}

// Segments returns all segments of the document, including removed ones.
func (c *Client) Segments() []*Segment { return c.tree.segmentList() }

// PendingSegmentGroups returns the number of local operations waiting for acknowledgement.
func (c *Client) PendingSegmentGroups() int { return c.tree.pendingSegments.Len() }

// PeekPendingSegmentGroups returns the oldest pending group, or nil.
func (c *Client) PeekPendingSegmentGroups() *SegmentGroup {
	if n := c.tree.pendingSegments.First(); n != nil {
		return n.Data
	}
	return nil
}

// +------------+
// | References |
// +------------+

// CreateLocalReferencePosition anchors a reference to seg at offset.
func (c *Client) CreateLocalReferencePosition(seg *Segment, offset int, refType RefType, props PropertySet, callbacks *SlideCallbacks) (*LocalReference, error) {
	return seg.localRefsOrInit().CreateLocalRef(offset, refType, props, callbacks)
}

// RemoveLocalReferencePosition removes ref from its segment, returning nil if it wasn't anchored.
func (c *Client) RemoveLocalReferencePosition(ref *LocalReference) *LocalReference {
	if ref.segment == nil {
		return nil
	}
	return ref.segment.localRefs.RemoveLocalRef(ref)
}

// LocalReferencePositionToPosition resolves ref to a local position, or
// DetachedReferencePosition.
func (c *Client) LocalReferencePositionToPosition(ref *LocalReference) int {
	return c.tree.referencePosition(ref)
}

// +-----------+
// | Local ops |
// +-----------+

func (c *Client) localRefSeq() (int, int) {
	return c.tree.window.CurrentSeq, c.tree.window.ClientID
}

// InsertSegmentLocal inserts seg at a local position.
func (c *Client) InsertSegmentLocal(pos int, seg *Segment) (*Op, error) {
	if pos < 0 || pos > c.GetLength() {
		return nil, fmt.Errorf("%w: insert at %d, length %d", ErrPositionOutOfRange, pos, c.GetLength())
	}
	refSeq, clientID := c.localRefSeq()
	if err := c.tree.insert(pos, seg, refSeq, clientID, UnassignedSequenceNumber); err != nil {
		return nil, err
	}
	return &Op{Type: OpInsert, Pos1: pos, Seg: seg.ToJSONObject()}, nil
}

// InsertTextLocal inserts text at a local position.
func (c *Client) InsertTextLocal(pos int, text string, props PropertySet) (*Op, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrInvalidSegmentSpec)
	}
	return c.InsertSegmentLocal(pos, NewTextSegment(text, props))
}

// InsertMarkerLocal inserts a marker at a local position.
func (c *Client) InsertMarkerLocal(pos int, props PropertySet) (*Op, error) {
	return c.InsertSegmentLocal(pos, NewMarkerSegment(props))
}

// RemoveRangeLocal removes the local range [start, end).
func (c *Client) RemoveRangeLocal(start, end int) (*Op, error) {
	refSeq, clientID := c.localRefSeq()
	if err := c.tree.markRangeRemoved(start, end, refSeq, clientID, UnassignedSequenceNumber); err != nil {
		return nil, err
	}
	return &Op{Type: OpRemove, Pos1: start, Pos2: end}, nil
}

// AnnotateRangeLocal sets props over the local range [start, end).
func (c *Client) AnnotateRangeLocal(start, end int, props PropertySet) (*Op, error) {
	refSeq, clientID := c.localRefSeq()
	if err := c.tree.annotateRange(start, end, props, refSeq, clientID, UnassignedSequenceNumber); err != nil {
		return nil, err
	}
	return &Op{Type: OpAnnotate, Pos1: start, Pos2: end, Props: props.Clone()}, nil
}

// +----------+
// | Messages |
// +----------+

// MakeOpMessage wraps a local op to be sequenced with seq, referencing the current sequence number.
func (c *Client) MakeOpMessage(op *Op, seq int) SequencedMessage {
	return SequencedMessage{
		ClientID:                c.longClientID,
		SequenceNumber:          seq,
		ReferenceSequenceNumber: c.tree.window.CurrentSeq,
		Contents:                op,
	}
}

// ApplyMsg applies a sequenced message: an ack for own operations, or a remote operation.
func (c *Client) ApplyMsg(msg SequencedMessage) error {
	if msg.Contents == nil {
		return fmt.Errorf("%w: message %d has no contents", ErrInvalidOp, msg.SequenceNumber)
	}
	if msg.ClientID == c.longClientID {
		if err := c.tree.ackPendingSegment(msg.SequenceNumber); err != nil {
			return fmt.Errorf("ack of seq %d: %w", msg.SequenceNumber, err)
		}
	} else if err := c.applyRemoteOp(msg); err != nil {
		return fmt.Errorf("seq %d from %s: %w", msg.SequenceNumber, msg.ClientID, err)
	}
	c.tree.window.CurrentSeq = msg.SequenceNumber
	c.UpdateMinSeq(msg.MinimumSequenceNumber)
	return nil
}

func (c *Client) applyRemoteOp(msg SequencedMessage) error {
	op := msg.Contents
	clientID := c.getOrAddShortClientID(msg.ClientID)
	refSeq, seq := msg.ReferenceSequenceNumber, msg.SequenceNumber
	switch op.Type {
	case OpInsert:
		seg, err := SpecToSegment(op.Seg)
		if err != nil {
			return err
		}
		return c.tree.insert(op.Pos1, seg, refSeq, clientID, seq)
	case OpRemove:
		return c.tree.markRangeRemoved(op.Pos1, op.Pos2, refSeq, clientID, seq)
	case OpAnnotate:
		return c.tree.annotateRange(op.Pos1, op.Pos2, op.Props, refSeq, clientID, seq)
	}
	return fmt.Errorf("%w: %v", ErrInvalidOp, op.Type)
}

// UpdateMinSeq advances the minimum sequence number, collecting segments that no
// client can reference anymore.
func (c *Client) UpdateMinSeq(minSeq int) {
	if minSeq > c.tree.window.CurrentSeq {
		minSeq = c.tree.window.CurrentSeq
	}
	c.tree.setMinSeq(minSeq)
}
