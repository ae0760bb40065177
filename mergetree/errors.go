package mergetree

import (
	"errors"
)

// Reference errors.
var (
	// ErrInvalidRefType is returned for reference types outside of the known set.
	ErrInvalidRefType = errors.New("invalid reference type")
	// ErrOffsetOutOfRange is returned when a reference offset is outside of its segment.
	ErrOffsetOutOfRange = errors.New("offset out of segment range")
	// ErrReferenceNotInCollection is returned when walking from a reference owned by another collection.
	ErrReferenceNotInCollection = errors.New("reference is not in collection")
	// ErrTransientReference is returned when adding a transient reference to a collection.
	ErrTransientReference = errors.New("transient references can't be added to a segment")
)

// Operation errors.
var (
	// ErrPositionOutOfRange is returned for positions beyond the document length.
	ErrPositionOutOfRange = errors.New("position out of range")
	// ErrInvalidRange is returned when a range ends before it starts.
	ErrInvalidRange = errors.New("invalid range")
	// ErrInvalidOp is returned for messages carrying an unknown or malformed operation.
	ErrInvalidOp = errors.New("invalid operation")
	// ErrInvalidSegmentSpec is returned when a segment spec is neither text nor marker.
	ErrInvalidSegmentSpec = errors.New("invalid segment spec")
	// ErrAckMismatch is returned when an ack arrives with no pending local operation.
	ErrAckMismatch = errors.New("no pending operation to acknowledge")
)

// Revert errors.
var (
	// ErrUnsupportedDelta is returned when recording a delta that can't be reverted.
	ErrUnsupportedDelta = errors.New("unsupported delta operation")
	// ErrDetachedReference is returned when a removed range can't be located anymore.
	ErrDetachedReference = errors.New("cannot insert at detached reference position")
	// ErrUnexpectedLeaf is returned when a remove revertible tracks a segment instead of a reference.
	ErrUnexpectedLeaf = errors.New("remove revertible must track references")
)

// Snapshot errors.
var (
	// ErrPendingOps is returned when snapshotting a client with unacknowledged local operations.
	ErrPendingOps = errors.New("client has pending local operations")
	// ErrInvalidSnapshot is returned when a snapshot can't be decoded.
	ErrInvalidSnapshot = errors.New("invalid snapshot")
	// ErrBlobNotFound is returned by storages for missing blobs.
	ErrBlobNotFound = errors.New("blob not found")
)
