package mergetree

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pierrec/lz4/v4"
	"github.com/xeipuuv/gojsonschema"
)

// Blob names within a snapshot.
const (
	HeaderBlob      = "header"
	BodyBlob        = "body"
	CatchupBlob     = "catchupOps"
	snapshotVersion = "1"
)

//go:embed snapshot_header.schema.json
var headerSchema []byte

// BlobStorage reads and writes named blobs of a snapshot.
type BlobStorage interface {
	ReadBlob(ctx context.Context, name string) ([]byte, error)
	WriteBlob(ctx context.Context, name string, data []byte) error
}

// MemoryStorage is a BlobStorage backed by a map.
type MemoryStorage struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewMemoryStorage returns an empty storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{blobs: make(map[string][]byte)}
}

// ReadBlob implements BlobStorage.
func (s *MemoryStorage) ReadBlob(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, name)
	}
	return data, nil
}

// WriteBlob implements BlobStorage.
func (s *MemoryStorage) WriteBlob(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[name] = append([]byte(nil), data...)
	return nil
}

// Size returns the total size of stored blobs, in bytes.
func (s *MemoryStorage) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, data := range s.blobs {
		n += len(data)
	}
	return n
}

// +--------+
// | Format |
// +--------+

type snapshotHeader struct {
	Version        string `json:"version"`
	SequenceNumber int    `json:"sequenceNumber"`
	MinSeq         int    `json:"minSequenceNumber"`
	SegmentCount   int    `json:"segmentCount"`
	BodyLength     int    `json:"bodyLength"`
	Compressed     bool   `json:"compressed"`
}

// A segment with the merge information that isn't yet below the minimum sequence number.
type snapshotSegment struct {
	JSONSegment
	Seq            *int     `json:"seq,omitempty"`
	Client         string   `json:"client,omitempty"`
	RemovedSeq     *int     `json:"removedSeq,omitempty"`
	RemovedClients []string `json:"removedClientIds,omitempty"`
}

// WriteSnapshot stores the document of client in storage, along with catch-up
// messages sequenced after it.
//
// Segments removed at or below the minimum sequence number are left out, and merge
// information at or below it is normalized away.
func WriteSnapshot(ctx context.Context, client *Client, storage BlobStorage, catchup []SequencedMessage) error {
	if client.PendingSegmentGroups() > 0 {
		return ErrPendingOps
	}
	t := client.tree
	minSeq := t.window.MinSeq
	var segs []snapshotSegment
	for _, seg := range t.segmentList() {
		if seg.isRemovedAndAcked() && seg.removal.seq <= minSeq {
			continue
		}
		s := snapshotSegment{JSONSegment: *seg.ToJSONObject()}
		if seg.seq > minSeq {
			seq := seg.seq
			s.Seq = &seq
			s.Client = client.LongClientIDOf(seg.clientID)
		}
		if seg.removal != nil {
			removedSeq := seg.removal.seq
			s.RemovedSeq = &removedSeq
			for _, id := range seg.removal.clientIDs {
				s.RemovedClients = append(s.RemovedClients, client.LongClientIDOf(id))
			}
		}
		segs = append(segs, s)
	}
	body, err := json.Marshal(segs)
	if err != nil {
		return fmt.Errorf("encoding snapshot body: %w", err)
	}
	header := snapshotHeader{
		Version:        snapshotVersion,
		SequenceNumber: t.window.CurrentSeq,
		MinSeq:         minSeq,
		SegmentCount:   len(segs),
		BodyLength:     len(body),
	}
	if compressed := compress(body); compressed != nil {
		body = compressed
		header.Compressed = true
	}
	headerData, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("encoding snapshot header: %w", err)
	}
	if err := storage.WriteBlob(ctx, HeaderBlob, headerData); err != nil {
		return err
	}
	if err := storage.WriteBlob(ctx, BodyBlob, body); err != nil {
		return err
	}
	if len(catchup) > 0 {
		data, err := json.Marshal(catchup)
		if err != nil {
			return fmt.Errorf("encoding catch-up ops: %w", err)
		}
		if err := storage.WriteBlob(ctx, CatchupBlob, data); err != nil {
			return err
		}
	}
	client.logger.Debug("wrote snapshot", "seq", header.SequenceNumber, "segments", header.SegmentCount, "compressed", header.Compressed)
	return nil
}

// Returns nil if data is incompressible.
func compress(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil || n == 0 {
		return nil
	}
	return dst[:n]
}

// +----------------+
// | SnapshotLoader |
// +----------------+

// SnapshotLoader loads a snapshot into an empty client.
type SnapshotLoader struct {
	client *Client
	logger *slog.Logger
}

// NewSnapshotLoader returns a loader into client.
func NewSnapshotLoader(client *Client, logger *slog.Logger) *SnapshotLoader {
	if logger == nil {
		logger = client.logger
	}
	return &SnapshotLoader{client: client, logger: logger}
}

// Load reads the snapshot in storage into the client, returning the catch-up messages
// that must be applied afterwards.
func (l *SnapshotLoader) Load(ctx context.Context, storage BlobStorage) ([]SequencedMessage, error) {
	t := l.client.tree
	if t.segments.Len() > 0 {
		return nil, fmt.Errorf("%w: client document is not empty", ErrInvalidSnapshot)
	}
	headerData, err := storage.ReadBlob(ctx, HeaderBlob)
	if err != nil {
		return nil, err
	}
	header, err := parseHeader(headerData)
	if err != nil {
		return nil, err
	}
	body, err := storage.ReadBlob(ctx, BodyBlob)
	if err != nil {
		return nil, err
	}
	if header.Compressed {
		raw := make([]byte, header.BodyLength)
		n, err := lz4.UncompressBlock(body, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: decompressing body: %v", ErrInvalidSnapshot, err)
		}
		body = raw[:n]
	}
	var specs []snapshotSegment
	if err := json.Unmarshal(body, &specs); err != nil {
		return nil, fmt.Errorf("%w: decoding body: %v", ErrInvalidSnapshot, err)
	}
	if len(specs) != header.SegmentCount {
		return nil, fmt.Errorf("%w: header has %d segments, body has %d", ErrInvalidSnapshot, header.SegmentCount, len(specs))
	}
	segs := make([]*Segment, len(specs))
	for i, spec := range specs {
		seg, err := l.specToSegment(spec)
		if err != nil {
			return nil, err
		}
		segs[i] = seg
	}
	t.appendSegments(segs...)
	t.window.CurrentSeq = header.SequenceNumber
	t.window.MinSeq = header.MinSeq
	l.logger.Debug("loaded snapshot", "seq", header.SequenceNumber, "segments", len(segs))

	data, err := storage.ReadBlob(ctx, CatchupBlob)
	if errors.Is(err, ErrBlobNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var catchup []SequencedMessage
	if err := json.Unmarshal(data, &catchup); err != nil {
		return nil, fmt.Errorf("%w: decoding catch-up ops: %v", ErrInvalidSnapshot, err)
	}
	return catchup, nil
}

func parseHeader(data []byte) (snapshotHeader, error) {
	var header snapshotHeader
	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(headerSchema), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return header, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return header, fmt.Errorf("%w: header: %s", ErrInvalidSnapshot, strings.Join(msgs, "; "))
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return header, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	return header, nil
}

func (l *SnapshotLoader) specToSegment(spec snapshotSegment) (*Segment, error) {
	seg, err := SpecToSegment(&spec.JSONSegment)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if spec.Seq != nil {
		seg.seq = *spec.Seq
		seg.clientID = l.client.getOrAddShortClientID(spec.Client)
	}
	if spec.RemovedSeq != nil {
		seg.removal = &removalInfo{seq: *spec.RemovedSeq}
		for _, id := range spec.RemovedClients {
			seg.removal.clientIDs = append(seg.removal.clientIDs, l.client.getOrAddShortClientID(id))
		}
	}
	return seg, nil
}
