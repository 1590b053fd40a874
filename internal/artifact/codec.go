package artifact

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Envelope layout: 4-byte magic, 1-byte version, 4-byte big-endian header
// length, JSON header, then the frames concatenated in order. The header
// carries everything needed to slice the payload back into frames.
var magic = [4]byte{'F', 'V', 'L', 'T'}

const codecVersion = 1

type header struct {
	ItemID        int64     `json:"item_id"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	FrameCount    int       `json:"frame_count"`
	MutationCount int64     `json:"mutation_count"`
	RenderedAt    time.Time `json:"rendered_at"`
}

// Encode serializes an artifact into its storage envelope.
func Encode(a *Artifact) ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}

	h := header{
		ItemID:        a.ItemID,
		Width:         a.Width,
		Height:        a.Height,
		FrameCount:    len(a.Frames),
		MutationCount: a.MutationCount,
		RenderedAt:    a.RenderedAt.UTC(),
	}
	hdr, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("encoding artifact %d header: %w", a.ItemID, err)
	}

	frameSize := a.FrameSize()
	buf := bytes.NewBuffer(make([]byte, 0, 9+len(hdr)+frameSize*len(a.Frames)))
	buf.Write(magic[:])
	buf.WriteByte(codecVersion)
	var hlen [4]byte
	binary.BigEndian.PutUint32(hlen[:], uint32(len(hdr)))
	buf.Write(hlen[:])
	buf.Write(hdr)
	for _, f := range a.Frames {
		buf.Write(f)
	}
	return buf.Bytes(), nil
}

// Headers larger than this are rejected as corrupt rather than allocated.
const maxHeaderLen = 1 << 16

// Meta is the envelope header view of an artifact: everything except the
// frame payloads.
type Meta struct {
	ItemID        int64
	Width         int
	Height        int
	FrameCount    int
	MutationCount int64
	RenderedAt    time.Time
}

// DecodeMeta reads just the envelope header from r, without touching the
// frame payloads that follow it.
func DecodeMeta(r io.Reader) (*Meta, error) {
	var prefix [9]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, fmt.Errorf("%w: missing magic", ErrBadEnvelope)
	}
	if !bytes.Equal(prefix[:4], magic[:]) {
		return nil, fmt.Errorf("%w: missing magic", ErrBadEnvelope)
	}
	if prefix[4] != codecVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadEnvelope, prefix[4])
	}
	hlen := int(binary.BigEndian.Uint32(prefix[5:9]))
	if hlen <= 0 || hlen > maxHeaderLen {
		return nil, fmt.Errorf("%w: header length %d out of range", ErrBadEnvelope, hlen)
	}

	hdr := make([]byte, hlen)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("%w: truncated header", ErrBadEnvelope)
	}
	var h header
	if err := json.Unmarshal(hdr, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if h.Width <= 0 || h.Height <= 0 || h.FrameCount <= 0 {
		return nil, fmt.Errorf("%w: invalid geometry in header", ErrBadEnvelope)
	}

	return &Meta{
		ItemID:        h.ItemID,
		Width:         h.Width,
		Height:        h.Height,
		FrameCount:    h.FrameCount,
		MutationCount: h.MutationCount,
		RenderedAt:    h.RenderedAt,
	}, nil
}

// Decode parses a storage envelope back into an artifact. The returned
// artifact owns its frame buffers; callers may retain them freely.
func Decode(data []byte) (*Artifact, error) {
	if len(data) < 9 || !bytes.Equal(data[:4], magic[:]) {
		return nil, fmt.Errorf("%w: missing magic", ErrBadEnvelope)
	}
	if data[4] != codecVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadEnvelope, data[4])
	}
	hlen := int(binary.BigEndian.Uint32(data[5:9]))
	if hlen <= 0 || 9+hlen > len(data) {
		return nil, fmt.Errorf("%w: header length %d out of range", ErrBadEnvelope, hlen)
	}

	var h header
	if err := json.Unmarshal(data[9:9+hlen], &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}

	a := &Artifact{
		ItemID:        h.ItemID,
		Width:         h.Width,
		Height:        h.Height,
		MutationCount: h.MutationCount,
		RenderedAt:    h.RenderedAt,
	}
	frameSize := a.FrameSize()
	if frameSize <= 0 || h.FrameCount <= 0 {
		return nil, fmt.Errorf("%w: invalid geometry in header", ErrBadEnvelope)
	}
	payload := data[9+hlen:]
	if len(payload) != frameSize*h.FrameCount {
		return nil, fmt.Errorf("%w: payload is %d bytes, want %d", ErrBadEnvelope, len(payload), frameSize*h.FrameCount)
	}

	a.Frames = make([][]byte, h.FrameCount)
	for i := 0; i < h.FrameCount; i++ {
		f := make([]byte, frameSize)
		copy(f, payload[i*frameSize:(i+1)*frameSize])
		a.Frames[i] = f
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	return a, nil
}
