package deskhost

import (
	"encoding/binary"
	"fmt"
)

// ChunkHeader is the bit-exact, little-endian, 21-byte framing header:
// capture timestamp i64, encode_us u32, frame_id u32, chunk_index u16,
// chunk_total u16, frame_type u8.
type ChunkHeader struct {
	CaptureTS  int64
	EncodeUs   uint32
	FrameID    uint32
	ChunkIndex uint16
	ChunkTotal uint16
	FrameType  FrameType
}

// Marshal writes the 21-byte header followed immediately by payload into a
// freshly allocated buffer.
func (h ChunkHeader) Marshal(payload []byte) []byte {
	buf := make([]byte, ChunkHeaderSize+len(payload))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(h.CaptureTS))
	binary.LittleEndian.PutUint32(buf[8:12], h.EncodeUs)
	binary.LittleEndian.PutUint32(buf[12:16], h.FrameID)
	binary.LittleEndian.PutUint16(buf[16:18], h.ChunkIndex)
	binary.LittleEndian.PutUint16(buf[18:20], h.ChunkTotal)
	buf[20] = byte(h.FrameType)
	copy(buf[ChunkHeaderSize:], payload)
	return buf
}

// ParseChunk splits a received chunk into its header and payload.
func ParseChunk(data []byte) (ChunkHeader, []byte, error) {
	if len(data) < ChunkHeaderSize {
		return ChunkHeader{}, nil, fmt.Errorf("chunk: short header (%d bytes)", len(data))
	}
	h := ChunkHeader{
		CaptureTS:  int64(binary.LittleEndian.Uint64(data[0:8])),
		EncodeUs:   binary.LittleEndian.Uint32(data[8:12]),
		FrameID:    binary.LittleEndian.Uint32(data[12:16]),
		ChunkIndex: binary.LittleEndian.Uint16(data[16:18]),
		ChunkTotal: binary.LittleEndian.Uint16(data[18:20]),
		FrameType:  FrameType(data[20]),
	}
	if h.ChunkIndex >= h.ChunkTotal {
		return ChunkHeader{}, nil, fmt.Errorf("chunk: index %d >= total %d", h.ChunkIndex, h.ChunkTotal)
	}
	return h, data[ChunkHeaderSize:], nil
}

// SplitChunks divides an access unit into <= MaxChunkPayload-byte chunks:
// n = ceil(S/1179); rejects n > 65535 or S == 0.
func SplitChunks(frameID uint32, au AccessUnit) ([][]byte, error) {
	s := len(au.Data)
	if s == 0 {
		return nil, ErrEmptyAccessUnit
	}
	n := (s + MaxChunkPayload - 1) / MaxChunkPayload
	if n > MaxChunkTotal {
		return nil, fmt.Errorf("%w: %d chunks needed", ErrChunkOverflow, n)
	}

	ft := FrameDelta
	if au.IsKey {
		ft = FrameKey
	}

	chunks := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		start := i * MaxChunkPayload
		end := start + MaxChunkPayload
		if end > s {
			end = s
		}
		h := ChunkHeader{
			CaptureTS:  au.CaptureTS,
			EncodeUs:   au.EncodeUs,
			FrameID:    frameID,
			ChunkIndex: uint16(i),
			ChunkTotal: uint16(n),
			FrameType:  ft,
		}
		chunks = append(chunks, h.Marshal(au.Data[start:end]))
	}
	return chunks, nil
}

// reassembler collects chunks for in-flight frame IDs on the receive side.
// Not exercised by the host (the host only sends video), but kept here so
// the chunk round-trip property is testable against this package directly
// and so a future bidirectional mode has a home for it.
type reassembler struct {
	frames map[uint32]*partialFrame
}

type partialFrame struct {
	total    uint16
	received uint16
	chunks   [][]byte
}

func newReassembler() *reassembler {
	return &reassembler{frames: make(map[uint32]*partialFrame)}
}

// Feed ingests one chunk and returns the reassembled payload once every
// chunk of its frame has arrived.
func (r *reassembler) Feed(h ChunkHeader, payload []byte) ([]byte, bool) {
	pf, ok := r.frames[h.FrameID]
	if !ok {
		pf = &partialFrame{total: h.ChunkTotal, chunks: make([][]byte, h.ChunkTotal)}
		r.frames[h.FrameID] = pf
	}
	if pf.chunks[h.ChunkIndex] == nil {
		pf.chunks[h.ChunkIndex] = payload
		pf.received++
	}
	if pf.received < pf.total {
		return nil, false
	}
	delete(r.frames, h.FrameID)
	var out []byte
	for _, c := range pf.chunks {
		out = append(out, c...)
	}
	return out, true
}

// Drop discards any partially-received frame, e.g. on a reassembly
// timeout; the caller is then responsible for requesting a keyframe.
func (r *reassembler) Drop(frameID uint32) {
	delete(r.frames, frameID)
}
