package deskhost

import (
	"bytes"
	"errors"
	"testing"
)

func TestChunkHeaderMarshalParseRoundTrip(t *testing.T) {
	h := ChunkHeader{
		CaptureTS:  1234567890,
		EncodeUs:   4200,
		FrameID:    7,
		ChunkIndex: 2,
		ChunkTotal: 5,
		FrameType:  FrameKey,
	}
	payload := []byte("some encoded bytes")

	buf := h.Marshal(payload)
	if len(buf) != ChunkHeaderSize+len(payload) {
		t.Fatalf("marshaled length = %d, want %d", len(buf), ChunkHeaderSize+len(payload))
	}

	got, gotPayload, err := ParseChunk(buf)
	if err != nil {
		t.Fatalf("ParseChunk: %v", err)
	}
	if got != h {
		t.Fatalf("ParseChunk header = %+v, want %+v", got, h)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Fatalf("ParseChunk payload = %q, want %q", gotPayload, payload)
	}
}

func TestParseChunkShortHeaderFails(t *testing.T) {
	_, _, err := ParseChunk(make([]byte, ChunkHeaderSize-1))
	if err == nil {
		t.Fatal("expected error for short header")
	}
}

func TestParseChunkIndexOutOfRangeFails(t *testing.T) {
	h := ChunkHeader{ChunkIndex: 3, ChunkTotal: 3}
	buf := h.Marshal(nil)
	_, _, err := ParseChunk(buf)
	if err == nil {
		t.Fatal("expected error when chunk index >= chunk total")
	}
}

func TestSplitChunksEmptyAccessUnitFails(t *testing.T) {
	_, err := SplitChunks(1, AccessUnit{Data: nil})
	if !errors.Is(err, ErrEmptyAccessUnit) {
		t.Fatalf("err = %v, want ErrEmptyAccessUnit", err)
	}
}

func TestSplitChunksOverflowFails(t *testing.T) {
	_, err := SplitChunks(1, AccessUnit{Data: make([]byte, MaxChunkPayload*(MaxChunkTotal+1))})
	if !errors.Is(err, ErrChunkOverflow) {
		t.Fatalf("err = %v, want ErrChunkOverflow", err)
	}
}

func TestSplitChunksSingleChunkExactSize(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, MaxChunkPayload)
	chunks, err := SplitChunks(9, AccessUnit{Data: data, IsKey: true})
	if err != nil {
		t.Fatalf("SplitChunks: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("len(chunks) = %d, want 1", len(chunks))
	}
	h, payload, err := ParseChunk(chunks[0])
	if err != nil {
		t.Fatalf("ParseChunk: %v", err)
	}
	if h.FrameType != FrameKey {
		t.Fatalf("FrameType = %v, want FrameKey", h.FrameType)
	}
	if h.ChunkTotal != 1 || h.ChunkIndex != 0 {
		t.Fatalf("ChunkIndex/Total = %d/%d, want 0/1", h.ChunkIndex, h.ChunkTotal)
	}
	if !bytes.Equal(payload, data) {
		t.Fatal("payload mismatch")
	}
}

func TestSplitChunksMultipleChunksReassemble(t *testing.T) {
	size := MaxChunkPayload*3 + 17
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}

	chunks, err := SplitChunks(42, AccessUnit{Data: data, IsKey: false})
	if err != nil {
		t.Fatalf("SplitChunks: %v", err)
	}
	wantChunks := 4
	if len(chunks) != wantChunks {
		t.Fatalf("len(chunks) = %d, want %d", len(chunks), wantChunks)
	}

	r := newReassembler()
	var reassembled []byte
	for _, raw := range chunks {
		h, payload, err := ParseChunk(raw)
		if err != nil {
			t.Fatalf("ParseChunk: %v", err)
		}
		if h.FrameID != 42 {
			t.Fatalf("FrameID = %d, want 42", h.FrameID)
		}
		if h.FrameType != FrameDelta {
			t.Fatalf("FrameType = %v, want FrameDelta", h.FrameType)
		}
		out, done := r.Feed(h, payload)
		if done {
			reassembled = out
		}
	}

	if !bytes.Equal(reassembled, data) {
		t.Fatal("reassembled payload does not match original")
	}
}

func TestReassemblerDropDiscardsPartialFrame(t *testing.T) {
	data := make([]byte, MaxChunkPayload*2)
	chunks, err := SplitChunks(5, AccessUnit{Data: data})
	if err != nil {
		t.Fatalf("SplitChunks: %v", err)
	}

	r := newReassembler()
	h, payload, err := ParseChunk(chunks[0])
	if err != nil {
		t.Fatalf("ParseChunk: %v", err)
	}
	if _, done := r.Feed(h, payload); done {
		t.Fatal("should not be done after one of two chunks")
	}

	r.Drop(5)
	if _, ok := r.frames[5]; ok {
		t.Fatal("expected frame to be dropped")
	}
}
