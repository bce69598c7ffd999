package deskhost

import (
	"encoding/binary"
	"fmt"
)

// SendFrame implements chunked delivery with backpressure-driven keyframe
// recovery: before a frame is split, a buffered amount above BT skips the
// whole frame (the encoder is asked for a keyframe on the next chance);
// once chunking starts, a buffered amount above 2×BT aborts the remaining
// chunks of that frame rather than blocking. Ten consecutive
// skipped/aborted frames trip a stale-connection disconnect.
func (t *PeerTransport) SendFrame(au AccessUnit, metrics *StreamMetrics) error {
	t.mu.RLock()
	dc := t.dc
	t.mu.RUnlock()
	if dc == nil {
		return fmt.Errorf("transport: no data channel")
	}

	if dc.BufferedAmount() > BackpressureBT {
		t.tripBackpressure(metrics)
		return nil
	}

	frameID := t.frameID.Add(1)
	chunks, err := SplitChunks(frameID, au)
	if err != nil {
		return fmt.Errorf("transport: split chunks: %w", err)
	}

	for i, chunk := range chunks {
		if i > 0 && dc.BufferedAmount() > 2*BackpressureBT {
			transportLog.Warn("aborting mid-frame send, buffered amount over 2xBT",
				"frame_id", frameID, "sent_chunks", i, "total_chunks", len(chunks))
			t.tripBackpressure(metrics)
			return nil
		}
		if err := dc.Send(chunk); err != nil {
			return fmt.Errorf("transport: send chunk %d/%d: %w", i, len(chunks), err)
		}
	}

	t.backpressureRun.Store(0)
	if metrics != nil {
		total := 0
		for _, c := range chunks {
			total += len(c)
		}
		metrics.RecordSent(total)
	}
	return nil
}

func (t *PeerTransport) tripBackpressure(metrics *StreamMetrics) {
	t.setNeedsKey()
	if metrics != nil {
		metrics.RecordSkip()
	}
	run := t.backpressureRun.Add(1)
	if run >= backpressureTrips {
		t.forceDisconnect("stale: too many consecutive backpressure trips")
	}
}

// SendAudio frames {MagicAudioData, capture_ts i64, samples u16,
// data_len u16} + Opus payload. Audio is best-effort: it is silently
// skipped (never disconnect-worthy) when unauthenticated, over the
// per-packet size bound, or the channel is already backed up past BT/2.
func (t *PeerTransport) SendAudio(pkt AudioPacket) error {
	if !t.IsAuthenticated() {
		return nil
	}
	if len(pkt.Data) > MaxAudioPayload {
		return nil
	}

	t.mu.RLock()
	dc := t.dc
	t.mu.RUnlock()
	if dc == nil {
		return nil
	}
	if dc.BufferedAmount() > BackpressureBT/2 {
		return nil
	}

	buf := make([]byte, 4+8+2+2+len(pkt.Data))
	binary.LittleEndian.PutUint32(buf[0:4], MagicAudioData)
	binary.LittleEndian.PutUint64(buf[4:12], uint64(pkt.CaptureTS))
	binary.LittleEndian.PutUint16(buf[12:14], pkt.Samples)
	binary.LittleEndian.PutUint16(buf[14:16], uint16(len(pkt.Data)))
	copy(buf[16:], pkt.Data)

	return dc.Send(buf)
}
