package deskhost

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
)

// wireDataChannel attaches the open/message/close handlers that implement
// the entire protocol: authentication gate, ping/clock-sync, chunked
// frame reception is N/A on the host side (host only sends video), and
// the control plane.
func (t *PeerTransport) wireDataChannel(dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		t.setState(StateConnectedUnauthenticated)
		transportLog.Info("data channel open, awaiting AUTH_REQUEST")
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.handleMessage(msg.Data)
	})

	dc.OnClose(func() {
		t.forceDisconnect("data channel closed")
	})
}

// handleMessage dispatches one received data-channel message by its
// 4-byte magic prefix. Before authentication, everything except
// AUTH_REQUEST is dropped.
func (t *PeerTransport) handleMessage(data []byte) {
	if len(data) < 4 {
		return
	}
	magic := binary.LittleEndian.Uint32(data[0:4])
	body := data[4:]

	if !t.IsAuthenticated() {
		if magic == MagicAuthRequest {
			t.handleAuthRequest(body)
		}
		return
	}

	switch magic {
	case MagicPing:
		t.handlePing(body)
	case MagicFPSSet:
		t.handleFPSSet(body)
	case MagicRequestKey:
		t.setNeedsKey()
	case MagicMonitorSet:
		t.handleMonitorSet(body)
	case MagicMouseMove, MagicMouseBtn, MagicMouseWheel, MagicKey:
		t.dispatchInput(data)
	case MagicClipboardSet:
		t.dispatchClipboard(body)
	case MagicNetworkReport:
		t.dispatchNetworkReport(body)
	default:
		transportLog.Debug("unknown magic on data channel", "magic", fmt.Sprintf("0x%08x", magic))
	}
}

func (t *PeerTransport) dispatchInput(data []byte) {
	t.mu.RLock()
	cb := t.onInput
	t.mu.RUnlock()
	if cb != nil {
		cb(data)
	}
}

func (t *PeerTransport) dispatchClipboard(body []byte) {
	t.mu.RLock()
	cb := t.onClipboard
	t.mu.RUnlock()
	if cb != nil {
		cb(body)
	}
}

func (t *PeerTransport) dispatchNetworkReport(body []byte) {
	t.mu.RLock()
	cb := t.onNetworkReport
	t.mu.RUnlock()
	if cb != nil {
		cb(body)
	}
}

// handleFPSSet validates {u16 fps, u8 mode}, coerces mode=1 to
// hostRefreshFPS, echoes MSG_FPS_ACK, and marks fps_confirmed.
// hostRefreshFPS returns the fixed defaultFPS; it does not read the
// display's refresh rate.
func (t *PeerTransport) handleFPSSet(body []byte) {
	if len(body) < 3 {
		return
	}
	fps := int(binary.LittleEndian.Uint16(body[0:2]))
	mode := FPSMode(body[2])

	if fps < MinFPS || fps > MaxFPS || !mode.valid() {
		transportLog.Warn("rejected invalid fps_set", "fps", fps, "mode", mode)
		return
	}

	if mode == FPSModeHostRefresh {
		fps = t.hostRefreshFPS()
	}

	t.mu.RLock()
	cb := t.onFPSChange
	t.mu.RUnlock()
	if cb != nil {
		cb(fps)
	}

	t.setState(StateStreaming)
	t.sendFPSAck(uint16(fps), uint8(mode))
}

func (t *PeerTransport) hostRefreshFPS() int {
	return defaultFPS
}

// handleMonitorSet validates {u8 index}; on success sets needs_key and
// re-sends the monitor list + host info.
func (t *PeerTransport) handleMonitorSet(body []byte) {
	if len(body) < 1 {
		return
	}
	index := int(body[0])

	t.mu.RLock()
	cb := t.onMonitorSet
	t.mu.RUnlock()
	if cb == nil {
		return
	}

	w, h, err := cb(index)
	if err != nil {
		transportLog.Warn("monitor switch failed", "index", index, "error", err)
		return
	}
	t.setNeedsKey()
	t.SendMonitorList()
	t.SendHostInfo(uint16(defaultFPS))
	transportLog.Info("monitor switched", "index", index, "width", w, "height", h)
}

// handlePing resets the liveness timer on arrival of any ping, then
// replies {MSG_PING, client_send_ts, host_ts}.
func (t *PeerTransport) handlePing(body []byte) {
	t.lastPing.Store(time.Now().UnixNano())
	t.backpressureRun.Store(0)

	if len(body) < 8 {
		return
	}
	clientTS := binary.LittleEndian.Uint64(body[0:8])

	out := make([]byte, 24)
	binary.LittleEndian.PutUint32(out[0:4], MagicPing)
	binary.LittleEndian.PutUint64(out[4:12], clientTS)
	binary.LittleEndian.PutUint64(out[12:20], uint64(time.Now().UnixMicro()))
	_ = t.sendRaw(out)
}
