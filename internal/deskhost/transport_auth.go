package deskhost

import (
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"time"
)

// handleAuthRequest parses {u8 user_len, u8 pin_len, user_bytes, pin_bytes}
// and compares against the loaded credentials. Username is compared
// case-sensitively; the PIN comparison is constant-time since it's the
// only secret in the handshake.
func (t *PeerTransport) handleAuthRequest(body []byte) {
	if len(body) < 2 {
		t.sendAuthResponse(false, "malformed auth request")
		return
	}
	userLen := int(body[0])
	pinLen := int(body[1])
	if len(body) < 2+userLen+pinLen {
		t.sendAuthResponse(false, "malformed auth request")
		return
	}
	username := string(body[2 : 2+userLen])
	pin := string(body[2+userLen : 2+userLen+pinLen])

	if !t.credentialsMatch(username, pin) {
		transportLog.Warn("auth rejected", "username", username)
		t.sendAuthResponse(false, "invalid username or pin")
		t.scheduleDisconnect("auth rejected")
		return
	}

	t.setState(StateAuthenticated)
	transportLog.Info("peer authenticated", "username", username)
	t.sendAuthResponse(true, "")
	t.SendHostInfo(uint16(defaultFPS))
	t.SendMonitorList()

	t.mu.RLock()
	cb := t.onAuthenticated
	t.mu.RUnlock()
	if cb != nil {
		cb()
	}
}

func (t *PeerTransport) credentialsMatch(username, pin string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(t.creds.Username)) == 1
	pinOK := subtle.ConstantTimeCompare([]byte(pin), []byte(t.creds.PIN)) == 1
	return userOK && pinOK
}

// scheduleDisconnect force-disconnects after disconnectGrace, giving the
// AUTH_RESPONSE failure frame time to reach the peer.
func (t *PeerTransport) scheduleDisconnect(reason string) {
	time.AfterFunc(disconnectGrace, func() {
		t.forceDisconnect(reason)
	})
}

// sendAuthResponse frames {MagicAuthResponse, u8 success, u8 err_len, err_bytes}.
func (t *PeerTransport) sendAuthResponse(success bool, errMsg string) {
	em := []byte(errMsg)
	if len(em) > 255 {
		em = em[:255]
	}
	buf := make([]byte, 4+1+1+len(em))
	binary.LittleEndian.PutUint32(buf[0:4], MagicAuthResponse)
	if success {
		buf[4] = 1
	}
	buf[5] = byte(len(em))
	copy(buf[6:], em)
	if err := t.sendRaw(buf); err != nil {
		transportLog.Warn("failed to send auth response", "error", err)
	}
}

// SendHostInfo frames {MagicHostInfo, u16 host_fps}.
func (t *PeerTransport) SendHostInfo(hostFPS uint16) {
	buf := make([]byte, 4+2)
	binary.LittleEndian.PutUint32(buf[0:4], MagicHostInfo)
	binary.LittleEndian.PutUint16(buf[4:6], hostFPS)
	if err := t.sendRaw(buf); err != nil {
		transportLog.Warn("failed to send host info", "error", err)
	}
}

// SendMonitorList frames {MagicMonitorList, u8 count, [u8 index, u16 width,
// u16 height, u8 primary, u8 name_len, name_bytes]...}.
func (t *PeerTransport) SendMonitorList() {
	t.mu.RLock()
	provider := t.listMonitors
	t.mu.RUnlock()
	if provider == nil {
		return
	}
	monitors := provider()
	if len(monitors) > 255 {
		monitors = monitors[:255]
	}

	size := 4 + 1
	for _, m := range monitors {
		size += 1 + 2 + 2 + 1 + 1 + len(m.DeviceName)
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], MagicMonitorList)
	buf[4] = byte(len(monitors))
	at := 5
	for _, m := range monitors {
		buf[at] = byte(m.Index)
		binary.LittleEndian.PutUint16(buf[at+1:at+3], uint16(m.Width))
		binary.LittleEndian.PutUint16(buf[at+3:at+5], uint16(m.Height))
		if m.Primary {
			buf[at+5] = 1
		}
		name := m.DeviceName
		if len(name) > 255 {
			name = name[:255]
		}
		buf[at+6] = byte(len(name))
		copy(buf[at+7:], name)
		at += 7 + len(name)
	}
	if err := t.sendRaw(buf[:at]); err != nil {
		transportLog.Warn("failed to send monitor list", "error", err)
	}
}

// sendFPSAck frames {MagicFPSAck, u16 fps, u8 mode}.
func (t *PeerTransport) sendFPSAck(fps uint16, mode uint8) {
	buf := make([]byte, 4+2+1)
	binary.LittleEndian.PutUint32(buf[0:4], MagicFPSAck)
	binary.LittleEndian.PutUint16(buf[4:6], fps)
	buf[6] = mode
	if err := t.sendRaw(buf); err != nil {
		transportLog.Warn("failed to send fps ack", "error", err)
	}
}

// sendRaw writes directly to the data channel, bypassing the backpressure
// gate used by SendFrame/SendAudio: control messages are small, infrequent,
// and must not be silently dropped.
func (t *PeerTransport) sendRaw(data []byte) error {
	t.mu.RLock()
	dc := t.dc
	t.mu.RUnlock()
	if dc == nil {
		return fmt.Errorf("transport: no data channel")
	}
	return dc.Send(data)
}

// SendRaw exposes sendRaw for collaborators outside this file (the
// Clipboard Bridge frames its own control messages and needs a way to push
// them onto the channel without going through the backpressure gate).
func (t *PeerTransport) SendRaw(data []byte) error {
	return t.sendRaw(data)
}
