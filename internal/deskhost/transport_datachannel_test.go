package deskhost

import (
	"encoding/binary"
	"testing"
)

func authenticatedTestTransport() *PeerTransport {
	tr := newTestTransport()
	tr.setState(StateAuthenticated)
	return tr
}

func magicMsg(magic uint32, body []byte) []byte {
	msg := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(msg[0:4], magic)
	copy(msg[4:], body)
	return msg
}

func TestHandleMessageDropsUnauthenticatedNonAuthMessages(t *testing.T) {
	tr := newTestTransport()
	needsKeyBefore := tr.NeedsKey()
	tr.handleMessage(magicMsg(MagicRequestKey, nil))
	if tr.NeedsKey() != needsKeyBefore {
		t.Fatal("expected a pre-auth message other than AUTH_REQUEST to be dropped")
	}
}

func TestHandleMessageTooShortIsIgnored(t *testing.T) {
	tr := newTestTransport()
	tr.handleMessage([]byte{1, 2, 3})
}

func TestHandleMessageRequestKeySetsFlag(t *testing.T) {
	tr := authenticatedTestTransport()
	tr.handleMessage(magicMsg(MagicRequestKey, nil))
	if !tr.NeedsKey() {
		t.Fatal("expected REQUEST_KEY to set the needs-key flag")
	}
}

func TestHandleMessageDispatchesInputCallback(t *testing.T) {
	tr := authenticatedTestTransport()
	var got []byte
	tr.SetInputCallback(func(data []byte) { got = data })

	msg := magicMsg(MagicMouseMove, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	tr.handleMessage(msg)

	if got == nil {
		t.Fatal("expected the input callback to fire for a mouse-move message")
	}
}

func TestHandleMessageDispatchesClipboardCallback(t *testing.T) {
	tr := authenticatedTestTransport()
	var got []byte
	tr.SetClipboardCallback(func(data []byte) { got = data })

	tr.handleMessage(magicMsg(MagicClipboardSet, []byte{1, 2, 3}))
	if got == nil || len(got) != 3 {
		t.Fatalf("got = %v, want the 3-byte clipboard body", got)
	}
}

func TestHandleMessageDispatchesNetworkReportCallback(t *testing.T) {
	tr := authenticatedTestTransport()
	var got []byte
	tr.SetNetworkReportCallback(func(data []byte) { got = data })

	tr.handleMessage(magicMsg(MagicNetworkReport, []byte{9, 9}))
	if len(got) != 2 {
		t.Fatalf("got = %v, want the 2-byte report body", got)
	}
}

func TestHandleFPSSetRejectsOutOfRange(t *testing.T) {
	tr := authenticatedTestTransport()
	called := false
	tr.SetFPSChangeCallback(func(fps int) { called = true })

	body := make([]byte, 3)
	binary.LittleEndian.PutUint16(body[0:2], 0)
	body[2] = byte(FPSModeHostRefresh)
	tr.handleFPSSet(body)

	if called {
		t.Fatal("expected out-of-range fps to be rejected before the callback fires")
	}
}

func TestHandleFPSSetRejectsInvalidMode(t *testing.T) {
	tr := authenticatedTestTransport()
	body := make([]byte, 3)
	binary.LittleEndian.PutUint16(body[0:2], 30)
	body[2] = 0xFF
	tr.handleFPSSet(body)
	if tr.State() == StateStreaming {
		t.Fatal("expected an invalid mode to be rejected")
	}
}

func TestHandleFPSSetHostRefreshCoercesToHostFPS(t *testing.T) {
	tr := authenticatedTestTransport()
	var gotFPS int
	tr.SetFPSChangeCallback(func(fps int) { gotFPS = fps })

	body := make([]byte, 3)
	binary.LittleEndian.PutUint16(body[0:2], 5) // arbitrary requested value, overridden by host-refresh mode
	body[2] = byte(FPSModeHostRefresh)
	tr.handleFPSSet(body)

	if gotFPS != defaultFPS {
		t.Fatalf("gotFPS = %d, want %d (host refresh)", gotFPS, defaultFPS)
	}
	if tr.State() != StateStreaming {
		t.Fatalf("State() = %v, want StateStreaming", tr.State())
	}
}

func TestHandleMonitorSetInvokesCallbackAndSetsNeedsKey(t *testing.T) {
	tr := authenticatedTestTransport()
	var gotIndex int
	tr.SetMonitorSetCallback(func(index int) (int, int, error) {
		gotIndex = index
		return 1920, 1080, nil
	})

	tr.handleMonitorSet([]byte{2})

	if gotIndex != 2 {
		t.Fatalf("gotIndex = %d, want 2", gotIndex)
	}
	if !tr.NeedsKey() {
		t.Fatal("expected a successful monitor switch to request a keyframe")
	}
}

func TestHandleMonitorSetIgnoresErrorFromCallback(t *testing.T) {
	tr := authenticatedTestTransport()
	tr.SetMonitorSetCallback(func(index int) (int, int, error) {
		return 0, 0, errFakeEnumerate
	})
	tr.handleMonitorSet([]byte{9})
	if tr.NeedsKey() {
		t.Fatal("expected a failed monitor switch not to request a keyframe")
	}
}

func TestHandlePingResetsLivenessAndBackpressure(t *testing.T) {
	tr := authenticatedTestTransport()
	tr.backpressureRun.Store(5)

	body := make([]byte, 8)
	binary.LittleEndian.PutUint64(body, 123456)
	tr.handlePing(body)

	if tr.backpressureRun.Load() != 0 {
		t.Fatalf("backpressureRun = %d, want 0 after a ping", tr.backpressureRun.Load())
	}
	if tr.lastPing.Load() == 0 {
		t.Fatal("expected lastPing to be updated")
	}
}
