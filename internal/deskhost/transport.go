package deskhost

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/lanternops/deskhost-host/internal/logging"
)

var transportLog = logging.L("transport")

const (
	dataChannelLabel = "desktop"
	getLocalTimeout  = 10 * time.Second
	disconnectGrace  = 100 * time.Millisecond
	hostUDPPortFirst = 50000
	hostUDPPortLast  = 50100
)

// DisconnectFunc is invoked whenever the transport force-disconnects,
// carrying a named reason.
type DisconnectFunc func(reason string)

// PeerTransport is the hardest part of this design: one WebRTC peer
// connection and one reliable-unordered data channel carrying video
// chunks, audio packets, and every control message.
type PeerTransport struct {
	creds AuthCredentials

	mu              sync.RWMutex
	peerConn        *webrtc.PeerConnection
	dc              *webrtc.DataChannel
	state           PeerState
	onDisconnect    DisconnectFunc
	onFPSChange     func(fps int)
	onMonitorSet    func(index int) (width, height int, err error)
	onInput         func(data []byte)
	onClipboard     func(data []byte)
	onNetworkReport func(body []byte)
	onAuthenticated func()
	listMonitors    func() []Monitor

	needsKey atomic.Bool

	lastPing        atomic.Int64 // unix nano of last received PING
	backpressureRun atomic.Int32 // consecutive over-threshold trips

	frameID atomic.Uint32

	done chan struct{}
	once sync.Once

	liveness *time.Timer

	iceServers []webrtc.ICEServer
}

// NewPeerTransport constructs a transport configured to authenticate
// against creds, using the two public Google STUN servers unless
// SetICEServers overrides them. No WebRTC objects are created until
// SetRemote.
func NewPeerTransport(creds AuthCredentials) *PeerTransport {
	return &PeerTransport{
		creds: creds,
		done:  make(chan struct{}),
		iceServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
			{URLs: []string{"stun:stun1.l.google.com:19302"}},
		},
	}
}

// SetICEServers overrides the default public-STUN ICE server list, e.g.
// from HostConfig so an operator can point the host at a private TURN/STUN
// deployment.
func (t *PeerTransport) SetICEServers(servers []webrtc.ICEServer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.iceServers = servers
}

// SetDisconnectCallback installs the Supervisor's pause-on-disconnect hook.
func (t *PeerTransport) SetDisconnectCallback(fn DisconnectFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnect = fn
}

// SetFPSChangeCallback installs the Supervisor's Capture.set_fps hook.
func (t *PeerTransport) SetFPSChangeCallback(fn func(fps int)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onFPSChange = fn
}

// SetMonitorSetCallback installs the Supervisor's Capture.switch_monitor hook.
func (t *PeerTransport) SetMonitorSetCallback(fn func(index int) (int, int, error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMonitorSet = fn
}

// SetInputCallback installs the Input Router dispatch hook.
func (t *PeerTransport) SetInputCallback(fn func(data []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onInput = fn
}

// SetClipboardCallback installs the Clipboard Bridge dispatch hook.
func (t *PeerTransport) SetClipboardCallback(fn func(data []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClipboard = fn
}

// SetNetworkReportCallback installs the adaptive bitrate controller's
// MSG_NETWORK_REPORT handler.
func (t *PeerTransport) SetNetworkReportCallback(fn func(body []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onNetworkReport = fn
}

// SetAuthenticatedCallback installs the Supervisor's post-auth hook (used
// to schedule a wiggle_center nudge).
func (t *PeerTransport) SetAuthenticatedCallback(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onAuthenticated = fn
}

// SetMonitorListProvider installs the Monitor Registry lookup used to
// build MSG_MONITOR_LIST replies.
func (t *PeerTransport) SetMonitorListProvider(fn func() []Monitor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listMonitors = fn
}

// SetRemote tears down any existing peer + data channel and constructs a
// fresh one with two public STUN servers, a narrow host UDP port range,
// and ICE-TCP enabled, then applies the offer and creates an answer.
func (t *PeerTransport) SetRemote(sdp string) (localSDP string, err error) {
	t.teardown()

	settingEngine := webrtc.SettingEngine{}
	if err := settingEngine.SetEphemeralUDPPortRange(hostUDPPortFirst, hostUDPPortLast); err != nil {
		return "", fmt.Errorf("transport: udp port range: %w", err)
	}
	settingEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4, webrtc.NetworkTypeUDP6, webrtc.NetworkTypeTCP4,
	})

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))

	t.mu.RLock()
	iceServers := t.iceServers
	t.mu.RUnlock()
	config := webrtc.Configuration{ICEServers: iceServers}

	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return "", fmt.Errorf("transport: new peer connection: %w", err)
	}

	t.mu.Lock()
	t.peerConn = pc
	t.state = StateIceGathering
	t.done = make(chan struct{})
	t.once = sync.Once{}
	t.mu.Unlock()

	dc, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{
		Ordered:        boolPtr(false),
		MaxRetransmits: uint16Ptr(0),
	})
	if err != nil {
		pc.Close()
		return "", fmt.Errorf("transport: create data channel: %w", err)
	}
	t.mu.Lock()
	t.dc = dc
	t.mu.Unlock()
	t.wireDataChannel(dc)

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			t.forceDisconnect("peer connection " + s.String())
		}
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer, SDP: sdp,
	}); err != nil {
		return "", fmt.Errorf("transport: set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("transport: create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("transport: set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-time.After(getLocalTimeout):
		transportLog.Warn("ICE gathering timed out, returning partial SDP")
	}

	t.mu.Lock()
	t.state = StateSignalingExchanged
	local := pc.LocalDescription
	t.mu.Unlock()
	if local == nil {
		return "", fmt.Errorf("transport: no local description after gathering")
	}

	logCandidateCounts(local.SDP)
	t.startLivenessTimer()

	return local.SDP, nil
}

// GetLocal returns the current full local SDP, blocking up to
// getLocalTimeout for ICE gathering if called immediately after SetRemote
// (in practice SetRemote already waits, so this mostly serves re-reads).
func (t *PeerTransport) GetLocal(ctx context.Context) (string, error) {
	t.mu.RLock()
	pc := t.peerConn
	t.mu.RUnlock()
	if pc == nil {
		return "", fmt.Errorf("transport: no active peer connection")
	}
	deadline := time.Now().Add(getLocalTimeout)
	for {
		if local := pc.LocalDescription; local != nil {
			return local.SDP, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("transport: ICE gathering timed out")
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (t *PeerTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state >= StateConnectedUnauthenticated
}

func (t *PeerTransport) IsAuthenticated() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state >= StateAuthenticated
}

func (t *PeerTransport) IsFPSConfirmed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state == StateStreaming
}

// NeedsKey is a consume-on-read flag the encoder samples each frame.
// Writers (backpressure trips in send, and control-plane handlers) store
// true via sequentially-consistent atomic stores so the two writers never
// race.
func (t *PeerTransport) NeedsKey() bool {
	return t.needsKey.Swap(false)
}

func (t *PeerTransport) setNeedsKey() {
	t.needsKey.Store(true)
}

func (t *PeerTransport) State() PeerState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *PeerTransport) setState(s PeerState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// teardown closes any existing peer + data channel before constructing a
// fresh one.
func (t *PeerTransport) teardown() {
	t.mu.Lock()
	pc := t.peerConn
	t.peerConn = nil
	t.dc = nil
	t.state = StateDisconnected
	if t.liveness != nil {
		t.liveness.Stop()
	}
	t.mu.Unlock()
	if pc != nil {
		pc.Close()
	}
}

// forceDisconnect implements the transport's connection-fatal policy:
// force-disconnect with a named reason, invoke the disconnect callback.
func (t *PeerTransport) forceDisconnect(reason string) {
	t.once.Do(func() {
		transportLog.Warn("force disconnect", "reason", reason)
		t.mu.Lock()
		t.state = StateDisconnected
		cb := t.onDisconnect
		done := t.done
		t.mu.Unlock()
		select {
		case <-done:
		default:
			close(done)
		}
		if cb != nil {
			cb(reason)
		}
	})
}

func (t *PeerTransport) startLivenessTimer() {
	t.lastPing.Store(time.Now().UnixNano())
	t.mu.Lock()
	if t.liveness != nil {
		t.liveness.Stop()
	}
	t.liveness = time.AfterFunc(pingLivenessWindow, t.checkLiveness)
	t.mu.Unlock()
}

func (t *PeerTransport) checkLiveness() {
	age := time.Since(time.Unix(0, t.lastPing.Load()))
	if age >= pingLivenessWindow {
		t.forceDisconnect("ping liveness lost")
		return
	}
	remaining := pingLivenessWindow - age
	t.mu.Lock()
	t.liveness = time.AfterFunc(remaining, t.checkLiveness)
	t.mu.Unlock()
}

func boolPtr(b bool) *bool       { return &b }
func uint16Ptr(v uint16) *uint16 { return &v }

func logCandidateCounts(sdp string) {
	var host, srflx, relay int
	for _, line := range strings.Split(sdp, "\n") {
		switch {
		case strings.Contains(line, "typ host"):
			host++
		case strings.Contains(line, "typ srflx"):
			srflx++
		case strings.Contains(line, "typ relay"):
			relay++
		}
	}
	transportLog.Info("ICE candidates gathered", "host", host, "srflx", srflx, "relay", relay)
}
