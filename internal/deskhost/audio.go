package deskhost

import (
	"sync"
	"sync/atomic"

	"github.com/lanternops/deskhost-host/internal/logging"
)

var audioLog = logging.L("audio")

// AudioSource is the Opus loopback-encoder collaborator left external by
// this design — only the packet contract matters here. A real
// implementation captures loopback audio and hands already-encoded Opus
// frames to the callback.
type AudioSource interface {
	Start(onFrame func(opusFrame []byte, samples int)) error
	Stop() error
}

// AudioPacket is one queued Opus frame awaiting transmission.
type AudioPacket struct {
	Data      []byte
	CaptureTS int64
	Samples   uint16
}

// AudioStage consumes Opus packets from a bounded queue and forwards them
// on the shared transport under its own backpressure floor. Muted by
// default, mirroring the teacher's audio-off-by-default bandwidth posture.
// SetEnabled is the only way to unmute; no data-channel message maps to it.
type AudioStage struct {
	source  AudioSource
	enabled atomic.Bool

	queue chan AudioPacket

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

const audioQueueDepth = 64

// NewAudioStage constructs an audio stage over the given source.
func NewAudioStage(source AudioSource) *AudioStage {
	return &AudioStage{
		source: source,
		queue:  make(chan AudioPacket, audioQueueDepth),
	}
}

// SetEnabled toggles whether captured audio is queued for transmission at
// all.
func (a *AudioStage) SetEnabled(enabled bool) {
	a.enabled.Store(enabled)
	audioLog.Info("audio toggled", "enabled", enabled)
}

// Enabled reports the current mute state.
func (a *AudioStage) Enabled() bool { return a.enabled.Load() }

// Start begins capturing; captured frames are queued (dropped if the
// queue is full — audio is explicitly best-effort).
func (a *AudioStage) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}
	if err := a.source.Start(func(frame []byte, samples int) {
		if !a.enabled.Load() {
			return
		}
		pkt := AudioPacket{Data: frame, Samples: uint16(samples)}
		select {
		case a.queue <- pkt:
		default:
			audioLog.Debug("audio queue full, dropping frame")
		}
	}); err != nil {
		return err
	}
	a.running = true
	return nil
}

// Stop releases the audio source.
func (a *AudioStage) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return
	}
	a.source.Stop()
	a.running = false
}

// Next blocks (respecting done) until a packet is available, implementing
// the "Audio thread: pops audio packets, forwards" loop body for the
// Supervisor's worker goroutine.
func (a *AudioStage) Next(done <-chan struct{}) (AudioPacket, bool) {
	// Queued packets take priority over a closed done channel.
	select {
	case pkt := <-a.queue:
		return pkt, true
	default:
	}
	select {
	case pkt := <-a.queue:
		return pkt, true
	case <-done:
		return AudioPacket{}, false
	}
}
