package deskhost

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/lanternops/deskhost-host/internal/logging"
)

var supervisorLog = logging.L("supervisor")

const (
	frameSlotPopTimeout = 200 * time.Millisecond
	gpuSyncWaitDeadline = 5 * time.Millisecond
	statsInterval       = 1 * time.Second
	wiggleDelay         = 100 * time.Millisecond
)

// SupervisorConfig bounds the pipeline the Supervisor constructs. Zero
// values are filled in by setDefaults.
type SupervisorConfig struct {
	InitialFPS            int
	InitialBitrate        int
	MinBitrate            int
	MaxBitrate            int
	PreferHardwareEncoder bool
	ICEServers            []webrtc.ICEServer
}

func (c *SupervisorConfig) setDefaults() {
	if c.InitialFPS <= 0 {
		c.InitialFPS = defaultFPS
	}
	if c.InitialBitrate <= 0 {
		c.InitialBitrate = 2_500_000
	}
	if c.MinBitrate <= 0 {
		c.MinBitrate = 500_000
	}
	if c.MaxBitrate <= 0 {
		c.MaxBitrate = 8_000_000
	}
}

// Supervisor owns the whole per-peer pipeline: it constructs every stage in
// order (Frame Slot, Capture, Encoder, Peer Transport, Audio, Input), wires
// every cross-stage callback the stages leave open, and runs the three
// worker goroutines that actually move frames, audio, and stats.
type Supervisor struct {
	mu      sync.Mutex
	encoder *EncoderStage

	frameSlot *FrameSlot
	gpuSync   GPUSync
	capture   *CaptureStage
	transport *PeerTransport
	audio     *AudioStage
	input     *InputRouter
	clipboard *ClipboardBridge
	monitors  *MonitorRegistry
	adaptive  *AdaptiveBitrate
	metrics   *StreamMetrics

	sessionID uuid.UUID
	cfg       SupervisorConfig

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSupervisor constructs the full pipeline in the required order: Frame
// Slot, then Capture (bound and started so its reported resolution is
// real), then an initial Encoder sized to that resolution, then Peer
// Transport, then Audio, then Input. Every external collaborator comes from
// the platform registry, falling back to the placeholder implementations
// when nothing has been registered for this platform.
func NewSupervisor(creds AuthCredentials, cfg SupervisorConfig) (*Supervisor, error) {
	cfg.setDefaults()

	textureSource, err := newTextureSource()
	if err != nil {
		return nil, fmt.Errorf("supervisor: texture source: %w", err)
	}
	monitorSource, err := newMonitorSource()
	if err != nil {
		return nil, fmt.Errorf("supervisor: monitor source: %w", err)
	}
	injector, err := newInjector()
	if err != nil {
		return nil, fmt.Errorf("supervisor: injector: %w", err)
	}
	audioSource, err := newAudioSource()
	if err != nil {
		return nil, fmt.Errorf("supervisor: audio source: %w", err)
	}
	sysClipboard, err := newSystemClipboard()
	if err != nil {
		return nil, fmt.Errorf("supervisor: system clipboard: %w", err)
	}

	frameSlot := NewFrameSlot()
	gpuSync := NewFenceSync()
	capture := NewCaptureStage(textureSource, frameSlot, gpuSync)
	if err := capture.Start(0); err != nil {
		return nil, fmt.Errorf("supervisor: start capture: %w", err)
	}
	width, height, err := capture.Bounds()
	if err != nil {
		return nil, fmt.Errorf("supervisor: initial bounds: %w", err)
	}

	encoder, err := NewEncoderStage(EncoderConfig{
		Width:          width,
		Height:         height,
		FPS:            cfg.InitialFPS,
		Bitrate:        cfg.InitialBitrate,
		PreferHardware: cfg.PreferHardwareEncoder,
	})
	if err != nil {
		return nil, fmt.Errorf("supervisor: initial encoder: %w", err)
	}

	transport := NewPeerTransport(creds)
	if len(cfg.ICEServers) > 0 {
		transport.SetICEServers(cfg.ICEServers)
	}

	audio := NewAudioStage(audioSource)
	input := NewInputRouter(injector)
	input.SetBounds(Rect{W: width, H: height})

	monitors := NewMonitorRegistry(monitorSource)
	if _, err := monitors.List(); err != nil {
		supervisorLog.Warn("initial monitor enumeration failed", "error", err)
	}

	s := &Supervisor{
		encoder:   encoder,
		frameSlot: frameSlot,
		gpuSync:   gpuSync,
		capture:   capture,
		transport: transport,
		audio:     audio,
		input:     input,
		monitors:  monitors,
		metrics:   NewStreamMetrics(),
		sessionID: uuid.New(),
		cfg:       cfg,
		done:      make(chan struct{}),
	}

	s.adaptive = NewAdaptiveBitrate(AdaptiveConfig{
		InitialBitrate: cfg.InitialBitrate,
		MinBitrate:     cfg.MinBitrate,
		MaxBitrate:     cfg.MaxBitrate,
		MaxFPS:         MaxFPS,
		OnFPSChange: func(fps int) {
			if err := s.capture.SetFPS(fps); err != nil {
				supervisorLog.Warn("adaptive fps change rejected", "fps", fps, "error", err)
			}
		},
	}, encoder.SetBitrate)

	s.clipboard = NewClipboardBridge(sysClipboard, func(msg []byte) error {
		if !transport.IsAuthenticated() {
			return ErrNotAuthenticated
		}
		return transport.SendRaw(msg)
	})

	s.wireCallbacks()

	supervisorLog.Info("supervisor constructed",
		"session_id", s.sessionID, "width", width, "height", height,
		"backend", encoder.BackendName(), "placeholder", encoder.BackendIsPlaceholder())

	return s, nil
}

// wireCallbacks installs the five cross-stage wiring rules: resolution
// change rebuilds the encoder; FPS change drives Capture; monitor change
// drives Capture, the Input Router's bounds, and a wiggle; authentication
// schedules a wiggle; disconnect pauses Capture.
func (s *Supervisor) wireCallbacks() {
	s.capture.SetResolutionChangeCallback(func(width, height, fps int) {
		s.rebuildEncoder(width, height, fps)
	})

	s.transport.SetFPSChangeCallback(func(fps int) {
		if err := s.capture.SetFPS(fps); err != nil {
			supervisorLog.Warn("fps_set rejected", "fps", fps, "error", err)
			return
		}
		if !s.capture.Running() {
			if err := s.capture.Start(s.capture.CurrentMonitor()); err != nil {
				supervisorLog.Warn("failed to resume capture on fps_set", "error", err)
			}
		}
	})

	s.transport.SetMonitorSetCallback(func(index int) (int, int, error) {
		if err := s.capture.SwitchMonitor(index); err != nil {
			return 0, 0, err
		}
		w, h, err := s.capture.Bounds()
		if err != nil {
			return 0, 0, err
		}
		s.input.SetBounds(Rect{W: w, H: h})
		s.scheduleWiggle()
		return w, h, nil
	})

	s.transport.SetAuthenticatedCallback(func() {
		s.scheduleWiggle()
	})

	s.transport.SetDisconnectCallback(func(reason string) {
		supervisorLog.Info("peer disconnected, pausing capture", "reason", reason)
		s.capture.Pause()
	})

	s.transport.SetInputCallback(func(data []byte) {
		if err := s.input.HandleMessage(data); err != nil {
			supervisorLog.Debug("input dispatch error", "error", err)
		}
	})

	s.transport.SetClipboardCallback(func(data []byte) {
		if err := s.clipboard.HandleIncoming(data); err != nil {
			supervisorLog.Warn("incoming clipboard update rejected", "error", err)
		}
	})

	s.transport.SetNetworkReportCallback(s.adaptive.HandleNetworkReport)
	s.transport.SetMonitorListProvider(s.monitors.Cached)
}

func (s *Supervisor) scheduleWiggle() {
	time.AfterFunc(wiggleDelay, func() {
		if err := s.input.WiggleCenter(); err != nil {
			supervisorLog.Debug("wiggle_center failed", "error", err)
		}
	})
}

// rebuildEncoder first tries the cheap in-place resize path; if the active
// backend can't support it, the encoder is closed and replaced wholesale,
// matching the construction-time sizing rule.
func (s *Supervisor) rebuildEncoder(width, height, fps int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.encoder.SetDimensions(width, height); err == nil {
		return
	}

	bitrate := s.cfg.InitialBitrate
	if s.adaptive != nil {
		bitrate = s.adaptive.TargetBitrate()
	}
	newEncoder, err := NewEncoderStage(EncoderConfig{
		Width:          width,
		Height:         height,
		FPS:            fps,
		Bitrate:        bitrate,
		PreferHardware: s.cfg.PreferHardwareEncoder,
	})
	if err != nil {
		supervisorLog.Error("failed to rebuild encoder after resolution change", "error", err)
		return
	}
	old := s.encoder
	s.encoder = newEncoder
	if err := old.Close(); err != nil {
		supervisorLog.Warn("failed to close previous encoder", "error", err)
	}
}

// Start launches the audio source, the clipboard poller, and the three
// worker goroutines: encoder-stage, audio, and stats.
func (s *Supervisor) Start() {
	if err := s.audio.Start(); err != nil {
		supervisorLog.Warn("failed to start audio source", "error", err)
	}
	s.clipboard.Watch(s.done)

	s.wg.Add(3)
	go s.runEncoderLoop()
	go s.runAudioLoop()
	go s.runStatsLoop()
}

// Stop signals every worker goroutine to exit, waits for them, then
// releases capture, audio, and encoder resources.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
	s.audio.Stop()
	s.capture.Pause()
	s.mu.Lock()
	if err := s.encoder.Close(); err != nil {
		supervisorLog.Warn("failed to close encoder on stop", "error", err)
	}
	s.mu.Unlock()
}

// Transport exposes the peer transport for the Signaling Adapter to drive.
func (s *Supervisor) Transport() *PeerTransport { return s.transport }

// Metrics exposes the stream metrics aggregator for the status stream.
func (s *Supervisor) Metrics() *StreamMetrics { return s.metrics }

// SessionID identifies this Supervisor's pipeline instance for log
// correlation across the lifetime of one host process.
func (s *Supervisor) SessionID() uuid.UUID { return s.sessionID }

// runEncoderLoop implements the per-frame protocol: pop the Frame Slot,
// wait on GPU Sync up to 5ms, flush the encoder once when transitioning
// from idle to streaming (so a stale buffered frame doesn't delay the
// first visible one), encode, send, and release the texture back to the
// pool.
func (s *Supervisor) runEncoderLoop() {
	defer s.wg.Done()
	wasStreaming := false
	for {
		select {
		case <-s.done:
			return
		default:
		}

		handle, ok := s.frameSlot.Pop(frameSlotPopTimeout)
		if !ok {
			continue
		}

		s.gpuSync.Wait(handle.Ticket, gpuSyncWaitDeadline)

		streamingNow := s.transport.IsFPSConfirmed()
		forceKey := s.transport.NeedsKey()
		if streamingNow && !wasStreaming {
			s.mu.Lock()
			s.encoder.Flush()
			s.mu.Unlock()
			forceKey = true
		}
		wasStreaming = streamingNow

		if !s.transport.IsAuthenticated() {
			s.frameSlot.MarkReleased(handle.PoolIndex)
			continue
		}

		pixels, err := s.capture.PixelsAt(handle.PoolIndex)
		if err != nil {
			supervisorLog.Warn("failed to read captured pixels", "error", err)
			s.frameSlot.MarkReleased(handle.PoolIndex)
			continue
		}

		s.mu.Lock()
		encoder := s.encoder
		s.mu.Unlock()

		au, produced, err := encoder.Encode(pixels, handle.CaptureTS, forceKey)
		if err != nil {
			supervisorLog.Warn("encode failed", "error", err)
			s.metrics.RecordDrop()
			s.frameSlot.MarkReleased(handle.PoolIndex)
			continue
		}
		s.metrics.RecordCapture()
		if !produced {
			s.frameSlot.MarkReleased(handle.PoolIndex)
			continue
		}
		s.metrics.RecordEncode(au.EncodeUs)

		if err := s.transport.SendFrame(au, s.metrics); err != nil {
			supervisorLog.Warn("send frame failed", "error", err)
		}
		s.frameSlot.MarkReleased(handle.PoolIndex)
	}
}

// runAudioLoop pops queued Opus packets and forwards them on the shared
// transport, best-effort.
func (s *Supervisor) runAudioLoop() {
	defer s.wg.Done()
	for {
		pkt, ok := s.audio.Next(s.done)
		if !ok {
			return
		}
		if err := s.transport.SendAudio(pkt); err != nil {
			supervisorLog.Debug("send audio failed", "error", err)
		}
	}
}

// runStatsLoop logs a per-second snapshot of the pipeline counters.
func (s *Supervisor) runStatsLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			snap := s.metrics.Snapshot()
			supervisorLog.Info("pipeline stats",
				"session_id", s.sessionID,
				"captured", snap.FramesCaptured,
				"encoded", snap.FramesEncoded,
				"sent", snap.FramesSent,
				"skipped", snap.FramesSkipped,
				"dropped", snap.FramesDropped,
				"encode_ms", snap.EncodeMs,
				"bandwidth_kbps", snap.BandwidthKBps,
				"conflicts", s.frameSlot.Conflicts(),
				"target_bitrate", s.adaptive.TargetBitrate())
		}
	}
}
