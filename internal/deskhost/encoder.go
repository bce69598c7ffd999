package deskhost

import (
	"fmt"
	"sync"
	"time"

	"github.com/lanternops/deskhost-host/internal/logging"
)

var encoderLog = logging.L("encoder")

// CodecBackend is the AV1 codec collaborator left external by this design:
// its per-codec tuning is a lookup table, not part of the orchestration
// logic here. A real hardware or software AV1 backend implements this;
// EncoderStage owns the GOP/keyframe/drain protocol around it.
//
// Grounded on the teacher's encoderBackend interface (encoder.go),
// retargeted from H264/VP9/VP8 to AV1-only, and trimmed of the multi-codec
// SetCodec surface since this host fixes the codec at AV1.
type CodecBackend interface {
	// Submit pushes one frame for encoding, marking it as a forced
	// keyframe when markKey is true. Returns needsDrain=true if the
	// codec's internal pipeline must be drained before more output is
	// available (e.g. B-frame reorder buffers — disabled here, but some
	// hardware MFTs still report this transiently).
	Submit(frame []byte, markKey bool) (needsDrain bool, err error)
	// Drain collects any access units the codec has finished producing.
	Drain() ([]AccessUnit, error)
	SetBitrate(bitrate int) error
	SetFPS(fps int) error
	SetDimensions(width, height int) error
	Close() error
	Name() string
	IsHardware() bool
	IsPlaceholder() bool
}

// EncoderConfig configures an EncoderStage.
type EncoderConfig struct {
	Width, Height  int
	FPS            int
	Bitrate        int
	PreferHardware bool
}

func (c EncoderConfig) gop() int {
	if c.FPS <= 0 {
		return 2 * defaultFPS
	}
	return 2 * c.FPS
}

type backendFactory func(cfg EncoderConfig) (CodecBackend, error)

var (
	hardwareFactoriesMu sync.Mutex
	hardwareFactories   []backendFactory
)

// RegisterHardwareBackend registers a factory tried, in registration
// order, before falling back to the software placeholder. Mirrors the
// teacher's registerHardwareFactory extension point so a real AV1
// hardware backend (NVENC/QSV/VideoToolbox-AV1) can be wired without
// touching EncoderStage.
func RegisterHardwareBackend(factory backendFactory) {
	hardwareFactoriesMu.Lock()
	defer hardwareFactoriesMu.Unlock()
	hardwareFactories = append(hardwareFactories, factory)
}

// EncoderStage is the scoped AV1 encoder resource: constructed with
// (width, height, fps), exposes Encode and Flush. On a monitor switch the
// Supervisor resizes it in place via SetDimensions and replaces it
// wholesale only when the backend rejects the resize.
type EncoderStage struct {
	mu      sync.Mutex
	cfg     EncoderConfig
	backend CodecBackend

	lastKeyframe time.Time
	frameID      uint32 // assigned at send time by Peer Transport, not here

	// Two-slot rotating output buffer: the caller reads through without
	// the encoder copying into a fresh allocation each call.
	outSlots [2][]byte
	outAt    int
}

// NewEncoderStage constructs the encoder, trying registered hardware
// factories first and falling back to the software placeholder.
func NewEncoderStage(cfg EncoderConfig) (*EncoderStage, error) {
	if cfg.FPS <= 0 {
		cfg.FPS = defaultFPS
	}
	if cfg.Bitrate <= 0 {
		cfg.Bitrate = 2_500_000
	}

	backend, err := newCodecBackend(cfg)
	if err != nil {
		return nil, err
	}
	return &EncoderStage{cfg: cfg, backend: backend}, nil
}

func newCodecBackend(cfg EncoderConfig) (CodecBackend, error) {
	hardwareFactoriesMu.Lock()
	factories := append([]backendFactory(nil), hardwareFactories...)
	hardwareFactoriesMu.Unlock()
	for _, factory := range factories {
		if backend, err := factory(cfg); err == nil && backend != nil {
			return backend, nil
		}
	}
	return newSoftwarePlaceholder(cfg)
}

// Encode implements the per-frame protocol: force a keyframe if requested
// or if keyframeInterval has elapsed since the last one, submit, drain on
// demand, and report is_key if any drained unit carried it.
func (e *EncoderStage) Encode(frame []byte, captureTS int64, forceKey bool) (AccessUnit, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.backend == nil {
		return AccessUnit{}, false, ErrEncoderClosed
	}

	markKey := forceKey || time.Since(e.lastKeyframe) >= keyframeInterval
	if markKey {
		e.lastKeyframe = time.Now()
	}

	start := time.Now()
	needsDrain, err := e.backend.Submit(frame, markKey)
	if err != nil {
		return AccessUnit{}, false, fmt.Errorf("encoder: submit: %w", err)
	}

	var units []AccessUnit
	if needsDrain {
		drained, derr := e.backend.Drain()
		if derr != nil {
			return AccessUnit{}, false, fmt.Errorf("encoder: drain after submit: %w", derr)
		}
		units = append(units, drained...)
	}
	final, err := e.backend.Drain()
	if err != nil {
		return AccessUnit{}, false, fmt.Errorf("encoder: drain: %w", err)
	}
	units = append(units, final...)

	if len(units) == 0 {
		return AccessUnit{}, false, nil
	}

	encodeUs := uint32(time.Since(start).Microseconds())
	isKey := false
	var merged []byte
	for _, u := range units {
		merged = append(merged, u.Data...)
		if u.IsKey {
			isKey = true
		}
	}

	e.outAt = (e.outAt + 1) % 2
	e.outSlots[e.outAt] = merged

	au := AccessUnit{
		Data:      e.outSlots[e.outAt],
		CaptureTS: captureTS,
		EncodeUs:  encodeUs,
		IsKey:     isKey || markKey,
	}
	return au, true, nil
}

// Flush drops any buffered frames from the codec pipeline. The Supervisor's
// encoder loop calls it once on each idle-to-streaming transition.
func (e *EncoderStage) Flush() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if f, ok := e.backend.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			encoderLog.Warn("flush failed", "error", err)
		}
	}
}

// SetBitrate updates the codec's target bitrate without a full rebuild.
func (e *EncoderStage) SetBitrate(bitrate int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backend == nil {
		return ErrEncoderClosed
	}
	if err := e.backend.SetBitrate(bitrate); err != nil {
		return err
	}
	e.cfg.Bitrate = bitrate
	return nil
}

// SetFPS updates the codec's target FPS (affects its internal GOP timer
// assumptions, not the wall-clock keyframe interval above).
func (e *EncoderStage) SetFPS(fps int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backend == nil {
		return ErrEncoderClosed
	}
	if err := e.backend.SetFPS(fps); err != nil {
		return err
	}
	e.cfg.FPS = fps
	return nil
}

// SetDimensions reconfigures the codec's frame geometry in place. The
// Supervisor tries this first on a monitor switch and rebuilds the encoder
// only if it returns an error.
func (e *EncoderStage) SetDimensions(width, height int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backend == nil {
		return ErrEncoderClosed
	}
	e.cfg.Width, e.cfg.Height = width, height
	return e.backend.SetDimensions(width, height)
}

// Close releases the codec and any GPU resources it holds.
func (e *EncoderStage) Close() error {
	e.mu.Lock()
	backend := e.backend
	e.backend = nil
	e.mu.Unlock()
	if backend == nil {
		return nil
	}
	return backend.Close()
}

// BackendName reports the active codec backend's identifying name.
func (e *EncoderStage) BackendName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backend == nil {
		return ""
	}
	return e.backend.Name()
}

// BackendIsPlaceholder reports whether no real AV1 encoder was available
// and the software placeholder is in use. No hardware factory is
// registered anywhere in this repository — a deployment wires one in an
// init() via RegisterHardwareBackend — so the Supervisor only logs the
// backend name and placeholder status at construction rather than refusing
// to start.
func (e *EncoderStage) BackendIsPlaceholder() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backend == nil {
		return true
	}
	return e.backend.IsPlaceholder()
}
