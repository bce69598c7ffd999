package deskhost

import "sync"

// softwarePlaceholder is the fallback CodecBackend used when no hardware
// AV1 factory is registered or all registered factories fail. It performs
// no real AV1 compression — a production deployment wires a real backend
// via RegisterHardwareBackend; this type exists so EncoderStage's
// construction and drain protocol always has something to talk to, the
// same role the teacher's own software fallback plays for H264.
type softwarePlaceholder struct {
	mu      sync.Mutex
	cfg     EncoderConfig
	pending []AccessUnit
	closed  bool
}

func newSoftwarePlaceholder(cfg EncoderConfig) (CodecBackend, error) {
	return &softwarePlaceholder{cfg: cfg}, nil
}

func (s *softwarePlaceholder) Submit(frame []byte, markKey bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrEncoderClosed
	}
	// A real AV1 encoder replaces this copy with an actual bitstream.
	// The placeholder passes the raw frame through tagged as requested so
	// EncoderStage's GOP/keyframe bookkeeping is exercised end-to-end
	// without a hardware dependency.
	cp := make([]byte, len(frame))
	copy(cp, frame)
	s.pending = append(s.pending, AccessUnit{Data: cp, IsKey: markKey})
	return false, nil
}

func (s *softwarePlaceholder) Drain() ([]AccessUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out, nil
}

func (s *softwarePlaceholder) SetBitrate(bitrate int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Bitrate = bitrate
	return nil
}

func (s *softwarePlaceholder) SetFPS(fps int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.FPS = fps
	return nil
}

func (s *softwarePlaceholder) SetDimensions(width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Width, s.cfg.Height = width, height
	return nil
}

func (s *softwarePlaceholder) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.pending = nil
	return nil
}

func (s *softwarePlaceholder) Name() string         { return "av1-software-placeholder" }
func (s *softwarePlaceholder) IsHardware() bool     { return false }
func (s *softwarePlaceholder) IsPlaceholder() bool  { return true }
