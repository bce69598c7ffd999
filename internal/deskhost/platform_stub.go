package deskhost

import (
	"sync"
	"time"
)

// This file provides the default, registrable-over collaborator
// implementations for the platform-specific contracts this package leaves
// external (TextureSource, MonitorSource, Injector, AudioSource,
// SystemClipboard) — the same role the software placeholder plays for
// CodecBackend in encoder_software.go. A real deployment registers a
// hardware-backed implementation for each via the matching Register* hook
// (RegisterTextureSource and its siblings below); these stand in so the Supervisor always has a
// full pipeline to construct, on any platform, with zero OS-level access.

type backendRegistry struct {
	mu              sync.Mutex
	textureFactory  func() (TextureSource, error)
	monitorFactory  func() (MonitorSource, error)
	injectorFactory func() (Injector, error)
	audioFactory    func() (AudioSource, error)
	clipFactory     func() (SystemClipboard, error)
}

var platformRegistry backendRegistry

// RegisterTextureSource installs the real GPU capture backend for this
// platform. Called from an OS-specific init() in a build-tagged file.
func RegisterTextureSource(factory func() (TextureSource, error)) {
	platformRegistry.mu.Lock()
	defer platformRegistry.mu.Unlock()
	platformRegistry.textureFactory = factory
}

// RegisterMonitorSource installs the real monitor-enumeration backend.
func RegisterMonitorSource(factory func() (MonitorSource, error)) {
	platformRegistry.mu.Lock()
	defer platformRegistry.mu.Unlock()
	platformRegistry.monitorFactory = factory
}

// RegisterInjector installs the real input-injection backend.
func RegisterInjector(factory func() (Injector, error)) {
	platformRegistry.mu.Lock()
	defer platformRegistry.mu.Unlock()
	platformRegistry.injectorFactory = factory
}

// RegisterAudioSource installs the real loopback-audio backend.
func RegisterAudioSource(factory func() (AudioSource, error)) {
	platformRegistry.mu.Lock()
	defer platformRegistry.mu.Unlock()
	platformRegistry.audioFactory = factory
}

// RegisterSystemClipboard installs the real OS clipboard backend.
func RegisterSystemClipboard(factory func() (SystemClipboard, error)) {
	platformRegistry.mu.Lock()
	defer platformRegistry.mu.Unlock()
	platformRegistry.clipFactory = factory
}

func newTextureSource() (TextureSource, error) {
	platformRegistry.mu.Lock()
	f := platformRegistry.textureFactory
	platformRegistry.mu.Unlock()
	if f != nil {
		if src, err := f(); err == nil && src != nil {
			return src, nil
		}
	}
	return &placeholderTextureSource{width: 1920, height: 1080}, nil
}

func newMonitorSource() (MonitorSource, error) {
	platformRegistry.mu.Lock()
	f := platformRegistry.monitorFactory
	platformRegistry.mu.Unlock()
	if f != nil {
		if src, err := f(); err == nil && src != nil {
			return src, nil
		}
	}
	return &placeholderMonitorSource{}, nil
}

func newInjector() (Injector, error) {
	platformRegistry.mu.Lock()
	f := platformRegistry.injectorFactory
	platformRegistry.mu.Unlock()
	if f != nil {
		if inj, err := f(); err == nil && inj != nil {
			return inj, nil
		}
	}
	return &placeholderInjector{}, nil
}

func newAudioSource() (AudioSource, error) {
	platformRegistry.mu.Lock()
	f := platformRegistry.audioFactory
	platformRegistry.mu.Unlock()
	if f != nil {
		if src, err := f(); err == nil && src != nil {
			return src, nil
		}
	}
	return &placeholderAudioSource{}, nil
}

func newSystemClipboard() (SystemClipboard, error) {
	platformRegistry.mu.Lock()
	f := platformRegistry.clipFactory
	platformRegistry.mu.Unlock()
	if f != nil {
		if c, err := f(); err == nil && c != nil {
			return c, nil
		}
	}
	return &placeholderClipboard{}, nil
}

// placeholderTextureSource produces a solid-color BGRA frame of a fixed
// size: no screen is ever actually captured. Its contract-level behavior
// (bind/capture/bounds/close) is enough to exercise the Capture Stage and
// everything downstream of it without a GPU.
type placeholderTextureSource struct {
	mu            sync.Mutex
	width, height int
	bound         bool
	frame         []byte
}

func (p *placeholderTextureSource) Bind(monitorIndex int, poolSize int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bound = true
	p.frame = make([]byte, p.width*p.height*4)
	return nil
}

func (p *placeholderTextureSource) CaptureInto(poolIndex int) (int64, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.bound {
		return 0, false, ErrEncoderClosed
	}
	return time.Now().UnixMicro(), true, nil
}

func (p *placeholderTextureSource) Bounds() (int, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.width, p.height, nil
}

func (p *placeholderTextureSource) PixelsAt(poolIndex int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.bound {
		return nil, ErrEncoderClosed
	}
	return p.frame, nil
}

func (p *placeholderTextureSource) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bound = false
	p.frame = nil
	return nil
}

// placeholderMonitorSource reports one synthetic 1920x1080 primary monitor.
type placeholderMonitorSource struct{}

func (placeholderMonitorSource) Enumerate() ([]Monitor, error) {
	return []Monitor{{
		Handle: 1, Index: 0, Width: 1920, Height: 1080,
		RefreshRate: 60, Primary: true, DeviceName: "placeholder-0",
	}}, nil
}

// placeholderInjector discards every injected event; it exists so the
// Input Router always has somewhere to dispatch to.
type placeholderInjector struct{}

func (placeholderInjector) MoveAbsolute(vx, vy int32) error              { return nil }
func (placeholderInjector) ButtonEvent(btn int, down bool) error         { return nil }
func (placeholderInjector) Wheel(dx, dy int32) error                     { return nil }
func (placeholderInjector) KeyEvent(vk uint16, down, extended bool) error { return nil }

// placeholderAudioSource never produces a frame; Stop/Start are no-ops.
type placeholderAudioSource struct{}

func (placeholderAudioSource) Start(onFrame func(frame []byte, samples int)) error { return nil }
func (placeholderAudioSource) Stop() error                                         { return nil }

// placeholderClipboard is an in-process clipboard stand-in, useful on
// platforms/CI where there is no real OS clipboard to read from.
type placeholderClipboard struct {
	mu   sync.Mutex
	kind ClipboardKind
	data []byte
}

func (c *placeholderClipboard) Read() (ClipboardKind, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kind, c.data, nil
}

func (c *placeholderClipboard) Write(kind ClipboardKind, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kind, c.data = kind, data
	return nil
}
