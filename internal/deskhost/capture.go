package deskhost

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lanternops/deskhost-host/internal/logging"
)

var captureLog = logging.L("capture")

// ResolutionChangeFunc is installed by the Supervisor and invoked whenever
// a monitor switch changes the active resolution, so the encoder can be
// rebuilt.
type ResolutionChangeFunc func(width, height, fps int)

// CaptureStage owns a pool of shared textures, binds to one monitor, and
// rate-limits production into a FrameSlot at a target FPS.
type CaptureStage struct {
	source TextureSource
	slot   *FrameSlot
	sync   GPUSync

	mu           sync.Mutex // serializes monitor switches with capture control
	monitorIndex int
	targetFPS    atomic.Int32
	running      atomic.Bool
	firstSample  atomic.Bool

	nextFrameTime int64 // µs, via time.Now().UnixMicro()

	onResolutionChange ResolutionChangeFunc

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewCaptureStage constructs a Capture Stage bound to no monitor yet; call
// Start after SwitchMonitor or with a default monitor index of 0.
func NewCaptureStage(source TextureSource, slot *FrameSlot, sync GPUSync) *CaptureStage {
	c := &CaptureStage{source: source, slot: slot, sync: sync}
	c.targetFPS.Store(defaultFPS)
	return c
}

// SetResolutionChangeCallback installs the Supervisor's rebuild hook.
func (c *CaptureStage) SetResolutionChangeCallback(fn ResolutionChangeFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onResolutionChange = fn
}

// Start binds to monitorIndex (if not already bound) and begins the
// capture loop. Idempotent while already running.
func (c *CaptureStage) Start(monitorIndex int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running.Load() {
		return nil
	}
	if err := c.source.Bind(monitorIndex, FramePoolSize); err != nil {
		return fmt.Errorf("capture: bind monitor %d: %w", monitorIndex, err)
	}
	c.monitorIndex = monitorIndex
	c.stop = make(chan struct{})
	c.firstSample.Store(true)
	c.running.Store(true)
	c.wg.Add(1)
	go c.loop()
	return nil
}

// Pause stops the capture loop without releasing the bound source, so a
// later Start resumes against the same monitor.
func (c *CaptureStage) Pause() {
	c.mu.Lock()
	if !c.running.Load() {
		c.mu.Unlock()
		return
	}
	close(c.stop)
	c.running.Store(false)
	c.mu.Unlock()
	c.wg.Wait()
}

// SwitchMonitor serializes with capture control under one mutex: pauses
// capture if running, rebinds the source to the new monitor, invokes the
// resolution-change callback, and restarts capture if it was running
// before. On failure the previous session is considered lost.
func (c *CaptureStage) SwitchMonitor(index int) error {
	wasRunning := c.running.Load()
	if wasRunning {
		c.Pause()
	}

	c.mu.Lock()
	if err := c.source.Bind(index, FramePoolSize); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("capture: switch monitor %d: %w", index, err)
	}
	c.monitorIndex = index
	c.slot.Reset()
	w, h, err := c.source.Bounds()
	cb := c.onResolutionChange
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("capture: bounds after switch: %w", err)
	}
	if cb != nil {
		cb(w, h, int(c.targetFPS.Load()))
	}

	if wasRunning {
		return c.Start(index)
	}
	return nil
}

// SetFPS updates the target frame rate; rejects values outside [1,240].
func (c *CaptureStage) SetFPS(fps int) error {
	if fps < MinFPS || fps > MaxFPS {
		return ErrInvalidFPS
	}
	c.targetFPS.Store(int32(fps))
	return nil
}

// CurrentMonitor returns the bound monitor index.
func (c *CaptureStage) CurrentMonitor() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.monitorIndex
}

// Running reports whether the capture loop is currently active.
func (c *CaptureStage) Running() bool {
	return c.running.Load()
}

// Bounds reports the bound source's current pixel dimensions.
func (c *CaptureStage) Bounds() (width, height int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source.Bounds()
}

// PixelsAt returns the bytes most recently captured into poolIndex, for the
// encoder-stage thread to read once GPU Sync confirms the ticket retired.
func (c *CaptureStage) PixelsAt(poolIndex int) ([]byte, error) {
	return c.source.PixelsAt(poolIndex)
}

const defaultFPS = 30

// loop implements the frame-arrived cadence: compute now and interval =
// 1_000_000/target_fps; on first sample, seed next_frame_time and publish;
// otherwise drop frames ahead of schedule, advancing next_frame_time in
// whole intervals to catch up without drift.
func (c *CaptureStage) loop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		fps := int64(c.targetFPS.Load())
		if fps < MinFPS {
			fps = defaultFPS
		}
		interval := int64(1_000_000) / fps
		now := time.Now().UnixMicro()

		if c.firstSample.CompareAndSwap(true, false) {
			c.nextFrameTime = now + interval
		} else if now < c.nextFrameTime {
			time.Sleep(time.Duration(c.nextFrameTime-now) * time.Microsecond)
			continue
		} else {
			// Advance in whole intervals to catch up without drift.
			for c.nextFrameTime <= now {
				c.nextFrameTime += interval
			}
		}

		c.captureOne()
	}
}

func (c *CaptureStage) captureOne() {
	poolIdx := c.slot.FindAvailableTexture(FramePoolSize)
	ts, produced, err := c.source.CaptureInto(poolIdx)
	if err != nil {
		captureLog.Warn("capture failed", "error", err)
		return
	}
	if !produced {
		return
	}
	ticket := c.sync.Signal()
	// The texture source's CaptureInto performing the GPU copy/flush
	// synchronously means the ticket is already retired by the time we
	// reach here; mark it complete so Encoder Stage's Wait never blocks
	// needlessly on a collaborator that doesn't expose async completion.
	if fs, ok := c.sync.(interface{ Complete(SyncTicket) }); ok {
		fs.Complete(ticket)
	}
	c.slot.Push(poolIdx, ts, ticket)
}
