package deskhost

import (
	"sync/atomic"
	"testing"
	"time"
)

type fakeTextureSource struct {
	boundMonitor int
	boundPool    int
	bindErr      error

	width, height int
	boundsErr     error

	captureCount atomic.Int32
	produced     bool
	captureErr   error

	closed bool
}

func (f *fakeTextureSource) Bind(monitorIndex, poolSize int) error {
	if f.bindErr != nil {
		return f.bindErr
	}
	f.boundMonitor = monitorIndex
	f.boundPool = poolSize
	return nil
}

func (f *fakeTextureSource) CaptureInto(poolIndex int) (int64, bool, error) {
	f.captureCount.Add(1)
	if f.captureErr != nil {
		return 0, false, f.captureErr
	}
	return time.Now().UnixMicro(), f.produced, nil
}

func (f *fakeTextureSource) Bounds() (int, int, error) { return f.width, f.height, f.boundsErr }

func (f *fakeTextureSource) PixelsAt(poolIndex int) ([]byte, error) {
	return []byte{1, 2, 3}, nil
}

func (f *fakeTextureSource) Close() error {
	f.closed = true
	return nil
}

func newTestCaptureStage(src *fakeTextureSource) *CaptureStage {
	return NewCaptureStage(src, NewFrameSlot(), NewFenceSync())
}

func TestCaptureStageStartBindsAndRuns(t *testing.T) {
	src := &fakeTextureSource{produced: true, width: 1920, height: 1080}
	c := newTestCaptureStage(src)

	if err := c.Start(0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Pause()

	if src.boundPool != FramePoolSize {
		t.Fatalf("boundPool = %d, want %d", src.boundPool, FramePoolSize)
	}
	if !c.Running() {
		t.Fatal("expected Running() to be true after Start")
	}
}

func TestCaptureStageStartIsIdempotent(t *testing.T) {
	src := &fakeTextureSource{produced: true}
	c := newTestCaptureStage(src)

	if err := c.Start(0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Pause()
	if err := c.Start(0); err != nil {
		t.Fatalf("second Start: %v", err)
	}
}

func TestCaptureStageStartPropagatesBindError(t *testing.T) {
	src := &fakeTextureSource{bindErr: errFakeEnumerate}
	c := newTestCaptureStage(src)
	if err := c.Start(0); err == nil {
		t.Fatal("expected Start to propagate a Bind error")
	}
	if c.Running() {
		t.Fatal("expected Running() to remain false after a failed Start")
	}
}

func TestCaptureStagePauseStopsLoop(t *testing.T) {
	src := &fakeTextureSource{produced: true}
	c := newTestCaptureStage(src)
	if err := c.Start(0); err != nil {
		t.Fatalf("Start: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	c.Pause()
	if c.Running() {
		t.Fatal("expected Running() to be false after Pause")
	}

	countAfterPause := src.captureCount.Load()
	time.Sleep(30 * time.Millisecond)
	if src.captureCount.Load() != countAfterPause {
		t.Fatal("expected no further captures after Pause")
	}
}

func TestCaptureStageSetFPSRejectsOutOfRange(t *testing.T) {
	c := newTestCaptureStage(&fakeTextureSource{})
	if err := c.SetFPS(0); err != ErrInvalidFPS {
		t.Fatalf("err = %v, want ErrInvalidFPS", err)
	}
	if err := c.SetFPS(241); err != ErrInvalidFPS {
		t.Fatalf("err = %v, want ErrInvalidFPS", err)
	}
	if err := c.SetFPS(60); err != nil {
		t.Fatalf("SetFPS(60): %v", err)
	}
}

func TestCaptureStageSwitchMonitorInvokesCallback(t *testing.T) {
	src := &fakeTextureSource{width: 2560, height: 1440}
	c := newTestCaptureStage(src)

	var gotW, gotH, gotFPS int
	c.SetResolutionChangeCallback(func(w, h, fps int) {
		gotW, gotH, gotFPS = w, h, fps
	})

	if err := c.SwitchMonitor(1); err != nil {
		t.Fatalf("SwitchMonitor: %v", err)
	}
	if gotW != 2560 || gotH != 1440 {
		t.Fatalf("callback got (%d,%d), want (2560,1440)", gotW, gotH)
	}
	if gotFPS != defaultFPS {
		t.Fatalf("callback fps = %d, want %d", gotFPS, defaultFPS)
	}
	if c.CurrentMonitor() != 1 {
		t.Fatalf("CurrentMonitor() = %d, want 1", c.CurrentMonitor())
	}
}

func TestCaptureStageSwitchMonitorRestartsIfRunning(t *testing.T) {
	src := &fakeTextureSource{produced: true}
	c := newTestCaptureStage(src)
	if err := c.Start(0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Pause()

	if err := c.SwitchMonitor(2); err != nil {
		t.Fatalf("SwitchMonitor: %v", err)
	}
	if !c.Running() {
		t.Fatal("expected capture to resume running after switching monitors")
	}
	if src.boundMonitor != 2 {
		t.Fatalf("boundMonitor = %d, want 2", src.boundMonitor)
	}
}

func TestCaptureStageBoundsDelegatesToSource(t *testing.T) {
	src := &fakeTextureSource{width: 3840, height: 2160}
	c := newTestCaptureStage(src)
	w, h, err := c.Bounds()
	if err != nil {
		t.Fatalf("Bounds: %v", err)
	}
	if w != 3840 || h != 2160 {
		t.Fatalf("Bounds() = (%d,%d), want (3840,2160)", w, h)
	}
}
