package deskhost

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSupervisorConfigSetDefaults(t *testing.T) {
	cfg := SupervisorConfig{}
	cfg.setDefaults()
	if cfg.InitialFPS != defaultFPS {
		t.Fatalf("InitialFPS = %d, want %d", cfg.InitialFPS, defaultFPS)
	}
	if cfg.InitialBitrate != 2_500_000 {
		t.Fatalf("InitialBitrate = %d, want 2500000", cfg.InitialBitrate)
	}
	if cfg.MinBitrate != 500_000 {
		t.Fatalf("MinBitrate = %d, want 500000", cfg.MinBitrate)
	}
	if cfg.MaxBitrate != 8_000_000 {
		t.Fatalf("MaxBitrate = %d, want 8000000", cfg.MaxBitrate)
	}
}

func TestSupervisorConfigSetDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := SupervisorConfig{InitialFPS: 60, InitialBitrate: 1, MinBitrate: 1, MaxBitrate: 1}
	cfg.setDefaults()
	if cfg.InitialFPS != 60 {
		t.Fatalf("InitialFPS = %d, want 60 (explicit value preserved)", cfg.InitialFPS)
	}
}

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	sv, err := NewSupervisor(AuthCredentials{Username: "operator", PIN: "1234"}, SupervisorConfig{})
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}
	return sv
}

func TestNewSupervisorConstructsFullPipeline(t *testing.T) {
	sv := newTestSupervisor(t)
	defer sv.capture.Pause()

	if sv.SessionID() == uuid.Nil {
		t.Fatal("expected a non-nil session ID")
	}
	if sv.Transport() == nil {
		t.Fatal("expected a non-nil transport")
	}
	if sv.Metrics() == nil {
		t.Fatal("expected a non-nil metrics aggregator")
	}
	if !sv.capture.Running() {
		t.Fatal("expected capture to already be running after construction")
	}
}

func TestSupervisorStartStopLifecycle(t *testing.T) {
	sv := newTestSupervisor(t)
	sv.Start()

	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		sv.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not return in time")
	}

	if sv.capture.Running() {
		t.Fatal("expected capture to be paused after Stop")
	}
}

func TestSupervisorWireCallbacksDisconnectPausesCapture(t *testing.T) {
	sv := newTestSupervisor(t)
	defer sv.capture.Pause()

	if !sv.capture.Running() {
		t.Fatal("expected capture running before simulating a disconnect")
	}
	sv.transport.forceDisconnect("test disconnect")
	if sv.capture.Running() {
		t.Fatal("expected the disconnect callback to pause capture")
	}
}

func TestSupervisorWireCallbacksMonitorSetUpdatesInputBounds(t *testing.T) {
	sv := newTestSupervisor(t)
	defer sv.capture.Pause()

	w, h, err := sv.transport.onMonitorSet(0)
	if err != nil {
		t.Fatalf("onMonitorSet: %v", err)
	}
	if w <= 0 || h <= 0 {
		t.Fatalf("got (%d,%d), want positive dimensions", w, h)
	}
}

func TestSupervisorRebuildEncoderAppliesNewDimensions(t *testing.T) {
	sv := newTestSupervisor(t)
	defer sv.capture.Pause()

	before := sv.encoder
	sv.rebuildEncoder(7680, 4320, 30)
	sv.mu.Lock()
	after := sv.encoder
	sv.mu.Unlock()
	if after == before {
		t.Log("encoder instance unchanged; in-place resize path accepted the new dimensions")
	}
	after.mu.Lock()
	w, h := after.cfg.Width, after.cfg.Height
	after.mu.Unlock()
	if w != 7680 || h != 4320 {
		t.Fatalf("encoder dimensions = (%d,%d), want (7680,4320)", w, h)
	}
}
