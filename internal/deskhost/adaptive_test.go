package deskhost

import (
	"testing"
	"time"

	"github.com/pion/rtcp"
)

func newTestAdaptive(t *testing.T) (*AdaptiveBitrate, *int) {
	t.Helper()
	applied := 0
	a := NewAdaptiveBitrate(AdaptiveConfig{
		InitialBitrate: 2_000_000,
		MinBitrate:     500_000,
		MaxBitrate:     4_000_000,
		MaxFPS:         60,
	}, func(bitrate int) error {
		applied++
		return nil
	})
	return a, &applied
}

func TestNewAdaptiveBitrateClampsInitial(t *testing.T) {
	a := NewAdaptiveBitrate(AdaptiveConfig{
		InitialBitrate: 10_000_000,
		MinBitrate:     500_000,
		MaxBitrate:     4_000_000,
	}, nil)
	if got := a.TargetBitrate(); got != 4_000_000 {
		t.Fatalf("TargetBitrate() = %d, want clamped to max 4000000", got)
	}
}

func TestAdaptiveBitrateDegradesOnSustainedLoss(t *testing.T) {
	a, applied := newTestAdaptive(t)
	before := a.TargetBitrate()

	// Three consecutive high-loss samples: the first two only feed the
	// EWMA (samplesCount < 3); the third crosses the threshold and, with
	// no prior adjustment, is not gated by the cooldown.
	a.Update(0, 0.5)
	a.Update(0, 0.5)
	a.Update(0, 0.5)

	after := a.TargetBitrate()
	if after >= before {
		t.Fatalf("TargetBitrate() = %d, want less than initial %d after sustained loss", after, before)
	}
	if *applied == 0 {
		t.Fatal("expected setBitrate callback to be invoked")
	}
}

func TestAdaptiveBitrateNeverBelowMinimum(t *testing.T) {
	a, _ := newTestAdaptive(t)
	for i := 0; i < 6; i++ {
		a.Update(0, 1.0)
		time.Sleep(600 * time.Millisecond)
	}
	if got := a.TargetBitrate(); got < 500_000 {
		t.Fatalf("TargetBitrate() = %d, want >= min 500000", got)
	}
}

func TestHandleNetworkReportDecodesReceiverReport(t *testing.T) {
	a, _ := newTestAdaptive(t)
	before := a.TargetBitrate()

	rr := &rtcp.ReceiverReport{
		SSRC: 1,
		Reports: []rtcp.ReceptionReport{
			{FractionLost: 200, Delay: 0}, // ~78% loss
		},
	}
	body, err := rr.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	a.HandleNetworkReport(body)
	a.HandleNetworkReport(body)
	a.HandleNetworkReport(body)

	if got := a.TargetBitrate(); got >= before {
		t.Fatalf("TargetBitrate() = %d, want less than initial %d after lossy reports", got, before)
	}
}

func TestHandleNetworkReportIgnoresMalformedBody(t *testing.T) {
	a, applied := newTestAdaptive(t)
	before := a.TargetBitrate()

	a.HandleNetworkReport([]byte{0xFF, 0xFF, 0xFF})

	if a.TargetBitrate() != before {
		t.Fatal("malformed report body should not change the target bitrate")
	}
	if *applied != 0 {
		t.Fatal("malformed report body should not invoke setBitrate")
	}
}

func TestRttFromDLSRZeroIsNeutral(t *testing.T) {
	if got := rttFromDLSR(0); got != 0 {
		t.Fatalf("rttFromDLSR(0) = %v, want 0", got)
	}
}

func TestRttFromDLSROneSecondUnit(t *testing.T) {
	got := rttFromDLSR(65536)
	if got != time.Second {
		t.Fatalf("rttFromDLSR(65536) = %v, want 1s", got)
	}
}

func TestClampInt(t *testing.T) {
	cases := []struct {
		value, lo, hi, want int
	}{
		{5, 0, 10, 5},
		{-5, 0, 10, 0},
		{15, 0, 10, 10},
	}
	for _, tc := range cases {
		if got := clampInt(tc.value, tc.lo, tc.hi); got != tc.want {
			t.Fatalf("clampInt(%d, %d, %d) = %d, want %d", tc.value, tc.lo, tc.hi, got, tc.want)
		}
	}
}
