package deskhost

import (
	"sync"
	"time"

	"github.com/pion/rtcp"

	"github.com/lanternops/deskhost-host/internal/logging"
)

var adaptiveLog = logging.L("adaptive")

const minBitsPerFrame = 40_000

// AdaptiveConfig bounds the bitrate/FPS ramp the estimator is allowed to
// drive the encoder and capture stage to.
type AdaptiveConfig struct {
	InitialBitrate int
	MinBitrate     int
	MaxBitrate     int
	MaxFPS         int
	OnFPSChange    func(fps int)
}

// AdaptiveBitrate is an AIMD, EWMA-smoothed bitrate/FPS controller fed by
// the peer's MSG_NETWORK_REPORT messages. Grounded on the sibling agent's
// RTP-track AdaptiveBitrate (internal/remote/desktop/adaptive.go), retargeted
// from an RTCP-drain goroutine on a media track to a data-channel message
// decoded with the same pion/rtcp wire types, since this transport has no
// RTP track to drain RTCP from.
type AdaptiveBitrate struct {
	mu            sync.Mutex
	setBitrate    func(bitrate int) error
	minBitrate    int
	maxBitrate    int
	cooldown      time.Duration
	lastAdjust    time.Time
	targetBitrate int

	maxFPS      int
	currentFPS  int
	onFPSChange func(fps int)

	smoothedLoss float64
	smoothedRTT  time.Duration
	samplesCount int
	stableCount  int
}

// NewAdaptiveBitrate constructs the controller; setBitrate is normally
// EncoderStage.SetBitrate.
func NewAdaptiveBitrate(cfg AdaptiveConfig, setBitrate func(bitrate int) error) *AdaptiveBitrate {
	initial := cfg.InitialBitrate
	if initial <= 0 {
		initial = cfg.MinBitrate
	}
	initial = clampInt(initial, cfg.MinBitrate, cfg.MaxBitrate)
	maxFPS := cfg.MaxFPS
	if maxFPS <= 0 {
		maxFPS = MaxFPS
	}
	return &AdaptiveBitrate{
		setBitrate:    setBitrate,
		minBitrate:    cfg.MinBitrate,
		maxBitrate:    cfg.MaxBitrate,
		cooldown:      500 * time.Millisecond,
		targetBitrate: initial,
		maxFPS:        maxFPS,
		currentFPS:    clampInt(initial/minBitsPerFrame, MinFPS, maxFPS),
		onFPSChange:   cfg.OnFPSChange,
	}
}

// HandleNetworkReport unmarshals a peer-reported RTCP receiver report (the
// wire contents of a MSG_NETWORK_REPORT body) and feeds the loss fraction
// it carries into the AIMD controller.
func (a *AdaptiveBitrate) HandleNetworkReport(body []byte) {
	pkts, err := rtcp.Unmarshal(body)
	if err != nil {
		adaptiveLog.Debug("dropping malformed network report", "error", err)
		return
	}
	for _, pkt := range pkts {
		rr, ok := pkt.(*rtcp.ReceiverReport)
		if !ok || len(rr.Reports) == 0 {
			continue
		}
		loss := float64(rr.Reports[0].FractionLost) / 255.0
		rtt := rttFromDLSR(rr.Reports[0].Delay)
		a.Update(rtt, loss)
	}
}

// rttFromDLSR is a best-effort estimate: without a sender report timeline
// the host cannot do the full NTP/DLSR round-trip math, so delay-since-last-SR
// is treated directly as the RTT signal when the peer populates it, and zero
// (RTT-neutral) otherwise.
func rttFromDLSR(delaySinceLastSR uint32) time.Duration {
	if delaySinceLastSR == 0 {
		return 0
	}
	// DLSR units are 1/65536 seconds, matching RFC 3550 §6.4.1.
	return time.Duration(delaySinceLastSR) * time.Second / 65536
}

// Update applies one AIMD step: multiplicative decrease on sustained loss,
// additive increase after consecutive clean samples, each gated by an EWMA
// over loss/RTT so a single spike doesn't trigger a reaction.
func (a *AdaptiveBitrate) Update(rtt time.Duration, packetLoss float64) {
	if packetLoss < 0 {
		packetLoss = 0
	}
	if packetLoss > 1 {
		packetLoss = 1
	}

	a.mu.Lock()
	now := time.Now()
	if !a.lastAdjust.IsZero() && now.Sub(a.lastAdjust) < a.cooldown {
		a.updateEWMA(rtt, packetLoss)
		a.mu.Unlock()
		return
	}
	a.updateEWMA(rtt, packetLoss)

	if a.samplesCount < 3 {
		a.mu.Unlock()
		return
	}

	loss := a.smoothedLoss
	smoothRTT := a.smoothedRTT
	degrade := loss >= 0.05 || (smoothRTT >= 300*time.Millisecond && loss >= 0.02)
	upgrade := loss <= 0.01

	if degrade {
		a.stableCount = 0
	} else if upgrade {
		a.stableCount++
	} else if a.stableCount > 0 {
		a.stableCount--
	}
	const stableRequired = 2

	newBitrate := a.targetBitrate
	if degrade {
		newBitrate = clampInt(int(float64(newBitrate)*0.70), a.minBitrate, a.maxBitrate)
	} else if a.stableCount >= stableRequired && a.targetBitrate < a.maxBitrate {
		step := a.maxBitrate / 20
		if step < 100_000 {
			step = 100_000
		}
		newBitrate = clampInt(newBitrate+step, a.minBitrate, a.maxBitrate)
		a.stableCount = 0
	}
	newFPS := clampInt(newBitrate/minBitsPerFrame, MinFPS, a.maxFPS)

	if newBitrate == a.targetBitrate && newFPS == a.currentFPS {
		a.mu.Unlock()
		return
	}

	prevFPS := a.currentFPS
	a.targetBitrate = newBitrate
	a.currentFPS = newFPS
	a.lastAdjust = now
	setBitrate := a.setBitrate
	fpsCallback := a.onFPSChange
	a.mu.Unlock()

	adaptiveLog.Info("adaptive bitrate adjustment",
		"bitrate", newBitrate, "fps", newFPS, "smoothed_loss", loss, "smoothed_rtt", smoothRTT)

	if setBitrate != nil {
		if err := setBitrate(newBitrate); err != nil {
			adaptiveLog.Warn("failed to apply adaptive bitrate", "error", err)
		}
	}
	if newFPS != prevFPS && fpsCallback != nil {
		fpsCallback(newFPS)
	}
}

const ewmaAlpha = 0.3

func (a *AdaptiveBitrate) updateEWMA(rtt time.Duration, loss float64) {
	a.samplesCount++
	if a.samplesCount == 1 {
		a.smoothedLoss = loss
		a.smoothedRTT = rtt
		return
	}
	a.smoothedLoss = ewmaAlpha*loss + (1-ewmaAlpha)*a.smoothedLoss
	a.smoothedRTT = time.Duration(ewmaAlpha*float64(rtt) + (1-ewmaAlpha)*float64(a.smoothedRTT))
}

// TargetBitrate reports the controller's current bitrate target.
func (a *AdaptiveBitrate) TargetBitrate() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.targetBitrate
}

func clampInt(value, lo, hi int) int {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
