package deskhost

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRewriteSetupActiveReplacesActpass(t *testing.T) {
	sdp := "v=0\r\na=setup:actpass\r\nm=application 9 UDP/DTLS/SCTP webrtc-datachannel\r\n"
	got := rewriteSetupActive(sdp)
	if strings.Contains(got, "a=setup:actpass") {
		t.Fatal("expected every a=setup:actpass line to be rewritten")
	}
	if !strings.Contains(got, "a=setup:active") {
		t.Fatal("expected a=setup:active to appear in the rewritten SDP")
	}
}

func TestRewriteSetupActiveLeavesOtherLinesAlone(t *testing.T) {
	sdp := "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\na=setup:actpass\r\n"
	got := rewriteSetupActive(sdp)
	if !strings.Contains(got, "o=- 1 1 IN IP4 0.0.0.0") {
		t.Fatal("expected unrelated SDP lines to be left untouched")
	}
}

func TestRewriteSetupActiveNoOpWithoutActpass(t *testing.T) {
	sdp := "v=0\r\na=setup:active\r\n"
	if got := rewriteSetupActive(sdp); got != sdp {
		t.Fatalf("got %q, want unchanged %q", got, sdp)
	}
}

func TestHandleOfferRejectsWrongMethod(t *testing.T) {
	s := NewSignalingAdapter(NewPeerTransport(AuthCredentials{}), NewStreamMetrics())
	req := httptest.NewRequest(http.MethodGet, "/api/offer", nil)
	rr := httptest.NewRecorder()
	s.handleOffer(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleOfferRejectsMalformedJSON(t *testing.T) {
	s := NewSignalingAdapter(NewPeerTransport(AuthCredentials{}), NewStreamMetrics())
	req := httptest.NewRequest(http.MethodPost, "/api/offer", strings.NewReader("not json"))
	rr := httptest.NewRecorder()
	s.handleOffer(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleOfferRejectsWrongType(t *testing.T) {
	s := NewSignalingAdapter(NewPeerTransport(AuthCredentials{}), NewStreamMetrics())
	req := httptest.NewRequest(http.MethodPost, "/api/offer", strings.NewReader(`{"sdp":"v=0","type":"answer"}`))
	rr := httptest.NewRecorder()
	s.handleOffer(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleOfferRejectsEmptySDP(t *testing.T) {
	s := NewSignalingAdapter(NewPeerTransport(AuthCredentials{}), NewStreamMetrics())
	req := httptest.NewRequest(http.MethodPost, "/api/offer", strings.NewReader(`{"sdp":"","type":"offer"}`))
	rr := httptest.NewRecorder()
	s.handleOffer(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}
