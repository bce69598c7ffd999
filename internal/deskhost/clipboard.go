package deskhost

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/lanternops/deskhost-host/internal/logging"
)

var clipboardLog = logging.L("clipboard")

// ClipboardKind distinguishes text vs image clipboard payloads.
type ClipboardKind uint8

const (
	ClipboardText  ClipboardKind = 0
	ClipboardImage ClipboardKind = 1
)

// SystemClipboard is the OS clipboard collaborator; browser-side decode is
// out of scope, but host-side read/write is in-core.
type SystemClipboard interface {
	Read() (kind ClipboardKind, data []byte, err error)
	Write(kind ClipboardKind, data []byte) error
}

// ClipboardBridge watches the local clipboard and frames changes onto the
// shared data channel, and writes through incoming peer clipboard
// updates — grounded on the sibling agent's clipboard sync collaborator,
// re-pointed at this design's single channel.
type ClipboardBridge struct {
	sys SystemClipboard

	mu       sync.Mutex
	lastHash uint64
	send     func([]byte) error

	stop chan struct{}
	wg   sync.WaitGroup
}

const clipboardPollInterval = 250 * time.Millisecond

// NewClipboardBridge constructs a bridge over sys; send delivers a framed
// MSG_CLIPBOARD_SET payload to the peer transport.
func NewClipboardBridge(sys SystemClipboard, send func([]byte) error) *ClipboardBridge {
	return &ClipboardBridge{sys: sys, send: send}
}

// Watch starts the poll loop; stops when done is closed.
func (b *ClipboardBridge) Watch(done <-chan struct{}) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(clipboardPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				b.pollOnce()
			}
		}
	}()
}

func (b *ClipboardBridge) pollOnce() {
	kind, data, err := b.sys.Read()
	if err != nil {
		return // transient: skip this poll, no disconnect
	}
	h := contentHash(kind, data)

	b.mu.Lock()
	if h == b.lastHash {
		b.mu.Unlock()
		return
	}
	b.lastHash = h
	b.mu.Unlock()

	if err := b.sendUpdate(kind, data); err != nil {
		clipboardLog.Warn("failed to send clipboard update", "error", err)
	}
}

func (b *ClipboardBridge) sendUpdate(kind ClipboardKind, data []byte) error {
	limit := MaxClipboardText
	if kind == ClipboardImage {
		limit = MaxClipboardImg
	}
	if len(data) > limit {
		return ErrClipboardTooLarge
	}

	buf := make([]byte, 4+1+4+len(data))
	binary.LittleEndian.PutUint32(buf[0:4], MagicClipboardSet)
	buf[4] = byte(kind)
	binary.LittleEndian.PutUint32(buf[5:9], uint32(len(data)))
	copy(buf[9:], data)
	return b.send(buf)
}

// HandleIncoming writes a peer-originated clipboard update through to the
// local system clipboard and updates the echo-suppression hash.
func (b *ClipboardBridge) HandleIncoming(payload []byte) error {
	if len(payload) < 5 {
		return fmt.Errorf("clipboard: short payload (%d bytes)", len(payload))
	}
	kind := ClipboardKind(payload[0])
	n := binary.LittleEndian.Uint32(payload[1:5])
	if int(n) != len(payload)-5 {
		return fmt.Errorf("clipboard: length mismatch (declared %d, have %d)", n, len(payload)-5)
	}
	data := payload[5:]

	limit := MaxClipboardText
	if kind == ClipboardImage {
		limit = MaxClipboardImg
	}
	if len(data) > limit {
		return ErrClipboardTooLarge
	}

	b.mu.Lock()
	b.lastHash = contentHash(kind, data)
	b.mu.Unlock()

	return b.sys.Write(kind, data)
}

func contentHash(kind ClipboardKind, data []byte) uint64 {
	// FNV-1a, inline to avoid importing hash/fnv for one call site.
	var h uint64 = 14695981039346656037
	h ^= uint64(kind)
	h *= 1099511628211
	for _, c := range data {
		h ^= uint64(c)
		h *= 1099511628211
	}
	return h
}
