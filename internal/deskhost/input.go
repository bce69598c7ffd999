package deskhost

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/lanternops/deskhost-host/internal/logging"
)

var inputLog = logging.L("input")

// Injector is the OS input-injection collaborator left external by this
// design. The Input Router decodes and clamps; Injector only knows how to
// move the cursor / press a key in absolute virtual-desktop coordinates.
type Injector interface {
	MoveAbsolute(vx, vy int32) error
	ButtonEvent(btn int, down bool) error
	Wheel(dx, dy int32) error
	KeyEvent(vkCode uint16, down bool, extended bool) error
}

// Rect is a monitor's pixel rectangle within the virtual desktop.
type Rect struct {
	X, Y, W, H int
}

// InputRouter decodes input messages, clamps normalized coordinates into
// the currently bound monitor, maps into the virtual desktop's absolute
// [0,65535] coordinate system, and dispatches to the Injector.
type InputRouter struct {
	mu       sync.RWMutex
	injector Injector
	bounds   Rect
	enabled  bool
	keymap   map[uint16]uint16 // client key-code namespace -> platform VK
	extended map[uint16]bool   // vk codes needing the extended-key flag
}

// NewInputRouter constructs a router with the default key mapping table.
func NewInputRouter(injector Injector) *InputRouter {
	return &InputRouter{
		injector: injector,
		enabled:  true,
		keymap:   defaultKeyMap,
		extended: defaultExtendedKeys,
	}
}

// SetBounds updates the monitor's pixel rectangle used for coordinate
// mapping, called by the Supervisor after a monitor switch.
func (r *InputRouter) SetBounds(rect Rect) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bounds = rect
}

// Enable/Disable toggle whether dispatched events reach the injector.
func (r *InputRouter) Enable() {
	r.mu.Lock()
	r.enabled = true
	r.mu.Unlock()
}

func (r *InputRouter) Disable() {
	r.mu.Lock()
	r.enabled = false
	r.mu.Unlock()
}

// MouseMove clamps normalized [0,1] coordinates, maps them into the bound
// monitor's pixel rect, then into the virtual desktop's [0,65535] space.
func (r *InputRouter) MouseMove(nx, ny float64) error {
	r.mu.RLock()
	enabled, bounds := r.enabled, r.bounds
	r.mu.RUnlock()
	if !enabled {
		return nil
	}
	vx, vy := normalizedToVirtual(nx, ny, bounds)
	return r.injector.MoveAbsolute(vx, vy)
}

// MouseButton dispatches a button event; button index space is
// {0:left, 1:right, 2:middle, 3:X1, 4:X2}; any other index is rejected.
func (r *InputRouter) MouseButton(btn int, down bool) error {
	if btn < 0 || btn > 4 {
		return ErrInvalidButton
	}
	r.mu.RLock()
	enabled := r.enabled
	r.mu.RUnlock()
	if !enabled {
		return nil
	}
	return r.injector.ButtonEvent(btn, down)
}

// MouseWheel dispatches a scroll delta.
func (r *InputRouter) MouseWheel(dx, dy int32) error {
	r.mu.RLock()
	enabled := r.enabled
	r.mu.RUnlock()
	if !enabled {
		return nil
	}
	return r.injector.Wheel(dx, dy)
}

// Key translates a client key code through the fixed mapping table into
// the platform's virtual-key namespace; unknown codes are logged and
// dropped. The extended-key flag is set for nav/arrow/numpad-divide/
// numlock/win/apps keys.
func (r *InputRouter) Key(code uint16, down bool) error {
	r.mu.RLock()
	enabled := r.enabled
	vk, known := r.keymap[code]
	ext := r.extended[vk]
	r.mu.RUnlock()
	if !enabled {
		return nil
	}
	if !known {
		inputLog.Debug("unknown client key code, dropping", "code", code)
		return nil
	}
	return r.injector.KeyEvent(vk, down, ext)
}

// WiggleCenter dispatches three absolute moves to nudge the cursor,
// nudging a stalled encoder into emitting a keyframe when content is
// otherwise static. Used by the Supervisor after (re)authentication or a
// monitor switch.
func (r *InputRouter) WiggleCenter() error {
	r.mu.RLock()
	bounds := r.bounds
	r.mu.RUnlock()

	cx, cy := normalizedToVirtual(0.5, 0.5, bounds)
	moves := [][2]int32{{cx - 1, cy}, {cx + 1, cy}, {cx, cy}}
	for _, m := range moves {
		if err := r.injector.MoveAbsolute(m[0], m[1]); err != nil {
			return err
		}
	}
	return nil
}

func normalizedToVirtual(nx, ny float64, bounds Rect) (int32, int32) {
	nx = math.Max(0, math.Min(1, nx))
	ny = math.Max(0, math.Min(1, ny))
	px := bounds.X + int(nx*float64(bounds.W))
	py := bounds.Y + int(ny*float64(bounds.H))
	// Map pixel coordinates into the virtual desktop's absolute [0,65535]
	// space. Without true virtual-desktop pixel extents available here
	// (an external collaborator concern), the bound rect IS the virtual
	// desktop extent by convention: callers pass the full virtual desktop
	// rect in SetBounds when there is only one monitor, or the monitor's
	// absolute offset+size within it otherwise.
	vx := int32(0)
	vy := int32(0)
	if bounds.W > 0 {
		vx = int32(px * 65535 / bounds.W)
	}
	if bounds.H > 0 {
		vy = int32(py * 65535 / bounds.H)
	}
	return vx, vy
}

// HandleMessage decodes one control-plane mouse/key message and dispatches
// it. Magic-prefixed, 4-byte little-endian magic followed by a fixed-shape
// payload per message type.
func (r *InputRouter) HandleMessage(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("input: message too short (%d bytes)", len(data))
	}
	magic := binary.LittleEndian.Uint32(data[0:4])
	body := data[4:]

	switch magic {
	case MagicMouseMove:
		if len(body) < 8 {
			return fmt.Errorf("input: mouse_move short body")
		}
		nx := math.Float32frombits(binary.LittleEndian.Uint32(body[0:4]))
		ny := math.Float32frombits(binary.LittleEndian.Uint32(body[4:8]))
		return r.MouseMove(float64(nx), float64(ny))
	case MagicMouseBtn:
		if len(body) < 2 {
			return fmt.Errorf("input: mouse_btn short body")
		}
		return r.MouseButton(int(body[0]), body[1] != 0)
	case MagicMouseWheel:
		if len(body) < 8 {
			return fmt.Errorf("input: mouse_wheel short body")
		}
		dx := int32(binary.LittleEndian.Uint32(body[0:4]))
		dy := int32(binary.LittleEndian.Uint32(body[4:8]))
		return r.MouseWheel(dx, dy)
	case MagicKey:
		if len(body) < 3 {
			return fmt.Errorf("input: key short body")
		}
		code := binary.LittleEndian.Uint16(body[0:2])
		return r.Key(code, body[2] != 0)
	default:
		return fmt.Errorf("input: unknown magic 0x%08x", magic)
	}
}

// defaultKeyMap is a representative subset of the client key-code
// namespace to platform virtual-key namespace translation. A real
// deployment extends this table with the full client keyboard layout; the
// shape — a static lookup, not runtime dispatch — is what matters here.
var defaultKeyMap = buildDefaultKeyMap()

// defaultExtendedKeys lists the platform VK codes requiring the
// extended-key flag: nav/arrow/numpad-divide/numlock/win/apps.
var defaultExtendedKeys = buildDefaultExtendedKeys()

func buildDefaultKeyMap() map[uint16]uint16 {
	m := make(map[uint16]uint16, 128)
	for c := 'a'; c <= 'z'; c++ {
		m[uint16(c)] = uint16(c - 'a' + 0x41) // VK_A..VK_Z
	}
	for d := '0'; d <= '9'; d++ {
		m[uint16(d)] = uint16(d - '0' + 0x30) // VK_0..VK_9
	}
	const (
		clientBackspace = 0x100
		clientTab       = 0x101
		clientEnter     = 0x102
		clientShift     = 0x103
		clientCtrl      = 0x104
		clientAlt       = 0x105
		clientEscape    = 0x106
		clientSpace     = 0x107
		clientLeft      = 0x108
		clientUp        = 0x109
		clientRight     = 0x10A
		clientDown      = 0x10B
		clientDelete    = 0x10C
		clientHome      = 0x10D
		clientEnd       = 0x10E
		clientWin       = 0x10F
		clientNumDivide = 0x110
		clientNumLock   = 0x111
		clientApps      = 0x112
	)
	m[clientBackspace] = 0x08
	m[clientTab] = 0x09
	m[clientEnter] = 0x0D
	m[clientShift] = 0x10
	m[clientCtrl] = 0x11
	m[clientAlt] = 0x12
	m[clientEscape] = 0x1B
	m[clientSpace] = 0x20
	m[clientLeft] = 0x25
	m[clientUp] = 0x26
	m[clientRight] = 0x27
	m[clientDown] = 0x28
	m[clientDelete] = 0x2E
	m[clientHome] = 0x24
	m[clientEnd] = 0x23
	m[clientWin] = 0x5B
	m[clientNumDivide] = 0x6F
	m[clientNumLock] = 0x90
	m[clientApps] = 0x5D
	return m
}

func buildDefaultExtendedKeys() map[uint16]bool {
	return map[uint16]bool{
		0x25: true, // left
		0x26: true, // up
		0x27: true, // right
		0x28: true, // down
		0x2E: true, // delete
		0x24: true, // home
		0x23: true, // end
		0x5B: true, // win
		0x5D: true, // apps
		0x6F: true, // numpad divide
		0x90: true, // numlock
	}
}
