package deskhost

// TextureSource is the GPU-backed capture collaborator: it delivers shared
// BGRA textures plus capture timestamps for one monitor. The Capture Stage
// owns the pool and the cadence; the source only knows how to fill one
// texture slot on demand.
type TextureSource interface {
	// Bind attaches the source to the given monitor index and pool size.
	Bind(monitorIndex int, poolSize int) error
	// CaptureInto fills the pool texture at poolIndex with the next
	// available frame. Returns the capture timestamp (µs since epoch) and
	// whether a new frame was actually produced (false means "no change
	// since last poll"; the Capture Stage then publishes nothing that tick).
	CaptureInto(poolIndex int) (captureTS int64, produced bool, err error)
	// Bounds reports the current monitor's pixel dimensions.
	Bounds() (width, height int, err error)
	// PixelsAt returns the BGRA bytes most recently captured into poolIndex.
	// Called by the encoder thread only after GPU Sync confirms that pool
	// texture's capture ticket has retired.
	PixelsAt(poolIndex int) ([]byte, error)
	// Close releases the pool and any device handles.
	Close() error
}

// TextureHandle identifies one pre-allocated texture in the capture pool by
// its pool index; it travels with the frame through the Frame Slot and
// Encoder Stage so the consumer can return it via FrameSlot.MarkReleased.
type TextureHandle struct {
	PoolIndex int
}
