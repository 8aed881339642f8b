package checkpoint

import (
	"sync"

	"github.com/mehmetymw/binlogha/internal/types"
)

// Store persists stream positions. Implementations serialize their own writes.
type Store interface {
	Save(cp types.Checkpoint) error
	Load() (types.Checkpoint, error)
	// Extract derives the current position from the live stream cursor.
	Extract() types.Checkpoint
}

// Cursor reports the position of a running binlog stream.
type Cursor interface {
	Position() types.Checkpoint
}

// Attacher is implemented by stores whose Extract follows a live stream.
type Attacher interface {
	Attach(c Cursor)
}

type cursorHolder struct {
	cmu    sync.RWMutex
	cursor Cursor
	last   types.Checkpoint
}

// Attach binds the live stream cursor used by Extract. Passing nil detaches it.
func (h *cursorHolder) Attach(c Cursor) {
	h.cmu.Lock()
	h.cursor = c
	h.cmu.Unlock()
}

func (h *cursorHolder) remember(cp types.Checkpoint) {
	h.cmu.Lock()
	h.last = cp
	h.cmu.Unlock()
}

// Extract falls back to the last saved or loaded position while no stream is attached.
func (h *cursorHolder) Extract() types.Checkpoint {
	h.cmu.RLock()
	defer h.cmu.RUnlock()
	if h.cursor != nil {
		return h.cursor.Position()
	}
	return h.last
}
