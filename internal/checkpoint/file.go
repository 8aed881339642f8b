package checkpoint

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/mehmetymw/binlogha/internal/types"
)

const fileName = "checkpoint"

type FileStore struct {
	cursorHolder
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	logger.Debug("Creating file checkpoint store", zap.String("dir", dir))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Trace(err)
	}
	return &FileStore{path: filepath.Join(dir, fileName), logger: logger}, nil
}

func (f *FileStore) Save(cp types.Checkpoint) error {
	if cp.IsZero() {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.logger.Debug("Saving checkpoint to file",
		zap.String("path", f.path),
		zap.Stringer("checkpoint", cp))
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(cp.String()), 0o644); err != nil {
		return errors.Trace(err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return errors.Trace(err)
	}
	f.remember(cp)
	return nil
}

func (f *FileStore) Load() (types.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		f.logger.Info("No checkpoint file yet", zap.String("path", f.path))
		return types.Checkpoint{}, nil
	}
	if err != nil {
		return types.Checkpoint{}, errors.Trace(err)
	}
	cp, err := types.ParseCheckpoint(string(b))
	if err != nil {
		return types.Checkpoint{}, err
	}
	f.remember(cp)
	return cp, nil
}
