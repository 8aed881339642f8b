package checkpoint

import (
	stderrors "errors"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/mehmetymw/binlogha/internal/types"
)

var checkpointKey = []byte("binlogha/checkpoint")

type PebbleStore struct {
	cursorHolder
	mu     sync.Mutex
	db     *pebble.DB
	logger *zap.Logger
}

func NewPebbleStore(dir string, logger *zap.Logger) (*PebbleStore, error) {
	logger.Info("Opening pebble checkpoint store", zap.String("dir", dir))
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Annotatef(err, "open pebble at %s", dir)
	}
	return &PebbleStore{db: db, logger: logger}, nil
}

func (p *PebbleStore) Save(cp types.Checkpoint) error {
	if cp.IsZero() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.logger.Debug("Saving checkpoint to pebble", zap.Stringer("checkpoint", cp))
	if err := p.db.Set(checkpointKey, []byte(cp.String()), pebble.Sync); err != nil {
		return errors.Trace(err)
	}
	p.remember(cp)
	return nil
}

func (p *PebbleStore) Load() (types.Checkpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	v, closer, err := p.db.Get(checkpointKey)
	if stderrors.Is(err, pebble.ErrNotFound) {
		p.logger.Info("No checkpoint stored yet")
		return types.Checkpoint{}, nil
	}
	if err != nil {
		return types.Checkpoint{}, errors.Trace(err)
	}
	raw := string(v)
	closer.Close()

	cp, err := types.ParseCheckpoint(raw)
	if err != nil {
		return types.Checkpoint{}, err
	}
	p.remember(cp)
	return cp, nil
}

func (p *PebbleStore) Close() error {
	p.logger.Info("Closing pebble checkpoint store")
	return errors.Trace(p.db.Close())
}
