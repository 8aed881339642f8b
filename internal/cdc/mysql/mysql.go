package mysql

import (
	"context"
	"sync"
	"time"

	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/mehmetymw/binlogha/internal/config"
	"github.com/mehmetymw/binlogha/internal/dispatch"
	"github.com/mehmetymw/binlogha/internal/types"
)

const firstEventPos = 4

// Consumer reads the stream until ctx is done or the stream fails.
type Consumer interface {
	Run(ctx context.Context, src dispatch.Source) error
}

// BinlogCDC streams binlog events from the upstream MySQL and tracks the
// position of the last event handed out.
type BinlogCDC struct {
	cfg    config.SourceConfig
	logger *zap.Logger

	mu       sync.RWMutex
	pos      types.Checkpoint
	syncer   *replication.BinlogSyncer
	streamer *replication.BinlogStreamer
	stopCh   chan struct{}
	stopOnce sync.Once
}

func New(cfg config.SourceConfig, logger *zap.Logger) *BinlogCDC {
	logger.Info("Creating binlog source",
		zap.String("host", cfg.Host),
		zap.Uint16("port", cfg.Port),
		zap.String("user", cfg.User),
		zap.Uint32("server_id", cfg.ServerID),
		zap.String("flavor", cfg.Flavor))
	return &BinlogCDC{cfg: cfg, logger: logger, stopCh: make(chan struct{})}
}

// Run streams from `from` into consumer, restarting from the last handed out
// position after failures until Stop is called or ctx is done.
func (b *BinlogCDC) Run(ctx context.Context, from types.Checkpoint, consumer Consumer) {
	b.logger.Info("Starting binlog replication", zap.Stringer("checkpoint", from))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-b.stopCh:
			b.logger.Info("Stop signal received, canceling context")
			cancel()
		case <-ctx.Done():
		}
	}()

	b.setPosition(from)
	for {
		err := b.run(ctx, consumer)
		if ctx.Err() != nil {
			b.logger.Info("Context canceled, stopping replication")
			return
		}
		b.logger.Error("Replication failed, retrying in 5s",
			zap.Stringer("checkpoint", b.Position()),
			zap.Error(err))
		select {
		case <-time.After(5 * time.Second):
			b.logger.Info("Retrying replication after 5s delay")
		case <-ctx.Done():
			b.logger.Info("Context canceled, stopping replication")
			return
		}
	}
}

func (b *BinlogCDC) Stop() {
	b.stopOnce.Do(func() {
		b.logger.Info("Stopping binlog source")
		close(b.stopCh)
	})
}

func (b *BinlogCDC) run(ctx context.Context, consumer Consumer) error {
	pos := b.Position()
	if pos.IsZero() {
		pos.Offset = firstEventPos
	}
	syncer := replication.NewBinlogSyncer(replication.BinlogSyncerConfig{
		ServerID: b.cfg.ServerID,
		Flavor:   b.cfg.Flavor,
		Host:     b.cfg.Host,
		Port:     b.cfg.Port,
		User:     b.cfg.User,
		Password: b.cfg.Password,
	})
	defer syncer.Close()

	streamer, err := syncer.StartSync(pos.Position())
	if err != nil {
		return errors.Annotatef(err, "start sync at %s", pos)
	}
	b.mu.Lock()
	b.syncer, b.streamer = syncer, streamer
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.syncer, b.streamer = nil, nil
		b.mu.Unlock()
	}()

	b.logger.Info("Started binlog replication", zap.Stringer("checkpoint", pos))
	return consumer.Run(ctx, b)
}

// GetEvent returns the next event and advances the tracked position past it.
func (b *BinlogCDC) GetEvent(ctx context.Context) (*replication.BinlogEvent, error) {
	b.mu.RLock()
	streamer := b.streamer
	b.mu.RUnlock()
	if streamer == nil {
		return nil, errors.New("binlog stream not started")
	}

	ev, err := streamer.GetEvent(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	b.advance(ev)
	return ev, nil
}

func (b *BinlogCDC) advance(ev *replication.BinlogEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rotate, ok := ev.Event.(*replication.RotateEvent); ok {
		b.pos = types.Checkpoint{LogName: string(rotate.NextLogName), Offset: uint32(rotate.Position)}
		b.logger.Info("Binlog rotated", zap.Stringer("checkpoint", b.pos))
		return
	}
	if ev.Header != nil && ev.Header.LogPos > 0 {
		b.pos.Offset = ev.Header.LogPos
	}
}

func (b *BinlogCDC) setPosition(cp types.Checkpoint) {
	b.mu.Lock()
	b.pos = cp
	b.mu.Unlock()
}

// Position is the position right after the last event handed out.
func (b *BinlogCDC) Position() types.Checkpoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.pos
}
