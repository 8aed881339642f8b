package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/mehmetymw/binlogha/internal/checkpoint"
	"github.com/mehmetymw/binlogha/internal/metrics"
	"github.com/mehmetymw/binlogha/internal/schema"
	"github.com/mehmetymw/binlogha/internal/types"
	"github.com/mehmetymw/binlogha/internal/util"
)

// Source hands out decoded binlog events in source order.
type Source interface {
	GetEvent(ctx context.Context) (*replication.BinlogEvent, error)
}

// Correlation carries the table identity announced by the last TABLE_MAP
// event until the next row event consumes it.
type Correlation struct {
	Database string
	Table    string
}

func (c Correlation) Empty() bool {
	return c.Database == "" || c.Table == ""
}

func (c *Correlation) Reset() {
	*c = Correlation{}
}

// Engine correlates TABLE_MAP events with row events and hands the resulting
// records to the subscriber registered for the table. Delivery is synchronous,
// so a slow subscriber stalls the whole stream.
type Engine struct {
	store   checkpoint.Store
	schemas schema.Registry
	logger  *zap.Logger

	mu          sync.RWMutex
	subscribers map[string]types.Subscriber

	events     atomic.Int64
	dispatched atomic.Int64
	failed     atomic.Int64
}

func NewEngine(store checkpoint.Store, schemas schema.Registry, logger *zap.Logger) *Engine {
	return &Engine{
		store:       store,
		schemas:     schemas,
		logger:      logger,
		subscribers: make(map[string]types.Subscriber),
	}
}

func subscriberKey(database, table string) string {
	return database + ":" + table
}

// Register binds sub to database.table, replacing any earlier subscriber.
func (e *Engine) Register(database, table string, sub types.Subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers[subscriberKey(database, table)] = sub
	e.logger.Info("Registered subscriber",
		zap.String("database", database),
		zap.String("table", table))
}

func (e *Engine) subscriber(database, table string) types.Subscriber {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.subscribers[subscriberKey(database, table)]
}

// Run consumes src until ctx is done or src fails.
func (e *Engine) Run(ctx context.Context, src Source) error {
	e.logger.Info("Starting dispatch loop")
	var corr Correlation
	for {
		ev, err := src.GetEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				e.logger.Info("Dispatch loop stopped", zap.Int64("events", e.events.Load()))
				return nil
			}
			return errors.Annotate(err, "read binlog event")
		}
		e.Process(ctx, &corr, ev)
	}
}

// Process handles one event. The stream position is saved before the event is
// handled, so a crash may drop this event but never delivers it twice.
func (e *Engine) Process(ctx context.Context, corr *Correlation, ev *replication.BinlogEvent) {
	e.events.Inc()
	cp := e.store.Extract()
	if err := e.store.Save(cp); err != nil {
		metrics.CheckpointErrorsTotal.Inc()
		e.logger.Error("Failed to save checkpoint",
			zap.Stringer("checkpoint", cp),
			zap.Error(err))
	}

	typ := ev.Header.EventType
	metrics.EventsTotal.WithLabelValues(typ.String()).Inc()
	e.logger.Debug("Binlog event", zap.Stringer("type", typ))

	if typ == replication.TABLE_MAP_EVENT {
		tm, ok := ev.Event.(*replication.TableMapEvent)
		if !ok {
			e.logger.Warn("TABLE_MAP event without table map payload",
				zap.String("payload", fmt.Sprintf("%T", ev.Event)))
			return
		}
		corr.Database = string(tm.Schema)
		corr.Table = string(tm.Table)
		return
	}

	kind, ok := changeKind(typ)
	if !ok {
		return
	}
	e.dispatch(ctx, corr, kind, ev)
}

func (e *Engine) dispatch(ctx context.Context, corr *Correlation, kind types.ChangeKind, ev *replication.BinlogEvent) {
	defer corr.Reset()

	if corr.Empty() {
		metrics.DispatchTotal.WithLabelValues("no_metadata").Inc()
		e.logger.Error("No table map event before row event", zap.String("kind", string(kind)))
		return
	}

	sub := e.subscriber(corr.Database, corr.Table)
	if sub == nil {
		metrics.DispatchTotal.WithLabelValues("unsubscribed").Inc()
		e.logger.Debug("Skipping row event for table without subscriber",
			zap.String("database", corr.Database),
			zap.String("table", corr.Table))
		return
	}

	e.logger.Info("Trigger row event",
		zap.String("database", corr.Database),
		zap.String("table", corr.Table),
		zap.String("kind", string(kind)))

	if err := e.deliver(ctx, *corr, kind, ev, sub); err != nil {
		e.failed.Inc()
		metrics.DispatchTotal.WithLabelValues("failed").Inc()
		e.logger.Error("Failed to dispatch row event",
			zap.String("database", corr.Database),
			zap.String("table", corr.Table),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
}

func (e *Engine) deliver(ctx context.Context, corr Correlation, kind types.ChangeKind, ev *replication.BinlogEvent, sub types.Subscriber) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic while dispatching: %v", r)
		}
	}()

	table, ok := e.schemas.Table(corr.Table)
	if !ok {
		metrics.DispatchTotal.WithLabelValues("no_schema").Inc()
		e.logger.Warn("Table schema not found", zap.String("table", corr.Table))
		return nil
	}

	rows, err := afterImages(kind, ev.Event)
	if err != nil {
		return err
	}
	after := project(table, rows)

	e.logger.Debug("Built change record",
		zap.String("table", table.Name),
		zap.Strings("columns", util.SortedKeys(after)))

	if err := sub.OnEvent(ctx, types.ChangeRecord{Table: table, Kind: kind, After: after}); err != nil {
		return errors.Annotate(err, "subscriber")
	}
	e.dispatched.Inc()
	metrics.DispatchTotal.WithLabelValues("ok").Inc()
	return nil
}

// EngineStatus is a snapshot of the engine counters and stream position.
type EngineStatus struct {
	Events     int64
	Dispatched int64
	Failed     int64
	Checkpoint types.Checkpoint
}

func (e *Engine) Status() EngineStatus {
	return EngineStatus{
		Events:     e.events.Load(),
		Dispatched: e.dispatched.Load(),
		Failed:     e.failed.Load(),
		Checkpoint: e.store.Extract(),
	}
}
