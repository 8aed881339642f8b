package node

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mehmetymw/binlogha/internal/cdc/mysql"
	"github.com/mehmetymw/binlogha/internal/checkpoint"
	"github.com/mehmetymw/binlogha/internal/dispatch"
	"github.com/mehmetymw/binlogha/internal/heartbeat"
	"github.com/mehmetymw/binlogha/internal/types"
)

// Streamer is the binlog source a MASTER runs.
type Streamer interface {
	Run(ctx context.Context, from types.Checkpoint, consumer mysql.Consumer)
	Stop()
	Position() types.Checkpoint
}

// Node ties arbitration, heartbeats and the dispatch engine together: the
// binlog stream only runs while this replica is MASTER.
type Node struct {
	name    string
	arbiter heartbeat.Arbiter
	store   checkpoint.Store
	engine  *dispatch.Engine
	source  Streamer
	handler *heartbeat.Handler
	logger  *zap.Logger

	mu        sync.Mutex
	streaming bool
	since     time.Time
	wg        sync.WaitGroup
}

func New(name string, arb heartbeat.Arbiter, store checkpoint.Store, engine *dispatch.Engine, source Streamer, logger *zap.Logger) *Node {
	n := &Node{
		name:    name,
		arbiter: arb,
		store:   store,
		engine:  engine,
		source:  source,
		logger:  logger.With(zap.String("node", name)),
		since:   time.Now(),
	}
	n.handler = heartbeat.NewHandler(arb, store, n.logger)
	n.handler.OnPromote(n.promote)
	return n
}

func (n *Node) Handler() *heartbeat.Handler {
	return n.handler
}

// promote starts streaming from cp. It runs under the handler lock and must
// not block.
func (n *Node) promote(ctx context.Context, cp types.Checkpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.streaming {
		return
	}
	n.streaming = true

	if a, ok := n.store.(checkpoint.Attacher); ok {
		a.Attach(n.source)
	}
	n.logger.Info("Acting as stream source", zap.Stringer("checkpoint", cp))
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.source.Run(ctx, cp, n.engine)
		n.logger.Info("Binlog source stopped")
	}()
}

func (n *Node) Streaming() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.streaming
}

// Stop halts the stream, if any, and waits for it to finish.
func (n *Node) Stop() {
	n.source.Stop()
	n.wg.Wait()
}

type Health struct {
	Node       string `json:"node"`
	Status     string `json:"status"`
	Streaming  bool   `json:"streaming"`
	Checkpoint string `json:"checkpoint"`
	LastBeat   string `json:"last_beat"`
	Events     int64  `json:"events"`
	Dispatched int64  `json:"dispatched"`
	Failed     int64  `json:"failed"`
	Uptime     string `json:"uptime"`
}

func (n *Node) Health() Health {
	st := n.engine.Status()
	return Health{
		Node:       n.name,
		Status:     n.arbiter.Status().String(),
		Streaming:  n.Streaming(),
		Checkpoint: st.Checkpoint.String(),
		LastBeat:   n.handler.LastBeat().Format(time.RFC3339),
		Events:     st.Events,
		Dispatched: st.Dispatched,
		Failed:     st.Failed,
		Uptime:     time.Since(n.since).Truncate(time.Second).String(),
	}
}
