package heartbeat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/mehmetymw/binlogha/internal/checkpoint"
	"github.com/mehmetymw/binlogha/internal/metrics"
	"github.com/mehmetymw/binlogha/internal/types"
)

// Arbiter decides which replica is active.
type Arbiter interface {
	Status() types.ReplicaStatus
	TryBecomeSlave(ctx context.Context) bool
	TryBecomeMaster(ctx context.Context) bool
}

// PromoteFunc starts streaming from cp once this replica became MASTER.
type PromoteFunc func(ctx context.Context, cp types.Checkpoint)

// Handler runs the heartbeat state machine. Exchanges and idle triggers are
// serialized on one mutex so a takeover never interleaves with a REPORT.
type Handler struct {
	mu        sync.Mutex
	arbiter   Arbiter
	store     checkpoint.Store
	logger    *zap.Logger
	onPromote PromoteFunc

	tracked  types.Checkpoint
	lastBeat atomic.Int64
	beats    atomic.Int64
}

func NewHandler(arb Arbiter, store checkpoint.Store, logger *zap.Logger) *Handler {
	h := &Handler{arbiter: arb, store: store, logger: logger}
	h.lastBeat.Store(time.Now().UnixNano())
	return h
}

// OnPromote sets the hook run after a successful takeover. Set it before
// serving exchanges.
func (h *Handler) OnPromote(fn PromoteFunc) {
	h.mu.Lock()
	h.onPromote = fn
	h.mu.Unlock()
}

// HandleRaw decodes one request and answers it; malformed input gets UNKNOWN.
func (h *Handler) HandleRaw(ctx context.Context, body []byte) Message {
	req, err := Decode(body)
	if err != nil {
		h.logger.Warn("Malformed heartbeat", zap.Error(err))
		metrics.HeartbeatsTotal.WithLabelValues("in", string(KindUnknown)).Inc()
		return Unknown()
	}
	return h.Handle(ctx, req)
}

func (h *Handler) Handle(ctx context.Context, req Message) Message {
	resp := h.handle(ctx, req)
	metrics.HeartbeatsTotal.WithLabelValues("in", string(resp.Kind)).Inc()
	return resp
}

func (h *Handler) handle(ctx context.Context, req Message) Message {
	if req.Kind != KindReport {
		h.logger.Debug("Unexpected heartbeat type", zap.String("type", string(req.Kind)))
		return Unknown()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastBeat.Store(time.Now().UnixNano())
	h.beats.Inc()
	h.logger.Info("Heartbeat received",
		zap.String("binlog", req.LogName),
		zap.Uint32("position", req.Offset))

	switch h.arbiter.Status() {
	case types.StatusSlave:
		h.track(req)
		return Ack()
	case types.StatusMaster:
		return Master()
	}

	if !h.arbiter.TryBecomeSlave(ctx) {
		return Unknown()
	}
	h.logger.Info("Changed status to SLAVE")
	h.track(req)
	return Ack()
}

// track must be called with h.mu held.
func (h *Handler) track(req Message) {
	if req.LogName == "" {
		return
	}
	cp := req.Checkpoint()
	h.tracked = cp
	if err := h.store.Save(cp); err != nil {
		metrics.CheckpointErrorsTotal.Inc()
		h.logger.Error("Failed to save reported checkpoint",
			zap.Stringer("checkpoint", cp),
			zap.Error(err))
	}
}

// OnReaderIdle takes over when the master has been silent for the idle window.
// Only a SLAVE acts; the result reports whether this replica became MASTER.
func (h *Handler) OnReaderIdle(ctx context.Context) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.arbiter.Status() != types.StatusSlave {
		return false
	}
	h.logger.Info("Master is down, take over",
		zap.Time("last_beat", h.LastBeat()))
	return h.takeOver(ctx)
}

// Bootstrap claims MASTER when no replica has reported since startup.
func (h *Handler) Bootstrap(ctx context.Context) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.arbiter.Status() != types.StatusUnknown || h.beats.Load() > 0 {
		return false
	}
	h.logger.Info("No master reported since startup, trying MASTER")
	return h.takeOver(ctx)
}

// takeOver must be called with h.mu held.
func (h *Handler) takeOver(ctx context.Context) bool {
	cp, err := h.store.Load()
	if err != nil {
		h.logger.Error("Failed to load checkpoint, staying put", zap.Error(err))
		metrics.FailoversTotal.WithLabelValues("error").Inc()
		return false
	}

	if !h.arbiter.TryBecomeMaster(ctx) {
		h.logger.Info("Trying MASTER failed", zap.Stringer("status", h.arbiter.Status()))
		metrics.FailoversTotal.WithLabelValues("lost").Inc()
		return false
	}
	h.logger.Info("Status changed to MASTER", zap.Stringer("checkpoint", cp))
	metrics.FailoversTotal.WithLabelValues("ok").Inc()
	if h.onPromote != nil {
		h.onPromote(ctx, cp)
	}
	return true
}

// Report builds the REPORT a MASTER sends when its writer has been idle.
func (h *Handler) Report() (Message, bool) {
	if h.arbiter.Status() != types.StatusMaster {
		return Message{}, false
	}
	cp := h.store.Extract()
	if cp.IsZero() {
		loaded, err := h.store.Load()
		if err != nil {
			h.logger.Warn("Failed to load checkpoint for report", zap.Error(err))
		}
		cp = loaded
	}
	return Report(cp), true
}

func (h *Handler) LastBeat() time.Time {
	return time.Unix(0, h.lastBeat.Load())
}

// Tracked is the latest checkpoint reported by the master.
func (h *Handler) Tracked() types.Checkpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tracked
}

func (h *Handler) Status() types.ReplicaStatus {
	return h.arbiter.Status()
}
