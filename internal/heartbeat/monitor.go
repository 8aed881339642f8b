package heartbeat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mehmetymw/binlogha/internal/types"
)

type MonitorConfig struct {
	ReaderIdle   time.Duration
	WriterIdle   time.Duration
	StartupGrace time.Duration
}

// Monitor drives the idle triggers: reader idle on a SLAVE that stopped
// hearing from the master, writer idle on a MASTER, and the startup bootstrap.
type Monitor struct {
	cfg      MonitorConfig
	handler  *Handler
	reporter *Reporter
	logger   *zap.Logger
}

func NewMonitor(cfg MonitorConfig, handler *Handler, reporter *Reporter, logger *zap.Logger) *Monitor {
	return &Monitor{cfg: cfg, handler: handler, reporter: reporter, logger: logger}
}

func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("Starting heartbeat monitor",
		zap.Duration("reader_idle", m.cfg.ReaderIdle),
		zap.Duration("writer_idle", m.cfg.WriterIdle),
		zap.Duration("startup_grace", m.cfg.StartupGrace))

	tick := m.cfg.ReaderIdle / 4
	if m.cfg.WriterIdle < m.cfg.ReaderIdle {
		tick = m.cfg.WriterIdle / 4
	}
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	start := time.Now()
	lastReaderFire := start
	lastBootstrap := start
	lastWrite := time.Time{}

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Heartbeat monitor stopped")
			return
		case now := <-ticker.C:
			switch m.handler.Status() {
			case types.StatusSlave:
				ref := m.handler.LastBeat()
				if lastReaderFire.After(ref) {
					ref = lastReaderFire
				}
				if now.Sub(ref) >= m.cfg.ReaderIdle {
					lastReaderFire = now
					m.handler.OnReaderIdle(ctx)
				}
			case types.StatusMaster:
				if m.reporter != nil && now.Sub(lastWrite) >= m.cfg.WriterIdle {
					lastWrite = now
					m.reporter.OnWriterIdle(ctx)
				}
			case types.StatusUnknown:
				if now.Sub(lastBootstrap) >= m.cfg.StartupGrace {
					lastBootstrap = now
					m.handler.Bootstrap(ctx)
				}
			}
		}
	}
}
