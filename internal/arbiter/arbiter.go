package arbiter

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/mehmetymw/binlogha/internal/metrics"
	"github.com/mehmetymw/binlogha/internal/types"
)

type Role string

const (
	RoleMaster Role = "master"
	RoleSlave  Role = "slave"
)

// Lock grants a role to at most one replica. TryAcquire must not block waiting
// for a holder to release. Release gives up a role this replica holds and is a
// no-op otherwise.
type Lock interface {
	TryAcquire(ctx context.Context, role Role) (bool, error)
	Release(ctx context.Context, role Role) error
	Close() error
}

// Service is the replica status state machine. SLAVE is reachable from
// UNKNOWN only; MASTER from UNKNOWN or SLAVE, the latter being the failover
// path. MASTER is final. Each transition succeeds for exactly one caller.
type Service struct {
	mu     sync.Mutex
	status atomic.Int32
	lock   Lock
	logger *zap.Logger
}

func New(lock Lock, logger *zap.Logger) *Service {
	s := &Service{lock: lock, logger: logger}
	metrics.ReplicaStatus.Set(float64(types.StatusUnknown))
	return s
}

func (s *Service) Status() types.ReplicaStatus {
	return types.ReplicaStatus(s.status.Load())
}

func (s *Service) TryBecomeSlave(ctx context.Context) bool {
	return s.transit(ctx, RoleSlave, types.StatusSlave, types.StatusUnknown)
}

func (s *Service) TryBecomeMaster(ctx context.Context) bool {
	return s.transit(ctx, RoleMaster, types.StatusMaster, types.StatusUnknown, types.StatusSlave)
}

func (s *Service) transit(ctx context.Context, role Role, target types.ReplicaStatus, from ...types.ReplicaStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.Status()
	if !slices.Contains(from, current) {
		s.logger.Debug("Transition refused from current status",
			zap.Stringer("current", current),
			zap.Stringer("target", target))
		metrics.TransitionsTotal.WithLabelValues(target.String(), "refused").Inc()
		return false
	}

	ok, err := s.lock.TryAcquire(ctx, role)
	if err != nil {
		s.logger.Warn("Arbitration lock failed",
			zap.String("role", string(role)),
			zap.Error(err))
		metrics.TransitionsTotal.WithLabelValues(target.String(), "error").Inc()
		return false
	}
	if !ok {
		s.logger.Info("Arbitration lost, role held elsewhere", zap.String("role", string(role)))
		metrics.TransitionsTotal.WithLabelValues(target.String(), "lost").Inc()
		return false
	}

	if current == types.StatusSlave {
		// a promoted standby gives up the slave role
		if err := s.lock.Release(ctx, RoleSlave); err != nil {
			s.logger.Warn("Failed to release slave role", zap.Error(err))
		}
	}
	s.status.Store(int32(target))
	metrics.ReplicaStatus.Set(float64(target))
	metrics.TransitionsTotal.WithLabelValues(target.String(), "ok").Inc()
	s.logger.Info("Replica status changed",
		zap.Stringer("from", current),
		zap.Stringer("to", target))
	return true
}

func (s *Service) Close() error {
	return s.lock.Close()
}
