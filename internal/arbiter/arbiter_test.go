package arbiter

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/mehmetymw/binlogha/internal/types"
)

type failingLock struct{}

func (failingLock) TryAcquire(context.Context, Role) (bool, error) {
	return false, errors.New("lock service unavailable")
}

func (failingLock) Release(context.Context, Role) error { return nil }

func (failingLock) Close() error { return nil }

func race(t *testing.T, n int, attempt func() bool) int {
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		wins  atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if attempt() {
				wins.Inc()
			}
		}()
	}
	close(start)
	wg.Wait()
	return int(wins.Load())
}

func TestConcurrentTryBecomeSlave(t *testing.T) {
	s := New(NewLocalLock(), zap.NewNop())
	require.Equal(t, types.StatusUnknown, s.Status())

	wins := race(t, 64, func() bool { return s.TryBecomeSlave(context.Background()) })
	require.Equal(t, 1, wins)
	require.Equal(t, types.StatusSlave, s.Status())
}

func TestConcurrentTryBecomeMaster(t *testing.T) {
	lock := NewLocalLock()
	replicas := make([]*Service, 8)
	for i := range replicas {
		replicas[i] = New(lock, zap.NewNop())
	}
	var i atomic.Int32
	wins := race(t, 64, func() bool {
		return replicas[int(i.Inc())%len(replicas)].TryBecomeMaster(context.Background())
	})
	require.Equal(t, 1, wins)
}

func TestConcurrentMixedTransitions(t *testing.T) {
	s := New(NewLocalLock(), zap.NewNop())
	var (
		i          atomic.Int32
		masterWins atomic.Int32
		slaveWins  atomic.Int32
	)
	race(t, 64, func() bool {
		if i.Inc()%2 == 0 {
			ok := s.TryBecomeMaster(context.Background())
			if ok {
				masterWins.Inc()
			}
			return ok
		}
		ok := s.TryBecomeSlave(context.Background())
		if ok {
			slaveWins.Inc()
		}
		return ok
	})
	require.Equal(t, int32(1), masterWins.Load())
	require.LessOrEqual(t, slaveWins.Load(), int32(1))
	require.Equal(t, types.StatusMaster, s.Status())
}

func TestMasterIsFinal(t *testing.T) {
	ctx := context.Background()
	s := New(NewLocalLock(), zap.NewNop())
	require.True(t, s.TryBecomeMaster(ctx))
	require.False(t, s.TryBecomeSlave(ctx))
	require.False(t, s.TryBecomeMaster(ctx))
	require.Equal(t, types.StatusMaster, s.Status())
}

func TestSlaveTakesOverFreeMasterRole(t *testing.T) {
	ctx := context.Background()
	s := New(NewLocalLock(), zap.NewNop())
	require.True(t, s.TryBecomeSlave(ctx))
	require.False(t, s.TryBecomeSlave(ctx))
	require.True(t, s.TryBecomeMaster(ctx))
	require.Equal(t, types.StatusMaster, s.Status())
}

func TestSlaveStaysWhileMasterRoleHeld(t *testing.T) {
	ctx := context.Background()
	lock := NewLocalLock()
	a := New(lock, zap.NewNop())
	b := New(lock, zap.NewNop())
	require.True(t, a.TryBecomeMaster(ctx))
	require.True(t, b.TryBecomeSlave(ctx))

	require.False(t, b.TryBecomeMaster(ctx))
	require.Equal(t, types.StatusSlave, b.Status())
}

func TestPromotionFreesSlaveRole(t *testing.T) {
	ctx := context.Background()
	lock := NewLocalLock()
	b := New(lock, zap.NewNop())
	require.True(t, b.TryBecomeSlave(ctx))

	// the old master is gone and its role free again
	require.True(t, b.TryBecomeMaster(ctx))

	rejoined := New(lock, zap.NewNop())
	require.True(t, rejoined.TryBecomeSlave(ctx))
	require.False(t, rejoined.TryBecomeMaster(ctx))
	require.Equal(t, types.StatusSlave, rejoined.Status())
}

func TestSharedLockAcrossReplicas(t *testing.T) {
	ctx := context.Background()
	lock := NewLocalLock()
	a := New(lock, zap.NewNop())
	b := New(lock, zap.NewNop())

	require.True(t, a.TryBecomeMaster(ctx))
	require.False(t, b.TryBecomeMaster(ctx))
	require.Equal(t, types.StatusUnknown, b.Status())
	require.True(t, b.TryBecomeSlave(ctx))
	require.Equal(t, types.StatusSlave, b.Status())
}

func TestLockErrorKeepsStatus(t *testing.T) {
	s := New(failingLock{}, zap.NewNop())
	require.False(t, s.TryBecomeSlave(context.Background()))
	require.False(t, s.TryBecomeMaster(context.Background()))
	require.Equal(t, types.StatusUnknown, s.Status())
}

func TestLocalLockRelease(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLock()
	ok, err := l.TryAcquire(ctx, RoleSlave)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = l.TryAcquire(ctx, RoleSlave)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, l.Release(ctx, RoleSlave))
	require.NoError(t, l.Release(ctx, RoleMaster))
	ok, err = l.TryAcquire(ctx, RoleSlave)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLocalLockCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err := NewLocalLock().TryAcquire(ctx, RoleMaster)
	require.Error(t, err)
	require.False(t, ok)
}
