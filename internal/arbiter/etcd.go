package arbiter

import (
	"context"
	"path"
	"sync"

	"github.com/pingcap/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"
)

// EtcdLock holds one etcd mutex per role under prefix, bound to a lease that
// expires when this replica stops refreshing it.
type EtcdLock struct {
	mu      sync.Mutex
	session *concurrency.Session
	prefix  string
	held    map[Role]*concurrency.Mutex
	logger  *zap.Logger
}

func NewEtcdLock(cli *clientv3.Client, prefix string, ttlSeconds int, logger *zap.Logger) (*EtcdLock, error) {
	sess, err := concurrency.NewSession(cli, concurrency.WithTTL(ttlSeconds))
	if err != nil {
		return nil, errors.Annotate(err, "create etcd session")
	}
	logger.Info("Created etcd arbitration session",
		zap.String("prefix", prefix),
		zap.Int64("lease", int64(sess.Lease())),
		zap.Int("ttl_seconds", ttlSeconds))
	return &EtcdLock{
		session: sess,
		prefix:  prefix,
		held:    make(map[Role]*concurrency.Mutex),
		logger:  logger,
	}, nil
}

func (l *EtcdLock) TryAcquire(ctx context.Context, role Role) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[role]; ok {
		return false, nil
	}

	key := path.Join(l.prefix, string(role))
	m := concurrency.NewMutex(l.session, key)
	err := m.TryLock(ctx)
	switch errors.Cause(err) {
	case nil:
	case concurrency.ErrLocked:
		l.logger.Debug("Role already held by another replica", zap.String("key", key))
		return false, nil
	default:
		return false, errors.Annotatef(err, "try lock %s", key)
	}
	l.held[role] = m
	l.logger.Info("Acquired role", zap.String("key", m.Key()))
	return true, nil
}

func (l *EtcdLock) Release(ctx context.Context, role Role) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.held[role]
	if !ok {
		return nil
	}
	if err := m.Unlock(ctx); err != nil {
		return errors.Annotatef(err, "unlock %s", m.Key())
	}
	delete(l.held, role)
	l.logger.Info("Released role", zap.String("key", m.Key()))
	return nil
}

// Done is closed when the lease backing held roles is lost.
func (l *EtcdLock) Done() <-chan struct{} {
	return l.session.Done()
}

func (l *EtcdLock) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = make(map[Role]*concurrency.Mutex)
	return errors.Trace(l.session.Close())
}
