package arbiter

import (
	"context"
	"sync"
)

// LocalLock grants each role to one holder at a time within a process.
// Services sharing one LocalLock compete for the same roles.
type LocalLock struct {
	mu   sync.Mutex
	held map[Role]bool
}

func NewLocalLock() *LocalLock {
	return &LocalLock{held: make(map[Role]bool)}
}

func (l *LocalLock) TryAcquire(ctx context.Context, role Role) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[role] {
		return false, nil
	}
	l.held[role] = true
	return true, nil
}

func (l *LocalLock) Release(_ context.Context, role Role) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, role)
	return nil
}

func (l *LocalLock) Close() error {
	return nil
}
