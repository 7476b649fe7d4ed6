package services

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// AppendLocker serializes version appends for one project. The returned
// unlock func must be called exactly once.
type AppendLocker interface {
	Lock(ctx context.Context, projectID uuid.UUID) (unlock func(), err error)
}

// projectLocks is an in-process AppendLocker with one slot per project.
// Entries are dropped once no caller holds or waits for them.
type projectLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*projectLock
}

type projectLock struct {
	slot chan struct{}
	refs int
}

// NewProjectLocks returns an in-process AppendLocker.
func NewProjectLocks() AppendLocker {
	return &projectLocks{locks: make(map[uuid.UUID]*projectLock)}
}

func (l *projectLocks) Lock(ctx context.Context, projectID uuid.UUID) (func(), error) {
	l.mu.Lock()
	pl, ok := l.locks[projectID]
	if !ok {
		pl = &projectLock{slot: make(chan struct{}, 1)}
		l.locks[projectID] = pl
	}
	pl.refs++
	l.mu.Unlock()

	select {
	case pl.slot <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-pl.slot
				l.release(projectID, pl)
			})
		}, nil
	case <-ctx.Done():
		l.release(projectID, pl)
		return nil, ctx.Err()
	}
}

func (l *projectLocks) release(projectID uuid.UUID, pl *projectLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pl.refs--
	if pl.refs == 0 {
		delete(l.locks, projectID)
	}
}
