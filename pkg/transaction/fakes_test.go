package transaction

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var errBoom = errors.New("boom")

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeOwner struct {
	log    *eventLog
	active bool
	tx     ResourceLocalTransaction
}

func newFakeOwner(log *eventLog) *fakeOwner {
	return &fakeOwner{log: log, active: true, tx: &fakeLocalTx{log: log}}
}

func (o *fakeOwner) IsActive() bool { return o.active }

func (o *fakeOwner) BeforeTransactionCompletion(context.Context) {
	o.log.add("owner.before")
}

func (o *fakeOwner) AfterTransactionCompletion(_ context.Context, successful bool) {
	o.log.add("owner.after.%t", successful)
}

func (o *fakeOwner) ResourceLocalTransaction() ResourceLocalTransaction { return o.tx }

type fakeLocalTx struct {
	log         *eventLog
	beginErr    error
	commitErr   error
	rollbackErr error
}

func (t *fakeLocalTx) Begin(context.Context) error {
	t.log.add("tx.begin")
	return t.beginErr
}

func (t *fakeLocalTx) Commit(context.Context) error {
	t.log.add("tx.commit")
	return t.commitErr
}

func (t *fakeLocalTx) Rollback(context.Context) error {
	t.log.add("tx.rollback")
	return t.rollbackErr
}

func recordingSync(name string, log *eventLog, beforeErr error) Synchronization {
	return SynchronizationFuncs{
		Before: func(context.Context) error {
			log.add("%s.before", name)
			return beforeErr
		},
		After: func(_ context.Context, status Status) error {
			log.add("%s.after.%s", name, status)
			return nil
		},
	}
}

func equalEvents(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
