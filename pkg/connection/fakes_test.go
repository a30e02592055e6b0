package connection

import (
	"context"
	"errors"
	"sync"
)

type fakeConnection struct {
	autoCommit    bool
	commits       int
	rollbacks     int
	autoCommitLog []bool
	commitErr     error
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{autoCommit: true}
}

func (c *fakeConnection) AutoCommit(context.Context) (bool, error) { return c.autoCommit, nil }

func (c *fakeConnection) SetAutoCommit(_ context.Context, autoCommit bool) error {
	c.autoCommit = autoCommit
	c.autoCommitLog = append(c.autoCommitLog, autoCommit)
	return nil
}

func (c *fakeConnection) Commit(context.Context) error {
	if c.commitErr != nil {
		return c.commitErr
	}
	c.commits++
	return nil
}

func (c *fakeConnection) Rollback(context.Context) error {
	c.rollbacks++
	return nil
}

type fakeProvider struct {
	mu         sync.Mutex
	obtained   int
	released   int
	obtainErr  error
	releaseErr error
	last       *fakeConnection
}

func (p *fakeProvider) Obtain(context.Context) (Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.obtainErr != nil {
		return nil, p.obtainErr
	}
	p.obtained++
	p.last = newFakeConnection()
	return p.last, nil
}

func (p *fakeProvider) Release(context.Context, Connection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released++
	return p.releaseErr
}

type fakeResource struct {
	closed   int
	closeErr error
}

func (r *fakeResource) Close() error {
	r.closed++
	return r.closeErr
}

var errBoom = errors.New("boom")
