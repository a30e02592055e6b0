package session

import (
	"context"
	"errors"
	"sync"

	"github.com/nimburion/txcoord/pkg/connection"
)

var errBoom = errors.New("boom")

type fakeConn struct {
	autoCommit bool
	commits    int
	rollbacks  int
}

func (c *fakeConn) AutoCommit(context.Context) (bool, error) { return c.autoCommit, nil }

func (c *fakeConn) SetAutoCommit(_ context.Context, autoCommit bool) error {
	c.autoCommit = autoCommit
	return nil
}

func (c *fakeConn) Commit(context.Context) error {
	c.commits++
	return nil
}

func (c *fakeConn) Rollback(context.Context) error {
	c.rollbacks++
	return nil
}

type fakeProvider struct {
	mu         sync.Mutex
	obtained   int
	released   int
	releaseErr error
	last       *fakeConn
}

func (p *fakeProvider) Obtain(context.Context) (connection.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.obtained++
	p.last = &fakeConn{autoCommit: true}
	return p.last, nil
}

func (p *fakeProvider) Release(context.Context, connection.Connection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released++
	return p.releaseErr
}

func (p *fakeProvider) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.obtained, p.released
}

type closer struct{}

func (closer) Close() error { return nil }
