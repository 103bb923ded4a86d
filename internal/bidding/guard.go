package bidding

import (
	"context"
	"errors"
	"sync"
)

var ErrSuperseded = errors.New("superseded by a newer request")

const (
	resourceBid           = "bid"
	resourceParticipation = "participation"
)

// Guard allows one outstanding mutation per resource. While one runs, at
// most one more waits; a newer request replaces the waiting one, which
// then returns ErrSuperseded without running.
type Guard struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	busy   bool
	queued *pending
}

type pending struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

func NewGuard() *Guard {
	return &Guard{slots: make(map[string]*slot)}
}

func (g *Guard) Run(ctx context.Context, key string, fn func(context.Context) error) error {
	g.mu.Lock()
	s := g.slots[key]
	if s == nil {
		s = &slot{}
		g.slots[key] = s
	}
	if !s.busy {
		s.busy = true
		g.mu.Unlock()
		err := fn(ctx)
		g.next(key)
		return err
	}
	if s.queued != nil {
		s.queued.done <- ErrSuperseded
	}
	p := &pending{ctx: ctx, fn: fn, done: make(chan error, 1)}
	s.queued = p
	g.mu.Unlock()
	select {
	case err := <-p.done:
		return err
	case <-ctx.Done():
		g.mu.Lock()
		if s.queued == p {
			s.queued = nil
		}
		g.mu.Unlock()
		return ctx.Err()
	}
}

// Busy reports whether a mutation on key is running.
func (g *Guard) Busy(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.slots[key]
	return s != nil && s.busy
}

func (g *Guard) next(key string) {
	g.mu.Lock()
	s := g.slots[key]
	p := s.queued
	if p == nil {
		s.busy = false
		g.mu.Unlock()
		return
	}
	s.queued = nil
	g.mu.Unlock()

	go func() {
		var err error
		if err = p.ctx.Err(); err == nil {
			err = p.fn(p.ctx)
		}
		p.done <- err
		g.next(key)
	}()
}
