package live

import (
	"errors"
	"sync"

	"bidlive/internal/models"
)

var ErrWithdrawnFinal = errors.New("participation was withdrawn and cannot be restored")

// cell is a single observable value. Listeners run outside the lock, in
// registration order.
type cell[T any] struct {
	mu        sync.Mutex
	value     T
	valid     bool
	listeners map[int]func(T, bool)
	order     []int
	nextID    int
}

func (c *cell[T]) get() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.valid
}

func (c *cell[T]) set(v T) {
	c.mu.Lock()
	c.value = v
	c.valid = true
	notify := c.snapshotLocked()
	c.mu.Unlock()
	notify(v, true)
}

// setIf stores v unless check rejects the current value.
func (c *cell[T]) setIf(v T, check func(cur T, valid bool) error) error {
	c.mu.Lock()
	if err := check(c.value, c.valid); err != nil {
		c.mu.Unlock()
		return err
	}
	c.value = v
	c.valid = true
	notify := c.snapshotLocked()
	c.mu.Unlock()
	notify(v, true)
	return nil
}

// update applies fn to the current value. It is a no-op when the value
// is not loaded or fn reports no change.
func (c *cell[T]) update(fn func(T) (T, bool)) bool {
	c.mu.Lock()
	if !c.valid {
		c.mu.Unlock()
		return false
	}
	next, changed := fn(c.value)
	if !changed {
		c.mu.Unlock()
		return false
	}
	c.value = next
	notify := c.snapshotLocked()
	c.mu.Unlock()
	notify(next, true)
	return true
}

func (c *cell[T]) invalidate() {
	c.mu.Lock()
	var zero T
	c.value = zero
	c.valid = false
	notify := c.snapshotLocked()
	c.mu.Unlock()
	notify(zero, false)
}

func (c *cell[T]) subscribe(fn func(T, bool)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listeners == nil {
		c.listeners = make(map[int]func(T, bool))
	}
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.order = append(c.order, id)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
		for i, v := range c.order {
			if v == id {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
}

func (c *cell[T]) snapshotLocked() func(T, bool) {
	fns := make([]func(T, bool), 0, len(c.order))
	for _, id := range c.order {
		fns = append(fns, c.listeners[id])
	}
	return func(v T, valid bool) {
		for _, fn := range fns {
			fn(v, valid)
		}
	}
}

// ViewStore holds the AuctionLiveView of the open auction.
type ViewStore struct {
	c cell[AuctionLiveView]
}

func NewViewStore() *ViewStore {
	return &ViewStore{}
}

func (s *ViewStore) Get() (AuctionLiveView, bool) {
	v, ok := s.c.get()
	if !ok {
		return v, false
	}
	return v.Clone(), true
}

// Replace swaps in a fresh baseline, e.g. after a refetch.
func (s *ViewStore) Replace(v AuctionLiveView) {
	s.c.set(v.Clone())
}

func (s *ViewStore) Update(fn func(AuctionLiveView) (AuctionLiveView, bool)) bool {
	return s.c.update(fn)
}

func (s *ViewStore) Invalidate() {
	s.c.invalidate()
}

func (s *ViewStore) Subscribe(fn func(v AuctionLiveView, loaded bool)) (unsubscribe func()) {
	return s.c.subscribe(fn)
}

// ParticipationStore holds the caller's participation in the open auction.
// Auctions seen withdrawn stay withdrawn, even across Invalidate.
type ParticipationStore struct {
	c cell[models.Participation]

	mu        sync.Mutex
	withdrawn map[int64]bool
}

func NewParticipationStore() *ParticipationStore {
	return &ParticipationStore{}
}

func (s *ParticipationStore) Get() (models.Participation, bool) {
	return s.c.get()
}

// Set replaces the record. A withdrawn record for the same auction can
// never be replaced by a non-withdrawn one.
func (s *ParticipationStore) Set(p models.Participation) error {
	return s.c.setIf(p, func(cur models.Participation, valid bool) error {
		if (valid && reverts(cur, p)) || s.revertsRecorded(p) {
			return ErrWithdrawnFinal
		}
		s.record(p)
		return nil
	})
}

func (s *ParticipationStore) Update(fn func(*models.Participation)) error {
	var err error
	s.c.update(func(cur models.Participation) (models.Participation, bool) {
		next := cur
		if cur.LastBidPrice != nil {
			price := *cur.LastBidPrice
			next.LastBidPrice = &price
		}
		fn(&next)
		if reverts(cur, next) || s.revertsRecorded(next) {
			err = ErrWithdrawnFinal
			return cur, false
		}
		s.record(next)
		return next, true
	})
	return err
}

func (s *ParticipationStore) MarkParticipated(auctionID, deposit int64) error {
	return s.Set(models.Participation{AuctionID: auctionID, IsParticipated: true, DepositAmount: deposit})
}

func (s *ParticipationStore) MarkWithdrawn(refunded bool) error {
	return s.Update(func(p *models.Participation) {
		p.IsWithdrawn = true
		p.IsRefund = p.IsRefund || refunded
	})
}

func (s *ParticipationStore) SetLastBid(price int64) error {
	return s.Update(func(p *models.Participation) {
		p.LastBidPrice = &price
	})
}

func (s *ParticipationStore) Invalidate() {
	s.c.invalidate()
}

func (s *ParticipationStore) Subscribe(fn func(p models.Participation, loaded bool)) (unsubscribe func()) {
	return s.c.subscribe(fn)
}

func (s *ParticipationStore) revertsRecorded(p models.Participation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withdrawn[p.AuctionID] && !p.IsWithdrawn
}

func (s *ParticipationStore) record(p models.Participation) {
	if !p.IsWithdrawn {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.withdrawn == nil {
		s.withdrawn = make(map[int64]bool)
	}
	s.withdrawn[p.AuctionID] = true
}

func reverts(cur, next models.Participation) bool {
	return cur.IsWithdrawn && cur.AuctionID == next.AuctionID && !next.IsWithdrawn
}

// BalanceStore holds the caller's deposit balance. Optimistic changes go
// through Increment/Decrement; Set reconciles with the server.
type BalanceStore struct {
	c cell[int64]
}

func NewBalanceStore() *BalanceStore {
	return &BalanceStore{}
}

func (s *BalanceStore) Get() (int64, bool) {
	return s.c.get()
}

func (s *BalanceStore) Set(balance int64) {
	s.c.set(balance)
}

func (s *BalanceStore) Increment(amount int64) bool {
	return s.c.update(func(cur int64) (int64, bool) {
		return cur + amount, amount != 0
	})
}

func (s *BalanceStore) Decrement(amount int64) bool {
	return s.c.update(func(cur int64) (int64, bool) {
		return cur - amount, amount != 0
	})
}

func (s *BalanceStore) Invalidate() {
	s.c.invalidate()
}

func (s *BalanceStore) Subscribe(fn func(balance int64, loaded bool)) (unsubscribe func()) {
	return s.c.subscribe(fn)
}
