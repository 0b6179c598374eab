package changes

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrSubscriptionClosed is returned by Subscription.Next once the subscription
// or its Bus has been closed.
var ErrSubscriptionClosed = errors.New("subscription is closed")

// Publisher accepts Changes for delivery.
type Publisher interface {
	Publish(c Changes)
}

// Bus is a Publisher that fans Changes out to subscribers whose Filter matches
// them. It is safe for concurrent use. The zero value is ready to use.
//
// Publishing never blocks on a subscriber. Changes that a subscriber has not
// yet received are merged into a single pending Changes, so a slow subscriber
// sees fewer, larger notifications but never misses an affected entity.
type Bus struct {
	mtx    sync.Mutex
	subs   map[uuid.UUID]*Subscription
	closed bool
}

// Subscribe registers a new Subscription that will receive every published
// Changes that f matches.
func (b *Bus) Subscribe(f Filter) *Subscription {
	sub := &Subscription{
		ID:     uuid.New(),
		filter: f,
		bus:    b,
		ready:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()

	if b.closed {
		sub.closeLocked()
		return sub
	}
	if b.subs == nil {
		b.subs = map[uuid.UUID]*Subscription{}
	}
	b.subs[sub.ID] = sub
	return sub
}

// Publish delivers c to all matching subscribers. Empty Changes are dropped.
func (b *Bus) Publish(c Changes) {
	if c.IsEmpty() {
		return
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()

	for _, sub := range b.subs {
		if sub.filter.Matches(c) {
			sub.offer(c)
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (b *Bus) Subscribers() int {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return len(b.subs)
}

// Close closes every subscription. Publishing to a closed Bus has no effect and
// subscribing to one returns an already-closed Subscription.
func (b *Bus) Close() {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	b.closed = true
	for id, sub := range b.subs {
		sub.closeLocked()
		delete(b.subs, id)
	}
}

func (b *Bus) remove(id uuid.UUID) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if sub, ok := b.subs[id]; ok {
		sub.closeLocked()
		delete(b.subs, id)
	}
}

// Subscription receives Changes from a Bus. Call Close when it is no longer
// needed.
type Subscription struct {
	ID uuid.UUID

	filter Filter
	bus    *Bus

	mtx     sync.Mutex
	pending Changes
	ready   chan struct{}
	done    chan struct{}
	closed  bool
}

func (s *Subscription) offer(c Changes) {
	s.mtx.Lock()
	s.pending = s.pending.Union(c)
	s.mtx.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Next blocks until Changes are available or ctx is done. All Changes
// published since the last call are returned merged together.
func (s *Subscription) Next(ctx context.Context) (Changes, error) {
	for {
		s.mtx.Lock()
		if !s.pending.IsEmpty() {
			c := s.pending
			s.pending = Changes{}
			s.mtx.Unlock()
			return c, nil
		}
		closed := s.closed
		s.mtx.Unlock()

		if closed {
			return Changes{}, ErrSubscriptionClosed
		}

		select {
		case <-ctx.Done():
			return Changes{}, ctx.Err()
		case <-s.done:
		case <-s.ready:
		}
	}
}

// Close removes the subscription from its Bus. Pending Changes are still
// returned by Next before it reports ErrSubscriptionClosed.
func (s *Subscription) Close() {
	s.bus.remove(s.ID)
}

// closeLocked must be called with the Bus lock held.
func (s *Subscription) closeLocked() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
}
