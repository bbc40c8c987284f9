package view

import (
	"sync"
	"sync/atomic"
)

// Publisher fans views out to any number of subscribers. Each subscriber has
// a one-slot mailbox; a slow reader only ever misses intermediate views and
// always receives the latest one. Publish never blocks.
type Publisher struct {
	latest atomic.Pointer[View]

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewPublisher returns a publisher holding the empty view.
func NewPublisher() *Publisher {
	p := &Publisher{subs: make(map[*Subscription]struct{})}
	p.latest.Store(Empty())
	return p
}

// Publish replaces the latest view and notifies every subscriber.
func (p *Publisher) Publish(v *View) {
	if v == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	p.latest.Store(v)
	for sub := range p.subs {
		sub.offer(v)
	}
}

// Latest returns the most recently published view. It never returns nil.
func (p *Publisher) Latest() *View {
	return p.latest.Load()
}

// Subscribe registers a new subscriber. The current view is delivered
// immediately so readers never start blank.
func (p *Publisher) Subscribe() *Subscription {
	sub := &Subscription{
		pub: p,
		ch:  make(chan *View, 1),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		close(sub.ch)
		sub.done = true
		return sub
	}

	sub.ch <- p.latest.Load()
	p.subs[sub] = struct{}{}
	return sub
}

// Len returns the number of active subscribers.
func (p *Publisher) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Close ends every subscription. Later publishes are ignored.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for sub := range p.subs {
		sub.finish()
	}
	p.subs = nil
}

func (p *Publisher) remove(sub *Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.subs[sub]; !ok {
		return
	}
	delete(p.subs, sub)
	sub.finish()
}

// Subscription receives views from a Publisher.
type Subscription struct {
	pub  *Publisher
	ch   chan *View
	done bool // guarded by pub.mu
}

// C returns the delivery channel. It is closed when the subscription or the
// publisher is closed.
func (s *Subscription) C() <-chan *View {
	return s.ch
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.pub.remove(s)
}

// offer replaces any undelivered view with v. Called with pub.mu held, which
// makes the drain-then-send sequence safe against other publishers.
func (s *Subscription) offer(v *View) {
	select {
	case <-s.ch:
	default:
	}
	s.ch <- v
}

func (s *Subscription) finish() {
	if s.done {
		return
	}
	s.done = true
	close(s.ch)
}
