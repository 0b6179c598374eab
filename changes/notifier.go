package changes

import (
	"sync"

	"github.com/dekarrin/jelstor"
	"github.com/dekarrin/jelstor/logging"
)

// Notifier publishes the Changes produced by writes. It never publishes an
// empty Changes. A nil *Notifier is valid and discards everything, which lets
// callers run puts without any change bus attached.
type Notifier struct {
	pub Publisher
	log jelstor.Logger
}

// NewNotifier creates a Notifier that publishes to pub. If log is nil, nothing
// is logged.
func NewNotifier(pub Publisher, log jelstor.Logger) *Notifier {
	if log == nil {
		log = logging.NoOpLogger{}
	}
	return &Notifier{pub: pub, log: log}
}

// Notify publishes c immediately. It must not be called while a transaction
// that produced c is still open; use Hold for that.
func (n *Notifier) Notify(c Changes) {
	if n == nil || n.pub == nil || c.IsEmpty() {
		return
	}
	n.log.Tracef("notify %s", c)
	n.pub.Publish(c)
}

// Hold returns a Pending that collects Changes while a transaction is open.
func (n *Notifier) Hold() *Pending {
	return &Pending{n: n}
}

// Pending accumulates Changes made inside a transaction. Exactly one of Flush
// (after commit) or Discard (after rollback) should be called; after either,
// the Pending ignores further calls.
type Pending struct {
	n    *Notifier
	mtx  sync.Mutex
	acc  Changes
	done bool
}

// Add merges c into the held Changes.
func (p *Pending) Add(c Changes) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if p.done {
		return
	}
	p.acc = p.acc.Union(c)
}

// Changes returns the union of everything added so far.
func (p *Pending) Changes() Changes {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.acc
}

// Flush publishes the union of the held Changes as a single notification, if
// it is non-empty.
func (p *Pending) Flush() {
	p.mtx.Lock()
	if p.done {
		p.mtx.Unlock()
		return
	}
	p.done = true
	c := p.acc
	p.acc = Changes{}
	p.mtx.Unlock()

	p.n.Notify(c)
}

// Discard drops the held Changes without publishing them.
func (p *Pending) Discard() {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if !p.done && p.n != nil && !p.acc.IsEmpty() {
		p.n.log.Tracef("discard %s", p.acc)
	}
	p.done = true
	p.acc = Changes{}
}
