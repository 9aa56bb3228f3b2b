package authstate

import (
	"slices"
	"sync"

	"github.com/utafrali/EstateDesk/internal/domain"
)

// Listener receives every published snapshot.
type Listener func(State)

// Reader is the read-only view handed to code outside the session package.
type Reader interface {
	State() State
	Subscribe(fn Listener) (unsubscribe func())
}

// Publisher owns the current State. Only the session manager and refresh
// coordinator hold a *Publisher; everything else gets a Reader.
//
// Listeners run synchronously on the publishing goroutine, in publish order,
// and within one publish in the order they subscribed.
// A listener must not publish back into the same Publisher.
type Publisher struct {
	// publishMu serializes set+notify so two concurrent publishes cannot
	// reach listeners out of order. mu guards the fields below and is never
	// held while listeners run.
	publishMu sync.Mutex

	mu        sync.RWMutex
	state     State
	listeners []subscription
	nextID    uint64
}

type subscription struct {
	id uint64
	fn Listener
}

var _ Reader = (*Publisher)(nil)

// NewPublisher returns a publisher in the initial unknown state
// (IsLoading=true, no user).
func NewPublisher() *Publisher {
	return &Publisher{state: State{IsLoading: true}}
}

// State returns a copy of the current snapshot.
func (p *Publisher) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.clone()
}

// Subscribe registers fn and returns a function that removes it.
func (p *Publisher) Subscribe(fn Listener) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners = append(p.listeners, subscription{id: id, fn: fn})
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			p.listeners = slices.DeleteFunc(p.listeners, func(s subscription) bool { return s.id == id })
			p.mu.Unlock()
		})
	}
}

// SetAuthenticated publishes a signed-in state with both user and tokens.
func (p *Publisher) SetAuthenticated(user domain.User, tokens domain.Tokens) {
	p.publish(func(State) State {
		return State{User: &user, Tokens: &tokens}
	})
}

// SetLoggedOut publishes a signed-out state.
func (p *Publisher) SetLoggedOut() {
	p.publish(func(State) State {
		return State{}
	})
}

// SetLoading toggles IsLoading and leaves user and tokens untouched.
func (p *Publisher) SetLoading(loading bool) {
	p.publish(func(s State) State {
		s.IsLoading = loading
		return s
	})
}

func (p *Publisher) publish(next func(State) State) {
	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	p.mu.Lock()
	p.state = next(p.state).clone()
	snapshot := p.state
	listeners := slices.Clone(p.listeners)
	p.mu.Unlock()

	for _, s := range listeners {
		s.fn(snapshot.clone())
	}
}
