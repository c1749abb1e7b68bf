package host

import (
	"slices"
	"sync"
)

// Listeners is a set of adapter state callbacks. Backends embed it to
// implement Stack.OnStateChange.
type Listeners struct {
	mu   sync.Mutex
	next int
	cbs  map[int]func(AdapterState)
}

// Add registers cb and returns its subscription.
func (l *Listeners) Add(cb func(AdapterState)) Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cbs == nil {
		l.cbs = make(map[int]func(AdapterState))
	}
	id := l.next
	l.next++
	l.cbs[id] = cb
	return &listenerSub{l: l, id: id}
}

// Notify calls every registered callback with state, in registration order.
// Callbacks run on the caller's goroutine without the lock held.
func (l *Listeners) Notify(state AdapterState) {
	l.mu.Lock()
	ids := make([]int, 0, len(l.cbs))
	for id := range l.cbs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	cbs := make([]func(AdapterState), 0, len(ids))
	for _, id := range ids {
		cbs = append(cbs, l.cbs[id])
	}
	l.mu.Unlock()

	for _, cb := range cbs {
		cb(state)
	}
}

// Len returns the number of registered callbacks.
func (l *Listeners) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.cbs)
}

// Clear drops every callback.
func (l *Listeners) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cbs = nil
}

type listenerSub struct {
	l    *Listeners
	id   int
	once sync.Once
}

func (s *listenerSub) Remove() {
	s.once.Do(func() {
		s.l.mu.Lock()
		defer s.l.mu.Unlock()
		delete(s.l.cbs, s.id)
	})
}
