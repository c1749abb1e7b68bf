package testutils

import (
	"errors"
	"sync"

	"github.com/srg/blecentral/internal/host"
)

// ErrAdapterBusy is what an Exclusive factory returns while a stack is open,
// matching the error of a second linux HCI socket on the same adapter.
var ErrAdapterBusy = errors.New("can't init hci: device or resource busy")

// StackFactory hands out a fresh FakeStack per adapter session and remembers
// every stack it built, oldest first.
type StackFactory struct {
	// InitialState is the state of every new stack (PoweredOn when zero-valued
	// through NewStackFactory).
	InitialState host.AdapterState

	// Prepare, when set, configures each new stack before it is returned.
	// n is the zero-based index of the stack.
	Prepare func(n int, s *FakeStack)

	// Err, when set, makes the factory fail.
	Err error

	// Exclusive makes the factory fail with ErrAdapterBusy while any stack it
	// built is still open.
	Exclusive bool

	mu     sync.Mutex
	stacks []*FakeStack
}

// NewStackFactory creates a factory whose stacks start powered on.
func NewStackFactory() *StackFactory {
	return &StackFactory{InitialState: host.StatePoweredOn}
}

// Factory returns the host.Factory to inject into the code under test.
func (f *StackFactory) Factory() host.Factory {
	return func(opts host.SessionOptions) (host.Stack, error) {
		f.mu.Lock()
		if f.Err != nil {
			err := f.Err
			f.mu.Unlock()
			return nil, err
		}
		if f.Exclusive {
			for _, open := range f.stacks {
				if !open.Closed() {
					f.mu.Unlock()
					return nil, ErrAdapterBusy
				}
			}
		}
		s := NewFakeStack(f.InitialState)
		s.Options = opts
		n := len(f.stacks)
		f.stacks = append(f.stacks, s)
		prepare := f.Prepare
		f.mu.Unlock()

		if prepare != nil {
			prepare(n, s)
		}
		return s, nil
	}
}

// Stacks returns every stack built so far.
func (f *StackFactory) Stacks() []*FakeStack {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeStack(nil), f.stacks...)
}

// Stack returns the n-th stack built, or nil.
func (f *StackFactory) Stack(n int) *FakeStack {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n < 0 || n >= len(f.stacks) {
		return nil
	}
	return f.stacks[n]
}

// Last returns the most recently built stack, or nil.
func (f *StackFactory) Last() *FakeStack {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.stacks) == 0 {
		return nil
	}
	return f.stacks[len(f.stacks)-1]
}
