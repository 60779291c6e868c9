package gpio

import "sync"

// FakeSwitch is a test double that records every Set call.
type FakeSwitch struct {
	mu sync.Mutex

	// On is the current logical state.
	On bool

	// Sets contains every value passed to Set, in order.
	Sets []bool

	// SetError, if set, will be returned by Set and the state is left unchanged.
	SetError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeSwitch creates a FakeSwitch in the given initial state.
func NewFakeSwitch(on bool) *FakeSwitch {
	return &FakeSwitch{On: on}
}

// Set records the value and updates the state.
func (f *FakeSwitch) Set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.Sets = append(f.Sets, on)
	f.On = on
	return nil
}

// Get returns the current state.
func (f *FakeSwitch) Get() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.On, nil
}

// Close turns the switch off and marks it closed.
func (f *FakeSwitch) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.On = false
	f.Closed = true
	return nil
}
