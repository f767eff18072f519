// Package power switches the 5 V peripheral rail and reports battery state.
package power

import (
	"fmt"
	"sync"
)

type outputLine interface {
	SetValue(v int) error
	Close() error
}

// Rail drives the 5 V supply for the gas heater and radio through one GPIO
// output. Enable and Disable are idempotent and safe for concurrent use.
type Rail struct {
	name string

	mu     sync.Mutex
	line   outputLine
	on     bool
	known  bool
	closed bool
}

// OpenRail requests the line and leaves the rail off.
func OpenRail(name string) (*Rail, error) {
	line, err := openLineFn(name)
	if err != nil {
		return nil, err
	}
	return &Rail{name: name, line: line, known: true}, nil
}

func (r *Rail) Name() string {
	if r == nil {
		return ""
	}
	return r.name
}

func (r *Rail) Enable() error  { return r.set(true) }
func (r *Rail) Disable() error { return r.set(false) }

// On reports the last level successfully written.
func (r *Rail) On() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.on
}

func (r *Rail) set(on bool) error {
	if r == nil {
		return fmt.Errorf("power: rail is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("power: rail %s closed", r.name)
	}
	if r.known && r.on == on {
		return nil
	}
	v := 0
	if on {
		v = 1
	}
	if err := r.line.SetValue(v); err != nil {
		// Level is unknown after a failed write; retry on the next call.
		r.known = false
		return fmt.Errorf("power: rail %s set %d: %w", r.name, v, err)
	}
	r.on, r.known = on, true
	return nil
}

// Close switches the rail off and releases the line.
func (r *Rail) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	_ = r.line.SetValue(0)
	r.on = false
	return r.line.Close()
}
