package ftp

import (
	"sync"
	"time"
)

// Well-known slot names. Commands express their preconditions as "these
// slots must be fulfilled" (see conditions.go).
const (
	SlotUser       = "user"
	SlotLogged     = "logged"
	SlotCurrentDir = "current_directory"
	SlotPassive    = "passive_server"
	SlotData       = "data_connection"
	SlotRenameFrom = "rename_from"
	SlotRestart    = "restart_offset"
)

// Slot is a single-shot completion handle: readers wait until a writer
// fulfills it. Setting an already fulfilled slot replaces the value;
// clearing resets it to unfulfilled.
type Slot struct {
	mu    sync.Mutex
	done  chan struct{}
	value any
}

func newSlot() *Slot {
	return &Slot{done: make(chan struct{})}
}

// Set fulfills the slot with v, replacing any previous value.
func (s *Slot) Set(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// Get waits up to timeout for the slot to be fulfilled. A zero timeout
// checks without waiting.
func (s *Slot) Get(timeout time.Duration) (any, bool) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if timeout <= 0 {
		select {
		case <-done:
		default:
			return nil, false
		}
	} else {
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case <-done:
		case <-t.C:
			return nil, false
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, true
}

// Take waits like Get, then clears the slot in the same critical
// section, passing ownership of the value to the caller. A concurrent
// Take never yields the same value twice.
func (s *Slot) Take(timeout time.Duration) (any, bool) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if timeout <= 0 {
		select {
		case <-done:
		default:
			return nil, false
		}
	} else {
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case <-done:
		case <-t.C:
			return nil, false
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
	default:
		// Taken or cleared between the wait and the lock.
		return nil, false
	}
	v := s.value
	s.value = nil
	s.done = make(chan struct{})
	return v, true
}

// Clear resets the slot to unfulfilled.
func (s *Slot) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		s.done = make(chan struct{})
	default:
	}
	s.value = nil
}

// Conn is the per-session state machine: a mapping from well-known slot
// names to awaitable slots.
type Conn struct {
	mu    sync.Mutex
	slots map[string]*Slot
}

// NewConn returns a Conn with no fulfilled slots.
func NewConn() *Conn {
	return &Conn{slots: make(map[string]*Slot)}
}

// Slot returns the named slot, creating it unfulfilled on first use.
func (c *Conn) Slot(name string) *Slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[name]
	if !ok {
		s = newSlot()
		c.slots[name] = s
	}
	return s
}

// Set fulfills the named slot.
func (c *Conn) Set(name string, v any) {
	c.Slot(name).Set(v)
}

// Get waits up to timeout for the named slot.
func (c *Conn) Get(name string, timeout time.Duration) (any, bool) {
	return c.Slot(name).Get(timeout)
}

// Take waits up to timeout for the named slot and empties it.
func (c *Conn) Take(name string, timeout time.Duration) (any, bool) {
	return c.Slot(name).Take(timeout)
}

// Value returns the named slot's value without waiting.
func (c *Conn) Value(name string) (any, bool) {
	return c.Slot(name).Get(0)
}

// Clear resets the named slot.
func (c *Conn) Clear(name string) {
	c.Slot(name).Clear()
}

// StringValue returns the slot's value as a string, or "" if unset.
func (c *Conn) StringValue(name string) string {
	v, ok := c.Value(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Int64Value returns the slot's value as an int64, or 0 if unset.
func (c *Conn) Int64Value(name string) int64 {
	v, ok := c.Value(name)
	if !ok {
		return 0
	}
	n, _ := v.(int64)
	return n
}
