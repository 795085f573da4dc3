package kaka

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Entry is one registered device.
type Entry struct {
	ID   uint8      `json:"id"`
	Type DeviceType `json:"type"`
	Name string     `json:"name"`
	Pins []uint8    `json:"pins"`
	// Value is the raw bytes of the last reported reading, nil until one
	// arrives.
	Value []byte `json:"value,omitempty"`
}

// ErrRegistryFull means every one-byte device id is taken. Reset frees them.
var ErrRegistryFull = errors.New("kaka: device registry full")

// Key identifies a device by type and pins. Pins holds the pin bytes in
// order, so {32, 33} and {33, 32} are different devices.
type Key struct {
	Type DeviceType
	Pins string
}

func keyOf(t DeviceType, pins []uint8) Key {
	return Key{Type: t, Pins: string(pins)}
}

// DeviceName is the display name for a device: its type and pins in order.
func DeviceName(t DeviceType, pins []uint8) string {
	parts := make([]string, len(pins))
	for i, p := range pins {
		parts[i] = strconv.Itoa(int(p))
	}
	return fmt.Sprintf("device%d_%s", uint8(t), strings.Join(parts, ","))
}

// Registry hands out device ids. Ids start at 0, are never reused before
// Reset, and the same (type, pins) always maps to the same id.
//
// The notification handler writes values while control calls register and
// read, so all access goes through mu.
type Registry struct {
	mu     sync.RWMutex
	next   int
	byKey  map[Key]uint8
	byID   map[uint8]*Entry
}

func NewRegistry() *Registry {
	return &Registry{
		byKey: make(map[Key]uint8),
		byID:  make(map[uint8]*Entry),
	}
}

// Register returns the id for (t, pins), allocating one when the pair is new.
// Ids are a single byte on the wire, so the 257th distinct device gets
// ErrRegistryFull.
func (r *Registry) Register(t DeviceType, pins []uint8) (uint8, error) {
	k := keyOf(t, pins)

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byKey[k]; ok {
		return id, nil
	}
	if r.next > math.MaxUint8 {
		return 0, fmt.Errorf("%w: %s", ErrRegistryFull, DeviceName(t, pins))
	}
	id := uint8(r.next)
	r.next++
	r.byKey[k] = id
	r.byID[id] = &Entry{ID: id, Type: t, Name: DeviceName(t, pins), Pins: append([]uint8(nil), pins...)}
	return id, nil
}

// Lookup returns the id already assigned to (t, pins).
func (r *Registry) Lookup(t DeviceType, pins []uint8) (uint8, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[keyOf(t, pins)]
	return id, ok
}

// Get returns a copy of the entry for id.
func (r *Registry) Get(id uint8) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return Entry{}, false
	}
	return e.copy(), true
}

// SetValue stores a reading. It reports false for an unknown id.
func (r *Registry) SetValue(id uint8, v []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return false
	}
	e.Value = append([]byte(nil), v...)
	return true
}

// ClearValue forgets the last reading for id.
func (r *Registry) ClearValue(id uint8) {
	r.mu.Lock()
	if e, ok := r.byID[id]; ok {
		e.Value = nil
	}
	r.mu.Unlock()
}

// Value returns the last reading for id.
func (r *Registry) Value(id uint8) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok || e.Value == nil {
		return nil, false
	}
	return append([]byte(nil), e.Value...), true
}

// Entries lists every registered device ordered by id.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.byID))
	for _, e := range r.byID {
		out = append(out, e.copy())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Reset drops every entry and restarts ids at 0.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.next = 0
	r.byKey = make(map[Key]uint8)
	r.byID = make(map[uint8]*Entry)
	r.mu.Unlock()
}

func (e *Entry) copy() Entry {
	c := *e
	c.Pins = append([]uint8(nil), e.Pins...)
	if e.Value != nil {
		c.Value = append([]byte(nil), e.Value...)
	}
	return c
}
