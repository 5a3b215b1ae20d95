package registry

import (
	"errors"
	"sync"

	"trainboard/internal/eventbus"
)

// ErrClosed is returned by mutations after Close.
var ErrClosed = errors.New("registry closed")

// Stats is a point-in-time summary of the registry.
type Stats struct {
	Version  uint64 `json:"version"`
	Stations int    `json:"stations"`
	Entries  int    `json:"entries"`
	Revision uint64 `json:"revision"`
}

// Service is the process-wide, goroutine-safe owner of a Registry.
//
// Writers (Upsert, Remove, Load, Close) hold the exclusive lock; readers
// (List, Get, Stats, Save) hold the shared lock only long enough to copy.
// Locks never span JSON work, file I/O or event delivery.
type Service struct {
	mu     sync.RWMutex
	reg    *Registry
	rev    uint64
	closed bool

	bus eventbus.Bus
}

type ServiceOption func(*Service)

// WithBus makes the service publish change events on bus.
func WithBus(bus eventbus.Bus) ServiceOption {
	return func(s *Service) { s.bus = bus }
}

// NewService takes ownership of reg. A nil reg starts empty.
func NewService(reg *Registry, opts ...ServiceOption) *Service {
	if reg == nil {
		reg = Empty()
	}
	s := &Service{reg: reg}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Upsert inserts st or replaces the station with the same name, discarding
// its previous schedule. It only fails once the service is closed.
func (s *Service) Upsert(st Station) error {
	st = st.Clone()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.reg.Upsert(st)
	s.rev++
	rev := s.rev
	s.mu.Unlock()

	s.publish(eventbus.Event{
		Type:     eventbus.TypeStationUpserted,
		Revision: rev,
		Station:  st.Name,
		Data:     st,
	})
	return nil
}

// Remove deletes the named station. found is false when no such station
// exists, which is a normal outcome.
func (s *Service) Remove(name string) (found bool, err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrClosed
	}
	found = s.reg.Remove(name)
	var rev uint64
	if found {
		s.rev++
		rev = s.rev
	}
	s.mu.Unlock()

	if found {
		s.publish(eventbus.Event{Type: eventbus.TypeStationRemoved, Revision: rev, Station: name})
	}
	return found, nil
}

// List returns a copy of every station. Later mutations do not affect it.
func (s *Service) List() []Station {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reg.Stations()
}

// Get returns a copy of the named station.
func (s *Service) Get(name string) (Station, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reg.Get(name)
}

// Stats returns counters observed under a single read lock.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Version:  s.reg.Version(),
		Stations: s.reg.Len(),
		Entries:  s.reg.EntryCount(),
		Revision: s.rev,
	}
}

// Snapshot returns a deep copy of the registry and the revision it reflects.
func (s *Service) Snapshot() (*Registry, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reg.Clone(), s.rev
}

// Load replaces the registry with the decoded snapshot. Empty input means an
// empty registry with DefaultVersion. On a decode error nothing changes.
func (s *Service) Load(data []byte) error {
	next := Empty()
	if len(data) > 0 {
		r, err := Decode(data)
		if err != nil {
			return err
		}
		next = r
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.reg = next
	s.rev++
	rev := s.rev
	n := next.Len()
	s.mu.Unlock()

	s.publish(eventbus.Event{Type: eventbus.TypeRegistryLoaded, Revision: rev, Data: n})
	return nil
}

// Save encodes a consistent copy of the registry. Encoding happens after the
// read lock is released.
func (s *Service) Save() ([]byte, error) {
	snap, _ := s.Snapshot()
	return Encode(snap)
}

// Close rejects all further mutations. Reads and Save keep working so the
// final snapshot can be written after intake has stopped.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Closed reports whether Close was called.
func (s *Service) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Service) publish(e eventbus.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}
