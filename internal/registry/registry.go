package registry

// DefaultVersion is the snapshot format marker written for new registries.
const DefaultVersion uint64 = 1

// Registry is the in-memory collection of stations keyed by name.
//
// It is not safe for concurrent use; Service wraps it with the locking
// discipline. Iteration order is insertion order, and a replaced station
// moves to the end.
type Registry struct {
	version  uint64
	stations []Station
	index    map[string]int
}

// New returns an empty registry with the given version.
func New(version uint64) *Registry {
	return &Registry{version: version, index: map[string]int{}}
}

// Empty returns an empty registry with DefaultVersion.
func Empty() *Registry { return New(DefaultVersion) }

func (r *Registry) Version() uint64 { return r.version }

func (r *Registry) Len() int { return len(r.stations) }

// EntryCount returns the number of schedule entries across all stations.
func (r *Registry) EntryCount() int {
	n := 0
	for _, st := range r.stations {
		n += len(st.Schedule)
	}
	return n
}

// Upsert inserts st or wholly replaces the station with the same name.
// The registry keeps its own copy of st.
func (r *Registry) Upsert(st Station) {
	if i, ok := r.index[st.Name]; ok {
		r.removeAt(i)
	}
	r.index[st.Name] = len(r.stations)
	r.stations = append(r.stations, st.Clone())
}

// Remove deletes the named station and reports whether it existed.
func (r *Registry) Remove(name string) bool {
	i, ok := r.index[name]
	if !ok {
		return false
	}
	r.removeAt(i)
	return true
}

func (r *Registry) removeAt(i int) {
	delete(r.index, r.stations[i].Name)
	copy(r.stations[i:], r.stations[i+1:])
	r.stations[len(r.stations)-1] = Station{}
	r.stations = r.stations[:len(r.stations)-1]
	for j := i; j < len(r.stations); j++ {
		r.index[r.stations[j].Name] = j
	}
}

// Get returns a copy of the named station.
func (r *Registry) Get(name string) (Station, bool) {
	i, ok := r.index[name]
	if !ok {
		return Station{}, false
	}
	return r.stations[i].Clone(), true
}

// Stations returns deep copies of all stations in iteration order.
func (r *Registry) Stations() []Station {
	out := make([]Station, len(r.stations))
	for i, st := range r.stations {
		out[i] = st.Clone()
	}
	return out
}

// Clone returns a deep copy of the registry.
func (r *Registry) Clone() *Registry {
	cp := New(r.version)
	cp.stations = r.Stations()
	for i, st := range cp.stations {
		cp.index[st.Name] = i
	}
	return cp
}

// Equal reports whether both registries hold the same version and the same
// stations in the same order, with identical schedules.
func (r *Registry) Equal(o *Registry) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.version != o.version || len(r.stations) != len(o.stations) {
		return false
	}
	for i := range r.stations {
		if !r.stations[i].Equal(o.stations[i]) {
			return false
		}
	}
	return true
}

// EqualContents is like Equal but ignores station order.
func (r *Registry) EqualContents(o *Registry) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.version != o.version || len(r.stations) != len(o.stations) {
		return false
	}
	for _, st := range r.stations {
		j, ok := o.index[st.Name]
		if !ok || !st.Equal(o.stations[j]) {
			return false
		}
	}
	return true
}
