package registry

// ScheduleEntry is one scheduled arrival.
//
// TimeLeft is in seconds; nil means unknown (the source line had no usable
// leading digits). It is a distinct value from zero.
type ScheduleEntry struct {
	TimeLeft         *uint32
	TrainName        string
	TrainDestination string
}

// NewEntry builds an entry with a known time left.
func NewEntry(timeLeft uint32, name, destination string) ScheduleEntry {
	return ScheduleEntry{TimeLeft: &timeLeft, TrainName: name, TrainDestination: destination}
}

// NewUnknownEntry builds an entry whose time left is unknown.
func NewUnknownEntry(name, destination string) ScheduleEntry {
	return ScheduleEntry{TrainName: name, TrainDestination: destination}
}

// Known reports whether the time left is known, and returns it.
func (e ScheduleEntry) Known() (uint32, bool) {
	if e.TimeLeft == nil {
		return 0, false
	}
	return *e.TimeLeft, true
}

func (e ScheduleEntry) clone() ScheduleEntry {
	if e.TimeLeft != nil {
		v := *e.TimeLeft
		e.TimeLeft = &v
	}
	return e
}

func (e ScheduleEntry) equal(o ScheduleEntry) bool {
	if e.TrainName != o.TrainName || e.TrainDestination != o.TrainDestination {
		return false
	}
	if (e.TimeLeft == nil) != (o.TimeLeft == nil) {
		return false
	}
	return e.TimeLeft == nil || *e.TimeLeft == *o.TimeLeft
}

// Station is a named location with an ordered arrival schedule.
// Entry order is arrival order as received; identical entries may repeat.
type Station struct {
	Name     string
	Schedule []ScheduleEntry
}

// Clone returns a deep copy that shares no memory with s.
func (s Station) Clone() Station {
	out := Station{Name: s.Name}
	if s.Schedule != nil {
		out.Schedule = make([]ScheduleEntry, len(s.Schedule))
		for i, e := range s.Schedule {
			out.Schedule[i] = e.clone()
		}
	}
	return out
}

// Equal compares name and schedule entry-by-entry. A nil and an empty schedule are equal.
func (s Station) Equal(o Station) bool {
	if s.Name != o.Name || len(s.Schedule) != len(o.Schedule) {
		return false
	}
	for i := range s.Schedule {
		if !s.Schedule[i].equal(o.Schedule[i]) {
			return false
		}
	}
	return true
}
