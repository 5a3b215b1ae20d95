package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrSnapshotInvalid is wrapped by every Decode failure.
var ErrSnapshotInvalid = errors.New("invalid snapshot")

// On-disk document shape. Field names are part of the file format.
type snapshotDoc struct {
	Version       uint64       `json:"version"`
	TrainStations []stationDoc `json:"train_stations"`
}

type stationDoc struct {
	Name     string      `json:"name"`
	Schedule scheduleDoc `json:"schedule"`
}

type scheduleDoc struct {
	Entries []entryDoc `json:"entries"`
}

type entryDoc struct {
	TimeLeft         *uint32 `json:"time_left"`
	TrainName        string  `json:"train_name"`
	TrainDestination string  `json:"train_destination"`
}

// Encode serializes r as a snapshot document. Stations keep r's iteration
// order and entries keep their schedule order. Unknown time left encodes as null.
func Encode(r *Registry) ([]byte, error) {
	doc := snapshotDoc{Version: r.Version(), TrainStations: make([]stationDoc, 0, r.Len())}
	for _, st := range r.stations {
		doc.TrainStations = append(doc.TrainStations, toStationDoc(st))
	}
	return json.Marshal(doc)
}

// MarshalJSON encodes a station in its snapshot shape, so API responses and
// events match the file format.
func (s Station) MarshalJSON() ([]byte, error) {
	return json.Marshal(toStationDoc(s))
}

// UnmarshalJSON decodes the shape MarshalJSON writes, with the same strict
// rules as Decode.
func (s *Station) UnmarshalJSON(b []byte) error {
	st, err := decodeStation(b, "station")
	if err != nil {
		return err
	}
	*s = st
	return nil
}

func toStationDoc(st Station) stationDoc {
	sd := stationDoc{Name: st.Name, Schedule: scheduleDoc{Entries: make([]entryDoc, 0, len(st.Schedule))}}
	for _, e := range st.Schedule {
		sd.Schedule.Entries = append(sd.Schedule.Entries, entryDoc{
			TimeLeft:         e.TimeLeft,
			TrainName:        e.TrainName,
			TrainDestination: e.TrainDestination,
		})
	}
	return sd
}

// Decode parses a snapshot document.
//
// Decoding is all-or-nothing: a missing field, a null or mistyped value, or a
// malformed element anywhere fails the whole document. Duplicate station names
// are rejected. Unknown fields are ignored. Zero-length input is an error here;
// callers that treat an empty file as an empty registry must check for it first.
func Decode(data []byte) (*Registry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrSnapshotInvalid)
	}
	root, err := decodeObject(data, "$")
	if err != nil {
		return nil, err
	}

	raw, err := root.field("$", "version")
	if err != nil {
		return nil, err
	}
	version, err := decodeUint(raw, "version", 64)
	if err != nil {
		return nil, err
	}

	raw, err = root.field("$", "train_stations")
	if err != nil {
		return nil, err
	}
	items, err := decodeArray(raw, "train_stations")
	if err != nil {
		return nil, err
	}

	r := New(version)
	for i, item := range items {
		path := "train_stations[" + strconv.Itoa(i) + "]"
		st, err := decodeStation(item, path)
		if err != nil {
			return nil, err
		}
		if _, dup := r.index[st.Name]; dup {
			return nil, invalid(path+".name", fmt.Sprintf("duplicate station %q", st.Name))
		}
		r.index[st.Name] = len(r.stations)
		r.stations = append(r.stations, st)
	}
	return r, nil
}

func decodeStation(raw json.RawMessage, path string) (Station, error) {
	obj, err := decodeObject(raw, path)
	if err != nil {
		return Station{}, err
	}
	nameRaw, err := obj.field(path, "name")
	if err != nil {
		return Station{}, err
	}
	name, err := decodeString(nameRaw, path+".name")
	if err != nil {
		return Station{}, err
	}

	schedRaw, err := obj.field(path, "schedule")
	if err != nil {
		return Station{}, err
	}
	sched, err := decodeObject(schedRaw, path+".schedule")
	if err != nil {
		return Station{}, err
	}
	entriesRaw, err := sched.field(path+".schedule", "entries")
	if err != nil {
		return Station{}, err
	}
	items, err := decodeArray(entriesRaw, path+".schedule.entries")
	if err != nil {
		return Station{}, err
	}

	st := Station{Name: name, Schedule: make([]ScheduleEntry, 0, len(items))}
	for i, item := range items {
		e, err := decodeEntry(item, path+".schedule.entries["+strconv.Itoa(i)+"]")
		if err != nil {
			return Station{}, err
		}
		st.Schedule = append(st.Schedule, e)
	}
	return st, nil
}

func decodeEntry(raw json.RawMessage, path string) (ScheduleEntry, error) {
	obj, err := decodeObject(raw, path)
	if err != nil {
		return ScheduleEntry{}, err
	}

	var e ScheduleEntry
	tlRaw, err := obj.field(path, "time_left")
	if err != nil {
		return ScheduleEntry{}, err
	}
	if !isNull(tlRaw) {
		v, err := decodeUint(tlRaw, path+".time_left", 32)
		if err != nil {
			return ScheduleEntry{}, err
		}
		tl := uint32(v)
		e.TimeLeft = &tl
	}

	nameRaw, err := obj.field(path, "train_name")
	if err != nil {
		return ScheduleEntry{}, err
	}
	if e.TrainName, err = decodeString(nameRaw, path+".train_name"); err != nil {
		return ScheduleEntry{}, err
	}

	destRaw, err := obj.field(path, "train_destination")
	if err != nil {
		return ScheduleEntry{}, err
	}
	if e.TrainDestination, err = decodeString(destRaw, path+".train_destination"); err != nil {
		return ScheduleEntry{}, err
	}
	return e, nil
}

// ---- strict JSON helpers ----

type object map[string]json.RawMessage

func (o object) field(path, key string) (json.RawMessage, error) {
	raw, ok := o[key]
	if !ok {
		return nil, invalid(join(path, key), "missing field")
	}
	return raw, nil
}

func join(path, key string) string {
	if path == "$" {
		return key
	}
	return path + "." + key
}

func invalid(path, msg string) error {
	return fmt.Errorf("%w: %s: %s", ErrSnapshotInvalid, path, msg)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func decodeObject(raw []byte, path string) (object, error) {
	if isNull(raw) {
		return nil, invalid(path, "expected object, got null")
	}
	var obj object
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, invalid(path, "expected object: "+err.Error())
	}
	return obj, nil
}

func decodeArray(raw json.RawMessage, path string) ([]json.RawMessage, error) {
	if isNull(raw) {
		return nil, invalid(path, "expected array, got null")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, invalid(path, "expected array")
	}
	return items, nil
}

func decodeString(raw json.RawMessage, path string) (string, error) {
	if isNull(raw) {
		return "", invalid(path, "expected string, got null")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", invalid(path, "expected string")
	}
	return s, nil
}

// decodeUint accepts only plain non-negative JSON integers that fit in bits.
func decodeUint(raw json.RawMessage, path string, bits int) (uint64, error) {
	text := string(bytes.TrimSpace(raw))
	v, err := strconv.ParseUint(text, 10, bits)
	if err != nil {
		return 0, invalid(path, fmt.Sprintf("expected unsigned integer (%d-bit), got %s", bits, text))
	}
	return v, nil
}
