package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"trainboard/internal/registry"
)

var (
	// ErrMalformed means the body is not valid JSON for the given kind.
	ErrMalformed = errors.New("malformed message")
	// ErrInvalidSchedule means a schedule line broke the line grammar.
	ErrInvalidSchedule = errors.New("invalid schedule data")
	// ErrUnknownKind means the kind tag is not recognized.
	ErrUnknownKind = errors.New("unknown message kind")
)

// ScheduleUpdate is the wire shape of a station update.
type ScheduleUpdate struct {
	Name    string   `json:"name"`
	Entries []string `json:"entries"`
}

// Removal is the wire shape of a station removal.
type Removal struct {
	Name string `json:"name"`
}

// Fields are pointers so a missing or null value can be told apart from "".
type scheduleUpdateBody struct {
	Name    *string    `json:"name"`
	Entries *[]*string `json:"entries"`
}

type removalBody struct {
	Name *string `json:"name"`
}

// DecodeScheduleUpdate parses a ScheduleUpdate body into a Station.
//
// All lines must parse: a single bad line rejects the whole update with
// ErrInvalidSchedule, so a partially parsed schedule never reaches the registry.
func DecodeScheduleUpdate(body []byte) (registry.Station, error) {
	var b scheduleUpdateBody
	if err := json.Unmarshal(body, &b); err != nil {
		return registry.Station{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if b.Name == nil {
		return registry.Station{}, fmt.Errorf("%w: name is required", ErrMalformed)
	}
	if b.Entries == nil {
		return registry.Station{}, fmt.Errorf("%w: entries is required", ErrMalformed)
	}
	lines := make([]string, len(*b.Entries))
	for i, l := range *b.Entries {
		if l == nil {
			return registry.Station{}, fmt.Errorf("%w: entries[%d] is null", ErrMalformed, i)
		}
		lines[i] = *l
	}
	return ScheduleUpdate{Name: *b.Name, Entries: lines}.Station()
}

// Station converts the update into a Station, parsing every line in order.
func (u ScheduleUpdate) Station() (registry.Station, error) {
	st := registry.Station{Name: u.Name, Schedule: make([]registry.ScheduleEntry, 0, len(u.Entries))}
	for i, line := range u.Entries {
		e, err := ParseLine(line)
		if err != nil {
			return registry.Station{}, fmt.Errorf("entries[%d]: %w", i, err)
		}
		st.Schedule = append(st.Schedule, e)
	}
	return st, nil
}

// DecodeRemoval parses a Removal body and returns the station name.
func DecodeRemoval(body []byte) (string, error) {
	var b removalBody
	if err := json.Unmarshal(body, &b); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if b.Name == nil {
		return "", fmt.Errorf("%w: name is required", ErrMalformed)
	}
	return *b.Name, nil
}

// ParseLine parses one schedule line of the form "TT NAME DESTINATION ...".
//
// The line is split on single spaces without trimming, so repeated spaces
// produce empty tokens. Fewer than three tokens is ErrInvalidSchedule. The
// leading ASCII digits of the first token give the time left; no digits, or a
// value that overflows uint32, leaves it unknown. Tokens after the third are ignored.
func ParseLine(line string) (registry.ScheduleEntry, error) {
	parts := strings.Split(line, " ")
	if len(parts) < 3 {
		return registry.ScheduleEntry{}, fmt.Errorf("%w: %q has %d tokens, need 3", ErrInvalidSchedule, line, len(parts))
	}
	return registry.ScheduleEntry{
		TimeLeft:         leadingUint32(parts[0]),
		TrainName:        parts[1],
		TrainDestination: parts[2],
	}, nil
}

func leadingUint32(tok string) *uint32 {
	n := 0
	for n < len(tok) && tok[n] >= '0' && tok[n] <= '9' {
		n++
	}
	if n == 0 {
		return nil
	}
	v, err := strconv.ParseUint(tok[:n], 10, 32)
	if err != nil {
		return nil
	}
	tl := uint32(v)
	return &tl
}
