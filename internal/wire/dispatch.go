package wire

import (
	"context"
	"errors"
	"fmt"

	"trainboard/internal/registry"
)

// Status is the outcome of one dispatched message.
type Status int

const (
	// StatusAccepted: the registry was mutated.
	StatusAccepted Status = iota
	// StatusMalformed: unknown kind, bad JSON, or an invalid schedule line. Nothing changed.
	StatusMalformed
	// StatusNotFound: a removal named a station that does not exist. Nothing changed.
	StatusNotFound
	// StatusUnavailable: the request was cancelled or the registry is closed. Nothing changed.
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusMalformed:
		return "rejected_malformed"
	case StatusNotFound:
		return "rejected_not_found"
	case StatusUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Result describes what Dispatch did.
type Result struct {
	Kind    Kind
	Status  Status
	Station string
	Entries int
	Err     error
}

// Dispatcher applies wire messages to a registry service.
type Dispatcher struct {
	Registry *registry.Service
}

// Dispatch decodes body according to tag and applies it.
//
// Decoding finishes before the registry is touched, and ctx is checked between
// decoding and the mutation, so rejected or cancelled messages never change state.
func (d Dispatcher) Dispatch(ctx context.Context, tag string, body []byte) Result {
	kind, ok := ParseKind(tag)
	if !ok {
		return Result{Kind: KindUnknown, Status: StatusMalformed, Err: fmt.Errorf("%w: %q", ErrUnknownKind, tag)}
	}

	switch kind {
	case KindScheduleUpdate:
		st, err := DecodeScheduleUpdate(body)
		if err != nil {
			return Result{Kind: kind, Status: StatusMalformed, Err: err}
		}
		res := Result{Kind: kind, Station: st.Name, Entries: len(st.Schedule)}
		if err := ctx.Err(); err != nil {
			res.Status, res.Err = StatusUnavailable, err
			return res
		}
		if err := d.Registry.Upsert(st); err != nil {
			res.Status, res.Err = StatusUnavailable, err
			return res
		}
		res.Status = StatusAccepted
		return res

	case KindRemoval:
		name, err := DecodeRemoval(body)
		if err != nil {
			return Result{Kind: kind, Status: StatusMalformed, Err: err}
		}
		res := Result{Kind: kind, Station: name}
		if err := ctx.Err(); err != nil {
			res.Status, res.Err = StatusUnavailable, err
			return res
		}
		found, err := d.Registry.Remove(name)
		switch {
		case err != nil:
			res.Status, res.Err = StatusUnavailable, err
		case !found:
			res.Status = StatusNotFound
		default:
			res.Status = StatusAccepted
		}
		return res
	}
	return Result{Kind: kind, Status: StatusMalformed, Err: errors.New("unhandled kind")}
}
