package registry

import (
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"trainboard/internal/eventbus"
)

func TestServiceConcurrentDistinctUpserts(t *testing.T) {
	t.Parallel()
	svc := NewService(nil)

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := svc.Upsert(Station{Name: "st-" + strconv.Itoa(i), Schedule: []ScheduleEntry{NewEntry(uint32(i), "T", "D")}}); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	list := svc.List()
	require.Len(t, list, n)
	seen := map[string]bool{}
	for _, st := range list {
		seen[st.Name] = true
	}
	require.Len(t, seen, n)
	require.Equal(t, uint64(n), svc.Stats().Revision)
}

// Every writer upserts a schedule whose entries all carry its own id and whose
// length is id+1, so a torn write shows up as a mixed or mis-sized schedule.
func TestServiceInterleavedUpsertRemoveIsSerializable(t *testing.T) {
	t.Parallel()
	svc := NewService(nil)

	check := func(st Station) error {
		if len(st.Schedule) == 0 {
			return fmt.Errorf("empty schedule")
		}
		id := st.Schedule[0].TrainName
		want, err := strconv.Atoi(id)
		if err != nil {
			return err
		}
		if len(st.Schedule) != want+1 {
			return fmt.Errorf("writer %s: %d entries, want %d", id, len(st.Schedule), want+1)
		}
		for _, e := range st.Schedule {
			if e.TrainName != id {
				return fmt.Errorf("mixed writers %s and %s", id, e.TrainName)
			}
		}
		return nil
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan error, 16)

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for _, st := range svc.List() {
					if err := check(st); err != nil {
						errs <- err
						return
					}
				}
			}
		}()
	}

	var writers sync.WaitGroup
	for w := 0; w < 8; w++ {
		writers.Add(1)
		go func(w int) {
			defer writers.Done()
			for k := 0; k < 200; k++ {
				if (w+k)%3 == 0 {
					_, _ = svc.Remove("A")
					continue
				}
				st := Station{Name: "A"}
				for j := 0; j <= w; j++ {
					st.Schedule = append(st.Schedule, NewEntry(uint32(k), strconv.Itoa(w), "D"))
				}
				_ = svc.Upsert(st)
			}
		}(w)
	}
	writers.Wait()
	close(stop)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatal(err)
	}

	list := svc.List()
	require.LessOrEqual(t, len(list), 1)
	for _, st := range list {
		require.NoError(t, check(st))
	}
}

func TestServiceListIsPointInTimeCopy(t *testing.T) {
	t.Parallel()
	svc := NewService(nil)
	require.NoError(t, svc.Upsert(Station{Name: "A", Schedule: []ScheduleEntry{NewEntry(1, "x", "y")}}))

	before := svc.List()
	require.NoError(t, svc.Upsert(Station{Name: "A", Schedule: []ScheduleEntry{NewEntry(2, "z", "w")}}))
	require.NoError(t, svc.Upsert(Station{Name: "B"}))

	want := []Station{{Name: "A", Schedule: []ScheduleEntry{NewEntry(1, "x", "y")}}}
	if diff := cmp.Diff(want, before); diff != "" {
		t.Fatalf("earlier view changed (-want +got):\n%s", diff)
	}
}

func TestServiceRemove(t *testing.T) {
	t.Parallel()
	svc := NewService(nil)
	require.NoError(t, svc.Upsert(Station{Name: "A"}))

	found, err := svc.Remove("missing")
	require.NoError(t, err)
	require.False(t, found)
	require.Equal(t, uint64(1), svc.Stats().Revision, "not-found removal is not a mutation")

	found, err = svc.Remove("A")
	require.NoError(t, err)
	require.True(t, found)
	require.Empty(t, svc.List())
}

func TestServiceLoadAndSave(t *testing.T) {
	t.Parallel()
	src := New(7)
	src.Upsert(Station{Name: "Central", Schedule: []ScheduleEntry{NewEntry(45, "Express", "Boston"), NewUnknownEntry("Local", "Quincy")}})
	b, err := Encode(src)
	require.NoError(t, err)

	svc := NewService(nil)
	require.NoError(t, svc.Upsert(Station{Name: "old"}))
	require.NoError(t, svc.Load(b))

	snap, _ := svc.Snapshot()
	require.True(t, snap.Equal(src))

	out, err := svc.Save()
	require.NoError(t, err)
	back, err := Decode(out)
	require.NoError(t, err)
	require.True(t, back.Equal(src))
	require.Equal(t, uint64(7), svc.Stats().Version)
}

func TestServiceLoadEmptyAndInvalid(t *testing.T) {
	t.Parallel()
	svc := NewService(New(9))
	require.NoError(t, svc.Upsert(Station{Name: "keep"}))

	require.ErrorIs(t, svc.Load([]byte(`{"version":1,"train_stations":[{}]}`)), ErrSnapshotInvalid)
	_, ok := svc.Get("keep")
	require.True(t, ok, "failed load must not change state")

	require.NoError(t, svc.Load(nil))
	st := svc.Stats()
	require.Equal(t, DefaultVersion, st.Version)
	require.Zero(t, st.Stations)
}

func TestServiceCloseRejectsMutations(t *testing.T) {
	t.Parallel()
	svc := NewService(nil)
	require.NoError(t, svc.Upsert(Station{Name: "A"}))
	svc.Close()
	require.True(t, svc.Closed())

	require.ErrorIs(t, svc.Upsert(Station{Name: "B"}), ErrClosed)
	_, err := svc.Remove("A")
	require.ErrorIs(t, err, ErrClosed)

	b, err := svc.Save()
	require.NoError(t, err, "save keeps working after close")
	r, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, 1, r.Len())
}

func TestServicePublishesChangeEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	svc := NewService(nil, WithBus(bus))
	require.NoError(t, svc.Upsert(Station{Name: "A", Schedule: []ScheduleEntry{NewEntry(3, "x", "y")}}))
	_, _ = svc.Remove("missing")
	_, _ = svc.Remove("A")

	next := func() eventbus.Event {
		select {
		case e := <-events:
			return e
		case <-time.After(time.Second):
			t.Fatal("expected event")
		}
		return eventbus.Event{}
	}

	e := next()
	require.Equal(t, eventbus.TypeStationUpserted, e.Type)
	require.Equal(t, "A", e.Station)
	require.Equal(t, uint64(1), e.Revision)
	st, ok := e.Data.(Station)
	require.True(t, ok)
	require.Len(t, st.Schedule, 1)

	e = next()
	require.Equal(t, eventbus.TypeStationRemoved, e.Type)
	require.Equal(t, uint64(2), e.Revision)

	select {
	case e := <-events:
		t.Fatalf("unexpected event %+v", e)
	default:
	}
}
