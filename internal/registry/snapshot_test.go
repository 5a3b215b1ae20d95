package registry

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func genRegistry() *rapid.Generator[*Registry] {
	return rapid.Custom(func(t *rapid.T) *Registry {
		r := New(rapid.Uint64().Draw(t, "version"))
		n := rapid.IntRange(0, 8).Draw(t, "stations")
		for i := 0; i < n; i++ {
			st := Station{Name: rapid.String().Draw(t, "name")}
			m := rapid.IntRange(0, 6).Draw(t, "entries")
			for j := 0; j < m; j++ {
				e := ScheduleEntry{
					TrainName:        rapid.String().Draw(t, "train"),
					TrainDestination: rapid.String().Draw(t, "dest"),
				}
				if rapid.Bool().Draw(t, "known") {
					tl := rapid.Uint32().Draw(t, "time_left")
					e.TimeLeft = &tl
				}
				st.Schedule = append(st.Schedule, e)
			}
			r.Upsert(st)
		}
		return r
	})
}

func TestSnapshotRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := genRegistry().Draw(t, "registry")
		b, err := Encode(r)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		got, err := Decode(b)
		if err != nil {
			t.Fatalf("Decode: %v\n%s", err, b)
		}
		if !got.Equal(r) {
			t.Fatalf("round trip mismatch:\n%s", b)
		}
	})
}

func TestEncodeEmptyRegistry(t *testing.T) {
	t.Parallel()
	b, err := Encode(Empty())
	require.NoError(t, err)
	require.JSONEq(t, `{"version":1,"train_stations":[]}`, string(b))
}

func TestEncodeUnknownTimeLeftAsNull(t *testing.T) {
	t.Parallel()
	r := Empty()
	r.Upsert(Station{Name: "Central", Schedule: []ScheduleEntry{
		NewEntry(45, "Express", "Boston"),
		NewUnknownEntry("Express", "Boston"),
	}})
	b, err := Encode(r)
	require.NoError(t, err)
	require.JSONEq(t, `{"version":1,"train_stations":[{"name":"Central","schedule":{"entries":[
		{"time_left":45,"train_name":"Express","train_destination":"Boston"},
		{"time_left":null,"train_name":"Express","train_destination":"Boston"}]}}]}`, string(b))
}

func TestDecodeDocument(t *testing.T) {
	t.Parallel()
	doc := `{
	  "version": 3,
	  "extra": true,
	  "train_stations": [
	    {"name": "South", "schedule": {"entries": []}},
	    {"name": "North", "schedule": {"entries": [
	      {"time_left": 0, "train_name": "", "train_destination": "", "platform": 2},
	      {"time_left": null, "train_name": "Local", "train_destination": "Quincy"}
	    ]}}
	  ]
	}`
	r, err := Decode([]byte(doc))
	require.NoError(t, err)
	require.Equal(t, uint64(3), r.Version())
	require.Equal(t, 2, r.Len())

	st := r.Stations()
	require.Equal(t, "South", st[0].Name)
	require.Equal(t, "North", st[1].Name)
	tl, known := st[1].Schedule[0].Known()
	require.True(t, known)
	require.Zero(t, tl)
	_, known = st[1].Schedule[1].Known()
	require.False(t, known)
}

func TestDecodeRejectsInvalidDocuments(t *testing.T) {
	t.Parallel()
	entry := func(s string) string {
		return `{"version":1,"train_stations":[{"name":"A","schedule":{"entries":[` + s + `]}}]}`
	}
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{name: "empty", doc: "", want: "empty document"},
		{name: "whitespace", doc: " \n", want: "empty document"},
		{name: "not json", doc: "{", want: "expected object"},
		{name: "null", doc: "null", want: "got null"},
		{name: "array", doc: "[]", want: "expected object"},
		{name: "trailing data", doc: `{"version":1,"train_stations":[]} {}`, want: "expected object"},
		{name: "missing version", doc: `{"train_stations":[]}`, want: "version: missing field"},
		{name: "negative version", doc: `{"version":-1,"train_stations":[]}`, want: "version"},
		{name: "fractional version", doc: `{"version":1.5,"train_stations":[]}`, want: "version"},
		{name: "string version", doc: `{"version":"1","train_stations":[]}`, want: "version"},
		{name: "missing stations", doc: `{"version":1}`, want: "train_stations: missing field"},
		{name: "null stations", doc: `{"version":1,"train_stations":null}`, want: "got null"},
		{name: "station not object", doc: `{"version":1,"train_stations":[1]}`, want: "train_stations[0]"},
		{name: "missing name", doc: `{"version":1,"train_stations":[{"schedule":{"entries":[]}}]}`, want: "train_stations[0].name"},
		{name: "null name", doc: `{"version":1,"train_stations":[{"name":null,"schedule":{"entries":[]}}]}`, want: "expected string"},
		{name: "missing schedule", doc: `{"version":1,"train_stations":[{"name":"A"}]}`, want: "schedule"},
		{name: "missing entries", doc: `{"version":1,"train_stations":[{"name":"A","schedule":{}}]}`, want: "entries"},
		{name: "missing time_left", doc: entry(`{"train_name":"x","train_destination":"y"}`), want: "time_left: missing field"},
		{name: "negative time_left", doc: entry(`{"time_left":-5,"train_name":"x","train_destination":"y"}`), want: "time_left"},
		{name: "overflow time_left", doc: entry(`{"time_left":4294967296,"train_name":"x","train_destination":"y"}`), want: "time_left"},
		{name: "string time_left", doc: entry(`{"time_left":"5","train_name":"x","train_destination":"y"}`), want: "time_left"},
		{name: "numeric train_name", doc: entry(`{"time_left":5,"train_name":7,"train_destination":"y"}`), want: "train_name"},
		{name: "missing destination", doc: entry(`{"time_left":5,"train_name":"x"}`), want: "train_destination"},
		{name: "bad second entry", doc: entry(`{"time_left":5,"train_name":"x","train_destination":"y"},{}`), want: "entries[1]"},
		{name: "duplicate names", doc: `{"version":1,"train_stations":[
			{"name":"A","schedule":{"entries":[]}},{"name":"A","schedule":{"entries":[]}}]}`, want: "duplicate station"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, err := Decode([]byte(tt.doc))
			require.Nil(t, r)
			require.ErrorIs(t, err, ErrSnapshotInvalid)
			require.True(t, strings.Contains(err.Error(), tt.want), "error %q should mention %q", err, tt.want)
		})
	}
}

func TestStationMarshalJSON(t *testing.T) {
	st := Station{Name: "A", Schedule: []ScheduleEntry{NewEntry(5, "X", "Y"), NewUnknownEntry("P", "Q")}}
	b, err := json.Marshal(st)
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"A","schedule":{"entries":[
		{"time_left":5,"train_name":"X","train_destination":"Y"},
		{"time_left":null,"train_name":"P","train_destination":"Q"}]}}`, string(b))

	b, err = json.Marshal(Station{Name: "empty"})
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"empty","schedule":{"entries":[]}}`, string(b))
}

func TestStationJSONRoundTrip(t *testing.T) {
	st := Station{Name: "Central", Schedule: []ScheduleEntry{
		NewEntry(0, "Express", "Boston"),
		NewUnknownEntry("Local", "Salem"),
	}}
	b, err := json.Marshal(st)
	require.NoError(t, err)

	var got Station
	require.NoError(t, json.Unmarshal(b, &got))
	require.True(t, got.Equal(st), "got %+v", got)
	left, known := got.Schedule[0].Known()
	require.True(t, known)
	require.Zero(t, left)
	_, known = got.Schedule[1].Known()
	require.False(t, known)

	var list struct {
		TrainStations []Station `json:"train_stations"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"train_stations":[`+string(b)+`]}`), &list))
	require.Len(t, list.TrainStations, 1)
	require.True(t, list.TrainStations[0].Equal(st))
}

func TestStationUnmarshalJSONIsStrict(t *testing.T) {
	for _, in := range []string{
		`{"name":"A"}`,
		`{"name":"A","schedule":{"entries":[{"time_left":-1,"train_name":"x","train_destination":"y"}]}}`,
		`{"name":null,"schedule":{"entries":[]}}`,
		`[]`,
	} {
		var st Station
		err := json.Unmarshal([]byte(in), &st)
		require.ErrorIs(t, err, ErrSnapshotInvalid, in)
	}
}
