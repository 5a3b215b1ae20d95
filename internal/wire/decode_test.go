package wire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"trainboard/internal/registry"
)

func u32(v uint32) *uint32 { return &v }

func TestParseLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		line string
		want registry.ScheduleEntry
	}{
		{name: "digits", line: "45 Express Boston", want: registry.ScheduleEntry{TimeLeft: u32(45), TrainName: "Express", TrainDestination: "Boston"}},
		{name: "no digits", line: "Delayed Express Boston", want: registry.ScheduleEntry{TrainName: "Express", TrainDestination: "Boston"}},
		{name: "digit prefix", line: "12min Express Boston", want: registry.ScheduleEntry{TimeLeft: u32(12), TrainName: "Express", TrainDestination: "Boston"}},
		{name: "extra tokens ignored", line: "7 Local Quincy via Braintree", want: registry.ScheduleEntry{TimeLeft: u32(7), TrainName: "Local", TrainDestination: "Quincy"}},
		{name: "zero", line: "0 A B", want: registry.ScheduleEntry{TimeLeft: u32(0), TrainName: "A", TrainDestination: "B"}},
		{name: "max uint32", line: "4294967295 A B", want: registry.ScheduleEntry{TimeLeft: u32(4294967295), TrainName: "A", TrainDestination: "B"}},
		{name: "overflow is unknown", line: "4294967296 A B", want: registry.ScheduleEntry{TrainName: "A", TrainDestination: "B"}},
		{name: "sign is not a digit", line: "-5 A B", want: registry.ScheduleEntry{TrainName: "A", TrainDestination: "B"}},
		{name: "non-ascii digits", line: "٤٥ A B", want: registry.ScheduleEntry{TrainName: "A", TrainDestination: "B"}},
		{name: "double space gives empty token", line: "45  Express Boston", want: registry.ScheduleEntry{TimeLeft: u32(45), TrainName: "", TrainDestination: "Express"}},
		{name: "verbatim case", line: "3 exPRESS boston", want: registry.ScheduleEntry{TimeLeft: u32(3), TrainName: "exPRESS", TrainDestination: "boston"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseLine(tt.line)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseLineTooFewTokens(t *testing.T) {
	t.Parallel()
	for _, line := range []string{"45 Express", "", "bad", "45\tExpress\tBoston"} {
		_, err := ParseLine(line)
		require.ErrorIs(t, err, ErrInvalidSchedule, "line %q", line)
	}
}

func TestDecodeScheduleUpdate(t *testing.T) {
	t.Parallel()
	st, err := DecodeScheduleUpdate([]byte(`{"name":"Central","entries":["45 Express Boston","Delayed Local Quincy","45 Express Boston"],"source":"feed"}`))
	require.NoError(t, err)
	require.Equal(t, "Central", st.Name)
	require.Equal(t, []registry.ScheduleEntry{
		{TimeLeft: u32(45), TrainName: "Express", TrainDestination: "Boston"},
		{TrainName: "Local", TrainDestination: "Quincy"},
		{TimeLeft: u32(45), TrainName: "Express", TrainDestination: "Boston"},
	}, st.Schedule)
}

func TestDecodeScheduleUpdateEmptyEntries(t *testing.T) {
	t.Parallel()
	st, err := DecodeScheduleUpdate([]byte(`{"name":"","entries":[]}`))
	require.NoError(t, err)
	require.Equal(t, "", st.Name)
	require.Empty(t, st.Schedule)
}

func TestDecodeScheduleUpdateRejectsWholeMessage(t *testing.T) {
	t.Parallel()
	_, err := DecodeScheduleUpdate([]byte(`{"name":"A","entries":["45 A B","bad"]}`))
	require.ErrorIs(t, err, ErrInvalidSchedule)
	require.NotErrorIs(t, err, ErrMalformed)
	require.Contains(t, err.Error(), "entries[1]")
}

func TestDecodeScheduleUpdateMalformed(t *testing.T) {
	t.Parallel()
	for _, body := range []string{
		``,
		`not json`,
		`null`,
		`[]`,
		`{"entries":[]}`,
		`{"name":"A"}`,
		`{"name":null,"entries":[]}`,
		`{"name":"A","entries":null}`,
		`{"name":5,"entries":[]}`,
		`{"name":"A","entries":"45 A B"}`,
		`{"name":"A","entries":[45]}`,
		`{"name":"A","entries":["45 A B",null]}`,
	} {
		_, err := DecodeScheduleUpdate([]byte(body))
		require.ErrorIs(t, err, ErrMalformed, "body %q", body)
		require.NotErrorIs(t, err, ErrInvalidSchedule)
	}
}

func TestDecodeRemoval(t *testing.T) {
	t.Parallel()
	name, err := DecodeRemoval([]byte(`{"name":"Central"}`))
	require.NoError(t, err)
	require.Equal(t, "Central", name)

	for _, body := range []string{``, `{}`, `{"name":null}`, `{"name":1}`} {
		_, err := DecodeRemoval([]byte(body))
		require.ErrorIs(t, err, ErrMalformed, "body %q", body)
	}
}

func TestParseKind(t *testing.T) {
	t.Parallel()
	for tag, want := range map[string]Kind{
		"ScheduleUpdate":             KindScheduleUpdate,
		"TrainStationScheduleUpdate": KindScheduleUpdate,
		"Removal":                    KindRemoval,
		"TrainStationRemoval":        KindRemoval,
	} {
		got, ok := ParseKind(tag)
		require.True(t, ok, tag)
		require.Equal(t, want, got)
	}
	_, ok := ParseKind("scheduleupdate")
	require.False(t, ok)
}
