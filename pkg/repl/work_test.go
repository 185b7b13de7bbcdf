package repl

import (
	"errors"
	"math"
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWork_Valid(t *testing.T) {
	tests := []struct {
		raw  string
		want Work
	}{
		{"add 2 3", Add{A: 2, B: 3}},
		{"add 0 0", Add{}},
		{"add 4294967295 4294967295", Add{A: math.MaxUint32, B: math.MaxUint32}},
		{"  add\t7   8 ", Add{A: 7, B: 8}},
		{"add 007 1", Add{A: 7, B: 1}},
		{"ping", Ping{}},
		{" ping\r\n", Ping{}},
		{"help", Help{}},
		{"?", Help{}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseWork(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseWork_Invalid(t *testing.T) {
	tests := []struct {
		raw     string
		unknown bool
		detail  string
	}{
		{raw: "", unknown: true},
		{raw: "   ", unknown: true},
		{raw: "foo", unknown: true},
		{raw: "add 2", unknown: true},
		{raw: "add 1 2 3", unknown: true},
		{raw: "ping ping", unknown: true},
		{raw: "PING", unknown: true},
		{raw: "Help", unknown: true},
		{raw: "help me", unknown: true},
		{raw: "quit", unknown: true},
		{raw: "add x y", detail: `strconv.ParseUint: parsing "x": invalid syntax`},
		{raw: "add 1 y", detail: `strconv.ParseUint: parsing "y": invalid syntax`},
		{raw: "add -1 2", detail: `parsing "-1": invalid syntax`},
		{raw: "add 4294967296 1", detail: `parsing "4294967296": value out of range`},
		{raw: "add 1.5 2", detail: "invalid syntax"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			work, err := ParseWork(tt.raw)
			require.Error(t, err)
			assert.Nil(t, work)

			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.raw, perr.Input)
			assert.Contains(t, err.Error(), "'"+tt.raw+"'")

			if tt.unknown {
				assert.ErrorIs(t, err, ErrUnknownCommand)
				assert.Equal(t, "unsupported or malformed command string '"+tt.raw+"'", err.Error())
			} else {
				assert.NotErrorIs(t, err, ErrUnknownCommand)
				var numErr *strconv.NumError
				assert.True(t, errors.As(err, &numErr))
				assert.Contains(t, err.Error(), tt.detail)
			}
		})
	}
}

func TestParseWork_AddRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		a, b := rng.Uint32(), rng.Uint32()
		raw := "add " + strconv.FormatUint(uint64(a), 10) + " " + strconv.FormatUint(uint64(b), 10)

		got, err := ParseWork(raw)
		require.NoError(t, err)
		assert.Equal(t, Add{A: a, B: b}, got)
	}
}

func TestParseWork_Deterministic(t *testing.T) {
	for _, raw := range []string{"add 1 2", "ping", "?", "add x 1", "nope"} {
		w1, err1 := ParseWork(raw)
		w2, err2 := ParseWork(raw)

		assert.Equal(t, w1, w2, raw)
		if err1 == nil {
			assert.NoError(t, err2)
		} else {
			require.Error(t, err2)
			assert.Equal(t, err1.Error(), err2.Error())
		}
	}
}

func TestWork_Verb(t *testing.T) {
	assert.Equal(t, "add", Add{}.Verb())
	assert.Equal(t, "ping", Ping{}.Verb())
	assert.Equal(t, "help", Help{}.Verb())
}
