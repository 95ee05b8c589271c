package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  *Type
	}{
		{"bits[1]", Bits(1)},
		{"bits[8]", Bits(8)},
		{"bits[8][3]", ArrayOf(Bits(8), 3)},
		{"bits[4][3][2]", ArrayOf(ArrayOf(Bits(4), 3), 2)},
		{"(bits[1], bits[8])", TupleOf(Bits(1), Bits(8))},
		{"(bits[1], bits[8][2])", TupleOf(Bits(1), ArrayOf(Bits(8), 2))},
		{"((bits[1], bits[2]), bits[3])", TupleOf(TupleOf(Bits(1), Bits(2)), Bits(3))},
		{"(bits[8])[4]", ArrayOf(TupleOf(Bits(8)), 4)},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseType(tt.input)
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "parsed %s, want %s", got, tt.want)
		})
	}
}

func TestParseTypeErrors(t *testing.T) {
	t.Parallel()

	for _, input := range []string{
		"",
		"bits",
		"bits[",
		"bits[x]",
		"bits[-1]",
		"(bits[1]",
		"int[8]",
		"bits[8] junk",
	} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseType(input)
			assert.Error(t, err, "input %q", input)
		})
	}
}

func TestFlatBitCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		typ  *Type
		want int
	}{
		{Bits(1), 1},
		{Bits(32), 32},
		{ArrayOf(Bits(8), 3), 24},
		{TupleOf(Bits(1), Bits(8), ArrayOf(Bits(4), 2)), 17},
		{TupleOf(), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.typ.FlatBitCount(), "type %s", tt.typ)
	}
}

func TestTypeStringRoundTrip(t *testing.T) {
	t.Parallel()

	for _, typ := range []*Type{
		Bits(8),
		ArrayOf(Bits(8), 3),
		TupleOf(Bits(1), ArrayOf(Bits(2), 4)),
	} {
		parsed, err := ParseType(typ.String())
		require.NoError(t, err)
		assert.True(t, parsed.Equal(typ), "round trip of %s", typ)
	}
}
