package utils

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitU256(t *testing.T) {
	tests := []struct {
		name  string
		value string
		low   string
		high  string
	}{
		{"zero", "0", "0", "0"},
		{"small", "50000000000", "50000000000", "0"},
		{"exactly 2^128", "340282366920938463463374607431768211456", "0", "1"},
		{"2^128 - 1", "340282366920938463463374607431768211455", "340282366920938463463374607431768211455", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := new(big.Int).SetString(tt.value, 10)
			require.True(t, ok)

			low, high := SplitU256(v)
			assert.Equal(t, tt.low, low.String())
			assert.Equal(t, tt.high, high.String())
			assert.Equal(t, 0, CombineU256(low, high).Cmp(v))
		})
	}
}

func TestParseU256(t *testing.T) {
	v, err := ParseU256("50000000000")
	require.NoError(t, err)
	assert.Equal(t, "50000000000", v.String())

	_, err = ParseU256("-1")
	assert.Error(t, err)

	_, err = ParseU256("not a number")
	assert.Error(t, err)
}

func TestParseFieldElement(t *testing.T) {
	v, err := ParseFieldElement("0xff")
	require.NoError(t, err)
	assert.Equal(t, int64(255), v.Int64())

	v, err = ParseFieldElement("255")
	require.NoError(t, err)
	assert.Equal(t, int64(255), v.Int64())

	// The modulus itself is not a valid element.
	_, err = ParseFieldElement(FieldModulus().String())
	assert.Error(t, err)
}

func TestReduceToField(t *testing.T) {
	m := FieldModulus()
	over := new(big.Int).Add(m, big.NewInt(7))
	assert.Equal(t, int64(7), ReduceToField(over).Int64())
}
