package evm

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSide(t *testing.T) {
	tests := []struct {
		input   string
		want    Side
		wantErr bool
	}{
		{"heads", SideHeads, false},
		{"tails", SideTails, false},
		{"HEADS", SideHeads, false},
		{" Tails ", SideTails, false},
		{"", 0, true},
		{"edge", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSide(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseEther(t *testing.T) {
	wei, err := ParseEther("1")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", wei.String())

	wei, err = ParseEther("0.01")
	require.NoError(t, err)
	assert.Equal(t, "10000000000000000", wei.String())

	wei, err = ParseEther("0.001")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000", wei.String())

	// Smallest representable unit.
	wei, err = ParseEther("0.000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, "1", wei.String())
}

func TestParseEther_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"not a number", "abc"},
		{"zero", "0"},
		{"negative", "-0.5"},
		{"sub-wei precision", "0.0000000000000000001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEther(tt.input)
			require.Error(t, err)
		})
	}
}

func TestFormatEther(t *testing.T) {
	tests := []struct {
		wei  string
		want string
	}{
		{"1000000000000000000", "1"},
		{"18000000000000000", "0.018"},
		{"10000000000000000", "0.01"},
		{"1", "0.000000000000000001"},
		{"0", "0"},
		{"1500000000000000000", "1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			wei, ok := new(big.Int).SetString(tt.wei, 10)
			require.True(t, ok)
			assert.Equal(t, tt.want, FormatEther(wei))
		})
	}

	assert.Equal(t, "0", FormatEther(nil))
}

func TestParseFormatRoundTrip(t *testing.T) {
	wei, err := ParseEther("0.018")
	require.NoError(t, err)
	assert.Equal(t, "0.018", FormatEther(wei))
}

func TestSettlementWon(t *testing.T) {
	s := &Settlement{Result: SideHeads, PayoutAmount: big.NewInt(18000000000000000)}
	assert.True(t, s.Won(SideHeads))
	assert.False(t, s.Won(SideTails))
}
