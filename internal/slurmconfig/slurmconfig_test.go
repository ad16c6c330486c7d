package slurmconfig

import (
	"testing"

	"github.com/cybergis/compute-supervisor/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStorageUnits(t *testing.T) {
	cases := map[string]int64{
		"1k": 1 << 10,
		"2M": 2 << 20,
		"1g": 1 << 30,
		"1G": 1 << 30,
		"1t": 1 << 40,
		"1p": 1 << 50,
		"512": 512,
	}
	for in, want := range cases {
		got, err := parseStorage(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseWalltimeFormats(t *testing.T) {
	cases := map[string]int64{
		"10":          600,
		"5:30":        330,
		"01:00:00":    3600,
		"1-00:00:00":  86400,
		"2-01:30:15":  2*86400 + 1*3600 + 30*60 + 15,
	}
	for in, want := range cases {
		got, err := parseWalltime(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestCeilingTakesElementwiseMinimum(t *testing.T) {
	inputRules := types.SlurmLimits{Nodes: 10, MemoryTotal: "100g", Walltime: "20:00:00"}
	globalCap := types.SlurmLimits{Nodes: 5, MemoryTotal: "30g"}

	ceiling, err := Ceiling(inputRules, globalCap)
	require.NoError(t, err)

	assert.Equal(t, 5, ceiling.Nodes, "global cap of 5 beats input rule of 10 and default of 50")
	assert.Equal(t, "30g", ceiling.MemoryTotal, "global cap of 30g beats input rule of 100g and default of 50g")
	assert.Equal(t, "10:00:00", ceiling.Walltime, "default 10h beats input rule's unset global cap and wins over 20h")
}

func TestValidateRejectsOverCeiling(t *testing.T) {
	ceiling := types.SlurmLimits{Nodes: 4, MemoryTotal: "16g", Walltime: "01:00:00"}

	err := Validate(types.SlurmLimits{Nodes: 8}, ceiling)
	assert.Error(t, err)

	err = Validate(types.SlurmLimits{MemoryTotal: "32g"}, ceiling)
	assert.Error(t, err)

	err = Validate(types.SlurmLimits{Walltime: "02:00:00"}, ceiling)
	assert.Error(t, err)
}

func TestValidateAcceptsWithinCeiling(t *testing.T) {
	ceiling := types.SlurmLimits{Nodes: 4, MemoryTotal: "16g", Walltime: "01:00:00"}
	err := Validate(types.SlurmLimits{Nodes: 2, MemoryTotal: "8g", Walltime: "00:30:00"}, ceiling)
	assert.NoError(t, err)
}

func TestValidateIgnoresUnsetCeilingFields(t *testing.T) {
	err := Validate(types.SlurmLimits{Nodes: 1000}, types.SlurmLimits{})
	assert.NoError(t, err, "a zero-value ceiling field never rejects")
}
