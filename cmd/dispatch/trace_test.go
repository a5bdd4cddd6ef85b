package main

import (
	"testing"
	"time"

	"github.com/cepro/dispatchengine/simulator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetConsumptionSamplesSubtractsSolar(t *testing.T) {
	ts, err := time.Parse("2006-01-02T15:04:05", "2024-06-01T12:00:00")
	require.NoError(t, err)

	rows := []simulator.TraceRow{
		{Timestamp: ts, ConsumptionKWh: 5, SolarKWh: 3},
		{Timestamp: ts.Add(time.Hour), ConsumptionKWh: 2, SolarKWh: 6}, // solar exceeds load
		{Timestamp: ts.Add(2 * time.Hour), ConsumptionKWh: 4, SolarKWh: 0},
	}

	samples := netConsumptionSamples(rows)
	require.Len(t, samples, 3)
	assert.Equal(t, 2.0, samples[0].KW, "5kWh load minus 3kWh solar nets to 2kWh")
	assert.Equal(t, 0.0, samples[1].KW, "solar exceeding load floors at zero, not a negative net")
	assert.Equal(t, 4.0, samples[2].KW, "no solar column leaves consumption unchanged")
}

func TestSliceDateRangeFiltersInclusively(t *testing.T) {
	base, err := time.Parse("2006-01-02T15:04:05", "2024-01-01T00:00:00")
	require.NoError(t, err)

	rows := []simulator.TraceRow{
		{Timestamp: base},
		{Timestamp: base.Add(time.Hour)},
		{Timestamp: base.Add(2 * time.Hour)},
	}

	start := base.Add(time.Hour)
	out := sliceDateRange(rows, &start, nil)
	assert.Len(t, out, 2)
	assert.True(t, out[0].Timestamp.Equal(start))
}
