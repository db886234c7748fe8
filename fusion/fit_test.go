package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func surveySamples(pl PathLoss) []FitSample {
	var out []FitSample
	for d := 1.0; d <= 10; d++ {
		out = append(out, FitSample{Distance: d, RSSI: pl.RSSIAt(d)})
	}
	return out
}

func TestFitPathLossRecoversModel(t *testing.T) {
	truth := PathLoss{RSSI1m: -45, N: 2.5}
	res, err := FitPathLoss(surveySamples(truth))
	require.NoError(t, err)
	assert.InDelta(t, truth.RSSI1m, res.RSSI1m, 1e-6)
	assert.InDelta(t, truth.N, res.N, 1e-6)
	assert.InDelta(t, 0, res.RMSE, 1e-6)
	assert.Equal(t, 10, res.Used)
}

func TestFitPathLossDropsOutlier(t *testing.T) {
	truth := PathLoss{RSSI1m: -40, N: 2}
	samples := append(surveySamples(truth), FitSample{Distance: 4, RSSI: truth.RSSIAt(4) + 15})
	res, err := FitPathLoss(samples)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Used)
	assert.InDelta(t, truth.N, res.N, 1e-6)
}

func TestFitPathLossNeedsSpread(t *testing.T) {
	_, err := FitPathLoss([]FitSample{{Distance: 2, RSSI: -46}})
	assert.Error(t, err)
	_, err = FitPathLoss([]FitSample{{Distance: 2, RSSI: -46}, {Distance: 2, RSSI: -47}})
	assert.Error(t, err)
	_, err = FitPathLoss([]FitSample{{Distance: 0, RSSI: -46}, {Distance: -1, RSSI: -47}})
	assert.Error(t, err)
}
