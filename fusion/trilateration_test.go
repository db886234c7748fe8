package fusion

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeastSquaresExactDistances(t *testing.T) {
	calib := DefaultCalibration()
	est := NewLeastSquares(DefaultRoomSize)
	for _, p := range []Point{{3, 4}, {5, 5}, {0.5, 9.5}, {9, 1}, {5, 0.2}} {
		got, err := est.Estimate(EuclideanDistances(p, calib), calib)
		require.NoError(t, err)
		assert.InDelta(t, p.X, got.X, 1e-6)
		assert.InDelta(t, p.Y, got.Y, 1e-6)
	}
}

func TestLeastSquaresNoisyDistances(t *testing.T) {
	calib := DefaultCalibration()
	est := NewLeastSquares(DefaultRoomSize)
	r := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 200; i++ {
		p := Point{X: 1 + 8*r.Float64(), Y: 1 + 8*r.Float64()}
		d := EuclideanDistances(p, calib).Map(func(v float64) float64 {
			return v + (r.Float64()-0.5)*0.1
		})
		got, err := est.Estimate(d, calib)
		require.NoError(t, err)
		assert.Less(t, got.Dist(p), 0.5, "truth %v got %v", p, got)
	}
}

func TestLeastSquaresClampsToRoom(t *testing.T) {
	calib := DefaultCalibration()
	est := NewLeastSquares(DefaultRoomSize)
	got, err := est.Estimate(EuclideanDistances(Point{X: 13, Y: -2}, calib), calib)
	require.NoError(t, err)
	assert.Equal(t, 10.0, got.X)
	assert.Equal(t, 0.0, got.Y)
}

func TestLeastSquaresRejectsNonFinite(t *testing.T) {
	est := NewLeastSquares(DefaultRoomSize)
	_, err := est.Estimate(Triple{A1: 1, A2: math.NaN(), A3: 2}, DefaultCalibration())
	assert.True(t, errors.Is(err, ErrDegenerate))
}

func TestLeastSquaresCoincidentAnchors(t *testing.T) {
	calib := DefaultCalibration()
	calib.A2.X, calib.A2.Y = 0, 0
	calib.A3.X, calib.A3.Y = 0, 0
	est := &LeastSquares{RoomSize: DefaultRoomSize}
	_, err := est.Estimate(Triple{A1: 1, A2: 1, A3: 1}, calib)
	assert.True(t, errors.Is(err, ErrDegenerate))
}
