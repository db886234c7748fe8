package fusion

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *CalibrationStore {
	t.Helper()
	s, err := NewCalibrationStore(DefaultCalibration())
	require.NoError(t, err)
	return s
}

func TestDefaultCalibration(t *testing.T) {
	c := newStore(t).Get()
	assert.Equal(t, "ENTRANCE", c.A1.Name)
	assert.Equal(t, Point{X: 10, Y: 0}, c.A2.Position())
	assert.Equal(t, Point{X: 5, Y: 10}, c.A3.Position())
	for _, e := range c.Entries() {
		assert.Equal(t, -40.0, e.RSSI1m)
		assert.Equal(t, 2.0, e.N)
	}
}

func TestUpdateRejectsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		id     AnchorID
		rssi1m float64
		n      float64
		field  string
	}{
		{"unknown anchor", "A4", -40, 2, "anchor_id"},
		{"empty anchor", "", -40, 2, "anchor_id"},
		{"zero exponent", A1, -40, 0, "n"},
		{"negative exponent", A2, -40, -1, "n"},
		{"nan exponent", A3, -40, math.NaN(), "n"},
		{"infinite rssi", A1, math.Inf(-1), 2, "rssi_1m"},
		{"nan rssi", A1, math.NaN(), 2, "rssi_1m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			before := s.Get()
			err := s.Update(tt.id, tt.rssi1m, tt.n)
			require.Error(t, err)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, before, s.Get())
		})
	}
}

func TestUpdateUnknownAnchorWrapsSentinel(t *testing.T) {
	err := newStore(t).Update("B7", -40, 2)
	assert.True(t, errors.Is(err, ErrUnknownAnchor))
}

func TestUpdateChangesDistance(t *testing.T) {
	s := newStore(t)
	assert.InDelta(t, 10.0, Distance(-60, s.Get().A1), 1e-9)

	require.NoError(t, s.Update(A1, -42, 2.2))
	a1 := s.Get().A1
	assert.InDelta(t, 10.0, Distance(-64, a1), 1e-9)
	assert.InDelta(t, math.Pow(10, 18.0/22.0), Distance(-60, a1), 1e-9)
	assert.InDelta(t, 10.0, Distance(-60, s.Get().A2), 1e-9, "other anchors unchanged")
}

func TestUpdateKeepsCoordinates(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Update(A2, -55, 2.4))
	e := s.Get().A2
	assert.Equal(t, -55.0, e.RSSI1m)
	assert.Equal(t, 2.4, e.N)
	assert.Equal(t, Point{X: 10, Y: 0}, e.Position())
	assert.Equal(t, DefaultCalibration().A1, s.Get().A1)
}

func TestPatchKeepsOmittedFields(t *testing.T) {
	s := newStore(t)
	n := 3.1
	require.NoError(t, s.Patch(A3, nil, &n))
	assert.Equal(t, -40.0, s.Get().A3.RSSI1m)
	assert.Equal(t, 3.1, s.Get().A3.N)

	bad := -2.0
	require.Error(t, s.Patch(A3, nil, &bad))
	assert.Equal(t, 3.1, s.Get().A3.N)
}

func TestResetRestoresDefaults(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Update(A1, -70, 3))
	assert.Equal(t, DefaultCalibration(), s.Reset())
	assert.Equal(t, DefaultCalibration(), s.Get())
}

func TestNewCalibrationStoreValidates(t *testing.T) {
	c := DefaultCalibration()
	c.A2.N = 0
	_, err := NewCalibrationStore(c)
	require.Error(t, err)
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}
