package clock_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mpib/mpib/clock"
)

type fakeMaxReducer struct {
	values []float64
}

func (f *fakeMaxReducer) AllReduceMax(_ context.Context, value float64) (float64, error) {
	max := value
	for _, v := range f.values {
		if v > max {
			max = v
		}
	}
	return max, nil
}

func TestNowMonotonic(t *testing.T) {
	a := clock.Now()
	b := clock.Now()
	require.GreaterOrEqual(t, b, a)
}

func TestTickPositive(t *testing.T) {
	require.Greater(t, clock.Tick(), 0.0)
}

func TestMaxTick(t *testing.T) {
	fr := &fakeMaxReducer{values: []float64{0.5, 0.25, 0.75}}
	got, err := clock.MaxTick(context.Background(), fr)
	require.NoError(t, err)
	require.GreaterOrEqual(t, got, 0.75)
}
