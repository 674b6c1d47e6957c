package repetition_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mpib/mpib/repetition"
	"github.com/mpib/mpib/stats"
)

func TestFixedCountTerminatesAtMaxReps(t *testing.T) {
	// Scenario A from spec.md section 8 (fixed case): min_reps==max_reps.
	p := repetition.Precision{MinReps: 5, MaxReps: 5, CL: 0.95, Eps: 0.01}
	calls := 0
	out, err := repetition.RunCoordinator(context.Background(), p, stats.CI,
		func(_ context.Context, _ int) (float64, error) {
			calls++
			return 1.0, nil
		}, nil)
	require.NoError(t, err)
	require.Equal(t, 5, out.Reps)
	require.Equal(t, 5, calls)
}

func TestConstantSampleStopsAtMinReps(t *testing.T) {
	// Scenario A from spec.md section 8: constant sample, cl=0.95,
	// min_reps=3, max_reps=100, eps=0.01 -> terminates at reps=3.
	p := repetition.Precision{MinReps: 3, MaxReps: 100, CL: 0.95, Eps: 0.01}
	out, err := repetition.RunCoordinator(context.Background(), p, stats.CI,
		func(_ context.Context, _ int) (float64, error) {
			return 1.0, nil
		}, nil)
	require.NoError(t, err)
	require.Equal(t, 3, out.Reps)
	require.Equal(t, 0.0, out.CI)
}

func TestNeverStopsBeforeMaxOfThreeAndMinReps(t *testing.T) {
	p := repetition.Precision{MinReps: 1, MaxReps: 100, CL: 0.95, Eps: 0.5}
	out, err := repetition.RunCoordinator(context.Background(), p, stats.CI,
		func(_ context.Context, _ int) (float64, error) {
			return 1.0, nil
		}, nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, out.Reps, 3)
}

func TestObservationFailurePropagatesImmediately(t *testing.T) {
	p := repetition.Precision{MinReps: 1, MaxReps: 100, CL: 0.95, Eps: 0.01}
	wantErr := errors.New("boom")
	calls := 0
	_, err := repetition.RunCoordinator(context.Background(), p, stats.CI,
		func(_ context.Context, _ int) (float64, error) {
			calls++
			return 0, wantErr
		}, nil)
	require.Error(t, err)
	require.ErrorIs(t, err, wantErr)
	require.Equal(t, 1, calls)
}

func TestCoordinatorAndParticipantTerminateTogether(t *testing.T) {
	p := repetition.Precision{MinReps: 5, MaxReps: 100, CL: 0.95, Eps: 0.2}
	stopCh := make(chan bool, 1)

	coordDone := make(chan repetition.Outcome, 1)
	go func() {
		out, err := repetition.RunCoordinator(context.Background(), p, stats.CI,
			func(_ context.Context, _ int) (float64, error) {
				return 1.0, nil
			},
			func(_ context.Context, stop bool) error {
				stopCh <- stop
				return nil
			})
		require.NoError(t, err)
		coordDone <- out
	}()

	var participantIterations int
	err := repetition.RunParticipant(context.Background(), p.MaxReps,
		func(_ context.Context, _ int) error {
			participantIterations++
			return nil
		},
		func(_ context.Context) (bool, error) {
			return <-stopCh, nil
		})
	require.NoError(t, err)

	out := <-coordDone
	require.Equal(t, out.Reps, participantIterations)
}

func TestInvalidPrecisionRejected(t *testing.T) {
	p := repetition.Precision{MinReps: 10, MaxReps: 5, CL: 0.95, Eps: 0.01}
	require.ErrorIs(t, p.Validate(), repetition.ErrInvalidPrecision)
}
