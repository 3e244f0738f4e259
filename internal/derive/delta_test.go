package derive_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/envoymon/internal/derive"
	"codeberg.org/mutker/envoymon/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	return f.now
}

type observation struct {
	value float64
	ok    bool
	want  float64
}

func feedTracker(t *testing.T, tracker *derive.Tracker, observations []observation) {
	t.Helper()

	at := time.Unix(2000, 0)
	for i, obs := range observations {
		got, err := tracker.Observe(obs.value, obs.ok, at)
		require.NoError(t, err)
		assert.InDelta(t, obs.want, got, 1e-9, "observation %d", i)
		at = at.Add(time.Minute)
	}
}

func TestTrackerIncreasing(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	tracker := derive.NewTracker(derive.Increasing, clock)

	feedTracker(t, tracker, []observation{
		{0, false, 0},
		{10, true, 0},
		{8, true, 0},
		{15, true, 7},
		{15, true, 0},
	})
}

func TestTrackerDecreasing(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	tracker := derive.NewTracker(derive.Decreasing, clock)

	feedTracker(t, tracker, []observation{
		{0, false, 0},
		{10, true, 0},
		{8, true, 2},
		{15, true, 0},
		{15, true, 0},
	})
}

func TestTrackerReportsLastTransitionOnly(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	tracker := derive.NewTracker(derive.Increasing, clock)

	// Two qualifying steps in a row report the latest step, never a total
	feedTracker(t, tracker, []observation{
		{10, true, 0},
		{12, true, 2},
		{15, true, 3},
		{14, true, 0},
	})
}

func TestTrackerZeroAcrossUnavailability(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	tracker := derive.NewTracker(derive.Increasing, clock)

	// A gap clears the delta on the way in and on the way out
	feedTracker(t, tracker, []observation{
		{10, true, 0},
		{0, false, 0},
		{15, true, 0},
		{20, true, 5},
	})
}

func TestTrackerBaselineMovesEveryObservation(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	tracker := derive.NewTracker(derive.Increasing, clock)

	_, err := tracker.Observe(10, true, time.Unix(2000, 0))
	require.NoError(t, err)
	first := tracker.LastReset()

	clock.now = clock.now.Add(time.Minute)
	_, err = tracker.Observe(10, true, time.Unix(2060, 0))
	require.NoError(t, err)

	assert.True(t, tracker.LastReset().After(first), "baseline must move even when the delta stays zero")
}

func TestTrackerRejectsStaleObservation(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	tracker := derive.NewTracker(derive.Increasing, clock)

	_, err := tracker.Observe(10, true, time.Unix(2000, 0))
	require.NoError(t, err)
	_, err = tracker.Observe(12, true, time.Unix(2060, 0))
	require.NoError(t, err)
	require.InDelta(t, 2.0, tracker.Delta(), 1e-9)
	baseline := tracker.LastReset()

	// Equal and earlier stamps are both stale
	delta, err := tracker.Observe(99, true, time.Unix(2060, 0))
	require.Error(t, err)
	assert.Equal(t, derive.ErrOutOfOrder, errors.CodeOf(err))
	assert.InDelta(t, 2.0, delta, 1e-9)

	delta, err = tracker.Observe(99, true, time.Unix(1500, 0))
	require.Error(t, err)
	assert.InDelta(t, 2.0, delta, 1e-9)
	assert.Equal(t, baseline, tracker.LastReset(), "a rejected observation must not touch state")

	// The next in-order observation diffs against the last accepted value
	delta, err = tracker.Observe(15, true, time.Unix(2120, 0))
	require.NoError(t, err)
	assert.InDelta(t, 3.0, delta, 1e-9)
}
