package coordinator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/envoymon/internal/coordinator"
	"codeberg.org/mutker/envoymon/internal/envoy"
	"codeberg.org/mutker/envoymon/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fetcherFunc func(ctx context.Context, degraded bool) (*envoy.Snapshot, error)

func (f fetcherFunc) Fetch(ctx context.Context, degraded bool) (*envoy.Snapshot, error) {
	return f(ctx, degraded)
}

func snapshotAt(sec int64, batteries map[string]envoy.Battery) *envoy.Snapshot {
	return &envoy.Snapshot{
		Timestamp: time.Unix(sec, 0),
		Metrics: map[envoy.Key]envoy.Value{
			envoy.KeyProduction: envoy.Number(100),
		},
		Batteries: batteries,
	}
}

type metricEvent struct {
	key   envoy.Key
	value envoy.Value
}

type recordingSubscriber struct {
	mu        sync.Mutex
	snapshots []*envoy.Snapshot
	metrics   []metricEvent
}

func (r *recordingSubscriber) OnSnapshot(s *envoy.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
}

func (r *recordingSubscriber) OnMetric(key envoy.Key, value envoy.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = append(r.metrics, metricEvent{key: key, value: value})
}

func (r *recordingSubscriber) snapshotCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

func (r *recordingSubscriber) valuesFor(key envoy.Key) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []float64
	for _, m := range r.metrics {
		if m.key != key {
			continue
		}
		if number, ok := m.value.Number(); ok {
			out = append(out, number)
		}
	}
	return out
}

func TestNewRequiresFetcher(t *testing.T) {
	_, err := coordinator.New(coordinator.Config{})
	require.Error(t, err)
	assert.Equal(t, coordinator.ErrMissingFetcher, errors.CodeOf(err))
}

func TestStartPublishesInitialSnapshot(t *testing.T) {
	fetcher := fetcherFunc(func(_ context.Context, _ bool) (*envoy.Snapshot, error) {
		return snapshotAt(1000, nil), nil
	})

	coord, err := coordinator.New(coordinator.Config{Fetcher: fetcher, Period: time.Hour})
	require.NoError(t, err)

	recorder := &recordingSubscriber{}
	coord.Subscribe(recorder)

	require.NoError(t, coord.Start(context.Background()))
	defer coord.Stop()

	// The first refresh completes before Start returns
	require.NotNil(t, coord.Current())
	assert.Equal(t, time.Unix(1000, 0), coord.Current().Timestamp)
	assert.Equal(t, 1, recorder.snapshotCount())
	assert.Len(t, recorder.valuesFor(envoy.KeyProduction), 1)
	assert.False(t, coord.Degraded())
	assert.False(t, coord.NeedsReauth())
}

func TestStartTwiceFetchesOnce(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	fetcher := fetcherFunc(func(_ context.Context, _ bool) (*envoy.Snapshot, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return snapshotAt(int64(1000+calls), nil), nil
	})

	coord, err := coordinator.New(coordinator.Config{Fetcher: fetcher, Period: time.Hour})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, coord.Start(ctx))
	require.NoError(t, coord.Start(ctx))
	defer coord.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestOverlappingTicksAreSkipped(t *testing.T) {
	var mu sync.Mutex
	var calls, active, maxActive int

	fetcher := fetcherFunc(func(_ context.Context, _ bool) (*envoy.Snapshot, error) {
		mu.Lock()
		calls++
		n := calls
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()

		if n > 1 {
			// Slower than several poll periods
			time.Sleep(80 * time.Millisecond)
		}

		mu.Lock()
		active--
		mu.Unlock()

		return snapshotAt(int64(1000+n), nil), nil
	})

	coord, err := coordinator.New(coordinator.Config{Fetcher: fetcher, Period: 10 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, coord.Start(context.Background()))

	time.Sleep(100 * time.Millisecond)
	coord.Stop()

	mu.Lock()
	atStop := calls
	assert.Equal(t, 1, maxActive, "fetches must never overlap")
	assert.GreaterOrEqual(t, calls, 2)
	mu.Unlock()

	// Ticks that landed during a slow fetch were dropped, so nothing is
	// left to drain after stop
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, atStop, calls, "skipped ticks must not run later")
}

func TestFirstRefreshAuthFailureDegradesThenRetriesOnce(t *testing.T) {
	var mu sync.Mutex
	var calls []bool
	errFactory := errors.New()

	fetcher := fetcherFunc(func(_ context.Context, degraded bool) (*envoy.Snapshot, error) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, degraded)
		if !degraded {
			return nil, errFactory.WithData(envoy.ErrAuthRejected, "/api/v1/production/inverters")
		}
		return snapshotAt(int64(1000+len(calls)), nil), nil
	})

	coord, err := coordinator.New(coordinator.Config{Fetcher: fetcher, Period: time.Hour})
	require.NoError(t, err)
	require.NoError(t, coord.Start(context.Background()))
	defer coord.Stop()

	mu.Lock()
	assert.Equal(t, []bool{false, true}, calls, "exactly one retry, with the reduced shape")
	mu.Unlock()

	assert.True(t, coord.Degraded())
	assert.False(t, coord.NeedsReauth(), "a degraded first session is not a re-auth condition")
	require.NotNil(t, coord.Current())
}

func TestFirstRefreshAuthFailureTwiceSurfaces(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	errFactory := errors.New()

	fetcher := fetcherFunc(func(_ context.Context, _ bool) (*envoy.Snapshot, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil, errFactory.New(envoy.ErrAuthRejected)
	})

	coord, err := coordinator.New(coordinator.Config{Fetcher: fetcher, Period: 10 * time.Millisecond})
	require.NoError(t, err)

	err = coord.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, envoy.FailureAuth, envoy.Classify(err))
	assert.Nil(t, coord.Current())

	// No poll loop was started
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
}

func TestFirstRefreshTransientFailureSurfaces(t *testing.T) {
	errFactory := errors.New()
	fetcher := fetcherFunc(func(_ context.Context, _ bool) (*envoy.Snapshot, error) {
		return nil, errFactory.New(envoy.ErrFetchTransient)
	})

	coord, err := coordinator.New(coordinator.Config{Fetcher: fetcher, Period: time.Hour})
	require.NoError(t, err)

	err = coord.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, envoy.FailureTransient, envoy.Classify(err))
	assert.False(t, coord.Degraded(), "only auth failures degrade the session")
}

func TestLaterAuthFailureRaisesReauthCondition(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	failAuth := false
	errFactory := errors.New()

	fetcher := fetcherFunc(func(_ context.Context, _ bool) (*envoy.Snapshot, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if failAuth {
			return nil, errFactory.New(envoy.ErrAuthRejected)
		}
		return snapshotAt(int64(1000*calls), nil), nil
	})

	coord, err := coordinator.New(coordinator.Config{Fetcher: fetcher, Period: 10 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, coord.Start(context.Background()))
	defer coord.Stop()

	mu.Lock()
	failAuth = true
	mu.Unlock()

	require.Eventually(t, coord.NeedsReauth, time.Second, 5*time.Millisecond)

	// The last snapshot survives while the condition stands
	retained := coord.Current()
	require.NotNil(t, retained)
	time.Sleep(30 * time.Millisecond)
	assert.Same(t, retained, coord.Current())
	assert.False(t, coord.Degraded(), "an established session never degrades")

	// A successful cycle clears the condition
	mu.Lock()
	failAuth = false
	mu.Unlock()

	require.Eventually(t, func() bool { return !coord.NeedsReauth() }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		current := coord.Current()
		return current != nil && current.Timestamp.After(retained.Timestamp)
	}, time.Second, 5*time.Millisecond)
}

func TestTransientFailureKeepsDeltaBaseline(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	errFactory := errors.New()

	fetcher := fetcherFunc(func(_ context.Context, _ bool) (*envoy.Snapshot, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		switch calls {
		case 1:
			return snapshotAt(1000, map[string]envoy.Battery{
				"A": {PercentFull: 100, CapacityWh: 10},
			}), nil
		case 2:
			return nil, errFactory.New(envoy.ErrFetchTransient)
		default:
			return snapshotAt(int64(1000+calls), map[string]envoy.Battery{
				"A": {PercentFull: 100, CapacityWh: 15},
			}), nil
		}
	})

	recorder := &recordingSubscriber{}
	coord, err := coordinator.New(coordinator.Config{Fetcher: fetcher, Period: 10 * time.Millisecond})
	require.NoError(t, err)
	coord.Subscribe(recorder)
	require.NoError(t, coord.Start(context.Background()))
	defer coord.Stop()

	require.Eventually(t, func() bool {
		return len(recorder.valuesFor(envoy.KeyBatteryEnergyCharged)) >= 2
	}, time.Second, 5*time.Millisecond)

	charged := recorder.valuesFor(envoy.KeyBatteryEnergyCharged)
	assert.InDelta(t, 0.0, charged[0], 1e-9)
	assert.InDelta(t, 5.0, charged[1], 1e-9,
		"the failed cycle in between must not move the delta baseline")
}

func TestStopDiscardsInFlightResult(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	calls := 0

	fetcher := fetcherFunc(func(_ context.Context, _ bool) (*envoy.Snapshot, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()

		if n == 1 {
			return snapshotAt(1000, nil), nil
		}
		<-release
		return snapshotAt(2000, nil), nil
	})

	recorder := &recordingSubscriber{}
	coord, err := coordinator.New(coordinator.Config{Fetcher: fetcher, Period: 10 * time.Millisecond})
	require.NoError(t, err)
	coord.Subscribe(recorder)
	require.NoError(t, coord.Start(context.Background()))

	// Wait for the second fetch to be in flight, then stop while it runs
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 2
	}, time.Second, time.Millisecond)

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	coord.Stop()

	require.NotNil(t, coord.Current())
	assert.Equal(t, time.Unix(1000, 0), coord.Current().Timestamp,
		"a result arriving after stop must be discarded")
	assert.Equal(t, 1, recorder.snapshotCount())
}

func TestStopIsIdempotentAndBlocksRestart(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	fetcher := fetcherFunc(func(_ context.Context, _ bool) (*envoy.Snapshot, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return snapshotAt(int64(1000+calls), nil), nil
	})

	coord, err := coordinator.New(coordinator.Config{Fetcher: fetcher, Period: time.Hour})
	require.NoError(t, err)

	coord.Stop()
	coord.Stop()

	// A stopped coordinator never starts polling
	require.NoError(t, coord.Start(context.Background()))
	assert.Nil(t, coord.Current())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, calls)
}
