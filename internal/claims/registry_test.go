package claims

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mil-ad/sensorproxy/internal/sensor"
)

// fakeWatcher records liveness watches and lets tests make clients vanish.
type fakeWatcher struct {
	mu        sync.Mutex
	watches   map[string][]func(string)
	active    int
	cancelled int
	err       error
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{watches: make(map[string][]func(string))}
}

func (w *fakeWatcher) Watch(client string, onVanish func(string)) (func(), error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return nil, w.err
	}
	w.watches[client] = append(w.watches[client], onVanish)
	w.active++
	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			w.active--
			w.cancelled++
			w.mu.Unlock()
		})
	}, nil
}

func (w *fakeWatcher) vanish(client string) {
	w.mu.Lock()
	cbs := w.watches[client]
	delete(w.watches, client)
	w.mu.Unlock()
	for _, cb := range cbs {
		cb(client)
	}
}

func (w *fakeWatcher) counts() (active, cancelled int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active, w.cancelled
}

func TestClaimIsIdempotent(t *testing.T) {
	for _, kind := range sensor.Kinds() {
		t.Run(kind.String(), func(t *testing.T) {
			w := newFakeWatcher()
			r := NewRegistry(w, zaptest.NewLogger(t))

			changes := 0
			r.OnChange = func(sensor.Kind, int) { changes++ }

			require.NoError(t, r.Claim(kind, ":1.10"))
			require.NoError(t, r.Claim(kind, ":1.10"))

			assert.Equal(t, 1, r.Count(kind))
			assert.True(t, r.Holds(kind, ":1.10"))
			active, _ := w.counts()
			assert.Equal(t, 1, active, "second claim must not add a watch")
			assert.Equal(t, 1, changes, "second claim must have no side effect")
		})
	}
}

func TestReleaseWithoutClaim(t *testing.T) {
	w := newFakeWatcher()
	r := NewRegistry(w, zaptest.NewLogger(t))
	require.NoError(t, r.Claim(sensor.Light, ":1.1"))

	r.Release(sensor.Light, ":1.2")
	r.Release(sensor.Compass, ":1.1")

	assert.Equal(t, []string{":1.1"}, r.Clients(sensor.Light))
	_, cancelled := w.counts()
	assert.Zero(t, cancelled)
}

func TestReleaseOnlyTouchesOneKind(t *testing.T) {
	w := newFakeWatcher()
	r := NewRegistry(w, zaptest.NewLogger(t))
	require.NoError(t, r.Claim(sensor.Accelerometer, ":1.5"))
	require.NoError(t, r.Claim(sensor.Proximity, ":1.5"))

	r.Release(sensor.Accelerometer, ":1.5")

	assert.False(t, r.Holds(sensor.Accelerometer, ":1.5"))
	assert.True(t, r.Holds(sensor.Proximity, ":1.5"))
	active, cancelled := w.counts()
	assert.Equal(t, 1, active)
	assert.Equal(t, 1, cancelled)
}

func TestClientVanishedReleasesEverything(t *testing.T) {
	w := newFakeWatcher()
	r := NewRegistry(w, zaptest.NewLogger(t))
	for _, kind := range sensor.Kinds() {
		require.NoError(t, r.Claim(kind, ":1.7"))
	}
	require.NoError(t, r.Claim(sensor.Compass, ":1.8"))
	require.NoError(t, r.Claim(sensor.Light, ":1.8"))

	w.vanish(":1.7")

	for _, kind := range sensor.Kinds() {
		assert.False(t, r.Holds(kind, ":1.7"), kind.String())
	}
	assert.True(t, r.Holds(sensor.Compass, ":1.8"))
	assert.True(t, r.Holds(sensor.Light, ":1.8"))
	active, _ := w.counts()
	assert.Equal(t, 2, active)
}

func TestClaimWatchError(t *testing.T) {
	w := newFakeWatcher()
	w.err = errors.New("bus gone")
	r := NewRegistry(w, zaptest.NewLogger(t))

	err := r.Claim(sensor.Light, ":1.3")
	require.Error(t, err)
	assert.Zero(t, r.Count(sensor.Light))
}

func TestInvalidKind(t *testing.T) {
	r := NewRegistry(newFakeWatcher(), zaptest.NewLogger(t))
	assert.Error(t, r.Claim(sensor.Kind(9), ":1.1"))
	r.Release(sensor.Kind(9), ":1.1")
	assert.False(t, r.Holds(sensor.Kind(-1), ":1.1"))
	assert.Zero(t, r.Count(sensor.Kind(9)))
	assert.Nil(t, r.Clients(sensor.Kind(9)))
}

func TestOnChangeCounts(t *testing.T) {
	r := NewRegistry(newFakeWatcher(), zaptest.NewLogger(t))
	var got []int
	r.OnChange = func(kind sensor.Kind, n int) {
		assert.Equal(t, sensor.Proximity, kind)
		got = append(got, n)
	}

	require.NoError(t, r.Claim(sensor.Proximity, ":1.1"))
	require.NoError(t, r.Claim(sensor.Proximity, ":1.2"))
	r.Release(sensor.Proximity, ":1.1")
	r.ClientVanished(":1.2")

	assert.Equal(t, []int{1, 2, 1, 0}, got)
}

func TestCloseCancelsWatches(t *testing.T) {
	w := newFakeWatcher()
	r := NewRegistry(w, zaptest.NewLogger(t))
	require.NoError(t, r.Claim(sensor.Light, ":1.1"))
	require.NoError(t, r.Claim(sensor.Compass, ":1.2"))

	r.Close()

	active, cancelled := w.counts()
	assert.Zero(t, active)
	assert.Equal(t, 2, cancelled)
	assert.Zero(t, r.Count(sensor.Light))
}

func TestConcurrentClaimAndVanish(t *testing.T) {
	w := newFakeWatcher()
	r := NewRegistry(w, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = r.Claim(sensor.Accelerometer, ":1.99")
		}()
		go func() {
			defer wg.Done()
			r.ClientVanished(":1.99")
		}()
	}
	wg.Wait()

	r.ClientVanished(":1.99")
	assert.Zero(t, r.Count(sensor.Accelerometer))
	active, _ := w.counts()
	assert.Zero(t, active)
}
