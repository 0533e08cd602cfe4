package control

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"baas/internal/backend"
	"baas/internal/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	kind   string
	x, y   int
	x2, y2 int
	d      time.Duration
	at     time.Time
}

type recorder struct {
	method  backend.Method
	initErr error

	mu     sync.Mutex
	inits  int
	exits  int
	events []event
}

func (r *recorder) Init() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inits++
	return r.initErr
}

func (r *recorder) Exit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exits++
}

func (r *recorder) add(e event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.at = time.Now()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Click(x, y int) error { return r.add(event{kind: "click", x: x, y: y}) }

func (r *recorder) LongClick(x, y int, d time.Duration) error {
	return r.add(event{kind: "long", x: x, y: y, d: d})
}

func (r *recorder) Swipe(x1, y1, x2, y2 int, d time.Duration) error {
	return r.add(event{kind: "swipe", x: x1, y: y1, x2: x2, y2: y2, d: d})
}

func (r *recorder) snapshot() (inits, exits int, events []event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inits, r.exits, append([]event(nil), r.events...)
}

type recorderFactory struct {
	mu      sync.Mutex
	built   []*recorder
	initErr map[backend.Method]error
}

func (f *recorderFactory) build(m backend.Method) (InputController, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &recorder{method: m, initErr: f.initErr[m]}
	f.built = append(f.built, r)
	return r, nil
}

func (f *recorderFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.built)
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestControl(t *testing.T, method string, ratio float64) (*Control, *recorderFactory) {
	t.Helper()
	f := &recorderFactory{initErr: map[backend.Method]error{}}
	c, err := New(method, ratio, f.build, testLog())
	require.NoError(t, err)
	return c, f
}

func TestZeroJitterIsExact(t *testing.T) {
	c, f := newTestControl(t, "adb", 0.5)
	opts := DefaultClickOptions()

	for _, j := range []JitterSpec{{Kind: JitterNone, Magnitude: 9}, {Kind: JitterRectangle}, {Kind: JitterCircle}} {
		opts.Jitter = j
		for i := 0; i < 50; i++ {
			require.NoError(t, c.Click(types.Point{X: 101, Y: 51}, opts))
		}
	}
	_, _, events := f.built[0].snapshot()
	require.Len(t, events, 150)
	for _, e := range events {
		assert.Equal(t, 51, e.x)
		assert.Equal(t, 26, e.y)
	}
}

func TestClickTiming(t *testing.T) {
	c, f := newTestControl(t, "nemu", 1)
	opts := ClickOptions{
		Count:    3,
		Jitter:   JitterSpec{Kind: JitterNone},
		Interval: 100 * time.Millisecond,
		PreWait:  50 * time.Millisecond,
		PostWait: 200 * time.Millisecond,
		Label:    "start button",
	}

	start := time.Now()
	require.NoError(t, c.Click(types.Point{X: 10, Y: 10}, opts))
	elapsed := time.Since(start)

	_, _, events := f.built[0].snapshot()
	require.Len(t, events, 3)
	assert.GreaterOrEqual(t, events[0].at.Sub(start), 50*time.Millisecond)
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].at.Sub(events[i-1].at), 100*time.Millisecond)
	}
	assert.GreaterOrEqual(t, elapsed, 450*time.Millisecond)
}

func TestClickValidation(t *testing.T) {
	c, f := newTestControl(t, "nemu", 1)

	opts := DefaultClickOptions()
	opts.Count = 0
	assert.ErrorIs(t, c.Click(types.Point{}, opts), types.ErrConfiguration)

	opts = DefaultClickOptions()
	opts.Jitter.Magnitude = -1
	assert.ErrorIs(t, c.Click(types.Point{}, opts), types.ErrConfiguration)

	assert.ErrorIs(t, c.LongClick(types.Point{}, time.Second, JitterSpec{Kind: JitterKind(7)}), types.ErrConfiguration)
	assert.ErrorIs(t, c.Swipe(types.Point{}, types.Point{}, -time.Second, DefaultSwipeOptions()), types.ErrConfiguration)

	_, _, events := f.built[0].snapshot()
	assert.Empty(t, events)
}

func TestNewValidation(t *testing.T) {
	f := &recorderFactory{}
	_, err := New("nemu", 0, f.build, testLog())
	assert.ErrorIs(t, err, types.ErrConfiguration)
	_, err = New("telepathy", 1, f.build, testLog())
	assert.ErrorIs(t, err, types.ErrConfiguration)
	assert.Zero(t, f.count())

	f.initErr = map[backend.Method]error{
		backend.MethodScrcpy: types.ConnectionError("fake: init", errors.New("refused")),
	}
	_, err = New("scrcpy", 1, f.build, testLog())
	assert.ErrorIs(t, err, types.ErrConnection)
}

func TestLongClickAndSwipeForwardDurations(t *testing.T) {
	c, f := newTestControl(t, "scrcpy", 2)
	none := JitterSpec{Kind: JitterNone}

	require.NoError(t, c.LongClick(types.Point{X: 5, Y: 6}, 1500*time.Millisecond, none))
	require.NoError(t, c.Swipe(types.Point{X: 1, Y: 2}, types.Point{X: 3, Y: 4}, 300*time.Millisecond,
		SwipeOptions{StartJitter: none, EndJitter: none}))

	_, _, events := f.built[0].snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, event{kind: "long", x: 10, y: 12, d: 1500 * time.Millisecond}, withoutTime(events[0]))
	assert.Equal(t, event{kind: "swipe", x: 2, y: 4, x2: 6, y2: 8, d: 300 * time.Millisecond}, withoutTime(events[1]))
}

func TestSwipeJittersEndsIndependently(t *testing.T) {
	c, f := newTestControl(t, "adb", 1)
	opts := SwipeOptions{
		StartJitter: JitterSpec{Kind: JitterNone},
		EndJitter:   JitterSpec{Kind: JitterRectangle, Magnitude: 3},
	}
	for i := 0; i < 200; i++ {
		require.NoError(t, c.Swipe(types.Point{X: 100, Y: 100}, types.Point{X: 200, Y: 200}, 0, opts))
	}
	_, _, events := f.built[0].snapshot()
	moved := false
	for _, e := range events {
		assert.Equal(t, 100, e.x)
		assert.Equal(t, 100, e.y)
		assert.InDelta(t, 200, e.x2, 3)
		assert.InDelta(t, 200, e.y2, 3)
		if e.x2 != 200 || e.y2 != 200 {
			moved = true
		}
	}
	assert.True(t, moved)
}

func withoutTime(e event) event {
	e.at = time.Time{}
	return e
}

func TestSwitchAccounting(t *testing.T) {
	c, f := newTestControl(t, "shared-memory-emulator", 1)

	require.NoError(t, c.SetControlMethod("video-mirror", true))
	require.NoError(t, c.SetControlMethod("command-bridge", true))
	assert.Equal(t, backend.MethodADB, c.Method())

	require.Len(t, f.built, 3)
	original, mirror, bridge := f.built[0], f.built[1], f.built[2]

	inits, exits, _ := original.snapshot()
	assert.Equal(t, 1, inits)
	assert.Equal(t, 1, exits)
	inits, exits, _ = mirror.snapshot()
	assert.Equal(t, 1, inits)
	assert.Equal(t, 1, exits)
	inits, exits, _ = bridge.snapshot()
	assert.Equal(t, 1, inits)
	assert.Equal(t, 0, exits)

	require.NoError(t, c.Click(types.Point{X: 1, Y: 1}, DefaultClickOptions()))
	_, _, ev := original.snapshot()
	assert.Empty(t, ev)
	_, _, ev = mirror.snapshot()
	assert.Empty(t, ev)
	_, _, ev = bridge.snapshot()
	assert.Len(t, ev, 1)
}

func TestSwitchWithoutExitKeepsPreviousAlive(t *testing.T) {
	c, f := newTestControl(t, "nemu", 1)
	require.NoError(t, c.SetControlMethod("adb", false))
	_, exits, _ := f.built[0].snapshot()
	assert.Zero(t, exits)
}

func TestUnknownMethodLeavesBackendOperable(t *testing.T) {
	c, f := newTestControl(t, "nemu", 1)

	err := c.SetControlMethod("nonexistent-backend", true)
	assert.ErrorIs(t, err, types.ErrConfiguration)
	assert.Equal(t, backend.MethodNemu, c.Method())
	assert.Equal(t, 1, f.count())

	require.NoError(t, c.Click(types.Point{X: 3, Y: 3}, DefaultClickOptions()))
	_, exits, events := f.built[0].snapshot()
	assert.Zero(t, exits)
	assert.Len(t, events, 1)
}

func TestFailedSwitchKeepsOldBackend(t *testing.T) {
	c, f := newTestControl(t, "nemu", 1)
	f.initErr[backend.MethodScrcpy] = types.ConnectionError("fake: init", errors.New("no server"))

	err := c.SetControlMethod("scrcpy", true)
	assert.ErrorIs(t, err, types.ErrConnection)
	assert.Equal(t, backend.MethodNemu, c.Method())

	_, exits, _ := f.built[0].snapshot()
	assert.Zero(t, exits)
	require.NoError(t, c.Click(types.Point{}, DefaultClickOptions()))
}

func TestExit(t *testing.T) {
	c, f := newTestControl(t, "adb", 1)
	c.Exit()
	c.Exit()

	_, exits, _ := f.built[0].snapshot()
	assert.Equal(t, 1, exits)
	assert.ErrorIs(t, c.Click(types.Point{}, DefaultClickOptions()), types.ErrClosed)
	assert.ErrorIs(t, c.SetControlMethod("nemu", true), types.ErrClosed)
	assert.Equal(t, 1, f.count())
}

func TestClickAfterExitSkipsWaits(t *testing.T) {
	c, _ := newTestControl(t, "adb", 1)
	c.Exit()

	opts := DefaultClickOptions()
	opts.PreWait = 5 * time.Second
	opts.PostWait = 5 * time.Second
	start := time.Now()
	assert.ErrorIs(t, c.Click(types.Point{X: 1, Y: 1}, opts), types.ErrClosed)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDefaultLongClickJitter(t *testing.T) {
	j := DefaultLongClickJitter()
	assert.Equal(t, JitterRectangle, j.Kind)
	assert.Equal(t, 5, j.Magnitude)

	c, f := newTestControl(t, "adb", 1)
	for i := 0; i < 100; i++ {
		require.NoError(t, c.LongClick(types.Point{X: 100, Y: 100}, time.Millisecond, j))
	}
	_, _, events := f.built[0].snapshot()
	require.Len(t, events, 100)
	moved := false
	for _, e := range events {
		assert.InDelta(t, 100, e.x, 5)
		assert.InDelta(t, 100, e.y, 5)
		moved = moved || e.x != 100 || e.y != 100
	}
	assert.True(t, moved, "jitter never moved the press")
}

func TestGesturesDuringSwitches(t *testing.T) {
	c, _ := newTestControl(t, "nemu", 1)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if err := c.Click(types.Point{X: i, Y: i}, DefaultClickOptions()); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	methods := []string{"scrcpy", "adb", "nemu"}
	for i := 0; i < 30; i++ {
		require.NoError(t, c.SetControlMethod(methods[i%3], true))
	}
	wg.Wait()
}

type countingTransport struct {
	mu           sync.Mutex
	inits, exits int
	taps         int
}

func (ct *countingTransport) Init() error {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.inits++
	return nil
}

func (ct *countingTransport) Exit() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.exits++
}

func (ct *countingTransport) Tap(int, int) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.taps++
	return nil
}

func (ct *countingTransport) Capture(*types.Frame) error { return nil }
func (ct *countingTransport) LongTap(int, int, time.Duration) error { return nil }
func (ct *countingTransport) Swipe(int, int, int, int, time.Duration) error { return nil }
func (ct *countingTransport) IsLossy() bool { return false }

func TestPoolFactorySharesTransport(t *testing.T) {
	built := map[backend.Method]*countingTransport{}
	pool := backend.NewPool(func(m backend.Method) (types.Transport, error) {
		ct := &countingTransport{}
		built[m] = ct
		return ct, nil
	}, testLog())

	c, err := New("adb", 1, PoolFactory(pool, testLog()), testLog())
	require.NoError(t, err)
	require.NoError(t, c.Click(types.Point{}, DefaultClickOptions()))
	assert.Equal(t, 1, built[backend.MethodADB].taps)

	// same method again: new lease, same transport, old lease released
	require.NoError(t, c.SetControlMethod("adb", true))
	assert.Equal(t, 1, built[backend.MethodADB].inits)
	assert.Zero(t, built[backend.MethodADB].exits)
	assert.Equal(t, 1, pool.Refs(backend.MethodADB))

	c.Exit()
	assert.Equal(t, 1, built[backend.MethodADB].exits)
}
