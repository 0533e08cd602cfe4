package nemu

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"testing"
	"time"

	"baas/internal/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIPC struct {
	w, h       int
	handle     int
	rgba       []byte
	captureErr error
	events     []string
	disconnect int
	downs      int
	failDownAt int
}

func (f *fakeIPC) Connect(string, int) (int, error) { return f.handle, nil }
func (f *fakeIPC) Disconnect(int) { f.disconnect++ }

func (f *fakeIPC) DisplaySize(int, int) (int, int, error) { return f.w, f.h, nil }

func (f *fakeIPC) CaptureDisplay(_, _ int, w, h int, rgba []byte) error {
	if f.captureErr != nil {
		return f.captureErr
	}
	copy(rgba, f.rgba)
	return nil
}

func (f *fakeIPC) TouchDown(_, _ int, x, y int) error {
	f.downs++
	if f.downs == f.failDownAt {
		return errors.New("ipc write failed")
	}
	f.events = append(f.events, fmt.Sprintf("down %d %d", x, y))
	return nil
}

func (f *fakeIPC) TouchUp(int, int) error {
	f.events = append(f.events, "up")
	return nil
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestClient(ipc *fakeIPC) *Client {
	c := New(Config{Folder: `C:\MuMu`, Instance: 0}, testLog())
	c.open = func(string) (IPC, error) { return ipc, nil }
	return c
}

func TestCaptureFlipsAndConvertsToBGR(t *testing.T) {
	// 1x2 display, bottom row first
	ipc := &fakeIPC{w: 1, h: 2, handle: 7, rgba: []byte{
		1, 2, 3, 255, // bottom
		4, 5, 6, 255, // top
	}}
	c := newTestClient(ipc)
	require.NoError(t, c.Init())
	assert.False(t, c.IsLossy())

	var f types.Frame
	require.NoError(t, c.Capture(&f))
	assert.Equal(t, []byte{6, 5, 4, 3, 2, 1}, f.Data)
}

func TestCaptureFailureIsTransportError(t *testing.T) {
	ipc := &fakeIPC{w: 1, h: 1, handle: 1, captureErr: errors.New("shared memory gone")}
	c := newTestClient(ipc)
	require.NoError(t, c.Init())

	f := types.NewFrame(1, 1)
	f.Data[0] = 42
	assert.ErrorIs(t, c.Capture(f), types.ErrTransport)
	assert.Equal(t, byte(42), f.Data[0])
}

func TestLandscapeTouchIsRotated(t *testing.T) {
	ipc := &fakeIPC{w: 1280, h: 720, handle: 1}
	c := newTestClient(ipc)
	require.NoError(t, c.Init())

	require.NoError(t, c.Tap(100, 200))
	assert.Equal(t, []string{"down 520 100", "up"}, ipc.events)
}

func TestPortraitTouchIsUnchanged(t *testing.T) {
	ipc := &fakeIPC{w: 720, h: 1280, handle: 1}
	c := newTestClient(ipc)
	require.NoError(t, c.Init())

	require.NoError(t, c.LongTap(10, 20, 5*time.Millisecond))
	assert.Equal(t, []string{"down 10 20", "up"}, ipc.events)
}

func TestSwipeRepeatsDownAlongPath(t *testing.T) {
	ipc := &fakeIPC{w: 720, h: 1280, handle: 1}
	c := newTestClient(ipc)
	require.NoError(t, c.Init())

	require.NoError(t, c.Swipe(0, 0, 20, 40, 20*time.Millisecond))
	assert.Equal(t, []string{"down 0 0", "down 10 20", "down 20 40", "up"}, ipc.events)
}

func TestInitRefusedHandle(t *testing.T) {
	c := newTestClient(&fakeIPC{w: 1, h: 1, handle: 0})
	assert.ErrorIs(t, c.Init(), types.ErrConnection)
	assert.ErrorIs(t, c.Tap(1, 1), types.ErrClosed)
}

func TestExitDisconnectsOnce(t *testing.T) {
	ipc := &fakeIPC{w: 1, h: 1, handle: 3}
	c := newTestClient(ipc)
	require.NoError(t, c.Init())
	c.Exit()
	c.Exit()
	assert.Equal(t, 1, ipc.disconnect)
	assert.ErrorIs(t, c.Capture(&types.Frame{}), types.ErrClosed)
}

func TestUnavailableOffWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("real IPC library may be present")
	}
	c := New(Config{Folder: "/nonexistent"}, testLog())
	assert.ErrorIs(t, c.Init(), types.ErrConnection)
}

func TestSwipeReleasesAfterFailedMove(t *testing.T) {
	ipc := &fakeIPC{w: 720, h: 1280, handle: 1, failDownAt: 3}
	c := newTestClient(ipc)
	require.NoError(t, c.Init())

	err := c.Swipe(10, 10, 40, 40, 30*time.Millisecond)
	assert.ErrorIs(t, err, types.ErrTransport)
	assert.Equal(t, []string{"down 10 10", "down 20 20", "up"}, ipc.events)
}

func TestSwipeFirstDownFailureSendsNoUp(t *testing.T) {
	ipc := &fakeIPC{w: 720, h: 1280, handle: 1, failDownAt: 1}
	c := newTestClient(ipc)
	require.NoError(t, c.Init())

	assert.ErrorIs(t, c.Swipe(10, 10, 40, 40, 30*time.Millisecond), types.ErrTransport)
	assert.Empty(t, ipc.events)
}
