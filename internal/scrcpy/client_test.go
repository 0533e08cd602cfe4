package scrcpy

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"baas/internal/types"

	adb "github.com/openatx/go-adb"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type fakeDevice struct {
	mu       sync.Mutex
	pushed   map[string]*bytes.Buffer
	commands []string
	forwards []adb.ForwardSpec
	removed  []adb.ForwardSpec
	// onStart runs each time the server is launched.
	onStart func()
}

func (d *fakeDevice) RunCommand(cmd string, args ...string) (string, error) {
	d.mu.Lock()
	d.commands = append(d.commands, cmd+" "+strings.Join(args, " "))
	onStart := d.onStart
	d.mu.Unlock()
	if onStart != nil {
		onStart()
	}
	return "", nil
}

func (d *fakeDevice) OpenWrite(path string, perms os.FileMode, mtime time.Time) (io.WriteCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pushed == nil {
		d.pushed = make(map[string]*bytes.Buffer)
	}
	buf := &bytes.Buffer{}
	d.pushed[path] = buf
	return nopWriteCloser{buf}, nil
}

func (d *fakeDevice) Forward(local, remote adb.ForwardSpec) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forwards = append(d.forwards, local, remote)
	return nil
}

func (d *fakeDevice) ForwardRemove(local adb.ForwardSpec) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removed = append(d.removed, local)
	return nil
}

// fakeDecoder "decodes" a packet into a 2x2 frame filled with its last byte.
type fakeDecoder struct {
	mu     sync.Mutex
	seen   [][]byte
	closed int
}

func (d *fakeDecoder) Decode(pkt *types.EncodedFrame, dst *types.Frame) (bool, error) {
	d.mu.Lock()
	d.seen = append(d.seen, pkt.Data)
	d.mu.Unlock()
	dst.Reset(2, 2)
	for i := range dst.Data {
		dst.Data[i] = pkt.Data[len(pkt.Data)-1]
	}
	return true, nil
}

func (d *fakeDecoder) Close() {
	d.mu.Lock()
	d.closed++
	d.mu.Unlock()
}

// fakeServer answers the dials of one session: video first, then control.
type fakeServer struct {
	mu      sync.Mutex
	dials   int
	video   net.Conn
	ctrl    chan []byte
	refuse  bool
	codec   uint32
	devName string
	// failWriteAt makes the nth write on the control socket fail.
	failWriteAt int
}

// flakyConn fails one write and passes the rest through.
type flakyConn struct {
	net.Conn
	mu     sync.Mutex
	writes int
	failAt int
}

func (f *flakyConn) Write(p []byte) (int, error) {
	f.mu.Lock()
	f.writes++
	n := f.writes
	f.mu.Unlock()
	if n == f.failAt {
		return 0, errors.New("broken pipe")
	}
	return f.Conn.Write(p)
}

func newFakeServer() *fakeServer {
	return &fakeServer{ctrl: make(chan []byte, 16), codec: codecH264, devName: "Pixel 7"}
}

// reset starts a new session: the next dial is video again.
func (s *fakeServer) reset() {
	s.mu.Lock()
	s.dials = 0
	s.mu.Unlock()
}

func (s *fakeServer) dial(addr string) (net.Conn, error) {
	s.mu.Lock()
	n := s.dials
	s.dials++
	s.mu.Unlock()

	client, server := net.Pipe()
	if s.refuse {
		server.Close()
		return client, nil
	}
	switch n {
	case 0:
		s.video = server
		go func() {
			server.Write([]byte{0})
			name := make([]byte, deviceNameLen)
			copy(name, s.devName)
			server.Write(name)
			hdr := make([]byte, 12)
			binary.BigEndian.PutUint32(hdr[0:], s.codec)
			binary.BigEndian.PutUint32(hdr[4:], 4)
			binary.BigEndian.PutUint32(hdr[8:], 2)
			server.Write(hdr)
		}()
	default:
		go func() {
			for {
				msg := make([]byte, touchMsgLen)
				if _, err := io.ReadFull(server, msg); err != nil {
					return
				}
				s.ctrl <- msg
			}
		}()
		if s.failWriteAt > 0 {
			return &flakyConn{Conn: client, failAt: s.failWriteAt}, nil
		}
	}
	return client, nil
}

func writePacket(t *testing.T, w io.Writer, ptsFlags uint64, payload []byte) {
	t.Helper()
	hdr := make([]byte, 12)
	binary.BigEndian.PutUint64(hdr[0:], ptsFlags)
	binary.BigEndian.PutUint32(hdr[8:], uint32(len(payload)))
	_, err := w.Write(append(hdr, payload...))
	require.NoError(t, err)
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestClient(t *testing.T) (*Client, *fakeDevice, *fakeServer, *fakeDecoder) {
	t.Helper()
	jar := filepath.Join(t.TempDir(), "scrcpy-server")
	require.NoError(t, os.WriteFile(jar, []byte("jar"), 0644))

	cfg := DefaultConfig()
	cfg.ServerPath = jar
	cfg.FirstFrameTimeout = 2 * time.Second
	cfg.DialRetries = 3
	cfg.DialInterval = time.Millisecond

	dev := &fakeDevice{}
	srv := newFakeServer()
	dec := &fakeDecoder{}
	dev.onStart = srv.reset
	c := New(dev, cfg, func() (types.VideoDecoder, error) { return dec, nil }, testLog())
	c.dial = srv.dial
	return c, dev, srv, dec
}

func TestInitDeploysAndHandshakes(t *testing.T) {
	c, dev, _, _ := newTestClient(t)
	require.NoError(t, c.Init())
	defer c.Exit()

	assert.Equal(t, "Pixel 7", c.DeviceName())
	assert.True(t, c.IsLossy())

	require.Contains(t, dev.pushed, "/data/local/tmp/scrcpy-server.jar")
	assert.Equal(t, "jar", dev.pushed["/data/local/tmp/scrcpy-server.jar"].String())

	require.Len(t, dev.commands, 1)
	cmd := dev.commands[0]
	assert.True(t, strings.HasPrefix(cmd, "CLASSPATH=/data/local/tmp/scrcpy-server.jar nohup app_process / com.genymobile.scrcpy.Server 2.4 scid="))
	assert.Contains(t, cmd, "tunnel_forward=true")
	assert.Contains(t, cmd, "audio=false")

	require.Len(t, dev.forwards, 2)
	assert.Equal(t, "tcp", string(dev.forwards[0].Protocol))
	assert.True(t, strings.HasPrefix(dev.forwards[1].PortOrName, "scrcpy_"))
}

func TestCaptureMergesConfigAndDecodes(t *testing.T) {
	c, dev, srv, dec := newTestClient(t)
	require.NoError(t, c.Init())

	writePacket(t, srv.video, flagConfig, []byte{0, 0, 0, 1, 0x67})
	writePacket(t, srv.video, flagKeyFrame|1000, []byte{0x65, 7})

	var f types.Frame
	require.NoError(t, c.Capture(&f))
	assert.Equal(t, 2, f.Width)
	assert.Equal(t, bytes.Repeat([]byte{7}, 12), f.Data)

	dec.mu.Lock()
	assert.Equal(t, [][]byte{{0, 0, 0, 1, 0x67, 0x65, 7}}, dec.seen)
	dec.mu.Unlock()

	c.Exit()
	c.Exit()
	assert.Equal(t, 1, dec.closed)
	assert.Len(t, dev.removed, 1)
	assert.ErrorIs(t, c.Capture(&f), types.ErrClosed)
}

func TestTapSendsTouchDownAndUp(t *testing.T) {
	c, _, srv, _ := newTestClient(t)
	require.NoError(t, c.Init())
	defer c.Exit()

	require.NoError(t, c.Tap(100, 200))

	down := <-srv.ctrl
	up := <-srv.ctrl
	assert.Equal(t, byte(msgInjectTouch), down[0])
	assert.Equal(t, byte(actionDown), down[1])
	assert.Equal(t, byte(actionUp), up[1])
	assert.Equal(t, uint32(100), binary.BigEndian.Uint32(down[10:14]))
	assert.Equal(t, uint32(200), binary.BigEndian.Uint32(down[14:18]))
	// no frame yet, so the announced size is used
	assert.Equal(t, uint16(4), binary.BigEndian.Uint16(down[18:20]))
	assert.Equal(t, uint16(2), binary.BigEndian.Uint16(down[20:22]))
	assert.Equal(t, uint16(0xffff), binary.BigEndian.Uint16(down[22:24]))
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(up[22:24]))
}

func TestSwipeMovesThroughPath(t *testing.T) {
	c, _, srv, _ := newTestClient(t)
	require.NoError(t, c.Init())
	defer c.Exit()

	require.NoError(t, c.Swipe(0, 0, 30, 60, 30*time.Millisecond))

	var actions []byte
	var last []byte
	for i := 0; i < 5; i++ {
		last = <-srv.ctrl
		actions = append(actions, last[1])
	}
	assert.Equal(t, []byte{actionDown, actionMove, actionMove, actionMove, actionUp}, actions)
	assert.Equal(t, uint32(30), binary.BigEndian.Uint32(last[10:14]))
	assert.Equal(t, uint32(60), binary.BigEndian.Uint32(last[14:18]))
}

func TestCaptureTimesOutWithoutFrames(t *testing.T) {
	c, _, _, _ := newTestClient(t)
	c.cfg.FirstFrameTimeout = 50 * time.Millisecond
	require.NoError(t, c.Init())
	defer c.Exit()

	assert.ErrorIs(t, c.Capture(&types.Frame{}), types.ErrTransport)
}

func TestStreamLossIsTransportError(t *testing.T) {
	c, _, srv, _ := newTestClient(t)
	require.NoError(t, c.Init())
	defer c.Exit()

	srv.video.Close()
	assert.ErrorIs(t, c.Capture(&types.Frame{}), types.ErrTransport)
}

func TestSubscribersGetEncodedFrames(t *testing.T) {
	c, _, srv, _ := newTestClient(t)
	require.NoError(t, c.Init())

	ch, cancel := c.SubscribeVideo()
	writePacket(t, srv.video, flagKeyFrame|2500, []byte{0x65, 1})

	select {
	case f := <-ch:
		assert.True(t, f.IsKey)
		assert.Equal(t, 2500*time.Microsecond, f.PTS)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
	}
	cancel()
	cancel()

	stillOpen, _ := c.SubscribeVideo()
	c.Exit()
	_, ok := <-stillOpen
	assert.False(t, ok)
}

func TestInitFailsWhenServerNeverAnswers(t *testing.T) {
	c, dev, srv, dec := newTestClient(t)
	srv.refuse = true

	err := c.Init()
	assert.ErrorIs(t, err, types.ErrConnection)
	assert.Equal(t, 1, dec.closed)
	assert.Len(t, dev.removed, 1)
	assert.ErrorIs(t, c.Tap(1, 1), types.ErrClosed)
}

func TestInitRejectsUnexpectedCodec(t *testing.T) {
	c, _, srv, _ := newTestClient(t)
	srv.codec = 0x68323635 // h265

	assert.ErrorIs(t, c.Init(), types.ErrProtocol)
}

func TestInitReconnectsAfterStreamLoss(t *testing.T) {
	c, dev, srv, dec := newTestClient(t)
	require.NoError(t, c.Init())
	defer c.Exit()
	assert.False(t, c.Dead())

	// a live session is not restarted
	require.NoError(t, c.Init())
	require.Len(t, dev.commands, 1)

	srv.video.Close()
	var f types.Frame
	assert.ErrorIs(t, c.Capture(&f), types.ErrTransport)
	assert.True(t, c.Dead())

	require.NoError(t, c.Init())
	assert.False(t, c.Dead())
	writePacket(t, srv.video, flagKeyFrame|1000, []byte{0x65, 9})
	require.NoError(t, c.Capture(&f))
	assert.Equal(t, byte(9), f.Data[0])

	dev.mu.Lock()
	assert.Len(t, dev.commands, 2)
	assert.Len(t, dev.removed, 1)
	dev.mu.Unlock()
	dec.mu.Lock()
	assert.Equal(t, 1, dec.closed)
	dec.mu.Unlock()

	require.NoError(t, c.Tap(1, 2))
	assert.Equal(t, byte(actionDown), (<-srv.ctrl)[1])
}

func TestSwipeReleasesAfterFailedMove(t *testing.T) {
	c, _, srv, _ := newTestClient(t)
	srv.failWriteAt = 2
	require.NoError(t, c.Init())
	defer c.Exit()

	err := c.Swipe(0, 0, 30, 60, 30*time.Millisecond)
	assert.ErrorIs(t, err, types.ErrTransport)

	down := <-srv.ctrl
	up := <-srv.ctrl
	assert.Equal(t, byte(actionDown), down[1])
	assert.Equal(t, byte(actionUp), up[1])
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(up[10:14]))
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(up[14:18]))
	select {
	case msg := <-srv.ctrl:
		t.Fatalf("unexpected control message after release: action %d", msg[1])
	case <-time.After(50 * time.Millisecond):
	}
}
