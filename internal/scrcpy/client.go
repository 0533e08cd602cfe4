// Package scrcpy is a client for the scrcpy 2.x server: it mirrors the
// device screen as H.264, decodes it into BGR frames and injects touches over
// the control socket.
package scrcpy

import (
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"baas/internal/types"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Config struct {
	// ServerPath is the local scrcpy-server jar pushed to the device.
	ServerPath string
	RemotePath string
	// Version must match the jar exactly.
	Version string

	MaxSize int
	BitRate int
	MaxFPS  int
	Audio   bool

	FirstFrameTimeout time.Duration
	DialRetries       int
	DialInterval      time.Duration
}

func DefaultConfig() Config {
	return Config{
		ServerPath:        "scrcpy-server",
		RemotePath:        "/data/local/tmp/scrcpy-server.jar",
		Version:           "2.4",
		BitRate:           8000000,
		MaxFPS:            60,
		FirstFrameTimeout: 5 * time.Second,
		DialRetries:       50,
		DialInterval:      100 * time.Millisecond,
	}
}

// DecoderFactory builds a fresh decoder for each session.
type DecoderFactory func() (types.VideoDecoder, error)

const subBuffer = 120

type Client struct {
	dev        Device
	cfg        Config
	newDecoder DecoderFactory
	log        *logrus.Entry
	dial       func(addr string) (net.Conn, error)

	// closing is read by the reader goroutines, which never take mu.
	closing atomic.Bool

	mu      sync.Mutex
	running bool
	port    int
	conns   []net.Conn
	dec     types.VideoDecoder
	wg      sync.WaitGroup
	name    string
	meta    videoMeta

	ctrlMu  sync.Mutex
	control net.Conn

	frameMu sync.Mutex
	front   *types.Frame
	first   chan struct{}
	dead    chan struct{}
	readErr error

	subMu     sync.Mutex
	nextSub   int
	videoSubs map[int]chan *types.EncodedFrame
	audioSubs map[int]chan *types.PCMChunk
}

func New(dev Device, cfg Config, newDecoder DecoderFactory, log *logrus.Entry) *Client {
	return &Client{
		dev:        dev,
		cfg:        cfg,
		newDecoder: newDecoder,
		log:        log.WithField("component", "scrcpy"),
		dial: func(addr string) (net.Conn, error) {
			return net.DialTimeout("tcp", addr, 2*time.Second)
		},
		videoSubs: make(map[int]chan *types.EncodedFrame),
		audioSubs: make(map[int]chan *types.PCMChunk),
	}
}

func (c *Client) IsLossy() bool { return true }

// DeviceName is the name the server reported, empty before Init.
func (c *Client) DeviceName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

var _ types.Recoverable = (*Client)(nil)

// Dead reports whether the running session lost its video stream.
func (c *Client) Dead() bool {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()
	return c.readErr != nil
}

// Init starts a session. On a session whose stream was lost it shuts the
// old one down and starts over; subscribers stay attached.
func (c *Client) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		if !c.Dead() {
			return nil
		}
		c.log.Warn("scrcpy: stream lost, restarting server")
		c.running = false
		c.stopLocked()
	}

	dec, err := c.newDecoder()
	if err != nil {
		return err
	}

	if err := c.push(); err != nil {
		dec.Close()
		return types.ConnectionError("scrcpy: init", err)
	}
	scid := newSCID()
	port, err := c.startServer(scid)
	if err != nil {
		dec.Close()
		return types.ConnectionError("scrcpy: init", err)
	}
	c.port = port

	if err := c.connect("127.0.0.1:"+strconv.Itoa(port), dec); err != nil {
		dec.Close()
		c.removeForward(port)
		c.port = 0
		return err
	}
	w, h := c.screenSize()
	c.log.Infof("scrcpy: connected to %q, %dx%d, scid %08x", c.name, w, h, scid)
	return nil
}

// connect opens the video, optional audio and control sockets in the order
// the server accepts them and starts the readers.
func (c *Client) connect(addr string, dec types.VideoDecoder) error {
	video, err := c.dialFirst(addr)
	if err != nil {
		return types.ConnectionError("scrcpy: connect", err)
	}
	conns := []net.Conn{video}
	closeAll := func() {
		for _, conn := range conns {
			conn.Close()
		}
	}

	var audio net.Conn
	if c.cfg.Audio {
		if audio, err = c.dial(addr); err != nil {
			closeAll()
			return types.ConnectionError("scrcpy: connect audio", err)
		}
		conns = append(conns, audio)
	}
	control, err := c.dial(addr)
	if err != nil {
		closeAll()
		return types.ConnectionError("scrcpy: connect control", err)
	}
	conns = append(conns, control)

	name, err := readDeviceName(video)
	if err != nil {
		closeAll()
		return types.ProtocolError("scrcpy: handshake", err)
	}
	meta, err := readVideoMeta(video)
	if err != nil {
		closeAll()
		return types.ProtocolError("scrcpy: handshake", err)
	}
	if meta.Codec != codecH264 {
		closeAll()
		return types.ProtocolError("scrcpy: handshake", errors.Errorf("unexpected video codec %#x", meta.Codec))
	}

	audioOK := false
	if audio != nil {
		codec, err := readCodecID(audio)
		if err != nil {
			closeAll()
			return types.ProtocolError("scrcpy: handshake", err)
		}
		switch codec {
		case codecRaw:
			audioOK = true
		case codecDisabled, codecError:
			c.log.Warn("scrcpy: device refused audio capture")
		default:
			closeAll()
			return types.ProtocolError("scrcpy: handshake", errors.Errorf("unexpected audio codec %#x", codec))
		}
	}

	c.name = name
	c.conns = conns
	c.dec = dec
	c.closing.Store(false)
	c.running = true

	c.ctrlMu.Lock()
	c.control = control
	c.ctrlMu.Unlock()

	c.frameMu.Lock()
	c.meta = meta
	c.front = nil
	c.readErr = nil
	c.first = make(chan struct{})
	c.dead = make(chan struct{})
	c.frameMu.Unlock()

	c.wg.Add(2)
	go c.readVideo(video, dec)
	go c.drainControl(control)
	if audioOK {
		c.wg.Add(1)
		go c.readAudio(audio)
	}
	return nil
}

// dialFirst retries until the server is listening. Until then the adb
// forward accepts the connection and closes it before the dummy byte.
func (c *Client) dialFirst(addr string) (net.Conn, error) {
	var err error
	for i := 0; i < c.cfg.DialRetries; i++ {
		var conn net.Conn
		conn, err = c.dial(addr)
		if err == nil {
			var dummy [1]byte
			if _, err = io.ReadFull(conn, dummy[:]); err == nil {
				return conn, nil
			}
			conn.Close()
		}
		c.log.WithError(err).Debug("scrcpy: server not ready")
		time.Sleep(c.cfg.DialInterval)
	}
	if err == nil {
		err = errors.New("no dial attempts")
	}
	return nil, errors.Wrap(err, "dial server")
}

func (c *Client) fail(err error) {
	if !c.closing.Load() {
		c.log.WithError(err).Error("scrcpy: stream lost")
	}
	c.frameMu.Lock()
	defer c.frameMu.Unlock()
	if c.readErr == nil {
		c.readErr = err
		close(c.dead)
	}
}

func (c *Client) readVideo(r io.Reader, dec types.VideoDecoder) {
	defer c.wg.Done()
	var config []byte
	back := &types.Frame{}
	firstDone := false
	for {
		p, err := readPacket(r)
		if err != nil {
			c.fail(err)
			return
		}
		if p.Config {
			config = append(config[:0], p.Data...)
			continue
		}
		data := p.Data
		if len(config) > 0 {
			data = append(append(make([]byte, 0, len(config)+len(data)), config...), data...)
			config = config[:0]
		}
		ef := &types.EncodedFrame{Data: data, PTS: p.PTS, IsKey: p.Key}
		c.publishVideo(ef)

		ok, err := dec.Decode(ef, back)
		if err != nil {
			c.log.WithError(err).Warn("scrcpy: decode failed")
			continue
		}
		if !ok {
			continue
		}

		c.frameMu.Lock()
		c.front, back = back, c.front
		first := c.first
		c.frameMu.Unlock()
		if back == nil {
			back = &types.Frame{}
		}
		if !firstDone {
			firstDone = true
			close(first)
		}
	}
}

func (c *Client) readAudio(r io.Reader) {
	defer c.wg.Done()
	for {
		p, err := readPacket(r)
		if err != nil {
			if !c.closing.Load() {
				c.log.WithError(err).Warn("scrcpy: audio stream lost")
			}
			return
		}
		if p.Config {
			continue
		}
		c.publishAudio(&types.PCMChunk{Data: p.Data, PTS: p.PTS})
	}
}

// drainControl discards device messages (clipboard and the like) so the
// server never blocks on a full socket.
func (c *Client) drainControl(r io.Reader) {
	defer c.wg.Done()
	io.Copy(io.Discard, r)
}

// Capture copies the latest decoded frame into dst, waiting for the first
// one after Init.
func (c *Client) Capture(dst *types.Frame) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return &types.Error{Kind: types.ErrClosed, Op: "scrcpy: capture"}
	}
	c.frameMu.Lock()
	first, dead := c.first, c.dead
	c.frameMu.Unlock()
	c.mu.Unlock()

	select {
	case <-first:
	case <-dead:
	default:
		timer := time.NewTimer(c.cfg.FirstFrameTimeout)
		defer timer.Stop()
		select {
		case <-first:
		case <-dead:
		case <-timer.C:
			return types.TransportError("scrcpy: capture", errors.Errorf("no frame within %s", c.cfg.FirstFrameTimeout))
		}
	}

	c.frameMu.Lock()
	defer c.frameMu.Unlock()
	if c.readErr != nil {
		return types.TransportError("scrcpy: capture", c.readErr)
	}
	dst.CopyFrom(c.front)
	return nil
}

// screenSize is the size touch events are expressed against: the last
// decoded frame, or the announced size before the first frame.
func (c *Client) screenSize() (int, int) {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()
	if c.front != nil && !c.front.Empty() {
		return c.front.Width, c.front.Height
	}
	return c.meta.Width, c.meta.Height
}

func (c *Client) sendTouch(op string, action uint8, x, y int) error {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if !running {
		return &types.Error{Kind: types.ErrClosed, Op: op}
	}
	w, h := c.screenSize()

	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()
	if _, err := c.control.Write(touchMessage(action, x, y, w, h)); err != nil {
		return types.TransportError(op, errors.Wrap(err, "write control message"))
	}
	return nil
}

func (c *Client) Tap(x, y int) error {
	if err := c.sendTouch("scrcpy: tap", actionDown, x, y); err != nil {
		return err
	}
	return c.sendTouch("scrcpy: tap", actionUp, x, y)
}

func (c *Client) LongTap(x, y int, d time.Duration) error {
	const op = "scrcpy: long tap"
	if err := c.sendTouch(op, actionDown, x, y); err != nil {
		return err
	}
	time.Sleep(d)
	return c.sendTouch(op, actionUp, x, y)
}

// Swipe always lifts the finger once the down went out, releasing at the
// last position reached when a move fails.
func (c *Client) Swipe(x1, y1, x2, y2 int, d time.Duration) error {
	const op = "scrcpy: swipe"
	if err := c.sendTouch(op, actionDown, x1, y1); err != nil {
		return err
	}
	at := types.Point{X: x1, Y: y1}
	path := types.SwipePath(x1, y1, x2, y2, d)
	for _, p := range path {
		time.Sleep(d / time.Duration(len(path)))
		if err := c.sendTouch(op, actionMove, p.X, p.Y); err != nil {
			if upErr := c.sendTouch(op, actionUp, at.X, at.Y); upErr != nil {
				c.log.WithError(upErr).Debug("scrcpy: release after failed move")
			}
			return err
		}
		at = p
	}
	return c.sendTouch(op, actionUp, x2, y2)
}

// stopLocked closes the sockets, waits for the readers and releases the
// decoder and forward. Callers hold mu.
func (c *Client) stopLocked() {
	c.closing.Store(true)
	for _, conn := range c.conns {
		conn.Close()
	}
	c.wg.Wait()
	c.dec.Close()
	c.removeForward(c.port)
	c.conns, c.dec, c.port = nil, nil, 0
}

func (c *Client) Exit() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.stopLocked()
	c.mu.Unlock()

	c.subMu.Lock()
	for id, ch := range c.videoSubs {
		close(ch)
		delete(c.videoSubs, id)
	}
	for id, ch := range c.audioSubs {
		close(ch)
		delete(c.audioSubs, id)
	}
	c.subMu.Unlock()
	c.log.Info("scrcpy: closed")
}
