// Package nemu talks to a MuMu emulator instance through its external
// renderer IPC library: display capture straight from shared memory and
// touch injection without going through adb.
package nemu

import (
	"sync"
	"time"

	"baas/internal/types"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// IPC is the emulator's external renderer API. Pixels are RGBA with the
// bottom row first.
type IPC interface {
	Connect(folder string, instance int) (int, error)
	Disconnect(handle int)
	DisplaySize(handle, display int) (w, h int, err error)
	CaptureDisplay(handle, display int, w, h int, rgba []byte) error
	TouchDown(handle, display, x, y int) error
	TouchUp(handle, display int) error
}

type Config struct {
	// Folder is the emulator install directory.
	Folder   string
	Instance int
	Display  int
}

type Client struct {
	cfg  Config
	log  *logrus.Entry
	open func(folder string) (IPC, error)

	mu     sync.Mutex
	ipc    IPC
	handle int
	raw    []byte
	width  int
	height int
}

func New(cfg Config, log *logrus.Entry) *Client {
	return &Client{
		cfg:  cfg,
		log:  log.WithField("component", "nemu"),
		open: openIPC,
	}
}

func (c *Client) IsLossy() bool { return false }

func (c *Client) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ipc != nil {
		return nil
	}
	ipc, err := c.open(c.cfg.Folder)
	if err != nil {
		return types.ConnectionError("nemu: init", err)
	}
	handle, err := ipc.Connect(c.cfg.Folder, c.cfg.Instance)
	if err != nil {
		return types.ConnectionError("nemu: init", err)
	}
	if handle == 0 {
		return types.ConnectionError("nemu: init", errors.Errorf("nemu_connect refused instance %d", c.cfg.Instance))
	}
	w, h, err := ipc.DisplaySize(handle, c.cfg.Display)
	if err != nil {
		ipc.Disconnect(handle)
		return types.ProtocolError("nemu: init", err)
	}
	c.ipc, c.handle, c.width, c.height = ipc, handle, w, h
	c.log.Infof("nemu: connected to instance %d, display %dx%d", c.cfg.Instance, w, h)
	return nil
}

func (c *Client) Exit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ipc == nil {
		return
	}
	c.ipc.Disconnect(c.handle)
	c.ipc, c.handle = nil, 0
	c.log.Info("nemu: disconnected")
}

func (c *Client) Capture(dst *types.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ipc == nil {
		return &types.Error{Kind: types.ErrClosed, Op: "nemu: capture"}
	}

	w, h, err := c.ipc.DisplaySize(c.handle, c.cfg.Display)
	if err != nil {
		return types.TransportError("nemu: capture", err)
	}
	n := w * h * 4
	if cap(c.raw) < n {
		c.raw = make([]byte, n)
	}
	c.raw = c.raw[:n]
	if err := c.ipc.CaptureDisplay(c.handle, c.cfg.Display, w, h, c.raw); err != nil {
		return types.TransportError("nemu: capture", err)
	}
	c.width, c.height = w, h

	dst.Reset(w, h)
	for y := 0; y < h; y++ {
		src := c.raw[(h-1-y)*w*4:]
		out := dst.Data[y*dst.Stride:]
		for x := 0; x < w; x++ {
			out[x*3] = src[x*4+2]
			out[x*3+1] = src[x*4+1]
			out[x*3+2] = src[x*4]
		}
	}
	return nil
}

// touchPoint maps frame coordinates to the emulator's portrait touch space.
func (c *Client) touchPoint(x, y int) (int, int) {
	if c.width > c.height {
		return c.height - y, x
	}
	return x, y
}

func (c *Client) down(op string, x, y int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ipc == nil {
		return &types.Error{Kind: types.ErrClosed, Op: op}
	}
	tx, ty := c.touchPoint(x, y)
	if err := c.ipc.TouchDown(c.handle, c.cfg.Display, tx, ty); err != nil {
		return types.TransportError(op, err)
	}
	return nil
}

func (c *Client) up(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ipc == nil {
		return &types.Error{Kind: types.ErrClosed, Op: op}
	}
	if err := c.ipc.TouchUp(c.handle, c.cfg.Display); err != nil {
		return types.TransportError(op, err)
	}
	return nil
}

func (c *Client) Tap(x, y int) error {
	if err := c.down("nemu: tap", x, y); err != nil {
		return err
	}
	return c.up("nemu: tap")
}

func (c *Client) LongTap(x, y int, d time.Duration) error {
	if err := c.down("nemu: long tap", x, y); err != nil {
		return err
	}
	time.Sleep(d)
	return c.up("nemu: long tap")
}

// Swipe holds the finger down and re-sends the down event along the path;
// the emulator treats a repeated down as a move.
func (c *Client) Swipe(x1, y1, x2, y2 int, d time.Duration) error {
	const op = "nemu: swipe"
	if err := c.down(op, x1, y1); err != nil {
		return err
	}
	path := types.SwipePath(x1, y1, x2, y2, d)
	for _, p := range path {
		time.Sleep(d / time.Duration(len(path)))
		if err := c.down(op, p.X, p.Y); err != nil {
			return c.release(op, err)
		}
	}
	return c.up(op)
}

// release lifts the finger after a failed gesture step and returns err.
func (c *Client) release(op string, err error) error {
	if upErr := c.up(op); upErr != nil {
		c.log.WithError(upErr).Debug("nemu: release after failed step")
	}
	return err
}
