// Package bridge drives a device through adb shell commands: screencap for
// frames and the input tool for gestures.
package bridge

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"baas/internal/types"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const readyToken = "baas-bridge-ready"

// Shell runs a command on the device and returns its combined output.
// *adb.Device from github.com/openatx/go-adb satisfies it.
type Shell interface {
	RunCommand(cmd string, args ...string) (string, error)
}

// Client is the command-bridge transport.
type Client struct {
	shell Shell
	log   *logrus.Entry

	mu    sync.Mutex
	ready bool
}

func New(shell Shell, log *logrus.Entry) *Client {
	return &Client{shell: shell, log: log.WithField("component", "bridge")}
}

func (c *Client) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return nil
	}
	out, err := c.shell.RunCommand("echo", readyToken)
	if err != nil {
		return types.ConnectionError("bridge: init", errors.Wrap(err, "adb shell echo"))
	}
	if strings.TrimSpace(out) != readyToken {
		return types.ProtocolError("bridge: init", errors.Errorf("unexpected echo reply %q", out))
	}
	c.ready = true
	c.log.Info("bridge: connected")
	return nil
}

func (c *Client) Exit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return
	}
	c.ready = false
	c.log.Info("bridge: closed")
}

func (c *Client) IsLossy() bool { return false }

func (c *Client) checkReady(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return &types.Error{Kind: types.ErrClosed, Op: op}
	}
	return nil
}

func (c *Client) Capture(dst *types.Frame) error {
	if err := c.checkReady("bridge: capture"); err != nil {
		return err
	}
	out, err := c.shell.RunCommand("screencap")
	if err != nil {
		c.log.WithError(err).Warn("bridge: screencap failed")
		return types.TransportError("bridge: capture", errors.Wrap(err, "adb shell screencap"))
	}
	if err := decodeScreencap([]byte(out), dst); err != nil {
		c.log.WithError(err).Warn("bridge: bad screencap dump")
		return types.TransportError("bridge: capture", err)
	}
	return nil
}

func (c *Client) Tap(x, y int) error {
	return c.input("bridge: tap", "tap", itoa(x), itoa(y))
}

// LongTap is a swipe that starts and ends on the same point.
func (c *Client) LongTap(x, y int, d time.Duration) error {
	return c.input("bridge: long tap", "swipe", itoa(x), itoa(y), itoa(x), itoa(y), millis(d))
}

func (c *Client) Swipe(x1, y1, x2, y2 int, d time.Duration) error {
	return c.input("bridge: swipe", "swipe", itoa(x1), itoa(y1), itoa(x2), itoa(y2), millis(d))
}

func (c *Client) input(op string, args ...string) error {
	if err := c.checkReady(op); err != nil {
		return err
	}
	out, err := c.shell.RunCommand("input", args...)
	if err != nil {
		c.log.WithError(err).Warnf("%s failed", op)
		return types.TransportError(op, errors.Wrapf(err, "adb shell input %s", strings.Join(args, " ")))
	}
	// input prints nothing on success
	if out = strings.TrimSpace(out); out != "" && (strings.Contains(out, "Exception") || strings.HasPrefix(out, "Error")) {
		return types.TransportError(op, errors.New(out))
	}
	return nil
}

func itoa(v int) string { return strconv.Itoa(v) }

func millis(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return strconv.FormatInt(d.Milliseconds(), 10)
}
