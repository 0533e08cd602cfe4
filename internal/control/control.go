// Package control turns logical screen points into human-like input on the
// active backend: scaling, jitter, multi-tap timing and live backend
// switching.
package control

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"baas/internal/backend"
	"baas/internal/types"

	"github.com/sirupsen/logrus"
)

// Control is safe for concurrent use. Gestures hold the controller slot
// shared for each raw event and never across a wait; switching holds it
// exclusively only to replace the controller.
type Control struct {
	log           *logrus.Entry
	newController Factory
	ratio         float64
	jitter        *jitterSource

	// switchMu serialises SetControlMethod and Exit.
	switchMu sync.Mutex

	mu     sync.RWMutex
	method backend.Method
	ctl    InputController
	exited bool
}

// New builds and initialises the controller for method. ratio converts
// logical coordinates to device pixels and must be positive.
func New(method string, ratio float64, newController Factory, log *logrus.Entry) (*Control, error) {
	if !(ratio > 0) || math.IsInf(ratio, 0) {
		return nil, types.Configurationf("control: new", "screen ratio %v must be positive", ratio)
	}
	m, err := backend.ParseMethod(method)
	if err != nil {
		return nil, err
	}
	c := &Control{
		log:           log.WithField("component", "control"),
		newController: newController,
		ratio:         ratio,
		jitter:        newJitterSource(rand.Uint64(), rand.Uint64()),
	}
	ctl, err := c.build(m)
	if err != nil {
		return nil, err
	}
	c.method, c.ctl = m, ctl
	c.log.Infof("control: using %s, ratio %.4f", m, ratio)
	return c, nil
}

func (c *Control) build(m backend.Method) (InputController, error) {
	ctl, err := c.newController(m)
	if err != nil {
		return nil, err
	}
	if err := ctl.Init(); err != nil {
		ctl.Exit()
		c.log.WithError(err).Errorf("control: %s init failed", m)
		return nil, err
	}
	return ctl, nil
}

func (c *Control) Ratio() float64 { return c.ratio }

// Method reports the active backend.
func (c *Control) Method() backend.Method {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.method
}

// SetControlMethod replaces the active controller. The new one is built and
// initialised first; if that fails the current controller stays active and
// the error is returned. With exitPrevious the old controller is exited
// after the swap.
func (c *Control) SetControlMethod(method string, exitPrevious bool) error {
	m, err := backend.ParseMethod(method)
	if err != nil {
		return err
	}

	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	c.mu.RLock()
	exited := c.exited
	c.mu.RUnlock()
	if exited {
		return &types.Error{Kind: types.ErrClosed, Op: "control: set method"}
	}

	ctl, err := c.build(m)
	if err != nil {
		return err
	}

	c.mu.Lock()
	old, oldMethod := c.ctl, c.method
	c.ctl, c.method = ctl, m
	c.mu.Unlock()

	if exitPrevious {
		old.Exit()
	}
	c.log.Infof("control: switched %s -> %s", oldMethod, m)
	return nil
}

// Exit releases the active controller. Later calls do nothing.
func (c *Control) Exit() {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	c.mu.Lock()
	if c.exited {
		c.mu.Unlock()
		return
	}
	c.exited = true
	ctl := c.ctl
	c.ctl = nil
	c.mu.Unlock()

	ctl.Exit()
	c.log.Info("control: exited")
}

func (c *Control) closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exited
}

func (c *Control) do(op string, fn func(InputController) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.exited {
		return &types.Error{Kind: types.ErrClosed, Op: op}
	}
	return fn(c.ctl)
}

// deviceXY scales p to device pixels and adds one jitter sample.
func (c *Control) deviceXY(p types.Point, j JitterSpec) (int, int) {
	dx, dy := c.jitter.offset(j)
	x := int(math.Round(float64(p.X)*c.ratio)) + dx
	y := int(math.Round(float64(p.Y)*c.ratio)) + dy
	return x, y
}

// Click taps p opts.Count times.
func (c *Control) Click(p types.Point, opts ClickOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}
	if opts.Label != "" {
		c.log.Debugf("control: click %q at (%d, %d) x%d", opts.Label, p.X, p.Y, opts.Count)
	}

	if c.closed() {
		return &types.Error{Kind: types.ErrClosed, Op: "control: click"}
	}
	time.Sleep(opts.PreWait)
	for i := 0; i < opts.Count; i++ {
		if i > 0 {
			time.Sleep(opts.Interval)
		}
		x, y := c.deviceXY(p, opts.Jitter)
		err := c.do("control: click", func(ctl InputController) error {
			return ctl.Click(x, y)
		})
		if err != nil {
			return err
		}
	}
	time.Sleep(opts.PostWait)
	return nil
}

// LongClick presses p for d. DefaultLongClickJitter is the usual j.
func (c *Control) LongClick(p types.Point, d time.Duration, j JitterSpec) error {
	if err := j.validate(); err != nil {
		return err
	}
	if d < 0 {
		return types.Configurationf("control: long click", "negative duration %s", d)
	}
	x, y := c.deviceXY(p, j)
	return c.do("control: long click", func(ctl InputController) error {
		return ctl.LongClick(x, y, d)
	})
}

// Swipe drags from start to end over d.
func (c *Control) Swipe(start, end types.Point, d time.Duration, opts SwipeOptions) error {
	if err := opts.StartJitter.validate(); err != nil {
		return err
	}
	if err := opts.EndJitter.validate(); err != nil {
		return err
	}
	if d < 0 {
		return types.Configurationf("control: swipe", "negative duration %s", d)
	}
	x1, y1 := c.deviceXY(start, opts.StartJitter)
	x2, y2 := c.deviceXY(end, opts.EndJitter)
	return c.do("control: swipe", func(ctl InputController) error {
		return ctl.Swipe(x1, y1, x2, y2, d)
	})
}
