package control

import (
	"time"

	"baas/internal/backend"
	"baas/internal/types"

	"github.com/sirupsen/logrus"
)

// InputController is the raw input surface of one backend: device pixel
// coordinates, no jitter, no timing policy.
type InputController interface {
	Init() error
	Click(x, y int) error
	LongClick(x, y int, d time.Duration) error
	Swipe(x1, y1, x2, y2 int, d time.Duration) error
	Exit()
}

// Factory builds the controller for a backend. The controller is returned
// uninitialised.
type Factory func(m backend.Method) (InputController, error)

// Controller adapts a transport to InputController.
type Controller struct {
	t   types.Transport
	log *logrus.Entry
}

func NewController(t types.Transport, log *logrus.Entry) *Controller {
	return &Controller{t: t, log: log}
}

func (c *Controller) Init() error {
	if err := c.t.Init(); err != nil {
		return err
	}
	c.log.Debug("control: controller ready")
	return nil
}

func (c *Controller) Click(x, y int) error {
	return c.t.Tap(x, y)
}

func (c *Controller) LongClick(x, y int, d time.Duration) error {
	return c.t.LongTap(x, y, d)
}

func (c *Controller) Swipe(x1, y1, x2, y2 int, d time.Duration) error {
	return c.t.Swipe(x1, y1, x2, y2, d)
}

func (c *Controller) Exit() {
	c.t.Exit()
}

// PoolFactory builds controllers over leases from p, so that a controller
// and a screenshot provider on the same method share one connection.
func PoolFactory(p *backend.Pool, log *logrus.Entry) Factory {
	return func(m backend.Method) (InputController, error) {
		lease, err := p.Get(m)
		if err != nil {
			return nil, err
		}
		return NewController(lease, log.WithField("method", m.String())), nil
	}
}
