// Package device ties one Android device to a control facade and a
// screenshot provider that share transports through a backend pool.
package device

import (
	"sync"
	"time"

	"baas/internal/backend"
	"baas/internal/bridge"
	"baas/internal/config"
	"baas/internal/control"
	"baas/internal/decode"
	"baas/internal/nemu"
	"baas/internal/scrcpy"
	"baas/internal/screenshot"
	"baas/internal/session"
	"baas/internal/types"

	"github.com/google/uuid"
	"github.com/openatx/go-adb"
	"github.com/sirupsen/logrus"
)

// DefaultLongClick is used for a viewer long click that names no duration.
const DefaultLongClick = time.Second

type Device struct {
	ID string

	log    *logrus.Entry
	cfg    config.Config
	serial string
	pool   *backend.Pool
	ctl    *control.Control
	shots  *screenshot.Provider

	// switchMu serialises SetScreenshotMethod and Close.
	switchMu sync.Mutex

	mu         sync.Mutex
	shotMethod backend.Method
	closed     bool
}

// Status is a snapshot of the active backends.
type Status struct {
	ID               string  `json:"id"`
	Serial           string  `json:"serial,omitempty"`
	ControlMethod    string  `json:"control_method"`
	ScreenshotMethod string  `json:"screenshot_method"`
	Lossy            bool    `json:"lossy"`
	Ratio            float64 `json:"ratio"`
}

// Open connects to the adb server and opens the configured device.
func Open(cfg config.Config, log *logrus.Entry) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := adb.NewWithConfig(adb.ServerConfig{
		Host: cfg.ADBHost,
		Port: cfg.ADBPort,
	})
	if err != nil {
		return nil, types.ConnectionError("device: adb server", err)
	}
	sel := adb.AnyDevice()
	if cfg.Serial != "" {
		sel = adb.DeviceWithSerial(cfg.Serial)
	}
	dev := client.Device(sel)
	if _, err := dev.State(); err != nil {
		return nil, types.ConnectionError("device: open "+cfg.Serial, err)
	}
	return OpenWith(cfg, Transports(dev, cfg, log), log)
}

// Transports returns the factory that builds each backend for dev.
func Transports(dev *adb.Device, cfg config.Config, log *logrus.Entry) backend.Factory {
	return func(m backend.Method) (types.Transport, error) {
		l := log.WithField("method", m.String())
		switch m {
		case backend.MethodNemu:
			return nemu.New(cfg.Nemu, l), nil
		case backend.MethodScrcpy:
			return scrcpy.New(dev, cfg.Scrcpy, decode.New, l), nil
		case backend.MethodADB:
			return bridge.New(dev, l), nil
		}
		return nil, types.Configurationf("device: transport", "unknown method %d", int(m))
	}
}

// OpenWith builds a device over factory. Both the control and screenshot
// backends are initialised before it returns.
func OpenWith(cfg config.Config, factory backend.Factory, log *logrus.Entry) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	shotMethod, err := backend.ParseMethod(cfg.ScreenshotMethod)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	l := log.WithField("session", id)
	pool := backend.NewPool(factory, l)

	ctl, err := control.New(cfg.ControlMethod, cfg.ScreenRatio, control.PoolFactory(pool, l), l)
	if err != nil {
		return nil, err
	}

	lease, err := pool.Get(shotMethod)
	if err != nil {
		ctl.Exit()
		return nil, err
	}
	shots := screenshot.New(lease, l)
	if err := shots.Init(); err != nil {
		ctl.Exit()
		return nil, err
	}

	d := &Device{
		ID:         id,
		log:        l.WithField("component", "device"),
		cfg:        cfg,
		serial:     cfg.Serial,
		pool:       pool,
		ctl:        ctl,
		shots:      shots,
		shotMethod: shotMethod,
	}
	d.log.Infof("device: open, control %s, screenshot %s", ctl.Method(), shotMethod)
	return d, nil
}

func (d *Device) Control() *control.Control { return d.ctl }

// SetControlMethod switches the input backend and releases the old one.
func (d *Device) SetControlMethod(method string) error {
	return d.ctl.SetControlMethod(method, true)
}

// SetScreenshotMethod switches the capture backend. The new transport is
// initialised before the swap; if that fails the current one stays. The
// swap waits for in-flight captures.
func (d *Device) SetScreenshotMethod(method string) error {
	m, err := backend.ParseMethod(method)
	if err != nil {
		return err
	}

	d.switchMu.Lock()
	defer d.switchMu.Unlock()

	if d.isClosed() {
		return &types.Error{Kind: types.ErrClosed, Op: "device: set screenshot method"}
	}

	lease, err := d.pool.Get(m)
	if err != nil {
		return err
	}
	if err := lease.Init(); err != nil {
		d.log.WithError(err).Errorf("device: %s screenshot init failed", m)
		return err
	}
	old := d.shots.Swap(lease)
	old.Exit()

	d.mu.Lock()
	prev := d.shotMethod
	d.shotMethod = m
	d.mu.Unlock()
	d.log.Infof("device: screenshot %s -> %s", prev, m)
	return nil
}

func (d *Device) Screenshot(buf *types.Frame) error {
	return d.shots.Screenshot(buf)
}

// Latest copies the last good screenshot into dst without capturing.
func (d *Device) Latest(dst *types.Frame) bool {
	return d.shots.Latest(dst)
}

func (d *Device) Status() Status {
	d.mu.Lock()
	shotMethod := d.shotMethod
	d.mu.Unlock()
	return Status{
		ID:               d.ID,
		Serial:           d.serial,
		ControlMethod:    d.ctl.Method().String(),
		ScreenshotMethod: shotMethod.String(),
		Lossy:            d.shots.IsLossy(),
		Ratio:            d.ctl.Ratio(),
	}
}

// OpenMirror leases the scrcpy transport for its encoded video and audio.
// The lease is shared with control or screenshots already on scrcpy.
func (d *Device) OpenMirror() (types.Mirror, error) {
	if d.isClosed() {
		return nil, &types.Error{Kind: types.ErrClosed, Op: "device: open mirror"}
	}
	lease, err := d.pool.Get(backend.MethodScrcpy)
	if err != nil {
		return nil, err
	}
	if err := lease.Init(); err != nil {
		return nil, err
	}
	src, ok := lease.Transport().(mirrorSource)
	if !ok {
		lease.Exit()
		return nil, types.Configurationf("device: open mirror", "%s transport has no stream", backend.MethodScrcpy)
	}
	return &mirror{mirrorSource: src, lease: lease}, nil
}

type mirrorSource interface {
	types.VideoSource
	types.AudioSource
}

type mirror struct {
	mirrorSource
	lease *backend.Lease
	once  sync.Once
}

func (m *mirror) Close() {
	m.once.Do(m.lease.Exit)
}

// HandleGesture runs a viewer gesture with the configured jitter.
func (d *Device) HandleGesture(g session.Gesture) error {
	p := types.Point{X: g.X, Y: g.Y}
	switch g.Type {
	case "click":
		opts := control.DefaultClickOptions()
		opts.Jitter = d.cfg.Jitter
		return d.ctl.Click(p, opts)
	case "long_click":
		dur := g.Duration()
		if dur == 0 {
			dur = DefaultLongClick
		}
		return d.ctl.LongClick(p, dur, d.cfg.Jitter)
	case "swipe":
		end := types.Point{X: g.X2, Y: g.Y2}
		return d.ctl.Swipe(p, end, g.Duration(), control.SwipeOptions{
			StartJitter: d.cfg.Jitter,
			EndJitter:   d.cfg.Jitter,
		})
	}
	return types.Configurationf("device: gesture", "unknown gesture %q", g.Type)
}

func (d *Device) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Close exits both backends. Mirrors must be closed by their owners.
func (d *Device) Close() {
	d.switchMu.Lock()
	defer d.switchMu.Unlock()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.shots.Exit()
	d.ctl.Exit()
	d.log.Info("device: closed")
}
