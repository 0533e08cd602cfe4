// Package screenshot serves tear-free frames from a capture transport.
package screenshot

import (
	"sync"

	"baas/internal/types"

	"github.com/sirupsen/logrus"
)

var shadows = sync.Pool{
	New: func() any { return &types.Frame{} },
}

// Provider wraps one transport. Captures land in a private shadow frame and
// are published into the last good frame with a short locked copy, so a
// reader never sees a half written image and a failed capture changes
// nothing.
type Provider struct {
	log *logrus.Entry

	// slot guards t. Captures hold it shared; Swap holds it exclusively.
	slot sync.RWMutex
	t    types.Transport

	frameMu sync.Mutex
	last    types.Frame
}

func New(t types.Transport, log *logrus.Entry) *Provider {
	return &Provider{t: t, log: log.WithField("component", "screenshot")}
}

func (p *Provider) Init() error {
	p.slot.RLock()
	defer p.slot.RUnlock()
	if err := p.t.Init(); err != nil {
		p.log.WithError(err).Error("screenshot: init failed")
		return err
	}
	p.log.Debug("screenshot: ready")
	return nil
}

func (p *Provider) Exit() {
	p.slot.RLock()
	defer p.slot.RUnlock()
	p.t.Exit()
}

func (p *Provider) IsLossy() bool {
	p.slot.RLock()
	defer p.slot.RUnlock()
	return p.t.IsLossy()
}

// Screenshot captures a new frame into buf. On failure buf and the last
// good frame are left as they were.
func (p *Provider) Screenshot(buf *types.Frame) error {
	shadow := shadows.Get().(*types.Frame)
	defer shadows.Put(shadow)

	p.slot.RLock()
	err := p.t.Capture(shadow)
	p.slot.RUnlock()
	if err != nil {
		p.log.WithError(err).Warn("screenshot: capture failed")
		return err
	}

	p.frameMu.Lock()
	defer p.frameMu.Unlock()
	p.last.CopyFrom(shadow)
	buf.CopyFrom(&p.last)
	return nil
}

// Latest copies the last good frame into dst. It reports false before the
// first successful capture.
func (p *Provider) Latest(dst *types.Frame) bool {
	p.frameMu.Lock()
	defer p.frameMu.Unlock()
	if p.last.Empty() {
		return false
	}
	dst.CopyFrom(&p.last)
	return true
}

// Swap installs t once in-flight captures have finished and returns the
// previous transport. Neither transport is initialised or exited here.
func (p *Provider) Swap(t types.Transport) types.Transport {
	p.slot.Lock()
	defer p.slot.Unlock()
	old := p.t
	p.t = t
	return old
}

// Transport returns the current transport.
func (p *Provider) Transport() types.Transport {
	p.slot.RLock()
	defer p.slot.RUnlock()
	return p.t
}
