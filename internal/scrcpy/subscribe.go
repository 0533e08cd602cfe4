package scrcpy

import "baas/internal/types"

// SubscribeVideo returns a channel of encoded access units as they arrive
// from the device. Slow subscribers miss packets rather than stall the
// reader. The channel is closed by the returned cancel func or on Exit.
func (c *Client) SubscribeVideo() (<-chan *types.EncodedFrame, func()) {
	ch := make(chan *types.EncodedFrame, subBuffer)
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.videoSubs[id] = ch
	c.subMu.Unlock()

	return ch, func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if _, ok := c.videoSubs[id]; ok {
			delete(c.videoSubs, id)
			close(ch)
		}
	}
}

// SubscribeAudio is SubscribeVideo for the raw PCM stream. Nothing is
// delivered unless audio was enabled and the device accepted it.
func (c *Client) SubscribeAudio() (<-chan *types.PCMChunk, func()) {
	ch := make(chan *types.PCMChunk, subBuffer)
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.audioSubs[id] = ch
	c.subMu.Unlock()

	return ch, func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if _, ok := c.audioSubs[id]; ok {
			delete(c.audioSubs, id)
			close(ch)
		}
	}
}

func (c *Client) publishVideo(f *types.EncodedFrame) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.videoSubs {
		select {
		case ch <- f:
		default:
		}
	}
}

func (c *Client) publishAudio(p *types.PCMChunk) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.audioSubs {
		select {
		case ch <- p:
		default:
		}
	}
}
