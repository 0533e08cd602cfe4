// Package audio relays the device's audio: Opus packets for the preview
// stream and optional local playback.
package audio

import (
	"encoding/binary"
	"sync"
)

const (
	sampleRate      = 48000
	channels        = 2
	frameDuration   = 20                                // ms
	frameSize       = sampleRate * frameDuration / 1000 // 960 samples per channel
	samplesPerFrame = frameSize * channels
)

// appendSamples decodes S16LE bytes onto buf. A trailing odd byte is dropped.
func appendSamples(buf []int16, data []byte) []int16 {
	n := len(data) / 2
	for i := 0; i < n; i++ {
		buf = append(buf, int16(binary.LittleEndian.Uint16(data[i*2:])))
	}
	return buf
}

// pcmQueue buffers S16LE bytes between the device reader and a playback
// stream. Reads never block: an underrun is filled with silence.
type pcmQueue struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (q *pcmQueue) push(data []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf = append(q.buf, data...)
	if q.max > 0 && len(q.buf) > q.max {
		// drop the oldest audio, keeping sample alignment
		drop := (len(q.buf) - q.max + 3) &^ 3
		q.buf = q.buf[drop:]
	}
}

func (q *pcmQueue) Read(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := copy(p, q.buf)
	q.buf = q.buf[n:]
	clear(p[n:])
	return len(p), nil
}

func (q *pcmQueue) buffered() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}
