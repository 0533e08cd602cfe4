//go:build linux

package audio

import (
	"fmt"
	"time"

	"baas/internal/types"

	"github.com/hraban/opus"
)

// Encoder packs the device's raw PCM into 20 ms Opus packets.
type Encoder struct {
	enc     *opus.Encoder
	pending []int16
	out     []byte
}

func NewEncoder() (types.AudioEncoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	return &Encoder{enc: enc, out: make([]byte, 4000)}, nil
}

// Encode buffers pcm and returns every complete frame now available.
func (e *Encoder) Encode(pcm *types.PCMChunk) ([]*types.OpusPacket, error) {
	e.pending = appendSamples(e.pending, pcm.Data)

	var pkts []*types.OpusPacket
	for len(e.pending) >= samplesPerFrame {
		n, err := e.enc.Encode(e.pending[:samplesPerFrame], e.out)
		if err != nil {
			return pkts, fmt.Errorf("opus encode: %w", err)
		}
		pkt := &types.OpusPacket{
			Data:     make([]byte, n),
			Duration: frameDuration * time.Millisecond,
		}
		copy(pkt.Data, e.out[:n])
		pkts = append(pkts, pkt)
		e.pending = e.pending[samplesPerFrame:]
	}
	// keep the tail at the front so the buffer does not creep
	e.pending = append(e.pending[:0:0], e.pending...)
	return pkts, nil
}

func (e *Encoder) Close() {
	e.pending = nil
}
