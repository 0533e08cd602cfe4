//go:build linux

package audio

import (
	"fmt"

	"baas/internal/types"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
	"github.com/sirupsen/logrus"
)

// pulseQueue adapts pcmQueue to pulse.Reader.
type pulseQueue struct {
	*pcmQueue
}

func (pulseQueue) Format() byte { return proto.FormatInt16LE }

// PulseSink plays device audio on the host's default PulseAudio sink.
type PulseSink struct {
	client *pulse.Client
	stream *pulse.PlaybackStream
	queue  *pcmQueue
	log    *logrus.Entry
}

func NewPulseSink(log *logrus.Entry) (types.AudioSink, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("baas"),
	)
	if err != nil {
		return nil, fmt.Errorf("pulse connect: %w", err)
	}

	// half a second of audio before the oldest samples are dropped
	q := &pcmQueue{max: sampleRate * channels * 2 / 2}
	stream, err := client.NewPlayback(
		pulseQueue{q},
		pulse.PlaybackStereo,
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(0.1),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("pulse playback: %w", err)
	}
	stream.Start()

	s := &PulseSink{client: client, stream: stream, queue: q, log: log.WithField("component", "audio")}
	s.log.Info("audio: playing device audio on default sink")
	return s, nil
}

func (s *PulseSink) Play(pcm *types.PCMChunk) {
	s.queue.push(pcm.Data)
}

func (s *PulseSink) Close() {
	s.stream.Stop()
	s.stream.Close()
	s.client.Close()
}
