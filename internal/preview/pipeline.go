package preview

import (
	"sync"
	"time"

	"baas/internal/session"
	"baas/internal/types"
)

const (
	defaultFrameDur = time.Second / 60
	statsInterval   = 5 * time.Second
)

// runPipeline relays the mirror to sess until either side goes away. The
// mirror is closed on return.
func (s *Server) runPipeline(sess *session.Session, mirror types.Mirror) {
	defer mirror.Close()

	var wg sync.WaitGroup
	if s.cfg.NewAudioEncoder != nil || s.cfg.Sink != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.relayAudio(sess, mirror)
		}()
	}

	s.relayVideo(sess, mirror)
	// video ended first when the device stream was lost
	sess.Close()
	wg.Wait()
}

func (s *Server) relayVideo(sess *session.Session, src types.VideoSource) {
	frames, cancel := src.SubscribeVideo()
	defer cancel()

	var (
		sent, dropped, sendFails int
		lastPTS                  time.Duration
		started                  bool
		lastStats                = time.Now()
	)

	for {
		var f *types.EncodedFrame
		select {
		case <-sess.Stop:
			return
		case pkt, ok := <-frames:
			if !ok {
				s.log.Warn("preview: device stream ended")
				return
			}
			f = pkt
		}

		// a decoder joining mid-stream needs a key frame first
		if !started {
			if !f.IsKey {
				dropped++
				continue
			}
			started = true
			lastPTS = f.PTS
		}

		dur := f.PTS - lastPTS
		if dur <= 0 || dur > time.Second {
			dur = defaultFrameDur
		}
		lastPTS = f.PTS

		if err := sess.WriteVideoSample(f.Data, dur); err != nil {
			sendFails++
			s.log.WithError(err).Warn("preview: write video")
			return
		}
		sent++

		if s.cfg.Stats && time.Since(lastStats) >= statsInterval {
			s.log.Infof("preview: sent=%d dropped=%d sendFail=%d", sent, dropped, sendFails)
			sent, dropped, sendFails = 0, 0, 0
			lastStats = time.Now()
		}
	}
}

// relayAudio feeds device PCM to the host sink and, through an Opus
// encoder, to the viewer. An encoder that fails to start only costs the
// viewer its audio.
func (s *Server) relayAudio(sess *session.Session, src types.AudioSource) {
	var enc types.AudioEncoder
	if s.cfg.NewAudioEncoder != nil {
		e, err := s.cfg.NewAudioEncoder()
		if err != nil {
			s.log.WithError(err).Warn("preview: audio encoder unavailable, continuing without audio")
		} else {
			enc = e
			defer enc.Close()
		}
	}
	if enc == nil && s.cfg.Sink == nil {
		return
	}

	chunks, cancel := src.SubscribeAudio()
	defer cancel()

	for {
		select {
		case <-sess.Stop:
			return
		case pcm, ok := <-chunks:
			if !ok {
				return
			}
			if s.cfg.Sink != nil {
				s.cfg.Sink.Play(pcm)
			}
			if enc == nil {
				continue
			}
			pkts, err := enc.Encode(pcm)
			if err != nil {
				s.log.WithError(err).Debug("preview: encode audio")
				continue
			}
			for _, p := range pkts {
				if err := sess.WriteAudioSample(p.Data, p.Duration); err != nil {
					return
				}
			}
		}
	}
}
