package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/sirupsen/logrus"
)

// Gesture is a touch request sent by a viewer on the "input" data channel.
// Coordinates are logical screen points.
type Gesture struct {
	Type       string `json:"type"` // "click", "long_click" or "swipe"
	X          int    `json:"x"`
	Y          int    `json:"y"`
	X2         int    `json:"x2,omitempty"`
	Y2         int    `json:"y2,omitempty"`
	DurationMS int    `json:"duration_ms,omitempty"`
}

func (g Gesture) Duration() time.Duration {
	return time.Duration(g.DurationMS) * time.Millisecond
}

// GestureHandler executes viewer gestures on the device.
type GestureHandler interface {
	HandleGesture(g Gesture) error
}

const (
	h264Fmtp = "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"
)

type Session struct {
	ID         string
	PC         *webrtc.PeerConnection
	VideoTrack *webrtc.TrackLocalStaticSample
	AudioTrack *webrtc.TrackLocalStaticSample
	Stop       chan struct{}

	log    *logrus.Entry
	mu     sync.Mutex
	closed bool
}

// New creates a peer connection carrying the device's H.264 stream and
// Opus audio. Gestures from the viewer go to handler when it is non-nil.
func New(id string, handler GestureHandler, log *logrus.Entry) (*Session, error) {
	me := &webrtc.MediaEngine{}

	videoCap := webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeH264,
		ClockRate:   90000,
		SDPFmtpLine: h264Fmtp,
	}
	audioCap := webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}

	if err := me.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: videoCap,
		PayloadType:        96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register video codec: %w", err)
	}
	if err := me.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: audioCap,
		PayloadType:        111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register Opus: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(me))

	// LAN only, no STUN/TURN
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	videoTrack, err := webrtc.NewTrackLocalStaticSample(videoCap, "video", "baas")
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create video track: %w", err)
	}
	if _, err = pc.AddTrack(videoTrack); err != nil {
		pc.Close()
		return nil, fmt.Errorf("add video track: %w", err)
	}

	audioTrack, err := webrtc.NewTrackLocalStaticSample(audioCap, "audio", "baas")
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	if _, err = pc.AddTrack(audioTrack); err != nil {
		pc.Close()
		return nil, fmt.Errorf("add audio track: %w", err)
	}

	sess := &Session{
		ID:         id,
		PC:         pc,
		VideoTrack: videoTrack,
		AudioTrack: audioTrack,
		Stop:       make(chan struct{}),
		log:        log.WithField("session", id),
	}

	// Data channels are created by the viewer.
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != "input" || handler == nil {
			return
		}
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			var g Gesture
			if err := json.Unmarshal(msg.Data, &g); err != nil {
				sess.log.WithError(err).Debug("session: bad gesture")
				return
			}
			if err := handler.HandleGesture(g); err != nil {
				sess.log.WithError(err).Warnf("session: %s failed", g.Type)
			}
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		sess.log.Infof("session: peer connection %s", state)
		if state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateClosed {
			sess.Close()
		}
	})

	return sess, nil
}

func (s *Session) WriteVideoSample(data []byte, dur time.Duration) error {
	return s.VideoTrack.WriteSample(media.Sample{
		Data:     data,
		Duration: dur,
	})
}

func (s *Session) WriteAudioSample(data []byte, dur time.Duration) error {
	return s.AudioTrack.WriteSample(media.Sample{
		Data:     data,
		Duration: dur,
	})
}

func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.Stop)
	s.PC.Close()
	s.log.Info("session: closed")
}

func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
