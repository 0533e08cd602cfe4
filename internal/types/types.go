package types

import (
	"time"
)

// Frame is a captured screen frame in packed 3-channel BGR, row-major.
// Stride is the number of bytes per row and is always >= Width*3.
type Frame struct {
	Data   []byte
	Width  int
	Height int
	Stride int
}

// NewFrame allocates a zeroed BGR frame.
func NewFrame(width, height int) *Frame {
	f := &Frame{}
	f.Reset(width, height)
	return f
}

// Reset resizes the frame, reusing Data when it is large enough.
func (f *Frame) Reset(width, height int) {
	n := width * height * 3
	if cap(f.Data) < n {
		f.Data = make([]byte, n)
	}
	f.Data = f.Data[:n]
	f.Width = width
	f.Height = height
	f.Stride = width * 3
}

// CopyFrom makes f a deep copy of src, compacting rows if src is padded.
func (f *Frame) CopyFrom(src *Frame) {
	f.Reset(src.Width, src.Height)
	if src.Stride == f.Stride {
		copy(f.Data, src.Data[:len(f.Data)])
		return
	}
	for y := 0; y < src.Height; y++ {
		copy(f.Data[y*f.Stride:(y+1)*f.Stride], src.Data[y*src.Stride:])
	}
}

// Clone returns a deep copy of f.
func (f *Frame) Clone() *Frame {
	c := &Frame{}
	c.CopyFrom(f)
	return c
}

// Empty reports whether the frame holds no pixels.
func (f *Frame) Empty() bool {
	return f == nil || f.Width == 0 || f.Height == 0
}

// Point is a coordinate in the resolution-independent logical space
// used by callers. Device pixel coordinates are derived from it.
type Point struct {
	X int
	Y int
}

// EncodedFrame is one compressed video access unit as received from the
// device. Config packets are already merged into the following frame.
type EncodedFrame struct {
	Data  []byte
	PTS   time.Duration
	IsKey bool
}

// PCMChunk is interleaved signed 16-bit little-endian stereo audio at 48 kHz.
type PCMChunk struct {
	Data []byte
	PTS  time.Duration
}

type OpusPacket struct {
	Data     []byte
	Duration time.Duration
}

// Transport is the capability set shared by all device backends.
//
// Capture blocks until dst holds the most recent device image. Tap, LongTap
// and Swipe take device pixel coordinates. Exit must be safe to call more
// than once. Errors are returned as *Error with one of the Err* kinds and
// are never retried inside the transport.
type Transport interface {
	Init() error
	Capture(dst *Frame) error
	Tap(x, y int) error
	LongTap(x, y int, d time.Duration) error
	Swipe(x1, y1, x2, y2 int, d time.Duration) error
	Exit()
	IsLossy() bool
}

// Recoverable is implemented by transports whose session can die while the
// transport stays initialised. Calling Init on a dead transport reconnects.
type Recoverable interface {
	Dead() bool
}

// VideoDecoder turns compressed access units into BGR frames. Decode may
// return (false, nil) when the decoder needs more input before it can
// produce a picture.
type VideoDecoder interface {
	Decode(pkt *EncodedFrame, dst *Frame) (bool, error)
	Close()
}

// VideoSource is optionally implemented by a Transport that receives an
// already-encoded H.264 stream from the device.
type VideoSource interface {
	SubscribeVideo() (<-chan *EncodedFrame, func())
}

// AudioSource is optionally implemented by a Transport that forwards the
// device's audio output.
type AudioSource interface {
	SubscribeAudio() (<-chan *PCMChunk, func())
}

type AudioEncoder interface {
	Encode(pcm *PCMChunk) ([]*OpusPacket, error)
	Close()
}

type AudioSink interface {
	Play(pcm *PCMChunk)
	Close()
}

// Mirror is a live feed from the device. Close releases the transport
// behind it.
type Mirror interface {
	VideoSource
	AudioSource
	Close()
}
