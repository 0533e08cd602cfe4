package scrcpy

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"

	"github.com/pkg/errors"
)

const (
	deviceNameLen = 64

	flagConfig   = uint64(1) << 63
	flagKeyFrame = uint64(1) << 62
	ptsMask      = flagKeyFrame - 1

	// maxPacketSize bounds a single media packet read from the wire.
	maxPacketSize = 32 << 20
)

// Codec ids sent in the stream header, four ASCII bytes big endian.
const (
	codecDisabled = 0
	codecError    = 1
	codecH264     = 0x68323634 // "h264"
	codecRaw      = 0x00726177 // "raw"
)

// Control message types and touch actions.
const (
	msgInjectTouch = 2

	actionDown = 0
	actionUp   = 1
	actionMove = 2

	pointerGenericFinger = ^uint64(1) // -2
	touchMsgLen          = 32
)

type videoMeta struct {
	Codec  uint32
	Width  int
	Height int
}

type packet struct {
	Data   []byte
	PTS    time.Duration
	Config bool
	Key    bool
}

// readDeviceName reads the NUL padded device name that precedes the first
// stream.
func readDeviceName(r io.Reader) (string, error) {
	var buf [deviceNameLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return "", errors.Wrap(err, "read device name")
	}
	if i := bytes.IndexByte(buf[:], 0); i >= 0 {
		return string(buf[:i]), nil
	}
	return string(buf[:]), nil
}

func readCodecID(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, errors.Wrap(err, "read codec id")
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readVideoMeta(r io.Reader) (videoMeta, error) {
	var b [12]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return videoMeta{}, errors.Wrap(err, "read video header")
	}
	return videoMeta{
		Codec:  binary.BigEndian.Uint32(b[0:4]),
		Width:  int(binary.BigEndian.Uint32(b[4:8])),
		Height: int(binary.BigEndian.Uint32(b[8:12])),
	}, nil
}

func readPacket(r io.Reader) (*packet, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errors.Wrap(err, "read packet header")
	}
	ptsFlags := binary.BigEndian.Uint64(hdr[0:8])
	size := binary.BigEndian.Uint32(hdr[8:12])
	if size == 0 || size > maxPacketSize {
		return nil, errors.Errorf("bad packet size %d", size)
	}
	p := &packet{
		Data:   make([]byte, size),
		Config: ptsFlags&flagConfig != 0,
		Key:    ptsFlags&flagKeyFrame != 0,
	}
	if !p.Config {
		p.PTS = time.Duration(ptsFlags&ptsMask) * time.Microsecond
	}
	if _, err := io.ReadFull(r, p.Data); err != nil {
		return nil, errors.Wrap(err, "read packet payload")
	}
	return p, nil
}

// touchMessage encodes an inject-touch control message. width and height
// must be the current video size or the server drops the event.
func touchMessage(action uint8, x, y, width, height int) []byte {
	b := make([]byte, touchMsgLen)
	b[0] = msgInjectTouch
	b[1] = action
	binary.BigEndian.PutUint64(b[2:10], pointerGenericFinger)
	binary.BigEndian.PutUint32(b[10:14], uint32(int32(x)))
	binary.BigEndian.PutUint32(b[14:18], uint32(int32(y)))
	binary.BigEndian.PutUint16(b[18:20], uint16(width))
	binary.BigEndian.PutUint16(b[20:22], uint16(height))
	if action != actionUp {
		binary.BigEndian.PutUint16(b[22:24], 0xffff)
	}
	// action button and buttons stay zero for a finger
	return b
}
