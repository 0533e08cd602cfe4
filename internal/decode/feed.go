package decode

import (
	"errors"
	"fmt"
)

// errFull is returned by send when the decoder holds pictures that must be
// received before it takes more input.
var errFull = errors.New("decoder output full")

// codec is the send/receive pair of a packet decoder. receive takes one
// ready picture and keeps only the newest.
type codec interface {
	send(data []byte) error
	receive() (bool, error)
}

// feed hands one packet to c, draining it first when it is full, and then
// takes every picture the packet made ready. It reports whether a picture is
// waiting.
func feed(c codec, data []byte) (bool, error) {
	got := false
	err := c.send(data)
	if errors.Is(err, errFull) {
		if got, err = drain(c); err != nil {
			return false, err
		}
		if !got {
			return false, fmt.Errorf("decode: decoder full with no picture ready")
		}
		err = c.send(data)
	}
	if err != nil {
		return false, err
	}
	more, err := drain(c)
	if err != nil {
		return false, err
	}
	return got || more, nil
}

func drain(c codec) (bool, error) {
	got := false
	for {
		ok, err := c.receive()
		if err != nil {
			return false, err
		}
		if !ok {
			return got, nil
		}
		got = true
	}
}
