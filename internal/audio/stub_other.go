//go:build !linux

package audio

import (
	"errors"

	"baas/internal/types"

	"github.com/sirupsen/logrus"
)

func NewEncoder() (types.AudioEncoder, error) {
	return nil, errors.New("audio encoding not supported on this platform")
}

func NewPulseSink(*logrus.Entry) (types.AudioSink, error) {
	return nil, errors.New("audio playback not supported on this platform")
}
