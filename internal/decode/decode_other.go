//go:build !linux || !cgo

package decode

import "baas/internal/types"

// New reports that this build has no H.264 decoder.
func New() (types.VideoDecoder, error) {
	return nil, types.Configurationf("decode: init", "h264 decoding needs a linux cgo build with libavcodec")
}
