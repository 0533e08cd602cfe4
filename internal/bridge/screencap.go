package bridge

import (
	"bytes"
	"encoding/binary"

	"baas/internal/types"

	"github.com/pkg/errors"
)

// Pixel formats reported in the screencap header (android.graphics.PixelFormat).
const (
	formatRGBA8888 = 1
	formatRGBX8888 = 2
	formatBGRA8888 = 5
)

// decodeScreencap converts a raw `screencap` dump into a BGR frame. The dump
// is width, height, format (uint32 LE each), an optional uint32 colour space
// on newer Android releases, then width*height*4 pixel bytes. dst is only
// written once the dump has been validated.
func decodeScreencap(raw []byte, dst *types.Frame) error {
	pixels, w, h, format, err := splitScreencap(raw)
	if err != nil {
		// Old shells translate LF to CRLF in binary output.
		fixed := bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n"))
		if len(fixed) == len(raw) {
			return err
		}
		if pixels, w, h, format, err = splitScreencap(fixed); err != nil {
			return err
		}
	}

	var ri, bi int
	switch format {
	case formatRGBA8888, formatRGBX8888:
		ri, bi = 0, 2
	case formatBGRA8888:
		ri, bi = 2, 0
	default:
		return errors.Errorf("screencap: unsupported pixel format %d", format)
	}

	dst.Reset(w, h)
	out := dst.Data
	for i, o := 0, 0; o < len(out); i, o = i+4, o+3 {
		out[o] = pixels[i+bi]
		out[o+1] = pixels[i+1]
		out[o+2] = pixels[i+ri]
	}
	return nil
}

func splitScreencap(raw []byte) (pixels []byte, w, h, format int, err error) {
	if len(raw) < 12 {
		return nil, 0, 0, 0, errors.Errorf("screencap: short dump (%d bytes)", len(raw))
	}
	w = int(binary.LittleEndian.Uint32(raw[0:4]))
	h = int(binary.LittleEndian.Uint32(raw[4:8]))
	format = int(binary.LittleEndian.Uint32(raw[8:12]))
	if w <= 0 || h <= 0 || w > 16384 || h > 16384 {
		return nil, 0, 0, 0, errors.Errorf("screencap: bad size %dx%d", w, h)
	}
	size := w * h * 4
	switch len(raw) - size {
	case 12:
		return raw[12:], w, h, format, nil
	case 16:
		return raw[16:], w, h, format, nil
	}
	return nil, 0, 0, 0, errors.Errorf("screencap: %d bytes does not match %dx%d", len(raw), w, h)
}
