//go:build linux && cgo

package decode

/*
#cgo pkg-config: libavcodec libavutil libswscale
#include <libavcodec/avcodec.h>
#include <libavutil/imgutils.h>
#include <libswscale/swscale.h>
#include <stdlib.h>

// ---------------------------------------------------------------------------
// H.264 decoder: avcodec_send_packet / receive_frame, then sws_scale to
// packed BGR24. The send/drain loop lives in Go, see feed. The scaler is rebuilt when the picture size changes, which
// happens when the device rotates.
// ---------------------------------------------------------------------------

typedef struct {
	AVCodecContext *ctx;
	AVFrame *frame;
	AVFrame *tmp;
	AVPacket *pkt;
	struct SwsContext *sws;
	int sws_w;
	int sws_h;
	int sws_fmt;
} H264Decoder;

static H264Decoder* h264_decoder_init(void) {
	const AVCodec *codec = avcodec_find_decoder(AV_CODEC_ID_H264);
	if (!codec) return NULL;

	H264Decoder *d = (H264Decoder*)calloc(1, sizeof(H264Decoder));
	if (!d) return NULL;

	d->ctx = avcodec_alloc_context3(codec);
	if (!d->ctx) { free(d); return NULL; }
	d->ctx->flags |= AV_CODEC_FLAG_LOW_DELAY;

	if (avcodec_open2(d->ctx, codec, NULL) < 0) {
		avcodec_free_context(&d->ctx);
		free(d);
		return NULL;
	}
	d->frame = av_frame_alloc();
	d->tmp = av_frame_alloc();
	d->pkt = av_packet_alloc();
	return d;
}

// Returns 0 when the packet was taken, 1 when the decoder's output must be
// drained first, -1 on error.
static int h264_decoder_send(H264Decoder *d, uint8_t *data, int size) {
	d->pkt->data = data;
	d->pkt->size = size;
	int ret = avcodec_send_packet(d->ctx, d->pkt);
	d->pkt->data = NULL;
	d->pkt->size = 0;
	if (ret == AVERROR(EAGAIN)) return 1;
	return ret < 0 ? -1 : 0;
}

// Returns 1 with the picture size when a picture was taken, 0 when none is
// ready, -1 on error. Only the newest picture is kept in d->frame.
static int h264_decoder_receive(H264Decoder *d, int *w, int *h) {
	int ret = avcodec_receive_frame(d->ctx, d->tmp);
	if (ret == AVERROR(EAGAIN) || ret == AVERROR_EOF) return 0;
	if (ret < 0) return -1;

	av_frame_unref(d->frame);
	av_frame_move_ref(d->frame, d->tmp);
	*w = d->frame->width;
	*h = d->frame->height;
	return 1;
}

static int h264_decoder_convert(H264Decoder *d, uint8_t *dst, int stride) {
	AVFrame *f = d->frame;
	if (!d->sws || d->sws_w != f->width || d->sws_h != f->height || d->sws_fmt != f->format) {
		sws_freeContext(d->sws);
		d->sws = sws_getContext(
			f->width, f->height, (enum AVPixelFormat)f->format,
			f->width, f->height, AV_PIX_FMT_BGR24,
			SWS_BILINEAR, NULL, NULL, NULL);
		if (!d->sws) return -1;
		d->sws_w = f->width;
		d->sws_h = f->height;
		d->sws_fmt = f->format;
	}

	uint8_t *dst_data[1] = { dst };
	int dst_linesize[1] = { stride };
	sws_scale(d->sws, (const uint8_t * const *)f->data, f->linesize, 0, f->height,
	          dst_data, dst_linesize);
	av_frame_unref(f);
	return 0;
}

static void h264_decoder_destroy(H264Decoder *d) {
	if (!d) return;
	sws_freeContext(d->sws);
	av_packet_free(&d->pkt);
	av_frame_free(&d->frame);
	av_frame_free(&d->tmp);
	avcodec_free_context(&d->ctx);
	free(d);
}
*/
import "C"
import (
	"fmt"
	"unsafe"

	"baas/internal/types"
)

type h264Decoder struct {
	d    *C.H264Decoder
	w, h int
}

// New opens a libavcodec H.264 decoder producing BGR frames.
func New() (types.VideoDecoder, error) {
	d := C.h264_decoder_init()
	if d == nil {
		return nil, types.Configurationf("decode: init", "libavcodec has no usable h264 decoder")
	}
	return &h264Decoder{d: d}, nil
}

func (dec *h264Decoder) send(data []byte) error {
	switch C.h264_decoder_send(dec.d, (*C.uint8_t)(unsafe.Pointer(&data[0])), C.int(len(data))) {
	case 0:
		return nil
	case 1:
		return errFull
	}
	return fmt.Errorf("decode: h264 packet rejected")
}

func (dec *h264Decoder) receive() (bool, error) {
	var w, h C.int
	switch C.h264_decoder_receive(dec.d, &w, &h) {
	case 0:
		return false, nil
	case 1:
		dec.w, dec.h = int(w), int(h)
		return true, nil
	}
	return false, fmt.Errorf("decode: h264 receive failed")
}

func (dec *h264Decoder) Decode(pkt *types.EncodedFrame, dst *types.Frame) (bool, error) {
	if len(pkt.Data) == 0 {
		return false, nil
	}
	got, err := feed(dec, pkt.Data)
	if err != nil || !got {
		return false, err
	}

	dst.Reset(dec.w, dec.h)
	if C.h264_decoder_convert(dec.d, (*C.uint8_t)(unsafe.Pointer(&dst.Data[0])), C.int(dst.Stride)) != 0 {
		return false, fmt.Errorf("decode: no scaler for %dx%d", dec.w, dec.h)
	}
	return true, nil
}

func (dec *h264Decoder) Close() {
	C.h264_decoder_destroy(dec.d)
	dec.d = nil
}
