//go:build windows

package nemu

import (
	"os"
	"path/filepath"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

// Install layouts differ between emulator releases.
var dllPaths = []string{
	filepath.Join("shell", "sdk", "external_renderer_ipc.dll"),
	filepath.Join("nx_main", "sdk", "external_renderer_ipc.dll"),
}

type dllIPC struct {
	connect    *windows.LazyProc
	disconnect *windows.LazyProc
	capture    *windows.LazyProc
	touchDown  *windows.LazyProc
	touchUp    *windows.LazyProc
}

func openIPC(folder string) (IPC, error) {
	var dll *windows.LazyDLL
	for _, p := range dllPaths {
		full := filepath.Join(folder, p)
		if _, err := os.Stat(full); err == nil {
			dll = windows.NewLazyDLL(full)
			break
		}
	}
	if dll == nil {
		return nil, errors.Errorf("external_renderer_ipc.dll not found under %s", folder)
	}
	if err := dll.Load(); err != nil {
		return nil, errors.Wrap(err, "load external_renderer_ipc.dll")
	}

	ipc := &dllIPC{
		connect:    dll.NewProc("nemu_connect"),
		disconnect: dll.NewProc("nemu_disconnect"),
		capture:    dll.NewProc("nemu_capture_display"),
		touchDown:  dll.NewProc("nemu_input_event_touch_down"),
		touchUp:    dll.NewProc("nemu_input_event_touch_up"),
	}
	for _, p := range []*windows.LazyProc{ipc.connect, ipc.disconnect, ipc.capture, ipc.touchDown, ipc.touchUp} {
		if err := p.Find(); err != nil {
			return nil, errors.Wrapf(err, "resolve %s", p.Name)
		}
	}
	return ipc, nil
}

func (d *dllIPC) Connect(folder string, instance int) (int, error) {
	path, err := windows.UTF16PtrFromString(folder)
	if err != nil {
		return 0, errors.Wrap(err, "emulator folder")
	}
	r, _, _ := d.connect.Call(uintptr(unsafe.Pointer(path)), uintptr(instance))
	return int(int32(r)), nil
}

func (d *dllIPC) Disconnect(handle int) {
	d.disconnect.Call(uintptr(handle))
}

func (d *dllIPC) DisplaySize(handle, display int) (int, int, error) {
	var w, h int32
	r, _, _ := d.capture.Call(
		uintptr(handle), uintptr(display), 0,
		uintptr(unsafe.Pointer(&w)), uintptr(unsafe.Pointer(&h)), 0,
	)
	if int32(r) != 0 {
		return 0, 0, errors.Errorf("nemu_capture_display size query returned %d", int32(r))
	}
	if w <= 0 || h <= 0 {
		return 0, 0, errors.Errorf("nemu_capture_display reported %dx%d", w, h)
	}
	return int(w), int(h), nil
}

func (d *dllIPC) CaptureDisplay(handle, display int, w, h int, rgba []byte) error {
	cw, ch := int32(w), int32(h)
	r, _, _ := d.capture.Call(
		uintptr(handle), uintptr(display), uintptr(len(rgba)),
		uintptr(unsafe.Pointer(&cw)), uintptr(unsafe.Pointer(&ch)),
		uintptr(unsafe.Pointer(&rgba[0])),
	)
	if int32(r) != 0 {
		return errors.Errorf("nemu_capture_display returned %d", int32(r))
	}
	if int(cw) != w || int(ch) != h {
		return errors.Errorf("display resized to %dx%d during capture", cw, ch)
	}
	return nil
}

func (d *dllIPC) TouchDown(handle, display, x, y int) error {
	r, _, _ := d.touchDown.Call(uintptr(handle), uintptr(display), uintptr(x), uintptr(y))
	if int32(r) != 0 {
		return errors.Errorf("nemu_input_event_touch_down returned %d", int32(r))
	}
	return nil
}

func (d *dllIPC) TouchUp(handle, display int) error {
	r, _, _ := d.touchUp.Call(uintptr(handle), uintptr(display))
	if int32(r) != 0 {
		return errors.Errorf("nemu_input_event_touch_up returned %d", int32(r))
	}
	return nil
}
