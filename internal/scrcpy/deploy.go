package scrcpy

import (
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strconv"
	"time"

	"github.com/facebookgo/freeport"
	adb "github.com/openatx/go-adb"
	"github.com/pkg/errors"
)

// Device is the slice of *adb.Device the client needs.
type Device interface {
	RunCommand(cmd string, args ...string) (string, error)
	OpenWrite(path string, perms os.FileMode, mtime time.Time) (io.WriteCloser, error)
	Forward(local, remote adb.ForwardSpec) error
}

const protoTCP = "tcp"

type forwardRemover interface {
	ForwardRemove(local adb.ForwardSpec) error
}

func newSCID() uint32 {
	return rand.Uint32() & 0x7fffffff
}

func socketName(scid uint32) string {
	return fmt.Sprintf("scrcpy_%08x", scid)
}

// push copies the server jar to the device.
func (c *Client) push() error {
	f, err := os.Open(c.cfg.ServerPath)
	if err != nil {
		return errors.Wrap(err, "open server jar")
	}
	defer f.Close()

	wc, err := c.dev.OpenWrite(c.cfg.RemotePath, 0644, time.Now())
	if err != nil {
		return errors.Wrap(err, "adb push")
	}
	if _, err := io.Copy(wc, f); err != nil {
		wc.Close()
		return errors.Wrap(err, "adb push")
	}
	return errors.Wrap(wc.Close(), "adb push")
}

func (c *Client) serverArgs(scid uint32) []string {
	args := []string{
		"nohup", "app_process", "/", "com.genymobile.scrcpy.Server",
		c.cfg.Version,
		fmt.Sprintf("scid=%08x", scid),
		"log_level=warn",
		"tunnel_forward=true",
		"control=true",
		"video_codec=h264",
		"audio=" + strconv.FormatBool(c.cfg.Audio),
		"cleanup=true",
	}
	if c.cfg.Audio {
		args = append(args, "audio_codec=raw")
	}
	if c.cfg.MaxSize > 0 {
		args = append(args, "max_size="+strconv.Itoa(c.cfg.MaxSize))
	}
	if c.cfg.BitRate > 0 {
		args = append(args, "video_bit_rate="+strconv.Itoa(c.cfg.BitRate))
	}
	if c.cfg.MaxFPS > 0 {
		args = append(args, "max_fps="+strconv.Itoa(c.cfg.MaxFPS))
	}
	return append(args, ">/dev/null", "2>&1", "&")
}

// startServer launches the server in the background and forwards a free
// local port to its abstract socket.
func (c *Client) startServer(scid uint32) (int, error) {
	if _, err := c.dev.RunCommand("CLASSPATH="+c.cfg.RemotePath, c.serverArgs(scid)...); err != nil {
		return 0, errors.Wrap(err, "start server")
	}
	port, err := freeport.Get()
	if err != nil {
		return 0, errors.Wrap(err, "pick local port")
	}
	err = c.dev.Forward(
		adb.ForwardSpec{Protocol: protoTCP, PortOrName: strconv.Itoa(port)},
		adb.ForwardSpec{Protocol: adb.FProtocolAbstract, PortOrName: socketName(scid)},
	)
	if err != nil {
		return 0, errors.Wrap(err, "adb forward")
	}
	return port, nil
}

func (c *Client) removeForward(port int) {
	fr, ok := c.dev.(forwardRemover)
	if !ok || port == 0 {
		return
	}
	local := adb.ForwardSpec{Protocol: protoTCP, PortOrName: strconv.Itoa(port)}
	if err := fr.ForwardRemove(local); err != nil {
		c.log.WithError(err).Debug("scrcpy: forward remove failed")
	}
}
