package main

import (
	"baas/internal/config"
	"baas/internal/control"
	"baas/internal/device"
	"baas/internal/logging"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type app struct {
	cfg        config.Config
	jitterKind string
	log        *logrus.Logger
}

func newApp() *app {
	return &app{cfg: config.Default(), jitterKind: control.JitterRectangle.String()}
}

func newRootCmd() *cobra.Command {
	return newApp().command()
}

func (a *app) command() *cobra.Command {
	root := &cobra.Command{
		Use:           "baas",
		Short:         "Drive an Android device or emulator: screenshots, taps and swipes",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	f := root.PersistentFlags()
	f.StringVarP(&a.cfg.Serial, "serial", "s", a.cfg.Serial, "adb device serial (default: the only device)")
	f.StringVar(&a.cfg.ADBHost, "adb-host", a.cfg.ADBHost, "adb server host")
	f.IntVar(&a.cfg.ADBPort, "adb-port", a.cfg.ADBPort, "adb server port")
	f.StringVar(&a.cfg.ControlMethod, "control", a.cfg.ControlMethod, "input backend: nemu, scrcpy or adb")
	f.StringVar(&a.cfg.ScreenshotMethod, "screenshot", a.cfg.ScreenshotMethod, "capture backend: nemu, scrcpy or adb")
	f.Float64Var(&a.cfg.ScreenRatio, "ratio", a.cfg.ScreenRatio, "device pixels per logical unit")
	f.StringVar(&a.jitterKind, "jitter", a.jitterKind, "jitter shape: none, rectangle or circle")
	f.IntVar(&a.cfg.Jitter.Magnitude, "jitter-magnitude", a.cfg.Jitter.Magnitude, "jitter magnitude in device pixels")

	f.StringVar(&a.cfg.Nemu.Folder, "nemu-folder", a.cfg.Nemu.Folder, "MuMu install directory")
	f.IntVar(&a.cfg.Nemu.Instance, "nemu-instance", a.cfg.Nemu.Instance, "MuMu instance index")
	f.IntVar(&a.cfg.Nemu.Display, "nemu-display", a.cfg.Nemu.Display, "MuMu display id")

	f.StringVar(&a.cfg.Scrcpy.ServerPath, "scrcpy-server", a.cfg.Scrcpy.ServerPath, "local scrcpy-server jar")
	f.StringVar(&a.cfg.Scrcpy.Version, "scrcpy-version", a.cfg.Scrcpy.Version, "scrcpy-server version, must match the jar")
	f.IntVar(&a.cfg.Scrcpy.MaxSize, "max-size", a.cfg.Scrcpy.MaxSize, "scrcpy max frame dimension (0 = native)")
	f.IntVar(&a.cfg.Scrcpy.BitRate, "bit-rate", a.cfg.Scrcpy.BitRate, "scrcpy video bit rate")
	f.IntVar(&a.cfg.Scrcpy.MaxFPS, "max-fps", a.cfg.Scrcpy.MaxFPS, "scrcpy max frame rate")
	f.BoolVar(&a.cfg.Scrcpy.Audio, "audio", a.cfg.Scrcpy.Audio, "forward device audio over scrcpy")
	f.DurationVar(&a.cfg.Scrcpy.FirstFrameTimeout, "first-frame-timeout", a.cfg.Scrcpy.FirstFrameTimeout, "how long a scrcpy capture waits for the first frame")

	f.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "log level: debug, info, warn or error")
	f.BoolVar(&a.cfg.LogJSON, "log-json", a.cfg.LogJSON, "log as JSON")

	root.AddCommand(
		newScreenshotCmd(a),
		newClickCmd(a),
		newLongClickCmd(a),
		newSwipeCmd(a),
		newServeCmd(a),
	)
	return root
}

func (a *app) setup() error {
	kind, err := control.ParseJitterKind(a.jitterKind)
	if err != nil {
		return err
	}
	a.cfg.Jitter.Kind = kind

	log, err := logging.New(a.cfg.LogLevel, a.cfg.LogJSON)
	if err != nil {
		return err
	}
	a.log = log
	return a.cfg.Validate()
}

func (a *app) openDevice() (*device.Device, error) {
	return device.Open(a.cfg, logging.Component(a.log, "baas"))
}
