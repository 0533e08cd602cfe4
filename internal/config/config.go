// Package config holds the values a device session is built from. Values
// come from the command line; nothing here reads files.
package config

import (
	"errors"
	"fmt"
	"time"

	"baas/internal/backend"
	"baas/internal/control"
	"baas/internal/nemu"
	"baas/internal/scrcpy"
	"baas/internal/types"
)

type Config struct {
	// Serial selects the adb device; empty means any single device.
	Serial  string
	ADBHost string
	ADBPort int

	ControlMethod    string
	ScreenshotMethod string
	// ScreenRatio converts logical coordinates to device pixels.
	ScreenRatio float64
	Jitter      control.JitterSpec

	Nemu    nemu.Config
	Scrcpy  scrcpy.Config
	Preview Preview

	LogLevel string
	LogJSON  bool
}

// Preview configures the live preview server.
type Preview struct {
	Addr  string
	Token string
	Stats bool

	OfferTimeout   time.Duration
	AllowedOrigins []string
	AuthFailLimit  int
	AuthFailWindow time.Duration

	TLS     bool   // self-signed certificate
	TLSCert string // PEM files, both or neither
	TLSKey  string

	// PlayAudio plays the device audio on the host as well.
	PlayAudio bool
}

func Default() Config {
	return Config{
		ADBHost:          "127.0.0.1",
		ADBPort:          5037,
		ControlMethod:    backend.MethodADB.String(),
		ScreenshotMethod: backend.MethodADB.String(),
		ScreenRatio:      1.0,
		Jitter:           control.DefaultClickOptions().Jitter,
		Scrcpy:           scrcpy.DefaultConfig(),
		Preview: Preview{
			Addr:           "127.0.0.1:8080",
			OfferTimeout:   10 * time.Second,
			AuthFailLimit:  10,
			AuthFailWindow: time.Minute,
		},
		LogLevel: "info",
	}
}

// Validate checks everything a device session needs. Preview settings are
// checked separately by ValidatePreview.
func (c Config) Validate() error {
	var errs []error
	if _, err := backend.ParseMethod(c.ControlMethod); err != nil {
		errs = append(errs, fmt.Errorf("control method: %w", err))
	}
	if _, err := backend.ParseMethod(c.ScreenshotMethod); err != nil {
		errs = append(errs, fmt.Errorf("screenshot method: %w", err))
	}
	if !(c.ScreenRatio > 0) {
		errs = append(errs, fmt.Errorf("screen ratio must be > 0, got %v", c.ScreenRatio))
	}
	if c.Jitter.Magnitude < 0 {
		errs = append(errs, fmt.Errorf("jitter magnitude must be >= 0, got %d", c.Jitter.Magnitude))
	}
	if c.ADBPort <= 0 || c.ADBPort > 65535 {
		errs = append(errs, fmt.Errorf("adb port %d out of range", c.ADBPort))
	}
	if c.Scrcpy.FirstFrameTimeout <= 0 {
		errs = append(errs, errors.New("scrcpy first frame timeout must be > 0"))
	}
	if c.Scrcpy.DialRetries <= 0 {
		errs = append(errs, errors.New("scrcpy dial retries must be > 0"))
	}
	if c.Nemu.Instance < 0 {
		errs = append(errs, fmt.Errorf("nemu instance %d < 0", c.Nemu.Instance))
	}
	return joined("config", errs)
}

func (c Config) ValidatePreview() error {
	p := c.Preview
	var errs []error
	if p.Token == "" {
		errs = append(errs, errors.New("preview token is required"))
	}
	if (p.TLSCert != "") != (p.TLSKey != "") {
		errs = append(errs, errors.New("tls cert and key must both be set"))
	}
	if p.OfferTimeout <= 0 {
		errs = append(errs, errors.New("offer timeout must be > 0"))
	}
	return joined("preview config", errs)
}

func joined(op string, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return types.ConfigurationError(op, errors.Join(errs...))
}
