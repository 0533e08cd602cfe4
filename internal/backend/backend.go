// Package backend names the device transports and builds them.
package backend

import (
	"strings"

	"baas/internal/types"
)

// Method identifies one of the fixed device backends.
type Method int

const (
	// MethodNemu attaches to the MuMu emulator's shared-memory renderer.
	MethodNemu Method = iota + 1
	// MethodScrcpy mirrors the screen through a scrcpy video stream.
	MethodScrcpy
	// MethodADB issues adb shell commands.
	MethodADB
)

// Methods lists every backend in a stable order.
var Methods = []Method{MethodNemu, MethodScrcpy, MethodADB}

func (m Method) String() string {
	switch m {
	case MethodNemu:
		return "nemu"
	case MethodScrcpy:
		return "scrcpy"
	case MethodADB:
		return "adb"
	default:
		return "unknown"
	}
}

// Valid reports whether m is one of the known backends.
func (m Method) Valid() bool {
	switch m {
	case MethodNemu, MethodScrcpy, MethodADB:
		return true
	}
	return false
}

// ParseMethod maps a selector string to a Method. Both the short names and
// the descriptive aliases are accepted, case-insensitively.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nemu", "shared-memory-emulator":
		return MethodNemu, nil
	case "scrcpy", "video-mirror":
		return MethodScrcpy, nil
	case "adb", "command-bridge":
		return MethodADB, nil
	}
	return 0, types.Configurationf("backend: parse method", "unknown method %q", s)
}

// Factory constructs an uninitialised transport for a method.
type Factory func(m Method) (types.Transport, error)
