//go:build !windows

package nemu

import "github.com/pkg/errors"

func openIPC(string) (IPC, error) {
	return nil, errors.New("external renderer IPC is only available on windows")
}
