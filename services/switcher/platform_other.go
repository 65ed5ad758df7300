//go:build !linux && !windows

package switcher

import (
	"errors"
	"runtime"
)

func NewPlatformVolume(PlatformOptions) (Volume, error) {
	return nil, errors.New("boot switching is not supported on " + runtime.GOOS)
}
