//go:build unix

package switcher

import (
	"fmt"

	"golang.org/x/sys/unix"

	"fleetboot/pkg/bootos"
)

// LocalFamily identifies the running OS from the kernel name.
func LocalFamily() (bootos.Family, error) {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return "", fmt.Errorf("uname: %w", err)
	}
	return bootos.Classify(unix.ByteSliceToString(u.Sysname[:])), nil
}
