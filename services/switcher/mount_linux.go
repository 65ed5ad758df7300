package switcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const (
	DefaultESPDevice     = "/dev/sda1"
	DefaultESPMountPoint = "/run/fleetboot/esp"
)

// LinuxVolume mounts the EFI system partition at a dedicated mount point, so
// it does not disturb an fstab mount of the same partition at /boot/efi.
type LinuxVolume struct {
	Device     string
	MountPoint string
	FSType     string
	Logger     *log.Logger
}

func (v *LinuxVolume) device() string {
	if v.Device == "" {
		return DefaultESPDevice
	}
	return v.Device
}

func (v *LinuxVolume) mountPoint() string {
	if v.MountPoint == "" {
		return DefaultESPMountPoint
	}
	return v.MountPoint
}

func (v *LinuxVolume) fsType() string {
	if v.FSType == "" {
		return "vfat"
	}
	return v.FSType
}

func (v *LinuxVolume) Mount(ctx context.Context) error {
	mp := v.mountPoint()
	mounted, err := v.Mounted(ctx)
	if err != nil {
		return err
	}
	if mounted {
		return fmt.Errorf("%s is already mounted: %w", mp, ErrVolumeBusy)
	}
	if err := os.MkdirAll(mp, 0o700); err != nil {
		return fmt.Errorf("create mount point %s: %w", mp, err)
	}
	if err := unix.Mount(v.device(), mp, v.fsType(), unix.MS_NOSUID|unix.MS_NODEV, ""); err != nil {
		if errors.Is(err, unix.EBUSY) {
			return fmt.Errorf("mount %s on %s: %w", v.device(), mp, ErrVolumeBusy)
		}
		return fmt.Errorf("mount %s on %s: %w", v.device(), mp, err)
	}
	if v.Logger != nil {
		v.Logger.Printf("INFO mounted %s on %s", v.device(), mp)
	}
	return nil
}

func (v *LinuxVolume) Install(_ context.Context, suffix string) error {
	return installConfig(v.mountPoint(), suffix)
}

func (v *LinuxVolume) Unmount(context.Context) error {
	mp := v.mountPoint()
	if err := unix.Unmount(mp, 0); err != nil {
		if errors.Is(err, unix.EBUSY) {
			return fmt.Errorf("unmount %s: %w", mp, ErrVolumeInUse)
		}
		return fmt.Errorf("unmount %s: %w", mp, err)
	}
	return nil
}

// Mounted reports whether the mount point sits on a different device than its
// parent directory.
func (v *LinuxVolume) Mounted(context.Context) (bool, error) {
	mp := v.mountPoint()
	var st, parent unix.Stat_t
	if err := unix.Stat(mp, &st); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", mp, err)
	}
	if err := unix.Stat(filepath.Dir(mp), &parent); err != nil {
		return false, fmt.Errorf("stat %s: %w", filepath.Dir(mp), err)
	}
	return st.Dev != parent.Dev, nil
}
