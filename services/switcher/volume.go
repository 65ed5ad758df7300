package switcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

const (
	// ConfigDir is the bootloader directory relative to the volume root.
	ConfigDir = "EFI/refind"
	// ConfigName is the live bootloader configuration. Side-car files named
	// ConfigName + suffix hold the per-OS variants.
	ConfigName = "refind.conf"
)

var (
	// ErrVolumeBusy means the volume or its mount point is held by someone else
	// (diskpart: "is not free to be assigned"). A busy mount may be retried.
	ErrVolumeBusy = errors.New("volume busy")
	// ErrVolumeInUse means the mounted volume could not be released because a
	// process still holds files on it. Retrying the switch does not help.
	ErrVolumeInUse = errors.New("volume in use")
	// ErrStillMounted means the volume was still visible after unmounting.
	ErrStillMounted = errors.New("still mounted")
)

// Volume is the partition holding the bootloader configuration.
type Volume interface {
	Mount(ctx context.Context) error
	// Install replaces the live configuration with the side-car selected by
	// suffix (for example ".windows").
	Install(ctx context.Context, suffix string) error
	Unmount(ctx context.Context) error
	Mounted(ctx context.Context) (bool, error)
}

// installConfig copies ConfigName+suffix over ConfigName below root. The new
// content is written to a temporary file in the same directory, synced and
// renamed over the live name, so a crash leaves either the old or the new file.
func installConfig(root, suffix string) (err error) {
	dir := filepath.Join(root, filepath.FromSlash(ConfigDir))
	live := filepath.Join(dir, ConfigName)

	src, err := os.Open(live + suffix)
	if err != nil {
		return fmt.Errorf("open %s: %w", live+suffix, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(dir, ConfigName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, src); err != nil {
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), live); err != nil {
		return fmt.Errorf("replace %s: %w", live, err)
	}

	// Persist the rename. Not every platform can sync a directory.
	if d, derr := os.Open(dir); derr == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

// PlatformOptions configures NewPlatformVolume. Device and MountPoint apply to
// Linux, Letter to Windows; empty values take the defaults.
type PlatformOptions struct {
	Device     string
	MountPoint string
	Letter     string
	Logger     *log.Logger
}
