package switcher

import (
	"context"
	"fmt"
	"os"
	"strings"
)

const diskpartBusyMarker = "is not free to be assigned"

// DiskpartVolume assigns a drive letter to the EFI system partition with
// diskpart scripts. Zero values select disk 0, partition 1 and letter S.
type DiskpartVolume struct {
	Disk      int
	Partition int
	Letter    string
	Run       Runner

	// root overrides the drive root in tests.
	root string
}

func (v *DiskpartVolume) letter() string {
	if v.Letter == "" {
		return "S"
	}
	return strings.ToUpper(strings.TrimSuffix(v.Letter, ":"))
}

func (v *DiskpartVolume) partition() int {
	if v.Partition == 0 {
		return 1
	}
	return v.Partition
}

func (v *DiskpartVolume) driveRoot() string {
	if v.root != "" {
		return v.root
	}
	return v.letter() + `:\`
}

func (v *DiskpartVolume) script(action string) string {
	return fmt.Sprintf("select disk %d\nselect partition %d\n%s letter=%s\nexit\n",
		v.Disk, v.partition(), action, v.letter())
}

func (v *DiskpartVolume) Mount(ctx context.Context) error {
	return v.diskpart(ctx, "assign")
}

func (v *DiskpartVolume) Install(_ context.Context, suffix string) error {
	return installConfig(v.driveRoot(), suffix)
}

func (v *DiskpartVolume) Unmount(ctx context.Context) error {
	return v.diskpart(ctx, "remove")
}

// Mounted lists the drive root; any failure means the letter is gone.
func (v *DiskpartVolume) Mounted(context.Context) (bool, error) {
	_, err := os.ReadDir(v.driveRoot())
	return err == nil, nil
}

func (v *DiskpartVolume) diskpart(ctx context.Context, action string) error {
	f, err := os.CreateTemp("", "fleetboot-diskpart-*.txt")
	if err != nil {
		return fmt.Errorf("diskpart %s: create script: %w", action, err)
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(v.script(action)); err != nil {
		f.Close()
		return fmt.Errorf("diskpart %s: write script: %w", action, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("diskpart %s: write script: %w", action, err)
	}

	out, err := runnerOrDefault(v.Run)(ctx, "diskpart", "/s", f.Name())
	// diskpart reports some failures with a zero exit status.
	if strings.Contains(string(out), diskpartBusyMarker) {
		return fmt.Errorf("diskpart %s letter %s: %w", action, v.letter(), ErrVolumeBusy)
	}
	if err != nil {
		return fmt.Errorf("diskpart %s letter %s: %w: %s", action, v.letter(), err, strings.TrimSpace(string(out)))
	}
	return nil
}
