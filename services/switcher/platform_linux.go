package switcher

// NewPlatformVolume returns the bootloader volume for the running platform.
func NewPlatformVolume(opts PlatformOptions) (Volume, error) {
	return &LinuxVolume{Device: opts.Device, MountPoint: opts.MountPoint, Logger: opts.Logger}, nil
}
