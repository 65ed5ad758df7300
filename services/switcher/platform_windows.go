package switcher

func NewPlatformVolume(opts PlatformOptions) (Volume, error) {
	return &DiskpartVolume{Letter: opts.Letter}, nil
}
