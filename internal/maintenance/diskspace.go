package maintenance

import (
	"fmt"
	"syscall"
)

// diskFreePercent returns the free-space percentage of the filesystem
// backing dirs[0]. No pack dependency wraps statfs, and this is a
// single syscall with no parsing or cross-platform abstraction to
// justify pulling one in.
func diskFreePercent(dirs []string) (float64, error) {
	if len(dirs) == 0 {
		return 100, nil
	}
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dirs[0], &stat); err != nil {
		return 0, fmt.Errorf("statfs %q: %w", dirs[0], err)
	}
	if stat.Blocks == 0 {
		return 100, nil
	}
	return float64(stat.Bavail) / float64(stat.Blocks) * 100, nil
}
