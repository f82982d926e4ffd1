//go:build unix

package backup

import "golang.org/x/sys/unix"

// deviceOf returns the filesystem device id of the given path. Hardlinks can
// only succeed when source and vault share a device.
func deviceOf(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Dev), nil
}
