//go:build windows

package backup

import "errors"

var errNoDeviceID = errors.New("device id not available on this platform")

// deviceOf is unavailable on Windows; the strategy copies instead of
// linking, which is always correct.
func deviceOf(path string) (uint64, error) {
	return 0, errNoDeviceID
}
