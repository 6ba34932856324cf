// Package lock implements the loop-avoidance marker: a zero-byte sibling
// file created while an inbound download is in flight, so the filesystem
// event it causes is not mistaken for a local change and re-broadcast back
// to the sender that just sent it.
package lock

import "os"

const suffix = ".fsy.lock"

// Path returns the marker path for target p.
func Path(p string) string {
	return p + suffix
}

// IsLocked reports whether p currently has an active marker.
func IsLocked(p string) bool {
	_, err := os.Stat(Path(p))
	return err == nil
}

// Acquire creates the marker for p. Safe to call when it already exists.
func Acquire(p string) error {
	f, err := os.OpenFile(Path(p), os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	return f.Close()
}

// Release removes the marker for p. Idempotent: removing an already-absent
// marker is not an error.
func Release(p string) error {
	err := os.Remove(Path(p))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
