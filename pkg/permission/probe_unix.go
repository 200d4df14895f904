//go:build unix

package permission

import (
	"golang.org/x/sys/unix"
)

// AccessProbe checks read/write access to the camera node and write access
// to the storage directory. An empty devicePath skips the camera check.
func AccessProbe(devicePath, storageDir string) Prober {
	return func(p Permission) error {
		switch p {
		case Camera:
			if devicePath == "" {
				return nil
			}
			return unix.Access(devicePath, unix.R_OK|unix.W_OK)
		case StorageWrite:
			return unix.Access(storageDir, unix.W_OK|unix.X_OK)
		}
		return nil
	}
}
