//go:build !unix

package permission

import (
	"os"
)

func AccessProbe(devicePath, storageDir string) Prober {
	return func(p Permission) error {
		switch p {
		case Camera:
			if devicePath == "" {
				return nil
			}
			_, err := os.Stat(devicePath)
			return err
		case StorageWrite:
			_, err := os.Stat(storageDir)
			return err
		}
		return nil
	}
}
