//go:build unix

package hal

import (
	"os"

	"golang.org/x/sys/unix"
)

func reexec() error {
	self, err := os.Executable()
	if err != nil {
		return err
	}
	return unix.Exec(self, os.Args, os.Environ())
}
