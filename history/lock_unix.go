//go:build !windows

package history

import (
	"os"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// lockFile takes an advisory lock on fp and returns the matching unlock.
func lockFile(fp *os.File, exclusive bool) (func(), error) {
	how := syscall.LOCK_SH
	if exclusive {
		how = syscall.LOCK_EX
	}
	if err := syscall.Flock(int(fp.Fd()), how); err != nil {
		return nil, err
	}
	return func() {
		if err := syscall.Flock(int(fp.Fd()), syscall.LOCK_UN); err != nil {
			log.Warning("Failed to unlock the history ledger:", err)
		}
	}, nil
}
