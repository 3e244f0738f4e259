package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/envoymon/internal/errors"
)

const fileName = "envoymon.pid"

func path() string {
	return filepath.Join(os.TempDir(), fileName)
}

// Write claims the PID file for the current process. A file left behind
// by a dead process is overwritten; a live owner aborts the claim.
func Write() error {
	errFactory := errors.New()

	owner, err := read()
	if err != nil {
		return err
	}
	if owner != 0 && alive(owner) {
		return errFactory.New(errors.ErrAlreadyRunning)
	}

	if err := os.WriteFile(path(), []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove deletes the PID file. A missing file is not an error.
func Remove() error {
	if err := os.Remove(path()); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}

	return nil
}

// read returns the PID recorded in the file, or 0 when no file exists.
// A file that does not parse is treated as stale.
func read() (int, error) {
	raw, err := os.ReadFile(path())
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.New().Wrap(errors.ErrInternal, err)
	}

	owner, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, nil
	}

	return owner, nil
}

// alive reports whether a process with the given PID accepts signals.
func alive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}
