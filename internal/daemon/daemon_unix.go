//go:build unix

package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	godaemon "github.com/sevlyar/go-daemon"
	"golang.org/x/sys/unix"
)

// newContext describes the detached process: stdout goes to the .out file,
// the pid file is locked for the child's lifetime and the working directory
// is the log prefix.
func newContext(files Files, workDir string) *godaemon.Context {
	return &godaemon.Context{
		PidFileName: files.PID,
		PidFilePerm: 0o644,
		LogFileName: files.Stdout,
		LogFilePerm: 0o640,
		WorkDir:     workDir,
		Umask:       0o027,
	}
}

// Daemonize re-executes the current binary detached from the terminal.
// The parent gets the child's pid and should exit. The child gets pid 0 and
// a release func that drops the pid file on shutdown; a second instance
// with the same settings fails on the pid file lock.
func Daemonize(files Files, prefix string) (int, func(), error) {
	workDir, err := filepath.Abs(prefix)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to resolve log path prefix: %w", err)
	}
	if files, err = files.absolute(); err != nil {
		return 0, nil, fmt.Errorf("failed to resolve log file paths: %w", err)
	}

	cntxt := newContext(files, workDir)
	child, err := cntxt.Reborn()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to start daemon: %w", err)
	}
	if child != nil {
		// parent: the child is on its own now
		return child.Pid, nil, nil
	}

	// go-daemon points stdout and stderr at one log file; stderr gets its own
	if err := redirectStderr(files.Stderr); err != nil {
		cntxt.Release()
		return 0, nil, err
	}
	return 0, func() { cntxt.Release() }, nil
}

func redirectStderr(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open stderr log: %w", err)
	}
	defer f.Close()

	if err := unix.Dup2(int(f.Fd()), int(os.Stderr.Fd())); err != nil {
		return fmt.Errorf("failed to redirect stderr: %w", err)
	}
	return nil
}
