// Package daemon detaches the listener from its terminal and points its
// output at per-instance log files.
package daemon

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	godaemon "github.com/sevlyar/go-daemon"
)

const filePrefix = "gelf-kafka-listener"

var ErrUnsupported = errors.New("daemonize is not supported on this platform")

// Files are the paths one listener instance writes to.
type Files struct {
	Stdout string
	Stderr string
	PID    string
}

// LogFileNames derives the instance's file names from its settings, so two
// listeners on different addresses or topics never share a log or pid file.
func LogFileNames(proto, listen, topic, prefix string) Files {
	base := fmt.Sprintf("%s_%s_%s_%s", filePrefix, proto, strings.ReplaceAll(listen, ":", "-"), topic)
	base = filepath.Join(prefix, base)
	return Files{
		Stdout: base + ".out",
		Stderr: base + ".err",
		PID:    base + ".pid",
	}
}

// IsChild reports whether this process is the detached copy.
func IsChild() bool {
	return godaemon.WasReborn()
}

// absolute resolves every path so they survive the child's chdir.
func (f Files) absolute() (Files, error) {
	var err error
	for _, p := range []*string{&f.Stdout, &f.Stderr, &f.PID} {
		if *p, err = filepath.Abs(*p); err != nil {
			return f, err
		}
	}
	return f, nil
}
