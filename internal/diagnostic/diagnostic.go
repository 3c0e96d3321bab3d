// Package diagnostic captures a snapshot of the host the node runs on. The
// snapshot is logged at startup and served by the status API.
package diagnostic

import (
	"fmt"
	"os"
	"runtime"
)

// Diagnostic describes the process environment.
type Diagnostic struct {
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	CPUs         int    `json:"cpus"`
	GoVersion    string `json:"go_version"`
	PID          int    `json:"pid"`
	OpenFilesCur uint64 `json:"open_files_limit_soft,omitempty"`
	OpenFilesMax uint64 `json:"open_files_limit_hard,omitempty"`
}

// New collects a snapshot. Failing to read resource limits is not an error;
// the limit fields are then left zero.
func New() Diagnostic {
	d := Diagnostic{
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		CPUs:      runtime.NumCPU(),
		GoVersion: runtime.Version(),
		PID:       os.Getpid(),
	}
	d.OpenFilesCur, d.OpenFilesMax, _ = openFileLimits()
	return d
}

func (d Diagnostic) String() string {
	s := fmt.Sprintf("%s/%s cpus=%d %s pid=%d", d.OS, d.Arch, d.CPUs, d.GoVersion, d.PID)
	if d.OpenFilesMax > 0 {
		s += fmt.Sprintf(" nofile=%d/%d", d.OpenFilesCur, d.OpenFilesMax)
	}
	return s
}
