package diagnostic

import (
	"runtime"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	d := New()
	if d.OS != runtime.GOOS || d.Arch != runtime.GOARCH {
		t.Errorf("platform = %s/%s", d.OS, d.Arch)
	}
	if d.CPUs < 1 {
		t.Errorf("CPUs = %d", d.CPUs)
	}
	if d.PID == 0 {
		t.Error("PID not set")
	}
	if runtime.GOOS == "linux" && d.OpenFilesMax == 0 {
		t.Error("open file limit not read on linux")
	}
	if !strings.Contains(d.String(), d.GoVersion) {
		t.Errorf("String() = %q", d.String())
	}
}
