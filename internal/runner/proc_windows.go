//go:build windows

package runner

import (
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/windows"
)

// newProcess prepares path for launch. Batch scripts cannot be executed
// directly and go through cmd.exe /C. No console window is opened.
func newProcess(path string, args []string) (*exec.Cmd, error) {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, err
	}

	var c *exec.Cmd
	switch strings.ToLower(filepath.Ext(resolved)) {
	case ".bat", ".cmd":
		c = exec.Command("cmd.exe", append([]string{"/C", resolved}, args...)...)
	default:
		c = exec.Command(resolved, args...)
	}
	c.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.CREATE_NO_WINDOW,
	}
	return c, nil
}
