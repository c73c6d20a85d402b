//go:build !windows

package runner

import "os/exec"

// newProcess resolves path through PATH and prepares a direct exec.
func newProcess(path string, args []string) (*exec.Cmd, error) {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, err
	}
	return exec.Command(resolved, args...), nil
}
