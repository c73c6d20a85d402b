//go:build windows

package metadata

// syncDir is a no-op: Windows cannot open directories for flushing and
// MoveFileEx already commits the rename.
func syncDir(string) error {
	return nil
}
