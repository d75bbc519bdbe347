package utils

import (
	"os/exec"
	"path/filepath"
	"runtime"
)

// OpenInFileBrowser asks the platform file manager to show the given
// path. The command is fire-and-forget; a missing desktop environment
// surfaces as the returned error and nothing else.
func OpenInFileBrowser(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", "-R", path)
	case "windows":
		cmd = exec.Command("explorer", "/select,", path)
	default:
		// xdg-open has no select mode; show the containing folder.
		cmd = exec.Command("xdg-open", filepath.Dir(path))
	}
	if err := cmd.Start(); err != nil {
		return IOError(err, "failed to open file browser for %s", path)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
