package supervisor

import (
	"fmt"
	"os"

	"github.com/shikharish/pgmoneta/pkg/pgerr"
)

// CreatePidFile exclusively creates path and writes "<pid>\n" into it,
// reproducing the original's exact failure phrasing:
// "Could not create PID file '<path>' due to <errno>". An empty path is a
// no-op, matching the original's "if strlen(pidfile) > 0" guard.
func CreatePidFile(path string, pid int) error {
	if path == "" {
		return nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return pgerr.New(pgerr.PidfileExists, "", fmt.Errorf("Could not create PID file '%s' due to %w", path, err))
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d\n", pid); err != nil {
		return pgerr.New(pgerr.InternalBug, "", fmt.Errorf("Could not write pidfile '%s' due to %w", path, err))
	}

	return nil
}

// RemovePidFile removes path, matching the original's unconditional unlink
// (no-op if path is empty or already gone).
func RemovePidFile(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
