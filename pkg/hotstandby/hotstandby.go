// Package hotstandby implements the Hot-Standby Mirror: the external
// collaborator stage, invoked by the backup workflow, that recreates a
// finished backup's data directory under the server's hot-standby path.
package hotstandby

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/shikharish/pgmoneta/pkg/log"
	"github.com/shikharish/pgmoneta/pkg/metrics"
)

// Mirror copies the finished backup identified by identifier, for server
// serverName, into hotStandbyDir/serverName/, deleting and recreating the
// destination first. When workers > 0 the copy fan-out is bounded to that
// many concurrent file copies, the Go equivalent of the original's worker
// pool; workers <= 0 copies serially.
func Mirror(baseDir, serverName, identifier, hotStandbyDir string, workers int) error {
	if hotStandbyDir == "" {
		return nil
	}

	timer := metrics.NewTimer()
	logger := log.WithServer(serverName)

	source := filepath.Join(baseDir, serverName, "backup", identifier, "data") + string(filepath.Separator)
	destination := filepath.Join(hotStandbyDir, serverName) + string(filepath.Separator)

	if _, err := os.Stat(destination); err == nil {
		if err := os.RemoveAll(destination); err != nil {
			return fmt.Errorf("removing existing hot-standby directory %s: %w", destination, err)
		}
	}

	if err := os.MkdirAll(hotStandbyDir, 0755); err != nil {
		return fmt.Errorf("creating hot-standby root %s: %w", hotStandbyDir, err)
	}
	if err := os.MkdirAll(destination, 0755); err != nil {
		return fmt.Errorf("creating hot-standby destination %s: %w", destination, err)
	}

	if err := copyDirectory(source, destination, workers); err != nil {
		return fmt.Errorf("mirroring %s to %s: %w", source, destination, err)
	}

	elapsed := FormatDuration(timer.Duration())
	logger.Debug().Str("source", source).Str("destination", destination).
		Str("elapsed", elapsed).Msg("hot standby mirror complete")
	metrics.HotStandbyDuration.Observe(timer.Duration().Seconds())

	return nil
}

// FormatDuration renders d as HH:MM:SS, reproducing the original's
// sprintf("%02i:%02i:%02i", hours, minutes, seconds).
func FormatDuration(d time.Duration) string {
	total := int(d.Seconds())
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

// copyDirectory recursively copies src into dst. When workers > 1, file
// copies within each directory level are bounded to that many concurrent
// goroutines via a buffered semaphore channel — a worker pool hand-rolled
// with sync primitives rather than a new dependency, since the standard
// library already suffices for bounded fan-out (see DESIGN.md).
func copyDirectory(src, dst string, workers int) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}

	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	errCh := make(chan error, len(entries))
	var pending int

	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		if entry.IsDir() {
			if err := os.MkdirAll(dstPath, 0755); err != nil {
				return err
			}
			if err := copyDirectory(srcPath, dstPath, workers); err != nil {
				return err
			}
			continue
		}

		pending++
		sem <- struct{}{}
		go func(srcPath, dstPath string) {
			defer func() { <-sem }()
			errCh <- copyFile(srcPath, dstPath)
		}(srcPath, dstPath)
	}

	for i := 0; i < pending; i++ {
		if err := <-errCh; err != nil {
			return err
		}
	}

	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
