package hotstandby

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{90 * time.Second, "00:01:30"},
		{3661 * time.Second, "01:01:01"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatDuration(tc.d))
	}
}

func TestMirrorCopiesDataDirectory(t *testing.T) {
	base := t.TempDir()
	hotStandby := t.TempDir()

	dataDir := filepath.Join(base, "primary", "backup", "b1", "data")
	require.NoError(t, os.MkdirAll(dataDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "base.tar"), []byte("payload"), 0644))

	require.NoError(t, Mirror(base, "primary", "b1", hotStandby, 2))

	got, err := os.ReadFile(filepath.Join(hotStandby, "primary", "base.tar"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestMirrorRemovesExistingDestination(t *testing.T) {
	base := t.TempDir()
	hotStandby := t.TempDir()

	dataDir := filepath.Join(base, "primary", "backup", "b1", "data")
	require.NoError(t, os.MkdirAll(dataDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "new.tar"), []byte("new"), 0644))

	stale := filepath.Join(hotStandby, "primary")
	require.NoError(t, os.MkdirAll(stale, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(stale, "stale.tar"), []byte("stale"), 0644))

	require.NoError(t, Mirror(base, "primary", "b1", hotStandby, 1))

	_, err := os.Stat(filepath.Join(stale, "stale.tar"))
	assert.True(t, os.IsNotExist(err), "stale file from the previous mirror must be gone")
}

func TestMirrorEmptyHotStandbyDirIsNoop(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, Mirror(base, "primary", "b1", "", 1))
}
