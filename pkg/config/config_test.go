package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shikharish/pgmoneta/pkg/pgerr"
)

func writeMainConf(t *testing.T, dir string, body string) string {
	t.Helper()
	path := filepath.Join(dir, "pgmoneta.conf")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadOK(t *testing.T) {
	dir := t.TempDir()
	path := writeMainConf(t, dir, `
base_dir: `+dir+`
metrics_port: 5001
management_port: 5002
compression: GZIP
servers:
  - name: primary
    host: 127.0.0.1
    port: 5432
    username: repl
`)

	region, result, err := Load(Paths{Main: path}, "")
	require.NoError(t, err)
	assert.Equal(t, LoadOK, result)
	assert.Len(t, region.Servers, 1)
	assert.Equal(t, "primary", region.Servers[0].Name)
	assert.Equal(t, CompressionGzip, region.CompressionPolicy)
}

func TestLoadMissing(t *testing.T) {
	_, result, err := Load(Paths{Main: "/nonexistent/pgmoneta.conf"}, "")
	assert.Equal(t, LoadMissing, result)
	assert.True(t, pgerr.Is(err, pgerr.ConfigMissing))
}

func TestLoadCapacityExceeded(t *testing.T) {
	dir := t.TempDir()
	body := "servers:\n"
	for i := 0; i < MaxServers+1; i++ {
		body += "  - name: s" + string(rune('a'+i%26)) + "\n    host: h\n    port: 5432\n"
	}
	path := writeMainConf(t, dir, body)

	_, result, err := Load(Paths{Main: path}, "")
	assert.Equal(t, LoadCapacityExceeded, result)
	assert.True(t, pgerr.Is(err, pgerr.CapacityExceeded))
}

func TestLoadDuplicateServerNameIsCapacityExceeded(t *testing.T) {
	dir := t.TempDir()
	path := writeMainConf(t, dir, `
servers:
  - name: dup
    host: a
    port: 5432
  - name: dup
    host: b
    port: 5432
`)

	_, result, err := Load(Paths{Main: path}, "")
	assert.Equal(t, LoadCapacityExceeded, result)
	assert.Error(t, err)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	dir := t.TempDir()
	path := writeMainConf(t, dir, `
servers:
  - name: primary
    host: 127.0.0.1
    port: 5432
`)

	region, _, err := Load(Paths{Main: path}, "")
	require.NoError(t, err)

	snap := region.Snapshot()
	snap.Servers[0].Name = "mutated"

	assert.Equal(t, "primary", region.Servers[0].Name, "mutating the snapshot must not affect the region")
}

func TestServerByNameFirstHit(t *testing.T) {
	dir := t.TempDir()
	path := writeMainConf(t, dir, `
servers:
  - name: primary
    host: 127.0.0.1
    port: 5432
  - name: standby
    host: 127.0.0.2
    port: 5432
`)

	region, _, err := Load(Paths{Main: path}, "")
	require.NoError(t, err)

	entry, ok := region.ServerByName("standby")
	require.True(t, ok)
	assert.Equal(t, "127.0.0.2", entry.Host)

	_, ok = region.ServerByName("PRIMARY")
	assert.False(t, ok, "server name resolution is case-sensitive")
}

func TestReloadReplacesRegionInPlace(t *testing.T) {
	dir := t.TempDir()
	path := writeMainConf(t, dir, `
servers:
  - name: primary
    host: 127.0.0.1
    port: 5432
`)

	region, _, err := Load(Paths{Main: path}, "")
	require.NoError(t, err)

	writeMainConf(t, dir, `
servers:
  - name: primary
    host: 127.0.0.1
    port: 5432
  - name: standby
    host: 127.0.0.2
    port: 5432
`)

	result, err := region.Reload()
	require.NoError(t, err)
	assert.Equal(t, LoadOK, result)
	assert.Len(t, region.Servers, 2)
}

func TestValidateRejectsNoServers(t *testing.T) {
	r := &Region{MetricsPort: 5001, ManagementPort: 5002}
	err := r.Validate()
	assert.True(t, pgerr.Is(err, pgerr.ConfigInvalid))
}

func TestPersistMirrorsToCatalog(t *testing.T) {
	dir := t.TempDir()
	path := writeMainConf(t, dir, `
servers:
  - name: primary
    host: 127.0.0.1
    port: 5432
`)

	region, _, err := Load(Paths{Main: path}, dir)
	require.NoError(t, err)
	defer region.Close()

	if _, err := os.Stat(filepath.Join(dir, "pgmoneta.db")); err != nil {
		t.Errorf("expected bbolt mirror file to exist: %v", err)
	}
}
