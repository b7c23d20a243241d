// Package config implements the Shared Configuration Region: the process-wide
// snapshot of servers, credentials, paths, and tunables that every worker
// reads and that reload rewrites in place.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	bolt "go.etcd.io/bbolt"
	"gopkg.in/yaml.v3"

	"github.com/shikharish/pgmoneta/pkg/pgerr"
)

// MaxServers bounds the Server Entry array, mirroring the original's fixed
// region size (spec.md's "bounded in count").
const MaxServers = 64

// CompressionPolicy selects the WAL compression sweep's algorithm.
type CompressionPolicy string

const (
	CompressionNone CompressionPolicy = "NONE"
	CompressionGzip CompressionPolicy = "GZIP"
	CompressionZstd CompressionPolicy = "ZSTD"
)

// LoggingType selects where structured log lines are written.
type LoggingType string

const (
	LoggingConsole LoggingType = "CONSOLE"
	LoggingFile    LoggingType = "FILE"
	LoggingSyslog  LoggingType = "SYSLOG"
)

// LoadResult reports the outcome of Load, mirroring the four outcomes
// spec.md names: ok, missing, bad-master-key, capacity-exceeded.
type LoadResult int

const (
	LoadOK LoadResult = iota
	LoadMissing
	LoadBadMasterKey
	LoadCapacityExceeded
)

// ServerEntry is one configured Postgres-compatible target.
type ServerEntry struct {
	Name        string `yaml:"name"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	HotStandby  string `yaml:"hot_standby,omitempty"`
	Workers     int    `yaml:"workers"`
}

// User is a credential record from the users configuration file.
type User struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Admin is a credential record from the admins configuration file.
type Admin struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// mainFile models the on-disk main configuration file (pgmoneta.conf's YAML
// rendering for this exercise).
type mainFile struct {
	BaseDir           string            `yaml:"base_dir"`
	UnixSocketDir     string            `yaml:"unix_socket_dir"`
	PidFile           string            `yaml:"pid_file"`
	MetricsPort       int               `yaml:"metrics_port"`
	ManagementPort    int               `yaml:"management_port"`
	IOBackend         string            `yaml:"io_backend"`
	CompressionPolicy CompressionPolicy `yaml:"compression"`
	LoggingType       LoggingType       `yaml:"logging_type"`
	Servers           []ServerEntry     `yaml:"servers"`
}

type usersFile struct {
	Users []User `yaml:"users"`
}

type adminsFile struct {
	Admins []Admin `yaml:"admins"`
}

// Paths records where the three configuration files were read from; it is
// kept on the Region so Reload can re-read the same paths.
type Paths struct {
	Main   string
	Users  string
	Admins string
}

// Region is the in-memory Shared Configuration Region. It replaces the
// original program's shared mmap (see the listener/registry design notes):
// every worker goroutine receives a Snapshot() rather than a live mapping,
// and reload swaps the region's contents under the write lock instead of
// rewriting shared pages.
type Region struct {
	mu sync.RWMutex

	Paths Paths

	BaseDir       string
	UnixSocketDir string
	PidFile       string

	MetricsPort    int
	ManagementPort int

	IOBackend         string
	CompressionPolicy CompressionPolicy
	LoggingType       LoggingType

	Servers []ServerEntry
	Users   []User
	Admins  []Admin

	// catalog, when non-nil, mirrors the region to a bbolt file on every
	// Load/Reload (see Region.persist).
	catalog *bolt.DB
}

var regionBucket = []byte("region")

// defaultPaths returns the conventional system paths used when the CLI
// flags don't name a configuration file explicitly.
func defaultPaths() Paths {
	return Paths{
		Main:   "/etc/pgmoneta/pgmoneta.conf",
		Users:  "/etc/pgmoneta/pgmoneta_users.conf",
		Admins: "/etc/pgmoneta/pgmoneta_admins.conf",
	}
}

// Load allocates a Region, applies defaults, and loads the three
// configuration files, falling back to conventional system paths for any
// path left empty. dbDir, if non-empty, is where the bbolt mirror file is
// created; an empty dbDir disables persistence (used by tests).
func Load(paths Paths, dbDir string) (*Region, LoadResult, error) {
	defaults := defaultPaths()
	if paths.Main == "" {
		paths.Main = defaults.Main
	}
	if paths.Users == "" {
		paths.Users = defaults.Users
	}
	if paths.Admins == "" {
		paths.Admins = defaults.Admins
	}

	r := &Region{Paths: paths}

	mf, err := loadMainFile(paths.Main)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, LoadMissing, pgerr.New(pgerr.ConfigMissing, paths.Main, err)
		}
		return nil, LoadMissing, pgerr.New(pgerr.ConfigInvalid, paths.Main, err)
	}

	if len(mf.Servers) > MaxServers {
		return nil, LoadCapacityExceeded, pgerr.New(pgerr.CapacityExceeded,
			fmt.Sprintf("%d servers exceeds the %d-entry limit", len(mf.Servers), MaxServers), nil)
	}
	if err := validateServerNames(mf.Servers); err != nil {
		return nil, LoadCapacityExceeded, pgerr.New(pgerr.ConfigInvalid, paths.Main, err)
	}

	r.BaseDir = mf.BaseDir
	r.UnixSocketDir = mf.UnixSocketDir
	r.PidFile = mf.PidFile
	r.MetricsPort = mf.MetricsPort
	r.ManagementPort = mf.ManagementPort
	r.IOBackend = mf.IOBackend
	r.CompressionPolicy = mf.CompressionPolicy
	r.LoggingType = mf.LoggingType
	r.Servers = mf.Servers
	applyDefaults(r)

	uf, err := loadUsersFile(paths.Users)
	if err != nil && !os.IsNotExist(err) {
		return nil, LoadMissing, pgerr.New(pgerr.ConfigInvalid, paths.Users, err)
	}
	if uf != nil {
		r.Users = uf.Users
	}

	af, err := loadAdminsFile(paths.Admins)
	if err != nil && !os.IsNotExist(err) {
		return nil, LoadMissing, pgerr.New(pgerr.ConfigInvalid, paths.Admins, err)
	}
	if af != nil {
		r.Admins = af.Admins
	}

	if dbDir != "" {
		db, err := bolt.Open(filepath.Join(dbDir, "pgmoneta.db"), 0600, nil)
		if err != nil {
			return nil, LoadMissing, pgerr.New(pgerr.InternalBug, "opening catalog mirror", err)
		}
		r.catalog = db
	}
	if err := r.persist(); err != nil {
		return nil, LoadMissing, err
	}

	return r, LoadOK, nil
}

func applyDefaults(r *Region) {
	if r.BaseDir == "" {
		r.BaseDir = "/var/lib/pgmoneta"
	}
	if r.UnixSocketDir == "" {
		r.UnixSocketDir = "/tmp"
	}
	if r.PidFile == "" {
		r.PidFile = filepath.Join(r.BaseDir, "pgmoneta.pid")
	}
	if r.CompressionPolicy == "" {
		r.CompressionPolicy = CompressionNone
	}
	if r.LoggingType == "" {
		r.LoggingType = LoggingConsole
	}
	if r.IOBackend == "" {
		r.IOBackend = "auto"
	}
}

func validateServerNames(servers []ServerEntry) error {
	seen := make(map[string]bool, len(servers))
	for _, s := range servers {
		if s.Name == "" {
			return fmt.Errorf("server entry with empty name")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate server name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

func loadMainFile(path string) (*mainFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var mf mainFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &mf, nil
}

func loadUsersFile(path string) (*usersFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var uf usersFile
	if err := yaml.Unmarshal(data, &uf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &uf, nil
}

func loadAdminsFile(path string) (*adminsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var af adminsFile
	if err := yaml.Unmarshal(data, &af); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &af, nil
}

// Validate checks the main configuration: both ports in range, at least one
// server, and non-empty, unique server names. The users and admins records
// are not checked. It is called once at startup before any socket work.
func (r *Region) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.MetricsPort < 0 || r.MetricsPort > 65535 {
		return pgerr.New(pgerr.ConfigInvalid, "metrics_port out of range", nil)
	}
	if r.ManagementPort < 0 || r.ManagementPort > 65535 {
		return pgerr.New(pgerr.ConfigInvalid, "management_port out of range", nil)
	}
	if len(r.Servers) == 0 {
		return pgerr.New(pgerr.ConfigInvalid, "no servers configured", nil)
	}
	return validateServerNames(r.Servers)
}

// Reload re-reads the three configuration files from the paths recorded at
// Load time and swaps the region's contents in place, under the write lock.
// Receivers already running are not restarted (an open item carried
// forward from spec.md §9).
func (r *Region) Reload() (LoadResult, error) {
	fresh, result, err := Load(r.Paths, "")
	if err != nil {
		return result, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.BaseDir = fresh.BaseDir
	r.UnixSocketDir = fresh.UnixSocketDir
	r.PidFile = fresh.PidFile
	r.MetricsPort = fresh.MetricsPort
	r.ManagementPort = fresh.ManagementPort
	r.IOBackend = fresh.IOBackend
	r.CompressionPolicy = fresh.CompressionPolicy
	r.LoggingType = fresh.LoggingType
	r.Servers = fresh.Servers
	r.Users = fresh.Users
	r.Admins = fresh.Admins

	return LoadOK, r.persistLocked()
}

// Snapshot returns a deep copy of the region's contents, the point-in-time
// view a spawned worker goroutine receives in place of a live shared
// mapping.
func (r *Region) Snapshot() Region {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := Region{
		Paths:             r.Paths,
		BaseDir:           r.BaseDir,
		UnixSocketDir:     r.UnixSocketDir,
		PidFile:           r.PidFile,
		MetricsPort:       r.MetricsPort,
		ManagementPort:    r.ManagementPort,
		IOBackend:         r.IOBackend,
		CompressionPolicy: r.CompressionPolicy,
		LoggingType:       r.LoggingType,
		Servers:           append([]ServerEntry(nil), r.Servers...),
		Users:             append([]User(nil), r.Users...),
		Admins:            append([]Admin(nil), r.Admins...),
	}
	return out
}

// ServerByName performs the case-sensitive, first-hit, linear scan the
// Control Dispatcher uses to resolve a target server name.
func (r *Region) ServerByName(name string) (ServerEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return ServerEntry{}, false
}

// ServerIndexByName resolves name the same way ServerByName does, but
// returns its position in the configured server list instead of the entry
// itself — the server_index a control reply carries alongside its result.
func (r *Region) ServerIndexByName(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i, s := range r.Servers {
		if s.Name == name {
			return i, true
		}
	}
	return -1, false
}

// persist mirrors the region to the bbolt-backed file, if one was opened.
func (r *Region) persist() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.persistLocked()
}

// persistLocked assumes the caller already holds r.mu.
func (r *Region) persistLocked() error {
	if r.catalog == nil {
		return nil
	}
	return r.catalog.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(regionBucket)
		if err != nil {
			return err
		}
		for _, s := range r.Servers {
			if err := b.Put([]byte("server:"+s.Name), []byte(fmt.Sprintf("%s:%d", s.Host, s.Port))); err != nil {
				return err
			}
		}
		return b.Put([]byte("logging_type"), []byte(r.LoggingType))
	})
}

// Close releases the bbolt mirror file, if one was opened.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.catalog == nil {
		return nil
	}
	return r.catalog.Close()
}
