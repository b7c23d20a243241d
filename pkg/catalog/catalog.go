// Package catalog implements the Backup Catalog: the minimal bbolt-backed
// persistent record of finished backups that LIST_BACKUP and DELETE need.
// The backup algorithm itself — what bytes go on disk, how WAL is applied —
// stays an external collaborator; this package only remembers that a backup
// happened.
package catalog

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketBackups = []byte("backups")

// Backup is one recorded, finished backup.
type Backup struct {
	Server    string    `json:"server"`
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	TakenAt   time.Time `json:"taken_at"`
	SizeBytes int64     `json:"size_bytes"`
}

// key is the bucket key for a backup record: server, then ID, so a
// per-server scan is a contiguous prefix.
func key(server, id string) []byte {
	return []byte(server + "/" + id)
}

// Catalog is a bbolt-backed store of Backup records.
type Catalog struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the catalog database under dataDir.
func Open(dataDir string) (*Catalog, error) {
	path := filepath.Join(dataDir, "pgmoneta_backups.db")

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening backup catalog: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketBackups)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing backup catalog: %w", err)
	}

	return &Catalog{db: db}, nil
}

// Close releases the catalog's database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Record stores a finished backup.
func (c *Catalog) Record(b Backup) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshaling backup record: %w", err)
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBackups).Put(key(b.Server, b.ID), data)
	})
}

// List returns every recorded backup for a server, oldest first.
func (c *Catalog) List(server string) ([]Backup, error) {
	var out []Backup
	prefix := []byte(server + "/")

	err := c.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(bucketBackups).Cursor()
		for k, v := cur.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cur.Next() {
			var b Backup
			if err := json.Unmarshal(v, &b); err != nil {
				return fmt.Errorf("decoding backup record %s: %w", k, err)
			}
			out = append(out, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].TakenAt.Before(out[j].TakenAt) })
	return out, nil
}

// Delete removes one recorded backup, reporting whether it existed.
func (c *Catalog) Delete(server, id string) (bool, error) {
	k := key(server, id)
	var existed bool

	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBackups)
		existed = b.Get(k) != nil
		if !existed {
			return nil
		}
		return b.Delete(k)
	})
	return existed, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
