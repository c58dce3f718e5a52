package document

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var checkpointBucket = []byte("processed")

// Checkpoint records which input files already made it into an output,
// letting an interrupted delivery resume where it stopped. Entries are
// keyed by absolute path and invalidated when the file's size or
// modification time changes.
type Checkpoint struct {
	db *bbolt.DB
}

// OpenCheckpoint opens or creates the checkpoint database at path.
func OpenCheckpoint(path string) (*Checkpoint, error) {
	db, err := bbolt.Open(path, 0o644, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open checkpoint %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(checkpointBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init checkpoint: %w", err)
	}
	return &Checkpoint{db: db}, nil
}

type checkpointEntry struct {
	Size    int64 `json:"size"`
	ModTime int64 `json:"mtime"`
}

func checkpointKey(path string) []byte {
	if abs, err := filepath.Abs(path); err == nil {
		return []byte(abs)
	}
	return []byte(path)
}

// Done reports whether path was processed before and is unchanged since.
func (c *Checkpoint) Done(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	var done bool
	c.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(checkpointBucket).Get(checkpointKey(path))
		if raw == nil {
			return nil
		}
		var entry checkpointEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil
		}
		done = entry.Size == info.Size() && entry.ModTime == info.ModTime().UnixNano()
		return nil
	})
	return done
}

// Mark records path as processed in its current state.
func (c *Checkpoint) Mark(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	entry, err := json.Marshal(checkpointEntry{Size: info.Size(), ModTime: info.ModTime().UnixNano()})
	if err != nil {
		return fmt.Errorf("marshal checkpoint entry: %w", err)
	}
	err = c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(checkpointBucket).Put(checkpointKey(path), entry)
	})
	if err != nil {
		return fmt.Errorf("update checkpoint: %w", err)
	}
	return nil
}

func (c *Checkpoint) Close() error {
	return c.db.Close()
}
