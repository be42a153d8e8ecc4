package offset

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"

	"github.com/SteelMorgan/serverpulse-agent/internal/tailer"
)

const (
	bucketName = "tail_states"

	// offset, device, inode
	valueSize = 24
)

// BoltDBStore implements Store using BoltDB
type BoltDBStore struct {
	db *bbolt.DB
}

// NewBoltDBStore creates a new BoltDB offset store
func NewBoltDBStore(dbPath string) (*BoltDBStore, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		// A held lock means another agent process still owns the file
		return nil, fmt.Errorf("failed to open boltdb (file may be locked by another process): %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	log.Info().
		Str("db_path", dbPath).
		Msg("BoltDB offset store initialized")

	return &BoltDBStore{db: db}, nil
}

// LoadStates returns every saved state of monitor
func (s *BoltDBStore) LoadStates(ctx context.Context, monitor string) ([]tailer.State, error) {
	var states []tailer.State
	prefix := []byte(monitor + ":")

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			st, err := decodeState(strings.TrimPrefix(string(k), string(prefix)), v)
			if err != nil {
				log.Warn().
					Err(err).
					Str("key", string(k)).
					Msg("Skipping corrupt offset record")
				continue
			}
			states = append(states, st)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load offsets: %w", err)
	}

	return states, nil
}

// SaveStates replaces the saved states of monitor in one transaction
func (s *BoltDBStore) SaveStates(ctx context.Context, monitor string, states []tailer.State) error {
	prefix := []byte(monitor + ":")

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		// drop files no longer tracked
		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		for _, st := range states {
			if err := b.Put([]byte(makeKey(monitor, st.Path)), encodeState(st)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save offsets: %w", err)
	}

	log.Debug().
		Str("monitor", monitor).
		Int("files", len(states)).
		Msg("Offsets saved")

	return nil
}

// Delete removes the saved state of one file
func (s *BoltDBStore) Delete(ctx context.Context, monitor, filePath string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Delete([]byte(makeKey(monitor, filePath)))
	})
	if err != nil {
		return fmt.Errorf("failed to delete offset: %w", err)
	}
	return nil
}

// List returns all saved offsets
func (s *BoltDBStore) List(ctx context.Context) (map[string]int64, error) {
	result := make(map[string]int64)

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		return b.ForEach(func(k, v []byte) error {
			if len(v) >= 8 {
				result[string(k)] = int64(binary.BigEndian.Uint64(v))
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list offsets: %w", err)
	}

	return result, nil
}

// Close closes the BoltDB database
func (s *BoltDBStore) Close() error {
	log.Info().Msg("Closing BoltDB offset store")
	return s.db.Close()
}

// makeKey creates a composite key from monitor name and file path
func makeKey(monitor, filePath string) string {
	return fmt.Sprintf("%s:%s", monitor, filePath)
}

func encodeState(st tailer.State) []byte {
	val := make([]byte, valueSize)
	binary.BigEndian.PutUint64(val[0:8], uint64(st.Offset))
	binary.BigEndian.PutUint64(val[8:16], st.Identity.Dev)
	binary.BigEndian.PutUint64(val[16:24], st.Identity.Ino)
	return val
}

func decodeState(path string, val []byte) (tailer.State, error) {
	if len(val) < valueSize {
		return tailer.State{}, fmt.Errorf("invalid offset value of %d bytes", len(val))
	}
	return tailer.State{
		Path:   path,
		Offset: int64(binary.BigEndian.Uint64(val[0:8])),
		Identity: tailer.Identity{
			Dev: binary.BigEndian.Uint64(val[8:16]),
			Ino: binary.BigEndian.Uint64(val[16:24]),
		},
	}, nil
}
