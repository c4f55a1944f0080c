package store

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/najoast/bobnet/block"
)

var journalBucket = []byte("journal")

// BoltJournal persists journal Blocks to a bbolt file in journal order. It is
// an Observer; on restart Blocks feeds Replay to rebuild a fresh store.
type BoltJournal struct {
	db *bolt.DB
}

// OpenBoltJournal opens or creates the journal file at path.
func OpenBoltJournal(path string) (*BoltJournal, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(journalBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal bucket: %w", err)
	}

	return &BoltJournal{db: db}, nil
}

// OnUpdate appends the update's Block.
func (j *BoltJournal) OnUpdate(u Update) error {
	raw, err := block.Serialize(u.Block)
	if err != nil {
		return err
	}

	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(journalBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, raw)
	})
}

// Blocks reads every persisted Block in append order. A corrupted entry
// aborts the read.
func (j *BoltJournal) Blocks() ([]block.Block, error) {
	var blocks []block.Block

	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(journalBucket).ForEach(func(k, v []byte) error {
			b, err := block.Deserialize(v)
			if err != nil {
				return fmt.Errorf("journal entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			blocks = append(blocks, b)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return blocks, nil
}

// Len returns the number of persisted entries.
func (j *BoltJournal) Len() (int, error) {
	var n int
	err := j.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(journalBucket).Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the underlying file.
func (j *BoltJournal) Close() error {
	return j.db.Close()
}
