// Package store persists terminal ActionResults so submitters can poll for
// an outcome after the message itself has been evicted — including across a
// server restart.
//
// Results live in a single bbolt bucket keyed by message ID. A background
// sweeper evicts results older than the configured retention window; that
// eviction is the only way a terminal record ever disappears.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/pressq/pressq/internal/types"
)

// ErrNotFound is returned when no result exists for a message ID.
var ErrNotFound = errors.New("store: result not found")

var bucketResults = []byte("results")

// Store is the durable result store. All methods are safe for concurrent use.
type Store struct {
	db *bolt.DB

	sweepDone chan struct{}
	sweepWG   sync.WaitGroup
	sweepOnce sync.Once
}

// Open opens (or creates) the result database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketResults)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create bucket: %w", err)
	}
	return &Store{db: db, sweepDone: make(chan struct{})}, nil
}

// Put writes the result for res.MessageID. Results are immutable; a second
// Put for the same ID is rejected so a terminal outcome can never be
// overwritten.
func (s *Store) Put(res *types.ActionResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("store: marshal result %s: %w", res.MessageID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResults)
		if b.Get([]byte(res.MessageID)) != nil {
			return fmt.Errorf("store: result for %s already recorded", res.MessageID)
		}
		return b.Put([]byte(res.MessageID), data)
	})
}

// Get retrieves the result for id, or ErrNotFound.
func (s *Store) Get(id string) (*types.ActionResult, error) {
	var res types.ActionResult
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketResults).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &res)
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Count returns the number of stored results.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketResults).Stats().KeyN
		return nil
	})
	return n, err
}

// StartSweeper launches the background eviction goroutine: every interval it
// deletes results whose CompletedAt is older than retention. Call Close to
// stop it.
func (s *Store) StartSweeper(retention, interval time.Duration) {
	s.sweepWG.Add(1)
	go func() {
		defer s.sweepWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.sweepDone:
				return
			case <-ticker.C:
				_, _ = s.Sweep(retention)
			}
		}
	}()
}

// Sweep deletes all results completed before now minus retention and returns
// how many were evicted. Exposed for tests; production runs it on the sweeper
// goroutine.
func (s *Store) Sweep(retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention).UnixMilli()

	var evicted int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResults)
		c := b.Cursor()
		// Collect keys first: deleting while iterating a bbolt cursor with
		// Delete on the bucket invalidates positions for non-cursor deletes.
		var expired [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var res types.ActionResult
			if err := json.Unmarshal(v, &res); err != nil {
				// Unreadable entry — evict it rather than keep it forever.
				expired = append(expired, append([]byte(nil), k...))
				continue
			}
			if res.CompletedAt < cutoff {
				expired = append(expired, append([]byte(nil), k...))
			}
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
			evicted++
		}
		return nil
	})
	if err != nil {
		return evicted, fmt.Errorf("store: sweep: %w", err)
	}
	return evicted, nil
}

// Close stops the sweeper (if started) and closes the database.
func (s *Store) Close() error {
	s.sweepOnce.Do(func() { close(s.sweepDone) })
	s.sweepWG.Wait()
	return s.db.Close()
}
