// replay_store.go persists the replay window's high-water mark across
// process restarts, using go.etcd.io/bbolt as an embedded journal.
// Without this journal a crashed and immediately-restarted peer would
// start largestObserved back at zero and briefly accept nonces a
// pre-crash attacker had already replayed.
package security

import (
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"
)

var replayBucket = []byte("replay_high_water")

// ReplayStore is an optional on-disk journal of each connection's
// largest-observed nonce, keyed by connection id.
type ReplayStore struct {
	db *bbolt.DB
}

// OpenReplayStore opens (creating if absent) a bbolt-backed store at
// path. An empty path is rejected by the caller rather than here;
// config.SecurityConfig.ReplayStorePath is optional precisely so callers
// can skip calling this at all.
func OpenReplayStore(path string) (*ReplayStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("security: open replay store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(replayBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("security: init replay store: %w", err)
	}
	return &ReplayStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *ReplayStore) Close() error {
	return s.db.Close()
}

// LoadHighWater returns the last persisted largest-observed nonce for
// connID, or (0, false) if none was ever recorded.
func (s *ReplayStore) LoadHighWater(connID uint32) (uint64, bool) {
	var value uint64
	found := false
	_ = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(replayBucket)
		raw := b.Get(keyFor(connID))
		if raw == nil {
			return nil
		}
		value = binary.BigEndian.Uint64(raw)
		found = true
		return nil
	})
	return value, found
}

// SaveHighWater persists connID's largest-observed nonce, overwriting any
// prior value. Callers journal periodically (e.g. on key rotation)
// rather than on every packet, since bbolt's write transactions are not
// free.
func (s *ReplayStore) SaveHighWater(connID uint32, largestObserved uint64) error {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, largestObserved)
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(replayBucket).Put(keyFor(connID), raw)
	})
}

func keyFor(connID uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, connID)
	return b
}

// SeedFloor raises the replay window's largest observed nonce to the
// high-water mark the journal recorded for connID before a restart, if
// that mark is higher, so nonces too far below it are rejected even
// though this window never observed them (extending the
// replay-rejection invariant across restarts). A nil store is a no-op.
func (m *Manager) SeedFloor(connID uint32, store *ReplayStore) {
	if store == nil {
		return
	}
	if hw, ok := store.LoadHighWater(connID); ok && hw > m.window.largestObserved {
		m.window.largestObserved = hw
		m.window.hasObserved = true
	}
}
