package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"luxagent/internal/model"
)

const (
	keyBatchCount  = "batch_count"
	keyBatchPrefix = "batch_"
)

// BatchStore is an append-only durable log of reading batches. Batches are
// numbered 0..N-1 with a separate counter holding N; the key set is always
// gapless. The counter is only advanced together with the new blob in one
// commit, so a crash mid-save leaves the previous counter valid and the
// half-written batch invisible.
//
// All operations are serialized by a single mutex since the underlying KV
// handle is not reentrant.
type BatchStore struct {
	mu          sync.Mutex
	kv          KV
	log         *zap.Logger
	maxReadings int
}

// NewBatchStore creates a batch store over kv holding at most maxReadings
// readings across all batches.
func NewBatchStore(kv KV, maxReadings int, log *zap.Logger) *BatchStore {
	if log == nil {
		log = zap.NewNop()
	}
	if maxReadings <= 0 {
		maxReadings = 1
	}
	return &BatchStore{kv: kv, log: log, maxReadings: maxReadings}
}

func batchKey(i int) string {
	return keyBatchPrefix + strconv.Itoa(i)
}

func (s *BatchStore) readBatchCount() (int, error) {
	raw, err := s.kv.Get(keyBatchCount)
	if errors.Is(err, ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 4 {
		return 0, fmt.Errorf("storage: malformed batch counter (%d bytes)", len(raw))
	}
	return int(int32(binary.LittleEndian.Uint32(raw))), nil
}

func (s *BatchStore) writeBatchCount(n int) error {
	raw := make([]byte, 4)
	binary.LittleEndian.PutUint32(raw, uint32(n))
	return s.kv.Set(keyBatchCount, raw)
}

// SaveBatch durably appends one batch of readings. When the store is at
// capacity the oldest whole batches are evicted (and survivors renumbered)
// until the new batch fits; a batch larger than the whole store keeps only
// its newest maxReadings readings.
func (s *BatchStore) SaveBatch(readings []model.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(readings) > s.maxReadings {
		s.log.Warn("batch larger than store capacity, truncating to newest readings",
			zap.Int("incoming", len(readings)),
			zap.Int("capacity", s.maxReadings))
		readings = readings[len(readings)-s.maxReadings:]
	}

	count, err := s.readBatchCount()
	if err != nil {
		return err
	}

	count, err = s.evictForLocked(count, len(readings))
	if err != nil {
		return err
	}

	if err := s.kv.Set(batchKey(count), encodeReadings(readings)); err != nil {
		return fmt.Errorf("storage: save batch %d: %w", count, err)
	}
	if err := s.writeBatchCount(count + 1); err != nil {
		return fmt.Errorf("storage: update batch count: %w", err)
	}
	if err := s.kv.Commit(); err != nil {
		return fmt.Errorf("storage: commit batch %d: %w", count, err)
	}

	s.log.Info("saved batch to persistent storage",
		zap.Int("batch", count),
		zap.Int("readings", len(readings)))
	return nil
}

// evictForLocked drops oldest batches until incoming more readings fit under
// maxReadings, renumbering the surviving batches down to keep the key set
// gapless. Returns the batch count after eviction.
func (s *BatchStore) evictForLocked(count, incoming int) (int, error) {
	sizes := make([]int, count)
	total := 0
	for i := 0; i < count; i++ {
		blob, err := s.kv.Get(batchKey(i))
		if err != nil {
			continue // unreadable batch contributes nothing
		}
		if n, err := blobReadingCount(blob); err == nil {
			sizes[i] = n
			total += n
		}
	}
	if total+incoming <= s.maxReadings {
		return count, nil
	}

	drop := 0
	for drop < count && total+incoming > s.maxReadings {
		total -= sizes[drop]
		drop++
	}
	s.log.Warn("persistent store at capacity, evicting oldest batches",
		zap.Int("evicted_batches", drop),
		zap.Int("remaining_readings", total))

	// Shift surviving batches down and erase the tail keys.
	for i := drop; i < count; i++ {
		blob, err := s.kv.Get(batchKey(i))
		if err != nil {
			continue
		}
		if err := s.kv.Set(batchKey(i-drop), blob); err != nil {
			return count, fmt.Errorf("storage: renumber batch %d: %w", i, err)
		}
	}
	for i := count - drop; i < count; i++ {
		if err := s.kv.Erase(batchKey(i)); err != nil {
			return count, fmt.Errorf("storage: erase batch %d: %w", i, err)
		}
	}
	return count - drop, nil
}

// LoadAll reads every stored batch in order, skipping batches that fail to
// decode, accumulating at most maxCount readings. It does not clear the
// store; callers clear after a confirmed send.
func (s *BatchStore) LoadAll(maxCount int) ([]model.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count, err := s.readBatchCount()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	var out []model.Reading
	for i := 0; i < count; i++ {
		blob, err := s.kv.Get(batchKey(i))
		if err != nil {
			s.log.Warn("failed to read stored batch, skipping",
				zap.Int("batch", i), zap.Error(err))
			continue
		}
		readings, err := decodeReadings(blob)
		if err != nil {
			s.log.Warn("corrupt stored batch, skipping",
				zap.Int("batch", i), zap.Int("bytes", len(blob)))
			continue
		}
		if len(out)+len(readings) > maxCount {
			s.log.Warn("load buffer full, remaining batches left in place",
				zap.Int("loaded", len(out)), zap.Int("batch", i))
			break
		}
		out = append(out, readings...)
	}

	s.log.Info("loaded readings from persistent storage",
		zap.Int("readings", len(out)), zap.Int("batches", count))
	return out, nil
}

// ClearAll erases every batch and the counter in one commit. Safe to call
// when the store is already empty.
func (s *BatchStore) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	count, err := s.readBatchCount()
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		if err := s.kv.Erase(batchKey(i)); err != nil {
			return fmt.Errorf("storage: erase batch %d: %w", i, err)
		}
	}
	if err := s.kv.Erase(keyBatchCount); err != nil {
		return fmt.Errorf("storage: erase batch counter: %w", err)
	}
	if err := s.kv.Commit(); err != nil {
		return fmt.Errorf("storage: commit clear: %w", err)
	}
	if count > 0 {
		s.log.Info("cleared persistent storage", zap.Int("batches", count))
	}
	return nil
}

// Count sums the stored reading total from blob sizes without decoding.
func (s *BatchStore) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count, err := s.readBatchCount()
	if err != nil {
		return 0, err
	}
	total := 0
	for i := 0; i < count; i++ {
		blob, err := s.kv.Get(batchKey(i))
		if err != nil {
			continue
		}
		if n, err := blobReadingCount(blob); err == nil {
			total += n
		}
	}
	return total, nil
}
