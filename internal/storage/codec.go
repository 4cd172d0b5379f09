package storage

import (
	"encoding/binary"
	"errors"
	"math"

	"luxagent/internal/model"
)

// Readings are persisted as fixed-size little-endian records so a stored
// count can be derived from a blob's length without decoding it, and a
// truncated blob is detectable.
const recordSize = 24

// ErrCorruptBatch marks a blob whose length is not a whole number of records.
var ErrCorruptBatch = errors.New("storage: corrupt batch blob")

func encodeReadings(readings []model.Reading) []byte {
	buf := make([]byte, len(readings)*recordSize)
	for i, r := range readings {
		off := i * recordSize
		binary.LittleEndian.PutUint64(buf[off:], uint64(r.Timestamp))
		binary.LittleEndian.PutUint64(buf[off+8:], math.Float64bits(r.Lux))
		binary.LittleEndian.PutUint64(buf[off+16:], math.Float64bits(r.ChipTempC))
	}
	return buf
}

func decodeReadings(blob []byte) ([]model.Reading, error) {
	if len(blob)%recordSize != 0 {
		return nil, ErrCorruptBatch
	}
	readings := make([]model.Reading, len(blob)/recordSize)
	for i := range readings {
		off := i * recordSize
		readings[i] = model.Reading{
			Timestamp: int64(binary.LittleEndian.Uint64(blob[off:])),
			Lux:       math.Float64frombits(binary.LittleEndian.Uint64(blob[off+8:])),
			ChipTempC: math.Float64frombits(binary.LittleEndian.Uint64(blob[off+16:])),
		}
	}
	return readings, nil
}

func blobReadingCount(blob []byte) (int, error) {
	if len(blob)%recordSize != 0 {
		return 0, ErrCorruptBatch
	}
	return len(blob) / recordSize, nil
}
