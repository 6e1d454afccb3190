package postgres

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/minio/crc64nvme"
	"github.com/wolfeidau/riskrunner/internal/models"
)

// ErrBatchCorrupt is returned when a stored batch fails its checksum.
var ErrBatchCorrupt = errors.New("stored batch is corrupt")

// encodeBatch serializes rows as JSON, compresses them with zstd and returns
// the payload with its CRC64-NVME checksum.
func encodeBatch(rows []models.RawRow, level int) ([]byte, uint64, error) {
	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal rows: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevel(level)))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	defer enc.Close()

	payload := enc.EncodeAll(raw, make([]byte, 0, len(raw)/2))
	return payload, computeCRC64(payload), nil
}

// decodeBatch verifies the checksum, decompresses the payload and decodes the
// rows. Numbers decode as json.Number so values keep their original text.
func decodeBatch(payload []byte, checksum uint64) ([]models.RawRow, error) {
	if got := computeCRC64(payload); got != checksum {
		return nil, fmt.Errorf("%w: checksum mismatch (expected %x, got %x)", ErrBatchCorrupt, checksum, got)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBatchCorrupt, err)
	}

	d := json.NewDecoder(bytes.NewReader(raw))
	d.UseNumber()

	var rows []models.RawRow
	if err := d.Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rows: %w", err)
	}
	return rows, nil
}

// computeCRC64 computes CRC64-NVME checksum
func computeCRC64(data []byte) uint64 {
	h := crc64nvme.New()
	h.Write(data)
	return h.Sum64()
}
