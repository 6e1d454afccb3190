package postgres

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/riskrunner/internal/models"
)

func TestBatchCodec(t *testing.T) {
	rows := []models.RawRow{
		{"symbol": "HDFC", "year": "2024", "sga_margin": json.Number("0.25")},
		{"symbol": "INFY", "quarter": json.Number("2")},
	}

	for level := 1; level <= 4; level++ {
		payload, checksum, err := encodeBatch(rows, level)
		require.NoError(t, err)
		require.NotEmpty(t, payload)

		got, err := decodeBatch(payload, checksum)
		require.NoError(t, err)
		require.Equal(t, rows, got)
	}
}

func TestBatchCodecDetectsCorruption(t *testing.T) {
	payload, checksum, err := encodeBatch([]models.RawRow{{"symbol": "HDFC"}}, 2)
	require.NoError(t, err)

	payload[len(payload)-1] ^= 0xff
	_, err = decodeBatch(payload, checksum)
	require.ErrorIs(t, err, ErrBatchCorrupt)
}

func TestConfigValidate(t *testing.T) {
	cfg := StoreConfig{}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 2, cfg.CompressionLevel)

	cfg.CompressionLevel = 9
	require.Error(t, cfg.Validate())

	pool := PoolConfig{}
	require.Error(t, pool.Validate())
	pool.ConnString = "postgres://localhost/riskrunner"
	pool.ApplyDefaults()
	require.NoError(t, pool.Validate())
}
