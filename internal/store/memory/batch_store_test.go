package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/riskrunner/internal/models"
	"github.com/wolfeidau/riskrunner/internal/store"
)

func TestBatchStore(t *testing.T) {
	ctx := context.Background()
	st := NewBatchStore()
	jobID := uuid.Must(uuid.NewV7())

	rows := []models.RawRow{{"company_symbol": "HDFC", "reporting_year": "2024"}}
	require.NoError(t, st.SaveBatch(ctx, jobID, rows))

	rows[0]["company_symbol"] = "mutated"

	got, err := st.LoadBatch(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, "HDFC", got[0]["company_symbol"])

	require.NoError(t, st.DeleteBatch(ctx, jobID))
	_, err = st.LoadBatch(ctx, jobID)
	require.ErrorIs(t, err, store.ErrBatchNotFound)
}
