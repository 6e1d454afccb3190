package commands

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/riskrunner/internal/models"
	"github.com/wolfeidau/riskrunner/internal/store"
	"github.com/wolfeidau/riskrunner/internal/store/memory"
)

func TestDeleteOrganization(t *testing.T) {
	ctx := context.Background()
	orgs := memory.NewOrganizationStore()

	org := &models.Organization{OrgID: uuid.Must(uuid.NewV7()), Name: "Acme", CreatedAt: time.Now()}
	require.NoError(t, orgs.Create(ctx, org))

	t.Run("invalid id", func(t *testing.T) {
		_, err := deleteOrganization(ctx, orgs, "not-a-uuid")
		require.ErrorContains(t, err, "invalid organization ID")
	})

	t.Run("deletes existing", func(t *testing.T) {
		got, err := deleteOrganization(ctx, orgs, org.OrgID.String())
		require.NoError(t, err)
		require.Equal(t, org.OrgID, got)

		_, err = orgs.Get(ctx, org.OrgID)
		require.ErrorIs(t, err, store.ErrOrganizationNotFound)
	})

	t.Run("missing organization", func(t *testing.T) {
		_, err := deleteOrganization(ctx, orgs, org.OrgID.String())
		require.ErrorIs(t, err, store.ErrOrganizationNotFound)
	})
}
