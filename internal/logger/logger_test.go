package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/riskrunner/internal/auth"
	"github.com/wolfeidau/riskrunner/internal/models"
)

func TestConnectRequestsLogsTenant(t *testing.T) {
	var buf bytes.Buffer
	interceptor := NewConnectRequests(zerolog.New(&buf))

	tenant := models.TenantContext{ActorID: uuid.Must(uuid.NewV7()), Role: models.RolePersonalUser}
	ctx := auth.WithTenant(context.Background(), tenant)

	next := connect.UnaryFunc(func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		zerolog.Ctx(ctx).Info().Msg("inside handler")
		return nil, connect.NewError(connect.CodeNotFound, errors.New("missing"))
	})

	_, err := interceptor.WrapUnary(next)(ctx, connect.NewRequest(&struct{}{}))
	require.Error(t, err)

	out := buf.String()
	require.Contains(t, out, tenant.ActorID.String())
	require.Contains(t, out, `"role":"personal_user"`)
	require.Contains(t, out, `"code":"not_found"`)
	require.Contains(t, out, "inside handler")
}

func TestSetupLevels(t *testing.T) {
	require.Equal(t, zerolog.InfoLevel, Setup(false).GetLevel())
	require.Equal(t, zerolog.DebugLevel, Setup(true).GetLevel())
}
