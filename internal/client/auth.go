package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"connectrpc.com/connect"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/riskrunner/internal/auth"
	"github.com/wolfeidau/riskrunner/internal/models"
)

// tokenTTL is the lifetime of tokens minted from a signing key.
const tokenTTL = time.Hour

var _ connect.Interceptor = (*AuthInterceptor)(nil)

// AuthInterceptor adds credentials to Connect RPC requests: a fixed bearer
// token, a token minted from a local signing key, or trusted tenant headers.
type AuthInterceptor struct {
	token      string
	signingKey string
	tenant     *models.TenantContext
	now        func() time.Time

	mu          sync.RWMutex
	cachedToken string
	tokenExpiry time.Time
}

// NewTokenInterceptor sends token as a bearer token.
func NewTokenInterceptor(token string) (*AuthInterceptor, error) {
	if token == "" {
		return nil, errors.New("token is empty")
	}
	return &AuthInterceptor{token: token, now: time.Now}, nil
}

// NewSigningInterceptor mints and caches tokens for tenant using a PEM
// encoded ECDSA private key.
func NewSigningInterceptor(signingKeyPEM string, tenant models.TenantContext) (*AuthInterceptor, error) {
	if signingKeyPEM == "" {
		return nil, errors.New("signing key is empty")
	}
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	return &AuthInterceptor{signingKey: signingKeyPEM, tenant: &tenant, now: time.Now}, nil
}

// NewHeaderInterceptor sends tenant as trusted headers. Only servers running
// with header auth accept these.
func NewHeaderInterceptor(tenant models.TenantContext) (*AuthInterceptor, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	return &AuthInterceptor{tenant: &tenant, now: time.Now}, nil
}

// WrapUnary implements connect.UnaryInterceptorFunc.
func (i *AuthInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if err := i.addAuthHeader(req.Header()); err != nil {
			return nil, connect.NewError(connect.CodeUnauthenticated, err)
		}
		return next(ctx, req)
	}
}

// WrapStreamingClient implements connect.StreamingClientInterceptorFunc.
func (i *AuthInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return func(ctx context.Context, spec connect.Spec) connect.StreamingClientConn {
		conn := next(ctx, spec)
		if err := i.addAuthHeader(conn.RequestHeader()); err != nil {
			log.Error().Err(err).Msg("Failed to add auth header to streaming request")
		}
		return conn
	}
}

// WrapStreamingHandler is not used for client interceptors.
func (i *AuthInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}

func (i *AuthInterceptor) addAuthHeader(headers interface{ Set(string, string) }) error {
	if i.token == "" && i.signingKey == "" {
		headers.Set(auth.HeaderActorID, i.tenant.ActorID.String())
		headers.Set(auth.HeaderRole, string(i.tenant.Role))
		if i.tenant.OrganizationID != nil {
			headers.Set(auth.HeaderOrgID, i.tenant.OrganizationID.String())
		}
		return nil
	}

	token, err := i.getToken()
	if err != nil {
		return err
	}
	headers.Set("Authorization", "Bearer "+token)
	return nil
}

// getToken returns the fixed token, or a cached token with at least five
// minutes left, minting a new one otherwise.
func (i *AuthInterceptor) getToken() (string, error) {
	if i.token != "" {
		return i.token, nil
	}

	i.mu.RLock()
	if i.cachedToken != "" && i.now().Add(5*time.Minute).Before(i.tokenExpiry) {
		token := i.cachedToken
		i.mu.RUnlock()
		return token, nil
	}
	i.mu.RUnlock()

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.cachedToken != "" && i.now().Add(5*time.Minute).Before(i.tokenExpiry) {
		return i.cachedToken, nil
	}

	token, err := auth.IssueToken(i.signingKey, *i.tenant, tokenTTL)
	if err != nil {
		return "", err
	}

	i.cachedToken = token
	i.tokenExpiry = i.now().Add(tokenTTL)

	log.Debug().
		Str("actor_id", i.tenant.ActorID.String()).
		Time("expiry", i.tokenExpiry).
		Msg("cached new JWT token")

	return token, nil
}
