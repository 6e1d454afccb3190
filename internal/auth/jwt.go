package auth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/authn"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/riskrunner/internal/models"
)

const issuer = "riskrunner"

// TenantClaims carries the tenant context in a bearer token.
type TenantClaims struct {
	jwt.RegisteredClaims
	Role  string `json:"role"`
	OrgID string `json:"org_id,omitempty"`
}

// Tenant converts the claims into a validated tenant context.
func (c *TenantClaims) Tenant() (models.TenantContext, error) {
	actorID, err := uuid.Parse(c.Subject)
	if err != nil {
		return models.TenantContext{}, fmt.Errorf("%w: invalid subject", models.ErrInvalidTenant)
	}
	role, err := models.ParseRole(c.Role)
	if err != nil {
		return models.TenantContext{}, err
	}

	t := models.TenantContext{ActorID: actorID, Role: role}
	if c.OrgID != "" {
		orgID, err := uuid.Parse(c.OrgID)
		if err != nil {
			return models.TenantContext{}, fmt.Errorf("%w: invalid org_id", models.ErrInvalidTenant)
		}
		t.OrganizationID = &orgID
	}
	return t, t.Validate()
}

type jwtVerifier struct {
	publicKey *ecdsa.PublicKey
	kid       string
}

func newJWTVerifierFromPEM(publicKeyPEM string) (*jwtVerifier, error) {
	if publicKeyPEM == "" {
		return nil, errors.New("JWT public key not provided")
	}

	publicKey, err := jwt.ParseECPublicKeyFromPEM([]byte(publicKeyPEM))
	if err != nil {
		return nil, err
	}

	kid, err := KeyID(publicKey)
	if err != nil {
		return nil, err
	}

	return &jwtVerifier{publicKey: publicKey, kid: kid}, nil
}

func (v *jwtVerifier) verify(tokenStr string) (models.TenantContext, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &TenantClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodES256 {
			return nil, errors.New("invalid signing method")
		}
		if kid, ok := t.Header["kid"].(string); ok && kid != v.kid {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return v.publicKey, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return models.TenantContext{}, err
	}

	claims, ok := parsed.Claims.(*TenantClaims)
	if !ok || !parsed.Valid {
		return models.TenantContext{}, errors.New("invalid claims")
	}
	return claims.Tenant()
}

// NewJWTAuthFunc returns an authn.AuthFunc that validates Bearer JWTs.
// On success the tenant context can be retrieved via TenantFromContext.
func NewJWTAuthFunc(publicKeyPEM string) (authn.AuthFunc, error) {
	v, err := newJWTVerifierFromPEM(publicKeyPEM)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, req authn.Request) (any, error) {
		if req.Procedure() == healthPath {
			return nil, nil
		}

		tokenStr := extractBearerToken(req.Header())
		if tokenStr == "" {
			return nil, authn.Errorf("missing bearer token")
		}

		tenant, err := v.verify(tokenStr)
		if err != nil {
			log.Debug().Err(err).Msg("JWT verification failed")
			return nil, authn.Errorf("invalid token")
		}

		return tenant, nil
	}, nil
}

// Trusted headers used by NewHeaderAuthFunc.
const (
	HeaderActorID = "X-Actor-Id"
	HeaderRole    = "X-Actor-Role"
	HeaderOrgID   = "X-Org-Id"
)

const healthPath = "/health"

// NewHeaderAuthFunc trusts tenant headers set by an upstream gateway. Only
// for development or when the API sits behind an authenticating proxy.
func NewHeaderAuthFunc() authn.AuthFunc {
	return func(ctx context.Context, req authn.Request) (any, error) {
		if req.Procedure() == healthPath {
			return nil, nil
		}

		header := req.Header()
		claims := &TenantClaims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: header.Get(HeaderActorID)},
			Role:             header.Get(HeaderRole),
			OrgID:            header.Get(HeaderOrgID),
		}
		tenant, err := claims.Tenant()
		if err != nil {
			return nil, authn.Errorf("invalid tenant headers: %v", err)
		}
		return tenant, nil
	}
}

// extractBearerToken returns the JWT from the Authorization header, or an
// empty string when the header is missing or not a bearer credential.
func extractBearerToken(header http.Header) string {
	authHeader := header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return parts[1]
}

// IssueToken creates a signed JWT carrying tenant.
// signingKeyPEM is the PEM-encoded ECDSA private key.
func IssueToken(signingKeyPEM string, tenant models.TenantContext, ttl time.Duration) (string, error) {
	if err := tenant.Validate(); err != nil {
		return "", err
	}

	signingKey, err := jwt.ParseECPrivateKeyFromPEM([]byte(signingKeyPEM))
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims := &TenantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tenant.ActorID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
		Role: string(tenant.Role),
	}
	if tenant.OrganizationID != nil {
		claims.OrgID = tenant.OrganizationID.String()
	}

	kid, err := KeyID(&signingKey.PublicKey)
	if err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = kid
	return token.SignedString(signingKey)
}

// WithTenant attaches tenant to ctx the same way the authn middleware does.
func WithTenant(ctx context.Context, tenant models.TenantContext) context.Context {
	return authn.SetInfo(ctx, tenant)
}

// TenantFromContext extracts the authenticated tenant context.
func TenantFromContext(ctx context.Context) (models.TenantContext, bool) {
	tenant, ok := authn.GetInfo(ctx).(models.TenantContext)
	return tenant, ok
}
