package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed or invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrNoSigningKey is returned by IssueAccess when the provider was built without a private key.
	ErrNoSigningKey = errors.New("no signing key configured")
)

// Roles carried in the role claim.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// AccessClaims holds JWT claims for the access token. Subject is the principal id.
type AccessClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Principal is the authenticated caller.
type Principal struct {
	ID   string
	Role string
}

// IsAdmin reports whether the principal holds the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// TokenProvider validates access JWTs (RS256 or ES256) and, when it holds a private key, issues them.
// The API only validates; cmd/seed and ledgerctl mint tokens for development.
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	accessTTL  time.Duration
}

// NewTokenProvider returns a TokenProvider. privateKey may be nil for a validate-only provider.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL time.Duration) *TokenProvider {
	if publicKey == nil && privateKey != nil {
		publicKey = privateKey.Public()
	}
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
	}
}

// IssueAccess issues an access JWT for principalID with the given role.
// Returns the token string and its expiration time.
func (p *TokenProvider) IssueAccess(principalID, role string) (token string, expiresAt time.Time, err error) {
	if p.privateKey == nil {
		return "", time.Time{}, ErrNoSigningKey
	}
	if strings.TrimSpace(principalID) == "" {
		return "", time.Time{}, errors.New("principal id is required")
	}
	if role == "" {
		role = RoleCustomer
	}
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := time.Now().UTC()
	expiresAt = now.Add(p.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   principalID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role: role,
	}
	token, err = p.sign(claims)
	return token, expiresAt, err
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidToken
	}
	t := jwt.NewWithClaims(method, claims)
	return t.SignedString(p.privateKey)
}

// ValidateAccess parses and validates the access token (signature, exp, iss, aud) and returns the principal.
// A missing role claim is treated as customer.
func (p *TokenProvider) ValidateAccess(tokenString string) (Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		return p.publicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg(), jwt.SigningMethodES256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return Principal{}, ErrInvalidToken
	}
	role := claims.Role
	if role == "" {
		role = RoleCustomer
	}
	return Principal{ID: claims.Subject, Role: role}, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
