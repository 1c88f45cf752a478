package token

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/school-dashboard/internal/errors"
	pkgerrors "github.com/pkg/errors"
)

// Claims are the access token claims the session core cares about
type Claims struct {
	ExpiresAt time.Time // exp
	IssuedAt  time.Time // iat
	UserID    string    // user_id (simplejwt) or sub
	TokenType string    // token_type, "access" for access tokens
	JTI       string    // jti
	Verified  bool      // signature was checked against the configured key
}

// Inspector reads access token claims. With a verifier it checks the signature
// (and issuer/audience when configured) first; without one it reads the claims
// unverified, which is enough to schedule a refresh but never to authorize.
type Inspector struct {
	verifier *oidc.IDTokenVerifier
}

func NewInspector(verifier *oidc.IDTokenVerifier) *Inspector {
	return &Inspector{verifier: verifier}
}

// NewVerifier builds a go-oidc verifier over a single static public key.
// Empty issuer or audience disables the corresponding check.
func NewVerifier(publicKey crypto.PublicKey, issuer, audience string) (*oidc.IDTokenVerifier, error) {
	var algs []string
	switch publicKey.(type) {
	case *rsa.PublicKey:
		algs = []string{oidc.RS256, oidc.RS384, oidc.RS512}
	case *ecdsa.PublicKey:
		algs = []string{oidc.ES256, oidc.ES384, oidc.ES512}
	case ed25519.PublicKey:
		algs = []string{oidc.EdDSA}
	default:
		return nil, fmt.Errorf("token.NewVerifier: unsupported key type %T", publicKey)
	}

	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{publicKey}}
	return oidc.NewVerifier(issuer, keySet, &oidc.Config{
		ClientID:             audience,
		SkipClientIDCheck:    audience == "",
		SkipIssuerCheck:      issuer == "",
		SupportedSigningAlgs: algs,
	}), nil
}

// Verifying reports whether signatures are checked
func (i *Inspector) Verifying() bool {
	return i != nil && i.verifier != nil
}

// Inspect extracts claims from rawToken
func (i *Inspector) Inspect(ctx context.Context, rawToken string) (*Claims, error) {
	if rawToken == "" {
		return nil, errors.Wrapf(errors.ErrInvalidToken, "empty token")
	}
	if i.Verifying() {
		return i.verified(ctx, rawToken)
	}
	return unverified(rawToken)
}

func (i *Inspector) verified(ctx context.Context, rawToken string) (*Claims, error) {
	idToken, err := i.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, errors.Join(errors.ErrInvalidToken, pkgerrors.Wrap(err, "Inspector.verified Verify"))
	}

	var extra struct {
		UserID    any    `json:"user_id"`
		TokenType string `json:"token_type"`
		JTI       string `json:"jti"`
	}
	if err := idToken.Claims(&extra); err != nil {
		return nil, errors.Join(errors.ErrInvalidToken, pkgerrors.Wrap(err, "Inspector.verified Claims"))
	}

	claims := &Claims{
		ExpiresAt: idToken.Expiry,
		IssuedAt:  idToken.IssuedAt,
		UserID:    idToken.Subject,
		TokenType: extra.TokenType,
		JTI:       extra.JTI,
		Verified:  true,
	}
	if extra.UserID != nil {
		claims.UserID = claimString(extra.UserID)
	}
	return claims, nil
}

func unverified(rawToken string) (*Claims, error) {
	parsed, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return nil, errors.Join(errors.ErrInvalidToken, pkgerrors.Wrap(err, "token.unverified ParseUnverified"))
	}

	mapClaims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, pkgerrors.Wrap(errors.ErrInvalidToken, "error extracting claims")
	}

	claims := &Claims{}
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	if iat, err := mapClaims.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}
	if sub, err := mapClaims.GetSubject(); err == nil {
		claims.UserID = sub
	}
	if userID, ok := mapClaims["user_id"]; ok && userID != nil {
		claims.UserID = claimString(userID)
	}
	claims.TokenType, _ = mapClaims["token_type"].(string)
	claims.JTI, _ = mapClaims["jti"].(string)
	return claims, nil
}

// claimString renders numeric ids decoded as float64 without an exponent
func claimString(v any) string {
	if f, ok := v.(float64); ok {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprint(v)
}
