// Package identity verifies identity-provider tokens and extracts the signed-in identity.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"github.com/fastygo/donote/domain"
)

var (
	errMissingToken = errors.New("missing identity token")
	errBadHeader    = errors.New("bad authorization header")
)

// Config selects the verification mode. A JWKS URL wins over a shared secret.
type Config struct {
	JWKSURL     string
	JWKSRefresh time.Duration
	Secret      string
	Audience    string
	Issuer      string
}

// Verifier validates identity tokens signed with RS256 (JWKS) or HS256 (shared secret).
type Verifier struct {
	jwks     *keyfunc.JWKS
	secret   []byte
	audience string
	issuer   string
	parser   *jwt.Parser
}

// New builds a verifier. With a JWKS URL the key set is fetched and refreshed in the background.
func New(cfg Config) (*Verifier, error) {
	v := &Verifier{audience: cfg.Audience, issuer: cfg.Issuer}
	switch {
	case cfg.JWKSURL != "":
		refresh := cfg.JWKSRefresh
		if refresh <= 0 {
			refresh = time.Hour
		}
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
			RefreshInterval:   refresh,
			RefreshUnknownKID: true,
		})
		if err != nil {
			return nil, fmt.Errorf("jwks: %w", err)
		}
		v.jwks = jwks
		v.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	case cfg.Secret != "":
		v.secret = []byte(cfg.Secret)
		v.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	default:
		return nil, errors.New("identity: either a JWKS URL or a shared secret is required")
	}
	return v, nil
}

// Close stops the background JWKS refresh.
func (v *Verifier) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}

// Verify checks the token and returns the identity it carries.
func (v *Verifier) Verify(token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, unauthorized(errMissingToken)
	}
	parsed, err := v.parser.Parse(token, v.keyFor)
	if err != nil {
		return domain.Identity{}, unauthorized(err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return domain.Identity{}, unauthorized(errors.New("invalid claims"))
	}
	if !claims.VerifyExpiresAt(time.Now().Unix(), true) {
		return domain.Identity{}, unauthorized(errors.New("token has no expiry"))
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return domain.Identity{}, unauthorized(errors.New("invalid audience"))
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return domain.Identity{}, unauthorized(errors.New("invalid issuer"))
	}

	identity := domain.Identity{
		UID:         stringClaim(claims, "sub"),
		DisplayName: stringClaim(claims, "name"),
		Email:       strings.ToLower(stringClaim(claims, "email")),
	}
	if !identity.Valid() {
		return domain.Identity{}, unauthorized(errors.New("missing sub"))
	}
	return identity, nil
}

// VerifyHeader verifies the bearer token of an Authorization header value.
func (v *Verifier) VerifyHeader(header string) (domain.Identity, error) {
	token, err := BearerToken(header)
	if err != nil {
		return domain.Identity{}, unauthorized(err)
	}
	return v.Verify(token)
}

func (v *Verifier) keyFor(token *jwt.Token) (interface{}, error) {
	if v.jwks != nil {
		return v.jwks.Keyfunc(token)
	}
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errors.New("invalid signing method")
	}
	return v.secret, nil
}

// BearerToken extracts the token of a "Bearer <token>" header value.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errBadHeader
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.Count(token, ".") != 2 {
		return "", errBadHeader
	}
	return token, nil
}

func stringClaim(claims jwt.MapClaims, name string) string {
	value, _ := claims[name].(string)
	return strings.TrimSpace(value)
}

func unauthorized(err error) error {
	return domain.WrapError(domain.ErrCodeUnauthorized, "invalid identity token", err)
}
