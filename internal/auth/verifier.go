package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const rolesClaim = "roles"

// RoleAdmin grants access to back-office order management.
const RoleAdmin = "admin"

// Claims is the identity carried by an access token.
type Claims struct {
	Subject string
	Roles   []string
}

// HasRole reports whether the claims include role.
func (c Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// Verifier parses and validates HS256 access tokens issued by the storefront's identity service.
type Verifier struct {
	Secret   []byte
	Issuer   string
	Audience string
	Skew     time.Duration
	Now      func() time.Time
}

// NewVerifier builds a Verifier for HS256 tokens with the given issuer and audience.
func NewVerifier(secret, issuer, audience string) *Verifier {
	return &Verifier{Secret: []byte(secret), Issuer: issuer, Audience: audience, Skew: 30 * time.Second}
}

// Parse verifies the signature and registered claims of token.
func (v *Verifier) Parse(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, errNoToken
	}
	if len(v.Secret) == 0 {
		return Claims{}, errors.New("auth: verifier secret not configured")
	}
	// Pin the algorithm before parsing so a token cannot pick its own.
	if alg, err := signingAlgorithm(token); err != nil {
		return Claims{}, err
	} else if alg != jwa.HS256 {
		return Claims{}, fmt.Errorf("auth: unexpected token algorithm %s", alg)
	}
	parsed, err := jwt.ParseString(token, jwt.WithKey(jwa.HS256, v.Secret), jwt.WithValidate(false))
	if err != nil {
		return Claims{}, err
	}
	if err := jwt.Validate(parsed, v.validateOptions()...); err != nil {
		return Claims{}, err
	}
	return Claims{Subject: parsed.Subject(), Roles: rolesOf(parsed)}, nil
}

func (v *Verifier) validateOptions() []jwt.ValidateOption {
	opts := []jwt.ValidateOption{jwt.WithClock(jwt.ClockFunc(v.now))}
	if v.Skew > 0 {
		opts = append(opts, jwt.WithAcceptableSkew(v.Skew))
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.Audience))
	}
	return opts
}

// Issue signs a token for subject. Used by operator tooling and tests.
func (v *Verifier) Issue(subject string, roles []string, ttl time.Duration) (string, error) {
	now := v.now()
	b := jwt.NewBuilder().
		Subject(subject).
		IssuedAt(now).
		NotBefore(now).
		Expiration(now.Add(ttl)).
		Claim(rolesClaim, roles)
	if v.Issuer != "" {
		b = b.Issuer(v.Issuer)
	}
	if v.Audience != "" {
		b = b.Audience([]string{v.Audience})
	}
	tok, err := b.Build()
	if err != nil {
		return "", err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, v.Secret))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

func (v *Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func rolesOf(tok jwt.Token) []string {
	raw, ok := tok.Get(rolesClaim)
	if !ok {
		return nil
	}
	switch vals := raw.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, v := range vals {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.Fields(vals)
	}
	return nil
}

func signingAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) != 1 {
		return "", errors.New("auth: token must carry exactly one signature")
	}
	alg := signatures[0].ProtectedHeaders().Algorithm()
	if alg == "" {
		return "", errors.New("auth: token missing algorithm")
	}
	return alg, nil
}
