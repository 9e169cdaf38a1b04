package payment

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/bakery-payway/internal/obs"
)

// Profile names a signature scheme. PayWay uses different digests per integration path.
type Profile string

const (
	// ProfileRSASHA512 is used by the hosted checkout and the manual signature tool.
	ProfileRSASHA512 Profile = "RSA-SHA512"
	// ProfileRSASHA256 is used by the QR/API path.
	ProfileRSASHA256 Profile = "RSA-SHA256"
)

const pemLineWidth = 64

var pemBlockPattern = regexp.MustCompile(`(?s)-----BEGIN ([A-Z0-9 ]+)-----(.*?)-----END [A-Z0-9 ]+-----`)

// ParseProfile accepts the canonical profile names, case-insensitively.
func ParseProfile(s string) (Profile, error) {
	switch Profile(strings.ToUpper(strings.TrimSpace(s))) {
	case ProfileRSASHA512:
		return ProfileRSASHA512, nil
	case ProfileRSASHA256:
		return ProfileRSASHA256, nil
	}
	return "", fmt.Errorf("unsupported signing profile %q", s)
}

func (p Profile) digest(data []byte) (crypto.Hash, []byte, error) {
	switch p {
	case ProfileRSASHA512:
		sum := sha512.Sum512(data)
		return crypto.SHA512, sum[:], nil
	case ProfileRSASHA256:
		sum := sha256.Sum256(data)
		return crypto.SHA256, sum[:], nil
	}
	return 0, nil, fmt.Errorf("unsupported signing profile %q", string(p))
}

// Signer produces a base64 signature over a canonical string.
type Signer interface {
	Sign(canonical, privateKey string, profile Profile) (string, error)
}

// RSASigner is the production Signer. It records metrics and never logs key material.
type RSASigner struct {
	Logger zerolog.Logger
}

// Sign implements Signer.
func (s RSASigner) Sign(canonical, privateKey string, profile Profile) (string, error) {
	sig, err := Sign(canonical, privateKey, profile)
	if err != nil {
		obs.IncCounter(obs.PayWaySigningTotal, string(profile), errorLabel(err))
		s.Logger.Error().Err(err).Str("profile", string(profile)).Msg("sign payment request")
		return "", err
	}
	obs.IncCounter(obs.PayWaySigningTotal, string(profile), "ok")
	s.Logger.Debug().Str("profile", string(profile)).Str("signature_prefix", SignaturePrefix(sig)).Msg("payment request signed")
	return sig, nil
}

// Sign signs canonical with RSA PKCS#1 v1.5 using the profile's digest and returns base64.
// PKCS#1 v1.5 is deterministic, so identical input yields identical output.
func Sign(canonical, privateKey string, profile Profile) (string, error) {
	hash, digest, err := profile.digest([]byte(canonical))
	if err != nil {
		return "", &SigningError{Profile: profile, Err: err}
	}
	key, err := ParsePrivateKey(privateKey)
	if err != nil {
		return "", err
	}
	raw, err := rsa.SignPKCS1v15(rand.Reader, key, hash, digest)
	if err != nil {
		return "", &SigningError{Profile: profile, Err: err}
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Verify checks a base64 signature produced by Sign against a public key.
func Verify(publicKey, canonical, signature string, profile Profile) error {
	hash, digest, err := profile.digest([]byte(canonical))
	if err != nil {
		return err
	}
	key, err := ParsePublicKey(publicKey)
	if err != nil {
		return err
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}
	if err := rsa.VerifyPKCS1v15(key, hash, digest, raw); err != nil {
		return ErrSignatureMismatch
	}
	return nil
}

// NormalizePEM turns operator-supplied key text into a PEM document. Literal "\n"
// sequences become newlines and the base64 body is re-wrapped at 64 characters. A bare
// body without delimiters is wrapped in blockType delimiters.
func NormalizePEM(raw, blockType string) string {
	s := strings.ReplaceAll(raw, `\n`, "\n")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.Trim(strings.TrimSpace(s), `"'`)
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if m := pemBlockPattern.FindStringSubmatch(s); m != nil {
		blockType, s = m[1], m[2]
	}
	body := strings.Join(strings.Fields(s), "")
	var b strings.Builder
	b.WriteString("-----BEGIN " + blockType + "-----\n")
	for len(body) > pemLineWidth {
		b.WriteString(body[:pemLineWidth])
		b.WriteByte('\n')
		body = body[pemLineWidth:]
	}
	if body != "" {
		b.WriteString(body)
		b.WriteByte('\n')
	}
	b.WriteString("-----END " + blockType + "-----\n")
	return b.String()
}

// ParsePrivateKey accepts PKCS#8 or PKCS#1 RSA keys, with or without PEM delimiters.
func ParsePrivateKey(raw string) (*rsa.PrivateKey, error) {
	normalized := NormalizePEM(raw, "PRIVATE KEY")
	if normalized == "" {
		return nil, &InvalidKeyError{Err: errors.New("key is empty")}
	}
	block, _ := pem.Decode([]byte(normalized))
	if block == nil {
		return nil, &InvalidKeyError{Err: errors.New("no PEM block found")}
	}
	parsers := []func([]byte) (*rsa.PrivateKey, error){parsePKCS8RSA, x509.ParsePKCS1PrivateKey}
	if block.Type == "RSA PRIVATE KEY" {
		parsers = []func([]byte) (*rsa.PrivateKey, error){x509.ParsePKCS1PrivateKey, parsePKCS8RSA}
	}
	var errs error
	for _, parse := range parsers {
		key, err := parse(block.Bytes)
		if err == nil {
			return key, nil
		}
		errs = errors.Join(errs, err)
	}
	return nil, &InvalidKeyError{Err: errs}
}

func parsePKCS8RSA(der []byte) (*rsa.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("PKCS#8 key is %T, not RSA", key)
	}
	return rsaKey, nil
}

// ParsePublicKey accepts PKIX or PKCS#1 RSA public keys, with or without PEM delimiters.
func ParsePublicKey(raw string) (*rsa.PublicKey, error) {
	normalized := NormalizePEM(raw, "PUBLIC KEY")
	if normalized == "" {
		return nil, &InvalidKeyError{Err: errors.New("key is empty")}
	}
	block, _ := pem.Decode([]byte(normalized))
	if block == nil {
		return nil, &InvalidKeyError{Err: errors.New("no PEM block found")}
	}
	if pub, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, &InvalidKeyError{Err: fmt.Errorf("public key is %T, not RSA", pub)}
		}
		return rsaPub, nil
	}
	pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, &InvalidKeyError{Err: err}
	}
	return pub, nil
}

// SignaturePrefix returns a short, log-safe prefix of a signature.
func SignaturePrefix(sig string) string {
	const n = 12
	if len(sig) <= n {
		return sig
	}
	return sig[:n] + "..."
}

func errorLabel(err error) string {
	var keyErr *InvalidKeyError
	if errors.As(err, &keyErr) {
		return "invalid_key"
	}
	return "error"
}
