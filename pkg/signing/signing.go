// Package signing provides the pluggable signer/verifier contract that
// certificate generation and token minting sign through. Placeholder
// signatures must never be accepted at runtime — real ES256
// signing/verification goes through an injected interface, with tests
// free to inject a stub signer over a test key.
//
// There is one scheme today, ES256, but a named Signer/Verifier pair
// resolved by key id leaves room for a second scheme to be added later
// without touching certificate or token code.
package signing

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"math/big"

	"github.com/aigos/cga-engine/pkg/errs"
)

// Algorithm identifies the signature scheme. ES256 is the only scheme the
// engine mints with; the type exists so a verifier can reject signatures
// produced under an algorithm it doesn't trust.
type Algorithm string

const ES256 Algorithm = "ES256"

// Signer produces a detached signature over an arbitrary byte payload and
// reports the key id its signatures should be verified under.
type Signer interface {
	Algorithm() Algorithm
	KeyID() string
	Sign(payload []byte) (signature []byte, err error)
}

// Verifier checks a detached signature produced by a Signer. Resolver
// implementations may back this with a static key map or a JWKS-style
// fetch; the engine's core never performs key resolution itself.
type Verifier interface {
	Verify(keyID string, payload, signature []byte) error
}

// KeyResolver looks up the public key registered under a key id. Verifiers
// are built over a KeyResolver so the trusted-CA map (or a JWKS client) can
// be swapped without touching verification logic.
type KeyResolver interface {
	Resolve(keyID string) (*ecdsa.PublicKey, error)
}

// StaticResolver is a KeyResolver backed by an in-memory map, suitable for
// the trusted_cas configuration the trust policy and token verifier both
// consume.
type StaticResolver map[string]*ecdsa.PublicKey

func (m StaticResolver) Resolve(keyID string) (*ecdsa.PublicKey, error) {
	key, ok := m[keyID]
	if !ok {
		return nil, errs.New(errs.SignerUnavailable, "no public key registered for key id %q", keyID)
	}
	return key, nil
}

// ECDSASigner signs with a P-256 private key using ES256 (ECDSA over
// SHA-256, IEEE P1363 fixed-size R||S encoding per RFC 7518 §3.4).
type ECDSASigner struct {
	keyID      string
	privateKey *ecdsa.PrivateKey
}

// NewECDSASigner builds a Signer over a P-256 private key. It fails if the
// key is not on the P-256 curve, since ES256 is defined only for P-256.
func NewECDSASigner(keyID string, privateKey *ecdsa.PrivateKey) (*ECDSASigner, error) {
	if privateKey == nil || privateKey.Curve != elliptic.P256() {
		return nil, errs.New(errs.SignerUnavailable, "ES256 requires a P-256 private key")
	}
	return &ECDSASigner{keyID: keyID, privateKey: privateKey}, nil
}

func (s *ECDSASigner) Algorithm() Algorithm { return ES256 }
func (s *ECDSASigner) KeyID() string        { return s.keyID }

func (s *ECDSASigner) Sign(payload []byte) ([]byte, error) {
	digest := sha256.Sum256(payload)
	r, sVal, err := ecdsa.Sign(rand.Reader, s.privateKey, digest[:])
	if err != nil {
		return nil, errs.New(errs.SignerUnavailable, "ecdsa sign failed: %v", err)
	}
	return encodeP1363(r, sVal), nil
}

// ECDSAVerifier verifies ES256 signatures against keys from a KeyResolver.
type ECDSAVerifier struct {
	resolver KeyResolver
}

func NewECDSAVerifier(resolver KeyResolver) *ECDSAVerifier {
	return &ECDSAVerifier{resolver: resolver}
}

func (v *ECDSAVerifier) Verify(keyID string, payload, signature []byte) error {
	pub, err := v.resolver.Resolve(keyID)
	if err != nil {
		return err
	}
	r, s, err := decodeP1363(signature)
	if err != nil {
		return errs.New(errs.InvalidSignature, "malformed ES256 signature: %v", err)
	}
	digest := sha256.Sum256(payload)
	if !ecdsa.Verify(pub, digest[:], r, s) {
		return errs.New(errs.InvalidSignature, "signature does not verify under key %q", keyID)
	}
	return nil
}

// fixed P-256 coordinate size in bytes.
const p256CoordSize = 32

func encodeP1363(r, s *big.Int) []byte {
	out := make([]byte, p256CoordSize*2)
	r.FillBytes(out[:p256CoordSize])
	s.FillBytes(out[p256CoordSize:])
	return out
}

func decodeP1363(sig []byte) (r, s *big.Int, err error) {
	if len(sig) != p256CoordSize*2 {
		return nil, nil, errs.New(errs.InvalidSignature, "expected %d-byte signature, got %d", p256CoordSize*2, len(sig))
	}
	r = new(big.Int).SetBytes(sig[:p256CoordSize])
	s = new(big.Int).SetBytes(sig[p256CoordSize:])
	return r, s, nil
}

// MarshalPublicKeyDER is a convenience for tests and CA tooling that need
// to serialize a public key alongside a key id.
func MarshalPublicKeyDER(pub *ecdsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return der, nil
}

// LoadPrivateKeyPEM parses a PEM-encoded P-256 private key, accepting both
// SEC1 ("EC PRIVATE KEY") and PKCS#8 ("PRIVATE KEY") blocks since operators
// generate keys with either openssl or Go's x509 tooling.
func LoadPrivateKeyPEM(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errs.New(errs.BadFormat, "no PEM block found in signer key")
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errs.New(errs.BadFormat, "parse private key: %v", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errs.New(errs.BadFormat, "private key is not ECDSA")
	}
	return key, nil
}

// LoadPublicKeyPEM parses a PEM-encoded PKIX (SubjectPublicKeyInfo) public
// key, the format a trusted-CA map of key id to public key is populated
// from.
func LoadPublicKeyPEM(data []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errs.New(errs.BadFormat, "no PEM block found in public key")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errs.New(errs.BadFormat, "parse public key: %v", err)
	}
	key, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, errs.New(errs.BadFormat, "public key is not ECDSA")
	}
	return key, nil
}
