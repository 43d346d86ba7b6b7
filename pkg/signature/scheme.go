package signature

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
)

// ErrMalformedKey is returned when key material cannot be parsed.
var ErrMalformedKey = errors.New("malformed key")

// PEM block types written by MarshalPEM.
const (
	pemTypePKCS8 = "PRIVATE KEY"
	pemTypePKIX  = "PUBLIC KEY"
)

// Scheme is one tagged variant of the signature bundle: an algorithm plus
// its curve or key size. Adding an algorithm means registering a Scheme.
type Scheme interface {
	// Name is the configuration name, e.g. "ecdsa-secp256k1".
	Name() string
	Algorithm() string
	// Curve is empty for schemes parameterized by key size.
	Curve() string
	// KeySize is zero for curve based schemes.
	KeySize() int
	GenerateKey() (PrivateKey, error)
	// ParsePublicKey parses the bundle form of a public key.
	ParsePublicKey(encoded string) (PublicKey, error)
	// Verify checks sig (bundle form) over digest. A mismatch is
	// (false, nil); an undecodable signature or foreign key is an error.
	Verify(pub PublicKey, digest []byte, sig string) (bool, error)
}

// PublicKey is the verifying half of a keypair.
type PublicKey interface {
	Scheme() Scheme
	// Encode returns the form embedded in bundles.
	Encode() string
	MarshalPEM() ([]byte, error)
	Equal(other PublicKey) bool
}

// PrivateKey is the signing half of a keypair. It never leaves the server.
type PrivateKey interface {
	Scheme() Scheme
	Public() PublicKey
	// Sign signs a SHA-384 digest and returns the bundle form of the
	// signature.
	Sign(digest []byte) (string, error)
	MarshalPEM() ([]byte, error)
}

// DefaultScheme is used when no scheme is configured. It matches the curve
// browser clients verify with.
const DefaultScheme = "ecdsa-secp256k1"

var registry = []Scheme{
	secp256k1Scheme{},
	p384Scheme{},
	rsaScheme{bits: 2048},
	rsaScheme{bits: 3072},
	rsaScheme{bits: 4096},
}

// Schemes returns every registered scheme.
func Schemes() []Scheme {
	out := make([]Scheme, len(registry))
	copy(out, registry)
	return out
}

// SchemeByName looks up a scheme by its configuration name.
func SchemeByName(name string) (Scheme, error) {
	for _, s := range registry {
		if s.Name() == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, name)
}

// SchemeFor resolves the scheme a bundle was produced with.
func SchemeFor(b Bundle) (Scheme, error) {
	if b.HashAlgorithm != HashSHA384 {
		return nil, fmt.Errorf("%w: hash algorithm %q", ErrUnsupportedScheme, b.HashAlgorithm)
	}
	for _, s := range registry {
		if s.Algorithm() != b.Algorithm {
			continue
		}
		if s.Curve() != "" && s.Curve() == b.Curve {
			return s, nil
		}
		if s.KeySize() != 0 && s.KeySize() == b.KeySize {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: algorithm %q curve %q keySize %d",
		ErrUnsupportedScheme, b.Algorithm, b.Curve, b.KeySize)
}

// Fingerprint returns hex(sha256(encoded public key)).
func Fingerprint(pub PublicKey) string {
	sum := sha256.Sum256([]byte(pub.Encode()))
	return hex.EncodeToString(sum[:])
}

// ParsePrivateKeyPEM parses a private key written by PrivateKey.MarshalPEM.
// The PEM block type selects the scheme.
func ParsePrivateKeyPEM(data []byte) (PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrMalformedKey)
	}
	switch block.Type {
	case secp256k1PrivatePEMType:
		return parseSecp256k1PrivateKey(block.Bytes)
	case pemTypePKCS8:
		raw, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
		}
		switch k := raw.(type) {
		case *ecdsa.PrivateKey:
			if k.Curve != elliptic.P384() {
				return nil, fmt.Errorf("%w: ecdsa curve %s", ErrUnsupportedScheme, k.Curve.Params().Name)
			}
			return newP384PrivateKey(k)
		case *rsa.PrivateKey:
			s, err := rsaSchemeForBits(k.N.BitLen())
			if err != nil {
				return nil, err
			}
			return newRSAPrivateKey(s, k)
		default:
			return nil, fmt.Errorf("%w: private key type %T", ErrUnsupportedScheme, raw)
		}
	default:
		return nil, fmt.Errorf("%w: unexpected PEM block %q", ErrMalformedKey, block.Type)
	}
}

// ParsePublicKeyPEM parses a public key written by PublicKey.MarshalPEM.
func ParsePublicKeyPEM(data []byte) (PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrMalformedKey)
	}
	switch block.Type {
	case secp256k1PublicPEMType:
		return parseSecp256k1PublicKey(block.Bytes)
	case pemTypePKIX:
		raw, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
		}
		return publicKeyFromPKIX(raw)
	default:
		return nil, fmt.Errorf("%w: unexpected PEM block %q", ErrMalformedKey, block.Type)
	}
}

func publicKeyFromPKIX(raw any) (PublicKey, error) {
	switch k := raw.(type) {
	case *ecdsa.PublicKey:
		if k.Curve != elliptic.P384() {
			return nil, fmt.Errorf("%w: ecdsa curve %s", ErrUnsupportedScheme, k.Curve.Params().Name)
		}
		return newP384PublicKey(k)
	case *rsa.PublicKey:
		s, err := rsaSchemeForBits(k.N.BitLen())
		if err != nil {
			return nil, err
		}
		return newRSAPublicKey(s, k)
	default:
		return nil, fmt.Errorf("%w: public key type %T", ErrUnsupportedScheme, raw)
	}
}

// parsePKIXString parses a PEM encoded PKIX public key held in a bundle.
func parsePKIXString(encoded string) (any, error) {
	block, _ := pem.Decode([]byte(encoded))
	if block == nil || block.Type != pemTypePKIX {
		return nil, fmt.Errorf("%w: public key is not a PEM PUBLIC KEY block", ErrMalformedKey)
	}
	raw, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	return raw, nil
}

func marshalPKIX(pub any) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshaling public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemTypePKIX, Bytes: der}), nil
}

func marshalPKCS8(priv any) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshaling private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemTypePKCS8, Bytes: der}), nil
}

func equalEncoded(a, b PublicKey) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Scheme().Name() == b.Scheme().Name() && a.Encode() == b.Encode()
}
