package signature

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// p384Scheme is ECDSA over NIST P-384. Public keys travel as PEM PKIX and
// signatures as hex DER.
type p384Scheme struct{}

func (p384Scheme) Name() string      { return "ecdsa-p384" }
func (p384Scheme) Algorithm() string { return AlgorithmECDSA }
func (p384Scheme) Curve() string     { return CurveP384 }
func (p384Scheme) KeySize() int      { return 0 }

func (p384Scheme) GenerateKey() (PrivateKey, error) {
	k, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating P-384 key: %w", err)
	}
	return newP384PrivateKey(k)
}

func (p384Scheme) ParsePublicKey(encoded string) (PublicKey, error) {
	raw, err := parsePKIXString(encoded)
	if err != nil {
		return nil, err
	}
	k, ok := raw.(*ecdsa.PublicKey)
	if !ok || k.Curve != elliptic.P384() {
		return nil, fmt.Errorf("%w: public key is not a P-384 key", ErrMalformedKey)
	}
	return newP384PublicKey(k)
}

func (p384Scheme) Verify(pub PublicKey, digest []byte, sig string) (bool, error) {
	k, ok := pub.(*p384PublicKey)
	if !ok {
		return false, fmt.Errorf("%w: %T is not a P-384 key", ErrUnsupportedScheme, pub)
	}
	der, err := hex.DecodeString(sig)
	if err != nil {
		return false, fmt.Errorf("%w: signature is not hex: %v", ErrMalformedSignature, err)
	}
	r, s, err := parseDERSignature(der)
	if err != nil {
		return false, err
	}
	return ecdsa.Verify(k.key, digest, r, s), nil
}

// parseDERSignature strictly parses SEQUENCE { INTEGER r, INTEGER s }.
func parseDERSignature(der []byte) (*big.Int, *big.Int, error) {
	var (
		r, s  = new(big.Int), new(big.Int)
		inner cryptobyte.String
	)
	input := cryptobyte.String(der)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) ||
		!input.Empty() ||
		!inner.ReadASN1Integer(r) ||
		!inner.ReadASN1Integer(s) ||
		!inner.Empty() {
		return nil, nil, fmt.Errorf("%w: invalid DER ECDSA signature", ErrMalformedSignature)
	}
	if r.Sign() <= 0 || s.Sign() <= 0 {
		return nil, nil, fmt.Errorf("%w: non-positive ECDSA signature component", ErrMalformedSignature)
	}
	return r, s, nil
}

type p384PublicKey struct {
	key     *ecdsa.PublicKey
	encoded string
}

func newP384PublicKey(k *ecdsa.PublicKey) (*p384PublicKey, error) {
	pemBytes, err := marshalPKIX(k)
	if err != nil {
		return nil, err
	}
	return &p384PublicKey{key: k, encoded: string(pemBytes)}, nil
}

func (k *p384PublicKey) Scheme() Scheme              { return p384Scheme{} }
func (k *p384PublicKey) Encode() string              { return k.encoded }
func (k *p384PublicKey) MarshalPEM() ([]byte, error) { return []byte(k.encoded), nil }
func (k *p384PublicKey) Equal(other PublicKey) bool  { return equalEncoded(k, other) }

type p384PrivateKey struct {
	key *ecdsa.PrivateKey
	pub *p384PublicKey
}

func newP384PrivateKey(k *ecdsa.PrivateKey) (*p384PrivateKey, error) {
	pub, err := newP384PublicKey(&k.PublicKey)
	if err != nil {
		return nil, err
	}
	return &p384PrivateKey{key: k, pub: pub}, nil
}

func (k *p384PrivateKey) Scheme() Scheme    { return p384Scheme{} }
func (k *p384PrivateKey) Public() PublicKey { return k.pub }

func (k *p384PrivateKey) Sign(digest []byte) (string, error) {
	der, err := ecdsa.SignASN1(rand.Reader, k.key, digest)
	if err != nil {
		return "", fmt.Errorf("P-384 signing: %w", err)
	}
	return hex.EncodeToString(der), nil
}

func (k *p384PrivateKey) MarshalPEM() ([]byte, error) { return marshalPKCS8(k.key) }
