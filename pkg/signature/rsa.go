package signature

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
)

// rsaScheme is RSASSA-PKCS1-v1_5 with SHA-384. Public keys travel as PEM
// PKIX and signatures as standard Base64.
type rsaScheme struct {
	bits int
}

func rsaSchemeForBits(bits int) (rsaScheme, error) {
	for _, s := range registry {
		if rs, ok := s.(rsaScheme); ok && rs.bits == bits {
			return rs, nil
		}
	}
	return rsaScheme{}, fmt.Errorf("%w: RSA key size %d", ErrUnsupportedScheme, bits)
}

func (s rsaScheme) Name() string    { return fmt.Sprintf("rsa-%d", s.bits) }
func (rsaScheme) Algorithm() string { return AlgorithmRSASHA384 }
func (rsaScheme) Curve() string     { return "" }
func (s rsaScheme) KeySize() int    { return s.bits }

func (s rsaScheme) GenerateKey() (PrivateKey, error) {
	k, err := rsa.GenerateKey(rand.Reader, s.bits)
	if err != nil {
		return nil, fmt.Errorf("generating RSA-%d key: %w", s.bits, err)
	}
	return newRSAPrivateKey(s, k)
}

func (s rsaScheme) ParsePublicKey(encoded string) (PublicKey, error) {
	raw, err := parsePKIXString(encoded)
	if err != nil {
		return nil, err
	}
	k, ok := raw.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key is not an RSA key", ErrMalformedKey)
	}
	if k.N.BitLen() != s.bits {
		return nil, fmt.Errorf("%w: RSA key is %d bits, bundle says %d", ErrMalformedKey, k.N.BitLen(), s.bits)
	}
	return newRSAPublicKey(s, k)
}

func (s rsaScheme) Verify(pub PublicKey, digest []byte, sig string) (bool, error) {
	k, ok := pub.(*rsaPublicKey)
	if !ok {
		return false, fmt.Errorf("%w: %T is not an RSA key", ErrUnsupportedScheme, pub)
	}
	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false, fmt.Errorf("%w: signature is not base64: %v", ErrMalformedSignature, err)
	}
	return rsa.VerifyPKCS1v15(k.key, crypto.SHA384, digest, raw) == nil, nil
}

type rsaPublicKey struct {
	scheme  rsaScheme
	key     *rsa.PublicKey
	encoded string
}

func newRSAPublicKey(s rsaScheme, k *rsa.PublicKey) (*rsaPublicKey, error) {
	pemBytes, err := marshalPKIX(k)
	if err != nil {
		return nil, err
	}
	return &rsaPublicKey{scheme: s, key: k, encoded: string(pemBytes)}, nil
}

func (k *rsaPublicKey) Scheme() Scheme              { return k.scheme }
func (k *rsaPublicKey) Encode() string              { return k.encoded }
func (k *rsaPublicKey) MarshalPEM() ([]byte, error) { return []byte(k.encoded), nil }
func (k *rsaPublicKey) Equal(other PublicKey) bool  { return equalEncoded(k, other) }

type rsaPrivateKey struct {
	key *rsa.PrivateKey
	pub *rsaPublicKey
}

func newRSAPrivateKey(s rsaScheme, k *rsa.PrivateKey) (*rsaPrivateKey, error) {
	pub, err := newRSAPublicKey(s, &k.PublicKey)
	if err != nil {
		return nil, err
	}
	return &rsaPrivateKey{key: k, pub: pub}, nil
}

func (k *rsaPrivateKey) Scheme() Scheme    { return k.pub.scheme }
func (k *rsaPrivateKey) Public() PublicKey { return k.pub }

func (k *rsaPrivateKey) Sign(digest []byte) (string, error) {
	sig, err := rsa.SignPKCS1v15(rand.Reader, k.key, crypto.SHA384, digest)
	if err != nil {
		return "", fmt.Errorf("RSA signing: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

func (k *rsaPrivateKey) MarshalPEM() ([]byte, error) { return marshalPKCS8(k.key) }
