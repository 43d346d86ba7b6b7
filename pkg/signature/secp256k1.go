package signature

import (
	"encoding/hex"
	"encoding/pem"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

const (
	secp256k1PrivatePEMType = "SECP256K1 PRIVATE KEY"
	secp256k1PublicPEMType  = "SECP256K1 PUBLIC KEY"

	// secp256k1 signs the leftmost 256 bits of the SHA-384 digest.
	secp256k1DigestLen = 32
)

// secp256k1Scheme is ECDSA over secp256k1. Public keys travel as hex of the
// uncompressed SEC1 point and signatures as hex DER.
type secp256k1Scheme struct{}

func (secp256k1Scheme) Name() string      { return "ecdsa-secp256k1" }
func (secp256k1Scheme) Algorithm() string { return AlgorithmECDSA }
func (secp256k1Scheme) Curve() string     { return CurveSecp256k1 }
func (secp256k1Scheme) KeySize() int      { return 0 }

func (secp256k1Scheme) GenerateKey() (PrivateKey, error) {
	k, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generating secp256k1 key: %w", err)
	}
	return &secp256k1PrivateKey{key: k}, nil
}

func (secp256k1Scheme) ParsePublicKey(encoded string) (PublicKey, error) {
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: public key is not hex: %v", ErrMalformedKey, err)
	}
	return parseSecp256k1PublicKey(raw)
}

func (secp256k1Scheme) Verify(pub PublicKey, digest []byte, sig string) (bool, error) {
	k, ok := pub.(*secp256k1PublicKey)
	if !ok {
		return false, fmt.Errorf("%w: %T is not a secp256k1 key", ErrUnsupportedScheme, pub)
	}
	der, err := hex.DecodeString(sig)
	if err != nil {
		return false, fmt.Errorf("%w: signature is not hex: %v", ErrMalformedSignature, err)
	}
	parsed, err := secpecdsa.ParseDERSignature(der)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return parsed.Verify(truncateDigest(digest), k.key), nil
}

func truncateDigest(digest []byte) []byte {
	if len(digest) > secp256k1DigestLen {
		return digest[:secp256k1DigestLen]
	}
	return digest
}

type secp256k1PublicKey struct {
	key *secp256k1.PublicKey
}

func parseSecp256k1PublicKey(raw []byte) (*secp256k1PublicKey, error) {
	k, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	return &secp256k1PublicKey{key: k}, nil
}

func (k *secp256k1PublicKey) Scheme() Scheme { return secp256k1Scheme{} }

func (k *secp256k1PublicKey) Encode() string {
	return hex.EncodeToString(k.key.SerializeUncompressed())
}

func (k *secp256k1PublicKey) MarshalPEM() ([]byte, error) {
	return pem.EncodeToMemory(&pem.Block{
		Type:  secp256k1PublicPEMType,
		Bytes: k.key.SerializeUncompressed(),
	}), nil
}

func (k *secp256k1PublicKey) Equal(other PublicKey) bool { return equalEncoded(k, other) }

type secp256k1PrivateKey struct {
	key *secp256k1.PrivateKey
}

func parseSecp256k1PrivateKey(raw []byte) (*secp256k1PrivateKey, error) {
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: secp256k1 private key must be 32 bytes, got %d", ErrMalformedKey, len(raw))
	}
	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(raw); overflow || scalar.IsZero() {
		return nil, fmt.Errorf("%w: secp256k1 private key out of range", ErrMalformedKey)
	}
	return &secp256k1PrivateKey{key: secp256k1.NewPrivateKey(&scalar)}, nil
}

func (k *secp256k1PrivateKey) Scheme() Scheme { return secp256k1Scheme{} }

func (k *secp256k1PrivateKey) Public() PublicKey {
	return &secp256k1PublicKey{key: k.key.PubKey()}
}

func (k *secp256k1PrivateKey) Sign(digest []byte) (string, error) {
	sig := secpecdsa.Sign(k.key, truncateDigest(digest))
	return hex.EncodeToString(sig.Serialize()), nil
}

func (k *secp256k1PrivateKey) MarshalPEM() ([]byte, error) {
	return pem.EncodeToMemory(&pem.Block{
		Type:  secp256k1PrivatePEMType,
		Bytes: k.key.Serialize(),
	}), nil
}
