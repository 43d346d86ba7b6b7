package signature

import (
	"fmt"
	"time"
)

// Sign signs messageHash (the hex hash, not the original message) with key
// and returns a bundle carrying key's public half and the scheme metadata.
func Sign(messageHash string, key PrivateKey) (Bundle, error) {
	if messageHash == "" {
		return Bundle{}, fmt.Errorf("%w: message hash is empty", ErrInvalidInput)
	}
	if key == nil {
		return Bundle{}, fmt.Errorf("%w: signing key is nil", ErrInvalidInput)
	}
	sig, err := key.Sign(messageDigest(messageHash))
	if err != nil {
		return Bundle{}, err
	}
	s := key.Scheme()
	return Bundle{
		Signature:     sig,
		PublicKey:     key.Public().Encode(),
		Algorithm:     s.Algorithm(),
		Curve:         s.Curve(),
		KeySize:       s.KeySize(),
		HashAlgorithm: HashSHA384,
	}, nil
}

// KeySource supplies the current signing key. KeyStore implements it.
type KeySource interface {
	PrivateKey() (PrivateKey, error)
}

// SignedEmail is the result of HashSigner.SignEmail.
type SignedEmail struct {
	Email     string
	EmailHash string
	Signature Bundle
	Timestamp time.Time
}

// HashSigner hashes emails and signs the hash with the current key.
type HashSigner struct {
	keys KeySource
	now  func() time.Time
}

// NewHashSigner returns a HashSigner that signs with keys' current key.
func NewHashSigner(keys KeySource) *HashSigner {
	return &HashSigner{keys: keys, now: time.Now}
}

// SignEmail computes emailHash = Hash(email) and signs emailHash.
func (s *HashSigner) SignEmail(email string) (SignedEmail, error) {
	emailHash, err := Hash(email)
	if err != nil {
		return SignedEmail{}, err
	}
	key, err := s.keys.PrivateKey()
	if err != nil {
		return SignedEmail{}, err
	}
	bundle, err := Sign(emailHash, key)
	if err != nil {
		return SignedEmail{}, err
	}
	return SignedEmail{
		Email:     email,
		EmailHash: emailHash,
		Signature: bundle,
		Timestamp: s.now().UTC(),
	}, nil
}
