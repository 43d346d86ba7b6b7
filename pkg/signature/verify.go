package signature

import (
	"errors"
	"fmt"
)

// ReasonMismatch is the Result reason for a well-formed signature that does
// not match.
const ReasonMismatch = "signature does not match email"

// KeyCache memoizes parsed public keys by scheme name and encoded key.
// Implementations must be safe for concurrent use.
type KeyCache interface {
	Get(cacheKey string) (PublicKey, bool)
	Put(cacheKey string, pub PublicKey)
}

// Result is the outcome of Check.
type Result struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Verifier re-derives the email hash and checks a bundle against it using
// only the public key inside the bundle. The zero value is ready to use.
type Verifier struct {
	cache KeyCache
}

// NewVerifier returns a Verifier that caches parsed keys in cache. A nil
// cache disables caching.
func NewVerifier(cache KeyCache) *Verifier {
	return &Verifier{cache: cache}
}

// Verify reports whether b is a valid signature over Hash(email). A
// signature that simply does not match is (false, nil). Structurally broken
// input (empty email, unknown scheme, unparseable key or signature) is
// (false, err); callers must treat it as unverified.
func (v *Verifier) Verify(email string, b Bundle) (bool, error) {
	emailHash, err := Hash(email)
	if err != nil {
		return false, err
	}
	scheme, err := SchemeFor(b)
	if err != nil {
		return false, err
	}
	pub, err := v.publicKey(scheme, b.PublicKey)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return scheme.Verify(pub, messageDigest(emailHash), b.Signature)
}

// Check is Verify folded into a Result.
func (v *Verifier) Check(email string, b Bundle) Result {
	ok, err := v.Verify(email, b)
	switch {
	case err != nil:
		return Result{Reason: err.Error()}
	case !ok:
		return Result{Reason: ReasonMismatch}
	default:
		return Result{Valid: true}
	}
}

// CheckEncoded decodes an encoded bundle and checks it.
func (v *Verifier) CheckEncoded(email, encoded string) Result {
	b, err := Decode(encoded)
	if err != nil {
		return Result{Reason: err.Error()}
	}
	return v.Check(email, b)
}

func (v *Verifier) publicKey(s Scheme, encoded string) (PublicKey, error) {
	if v == nil || v.cache == nil {
		return s.ParsePublicKey(encoded)
	}
	cacheKey := s.Name() + "|" + encoded
	if pub, ok := v.cache.Get(cacheKey); ok {
		return pub, nil
	}
	pub, err := s.ParsePublicKey(encoded)
	if err != nil {
		return nil, err
	}
	v.cache.Put(cacheKey, pub)
	return pub, nil
}

// Verify verifies with a cache-less Verifier.
func Verify(email string, b Bundle) (bool, error) {
	return (*Verifier)(nil).Verify(email, b)
}

// IsStructural reports whether err is a structural verification failure as
// opposed to an unexpected one.
func IsStructural(err error) bool {
	return errors.Is(err, ErrMalformedSignature) ||
		errors.Is(err, ErrMalformedKey) ||
		errors.Is(err, ErrUnsupportedScheme) ||
		errors.Is(err, ErrInvalidInput)
}
