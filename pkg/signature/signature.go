// Package signature implements the record signing contract shared by the
// server (which signs) and any verifier (which only needs the bundle).
//
// Wire contract: a record's email is hashed to a lowercase hex SHA-384
// string, and the signature covers that hex string. Each scheme digests the
// hex string with SHA-384 before signing, so the bytes actually signed are
// SHA-384(utf8(hex(SHA-384(utf8(email))))). Producers and verifiers must
// both follow this; a signature over the raw email never verifies.
package signature

import "errors"

// Fixed bundle metadata values.
const (
	AlgorithmECDSA     = "ECDSA"
	AlgorithmRSASHA384 = "RSA-SHA384"

	CurveSecp256k1 = "secp256k1"
	CurveP384      = "P-384"

	HashSHA384 = "SHA-384"
)

var (
	// ErrInvalidInput is returned for empty or non UTF-8 input to Hash and
	// Sign, and for a nil signing key.
	ErrInvalidInput = errors.New("invalid input")
	// ErrMalformedSignature is returned when a bundle or one of its parts
	// cannot be decoded.
	ErrMalformedSignature = errors.New("malformed signature")
	// ErrUnsupportedScheme is returned when a bundle or key names an
	// algorithm/curve combination no registered scheme handles.
	ErrUnsupportedScheme = errors.New("unsupported signature scheme")
)
