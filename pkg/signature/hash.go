package signature

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"unicode/utf8"
)

// HashHexLen is the length of a hex encoded SHA-384 digest.
const HashHexLen = sha512.Size384 * 2

// Hash returns the lowercase hex SHA-384 of the UTF-8 bytes of input.
func Hash(input string) (string, error) {
	if input == "" {
		return "", fmt.Errorf("%w: hash input is empty", ErrInvalidInput)
	}
	if !utf8.ValidString(input) {
		return "", fmt.Errorf("%w: hash input is not valid UTF-8", ErrInvalidInput)
	}
	sum := sha512.Sum384([]byte(input))
	return hex.EncodeToString(sum[:]), nil
}

// messageDigest returns the digest a scheme signs for a given message hash.
func messageDigest(messageHash string) []byte {
	sum := sha512.Sum384([]byte(messageHash))
	return sum[:]
}
