package signature

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Bundle is the self-describing envelope stored with a signed record. It
// carries everything needed to verify the signature without contacting the
// signer.
type Bundle struct {
	Signature     string `json:"signature"`
	PublicKey     string `json:"publicKey"`
	Algorithm     string `json:"algorithm"`
	Curve         string `json:"curve,omitempty"`
	KeySize       int    `json:"keySize,omitempty"`
	HashAlgorithm string `json:"hashAlgorithm"`
}

// Encode serializes b to JSON and returns the Base64 of the JSON text. This
// string is what records store and exports carry.
func Encode(b Bundle) (string, error) {
	if err := b.validate(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("encoding signature bundle: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decode reverses Encode. Unknown JSON fields are ignored so bundles written
// by other producers still decode.
func Decode(encoded string) (Bundle, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return Bundle{}, fmt.Errorf("%w: empty signature", ErrMalformedSignature)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Bundle{}, fmt.Errorf("%w: base64: %v", ErrMalformedSignature, err)
	}
	var b Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return Bundle{}, fmt.Errorf("%w: json: %v", ErrMalformedSignature, err)
	}
	if err := b.validate(); err != nil {
		return Bundle{}, err
	}
	return b, nil
}

func (b Bundle) validate() error {
	var missing []string
	if b.Signature == "" {
		missing = append(missing, "signature")
	}
	if b.PublicKey == "" {
		missing = append(missing, "publicKey")
	}
	if b.Algorithm == "" {
		missing = append(missing, "algorithm")
	}
	if b.HashAlgorithm == "" {
		missing = append(missing, "hashAlgorithm")
	}
	if b.Curve == "" && b.KeySize == 0 {
		missing = append(missing, "curve|keySize")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMalformedSignature, strings.Join(missing, ", "))
	}
	return nil
}
