package proto

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPublicKeyInfoRoundTrip(t *testing.T) {
	p := PublicKeyInfo{
		PublicKey:   "04abcdef",
		Algorithm:   "ECDSA",
		Timestamp:   "2024-12-01T10:00:00.000Z",
		Curve:       "secp256k1",
		Fingerprint: "00ff",
	}
	b, err := MarshalPublicKeyInfo(p)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalPublicKeyInfo(b)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(p, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}

	rsa := PublicKeyInfo{PublicKey: "-----BEGIN PUBLIC KEY-----", Algorithm: "RSA-SHA384", KeySize: 4096}
	b, _ = MarshalPublicKeyInfo(rsa)
	if got, _ := UnmarshalPublicKeyInfo(b); got.KeySize != 4096 || got.Curve != "" {
		t.Fatalf("rsa info: %+v", got)
	}
}

func TestKeyRecordRoundTrip(t *testing.T) {
	k := KeyRecord{
		Fingerprint:       "deadbeef",
		PublicKey:         "04aa",
		Algorithm:         "ECDSA",
		Curve:             "P-384",
		KeySize:           -1,
		CreatedAtUnixNano: 1733047200000000000,
		RetiredAtUnixNano: 1733050800000000000,
	}
	b, err := MarshalKeyRecord(k)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalKeyRecord(b)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(k, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestKeyRecordTruncated(t *testing.T) {
	b, _ := MarshalKeyRecord(KeyRecord{Fingerprint: "abc", CreatedAtUnixNano: 99})
	if _, err := UnmarshalKeyRecord(b[:len(b)-1]); !errors.Is(err, ErrMalformed) {
		t.Fatalf("got %v, want ErrMalformed", err)
	}
	if _, err := UnmarshalPublicKeyInfo([]byte{0x0a, 0x05, 'a'}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("got %v, want ErrMalformed", err)
	}
}
