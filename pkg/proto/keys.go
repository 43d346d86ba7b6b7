package proto

import "google.golang.org/protobuf/encoding/protowire"

// PublicKeyInfo is served to clients that want the current server key.
type PublicKeyInfo struct {
	PublicKey   string
	Algorithm   string
	KeySize     int32
	Timestamp   string
	Curve       string
	Fingerprint string
}

func MarshalPublicKeyInfo(p PublicKeyInfo) ([]byte, error) {
	e := encoder{}
	e.string(1, p.PublicKey)
	e.string(2, p.Algorithm)
	e.varint(3, int64(p.KeySize))
	e.string(4, p.Timestamp)
	e.string(5, p.Curve)
	e.string(6, p.Fingerprint)
	return e.result()
}

func UnmarshalPublicKeyInfo(b []byte) (PublicKeyInfo, error) {
	var p PublicKeyInfo
	err := decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(num, typ, b, &p.PublicKey)
		case 2:
			return consumeString(num, typ, b, &p.Algorithm)
		case 3:
			return consumeInt32(num, typ, b, &p.KeySize)
		case 4:
			return consumeString(num, typ, b, &p.Timestamp)
		case 5:
			return consumeString(num, typ, b, &p.Curve)
		case 6:
			return consumeString(num, typ, b, &p.Fingerprint)
		default:
			return skip, nil
		}
	})
	if err != nil {
		return PublicKeyInfo{}, err
	}
	return p, nil
}

// KeyRecord is the persisted form of one key history entry. A zero
// RetiredAtUnixNano means the key is current.
type KeyRecord struct {
	Fingerprint       string
	PublicKey         string
	Algorithm         string
	Curve             string
	KeySize           int32
	CreatedAtUnixNano int64
	RetiredAtUnixNano int64
}

func MarshalKeyRecord(k KeyRecord) ([]byte, error) {
	e := encoder{}
	e.string(1, k.Fingerprint)
	e.string(2, k.PublicKey)
	e.string(3, k.Algorithm)
	e.string(4, k.Curve)
	e.varint(5, int64(k.KeySize))
	e.varint(6, k.CreatedAtUnixNano)
	e.varint(7, k.RetiredAtUnixNano)
	return e.result()
}

func UnmarshalKeyRecord(b []byte) (KeyRecord, error) {
	var k KeyRecord
	err := decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(num, typ, b, &k.Fingerprint)
		case 2:
			return consumeString(num, typ, b, &k.PublicKey)
		case 3:
			return consumeString(num, typ, b, &k.Algorithm)
		case 4:
			return consumeString(num, typ, b, &k.Curve)
		case 5:
			return consumeInt32(num, typ, b, &k.KeySize)
		case 6:
			return consumeInt64(num, typ, b, &k.CreatedAtUnixNano)
		case 7:
			return consumeInt64(num, typ, b, &k.RetiredAtUnixNano)
		default:
			return skip, nil
		}
	})
	if err != nil {
		return KeyRecord{}, err
	}
	return k, nil
}
