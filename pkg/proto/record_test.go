package proto

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/protobuf/encoding/protowire"
)

func sampleRecord(id int64) Record {
	return Record{
		ID:        id,
		Email:     fmt.Sprintf("user%d@example.com", id),
		Role:      "user",
		Status:    "active",
		EmailHash: "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
		Signature: "eyJzaWduYXR1cmUiOiJhYiJ9",
		CreatedAt: "2024-12-01T10:00:00.000Z",
		UpdatedAt: "2024-12-01T10:00:00.000Z",
	}
}

func TestRecordKnownEncoding(t *testing.T) {
	got, err := EncodeOne(Record{ID: 1, Email: "a"})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x08, 0x01, 0x12, 0x01, 'a'}
	if !bytes.Equal(got, want) {
		t.Fatalf("EncodeOne: got %x, want %x", got, want)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	r := sampleRecord(42)
	b, err := EncodeOne(r)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeOne(b)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(r, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordAbsentFieldsDecodeToZero(t *testing.T) {
	got, err := DecodeOne(nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != (Record{}) {
		t.Fatalf("empty payload: got %+v", got)
	}
}

func TestListRoundTripPreservesOrder(t *testing.T) {
	for _, n := range []int{0, 1, 3, 1000} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			records := make([]Record, n)
			for i := range records {
				records[i] = sampleRecord(int64(n - i))
			}
			l := NewRecordList(records, time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC))
			if l.TotalCount != int32(n) {
				t.Fatalf("TotalCount: got %d, want %d", l.TotalCount, n)
			}
			b, err := EncodeList(l)
			if err != nil {
				t.Fatal(err)
			}
			got, err := DecodeList(b)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(l, got); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeListEmptyPayload(t *testing.T) {
	l, err := DecodeList([]byte{})
	if err != nil {
		t.Fatal(err)
	}
	if l.Records == nil || len(l.Records) != 0 || l.TotalCount != 0 {
		t.Fatalf("empty list: got %+v", l)
	}
	b, err := EncodeList(RecordList{})
	if err != nil || len(b) != 0 {
		t.Fatalf("EncodeList of empty list: %x %v", b, err)
	}
}

func TestNewRecordListStampsExportTime(t *testing.T) {
	at := time.Date(2024, 12, 1, 11, 30, 5, 123456789, time.FixedZone("CET", 3600))
	l := NewRecordList(nil, at)
	if l.ExportedAt != "2024-12-01T10:30:05.123Z" {
		t.Fatalf("ExportedAt: got %s", l.ExportedAt)
	}
	if l.Records == nil {
		t.Fatal("Records should not be nil")
	}
}

func TestUnknownFieldsAreSkipped(t *testing.T) {
	r := sampleRecord(7)
	b, _ := EncodeOne(r)
	b = protowire.AppendTag(b, 99, protowire.VarintType)
	b = protowire.AppendVarint(b, 12345)
	b = protowire.AppendTag(b, 100, protowire.BytesType)
	b = protowire.AppendString(b, "future field")
	b = protowire.AppendTag(b, 101, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 1)

	got, err := DecodeOne(b)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(r, got); diff != "" {
		t.Fatalf("unknown fields changed the record (-want +got):\n%s", diff)
	}

	l, _ := EncodeList(NewRecordList([]Record{r}, time.Unix(0, 0)))
	l = protowire.AppendTag(l, 50, protowire.BytesType)
	l = protowire.AppendBytes(l, []byte{1, 2, 3})
	list, err := DecodeList(l)
	if err != nil || len(list.Records) != 1 {
		t.Fatalf("DecodeList with unknown field: %+v %v", list, err)
	}
}

func TestDecodeErrors(t *testing.T) {
	full, _ := EncodeList(NewRecordList([]Record{sampleRecord(1), sampleRecord(2)}, time.Unix(0, 0)))

	wrongType := protowire.AppendTag(nil, 2, protowire.VarintType)
	wrongType = protowire.AppendVarint(wrongType, 1)

	badUTF8 := protowire.AppendTag(nil, 2, protowire.BytesType)
	badUTF8 = protowire.AppendBytes(badUTF8, []byte{0xff, 0xfe})

	nestedBad := protowire.AppendTag(nil, 1, protowire.BytesType)
	nestedBad = protowire.AppendBytes(nestedBad, badUTF8)

	cases := map[string]struct {
		payload []byte
		decode  func([]byte) error
	}{
		"truncated list":   {full[:len(full)-1], decodeListErr},
		"truncated tag":    {[]byte{0x80}, decodeOneErr},
		"wrong wire type":  {wrongType, decodeOneErr},
		"invalid utf8":     {badUTF8, decodeOneErr},
		"nested bad utf8":  {nestedBad, decodeListErr},
		"list wrong type":  {protowire.AppendVarint(protowire.AppendTag(nil, 1, protowire.VarintType), 3), decodeListErr},
		"field number 0":   {[]byte{0x00, 0x01}, decodeOneErr},
		"truncated record": {full[:5], decodeListErr},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if err := tc.decode(tc.payload); !errors.Is(err, ErrMalformed) {
				t.Fatalf("got %v, want ErrMalformed", err)
			}
		})
	}
}

func decodeOneErr(b []byte) error  { _, err := DecodeOne(b); return err }
func decodeListErr(b []byte) error { _, err := DecodeList(b); return err }

func TestEncodeRejectsInvalidUTF8(t *testing.T) {
	if _, err := EncodeOne(Record{Email: "\xff"}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("EncodeOne: %v", err)
	}
	l := RecordList{Records: []Record{sampleRecord(1), {Role: "\xfe"}}}
	if _, err := EncodeList(l); !errors.Is(err, ErrMalformed) {
		t.Fatalf("EncodeList: %v", err)
	}
}

func TestSignatureCarriedVerbatim(t *testing.T) {
	// Whitespace and padding must survive untouched.
	sig := " eyJhIjoiYiJ9==\n"
	b, _ := EncodeOne(Record{ID: 1, Signature: sig})
	got, err := DecodeOne(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.Signature != sig {
		t.Fatalf("signature changed: %q", got.Signature)
	}
}
