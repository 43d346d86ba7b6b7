package proto

import (
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Record is the wire form of a signed user row (message User).
type Record struct {
	ID        int64
	Email     string
	Role      string
	Status    string
	EmailHash string
	Signature string
	CreatedAt string
	UpdatedAt string
}

// RecordList is the export payload (message UserList).
type RecordList struct {
	Records    []Record
	TotalCount int32
	ExportedAt string
}

// NewRecordList wraps records for export, stamping the count and time.
func NewRecordList(records []Record, exportedAt time.Time) RecordList {
	if records == nil {
		records = []Record{}
	}
	return RecordList{
		Records:    records,
		TotalCount: int32(len(records)),
		ExportedAt: FormatTime(exportedAt),
	}
}

func (r *Record) encode(e *encoder) {
	e.varint(1, r.ID)
	e.string(2, r.Email)
	e.string(3, r.Role)
	e.string(4, r.Status)
	e.string(5, r.EmailHash)
	e.string(6, r.Signature)
	e.string(7, r.CreatedAt)
	e.string(8, r.UpdatedAt)
}

func (r *Record) decode(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeInt64(num, typ, b, &r.ID)
		case 2:
			return consumeString(num, typ, b, &r.Email)
		case 3:
			return consumeString(num, typ, b, &r.Role)
		case 4:
			return consumeString(num, typ, b, &r.Status)
		case 5:
			return consumeString(num, typ, b, &r.EmailHash)
		case 6:
			return consumeString(num, typ, b, &r.Signature)
		case 7:
			return consumeString(num, typ, b, &r.CreatedAt)
		case 8:
			return consumeString(num, typ, b, &r.UpdatedAt)
		default:
			return skip, nil
		}
	})
}

// EncodeOne encodes a single record.
func EncodeOne(r Record) ([]byte, error) {
	e := encoder{}
	r.encode(&e)
	return e.result()
}

// DecodeOne decodes a single record. Absent fields are zero.
func DecodeOne(b []byte) (Record, error) {
	var r Record
	if err := r.decode(b); err != nil {
		return Record{}, err
	}
	return r, nil
}

// EncodeList encodes l. Records keep their order.
func EncodeList(l RecordList) ([]byte, error) {
	e := encoder{}
	for i := range l.Records {
		e.message(1, l.Records[i].encode)
	}
	e.varint(2, int64(l.TotalCount))
	e.string(3, l.ExportedAt)
	return e.result()
}

// DecodeList decodes an export payload. The returned Records slice is never
// nil.
func DecodeList(b []byte) (RecordList, error) {
	l := RecordList{Records: []Record{}}
	err := decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			var r Record
			if err := r.decode(v); err != nil {
				return 0, err
			}
			l.Records = append(l.Records, r)
			return n, nil
		case 2:
			return consumeInt32(num, typ, b, &l.TotalCount)
		case 3:
			return consumeString(num, typ, b, &l.ExportedAt)
		default:
			return skip, nil
		}
	})
	if err != nil {
		return RecordList{}, err
	}
	return l, nil
}
