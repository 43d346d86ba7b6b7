// Package proto holds the binary wire types described in user.proto and
// their codecs. Messages are encoded field by field with protowire, so the
// output is byte compatible with any proto3 implementation of user.proto.
package proto

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed is returned for payloads that are not valid encodings of the
// expected message.
var ErrMalformed = errors.New("malformed protobuf payload")

// TimeLayout is the timestamp format carried in string time fields
// (ISO-8601 UTC with milliseconds).
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders t in TimeLayout, in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

type encoder struct {
	buf []byte
	err error
}

// proto3 omits zero values.
func (e *encoder) string(num protowire.Number, v string) {
	if v == "" || e.err != nil {
		return
	}
	if !utf8.ValidString(v) {
		e.err = fmt.Errorf("%w: field %d is not valid UTF-8", ErrMalformed, num)
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendString(e.buf, v)
}

func (e *encoder) varint(num protowire.Number, v int64) {
	if v == 0 || e.err != nil {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, uint64(v))
}

func (e *encoder) message(num protowire.Number, encode func(*encoder)) {
	if e.err != nil {
		return
	}
	sub := encoder{}
	encode(&sub)
	if sub.err != nil {
		e.err = sub.err
		return
	}
	// Empty nested messages are still emitted so repeated fields keep their
	// element count.
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, sub.buf)
}

func (e *encoder) result() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	if e.buf == nil {
		return []byte{}, nil
	}
	return e.buf, nil
}

// fieldFunc decodes one field value starting at b. It returns the number of
// bytes consumed, or skip for fields it does not know.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

const skip = -1

func decodeFields(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return parseError(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m == skip {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return parseError(m)
			}
		}
		b = b[m:]
	}
	return nil
}

func parseError(n int) error {
	return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
}

func wireTypeError(num protowire.Number, got, want protowire.Type) error {
	return fmt.Errorf("%w: field %d has wire type %d, want %d", ErrMalformed, num, got, want)
}

func consumeString(num protowire.Number, typ protowire.Type, b []byte, dst *string) (int, error) {
	if typ != protowire.BytesType {
		return 0, wireTypeError(num, typ, protowire.BytesType)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, parseError(n)
	}
	if !utf8.Valid(v) {
		return 0, fmt.Errorf("%w: field %d is not valid UTF-8", ErrMalformed, num)
	}
	*dst = string(v)
	return n, nil
}

func consumeBytes(num protowire.Number, typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, wireTypeError(num, typ, protowire.BytesType)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, parseError(n)
	}
	return v, n, nil
}

func consumeInt64(num protowire.Number, typ protowire.Type, b []byte, dst *int64) (int, error) {
	if typ != protowire.VarintType {
		return 0, wireTypeError(num, typ, protowire.VarintType)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, parseError(n)
	}
	*dst = int64(v)
	return n, nil
}

// int32 values are sign-extended on the wire; truncation restores them.
func consumeInt32(num protowire.Number, typ protowire.Type, b []byte, dst *int32) (int, error) {
	var v int64
	n, err := consumeInt64(num, typ, b, &v)
	if err != nil {
		return 0, err
	}
	*dst = int32(v)
	return n, nil
}
