package inmem

import (
	"bytes"
	"fmt"
	"math"

	"github.com/dekarrin/jelstor/row"
	"github.com/dekarrin/rezi/v2"
)

// record is the persisted form of a single row.
type record row.Row

func (rec record) MarshalBinary() ([]byte, error) {
	r := row.Row(rec)
	var enc []byte

	enc = append(enc, rezi.MustEnc(r.Len())...)
	for _, c := range r.Columns() {
		v, _ := r.Get(c)
		enc = append(enc, rezi.MustEnc(c)...)
		enc = append(enc, rezi.MustEnc(int(v.Kind()))...)

		switch v.Kind() {
		case row.Integer:
			i, _ := v.Int64()
			enc = append(enc, rezi.MustEnc(i)...)
		case row.Real:
			f, _ := v.Float64()
			enc = append(enc, rezi.MustEnc(math.Float64bits(f))...)
		case row.Text:
			s, _ := v.Text()
			enc = append(enc, rezi.MustEnc(s)...)
		case row.Blob:
			b, _ := v.Blob()
			enc = append(enc, rezi.MustEnc(b)...)
		}
	}

	return enc, nil
}

func (rec *record) UnmarshalBinary(data []byte) error {
	rr, err := rezi.NewReader(bytes.NewBuffer(data), nil)
	if err != nil {
		return err
	}

	var count int
	if err := rr.Dec(&count); err != nil {
		return rezi.Wrapf(0, "column count: %s", err)
	}

	var decoded row.Row
	for i := 0; i < count; i++ {
		var col string
		var kind int

		if err := rr.Dec(&col); err != nil {
			return rezi.Wrapf(0, "column %[2]d: name: %[1]s", err, i)
		}
		if err := rr.Dec(&kind); err != nil {
			return rezi.Wrapf(0, "column %[2]q: kind: %[1]s", err, col)
		}

		var v row.Value
		switch row.Kind(kind) {
		case row.Null:
			v = row.NullValue()
		case row.Integer:
			var n int64
			if err := rr.Dec(&n); err != nil {
				return rezi.Wrapf(0, "column %[2]q: value: %[1]s", err, col)
			}
			v = row.Int(n)
		case row.Real:
			var bits uint64
			if err := rr.Dec(&bits); err != nil {
				return rezi.Wrapf(0, "column %[2]q: value: %[1]s", err, col)
			}
			v = row.Float(math.Float64frombits(bits))
		case row.Text:
			var s string
			if err := rr.Dec(&s); err != nil {
				return rezi.Wrapf(0, "column %[2]q: value: %[1]s", err, col)
			}
			v = row.String(s)
		case row.Blob:
			var b []byte
			if err := rr.Dec(&b); err != nil {
				return rezi.Wrapf(0, "column %[2]q: value: %[1]s", err, col)
			}
			if b == nil {
				b = []byte{}
			}
			v = row.Bytes(b)
		default:
			return fmt.Errorf("column %q: unknown kind %d", col, kind)
		}
		decoded.Set(col, v)
	}

	*rec = record(decoded)
	return nil
}

func (t table) MarshalBinary() ([]byte, error) {
	recs := make([]record, len(t.rows))
	for i := range t.rows {
		recs[i] = record(t.rows[i])
	}

	var enc []byte
	enc = append(enc, rezi.MustEnc(t.nextID)...)
	enc = append(enc, rezi.MustEnc(recs)...)
	return enc, nil
}

func (t *table) UnmarshalBinary(data []byte) error {
	rr, err := rezi.NewReader(bytes.NewBuffer(data), nil)
	if err != nil {
		return err
	}

	var decoded table
	var recs []record

	if err := rr.Dec(&decoded.nextID); err != nil {
		return rezi.Wrapf(0, "next id: %s", err)
	}
	if err := rr.Dec(&recs); err != nil {
		return rezi.Wrapf(0, "rows: %s", err)
	}

	decoded.rows = make([]row.Row, len(recs))
	for i := range recs {
		decoded.rows[i] = row.Row(recs[i])
	}

	*t = decoded
	return nil
}

// MarshalBinary converts the committed contents of the store to bytes that can
// be loaded back with UnmarshalBinary.
//
// This function is not concurrent safe; use Persist to save a Store that is in
// use.
func (s *Store) MarshalBinary() ([]byte, error) {
	return s.marshalUnsafe()
}

func (s *Store) marshalUnsafe() ([]byte, error) {
	names := make([]string, 0, len(s.data))
	for name := range s.data {
		names = append(names, name)
	}

	var enc []byte
	enc = append(enc, rezi.MustEnc(names)...)
	for _, name := range names {
		enc = append(enc, rezi.MustEnc(*s.data[name])...)
	}
	return enc, nil
}

// UnmarshalBinary replaces the contents of the store with the data encoded by
// MarshalBinary.
//
// This function is not concurrent safe; use Open to create a Store from a
// file.
func (s *Store) UnmarshalBinary(data []byte) error {
	rr, err := rezi.NewReader(bytes.NewBuffer(data), nil)
	if err != nil {
		return err
	}

	var names []string
	if err := rr.Dec(&names); err != nil {
		return rezi.Wrapf(0, "table names: %s", err)
	}

	decoded := make(tables, len(names))
	for _, name := range names {
		t := &table{}
		if err := rr.Dec(t); err != nil {
			return rezi.Wrapf(0, "table %[2]q: %[1]s", err, name)
		}
		decoded[name] = t
	}

	s.data = decoded
	return nil
}
