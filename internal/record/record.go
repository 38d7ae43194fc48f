// Package record decodes repository records into a closed set of known
// lexicon shapes, with a catch-all for everything else.
package record

import (
	"bytes"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/goccy/go-json"
	"github.com/ipfs/go-cid"

	"github.com/blackmichael/skystream/internal/car"
)

const typeKey = "$type"

// Record is one decoded repository record. The concrete type is one of the
// structs in this package or *Unknown.
type Record interface {
	NSID() string
}

// Unknown holds a record whose $type is not one of the known shapes, or whose
// body did not fit the shape its $type named. Data excludes the $type key.
type Unknown struct {
	Type string
	Data map[string]any
}

func (u *Unknown) NSID() string { return u.Type }

// MarshalJSON flattens the record back into its wire form.
func (u *Unknown) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.withType())
}

func (u *Unknown) withType() map[string]any {
	m := make(map[string]any, len(u.Data)+1)
	for k, v := range u.Data {
		m[k] = v
	}
	if u.Type != "" {
		m[typeKey] = u.Type
	}
	return m
}

var (
	decMode cbor.DecMode
	encMode cbor.EncMode
)

func init() {
	var err error
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("record: cbor decode options: %v", err))
	}
	encMode, err = cbor.EncOptions{Sort: cbor.SortLengthFirst}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("record: cbor encode options: %v", err))
	}
}

// DecodeCBOR decodes a DAG-CBOR record. Any CBOR map decodes successfully:
// records of unknown or mismatched shape come back as *Unknown. Only payloads
// that are not a CBOR map return an error.
//
// Known shapes decode into their structs, which drop fields the struct does
// not name. Only *Unknown keeps every field of the wire form.
func DecodeCBOR(raw []byte) (Record, error) {
	var fields map[string]any
	if err := decMode.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("decode record: null body")
	}

	typ, _ := fields[typeKey].(string)
	if newRecord, ok := constructors[typ]; ok {
		rec := newRecord()
		if err := decMode.Unmarshal(raw, rec); err == nil {
			return rec, nil
		}
	}

	delete(fields, typeKey)
	return &Unknown{Type: typ, Data: fields}, nil
}

// DecodeJSON is DecodeCBOR for the JSON record encoding Jetstream uses. Known
// shapes drop unnamed fields the same way. Numbers in *Unknown data decode to
// the types DecodeCBOR produces, so integers keep every digit.
func DecodeJSON(raw []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("decode record: null body")
	}

	typ, _ := fields[typeKey].(string)
	if newRecord, ok := constructors[typ]; ok {
		rec := newRecord()
		if err := json.Unmarshal(raw, rec); err == nil {
			return rec, nil
		}
	}

	delete(fields, typeKey)
	for k, v := range fields {
		fields[k] = fromJSONNumbers(v)
	}
	return &Unknown{Type: typ, Data: fields}, nil
}

func fromJSONNumbers(v any) any {
	switch v := v.(type) {
	case map[string]any:
		for k, e := range v {
			v[k] = fromJSONNumbers(e)
		}
		return v
	case []any:
		for i, e := range v {
			v[i] = fromJSONNumbers(e)
		}
		return v
	case json.Number:
		return fromNumber(v)
	}
	return v
}

// fromNumber matches the CBOR decoder: non-negative integers become uint64,
// negative ones int64 and the rest float64. Integers wider than 64 bits keep
// their literal.
func fromNumber(n json.Number) any {
	s := n.String()
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return u
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if !strings.ContainsAny(s, ".eE") {
		return n
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n
}

// EncodeCBOR encodes rec as a DAG-CBOR map with its $type set.
func EncodeCBOR(rec Record) ([]byte, error) {
	if u, ok := rec.(*Unknown); ok {
		return encMode.Marshal(u.withType())
	}

	body, err := encMode.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", rec.NSID(), err)
	}
	var fields map[string]cbor.RawMessage
	if err := decMode.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", rec.NSID(), err)
	}
	typ, err := encMode.Marshal(rec.NSID())
	if err != nil {
		return nil, err
	}
	fields[typeKey] = typ
	return encMode.Marshal(fields)
}

// EncodeJSON encodes rec as a JSON object with its $type set.
func EncodeJSON(rec Record) ([]byte, error) {
	if u, ok := rec.(*Unknown); ok {
		return json.Marshal(u.withType())
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", rec.NSID(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", rec.NSID(), err)
	}
	typ, err := json.Marshal(rec.NSID())
	if err != nil {
		return nil, err
	}
	fields[typeKey] = typ
	return json.Marshal(fields)
}

// Extracted is a record recovered from a container block.
type Extracted struct {
	CID    cid.Cid
	Record Record
}

// Extract decodes every block that holds a CBOR map. Blocks that do not
// decode are skipped.
func Extract(blocks []car.Block) []Extracted {
	out := make([]Extracted, 0, len(blocks))
	for _, b := range blocks {
		rec, err := DecodeCBOR(b.Data)
		if err != nil {
			continue
		}
		out = append(out, Extracted{CID: b.CID, Record: rec})
	}
	return out
}

// ExtractContainer reads a CAR payload and extracts its records. An unreadable
// container yields an empty slice.
func ExtractContainer(data []byte) []Extracted {
	c, err := car.Read(data)
	if err != nil {
		return nil
	}
	return Extract(c.Blocks)
}
