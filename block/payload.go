package block

import (
	"bytes"
	"encoding"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Wire tags for payload values whose plain JSON form loses their Go type. A
// tag is a single-key object; a payload map that looks like one is wrapped in
// TagMap. Tags only change the wire form: digests are computed over the plain
// JSON form, so a tagged block hashes the same as its source.
const (
	TagBytes = "$bytes"
	TagFloat = "$float"
	TagMap   = "$map"
)

var (
	marshalerType     = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// wireBlock is the JSON shape of a Block.
type wireBlock struct {
	Author      string            `json:"author"`
	Payload     any               `json:"payload"`
	PayloadHash string            `json:"payload_hash"`
	Metadata    map[string]string `json:"metadata"`
	Date        string            `json:"date"`
	Hash        string            `json:"hash"`
}

// MarshalJSON encodes the block with its payload in tagged wire form.
func (b Block) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireBlock{
		Author:      b.Author,
		Payload:     tagValue(reflect.ValueOf(b.Payload)),
		PayloadHash: b.PayloadHash,
		Metadata:    b.Metadata,
		Date:        b.Date,
		Hash:        b.Hash,
	})
}

// UnmarshalJSON decodes a block and restores tagged payload values. Untagged
// numbers stay json.Number so re-encoding is byte stable.
func (b *Block) UnmarshalJSON(data []byte) error {
	var w wireBlock
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return err
	}

	payload, err := untagValue(w.Payload)
	if err != nil {
		return err
	}

	*b = Block{
		Author:      w.Author,
		Payload:     payload,
		PayloadHash: w.PayloadHash,
		Metadata:    w.Metadata,
		Date:        w.Date,
		Hash:        w.Hash,
	}
	return nil
}

// Native converts a decoded payload to the values a local write would hold:
// integer literals become int (float64 when out of range) and other numbers
// float64. Containers are converted recursively. Sized integer and float32
// values come back as int or float64.
func Native(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(string(x), 10, 0); err == nil {
			return int(i)
		}
		f, err := x.Float64()
		if err != nil {
			return string(x)
		}
		return f
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Native(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = Native(e)
		}
		return out
	}
	return v
}

func tagValue(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}
	if n, ok := v.Interface().(json.Number); ok {
		return n
	}
	if v.Type().Implements(marshalerType) || v.Type().Implements(textMarshalerType) {
		return v.Interface()
	}

	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		return tagValue(v.Elem())
	case reflect.Float64:
		f := v.Float()
		if f == math.Trunc(f) && !math.IsInf(f, 0) {
			return map[string]any{TagFloat: json.Number(strconv.FormatFloat(f, 'f', -1, 64))}
		}
		return v.Interface()
	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return map[string]string{TagBytes: base64.StdEncoding.EncodeToString(v.Bytes())}
		}
		return tagSequence(v)
	case reflect.Array:
		return tagSequence(v)
	case reflect.Map:
		if v.IsNil() || v.Type().Key().Kind() != reflect.String {
			return v.Interface()
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = tagValue(iter.Value())
		}
		if len(out) == 1 {
			for k := range out {
				if isTag(k) {
					return map[string]any{TagMap: out}
				}
			}
		}
		return out
	}
	return v.Interface()
}

func tagSequence(v reflect.Value) []any {
	out := make([]any, v.Len())
	for i := range out {
		out[i] = tagValue(v.Index(i))
	}
	return out
}

func isTag(k string) bool {
	return k == TagBytes || k == TagFloat || k == TagMap
}

func untagValue(v any) (any, error) {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			u, err := untagValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = u
		}
		return out, nil
	case map[string]any:
		if len(x) == 1 {
			for k, e := range x {
				if isTag(k) {
					return untagSingle(k, e)
				}
			}
		}
		return untagMap(x)
	}
	return v, nil
}

func untagSingle(tag string, v any) (any, error) {
	switch tag {
	case TagBytes:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s: expected a string, got %T", TagBytes, v)
		}
		return base64.StdEncoding.DecodeString(s)
	case TagFloat:
		n, ok := v.(json.Number)
		if !ok || strings.ContainsAny(string(n), ".eE") {
			return nil, fmt.Errorf("%s: expected an integral number, got %v", TagFloat, v)
		}
		return n.Float64()
	default:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: expected an object, got %T", TagMap, v)
		}
		return untagMap(m)
	}
}

func untagMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, e := range m {
		u, err := untagValue(e)
		if err != nil {
			return nil, err
		}
		out[k] = u
	}
	return out, nil
}
