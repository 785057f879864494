package normalizer

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrMalformedPayload is returned when a payload is not JSON, not decodable
// base64, or not an object once decoded.
var ErrMalformedPayload = errors.New("malformed payload")

// maxEncodedDepth bounds how many string layers are peeled before giving up.
const maxEncodedDepth = 3

type payloadShape int

const (
	shapeInvalid payloadShape = iota
	// shapeEncoded is a JSON string holding base64 (or plain) JSON.
	shapeEncoded
	// shapeFieldList is {value:{fields:[...]}} or {fields:[...]}.
	shapeFieldList
	// shapeNested is an object carrying the real payload under "payload".
	shapeNested
	shapeFlat
)

func (s payloadShape) String() string {
	switch s {
	case shapeEncoded:
		return "encoded"
	case shapeFieldList:
		return "field-list"
	case shapeNested:
		return "nested"
	case shapeFlat:
		return "flat"
	default:
		return "invalid"
	}
}

func classify(raw []byte) payloadShape {
	if !gjson.ValidBytes(raw) {
		return shapeInvalid
	}
	res := gjson.ParseBytes(raw)
	switch {
	case res.Type == gjson.String:
		return shapeEncoded
	case !res.IsObject():
		return shapeInvalid
	case isFieldList(res):
		return shapeFieldList
	case isNested(res):
		return shapeNested
	default:
		return shapeFlat
	}
}

func isFieldList(res gjson.Result) bool {
	if fields := res.Get("value.fields"); fields.IsArray() || fields.IsObject() {
		return onlyKeysResult(res, "type", "value")
	}
	fields := res.Get("fields")
	if !onlyKeysResult(res, "type", "id", "fields") {
		return false
	}
	switch {
	case fields.IsArray():
		arr := fields.Array()
		return len(arr) == 0 || arr[0].Get("name").Exists()
	case fields.IsObject():
		return true
	}
	return false
}

func isNested(res gjson.Result) bool {
	p := res.Get("payload")
	return p.Type == gjson.String || (p.IsObject() && isFieldList(p))
}

func onlyKeysResult(res gjson.Result, allowed ...string) bool {
	ok := true
	res.ForEach(func(key, _ gjson.Result) bool {
		if !contains(allowed, key.String()) {
			ok = false
		}
		return ok
	})
	return ok
}

// DecodePayload turns any accepted payload shape into a flat field map.
// Decoding an already flat object returns it unchanged.
func DecodePayload(raw json.RawMessage) (map[string]any, error) {
	return decodePayload(raw, 0)
}

func decodePayload(raw []byte, depth int) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	switch shape := classify(raw); shape {
	case shapeEncoded:
		if depth >= maxEncodedDepth {
			return nil, fmt.Errorf("%w: too many encoding layers", ErrMalformedPayload)
		}
		inner, err := unwrapString(raw)
		if err != nil {
			return nil, err
		}
		return decodePayload(inner, depth+1)

	case shapeFieldList:
		obj, err := decodeObject(raw)
		if err != nil {
			return nil, err
		}
		if v, ok := obj["value"].(map[string]any); ok {
			return fieldsToMap(v["fields"]), nil
		}
		return fieldsToMap(obj["fields"]), nil

	case shapeNested:
		nested := gjson.GetBytes(raw, "payload")
		out, err := decodePayload([]byte(nested.Raw), depth)
		if err == nil {
			return out, nil
		}
		// a plain string field that happens to be called payload
		return decodeObject(raw)

	case shapeFlat:
		return decodeObject(raw)

	default:
		return nil, fmt.Errorf("%w: not a json object", ErrMalformedPayload)
	}
}

// unwrapString peels one string layer: base64 first, then embedded JSON.
func unwrapString(raw []byte) ([]byte, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err := enc.DecodeString(s); err == nil && gjson.ValidBytes(data) {
			return data, nil
		}
	}
	if gjson.Valid(s) && gjson.Parse(s).IsObject() {
		return []byte(s), nil
	}
	return nil, fmt.Errorf("%w: string is neither base64 json nor json", ErrMalformedPayload)
}

func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: null payload", ErrMalformedPayload)
	}
	return obj, nil
}

// fieldsToMap flattens a field list, either [{name, value}] or a
// string-keyed object.
func fieldsToMap(fields any) map[string]any {
	out := make(map[string]any)
	switch f := fields.(type) {
	case []any:
		for _, entry := range f {
			m, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			name, ok := m["name"].(string)
			if !ok || name == "" {
				continue
			}
			out[name] = flattenValue(m["value"])
		}
	case map[string]any:
		for name, v := range f {
			out[name] = flattenValue(v)
		}
	}
	return out
}

// flattenValue unwraps {type, value} envelopes recursively.
func flattenValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if inner, ok := t["value"]; ok && onlyKeys(t, "type", "value") {
			typ, _ := t["type"].(string)
			return unwrapTyped(typ, inner)
		}
		if fields, ok := t["fields"]; ok && onlyKeys(t, "id", "fields") {
			return fieldsToMap(fields)
		}
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = flattenValue(x)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = flattenValue(x)
		}
		return out
	default:
		return v
	}
}

func unwrapTyped(typ string, inner any) any {
	switch typ {
	case "Optional":
		if inner == nil {
			return nil
		}
		return flattenValue(inner)
	case "Dictionary":
		entries, ok := inner.([]any)
		if !ok {
			return flattenValue(inner)
		}
		out := make(map[string]any, len(entries))
		for _, e := range entries {
			kv, ok := e.(map[string]any)
			if !ok {
				continue
			}
			key, ok := coerceString(flattenValue(kv["key"]))
			if !ok {
				continue
			}
			out[key] = flattenValue(kv["value"])
		}
		return out
	default:
		return flattenValue(inner)
	}
}

func onlyKeys(m map[string]any, allowed ...string) bool {
	for k := range m {
		if !contains(allowed, k) {
			return false
		}
	}
	return true
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
