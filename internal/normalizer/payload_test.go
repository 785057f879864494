package normalizer

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

const vaultFieldList = `{"value":{"fields":[{"name":"vaultId","value":{"value":"V1"}},{"name":"amount","value":{"value":"10.0"}}]}}`

func encoded(s string) json.RawMessage {
	b, _ := json.Marshal(base64.StdEncoding.EncodeToString([]byte(s)))
	return b
}

func TestClassify(t *testing.T) {
	cases := []struct {
		raw  string
		want payloadShape
	}{
		{`"eyJhIjoxfQ=="`, shapeEncoded},
		{vaultFieldList, shapeFieldList},
		{`{"type":"Event","value":{"id":"A.1.Fractional.VaultCreated","fields":[]}}`, shapeFieldList},
		{`{"fields":[{"name":"a","value":{"type":"Int","value":"1"}}]}`, shapeFieldList},
		{`{"fields":{"a":{"type":"Int","value":"1"}}}`, shapeFieldList},
		{`{"payload":` + vaultFieldList + `}`, shapeNested},
		{`{"vaultId":"V1","amount":"10.0"}`, shapeFlat},
		{`[1,2]`, shapeInvalid},
		{`not json`, shapeInvalid},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, classify([]byte(tc.raw)), tc.raw)
	}
}

func TestDecodePayloadShapes(t *testing.T) {
	want := map[string]any{"vaultId": "V1", "amount": "10.0"}

	cases := map[string]json.RawMessage{
		"base64 field list":  encoded(vaultFieldList),
		"inline field list":  json.RawMessage(vaultFieldList),
		"nested payload key": json.RawMessage(`{"payload":` + vaultFieldList + `}`),
		"nested base64":      json.RawMessage(`{"payload":` + string(encoded(vaultFieldList)) + `}`),
		"string keyed":       json.RawMessage(`{"value":{"fields":{"vaultId":{"value":"V1"},"amount":{"value":"10.0"}}}}`),
		"flat":               json.RawMessage(`{"vaultId":"V1","amount":"10.0"}`),
	}
	for name, raw := range cases {
		got, err := DecodePayload(raw)
		require.NoError(t, err, name)
		require.Equal(t, want, got, name)
	}
}

func TestDecodePayloadCadenceTypes(t *testing.T) {
	raw := `{"type":"Event","value":{"id":"A.1.Fractional.Minted","fields":[
		{"name":"vaultId","value":{"type":"UInt64","value":"42"}},
		{"name":"memo","value":{"type":"Optional","value":null}},
		{"name":"owner","value":{"type":"Optional","value":{"type":"Address","value":"0x01"}}},
		{"name":"ids","value":{"type":"Array","value":[{"type":"UInt64","value":"1"},{"type":"UInt64","value":"2"}]}},
		{"name":"shares","value":{"type":"Dictionary","value":[{"key":{"type":"Address","value":"0x02"},"value":{"type":"UFix64","value":"1.5"}}]}},
		{"name":"meta","value":{"type":"Struct","value":{"id":"A.1.Fractional.Meta","fields":[{"name":"name","value":{"type":"String","value":"x"}}]}}}
	]}}`

	got, err := DecodePayload(encoded(raw))
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"vaultId": "42",
		"memo":    nil,
		"owner":   "0x01",
		"ids":     []any{"1", "2"},
		"shares":  map[string]any{"0x02": "1.5"},
		"meta":    map[string]any{"name": "x"},
	}, got)
}

func TestDecodePayloadIdempotent(t *testing.T) {
	first, err := DecodePayload(encoded(vaultFieldList))
	require.NoError(t, err)

	again, err := json.Marshal(first)
	require.NoError(t, err)
	second, err := DecodePayload(again)
	require.NoError(t, err)
	require.Equal(t, first, second)

	// a flat payload that happens to carry a fields key is not a field list
	flat := json.RawMessage(`{"vaultId":"V1","fields":[{"name":"color","value":"red"}]}`)
	got, err := DecodePayload(flat)
	require.NoError(t, err)
	require.Equal(t, "V1", got["vaultId"])
	require.Contains(t, got, "fields")
	require.NotContains(t, got, "color")

	again, err = json.Marshal(got)
	require.NoError(t, err)
	second, err = DecodePayload(again)
	require.NoError(t, err)
	require.Equal(t, got, second)
}

func TestDecodePayloadKeepsNumbersExact(t *testing.T) {
	got, err := DecodePayload(json.RawMessage(`{"vaultId":18446744073709551615}`))
	require.NoError(t, err)
	require.Equal(t, json.Number("18446744073709551615"), got["vaultId"])
}

func TestDecodePayloadRejects(t *testing.T) {
	for _, raw := range []string{`not json`, `"%%%not base64%%%"`, `null`, `[1]`, `42`, `"` + base64.StdEncoding.EncodeToString([]byte("plain text")) + `"`} {
		_, err := DecodePayload(json.RawMessage(raw))
		require.ErrorIs(t, err, ErrMalformedPayload, raw)
	}
}

func TestCoerceString(t *testing.T) {
	cases := []struct {
		in   any
		want string
		ok   bool
	}{
		{"V1", "V1", true},
		{"  ", "", false},
		{json.Number("42"), "42", true},
		{json.Number("1e3"), "1000", true},
		{float64(12), "12", true},
		{float64(0.1), "0.1", true},
		{uint64(7), "7", true},
		{nil, "", false},
		{true, "", false},
		{map[string]any{}, "", false},
	}
	for _, tc := range cases {
		got, ok := coerceString(tc.in)
		require.Equal(t, tc.ok, ok, "%v", tc.in)
		require.Equal(t, tc.want, got, "%v", tc.in)
	}
}
