package jsonx

import (
	"bytes"

	"github.com/goccy/go-json"
)

// Single place to swap the JSON codec used by the gateway, the parser and the API.
var (
	Marshal    = json.Marshal
	Unmarshal  = json.Unmarshal
	Valid      = json.Valid
	NewDecoder = json.NewDecoder
)

type RawMessage = json.RawMessage

// Pretty renders v as two-space indented JSON without HTML escaping so
// non-ASCII marketing copy stays readable.
func Pretty(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
