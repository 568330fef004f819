package workers

import (
	stdjson "encoding/json"

	fastjson "github.com/segmentio/encoding/json"
)

// Serializer converts a structured value to/from bytes for a single frame.
// Terminator must be a non-empty byte sequence that never occurs inside
// any value Encode produces; the framer relies on this.
type Serializer interface {
	Name() string
	Terminator() []byte
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// JSONSerializer is the default serializer: textual JSON with a line-feed
// terminator. JSON escapes embedded newlines, so the terminator-freedom
// invariant holds by construction.
type JSONSerializer struct{}

func (JSONSerializer) Name() string         { return "json" }
func (JSONSerializer) Terminator() []byte   { return []byte{'\n'} }
func (JSONSerializer) Encode(v any) ([]byte, error) { return stdjson.Marshal(v) }
func (JSONSerializer) Decode(data []byte, v any) error {
	return stdjson.Unmarshal(data, v)
}

// FastJSONSerializer is a wire-compatible drop-in for JSONSerializer backed
// by github.com/segmentio/encoding/json. It produces the same bytes modulo
// map-key ordering and is meaningfully faster for large payloads; a worker
// must be configured with the same serializer name as the host or startup
// fails with SerializerMismatch.
type FastJSONSerializer struct{}

func (FastJSONSerializer) Name() string       { return "json-fast" }
func (FastJSONSerializer) Terminator() []byte { return []byte{'\n'} }
func (FastJSONSerializer) Encode(v any) ([]byte, error) {
	return fastjson.Marshal(v)
}
func (FastJSONSerializer) Decode(data []byte, v any) error {
	return fastjson.Unmarshal(data, v)
}

var namedSerializers = map[string]Serializer{
	"json":      JSONSerializer{},
	"json-fast": FastJSONSerializer{},
}

// RegisterSerializer adds s to the name-keyed table that lookupSerializer
// reads. Run (bootstrap.go) does not consult this table: it compares the
// serializer name in the startup data with its own Config's serializer.
func RegisterSerializer(s Serializer) { namedSerializers[s.Name()] = s }

func lookupSerializer(name string) (Serializer, bool) {
	s, ok := namedSerializers[name]
	return s, ok
}
