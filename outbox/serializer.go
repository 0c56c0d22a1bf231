package outbox

import (
	"bytes"
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Serializer turns an event payload into the bytes stored on the outbox
// record. topic lets schema aware implementations pick a subject.
type Serializer interface {
	Serialize(topic string, payload any) ([]byte, error)
}

// SerializerFunc adapts a function to Serializer.
type SerializerFunc func(topic string, payload any) ([]byte, error)

// Serialize implements Serializer.
func (f SerializerFunc) Serialize(topic string, payload any) ([]byte, error) {
	return f(topic, payload)
}

// JSONSerializer encodes payloads as compact JSON.
type JSONSerializer struct{}

var _ Serializer = JSONSerializer{}

// Serialize implements Serializer.
func (JSONSerializer) Serialize(_ string, payload any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// MsgpackSerializer encodes payloads as MessagePack using JSON field names,
// with map keys sorted for stable output.
type MsgpackSerializer struct{}

var _ Serializer = MsgpackSerializer{}

// Serialize implements Serializer.
func (MsgpackSerializer) Serialize(_ string, payload any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.SetSortMapKeys(true)
	enc.UseCompactInts(true)
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
