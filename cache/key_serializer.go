package cache

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "__"

// KeySerializer turns key parts into one stable string segment.
type KeySerializer interface {
	SerializeKey(parts ...any) string
}

// defaultKeySerializer flattens composite ids into separator joined
// segments using reflection. Output is deterministic across processes.
type defaultKeySerializer struct{}

// NewDefaultKeySerializer creates a new instance of the default key serializer.
func NewDefaultKeySerializer() KeySerializer {
	return defaultKeySerializer{}
}

// SerializeKey joins the serialized parts with KeySeparator.
func (s defaultKeySerializer) SerializeKey(parts ...any) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, s.serializeValue(p))
	}
	return strings.Join(out, KeySeparator)
}

func (s defaultKeySerializer) serializeValue(v any) string {
	if v == nil {
		return "nil"
	}
	switch tv := v.(type) {
	case string:
		return tv
	case fmt.Stringer:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339Nano)
		}
		return tv.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return "nil"
		}
		return s.serializeValue(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return "nil"
		}
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = s.serializeValue(rv.Index(i).Interface())
		}
		return strings.Join(parts, KeySeparator)
	case reflect.Map:
		return s.serializeMap(rv)
	case reflect.Struct:
		return s.serializeStruct(rv)
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.String:
		return fmt.Sprintf("%v", v)
	}
	return s.jsonFallback(v)
}

// serializeMap emits key=value pairs sorted by key.
func (s defaultKeySerializer) serializeMap(rv reflect.Value) string {
	pairs := make([]string, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		pairs = append(pairs, s.serializeValue(iter.Key().Interface())+"="+s.serializeValue(iter.Value().Interface()))
	}
	sort.Strings(pairs)
	return strings.Join(pairs, KeySeparator)
}

// serializeStruct joins the exported field values in declaration order, so
// a composite id struct maps to its parts.
func (s defaultKeySerializer) serializeStruct(rv reflect.Value) string {
	rt := rv.Type()
	parts := make([]string, 0, rv.NumField())
	for i := 0; i < rv.NumField(); i++ {
		if !rt.Field(i).IsExported() {
			continue
		}
		parts = append(parts, s.serializeValue(rv.Field(i).Interface()))
	}
	return strings.Join(parts, KeySeparator)
}

func (s defaultKeySerializer) jsonFallback(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("fallback:%T", v)
	}
	return string(data)
}

// KeyBuilder builds cache keys of the form {tenant}__{bucket}__{id}.
type KeyBuilder struct {
	serializer KeySerializer
}

// NewKeyBuilder creates a KeyBuilder. A nil serializer uses the default.
func NewKeyBuilder(serializer KeySerializer) KeyBuilder {
	if serializer == nil {
		serializer = NewDefaultKeySerializer()
	}
	return KeyBuilder{serializer: serializer}
}

// Key returns the key of id in bucket. An empty tenant drops the tenant
// segment, which is how tenant independent buckets are addressed.
func (b KeyBuilder) Key(tenant, bucket string, id any) string {
	s := b.serializer
	if s == nil {
		s = NewDefaultKeySerializer()
	}
	if tenant == "" {
		return bucket + KeySeparator + s.SerializeKey(id)
	}
	return tenant + KeySeparator + bucket + KeySeparator + s.SerializeKey(id)
}

// Keys maps ids to keys, preserving order.
func (b KeyBuilder) Keys(tenant, bucket string, ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = b.Key(tenant, bucket, id)
	}
	return out
}
